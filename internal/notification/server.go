package notification

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/aptnotify/internal/sse"
	"github.com/nao1215/aptnotify/pkg/apperror"
	"github.com/nao1215/aptnotify/pkg/event"
	"github.com/nao1215/aptnotify/pkg/middleware"
)

const (
	// streamWriteTimeout はライブストリームの1回の書き込みにかける時間の上限。
	streamWriteTimeout = 10 * time.Second
	// healthCheckTimeout はヘルスチェックでのデータベース疎通確認の上限時間。
	healthCheckTimeout = 2 * time.Second
)

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// JWTSecret はJWTの署名鍵。
	JWTSecret string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// StreamRatePerMin はユーザーごとのライブストリーム接続数の上限（1分あたり）。0以下で無制限。
	StreamRatePerMin int
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// service は通知のユースケース。
	service *Service
	// registry はライブストリームの接続レジストリ。
	registry *sse.Registry
	// logger は構造化ロガー。
	logger *zap.Logger
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(service *Service, registry *sse.Registry, cfg ServerConfig, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.ErrorHandler(logger))

	s := &Server{
		router:   router,
		service:  service,
		registry: registry,
		logger:   logger,
	}
	s.setupRoutes(cfg)
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(cfg ServerConfig) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(cfg.JWTSecret))
	{
		// ライブストリーム（再接続の集中を抑えるためユーザー単位で頻度制限する）
		api.GET("/live-stream", middleware.RateLimit(cfg.StreamRatePerMin, cfg.StreamRatePerMin), s.handleLiveStream())

		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読件数取得
			notifications.GET("/unread-count", s.handleUnreadCount())
			// 全通知を既読にする
			notifications.PATCH("/read-all", s.handleMarkAllAsRead())
			// 通知を既読にする
			notifications.PATCH("/:id/read", s.handleMarkAsRead())
			// 通知を削除する
			notifications.DELETE("/:id", s.handleDelete())
		}

		// 通知作成（内部API - 各業務ドメインから呼び出される）
		internal := api.Group("/internal")
		internal.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleService))
		{
			internal.POST("/notifications", s.handleCreate())
			internal.POST("/notifications/batch", s.handleCreateBatch())
			internal.POST("/events", s.handleIngestEvent())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
}

// handleHealth はデータベースの疎通と接続数を返すハンドラ。
// データベースに到達できない場合は503を返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		status, database, code := "ok", "ok", http.StatusOK
		if err := s.service.Ping(ctx); err != nil {
			s.logger.Warn("ヘルスチェックでデータベースに到達できません", zap.Error(err))
			status, database, code = "degraded", "unavailable", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":      status,
			"service":     "notification",
			"database":    database,
			"connections": s.registry.ConnectionCount(),
		})
	}
}

// handleLiveStream は認証済みユーザーのライブストリームを開くハンドラ。
// 接続直後に未読通知をまとめて送り、接続が終了するまで戻らない。
func (s *Server) handleLiveStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.GetUserID(c)
		if !ok {
			_ = c.Error(apperror.Unauthorized("ユーザーIDが取得できません"))
			return
		}

		t := sse.NewStreamTransport(c.Writer, c.Request, streamWriteTimeout)
		s.registry.AddConnection(userID, t, c.GetHeader("Last-Event-ID"))

		// ここから先はレスポンスヘッダーが確定している
		backlog, err := s.service.FindUnread(c.Request.Context(), userID, nil)
		if err != nil {
			_ = t.End()
			if c.Writer.Written() {
				s.logger.Error("未読通知の送信に失敗したため接続を閉じました",
					zap.Int64("user_id", userID),
					zap.Error(err),
				)
				return
			}
			_ = c.Error(err)
			return
		}
		if len(backlog) > 0 {
			s.registry.SendToUser(userID, sse.Message{
				ID:   strconv.FormatInt(latestID(backlog), 10),
				Type: MessageTypeAlarm,
				Data: backlog,
			})
		}

		<-t.Done()
	}
}

// listQuery は通知一覧取得のクエリパラメータ。
type listQuery struct {
	// Page はページ番号（1始まり）。
	Page int `form:"page,default=1" binding:"min=1,max=10000"`
	// Limit は1ページあたりの件数。
	Limit int `form:"limit,default=20" binding:"min=1,max=100"`
}

// listResponse は通知一覧のJSONレスポンス構造。
type listResponse struct {
	Page
	// CurrentPage は返却したページ番号。
	CurrentPage int `json:"page"`
	// Limit は1ページあたりの件数。
	Limit int `json:"limit"`
}

// handleList は認証済みユーザーの通知一覧を新しい順に返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.GetUserID(c)
		if !ok {
			_ = c.Error(apperror.Unauthorized("ユーザーIDが取得できません"))
			return
		}

		var q listQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			_ = c.Error(apperror.BadRequest(fmt.Sprintf("クエリパラメータが不正です: %v", err), err))
			return
		}

		page, err := s.service.FindAll(c.Request.Context(), userID, q.Page, q.Limit)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, listResponse{Page: page, CurrentPage: q.Page, Limit: q.Limit})
	}
}

// handleUnreadCount は認証済みユーザーの未読件数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.GetUserID(c)
		if !ok {
			_ = c.Error(apperror.Unauthorized("ユーザーIDが取得できません"))
			return
		}

		count, err := s.service.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// idURI は通知IDのパスパラメータ。
type idURI struct {
	// ID は通知ID。
	ID int64 `uri:"id" binding:"required,min=1"`
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.GetUserID(c)
		if !ok {
			_ = c.Error(apperror.Unauthorized("ユーザーIDが取得できません"))
			return
		}

		var uri idURI
		if err := c.ShouldBindUri(&uri); err != nil {
			_ = c.Error(apperror.BadRequest("通知IDが不正です", err))
			return
		}

		if err := s.service.MarkAsRead(c.Request.Context(), uri.ID, userID); err != nil {
			_ = c.Error(err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.GetUserID(c)
		if !ok {
			_ = c.Error(apperror.Unauthorized("ユーザーIDが取得できません"))
			return
		}

		updated, err := s.service.MarkAllAsRead(c.Request.Context(), userID)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}

// handleDelete は指定された通知を削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.GetUserID(c)
		if !ok {
			_ = c.Error(apperror.Unauthorized("ユーザーIDが取得できません"))
			return
		}

		var uri idURI
		if err := c.ShouldBindUri(&uri); err != nil {
			_ = c.Error(apperror.BadRequest("通知IDが不正です", err))
			return
		}

		if err := s.service.Delete(c.Request.Context(), uri.ID, userID); err != nil {
			_ = c.Error(err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// handleCreate は通知を1件作成するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NewNotification
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperror.BadRequest(fmt.Sprintf("リクエストが不正です: %v", err), err))
			return
		}

		n, err := s.service.Create(c.Request.Context(), req.UserID, req.Content)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusCreated, n)
	}
}

// batchRequest は通知一括作成リクエストのJSON構造。
type batchRequest struct {
	// Items は作成する通知。
	Items []NewNotification `json:"items" binding:"required,min=1,max=1000,dive"`
}

// handleCreateBatch は通知をまとめて作成するハンドラ。
func (s *Server) handleCreateBatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req batchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperror.BadRequest(fmt.Sprintf("リクエストが不正です: %v", err), err))
			return
		}

		created, err := s.service.CreateMany(c.Request.Context(), req.Items)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"created": len(created), "items": created})
	}
}

// handleIngestEvent は業務イベントを受け取り通知として取り込むハンドラ。
func (s *Server) handleIngestEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var e event.Event
		if err := c.ShouldBindJSON(&e); err != nil {
			_ = c.Error(apperror.BadRequest(fmt.Sprintf("リクエストが不正です: %v", err), err))
			return
		}
		if e.EventType == "" {
			_ = c.Error(apperror.BadRequest("イベントの種類が必要です", nil))
			return
		}

		count, err := s.service.Ingest(c.Request.Context(), &e)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"created": count})
	}
}

// latestID は通知のうち最大のIDを返す。
func latestID(items []Notification) int64 {
	var id int64
	for _, n := range items {
		id = max(id, n.ID)
	}
	return id
}
