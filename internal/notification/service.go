package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/aptnotify/internal/sse"
	"github.com/nao1215/aptnotify/pkg/apperror"
	"github.com/nao1215/aptnotify/pkg/event"
)

// MessageTypeAlarm はライブストリームで通知を届けるメッセージの種類。
const MessageTypeAlarm = "alarm"

// Pusher は接続中のユーザーへメッセージを届ける。
type Pusher interface {
	SendToUser(userID int64, msg sse.Message) sse.Delivery
}

// Service は通知の作成・配信・既読管理を行う。
type Service struct {
	// store は通知レコードの永続化先。
	store Store
	// pusher はライブストリームへの配信先。
	pusher Pusher
	// logger は構造化ロガー。
	logger *zap.Logger
}

// NewService は新しい通知サービスを生成する。
func NewService(store Store, pusher Pusher, logger *zap.Logger) *Service {
	return &Service{store: store, pusher: pusher, logger: logger}
}

// Create は通知を1件作成し、接続中であれば通知先ユーザーへ配信する。
// 永続化に失敗した場合はエラーを返す。配信の成否は戻り値に影響しない。
func (s *Service) Create(ctx context.Context, userID int64, content string) (Notification, error) {
	n, err := s.store.InsertOne(ctx, NewNotification{UserID: userID, Content: content})
	if err != nil {
		return Notification{}, apperror.Internal("通知の作成に失敗しました", err)
	}
	s.push(userID, []Notification{n})
	return n, nil
}

// CreateMany は通知をまとめて作成し、通知先ユーザーごとに1回ずつ配信する。
// 各ユーザーには自分宛ての通知だけが届く。
func (s *Service) CreateMany(ctx context.Context, items []NewNotification) ([]Notification, error) {
	created, err := s.store.InsertMany(ctx, items)
	if err != nil {
		return nil, apperror.Internal("通知の作成に失敗しました", err)
	}

	// 最初に現れた順でユーザーごとにまとめる
	var order []int64
	byUser := make(map[int64][]Notification)
	for _, n := range created {
		if _, ok := byUser[n.UserID]; !ok {
			order = append(order, n.UserID)
		}
		byUser[n.UserID] = append(byUser[n.UserID], n)
	}
	for _, userID := range order {
		s.push(userID, byUser[userID])
	}
	return created, nil
}

// FindAll はユーザーの通知を新しい順にページ単位で返す。
// page と limit は1以上であること。範囲の検証は呼び出し側で行う。
func (s *Service) FindAll(ctx context.Context, userID int64, page, limit int) (Page, error) {
	skip := (page - 1) * limit
	items, total, err := s.store.FindPageByOwner(ctx, userID, skip, limit)
	if err != nil {
		return Page{}, apperror.Internal("通知一覧の取得に失敗しました", err)
	}
	return Page{
		Items:   items,
		Total:   total,
		HasNext: skip+len(items) < total,
	}, nil
}

// FindUnread はユーザーの未読通知を新しい順に返す。
// sinceを指定するとそれより後に作成されたものに限る。
func (s *Service) FindUnread(ctx context.Context, userID int64, since *time.Time) ([]Notification, error) {
	items, err := s.store.FindUnreadByOwner(ctx, userID, since)
	if err != nil {
		return nil, apperror.Internal("未読通知の取得に失敗しました", err)
	}
	return items, nil
}

// MarkAsRead は通知を既読にする。
// 存在しない場合はNotFound、所有者でない場合はForbiddenを返し、既読状態は変えない。
// 既読済みの通知に対しては何もせず成功する。
func (s *Service) MarkAsRead(ctx context.Context, id, userID int64) error {
	if err := s.authorize(ctx, id, userID); err != nil {
		return err
	}

	affected, err := s.store.UpdateCheckedIfOwner(ctx, id, userID)
	if err != nil {
		return apperror.Internal("通知の既読処理に失敗しました", err)
	}
	if affected == 0 {
		// 確認後に削除された等、確認結果と更新結果が食い違った
		return apperror.Internal("通知の既読処理に失敗しました", errors.New("所有者確認後の更新件数が0件"))
	}
	return nil
}

// MarkAllAsRead はユーザーの未読通知をすべて既読にし、既読にした件数を返す。
func (s *Service) MarkAllAsRead(ctx context.Context, userID int64) (int64, error) {
	affected, err := s.store.UpdateAllCheckedByOwner(ctx, userID)
	if err != nil {
		return 0, apperror.Internal("全通知の既読処理に失敗しました", err)
	}
	return affected, nil
}

// Delete は通知を削除する。存在確認と所有者確認はMarkAsReadと同じ順序で行う。
func (s *Service) Delete(ctx context.Context, id, userID int64) error {
	if err := s.authorize(ctx, id, userID); err != nil {
		return err
	}

	affected, err := s.store.DeleteIfOwner(ctx, id, userID)
	if err != nil {
		return apperror.Internal("通知の削除に失敗しました", err)
	}
	if affected == 0 {
		return apperror.Internal("通知の削除に失敗しました", errors.New("所有者確認後の削除件数が0件"))
	}
	return nil
}

// UnreadCount はユーザーの未読通知の件数を返す。
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	count, err := s.store.CountUnreadByOwner(ctx, userID)
	if err != nil {
		return 0, apperror.Internal("未読件数の取得に失敗しました", err)
	}
	return count, nil
}

// Ping は通知の保存先が利用可能かを確認する。
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("データベースへの疎通に失敗: %w", err)
	}
	return nil
}

// Ingest は業務イベントから通知を生成して配信し、作成した件数を返す。
// 通知対象が無いイベントは何もしない。
func (s *Service) Ingest(ctx context.Context, e *event.Event) (int, error) {
	items, err := Render(e)
	if err != nil {
		return 0, apperror.BadRequest("イベントが不正です", err)
	}
	if len(items) == 0 {
		s.logger.Debug("通知対象の無いイベントを受信しました",
			zap.String("event_id", e.ID),
			zap.String("event_type", string(e.EventType)),
		)
		return 0, nil
	}

	created, err := s.CreateMany(ctx, items)
	if err != nil {
		return 0, err
	}
	return len(created), nil
}

// authorize は通知の存在と所有者を確認する。存在確認を先に行う。
func (s *Service) authorize(ctx context.Context, id, userID int64) error {
	n, err := s.store.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return apperror.NotFound("通知が見つかりません")
	}
	if err != nil {
		return apperror.Internal("通知の取得に失敗しました", err)
	}
	if n.UserID != userID {
		return apperror.Forbidden("この通知を操作する権限がありません")
	}
	return nil
}

// push は通知をまとめて1メッセージとして配信する。配信の失敗はログに残すだけにする。
func (s *Service) push(userID int64, items []Notification) {
	msg := sse.Message{
		ID:   strconv.FormatInt(latestID(items), 10),
		Type: MessageTypeAlarm,
		Data: items,
	}
	switch s.pusher.SendToUser(userID, msg) {
	case sse.Delivered:
		s.logger.Debug("通知を配信しました", zap.Int64("user_id", userID), zap.Int("count", len(items)))
	case sse.WriteFailed:
		s.logger.Warn("通知の配信に失敗しました。次回接続時に未読として届けます",
			zap.Int64("user_id", userID),
			zap.Int("count", len(items)),
		)
	}
}
