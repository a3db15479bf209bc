package sse

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultHeartbeatInterval はハートビートの既定の送信間隔。
const DefaultHeartbeatInterval = 30 * time.Second

// heartbeatComment はハートビートで送るコメント本文。
const heartbeatComment = "ping"

// Delivery はSendToUserの配信結果を表す。
type Delivery int

const (
	// Delivered は接続中のクライアントへ書き込めたことを表す。
	Delivered Delivery = iota
	// Offline は対象ユーザーの接続が無かったことを表す。
	Offline
	// WriteFailed は書き込みに失敗し、接続を破棄したことを表す。
	WriteFailed
)

// String は配信結果の文字列表現を返す。
func (d Delivery) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Offline:
		return "offline"
	case WriteFailed:
		return "write_failed"
	default:
		return "unknown"
	}
}

// Connection はレジストリに登録された1本のライブ接続。
type Connection struct {
	// ID は接続ごとに採番されるUUID。ログでの追跡に使用する。
	ID string
	// UserID は接続を所有するユーザーID。
	UserID int64
	// LastEventID は再接続時にクライアントが送ったLast-Event-ID。
	LastEventID string
	// ConnectedAt は接続が登録された日時。
	ConnectedAt time.Time

	transport Transport
}

// Registry はユーザーIDからライブ接続へのプロセス内マップ。
// 1ユーザーにつき接続は高々1本で、後から登録された接続が優先される。
type Registry struct {
	// mu はconnsの確認と更新を1ステップにまとめるためのミューテックス。
	mu    sync.Mutex
	conns map[int64]*Connection

	logger *zap.Logger

	// hbMu はハートビートの起動・停止を保護する。
	hbMu   sync.Mutex
	hbStop chan struct{}
	hbDone chan struct{}
}

// NewRegistry は空のレジストリを生成する。
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[int64]*Connection),
		logger: logger,
	}
}

// AddConnection はユーザーのライブ接続を登録する。
// 同じユーザーの接続が既にあればそれを切断してから置き換える。
// ヘッダーの確定に失敗した場合は登録せずにトランスポートを終了する。
func (r *Registry) AddConnection(userID int64, t Transport, lastEventID string) {
	if err := t.CommitStreamingHeaders(); err != nil {
		r.logger.Warn("ストリーミングヘッダーの送信に失敗しました",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		_ = t.End()
		return
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		LastEventID: lastEventID,
		ConnectedAt: time.Now().UTC(),
		transport:   t,
	}

	r.mu.Lock()
	old := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	if old != nil {
		r.logger.Info("古いライブ接続を置き換えました",
			zap.Int64("user_id", userID),
			zap.String("old_connection_id", old.ID),
			zap.String("connection_id", conn.ID),
		)
		r.end(old)
	}

	t.OnClose(func() { r.detach(conn) })

	r.logger.Debug("ライブ接続を登録しました",
		zap.Int64("user_id", userID),
		zap.String("connection_id", conn.ID),
		zap.String("last_event_id", lastEventID),
	)
}

// RemoveConnection はユーザーの接続を切断して登録を解除する。
// 接続が無い場合は何もしない。
func (r *Registry) RemoveConnection(userID int64) {
	r.mu.Lock()
	conn := r.conns[userID]
	delete(r.conns, userID)
	r.mu.Unlock()

	if conn != nil {
		r.end(conn)
	}
}

// SendToUser はユーザーの接続へメッセージを1フレームで書き込む。
// 接続が無い場合はOfflineを返し、書き込みに失敗した場合は接続を破棄してWriteFailedを返す。
// エラーを呼び出し元へ返すことはない。
func (r *Registry) SendToUser(userID int64, msg Message) Delivery {
	r.mu.Lock()
	conn := r.conns[userID]
	r.mu.Unlock()

	if conn == nil {
		return Offline
	}

	if err := conn.transport.WriteMessage(msg); err != nil {
		r.logger.Warn("ライブ接続への書き込みに失敗したため接続を破棄します",
			zap.Int64("user_id", userID),
			zap.String("connection_id", conn.ID),
			zap.Error(err),
		)
		r.drop(conn)
		return WriteFailed
	}
	return Delivered
}

// StartHeartbeat は全接続へ定期的にコメントフレームを送るゴルーチンを起動する。
// 既に起動している場合は何もしない。intervalが0以下なら既定値を使う。
func (r *Registry) StartHeartbeat(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	r.hbMu.Lock()
	defer r.hbMu.Unlock()
	if r.hbStop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	r.hbStop, r.hbDone = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.heartbeat()
			}
		}
	}()
}

// StopHeartbeat はハートビートを停止し、ゴルーチンの終了を待つ。
// 起動していない場合は何もしない。
func (r *Registry) StopHeartbeat() {
	r.hbMu.Lock()
	stop, done := r.hbStop, r.hbDone
	r.hbStop, r.hbDone = nil, nil
	r.hbMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// heartbeat は全接続へ並行してコメントフレームを送り、失敗した接続だけを破棄する。
// 書き込みが滞っている接続があっても他の接続への送信は遅れない。
func (r *Registry) heartbeat() {
	var wg sync.WaitGroup
	for _, conn := range r.snapshot() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.transport.WriteComment(heartbeatComment); err != nil {
				r.logger.Debug("ハートビートに失敗したため接続を破棄します",
					zap.Int64("user_id", conn.UserID),
					zap.String("connection_id", conn.ID),
					zap.Error(err),
				)
				r.drop(conn)
			}
		}()
	}
	wg.Wait()
}

// CloseAll は全接続を切断し、ハートビートを停止する。プロセス終了時に使用する。
func (r *Registry) CloseAll() {
	r.StopHeartbeat()

	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[int64]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		r.end(conn)
	}
	r.logger.Info("全てのライブ接続を切断しました", zap.Int("count", len(conns)))
}

// ConnectionCount は登録中の接続数を返す。
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// IsConnected はユーザーの接続が登録されているかを返す。
func (r *Registry) IsConnected(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[userID]
	return ok
}

func (r *Registry) snapshot() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// drop は接続がまだ登録中であれば登録を解除し、トランスポートを終了する。
func (r *Registry) drop(conn *Connection) {
	r.detach(conn)
	r.end(conn)
}

// detach はconnが現在の登録である場合に限り登録を解除する。
// 置き換え済みの古い接続の終了通知で新しい接続を消さないために、同一性を比較する。
func (r *Registry) detach(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[conn.UserID]; ok && cur == conn {
		delete(r.conns, conn.UserID)
	}
}

// end はトランスポートを終了する。終了時のエラーは記録のみ行う。
func (r *Registry) end(conn *Connection) {
	if err := conn.transport.End(); err != nil {
		r.logger.Debug("ライブ接続の終了に失敗しました",
			zap.Int64("user_id", conn.UserID),
			zap.String("connection_id", conn.ID),
			zap.Error(err),
		)
	}
}
