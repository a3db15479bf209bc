package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/nao1215/aptnotify/pkg/event"
)

const (
	// subscriberQueue は購読のキューグループ名。複数プロセスで同じイベントを二重に処理しない。
	subscriberQueue = "notification"
	// ingestTimeout は1イベントの取り込みにかける時間の上限。
	ingestTimeout = 10 * time.Second
)

// Ingester は業務イベントを通知として取り込む。
type Ingester interface {
	Ingest(ctx context.Context, e *event.Event) (int, error)
}

// Subscriber はNATSから業務イベントを購読し、通知として取り込む。
type Subscriber struct {
	// conn はNATSサーバーへの接続。
	conn *nats.Conn
	// subject は購読するサブジェクト。
	subject string
	// sub は購読中のサブスクリプション。Start前はnil。
	sub *nats.Subscription
	// ingester はイベントの取り込み先。
	ingester Ingester
	// logger は構造化ロガー。
	logger *zap.Logger
}

// ConnectNATS はNATSサーバーに接続する。切断時は無制限に再接続を試みる。
func ConnectNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("aptnotify-notification"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATSから切断されました", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATSに再接続しました", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("NATSへの接続に失敗: %w", err)
	}
	return conn, nil
}

// NewSubscriber は新しいイベント購読者を生成する。
func NewSubscriber(conn *nats.Conn, subject string, ingester Ingester, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		conn:     conn,
		subject:  subject,
		ingester: ingester,
		logger:   logger,
	}
}

// Start は購読を開始する。
func (s *Subscriber) Start() error {
	sub, err := s.conn.QueueSubscribe(s.subject, subscriberQueue, s.handle)
	if err != nil {
		return fmt.Errorf("サブジェクト %s の購読に失敗: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("イベントの購読を開始しました",
		zap.String("subject", s.subject),
		zap.String("queue", subscriberQueue),
	)
	return nil
}

// Drain は処理中のメッセージを処理し終えてから購読と接続を終了する。
func (s *Subscriber) Drain() error {
	if err := s.conn.Drain(); err != nil {
		return fmt.Errorf("NATS接続のドレインに失敗: %w", err)
	}
	return nil
}

// handle は1件のメッセージを取り込む。
// 不正なメッセージは再送しても成功しないため、ログに残して破棄する。
func (s *Subscriber) handle(msg *nats.Msg) {
	e, err := event.Decode(msg.Data)
	if err != nil {
		s.logger.Warn("不正なイベントを破棄しました",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	count, err := s.ingester.Ingest(ctx, e)
	if err != nil {
		s.logger.Error("イベントの取り込みに失敗しました",
			zap.String("event_id", e.ID),
			zap.String("event_type", string(e.EventType)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("イベントを取り込みました",
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.EventType)),
		zap.Int("notifications", count),
	)
}
