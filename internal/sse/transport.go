package sse

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
)

// ErrClosed は終了済みのトランスポートへ書き込もうとした場合に返される。
var ErrClosed = errors.New("sse: トランスポートは終了済みです")

// Message はクライアントへ送る1件のメッセージ。
// ワイヤ上では {"type": ..., "data": ...} のJSONとして1フレームで送られる。
type Message struct {
	// ID はSSEのidフィールド。空の場合は送らない。
	ID string `json:"-"`
	// Type はメッセージの種類（例: "alarm"）。
	Type string `json:"type"`
	// Data はメッセージ本体。
	Data any `json:"data"`
}

// Transport はサーバーからクライアントへの片方向ストリームを抽象化する。
type Transport interface {
	// CommitStreamingHeaders はストリーミング用のレスポンスヘッダーを確定させる。
	CommitStreamingHeaders() error
	// WriteMessage はメッセージを1フレームとして書き込む。
	WriteMessage(msg Message) error
	// WriteComment はクライアントが無視するコメントフレームを書き込む。
	WriteComment(text string) error
	// OnClose はトランスポート終了時に呼ばれるコールバックを登録する。
	// 既に終了している場合は即座に呼ばれる。
	OnClose(fn func())
	// End はトランスポートを終了する。複数回呼んでもよい。
	End() error
	// Done はトランスポート終了時にcloseされるチャネルを返す。
	Done() <-chan struct{}
}

// StreamTransport はhttp.ResponseWriterの上に構築したTransport。
// ハンドラはDone()がcloseされるまでreturnしてはならない。
type StreamTransport struct {
	w  http.ResponseWriter
	rc *http.ResponseController
	// writeTimeout は1回の書き込みに許容する時間。0以下なら無制限。
	writeTimeout time.Duration

	// mu は書き込みとclosedを保護する。
	mu     sync.Mutex
	closed bool

	done    chan struct{}
	endOnce sync.Once

	cbMu      sync.Mutex
	callbacks []func()
	fired     bool
}

var _ Transport = (*StreamTransport)(nil)

// NewStreamTransport はリクエストに紐づくStreamTransportを生成する。
// リクエストのコンテキストが終了する（クライアント切断）と自動的にEndされる。
func NewStreamTransport(w http.ResponseWriter, r *http.Request, writeTimeout time.Duration) *StreamTransport {
	t := &StreamTransport{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}

	go func() {
		select {
		case <-r.Context().Done():
			_ = t.End()
		case <-t.done:
		}
	}()
	return t
}

// CommitStreamingHeaders はtext/event-streamのヘッダーを送信してフラッシュする。
func (t *StreamTransport) CommitStreamingHeaders() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	h := t.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	t.w.WriteHeader(http.StatusOK)
	return t.rc.Flush()
}

// WriteMessage はメッセージをdataフレームとして書き込みフラッシュする。
func (t *StreamTransport) WriteMessage(msg Message) error {
	return t.write(func(w io.Writer) error {
		return sse.Encode(w, sse.Event{Id: msg.ID, Data: msg})
	})
}

// WriteComment はコメントフレーム（": text"）を書き込みフラッシュする。
func (t *StreamTransport) WriteComment(text string) error {
	return t.write(func(w io.Writer) error {
		_, err := io.WriteString(w, ": "+text+"\n\n")
		return err
	})
}

func (t *StreamTransport) write(fn func(w io.Writer) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	if t.writeTimeout > 0 {
		// ResponseRecorder等は未対応のためエラーは無視する
		_ = t.rc.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if err := fn(t.w); err != nil {
		return err
	}
	return t.rc.Flush()
}

// OnClose は終了時のコールバックを登録する。
func (t *StreamTransport) OnClose(fn func()) {
	t.cbMu.Lock()
	if t.fired {
		t.cbMu.Unlock()
		fn()
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.cbMu.Unlock()
}

// End は以降の書き込みを拒否し、Doneをcloseしてコールバックを呼ぶ。
// 進行中の書き込みがあれば完了を待つ。
func (t *StreamTransport) End() error {
	t.endOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.done)
		t.mu.Unlock()

		t.cbMu.Lock()
		t.fired = true
		callbacks := t.callbacks
		t.callbacks = nil
		t.cbMu.Unlock()

		for _, fn := range callbacks {
			fn()
		}
	})
	return nil
}

// Done は終了時にcloseされるチャネルを返す。
func (t *StreamTransport) Done() <-chan struct{} {
	return t.done
}
