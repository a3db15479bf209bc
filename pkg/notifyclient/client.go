package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nao1215/aptnotify/pkg/event"
)

// Client は通知サービスのHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は通知サービスのベースURL。
	baseURL string
	// token はAuthorizationヘッダーで送るJWT。
	token string
}

// Notification は通知サービスが返す通知。
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	Checked   bool      `json:"checked"`
	CreatedAt time.Time `json:"created_at"`
}

// Item は一括作成する通知の1件。
type Item struct {
	// UserID は通知先のユーザーID。
	UserID int64 `json:"user_id"`
	// Content は描画済みの通知本文。
	Content string `json:"content"`
}

// StatusError は通知サービスが2xx以外を返したことを表す。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Message はレスポンスのerrorフィールド。取得できない場合はボディそのもの。
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, message=%s", e.StatusCode, e.Message)
}

// New は新しい通知サービスクライアントを生成する。
// baseURLには通知サービスのベースURL（例: "http://notification:8086"）を指定する。
func New(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
		token:   token,
	}
}

// Send は通知を1件作成する。通知先が接続中であれば即時に配信される。
func (c *Client) Send(ctx context.Context, userID int64, content string) (Notification, error) {
	var n Notification
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/internal/notifications", Item{UserID: userID, Content: content}, &n); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// SendBatch は通知をまとめて作成し、作成した件数を返す。
func (c *Client) SendBatch(ctx context.Context, items []Item) (int, error) {
	var resp struct {
		Created int `json:"created"`
	}
	body := map[string]any{"items": items}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/internal/notifications/batch", body, &resp); err != nil {
		return 0, err
	}
	return resp.Created, nil
}

// Publish は業務イベントを送信し、イベントから作成された通知の件数を返す。
func (c *Client) Publish(ctx context.Context, e *event.Event) (int, error) {
	var resp struct {
		Created int `json:"created"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/internal/events", e, &resp); err != nil {
		return 0, err
	}
	return resp.Created, nil
}

// UnreadCount はトークンの持ち主の未読通知の件数を返す。
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/notifications/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		var errBody struct {
			Error string `json:"error"`
		}
		message := string(respBody)
		if json.Unmarshal(respBody, &errBody) == nil && errBody.Error != "" {
			message = errBody.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: message}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}
