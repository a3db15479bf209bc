package notification

import "time"

// Notification はユーザーに届けられる1件の通知。
type Notification struct {
	// ID は通知の一意識別子。ストアが採番する。
	ID int64 `json:"id"`
	// UserID は通知先のユーザーID。
	UserID int64 `json:"user_id"`
	// Content は描画済みの通知本文。
	Content string `json:"content"`
	// Checked は既読状態。未読から既読への一方向にのみ変化する。
	Checked bool `json:"checked"`
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// NewNotification は作成前の通知。
type NewNotification struct {
	// UserID は通知先のユーザーID。
	UserID int64 `json:"user_id" binding:"required,min=1"`
	// Content は描画済みの通知本文。
	Content string `json:"content" binding:"required,max=2000"`
}

// Page は通知一覧の1ページ分。
type Page struct {
	// Items は新しい順に並んだ通知。
	Items []Notification `json:"items"`
	// Total は対象ユーザーの通知の総件数。
	Total int `json:"total"`
	// HasNext は次のページが存在するかどうか。
	HasNext bool `json:"has_next"`
}
