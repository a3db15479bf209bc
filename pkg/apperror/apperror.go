package apperror

import (
	"errors"
	"net/http"
)

// Error はステータスコードとクライアント向けメッセージを持つエラー。
type Error struct {
	// Status はレスポンスのHTTPステータスコード。
	Status int
	// Message はクライアントに返すメッセージ。
	Message string
	// Err は原因となった内部エラー。クライアントには返さない。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// New は指定ステータスのエラーを生成する。
func New(status int, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

// BadRequest は入力検証エラーを生成する。
func BadRequest(message string, err error) *Error {
	return New(http.StatusBadRequest, message, err)
}

// Unauthorized は未認証エラーを生成する。
func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, message, nil)
}

// Forbidden は権限不足エラーを生成する。
func Forbidden(message string) *Error {
	return New(http.StatusForbidden, message, nil)
}

// NotFound はリソース不在エラーを生成する。
func NotFound(message string) *Error {
	return New(http.StatusNotFound, message, nil)
}

// Internal はサーバー内部エラーを生成する。
func Internal(message string, err error) *Error {
	return New(http.StatusInternalServerError, message, err)
}

// StatusOf はエラーに対応するHTTPステータスを返す。
// *Error を含まないエラーは500として扱う。
func StatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// MessageOf はクライアントに返すメッセージを返す。
// *Error を含まないエラーは内部情報を隠した固定文言になる。
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "内部サーバーエラーが発生しました"
}
