package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/nao1215/aptnotify/pkg/apperror"
	"go.uber.org/zap"
)

// ErrorHandler はハンドラが c.Error で登録したエラーを共通形式のJSONに変換するミドルウェアを返す。
// レスポンスが既に送信済み（ライブストリームのヘッダー確定後など）の場合はログ出力のみ行う。
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		status := apperror.StatusOf(err)

		if status >= 500 {
			logger.Error("リクエスト処理でエラーが発生しました",
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", status),
				zap.Error(err),
			)
		} else {
			logger.Debug("リクエストを拒否しました",
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", status),
				zap.Error(err),
			)
		}

		if c.Writer.Written() {
			return
		}
		c.AbortWithStatusJSON(status, gin.H{"error": apperror.MessageOf(err)})
	}
}
