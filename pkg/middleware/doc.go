// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、ロール認可、zapによるアクセスログ、パニックリカバリ、
// エラーレスポンスの一元変換、CORS設定、レート制限を含む。
package middleware
