// Package apperror はHTTPステータスとメッセージを持つ共通エラー型を提供する。
//
// サービス層とハンドラ層はこの型でエラーを返し、
// middleware.ErrorHandler が一箇所でJSONレスポンスに変換する。
package apperror
