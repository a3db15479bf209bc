// Package notifyclient は通知サービスのHTTP APIを呼び出すクライアントを提供する。
//
// 苦情・投票・お知らせ等の業務サービスが通知を発行する際に使用する。
// 内部APIの呼び出しには service または admin ロールのトークンが必要。
package notifyclient
