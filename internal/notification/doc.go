// Package notification は通知サービスの内部実装を提供する。
//
// 通知レコードを永続化し、永続化に成功した通知をライブストリームで接続中の
// ユーザーへ即時に配信する。配信はベストエフォートで、オフラインのユーザーは
// 次回接続時に未読通知としてまとめて受け取る。通知の一覧取得や既読管理も行う。
//
// 通知の発生元は苦情・投票・お知らせ等の業務ドメインで、内部APIまたはNATS経由の
// イベントとして受け取る。
package notification
