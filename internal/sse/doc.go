// Package sse はServer-Sent Eventsによるライブ通知配信を提供する。
//
// Registry はユーザーIDごとに高々1本のライブ接続を保持するプロセス内レジストリで、
// 新しい接続が登録されると同じユーザーの古い接続を切断する。
// 配信はベストエフォートであり、書き込みに失敗した接続は例外を呼び出し元へ返さずに
// レジストリから取り除く。永続化は呼び出し側（通知サービス）の責務である。
package sse
