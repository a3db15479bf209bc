// notifyctl は通知サービスの運用・開発用コマンドラインツール。
// 開発用トークンの発行、通知の送信、業務イベントの送信を行う。
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
