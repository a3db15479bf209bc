package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/aptnotify/pkg/notifyclient"
)

// globalOptions は全サブコマンド共通のオプション。
type globalOptions struct {
	// url は通知サービスのベースURL。
	url string
	// token はAPI呼び出しに使うJWT。
	token string
}

func (o *globalOptions) client() *notifyclient.Client {
	return notifyclient.New(o.url, o.token)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "notifyctl",
		Short:         "通知サービスの運用ツール",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.url, "url", envOr("NOTIFY_URL", "http://localhost:8086"), "通知サービスのベースURL（環境変数 NOTIFY_URL）")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("NOTIFY_TOKEN"), "API呼び出しに使うJWT（環境変数 NOTIFY_TOKEN）")

	cmd.AddCommand(
		newTokenCmd(),
		newSendCmd(opts),
		newPublishCmd(opts),
		newUnreadCmd(opts),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
