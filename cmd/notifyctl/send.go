package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSendCmd(opts *globalOptions) *cobra.Command {
	var (
		userID  int64
		content string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "通知を1件送信する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := opts.client().Send(cmd.Context(), userID, content)
			if err != nil {
				return fmt.Errorf("通知の送信に失敗: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(n)
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "通知先のユーザーID")
	cmd.Flags().StringVar(&content, "content", "", "通知本文")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func newUnreadCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "トークンの持ち主の未読件数を表示する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, err := opts.client().UnreadCount(cmd.Context())
			if err != nil {
				return fmt.Errorf("未読件数の取得に失敗: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), count)
			return err
		},
	}
}
