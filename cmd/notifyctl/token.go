package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/aptnotify/pkg/middleware"
)

func newTokenCmd() *cobra.Command {
	var (
		secret string
		userID int64
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "開発用のJWTを発行する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user-id は1以上を指定してください: %d", userID)
			}
			roles := []string{middleware.RoleAdmin, middleware.RoleResident, middleware.RoleService}
			if !slices.Contains(roles, role) {
				return fmt.Errorf("--role は %v のいずれかを指定してください: %s", roles, role)
			}

			token, err := middleware.GenerateJWT(secret, userID, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", envOr("JWT_SECRET", "dev-secret-key"), "署名鍵（環境変数 JWT_SECRET）")
	cmd.Flags().Int64Var(&userID, "user-id", 0, "トークンの持ち主のユーザーID")
	cmd.Flags().StringVar(&role, "role", middleware.RoleService, "ロール（admin / resident / service）")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "有効期間")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
