package main

import (
	"fmt"
	"time"

	"github.com/dxpcore/dxp-chat/internal/auth"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		userId int
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a connection credential for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if userId <= 0 {
				return fmt.Errorf("--user-id is required")
			}

			db, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := db.GetUserById(cmd.Context(), userId); err != nil {
				return fmt.Errorf("user %d: %w", userId, err)
			}

			var token string
			switch cfg.AuthMode {
			case auth.ModeToken:
				token, err = auth.NewTokenVerifier(db).Issue(cmd.Context(), userId, ttl)
			default:
				token, err = auth.NewJWTVerifier(db, cfg.SigningKey).IssueToken(userId, ttl)
			}
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().IntVar(&userId, "user-id", 0, "user the credential is issued for")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "credential lifetime")
	return cmd
}
