package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/labelgen/internal/service/auth"
	"github.com/spf13/cobra"
)

var errAuthDisabled = errors.New("auth.jwt_secret is not configured")

func tokenCmd(cli *cliContext) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cli.cfg.Auth.JWTSecret == "" {
				return errAuthDisabled
			}
			parsed, err := auth.ParseRole(role)
			if err != nil {
				return err
			}

			svc, err := auth.NewJWTService(cli.cfg.Auth)
			if err != nil {
				return fmt.Errorf("failed to initialize JWT service: %w", err)
			}
			token, err := svc.GenerateToken(cmd.Context(), subject, parsed, ttl)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "identity recorded in the token (required)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleClient), "client or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_lifetime_minutes)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
