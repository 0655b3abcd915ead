package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "receiv3/internal/jwt_token"
	"receiv3/internal/platform/config"
	"receiv3/pkg/domain"
)

// newTokenCmd issues a bearer token for an account. Identity is out of scope
// for the API, so operators mint tokens for known addresses with this.
func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <address>",
		Short: "Issue an access token for an account address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := domain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			token, err := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience).
				GenerateAccessToken(caller, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
