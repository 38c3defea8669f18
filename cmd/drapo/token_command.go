package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"drapo/pkg/auth"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var subject, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.API.JWTSecret == "" {
				return errors.New("api.jwt_secret (or DRAPO_JWT_SECRET) is not set")
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return fmt.Errorf("role must be operator or viewer, got %q", role)
			}
			svc, err := auth.NewJWTService(auth.JWTConfig{
				SecretKey:   cfg.API.JWTSecret,
				Issuer:      cfg.API.JWTIssuer,
				TokenExpiry: ttl,
			})
			if err != nil {
				return err
			}
			token, err := svc.GenerateToken(subject, r)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "operator or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
