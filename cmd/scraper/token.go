package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mangacatalog/internal/control"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Control.JWTSecret == "" {
				return fmt.Errorf("control.jwt_secret is not set")
			}
			ts := control.TokenService{
				Secret:   []byte(cfg.Control.JWTSecret),
				Issuer:   cfg.Control.JWTIssuer,
				Duration: cfg.JWTDuration(),
			}
			token, exp, err := ts.Sign(operator)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "operator", "Name recorded in the token")
	return cmd
}
