package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ms-orders/internal/auth"
	"ms-orders/internal/config"
)

// hash-pin → value for ADMIN_PIN_HASH
func hashPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-pin [pin]",
		Short: "Print the bcrypt hash to store in ADMIN_PIN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPIN(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func serviceTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "service-token [subject]",
		Short: "Issue a token a fulfillment partner uses to post status updates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			tokens := auth.NewServiceTokens(cfg.Auth.ServiceTokenSecret, cfg.Auth.ServiceTokenIssuer)
			if tokens == nil {
				return errors.New("SERVICE_TOKEN_SECRET is not set")
			}
			token, err := tokens.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 90*24*time.Hour, "token lifetime")
	return cmd
}
