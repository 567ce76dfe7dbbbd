package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-resets",
		Short: "Clear expired password-reset challenges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.auth.PurgeExpiredResets(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired reset challenges\n", n)
			return nil
		},
	}
}
