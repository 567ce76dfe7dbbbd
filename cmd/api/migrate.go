package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep-go/internal/repository"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				cfg, logger, err := loadConfig()
				if err != nil {
					return err
				}
				return migrateUp(cfg.DatabaseDSN, logger)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				cfg, logger, err := loadConfig()
				if err != nil {
					return err
				}
				return withMigrator(cfg.DatabaseDSN, logger, func(m *repository.Migrator) error {
					if err := m.Down(); err != nil {
						return err
					}
					logger.Info("migrations rolled back")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, err := loadConfig()
				if err != nil {
					return err
				}
				return withMigrator(cfg.DatabaseDSN, logger, func(m *repository.Migrator) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

func migrateUp(dsn string, logger *slog.Logger) error {
	return withMigrator(dsn, logger, func(m *repository.Migrator) error {
		if err := m.Up(); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	})
}

func withMigrator(dsn string, logger *slog.Logger, fn func(*repository.Migrator) error) error {
	m, err := repository.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("closing migrator", "error", err)
		}
	}()
	return fn(m)
}
