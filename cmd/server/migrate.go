package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"receiv3/internal/platform/config"
	"receiv3/internal/platform/logger"
	"receiv3/internal/platform/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return errors.New("DATABASE_URL is required")
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat)

			db, err := postgres.Open(cmd.Context(), cfg.Postgres)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := postgres.Migrate(cmd.Context(), db, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}
}
