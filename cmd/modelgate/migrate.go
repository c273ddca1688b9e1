package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/pkg/logger"
	"github.com/modelgate/modelgate/store"
)

func newMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Backend != "postgres" {
				return fmt.Errorf("migrate requires storage.backend postgres, got %q", cfg.Storage.Backend)
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			pool, err := pgxpool.New(cmd.Context(), cfg.Storage.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connecting to postgres: %w", err)
			}
			defer pool.Close()

			return store.NewMigrator(pool, log).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config YAML")
	return cmd
}
