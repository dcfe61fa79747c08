package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	postgresstor "herald-go/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.UseMemory() {
			return errors.New("migrate requires storage mode \"storage\"")
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			return err
		}

		logger.Info("database migrations completed",
			"host", cfg.Postgres.Host,
			"database", cfg.Postgres.Database,
		)
		return nil
	},
}
