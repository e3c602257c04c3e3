package main

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/djlord-it/findingsd/internal/config"
	"github.com/djlord-it/findingsd/internal/store/postgres"

	_ "github.com/lib/pq"
)

func migrateCommand() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return invalidConfig(errors.New("DATABASE_URL: required"))
			}

			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return errors.Wrap(err, "failed to open database")
			}
			defer db.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := db.PingContext(ctx); err != nil {
				return errors.Wrap(err, "failed to connect to database")
			}

			if status {
				return postgres.MigrationStatus(ctx, db)
			}
			return postgres.Migrate(ctx, db)
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "Print migration status instead of migrating")
	return cmd
}
