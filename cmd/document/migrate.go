package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/config"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/database"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded PostgreSQL schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := database.ConnectPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.ConnTimeout, 5)
			if err != nil {
				return err
			}
			defer pool.Close()
			return database.Migrate(ctx, pool)
		},
	}
}
