package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/cleanup"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/config"
)

func newCleanupFailuresCommand() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "cleanup-failures",
		Short: "Print the most recent failed screenshot deletions as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.Redis.Addr() == "" {
				return fmt.Errorf("REDIS_HOST is not set; cleanup failures are only recorded in Redis")
			}
			client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer client.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rec := cleanup.NewRedisRecorder(client, cfg.Cleanup.FailuresKey, cfg.Cleanup.MaxFailures)
			return printFailures(ctx, rec, limit, json.NewEncoder(cmd.OutOrStdout()))
		},
	}
	cmd.Flags().Int64VarP(&limit, "limit", "n", 50, "maximum number of failures to print")
	return cmd
}

func printFailures(ctx context.Context, rec *cleanup.RedisRecorder, limit int64, enc *json.Encoder) error {
	failures, err := rec.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, f := range failures {
		if err := enc.Encode(f); err != nil {
			return err
		}
	}
	return nil
}
