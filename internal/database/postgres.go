package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	sqlCreateMigrations = `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`
	sqlRecordMigration  = `INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT DO NOTHING`
)

// ConnectPostgres opens a pool and pings it, retrying with exponential
// backoff to tolerate startup races with the database container.
func ConnectPostgres(ctx context.Context, dsn string, maxConns int32, timeout time.Duration, attempts int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if attempts < 1 {
		attempts = 1
	}

	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err := connectOnce(ctx, cfg, timeout)
		if err == nil {
			return pool, nil
		}
		lastErr = err
		logger.Warnf("attempt %d/%d: failed to connect to PostgreSQL: %v", attempt, attempts, err)
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

func connectOnce(ctx context.Context, cfg *pgxpool.Config, timeout time.Duration) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrator is the subset of a pool needed to apply migrations.
type Migrator interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrations returns the embedded migration names in apply order.
func Migrations() ([]string, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction.
func Migrate(ctx context.Context, pool Migrator) error {
	if _, err := pool.Exec(ctx, sqlCreateMigrations); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	names, err := Migrations()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := applyMigration(ctx, pool, name); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, pool Migrator, name string) error {
	body, err := migrationFS.ReadFile(name)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("migration %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, sqlRecordMigration, name)
	if err != nil {
		return fmt.Errorf("migration %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		logger.Debugf("migration %s already applied", name)
		return nil
	}
	if _, err := tx.Exec(ctx, string(body)); err != nil {
		return fmt.Errorf("migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("migration %s: %w", name, err)
	}
	logger.Infof("applied migration %s", name)
	return nil
}
