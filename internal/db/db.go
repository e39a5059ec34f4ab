// Package db stores sites and their latest BackupPC metrics in PostgreSQL.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// ApplicationName is reported to PostgreSQL in pg_stat_activity.
	ApplicationName string
	// ConnectAttempts is how many pings New makes before giving up.
	// The collector often starts alongside its database.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// DefaultConfig returns the collector's pool settings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 15 * time.Minute,
		ApplicationName: "bpcmon-collector",
		ConnectAttempts: 5,
		ConnectBackoff:  2 * time.Second,
	}
}

// DB is the collector's PostgreSQL store.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New opens a pool and waits until the database answers a ping.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if cfg.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	db := &DB{
		Pool:   pool,
		logger: logger.With().Str("component", "db").Logger(),
	}

	if err := db.waitReady(ctx, cfg.ConnectAttempts, cfg.ConnectBackoff); err != nil {
		pool.Close()
		return nil, err
	}

	db.logger.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Str("database", poolConfig.ConnConfig.Database).
		Msg("connected to database")
	return db, nil
}

func (db *DB) waitReady(ctx context.Context, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = db.Pool.Ping(ctx); err == nil {
			return nil
		}
		if attempt >= attempts {
			return fmt.Errorf("ping database after %d attempts: %w", attempt, err)
		}

		db.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("retry_in", backoff).
			Msg("database not reachable yet")

		select {
		case <-ctx.Done():
			return fmt.Errorf("ping database: %w", errors.Join(err, ctx.Err()))
		case <-time.After(backoff):
		}
	}
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
	db.logger.Info().Msg("database connection pool closed")
}

// Health reports pool usage for the health endpoint.
func (db *DB) Health() map[string]any {
	stats := db.Pool.Stat()
	return map[string]any{
		"conns_total":    stats.TotalConns(),
		"conns_acquired": stats.AcquiredConns(),
		"conns_idle":     stats.IdleConns(),
		"conns_max":      stats.MaxConns(),
		"acquire_wait":   stats.AcquireDuration().String(),
	}
}

// ExecTx runs fn in a transaction, committing when it returns nil.
func (db *DB) ExecTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db.Pool, fn)
}
