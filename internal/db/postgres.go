package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions sizes the pool. Zero fields fall back to the defaults below.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

const (
	defaultMaxConns        = 10
	defaultMinConns        = 1
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 15 * time.Minute
)

// ConnectPostgres opens the pool the store, the migrator and the readiness
// check share, and pings it once.
func ConnectPostgres(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(dsn, opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

func poolConfig(dsn string, opts PoolOptions) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = orDefault(opts.MaxConns, defaultMaxConns)
	cfg.MinConns = orDefault(opts.MinConns, defaultMinConns)
	if cfg.MinConns > cfg.MaxConns {
		return nil, fmt.Errorf("postgres pool: min conns %d exceeds max conns %d", cfg.MinConns, cfg.MaxConns)
	}
	cfg.MaxConnLifetime = orDefault(opts.MaxConnLifetime, defaultMaxConnLifetime)
	cfg.MaxConnIdleTime = orDefault(opts.MaxConnIdleTime, defaultMaxConnIdleTime)
	cfg.HealthCheckPeriod = 30 * time.Second

	return cfg, nil
}

func orDefault[T int32 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
