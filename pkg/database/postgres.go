package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/piculi-bot/piculi-engine/pkg/config"
)

const applicationName = "piculi-engine"

// DB is the PostgreSQL pool shared by all repositories.
type DB struct {
	*pgxpool.Pool
}

// Config holds pool settings. Zero values fall back to defaults.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// ConfigFrom builds a pool configuration from the application config.
func ConfigFrom(cfg config.DatabaseConfig) *Config {
	return &Config{
		URL:            cfg.ConnectionString(),
		MaxConnections: cfg.MaxConnections,
	}
}

func (c *Config) apply(pc *pgxpool.Config) {
	pc.MaxConns = orDefault(c.MaxConnections, 10)
	pc.MaxConnLifetime = orDefault(c.MaxConnLifetime, time.Hour)
	pc.MaxConnIdleTime = orDefault(c.MaxConnIdleTime, 30*time.Minute)

	// Lesson and occupancy dates are calendar days; keep the session in UTC so
	// DATE <-> time.Time conversions never shift a day.
	pc.ConnConfig.RuntimeParams["timezone"] = "UTC"
	pc.ConnConfig.RuntimeParams["application_name"] = applicationName
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// NewConnection opens the pool and verifies it with a ping.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	cfg.apply(poolConfig)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
