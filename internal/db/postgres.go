package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB owns the pgx pool shared by the repository and the health endpoint.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Password string
	User     string
	Database string
	SSLMode  string
	Port     int
}

func (c Config) connString() string {
	parts := []string{
		"host=" + c.Host,
		fmt.Sprintf("port=%d", c.Port),
		"user=" + c.User,
		"dbname=" + c.Database,
		"sslmode=" + c.SSLMode,
	}
	if c.Password != "" {
		parts = append(parts, "password="+c.Password)
	}
	return strings.Join(parts, " ")
}

// New opens a pool against cfg and pings it before returning, so a
// misconfigured database fails the process at startup rather than on the
// first dispatch cycle.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	// The dispatch cycle fans out over the pool; keep a few connections
	// warm but recycle them so a long-lived scheduler process doesn't pin
	// stale ones.
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "daybreak"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("connected to postgres",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)

	return &DB{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.logger.Info("closing postgres pool")
	db.pool.Close()
}

// Pool exposes the underlying pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Health reports whether the database answers a ping.
func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}
