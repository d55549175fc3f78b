// Package redis provides the shared Redis client plus the dispatch claim
// guard and per-user push throttle built on it.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Client wraps go-redis for the claim guard and throttles. Redis is a
// hard dependency: without the claim guard, overlapping dispatch cycles
// would double-deliver.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  4 * time.Second,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("connected to redis", zap.String("addr", opts.Addr))

	return &Client{rdb: rdb, logger: logger}, nil
}

// Close shuts down the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping reports whether Redis is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
