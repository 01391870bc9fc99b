// Package cache provides the Redis-backed idempotency response cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis configuration
type Config struct {
	Addr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string        `envconfig:"REDIS_PASSWORD" default:""`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	Timeout  time.Duration `envconfig:"REDIS_TIMEOUT" default:"3s"`
}

// Client wraps a Redis connection.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New creates a new Redis client and verifies the connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.Info("redis connection established", "addr", cfg.Addr)

	return &Client{rdb: rdb, logger: logger}, nil
}

// NewWithClient wraps an existing Redis client (used in tests).
func NewWithClient(rdb *redis.Client, logger *slog.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// HealthCheck checks the Redis connection.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

const idempotencyPrefix = "idem:"

// Get returns the cached response for an idempotency key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("getting idempotency key: %w", err)
	}
	return val, true, nil
}

// Set stores a response under an idempotency key with a TTL.
func (c *Client) Set(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, idempotencyPrefix+key, response, ttl).Err(); err != nil {
		return fmt.Errorf("setting idempotency key: %w", err)
	}
	return nil
}
