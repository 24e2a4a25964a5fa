// Package redis builds the shared Redis client used by the optional Redis storage backend.
package redis

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/claim-bot/pkg/config"
)

// Client wraps the go-redis client so it can be handed to stores and health checks.
type Client struct {
	*redis.Client
}

// New creates an instrumented Redis client configured with cfg and verifies the connection with Ping.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.IdleTimeout,
		MaxRetries:      cfg.MaxRetries,
	}
	rdb := redis.NewClient(opts)
	rdb.AddHook(metricsHook{})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Client{rdb}, nil
}

// HealthCheck issues a PING against the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return redis.ErrClosed
	}
	return c.Ping(ctx).Err()
}
