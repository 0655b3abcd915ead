// Package redis connects the shared Redis used by the ledger and the rate
// limiter. Each consumer gets its own key namespace under the configured
// prefix.
package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"receiv3/internal/platform/config"
)

type Client struct {
	*redis.Client
	prefix string
}

// New connects and pings. It returns nil, nil when no URL is configured so
// callers can treat Redis as optional.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client, prefix: strings.TrimSuffix(cfg.KeyPrefix, ":")}, nil
}

// Namespace returns the key prefix for one consumer, e.g. "receiv3:usdc".
func (c *Client) Namespace(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + ":" + name
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
