package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	URL string
	// OperationTimeout bounds every read and write; zero keeps the driver default.
	OperationTimeout time.Duration
}

// NewClient creates a new Redis client.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	return NewClientWithConfig(ctx, Config{URL: redisURL})
}

// NewClientWithConfig creates a Redis client and verifies the connection.
func NewClientWithConfig(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	opts.ClientName = "ynabimport"
	if cfg.OperationTimeout > 0 {
		opts.ReadTimeout = cfg.OperationTimeout
		opts.WriteTimeout = cfg.OperationTimeout
	}

	client := redis.NewClient(opts)

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
