// Package redis provides the recently-processed cache consulted before the durable store.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "profile:seen:"

type cmdable interface {
	Exists(ctx context.Context, keys ...string) *goredis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// RecentCache implements crawler.RecentCache on Redis.
type RecentCache struct {
	client cmdable
	closer func() error
}

// New connects to addr and verifies the connection.
func New(ctx context.Context, addr string) (*RecentCache, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	cache := &RecentCache{client: client, closer: client.Close}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return cache, nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client cmdable) *RecentCache {
	return &RecentCache{client: client}
}

// Seen reports whether key was marked within its TTL.
func (c *RecentCache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n == 1, nil
}

// Mark records key with a TTL.
func (c *RecentCache) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Set(ctx, keyPrefix+key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client connection.
func (c *RecentCache) Close() error {
	if c.closer == nil {
		return nil
	}
	if err := c.closer(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
