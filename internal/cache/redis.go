// Package cache stores reconciled timelines per lead, in process memory,
// in Redis, or in both.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"leaddesk/api/internal/timeline"
)

// RedisCache keeps timelines in Redis so that every API replica sees the
// same entries.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "timeline:",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(leadID string) string {
	return c.prefix + leadID
}

func (c *RedisCache) Get(ctx context.Context, leadID string) ([]timeline.Interaction, bool, error) {
	raw, err := c.client.Get(ctx, c.key(leadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached timeline: %w", err)
	}

	var items []timeline.Interaction
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("decode cached timeline: %w", err)
	}
	return items, true, nil
}

func (c *RedisCache) Set(ctx context.Context, leadID string, items []timeline.Interaction) error {
	if items == nil {
		items = []timeline.Interaction{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}
	if err := c.client.Set(ctx, c.key(leadID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cached timeline: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, leadID string) error {
	if err := c.client.Del(ctx, c.key(leadID)).Err(); err != nil {
		return fmt.Errorf("invalidate cached timeline: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
