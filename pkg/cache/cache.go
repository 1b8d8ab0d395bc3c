// Package cache provides a Redis-backed TTL cache for external-service
// responses, grounded on the original `cache.py` TTLCache's docstring
// recommendation to reach for Redis once a single in-memory process can't
// absorb the hit rate. It is used to avoid repeat Anthropic calls for a
// deal sheet's narrative description within its expiry window.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client with a fixed key prefix so callers never
// collide with other uses of the same Redis instance.
type Cache struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// NewClient builds a go-redis client from a connection string
// (redis://host:port/db) for use with New.
func NewClient(addr string) *redis.Client {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	return redis.NewClient(opts)
}

// Get returns the cached string for key, or ("", false) on a miss or any
// Redis error — callers treat both identically and fall through to a live
// recompute, so a Redis outage degrades performance, not correctness.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set stores value under key with the given TTL. Errors are swallowed for
// the same fail-open reason as Get.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Set(ctx, c.prefix+key, value, ttl)
}
