// Package querycache is a small read-through cache in front of the query
// layer. Responses are cached as serialized JSON under a hash of the
// endpoint and its parameters. A nil *Cache is valid and always misses, so
// the API serves identically with caching disabled.
package querycache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/common/config"
)

const keyPrefix = "pumpkin:q:"

// Cache wraps a Redis client with a fixed TTL for query responses.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis per the config. Returns (nil, nil) when the cache
// is disabled; a connection failure is an error because a configured cache
// that silently never works would mask an operational problem.
func New(cfg *config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	if cfg == nil || !cfg.Enabled {
		logger.Info("Query cache disabled")
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis at %s: %w", cfg.Addr, err)
	}

	ttl := cfg.TTL.Std()
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	logger.Info("Query cache connected",
		zap.String("addr", cfg.Addr),
		zap.Duration("ttl", ttl))

	return &Cache{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// Key builds the cache key for an endpoint and its parameters.
func Key(parts ...string) string {
	return keyPrefix + fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(parts, "\x00")))
}

// GetOrCompute returns the cached response for key, or runs compute and
// caches its result. Redis failures degrade to computing directly; a
// compute error is never cached.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func() ([]byte, error)) ([]byte, error) {
	if c == nil {
		return compute()
	}

	cached, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		return cached, nil
	}
	if err != redis.Nil {
		c.logger.Warn("Query cache read failed, computing directly",
			zap.String("key", key),
			zap.Error(err))
	}

	data, err := compute()
	if err != nil {
		return nil, err
	}

	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Query cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}
	return data, nil
}

// Invalidate drops every cached query response. Called after a batch run
// finishes so readers see fresh aggregates within one request.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}

	keys, err := c.rdb.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("listing cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting cache keys: %w", err)
	}

	c.logger.Debug("Query cache invalidated", zap.Int("keys", len(keys)))
	return nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
