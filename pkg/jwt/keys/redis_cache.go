package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultCacheTTL = 5 * time.Minute

// RedisCache shares one upstream JWKS document across instances. A cached
// document is served until its TTL expires or until Invalidate is called;
// Store invalidates on Refresh and when the cached set lacks a requested key.
type RedisCache struct {
	upstream DocumentSource
	rdb      redis.UniversalClient
	key      string
	ttl      time.Duration
	logger   *slog.Logger
}

var (
	_ Source         = (*RedisCache)(nil)
	_ DocumentSource = (*RedisCache)(nil)
	_ Invalidator    = (*RedisCache)(nil)
)

func NewRedisCache(upstream DocumentSource, rdb redis.UniversalClient, key string, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if key == "" {
		key = "tokengate:jwks"
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{upstream: upstream, rdb: rdb, key: key, ttl: ttl, logger: logger}
}

func (c *RedisCache) Fetch(ctx context.Context) ([]Material, error) {
	doc, err := c.FetchDocument(ctx)
	if err != nil {
		return nil, err
	}
	return ParseJWKS(doc)
}

// FetchDocument returns the cached document or fetches and stores it. Redis
// failures degrade to a direct upstream fetch.
func (c *RedisCache) FetchDocument(ctx context.Context) ([]byte, error) {
	doc, err := c.rdb.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("jwks cache read failed", "key", c.key, "err", err)
	}

	doc, err = c.upstream.FetchDocument(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := ParseJWKS(doc); err != nil {
		return nil, fmt.Errorf("upstream jwks: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key, doc, c.ttl).Err(); err != nil {
		c.logger.Warn("jwks cache write failed", "key", c.key, "err", err)
	}
	return doc, nil
}

// Invalidate drops the cached document so the next fetch goes upstream.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
