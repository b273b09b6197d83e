// Package cache provides Redis-backed cache-aside lookups for remote API
// responses.
//
// Absent results are cached as the "empty" sentinel so repeated lookups
// for missing projects do not reach the API. Redis failures never fail a
// lookup: the loader is called directly instead.
package cache

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/internal/metrics"
)

// EmptySentinel is stored for lookups that found nothing.
const EmptySentinel = "empty"

// DefaultTTL is how long cached responses live.
const DefaultTTL = 5 * time.Minute

// Cache stores JSON-encoded values in Redis.
type Cache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a Cache. A nil client, including a typed nil such as a nil
// *redis.Client, disables caching. A non-positive ttl uses DefaultTTL.
func New(rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Cache {
	if isNilClient(rdb) {
		rdb = nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

func isNilClient(rdb redis.UniversalClient) bool {
	switch c := rdb.(type) {
	case nil:
		return true
	case *redis.Client:
		return c == nil
	case *redis.ClusterClient:
		return c == nil
	case *redis.Ring:
		return c == nil
	default:
		return false
	}
}

// TTL returns the expiry applied to new entries.
func (c *Cache) TTL() time.Duration { return c.ttl }

// GetOrLoad returns the cached value for key, or calls load and caches its
// result. load reports found=false for values that do not exist; those are
// cached as EmptySentinel. Loader errors are returned and never cached.
// cacheType labels the hit/miss metrics.
func GetOrLoad[T any](ctx context.Context, c *Cache, cacheType, key string, load func(ctx context.Context) (T, bool, error)) (T, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var zero T

	if c == nil || c.rdb == nil {
		return load(ctx)
	}

	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if raw == EmptySentinel {
			metrics.CacheHits.WithLabelValues(cacheType).Inc()
			return zero, false, nil
		}
		var v T
		jsonErr := json.Unmarshal([]byte(raw), &v)
		if jsonErr == nil {
			metrics.CacheHits.WithLabelValues(cacheType).Inc()
			return v, true, nil
		}
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(jsonErr))
	case errors.Is(err, redis.Nil):
	default:
		if ctx.Err() != nil {
			return zero, false, ctx.Err()
		}
		c.logger.Warn("Cache read failed, loading directly", zap.String("key", key), zap.Error(err))
	}
	metrics.CacheMisses.WithLabelValues(cacheType).Inc()

	v, found, err := load(ctx)
	if err != nil {
		return zero, false, err
	}

	payload := EmptySentinel
	if found {
		encoded, err := json.Marshal(v)
		if err != nil {
			c.logger.Warn("Cache encode failed", zap.String("key", key), zap.Error(err))
			return v, found, nil
		}
		payload = string(encoded)
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, found, nil
}

// Put stores v under key for ttl. A non-positive ttl uses the cache TTL.
// Errors are logged and ignored.
func (c *Cache) Put(ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil || c.rdb == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("Cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key, encoded, ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Remaining returns how long key has left to live. It is zero when the
// key is absent, has no expiry or Redis is unavailable.
func (c *Cache) Remaining(ctx context.Context, key string) time.Duration {
	if c == nil || c.rdb == nil {
		return 0
	}
	ttl, err := c.rdb.PTTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// MarkOnce sets key for ttl unless it already exists, and reports whether
// this call set it. Without Redis every call reports true.
func (c *Cache) MarkOnce(ctx context.Context, key string, ttl time.Duration) bool {
	if c == nil || c.rdb == nil {
		return true
	}
	ok, err := c.rdb.SetNX(ctx, key, "true", ttl).Result()
	if err != nil {
		c.logger.Warn("Cache mark failed", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

// Invalidate removes keys. Errors are logged and ignored.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.rdb == nil || len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
