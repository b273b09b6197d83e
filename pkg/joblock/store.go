package joblock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the shared key-value backend a Locker coordinates through.
//
// Every mutating operation must be atomic on the backend: SetNX is
// set-if-absent with expiry, Extend and Release compare the stored token
// before touching the key.
type Store interface {
	// SetNX stores token under key with the given expiry only if key is absent.
	SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Extend resets the expiry of key to ttl if it still holds token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Release deletes key if it still holds token.
	Release(ctx context.Context, key, token string) (bool, error)

	// Inspect returns the current holder token and remaining expiry.
	// An absent key returns an empty owner and no error.
	Inspect(ctx context.Context, key string) (owner string, ttl time.Duration, err error)

	// Delete removes key unconditionally.
	Delete(ctx context.Context, key string) (bool, error)
}

var (
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisStore implements Store on Redis.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client. The caller owns the client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, s.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Inspect(ctx context.Context, key string) (string, time.Duration, error) {
	owner, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("get %s: %w", key, err)
	}

	ttl, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return "", 0, fmt.Errorf("pttl %s: %w", key, err)
	}
	// Negative values signal "no expiry" or "key vanished".
	if ttl < 0 {
		ttl = 0
	}
	return owner, ttl, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return n > 0, nil
}

// Publish sends a lock lifecycle message on a pub/sub channel.
func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	if err := s.rdb.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}
