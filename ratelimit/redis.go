package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a CounterStore backed by Redis. INCR gives per-key atomicity,
// so concurrent server instances sharing one Redis never lose updates.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// RedisStoreOption customizes a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix overrides the key namespace. Default "ratelimit".
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "ratelimit",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + ":" + key
}

// Increment satisfies the CounterStore interface. The first increment of a
// window sets the TTL; later ones read the remaining TTL to reconstruct the
// reset time.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Window, error) {
	rkey := s.redisKey(key)

	count, err := s.rdb.Incr(ctx, rkey).Result()
	if err != nil {
		return Window{}, err
	}

	now := time.Now().UTC()
	if count == 1 {
		if err := s.rdb.PExpire(ctx, rkey, window).Err(); err != nil {
			return Window{}, err
		}
		return Window{
			Key:         key,
			Count:       int(count),
			WindowStart: now,
			ExpiresAt:   now.Add(window),
		}, nil
	}

	ttl, err := s.rdb.PTTL(ctx, rkey).Result()
	if err != nil {
		return Window{}, err
	}
	if ttl < 0 {
		// key exists without expiry, repair it so the window terminates
		_ = s.rdb.PExpire(ctx, rkey, window).Err()
		ttl = window
	}

	expiresAt := now.Add(ttl)
	return Window{
		Key:         key,
		Count:       int(count),
		WindowStart: expiresAt.Add(-window),
		ExpiresAt:   expiresAt,
	}, nil
}

// Get satisfies the CounterStore interface.
func (s *RedisStore) Get(ctx context.Context, key string) (Window, error) {
	rkey := s.redisKey(key)

	pipe := s.rdb.Pipeline()
	getCmd := pipe.Get(ctx, rkey)
	ttlCmd := pipe.PTTL(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return Window{}, ErrWindowNotFound
		}
		return Window{}, err
	}

	raw, err := getCmd.Result()
	if err != nil {
		if err == redis.Nil {
			return Window{}, ErrWindowNotFound
		}
		return Window{}, err
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return Window{}, err
	}

	now := time.Now().UTC()
	entry := Window{Key: key, Count: count}
	if ttl, err := ttlCmd.Result(); err == nil && ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	return entry, nil
}

// Delete satisfies the CounterStore interface.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.redisKey(key)).Err()
}

var _ CounterStore = (*RedisStore)(nil)
