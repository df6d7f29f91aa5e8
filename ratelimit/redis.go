package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "rl:"

// RedisStore keeps each entry in a hash with a PEXPIRE so abandoned keys are
// evicted by the server.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore namespaces keys under prefix ("rl:" when empty).
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}

	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: corrupt count for %q", ErrStoreUnavailable, key)
	}
	windowStart, err := strconv.ParseInt(fields["window_start"], 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: corrupt window for %q", ErrStoreUnavailable, key)
	}

	e := Entry{Count: count, WindowStart: time.UnixMilli(windowStart)}
	if raw := fields["blocked_until"]; raw != "" && raw != "0" {
		blocked, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Entry{}, false, fmt.Errorf("%w: corrupt block for %q", ErrStoreUnavailable, key)
		}
		e.BlockedUntil = time.UnixMilli(blocked)
	}
	return e, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	var blocked int64
	if !e.BlockedUntil.IsZero() {
		blocked = e.BlockedUntil.UnixMilli()
	}

	k := s.key(key)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k,
			"count", e.Count,
			"window_start", e.WindowStart.UnixMilli(),
			"blocked_until", blocked,
		)
		if ttl > 0 {
			pipe.PExpire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
