package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces fixed-window limits with Redis counters: INCR plus an
// EXPIRE on the first hit of each window. Increments are atomic in Redis, so
// concurrent admissions for the same key never under-count.
type RedisLimiter struct {
	client redis.UniversalClient
	config Config
}

// NewRedisLimiter returns a limiter backed by the given Redis client.
func NewRedisLimiter(client redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{client: client, config: cfg}
}

// Admit increments the counter for key/class and reports whether the attempt
// is within budget.
func (l *RedisLimiter) Admit(ctx context.Context, key Key, class Class) (time.Duration, error) {
	w, ok := l.config[class]
	if !ok {
		return 0, nil
	}
	k := counterKey(key, class)

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// Fixed-window semantics: the TTL is set only by the first hit.
	if count == 1 {
		if err := l.client.Expire(ctx, k, w.Size).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count > int64(w.Max) {
		ttl, err := l.client.TTL(ctx, k).Result()
		if err != nil || ttl < 0 {
			ttl = w.Size
		}
		return ttl, ErrRateLimited
	}
	return 0, nil
}
