package replaycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores pairs as JSON values with a TTL. Raw refresh tokens live
// here only for the grace window; nothing durable ever holds them.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache returns a Cache backed by the given Redis client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func cacheKey(consumedTokenID string) string {
	return "rotation:" + consumedTokenID
}

// Put stores p under the consumed generation's ID for ttl.
func (c *RedisCache) Put(ctx context.Context, consumedTokenID string, p Pair, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, cacheKey(consumedTokenID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("replay cache put: %w", err)
	}
	return nil
}

// Get returns the cached pair for the consumed generation, if still present.
func (c *RedisCache) Get(ctx context.Context, consumedTokenID string) (Pair, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(consumedTokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Pair{}, false, nil
		}
		return Pair{}, false, fmt.Errorf("replay cache get: %w", err)
	}
	var p Pair
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pair{}, false, err
	}
	return p, true, nil
}
