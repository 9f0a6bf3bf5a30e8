package replaycache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	pair      Pair
	expiresAt time.Time
}

// MemoryCache is an in-process Cache for tests and single-node use.
type MemoryCache struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryCache returns a new in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores p under the consumed generation's ID for ttl.
func (c *MemoryCache) Put(ctx context.Context, consumedTokenID string, p Pair, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[consumedTokenID] = entry{pair: p, expiresAt: c.nowF().Add(ttl)}
	return nil
}

// Get returns the cached pair for the consumed generation, if still present.
func (c *MemoryCache) Get(ctx context.Context, consumedTokenID string) (Pair, bool, error) {
	c.mu.RLock()
	e, ok := c.m[consumedTokenID]
	c.mu.RUnlock()
	if !ok {
		return Pair{}, false, nil
	}
	if !e.expiresAt.After(c.nowF()) {
		c.mu.Lock()
		delete(c.m, consumedTokenID)
		c.mu.Unlock()
		return Pair{}, false, nil
	}
	return e.pair, true, nil
}
