package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is an in-process Limiter for tests and single-node use.
// Windows open on the first hit and close Size later, matching the Redis
// implementation.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*counter
	config  Config
	nowF    func() time.Time
}

// NewMemoryLimiter returns an in-memory limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*counter),
		config:  cfg,
		nowF:    func() time.Time { return time.Now().UTC() },
	}
}

// Admit increments the counter for key/class and reports whether the attempt
// is within budget.
func (l *MemoryLimiter) Admit(ctx context.Context, key Key, class Class) (time.Duration, error) {
	w, ok := l.config[class]
	if !ok {
		return 0, nil
	}
	k := counterKey(key, class)
	now := l.nowF()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.entries[k]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(w.Size)}
		l.entries[k] = c
	}
	c.count++
	if c.count > w.Max {
		return c.resetAt.Sub(now), ErrRateLimited
	}
	return 0, nil
}
