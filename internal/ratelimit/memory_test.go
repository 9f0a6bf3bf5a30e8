package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryLimiter_Boundary(t *testing.T) {
	l := NewMemoryLimiter(Config{ClassIssue: {Size: time.Minute, Max: 3}})
	ctx := context.Background()
	key := Key{WorkspaceID: "ws-1", SubjectID: "sub-1", NetworkAddress: "10.0.0.1"}

	for i := 0; i < 3; i++ {
		if _, err := l.Admit(ctx, key, ClassIssue); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if _, err := l.Admit(ctx, key, ClassIssue); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("4th call: got %v, want ErrRateLimited", err)
	}
}

func TestMemoryLimiter_WindowRollover(t *testing.T) {
	l := NewMemoryLimiter(Config{ClassIssue: {Size: time.Minute, Max: 1}})
	now := time.Now().UTC()
	l.nowF = func() time.Time { return now }
	ctx := context.Background()
	key := Key{NetworkAddress: "10.0.0.1"}

	if _, err := l.Admit(ctx, key, ClassIssue); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := l.Admit(ctx, key, ClassIssue); !errors.Is(err, ErrRateLimited) {
		t.Fatal("second call should be limited")
	}

	now = now.Add(61 * time.Second)
	if _, err := l.Admit(ctx, key, ClassIssue); err != nil {
		t.Fatalf("call after rollover: %v", err)
	}
}

func TestMemoryLimiter_RetryAfterHint(t *testing.T) {
	l := NewMemoryLimiter(Config{ClassIssue: {Size: time.Minute, Max: 1}})
	now := time.Now().UTC()
	l.nowF = func() time.Time { return now }
	ctx := context.Background()
	key := Key{NetworkAddress: "10.0.0.1"}

	l.Admit(ctx, key, ClassIssue)
	now = now.Add(20 * time.Second)
	retryAfter, err := l.Admit(ctx, key, ClassIssue)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
	if retryAfter != 40*time.Second {
		t.Errorf("retryAfter = %v, want 40s", retryAfter)
	}
}

func TestMemoryLimiter_ConcurrentNeverUnderCounts(t *testing.T) {
	const max, extra = 50, 25
	l := NewMemoryLimiter(Config{ClassRotate: {Size: time.Minute, Max: max}})
	ctx := context.Background()
	key := Key{WorkspaceID: "ws-1", SubjectID: "sub-1", NetworkAddress: "10.0.0.1"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	limited := 0
	for i := 0; i < max+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Admit(ctx, key, ClassRotate); errors.Is(err, ErrRateLimited) {
				mu.Lock()
				limited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if limited != extra {
		t.Errorf("limited = %d, want exactly %d (no lost increments)", limited, extra)
	}
}
