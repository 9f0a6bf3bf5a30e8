// Package sweeper purges terminal token rows past the retention horizon.
package sweeper

import (
	"context"
	"log"
	"time"

	"embedded-session-auth/internal/session/repository"
)

// Sweeper periodically deletes consumed, dead, and revoked tokens whose
// retention horizon has passed. Active tokens and the audit log are never
// touched.
type Sweeper struct {
	store     repository.Store
	retention time.Duration
	interval  time.Duration
	nowF      func() time.Time
	logF      func(format string, args ...any)
}

func New(store repository.Store, retention, interval time.Duration) *Sweeper {
	if retention <= 0 {
		retention = 720 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		interval:  interval,
		nowF:      func() time.Time { return time.Now().UTC() },
		logF:      log.Printf,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	horizon := s.nowF().Add(-s.retention)
	n, err := s.store.PurgeExpired(ctx, horizon)
	if err != nil {
		s.logF("retention sweep: %v", err)
		return
	}
	if n > 0 {
		s.logF("retention sweep removed %d rows", n)
	}
}
