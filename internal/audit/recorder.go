// Package audit records security-relevant transitions to an append-only log.
// Recording fails closed: a failed write must abort the operation that
// triggered it, so no transition ever commits silently unaudited.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"embedded-session-auth/internal/audit/domain"
)

// Appender is the minimal sink the recorder needs.
type Appender interface {
	Append(ctx context.Context, ev *domain.Event) error
}

// Recorder persists audit events through an Appender. Unlike a best-effort
// application log, Record returns the write error to the caller.
type Recorder struct {
	repo Appender
	nowF func() time.Time
}

// NewRecorder returns a Recorder backed by repo.
func NewRecorder(repo Appender) *Recorder {
	return &Recorder{repo: repo, nowF: func() time.Time { return time.Now().UTC() }}
}

// Record fills in ID and timestamp when missing and appends the event.
func (r *Recorder) Record(ctx context.Context, ev *domain.Event) error {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.At.IsZero() {
		ev.At = r.nowF()
	}
	if err := r.repo.Append(ctx, ev); err != nil {
		return fmt.Errorf("audit append %s: %w", ev.Kind, err)
	}
	return nil
}
