// Package ratelimit admits or rejects session operations per
// (workspace, subject, network address, operation class) key using
// fixed-window counters.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRateLimited is returned when a key has exhausted its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable is returned when the counter backend cannot be reached.
	ErrUnavailable = errors.New("rate limit backend unavailable")
)

// Class is an operation class with its own window and budget.
type Class string

const (
	ClassIssue      Class = "issue"
	ClassRotate     Class = "rotate"
	ClassFailedAuth Class = "failed_auth"
)

// Key identifies the principal being counted. Fields may be empty when
// unknown (a failed rotate with an unresolvable secret has only an address).
type Key struct {
	WorkspaceID    string
	SubjectID      string
	NetworkAddress string
}

// Window is a fixed counting window: Max admissions per Size.
type Window struct {
	Size time.Duration
	Max  int
}

// Config maps each operation class to its window. Classes absent from the
// config are not limited.
type Config map[Class]Window

// DefaultConfig returns the per-class defaults.
func DefaultConfig() Config {
	return Config{
		ClassIssue:      {Size: time.Minute, Max: 10},
		ClassRotate:     {Size: time.Minute, Max: 60},
		ClassFailedAuth: {Size: time.Minute, Max: 10},
	}
}

// Limiter admits or rejects one attempt for key under class.
//
// Admit always increments, including past the budget, so the counter itself
// cannot be starved by rejected calls. On ErrRateLimited, retryAfter carries
// the time until the window resets.
type Limiter interface {
	Admit(ctx context.Context, key Key, class Class) (retryAfter time.Duration, err error)
}

func counterKey(key Key, class Class) string {
	// Layout: rl:{class}:{workspace}:{subject}:{address}. IDs are UUIDs/hashes
	// with no ':', so the key is unambiguous.
	return "rl:" + string(class) + ":" + key.WorkspaceID + ":" + key.SubjectID + ":" + key.NetworkAddress
}
