// Package service implements the token lifecycle: issuing session families,
// rotating refresh tokens with a grace window for benign replays, detecting
// reuse, and revoking families.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"embedded-session-auth/internal/audit"
	auditdomain "embedded-session-auth/internal/audit/domain"
	"embedded-session-auth/internal/ratelimit"
	"embedded-session-auth/internal/security"
	"embedded-session-auth/internal/session/replaycache"
	"embedded-session-auth/internal/session/repository"
	"embedded-session-auth/internal/telemetry"
)

// Sentinel errors; the handler maps them to HTTP statuses.
var (
	// ErrInvalidToken covers unknown, malformed, and revoked-family tokens
	// alike, so a caller cannot probe which one it hit.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is benign: the generation outlived its own expiry.
	ErrExpiredToken = errors.New("refresh token expired")
	// ErrReuseDetected is fatal to the family; the caller must re-authenticate
	// upstream.
	ErrReuseDetected = errors.New("refresh token reuse detected; session family revoked")
	// ErrRateLimited is transient; retry after the window resets.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrStorageUnavailable means the operation failed closed: nothing
	// committed, including its audit record.
	ErrStorageUnavailable = errors.New("session storage unavailable")
)

// RateLimitError carries the retry-after hint alongside ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// TokenPair is the result of Issue and Rotate.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	FamilyID         string
}

// Config holds the lifecycle durations.
type Config struct {
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	GracePeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.AccessTTL <= 0 {
		c.AccessTTL = 15 * time.Minute
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 168 * time.Hour
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 30 * time.Second
	}
	return c
}

// Service orchestrates the token lifecycle over the store, rate limiter,
// audit recorder, and replay cache.
type Service struct {
	store   repository.Store
	limiter ratelimit.Limiter
	audit   *audit.Recorder
	replays replaycache.Cache
	access  *security.AccessTokenProvider
	metrics *telemetry.Metrics
	cfg     Config
	nowF    func() time.Time
	warnF   func(format string, args ...any)
}

// New returns a Service with the given dependencies. metrics may be nil.
func New(
	store repository.Store,
	limiter ratelimit.Limiter,
	recorder *audit.Recorder,
	replays replaycache.Cache,
	access *security.AccessTokenProvider,
	metrics *telemetry.Metrics,
	cfg Config,
) *Service {
	return &Service{
		store:   store,
		limiter: limiter,
		audit:   recorder,
		replays: replays,
		access:  access,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		nowF:    func() time.Time { return time.Now().UTC() },
		warnF:   log.Printf,
	}
}

// admit runs the rate limiter for key/class. A limited attempt is audited
// (fail closed on the audit write) and returned as a RateLimitError. A
// limiter backend failure is logged and admitted: the counter keyspace is
// allowed to lose increments, unlike the token store.
func (s *Service) admit(ctx context.Context, key ratelimit.Key, class ratelimit.Class, familyID, fingerprintHash string) error {
	retryAfter, err := s.limiter.Admit(ctx, key, class)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ratelimit.ErrRateLimited):
		ev := auditdomain.New(auditdomain.KindRateLimited, s.nowF(), familyID, "", key.NetworkAddress, fingerprintHash,
			fmt.Sprintf("class=%s subject=%s", class, key.SubjectID))
		if aerr := s.audit.Record(ctx, ev); aerr != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, aerr)
		}
		s.metrics.RateLimited(ctx, string(class))
		return &RateLimitError{RetryAfter: retryAfter}
	default:
		s.warnF("rate limiter unavailable, admitting %s for %s: %v", class, key.NetworkAddress, err)
		return nil
	}
}

