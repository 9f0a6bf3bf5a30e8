// Package telemetry exposes service-level counters for the token lifecycle.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts token lifecycle outcomes. A nil *Metrics is a valid no-op,
// so tests can pass nil.
type Metrics struct {
	issued        metric.Int64Counter
	rotated       metric.Int64Counter
	replayed      metric.Int64Counter
	reuseDetected metric.Int64Counter
	rateLimited   metric.Int64Counter
	revoked       metric.Int64Counter
}

// NewMetrics registers the lifecycle counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.issued, "session_families_issued_total", "New session families issued"},
		{&m.rotated, "session_tokens_rotated_total", "Successful refresh-token rotations"},
		{&m.replayed, "session_rotations_replayed_total", "Benign replays served from the grace-window cache"},
		{&m.reuseDetected, "session_reuse_detected_total", "Token reuse detections (family revoked)"},
		{&m.rateLimited, "session_rate_limited_total", "Requests rejected by the rate limiter"},
		{&m.revoked, "session_families_revoked_total", "Families revoked by explicit sign-out"},
	} {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

// Issued counts one new family.
func (m *Metrics) Issued(ctx context.Context) {
	if m == nil {
		return
	}
	m.inc(ctx, m.issued)
}

// Rotated counts one successful rotation.
func (m *Metrics) Rotated(ctx context.Context) {
	if m == nil {
		return
	}
	m.inc(ctx, m.rotated)
}

// Replayed counts one benign grace-window replay.
func (m *Metrics) Replayed(ctx context.Context) {
	if m == nil {
		return
	}
	m.inc(ctx, m.replayed)
}

// ReuseDetected counts one reuse detection.
func (m *Metrics) ReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.inc(ctx, m.reuseDetected)
}

// RateLimited counts one limiter rejection for the given operation class.
func (m *Metrics) RateLimited(ctx context.Context, class string) {
	if m == nil {
		return
	}
	m.inc(ctx, m.rateLimited, attribute.String("class", class))
}

// Revoked counts one explicit family revocation.
func (m *Metrics) Revoked(ctx context.Context) {
	if m == nil {
		return
	}
	m.inc(ctx, m.revoked)
}

func (m *Metrics) inc(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
