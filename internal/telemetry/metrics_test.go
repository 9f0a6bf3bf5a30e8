package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNilMetricsIsNoOp(t *testing.T) {
	ctx := context.Background()
	var m *Metrics

	// Every wrapper must be callable on a nil receiver; the service passes
	// nil when no meter is configured.
	m.Issued(ctx)
	m.Rotated(ctx)
	m.Replayed(ctx)
	m.ReuseDetected(ctx)
	m.RateLimited(ctx, "issue")
	m.Revoked(ctx)
}

func TestMetricsCount(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	m, err := NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.Issued(ctx)
	m.Issued(ctx)
	m.RateLimited(ctx, "rotate")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	sums := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, met := range scope.Metrics {
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				sums[met.Name] += dp.Value
			}
		}
	}
	if sums["session_families_issued_total"] != 2 {
		t.Errorf("issued = %d, want 2", sums["session_families_issued_total"])
	}
	if sums["session_rate_limited_total"] != 1 {
		t.Errorf("rate limited = %d, want 1", sums["session_rate_limited_total"])
	}
}
