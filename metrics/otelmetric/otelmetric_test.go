package otelmetric

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/isaacnfairplay/webbed-duck-sub001/cache"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, kv attribute.KeyValue) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("%s not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", m.Data)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v.AsString() == kv.Value.AsString() {
			return dp.Value
		}
	}
	return 0
}

func TestAdapter_RecordsThroughCache(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	a, err := New(mp.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	c := cache.New(cache.Options{Metrics: a, SweepInterval: -1})
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	ctx := context.Background()
	pol := cache.RoutePolicy{TTL: time.Hour}
	rows := func(context.Context) ([]cache.Row, error) { return []cache.Row{{"a": 1}}, nil }
	_, _ = c.Fetch(ctx, "r", pol, nil, rows)
	_, _ = c.Fetch(ctx, "r", pol, nil, rows)
	_, _ = c.Fetch(ctx, "bad", pol, nil, func(context.Context) ([]cache.Row, error) { return nil, errors.New("x") })
	c.InvalidateRoute("r")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "cache.lookups", attribute.String("result", "hit")); got != 1 {
		t.Errorf("hits = %d", got)
	}
	if got := sumFor(t, rm, "cache.lookups", attribute.String("result", "miss")); got != 2 {
		t.Errorf("misses = %d", got)
	}
	if got := sumFor(t, rm, "cache.recomputes", attribute.String("result", "error")); got != 1 {
		t.Errorf("failed recomputes = %d", got)
	}
	if got := sumFor(t, rm, "cache.evictions", attribute.String("reason", "invalidated")); got != 1 {
		t.Errorf("invalidations = %d", got)
	}

	g := findMetric(rm, "cache.shards")
	if g == nil {
		t.Fatal("cache.shards not found")
	}
	gauge, ok := g.Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 0 {
		t.Fatalf("shards gauge must read 0 after invalidation: %+v", g.Data)
	}

	h := findMetric(rm, "cache.recompute.duration_ms")
	if h == nil {
		t.Fatal("duration histogram not found")
	}
	if _, ok := h.Data.(metricdata.Histogram[float64]); !ok {
		t.Fatalf("expected Histogram[float64], got %T", h.Data)
	}
}
