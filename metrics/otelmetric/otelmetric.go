// Package otelmetric adapts cache.Metrics to an OpenTelemetry meter, for
// deployments that export through an OTel SDK pipeline instead of a
// Prometheus registry.
package otelmetric

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/isaacnfairplay/webbed-duck-sub001/cache"
)

// Adapter implements cache.Metrics on OTel instruments. Instruments are
// safe for concurrent use.
type Adapter struct {
	lookups    metric.Int64Counter
	recomputes metric.Int64Counter
	duration   metric.Float64Histogram
	evictions  metric.Int64Counter
	shards     metric.Int64Gauge
	bytes      metric.Int64Gauge
}

var (
	attrHit   = metric.WithAttributes(attribute.String("result", "hit"))
	attrMiss  = metric.WithAttributes(attribute.String("result", "miss"))
	attrOK    = metric.WithAttributes(attribute.String("result", "ok"))
	attrError = metric.WithAttributes(attribute.String("result", "error"))
)

// New creates the instruments on meter.
func New(meter metric.Meter) (*Adapter, error) {
	lookups, err := meter.Int64Counter(
		"cache.lookups",
		metric.WithDescription("Cache lookups by result (hit or miss)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	recomputes, err := meter.Int64Counter(
		"cache.recomputes",
		metric.WithDescription("Shard recomputations by result"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"cache.recompute.duration_ms",
		metric.WithDescription("Shard recomputation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"cache.evictions",
		metric.WithDescription("Shard removals by reason"),
		metric.WithUnit("{shard}"),
	)
	if err != nil {
		return nil, err
	}

	shards, err := meter.Int64Gauge(
		"cache.shards",
		metric.WithDescription("Number of resident shards"),
		metric.WithUnit("{shard}"),
	)
	if err != nil {
		return nil, err
	}

	bytes, err := meter.Int64Gauge(
		"cache.size",
		metric.WithDescription("Aggregate size estimate of resident shards"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		lookups:    lookups,
		recomputes: recomputes,
		duration:   duration,
		evictions:  evictions,
		shards:     shards,
		bytes:      bytes,
	}, nil
}

// Hit counts a lookup served from a live shard.
func (a *Adapter) Hit() { a.lookups.Add(context.Background(), 1, attrHit) }

// Miss counts a lookup that found no live shard.
func (a *Adapter) Miss() { a.lookups.Add(context.Background(), 1, attrMiss) }

// Recompute records one recomputation outcome.
func (a *Adapter) Recompute(d time.Duration, _ int, err error) {
	ctx := context.Background()
	opt := attrOK
	if err != nil {
		opt = attrError
	}
	a.recomputes.Add(ctx, 1, opt)
	a.duration.Record(ctx, float64(d)/float64(time.Millisecond), opt)
}

// Evict counts a removal with its reason.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evictions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", r.String())))
}

// Size records the current shard count and aggregate size.
func (a *Adapter) Size(shards int, bytes int64) {
	ctx := context.Background()
	a.shards.Record(ctx, int64(shards))
	a.bytes.Record(ctx, bytes)
}

var _ cache.Metrics = (*Adapter)(nil)
