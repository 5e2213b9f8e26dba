package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/isaacnfairplay/webbed-duck-sub001/cache"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	recomputes *prometheus.CounterVec
	latency    prometheus.Histogram
	rows       prometheus.Histogram
	evicts     *prometheus.CounterVec
	shards     prometheus.Gauge
	bytes      prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Requests served from a live shard",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Requests that found no live shard",
			ConstLabels: constLabels,
		}),
		recomputes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "recomputes_total",
				Help:        "Shard recomputations by result",
				ConstLabels: constLabels,
			},
			[]string{"result"},
		),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "recompute_seconds",
			Help:        "Duration of shard recomputations",
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
			ConstLabels: constLabels,
		}),
		rows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "recompute_rows",
			Help:        "Rows produced by successful recomputations",
			Buckets:     prometheus.ExponentialBuckets(1, 10, 7),
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Shard removals by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		shards: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "shards",
			Help:        "Number of resident shards",
			ConstLabels: constLabels,
		}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_bytes",
			Help:        "Aggregate size estimate of resident shards",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.recomputes, a.latency, a.rows, a.evicts, a.shards, a.bytes)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Recompute records one recomputation outcome.
func (a *Adapter) Recompute(d time.Duration, rows int, err error) {
	a.latency.Observe(d.Seconds())
	if err != nil {
		a.recomputes.WithLabelValues("error").Inc()
		return
	}
	a.recomputes.WithLabelValues("ok").Inc()
	a.rows.Observe(float64(rows))
}

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Size updates gauges for the number of shards and their total size.
func (a *Adapter) Size(shards int, bytes int64) {
	a.shards.Set(float64(shards))
	a.bytes.Set(float64(bytes))
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
