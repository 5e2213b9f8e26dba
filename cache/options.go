package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/isaacnfairplay/webbed-duck-sub001/diagnostics"
	"github.com/isaacnfairplay/webbed-duck-sub001/policy"
)

// EvictReason explains why a shard was removed.
type EvictReason int

const (
	// EvictMemoryPressure: chosen as a victim while over MaxBytes.
	EvictMemoryPressure EvictReason = iota
	// EvictTTL: removed by the expiry sweep.
	EvictTTL
	// EvictInvalidated: the route was recompiled or dropped.
	EvictInvalidated
)

func (r EvictReason) String() string {
	switch r {
	case EvictTTL:
		return diagnostics.ReasonTTLExceeded
	case EvictInvalidated:
		return diagnostics.ReasonInvalidated
	default:
		return diagnostics.ReasonMemoryPressure
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Recompute(d time.Duration, rows int, err error)
	Evict(reason EvictReason)
	Size(shards int, bytes int64)
}

// Recorder receives lifecycle events. *diagnostics.Spillway implements it.
// If the recorder also has a Close(context.Context) error method, Cache.Close
// calls it for the final flush.
type Recorder interface {
	Record(ev diagnostics.Event) error
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache. Zero values are safe; defaults are applied
// in New():
//   - MaxBytes <= 0          => no memory budget (eviction disabled)
//   - MaxVictimsPerPass <= 0 => 64
//   - Partitions <= 0        => auto (≈ 2*GOMAXPROCS, power of two)
//   - SweepInterval == 0     => 30s; < 0 disables the background sweeper
//   - nil Policy             => LRU with access-count tie break
//   - nil SizeOf             => EstimateRows
//   - nil Metrics            => NoopMetrics
//   - nil Diagnostics        => events are discarded
//   - nil Logger             => zap.NewNop()
type Options struct {
	// MaxBytes is the aggregate size_estimate budget across all shards.
	MaxBytes int64
	// MaxVictimsPerPass bounds one eviction pass so a sudden budget drop
	// cannot empty the cache at once.
	MaxVictimsPerPass int

	// Partitions is the number of lock partitions of the shard store.
	Partitions int

	// SweepInterval is the period of the background expiry+eviction sweep.
	SweepInterval time.Duration

	// DefaultTTL applies when a RoutePolicy has no TTL.
	DefaultTTL time.Duration

	// Policy ranks eviction victims.
	Policy policy.Policy[ShardKey]

	// SizeOf estimates the bytes held by a row set.
	SizeOf func(rows []Row) int64

	// Normalize rewrites a parameter value before key construction
	// (e.g. case folding declared by the route's parameter schema).
	Normalize func(route, param string, v any) any

	// MaxConcurrentRecomputes bounds concurrent compute calls across all
	// keys. 0 means unbounded.
	MaxConcurrentRecomputes int64

	// Observability
	Metrics     Metrics
	Diagnostics Recorder
	Logger      *zap.Logger

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}
