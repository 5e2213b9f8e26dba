package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/isaacnfairplay/webbed-duck-sub001/diagnostics"
	"github.com/isaacnfairplay/webbed-duck-sub001/internal/singleflight"
	"github.com/isaacnfairplay/webbed-duck-sub001/internal/util"
	"github.com/isaacnfairplay/webbed-duck-sub001/policy/lru"
)

// Cache is the route result cache. All methods are safe for concurrent use.
// Construct it once per process with New and pass it explicitly to the
// collaborators that need it; tear it down with Close.
type Cache struct {
	parts []*partition
	opt   Options
	log   *zap.Logger
	sem   *semaphore.Weighted

	shards atomic.Int64
	bytes  atomic.Int64
	closed atomic.Bool

	// one recomputation per key at any instant
	sf singleflight.Group[ShardKey, *Shard]

	// route id -> *atomic.Uint64, bumped by InvalidateRoute
	gens sync.Map

	// at most one eviction pass runs at a time
	evictMu sync.Mutex

	stop     chan struct{}
	sweepers sync.WaitGroup
}

// New constructs a cache with the provided Options and starts the
// background sweeper unless SweepInterval < 0.
func New(opt Options) *Cache {
	if opt.MaxBytes < 0 {
		opt.MaxBytes = 0
	}
	if opt.MaxVictimsPerPass <= 0 {
		opt.MaxVictimsPerPass = 64
	}
	if opt.SweepInterval == 0 {
		opt.SweepInterval = 30 * time.Second
	}
	if opt.Policy == nil {
		opt.Policy = lru.New[ShardKey]()
	}
	if opt.SizeOf == nil {
		opt.SizeOf = EstimateRows
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}

	n := opt.Partitions
	if n <= 0 {
		n = util.ReasonablePartitionCount()
	} else {
		n = int(util.NextPow2(uint64(n)))
	}
	parts := make([]*partition, n)
	for i := range parts {
		parts[i] = newPartition()
	}

	c := &Cache{
		parts: parts,
		opt:   opt,
		log:   opt.Logger,
		stop:  make(chan struct{}),
	}
	if opt.MaxConcurrentRecomputes > 0 {
		c.sem = semaphore.NewWeighted(opt.MaxConcurrentRecomputes)
	}
	if opt.SweepInterval > 0 {
		c.sweepers.Add(1)
		go c.sweepLoop(opt.SweepInterval)
	}
	return c
}

// Resolve applies Options.Normalize to the invariant parameters and derives
// the shard key.
func (c *Cache) Resolve(routeID string, p RoutePolicy, params Params) (ShardKey, error) {
	if c.opt.Normalize != nil && len(p.InvariantFilters) > 0 {
		norm := make(Params, len(p.InvariantFilters))
		for _, f := range p.InvariantFilters {
			if v, ok := params[f.Param]; ok {
				norm[f.Param] = c.opt.Normalize(routeID, f.Param, v)
			}
		}
		params = norm
	}
	return Resolve(routeID, p, params)
}

// Get is the raw store lookup. It records the access on the shard but does
// not judge staleness; use IsStale or Fetch for that.
func (c *Cache) Get(k ShardKey) (*Shard, bool) {
	s, ok := c.partFor(k).get(k)
	if ok {
		s.touch(c.nowNano())
	}
	return s, ok
}

// Put captures rows as the shard for k, replacing any existing shard
// wholesale and rebuilding its index. It may trigger an eviction pass.
func (c *Cache) Put(k ShardKey, rows []Row, p RoutePolicy) *Shard {
	s := c.capture(k, rows, p)
	c.install(s)
	return s
}

// capture builds a shard for rows without touching the store.
func (c *Cache) capture(k ShardKey, rows []Row, p RoutePolicy) *Shard {
	now := c.nowNano()
	ttl := p.TTL
	if ttl <= 0 {
		ttl = c.opt.DefaultTTL
	}
	s := &Shard{
		key:        k,
		rows:       rows,
		capturedAt: now,
		ttl:        ttl,
		size:       c.opt.SizeOf(rows),
		index:      buildIndex(rows, p.IndexedColumns()),
	}
	s.lastAccess.Store(now)
	return s
}

func (c *Cache) install(s *Shard) {
	k := s.key
	old := c.partFor(k).put(s)
	if old != nil {
		c.bytes.Add(s.size - old.size)
	} else {
		c.shards.Add(1)
		c.bytes.Add(s.size)
	}
	c.reportSize()

	if c.overBudget() {
		c.Evict()
	}
}

// Remove deletes the shard for k and reports whether one existed.
func (c *Cache) Remove(k ShardKey) bool {
	s, ok := c.partFor(k).remove(k)
	if ok {
		c.forget(s)
	}
	return ok
}

// ShardStat is one row of SnapshotSizes.
type ShardStat struct {
	Key          ShardKey
	SizeBytes    int64
	CapturedAt   time.Time
	LastAccessed time.Time
	AccessCount  uint64
}

// SnapshotSizes returns a point-in-time view of every resident shard. Each
// partition is read-locked only while it is being copied.
func (c *Cache) SnapshotSizes() []ShardStat {
	out := make([]ShardStat, 0, c.Len())
	for _, p := range c.parts {
		p.each(func(s *Shard) {
			out = append(out, ShardStat{
				Key:          s.key,
				SizeBytes:    s.size,
				CapturedAt:   s.CapturedAt(),
				LastAccessed: s.LastAccessed(),
				AccessCount:  s.AccessCount(),
			})
		})
	}
	return out
}

// Len returns the number of resident shards.
func (c *Cache) Len() int { return int(c.shards.Load()) }

// SizeBytes returns the aggregate size estimate of resident shards.
func (c *Cache) SizeBytes() int64 { return c.bytes.Load() }

// MaxBytes returns the configured budget (0 = unlimited).
func (c *Cache) MaxBytes() int64 { return c.opt.MaxBytes }

// Stats summarizes the cache for monitoring.
type Stats struct {
	Shards     int   `json:"shards"`
	Bytes      int64 `json:"bytes"`
	MaxBytes   int64 `json:"max_bytes"`
	Headroom   int64 `json:"headroom"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	InFlight   int   `json:"in_flight"`
	Partitions int   `json:"partitions"`
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	st := Stats{
		Shards:     c.Len(),
		Bytes:      c.SizeBytes(),
		MaxBytes:   c.opt.MaxBytes,
		InFlight:   c.sf.InFlight(),
		Partitions: len(c.parts),
	}
	if st.MaxBytes > 0 {
		st.Headroom = st.MaxBytes - st.Bytes
	}
	for _, p := range c.parts {
		st.Hits += p.hits.Load()
		st.Misses += p.misses.Load()
	}
	return st
}

// Fetch serves a request: it resolves the shard key, returns a live shard
// on hit, and otherwise runs compute through the single-flight coordinator
// and installs the result. Stale shards are never returned; they are
// treated as misses and stay resident until the recomputation replaces them.
func (c *Cache) Fetch(ctx context.Context, routeID string, p RoutePolicy, params Params, compute ComputeFunc) (*Shard, error) {
	k, err := c.Resolve(routeID, p, params)
	if err != nil {
		return nil, err
	}
	return c.FetchKey(ctx, k, p, compute)
}

// FetchKey is Fetch for an already-resolved key.
func (c *Cache) FetchKey(ctx context.Context, k ShardKey, p RoutePolicy, compute ComputeFunc) (*Shard, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	part := c.partFor(k)
	now := c.nowNano()
	if s, ok := part.get(k); ok && !s.staleAt(now) {
		s.touch(now)
		part.hits.Add(1)
		c.opt.Metrics.Hit()
		c.emit(diagnostics.Hit(k.String()))
		return s, nil
	}
	part.misses.Add(1)
	c.opt.Metrics.Miss()
	c.emit(diagnostics.Miss(k.String()))

	gen := c.generation(k.Route)
	epoch := gen.Load()
	s, err, _ := c.sf.Do(ctx, k, func(ctx context.Context) (*Shard, error) {
		// another flight may have installed a fresh shard since our lookup
		if s, ok := part.get(k); ok && !s.staleAt(c.nowNano()) {
			return s, nil
		}
		return c.recompute(ctx, k, p, compute, gen, epoch)
	})
	return s, err
}

// recompute runs compute and installs the result unless the route was
// invalidated after epoch was read. Superseded rows are still returned to
// the callers of this flight, just never cached.
func (c *Cache) recompute(ctx context.Context, k ShardKey, p RoutePolicy, compute ComputeFunc, gen *atomic.Uint64, epoch uint64) (*Shard, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)
	}

	start := time.Now()
	rows, err := compute(ctx)
	d := time.Since(start)

	c.opt.Metrics.Recompute(d, len(rows), err)
	c.emit(diagnostics.Recompute(k.String(), d, len(rows), err))
	if err != nil {
		c.log.Debug("recompute failed", zap.Stringer("key", k), zap.Duration("took", d), zap.Error(err))
		return nil, &RecomputeError{Key: k, Err: err}
	}

	s := c.capture(k, rows, p)
	if gen.Load() != epoch {
		c.log.Debug("recompute superseded by invalidation", zap.Stringer("key", k))
		return s, nil
	}
	c.install(s)
	// InvalidateRoute bumps the generation before it scans, so either its
	// scan sees s or this check sees the bump.
	if gen.Load() != epoch {
		c.dropInvalidated(c.partFor(k), s, c.nowNano())
	}
	return s, nil
}

// InvalidateRoute removes every shard of routeID and returns how many were
// removed. Call it when a route is recompiled. Recomputations already in
// flight for the route finish for their own callers but are not installed,
// and later callers start fresh flights.
func (c *Cache) InvalidateRoute(routeID string) int {
	c.generation(routeID).Add(1)
	for _, k := range c.sf.Keys() {
		if k.Route == routeID {
			c.sf.Forget(k)
		}
	}

	now := c.nowNano()
	removed := 0
	for _, p := range c.parts {
		var victims []*Shard
		p.each(func(s *Shard) {
			if s.key.Route == routeID {
				victims = append(victims, s)
			}
		})
		for _, s := range victims {
			if c.dropInvalidated(p, s, now) {
				removed++
			}
		}
	}
	if removed > 0 {
		c.log.Info("route invalidated", zap.String("route", routeID), zap.Int("shards", removed))
	}
	return removed
}

// Close stops the sweeper and closes the diagnostics recorder (final
// flush) when it supports it. Resident shards are left for the GC.
func (c *Cache) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.stop)
	c.sweepers.Wait()
	if cl, ok := c.opt.Diagnostics.(interface{ Close(context.Context) error }); ok {
		if err := cl.Close(ctx); err != nil {
			if errors.Is(err, diagnostics.ErrSinkUnavailable) {
				c.log.Warn("final diagnostics flush failed", zap.Error(err))
				return nil
			}
			return err
		}
	}
	return nil
}

// ---- helpers ----

// generation returns the invalidation counter for routeID.
func (c *Cache) generation(routeID string) *atomic.Uint64 {
	if g, ok := c.gens.Load(routeID); ok {
		return g.(*atomic.Uint64)
	}
	g, _ := c.gens.LoadOrStore(routeID, new(atomic.Uint64))
	return g.(*atomic.Uint64)
}

// dropInvalidated removes s if it is still the resident shard for its key.
func (c *Cache) dropInvalidated(p *partition, s *Shard, now int64) bool {
	if !p.removeIf(s.key, s) {
		return false
	}
	c.forget(s)
	c.opt.Metrics.Evict(EvictInvalidated)
	c.emit(diagnostics.Eviction(s.key.String(), diagnostics.ReasonInvalidated,
		time.Duration(now-s.capturedAt), s.AccessCount()))
	return true
}

// partFor picks a partition by hashing the key.
func (c *Cache) partFor(k ShardKey) *partition {
	return c.parts[util.PartitionIndex(util.HashKey(k.Route, k.Values), len(c.parts))]
}

// forget updates aggregates after s left the store.
func (c *Cache) forget(s *Shard) {
	c.shards.Add(-1)
	c.bytes.Add(-s.size)
	c.reportSize()
}

func (c *Cache) reportSize() { c.opt.Metrics.Size(c.Len(), c.SizeBytes()) }

func (c *Cache) overBudget() bool {
	return c.opt.MaxBytes > 0 && c.bytes.Load() > c.opt.MaxBytes
}

// emit forwards ev to the recorder. Recorder failures are availability
// problems only; they are logged and otherwise ignored.
func (c *Cache) emit(ev diagnostics.Event) {
	if c.opt.Diagnostics == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Unix(0, c.nowNano())
	}
	if err := c.opt.Diagnostics.Record(ev); err != nil {
		c.log.Debug("diagnostics record failed", zap.Stringer("kind", ev.Kind), zap.Error(err))
	}
}

func (c *Cache) nowNano() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}
