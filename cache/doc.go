// Package cache stores the results of parameterized route queries,
// partitioned by each route's invariant filters, and serves repeated
// requests without recomputation.
//
// Design
//
//   - Keys: Resolve turns (route id, policy, params) into a ShardKey using
//     only the parameters declared in RoutePolicy.InvariantFilters, in
//     declaration order. A route with no invariant filters has one shard.
//
//   - Storage: shards live in lock partitions (RWMutex + map), chosen by
//     an xxhash of the key, so unrelated keys rarely contend. A *Shard is
//     immutable once installed; Put swaps in a new value. Access
//     bookkeeping (last access, access count) is atomic.
//
//   - Staleness: a shard is stale once now-captured_at >= ttl. Fetch treats
//     stale shards as misses and routes them through the single-flight
//     coordinator; the stale value stays resident until the recomputation
//     replaces it, and is never handed to a new caller.
//
//   - Single-flight: at most one compute per key at any instant. Failures
//     are delivered to every waiter as *RecomputeError and never cached.
//     Options.MaxConcurrentRecomputes additionally bounds compute calls
//     across keys.
//
//   - Budget: Options.MaxBytes bounds the aggregate size estimate. Every Put
//     that crosses the budget runs an eviction pass; the background sweeper
//     (Options.SweepInterval) removes stale shards and re-checks the budget.
//     Victims are ranked by Options.Policy (LRU with access-count tie
//     break by default) and at most MaxVictimsPerPass are removed per pass.
//
//   - Index: each shard carries an Index of distinct values per indexed
//     column, built at capture time. UniqueValues and ResolveChoices read
//     it to populate selection controls.
//
//   - Observability: Options.Metrics receives hit/miss/recompute/evict/size
//     signals; Options.Diagnostics receives lifecycle events (see package
//     diagnostics). Diagnostics failures never fail a cache operation.
//
// Basic usage
//
//	c := cache.New(cache.Options{MaxBytes: 256 << 20})
//	defer c.Close(context.Background())
//
//	pol := cache.RoutePolicy{
//	    TTL:              5 * time.Minute,
//	    InvariantFilters: []cache.InvariantFilter{{Param: "line", Column: "line"}},
//	}
//	shard, err := c.Fetch(ctx, "sales", pol, cache.Params{"line": "A", "limit": 50},
//	    func(ctx context.Context) ([]cache.Row, error) {
//	        return runQuery(ctx, "sales", "A")
//	    })
//	if err != nil {
//	    return err
//	}
//	lines := cache.UniqueValues(shard, "line", nil)
package cache
