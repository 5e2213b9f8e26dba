// Command bench runs a synthetic request workload against the route cache,
// backed by an in-memory SQLite query engine, and serves the ops API
// (stats, shards, diagnostics, Prometheus metrics) plus optional pprof.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/isaacnfairplay/webbed-duck-sub001/cache"
	"github.com/isaacnfairplay/webbed-duck-sub001/diagnostics"
	"github.com/isaacnfairplay/webbed-duck-sub001/internal/opsapi"
	pmet "github.com/isaacnfairplay/webbed-duck-sub001/metrics/prom"
	"github.com/isaacnfairplay/webbed-duck-sub001/policy/largest"
	"github.com/isaacnfairplay/webbed-duck-sub001/route"
)

const benchRoute = "sales"

func main() {
	// ---- Flags ----
	var (
		maxBytes   = flag.Int64("maxbytes", 64<<20, "cache budget in bytes (0 = unlimited)")
		partitions = flag.Int("partitions", 0, "number of lock partitions (0=auto)")
		policy     = flag.String("policy", "lru", "eviction ranking: lru | largest")
		ttl        = flag.Duration("ttl", 30*time.Second, "shard ttl for the bench route")
		routesDir  = flag.String("routes", "", "directory of route policy files to load and watch (overrides -ttl)")
		maxRecomp  = flag.Int64("max_recomputes", 0, "max concurrent recomputes (0 = unlimited)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		lines    = flag.Int("lines", 500, "distinct production lines (invariant cardinality)")
		rows     = flag.Int("rows", 200, "rows per line in the demo table")
		delay    = flag.Duration("query_delay", 2*time.Millisecond, "artificial latency per query")
		zipfS    = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV    = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		spill    = flag.String("spill", "", "diagnostics sink: path.jsonl or sqlite:<dsn> (empty = memory)")
		spillCap = flag.Int("spill_cap", diagnostics.DefaultCapacity, "diagnostics buffer capacity")

		pprofAddr = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		httpAddr  = flag.String("http", ":8080", "serve the ops API and /metrics at addr; empty = disabled")
		verbose   = flag.Bool("v", false, "development logging")
	)
	flag.Parse()
	if err := checkWorkload(*lines, *rows); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Info("pprof listening", zap.String("addr", *pprofAddr))
			log.Warn("pprof stopped", zap.Error(http.ListenAndServe(*pprofAddr, nil)))
		}()
	}

	// ---- Query engine ----
	eng, err := openEngine(ctx, *lines, *rows, *delay, *seed)
	if err != nil {
		log.Fatal("query engine", zap.Error(err))
	}
	defer func() { _ = eng.Close() }()

	// ---- Diagnostics ----
	sink, closeSink, err := openSink(ctx, *spill, log)
	if err != nil {
		log.Fatal("diagnostics sink", zap.Error(err))
	}
	defer closeSink()
	sw := diagnostics.New(diagnostics.Options{Capacity: *spillCap, Sink: sink, Logger: log})

	// ---- Build cache ----
	reg := prometheus.NewRegistry()
	opt := cache.Options{
		MaxBytes:                *maxBytes,
		Partitions:              *partitions,
		MaxConcurrentRecomputes: *maxRecomp,
		Metrics:                 pmet.New(reg, "webbed", "cache", nil),
		Diagnostics:             sw,
		Logger:                  log,
		Normalize: func(_, _ string, v any) any {
			if s, ok := v.(string); ok {
				return strings.ToUpper(strings.TrimSpace(s))
			}
			return v
		},
	}
	switch *policy {
	case "lru":
		// nil => LRU by default
	case "largest":
		opt.Policy = largest.New[cache.ShardKey]()
	default:
		log.Fatal("unknown policy (use lru or largest)", zap.String("policy", *policy))
	}
	c := cache.New(opt)
	defer func() { _ = c.Close(context.Background()) }()

	// ---- Routes ----
	routes := route.NewRegistry(func(id string) { c.InvalidateRoute(id) })
	if *routesDir != "" {
		w, err := route.NewWatcher(*routesDir, routes, route.WatcherOptions{Logger: log})
		if err != nil {
			log.Fatal("route watcher", zap.Error(err))
		}
		defer func() { _ = w.Close() }()
	}
	if _, ok := routes.Get(benchRoute); !ok {
		routes.Replace(route.Definition{
			ID:      benchRoute,
			Enabled: true,
			Policy: cache.RoutePolicy{
				TTL:              *ttl,
				OrderBy:          []string{"day", "product"},
				InvariantFilters: []cache.InvariantFilter{{Param: "line", Column: "line"}},
				IndexColumns:     []string{"day", "product"},
			},
		})
	}

	// ---- Ops API ----
	if *httpAddr != "" {
		h := opsapi.NewRouter(opsapi.Config{Cache: c, Spillway: sw, Routes: routes, Gatherer: reg, Logger: log})
		go func() {
			log.Info("ops api listening", zap.String("addr", *httpAddr))
			log.Warn("ops api stopped", zap.Error(http.ListenAndServe(*httpAddr, h)))
		}()
	}

	// ---- Snapshot flags for goroutines ----
	linesMax := uint64(*lines - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var total, failures, bypass, options uint64
	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, linesMax)

			for runCtx.Err() == nil {
				atomic.AddUint64(&total, 1)
				line := lineName(int(localZipf.Uint64()))
				def, ok := routes.Get(benchRoute)
				if !ok || !def.Enabled {
					atomic.AddUint64(&bypass, 1)
					if _, err := eng.compute(line)(runCtx); err != nil && runCtx.Err() == nil {
						atomic.AddUint64(&failures, 1)
					}
					continue
				}

				params := cache.Params{
					// mixed case exercises Normalize
					"line":  strings.ToLower(line),
					"limit": strconv.Itoa(10 + localR.Intn(90)),
				}
				s, err := c.Fetch(runCtx, benchRoute, def.Policy, params, eng.compute(line))
				if err != nil {
					if !errors.Is(err, context.DeadlineExceeded) {
						atomic.AddUint64(&failures, 1)
						log.Debug("fetch failed", zap.Error(err))
					}
					continue
				}
				if localR.Intn(10) == 0 {
					cache.UniqueValues(s, "product", cache.Params{"day": "2024-01-15"})
					atomic.AddUint64(&options, 1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if err := sw.Flush(ctx); err != nil {
		log.Warn("final diagnostics flush", zap.Error(err))
	}

	// ---- Report ----
	st := c.Stats()
	ds := sw.Stats()
	ops := atomic.LoadUint64(&total)
	hitRate := 0.0
	if st.Hits+st.Misses > 0 {
		hitRate = float64(st.Hits) / float64(st.Hits+st.Misses) * 100
	}

	fmt.Printf("policy=%s maxbytes=%d partitions=%d workers=%d lines=%d dur=%v seed=%d\n",
		*policy, *maxBytes, st.Partitions, workersN, *lines, elapsed, seedBase)
	fmt.Printf("requests=%d (%.0f req/s)  failures=%d  bypass=%d  option-lookups=%d\n",
		ops, float64(ops)/elapsed.Seconds(), atomic.LoadUint64(&failures), atomic.LoadUint64(&bypass), atomic.LoadUint64(&options))
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", st.Hits, st.Misses, hitRate)
	fmt.Printf("shards=%d  bytes=%d  headroom=%d\n", st.Shards, st.Bytes, st.Headroom)
	fmt.Printf("diagnostics: recorded=%d spilled-records=%d dropped=%d failures=%d\n",
		ds.Recorded, ds.Records, ds.DroppedEvents, ds.Failures)
}

// checkWorkload rejects shapes the Zipf generator and engine cannot serve.
func checkWorkload(lines, rows int) error {
	if lines < 1 {
		return fmt.Errorf("-lines must be at least 1, got %d", lines)
	}
	if rows < 0 {
		return fmt.Errorf("-rows must not be negative, got %d", rows)
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openSink builds the diagnostics sink named by spec. Persistent sinks are
// wrapped in a circuit breaker.
func openSink(ctx context.Context, spec string, log *zap.Logger) (diagnostics.Sink, func(), error) {
	switch {
	case spec == "":
		return diagnostics.NewMemorySink(), func() {}, nil
	case strings.HasPrefix(spec, "sqlite:"):
		s, err := diagnostics.OpenSQLiteSink(ctx, strings.TrimPrefix(spec, "sqlite:"))
		if err != nil {
			return nil, nil, err
		}
		return diagnostics.NewBreakerSink(s, diagnostics.BreakerOptions{Logger: log}), func() { _ = s.Close() }, nil
	default:
		s, err := diagnostics.OpenFileSink(spec)
		if err != nil {
			return nil, nil, err
		}
		return diagnostics.NewBreakerSink(s, diagnostics.BreakerOptions{Logger: log}), func() { _ = s.Close() }, nil
	}
}
