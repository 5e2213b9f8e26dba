package cache

import (
	"context"
	"math/rand"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// benchmarkFetch runs Fetch against a warm cache; missPct of requests use
// a line outside the preloaded set and force a recompute.
func benchmarkFetch(b *testing.B, missPct int) {
	c := New(Options{SweepInterval: -1})
	b.Cleanup(func() { _ = c.Close(context.Background()) })

	pol := RoutePolicy{
		TTL:              time.Hour,
		InvariantFilters: []InvariantFilter{{Param: "line", Column: "line"}},
	}
	const warm = 1 << 12
	for i := 0; i < warm; i++ {
		line := "l" + strconv.Itoa(i)
		k, _ := Resolve("sales", pol, Params{"line": line})
		c.Put(k, rowsFor(line, 8), pol)
	}
	compute := func(context.Context) ([]Row, error) { return rowsFor("x", 8), nil }

	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		ctx := context.Background()
		for pb.Next() {
			n := r.Intn(warm)
			if r.Intn(100) < missPct {
				n += warm
			}
			_, _ = c.Fetch(ctx, "sales", pol, Params{"line": "l" + strconv.Itoa(n)}, compute)
		}
	})
}

func BenchmarkFetch_AllHits(b *testing.B) { benchmarkFetch(b, 0) }
func BenchmarkFetch_10Miss(b *testing.B)  { benchmarkFetch(b, 10) }

func BenchmarkResolve(b *testing.B) {
	pol := RoutePolicy{InvariantFilters: []InvariantFilter{
		{Param: "line", Column: "line"},
		{Param: "day", Column: "day"},
	}}
	params := Params{"line": "A", "day": 20240102, "limit": 10}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Resolve("sales", pol, params)
	}
}
