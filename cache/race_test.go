package cache

import (
	"context"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"
)

// A mixed workload of concurrent Fetch/Put/Remove/Sweep/Evict/Invalidate on
// random keys under a tight budget. Should pass under `-race` without
// detector reports, and the aggregates must settle to what is resident.
func TestRace_MixedWorkload(t *testing.T) {
	c := New(Options{
		MaxBytes:   64 << 10,
		Partitions: 16,
		// background sweeper on, to race with the foreground
		SweepInterval: 5 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	pol := RoutePolicy{
		TTL:              time.Duration(5+rand.Intn(10)) * time.Millisecond,
		InvariantFilters: []InvariantFilter{{Param: "line", Column: "line"}},
		IndexColumns:     []string{"product"},
	}
	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 2_000
	deadline := time.Now().Add(1 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				line := "l" + strconv.Itoa(r.Intn(keyspace))
				switch n := r.Intn(100); {
				case n < 3:
					k, _ := Resolve("sales", pol, Params{"line": line})
					c.Remove(k)
				case n < 5:
					c.Sweep()
				case n < 7:
					c.Evict()
				case n < 8:
					c.InvalidateRoute("sales")
				case n < 15:
					k, _ := Resolve("sales", pol, Params{"line": line})
					c.Put(k, rowsFor(line, 1+r.Intn(4)), pol)
				default:
					s, err := c.Fetch(context.Background(), "sales", pol, Params{"line": line},
						func(context.Context) ([]Row, error) { return rowsFor(line, 2), nil })
					if err != nil {
						t.Errorf("fetch: %v", err)
						return
					}
					_ = UniqueValues(s, "product", Params{"line": line})
				}
			}
		}(w)
	}
	wg.Wait()
	_ = c.Close(context.Background())

	var n int
	var bytes int64
	for _, st := range c.SnapshotSizes() {
		n++
		bytes += st.SizeBytes
	}
	if n != c.Len() || bytes != c.SizeBytes() {
		t.Fatalf("aggregates drifted: snapshot=%d/%d counters=%d/%d", n, bytes, c.Len(), c.SizeBytes())
	}
}
