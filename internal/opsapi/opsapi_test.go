package opsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isaacnfairplay/webbed-duck-sub001/cache"
	"github.com/isaacnfairplay/webbed-duck-sub001/diagnostics"
	"github.com/isaacnfairplay/webbed-duck-sub001/metrics/prom"
	"github.com/isaacnfairplay/webbed-duck-sub001/route"
)

type fixture struct {
	cache *cache.Cache
	sw    *diagnostics.Spillway
	h     http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	sw := diagnostics.New(diagnostics.Options{Capacity: 64})
	c := cache.New(cache.Options{
		MaxBytes:      1 << 20,
		SweepInterval: -1,
		Diagnostics:   sw,
		Metrics:       prom.New(reg, "webbed", "cache", nil),
	})
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	routes := route.NewRegistry(func(id string) { c.InvalidateRoute(id) })
	routes.Replace(route.Definition{ID: "sales", Enabled: true, Policy: cache.RoutePolicy{TTL: time.Minute}})

	return &fixture{cache: c, sw: sw, h: NewRouter(Config{Cache: c, Spillway: sw, Routes: routes, Gatherer: reg})}
}

func (f *fixture) fetch(t *testing.T, routeID, line string, rows int) {
	t.Helper()
	pol := cache.RoutePolicy{TTL: time.Minute, InvariantFilters: []cache.InvariantFilter{{Param: "line", Column: "line"}}}
	_, err := f.cache.Fetch(context.Background(), routeID, pol, cache.Params{"line": line},
		func(context.Context) ([]cache.Row, error) {
			out := make([]cache.Row, rows)
			for i := range out {
				out[i] = cache.Row{"line": line, "n": i}
			}
			return out, nil
		})
	require.NoError(t, err)
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestCacheStats(t *testing.T) {
	f := newFixture(t)
	f.fetch(t, "sales", "A", 3)
	f.fetch(t, "sales", "A", 3)

	rec := f.do(t, http.MethodGet, "/debug/cache")
	require.Equal(t, http.StatusOK, rec.Code)

	var st cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Shards)
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1<<20), st.MaxBytes)
	assert.Equal(t, st.MaxBytes-st.Bytes, st.Headroom)
}

func TestShards_SortedAndFiltered(t *testing.T) {
	f := newFixture(t)
	f.fetch(t, "sales", "small", 1)
	f.fetch(t, "sales", "big", 50)
	f.fetch(t, "stock", "A", 10)

	rec := f.do(t, http.MethodGet, "/debug/cache/shards?route=sales")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []shardView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Contains(t, out[0].Key, "big")
	assert.Greater(t, out[0].SizeBytes, out[1].SizeBytes)

	rec = f.do(t, http.MethodGet, "/debug/cache/shards?limit=1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 1)

	rec = f.do(t, http.MethodGet, "/debug/cache/shards?limit=-3")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t)
	f.fetch(t, "sales", "A", 1)
	f.fetch(t, "sales", "B", 1)

	rec := f.do(t, http.MethodPost, "/debug/cache/routes/sales/invalidate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"route":"sales","invalidated":2}`, rec.Body.String())
	assert.Equal(t, 0, f.cache.Len())
}

func TestDiagnostics(t *testing.T) {
	f := newFixture(t)
	f.fetch(t, "sales", "A", 1)

	rec := f.do(t, http.MethodGet, "/debug/diagnostics")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Stats  diagnostics.Stats `json:"stats"`
		Events []struct {
			Kind string `json:"kind"`
			Key  string `json:"key"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 64, body.Stats.Capacity)
	require.Len(t, body.Events, 2)
	assert.Equal(t, "miss", body.Events[0].Kind)
	assert.Equal(t, "recompute", body.Events[1].Kind)
}

func TestSpillRecords(t *testing.T) {
	f := newFixture(t)
	f.fetch(t, "sales", "A", 1)
	require.NoError(t, f.sw.Flush(context.Background()))
	f.fetch(t, "sales", "B", 1)
	require.NoError(t, f.sw.Flush(context.Background()))

	rec := f.do(t, http.MethodGet, "/debug/diagnostics/records")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []diagnostics.SpillRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Len(t, recs[0].Events, 2)
	assert.Contains(t, recs[1].Events[0].Key, "B")

	rec = f.do(t, http.MethodGet, "/debug/diagnostics/records?limit=1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Events[0].Key, "B")

	rec = f.do(t, http.MethodGet, "/debug/diagnostics/records?limit=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type opaqueSink struct{}

func (opaqueSink) Append(context.Context, diagnostics.SpillRecord) error { return nil }

func TestSpillRecords_OpaqueSink(t *testing.T) {
	sw := diagnostics.New(diagnostics.Options{Sink: diagnostics.NewBreakerSink(opaqueSink{}, diagnostics.BreakerOptions{})})
	t.Cleanup(func() { _ = sw.Close(context.Background()) })
	c := cache.New(cache.Options{SweepInterval: -1})
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	rec := httptest.NewRecorder()
	NewRouter(Config{Cache: c, Spillway: sw}).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/debug/diagnostics/records", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutesAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.fetch(t, "sales", "A", 1)

	rec := f.do(t, http.MethodGet, "/debug/routes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"sales"`)
	assert.Contains(t, rec.Body.String(), `"ttl":"1m0s"`)

	rec = f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "webbed_cache_misses_total 1"))
}

func TestOptionalEndpoints(t *testing.T) {
	c := cache.New(cache.Options{SweepInterval: -1})
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	h := NewRouter(Config{Cache: c})

	for _, path := range []string{"/debug/diagnostics", "/debug/diagnostics/records", "/debug/routes", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
