// Package opsapi serves the read-only observability surface of a cache:
// aggregate stats, per-shard sizes, the diagnostics buffer, persisted spill
// records and Prometheus metrics. It is meant for an internal port, not for end users.
package opsapi

import (
	"cmp"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isaacnfairplay/webbed-duck-sub001/cache"
	"github.com/isaacnfairplay/webbed-duck-sub001/diagnostics"
	"github.com/isaacnfairplay/webbed-duck-sub001/route"
)

// Config wires the router. Cache is required; the rest are optional and
// their endpoints answer 404 when absent.
type Config struct {
	Cache    *cache.Cache
	Spillway *diagnostics.Spillway
	Routes   *route.Registry
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type api struct {
	cfg Config
	log *zap.Logger
}

// NewRouter builds the handler.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	a := &api{cfg: cfg, log: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Route("/debug", func(r chi.Router) {
		r.Get("/cache", a.cacheStats)
		r.Get("/cache/shards", a.shards)
		r.Post("/cache/routes/{routeID}/invalidate", a.invalidate)
		r.Get("/diagnostics", a.diagnostics)
		r.Get("/diagnostics/records", a.spillRecords)
		r.Get("/routes", a.routes)
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Debug("ops request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (a *api) cacheStats(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.cfg.Cache.Stats())
}

type shardView struct {
	Key          string    `json:"key"`
	Route        string    `json:"route"`
	SizeBytes    int64     `json:"size_bytes"`
	CapturedAt   time.Time `json:"captured_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  uint64    `json:"access_count"`
}

// shards lists resident shards, largest first. ?route= filters, ?limit=
// truncates.
func (a *api) shards(w http.ResponseWriter, r *http.Request) {
	routeID := r.URL.Query().Get("route")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	stats := a.cfg.Cache.SnapshotSizes()
	out := make([]shardView, 0, len(stats))
	for _, st := range stats {
		if routeID != "" && st.Key.Route != routeID {
			continue
		}
		out = append(out, shardView{
			Key:          st.Key.String(),
			Route:        st.Key.Route,
			SizeBytes:    st.SizeBytes,
			CapturedAt:   st.CapturedAt.UTC(),
			LastAccessed: st.LastAccessed.UTC(),
			AccessCount:  st.AccessCount,
		})
	}
	slices.SortFunc(out, func(x, y shardView) int {
		if c := cmp.Compare(y.SizeBytes, x.SizeBytes); c != 0 {
			return c
		}
		return strings.Compare(x.Key, y.Key)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *api) invalidate(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	n := a.cfg.Cache.InvalidateRoute(routeID)
	a.writeJSON(w, http.StatusOK, map[string]any{"route": routeID, "invalidated": n})
}

func (a *api) diagnostics(w http.ResponseWriter, _ *http.Request) {
	if a.cfg.Spillway == nil {
		a.writeError(w, http.StatusNotFound, "diagnostics not configured")
		return
	}
	a.writeJSON(w, http.StatusOK, struct {
		Stats  diagnostics.Stats   `json:"stats"`
		Events []diagnostics.Event `json:"events"`
	}{a.cfg.Spillway.Stats(), a.cfg.Spillway.Events()})
}

// spillRecords lists persisted spill records, newest last. ?limit= keeps
// only the newest n.
func (a *api) spillRecords(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Spillway == nil {
		a.writeError(w, http.StatusNotFound, "diagnostics not configured")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := diagnostics.ReadRecords(r.Context(), a.cfg.Spillway.Sink())
	switch {
	case errors.Is(err, diagnostics.ErrNotReadable):
		a.writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		a.log.Warn("read spill records", zap.Error(err))
		a.writeError(w, http.StatusInternalServerError, "reading spill records failed")
		return
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	if recs == nil {
		recs = []diagnostics.SpillRecord{}
	}
	a.writeJSON(w, http.StatusOK, recs)
}

func (a *api) routes(w http.ResponseWriter, _ *http.Request) {
	if a.cfg.Routes == nil {
		a.writeError(w, http.StatusNotFound, "route registry not configured")
		return
	}
	type routeView struct {
		ID               string                  `json:"id"`
		Enabled          bool                    `json:"enabled"`
		TTL              string                  `json:"ttl"`
		InvariantFilters []cache.InvariantFilter `json:"invariant_filters"`
		IndexColumns     []string                `json:"index_columns"`
	}
	ids := a.cfg.Routes.IDs()
	out := make([]routeView, 0, len(ids))
	for _, id := range ids {
		def, ok := a.cfg.Routes.Get(id)
		if !ok {
			continue
		}
		out = append(out, routeView{
			ID:               def.ID,
			Enabled:          def.Enabled,
			TTL:              def.Policy.TTL.String(),
			InvariantFilters: def.Policy.InvariantFilters,
			IndexColumns:     def.Policy.IndexedColumns(),
		})
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("encode response", zap.Error(err))
	}
}

func (a *api) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}
