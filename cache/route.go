package cache

import (
	"context"
	"slices"
	"time"
)

// Row is one output record of a route query. The cache treats it as opaque
// beyond column names and comparable values.
type Row map[string]any

// Params is a normalized request parameter mapping.
type Params map[string]any

// ComputeFunc produces the rows for a shard on a miss. It is supplied by
// the caller (typically the query engine) and must honor ctx.
type ComputeFunc func(ctx context.Context) ([]Row, error)

// InvariantFilter ties a request parameter to the output column it pins.
type InvariantFilter struct {
	Param  string `json:"param" toml:"param" yaml:"param"`
	Column string `json:"column" toml:"column" yaml:"column"`
}

// RoutePolicy is the per-route cache configuration. It is owned by route
// compilation and treated as read-only here.
type RoutePolicy struct {
	// TTL after which a shard is stale. Zero falls back to Options.DefaultTTL;
	// if that is zero too, shards never go stale.
	TTL time.Duration
	// OrderBy is informational; ordering rows is the query engine's job.
	OrderBy []string
	// InvariantFilters partition storage, in declaration order.
	InvariantFilters []InvariantFilter
	// IndexColumns are extra columns to index for unique-value lookups.
	IndexColumns []string
}

// IsInvariant reports whether param is declared as an invariant filter and,
// if so, which column it pins.
func (p RoutePolicy) IsInvariant(param string) (column string, ok bool) {
	for _, f := range p.InvariantFilters {
		if f.Param == param {
			return f.Column, true
		}
	}
	return "", false
}

// IndexedColumns lists invariant columns followed by extra index columns,
// without duplicates.
func (p RoutePolicy) IndexedColumns() []string {
	out := make([]string, 0, len(p.InvariantFilters)+len(p.IndexColumns))
	for _, f := range p.InvariantFilters {
		if f.Column != "" && !slices.Contains(out, f.Column) {
			out = append(out, f.Column)
		}
	}
	for _, c := range p.IndexColumns {
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
