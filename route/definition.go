// Package route loads per-route cache policies from TOML or YAML files and
// keeps them in a registry that invalidates cached shards whenever a route
// is recompiled.
package route

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/isaacnfairplay/webbed-duck-sub001/cache"
)

// ErrInvalidPolicy is wrapped by every validation failure.
var ErrInvalidPolicy = errors.New("route: invalid cache policy")

// Format is a policy file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return "", false
}

// Definition is one compiled route as far as the cache is concerned.
type Definition struct {
	ID      string
	Enabled bool
	Policy  cache.RoutePolicy
	// Source is the file the definition was loaded from, if any.
	Source string
}

// fileSchema mirrors the on-disk layout:
//
//	id = "sales"
//	[cache]
//	ttl = "5m"
//	order_by = ["line"]
//	index_columns = ["product"]
//	[[cache.invariant_filters]]
//	param = "line"
//	column = "line"
type fileSchema struct {
	ID    string      `toml:"id" yaml:"id"`
	Cache cacheSchema `toml:"cache" yaml:"cache"`
}

type cacheSchema struct {
	Enabled          *bool                   `toml:"enabled" yaml:"enabled"`
	TTL              string                  `toml:"ttl" yaml:"ttl"`
	OrderBy          []string                `toml:"order_by" yaml:"order_by"`
	InvariantFilters []cache.InvariantFilter `toml:"invariant_filters" yaml:"invariant_filters"`
	IndexColumns     []string                `toml:"index_columns" yaml:"index_columns"`
}

// ParsePolicy decodes and validates one policy document. id is used when
// the document does not name itself.
func ParsePolicy(id string, data []byte, format Format) (Definition, error) {
	var fs fileSchema
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &fs); err != nil {
			return Definition{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &fs); err != nil {
			return Definition{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
		}
	default:
		return Definition{}, fmt.Errorf("%w: unknown format %q", ErrInvalidPolicy, format)
	}

	def := Definition{ID: id, Enabled: true}
	if fs.ID != "" {
		def.ID = fs.ID
	}
	if def.ID == "" {
		return Definition{}, fmt.Errorf("%w: route has no id", ErrInvalidPolicy)
	}
	if fs.Cache.Enabled != nil {
		def.Enabled = *fs.Cache.Enabled
	}

	if fs.Cache.TTL != "" {
		ttl, err := time.ParseDuration(fs.Cache.TTL)
		if err != nil {
			return Definition{}, fmt.Errorf("%w: route %q: ttl: %v", ErrInvalidPolicy, def.ID, err)
		}
		if ttl < 0 {
			return Definition{}, fmt.Errorf("%w: route %q: negative ttl", ErrInvalidPolicy, def.ID)
		}
		def.Policy.TTL = ttl
	}

	seen := make(map[string]struct{}, len(fs.Cache.InvariantFilters))
	for _, f := range fs.Cache.InvariantFilters {
		if f.Param == "" {
			return Definition{}, fmt.Errorf("%w: route %q: invariant filter without param", ErrInvalidPolicy, def.ID)
		}
		if _, dup := seen[f.Param]; dup {
			return Definition{}, fmt.Errorf("%w: route %q: duplicate invariant param %q", ErrInvalidPolicy, def.ID, f.Param)
		}
		seen[f.Param] = struct{}{}
		if f.Column == "" {
			f.Column = f.Param
		}
		def.Policy.InvariantFilters = append(def.Policy.InvariantFilters, f)
	}
	def.Policy.OrderBy = slices.Clone(fs.Cache.OrderBy)
	def.Policy.IndexColumns = slices.Clone(fs.Cache.IndexColumns)
	return def, nil
}

// LoadFile reads and parses a policy file. The route id defaults to the
// file name without extension.
func LoadFile(path string) (Definition, error) {
	format, ok := FormatOf(path)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s: unsupported extension", ErrInvalidPolicy, path)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Definition{}, fmt.Errorf("read %s: %w", path, err)
	}
	base := filepath.Base(path)
	def, err := ParsePolicy(strings.TrimSuffix(base, filepath.Ext(base)), data, format)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	def.Source = path
	return def, nil
}

// LoadDir loads every policy file directly under dir, sorted by id. Files
// with other extensions are skipped. Parse failures are joined; the valid
// definitions are still returned.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var (
		defs []Definition
		errs []error
		ids  = make(map[string]string)
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatOf(e.Name()); !ok {
			continue
		}
		path := filepath.Join(dir, e.Name())
		def, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := ids[def.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: route %q defined in both %s and %s", ErrInvalidPolicy, def.ID, prev, path))
			continue
		}
		ids[def.ID] = path
		defs = append(defs, def)
	}
	slices.SortFunc(defs, func(a, b Definition) int { return strings.Compare(a.ID, b.ID) })
	return defs, errors.Join(errs...)
}
