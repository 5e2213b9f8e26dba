package route

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isaacnfairplay/webbed-duck-sub001/cache"
)

const salesTOML = `
id = "sales"

[cache]
ttl = "5m"
order_by = ["line", "day"]
index_columns = ["product"]

[[cache.invariant_filters]]
param = "line"
column = "line"

[[cache.invariant_filters]]
param = "day"
column = "prod_date"
`

const stockYAML = `
cache:
  enabled: false
  ttl: 30s
  invariant_filters:
    - param: site
`

func TestParsePolicy_TOML(t *testing.T) {
	def, err := ParsePolicy("ignored", []byte(salesTOML), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "sales", def.ID)
	assert.True(t, def.Enabled)
	assert.Equal(t, 5*time.Minute, def.Policy.TTL)
	assert.Equal(t, []string{"line", "day"}, def.Policy.OrderBy)
	assert.Equal(t, []cache.InvariantFilter{
		{Param: "line", Column: "line"},
		{Param: "day", Column: "prod_date"},
	}, def.Policy.InvariantFilters)
	assert.Equal(t, []string{"line", "prod_date", "product"}, def.Policy.IndexedColumns())
}

func TestParsePolicy_YAML(t *testing.T) {
	def, err := ParsePolicy("stock", []byte(stockYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "stock", def.ID)
	assert.False(t, def.Enabled)
	assert.Equal(t, 30*time.Second, def.Policy.TTL)
	// column defaults to the param name
	assert.Equal(t, []cache.InvariantFilter{{Param: "site", Column: "site"}}, def.Policy.InvariantFilters)
}

func TestParsePolicy_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad ttl":      "[cache]\nttl = \"soon\"\n",
		"negative ttl": "[cache]\nttl = \"-1s\"\n",
		"no param":     "[[cache.invariant_filters]]\ncolumn = \"x\"\n",
		"duplicate":    "[[cache.invariant_filters]]\nparam = \"a\"\n[[cache.invariant_filters]]\nparam = \"a\"\n",
		"syntax":       "[cache\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicy("r", []byte(doc), FormatTOML)
			require.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}

	_, err := ParsePolicy("", []byte(""), FormatTOML)
	require.ErrorIs(t, err, ErrInvalidPolicy, "missing id")
	_, err = ParsePolicy("r", nil, Format("ini"))
	require.ErrorIs(t, err, ErrInvalidPolicy, "unknown format")
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sales.toml", salesTOML)
	writeFile(t, dir, "stock.yml", stockYAML)
	writeFile(t, dir, "README.md", "not a policy")
	writeFile(t, dir, "broken.toml", "[cache\n")

	defs, err := LoadDir(dir)
	require.ErrorIs(t, err, ErrInvalidPolicy)
	require.Len(t, defs, 2)
	assert.Equal(t, "sales", defs[0].ID)
	assert.Equal(t, "stock", defs[1].ID, "id defaults to file name")
	assert.Equal(t, filepath.Join(dir, "stock.yml"), defs[1].Source)
}

func TestLoadDir_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.toml", salesTOML)
	writeFile(t, dir, "b.toml", salesTOML)

	defs, err := LoadDir(dir)
	require.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Len(t, defs, 1)
}

type changes struct {
	mu  sync.Mutex
	ids []string
}

func (c *changes) record(id string) {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

func (c *changes) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestRegistry_ReplaceAlwaysInvalidates(t *testing.T) {
	var ch changes
	reg := NewRegistry(ch.record)

	a := Definition{ID: "sales", Enabled: true, Policy: cache.RoutePolicy{TTL: time.Minute}}
	_, existed := reg.Replace(a)
	assert.False(t, existed)
	assert.Empty(t, ch.list(), "first install invalidates nothing")

	// a recompile with the same policy may still carry new SQL
	reg.Replace(a)
	assert.Equal(t, []string{"sales"}, ch.list())

	b := a
	b.Policy.TTL = time.Hour
	prev, existed := reg.Replace(b)
	assert.True(t, existed)
	assert.Equal(t, time.Minute, prev.Policy.TTL)
	assert.Equal(t, []string{"sales", "sales"}, ch.list())

	assert.True(t, reg.Remove("sales"))
	assert.False(t, reg.Remove("sales"))
	assert.Equal(t, []string{"sales", "sales", "sales"}, ch.list())
}

func TestRegistry_InvalidatesCache(t *testing.T) {
	c := cache.New(cache.Options{SweepInterval: -1})
	t.Cleanup(func() { _ = c.Close(t.Context()) })
	reg := NewRegistry(func(id string) { c.InvalidateRoute(id) })

	def, err := ParsePolicy("sales", []byte(salesTOML), FormatTOML)
	require.NoError(t, err)
	reg.Replace(def)

	k, err := cache.Resolve("sales", def.Policy, cache.Params{"line": "A", "day": "2024-01-02"})
	require.NoError(t, err)
	c.Put(k, []cache.Row{{"line": "A"}}, def.Policy)
	require.Equal(t, 1, c.Len())

	// same policy, reloaded: the route's query may have changed
	reg.Replace(def)
	assert.Equal(t, 0, c.Len(), "recompiled route must drop its shards")
}

func TestRegistry_Sync(t *testing.T) {
	var ch changes
	reg := NewRegistry(ch.record)
	reg.Replace(Definition{ID: "old"})
	reg.Replace(Definition{ID: "kept"})

	reg.Sync([]Definition{{ID: "kept"}, {ID: "new"}})
	assert.Equal(t, []string{"kept", "new"}, reg.IDs())
	assert.Equal(t, []string{"kept", "old"}, ch.list())
}

func TestWatcher_ReloadsAndRemoves(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sales.toml", salesTOML)

	var ch changes
	reg := NewRegistry(ch.record)
	w, err := NewWatcher(dir, reg, WatcherOptions{Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	def, ok := reg.Get("sales")
	require.True(t, ok)
	require.Equal(t, 5*time.Minute, def.Policy.TTL)

	writeFile(t, dir, "sales.toml", "id = \"sales\"\n[cache]\nttl = \"1m\"\n")
	require.Eventually(t, func() bool {
		d, ok := reg.Get("sales")
		return ok && d.Policy.TTL == time.Minute
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, ch.list(), "sales")

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, ok := reg.Get("sales")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_KeepsLastGoodDefinition(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sales.toml", salesTOML)

	reg := NewRegistry(nil)
	w, err := NewWatcher(dir, reg, WatcherOptions{Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	writeFile(t, dir, "sales.toml", "[cache\n")
	time.Sleep(100 * time.Millisecond)

	def, ok := reg.Get("sales")
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, def.Policy.TTL)
}
