package cache

import (
	"errors"
	"math"
	"testing"
	"time"
)

var twoFilters = RoutePolicy{InvariantFilters: []InvariantFilter{
	{Param: "line", Column: "line"},
	{Param: "day", Column: "prod_date"},
}}

func TestResolve_IgnoresNonInvariantParams(t *testing.T) {
	t.Parallel()

	a, err := Resolve("sales", twoFilters, Params{"line": "A", "day": "2024-01-02", "limit": 10, "sort": "qty"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Resolve("sales", twoFilters, Params{"sort": "name", "day": "2024-01-02", "line": "A"})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("keys differ: %v vs %v", a, b)
	}
	if want := `sales?line=s:"A"&day=s:"2024-01-02"`; a.String() != want {
		t.Fatalf("want %s, got %s", want, a)
	}
}

func TestResolve_NoFiltersIsOneShard(t *testing.T) {
	t.Parallel()

	a, _ := Resolve("all", RoutePolicy{}, Params{"x": 1})
	b, _ := Resolve("all", RoutePolicy{}, nil)
	if a != b || a.String() != "all" {
		t.Fatalf("want single shard key, got %v and %v", a, b)
	}
}

func TestResolve_MissingParam(t *testing.T) {
	t.Parallel()

	_, err := Resolve("sales", twoFilters, Params{"line": "A"})
	if !errors.Is(err, ErrMissingInvariantParameter) {
		t.Fatalf("want ErrMissingInvariantParameter, got %v", err)
	}
	var me *MissingInvariantParameterError
	if !errors.As(err, &me) || me.Param != "day" || me.Route != "sales" {
		t.Fatalf("error must name route and param: %v", err)
	}
}

func TestResolve_ValueIdentity(t *testing.T) {
	t.Parallel()

	pol := RoutePolicy{InvariantFilters: []InvariantFilter{{Param: "v", Column: "v"}}}
	key := func(v any) ShardKey {
		t.Helper()
		k, err := Resolve("r", pol, Params{"v": v})
		if err != nil {
			t.Fatal(err)
		}
		return k
	}

	same := [][2]any{
		{int32(1), int64(1)},
		{uint8(7), 7},
		{2.0, 2},
		{[]byte("x"), "x"},
		{time.Date(2024, 1, 2, 3, 0, 0, 0, time.FixedZone("X", 3600)), time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)},
	}
	for _, pair := range same {
		if key(pair[0]) != key(pair[1]) {
			t.Errorf("%T(%v) and %T(%v) must share a shard", pair[0], pair[0], pair[1], pair[1])
		}
	}

	different := [][2]any{
		{1, "1"},
		{true, "true"},
		{nil, "null"},
		{1.5, 1},
	}
	for _, pair := range different {
		if key(pair[0]) == key(pair[1]) {
			t.Errorf("%T(%v) and %T(%v) must not share a shard", pair[0], pair[0], pair[1], pair[1])
		}
	}
}

func TestResolve_UnencodableValue(t *testing.T) {
	t.Parallel()

	pol := RoutePolicy{InvariantFilters: []InvariantFilter{{Param: "v", Column: "v"}}}
	for _, v := range []any{math.NaN(), make(chan int)} {
		if _, err := Resolve("r", pol, Params{"v": v}); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("%T: want ErrInvalidParameter, got %v", v, err)
		}
	}
}

func TestRoutePolicy_IndexedColumns(t *testing.T) {
	t.Parallel()

	p := RoutePolicy{
		InvariantFilters: []InvariantFilter{{Param: "l", Column: "line"}, {Param: "l2", Column: "line"}},
		IndexColumns:     []string{"product", "line", ""},
	}
	got := p.IndexedColumns()
	if len(got) != 2 || got[0] != "line" || got[1] != "product" {
		t.Fatalf("unexpected columns %v", got)
	}
	if col, ok := p.IsInvariant("l2"); !ok || col != "line" {
		t.Fatalf("IsInvariant(l2) = %q, %v", col, ok)
	}
	if _, ok := p.IsInvariant("product"); ok {
		t.Fatal("index column is not an invariant")
	}
}
