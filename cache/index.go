package cache

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"time"
)

// Index maps each index-eligible column to the sorted distinct values seen
// in a shard's rows. It is built once per capture and never updated.
// NULL (nil) values are not indexed.
type Index struct {
	cols []string
	vals map[string][]any
}

func buildIndex(rows []Row, cols []string) *Index {
	ix := &Index{cols: slices.Clone(cols), vals: make(map[string][]any, len(cols))}
	for _, c := range cols {
		ix.vals[c] = distinctColumn(rows, c, nil)
	}
	return ix
}

// distinctColumn returns the sorted distinct non-nil values of col among
// rows that satisfy keep (nil keeps all).
func distinctColumn(rows []Row, col string, keep func(Row) bool) []any {
	vals := make([]any, 0)
	for _, r := range rows {
		if keep != nil && !keep(r) {
			continue
		}
		if v, ok := r[col]; ok && v != nil {
			vals = append(vals, v)
		}
	}
	slices.SortStableFunc(vals, compareValues)
	return slices.CompactFunc(vals, func(a, b any) bool { return compareValues(a, b) == 0 })
}

// Columns lists indexed columns in declaration order.
func (ix *Index) Columns() []string {
	if ix == nil {
		return nil
	}
	return slices.Clone(ix.cols)
}

// Has reports whether col is indexed.
func (ix *Index) Has(col string) bool {
	if ix == nil {
		return false
	}
	_, ok := ix.vals[col]
	return ok
}

// Values returns a copy of the distinct values for col, or nil if col is
// not indexed.
func (ix *Index) Values(col string) []any {
	if ix == nil {
		return nil
	}
	v, ok := ix.vals[col]
	if !ok {
		return nil
	}
	return slices.Clone(v)
}

// value classes, in sort order
const (
	classBool = iota
	classNumber
	classString
	classTime
	classOther
)

func classify(v any) int {
	switch v.(type) {
	case bool:
		return classBool
	case string, []byte:
		return classString
	case time.Time:
		return classTime
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return classNumber
	case reflect.String:
		return classString
	}
	return classOther
}

// compareValues imposes a total order over opaque column values: booleans,
// then numbers (compared numerically across int/uint/float), then strings,
// then times, then anything else by its printed form.
func compareValues(a, b any) int {
	ca, cb := classify(a), classify(b)
	if ca != cb {
		return cmp.Compare(ca, cb)
	}
	switch ca {
	case classBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case classNumber:
		return compareNumbers(reflect.ValueOf(a), reflect.ValueOf(b))
	case classString:
		return cmp.Compare(asString(a), asString(b))
	case classTime:
		return a.(time.Time).Compare(b.(time.Time))
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return reflect.ValueOf(v).String()
}

func compareNumbers(a, b reflect.Value) int {
	ai, aInt := intOf(a)
	bi, bInt := intOf(b)
	if aInt && bInt {
		return cmp.Compare(ai, bi)
	}
	return cmp.Compare(floatOf(a), floatOf(b))
}

func intOf(v reflect.Value) (int64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u <= 1<<63-1 {
			return int64(u), true
		}
	}
	return 0, false
}

func floatOf(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(v.Uint())
	}
	return float64(v.Int())
}
