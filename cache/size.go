package cache

import (
	"reflect"
	"time"
)

const (
	rowOverhead   = 48 // map header + slice slot
	entryOverhead = 16 // key string header share + interface word
)

// EstimateRows is the default SizeOf. It is an estimate for budget
// accounting, not an exact heap measurement.
func EstimateRows(rows []Row) int64 {
	var n int64
	for _, r := range rows {
		n += rowOverhead
		for k, v := range r {
			n += entryOverhead + int64(len(k)) + estimateValue(v)
		}
	}
	return n
}

func estimateValue(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case string:
		return 16 + int64(len(x))
	case []byte:
		return 24 + int64(len(x))
	case time.Time:
		return 24
	case bool:
		return 1
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var n int64 = 24
		for i := 0; i < rv.Len(); i++ {
			n += estimateValue(rv.Index(i).Interface())
		}
		return n
	case reflect.Map:
		var n int64 = 48
		it := rv.MapRange()
		for it.Next() {
			n += entryOverhead + estimateValue(it.Key().Interface()) + estimateValue(it.Value().Interface())
		}
		return n
	case reflect.String:
		return 16 + int64(rv.Len())
	}
	return 8
}
