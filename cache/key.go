package cache

import (
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// ShardKey identifies one shard: a route plus the canonical encoding of its
// invariant (param, value) pairs in declaration order. It is comparable and
// safe to use as a map key.
type ShardKey struct {
	Route  string
	Values string
}

// String renders "route" or "route?p=v&q=w".
func (k ShardKey) String() string {
	if k.Values == "" {
		return k.Route
	}
	return k.Route + "?" + k.Values
}

// Resolve derives the shard key for a request. It is pure: only the
// parameters named by p.InvariantFilters are read, so the presence or order
// of any other parameter cannot change the result. An empty filter list
// maps every request of the route to a single shard.
func Resolve(routeID string, p RoutePolicy, params Params) (ShardKey, error) {
	if len(p.InvariantFilters) == 0 {
		return ShardKey{Route: routeID}, nil
	}
	var b strings.Builder
	for i, f := range p.InvariantFilters {
		v, ok := params[f.Param]
		if !ok {
			return ShardKey{}, &MissingInvariantParameterError{Route: routeID, Param: f.Param}
		}
		enc, err := encodeValue(v)
		if err != nil {
			return ShardKey{}, fmt.Errorf("%w: route %q param %q: %v", ErrInvalidParameter, routeID, f.Param, err)
		}
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(f.Param)
		b.WriteByte('=')
		b.WriteString(enc)
	}
	return ShardKey{Route: routeID, Values: b.String()}, nil
}

// encodeValue produces a type-tagged JSON encoding so that 1 and "1" land in
// different shards while int32(1) and int64(1) land in the same one.
func encodeValue(v any) (string, error) {
	tag, cv := canonicalValue(v)
	data, err := json.Marshal(cv)
	if err != nil {
		return "", err
	}
	return tag + ":" + string(data), nil
}

func canonicalValue(v any) (string, any) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case string:
		return stringValue(x)
	case bool:
		return "b", x
	case time.Time:
		return "t", x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return stringValue(string(x))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "n", rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			return "n", int64(u)
		}
		return "n", u
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return "n", int64(f)
		}
		return "n", f
	case reflect.String:
		return stringValue(rv.String())
	}
	return fmt.Sprintf("%T", v), v
}

// stringValue hex-encodes invalid UTF-8, which JSON would otherwise
// collapse to U+FFFD.
func stringValue(s string) (string, any) {
	if utf8.ValidString(s) {
		return "s", s
	}
	return "x", hex.EncodeToString([]byte(s))
}
