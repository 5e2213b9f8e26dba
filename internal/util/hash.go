// Package util contains internal helpers (hashing, partitioning, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import "github.com/cespare/xxhash/v2"

// HashKey hashes a shard key's route and canonical value encoding into one
// 64-bit value. A separator byte keeps ("ab","c") and ("a","bc") apart.
func HashKey(route, values string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(route)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(values)
	return d.Sum64()
}
