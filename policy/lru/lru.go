// Package lru implements least-recently-used victim ranking with access
// frequency as the tie breaker.
package lru

import (
	"cmp"
	"slices"

	"github.com/isaacnfairplay/webbed-duck-sub001/policy"
)

type lruPolicy[K comparable] struct{}

// New returns the default policy: oldest LastAccess first, ties broken by
// lower AccessCount. Remaining ties keep snapshot order.
func New[K comparable]() policy.Policy[K] { return lruPolicy[K]{} }

// Rank implements policy.Policy.
func (lruPolicy[K]) Rank(cands []policy.Candidate[K]) {
	slices.SortStableFunc(cands, func(a, b policy.Candidate[K]) int {
		if c := cmp.Compare(a.LastAccess, b.LastAccess); c != 0 {
			return c
		}
		return cmp.Compare(a.AccessCount, b.AccessCount)
	})
}
