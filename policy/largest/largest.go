// Package largest ranks the biggest shards first, so a single eviction
// reclaims as much budget as possible. Among equal sizes the least recently
// used goes first.
package largest

import (
	"cmp"
	"slices"

	"github.com/isaacnfairplay/webbed-duck-sub001/policy"
)

type largestPolicy[K comparable] struct{}

// New returns a size-first Policy.
func New[K comparable]() policy.Policy[K] { return largestPolicy[K]{} }

// Rank implements policy.Policy.
func (largestPolicy[K]) Rank(cands []policy.Candidate[K]) {
	slices.SortStableFunc(cands, func(a, b policy.Candidate[K]) int {
		if c := cmp.Compare(b.SizeBytes, a.SizeBytes); c != 0 {
			return c
		}
		return cmp.Compare(a.LastAccess, b.LastAccess)
	})
}
