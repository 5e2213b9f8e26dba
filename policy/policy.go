// Package policy defines how eviction victims are chosen under memory
// pressure. The cache takes a snapshot of resident shards, hands it to a
// Policy for ranking, and removes candidates from the front of the ranked
// slice until it is back under budget.
package policy

// Candidate is a point-in-time view of one resident shard.
// All timestamps are UnixNano.
type Candidate[K comparable] struct {
	Key         K
	SizeBytes   int64
	CapturedAt  int64
	LastAccess  int64
	AccessCount uint64
}

// Policy orders candidates so that the first element is the first to evict.
//
// Rank is called without any cache lock held and may reorder cands in place.
// Implementations must be safe for concurrent use.
type Policy[K comparable] interface {
	Rank(cands []Candidate[K])
}

// Func adapts an ordinary function to Policy.
type Func[K comparable] func(cands []Candidate[K])

// Rank calls f.
func (f Func[K]) Rank(cands []Candidate[K]) { f(cands) }
