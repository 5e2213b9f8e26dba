package cache

import (
	"sync/atomic"
	"time"
)

// Shard is one captured row set. Once installed it is immutable except for
// its access bookkeeping; a recomputation installs a new *Shard rather than
// patching this one. Callers must treat Rows() as read-only.
type Shard struct {
	key        ShardKey
	rows       []Row
	capturedAt int64 // UnixNano
	ttl        time.Duration
	size       int64
	index      *Index

	// bookkeeping, safe under concurrent reads
	lastAccess atomic.Int64
	accesses   atomic.Uint64
}

// Key returns the shard's key.
func (s *Shard) Key() ShardKey { return s.key }

// Rows returns the captured rows. The slice is shared; do not modify it.
func (s *Shard) Rows() []Row { return s.rows }

// Len returns the number of captured rows.
func (s *Shard) Len() int { return len(s.rows) }

// CapturedAt is the time of the recomputation that produced this shard.
func (s *Shard) CapturedAt() time.Time { return time.Unix(0, s.capturedAt) }

// TTL is the policy TTL copied at capture time.
func (s *Shard) TTL() time.Duration { return s.ttl }

// SizeBytes is the size estimate used for budget accounting.
func (s *Shard) SizeBytes() int64 { return s.size }

// Index is the unique-value index built at capture time.
func (s *Shard) Index() *Index { return s.index }

// LastAccessed returns the time of the most recent access.
func (s *Shard) LastAccessed() time.Time { return time.Unix(0, s.lastAccess.Load()) }

// AccessCount returns the number of accesses (Get calls and Fetch hits).
func (s *Shard) AccessCount() uint64 { return s.accesses.Load() }

// Age is the time elapsed since capture.
func (s *Shard) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixNano() - s.capturedAt)
}

// IsStale reports whether now - captured_at >= ttl. A non-positive ttl
// never goes stale.
func IsStale(s *Shard, now time.Time) bool {
	return s.staleAt(now.UnixNano())
}

func (s *Shard) staleAt(now int64) bool {
	if s.ttl <= 0 {
		return false
	}
	return now-s.capturedAt >= int64(s.ttl)
}

func (s *Shard) touch(now int64) {
	s.lastAccess.Store(now)
	s.accesses.Add(1)
}
