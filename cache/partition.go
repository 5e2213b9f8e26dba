package cache

import (
	"sync"

	"github.com/isaacnfairplay/webbed-duck-sub001/internal/util"
)

// partition is an independent slice of the shard store with its own lock.
// Keys are spread across partitions by hash, so operations on unrelated
// keys rarely contend.
type partition struct {
	// ---- guarded by mu ----
	mu sync.RWMutex
	m  map[ShardKey]*Shard

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
}

func newPartition() *partition {
	return &partition{m: make(map[ShardKey]*Shard)}
}

// get returns the resident shard without judging staleness.
func (p *partition) get(k ShardKey) (*Shard, bool) {
	p.mu.RLock()
	s, ok := p.m[k]
	p.mu.RUnlock()
	return s, ok
}

// put installs s, returning the shard it replaced (if any).
func (p *partition) put(s *Shard) (old *Shard) {
	p.mu.Lock()
	old = p.m[s.key]
	p.m[s.key] = s
	p.mu.Unlock()
	return old
}

// remove deletes whatever shard is resident under k.
func (p *partition) remove(k ShardKey) (*Shard, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.m[k]
	if ok {
		delete(p.m, k)
	}
	return s, ok
}

// removeIf deletes k only if it still maps to s. A shard replaced by a
// newer put in the meantime is left alone (the newer put wins).
func (p *partition) removeIf(k ShardKey, s *Shard) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m[k] != s {
		return false
	}
	delete(p.m, k)
	return true
}

// each calls fn for every resident shard under the read lock.
// fn must not call back into the partition.
func (p *partition) each(fn func(*Shard)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.m {
		fn(s)
	}
}
