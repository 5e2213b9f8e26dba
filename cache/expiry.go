package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/isaacnfairplay/webbed-duck-sub001/diagnostics"
	"github.com/isaacnfairplay/webbed-duck-sub001/policy"
)

// Sweep removes every stale shard and returns how many were removed.
// A shard replaced by a fresh put while the sweep runs is left alone.
func (c *Cache) Sweep() int {
	now := c.nowNano()
	removed := 0
	for _, p := range c.parts {
		var stale []*Shard
		p.each(func(s *Shard) {
			if s.staleAt(now) {
				stale = append(stale, s)
			}
		})
		for _, s := range stale {
			if !p.removeIf(s.key, s) {
				continue
			}
			c.forget(s)
			removed++
			c.opt.Metrics.Evict(EvictTTL)
			c.emit(diagnostics.Expiry(s.key.String(), time.Duration(now-s.capturedAt)))
		}
	}
	return removed
}

// Evict runs one eviction pass if the cache is over MaxBytes: victims are
// ranked by Options.Policy and removed until the aggregate size is within
// budget or MaxVictimsPerPass is reached. If another pass is already
// running, Evict returns 0 immediately.
func (c *Cache) Evict() int {
	if !c.overBudget() {
		return 0
	}
	if !c.evictMu.TryLock() {
		return 0
	}
	defer c.evictMu.Unlock()

	now := c.nowNano()
	var cands []policy.Candidate[ShardKey]
	byKey := make(map[ShardKey]*Shard)
	for _, p := range c.parts {
		p.each(func(s *Shard) {
			byKey[s.key] = s
			cands = append(cands, policy.Candidate[ShardKey]{
				Key:         s.key,
				SizeBytes:   s.size,
				CapturedAt:  s.capturedAt,
				LastAccess:  s.lastAccess.Load(),
				AccessCount: s.accesses.Load(),
			})
		})
	}
	c.opt.Policy.Rank(cands)

	evicted := 0
	for _, cand := range cands {
		if !c.overBudget() || evicted >= c.opt.MaxVictimsPerPass {
			break
		}
		s := byKey[cand.Key]
		if !c.partFor(cand.Key).removeIf(cand.Key, s) {
			// replaced or removed since the snapshot; the newer state wins
			continue
		}
		c.forget(s)
		evicted++
		c.opt.Metrics.Evict(EvictMemoryPressure)
		c.emit(diagnostics.Eviction(s.key.String(), diagnostics.ReasonMemoryPressure,
			time.Duration(now-s.capturedAt), s.AccessCount()))
	}
	if evicted > 0 {
		c.log.Debug("eviction pass",
			zap.Int("victims", evicted),
			zap.Int64("bytes", c.SizeBytes()),
			zap.Int64("budget", c.opt.MaxBytes))
	}
	return evicted
}

func (c *Cache) sweepLoop(every time.Duration) {
	defer c.sweepers.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			expired := c.Sweep()
			evicted := c.Evict()
			if expired > 0 || evicted > 0 {
				c.log.Debug("sweep", zap.Int("expired", expired), zap.Int("evicted", evicted))
			}
		}
	}
}
