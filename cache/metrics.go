package cache

import "time"

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                                {}
func (NoopMetrics) Miss()                               {}
func (NoopMetrics) Recompute(time.Duration, int, error) {}
func (NoopMetrics) Evict(EvictReason)                   {}
func (NoopMetrics) Size(shards int, bytes int64)        {}

var _ Metrics = NoopMetrics{}
