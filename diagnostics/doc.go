// Package diagnostics records cache lifecycle events (hits, misses,
// recomputes, evictions, expiries) in a bounded in-memory ring and spills the
// oldest half to an append-only Sink whenever the ring would overflow.
//
// Spills are written by a background flusher, so recording never waits on
// the sink. Every recorded event ends up in exactly one of four places: the
// live buffer, the queue of detached batches (at most Capacity events), a
// flushed SpillRecord, or the Stats.DroppedEvents count. Events are dropped
// when the sink rejects a batch or when the queue overflows; both cases set
// Stats.LastError and are logged. Flush and Close wait for the queue and
// return sink failures wrapped in ErrSinkUnavailable.
//
// Sinks
//
//   - MemorySink keeps records in memory (tests, ops read path).
//   - FileSink appends one JSON line per record; ReadFile tolerates a torn
//     final line.
//   - SQLiteSink inserts into an insert-only table.
//   - BreakerSink wraps any Sink with a circuit breaker so a dead sink fails
//     fast instead of stalling every spill.
package diagnostics
