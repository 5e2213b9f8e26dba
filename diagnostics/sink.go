package diagnostics

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSinkUnavailable wraps every failure to persist a SpillRecord.
var ErrSinkUnavailable = errors.New("diagnostics: sink unavailable")

// ErrBacklogFull is recorded in Stats.LastError when queued batches are
// dropped because the sink is not keeping up.
var ErrBacklogFull = errors.New("diagnostics: spill backlog full")

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("diagnostics: spillway closed")

// SpillRecord is one flushed batch. It carries its own id, flush time and
// events so a partial write of the sink never corrupts earlier records.
type SpillRecord struct {
	ID        string    `json:"id"`
	FlushedAt time.Time `json:"flushed_at"`
	Events    []Event   `json:"events"`
}

// Sink persists spill records append-only.
//
// Contract:
//   - Append must not modify previously appended records.
//   - Implementations must be safe for concurrent use, though the Spillway
//     serializes its own calls.
type Sink interface {
	Append(ctx context.Context, rec SpillRecord) error
}

// MemorySink keeps records in memory.
type MemorySink struct {
	mu   sync.Mutex
	recs []SpillRecord
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Append implements Sink.
func (m *MemorySink) Append(_ context.Context, rec SpillRecord) error {
	m.mu.Lock()
	m.recs = append(m.recs, rec)
	m.mu.Unlock()
	return nil
}

// Records returns a copy of everything appended so far.
func (m *MemorySink) Records() []SpillRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SpillRecord, len(m.recs))
	copy(out, m.recs)
	return out
}

var _ Sink = (*MemorySink)(nil)

// ErrNotReadable is returned by ReadRecords for sinks that cannot list what
// they stored.
var ErrNotReadable = errors.New("diagnostics: sink does not expose records")

// ReadRecords lists the records persisted by sink, oldest first. Wrapping
// sinks are unwrapped.
func ReadRecords(ctx context.Context, sink Sink) ([]SpillRecord, error) {
	for {
		switch s := sink.(type) {
		case *MemorySink:
			return s.Records(), nil
		case *SQLiteSink:
			return s.Records(ctx)
		case *FileSink:
			return ReadFile(s.Path())
		case interface{ Unwrap() Sink }:
			sink = s.Unwrap()
		default:
			return nil, ErrNotReadable
		}
	}
}
