package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCapacity is used when Options.Capacity is not positive.
const DefaultCapacity = 1024

// Options configures a Spillway. Zero values are safe:
//   - Capacity <= 0   => DefaultCapacity (minimum 2)
//   - nil Sink        => a MemorySink
//   - nil Logger      => zap.NewNop()
//   - nil Now         => time.Now
//   - FlushTimeout<=0 => 5s
type Options struct {
	Capacity     int
	Sink         Sink
	Logger       *zap.Logger
	Now          func() time.Time
	FlushTimeout time.Duration
}

// Stats is a snapshot of spillway counters. Pending counts events detached
// from the ring that the sink has not accepted or rejected yet.
type Stats struct {
	Capacity      int    `json:"capacity"`
	Buffered      int    `json:"buffered"`
	Pending       int    `json:"pending"`
	Recorded      uint64 `json:"recorded"`
	Records       uint64 `json:"records"`
	FlushedEvents uint64 `json:"flushed_events"`
	DroppedEvents uint64 `json:"dropped_events"`
	Failures      uint64 `json:"failures"`
	LastError     string `json:"last_error,omitempty"`
}

// Spillway is the bounded diagnostics buffer. It has its own locks and is
// independent of any cache state, so any component may record into it.
// Spills triggered by Record are written by a background flusher; Record
// never waits on the sink.
type Spillway struct {
	opt Options

	// ---- guarded by mu ----
	mu      sync.Mutex
	buf     []Event // ring storage, len == capacity
	head    int     // index of the oldest event
	n       int     // number of buffered events
	pending [][]Event
	closed  bool
	stats   Stats

	// flushMu serializes sink appends so records land in FIFO order.
	flushMu sync.Mutex

	kick    chan struct{} // cap 1, wakes the flusher
	done    chan struct{}
	flusher sync.WaitGroup
}

// New constructs a Spillway and starts its flusher. Close stops it.
func New(opt Options) *Spillway {
	if opt.Capacity <= 0 {
		opt.Capacity = DefaultCapacity
	}
	if opt.Capacity < 2 {
		opt.Capacity = 2
	}
	if opt.Sink == nil {
		opt.Sink = NewMemorySink()
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.FlushTimeout <= 0 {
		opt.FlushTimeout = 5 * time.Second
	}
	s := &Spillway{
		opt:   opt,
		buf:   make([]Event, opt.Capacity),
		stats: Stats{Capacity: opt.Capacity},
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	s.flusher.Add(1)
	go s.flushLoop()
	return s
}

// Record appends ev. If the buffer is full, the oldest Capacity/2 events
// are first detached and queued for the flusher as one SpillRecord. At most
// Capacity events wait for the sink; beyond that the oldest queued batch is
// dropped and counted. ev itself is always buffered. The only error is
// ErrClosed.
func (s *Spillway) Record(ev Event) error {
	if ev.At.IsZero() {
		ev.At = s.opt.Now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	spill, dropped := false, 0
	if s.n == len(s.buf) {
		dropped = s.enqueueLocked(s.detachLocked(len(s.buf)/2), true)
		spill = true
	}
	s.buf[(s.head+s.n)%len(s.buf)] = ev
	s.n++
	s.stats.Recorded++
	s.mu.Unlock()

	if dropped > 0 {
		s.opt.Logger.Warn("diagnostics backlog full, dropping oldest batch", zap.Int("events", dropped))
	}
	if spill {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush spills everything currently buffered as one record and waits until
// every queued record has been handed to the sink. Sink failures are
// returned wrapped in ErrSinkUnavailable.
func (s *Spillway) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.n > 0 {
		s.enqueueLocked(s.detachLocked(s.n), false)
	}
	s.mu.Unlock()
	return s.drain(ctx)
}

// Close performs a final Flush, stops the flusher and rejects further events.
func (s *Spillway) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Flush(ctx)
	close(s.done)
	s.flusher.Wait()
	return err
}

// Events returns a copy of the live buffer, oldest first.
func (s *Spillway) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = s.buf[(s.head+i)%len(s.buf)]
	}
	return out
}

// Stats returns current counters.
func (s *Spillway) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Buffered = s.n
	return st
}

// Sink returns the configured sink.
func (s *Spillway) Sink() Sink { return s.opt.Sink }

// detachLocked removes the oldest k events from the ring and returns them.
func (s *Spillway) detachLocked(k int) []Event {
	if k > s.n {
		k = s.n
	}
	out := make([]Event, k)
	for i := 0; i < k; i++ {
		idx := (s.head + i) % len(s.buf)
		out[i] = s.buf[idx]
		s.buf[idx] = Event{}
	}
	s.head = (s.head + k) % len(s.buf)
	s.n -= k
	return out
}

// enqueueLocked queues batch for the sink. When bounded, older queued
// batches are dropped until the backlog fits in Capacity events. It returns
// the number of dropped events.
func (s *Spillway) enqueueLocked(batch []Event, bounded bool) int {
	s.pending = append(s.pending, batch)
	s.stats.Pending += len(batch)
	dropped := 0
	for bounded && s.stats.Pending > len(s.buf) && len(s.pending) > 1 {
		old := s.pending[0]
		s.pending = s.pending[1:]
		s.stats.Pending -= len(old)
		dropped += len(old)
	}
	if dropped > 0 {
		s.stats.DroppedEvents += uint64(dropped)
		s.stats.LastError = ErrBacklogFull.Error()
	}
	return dropped
}

func (s *Spillway) flushLoop() {
	defer s.flusher.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.kick:
			ctx, cancel := context.WithTimeout(context.Background(), s.opt.FlushTimeout)
			_ = s.drain(ctx) // failures are counted and logged by drain
			cancel()
		}
	}
}

// drain appends every pending batch to the sink in FIFO order. A failed
// batch is dropped and counted; draining continues with the next one.
func (s *Spillway) drain(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	var errs []error
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			break
		}
		batch := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		rec := SpillRecord{ID: uuid.NewString(), FlushedAt: s.opt.Now(), Events: batch}
		err := s.opt.Sink.Append(ctx, rec)

		s.mu.Lock()
		s.stats.Pending -= len(batch)
		if err != nil {
			s.stats.Failures++
			s.stats.DroppedEvents += uint64(len(batch))
			s.stats.LastError = err.Error()
		} else {
			s.stats.Records++
			s.stats.FlushedEvents += uint64(len(batch))
		}
		s.mu.Unlock()

		if err != nil {
			s.opt.Logger.Warn("diagnostics spill failed",
				zap.String("record", rec.ID),
				zap.Int("events", len(batch)),
				zap.Error(err))
			if !errors.Is(err, ErrSinkUnavailable) {
				err = fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
