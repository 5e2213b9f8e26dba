package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerOptions tunes BreakerSink. Zero values pick defaults.
type BreakerOptions struct {
	Name string
	// ConsecutiveFailures opens the breaker (default 3).
	ConsecutiveFailures uint32
	// OpenFor is how long the breaker stays open before probing (default 30s).
	OpenFor time.Duration
	Logger  *zap.Logger
}

// BreakerSink guards another Sink with a circuit breaker. While open,
// Append fails immediately with ErrSinkUnavailable.
type BreakerSink struct {
	next Sink
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerSink wraps next.
func NewBreakerSink(next Sink, opt BreakerOptions) *BreakerSink {
	if opt.Name == "" {
		opt.Name = "diagnostics-sink"
	}
	if opt.ConsecutiveFailures == 0 {
		opt.ConsecutiveFailures = 3
	}
	if opt.OpenFor <= 0 {
		opt.OpenFor = 30 * time.Second
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	threshold := opt.ConsecutiveFailures
	log := opt.Logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opt.Name,
		MaxRequests: 1,
		Timeout:     opt.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("diagnostics sink breaker",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &BreakerSink{next: next, cb: cb}
}

// Append implements Sink.
func (b *BreakerSink) Append(ctx context.Context, rec SpillRecord) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Append(ctx, rec)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return err
}

// Unwrap returns the guarded sink.
func (b *BreakerSink) Unwrap() Sink { return b.next }

// State reports the breaker state ("closed", "half-open", "open").
func (b *BreakerSink) State() string { return b.cb.State().String() }

var _ Sink = (*BreakerSink)(nil)
