package cache

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is against these; the concrete error types
// below carry the details.
var (
	// ErrMissingInvariantParameter: a request lacks a parameter that its
	// route declares as an invariant filter. Caller error, never retried.
	ErrMissingInvariantParameter = errors.New("cache: missing invariant parameter")

	// ErrInvalidParameter: an invariant parameter value cannot be encoded
	// into a shard key (e.g. a func or channel).
	ErrInvalidParameter = errors.New("cache: invariant parameter is not encodable")

	// ErrRecomputeFailure wraps any failure of the caller's compute function.
	ErrRecomputeFailure = errors.New("cache: recompute failed")

	// ErrClosed is returned by Fetch after Close.
	ErrClosed = errors.New("cache: closed")
)

// MissingInvariantParameterError names the route and parameter.
type MissingInvariantParameterError struct {
	Route string
	Param string
}

func (e *MissingInvariantParameterError) Error() string {
	return fmt.Sprintf("cache: route %q: missing invariant parameter %q", e.Route, e.Param)
}

// Is reports target == ErrMissingInvariantParameter.
func (e *MissingInvariantParameterError) Is(target error) bool {
	return target == ErrMissingInvariantParameter
}

// RecomputeError is delivered identically to the leader and every follower
// of a failed recomputation. It is never stored.
type RecomputeError struct {
	Key ShardKey
	Err error
}

func (e *RecomputeError) Error() string {
	return fmt.Sprintf("cache: recompute %s: %v", e.Key, e.Err)
}

// Unwrap returns the upstream failure.
func (e *RecomputeError) Unwrap() error { return e.Err }

// Is reports target == ErrRecomputeFailure.
func (e *RecomputeError) Is(target error) bool { return target == ErrRecomputeFailure }
