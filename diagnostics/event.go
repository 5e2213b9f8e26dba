package diagnostics

import (
	"fmt"
	"time"
)

// Kind identifies a lifecycle event.
type Kind uint8

const (
	KindHit Kind = iota + 1
	KindMiss
	KindRecompute
	KindEviction
	KindExpiry
)

var kindNames = map[Kind]string{
	KindHit:       "hit",
	KindMiss:      "miss",
	KindRecompute: "recompute",
	KindEviction:  "eviction",
	KindExpiry:    "expiry",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText encodes the kind by name so spill records stay readable.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	for kk, name := range kindNames {
		if name == string(b) {
			*k = kk
			return nil
		}
	}
	return fmt.Errorf("diagnostics: unknown event kind %q", b)
}

// Removal reasons carried by Eviction and Expiry events.
const (
	ReasonMemoryPressure = "memory_pressure"
	ReasonTTLExceeded    = "ttl_exceeded"
	ReasonInvalidated    = "invalidated"
)

// Event is one immutable lifecycle record. Fields not meaningful for a
// kind are left zero.
type Event struct {
	Kind        Kind          `json:"kind"`
	At          time.Time     `json:"at"`
	Key         string        `json:"key,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Rows        int           `json:"rows,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Age         time.Duration `json:"age,omitempty"`
	AccessCount uint64        `json:"access_count,omitempty"`
	Err         string        `json:"err,omitempty"`
}

// Hit builds a hit event.
func Hit(key string) Event { return Event{Kind: KindHit, Key: key} }

// Miss builds a miss event.
func Miss(key string) Event { return Event{Kind: KindMiss, Key: key} }

// Recompute builds a recompute event. A non-nil err marks a failed attempt.
func Recompute(key string, d time.Duration, rows int, err error) Event {
	ev := Event{Kind: KindRecompute, Key: key, Duration: d, Rows: rows}
	if err != nil {
		ev.Err = err.Error()
	}
	return ev
}

// Eviction builds an eviction event.
func Eviction(key, reason string, age time.Duration, accessCount uint64) Event {
	return Event{Kind: KindEviction, Key: key, Reason: reason, Age: age, AccessCount: accessCount}
}

// Expiry builds an expiry event.
func Expiry(key string, age time.Duration) Event {
	return Event{Kind: KindExpiry, Key: key, Reason: ReasonTTLExceeded, Age: age}
}
