// Package series keeps per-key counter state across sampling ticks and turns
// cumulative counter snapshots into deltas.
//
// A Tracker is owned by a single goroutine; it does no locking.
package series

import (
	"math"
	"time"

	"github.com/jnesss/pressurize/record"
)

// DefaultRetention is how long a key may go unseen before its state is dropped
const DefaultRetention = time.Hour

// State is the retained baseline for one key
type State struct {
	Last     uint64    // last cumulative value recorded
	LastSeen time.Time // last tick the key was present in a snapshot
}

// Observation is one key's change between two ticks
type Observation struct {
	Key      record.Key
	Value    uint64 // cumulative value in the current snapshot
	Previous uint64 // baseline the delta was computed against
	Delta    int64
	Anomaly  bool // the counter went backwards
}

// Tracker maps keys to their retained State
type Tracker struct {
	states map[record.Key]*State

	// emitFirst treats a key's first observation as a delta from zero
	emitFirst bool
}

// Option configures a Tracker
type Option func(*Tracker)

// WithEmitFirstSample makes the first observation of a key produce a delta
// equal to its full cumulative value instead of only setting the baseline.
func WithEmitFirstSample(enabled bool) Option {
	return func(t *Tracker) { t.emitFirst = enabled }
}

// NewTracker creates an empty tracker
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{states: make(map[record.Key]*State)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe diffs snap against the retained state. Keys missing from snap are
// left untouched. Zero deltas produce no Observation.
func (t *Tracker) Observe(snap record.Snapshot, now time.Time) []Observation {
	var out []Observation
	for key, value := range snap {
		st, ok := t.states[key]
		if !ok {
			st = &State{}
			t.states[key] = st
			if !t.emitFirst {
				st.Last = value
				st.LastSeen = now
				continue
			}
		}

		delta := signedDelta(value, st.Last)
		previous := st.Last
		st.LastSeen = now
		if delta == 0 {
			continue
		}
		st.Last = value
		out = append(out, Observation{
			Key:      key,
			Value:    value,
			Previous: previous,
			Delta:    delta,
			Anomaly:  delta < 0,
		})
	}
	return out
}

// EvictStale drops every key whose last observation is at least retention old
// and returns how many were removed.
func (t *Tracker) EvictStale(now time.Time, retention time.Duration) int {
	evicted := 0
	for key, st := range t.states {
		if now.Sub(st.LastSeen) >= retention {
			delete(t.states, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked keys
func (t *Tracker) Len() int {
	return len(t.states)
}

// Get returns a copy of the state for key
func (t *Tracker) Get(key record.Key) (State, bool) {
	st, ok := t.states[key]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// signedDelta returns cur-prev, saturating at the int64 bounds
func signedDelta(cur, prev uint64) int64 {
	if cur >= prev {
		d := cur - prev
		if d > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(d)
	}
	d := prev - cur
	if d > math.MaxInt64 {
		return math.MinInt64
	}
	return -int64(d)
}
