// Package diagnostics records rows that the replay pipeline altered or
// discarded.
//
// Every timestamp that fails to parse, every repaired or nudged timestamp and
// every row dropped for breaking the ordering contract becomes one Event.
// Accepted, untouched rows never produce events. Events go to a Sink; the
// package provides sinks for an append-only TSV file, a log sample of the
// first N events, Prometheus counters and a NATS subject, plus Multi to fan
// out to several at once.
package diagnostics

import "strings"

// Kind names what happened to a row.
type Kind string

// Event kinds. Presort variants carry a "_presort" suffix.
const (
	KindUnparsable          Kind = "unparsable"
	KindRepairedKey         Kind = "repaired_key"
	KindNudgedKey           Kind = "nudged_key"
	KindNonIncreasingKey    Kind = "nonincreasing_key"
	KindRepairedGlobal      Kind = "repaired_global"
	KindNudgedGlobal        Kind = "nudged_global"
	KindNonIncreasingGlobal Kind = "nonincreasing_global"

	PresortSuffix = "_presort"
)

// Presort returns the presort variant of k.
func (k Kind) Presort() Kind {
	if k == KindUnparsable || strings.HasSuffix(string(k), PresortSuffix) {
		return k
	}
	return k + PresortSuffix
}

// Dropped reports whether the row was discarded rather than altered.
func (k Kind) Dropped() bool {
	return k == KindUnparsable || strings.HasPrefix(string(k), "nonincreasing_")
}

// Scope values used in events.
const (
	ScopeGlobal = "global"
	ScopePerKey = "per-key"
)

// Event describes one altered or discarded row.
type Event struct {
	Kind       Kind   `json:"kind"`
	Scope      string `json:"scope"`
	Key        string `json:"key"`
	PreviousTS string `json:"previous_ts"`
	NewTS      string `json:"new_ts"`
	RawTS      string `json:"raw_ts"`
	RawRow     string `json:"raw_row"`

	// Session is stamped by the session driver; the TSV file does not carry it.
	Session string `json:"session,omitempty"`
}

// Sink receives diagnostic events. Implementations must not block the
// replay for long; failures are logged, never returned.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(ev).
func (f SinkFunc) Emit(ev Event) {
	f(ev)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans every event out to each non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return Discard
	case 1:
		return live[0]
	}
	return SinkFunc(func(ev Event) {
		for _, s := range live {
			s.Emit(ev)
		}
	})
}

// WithSession returns a sink stamping every event with the session id before
// forwarding it to next.
func WithSession(id string, next Sink) Sink {
	if next == nil {
		return Discard
	}
	return SinkFunc(func(ev Event) {
		ev.Session = id
		next.Emit(ev)
	})
}

// Recorder keeps events in memory. Tests use it to assert on diagnostics.
type Recorder struct {
	Events []Event
}

// Emit appends ev.
func (r *Recorder) Emit(ev Event) {
	r.Events = append(r.Events, ev)
}

// Kinds returns the kinds of all recorded events in order.
func (r *Recorder) Kinds() []Kind {
	kinds := make([]Kind, len(r.Events))
	for i, ev := range r.Events {
		kinds[i] = ev.Kind
	}
	return kinds
}
