package ordering

import (
	"log/slog"
	"strings"

	"github.com/c360/streamreplay/diagnostics"
	"github.com/c360/streamreplay/pkg/timestamp"
	"github.com/c360/streamreplay/source"
)

// Config describes the ordering contract for one run.
type Config struct {
	Scope          Scope
	TimestampIndex int
	KeyIndices     []int
	Policy         Policy
	// ResetOnLoop clears State at the start of every loop pass after the first.
	ResetOnLoop bool
}

// Stats counts what the engine did with the rows it saw.
type Stats struct {
	Accepted   int64
	Repaired   int64
	Nudged     int64
	Dropped    int64
	Unparsable int64
	Blank      int64
}

// Processor turns a source row into the bytes to send, or reports that the
// row is not sent.
type Processor interface {
	Process(row source.Row) ([]byte, bool)
}

// Passthrough forwards every row unchanged. It backs no-order mode.
type Passthrough struct{}

// Process returns the row bytes as read, blank lines included.
func (Passthrough) Process(row source.Row) ([]byte, bool) {
	return row.Bytes(), true
}

// Enforcer applies the ordering contract inline, one row at a time.
type Enforcer struct {
	cfg    Config
	state  *State
	sink   diagnostics.Sink
	logger *slog.Logger
	stats  Stats
	pass   int
}

// NewEnforcer returns an enforcer working on state. A nil state gets a fresh
// one and a nil sink discards events.
func NewEnforcer(cfg Config, state *State, sink diagnostics.Sink, logger *slog.Logger) *Enforcer {
	if state == nil {
		state = NewState()
	}
	if sink == nil {
		sink = diagnostics.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{
		cfg:    cfg,
		state:  state,
		sink:   sink,
		logger: logger.With("component", "enforcer"),
	}
}

// State returns the state the enforcer updates.
func (e *Enforcer) State() *State {
	return e.state
}

// Stats returns counters so far.
func (e *Enforcer) Stats() Stats {
	return e.stats
}

// Process runs the per-key check then the global check on row. It returns
// the bytes to send, rewritten only when the timestamp was changed, or false
// when the row is dropped.
func (e *Enforcer) Process(row source.Row) ([]byte, bool) {
	if row.Pass != e.pass {
		e.pass = row.Pass
		if e.cfg.ResetOnLoop {
			e.state.Reset()
			e.logger.Debug("Ordering state reset for loop pass", "pass", row.Pass)
		}
	}

	if row.Blank() {
		e.stats.Blank++
		return nil, false
	}

	ts, rawTS, ok := parseRowTimestamp(row, e.cfg.TimestampIndex)
	if !ok {
		e.stats.Unparsable++
		e.sink.Emit(unparsableEvent(rawTS, row))
		return nil, false
	}

	checker := check{policy: e.cfg.Policy, sink: e.sink, stats: &e.stats, rawTS: rawTS, row: row}
	original := ts

	if e.cfg.Scope.PerKey() {
		key := KeyOf(row.Fields, e.cfg.KeyIndices)
		var accepted bool
		if ts, accepted = checker.run(ts, e.state.LastKey(key), key, false); !accepted {
			return nil, false
		}
		e.state.SetKey(key, ts)
	}

	if e.cfg.Scope.Global() {
		var accepted bool
		if ts, accepted = checker.run(ts, e.state.LastGlobal(), "", true); !accepted {
			return nil, false
		}
		e.state.SetGlobal(ts)
	}

	e.stats.Accepted++
	if ts != original {
		return row.WithField(e.cfg.TimestampIndex, timestamp.FormatSeconds(ts)), true
	}
	return row.Bytes(), true
}

// parseRowTimestamp reads and normalizes the timestamp field. A row too short
// to have one is unparsable with an empty raw value.
func parseRowTimestamp(row source.Row, index int) (float64, string, bool) {
	field, ok := row.Field(index)
	if !ok {
		return 0, "", false
	}
	raw := strings.TrimSpace(field)
	ts, ok := timestamp.Normalize(raw)
	return ts, raw, ok
}

func unparsableEvent(rawTS string, row source.Row) diagnostics.Event {
	return diagnostics.Event{
		Kind:   diagnostics.KindUnparsable,
		Scope:  diagnostics.ScopeGlobal,
		RawTS:  rawTS,
		RawRow: string(row.Line),
	}
}

// check resolves one comparison and reports it. It is shared by the inline
// enforcer and the presort engine.
type check struct {
	policy  Policy
	sink    diagnostics.Sink
	stats   *Stats
	rawTS   string
	row     source.Row
	presort bool
}

func (c check) run(ts, prev float64, key ScopeKey, global bool) (float64, bool) {
	resolved, action := c.policy.Resolve(ts, prev)
	if action == Accept {
		return ts, true
	}

	ev := diagnostics.Event{
		Scope:      diagnostics.ScopePerKey,
		Key:        key.String(),
		PreviousTS: timestamp.FormatMillis(prev),
		RawTS:      c.rawTS,
		RawRow:     string(c.row.Line),
	}
	if global {
		ev.Scope = diagnostics.ScopeGlobal
		ev.Key = ""
	}

	switch action {
	case Repair:
		c.stats.Repaired++
		ev.Kind = pick(global, diagnostics.KindRepairedGlobal, diagnostics.KindRepairedKey)
		ev.NewTS = timestamp.FormatSeconds(resolved)
	case Nudge:
		c.stats.Nudged++
		ev.Kind = pick(global, diagnostics.KindNudgedGlobal, diagnostics.KindNudgedKey)
		ev.NewTS = timestamp.FormatSeconds(resolved)
	default:
		c.stats.Dropped++
		ev.Kind = pick(global, diagnostics.KindNonIncreasingGlobal, diagnostics.KindNonIncreasingKey)
	}
	if c.presort {
		ev.Kind = ev.Kind.Presort()
	}
	c.sink.Emit(ev)

	return resolved, action != Drop
}

func pick(global bool, g, k diagnostics.Kind) diagnostics.Kind {
	if global {
		return g
	}
	return k
}
