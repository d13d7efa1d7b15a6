// Package replay drives one client session: it reads the source, applies
// ordering, and writes paced batches to the connection.
package replay

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/streamreplay/diagnostics"
	"github.com/c360/streamreplay/errors"
	"github.com/c360/streamreplay/metric"
	"github.com/c360/streamreplay/ordering"
	"github.com/c360/streamreplay/pacer"
	"github.com/c360/streamreplay/source"
)

// errStalled ends a looping session whose last pass emitted nothing.
var errStalled = stderrors.New("loop pass emitted no rows")

// Options describes what one session streams and how.
type Options struct {
	Source   source.Config
	Ordering ordering.Config
	Batch    pacer.Config
	// PerRow is the pacing interval; zero streams as fast as the socket allows.
	PerRow time.Duration
	// NoOrder bypasses timestamp handling entirely.
	NoOrder bool
	// SortPerKey buffers the whole file and merges it in timestamp order.
	// It has no effect together with NoOrder.
	SortPerKey bool
}

// Result summarizes a finished session.
type Result struct {
	ID             string
	RowsSent       int64
	BytesSent      int64
	Batches        int64
	Passes         int
	Ordering       ordering.Stats
	Source         source.Stats
	Duration       time.Duration
	PeerDisconnect bool
}

// Session is the per-connection context. It owns fresh ordering state and
// everything else that must not leak into the next client.
type Session struct {
	ID string

	opts      Options
	sink      diagnostics.Sink
	metrics   *metric.Metrics
	logger    *slog.Logger
	state     *ordering.State
	pacerOpts []pacer.Option
}

// Option configures a Session.
type Option func(*Session)

// WithDiagnostics sends altered and dropped rows to sink.
func WithDiagnostics(sink diagnostics.Sink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// WithMetrics records session, batch and diagnostic counters.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithPacerOptions passes clock overrides through to the pacer.
func WithPacerOptions(opts ...pacer.Option) Option {
	return func(s *Session) {
		s.pacerOpts = append(s.pacerOpts, opts...)
	}
}

// NewSession creates a session with a new id and empty ordering state.
func NewSession(opts Options, options ...Option) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		opts:   opts,
		sink:   diagnostics.Discard,
		logger: slog.Default(),
		state:  ordering.NewState(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.sink == nil {
		s.sink = diagnostics.Discard
	}
	s.logger = s.logger.With("component", "session", "session", s.ID)
	return s
}

// State exposes the session's ordering state.
func (s *Session) State() *ordering.State {
	return s.state
}

// Run streams the configured file to w until the file (or loop) ends, ctx
// is cancelled or the peer goes away. A peer disconnect is reported as an
// error wrapping errors.ErrConnectionLost with Result.PeerDisconnect set.
func (s *Session) Run(ctx context.Context, w io.Writer) (Result, error) {
	start := time.Now()
	res := Result{ID: s.ID}

	s.metrics.RecordSessionStart()
	s.logger.Info("Session started",
		"mode", s.mode(),
		"loop", s.opts.Source.Loop,
		"per_row", s.opts.PerRow)

	batcher := pacer.NewBatcher(w, s.opts.Batch, pacer.New(s.opts.PerRow, s.pacerOpts...))
	batcher.OnFlush(s.metrics.RecordBatch)
	sink := diagnostics.WithSession(s.ID, s.sink)

	var (
		src   *source.Source
		stats func() ordering.Stats
		err   error
	)
	if s.opts.SortPerKey && !s.opts.NoOrder {
		src, stats, res.Passes, err = s.runPresort(ctx, batcher, sink)
	} else {
		src, stats, res.Passes, err = s.runStreaming(ctx, batcher, sink)
	}

	if err == nil {
		err = batcher.Flush()
	}

	res.RowsSent, res.BytesSent, res.Batches = batcher.Sent()
	if stats != nil {
		res.Ordering = stats()
	}
	if src != nil {
		res.Source = src.Stats()
	}
	res.Duration = time.Since(start)

	if err != nil && errors.IsPeerDisconnect(err) {
		res.PeerDisconnect = true
		err = errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err),
			"Session", "Run", "stream to client")
	}

	s.metrics.RecordSessionEnd(res.Duration, res.PeerDisconnect,
		err != nil && !res.PeerDisconnect && ctx.Err() == nil)

	s.logger.Info("Session finished",
		"rows_sent", res.RowsSent,
		"bytes_sent", res.BytesSent,
		"batches", res.Batches,
		"passes", res.Passes,
		"repaired", res.Ordering.Repaired,
		"nudged", res.Ordering.Nudged,
		"dropped", res.Ordering.Dropped,
		"unparsable", res.Ordering.Unparsable,
		"filtered", res.Source.RowsFiltered,
		"peer_disconnect", res.PeerDisconnect,
		"duration", res.Duration)

	return res, err
}

func (s *Session) mode() string {
	switch {
	case s.opts.NoOrder:
		return "no-order"
	case s.opts.SortPerKey:
		return "presort"
	default:
		return "streaming"
	}
}

// runStreaming handles the inline enforcer and the no-order passthrough.
func (s *Session) runStreaming(ctx context.Context, b *pacer.Batcher, sink diagnostics.Sink) (*source.Source, func() ordering.Stats, int, error) {
	src, err := source.Open(s.opts.Source, s.logger)
	if err != nil {
		return nil, nil, 0, err
	}

	var proc ordering.Processor = ordering.Passthrough{}
	stats := func() ordering.Stats { return ordering.Stats{} }
	if !s.opts.NoOrder {
		enforcer := ordering.NewEnforcer(s.opts.Ordering, s.state, sink, s.logger)
		proc = enforcer
		stats = enforcer.Stats
	}

	pass, emitted := 0, 0
	err = src.Each(ctx, func(row source.Row) error {
		if row.Pass != pass {
			if emitted == 0 {
				return errStalled
			}
			pass, emitted = row.Pass, 0
		}
		out, ok := proc.Process(row)
		if !ok {
			return nil
		}
		emitted++
		return b.Add(ctx, out)
	})
	if stderrors.Is(err, errStalled) {
		s.logger.Warn("Loop pass emitted no rows, ending session", "pass", pass)
		err = nil
	}
	return src, stats, pass + 1, err
}

// runPresort buffers the filtered file once and merges it once per pass.
func (s *Session) runPresort(ctx context.Context, b *pacer.Batcher, sink diagnostics.Sink) (*source.Source, func() ordering.Stats, int, error) {
	cfg := s.opts.Source
	cfg.Preload = true
	loop := cfg.Loop
	cfg.Loop = false

	src, err := source.Open(cfg, s.logger)
	if err != nil {
		return nil, nil, 0, err
	}

	presort := ordering.NewPresort(s.opts.Ordering, s.state, sink, s.logger)
	if err := src.Each(ctx, func(row source.Row) error {
		presort.Add(row)
		return nil
	}); err != nil {
		return src, presort.Stats, 0, err
	}

	emit := func(line []byte) error {
		return b.Add(ctx, line)
	}

	passes := 0
	for pass := 0; ; pass++ {
		n, err := presort.Merge(ctx, pass, emit)
		passes++
		if err != nil {
			return src, presort.Stats, passes, err
		}
		if !loop {
			break
		}
		if n == 0 {
			s.logger.Warn("Loop pass emitted no rows, ending session", "pass", pass)
			break
		}
	}
	return src, presort.Stats, passes, nil
}
