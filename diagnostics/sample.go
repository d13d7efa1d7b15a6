package diagnostics

import "log/slog"

// SampleSink logs the first N events it sees and ignores the rest.
type SampleSink struct {
	limit  int
	seen   int
	logger *slog.Logger
}

// NewSampleSink returns a sink logging up to limit events, or nil when limit
// is not positive.
func NewSampleSink(limit int, logger *slog.Logger) *SampleSink {
	if limit <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SampleSink{limit: limit, logger: logger}
}

// Emit logs ev while the sample budget lasts.
func (s *SampleSink) Emit(ev Event) {
	if s == nil || s.seen >= s.limit {
		return
	}
	s.seen++
	s.logger.Info("Sample filtered row",
		"n", s.seen,
		"kind", ev.Kind,
		"scope", ev.Scope,
		"key", ev.Key,
		"previous_ts", ev.PreviousTS,
		"new_ts", ev.NewTS,
		"raw_ts", ev.RawTS,
		"row", ev.RawRow)
}

// LogSink logs every event at debug level. Used with --verbose.
func LogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return SinkFunc(func(ev Event) {
		logger.Debug("Row altered or dropped",
			"kind", ev.Kind,
			"scope", ev.Scope,
			"key", ev.Key,
			"previous_ts", ev.PreviousTS,
			"new_ts", ev.NewTS,
			"raw_ts", ev.RawTS,
			"row", ev.RawRow)
	})
}
