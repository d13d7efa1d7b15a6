package diagnostics

// Counter is the slice of the metrics registry the sink needs.
// *metric.Metrics satisfies it.
type Counter interface {
	RecordDiagnostic(kind string)
}

// MetricsSink counts events by kind.
type MetricsSink struct {
	counter Counter
}

// NewMetricsSink returns a sink counting into c, or nil when c is nil.
func NewMetricsSink(c Counter) *MetricsSink {
	if c == nil {
		return nil
	}
	return &MetricsSink{counter: c}
}

// Emit increments the counter for ev.Kind.
func (m *MetricsSink) Emit(ev Event) {
	if m == nil {
		return
	}
	m.counter.RecordDiagnostic(string(ev.Kind))
}
