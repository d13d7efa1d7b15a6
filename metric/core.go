package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the replay server's process-level metrics
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram
	PeerDisconnects prometheus.Counter
	SessionFailures prometheus.Counter

	// Stream metrics
	RowsSent    prometheus.Counter
	BytesSent   prometheus.Counter
	BatchRows   prometheus.Histogram
	Diagnostics *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all replay metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamreplay",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Total client sessions started",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamreplay",
			Subsystem: "session",
			Name:      "active",
			Help:      "Client sessions currently streaming (0 or 1)",
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamreplay",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Wall time of completed sessions",
			Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300, 1800, 3600},
		}),
		PeerDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamreplay",
			Subsystem: "session",
			Name:      "peer_disconnects_total",
			Help:      "Sessions ended by the client closing or resetting the connection",
		}),
		SessionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamreplay",
			Subsystem: "session",
			Name:      "failures_total",
			Help:      "Sessions ended by an error other than a peer disconnect",
		}),
		RowsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamreplay",
			Subsystem: "stream",
			Name:      "rows_sent_total",
			Help:      "Rows written to clients",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamreplay",
			Subsystem: "stream",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to clients",
		}),
		BatchRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamreplay",
			Subsystem: "stream",
			Name:      "batch_rows",
			Help:      "Rows per socket write",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
		}),
		Diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamreplay",
			Subsystem: "ordering",
			Name:      "diagnostics_total",
			Help:      "Rows altered or dropped by parsing and ordering, by kind",
		}, []string{"kind"}),
	}
}

// RecordSessionStart marks a client session as started and active
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Set(1)
}

// RecordSessionEnd records how a session ended and how long it ran
func (m *Metrics) RecordSessionEnd(duration time.Duration, peerDisconnect, failed bool) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(0)
	m.SessionDuration.Observe(duration.Seconds())
	if peerDisconnect {
		m.PeerDisconnects.Inc()
	}
	if failed {
		m.SessionFailures.Inc()
	}
}

// RecordBatch records one socket write of rows totalling n bytes
func (m *Metrics) RecordBatch(rows, n int) {
	if m == nil || rows == 0 {
		return
	}
	m.RowsSent.Add(float64(rows))
	m.BytesSent.Add(float64(n))
	m.BatchRows.Observe(float64(rows))
}

// RecordDiagnostic counts one diagnostic event of the given kind
func (m *Metrics) RecordDiagnostic(kind string) {
	if m == nil {
		return
	}
	m.Diagnostics.WithLabelValues(kind).Inc()
}
