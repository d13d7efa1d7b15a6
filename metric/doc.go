// Package metric provides Prometheus-based metrics collection and an HTTP
// server for the replay process.
//
// The registry owns a private Prometheus registry carrying the core replay
// metrics (sessions, rows and bytes sent, batch sizes, ordering diagnostics)
// plus the Go runtime and process collectors. Optional parts add their own
// collectors through Registrar; a name taken twice is rejected with an
// invalid-class error.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9464, "/metrics", registry).WithHealth(monitor)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop()
//
//	m := registry.CoreMetrics()
//	m.RecordSessionStart()
//	m.RecordBatch(rows, bytes)
//
// All Record methods are safe on a nil *Metrics, so callers running without
// a metrics endpoint can pass nil through. The server also answers /health
// with the aggregate of a health.Monitor, 503 when any component is
// unhealthy.
package metric
