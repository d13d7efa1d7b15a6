package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/streamreplay/errors"
)

// Registrar lets optional parts of the server (the NATS diagnostics link)
// add their own collectors next to the core metrics.
type Registrar interface {
	Register(owner, name string, collector prometheus.Collector) error
	Unregister(owner, name string) bool
}

// MetricsRegistry manages the registration and lifecycle of metrics
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

var _ Registrar = (*MetricsRegistry)(nil)

// NewMetricsRegistry creates a new metrics registry with the core replay metrics
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		registeredMetrics:  make(map[string]prometheus.Collector),
		Metrics:            NewMetrics(),
	}
	registry.registerMetrics()

	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core replay metrics. Safe on a nil registry.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.Metrics
}

// Register adds collector under owner.name. A name can only be taken once
// per owner.
func (r *MetricsRegistry) Register(owner, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := owner + "." + name
	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for %s", name, owner),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register",
			"failed to register collector with prometheus")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// Unregister removes a collector added with Register.
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := owner + "." + name
	collector, exists := r.registeredMetrics[key]
	if !exists || !r.prometheusRegistry.Unregister(collector) {
		return false
	}
	delete(r.registeredMetrics, key)
	return true
}

// registerMetrics registers all core replay metrics
func (r *MetricsRegistry) registerMetrics() {
	r.prometheusRegistry.MustRegister(
		r.Metrics.SessionsTotal,
		r.Metrics.SessionsActive,
		r.Metrics.SessionDuration,
		r.Metrics.PeerDisconnects,
		r.Metrics.SessionFailures,
		r.Metrics.RowsSent,
		r.Metrics.BytesSent,
		r.Metrics.BatchRows,
		r.Metrics.Diagnostics,
	)
}
