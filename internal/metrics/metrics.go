// Package metrics exposes Prometheus counters for the auth service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds the service collectors and the registry they live on.
type Metrics struct {
	registry       *prometheus.Registry
	AuthOperations *prometheus.CounterVec
	ResetsPurged   prometheus.Counter
}

// New creates a registry with the Go and process collectors and the
// gatekeep counters registered on it.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeep_auth_operations_total",
				Help: "Total number of auth operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		ResetsPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeep_reset_challenges_purged_total",
				Help: "Total number of expired reset challenges cleared",
			},
		),
	}

	registry.MustRegister(m.AuthOperations)
	registry.MustRegister(m.ResetsPurged)

	return m
}

// RecordAuthOperation increments the operation counter.
// outcome should be one of the Outcome* constants.
func (m *Metrics) RecordAuthOperation(operation, outcome string) {
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordResetsPurged adds n to the purged challenges counter.
func (m *Metrics) RecordResetsPurged(n int64) {
	if n > 0 {
		m.ResetsPurged.Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
