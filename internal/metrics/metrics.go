// Package metrics exposes Prometheus counters for the scheduling core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry
// so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	executions       *prometheus.CounterVec
	validationFails  *prometheus.CounterVec
	dispatchFailures prometheus.Counter
	triggerFirings   prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cronhub",
			Name:      "executions_total",
			Help:      "Finished execution attempts by final status.",
		}, []string{"status"}),
		validationFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cronhub",
			Name:      "validation_failures_total",
			Help:      "Rejected schedule writes by failure class.",
		}, []string{"cause"}),
		dispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cronhub",
			Name:      "dispatch_sync_failures_total",
			Help:      "Best-effort trigger mirror writes that failed.",
		}),
		triggerFirings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cronhub",
			Name:      "trigger_firings_total",
			Help:      "Cron trigger firings submitted to the run queue.",
		}),
	}

	m.registry.MustRegister(
		m.executions,
		m.validationFails,
		m.dispatchFailures,
		m.triggerFirings,
		collectors.NewGoCollector(),
	)
	return m
}

// ExecutionFinished satisfies the executor's Counter interface.
func (m *Metrics) ExecutionFinished(status string) {
	m.executions.WithLabelValues(status).Inc()
}

// ValidationFailed records a rejected write by cause
// (cron, quota, task, parameters).
func (m *Metrics) ValidationFailed(cause string) {
	m.validationFails.WithLabelValues(cause).Inc()
}

// DispatchSyncFailed records a degraded trigger mirror write.
func (m *Metrics) DispatchSyncFailed() {
	m.dispatchFailures.Inc()
}

// TriggerFired records a trigger firing.
func (m *Metrics) TriggerFired() {
	m.triggerFirings.Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
