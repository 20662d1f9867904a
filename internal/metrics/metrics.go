// Package metrics holds the Prometheus collectors for apply outcomes, lock
// contention and validation findings. Collectors live on a private registry
// so several Managers in one process do not collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracefix/internal/validate"
)

const namespace = "tracefix"

// Metrics is a set of collectors bound to one registry.
type Metrics struct {
	registry *prometheus.Registry

	applyTotal       *prometheus.CounterVec
	applyDuration    *prometheus.HistogramVec
	rollbackTotal    *prometheus.CounterVec
	lockWait         prometheus.Histogram
	validationIssues *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		// Labels: status (success, validation_failed, failed)
		applyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apply",
			Name:      "total",
			Help:      "Apply operations by outcome",
		}, []string{"status"}),

		applyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "apply",
			Name:      "duration_seconds",
			Help:      "Apply operation latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),

		// Labels: result (reverted, restored, failed)
		rollbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollback",
			Name:      "total",
			Help:      "Rollback operations by result",
		}, []string{"result"}),

		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "wait_seconds",
			Help:      "Time spent waiting to acquire a lock",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),

		// Labels: check (path, size, secret, syntax, format)
		validationIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "issues_total",
			Help:      "Blocking validation issues by check",
		}, []string{"check"}),
	}

	m.registry.MustRegister(
		m.applyTotal,
		m.applyDuration,
		m.rollbackTotal,
		m.lockWait,
		m.validationIssues,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry, for tests and custom exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordApply records one apply outcome and its duration.
func (m *Metrics) RecordApply(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.applyTotal.WithLabelValues(status).Inc()
	m.applyDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordRollback records one rollback result.
func (m *Metrics) RecordRollback(result string) {
	if m == nil {
		return
	}
	m.rollbackTotal.WithLabelValues(result).Inc()
}

// ObserveLockWait records the time a lock acquisition waited. Its
// signature matches lockmgr.Options.OnAcquire.
func (m *Metrics) ObserveLockWait(_ string, waited time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(waited.Seconds())
}

// RecordValidationIssues adds per-check issue counts.
func (m *Metrics) RecordValidationIssues(counts map[validate.Check]int) {
	if m == nil {
		return
	}
	for check, n := range counts {
		m.validationIssues.WithLabelValues(string(check)).Add(float64(n))
	}
}
