// Package metrics exposes Prometheus collectors describing XAgent executions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bridge's collectors.
type Metrics struct {
	executions     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	parseFallbacks *prometheus.CounterVec
	tasksActive    prometheus.Gauge
}

// New constructs the collectors and registers them with reg. A nil reg falls
// back to prometheus.DefaultRegisterer. Registration errors panic, like promauto.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "xbridge",
				Name:      "executions_total",
				Help:      "XAgent executions by final state.",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "xbridge",
				Name:      "execution_duration_seconds",
				Help:      "Wall time of XAgent executions.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),
		parseFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "xbridge",
				Name:      "parse_fallback_total",
				Help:      "Executions whose answer came from the text fallback instead of a structured line.",
			},
			[]string{"reason"},
		),
		tasksActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "xbridge",
				Name:      "tasks_active",
				Help:      "XAgent child processes currently running.",
			},
		),
	}
	reg.MustRegister(m.executions, m.duration, m.parseFallbacks, m.tasksActive)
	return m
}

// ObserveExecution records a finished execution.
func (m *Metrics) ObserveExecution(status string, d time.Duration) {
	m.executions.WithLabelValues(status).Inc()
	m.duration.WithLabelValues(status).Observe(d.Seconds())
}

// ParseFallback counts an answer produced by the text fallback.
func (m *Metrics) ParseFallback(reason string) {
	m.parseFallbacks.WithLabelValues(reason).Inc()
}

// TaskStarted marks a child process as running.
func (m *Metrics) TaskStarted() { m.tasksActive.Inc() }

// TaskFinished marks a child process as done.
func (m *Metrics) TaskFinished() { m.tasksActive.Dec() }
