// Package metrics exposes call counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "securecall"

// Metrics owns its own registry so several servers (and tests) can live in
// one process.
type Metrics struct {
	CallsCreated   *prometheus.CounterVec
	CallsEnded     *prometheus.CounterVec
	CreationErrors prometheus.Counter
	CallDuration   prometheus.Histogram
	ActiveCalls    prometheus.Gauge
	KeyRotations   prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		CallsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_created_total",
			Help:      "Total calls created.",
		}, []string{"call_type", "mode"}),
		CallsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Total calls that reached a terminal status.",
		}, []string{"status"}),
		CreationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_creation_errors_total",
			Help:      "Total call creation errors.",
		}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of answered calls.",
			Buckets:   []float64{5, 15, 30, 60, 300, 600, 1800, 3600, 7200},
		}),
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Calls holding live key material.",
		}),
		KeyRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "Total call re-keys.",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.CallsCreated,
		m.CallsEnded,
		m.CreationErrors,
		m.CallDuration,
		m.ActiveCalls,
		m.KeyRotations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// CallEnded counts a finished call. Calls that were never answered have no
// duration and only count towards status.
func (m *Metrics) CallEnded(status string, d time.Duration) {
	m.CallsEnded.WithLabelValues(status).Inc()
	if d > 0 {
		m.CallDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
