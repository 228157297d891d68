// Package metrics exposes gateway Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway collectors. A nil *Metrics is a no-op.
type Metrics struct {
	dispatches  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	running     prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpmux_dispatches_total",
			Help: "Aggregate operations handled, by request type and outcome",
		}, []string{"request_type", "status"}),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpmux_dispatch_duration_seconds",
			Help:    "Latency of aggregate operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"request_type"}),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpmux_connection_transitions_total",
			Help: "Backend connection state transitions",
		}, []string{"server", "status"}),

		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpmux_connections_running",
			Help: "Backend connections currently running",
		}),
	}
	reg.MustRegister(m.dispatches, m.latency, m.transitions, m.running)
	return m
}

// ObserveDispatch records one aggregate operation.
func (m *Metrics) ObserveDispatch(requestType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(requestType, status).Inc()
	m.latency.WithLabelValues(requestType).Observe(d.Seconds())
}

// ObserveTransition records a backend entering status.
func (m *Metrics) ObserveTransition(server, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(server, status).Inc()
}

// SetRunning sets the running-connection gauge.
func (m *Metrics) SetRunning(n int) {
	if m == nil {
		return
	}
	m.running.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
