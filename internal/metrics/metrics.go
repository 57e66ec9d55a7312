// Package metrics provides Prometheus metrics for collabd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the coordinator.
type Metrics struct {
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	Connections     prometheus.Gauge
	BroadcastDrops  prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collabd_commands_total",
				Help: "Coordinator commands by operation and status.",
			},
			[]string{"op", "status"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collabd_command_duration_seconds",
				Help:    "Coordinator command duration by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		Connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "collabd_ws_connections",
				Help: "Currently open streaming connections.",
			},
		),
		BroadcastDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "collabd_broadcast_drops_total",
				Help: "Subscribers pruned after a failed broadcast send.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.CommandsTotal)
	reg.MustRegister(m.CommandDuration)
	reg.MustRegister(m.Connections)
	reg.MustRegister(m.BroadcastDrops)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCommand increments the command counter.
func (m *Metrics) RecordCommand(op, status string) {
	m.CommandsTotal.WithLabelValues(op, status).Inc()
}

// ObserveCommand records command duration.
func (m *Metrics) ObserveCommand(op string, seconds float64) {
	m.CommandDuration.WithLabelValues(op).Observe(seconds)
}
