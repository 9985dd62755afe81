package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "bedtime"

// Write results recorded by Metrics.
const (
	resultAccepted = "accepted"
	resultConflict = "conflict"
	resultInvalid  = "invalid"
	resultError    = "error"
)

// Metrics holds the store server's Prometheus collectors on a private
// registry.
type Metrics struct {
	registry    *prometheus.Registry
	writes      *prometheus.CounterVec
	pushed      *prometheus.CounterVec
	dropped     prometheus.Counter
	subscribers *prometheus.GaugeVec
}

// NewMetrics registers the collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "state_writes_total",
			Help:      "Document writes by endpoint variant and result.",
		}, []string{"variant", "result"}),
		pushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "push_messages_total",
			Help:      "State messages written to push channels.",
		}, []string{"transport"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "push_messages_dropped_total",
			Help:      "State messages discarded because a subscriber fell behind.",
		}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "push_subscribers",
			Help:      "Open push channels by transport.",
		}, []string{"transport"}),
	}
	m.registry.MustRegister(
		m.writes,
		m.pushed,
		m.dropped,
		m.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// MessageDropped counts one discarded push message. It is meant as a
// hub.WithDropHook callback.
func (m *Metrics) MessageDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) write(variant, result string) {
	m.writes.WithLabelValues(variant, result).Inc()
}

func (m *Metrics) push(transport string) {
	m.pushed.WithLabelValues(transport).Inc()
}

func (m *Metrics) connected(transport string) func() {
	g := m.subscribers.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}
