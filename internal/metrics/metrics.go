/*
File: internal/metrics/metrics.go
Description: Prometheus collectors for the real-time core.
*/
// Package metrics defines the service's Prometheus instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the core components report to. One
// instance is created per process and passed by reference.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	ActiveCalls       prometheus.Gauge
	MessagesSent      prometheus.Counter
	MessagesRecovered prometheus.Counter
	FanoutPushes      *prometheus.CounterVec
	EventErrors       *prometheus.CounterVec
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "active_connections",
			Help:      "Number of live WebSocket connections.",
		}),
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "active_call_sessions",
			Help:      "Number of call sessions in a non-terminal state.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "messages_sent_total",
			Help:      "Messages accepted and persisted.",
		}),
		MessagesRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "messages_recovered_total",
			Help:      "Messages replayed to reconnecting clients.",
		}),
		FanoutPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "fanout_pushes_total",
			Help:      "Per-connection push attempts by result.",
		}, []string{"result"}),
		EventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "event_errors_total",
			Help:      "Inbound event failures by error kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ActiveCalls,
		m.MessagesSent,
		m.MessagesRecovered,
		m.FanoutPushes,
		m.EventErrors,
	)
	return m
}

// NewTest creates an unregistered-elsewhere Metrics on a private registry,
// for use in tests.
func NewTest() *Metrics {
	return New(prometheus.NewRegistry())
}
