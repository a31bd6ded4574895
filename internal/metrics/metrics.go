// Package metrics holds the Prometheus collectors of the console server.
// A nil *Metrics is valid and records nothing, which keeps tests free of
// registry setup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "consoled"

// Metrics groups every collector the server updates.
type Metrics struct {
	connections      prometheus.Gauge
	requests         *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	pushes           *prometheus.CounterVec
	pushFailures     *prometheus.CounterVec
	upstreamActive   prometheus.Gauge
	upstreamFailures prometheus.Counter
	graphChanges     prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of open client connections.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Client requests dispatched, by call name.",
		}, []string{"call"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Client requests dropped before dispatch, by reason.",
		}, []string{"reason"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Messages queued to clients, by message type.",
		}, []string{"type"}),
		pushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_failures_total",
			Help:      "Messages that could not be queued, by message type.",
		}, []string{"type"}),
		upstreamActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_subscriptions",
			Help:      "Upstream transport subscriptions held on behalf of clients.",
		}),
		upstreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_release_failures_total",
			Help:      "Upstream subscriptions whose release failed.",
		}),
		graphChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_graph_changes_total",
			Help:      "Dependency topology changes observed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.connections, m.requests, m.rejected, m.pushes, m.pushFailures,
			m.upstreamActive, m.upstreamFailures, m.graphChanges,
		)
	}
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) Request(call string) {
	if m != nil {
		m.requests.WithLabelValues(call).Inc()
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Pushed(msgType string) {
	if m != nil {
		m.pushes.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) PushFailed(msgType string) {
	if m != nil {
		m.pushFailures.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) UpstreamTracked() {
	if m != nil {
		m.upstreamActive.Inc()
	}
}

func (m *Metrics) UpstreamReleased(err error) {
	if m == nil {
		return
	}
	m.upstreamActive.Dec()
	if err != nil {
		m.upstreamFailures.Inc()
	}
}

func (m *Metrics) GraphChanged() {
	if m != nil {
		m.graphChanges.Inc()
	}
}
