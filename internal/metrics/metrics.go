// Package metrics exports relay counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livecook_relay"

// Metrics is safe for concurrent use. A nil *Metrics records nothing, which
// keeps tests free of registry wiring.
type Metrics struct {
	reg *prometheus.Registry

	connections      prometheus.Gauge
	sessions         prometheus.Gauge
	chatMessages     prometheus.Counter
	signalsForwarded *prometheus.CounterVec
	signalsDropped   *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	queueOverflows   prometheus.Counter
	panics           prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Live WebSocket connections.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions",
			Help: "Sessions with at least one member.",
		}),
		chatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chat_messages_total",
			Help: "Chat messages accepted.",
		}),
		signalsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_forwarded_total",
			Help: "Signaling messages delivered to their addressee.",
		}, []string{"kind"}),
		signalsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_dropped_total",
			Help: "Signaling messages dropped because the addressee was gone or saturated.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejected_operations_total",
			Help: "Operations answered with a rejected-operation notice.",
		}, []string{"reason"}),
		queueOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_overflows_total",
			Help: "Connections kicked because their outbound queue was full.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connection_panics_total",
			Help: "Panics recovered inside per-connection tasks.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections, m.sessions, m.chatMessages,
		m.signalsForwarded, m.signalsDropped, m.rejected,
		m.queueOverflows, m.panics,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
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

func (m *Metrics) SetSessions(n int) {
	if m != nil {
		m.sessions.Set(float64(n))
	}
}

func (m *Metrics) ChatMessage() {
	if m != nil {
		m.chatMessages.Inc()
	}
}

func (m *Metrics) SignalForwarded(kind string) {
	if m != nil {
		m.signalsForwarded.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SignalDropped(kind string) {
	if m != nil {
		m.signalsDropped.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) QueueOverflow() {
	if m != nil {
		m.queueOverflows.Inc()
	}
}

func (m *Metrics) Panic() {
	if m != nil {
		m.panics.Inc()
	}
}
