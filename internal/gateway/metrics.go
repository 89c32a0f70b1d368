// ABOUTME: Prometheus instrumentation for the websocket gateway
// ABOUTME: Tracks active connections, handled events and emitted errors

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "chat_gateway"

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and disables instrumentation.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	DroppedEvents     prometheus.Counter
}

// NewMetrics registers the gateway collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of websocket connections currently open.",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Client events handled, by event name.",
		}, []string{"event"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Error events sent to clients, by code.",
		}, []string{"code"}),
		DroppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_events_total",
			Help:      "Outbound events dropped because a client's send buffer was full.",
		}),
	}
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.ConnectionsActive.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.ConnectionsActive.Dec()
	}
}

func (m *Metrics) eventHandled(name string) {
	if m != nil {
		m.EventsTotal.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) errorSent(code string) {
	if m != nil {
		m.ErrorsTotal.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) eventDropped() {
	if m != nil {
		m.DroppedEvents.Inc()
	}
}
