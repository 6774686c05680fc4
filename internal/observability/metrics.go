package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/travelchat/internal/chat"
)

// Metrics holds the chat server's Prometheus collectors. It satisfies the
// recorder interfaces of the chat, presence and membership packages.
type Metrics struct {
	registry *prometheus.Registry

	// ConnectionsActive is the number of open WebSocket connections.
	ConnectionsActive prometheus.Gauge

	// ConnectionsTotal counts connection attempts.
	// Labels: result (accepted|rejected)
	ConnectionsTotal *prometheus.CounterVec

	// FramesTotal counts inbound STOMP frames.
	// Labels: command
	FramesTotal *prometheus.CounterVec

	// EnvelopesTotal counts envelopes fanned out to a channel.
	// Labels: kind (CHAT|TYPING|PRESENCE|DELETE|DELETE_ALL)
	EnvelopesTotal *prometheus.CounterVec

	// DispatchErrorsTotal counts rejected channel operations.
	// Labels: reason
	DispatchErrorsTotal *prometheus.CounterVec

	// ForceDisconnectsTotal counts delivered FORCE_DISCONNECT signals.
	ForceDisconnectsTotal prometheus.Counter

	// PresenceUpdatesTotal counts roster changes.
	// Labels: event (join|leave)
	PresenceUpdatesTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "travelchat_connections_active",
			Help: "Number of open WebSocket connections",
		}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "travelchat_connections_total",
			Help: "Connection attempts by authentication result",
		}, []string{"result"}),
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "travelchat_frames_total",
			Help: "Inbound STOMP frames by command",
		}, []string{"command"}),
		EnvelopesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "travelchat_envelopes_total",
			Help: "Envelopes broadcast to channels by kind",
		}, []string{"kind"}),
		DispatchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "travelchat_dispatch_errors_total",
			Help: "Rejected channel operations by reason",
		}, []string{"reason"}),
		ForceDisconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "travelchat_force_disconnects_total",
			Help: "FORCE_DISCONNECT signals delivered to connections",
		}),
		PresenceUpdatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "travelchat_presence_updates_total",
			Help: "Presence roster changes by event",
		}, []string{"event"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsTotal.WithLabelValues("accepted").Inc()
	m.ConnectionsActive.Inc()
}

// ConnectionRejected records a connection refused at CONNECT.
func (m *Metrics) ConnectionRejected() {
	m.ConnectionsTotal.WithLabelValues("rejected").Inc()
}

// ConnectionClosed records a closed connection that had been accepted.
func (m *Metrics) ConnectionClosed() {
	m.ConnectionsActive.Dec()
}

// FrameReceived records an inbound frame.
func (m *Metrics) FrameReceived(command string) {
	m.FramesTotal.WithLabelValues(command).Inc()
}

func (m *Metrics) EnvelopeDispatched(kind chat.Kind) {
	m.EnvelopesTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) DispatchRejected(reason string) {
	m.DispatchErrorsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ForceDisconnectSent() {
	m.ForceDisconnectsTotal.Inc()
}

func (m *Metrics) PresenceUpdated(event string) {
	m.PresenceUpdatesTotal.WithLabelValues(event).Inc()
}
