package convsocket

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by clients. A nil *Metrics
// records nothing.
type Metrics struct {
	// Connection metrics
	Connects          *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec
	HeartbeatTimeouts *prometheus.CounterVec
	TerminalFailures  *prometheus.CounterVec
	State             *prometheus.GaugeVec

	// Frame metrics
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Connects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convsocket_connects_total",
				Help: "Total number of socket dials by result",
			},
			[]string{"channel", "result"},
		),
		ReconnectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convsocket_reconnect_attempts_total",
				Help: "Total number of scheduled reconnect attempts",
			},
			[]string{"channel"},
		),
		HeartbeatTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convsocket_heartbeat_timeouts_total",
				Help: "Total number of sockets force-closed for missing pongs",
			},
			[]string{"channel"},
		),
		TerminalFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convsocket_terminal_failures_total",
				Help: "Total number of connections that gave up",
			},
			[]string{"channel", "reason"},
		),
		State: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "convsocket_state",
				Help: "Current connection state per channel (0 closed, 1 connecting, 2 open, 3 reconnecting, 4 disconnected)",
			},
			[]string{"channel"},
		),
		FramesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convsocket_frames_sent_total",
				Help: "Total number of frames written",
			},
			[]string{"channel", "type"},
		),
		FramesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convsocket_frames_received_total",
				Help: "Total number of frames read",
			},
			[]string{"channel", "type"},
		),
	}
}

func (m *Metrics) connect(kind ChannelKind, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Connects.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) reconnectAttempt(kind ChannelKind) {
	if m == nil {
		return
	}
	m.ReconnectAttempts.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) heartbeatTimeout(kind ChannelKind) {
	if m == nil {
		return
	}
	m.HeartbeatTimeouts.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) terminalFailure(kind ChannelKind, err error) {
	if m == nil {
		return
	}
	m.TerminalFailures.WithLabelValues(string(kind), failureReason(err)).Inc()
}

func (m *Metrics) setState(kind ChannelKind, s State) {
	if m == nil {
		return
	}
	m.State.WithLabelValues(string(kind)).Set(float64(s))
}

func (m *Metrics) frameSent(kind ChannelKind, t MessageType) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(string(kind), string(t)).Inc()
}

func (m *Metrics) frameReceived(kind ChannelKind, t MessageType) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(string(kind), string(t)).Inc()
}

// failureReason maps a terminal error to a low-cardinality label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateConnection):
		return "duplicate"
	case errors.Is(err, ErrRetryBudgetExhausted):
		return "budget_exhausted"
	case errors.Is(err, ErrNoToken):
		return "no_token"
	default:
		return "other"
	}
}
