package convsocket

import (
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Defaults applied by New before options.
const (
	DefaultHost                 = "localhost:8000"
	DefaultAPIVersion           = "v1"
	DefaultPingInterval         = 25 * time.Second
	DefaultPongTimeout          = 45 * time.Second
	DefaultReconnectDelay       = time.Second
	DefaultReconnectMaxDelay    = 5 * time.Minute
	DefaultMaxReconnectAttempts = 5
	DefaultWriteTimeout         = 10 * time.Second
)

// --- Client Options ---

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger   *zap.Logger
	registry Registry
	clock    clock.WithTicker
	dialer   Dialer
	dialOpts *DialOptions
	tokens   TokenProvider
	metrics  *Metrics

	host       string
	apiVersion string
	path       string
	secure     bool

	pingInterval         time.Duration
	pongTimeout          time.Duration
	reconnectDelay       time.Duration
	reconnectMaxDelay    time.Duration
	maxReconnectAttempts int
	writeTimeout         time.Duration
	autoReconnect        bool

	handlers []Handler

	onSend        func(*Command)
	onSendError   func(*Command, error)
	onReceive     func(*SocketMessage)
	onStateChange func(from, to State)
	onReconnect   func(attempt int, delay time.Duration)
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		logger:               zap.NewNop(),
		registry:             DefaultRegistry(),
		clock:                clock.RealClock{},
		host:                 DefaultHost,
		apiVersion:           DefaultAPIVersion,
		pingInterval:         DefaultPingInterval,
		pongTimeout:          DefaultPongTimeout,
		reconnectDelay:       DefaultReconnectDelay,
		reconnectMaxDelay:    DefaultReconnectMaxDelay,
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		writeTimeout:         DefaultWriteTimeout,
		autoReconnect:        true,
	}
}

// WithLogger sets a structured logger for the client.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegistry sets the registry used to enforce one connection per channel.
func WithRegistry(r Registry) ClientOption {
	return func(c *clientConfig) {
		c.registry = r
	}
}

// WithClock replaces the clock driving heartbeats and reconnect delays.
func WithClock(clk clock.WithTicker) ClientOption {
	return func(c *clientConfig) {
		c.clock = clk
	}
}

// WithDialer replaces the WebSocket dialer, mostly for tests.
func WithDialer(d Dialer) ClientOption {
	return func(c *clientConfig) {
		c.dialer = d
	}
}

// WithDialOptions configures the default WebSocket dialer.
func WithDialOptions(opts *DialOptions) ClientOption {
	return func(c *clientConfig) {
		c.dialOpts = opts
	}
}

// WithTokenProvider sets the source of tokens for Connect calls without an
// explicit token and for reconnect attempts. Without a provider, reconnects
// reuse the token passed to Connect.
func WithTokenProvider(p TokenProvider) ClientOption {
	return func(c *clientConfig) {
		c.tokens = p
	}
}

// WithMetrics records connection metrics into m.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *clientConfig) {
		c.metrics = m
	}
}

// WithHost sets the backend host, including the port.
func WithHost(host string) ClientOption {
	return func(c *clientConfig) {
		c.host = host
	}
}

// WithAPIVersion sets the API version path segment.
func WithAPIVersion(v string) ClientOption {
	return func(c *clientConfig) {
		c.apiVersion = v
	}
}

// WithPath appends a path after the channel kind, e.g. "/42".
func WithPath(path string) ClientOption {
	return func(c *clientConfig) {
		c.path = path
	}
}

// WithSecure selects wss instead of ws.
func WithSecure(secure bool) ClientOption {
	return func(c *clientConfig) {
		c.secure = secure
	}
}

// WithHeartbeat sets the ping interval and the pong timeout.
func WithHeartbeat(interval, timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.pingInterval = interval
		c.pongTimeout = timeout
	}
}

// WithReconnectDelay sets the base delay of the reconnect backoff.
func WithReconnectDelay(base time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.reconnectDelay = base
	}
}

// WithReconnectMaxDelay caps a single reconnect delay.
func WithReconnectMaxDelay(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.reconnectMaxDelay = d
	}
}

// WithMaxReconnectAttempts bounds consecutive reconnect attempts.
// Zero disables reconnection attempts while still reporting exhaustion.
func WithMaxReconnectAttempts(n int) ClientOption {
	return func(c *clientConfig) {
		c.maxReconnectAttempts = n
	}
}

// WithWriteTimeout bounds each command write.
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.writeTimeout = d
	}
}

// WithAutoReconnect enables or disables reconnection after a socket close.
func WithAutoReconnect(enabled bool) ClientOption {
	return func(c *clientConfig) {
		c.autoReconnect = enabled
	}
}

// WithHandler subscribes h for the lifetime of the client. Unlike Subscribe,
// handlers added here survive Disconnect.
func WithHandler(h Handler) ClientOption {
	return func(c *clientConfig) {
		if h != nil {
			c.handlers = append(c.handlers, h)
		}
	}
}

// WithOnSend sets a callback invoked before each command is written.
func WithOnSend(fn func(*Command)) ClientOption {
	return func(c *clientConfig) {
		c.onSend = fn
	}
}

// WithOnSendError sets a callback invoked when a command write fails.
func WithOnSendError(fn func(*Command, error)) ClientOption {
	return func(c *clientConfig) {
		c.onSendError = fn
	}
}

// WithOnReceive sets a callback invoked for every application message before
// it is handed to subscribers.
func WithOnReceive(fn func(*SocketMessage)) ClientOption {
	return func(c *clientConfig) {
		c.onReceive = fn
	}
}

// WithOnStateChange sets a callback invoked after every state transition.
func WithOnStateChange(fn func(from, to State)) ClientOption {
	return func(c *clientConfig) {
		c.onStateChange = fn
	}
}

// WithOnReconnect sets a callback invoked when a reconnect attempt is
// scheduled. attempt starts at 1.
func WithOnReconnect(fn func(attempt int, delay time.Duration)) ClientOption {
	return func(c *clientConfig) {
		c.onReconnect = fn
	}
}
