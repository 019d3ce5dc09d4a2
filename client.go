package convsocket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/tomb.v2"
	"k8s.io/utils/clock"
)

// State is the lifecycle state of a Client.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateClosed:       {StateConnecting, StateReconnecting, StateDisconnected},
	StateConnecting:   {StateOpen, StateClosed, StateDisconnected},
	StateOpen:         {StateClosed, StateDisconnected},
	StateReconnecting: {StateConnecting, StateClosed, StateDisconnected},
	StateDisconnected: {StateConnecting},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const (
	disconnectReason       = "client disconnect"
	heartbeatTimeoutReason = "heartbeat timeout"

	reauthenticateMessage = "connection lost, please re-authenticate"
	duplicateMessage      = "connection replaced by another session"
)

// Client is a resilient connection for one channel kind.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	kind ChannelKind
	cfg  clientConfig
	log  *zap.Logger
	subs subscribers

	// loops tracks control loop goroutines, including ones already detached
	// by Disconnect.
	loops sync.WaitGroup

	mu            sync.Mutex
	state         State
	autoReconnect bool
	sessionID     string
	token         string
	transport     Transport
	hb            *heartbeat
	retry         *reconnector
	timer         clock.Timer
	loop          *tomb.Tomb
	cancelDial    context.CancelFunc
	shared        *Client
	unshare       func()
	deferred      []func()
}

// New creates a Client for kind. It does not connect.
func New(kind ChannelKind, opts ...ClientOption) (*Client, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, kind)
	}

	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.pingInterval <= 0 || cfg.pongTimeout <= cfg.pingInterval {
		return nil, fmt.Errorf("convsocket: pong timeout %s must exceed ping interval %s", cfg.pongTimeout, cfg.pingInterval)
	}
	if cfg.registry == nil {
		cfg.registry = DefaultRegistry()
	}
	if cfg.clock == nil {
		cfg.clock = clock.RealClock{}
	}
	if cfg.dialer == nil {
		cfg.dialer = WebsocketDialer(cfg.dialOpts)
	}

	c := &Client{
		kind:          kind,
		cfg:           cfg,
		log:           cfg.logger.With(zap.String("channel", string(kind))),
		state:         StateClosed,
		autoReconnect: cfg.autoReconnect,
		retry:         newReconnector(cfg.clock, cfg.reconnectDelay, cfg.reconnectMaxDelay, cfg.maxReconnectAttempts),
	}
	cfg.metrics.setState(kind, StateClosed)

	return c, nil
}

// Kind returns the channel kind this client connects to.
func (c *Client) Kind() ChannelKind {
	return c.kind
}

// State returns the connection state. A client sharing another client's
// connection reports the owner's state.
func (c *Client) State() State {
	c.mu.Lock()
	shared, state := c.shared, c.state
	c.mu.Unlock()

	if shared != nil {
		return shared.State()
	}
	return state
}

// Connected reports whether the connection is open.
func (c *Client) Connected() bool {
	return c.State() == StateOpen
}

// SessionID returns the session assigned by the server, or "" before the
// first application message.
func (c *Client) SessionID() string {
	c.mu.Lock()
	shared, id := c.shared, c.sessionID
	c.mu.Unlock()

	if shared != nil {
		return shared.SessionID()
	}
	return id
}

// Connect opens the connection and blocks until the handshake completes.
//
// It returns nil straight away when the client is already open, connecting
// or reconnecting. When another client owns the channel and is connected,
// this client shares that connection instead of dialing. An empty token is
// resolved through the TokenProvider. Reconnects ask the TokenProvider for a
// fresh token; without one they reuse the token given here. ctx bounds the
// dial only.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.busyLocked() {
		c.mu.Unlock()
		return nil
	}
	shared := c.shared
	c.mu.Unlock()

	if shared != nil {
		if shared.Connected() {
			return nil
		}
		c.releaseShared()
	}

	if owner, ok := c.cfg.registry.Lookup(c.kind); ok && owner != Owner(c) {
		return c.adopt(owner)
	}

	explicit := token
	if token == "" {
		t, err := fetchToken(ctx, c.cfg.tokens)
		if err != nil {
			return err
		}
		token = t
	}

	if !c.cfg.registry.Register(c.kind, c) {
		if owner, ok := c.cfg.registry.Lookup(c.kind); ok {
			return c.adopt(owner)
		}
		return ErrForeignOwner
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.busyLocked() {
		c.mu.Unlock()
		return nil
	}
	c.autoReconnect = c.cfg.autoReconnect
	c.token = explicit
	c.cancelDial = cancel
	c.setStateLocked(StateConnecting)
	c.unlock()

	url := c.url(token)
	c.log.Debug("dialing", zap.String("url", redactToken(url)))
	tr, err := c.cfg.dialer.Dial(dialCtx, url)

	c.mu.Lock()
	c.cancelDial = nil
	if c.state != StateConnecting {
		c.unlock()
		if tr != nil {
			tr.Close(StatusNormalClosure, disconnectReason)
		}
		return ErrDisconnected
	}
	if err != nil {
		c.cfg.registry.Unregister(c.kind, c)
		c.setStateLocked(StateClosed)
		c.unlock()

		c.cfg.metrics.connect(c.kind, err)
		c.log.Warn("connect failed", zap.Error(err))

		var ce *ConnectionError
		if !errors.As(err, &ce) {
			err = &ConnectionError{Op: "dial", URL: redactToken(url), Err: err}
		}
		return err
	}

	hb := c.openLocked(tr)
	t := new(tomb.Tomb)
	c.loop = t
	c.unlock()

	c.cfg.metrics.connect(c.kind, nil)
	c.log.Info("connected")
	c.loops.Add(1)
	t.Go(func() error {
		defer c.loops.Done()
		return c.run(t, tr, hb)
	})

	return nil
}

// Disconnect closes the connection and stops every timer. No reconnect is
// attempted afterwards; a later Connect starts over. Dynamic subscriptions
// end. Safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.autoReconnect = false
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.hb != nil {
		c.hb.Stop()
		c.hb = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.loop != nil {
		c.loop.Kill(nil)
		c.loop = nil
	}
	tr := c.transport
	c.transport = nil
	c.cfg.registry.Unregister(c.kind, c)
	c.sessionID = ""
	c.token = ""
	unshare := c.unshare
	c.shared, c.unshare = nil, nil
	if c.state != StateDisconnected {
		c.setStateLocked(StateDisconnected)
	}
	c.unlock()

	if unshare != nil {
		unshare()
	}
	if tr != nil {
		if err := tr.Close(StatusNormalClosure, disconnectReason); err != nil {
			c.log.Debug("close on disconnect", zap.Error(err))
		}
	}
	c.subs.closeAll()
	c.log.Info("disconnected")
}

// Wait blocks until every control loop the client started has exited,
// including loops already detached by Disconnect. Call it after Disconnect
// for a clean shutdown. It must not be called from a Handler or callback,
// which run on the control loop.
func (c *Client) Wait() {
	c.loops.Wait()
}

// busyLocked reports whether a connection is open or being established.
func (c *Client) busyLocked() bool {
	switch c.state {
	case StateOpen, StateConnecting, StateReconnecting:
		return true
	}
	return c.loop != nil
}

// adopt shares owner's connection instead of opening a second socket. The
// link lasts until this client disconnects or adopts another owner, so it
// survives the owner disconnecting and connecting again.
func (c *Client) adopt(owner Owner) error {
	shared, ok := owner.(*Client)
	if !ok || !owner.Connected() {
		return ErrForeignOwner
	}

	unshare := shared.subs.addSharer(c.dispatch)

	c.mu.Lock()
	if c.shared != nil {
		c.mu.Unlock()
		unshare()
		return nil
	}
	c.shared, c.unshare = shared, unshare
	c.mu.Unlock()

	c.log.Info("sharing existing connection")
	return nil
}

func (c *Client) releaseShared() {
	c.mu.Lock()
	unshare := c.unshare
	c.shared, c.unshare = nil, nil
	c.mu.Unlock()

	if unshare != nil {
		unshare()
	}
}

func (c *Client) url(token string) string {
	return BuildURL(c.cfg.host, c.cfg.apiVersion, c.cfg.secure, c.kind, c.cfg.path, token)
}

// openLocked records a fresh transport and moves to Open.
func (c *Client) openLocked(tr Transport) *heartbeat {
	c.retry.Reset()
	c.transport = tr
	c.hb = newHeartbeat(c.cfg.clock, c.cfg.pingInterval, c.cfg.pongTimeout)
	c.setStateLocked(StateOpen)
	return c.hb
}

// setStateLocked moves to state to. The state change hook is deferred until
// unlock.
func (c *Client) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	if !canTransition(from, to) {
		c.log.Error("invalid state transition",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		return
	}

	c.state = to
	c.cfg.metrics.setState(c.kind, to)
	c.log.Debug("state change", zap.Stringer("from", from), zap.Stringer("state", to))

	if fn := c.cfg.onStateChange; fn != nil {
		c.deferred = append(c.deferred, func() { fn(from, to) })
	}
}

// terminateLocked gives up on the connection and queues one terminal error
// message for subscribers.
func (c *Client) terminateLocked(err error, content string) {
	c.loop = nil
	c.transport = nil
	c.hb = nil
	c.timer = nil
	c.setStateLocked(StateDisconnected)

	msg := newTerminalMessage(uuid.NewString(), err, content, c.sessionID, c.cfg.clock.Now())
	c.deferred = append(c.deferred, func() { c.dispatch(msg) })

	c.cfg.metrics.terminalFailure(c.kind, err)
	c.log.Error("connection terminated", zap.Error(err))
}

// unlock releases mu and then runs the callbacks queued while it was held.
func (c *Client) unlock() {
	fns := c.deferred
	c.deferred = nil
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
