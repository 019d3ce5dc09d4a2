package convsocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu       sync.Mutex
	sent     []*Command
	sendErr  error
	closeErr error
	closed   bool

	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// Channel signaled when a command is sent
	onSend chan *Command
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		inbound: make(chan []byte, 100),
		done:    make(chan struct{}),
		onSend:  make(chan *Command, 100),
	}
}

func (m *mockTransport) Send(ctx context.Context, cmd *Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, cmd)

	select {
	case m.onSend <- cmd:
	default:
	}
	return nil
}

func (m *mockTransport) Inbound() <-chan []byte {
	return m.inbound
}

func (m *mockTransport) Done() <-chan struct{} {
	return m.done
}

func (m *mockTransport) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeErr
}

func (m *mockTransport) Close(code StatusCode, reason string) error {
	m.closeWith(&CloseError{Code: code, Reason: reason})
	return nil
}

// remoteClose simulates the server closing the socket.
func (m *mockTransport) remoteClose(code StatusCode, reason string) {
	m.closeWith(&CloseError{Code: code, Reason: reason})
}

func (m *mockTransport) closeWith(err *CloseError) {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.closeErr = err
		m.mu.Unlock()
		close(m.done)
	})
}

func (m *mockTransport) setSendErr(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

func (m *mockTransport) push(t *testing.T, frame interface{}) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	m.inbound <- data
}

func (m *mockTransport) pushRaw(data string) {
	m.inbound <- []byte(data)
}

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockTransport) closeError() *CloseError {
	m.mu.Lock()
	defer m.mu.Unlock()
	ce, _ := m.closeErr.(*CloseError)
	return ce
}

func (m *mockTransport) sentOfType(typ MessageType) []*Command {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Command
	for _, cmd := range m.sent {
		if cmd.Type == typ {
			out = append(out, cmd)
		}
	}
	return out
}

func (m *mockTransport) waitForSend(t *testing.T, timeout time.Duration) *Command {
	t.Helper()
	select {
	case cmd := <-m.onSend:
		return cmd
	case <-time.After(timeout):
		t.Fatal("timeout waiting for send")
		return nil
	}
}

// mockDialer implements Dialer, handing out mockTransports.
type mockDialer struct {
	mu         sync.Mutex
	urls       []string
	transports []*mockTransport
	failures   []error
	failAll    error

	dialed chan string
}

func newMockDialer() *mockDialer {
	return &mockDialer{dialed: make(chan string, 100)}
}

func (d *mockDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)

	var err error
	switch {
	case len(d.failures) > 0:
		err, d.failures = d.failures[0], d.failures[1:]
	case d.failAll != nil:
		err = d.failAll
	}

	var tr *mockTransport
	if err == nil {
		tr = newMockTransport()
		d.transports = append(d.transports, tr)
	}
	d.mu.Unlock()

	select {
	case d.dialed <- url:
	default:
	}

	if err != nil {
		return nil, &ConnectionError{Op: "dial", URL: url, Err: err}
	}
	return tr, nil
}

// failNext makes the next n dials fail.
func (d *mockDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.failures = append(d.failures, errConnRefused)
	}
}

func (d *mockDialer) failAlways() {
	d.mu.Lock()
	d.failAll = errConnRefused
	d.mu.Unlock()
}

func (d *mockDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *mockDialer) lastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

func (d *mockDialer) last() *mockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

func (d *mockDialer) waitForDial(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case url := <-d.dialed:
		return url
	case <-time.After(timeout):
		t.Fatal("timeout waiting for dial")
		return ""
	}
}

var errConnRefused = errors.New("connection refused")

type reconnectEvent struct {
	attempt int
	delay   time.Duration
}

// testEnv wires a Client to a fake clock, a mock dialer and an isolated
// registry, and records what the client reports.
type testEnv struct {
	clock    *testingclock.FakeClock
	dialer   *mockDialer
	registry *ChannelRegistry
}

func newTestEnv() *testEnv {
	return &testEnv{
		clock:    testingclock.NewFakeClock(testTime),
		dialer:   newMockDialer(),
		registry: NewRegistry(),
	}
}

type recorder struct {
	messages   chan *SocketMessage
	states     chan State
	reconnects chan reconnectEvent
}

func (e *testEnv) newClient(t *testing.T, kind ChannelKind, opts ...ClientOption) (*Client, *recorder) {
	t.Helper()

	rec := &recorder{
		messages:   make(chan *SocketMessage, 100),
		states:     make(chan State, 100),
		reconnects: make(chan reconnectEvent, 100),
	}

	base := []ClientOption{
		WithLogger(zaptest.NewLogger(t)),
		WithClock(e.clock),
		WithDialer(e.dialer),
		WithRegistry(e.registry),
		WithTokenProvider(StaticToken("test-token")),
		WithHandler(func(msg *SocketMessage) { rec.messages <- msg }),
		WithOnStateChange(func(_, to State) { rec.states <- to }),
		WithOnReconnect(func(attempt int, delay time.Duration) {
			rec.reconnects <- reconnectEvent{attempt: attempt, delay: delay}
		}),
	}

	c, err := New(kind, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { shutdown(c) })
	return c, rec
}

// shutdown disconnects c and waits for its control loops to exit.
func shutdown(c *Client) {
	c.Disconnect()
	c.Wait()
}

func (r *recorder) waitForMessage(t *testing.T, timeout time.Duration) *SocketMessage {
	t.Helper()
	select {
	case msg := <-r.messages:
		return msg
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func (r *recorder) waitForReconnect(t *testing.T, timeout time.Duration) reconnectEvent {
	t.Helper()
	select {
	case ev := <-r.reconnects:
		return ev
	case <-time.After(timeout):
		t.Fatal("timeout waiting for reconnect to be scheduled")
		return reconnectEvent{}
	}
}

func (r *recorder) waitForState(t *testing.T, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case s := <-r.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for state %s", want)
		}
	}
}

// drainStates discards the state changes seen so far.
func (r *recorder) drainStates() {
	for {
		select {
		case <-r.states:
		default:
			return
		}
	}
}

// drainMessages returns the messages received so far.
func (r *recorder) drainMessages() []*SocketMessage {
	var out []*SocketMessage
	for {
		select {
		case msg := <-r.messages:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// fakeOwner is a registry owner that is not a Client.
type fakeOwner struct {
	connected bool
}

func (o *fakeOwner) Connected() bool {
	return o.connected
}
