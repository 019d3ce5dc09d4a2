package convsocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"gopkg.in/tomb.v2"
)

// Transport carries frames for a single socket.
// Implementations must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, cmd *Command) error

	// Inbound delivers raw frames in the order they were read.
	Inbound() <-chan []byte

	// Done is closed once the socket is closed and the reader has stopped.
	Done() <-chan struct{}

	// Err reports why the socket closed, usually as a *CloseError.
	Err() error

	Close(code StatusCode, reason string) error
}

// Dialer opens a Transport.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, url string) (Transport, error)

// Dial calls f(ctx, url).
func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) {
	return f(ctx, url)
}

// DialOptions configures the WebSocket connection.
type DialOptions struct {
	// HTTPHeader specifies additional HTTP headers to send during handshake.
	HTTPHeader http.Header

	// HTTPClient is the HTTP client used for the handshake.
	// If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// ReadLimit caps the size of a single inbound frame. Defaults to 4MB.
	ReadLimit int64
}

const (
	defaultReadLimit = 4 * 1024 * 1024
	inboundBuffer    = 64
)

// WebsocketDialer returns a Dialer that uses Dial with opts.
func WebsocketDialer(opts *DialOptions) Dialer {
	return DialerFunc(func(ctx context.Context, url string) (Transport, error) {
		return Dial(ctx, url, opts)
	})
}

// Dial opens a WebSocket and starts reading from it.
func Dial(ctx context.Context, rawURL string, opts *DialOptions) (Transport, error) {
	dialOpts := &websocket.DialOptions{}
	readLimit := int64(defaultReadLimit)
	if opts != nil {
		if opts.HTTPHeader != nil {
			dialOpts.HTTPHeader = opts.HTTPHeader.Clone()
		}
		if opts.HTTPClient != nil {
			dialOpts.HTTPClient = opts.HTTPClient
		}
		if opts.ReadLimit > 0 {
			readLimit = opts.ReadLimit
		}
	}

	conn, _, err := websocket.Dial(ctx, rawURL, dialOpts)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = redactToken(ue.URL)
		}
		return nil, &ConnectionError{Op: "dial", URL: redactToken(rawURL), Err: err}
	}
	conn.SetReadLimit(readLimit)

	t := &wsTransport{
		conn:    conn,
		inbound: make(chan []byte, inboundBuffer),
	}
	t.tmb.Go(t.receive)

	return t, nil
}

// wsTransport implements Transport over WebSocket.
type wsTransport struct {
	conn    *websocket.Conn
	tmb     tomb.Tomb
	inbound chan []byte

	mu       sync.Mutex
	closed   bool
	closeErr error
}

// Send writes a command as a JSON text frame. The write itself runs outside
// t.mu; the connection serializes concurrent writers, and Close must not wait
// behind a stalled one.
func (t *wsTransport) Send(ctx context.Context, cmd *Command) error {
	if t.isClosed() {
		return ErrClosed
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return &SendError{Op: "marshal", Err: err}
	}

	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if t.isClosed() {
			return ErrClosed
		}
		return &ConnectionError{Op: "write", Err: err}
	}

	return nil
}

func (t *wsTransport) Inbound() <-chan []byte {
	return t.inbound
}

func (t *wsTransport) Done() <-chan struct{} {
	return t.tmb.Dead()
}

func (t *wsTransport) Err() error {
	t.mu.Lock()
	closeErr := t.closeErr
	t.mu.Unlock()
	if closeErr != nil {
		return closeErr
	}
	return t.tmb.Err()
}

// Close closes the socket. A normal closure performs the close handshake;
// any other code drops the connection immediately since the peer is presumed
// unresponsive.
func (t *wsTransport) Close(code StatusCode, reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.closeErr = &CloseError{Code: code, Reason: reason}
	t.mu.Unlock()

	var err error
	if code == StatusNormalClosure {
		err = t.conn.Close(websocket.StatusCode(code), reason)
	} else {
		err = t.conn.CloseNow()
	}

	t.tmb.Kill(nil)
	t.tmb.Wait()
	return err
}

func (t *wsTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// receive pumps frames into the inbound channel until the socket closes.
func (t *wsTransport) receive() error {
	ctx := t.tmb.Context(nil)
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			if !t.tmb.Alive() || t.isClosed() {
				return nil
			}
			return closeErrorFrom(err)
		}

		select {
		case t.inbound <- data:
		case <-t.tmb.Dying():
			return nil
		}
	}
}

// closeErrorFrom maps a read error to a CloseError, keeping the close frame
// code and reason when the peer sent one.
func closeErrorFrom(err error) *CloseError {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: StatusCode(ce.Code), Reason: ce.Reason, Err: err}
	}
	return &CloseError{Code: StatusAbnormalClosure, Err: err}
}

// redactToken hides the token query parameter so URLs can be logged.
func redactToken(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
