package convsocket

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrClosed               = errors.New("convsocket: connection closed")
	ErrDisconnected         = errors.New("convsocket: client disconnected")
	ErrForeignOwner         = errors.New("convsocket: foreign owner not connected")
	ErrDuplicateConnection  = errors.New("convsocket: duplicate connection rejected")
	ErrHeartbeatTimeout     = errors.New("convsocket: heartbeat timeout")
	ErrNoToken              = errors.New("convsocket: no authentication token")
	ErrRetryBudgetExhausted = errors.New("convsocket: reconnect attempts exhausted")
	ErrInvalidChannel       = errors.New("convsocket: invalid channel kind")
	ErrBufferFull           = errors.New("convsocket: buffer full")
)

// ConnectionError represents a connection-level error.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("convsocket: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("convsocket: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SendError represents an error during frame sending.
type SendError struct {
	Op  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("convsocket: send %s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// CloseError describes why a socket closed. Code and Reason are the WebSocket
// close frame values when one was received or sent; Err is the underlying
// read error, if any.
type CloseError struct {
	Code   StatusCode
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("convsocket: socket closed [%d]: %s", e.Code, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("convsocket: socket closed [%d]: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("convsocket: socket closed [%d]", e.Code)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// IsDuplicateRejection reports whether err is the server's duplicate
// connection close (code 1000, reason "Duplicate connection").
func IsDuplicateRejection(err error) bool {
	var ce *CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == StatusNormalClosure && ce.Reason == DuplicateConnectionReason
}
