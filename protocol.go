package convsocket

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// ChannelKind identifies a logical channel. At most one live connection per
// kind is allowed per registry.
type ChannelKind string

const (
	ChannelChat            ChannelKind = "chat"
	ChannelImageGeneration ChannelKind = "image-generation"
	ChannelStatus          ChannelKind = "status"
)

// Valid reports whether k is one of the known channel kinds.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelChat, ChannelImageGeneration, ChannelStatus:
		return true
	}
	return false
}

// MessageType is the "type" tag of a frame.
type MessageType string

const (
	TypeInfo      MessageType = "info"
	TypePause     MessageType = "pause"
	TypeResume    MessageType = "resume"
	TypeCancel    MessageType = "cancel"
	TypeError     MessageType = "error"
	TypePing      MessageType = "ping"
	TypePong      MessageType = "pong"
	TypeHeartbeat MessageType = "heartbeat"
)

// ProcessingState is the processing-state tag carried by commands and messages.
type ProcessingState string

const (
	Initializing ProcessingState = "initializing"
	Processing   ProcessingState = "processing"
)

// StatusCode is a WebSocket close code.
type StatusCode int

const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusPolicyViolation StatusCode = 1008
	StatusAbnormalClosure StatusCode = 1006
)

// DuplicateConnectionReason is the close reason the server uses, together
// with StatusNormalClosure, when another connection already owns the channel.
const DuplicateConnectionReason = "Duplicate connection"

// --- Commands (Client -> Server) ---

// Command is an outbound frame. Ping frames only carry ID, Type and Timestamp.
type Command struct {
	ID             string          `json:"id"`
	Type           MessageType     `json:"type"`
	Content        string          `json:"content,omitempty"`
	ConversationID int             `json:"conversation_id"`
	State          ProcessingState `json:"state"`
	SessionID      string          `json:"session_id"`
	Timestamp      time.Time       `json:"timestamp"`
}

// pingFrame is the wire shape of a ping; it omits the command-only fields.
type pingFrame struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// MarshalJSON encodes ping commands in their reduced control-plane shape.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Type == TypePing {
		return json.Marshal(pingFrame{ID: c.ID, Type: c.Type, Timestamp: c.Timestamp})
	}
	type command Command
	return json.Marshal(command(c))
}

// NewStartCommand creates the "info" command that starts processing a message.
func NewStartCommand(id string, conversationID int, content, sessionID string, ts time.Time) *Command {
	return &Command{
		ID:             id,
		Type:           TypeInfo,
		Content:        content,
		ConversationID: conversationID,
		State:          Initializing,
		SessionID:      sessionID,
		Timestamp:      ts.UTC(),
	}
}

// NewPauseCommand creates a pause command.
func NewPauseCommand(id string, conversationID int, sessionID string, ts time.Time) *Command {
	return newControlCommand(id, TypePause, conversationID, "", sessionID, ts)
}

// NewResumeCommand creates a resume command; corrections travel as content.
func NewResumeCommand(id string, conversationID int, corrections, sessionID string, ts time.Time) *Command {
	return newControlCommand(id, TypeResume, conversationID, corrections, sessionID, ts)
}

// NewCancelCommand creates a cancel command.
func NewCancelCommand(id string, conversationID int, sessionID string, ts time.Time) *Command {
	return newControlCommand(id, TypeCancel, conversationID, "", sessionID, ts)
}

// NewPingCommand creates a heartbeat ping.
func NewPingCommand(id string, ts time.Time) *Command {
	return &Command{
		ID:        id,
		Type:      TypePing,
		Timestamp: ts.UTC(),
	}
}

func newControlCommand(id string, t MessageType, conversationID int, content, sessionID string, ts time.Time) *Command {
	return &Command{
		ID:             id,
		Type:           t,
		Content:        content,
		ConversationID: conversationID,
		State:          Processing,
		SessionID:      sessionID,
		Timestamp:      ts.UTC(),
	}
}

// --- Messages (Server -> Client) ---

// SocketMessage is an inbound application message.
type SocketMessage struct {
	ID             string          `json:"id,omitempty"`
	Type           MessageType     `json:"type"`
	Content        string          `json:"content,omitempty"`
	ConversationID int             `json:"conversation_id,omitempty"`
	State          ProcessingState `json:"state,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`

	// err is set on locally generated terminal failure messages.
	err error
}

// ParseMessage decodes a raw inbound frame.
func ParseMessage(data []byte) (*SocketMessage, error) {
	var msg SocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("convsocket: decode frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("convsocket: decode frame: missing type")
	}
	return &msg, nil
}

// IsHeartbeat returns true for control-plane heartbeat and pong frames.
func (m *SocketMessage) IsHeartbeat() bool {
	return m.Type == TypeHeartbeat || m.Type == TypePong
}

// IsInfo returns true if this is an info message.
func (m *SocketMessage) IsInfo() bool {
	return m.Type == TypeInfo
}

// IsPause returns true if this is a pause message.
func (m *SocketMessage) IsPause() bool {
	return m.Type == TypePause
}

// IsResume returns true if this is a resume message.
func (m *SocketMessage) IsResume() bool {
	return m.Type == TypeResume
}

// IsCancel returns true if this is a cancel message.
func (m *SocketMessage) IsCancel() bool {
	return m.Type == TypeCancel
}

// IsError returns true if this is an error message.
func (m *SocketMessage) IsError() bool {
	return m.Type == TypeError
}

// TerminalError returns the failure behind a locally generated terminal
// message, or nil for messages that came from the server.
func TerminalError(m *SocketMessage) error {
	if m == nil {
		return nil
	}
	return m.err
}

func newTerminalMessage(id string, err error, content, sessionID string, ts time.Time) *SocketMessage {
	return &SocketMessage{
		ID:        id,
		Type:      TypeError,
		Content:   content,
		SessionID: sessionID,
		Timestamp: ts.UTC(),
		err:       err,
	}
}

// BuildURL returns the socket URL for a channel:
// {scheme}://{host}/{apiVersion}/ws/{kind}{path}?token={token}.
func BuildURL(host, apiVersion string, secure bool, kind ChannelKind, path, token string) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   "/" + apiVersion + "/ws/" + string(kind) + path,
	}
	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
