package convsocket

import (
	"encoding/json"
	"testing"
	"time"
)

var testTime = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func TestNewStartCommand_MarshalJSON(t *testing.T) {
	cmd := NewStartCommand("cmd-1", 42, "Hello", "", testTime)

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if parsed["id"] != "cmd-1" {
		t.Errorf("id = %v, want cmd-1", parsed["id"])
	}
	if parsed["type"] != "info" {
		t.Errorf("type = %v, want info", parsed["type"])
	}
	if parsed["content"] != "Hello" {
		t.Errorf("content = %v, want Hello", parsed["content"])
	}
	if parsed["conversation_id"] != float64(42) {
		t.Errorf("conversation_id = %v, want 42", parsed["conversation_id"])
	}
	if parsed["state"] != "initializing" {
		t.Errorf("state = %v, want initializing", parsed["state"])
	}
	// session_id is sent even when empty.
	if v, ok := parsed["session_id"]; !ok || v != "" {
		t.Errorf("session_id = %v (present %v), want empty string", v, ok)
	}
	if parsed["timestamp"] != "2024-05-01T12:30:00Z" {
		t.Errorf("timestamp = %v, want 2024-05-01T12:30:00Z", parsed["timestamp"])
	}
}

func TestControlCommands_MarshalJSON(t *testing.T) {
	tests := []struct {
		name        string
		cmd         *Command
		wantType    string
		wantContent interface{}
	}{
		{"pause", NewPauseCommand("c1", 7, "sess-1", testTime), "pause", nil},
		{"resume", NewResumeCommand("c2", 7, "use metric units", "sess-1", testTime), "resume", "use metric units"},
		{"resume without corrections", NewResumeCommand("c3", 7, "", "sess-1", testTime), "resume", nil},
		{"cancel", NewCancelCommand("c4", 7, "sess-1", testTime), "cancel", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.cmd)
			if err != nil {
				t.Fatalf("marshal error: %v", err)
			}

			var parsed map[string]interface{}
			if err := json.Unmarshal(data, &parsed); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}

			if parsed["type"] != tt.wantType {
				t.Errorf("type = %v, want %s", parsed["type"], tt.wantType)
			}
			if parsed["state"] != "processing" {
				t.Errorf("state = %v, want processing", parsed["state"])
			}
			if parsed["session_id"] != "sess-1" {
				t.Errorf("session_id = %v, want sess-1", parsed["session_id"])
			}
			if parsed["conversation_id"] != float64(7) {
				t.Errorf("conversation_id = %v, want 7", parsed["conversation_id"])
			}
			if parsed["content"] != tt.wantContent {
				t.Errorf("content = %v, want %v", parsed["content"], tt.wantContent)
			}
		})
	}
}

func TestNewPingCommand_MarshalJSON(t *testing.T) {
	cmd := NewPingCommand("ping-1", testTime.In(time.FixedZone("CEST", 2*60*60)))

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if len(parsed) != 3 {
		t.Errorf("ping has %d fields, want 3: %s", len(parsed), data)
	}
	if parsed["type"] != "ping" {
		t.Errorf("type = %v, want ping", parsed["type"])
	}
	if parsed["id"] != "ping-1" {
		t.Errorf("id = %v, want ping-1", parsed["id"])
	}
	if parsed["timestamp"] != "2024-05-01T12:30:00Z" {
		t.Errorf("timestamp = %v, want UTC 2024-05-01T12:30:00Z", parsed["timestamp"])
	}
}

func TestCommand_MarshalJSON_Value(t *testing.T) {
	// Non-pointer commands go through the same encoder.
	cmd := *NewPingCommand("ping-2", testTime)

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if string(data) != `{"id":"ping-2","type":"ping","timestamp":"2024-05-01T12:30:00Z"}` {
		t.Errorf("marshal = %s", data)
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType MessageType
		check    func(*SocketMessage) bool
	}{
		{
			name:     "info",
			input:    `{"id":"m1","type":"info","content":"Working on it","conversation_id":3,"state":"processing","session_id":"s1","timestamp":"2024-05-01T12:30:00Z"}`,
			wantType: TypeInfo,
			check: func(m *SocketMessage) bool {
				return m.IsInfo() && m.Content == "Working on it" && m.ConversationID == 3 &&
					m.SessionID == "s1" && m.State == Processing && m.Timestamp.Equal(testTime)
			},
		},
		{
			name:     "pause",
			input:    `{"type":"pause","session_id":"s1","timestamp":"2024-05-01T12:30:00Z"}`,
			wantType: TypePause,
			check:    func(m *SocketMessage) bool { return m.IsPause() },
		},
		{
			name:     "resume",
			input:    `{"type":"resume","timestamp":"2024-05-01T12:30:00Z"}`,
			wantType: TypeResume,
			check:    func(m *SocketMessage) bool { return m.IsResume() },
		},
		{
			name:     "cancel",
			input:    `{"type":"cancel","timestamp":"2024-05-01T12:30:00Z"}`,
			wantType: TypeCancel,
			check:    func(m *SocketMessage) bool { return m.IsCancel() },
		},
		{
			name:     "error",
			input:    `{"type":"error","content":"model unavailable","timestamp":"2024-05-01T12:30:00Z"}`,
			wantType: TypeError,
			check: func(m *SocketMessage) bool {
				return m.IsError() && m.Content == "model unavailable" && TerminalError(m) == nil
			},
		},
		{
			name:     "heartbeat",
			input:    `{"type":"heartbeat"}`,
			wantType: TypeHeartbeat,
			check:    func(m *SocketMessage) bool { return m.IsHeartbeat() },
		},
		{
			name:     "pong",
			input:    `{"type":"pong","id":"p1"}`,
			wantType: TypePong,
			check:    func(m *SocketMessage) bool { return m.IsHeartbeat() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.input))
			if err != nil {
				t.Fatalf("ParseMessage error: %v", err)
			}

			if msg.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", msg.Type, tt.wantType)
			}
			if !tt.check(msg) {
				t.Errorf("check failed for %s", tt.name)
			}
		})
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `hello`},
		{"missing type", `{"content":"x"}`},
		{"wrong field type", `{"type":"info","conversation_id":"abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tt.input)); err == nil {
				t.Errorf("ParseMessage(%s) succeeded, want error", tt.input)
			}
		})
	}
}

func TestSocketMessage_IsChecks(t *testing.T) {
	tests := []struct {
		name  string
		typ   MessageType
		check func(*SocketMessage) bool
	}{
		{"Info", TypeInfo, func(m *SocketMessage) bool { return m.IsInfo() }},
		{"Pause", TypePause, func(m *SocketMessage) bool { return m.IsPause() }},
		{"Resume", TypeResume, func(m *SocketMessage) bool { return m.IsResume() }},
		{"Cancel", TypeCancel, func(m *SocketMessage) bool { return m.IsCancel() }},
		{"Error", TypeError, func(m *SocketMessage) bool { return m.IsError() }},
		{"Heartbeat", TypeHeartbeat, func(m *SocketMessage) bool { return m.IsHeartbeat() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &SocketMessage{Type: tt.typ}
			if !tt.check(msg) {
				t.Errorf("Is%s() returned false for type %s", tt.name, tt.typ)
			}
		})
	}
}

func TestTerminalError(t *testing.T) {
	msg := newTerminalMessage("t1", ErrNoToken, "connection lost, please re-authenticate", "s1", testTime)

	if !msg.IsError() {
		t.Errorf("terminal message type = %s, want error", msg.Type)
	}
	if TerminalError(msg) != ErrNoToken {
		t.Errorf("TerminalError = %v, want %v", TerminalError(msg), ErrNoToken)
	}
	if msg.SessionID != "s1" {
		t.Errorf("SessionID = %s, want s1", msg.SessionID)
	}
	if TerminalError(nil) != nil {
		t.Error("TerminalError(nil) should be nil")
	}
}

func TestChannelKind_Valid(t *testing.T) {
	for _, k := range []ChannelKind{ChannelChat, ChannelImageGeneration, ChannelStatus} {
		if !k.Valid() {
			t.Errorf("%s should be valid", k)
		}
	}
	for _, k := range []ChannelKind{"", "video", "CHAT"} {
		if k.Valid() {
			t.Errorf("%q should be invalid", k)
		}
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name   string
		host   string
		secure bool
		kind   ChannelKind
		path   string
		token  string
		want   string
	}{
		{
			name:  "insecure chat",
			host:  "localhost:8000",
			kind:  ChannelChat,
			token: "abc",
			want:  "ws://localhost:8000/v1/ws/chat?token=abc",
		},
		{
			name:   "secure status",
			host:   "api.example.com",
			secure: true,
			kind:   ChannelStatus,
			token:  "abc",
			want:   "wss://api.example.com/v1/ws/status?token=abc",
		},
		{
			name:  "with path",
			host:  "localhost:8000",
			kind:  ChannelImageGeneration,
			path:  "/42",
			token: "abc",
			want:  "ws://localhost:8000/v1/ws/image-generation/42?token=abc",
		},
		{
			name:  "token is escaped",
			host:  "localhost:8000",
			kind:  ChannelChat,
			token: "a+b/c=",
			want:  "ws://localhost:8000/v1/ws/chat?token=a%2Bb%2Fc%3D",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildURL(tt.host, "v1", tt.secure, tt.kind, tt.path, tt.token)
			if got != tt.want {
				t.Errorf("BuildURL = %s, want %s", got, tt.want)
			}
		})
	}
}
