// Package protocol defines the room WebSocket frames exchanged between
// browsers and the chat service.
package protocol

import "encoding/json"

// FrameType identifies the type of WebSocket frame.
type FrameType string

const (
	// Connection lifecycle
	FrameTypeConnectionAck     FrameType = "connection_ack"
	FrameTypeConnectionClosing FrameType = "connection_closing"

	// Heartbeat
	FrameTypePing FrameType = "ping"
	FrameTypePong FrameType = "pong"

	// Timeline
	FrameTypeSnapshot FrameType = "snapshot"
	FrameTypeMessage  FrameType = "message"
	FrameTypeSystem   FrameType = "system"

	// Sending
	FrameTypeSendMessage FrameType = "send_message"
	FrameTypeSendResult  FrameType = "send_result"

	// Notices
	FrameTypeAdvisory FrameType = "advisory"
	FrameTypeError    FrameType = "error"
)

// Frame is the base structure for all WebSocket frames.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectionAck is sent by the server once the room is joined.
type ConnectionAck struct {
	ConnectionID        string `json:"connection_id"`
	RoomID              string `json:"room_id"`
	UserID              string `json:"user_id"`
	HeartbeatIntervalMs int    `json:"heartbeat_interval_ms"`
}

// ConnectionClosing is sent by the server before closing the connection.
type ConnectionClosing struct {
	Reason string `json:"reason"`
	Code   int    `json:"code"`
}

// Ping is sent by the client to check server liveness.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Pong answers Ping with the same timestamp.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// Entry is one timeline item. UserID is empty and Kind set for system
// entries.
type Entry struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	Type      string `json:"type"` // "user" or "system"
	UserID    string `json:"user_id,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"` // RFC 3339, UTC
}

// Snapshot carries the whole timeline, oldest first. It is the first frame
// after ConnectionAck.
type Snapshot struct {
	RoomID  string  `json:"room_id"`
	Entries []Entry `json:"entries"`
}

// SendMessage is sent by the client to post a chat message.
type SendMessage struct {
	RequestID string `json:"request_id"`
	Content   string `json:"content"`
}

// SendResult answers SendMessage. Entry is set when State is "delivered".
type SendResult struct {
	RequestID string `json:"request_id"`
	State     string `json:"state"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Entry     *Entry `json:"entry,omitempty"`
}

// Advisory is a user-facing notice such as a retry in progress.
type Advisory struct {
	Severity string `json:"severity"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
}

// Error is sent by the server to report a malformed client frame.
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// NewFrame creates a Frame with the given type and payload.
func NewFrame(frameType FrameType, payload any) (*Frame, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return &Frame{
		Type:    frameType,
		Payload: payloadBytes,
	}, nil
}

// ParsePayload unmarshals the frame payload into the given struct.
func (f *Frame) ParsePayload(v any) error {
	if f.Payload == nil {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

// Encode renders a frame with payload in one step.
func Encode(frameType FrameType, payload any) ([]byte, error) {
	f, err := NewFrame(frameType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// Decode parses a raw frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
