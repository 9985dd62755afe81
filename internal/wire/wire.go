// Package wire holds the names and shapes shared by the store's HTTP surface
// and its clients.
package wire

import (
	"encoding/json"
	"errors"
	"strings"
)

// HTTP paths.
const (
	PathHealth  = "/health"
	PathMetrics = "/metrics"

	// PathState is the legacy read (GET) and replace (POST) endpoint.
	PathState = "/state"
	// PathStateV1 is the versioned read (GET) and replace (PUT) endpoint.
	// A stale PUT is refused with 409 and a ConflictBody.
	PathStateV1 = "/api/v1/state"

	// PathSocket upgrades to a WebSocket push channel.
	PathSocket = "/ws"
	// PathStream serves the push channel as server-sent events.
	PathStream = "/state/stream"
)

// MessageTypeState marks a push message carrying a full document.
const MessageTypeState = "state"

// SSEEventState is the event name used on the SSE stream.
const SSEEventState = "state"

// Message is the push channel envelope. Payload is the raw document; readers
// must normalize it.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ConflictBody is the 409 response of PathStateV1.
type ConflictBody struct {
	CurrentState json.RawMessage `json:"currentState"`
}

// OKBody is the legacy POST acknowledgement.
type OKBody struct {
	OK bool `json:"ok"`
}

// ErrorBody carries a human-readable reason for a 4xx/5xx response.
type ErrorBody struct {
	Error string `json:"error"`
}

// ErrNotState is returned by DecodeMessage for any message that is not a
// full-state envelope.
var ErrNotState = errors.New("wire: not a state message")

// EncodeState wraps a document in a state envelope.
func EncodeState(doc json.RawMessage) ([]byte, error) {
	return json.Marshal(Message{Type: MessageTypeState, Payload: doc})
}

// DecodeMessage returns the payload of a state envelope. Other shapes,
// including malformed JSON, yield ErrNotState.
func DecodeMessage(data []byte) (json.RawMessage, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ErrNotState
	}
	if msg.Type != MessageTypeState || len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return nil, ErrNotState
	}
	return msg.Payload, nil
}

// Health is the body of PathHealth.
type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Subscribers   int    `json:"subscribers"`
}

// PushURL derives the WebSocket push endpoint from an HTTP base URL:
// http becomes ws, https becomes wss, and PathSocket is appended.
func PushURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + PathSocket
}
