// Package stream carries per-turn events from agents to transports and
// to the message store. It decouples the orchestrator and agents from
// any knowledge of WebSocket connections or repository backends.
package stream

import (
	"time"
)

// EventType classifies a stream event.
type EventType string

const (
	// EventToken is a chunk of an in-progress message (Final=false) or
	// the completed aggregate (Final=true).
	EventToken EventType = "token"
	// EventStatus is a user-visible progress note.
	EventStatus EventType = "status"
	// EventError reports an unrecoverable agent or provider failure.
	EventError EventType = "error"
	// EventMessage is a pre-composed final user or system message.
	EventMessage EventType = "message"
	// EventToolCall records that a tool was invoked.
	EventToolCall EventType = "tool_call"
	// EventFileChange is a workspace file mutation notice. Never persisted.
	EventFileChange EventType = "file_change"
)

// Event is the wire shape of one stream event. Sequence is assigned by
// the Manager per session; timestamps are normalized to UTC RFC 3339.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Sender    string         `json:"sender"`
	Agent     string         `json:"agent,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Content   string         `json:"content"`
	Final     bool           `json:"final"`
	Sequence  uint64         `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// PersistFinal marks a Final token event for persistence. Internal
	// to the fabric; not part of the wire shape.
	PersistFinal bool `json:"-"`
}

// NormalizeTimestamp returns the parsed RFC 3339 value when supplied and
// parseable, otherwise the current time.
func NormalizeTimestamp(value string) time.Time {
	if value != "" {
		if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return ts.UTC()
		}
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

// persisted reports whether an event of this shape reaches the message store.
func (e *Event) persisted() bool {
	switch e.Type {
	case EventToken:
		return e.Final && e.PersistFinal
	case EventStatus, EventError, EventMessage, EventToolCall:
		return true
	default:
		return false
	}
}
