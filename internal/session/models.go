// Package session provides the session and message store.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser    Sender = "user"
	SenderPlanner Sender = "planner"
	SenderAgent   Sender = "agent"
	SenderStatus  Sender = "status"
)

// DefaultTitlePrefix marks a session title that has not been renamed yet.
// The first user message replaces such titles with its leading text.
const DefaultTitlePrefix = "Session "

// Message is one entry in a session's append-only transcript.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Sender    Sender         `json:"sender"`
	Agent     string         `json:"agent,omitempty"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session groups an owner's conversation and its transcript.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// NewSession creates a session with a generated id and placeholder title.
func NewSession(ownerID, title string) *Session {
	id := uuid.New().String()
	if title == "" {
		title = DefaultTitlePrefix + shortID(id)
	}
	return &Session{
		ID:        id,
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
		Messages:  []Message{},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// renameFromFirstMessage applies the default-title heuristic: a title still
// carrying the placeholder prefix is replaced by the first 60 characters of
// the first user message.
func renameFromFirstMessage(title, content string) (string, bool) {
	if len(title) < len(DefaultTitlePrefix) || title[:len(DefaultTitlePrefix)] != DefaultTitlePrefix {
		return title, false
	}
	trimmed := []rune(content)
	if len(trimmed) == 0 {
		return title, false
	}
	if len(trimmed) > 60 {
		trimmed = trimmed[:60]
	}
	return string(trimmed), true
}
