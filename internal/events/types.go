// Package events defines event bus subjects and construction helpers.
package events

import "fmt"

// Subject patterns. Concrete subjects are built with the helpers below.
const (
	// SubjectSessionStreamAll matches every session's stream mirror.
	SubjectSessionStreamAll = "session.stream.>"

	// SubjectSandboxLifecycle carries sandbox create/destroy/reap notices.
	SubjectSandboxLifecycle = "sandbox.lifecycle"
)

// Stream event types mirrored onto the bus.
const (
	EventSessionStream    = "session.stream"
	EventSandboxCreated   = "sandbox.created"
	EventSandboxDestroyed = "sandbox.destroyed"
	EventSandboxReaped    = "sandbox.reaped"
)

// SessionStreamSubject returns the bus subject carrying one session's stream events.
func SessionStreamSubject(sessionID string) string {
	return fmt.Sprintf("session.stream.%s", sessionID)
}
