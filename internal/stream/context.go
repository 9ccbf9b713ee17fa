package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/session"
)

// Publisher fans an event out to transport subscribers.
type Publisher func(ctx context.Context, ev *Event) error

// PersistFunc appends a final message to the session store.
type PersistFunc func(ctx context.Context, msg *session.Message) (*session.Message, error)

// Context is the per-turn stream binding, created by the orchestrator
// entry point and passed explicitly down through agents and tools.
// It is the only place that appends to the turn's persisted-message list.
type Context struct {
	SessionID string
	OwnerID   string
	UserID    string

	publisher Publisher
	persist   PersistFunc
	log       *logger.Logger

	mu        sync.Mutex
	persisted []*session.Message
}

// NewContext builds a turn context. publisher may be nil (batch mode):
// events are then dropped for transport but persistence still happens.
func NewContext(sessionID, ownerID, userID string, publisher Publisher, persist PersistFunc, log *logger.Logger) *Context {
	if log == nil {
		log = logger.Default()
	}
	return &Context{
		SessionID: sessionID,
		OwnerID:   ownerID,
		UserID:    userID,
		publisher: publisher,
		persist:   persist,
		log:       log.WithFields(zap.String("component", "stream"), zap.String("session_id", sessionID)),
	}
}

// Persisted returns the messages persisted during this turn, in order.
func (c *Context) Persisted() []*session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*session.Message, len(c.persisted))
	copy(out, c.persisted)
	return out
}

// Publish sends one event through the fabric: transport fan-out first,
// then persistence for event kinds that reach the store.
func (c *Context) Publish(ctx context.Context, ev *Event) error {
	if ev.SessionID == "" {
		ev.SessionID = c.SessionID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if c.publisher != nil {
		if err := c.publisher(ctx, ev); err != nil {
			// Transport failures never fail the turn.
			c.log.Warn("publisher send failed", zap.Error(err))
		}
	}

	if !ev.persisted() || c.persist == nil {
		return nil
	}

	msg := &session.Message{
		ID:        ev.MessageID,
		SessionID: c.SessionID,
		Sender:    session.Sender(ev.Sender),
		Agent:     ev.Agent,
		Content:   ev.Content,
		Timestamp: ev.Timestamp,
		Metadata:  ev.Metadata,
	}
	saved, err := c.persist(ctx, msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.persisted = append(c.persisted, saved)
	c.mu.Unlock()
	return nil
}

// PublishToken emits one token chunk or the final aggregate for a message id.
func (c *Context) PublishToken(ctx context.Context, sender, agent, messageID, content string, final, persistFinal bool) error {
	return c.Publish(ctx, &Event{
		Type:         EventToken,
		Sender:       sender,
		Agent:        agent,
		MessageID:    messageID,
		Content:      content,
		Final:        final,
		PersistFinal: persistFinal,
	})
}

// PublishStatus emits a persisted progress note.
func (c *Context) PublishStatus(ctx context.Context, content string) error {
	return c.Publish(ctx, &Event{
		Type:    EventStatus,
		Sender:  string(session.SenderStatus),
		Content: content,
		Final:   true,
	})
}

// PublishError emits a persisted error event tied to a message id.
func (c *Context) PublishError(ctx context.Context, agent, messageID, content string) error {
	return c.Publish(ctx, &Event{
		Type:      EventError,
		Sender:    string(session.SenderStatus),
		Agent:     agent,
		MessageID: messageID,
		Content:   content,
		Final:     true,
	})
}

// PublishMessage emits a pre-composed final message.
func (c *Context) PublishMessage(ctx context.Context, sender, agent, messageID, content string) error {
	return c.Publish(ctx, &Event{
		Type:      EventMessage,
		Sender:    sender,
		Agent:     agent,
		MessageID: messageID,
		Content:   content,
		Final:     true,
	})
}

// PublishToolCall emits the informational tool invocation record.
func (c *Context) PublishToolCall(ctx context.Context, agent, tool string) error {
	return c.Publish(ctx, &Event{
		Type:    EventToolCall,
		Sender:  string(session.SenderStatus),
		Agent:   agent,
		Content: "[tool call] " + tool,
		Final:   true,
	})
}

// PublishFileChange emits a non-persisted workspace mutation notice.
func (c *Context) PublishFileChange(ctx context.Context, path, op string) error {
	return c.Publish(ctx, &Event{
		Type:    EventFileChange,
		Sender:  string(session.SenderStatus),
		Content: path,
		Metadata: map[string]any{
			"op": op,
		},
	})
}
