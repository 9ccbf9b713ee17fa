package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/events"
	"github.com/devcrew/devcrew/internal/events/bus"
)

const (
	// replayLimit bounds the per-session replay buffer.
	replayLimit = 200

	// subscriberBuffer is each subscriber's channel capacity. A
	// subscriber that falls this far behind is dropped.
	subscriberBuffer = 256
)

// Subscriber receives one session's events. Events() yields the replay
// buffer first, then live events, with monotonically increasing sequence
// numbers throughout.
type Subscriber struct {
	sessionID string
	ch        chan *Event

	mu     sync.Mutex
	closed bool
}

// Events returns the subscriber's event channel.
func (s *Subscriber) Events() <-chan *Event {
	return s.ch
}

// trySend queues an event without blocking. It reports false only when
// the subscriber is alive but its buffer is full.
func (s *Subscriber) trySend(ev *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

// Manager is the per-session fan-out hub: it assigns sequence numbers,
// keeps the bounded replay buffer, delivers to subscribers, and mirrors
// every event onto the event bus subject session.stream.<id>.
type Manager struct {
	mu          sync.Mutex
	subscribers map[string]map[*Subscriber]struct{}
	buffers     map[string][]*Event
	sequences   map[string]uint64

	bus bus.EventBus
	log *logger.Logger
}

// NewManager creates a stream manager. eventBus may be nil to disable
// bus mirroring.
func NewManager(eventBus bus.EventBus, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		subscribers: make(map[string]map[*Subscriber]struct{}),
		buffers:     make(map[string][]*Event),
		sequences:   make(map[string]uint64),
		bus:         eventBus,
		log:         log.WithFields(zap.String("component", "stream_manager")),
	}
}

// PublisherFor returns a Publisher bound to one session, suitable for a
// stream Context.
func (m *Manager) PublisherFor(sessionID string) Publisher {
	return func(ctx context.Context, ev *Event) error {
		if ev.SessionID == "" {
			ev.SessionID = sessionID
		}
		return m.Publish(ctx, ev)
	}
}

// Publish assigns the next sequence number, buffers the event, and
// delivers it to every subscriber of its session. A subscriber whose
// buffer is full is dropped; other subscribers are unaffected.
func (m *Manager) Publish(ctx context.Context, ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	m.sequences[ev.SessionID]++
	ev.Sequence = m.sequences[ev.SessionID]

	buf := append(m.buffers[ev.SessionID], ev)
	if len(buf) > replayLimit {
		buf = buf[len(buf)-replayLimit:]
	}
	m.buffers[ev.SessionID] = buf

	// Snapshot so sends happen without holding the lock
	var targets []*Subscriber
	for sub := range m.subscribers[ev.SessionID] {
		targets = append(targets, sub)
	}
	m.mu.Unlock()

	for _, sub := range targets {
		if !sub.trySend(ev) {
			// Slow consumer: drop it silently
			m.Unsubscribe(sub)
			m.log.Warn("dropped slow stream subscriber",
				zap.String("session_id", ev.SessionID))
		}
	}

	m.mirror(ctx, ev)
	return nil
}

// mirror republishes the event onto the bus for in-process observers and
// NATS deployments.
func (m *Manager) mirror(ctx context.Context, ev *Event) {
	if m.bus == nil {
		return
	}
	busEvent := bus.NewEvent(events.EventSessionStream, "stream-manager", map[string]any{
		"type":       string(ev.Type),
		"session_id": ev.SessionID,
		"sender":     ev.Sender,
		"agent":      ev.Agent,
		"message_id": ev.MessageID,
		"content":    ev.Content,
		"final":      ev.Final,
		"sequence":   ev.Sequence,
		"timestamp":  ev.Timestamp.Format(time.RFC3339Nano),
	})
	if err := m.bus.Publish(ctx, events.SessionStreamSubject(ev.SessionID), busEvent); err != nil {
		m.log.Warn("stream mirror publish failed",
			zap.String("session_id", ev.SessionID),
			zap.Error(err))
	}
}

// Subscribe attaches a new subscriber to a session. The replay buffer is
// queued onto the channel before any live event can arrive.
func (m *Manager) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		sessionID: sessionID,
		ch:        make(chan *Event, replayLimit+subscriberBuffer),
	}

	m.mu.Lock()
	for _, ev := range m.buffers[sessionID] {
		sub.ch <- ev
	}
	if m.subscribers[sessionID] == nil {
		m.subscribers[sessionID] = make(map[*Subscriber]struct{})
	}
	m.subscribers[sessionID][sub] = struct{}{}
	m.mu.Unlock()

	return sub
}

// Unsubscribe detaches a subscriber and closes its channel.
func (m *Manager) Unsubscribe(sub *Subscriber) {
	m.mu.Lock()
	if subs, ok := m.subscribers[sub.sessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(m.subscribers, sub.sessionID)
		}
	}
	m.mu.Unlock()
	sub.close()
}

// DropSession discards a session's buffer, sequence counter, and
// subscribers. Called when a session is deleted.
func (m *Manager) DropSession(sessionID string) {
	m.mu.Lock()
	subs := m.subscribers[sessionID]
	delete(m.subscribers, sessionID)
	delete(m.buffers, sessionID)
	delete(m.sequences, sessionID)
	m.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

// SubscriberCount reports the live subscriber count for a session.
func (m *Manager) SubscriberCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers[sessionID])
}
