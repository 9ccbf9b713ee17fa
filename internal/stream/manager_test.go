package stream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcrew/devcrew/internal/events"
	"github.com/devcrew/devcrew/internal/events/bus"
)

func publishN(t *testing.T, m *Manager, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := m.Publish(context.Background(), &Event{
			Type:      EventToken,
			SessionID: sessionID,
			Sender:    "agent",
			Content:   fmt.Sprintf("chunk-%d", i),
		})
		require.NoError(t, err)
	}
}

func TestManagerSequenceMonotonic(t *testing.T) {
	m := NewManager(nil, newTestLogger(t))
	sub := m.Subscribe("s1")
	defer m.Unsubscribe(sub)

	publishN(t, m, "s1", 5)

	var last uint64
	for i := 0; i < 5; i++ {
		ev := <-sub.Events()
		assert.Greater(t, ev.Sequence, last)
		last = ev.Sequence
	}
}

func TestManagerLateJoinerReplay(t *testing.T) {
	m := NewManager(nil, newTestLogger(t))

	// 5 events broadcast before any client connects
	publishN(t, m, "s1", 5)

	sub := m.Subscribe("s1")
	defer m.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, uint64(i+1), ev.Sequence)
			assert.Equal(t, fmt.Sprintf("chunk-%d", i), ev.Content)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for replayed event %d", i)
		}
	}

	// Live events continue after the replay with increasing sequence
	publishN(t, m, "s1", 1)
	ev := <-sub.Events()
	assert.Equal(t, uint64(6), ev.Sequence)
}

func TestManagerReplayBounded(t *testing.T) {
	m := NewManager(nil, newTestLogger(t))

	publishN(t, m, "s1", replayLimit+50)

	sub := m.Subscribe("s1")
	defer m.Unsubscribe(sub)

	// First replayed event is the one 200 from the end
	ev := <-sub.Events()
	assert.Equal(t, uint64(51), ev.Sequence)

	count := 1
	for {
		select {
		case <-sub.Events():
			count++
		default:
			assert.Equal(t, replayLimit, count)
			return
		}
	}
}

func TestManagerSlowSubscriberDropped(t *testing.T) {
	m := NewManager(nil, newTestLogger(t))

	slow := m.Subscribe("s1")
	healthy := m.Subscribe("s1")
	require.Equal(t, 2, m.SubscriberCount("s1"))

	// Drain healthy continuously; never drain slow
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range healthy.Events() {
		}
	}()

	publishN(t, m, "s1", replayLimit+subscriberBuffer+10)

	// Only the slow subscriber is dropped
	assert.Equal(t, 1, m.SubscriberCount("s1"))
	if _, open := <-slow.Events(); !open {
		t.Fatal("expected pending events before close on dropped subscriber")
	}

	m.Unsubscribe(healthy)
	<-done
}

func TestManagerIsolationBetweenSessions(t *testing.T) {
	m := NewManager(nil, newTestLogger(t))

	s1 := m.Subscribe("s1")
	s2 := m.Subscribe("s2")
	defer m.Unsubscribe(s1)
	defer m.Unsubscribe(s2)

	publishN(t, m, "s1", 3)

	select {
	case ev := <-s2.Events():
		t.Fatalf("session s2 received foreign event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	for i := 0; i < 3; i++ {
		<-s1.Events()
	}
}

func TestManagerDropSession(t *testing.T) {
	m := NewManager(nil, newTestLogger(t))

	sub := m.Subscribe("s1")
	publishN(t, m, "s1", 3)
	m.DropSession("s1")

	// Channel closes after pending events
	open := true
	for open {
		_, open = <-sub.Events()
	}

	// Fresh subscriber sees no replay and sequences restart
	fresh := m.Subscribe("s1")
	defer m.Unsubscribe(fresh)
	publishN(t, m, "s1", 1)
	ev := <-fresh.Events()
	assert.Equal(t, uint64(1), ev.Sequence)
}

func TestManagerMirrorsToBus(t *testing.T) {
	log := newTestLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	received := make(chan *bus.Event, 8)
	_, err := eventBus.Subscribe(events.SubjectSessionStreamAll, func(ctx context.Context, ev *bus.Event) error {
		received <- ev
		return nil
	})
	require.NoError(t, err)

	m := NewManager(eventBus, log)
	publishN(t, m, "s1", 1)

	select {
	case ev := <-received:
		assert.Equal(t, events.EventSessionStream, ev.Type)
		assert.Equal(t, "s1", ev.Data["session_id"])
		assert.Equal(t, "token", ev.Data["type"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mirrored bus event")
	}
}
