package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/session"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

type persistRecorder struct {
	mu   sync.Mutex
	msgs []*session.Message
}

func (p *persistRecorder) persist(_ context.Context, msg *session.Message) (*session.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stored := *msg
	p.msgs = append(p.msgs, &stored)
	return &stored, nil
}

func (p *persistRecorder) messages() []*session.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*session.Message, len(p.msgs))
	copy(out, p.msgs)
	return out
}

func TestContextPersistenceMatrix(t *testing.T) {
	tests := []struct {
		name      string
		publish   func(ctx context.Context, sc *Context) error
		persisted bool
	}{
		{"token mid-stream", func(ctx context.Context, sc *Context) error {
			return sc.PublishToken(ctx, "agent", "engineer", "m1", "chunk", false, false)
		}, false},
		{"token final without persist flag", func(ctx context.Context, sc *Context) error {
			return sc.PublishToken(ctx, "agent", "engineer", "m1", "full", true, false)
		}, false},
		{"token final with persist flag", func(ctx context.Context, sc *Context) error {
			return sc.PublishToken(ctx, "agent", "engineer", "m1", "full", true, true)
		}, true},
		{"status", func(ctx context.Context, sc *Context) error {
			return sc.PublishStatus(ctx, "planner is evaluating the task")
		}, true},
		{"error", func(ctx context.Context, sc *Context) error {
			return sc.PublishError(ctx, "engineer", "m1", "provider failed")
		}, true},
		{"message", func(ctx context.Context, sc *Context) error {
			return sc.PublishMessage(ctx, "user", "", "m2", "hello")
		}, true},
		{"tool call", func(ctx context.Context, sc *Context) error {
			return sc.PublishToolCall(ctx, "engineer", "file_write")
		}, true},
		{"file change", func(ctx context.Context, sc *Context) error {
			return sc.PublishFileChange(ctx, "src/main.go", "write")
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &persistRecorder{}
			sc := NewContext("s1", "o1", "u1", nil, rec.persist, newTestLogger(t))

			require.NoError(t, tt.publish(context.Background(), sc))

			if tt.persisted {
				assert.Len(t, rec.messages(), 1)
				assert.Len(t, sc.Persisted(), 1)
			} else {
				assert.Empty(t, rec.messages())
				assert.Empty(t, sc.Persisted())
			}
		})
	}
}

func TestContextNilPublisherStillPersists(t *testing.T) {
	rec := &persistRecorder{}
	sc := NewContext("s1", "o1", "u1", nil, rec.persist, newTestLogger(t))

	require.NoError(t, sc.PublishStatus(context.Background(), "working"))
	require.Len(t, rec.messages(), 1)
	assert.Equal(t, session.SenderStatus, rec.messages()[0].Sender)
}

func TestContextPublisherFailureDoesNotFailTurn(t *testing.T) {
	rec := &persistRecorder{}
	failing := func(ctx context.Context, ev *Event) error {
		return assert.AnError
	}
	sc := NewContext("s1", "o1", "u1", failing, rec.persist, newTestLogger(t))

	require.NoError(t, sc.PublishStatus(context.Background(), "still works"))
	assert.Len(t, rec.messages(), 1)
}

func TestContextEventDefaults(t *testing.T) {
	var got *Event
	pub := func(ctx context.Context, ev *Event) error {
		got = ev
		return nil
	}
	sc := NewContext("s1", "o1", "u1", pub, nil, newTestLogger(t))

	require.NoError(t, sc.PublishToken(context.Background(), "agent", "analyst", "m1", "x", false, false))
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.SessionID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestNormalizeTimestamp(t *testing.T) {
	parsed := NormalizeTimestamp("2026-03-01T10:00:00Z")
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), parsed)

	before := time.Now().UTC()
	now := NormalizeTimestamp("not a timestamp")
	assert.False(t, now.Before(before.Add(-time.Second)))

	empty := NormalizeTimestamp("")
	assert.False(t, empty.IsZero())
}
