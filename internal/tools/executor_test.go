package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/stream"
)

type fakeTool struct {
	name   string
	result any
	err    error
	calls  int
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake" }

func (f *fakeTool) Run(context.Context, *stream.Context, Invocation) (any, error) {
	f.calls++
	return f.result, f.err
}

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func baseInvocation() Invocation {
	return Invocation{SessionID: "s1", OwnerID: "o1", Agent: "engineer", Args: map[string]any{}}
}

func TestExecutorRun(t *testing.T) {
	e := NewExecutor(testLogger(t))
	tool := &fakeTool{name: "echo", result: "hi"}
	e.Register(tool)

	got, err := e.Run(context.Background(), nil, "echo", baseInvocation())
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
	assert.Equal(t, 1, tool.calls)
}

func TestExecutorUnknownTool(t *testing.T) {
	e := NewExecutor(testLogger(t))
	_, err := e.Run(context.Background(), nil, "nope", baseInvocation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
	assert.Equal(t, apperr.KindToolExecution, apperr.KindOf(err))
}

func TestExecutorValidatesCommonParams(t *testing.T) {
	e := NewExecutor(testLogger(t))
	e.Register(&fakeTool{name: "echo"})

	tests := []struct {
		name string
		inv  Invocation
	}{
		{"empty session", Invocation{OwnerID: "o1", Agent: "engineer"}},
		{"empty owner", Invocation{SessionID: "s1", Agent: "engineer"}},
		{"empty agent", Invocation{SessionID: "s1", OwnerID: "o1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Run(context.Background(), nil, "echo", tt.inv)
			assert.Error(t, err)
		})
	}
}

func TestExecutorWrapsForeignErrors(t *testing.T) {
	e := NewExecutor(testLogger(t))
	e.Register(&fakeTool{name: "boom", err: errors.New("disk on fire")})

	_, err := e.Run(context.Background(), nil, "boom", baseInvocation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool boom failed")
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, apperr.KindToolExecution, apperr.KindOf(err))
}

func TestExecutorPreservesToolExecutionErrors(t *testing.T) {
	e := NewExecutor(testLogger(t))
	e.Register(&fakeTool{name: "boom", err: apperr.New(apperr.KindToolExecution, "path must not contain ..")})

	_, err := e.Run(context.Background(), nil, "boom", baseInvocation())
	require.Error(t, err)
	assert.Equal(t, "path must not contain ..", err.Error())
}

func TestExecutorHooksRunInOrderAndFailuresContinue(t *testing.T) {
	e := NewExecutor(testLogger(t))
	tool := &fakeTool{name: "echo", result: "ok"}
	e.Register(tool)

	var order []string
	e.AddHook(func(ctx context.Context, sc *stream.Context, name string, inv Invocation) error {
		order = append(order, "first")
		return errors.New("hook exploded")
	})
	e.AddHook(func(ctx context.Context, sc *stream.Context, name string, inv Invocation) error {
		order = append(order, "second")
		return nil
	})

	got, err := e.Run(context.Background(), nil, "echo", baseInvocation())
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, tool.calls)
}

func TestDefaultHookPublishesToolCall(t *testing.T) {
	var events []*stream.Event
	pub := func(ctx context.Context, ev *stream.Event) error {
		events = append(events, ev)
		return nil
	}
	sc := stream.NewContext("s1", "o1", "u1", pub, nil, testLogger(t))

	e := NewExecutor(testLogger(t))
	e.Register(&fakeTool{name: "echo"})

	_, err := e.Run(context.Background(), sc, "echo", baseInvocation())
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, stream.EventToolCall, events[0].Type)
	assert.Equal(t, "[tool call] echo", events[0].Content)
	assert.Equal(t, "engineer", events[0].Agent)
}

func TestValidateRelPath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr string
	}{
		{"src/main.go", ""},
		{"docs/prd.md", ""},
		{"../secrets", "path must not contain .."},
		{"a/../../b", "path must not contain .."},
		{"/etc/passwd", "path must be relative"},
	}
	for _, tt := range tests {
		err := validateRelPath(tt.path)
		if tt.wantErr == "" {
			assert.NoError(t, err, tt.path)
		} else {
			require.Error(t, err, tt.path)
			assert.Contains(t, err.Error(), tt.wantErr)
		}
	}
}
