// Package tools provides the registry of agent-callable tools and the
// executor that dispatches to them with an ordered event hook chain.
package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/stream"
)

// Invocation carries the common parameters every tool requires plus the
// tool-specific arguments.
type Invocation struct {
	SessionID string
	OwnerID   string
	Agent     string
	Args      map[string]any
}

// Tool is one agent-callable capability.
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, sc *stream.Context, inv Invocation) (any, error)
}

// Hook observes tool invocations before the tool runs. Hook errors are
// logged and never abort the call.
type Hook func(ctx context.Context, sc *stream.Context, name string, inv Invocation) error

// Executor is the process-wide tool registry and dispatcher.
type Executor struct {
	mu    sync.RWMutex
	tools map[string]Tool
	hooks []Hook
	log   *logger.Logger
}

// NewExecutor creates an executor with the default tool_call stream hook
// already registered.
func NewExecutor(log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Default()
	}
	e := &Executor{
		tools: make(map[string]Tool),
		log:   log.WithFields(zap.String("component", "tool_executor")),
	}
	e.AddHook(publishToolCallHook)
	return e
}

// publishToolCallHook emits the informational tool_call stream event when
// a stream context is present.
func publishToolCallHook(ctx context.Context, sc *stream.Context, name string, inv Invocation) error {
	if sc == nil {
		return nil
	}
	return sc.PublishToolCall(ctx, inv.Agent, name)
}

// Register adds a tool. Re-registering a name replaces the prior tool.
func (e *Executor) Register(t Tool) {
	e.mu.Lock()
	e.tools[t.Name()] = t
	e.mu.Unlock()
}

// AddHook appends a hook to the chain. Hooks run in registration order.
func (e *Executor) AddHook(h Hook) {
	e.mu.Lock()
	e.hooks = append(e.hooks, h)
	e.mu.Unlock()
}

// Names lists the registered tool names.
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	return names
}

// Run dispatches one tool invocation. sc may be nil when no stream is
// bound to the caller.
func (e *Executor) Run(ctx context.Context, sc *stream.Context, name string, inv Invocation) (any, error) {
	e.mu.RLock()
	tool, ok := e.tools[name]
	hooks := make([]Hook, len(e.hooks))
	copy(hooks, e.hooks)
	e.mu.RUnlock()

	if !ok {
		return nil, apperr.New(apperr.KindToolExecution, fmt.Sprintf("unknown tool: %s", name))
	}
	if err := validateCommon(inv); err != nil {
		return nil, err
	}

	for _, hook := range hooks {
		if err := hook(ctx, sc, name, inv); err != nil {
			e.log.Warn("tool hook failed",
				zap.String("tool", name),
				zap.Error(err))
		}
	}

	result, err := tool.Run(ctx, sc, inv)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindToolExecution {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindToolExecution,
			fmt.Sprintf("tool %s failed", name), err)
	}
	return result, nil
}

func validateCommon(inv Invocation) error {
	if strings.TrimSpace(inv.SessionID) == "" {
		return apperr.New(apperr.KindToolExecution, "session_id must not be empty")
	}
	if strings.TrimSpace(inv.OwnerID) == "" {
		return apperr.New(apperr.KindToolExecution, "owner_id must not be empty")
	}
	if strings.TrimSpace(inv.Agent) == "" {
		return apperr.New(apperr.KindToolExecution, "agent must not be empty")
	}
	return nil
}

// stringArg extracts a string argument, failing on absence or empty value
// when required.
func stringArg(inv Invocation, key string, required bool) (string, error) {
	raw, ok := inv.Args[key]
	if !ok {
		if required {
			return "", apperr.New(apperr.KindToolExecution, fmt.Sprintf("missing parameter %q", key))
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", apperr.New(apperr.KindToolExecution, fmt.Sprintf("parameter %q must be a string", key))
	}
	if required && strings.TrimSpace(s) == "" {
		return "", apperr.New(apperr.KindToolExecution, fmt.Sprintf("parameter %q must not be empty", key))
	}
	return s, nil
}

// validateRelPath rejects absolute paths and any path containing a ".."
// component.
func validateRelPath(path string) error {
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return apperr.New(apperr.KindToolExecution, "path must be relative")
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return apperr.New(apperr.KindToolExecution, "path must not contain ..")
		}
	}
	return nil
}
