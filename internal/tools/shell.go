package tools

import (
	"context"
	"time"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/sandbox"
	"github.com/devcrew/devcrew/internal/stream"
)

// ShellTool runs a command inside the session sandbox.
type ShellTool struct {
	commands *sandbox.CommandService
}

// NewShellTool builds the sandbox_shell tool over the command service.
func NewShellTool(commands *sandbox.CommandService) *ShellTool {
	return &ShellTool{commands: commands}
}

func (t *ShellTool) Name() string { return "sandbox_shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command inside the session sandbox (args: command, cwd?, timeout?, env?)"
}

func (t *ShellTool) Run(ctx context.Context, _ *stream.Context, inv Invocation) (any, error) {
	command, err := stringArg(inv, "command", true)
	if err != nil {
		return nil, err
	}
	cwd, err := stringArg(inv, "cwd", false)
	if err != nil {
		return nil, err
	}

	var timeout time.Duration
	switch raw := inv.Args["timeout"].(type) {
	case nil:
	case int:
		timeout = time.Duration(raw) * time.Second
	case float64:
		timeout = time.Duration(raw * float64(time.Second))
	default:
		return nil, apperr.New(apperr.KindToolExecution, `parameter "timeout" must be a number of seconds`)
	}

	var env map[string]string
	switch raw := inv.Args["env"].(type) {
	case nil:
	case map[string]string:
		env = raw
	case map[string]any:
		env = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				env[k] = s
			}
		}
	default:
		return nil, apperr.New(apperr.KindToolExecution, `parameter "env" must be a string map`)
	}

	return t.commands.RunCommand(ctx, inv.SessionID, inv.OwnerID, command, cwd, env, timeout)
}
