package sandbox

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/common/logger"
)

// DefaultCommandTimeout bounds a sandbox shell invocation.
const DefaultCommandTimeout = 300 * time.Second

// CommandResult carries the outcome of a sandbox shell command.
type CommandResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// CommandService runs shell commands inside session sandboxes.
type CommandService struct {
	manager *Manager
	log     *logger.Logger
}

// NewCommandService builds a command service over the sandbox manager.
func NewCommandService(manager *Manager, log *logger.Logger) *CommandService {
	if log == nil {
		log = logger.Default()
	}
	return &CommandService{
		manager: manager,
		log:     log.WithFields(zap.String("component", "sandbox_exec")),
	}
}

// RunCommand executes a shell command inside the session container. A
// relative cwd is joined under the workspace mount; absolute is taken
// as-is; empty means the workspace root. timeout <= 0 uses the default.
func (s *CommandService) RunCommand(ctx context.Context, sessionID, ownerID, command, cwd string, env map[string]string, timeout time.Duration) (*CommandResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, apperr.New(apperr.KindSandbox, "command must not be empty")
	}
	if timeout < 0 {
		return nil, apperr.New(apperr.KindSandbox, "timeout must be positive")
	}
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}

	inst, err := s.manager.EnsureSessionContainer(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}

	workDir := WorkspaceMount
	switch {
	case cwd == "":
	case path.IsAbs(cwd):
		workDir = path.Clean(cwd)
	default:
		workDir = path.Join(WorkspaceMount, cwd)
	}

	var envPairs []string
	for k, v := range env {
		envPairs = append(envPairs, k+"="+v)
	}
	sort.Strings(envPairs)

	shellCmd := []string{"sh", "-lc", fmt.Sprintf("cd %s && %s", shellQuote(workDir), command)}

	s.log.Info("running sandbox command",
		zap.String("session_id", sessionID),
		zap.String("cwd", workDir),
		zap.String("command", command))

	result, err := s.manager.rt.Exec(ctx, inst.ContainerID, shellCmd, envPairs, timeout)
	s.manager.MarkActive(sessionID)
	if err != nil {
		return nil, err
	}

	return &CommandResult{
		Command:  command,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}, nil
}

// shellQuote single-quotes a path for use inside sh -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
