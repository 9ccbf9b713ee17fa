package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/devcrew/devcrew/internal/agentctx"
	"github.com/devcrew/devcrew/internal/sandbox"
	"github.com/devcrew/devcrew/internal/session"
	"github.com/devcrew/devcrew/internal/stream"
)

const outputExcerptChars = 400

// Engineer implements the coding role: it executes file and shell blocks
// parsed from its own output.
type Engineer struct {
	base
}

// NewEngineer creates the engineer agent.
func NewEngineer(deps Deps) *Engineer {
	return &Engineer{base: newBase(RoleEngineer, session.SenderAgent, deps)}
}

// Act streams the generation, then executes every file block and shell
// block found in the raw output. Tool failures are recorded in the
// summary sections and never abort the turn.
func (e *Engineer) Act(ctx context.Context, sc *stream.Context, view *agentctx.AgentView) (*RunResult, error) {
	raw, messageID, err := e.generate(ctx, sc, "act",
		systemPromptFor(view, systemPrompts[RoleEngineer]), composePrompt(view))
	if err != nil {
		return nil, err
	}

	final := raw
	if section := e.executeFileBlocks(ctx, sc, ParseFileBlocks(raw)); section != "" {
		final += "\n\n" + section
	}
	if section := e.executeShellBlocks(ctx, sc, ParseShellBlocks(raw)); section != "" {
		final += "\n\n" + section
	}

	if err := e.finish(ctx, sc, messageID, final); err != nil {
		return nil, err
	}
	return &RunResult{Role: e.role, Sender: e.sender, Content: final, MessageID: messageID}, nil
}

func (e *Engineer) executeFileBlocks(ctx context.Context, sc *stream.Context, blocks []FileBlock) string {
	if len(blocks) == 0 {
		return ""
	}
	var lines []string
	for _, block := range blocks {
		_, err := e.runTool(ctx, sc, "file_write", map[string]any{
			"path":    block.Path,
			"content": block.Body,
			"mode":    block.Mode,
		})
		if err != nil {
			lines = append(lines, fmt.Sprintf("- %s (failed: %v)", block.Path, err))
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (%s)", block.Path, block.Mode))
	}
	return "[file writes]\n" + strings.Join(lines, "\n")
}

func (e *Engineer) executeShellBlocks(ctx context.Context, sc *stream.Context, blocks []ShellBlock) string {
	if len(blocks) == 0 {
		return ""
	}
	var lines []string
	for _, block := range blocks {
		args := map[string]any{"command": block.Command}
		if block.Cwd != "" {
			args["cwd"] = block.Cwd
		}
		if block.Timeout > 0 {
			args["timeout"] = block.Timeout
		}
		if len(block.Env) > 0 {
			args["env"] = block.Env
		}

		result, err := e.runTool(ctx, sc, "sandbox_shell", args)
		if err != nil {
			lines = append(lines, fmt.Sprintf("- `%s` (failed: %v)", block.Command, err))
			if sc != nil {
				_ = sc.PublishStatus(ctx, fmt.Sprintf("shell `%s` failed: %v", block.Command, err))
			}
			continue
		}

		res, ok := result.(*sandbox.CommandResult)
		if !ok {
			lines = append(lines, fmt.Sprintf("- `%s`", block.Command))
			continue
		}
		lines = append(lines, fmt.Sprintf("- `%s` (exit %d)", block.Command, res.ExitCode))
		if sc != nil {
			_ = sc.PublishStatus(ctx, fmt.Sprintf(
				"shell `%s` exit %d\nstdout: %s\nstderr: %s",
				res.Command, res.ExitCode,
				agentctx.Truncate(res.Stdout, outputExcerptChars),
				agentctx.Truncate(res.Stderr, outputExcerptChars)))
		}
	}
	return "[sandbox shell]\n" + strings.Join(lines, "\n")
}
