package agents

import (
	"context"

	"github.com/devcrew/devcrew/internal/agentctx"
	"github.com/devcrew/devcrew/internal/session"
	"github.com/devcrew/devcrew/internal/stream"
)

// Analyst is the evaluation role. It makes no tool calls.
type Analyst struct {
	base
}

// NewAnalyst creates the analyst agent.
func NewAnalyst(deps Deps) *Analyst {
	return &Analyst{base: newBase(RoleAnalyst, session.SenderAgent, deps)}
}

func (a *Analyst) Act(ctx context.Context, sc *stream.Context, view *agentctx.AgentView) (*RunResult, error) {
	raw, messageID, err := a.generate(ctx, sc, "act",
		systemPromptFor(view, systemPrompts[RoleAnalyst]), composePrompt(view))
	if err != nil {
		return nil, err
	}
	if err := a.finish(ctx, sc, messageID, raw); err != nil {
		return nil, err
	}
	return &RunResult{Role: a.role, Sender: a.sender, Content: raw, MessageID: messageID}, nil
}
