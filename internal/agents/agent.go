// Package agents implements the six role agents sharing a streaming act
// contract: compose a prompt, stream the generation as token events,
// record the interaction, and publish one persisted final message.
package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/agentctx"
	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/llm"
	"github.com/devcrew/devcrew/internal/session"
	"github.com/devcrew/devcrew/internal/stream"
	"github.com/devcrew/devcrew/internal/tools"
)

// Role names (closed set).
const (
	RolePlanner    = "planner"
	RoleProduct    = "product"
	RoleArchitect  = "architect"
	RoleEngineer   = "engineer"
	RoleResearcher = "researcher"
	RoleAnalyst    = "analyst"
)

// WorkerRoles is the delegation pool the planner chooses from, in
// presentation order.
var WorkerRoles = []string{RoleProduct, RoleArchitect, RoleEngineer, RoleResearcher, RoleAnalyst}

// RunResult is one agent invocation's outcome.
type RunResult struct {
	Role      string
	Sender    session.Sender
	Content   string
	MessageID string
}

// Agent is the shared role contract.
type Agent interface {
	Role() string
	Act(ctx context.Context, sc *stream.Context, view *agentctx.AgentView) (*RunResult, error)
}

// Deps carries the collaborators every role needs.
type Deps struct {
	LLM    *llm.Service
	Tools  *tools.Executor
	LLMLog *session.LLMLog
	Log    *logger.Logger
}

// NewCrew builds all six role agents.
func NewCrew(deps Deps) map[string]Agent {
	if deps.Log == nil {
		deps.Log = logger.Default()
	}
	return map[string]Agent{
		RolePlanner:    NewPlanner(deps),
		RoleProduct:    NewDocRole(RoleProduct, deps),
		RoleArchitect:  NewDocRole(RoleArchitect, deps),
		RoleEngineer:   NewEngineer(deps),
		RoleResearcher: NewDocRole(RoleResearcher, deps),
		RoleAnalyst:    NewAnalyst(deps),
	}
}

// base implements the shared streaming behavior.
type base struct {
	role   string
	sender session.Sender
	deps   Deps
	log    *logger.Logger
}

func newBase(role string, sender session.Sender, deps Deps) base {
	log := deps.Log
	if log == nil {
		log = logger.Default()
	}
	return base{
		role:   role,
		sender: sender,
		deps:   deps,
		log:    log.WithAgent(role),
	}
}

func (b *base) Role() string { return b.role }

// generate streams one LLM call, emitting non-final token events per
// chunk under a fresh message id. On provider failure it publishes a
// persisted error event carrying the same message id and returns the
// error; no final token is emitted for that id.
func (b *base) generate(ctx context.Context, sc *stream.Context, kind, system, user string) (raw, messageID string, err error) {
	messageID = uuid.NewString()

	onChunk := func(chunk string) error {
		if sc == nil {
			return nil
		}
		return sc.PublishToken(ctx, string(b.sender), b.role, messageID, chunk, false, false)
	}

	raw, err = b.deps.LLM.StreamForRole(ctx, b.role, llm.Request{System: system, User: user}, onChunk)
	if err != nil {
		if sc != nil {
			if perr := sc.PublishError(ctx, b.role, messageID, err.Error()); perr != nil {
				b.log.Warn("failed to publish error event", zap.Error(perr))
			}
		}
		return "", messageID, err
	}

	b.recordInteraction(sc, kind, user, raw, raw)
	return raw, messageID, nil
}

// finish publishes the persisted final token for a message id.
func (b *base) finish(ctx context.Context, sc *stream.Context, messageID, content string) error {
	if sc == nil {
		return nil
	}
	return sc.PublishToken(ctx, string(b.sender), b.role, messageID, content, true, true)
}

// recordInteraction appends to the per-session LLM log. The final
// response may differ from the raw one after a transform.
func (b *base) recordInteraction(sc *stream.Context, kind, prompt, raw, final string) {
	if b.deps.LLMLog == nil || sc == nil {
		return
	}
	err := b.deps.LLMLog.Append(sc.SessionID, session.LLMInteraction{
		Agent:         b.role,
		Kind:          kind,
		Provider:      b.deps.LLM.ProviderNameFor(b.role),
		Prompt:        prompt,
		RawResponse:   raw,
		FinalResponse: final,
	})
	if err != nil {
		b.log.Warn("failed to record llm interaction", zap.Error(err))
	}
}

// runTool dispatches a tool call, never failing the turn. The second
// return reports success.
func (b *base) runTool(ctx context.Context, sc *stream.Context, name string, args map[string]any) (any, error) {
	inv := tools.Invocation{Agent: b.role, Args: args}
	if sc != nil {
		inv.SessionID = sc.SessionID
		inv.OwnerID = sc.OwnerID
	}
	result, err := b.deps.Tools.Run(ctx, sc, name, inv)
	if err != nil {
		b.log.Warn("tool call failed",
			zap.String("tool", name),
			zap.Error(err))
	}
	return result, err
}

// composePrompt assembles the role's user message from the context view.
func composePrompt(view *agentctx.AgentView, extra ...string) string {
	var b strings.Builder

	if view.History != "" {
		b.WriteString("## Conversation so far\n")
		b.WriteString(view.History)
		b.WriteString("\n\n")
	}
	if view.ArtifactsSummary != "" {
		b.WriteString("## Recent artifacts\n")
		b.WriteString(view.ArtifactsSummary)
		b.WriteString("\n\n")
	}
	if view.FilesOverview != "" {
		b.WriteString("## Workspace files\n")
		b.WriteString(view.FilesOverview)
		b.WriteString("\n\n")
	}
	if len(view.ActionLog) > 0 {
		b.WriteString("## Action log\n")
		for _, e := range view.ActionLog {
			fmt.Fprintf(&b, "- step %d %s [%s]: %s\n", e.StepID, e.Agent, e.Status, e.Summary)
		}
		b.WriteString("\n")
	}
	if len(view.Todos) > 0 {
		b.WriteString("## Pending TODOs\n")
		for _, todo := range view.Todos {
			fmt.Fprintf(&b, "- %s\n", todo.Description)
		}
		b.WriteString("\n")
	}
	if len(view.Data) > 0 {
		keys := make([]string, 0, len(view.Data))
		for k := range view.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("## Role notes\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, view.Data[k])
		}
		b.WriteString("\n")
	}
	for _, section := range extra {
		if section != "" {
			b.WriteString(section)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("## Task\n")
	b.WriteString(view.CurrentUserMessage)
	return b.String()
}

func systemPromptFor(view *agentctx.AgentView, fallback string) string {
	if view.SystemPrompt != "" {
		return view.SystemPrompt
	}
	return fallback
}
