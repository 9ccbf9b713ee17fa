// Package orchestrate drives one user turn: a planner-led loop that
// delegates to role agents, records outcomes into the session context,
// and ends with a planner summary.
package orchestrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/agentctx"
	"github.com/devcrew/devcrew/internal/agents"
	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/stream"
)

// MaxIterations bounds the delegation loop per turn.
const MaxIterations = 6

const summaryLineLimit = 160

// Workflow is the turn-level state machine.
type Workflow struct {
	builder *agentctx.Builder
	state   *agentctx.StateManager
	planner *agents.Planner
	workers map[string]agents.Agent
	log     *logger.Logger
}

// NewWorkflow creates a workflow over a crew built by agents.NewCrew.
func NewWorkflow(builder *agentctx.Builder, state *agentctx.StateManager, crew map[string]agents.Agent, log *logger.Logger) (*Workflow, error) {
	if log == nil {
		log = logger.Default()
	}
	planner, ok := crew[agents.RolePlanner].(*agents.Planner)
	if !ok {
		return nil, fmt.Errorf("crew has no planner")
	}

	workers := make(map[string]agents.Agent)
	for role, agent := range crew {
		if role != agents.RolePlanner {
			workers[role] = agent
		}
	}
	return &Workflow{
		builder: builder,
		state:   state,
		planner: planner,
		workers: workers,
		log:     log.WithFields(zap.String("component", "orchestrator")),
	}, nil
}

// RunTurn executes one full turn for the user message bound to sc.
// An LLM provider failure aborts the turn; the failing agent has
// already published the persisted error event.
func (w *Workflow) RunTurn(ctx context.Context, sc *stream.Context, userMessage string) error {
	log := w.log.WithFields(zap.String("session_id", sc.SessionID))

	view, err := w.buildView(ctx, sc, userMessage)
	if err != nil {
		return err
	}

	if err := sc.PublishStatus(ctx, "planner is evaluating the task"); err != nil {
		log.Warn("status publish failed", zap.Error(err))
	}

	available := w.availableRoles()
	plan, err := w.planner.PlanNextAgent(ctx, sc, view.ForAgent(agents.RolePlanner, "", nil), available)
	if err != nil {
		return err
	}
	next := ExtractNextRole(plan.Content, available)

	var contributions []string
	step := 0
	for next != "" && step < MaxIterations {
		if err := sc.PublishStatus(ctx, "planner delegates to "+next); err != nil {
			log.Warn("status publish failed", zap.Error(err))
		}

		agent := w.workers[next]
		result, err := agent.Act(ctx, sc, view.ForAgent(next, "", nil))
		if err != nil {
			return err
		}
		step++

		w.recordStep(sc.SessionID, step, next, result, view)
		contributions = append(contributions, fmt.Sprintf("%s: %s", next, result.Content))
		available = removeRole(available, next)

		view, err = w.buildView(ctx, sc, userMessage)
		if err != nil {
			return err
		}

		review, err := w.planner.ReviewAgentOutput(ctx, sc,
			view.ForAgent(agents.RolePlanner, "", nil), next, result.Content, available)
		if err != nil {
			return err
		}
		next = ExtractNextRole(review.Content, available)
	}

	if err := sc.PublishStatus(ctx, "planner is summarizing"); err != nil {
		log.Warn("status publish failed", zap.Error(err))
	}
	_, err = w.planner.SummarizeTeam(ctx, sc, view.ForAgent(agents.RolePlanner, "", nil), contributions)
	return err
}

func (w *Workflow) buildView(ctx context.Context, sc *stream.Context, userMessage string) (*agentctx.SessionContext, error) {
	return w.builder.Build(ctx, sc.SessionID, sc.OwnerID, sc.UserID, userMessage)
}

// availableRoles lists the delegation pool in presentation order,
// restricted to roles the crew actually has.
func (w *Workflow) availableRoles() []string {
	var roles []string
	for _, role := range agents.WorkerRoles {
		if _, ok := w.workers[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}

// recordStep persists the step detail and a context snapshot, then
// appends the action-log entry and any harvested TODOs. Persistence
// failures degrade to a log line; the turn continues.
func (w *Workflow) recordStep(sessionID string, step int, role string, result *agents.RunResult, view *agentctx.SessionContext) {
	metadata := map[string]any{
		"step_id": step,
		"summary": summaryLine(result.Content),
	}
	detail := map[string]any{
		"step_id":    step,
		"agent":      role,
		"message_id": result.MessageID,
		"content":    result.Content,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if path, err := w.state.PersistStepDetail(sessionID, step, detail); err != nil {
		w.log.Warn("step detail persist failed",
			zap.String("session_id", sessionID), zap.Error(err))
	} else {
		metadata["detail_path"] = path
	}
	if path, err := w.state.PersistSnapshot(sessionID, step, view); err != nil {
		w.log.Warn("context snapshot persist failed",
			zap.String("session_id", sessionID), zap.Error(err))
	} else {
		metadata["snapshot_path"] = path
	}

	w.state.AppendAction(sessionID, agentctx.ActionLogEntry{
		StepID:    step,
		Agent:     role,
		Summary:   summaryLine(result.Content),
		Result:    result.Content,
		Status:    stepStatus(result.Content),
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
	w.state.AppendTodos(sessionID, role, ExtractTodos(result.Content))
}

// summaryLine condenses agent output to its first non-empty line.
func summaryLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return agentctx.Truncate(line, summaryLineLimit)
		}
	}
	return ""
}

// stepStatus flags steps whose tool calls failed; agents report those
// inline rather than aborting.
func stepStatus(content string) string {
	if strings.Contains(content, "(failed:") {
		return "failure"
	}
	return "success"
}

func removeRole(roles []string, role string) []string {
	out := roles[:0]
	for _, r := range roles {
		if r != role {
			out = append(out, r)
		}
	}
	return out
}
