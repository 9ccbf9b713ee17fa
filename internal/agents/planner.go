package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/devcrew/devcrew/internal/agentctx"
	"github.com/devcrew/devcrew/internal/session"
	"github.com/devcrew/devcrew/internal/stream"
)

// Planner coordinates the crew: it picks the next role, reviews outputs,
// and writes the final summary.
type Planner struct {
	base
}

// NewPlanner creates the planner agent.
func NewPlanner(deps Deps) *Planner {
	return &Planner{base: newBase(RolePlanner, session.SenderPlanner, deps)}
}

// Act runs the planner as a plain role agent: its JSON output is
// re-rendered into a labelled human-readable summary.
func (p *Planner) Act(ctx context.Context, sc *stream.Context, view *agentctx.AgentView) (*RunResult, error) {
	raw, messageID, err := p.generate(ctx, sc, "act",
		systemPromptFor(view, systemPrompts[RolePlanner]), composePrompt(view))
	if err != nil {
		return nil, err
	}

	final := renderPlannerSummary(raw)
	if err := p.finish(ctx, sc, messageID, final); err != nil {
		return nil, err
	}
	return &RunResult{Role: p.role, Sender: p.sender, Content: final, MessageID: messageID}, nil
}

// PlanNextAgent asks which role should act first. The returned text is
// scanned by the orchestrator for a next-role hint.
func (p *Planner) PlanNextAgent(ctx context.Context, sc *stream.Context, view *agentctx.AgentView, available []string) (*RunResult, error) {
	prompt := composePrompt(view, fmt.Sprintf(
		"## Decision\nChoose the next specialist from: %s.\nAnswer with a JSON object {\"next_agent\": \"<role>\", \"reason\": \"...\"}.",
		strings.Join(available, ", ")))

	raw, messageID, err := p.generate(ctx, sc, "plan",
		systemPromptFor(view, systemPrompts[RolePlanner]), prompt)
	if err != nil {
		return nil, err
	}

	final := renderPlannerSummary(raw)
	if err := p.finish(ctx, sc, messageID, final); err != nil {
		return nil, err
	}
	return &RunResult{Role: p.role, Sender: p.sender, Content: raw, MessageID: messageID}, nil
}

// ReviewAgentOutput reviews one role's contribution and picks the next
// role (or finish).
func (p *Planner) ReviewAgentOutput(ctx context.Context, sc *stream.Context, view *agentctx.AgentView, role, output string, remaining []string) (*RunResult, error) {
	review := fmt.Sprintf(
		"## Review\nThe %s just produced:\n%s\n\nRemaining specialists: %s.\n"+
			"Answer with a JSON object {\"next_agent\": \"<role or finish>\", \"decision\": \"...\", \"reason\": \"...\"}.",
		role, agentctx.Truncate(output, 2000), strings.Join(remaining, ", "))

	raw, messageID, err := p.generate(ctx, sc, "review",
		systemPromptFor(view, systemPrompts[RolePlanner]), composePrompt(view, review))
	if err != nil {
		return nil, err
	}

	final := renderPlannerSummary(raw)
	if err := p.finish(ctx, sc, messageID, final); err != nil {
		return nil, err
	}
	return &RunResult{Role: p.role, Sender: p.sender, Content: raw, MessageID: messageID}, nil
}

// SummarizeTeam writes the user-visible closing summary of the turn.
func (p *Planner) SummarizeTeam(ctx context.Context, sc *stream.Context, view *agentctx.AgentView, contributions []string) (*RunResult, error) {
	var b strings.Builder
	b.WriteString("## Team contributions\n")
	for _, c := range contributions {
		b.WriteString("- ")
		b.WriteString(agentctx.Truncate(c, 400))
		b.WriteString("\n")
	}
	b.WriteString("\nSummarize the team's work for the user in a few short paragraphs.")

	raw, messageID, err := p.generate(ctx, sc, "summarize",
		systemPromptFor(view, systemPrompts[RolePlanner]), composePrompt(view, b.String()))
	if err != nil {
		return nil, err
	}

	if err := p.finish(ctx, sc, messageID, raw); err != nil {
		return nil, err
	}
	return &RunResult{Role: p.role, Sender: p.sender, Content: raw, MessageID: messageID}, nil
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*?\}`)

// renderPlannerSummary re-renders a planner JSON decision as a labelled
// human-readable summary. Text without a parseable JSON object passes
// through unchanged.
func renderPlannerSummary(raw string) string {
	match := jsonObjectRe.FindString(raw)
	if match == "" {
		return raw
	}

	var decision map[string]any
	if err := json.Unmarshal([]byte(match), &decision); err != nil {
		return raw
	}

	var b strings.Builder
	for _, key := range []string{"next_agent", "decision", "reason"} {
		val, ok := decision[key].(string)
		if !ok || val == "" {
			continue
		}
		switch key {
		case "next_agent":
			b.WriteString("Next: " + val)
		case "decision":
			b.WriteString("Decision: " + val)
		case "reason":
			b.WriteString("Reason: " + val)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return raw
	}
	return strings.TrimRight(b.String(), "\n")
}
