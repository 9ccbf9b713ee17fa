package agentctx

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/sandbox"
	"github.com/devcrew/devcrew/internal/session"
)

const (
	historyLineLimit    = 160
	filesOverviewLimit  = 6
	artifactsLimit      = 5
	userMessagesLimit   = 8
	historyEntriesLimit = 10
)

// artifactMarkers open list sections whose entries name produced files.
var artifactMarkers = []string{
	"[file writes]",
	"[PRD writes]",
	"[architecture doc writes]",
}

// sourceSuffixes recognizes path-like tokens in artifact sections.
var sourceSuffixes = []string{
	".py", ".ts", ".tsx", ".js", ".json", ".md", ".yml", ".yaml",
	".toml", ".cfg", ".html", ".css", ".scss", ".rs", ".go", ".java",
	".kt", ".sh",
}

// Builder assembles the per-turn SessionContext from persistent state,
// session history, and the workspace.
type Builder struct {
	repo  session.Repository
	state *StateManager
	files *sandbox.FileService
	log   *logger.Logger
}

// NewBuilder creates a context builder. files may be nil when no sandbox
// is available; the overview is then empty.
func NewBuilder(repo session.Repository, state *StateManager, files *sandbox.FileService, log *logger.Logger) *Builder {
	if log == nil {
		log = logger.Default()
	}
	return &Builder{
		repo:  repo,
		state: state,
		files: files,
		log:   log.WithFields(zap.String("component", "context_builder")),
	}
}

// Build projects the current SessionContext for a turn.
func (b *Builder) Build(ctx context.Context, sessionID, ownerID, userID, userMessage string) (*SessionContext, error) {
	state := b.state.Load(sessionID)

	messages, err := b.repo.ListMessages(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}

	sc := &SessionContext{
		SessionID:          sessionID,
		OwnerID:            ownerID,
		UserID:             userID,
		CurrentUserMessage: userMessage,
		UserMessages:       collectUserMessages(messages, userMessagesLimit),
		History:            buildHistory(state.ActionLog, messages),
		ArtifactsSummary:   buildArtifactsSummary(messages, artifactsLimit),
		ActionLog:          append([]ActionLogEntry(nil), state.ActionLog...),
		Todos:              append([]TodoEntry(nil), state.Todos...),
		AgentData:          cloneAgentData(state.AgentData),
	}

	if b.files != nil {
		sc.FilesOverview = b.buildFilesOverview(ctx, sessionID, ownerID)
	}
	return sc, nil
}

func cloneAgentData(in map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(in))
	for role, slot := range in {
		copied := make(map[string]any, len(slot))
		for k, v := range slot {
			copied[k] = v
		}
		out[role] = copied
	}
	return out
}

func collectUserMessages(messages []session.Message, limit int) []string {
	var all []string
	for _, msg := range messages {
		if msg.Sender == session.SenderUser {
			all = append(all, msg.Content)
		}
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// buildHistory prefers a digest of recent action-log entries; with no
// log yet it falls back to recent session messages.
func buildHistory(actionLog []ActionLogEntry, messages []session.Message) string {
	if len(actionLog) > 0 {
		entries := actionLog
		if len(entries) > historyEntriesLimit {
			entries = entries[len(entries)-historyEntriesLimit:]
		}
		lines := make([]string, 0, len(entries))
		for _, e := range entries {
			summary := e.Summary
			if summary == "" {
				summary = e.Result
			}
			lines = append(lines, Truncate(
				fmt.Sprintf("step %d · %s: %s", e.StepID, e.Agent, summary), historyLineLimit))
		}
		return strings.Join(lines, "\n")
	}

	recent := messages
	if len(recent) > historyEntriesLimit {
		recent = recent[len(recent)-historyEntriesLimit:]
	}
	lines := make([]string, 0, len(recent))
	for _, msg := range recent {
		who := string(msg.Sender)
		if msg.Agent != "" {
			who = msg.Agent
		}
		lines = append(lines, Truncate(fmt.Sprintf("%s: %s", who, msg.Content), historyLineLimit))
	}
	return strings.Join(lines, "\n")
}

// buildArtifactsSummary scans messages newest-first for marker sections
// and collects up to limit path-like entries.
func buildArtifactsSummary(messages []session.Message, limit int) string {
	var found []string
	seen := make(map[string]bool)

	for i := len(messages) - 1; i >= 0 && len(found) < limit; i-- {
		lines := strings.Split(messages[i].Content, "\n")
		inSection := false
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if marker := matchMarker(trimmed); marker {
				inSection = true
				continue
			}
			if !inSection {
				continue
			}
			if trimmed == "" {
				inSection = false
				continue
			}
			token := strings.TrimSpace(strings.TrimLeft(trimmed, "-*• "))
			// Drop trailing annotations like "(overwrite)"
			if idx := strings.IndexAny(token, " ("); idx > 0 {
				token = token[:idx]
			}
			if token == "" || !looksLikePath(token) || seen[token] {
				continue
			}
			seen[token] = true
			found = append(found, token)
			if len(found) >= limit {
				break
			}
		}
	}
	return strings.Join(found, "\n")
}

func matchMarker(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range artifactMarkers {
		if strings.HasPrefix(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func looksLikePath(token string) bool {
	if strings.Contains(token, "/") {
		return true
	}
	lower := strings.ToLower(token)
	for _, suffix := range sourceSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// buildFilesOverview lists up to filesOverviewLimit workspace files as
// "<path> (size <bytes>)" lines. Failures produce an empty overview.
func (b *Builder) buildFilesOverview(ctx context.Context, sessionID, ownerID string) string {
	nodes, err := b.files.ListTree(ctx, sessionID, ownerID, "", sandbox.DefaultTreeDepth, false)
	if err != nil {
		b.log.Debug("files overview unavailable",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return ""
	}

	var lines []string
	flattenFiles(nodes, &lines)
	if len(lines) > filesOverviewLimit {
		lines = lines[:filesOverviewLimit]
	}
	return strings.Join(lines, "\n")
}

func flattenFiles(nodes []*sandbox.TreeNode, out *[]string) {
	for _, node := range nodes {
		if len(*out) >= filesOverviewLimit {
			return
		}
		if node.Type == "file" {
			*out = append(*out, fmt.Sprintf("%s (size %d)", node.Path, node.Size))
			continue
		}
		flattenFiles(node.Children, out)
	}
}
