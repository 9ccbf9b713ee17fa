// Package agentctx holds the session working-memory model: the bounded
// persistent state (action log, TODOs, per-role data) and the per-turn
// SessionContext projection agents consume.
package agentctx

import (
	"time"

	"github.com/google/uuid"
)

const (
	// MaxActionLogEntries bounds the persistent action log (FIFO eviction).
	MaxActionLogEntries = 10

	// MaxTodoEntries bounds the pending TODO list (FIFO eviction).
	MaxTodoEntries = 20

	// MaxActionResultChars bounds the stored result excerpt per entry.
	MaxActionResultChars = 400
)

// ActionLogEntry records one agent's contribution in a turn.
type ActionLogEntry struct {
	StepID    int            `json:"step_id"`
	Agent     string         `json:"agent"`
	Summary   string         `json:"summary"`
	Result    string         `json:"result"`
	Status    string         `json:"status"` // success or failure
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TodoEntry is one pending work item harvested from agent output.
type TodoEntry struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTodoEntry creates a TODO with a fresh id.
func NewTodoEntry(description, createdBy string) TodoEntry {
	return TodoEntry{
		ID:          uuid.NewString(),
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}
}

// State is the persistent per-session working memory.
type State struct {
	ActionLog []ActionLogEntry          `json:"action_log"`
	Todos     []TodoEntry               `json:"todos"`
	AgentData map[string]map[string]any `json:"agent_data"`
}

// NewState creates an empty state.
func NewState() *State {
	return &State{AgentData: make(map[string]map[string]any)}
}

// AppendAction adds an entry, truncating its result excerpt and evicting
// the oldest entry past the cap.
func (s *State) AppendAction(entry ActionLogEntry) {
	entry.Result = Truncate(entry.Result, MaxActionResultChars)
	s.ActionLog = append(s.ActionLog, entry)
	if len(s.ActionLog) > MaxActionLogEntries {
		s.ActionLog = s.ActionLog[len(s.ActionLog)-MaxActionLogEntries:]
	}
}

// AppendTodo adds a TODO, evicting the oldest past the cap.
func (s *State) AppendTodo(todo TodoEntry) {
	s.Todos = append(s.Todos, todo)
	if len(s.Todos) > MaxTodoEntries {
		s.Todos = s.Todos[len(s.Todos)-MaxTodoEntries:]
	}
}

// DataFor returns the role's private data slot, creating it on demand.
func (s *State) DataFor(role string) map[string]any {
	if s.AgentData == nil {
		s.AgentData = make(map[string]map[string]any)
	}
	if s.AgentData[role] == nil {
		s.AgentData[role] = make(map[string]any)
	}
	return s.AgentData[role]
}

// SessionContext is the per-turn projection combining persistent state
// with freshly gathered history, files, and artifacts.
type SessionContext struct {
	SessionID string `json:"session_id"`
	OwnerID   string `json:"owner_id"`
	UserID    string `json:"user_id"`

	UserMessages       []string `json:"user_messages"`
	CurrentUserMessage string   `json:"current_user_message"`
	History            string   `json:"history"`
	ArtifactsSummary   string   `json:"artifacts_summary"`
	FilesOverview      string   `json:"files_overview"`

	ActionLog []ActionLogEntry          `json:"action_log"`
	Todos     []TodoEntry               `json:"todos"`
	AgentData map[string]map[string]any `json:"agent_data"`
}

// AgentView is one role's view of the SessionContext: the shared fields
// plus the role's private slot merged with call-site overrides.
type AgentView struct {
	SessionContext

	Role         string         `json:"role"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// ForAgent projects the context for one role.
func (c *SessionContext) ForAgent(role, systemPrompt string, overrides map[string]any) *AgentView {
	data := make(map[string]any)
	for k, v := range c.AgentData[role] {
		data[k] = v
	}
	for k, v := range overrides {
		data[k] = v
	}
	return &AgentView{
		SessionContext: *c,
		Role:           role,
		SystemPrompt:   systemPrompt,
		Data:           data,
	}
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}
