package agentctx

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/session"
)

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func newTestStateManager(t *testing.T) *StateManager {
	t.Helper()
	store, err := session.NewStateStore(t.TempDir())
	require.NoError(t, err)
	return NewStateManager(store, testLogger(t))
}

func TestActionLogBounded(t *testing.T) {
	state := NewState()
	for i := 1; i <= 15; i++ {
		state.AppendAction(ActionLogEntry{StepID: i, Agent: "engineer", Summary: fmt.Sprintf("step %d", i)})
	}
	require.Len(t, state.ActionLog, MaxActionLogEntries)
	assert.Equal(t, 6, state.ActionLog[0].StepID)
	assert.Equal(t, 15, state.ActionLog[len(state.ActionLog)-1].StepID)
}

func TestTodosBounded(t *testing.T) {
	state := NewState()
	for i := 1; i <= 25; i++ {
		state.AppendTodo(NewTodoEntry(fmt.Sprintf("todo %d", i), "planner"))
	}
	require.Len(t, state.Todos, MaxTodoEntries)
	assert.Equal(t, "todo 6", state.Todos[0].Description)
}

func TestActionResultTruncated(t *testing.T) {
	state := NewState()
	state.AppendAction(ActionLogEntry{StepID: 1, Agent: "engineer", Result: strings.Repeat("x", 1000)})
	got := state.ActionLog[0].Result
	assert.LessOrEqual(t, len([]rune(got)), MaxActionResultChars)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "日本語テ…", Truncate("日本語テキスト", 5))
}

func TestForAgentMergesOverrides(t *testing.T) {
	sc := &SessionContext{
		SessionID: "s1",
		AgentData: map[string]map[string]any{
			"engineer": {"language": "go", "style": "terse"},
		},
	}

	view := sc.ForAgent("engineer", "you are the engineer", map[string]any{"style": "verbose"})
	assert.Equal(t, "engineer", view.Role)
	assert.Equal(t, "you are the engineer", view.SystemPrompt)
	assert.Equal(t, "go", view.Data["language"])
	assert.Equal(t, "verbose", view.Data["style"])

	// The underlying slot is untouched
	assert.Equal(t, "terse", sc.AgentData["engineer"]["style"])

	// Roles never see another role's slot
	other := sc.ForAgent("analyst", "", nil)
	assert.Empty(t, other.Data)
}

func TestStateManagerPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	store, err := session.NewStateStore(dir)
	require.NoError(t, err)
	m := NewStateManager(store, testLogger(t))

	m.AppendAction("s1", ActionLogEntry{StepID: 1, Agent: "architect", Summary: "designed it", Status: "success"})
	m.AppendTodos("s1", "architect", []string{"write tests"})
	m.SetAgentData("s1", "architect", map[string]any{"doc": "docs/design.md"})

	// Fresh store + manager over the same directory
	store2, err := session.NewStateStore(dir)
	require.NoError(t, err)
	reloaded := NewStateManager(store2, testLogger(t)).Load("s1")

	require.Len(t, reloaded.ActionLog, 1)
	assert.Equal(t, "designed it", reloaded.ActionLog[0].Summary)
	require.Len(t, reloaded.Todos, 1)
	assert.Equal(t, "write tests", reloaded.Todos[0].Description)
	assert.Equal(t, "docs/design.md", reloaded.AgentData["architect"]["doc"])
}

func TestStateManagerClear(t *testing.T) {
	m := newTestStateManager(t)
	m.AppendAction("s1", ActionLogEntry{StepID: 1, Agent: "engineer"})
	m.Clear("s1")
	assert.Empty(t, m.Load("s1").ActionLog)
}

func seedSession(t *testing.T, repo session.Repository, sessionID, ownerID string, msgs []*session.Message) {
	t.Helper()
	_, err := repo.CreateSession(context.Background(), ownerID, &session.CreateRequest{ID: sessionID, Title: "test session"})
	require.NoError(t, err)
	base := time.Now().UTC().Add(-time.Hour)
	for i, msg := range msgs {
		msg.SessionID = sessionID
		msg.Timestamp = base.Add(time.Duration(i) * time.Second)
		_, err := repo.AppendMessage(context.Background(), msg)
		require.NoError(t, err)
	}
}

func TestBuilderHistoryPrefersActionLog(t *testing.T) {
	repo := session.NewMemoryRepository()
	m := newTestStateManager(t)
	m.AppendAction("s1", ActionLogEntry{StepID: 1, Agent: "architect", Summary: "laid out the plan"})
	m.AppendAction("s1", ActionLogEntry{StepID: 2, Agent: "engineer", Result: strings.Repeat("long output ", 40)})

	seedSession(t, repo, "s1", "o1", []*session.Message{
		{Sender: session.SenderUser, Content: "build it"},
	})

	b := NewBuilder(repo, m, nil, testLogger(t))
	sc, err := b.Build(context.Background(), "s1", "o1", "u1", "build it")
	require.NoError(t, err)

	lines := strings.Split(sc.History, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "step 1 · architect: laid out the plan", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "step 2 · engineer: "))
	assert.LessOrEqual(t, len([]rune(lines[1])), 160)
}

func TestBuilderHistoryFallsBackToMessages(t *testing.T) {
	repo := session.NewMemoryRepository()
	seedSession(t, repo, "s1", "o1", []*session.Message{
		{Sender: session.SenderUser, Content: "hello"},
		{Sender: session.SenderAgent, Agent: "engineer", Content: "done"},
	})

	b := NewBuilder(repo, newTestStateManager(t), nil, testLogger(t))
	sc, err := b.Build(context.Background(), "s1", "o1", "u1", "next")
	require.NoError(t, err)

	assert.Contains(t, sc.History, "user: hello")
	assert.Contains(t, sc.History, "engineer: done")
}

func TestBuilderUserMessagesBounded(t *testing.T) {
	repo := session.NewMemoryRepository()
	var msgs []*session.Message
	for i := 1; i <= 12; i++ {
		msgs = append(msgs, &session.Message{Sender: session.SenderUser, Content: fmt.Sprintf("msg %d", i)})
	}
	seedSession(t, repo, "s1", "o1", msgs)

	b := NewBuilder(repo, newTestStateManager(t), nil, testLogger(t))
	sc, err := b.Build(context.Background(), "s1", "o1", "u1", "latest")
	require.NoError(t, err)

	require.Len(t, sc.UserMessages, userMessagesLimit)
	assert.Equal(t, "msg 5", sc.UserMessages[0])
	assert.Equal(t, "msg 12", sc.UserMessages[len(sc.UserMessages)-1])
}

func TestBuilderArtifactsSummary(t *testing.T) {
	repo := session.NewMemoryRepository()
	seedSession(t, repo, "s1", "o1", []*session.Message{
		{Sender: session.SenderAgent, Agent: "engineer", Content: "built things\n[file writes]\n- src/main.go (overwrite)\n- src/handler.go (overwrite)\n\nmore prose"},
		{Sender: session.SenderAgent, Agent: "product", Content: "[PRD writes]\n- docs/prd.md\nnot-a-path-token"},
	})

	b := NewBuilder(repo, newTestStateManager(t), nil, testLogger(t))
	sc, err := b.Build(context.Background(), "s1", "o1", "u1", "go")
	require.NoError(t, err)

	assert.Contains(t, sc.ArtifactsSummary, "docs/prd.md")
	assert.Contains(t, sc.ArtifactsSummary, "src/main.go")
	assert.Contains(t, sc.ArtifactsSummary, "src/handler.go")
	assert.NotContains(t, sc.ArtifactsSummary, "not-a-path-token")
}

func TestBuilderArtifactsLimit(t *testing.T) {
	repo := session.NewMemoryRepository()
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("- src/file%d.go", i))
	}
	seedSession(t, repo, "s1", "o1", []*session.Message{
		{Sender: session.SenderAgent, Agent: "engineer", Content: "[file writes]\n" + strings.Join(lines, "\n")},
	})

	b := NewBuilder(repo, newTestStateManager(t), nil, testLogger(t))
	sc, err := b.Build(context.Background(), "s1", "o1", "u1", "go")
	require.NoError(t, err)
	assert.Len(t, strings.Split(sc.ArtifactsSummary, "\n"), artifactsLimit)
}
