package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcrew/devcrew/internal/agentctx"
	"github.com/devcrew/devcrew/internal/common/config"
	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/llm"
	"github.com/devcrew/devcrew/internal/sandbox"
	"github.com/devcrew/devcrew/internal/session"
	"github.com/devcrew/devcrew/internal/stream"
	"github.com/devcrew/devcrew/internal/tools"
)

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

// scriptStep is one scripted provider call: the chunks to emit, then the
// error to fail with (nil for success).
type scriptStep struct {
	chunks []string
	err    error
}

type scriptedProvider struct {
	mu    sync.Mutex
	steps []scriptStep
	calls int
	reqs  []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request, onChunk llm.ChunkFunc) (string, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.reqs = append(p.reqs, req)
	if idx >= len(p.steps) {
		idx = len(p.steps) - 1
	}
	step := p.steps[idx]
	p.mu.Unlock()

	for _, chunk := range step.chunks {
		if err := onChunk(chunk); err != nil {
			return "", err
		}
	}
	if step.err != nil {
		return "", step.err
	}
	return strings.Join(step.chunks, ""), nil
}

func (p *scriptedProvider) requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.Request, len(p.reqs))
	copy(out, p.reqs)
	return out
}

func scriptedLLM(t *testing.T, steps ...scriptStep) (*llm.Service, *scriptedProvider) {
	t.Helper()
	svc := llm.NewService(config.LLMConfig{Provider: "scripted"}, testLogger(t))
	p := &scriptedProvider{steps: steps}
	svc.Register(p)
	return svc, p
}

// eventRecorder captures published events and persisted messages.
type eventRecorder struct {
	mu        sync.Mutex
	events    []stream.Event
	persisted []*session.Message
}

func (r *eventRecorder) publisher(_ context.Context, ev *stream.Event) error {
	r.mu.Lock()
	r.events = append(r.events, *ev)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) persist(_ context.Context, msg *session.Message) (*session.Message, error) {
	r.mu.Lock()
	r.persisted = append(r.persisted, msg)
	r.mu.Unlock()
	return msg, nil
}

func (r *eventRecorder) ofType(typ stream.EventType) []stream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []stream.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newStreamContext(t *testing.T, r *eventRecorder) *stream.Context {
	t.Helper()
	return stream.NewContext("s1", "o1", "u1", r.publisher, r.persist, testLogger(t))
}

func newTestExecutor(t *testing.T) (*tools.Executor, *sandbox.FileService) {
	t.Helper()
	cfg := config.SandboxConfig{
		Image:        "node:20-bookworm",
		BasePath:     t.TempDir(),
		Command:      "sleep infinity",
		ExposedPorts: "3000",
		PortStart:    42000,
		PortEnd:      42009,
		GCInterval:   60,
	}
	m, err := sandbox.NewManager(cfg, sandbox.NopRuntime{}, nil, testLogger(t))
	require.NoError(t, err)
	files := sandbox.NewFileService(m, testLogger(t))
	commands := sandbox.NewCommandService(m, testLogger(t))

	ex := tools.NewExecutor(testLogger(t))
	ex.Register(tools.NewFileWriteTool(files))
	ex.Register(tools.NewFileReadTool(files))
	ex.Register(tools.NewShellTool(commands))
	return ex, files
}

func testView(role, task string) *agentctx.AgentView {
	return &agentctx.AgentView{
		SessionContext: agentctx.SessionContext{
			SessionID:          "s1",
			OwnerID:            "o1",
			UserID:             "u1",
			CurrentUserMessage: task,
		},
		Role: role,
	}
}

func TestAnalystStreamsTokensThenFinal(t *testing.T) {
	svc, _ := scriptedLLM(t, scriptStep{chunks: []string{"Hello ", "world"}})
	rec := &eventRecorder{}
	sc := newStreamContext(t, rec)

	analyst := NewAnalyst(Deps{LLM: svc, Log: testLogger(t)})
	result, err := analyst.Act(context.Background(), sc, testView(RoleAnalyst, "evaluate"))
	require.NoError(t, err)
	assert.Equal(t, "Hello world", result.Content)

	toks := rec.ofType(stream.EventToken)
	require.Len(t, toks, 3)
	assert.False(t, toks[0].Final)
	assert.False(t, toks[1].Final)
	assert.Equal(t, "Hello ", toks[0].Content)
	assert.Equal(t, "world", toks[1].Content)
	assert.True(t, toks[2].Final)
	assert.Equal(t, "Hello world", toks[2].Content)
	assert.Equal(t, toks[0].MessageID, toks[2].MessageID)
	assert.Equal(t, result.MessageID, toks[2].MessageID)

	require.Len(t, rec.persisted, 1)
	assert.Equal(t, "Hello world", rec.persisted[0].Content)
	assert.Equal(t, result.MessageID, rec.persisted[0].ID)
}

func TestMidStreamFailureEmitsErrorWithoutFinal(t *testing.T) {
	svc, _ := scriptedLLM(t, scriptStep{
		chunks: []string{"part one ", "part two "},
		err:    errors.New("upstream hiccup"),
	})
	rec := &eventRecorder{}
	sc := newStreamContext(t, rec)

	analyst := NewAnalyst(Deps{LLM: svc, Log: testLogger(t)})
	_, err := analyst.Act(context.Background(), sc, testView(RoleAnalyst, "evaluate"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream hiccup")

	toks := rec.ofType(stream.EventToken)
	require.Len(t, toks, 2)
	for _, tok := range toks {
		assert.False(t, tok.Final)
	}

	errs := rec.ofType(stream.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, toks[0].MessageID, errs[0].MessageID)
	assert.Contains(t, errs[0].Content, "upstream hiccup")

	// The error event is persisted; no final message is.
	require.Len(t, rec.persisted, 1)
	assert.Equal(t, errs[0].MessageID, rec.persisted[0].ID)
}

func TestPlannerActRendersLabelledSummary(t *testing.T) {
	svc, _ := scriptedLLM(t, scriptStep{
		chunks: []string{`{"next_agent": "engineer", "reason": "build it"}`},
	})
	rec := &eventRecorder{}
	sc := newStreamContext(t, rec)

	planner := NewPlanner(Deps{LLM: svc, Log: testLogger(t)})
	result, err := planner.Act(context.Background(), sc, testView(RolePlanner, "plan"))
	require.NoError(t, err)
	assert.Equal(t, "Next: engineer\nReason: build it", result.Content)
	assert.Equal(t, session.SenderPlanner, result.Sender)

	require.Len(t, rec.persisted, 1)
	assert.Equal(t, "Next: engineer\nReason: build it", rec.persisted[0].Content)
}

func TestPlanNextAgentPublishesSummaryButReturnsRaw(t *testing.T) {
	raw := `{"next_agent": "product", "reason": "needs a PRD first"}`
	svc, provider := scriptedLLM(t, scriptStep{chunks: []string{raw}})
	rec := &eventRecorder{}
	sc := newStreamContext(t, rec)

	planner := NewPlanner(Deps{LLM: svc, Log: testLogger(t)})
	result, err := planner.PlanNextAgent(context.Background(), sc, testView(RolePlanner, "plan"), WorkerRoles)
	require.NoError(t, err)

	// The raw JSON stays on the result for hint extraction; the stream
	// carries the labelled rendering.
	assert.Equal(t, raw, result.Content)
	require.Len(t, rec.persisted, 1)
	assert.Equal(t, "Next: product\nReason: needs a PRD first", rec.persisted[0].Content)

	reqs := provider.requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].User, "product, architect, engineer, researcher, analyst")
}

func TestRenderPlannerSummary(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"full decision",
			`{"next_agent": "engineer", "decision": "continue", "reason": "code is next"}`,
			"Next: engineer\nDecision: continue\nReason: code is next",
		},
		{
			"plain text passes through",
			"Let us start with the product manager.",
			"Let us start with the product manager.",
		},
		{
			"broken json passes through",
			`{"next_agent": `,
			`{"next_agent": `,
		},
		{
			"json without known keys passes through",
			`{"foo": "bar"}`,
			`{"foo": "bar"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderPlannerSummary(tt.raw))
		})
	}
}

func TestEngineerExecutesFileAndShellBlocks(t *testing.T) {
	raw := "Setting up the entry point.\n" +
		"```file:src/main.go overwrite\npackage main\n```endfile\n" +
		"```shell\necho hi\n```endshell"
	svc, _ := scriptedLLM(t, scriptStep{chunks: []string{raw}})
	rec := &eventRecorder{}
	sc := newStreamContext(t, rec)
	ex, files := newTestExecutor(t)

	engineer := NewEngineer(Deps{LLM: svc, Tools: ex, Log: testLogger(t)})
	result, err := engineer.Act(context.Background(), sc, testView(RoleEngineer, "write the app"))
	require.NoError(t, err)

	assert.Contains(t, result.Content, "[file writes]\n- src/main.go (overwrite)")
	assert.Contains(t, result.Content, "[sandbox shell]\n- `echo hi` (exit 0)")

	info, err := files.ReadFile(context.Background(), "s1", "o1", "src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main", info.Content)

	var toolCalls []string
	for _, ev := range rec.ofType(stream.EventToolCall) {
		toolCalls = append(toolCalls, ev.Content)
	}
	assert.Equal(t, []string{"[tool call] file_write", "[tool call] sandbox_shell"}, toolCalls)

	statuses := rec.ofType(stream.EventStatus)
	require.Len(t, statuses, 1)
	assert.Contains(t, statuses[0].Content, "exit 0")
}

func TestEngineerReportsFailedWrites(t *testing.T) {
	raw := "```file:../escape.txt overwrite\nnope\n```endfile"
	svc, _ := scriptedLLM(t, scriptStep{chunks: []string{raw}})
	ex, _ := newTestExecutor(t)
	rec := &eventRecorder{}
	sc := newStreamContext(t, rec)

	engineer := NewEngineer(Deps{LLM: svc, Tools: ex, Log: testLogger(t)})
	result, err := engineer.Act(context.Background(), sc, testView(RoleEngineer, "write"))
	require.NoError(t, err)
	assert.Contains(t, result.Content, "- ../escape.txt (failed:")
	assert.Contains(t, result.Content, "path must not contain ..")
}

func TestProductRoleCoercesWritesUnderDocs(t *testing.T) {
	raw := "The requirements are settled.\n```file:prd.md overwrite\n# PRD\n```endfile"
	svc, _ := scriptedLLM(t, scriptStep{chunks: []string{raw}})
	ex, files := newTestExecutor(t)
	rec := &eventRecorder{}
	sc := newStreamContext(t, rec)

	product := NewDocRole(RoleProduct, Deps{LLM: svc, Tools: ex, Log: testLogger(t)})
	result, err := product.Act(context.Background(), sc, testView(RoleProduct, "write the PRD"))
	require.NoError(t, err)

	assert.Contains(t, result.Content, "[PRD writes]\n- docs/prd.md")

	info, err := files.ReadFile(context.Background(), "s1", "o1", "docs/prd.md")
	require.NoError(t, err)
	assert.Equal(t, "# PRD", info.Content)
}

// fakeSearchTool stands in for web_search so doc-role research can be
// scripted without a network.
type fakeSearchTool struct {
	results []tools.SearchResult
}

func (f *fakeSearchTool) Name() string        { return "web_search" }
func (f *fakeSearchTool) Description() string { return "scripted search" }

func (f *fakeSearchTool) Run(context.Context, *stream.Context, tools.Invocation) (any, error) {
	return f.results, nil
}

func TestResearchNotesInjectedIntoPrompt(t *testing.T) {
	svc, provider := scriptedLLM(t, scriptStep{chunks: []string{"Findings documented."}})
	ex, _ := newTestExecutor(t)
	ex.Register(&fakeSearchTool{results: []tools.SearchResult{
		{Title: "Go modules", URL: "https://example.com/mod", Snippet: "dependency management"},
	}})
	rec := &eventRecorder{}
	sc := newStreamContext(t, rec)

	researcher := NewDocRole(RoleResearcher, Deps{LLM: svc, Tools: ex, Log: testLogger(t)})
	_, err := researcher.Act(context.Background(), sc, testView(RoleResearcher, "compare approaches"))
	require.NoError(t, err)

	reqs := provider.requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].User, "## Research notes")
	assert.Contains(t, reqs[0].User, "Go modules (https://example.com/mod): dependency management")
}

func TestReadDirectivesPrependReferenceSections(t *testing.T) {
	svc, _ := scriptedLLM(t, scriptStep{chunks: []string{
		"Based on {{read_file:notes.md}} the plan holds.",
	}})
	ex, files := newTestExecutor(t)
	_, err := files.WriteFile(context.Background(), "s1", "o1", "notes.md",
		"remember the port range", sandbox.WriteOptions{Overwrite: true})
	require.NoError(t, err)
	rec := &eventRecorder{}
	sc := newStreamContext(t, rec)

	architect := NewDocRole(RoleArchitect, Deps{LLM: svc, Tools: ex, Log: testLogger(t)})
	result, err := architect.Act(context.Background(), sc, testView(RoleArchitect, "design"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Content, "### Reference: notes.md\nremember the port range"))
	assert.Contains(t, result.Content, "the plan holds")
}

func TestComposePromptSections(t *testing.T) {
	view := testView(RoleEngineer, "ship it")
	view.History = "step 1 · architect: laid out the plan"
	view.ArtifactsSummary = "- docs/prd.md"
	view.ActionLog = []agentctx.ActionLogEntry{
		{StepID: 1, Agent: "architect", Status: "success", Summary: "laid out the plan"},
	}
	view.Todos = []agentctx.TodoEntry{{Description: "add tests"}}
	view.Data = map[string]any{"branch": "main", "area": "backend"}

	prompt := composePrompt(view, "## Extra\ncontext")

	for _, section := range []string{
		"## Conversation so far\nstep 1 · architect: laid out the plan",
		"## Recent artifacts\n- docs/prd.md",
		"## Action log\n- step 1 architect [success]: laid out the plan",
		"## Pending TODOs\n- add tests",
		"## Role notes\n- area: backend\n- branch: main",
		"## Extra\ncontext",
		"## Task\nship it",
	} {
		assert.Contains(t, prompt, section)
	}
	assert.True(t, strings.HasSuffix(prompt, "## Task\nship it"))
}

func TestNewCrewCoversAllRoles(t *testing.T) {
	svc, _ := scriptedLLM(t, scriptStep{chunks: []string{"ok"}})
	crew := NewCrew(Deps{LLM: svc, Log: testLogger(t)})
	require.Len(t, crew, 6)
	for _, role := range append([]string{RolePlanner}, WorkerRoles...) {
		agent, ok := crew[role]
		require.True(t, ok, role)
		assert.Equal(t, role, agent.Role())
	}
}
