package assembly

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/identity"
	"github.com/giantsdigitaldev/cristos/internal/llm"
	"github.com/giantsdigitaldev/cristos/internal/memory"
	"github.com/giantsdigitaldev/cristos/internal/metrics"
	"github.com/giantsdigitaldev/cristos/internal/project"
	"github.com/giantsdigitaldev/cristos/internal/prompt"
)

// scriptedModel replies with the next scripted text; the last reply repeats.
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	fail    bool
	calls   []llm.Config
	msgs    [][]llm.Message
}

func (m *scriptedModel) Complete(_ context.Context, msgs []llm.Message, cfg llm.Config) llm.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cfg)
	m.msgs = append(m.msgs, msgs)
	if m.fail {
		return llm.Result{Err: perrors.ErrModelCallFailed, Attempts: 5}
	}
	text := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return llm.Result{Success: true, Text: text, Attempts: 1}
}

type engineFixture struct {
	engine   *Engine
	model    *scriptedModel
	states   *SQLiteStateStore
	projects *project.Store
	log      *memory.SQLiteLog
	queue    *recordingQueue
	pack     *prompt.Pack
}

func newEngineFixture(t *testing.T, replies ...string) *engineFixture {
	t.Helper()
	ds := newDataStore(t, "u1")
	pack, err := prompt.Default()
	require.NoError(t, err)

	f := &engineFixture{
		model:    &scriptedModel{replies: replies},
		states:   NewSQLiteStateStore(ds, zerolog.Nop()),
		projects: project.NewStore(ds, zerolog.Nop()),
		log:      memory.NewSQLiteLog(ds),
		queue:    &recordingQueue{},
		pack:     pack,
	}
	m := metrics.New()
	f.engine = NewEngine(Deps{
		States:    f.states,
		Identity:  identity.NewStore(ds, zerolog.Nop()),
		Memory:    memory.New(f.log, nil, pack, memory.DefaultOptions(), zerolog.Nop()),
		Log:       f.log,
		Model:     f.model,
		Pack:      pack,
		Committer: NewCommitter(f.states, f.projects, f.queue, m, zerolog.Nop()),
		Metrics:   m,
		Logger:    zerolog.Nop(),
	})
	return f
}

func (f *engineFixture) turn(t *testing.T, conv, text string) *TurnResult {
	t.Helper()
	res, err := f.engine.ProcessTurn(context.Background(), TurnInput{UserID: "u1", ConversationID: conv, Text: text})
	require.NoError(t, err)
	return res
}

func TestProcessTurn_TasksBeforeName(t *testing.T) {
	f := newEngineFixture(t, "Let's get started. <task>Make the bed</task> <task>Vacuum</task> What should we call it?")

	res := f.turn(t, "c1", "I need to clean my room: make the bed, vacuum")

	assert.Equal(t, "Let's get started. What should we call it?", res.Prose)
	assert.Len(t, res.Widgets, 2)
	require.Len(t, res.State.Tasks, 2)
	assert.Equal(t, "Make the bed", res.State.Tasks[0].Title)
	assert.Equal(t, "Vacuum", res.State.Tasks[1].Title)
	assert.Equal(t, StepGatheringProjectName, res.NextStep)
	assert.False(t, res.Commit.Committed)
	assert.Contains(t, res.MissingInfo, "project_name")
	assert.NotContains(t, res.MissingInfo, "tasks")

	stored, err := f.states.Get(context.Background(), "c1", "u1")
	require.NoError(t, err)
	assert.Len(t, stored.Tasks, 2)
}

func TestProcessTurn_NameCommitsProject(t *testing.T) {
	f := newEngineFixture(t, "Nice. <project_name>Room Cleaning</project_name> What's it about?")

	res := f.turn(t, "c1", "call it Room Cleaning")

	assert.Equal(t, "Room Cleaning", res.State.ProjectInfo.Name)
	assert.Equal(t, []string{"project_description"}, res.State.RequiredFields)
	assert.Equal(t, StepGatheringProjectDescription, res.NextStep)
	assert.True(t, res.Commit.Committed)
	require.NotEmpty(t, res.Commit.ProjectID)
	assert.Len(t, f.queue.jobs, 1)

	p, err := f.projects.GetProject(context.Background(), res.Commit.ProjectID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Room Cleaning", p.Name)
}

func TestProcessTurn_CommitsOnce(t *testing.T) {
	f := newEngineFixture(t, "<project_name>Room Cleaning</project_name>")

	first := f.turn(t, "c1", "Room Cleaning")
	second := f.turn(t, "c1", "yes, Room Cleaning")

	assert.True(t, first.Commit.Committed)
	assert.False(t, second.Commit.Committed)
	assert.Equal(t, first.Commit.ProjectID, second.Commit.ProjectID)

	list, err := f.projects.ListProjects(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestProcessTurn_ConcurrentTurnsCommitOnce(t *testing.T) {
	f := newEngineFixture(t, "<project_name>Room Cleaning</project_name>")

	var wg sync.WaitGroup
	results := make([]*TurnResult, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.ProcessTurn(context.Background(), TurnInput{UserID: "u1", ConversationID: "c1", Text: "Room Cleaning"})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	committed := 0
	for _, r := range results {
		require.NotNil(t, r)
		if r.Commit.Committed {
			committed++
		}
	}
	assert.Equal(t, 1, committed)

	list, err := f.projects.ListProjects(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestProcessTurn_PostCommitSync(t *testing.T) {
	f := newEngineFixture(t,
		"<project_name>Room Cleaning</project_name>",
		"Here are some tasks. <task>Vacuum</task> <task priority=\"high\">Dust shelves</task>",
	)
	first := f.turn(t, "c1", "Room Cleaning")
	second := f.turn(t, "c1", "suggest tasks")

	assert.Equal(t, 2, second.Commit.TasksWritten)
	assert.Equal(t, 2, second.State.CommittedTasks)

	tasks, err := f.projects.ListTasks(context.Background(), first.Commit.ProjectID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "high", tasks[1].Priority)
}

func TestProcessTurn_ModelFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.model.fail = true

	res, err := f.engine.ProcessTurn(context.Background(), TurnInput{UserID: "u1", ConversationID: "c1", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, f.pack.Apology, res.Prose)
	assert.Empty(t, res.Widgets)
	assert.True(t, res.Degraded)
	require.NotNil(t, res.State)
	assert.Empty(t, res.State.ProjectInfo.Name)

	msgs, err := f.log.List(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestProcessTurn_UnknownUser(t *testing.T) {
	f := newEngineFixture(t, "hi")

	res, err := f.engine.ProcessTurn(context.Background(), TurnInput{UserID: "ghost", ConversationID: "c1", Text: "hello"})
	assert.ErrorIs(t, err, perrors.ErrUserNotFound)
	require.NotNil(t, res)
	assert.Equal(t, f.pack.Apology, res.Prose)
	assert.Empty(t, res.Widgets)
	assert.Empty(t, f.model.calls)
}

func TestProcessTurn_EmptyText(t *testing.T) {
	f := newEngineFixture(t, "hi")
	_, err := f.engine.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Text: "  "})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

func TestProcessTurn_PlaceholderConversationID(t *testing.T) {
	f := newEngineFixture(t,
		"<task>Vacuum</task>",
		"<task>Dust</task>",
	)
	first := f.turn(t, "undefined", "vacuum")
	second := f.turn(t, "null", "dust")

	assert.Equal(t, first.State.ID, second.State.ID)
	assert.Empty(t, second.State.ConversationID)
	assert.Len(t, second.State.Tasks, 2)
}

func TestProcessTurn_AdoptsUnboundState(t *testing.T) {
	f := newEngineFixture(t, "<task>Vacuum</task>", "<task>Dust</task>")

	first := f.turn(t, "", "vacuum")
	second := f.turn(t, "c9", "dust")

	assert.Equal(t, first.State.ID, second.State.ID)
	assert.Equal(t, "c9", second.State.ConversationID)

	stored, err := f.states.Get(context.Background(), "c9", "u1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, first.State.ID, stored.ID)

	// A different conversation does not steal a bound state.
	third := f.turn(t, "c10", "new project")
	assert.NotEqual(t, first.State.ID, third.State.ID)
}

func TestProcessTurn_MemoryAndPrompt(t *testing.T) {
	f := newEngineFixture(t,
		"<project_name>Room Cleaning</project_name> <task>Vacuum</task>",
		"Got it.",
	)
	f.turn(t, "c1", "Room Cleaning, vacuum first")
	f.turn(t, "c1", "what's next?")

	require.Len(t, f.model.msgs, 2)
	second := f.model.msgs[1]
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleUser, second[0].Role)
	assert.Equal(t, "Room Cleaning, vacuum first", second[0].Content)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	assert.Contains(t, second[1].Content, "<task>Vacuum</task>")
	assert.Equal(t, "what's next?", second[2].Content)

	system := f.model.calls[1].SystemPrompt
	assert.Contains(t, system, "Room Cleaning")
	assert.NotContains(t, system, "Vacuum")

	msgs, err := f.log.List(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestProcessTurn_CommitFailureIsWarning(t *testing.T) {
	f := newEngineFixture(t, "<project_name>Room Cleaning</project_name>")
	f.engine.committer = NewCommitter(f.states, &flakyProjects{Store: f.projects, failProject: true}, f.queue, nil, zerolog.Nop())

	res := f.turn(t, "c1", "Room Cleaning")
	assert.False(t, res.Commit.Committed)
	assert.NotEmpty(t, res.Warnings)
	assert.Equal(t, "Room Cleaning", res.State.ProjectInfo.Name)

	stored, err := f.states.Get(context.Background(), "c1", "u1")
	require.NoError(t, err)
	assert.Empty(t, stored.ProjectID)
	assert.Equal(t, "Room Cleaning", stored.ProjectInfo.Name)
}

func TestEngineState(t *testing.T) {
	f := newEngineFixture(t, "<task>Vacuum</task>")

	none, err := f.engine.State(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Nil(t, none)

	f.turn(t, "c1", "vacuum")
	got, err := f.engine.State(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Tasks, 1)
}

func TestNormalizeConversationID(t *testing.T) {
	for _, id := range []string{"", " ", "undefined", "NULL", "new", "none"} {
		assert.Empty(t, NormalizeConversationID(id), id)
	}
	assert.Equal(t, "c1", NormalizeConversationID(" c1 "))
}
