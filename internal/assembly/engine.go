package assembly

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/interpret"
	"github.com/giantsdigitaldev/cristos/internal/llm"
	"github.com/giantsdigitaldev/cristos/internal/memory"
	"github.com/giantsdigitaldev/cristos/internal/metrics"
	"github.com/giantsdigitaldev/cristos/internal/prompt"
	"github.com/giantsdigitaldev/cristos/internal/requestid"
	"github.com/giantsdigitaldev/cristos/internal/tagparse"
)

// Turn sources.
const (
	SourceText  = "text"
	SourceVoice = "voice"
)

// Turn outcomes, as recorded in metrics.
const (
	outcomeOK       = "ok"
	outcomeDegraded = "degraded"
	outcomeError    = "error"
)

// IdentityStore answers whether a user may own assembly states.
type IdentityStore interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// MemoryProvider builds the conversation context for a turn.
type MemoryProvider interface {
	GetMemory(ctx context.Context, conversationID string) (*memory.Context, error)
}

// Completer is the language model as the engine sees it.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message, cfg llm.Config) llm.Result
}

// Deps wires an Engine. Metrics may be nil; Parser defaults to the
// vocabulary of Pack.
type Deps struct {
	States    StateStore
	Identity  IdentityStore
	Memory    MemoryProvider
	Log       memory.Log
	Model     Completer
	Parser    tagparse.Parser
	Pack      *prompt.Pack
	Committer *Committer
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// TurnInput is one user message.
type TurnInput struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
	Source         string `json:"source,omitempty"`
}

// TurnResult is what the caller renders for one turn.
type TurnResult struct {
	TurnID      string            `json:"turn_id"`
	Prose       string            `json:"prose"`
	Widgets     []tagparse.Widget `json:"widgets"`
	State       *State            `json:"state,omitempty"`
	NextStep    Step              `json:"next_step"`
	MissingInfo []string          `json:"missing_info"`
	Commit      CommitResult      `json:"commit"`
	// Degraded is set when the model could not be reached or the
	// conversation summary fell back to a placeholder.
	Degraded bool     `json:"degraded,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Engine runs assembly turns.
type Engine struct {
	states    StateStore
	identity  IdentityStore
	memory    MemoryProvider
	log       memory.Log
	model     Completer
	parser    tagparse.Parser
	pack      *prompt.Pack
	committer *Committer
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	turns     *keyedMutex
	now       func() time.Time
}

// NewEngine creates an engine from its dependencies.
func NewEngine(d Deps) *Engine {
	parser := d.Parser
	if parser == nil {
		parser = tagparse.New(d.Pack.Vocabulary)
	}
	return &Engine{
		states:    d.States,
		identity:  d.Identity,
		memory:    d.Memory,
		log:       d.Log,
		model:     d.Model,
		parser:    parser,
		pack:      d.Pack,
		committer: d.Committer,
		metrics:   d.Metrics,
		logger:    d.Logger.With().Str("component", "assembly").Logger(),
		turns:     newKeyedMutex(),
		now:       time.Now,
	}
}

// placeholderIDs are conversation ids clients send before a conversation
// exists.
var placeholderIDs = map[string]bool{
	"":          true,
	"undefined": true,
	"null":      true,
	"new":       true,
	"none":      true,
}

// NormalizeConversationID maps placeholder ids to "".
func NormalizeConversationID(id string) string {
	id = strings.TrimSpace(id)
	if placeholderIDs[strings.ToLower(id)] {
		return ""
	}
	return id
}

// ProcessTurn runs one turn: load state, ask the model, merge its widgets,
// commit when ready, persist. A model failure returns an apology with the
// state untouched and no error. A state load failure returns an apology and
// the error.
func (e *Engine) ProcessTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	start := e.now()
	source := in.Source
	if source == "" {
		source = SourceText
	}
	convID := NormalizeConversationID(in.ConversationID)
	res := &TurnResult{TurnID: uuid.New().String(), Widgets: []tagparse.Widget{}}

	log := requestid.Logger(ctx, e.logger).With().
		Str("turn_id", res.TurnID).
		Str("user_id", in.UserID).
		Str("conversation_id", convID).
		Str("source", source).
		Logger()

	if strings.TrimSpace(in.Text) == "" {
		e.metrics.RecordTurn(source, outcomeError, e.since(start))
		return e.apology(res, nil), fmt.Errorf("turn text is empty: %w", perrors.ErrInvalidInput)
	}

	state, unlock, err := e.acquire(ctx, in.UserID, convID)
	if err != nil {
		e.metrics.RecordTurn(source, outcomeError, e.since(start))
		log.Error().Err(err).Msg("failed to load assembly state")
		return e.apology(res, nil), err
	}
	defer unlock()
	log = log.With().Str("state_id", state.ID).Logger()

	msgs, degraded := e.buildMessages(ctx, convID, in.Text, log)
	system, err := e.pack.RenderSystem(state.Snapshot(e.now().UTC().Format("2006-01-02")))
	if err != nil {
		e.metrics.RecordTurn(source, outcomeError, e.since(start))
		return e.apology(res, state), fmt.Errorf("render system prompt: %w", err)
	}

	reply := e.model.Complete(ctx, msgs, llm.Config{SystemPrompt: system})
	if !reply.Success {
		log.Warn().Err(reply.Err).Int("attempts", reply.Attempts).Msg("model call failed, returning apology")
		e.metrics.RecordTurn(source, outcomeDegraded, e.since(start))
		out := e.apology(res, state)
		out.Degraded = true
		return out, nil
	}

	parsed := e.parser.Parse(reply.Text)
	res.Prose = parsed.Prose
	if parsed.Widgets != nil {
		res.Widgets = parsed.Widgets
	}
	res.Degraded = degraded

	infoChanged := e.merge(state, parsed.Widgets)
	state.CurrentStep = DetermineStep(state)

	if e.committer != nil {
		var cr CommitResult
		var cerr error
		if state.Committed() {
			cr, cerr = e.committer.Sync(ctx, state, infoChanged)
		} else if strings.TrimSpace(state.ProjectInfo.Name) != "" {
			cr, cerr = e.committer.CommitIfReady(ctx, state)
		}
		if cerr != nil {
			log.Error().Err(cerr).Msg("project commit failed")
			res.Warnings = append(res.Warnings, "project could not be saved yet; it will be retried on the next message")
		}
		if cr.Partial != nil {
			res.Warnings = append(res.Warnings, cr.Partial.Error())
		}
		res.Commit = cr
		state.CurrentStep = DetermineStep(state)
	}
	res.Commit.ProjectID = state.ProjectID

	if err := e.states.Update(ctx, state); err != nil {
		e.metrics.RecordTurn(source, outcomeError, e.since(start))
		log.Error().Err(err).Msg("failed to persist assembly state")
		return e.apology(res, state), fmt.Errorf("persist assembly state: %w", err)
	}

	e.appendLog(ctx, convID, in.Text, reply.Text, log)

	res.State = state
	res.NextStep = state.CurrentStep
	res.MissingInfo = MissingInfo(state)

	outcome := outcomeOK
	if res.Degraded {
		outcome = outcomeDegraded
	}
	e.metrics.RecordTurn(source, outcome, e.since(start))
	log.Info().
		Int("widgets", len(res.Widgets)).
		Str("step", string(res.NextStep)).
		Bool("committed", res.Commit.Committed).
		Str("project_id", state.ProjectID).
		Msg("turn processed")
	return res, nil
}

// acquire loads or creates the state for the turn and holds its turn lock.
// The state is re-read under the lock so a queued turn sees the previous
// turn's writes.
func (e *Engine) acquire(ctx context.Context, userID, convID string) (*State, func(), error) {
	state, err := e.loadOrCreate(ctx, userID, convID)
	if err != nil {
		return nil, nil, err
	}
	unlock := e.turns.lock(state.ID)

	fresh, err := e.states.GetByID(ctx, state.ID)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("reload assembly state: %w", err)
	}
	if fresh != nil {
		// Keep an adoption made by loadOrCreate.
		if fresh.ConversationID == "" {
			fresh.ConversationID = state.ConversationID
		}
		state = fresh
	}
	return state, unlock, nil
}

// loadOrCreate finds the state for (conversation, user). Without a match it
// falls back to the user's latest in-progress state: any such state when the
// conversation id is missing, or one not yet bound to a conversation, which
// the conversation then adopts. Otherwise a new state is created for a known
// user.
func (e *Engine) loadOrCreate(ctx context.Context, userID, convID string) (*State, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is empty: %w", perrors.ErrInvalidInput)
	}

	if convID != "" {
		s, err := e.states.Get(ctx, convID, userID)
		if err != nil {
			return nil, fmt.Errorf("get assembly state: %w", err)
		}
		if s != nil {
			return s, nil
		}
	}

	s, err := e.states.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get assembly state by user: %w", err)
	}
	if s != nil {
		if convID == "" {
			return s, nil
		}
		if s.ConversationID == "" {
			s.ConversationID = convID
			return s, nil
		}
	}

	exists, err := e.identity.UserExists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("user %s: %w", userID, perrors.ErrUserNotFound)
	}

	s, err = e.states.Create(ctx, userID, convID)
	if errors.Is(err, perrors.ErrConflict) {
		// Another request created it first.
		s, err = e.states.Get(ctx, convID, userID)
		if err == nil && s == nil {
			err = fmt.Errorf("assembly state for conversation %s vanished: %w", convID, perrors.ErrNotFound)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create assembly state: %w", err)
	}
	return s, nil
}

// buildMessages assembles memory plus the new user message. A memory
// failure degrades to the new message alone.
func (e *Engine) buildMessages(ctx context.Context, convID, text string, log zerolog.Logger) ([]llm.Message, bool) {
	var msgs []llm.Message
	degraded := false

	if e.memory != nil && convID != "" {
		mem, err := e.memory.GetMemory(ctx, convID)
		if err != nil {
			log.Warn().Err(err).Msg("conversation memory unavailable")
			degraded = true
		} else {
			degraded = mem.Degraded
			if mem.Summary != "" {
				msgs = append(msgs, llm.Message{
					Role:    llm.RoleSystem,
					Content: "Summary of the earlier conversation:\n" + mem.Summary,
				})
			}
			for _, m := range mem.Messages {
				role := llm.RoleUser
				if m.Role == llm.RoleAssistant {
					role = llm.RoleAssistant
				}
				msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
			}
		}
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
	return msgs, degraded
}

// merge applies every widget to the state and reports whether a project
// field changed.
func (e *Engine) merge(state *State, widgets []tagparse.Widget) bool {
	dedup := NewTurnDedup()
	infoChanged := false
	for _, w := range widgets {
		u, ok := interpret.Interpret(w)
		if !ok {
			e.metrics.RecordWidget(w.Type, false)
			continue
		}
		applied := state.Apply(u, dedup)
		e.metrics.RecordWidget(w.Type, applied)
		if _, isField := u.(interpret.ProjectField); isField && applied {
			infoChanged = true
		}
	}
	return infoChanged
}

// appendLog records the exchange. The assistant's raw reply is kept so the
// model sees which tags it already emitted.
func (e *Engine) appendLog(ctx context.Context, convID, userText, reply string, log zerolog.Logger) {
	if e.log == nil || convID == "" {
		return
	}
	if err := e.log.Append(ctx, convID, llm.RoleUser, userText); err != nil {
		log.Warn().Err(err).Msg("failed to append user message")
		return
	}
	if err := e.log.Append(ctx, convID, llm.RoleAssistant, reply); err != nil {
		log.Warn().Err(err).Msg("failed to append assistant message")
	}
}

func (e *Engine) apology(res *TurnResult, state *State) *TurnResult {
	res.Prose = e.pack.Apology
	res.Widgets = []tagparse.Widget{}
	if state != nil {
		res.State = state
		res.NextStep = state.CurrentStep
		res.MissingInfo = MissingInfo(state)
		res.Commit.ProjectID = state.ProjectID
	}
	return res
}

func (e *Engine) since(start time.Time) float64 {
	return e.now().Sub(start).Seconds()
}

// State returns the state a turn for (user, conversation) would use, without
// creating one. It returns (nil, nil) when there is none.
func (e *Engine) State(ctx context.Context, userID, conversationID string) (*State, error) {
	convID := NormalizeConversationID(conversationID)
	if convID != "" {
		s, err := e.states.Get(ctx, convID, userID)
		if err != nil || s != nil {
			return s, err
		}
	}
	s, err := e.states.GetByUser(ctx, userID)
	if err != nil || s == nil {
		return s, err
	}
	if convID != "" && s.ConversationID != "" {
		return nil, nil
	}
	return s, nil
}
