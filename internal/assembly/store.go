package assembly

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/store"
)

// StateStore persists assembly states. Lookups return (nil, nil) when no
// state matches.
type StateStore interface {
	Get(ctx context.Context, conversationID, userID string) (*State, error)
	GetByID(ctx context.Context, id string) (*State, error)
	// GetByUser returns the user's most recently updated in-progress state.
	GetByUser(ctx context.Context, userID string) (*State, error)
	Create(ctx context.Context, userID, conversationID string) (*State, error)
	Update(ctx context.Context, s *State) error
	// ProjectID re-reads the committed project id, bypassing any copy the
	// caller holds.
	ProjectID(ctx context.Context, stateID string) (string, error)
}

// SQLiteStateStore keeps states in the assembly_states table with the
// gathered data as JSON columns.
type SQLiteStateStore struct {
	ds     *store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewSQLiteStateStore creates a state store.
func NewSQLiteStateStore(ds *store.Store, logger zerolog.Logger) *SQLiteStateStore {
	return &SQLiteStateStore{
		ds:     ds,
		logger: logger.With().Str("component", "assembly.store").Logger(),
		now:    time.Now,
	}
}

const stateColumns = `id, user_id, conversation_id, project_id, project_info, tasks, team_members,
	required_fields, optional_fields, current_step, status, committed_tasks, committed_members,
	created_at, updated_at`

// Get finds the state bound to a conversation.
func (s *SQLiteStateStore) Get(ctx context.Context, conversationID, userID string) (*State, error) {
	if conversationID == "" {
		return nil, nil
	}
	return s.scanOne(ctx, `SELECT `+stateColumns+` FROM assembly_states
		WHERE conversation_id = ? AND user_id = ?`, conversationID, userID)
}

// GetByID loads a state by its id.
func (s *SQLiteStateStore) GetByID(ctx context.Context, id string) (*State, error) {
	return s.scanOne(ctx, `SELECT `+stateColumns+` FROM assembly_states WHERE id = ?`, id)
}

// GetByUser returns the latest in-progress state for userID.
func (s *SQLiteStateStore) GetByUser(ctx context.Context, userID string) (*State, error) {
	return s.scanOne(ctx, `SELECT `+stateColumns+` FROM assembly_states
		WHERE user_id = ? AND status = ?
		ORDER BY updated_at DESC, rowid DESC LIMIT 1`, userID, string(StatusInProgress))
}

// Create inserts a fresh state. A second state for the same conversation
// fails with perrors.ErrConflict.
func (s *SQLiteStateStore) Create(ctx context.Context, userID, conversationID string) (*State, error) {
	st := NewState(uuid.New().String(), userID, conversationID, s.now())
	if err := s.insert(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("state_id", st.ID).
		Str("user_id", userID).
		Str("conversation_id", conversationID).
		Msg("assembly state created")
	return st, nil
}

func (s *SQLiteStateStore) insert(ctx context.Context, st *State) error {
	cols, err := encodeState(st)
	if err != nil {
		return err
	}
	_, err = s.ds.DB().ExecContext(ctx, `
	INSERT INTO assembly_states (`+stateColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.UserID, st.ConversationID, st.ProjectID,
		cols.info, cols.tasks, cols.members, cols.required, cols.optional,
		string(st.CurrentStep), string(st.Status), st.CommittedTasks, st.CommittedMembers,
		st.CreatedAt.UnixMilli(), st.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("state for conversation %q already exists: %w", st.ConversationID, perrors.ErrConflict)
		}
		return fmt.Errorf("failed to create assembly state: %w", err)
	}
	return nil
}

// Update writes the whole state and bumps UpdatedAt. A project id already
// recorded in the row is never cleared by a stale copy.
func (s *SQLiteStateStore) Update(ctx context.Context, st *State) error {
	cols, err := encodeState(st)
	if err != nil {
		return err
	}
	st.UpdatedAt = s.now()
	res, err := s.ds.DB().ExecContext(ctx, `
	UPDATE assembly_states SET
		conversation_id = ?,
		project_id = COALESCE(NULLIF(?, ''), project_id),
		project_info = ?, tasks = ?, team_members = ?,
		required_fields = ?, optional_fields = ?,
		current_step = ?, status = ?,
		committed_tasks = ?, committed_members = ?,
		updated_at = ?
	WHERE id = ?`,
		st.ConversationID, st.ProjectID,
		cols.info, cols.tasks, cols.members, cols.required, cols.optional,
		string(st.CurrentStep), string(st.Status),
		st.CommittedTasks, st.CommittedMembers,
		st.UpdatedAt.UnixMilli(), st.ID,
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("conversation %q is bound to another state: %w", st.ConversationID, perrors.ErrConflict)
		}
		return fmt.Errorf("failed to update assembly state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assembly state %s: %w", st.ID, perrors.ErrNotFound)
	}
	return nil
}

// ProjectID reads the committed project id straight from the row.
func (s *SQLiteStateStore) ProjectID(ctx context.Context, stateID string) (string, error) {
	var id string
	err := s.ds.DB().QueryRowContext(ctx,
		`SELECT project_id FROM assembly_states WHERE id = ?`, stateID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("assembly state %s: %w", stateID, perrors.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read project id: %w", err)
	}
	return id, nil
}

type encodedState struct {
	info, tasks, members, required, optional string
}

func encodeState(st *State) (encodedState, error) {
	var out encodedState
	fields := []struct {
		dst *string
		v   any
	}{
		{&out.info, st.ProjectInfo},
		{&out.tasks, nonNil(st.Tasks)},
		{&out.members, nonNil(st.TeamMembers)},
		{&out.required, nonNil(st.RequiredFields)},
		{&out.optional, nonNil(st.OptionalFields)},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return out, fmt.Errorf("encode assembly state: %w", err)
		}
		*f.dst = string(b)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (s *SQLiteStateStore) scanOne(ctx context.Context, query string, args ...any) (*State, error) {
	var (
		st                                       State
		info, tasks, members, required, optional string
		step, status                             string
		created, updated                         int64
	)
	err := s.ds.DB().QueryRowContext(ctx, query, args...).Scan(
		&st.ID, &st.UserID, &st.ConversationID, &st.ProjectID,
		&info, &tasks, &members, &required, &optional,
		&step, &status, &st.CommittedTasks, &st.CommittedMembers,
		&created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assembly state: %w", err)
	}

	decode := []struct {
		raw string
		dst any
	}{
		{info, &st.ProjectInfo},
		{tasks, &st.Tasks},
		{members, &st.TeamMembers},
		{required, &st.RequiredFields},
		{optional, &st.OptionalFields},
	}
	for _, d := range decode {
		if err := json.Unmarshal([]byte(d.raw), d.dst); err != nil {
			return nil, fmt.Errorf("decode assembly state %s: %w", st.ID, err)
		}
	}
	st.Tasks = nonNil(st.Tasks)
	st.TeamMembers = nonNil(st.TeamMembers)
	st.RequiredFields = nonNil(st.RequiredFields)
	st.OptionalFields = nonNil(st.OptionalFields)
	st.CurrentStep = Step(step)
	st.Status = Status(status)
	st.CreatedAt = time.UnixMilli(created)
	st.UpdatedAt = time.UnixMilli(updated)
	return &st, nil
}
