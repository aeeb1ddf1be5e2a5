// Package voice records voice sessions and feeds their transcripts into the
// assembly engine as if the user had typed them.
package voice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/giantsdigitaldev/cristos/internal/assembly"
	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/store"
	"github.com/giantsdigitaldev/cristos/internal/transcribe"
)

// Status is a session's processing_status.
type Status string

const (
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// abandonedReason marks sessions the caller gave up on.
const abandonedReason = "abandoned"

// Session is one recording and its transcript.
type Session struct {
	ID               string   `json:"id"`
	UserID           string   `json:"user_id"`
	ConversationID   string   `json:"conversation_id,omitempty"`
	Language         string   `json:"language,omitempty"`
	Status           Status   `json:"processing_status"`
	Transcript       string   `json:"transcript,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
	DetectedLanguage string   `json:"detected_language,omitempty"`
	DurationMs       int64    `json:"duration_ms,omitempty"`
	Error            string   `json:"error,omitempty"`
	CreatedAt        int64    `json:"created_at"`
	UpdatedAt        int64    `json:"updated_at"`
}

// Abandoned reports whether the session was cancelled by its caller.
func (s *Session) Abandoned() bool {
	return s.Status == StatusFailed && s.Error == abandonedReason
}

// Submission is the result of Submit. Turn is nil unless the transcript was
// forwarded to the engine.
type Submission struct {
	Session *Session             `json:"session"`
	Turn    *assembly.TurnResult `json:"turn,omitempty"`
}

// Transcriber is satisfied by *transcribe.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, audio transcribe.Audio, opts transcribe.Options) transcribe.Result
}

// TurnProcessor is satisfied by *assembly.Engine.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, in assembly.TurnInput) (*assembly.TurnResult, error)
}

// IdentityStore checks that a session's owner exists.
type IdentityStore interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Service drives voice sessions through recording, processing and a final
// completed or failed state.
type Service struct {
	ds          *store.Store
	transcriber Transcriber
	turns       TurnProcessor
	identity    IdentityStore
	logger      zerolog.Logger
	now         func() time.Time
}

// NewService creates a voice service.
func NewService(ds *store.Store, transcriber Transcriber, turns TurnProcessor, identity IdentityStore, logger zerolog.Logger) *Service {
	return &Service{
		ds:          ds,
		transcriber: transcriber,
		turns:       turns,
		identity:    identity,
		logger:      logger.With().Str("component", "voice").Logger(),
		now:         time.Now,
	}
}

// Start opens a session in the recording state.
func (s *Service) Start(ctx context.Context, userID, conversationID, language string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", perrors.ErrInvalidInput)
	}
	ok, err := s.identity.UserExists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("user %q: %w", userID, perrors.ErrUserNotFound)
	}

	now := s.now().UnixMilli()
	sess := &Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		ConversationID: assembly.NormalizeConversationID(conversationID),
		Language:       strings.TrimSpace(language),
		Status:         StatusRecording,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = s.ds.DB().ExecContext(ctx, `
	INSERT INTO voice_sessions (id, user_id, conversation_id, language, processing_status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.ConversationID, sess.Language, string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice session: %w", err)
	}

	s.logger.Info().Str("session_id", sess.ID).Str("user_id", userID).Msg("voice session started")
	return sess, nil
}

// Submit transcribes audio for a recording session. A completed transcript is
// run through the engine with source "voice"; a failed transcription marks
// the session failed and forwards nothing.
func (s *Service) Submit(ctx context.Context, sessionID, userID string, audio transcribe.Audio) (*Submission, error) {
	sess, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusRecording {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, perrors.ErrConflict)
	}
	if err := s.transition(ctx, sessionID, StatusRecording, StatusProcessing, nil); err != nil {
		return nil, err
	}

	log := s.logger.With().Str("session_id", sessionID).Str("user_id", userID).Logger()
	res := s.transcriber.Transcribe(ctx, audio, transcribe.Options{Language: sess.Language})
	if !res.Success {
		reason := "transcription failed"
		if res.Err != nil {
			reason = res.Err.Error()
		}
		log.Warn().Err(res.Err).Int("attempts", res.Attempts).Msg("voice transcription failed")
		err := s.transition(ctx, sessionID, StatusProcessing, StatusFailed, func(q *update) {
			q.set("error", reason)
		})
		if err != nil && !errors.Is(err, perrors.ErrConflict) {
			return nil, err
		}
		sess, err = s.Get(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		return &Submission{Session: sess}, nil
	}

	err = s.transition(ctx, sessionID, StatusProcessing, StatusCompleted, func(q *update) {
		q.set("transcript", res.Text)
		q.set("confidence", res.Confidence)
		q.set("detected_language", res.Language)
		q.set("duration_ms", res.DurationMs)
	})
	if errors.Is(err, perrors.ErrConflict) {
		// Abandoned while the provider was working.
		log.Info().Msg("voice session abandoned during transcription, transcript dropped")
		sess, err = s.Get(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		return &Submission{Session: sess}, nil
	}
	if err != nil {
		return nil, err
	}

	sess, err = s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	sub := &Submission{Session: sess}

	turn, err := s.turns.ProcessTurn(ctx, assembly.TurnInput{
		UserID:         userID,
		ConversationID: sess.ConversationID,
		Text:           res.Text,
		Source:         assembly.SourceVoice,
	})
	sub.Turn = turn
	if err != nil {
		return sub, fmt.Errorf("voice turn: %w", err)
	}
	log.Info().Int("chars", len(res.Text)).Str("next_step", string(turn.NextStep)).Msg("voice transcript processed")
	return sub, nil
}

// Abandon cancels a session that has not finished. Finished sessions are a
// conflict.
func (s *Service) Abandon(ctx context.Context, sessionID, userID string) (*Session, error) {
	sess, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusRecording && sess.Status != StatusProcessing {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, perrors.ErrConflict)
	}
	err = s.transition(ctx, sessionID, sess.Status, StatusFailed, func(q *update) {
		q.set("error", abandonedReason)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", sessionID).Msg("voice session abandoned")
	return s.Get(ctx, sessionID, userID)
}

// Get returns a session owned by userID. Other users' sessions are not found.
func (s *Service) Get(ctx context.Context, sessionID, userID string) (*Session, error) {
	var (
		sess       Session
		status     string
		confidence sql.NullFloat64
	)
	err := s.ds.DB().QueryRowContext(ctx, `
	SELECT id, user_id, conversation_id, language, processing_status, transcript, confidence,
		detected_language, duration_ms, error, created_at, updated_at
	FROM voice_sessions WHERE id = ? AND user_id = ?`, sessionID, userID).Scan(
		&sess.ID, &sess.UserID, &sess.ConversationID, &sess.Language, &status, &sess.Transcript, &confidence,
		&sess.DetectedLanguage, &sess.DurationMs, &sess.Error, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("voice session %q: %w", sessionID, perrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voice session: %w", err)
	}
	sess.Status = Status(status)
	if confidence.Valid {
		c := confidence.Float64
		sess.Confidence = &c
	}
	return &sess, nil
}

type update struct {
	cols []string
	args []any
}

func (u *update) set(col string, v any) {
	u.cols = append(u.cols, col+" = ?")
	u.args = append(u.args, v)
}

// transition moves a session from one status to another. It fails with
// perrors.ErrConflict when the session is no longer in from.
func (s *Service) transition(ctx context.Context, id string, from, to Status, extra func(*update)) error {
	u := &update{}
	u.set("processing_status", string(to))
	u.set("updated_at", s.now().UnixMilli())
	if extra != nil {
		extra(u)
	}
	query := "UPDATE voice_sessions SET " + strings.Join(u.cols, ", ") + " WHERE id = ? AND processing_status = ?"
	args := append(u.args, id, string(from))

	res, err := s.ds.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update voice session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update voice session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("voice session %s is no longer %s: %w", id, from, perrors.ErrConflict)
	}
	return nil
}
