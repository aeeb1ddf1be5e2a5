package httpapi

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/giantsdigitaldev/cristos/internal/assembly"
	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/requestid"
	"github.com/giantsdigitaldev/cristos/internal/transcribe"
	"github.com/giantsdigitaldev/cristos/internal/voice"
)

// TurnEngine is satisfied by *assembly.Engine.
type TurnEngine interface {
	ProcessTurn(ctx context.Context, in assembly.TurnInput) (*assembly.TurnResult, error)
	State(ctx context.Context, userID, conversationID string) (*assembly.State, error)
}

// VoiceService is satisfied by *voice.Service.
type VoiceService interface {
	Start(ctx context.Context, userID, conversationID, language string) (*voice.Session, error)
	Submit(ctx context.Context, sessionID, userID string, audio transcribe.Audio) (*voice.Submission, error)
	Abandon(ctx context.Context, sessionID, userID string) (*voice.Session, error)
	Get(ctx context.Context, sessionID, userID string) (*voice.Session, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine TurnEngine
	voice  VoiceService
	logger zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(engine TurnEngine, voice VoiceService, logger zerolog.Logger) *Handlers {
	return &Handlers{
		engine: engine,
		voice:  voice,
		logger: logger.With().Str("component", "handlers").Logger(),
	}
}

// PostTurn handles POST /api/v1/turns.
func (h *Handlers) PostTurn(c *fiber.Ctx) error {
	var req TurnRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if strings.TrimSpace(req.Text) == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_text", "Bad Request",
			"Text is required")
	}

	res, err := h.engine.ProcessTurn(c.UserContext(), assembly.TurnInput{
		UserID:         userID(c),
		ConversationID: req.ConversationID,
		Text:           req.Text,
		Source:         assembly.SourceText,
	})
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(res)
}

// GetAssembly handles GET /api/v1/assembly.
func (h *Handlers) GetAssembly(c *fiber.Ctx) error {
	state, err := h.engine.State(c.UserContext(), userID(c), c.Query("conversation_id"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	if state == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"no_assembly", "Not Found",
			"No project is being assembled for this conversation")
	}
	return c.JSON(StateResponse{
		State:       state,
		NextStep:    state.CurrentStep,
		MissingInfo: assembly.MissingInfo(state),
	})
}

// StartVoice handles POST /api/v1/voice/sessions.
func (h *Handlers) StartVoice(c *fiber.Ctx) error {
	if h.voice == nil {
		return voiceDisabled(c)
	}
	var req StartVoiceRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_body", "Bad Request",
				"Invalid request body: "+err.Error())
		}
	}
	sess, err := h.voice.Start(c.UserContext(), userID(c), req.ConversationID, req.Language)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}

// GetVoice handles GET /api/v1/voice/sessions/:id.
func (h *Handlers) GetVoice(c *fiber.Ctx) error {
	if h.voice == nil {
		return voiceDisabled(c)
	}
	sess, err := h.voice.Get(c.UserContext(), c.Params("id"), userID(c))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(sess)
}

// SubmitAudio handles POST /api/v1/voice/sessions/:id/audio. The body is the
// raw recording; Content-Type carries its MIME type.
func (h *Handlers) SubmitAudio(c *fiber.Ctx) error {
	if h.voice == nil {
		return voiceDisabled(c)
	}
	mime := strings.TrimSpace(strings.SplitN(c.Get(fiber.HeaderContentType), ";", 2)[0])
	audio := transcribe.Audio{
		// The request buffer is reused after the handler returns.
		Data:     append([]byte(nil), c.Body()...),
		MIMEType: mime,
	}
	sub, err := h.voice.Submit(c.UserContext(), c.Params("id"), userID(c), audio)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(sub)
}

// AbandonVoice handles DELETE /api/v1/voice/sessions/:id.
func (h *Handlers) AbandonVoice(c *fiber.Ctx) error {
	if h.voice == nil {
		return voiceDisabled(c)
	}
	sess, err := h.voice.Abandon(c.UserContext(), c.Params("id"), userID(c))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(sess)
}

func voiceDisabled(c *fiber.Ctx) error {
	return problemResponse(c, fiber.StatusServiceUnavailable,
		"voice_disabled", "Service Unavailable",
		"Voice sessions are not configured")
}

// errorResponse maps the error taxonomy onto problem responses.
func (h *Handlers) errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, perrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_input", "Bad Request", err.Error())
	case errors.Is(err, perrors.ErrUserNotFound):
		return problemResponse(c, fiber.StatusNotFound, "user_not_found", "Not Found", "Unknown user")
	case errors.Is(err, perrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.Is(err, perrors.ErrConflict):
		return problemResponse(c, fiber.StatusConflict, "conflict", "Conflict", err.Error())
	case errors.Is(err, perrors.ErrAuthFailure):
		return problemResponse(c, fiber.StatusUnauthorized, "auth_failure", "Unauthorized", err.Error())
	case errors.Is(err, perrors.ErrUnavailable), errors.Is(err, perrors.ErrTimeout):
		return problemResponse(c, fiber.StatusServiceUnavailable, "unavailable", "Service Unavailable", err.Error())
	}
	log := requestid.Logger(c.UserContext(), h.logger)
	log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return problemResponse(c, fiber.StatusInternalServerError,
		"internal_error", "Internal Server Error",
		"An internal error occurred")
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	id, _ := c.Locals("request_id").(string)
	return c.Status(status).JSON(ProblemDetail{
		Type:      errType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  c.Path(),
		RequestID: id,
	}, "application/problem+json")
}
