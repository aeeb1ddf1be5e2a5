package httpapi

import (
	"github.com/giantsdigitaldev/cristos/internal/assembly"
)

// TurnRequest is the body of POST /api/v1/turns.
type TurnRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// StateResponse is the body of GET /api/v1/assembly.
type StateResponse struct {
	State       *assembly.State `json:"state"`
	NextStep    assembly.Step   `json:"next_step"`
	MissingInfo []string        `json:"missing_info"`
}

// StartVoiceRequest is the body of POST /api/v1/voice/sessions.
type StartVoiceRequest struct {
	ConversationID string `json:"conversation_id"`
	Language       string `json:"language"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
