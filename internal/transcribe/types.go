// Package transcribe turns recorded audio into text for the voice path.
// Providers sit behind Provider; Client adds the retry policy and folds
// failures into a Result value.
package transcribe

import (
	"context"
)

// Audio is one recording.
type Audio struct {
	Data     []byte
	MIMEType string
}

// Options tune a single transcription.
type Options struct {
	// Language is a BCP-47 hint such as "en-US". Empty lets the provider detect it.
	Language string
	// MIMEType overrides Audio.MIMEType when set.
	MIMEType string
}

// Transcript is what a provider returns on success.
type Transcript struct {
	Text       string
	Confidence float64
	Language   string
	DurationMs int64
}

// Provider is a speech-to-text backend. Retryable errors must satisfy
// perrors.IsRetryable.
type Provider interface {
	Transcribe(ctx context.Context, audio Audio, opts Options) (*Transcript, error)
	ModelID() string
}

// Result is the outcome of Client.Transcribe.
type Result struct {
	Success    bool    `json:"success"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	Attempts   int     `json:"attempts"`
	Err        error   `json:"-"`
}
