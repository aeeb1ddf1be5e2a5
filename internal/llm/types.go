// Package llm defines the language model provider interface and the retrying
// client the assembly engine talks to. Providers are interchangeable behind
// Provider; tests substitute fakes.
package llm

import (
	"context"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config selects the model and sampling for one call. Zero fields fall back
// to the provider defaults.
type Config struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is the input to a provider's Complete() call.
type Request struct {
	Messages []Message
	Config   Config
}

// Response is returned by a provider.
type Response struct {
	Text       string
	StopReason string
	Model      string
	Usage      *Usage
}

// Provider is the core abstraction for language model backends.
// Errors that should be retried must satisfy perrors.IsRetryable; rate
// limits must satisfy perrors.IsRateLimited.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	ModelID() string
}

// Result is the outcome of Client.Complete. Failures are values, not panics
// or bare errors, so callers can degrade gracefully.
type Result struct {
	Success  bool
	Text     string
	Usage    *Usage
	Err      error
	Attempts int
}
