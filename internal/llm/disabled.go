package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by DisabledProvider. It is not retryable.
var ErrNotConfigured = errors.New("language model not configured")

// DisabledProvider stands in when no API key is set, so the service still
// starts and every turn degrades to the apology.
type DisabledProvider struct{}

func (DisabledProvider) ModelID() string { return "disabled" }

func (DisabledProvider) Complete(context.Context, Request) (*Response, error) {
	return nil, ErrNotConfigured
}
