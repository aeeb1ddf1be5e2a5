// Package errors provides structured error types for the assembly service.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout      = errors.New("operation timed out")
	ErrAuthFailure  = errors.New("authentication failed")
	ErrRateLimit    = errors.New("rate limit exceeded")
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")

	// ErrUserNotFound is returned when a new assembly state is requested for a
	// user the identity store does not know.
	ErrUserNotFound = errors.New("user not found")

	// ErrModelCallFailed means the language model could not be reached after
	// every retry attempt.
	ErrModelCallFailed = errors.New("language model call failed")

	// ErrTranscriptionFailed means audio could not be transcribed after every
	// retry attempt.
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error. 429 responses wrap ErrRateLimit so
// callers can match them with errors.Is.
func NewAPIError(service string, statusCode int, message string) *APIError {
	e := &APIError{Service: service, StatusCode: statusCode, Message: message}
	if statusCode == 429 {
		e.Err = ErrRateLimit
	}
	return e
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 429, 500, 502, 503, 504, 529:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}

// IsRateLimited reports whether err signals provider throttling. Retry
// policies widen their backoff for these.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimit) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode == 529
	}
	return false
}

// CommitPartialFailure reports a project that was created while one or more
// of its task writes failed. It is a soft warning: nothing is rolled back.
type CommitPartialFailure struct {
	ProjectID string
	Failed    []string
}

func (e *CommitPartialFailure) Error() string {
	return fmt.Sprintf("project %s committed with %d failed task writes: %s",
		e.ProjectID, len(e.Failed), strings.Join(e.Failed, ", "))
}
