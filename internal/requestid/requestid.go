// Package requestid carries the request id through contexts and logs.
package requestid

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header a request id travels in.
const Header = "X-Request-ID"

type ctxKey struct{}

var validID = regexp.MustCompile(`^[A-Za-z0-9._\-]{1,128}$`)

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Accept returns the client-supplied id when it is safe to log and echo,
// otherwise a fresh one.
func Accept(incoming string) string {
	if validID.MatchString(incoming) {
		return incoming
	}
	return uuid.New().String()
}

// Logger returns l with the context's request id attached, if any.
func Logger(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return l.With().Str("request_id", id).Logger()
	}
	return l
}
