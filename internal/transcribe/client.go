package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/metrics"
	"github.com/giantsdigitaldev/cristos/internal/retry"
)

// DefaultMaxBytes bounds a single recording.
const DefaultMaxBytes = 25 << 20

// ErrEmptyTranscript is returned when the provider heard nothing usable.
var ErrEmptyTranscript = errors.New("empty transcript")

// Client wraps a Provider with the transcription retry policy.
type Client struct {
	provider Provider
	policy   retry.Policy
	maxBytes int
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithPolicy overrides retry.TranscriptionPolicy().
func WithPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l.With().Str("component", "transcribe").Logger() }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client around provider.
func NewClient(provider Provider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		policy:   retry.TranscriptionPolicy(),
		maxBytes: DefaultMaxBytes,
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Transcribe converts audio to text. It never returns a Go error; failures
// are reported in Result with Err wrapping perrors.ErrTranscriptionFailed.
func (c *Client) Transcribe(ctx context.Context, audio Audio, opts Options) Result {
	if opts.MIMEType != "" {
		audio.MIMEType = opts.MIMEType
	}
	if err := c.check(audio); err != nil {
		c.metrics.RecordTranscription("rejected")
		return Result{Err: fmt.Errorf("%w: %w", perrors.ErrTranscriptionFailed, err)}
	}

	policy := c.policy
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		reason := "error"
		if perrors.IsRateLimited(err) {
			reason = "rate_limit"
		}
		c.metrics.RecordRetry("transcribe", reason)
		c.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("transcription failed, retrying")
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	start := time.Now()
	var out *Transcript
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		t, err := c.provider.Transcribe(ctx, audio, opts)
		if err != nil {
			return err
		}
		if t == nil || strings.TrimSpace(t.Text) == "" {
			return ErrEmptyTranscript
		}
		out = t
		return nil
	})
	if err != nil {
		c.metrics.RecordTranscription("failed")
		c.logger.Error().Err(err).Int("attempts", attempts).Msg("transcription failed")
		return Result{
			Attempts: attempts,
			Err:      fmt.Errorf("%w after %d attempts: %w", perrors.ErrTranscriptionFailed, attempts, err),
		}
	}

	c.metrics.RecordTranscription("ok")
	c.logger.Debug().
		Str("model", c.provider.ModelID()).
		Int("bytes", len(audio.Data)).
		Dur("took", time.Since(start)).
		Msg("transcribed")

	lang := out.Language
	if lang == "" {
		lang = opts.Language
	}
	return Result{
		Success:    true,
		Text:       strings.TrimSpace(out.Text),
		Confidence: out.Confidence,
		Language:   lang,
		DurationMs: out.DurationMs,
		Attempts:   attempts,
	}
}

func (c *Client) check(a Audio) error {
	if len(a.Data) == 0 {
		return fmt.Errorf("no audio: %w", perrors.ErrInvalidInput)
	}
	if len(a.Data) > c.maxBytes {
		return fmt.Errorf("audio is %d bytes, limit %d: %w", len(a.Data), c.maxBytes, perrors.ErrInvalidInput)
	}
	if !strings.HasPrefix(strings.ToLower(a.MIMEType), "audio/") {
		return fmt.Errorf("unsupported content type %q: %w", a.MIMEType, perrors.ErrInvalidInput)
	}
	return nil
}
