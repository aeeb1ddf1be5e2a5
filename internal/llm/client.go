package llm

import (
	"context"
	"fmt"
	"time"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/giantsdigitaldev/cristos/internal/metrics"
	"github.com/giantsdigitaldev/cristos/internal/retry"
	"github.com/rs/zerolog"
)

// Client wraps a Provider with the retry policy. It is safe for concurrent use.
type Client struct {
	provider Provider
	policy   retry.Policy
	defaults Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	purpose  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPolicy overrides retry.ModelPolicy().
func WithPolicy(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithDefaults sets the config used for zero fields of each call.
func WithDefaults(cfg Config) ClientOption {
	return func(c *Client) { c.defaults = cfg }
}

// WithClientLogger sets the logger.
func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l.With().Str("component", "llm").Logger() }
}

// WithMetrics records calls and retries.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client around provider.
func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		policy:   retry.ModelPolicy(),
		logger:   zerolog.Nop(),
		purpose:  "turn",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ForPurpose returns a copy labelled for metrics, e.g. "summary".
func (c *Client) ForPurpose(purpose string) *Client {
	cp := *c
	cp.purpose = purpose
	return &cp
}

// Complete calls the model with retry. It never returns a Go error; failure
// is reported in Result with Err wrapping perrors.ErrModelCallFailed.
func (c *Client) Complete(ctx context.Context, msgs []Message, cfg Config) Result {
	cfg = c.merge(cfg)
	req := Request{Messages: msgs, Config: cfg}

	policy := c.policy
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		reason := "error"
		if perrors.IsRateLimited(err) {
			reason = "rate_limit"
		}
		c.metrics.RecordRetry("llm", reason)
		c.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("reason", reason).
			Msg("model call failed, retrying")
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	var resp *Response
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		r, err := c.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		c.metrics.RecordModelCall(c.purpose, "failed")
		c.logger.Error().Err(err).Int("attempts", attempts).Str("purpose", c.purpose).Msg("model call failed")
		return Result{
			Err:      fmt.Errorf("%w after %d attempts: %w", perrors.ErrModelCallFailed, attempts, err),
			Attempts: attempts,
		}
	}

	c.metrics.RecordModelCall(c.purpose, "ok")
	return Result{
		Success:  true,
		Text:     resp.Text,
		Usage:    resp.Usage,
		Attempts: attempts,
	}
}

func (c *Client) merge(cfg Config) Config {
	if cfg.Model == "" {
		cfg.Model = c.defaults.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = c.defaults.MaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = c.defaults.Temperature
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = c.defaults.SystemPrompt
	}
	return cfg
}
