// Package retry provides exponential backoff retry logic for external API calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
)

// Policy holds retry configuration. The zero value performs a single attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// RateLimitMultiplier scales the delay when the failure is a rate-limit
	// signal. Values <= 1 disable widening.
	RateLimitMultiplier float64
	// AttemptTimeout bounds each individual attempt. Zero means no bound
	// beyond the parent context.
	AttemptTimeout time.Duration
	Jitter         bool
	// Retryable decides whether an error is worth another attempt.
	// Defaults to perrors.IsRetryable.
	Retryable func(error) bool
	// OnRetry, if set, is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns sensible retry defaults.
func DefaultConfig() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// ModelPolicy is the policy for language model calls: five attempts, one
// second base, tripled delays under rate limiting.
func ModelPolicy() Policy {
	return Policy{
		MaxAttempts:         5,
		BaseDelay:           time.Second,
		MaxDelay:            30 * time.Second,
		RateLimitMultiplier: 3,
		AttemptTimeout:      60 * time.Second,
		Jitter:              true,
	}
}

// TranscriptionPolicy is the policy for speech-to-text calls.
func TranscriptionPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		BaseDelay:           time.Second,
		MaxDelay:            15 * time.Second,
		RateLimitMultiplier: 3,
		AttemptTimeout:      90 * time.Second,
		Jitter:              true,
	}
}

// Backoff returns the delay before attempt+1 given the error of attempt.
func (p Policy) Backoff(attempt int, err error) time.Duration {
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if p.RateLimitMultiplier > 1 && perrors.IsRateLimited(err) {
		delay = time.Duration(float64(delay) * p.RateLimitMultiplier)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}

// Do executes fn with exponential backoff. Only retries if the error is
// retryable. It returns the number of attempts made alongside the last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = perrors.IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = runAttempt(ctx, p.AttemptTimeout, fn)
		if lastErr == nil {
			return attempt + 1, nil
		}
		if !retryable(lastErr) {
			return attempt + 1, lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Backoff(attempt, lastErr)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, lastErr)
		}

		select {
		case <-ctx.Done():
			return attempt + 1, ctx.Err()
		case <-time.After(delay):
		}
	}
	return attempts, lastErr
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(attemptCtx)
	// A per-attempt deadline is transient; the parent's is not.
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.Join(perrors.ErrTimeout, err)
	}
	return err
}
