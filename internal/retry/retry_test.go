package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	perrors "github.com/giantsdigitaldev/cristos/internal/errors"
	"github.com/stretchr/testify/assert"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, n)
}

func TestDo_NonRetryableError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return perrors.ErrAuthFailure
	})
	assert.ErrorIs(t, err, perrors.ErrAuthFailure)
	assert.Equal(t, 1, calls) // Should not retry
}

func TestDo_RetryableError_EventualSuccess(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return perrors.ErrTimeout
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, n)
}

func TestDo_RetryableError_AllFail(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return perrors.NewAPIError("llm", 429, "rate limit")
	})
	assert.ErrorIs(t, err, perrors.ErrRateLimit)
	assert.Equal(t, 5, calls)
	assert.Equal(t, 5, n)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, fastPolicy(3), func(ctx context.Context) error {
		calls++
		return perrors.ErrTimeout
	})
	// First call happens, then context is cancelled
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomPredicate(t *testing.T) {
	calls := 0
	p := fastPolicy(3)
	p.Retryable = func(error) bool { return true }
	_, err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errors.New("generic error")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ZeroPolicySingleAttempt(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, func(ctx context.Context) error {
		calls++
		return perrors.ErrTimeout
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_AttemptTimeoutIsRetryable(t *testing.T) {
	calls := 0
	p := fastPolicy(2)
	p.AttemptTimeout = 5 * time.Millisecond
	_, err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, perrors.ErrTimeout)
	assert.Equal(t, 2, calls)
}

func TestDo_OnRetryHook(t *testing.T) {
	var seen []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, _ time.Duration, _ error) { seen = append(seen, attempt) }
	_, _ = Do(context.Background(), p, func(ctx context.Context) error { return perrors.ErrUnavailable })
	assert.Equal(t, []int{1, 2}, seen)
}

func TestBackoff_RateLimitWidens(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, RateLimitMultiplier: 3}
	assert.Equal(t, time.Second, p.Backoff(0, perrors.ErrUnavailable))
	assert.Equal(t, 3*time.Second, p.Backoff(0, perrors.ErrRateLimit))
	assert.Equal(t, 12*time.Second, p.Backoff(2, perrors.NewAPIError("llm", 429, "")))
}

func TestBackoff_Capped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, p.Backoff(10, perrors.ErrTimeout))
}

func TestPolicies(t *testing.T) {
	assert.Equal(t, 5, ModelPolicy().MaxAttempts)
	assert.Equal(t, 3, TranscriptionPolicy().MaxAttempts)
	assert.Greater(t, ModelPolicy().RateLimitMultiplier, 1.0)
}
