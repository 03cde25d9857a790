package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "igmetrics/pkg/errors"
	"igmetrics/pkg/logger"
)

func testConfig(maxAttempts int) *Config {
	return &Config{
		MaxAttempts: maxAttempts,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.NewNopLogger(),
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		if calls < 3 {
			return errs.New(errs.ErrorTypeNetwork, 0, "connection reset")
		}
		return nil
	}, testConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return errs.New(errs.ErrorTypeServerError, 500, "upstream unavailable")
	}, testConfig(3))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max retry attempts (3) exceeded")
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	authErr := errs.New(errs.ErrorTypeAuth, 401, "bad credentials")
	err := Do(func() error {
		calls++
		return authErr
	}, testConfig(5))

	require.Error(t, err)
	assert.Equal(t, 1, calls, "auth errors should not be retried")
	assert.ErrorIs(t, err, authErr)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig(10)
	cfg.Context = ctx
	cfg.Backoff = &ConstantBackoff{Delay: time.Second}

	calls := 0
	err := Do(func() error {
		calls++
		cancel()
		return errs.New(errs.ErrorTypeNetwork, 0, "timeout")
	}, cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoInvokesOnRetryHook(t *testing.T) {
	var attempts []int
	cfg := testConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = Do(func() error {
		return errors.New("flaky")
	}, cfg)

	assert.Equal(t, []int{1, 2}, attempts, "hook fires before each retry, not after the last attempt")
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	value, err := DoWithResult(func() (string, error) {
		calls++
		if calls == 1 {
			return "", errs.New(errs.ErrorTypeRateLimit, 429, "slow down")
		}
		return "profile", nil
	}, testConfig(3))

	require.NoError(t, err)
	assert.Equal(t, "profile", value)
	assert.Equal(t, 2, calls)
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"network error", errs.New(errs.ErrorTypeNetwork, 0, "refused"), true},
		{"rate limit", errs.New(errs.ErrorTypeRateLimit, 429, "throttled"), true},
		{"server error", errs.New(errs.ErrorTypeServerError, 503, "unavailable"), true},
		{"auth error", errs.New(errs.ErrorTypeAuth, 401, "denied"), false},
		{"not found", errs.New(errs.ErrorTypeNotFound, 404, "gone"), false},
		{"parsing error", errs.New(errs.ErrorTypeParsing, 0, "bad markup"), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"untyped error", errors.New("something broke"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryIf(tt.err))
		})
	}
}

func TestExponentialBackoffGrowth(t *testing.T) {
	b := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, b.NextDelay(1))
	assert.Equal(t, 200*time.Millisecond, b.NextDelay(2))
	assert.Equal(t, 400*time.Millisecond, b.NextDelay(3))
	assert.Equal(t, 800*time.Millisecond, b.NextDelay(4))
	assert.Equal(t, time.Second, b.NextDelay(5), "delays are capped at MaxDelay")
	assert.Equal(t, time.Second, b.NextDelay(10))
}

func TestExponentialBackoffJitterStaysInBounds(t *testing.T) {
	b := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.5,
	}

	for i := 0; i < 100; i++ {
		d := b.NextDelay(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestWaitReturnsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Wait(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	err = Wait(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
