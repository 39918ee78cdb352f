package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestGatewayRetryConfig(t *testing.T) {
	config := GatewayRetryConfig()

	assert.Equal(t, 2, config.MaxRetries, "three attempts in total")
	assert.Equal(t, 2*time.Second, calculateDelay(config, 0))
	assert.Equal(t, 4*time.Second, calculateDelay(config, 1))
	assert.Equal(t, 10*time.Second, calculateDelay(config, 5))
}

func TestRetryWithBackoff_Success(t *testing.T) {
	result := RetryWithBackoff(context.Background(), fastConfig(2), func() error {
		return nil
	}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.NoError(t, result.LastError)
	assert.Empty(t, result.RetryReasons)
}

func TestRetryWithBackoff_EventualSuccess(t *testing.T) {
	attempts := 0
	result := RetryWithBackoff(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary failure")
		}
		return nil
	}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, result.RetryReasons, 2)
}

func TestRetryWithBackoff_SwallowsFinalError(t *testing.T) {
	boom := errors.New("503 service unavailable")
	calls := 0
	result := RetryWithBackoff(context.Background(), fastConfig(2), func() error {
		calls++
		return boom
	}, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Attempts)
	assert.ErrorIs(t, result.LastError, boom)
}

func TestDo_ReraisesFinalError(t *testing.T) {
	boom := errors.New("connection refused")
	calls := 0
	err := Do(context.Background(), fastConfig(2), func(ctx context.Context) error {
		calls++
		return boom
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(2), func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("401 invalid api key"))
	}, nil)

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := RetryWithBackoff(ctx, config, func() error {
		return errors.New("timeout")
	}, nil)

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.LastError, context.Canceled)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestCalculateDelay(t *testing.T) {
	config := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, calculateDelay(config, tt.attempt))
		})
	}
}

func TestCalculateDelay_WithJitter(t *testing.T) {
	config := RetryConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, Jitter: true}

	for i := 0; i < 20; i++ {
		d := calculateDelay(config, 1)
		assert.GreaterOrEqual(t, d, 1800*time.Millisecond)
		assert.LessOrEqual(t, d, 2200*time.Millisecond)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		auth      bool
		rateLimit bool
	}{
		{"nil", nil, false, false, false},
		{"timeout", errors.New("context deadline exceeded"), true, false, false},
		{"rate limit", errors.New("API returned 429 Too Many Requests"), true, false, true},
		{"overloaded", errors.New("529 overloaded_error"), true, false, false},
		{"bad key", errors.New("401 Unauthorized: invalid x-api-key"), false, true, false},
		{"permanent wins", Permanent(errors.New("503 but permanent")), false, false, false},
		{"unknown", errors.New("something odd"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
			assert.Equal(t, tt.auth, IsAuthError(tt.err))
			assert.Equal(t, tt.rateLimit, IsRateLimitError(tt.err))
		})
	}
}

func TestPermanent_Unwraps(t *testing.T) {
	base := errors.New("forbidden")
	wrapped := fmt.Errorf("call failed: %w", Permanent(base))

	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.Nil(t, Permanent(nil))
}
