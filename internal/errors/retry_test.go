package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	}

	// When: retrying
	err := Retry(context.Background(), fastRetry(), fn)

	// Then: succeeds on the third attempt
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	attempts := 0
	cfg := fastRetry()
	cfg.MaxRetries = 2

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("persistent error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	// Given: a policy that only retries retryable AmanErrors
	cfg := fastRetry()
	cfg.ShouldRetry = IsRetryable
	attempts := 0

	// When: the function returns a validation error
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return InvalidQuery("", "bad")
	})

	// Then: no retries happen and the original error is returned
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, ErrInvalidQuery))
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func() error {
		attempts++
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	v, err := RetryWithResult(context.Background(), fastRetry(), func() ([]float32, error) {
		attempts++
		if attempts == 1 {
			return nil, NetworkError("refused", nil)
		}
		return []float32{1, 2}, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v)
}

func TestDefaultRetryConfig_RetriesOnlyRetryable(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.True(t, cfg.ShouldRetry(NetworkError("x", nil)))
	assert.False(t, cfg.ShouldRetry(errors.New("x")))
	assert.Less(t, cfg.MaxDelay, time.Second)
}
