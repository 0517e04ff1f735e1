package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/browserpool/pkg/errors"
)

func TestRetrier_SuccessOnFirstAttempt(t *testing.T) {
	retrier := NewRetrier(DefaultRetryConfig())

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_SuccessAfterRetries(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 10 * time.Millisecond
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewTimeoutError("test", time.Second)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrier_BackoffSchedule(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        false,
		RetryableTypes: []errors.ErrorType{
			errors.ErrorTypeTimeout,
		},
	}
	retrier := NewRetrier(config)

	attempts := 0
	started := time.Now()
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewTimeoutError("test", time.Second)
		}
		return nil
	})
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	// delays are 50ms then 100ms
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestRetrier_DelayCappedAtMax(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
		BackoffFactor: 10.0,
		Jitter:        false,
	}
	r := NewRetrier(config)

	assert.Equal(t, 10*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 20*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 20*time.Millisecond, r.calculateDelay(4))
}

func TestRetrier_JitterBounds(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
	r := NewRetrier(config)

	for i := 0; i < 50; i++ {
		delay := r.calculateDelay(1)
		assert.GreaterOrEqual(t, delay, 75*time.Millisecond)
		assert.LessOrEqual(t, delay, 125*time.Millisecond)
	}
}

func TestRetrier_ExhaustionWrapsLastError(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.NewConnectionCreationError("dial failed")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRetryExhausted))
	// the underlying cause is still classifiable
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectionCreation))
}

func TestRetrier_NonRetryableAbortsImmediately(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.NewInvalidPoolSizeError(10, 5)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidPoolSize))
	assert.False(t, errors.IsType(err, errors.ErrorTypeRetryExhausted))
}

func TestRetrier_UnclassifiedErrorIsNotRetried(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return stderrors.New("plain error")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_AdmissionRejectionsNeverRetried(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	// even a permissive classifier never overrides admission control
	config.Classifier = func(error) bool { return true }
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.NewCircuitOpenError("devtools")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_ContextCancellation(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 10
	config.InitialDelay = 50 * time.Millisecond
	retrier := NewRetrier(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	err := retrier.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return errors.NewTimeoutError("test", time.Second)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 10)
}

func TestRetrier_OnRetryCallback(t *testing.T) {
	var callbacks []int
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		callbacks = append(callbacks, attempt)
	}
	retrier := NewRetrier(config)

	retrier.Execute(context.Background(), func(ctx context.Context) error {
		return errors.NewTimeoutError("test", time.Second)
	})

	assert.Equal(t, []int{1, 2}, callbacks)
}
