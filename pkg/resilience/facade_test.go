package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/browserpool/pkg/errors"
)

func testFacadeConfig() FacadeConfig {
	cfg := DefaultFacadeConfig()
	cfg.Breaker.FailureThreshold = 3
	cfg.Breaker.ResetTimeout = 50 * time.Millisecond
	cfg.Breaker.HalfOpenMaxCalls = 2
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.Jitter = false
	cfg.OperationTimeout = time.Second
	return cfg
}

func TestFacade_SuccessPassesThrough(t *testing.T) {
	f := NewFacade(testFacadeConfig())

	result, err := f.Execute(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestFacade_RetriesTransientFailures(t *testing.T) {
	f := NewFacade(testFacadeConfig())

	attempts := 0
	result, err := f.Execute(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.NewTimeoutError("cmd", time.Second)
		}
		return "recovered", nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "recovered", result)
}

func TestFacade_OpenBreakerShortCircuits(t *testing.T) {
	cfg := testFacadeConfig()
	cfg.Retry.MaxAttempts = 1
	f := NewFacade(cfg)

	for i := 0; i < 3; i++ {
		f.Execute(context.Background(), "flaky", func(ctx context.Context) (interface{}, error) {
			return nil, errors.NewConnectionCreationError("down")
		})
	}
	assert.Equal(t, StateOpen, f.Breaker("flaky").State())

	invoked := false
	_, err := f.Execute(context.Background(), "flaky", func(ctx context.Context) (interface{}, error) {
		invoked = true
		return nil, nil
	})

	require.Error(t, err)
	assert.False(t, invoked)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCircuitOpen))
}

func TestFacade_BreakerIndependence(t *testing.T) {
	cfg := testFacadeConfig()
	cfg.Retry.MaxAttempts = 1
	f := NewFacade(cfg)

	for i := 0; i < 3; i++ {
		f.Execute(context.Background(), "bad", func(ctx context.Context) (interface{}, error) {
			return nil, errors.NewConnectionCreationError("down")
		})
	}

	// an unrelated breaker still admits calls
	result, err := f.Execute(context.Background(), "good", func(ctx context.Context) (interface{}, error) {
		return "fine", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fine", result)
}

func TestFacade_TimeoutBoundsOperation(t *testing.T) {
	cfg := testFacadeConfig()
	cfg.Retry.MaxAttempts = 1
	f := NewFacade(cfg)

	started := time.Now()
	_, err := f.ExecuteWithOptions(context.Background(), "slow", Options{Timeout: 50 * time.Millisecond},
		func(ctx context.Context) (interface{}, error) {
			select {
			case <-time.After(10 * time.Second):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Less(t, time.Since(started), time.Second)
}

func TestFacade_RetryExhaustionSurfaces(t *testing.T) {
	f := NewFacade(testFacadeConfig())

	attempts := 0
	_, err := f.Execute(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, errors.NewProtocolError("garbled frame")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRetryExhausted))
}

func TestFacade_ExecuteVoid(t *testing.T) {
	f := NewFacade(testFacadeConfig())

	err := f.ExecuteVoid(context.Background(), "op", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestFacade_SharedBreakerRegistry(t *testing.T) {
	registry := NewBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		HalfOpenMaxCalls: 1,
	})

	cfg := testFacadeConfig()
	cfg.Retry.MaxAttempts = 1
	f := NewFacade(cfg, WithBreakers(registry))

	// the facade must drive the very breakers outside observers hold
	assert.Same(t, registry.Get("devtools"), f.Breaker("devtools"))

	for i := 0; i < 2; i++ {
		f.Execute(context.Background(), "devtools", func(ctx context.Context) (interface{}, error) {
			return nil, errors.NewConnectionCreationError("down")
		})
	}

	stats := registry.Stats()
	require.Contains(t, stats, "devtools")
	assert.Equal(t, StateOpen, stats["devtools"].State)
}

type fakeRecorder struct {
	operations int
	rejections int
	attempts   int
}

func (r *fakeRecorder) RecordOperation(breaker, outcome string, duration time.Duration) {
	r.operations++
}
func (r *fakeRecorder) RecordBreakerRejection(breaker string) { r.rejections++ }
func (r *fakeRecorder) RecordRetryAttempt(breaker string)     { r.attempts++ }

func TestFacade_RecordsMetrics(t *testing.T) {
	rec := &fakeRecorder{}
	cfg := testFacadeConfig()
	cfg.Retry.MaxAttempts = 2
	f := NewFacade(cfg, WithMetrics(rec))

	for i := 0; i < 3; i++ {
		f.Execute(context.Background(), "flaky", func(ctx context.Context) (interface{}, error) {
			return nil, errors.NewConnectionCreationError("down")
		})
	}
	f.Execute(context.Background(), "flaky", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})

	assert.Equal(t, 4, rec.operations)
	assert.Equal(t, 1, rec.rejections)
	assert.Equal(t, 3, rec.attempts)
}
