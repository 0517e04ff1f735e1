package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/browserpool/pkg/errors"
)

func TestWithTimeout_CompletesBeforeDeadline(t *testing.T) {
	result, err := WithTimeout(context.Background(), "fast-op", time.Second, func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestWithTimeout_FailsFastOnOverrun(t *testing.T) {
	started := time.Now()
	_, err := WithTimeout(context.Background(), "slow-op", 100*time.Millisecond, func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	})
	elapsed := time.Since(started)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	// the caller is not blocked for the operation's natural duration
	assert.Less(t, elapsed, time.Second)
}

func TestWithTimeout_AbandonedOperationContextCancelled(t *testing.T) {
	cancelled := make(chan struct{})

	_, err := WithTimeout(context.Background(), "slow-op", 20*time.Millisecond, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})
	require.Error(t, err)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("abandoned operation never observed cancellation")
	}
}

func TestWithTimeout_ParentCancellationWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := WithTimeout(ctx, "op", time.Minute, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestWithTimeoutVoid(t *testing.T) {
	err := WithTimeoutVoid(context.Background(), "op", time.Second, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}
