package resilience

import (
	"context"
	"time"

	"github.com/stackmesh/browserpool/pkg/errors"
)

// WithTimeout races the operation against a deadline. On overrun the
// caller gets a timeout error immediately; the operation's context is
// cancelled so the abandoned attempt cannot act on the caller's behalf
// afterward, and its goroutine drains into a buffered channel.
func WithTimeout(ctx context.Context, name string, timeout time.Duration, op func(context.Context) (interface{}, error)) (interface{}, error) {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := op(opCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-opCtx.Done():
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errors.NewTimeoutError(name, timeout)
		}
		return nil, ctx.Err()
	}
}

// WithTimeoutVoid is WithTimeout for operations without a result.
func WithTimeoutVoid(ctx context.Context, name string, timeout time.Duration, op func(context.Context) error) error {
	_, err := WithTimeout(ctx, name, timeout, func(ctx context.Context) (interface{}, error) {
		return nil, op(ctx)
	})
	return err
}
