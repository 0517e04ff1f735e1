package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/stackmesh/browserpool/pkg/errors"
	"github.com/stackmesh/browserpool/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff delay
	MaxDelay time.Duration
	// BackoffFactor is the multiplier for exponential backoff
	BackoffFactor float64
	// Jitter perturbs each delay by up to +/-25% to avoid retry storms
	Jitter bool
	// RetryableTypes is the allow-list of error kinds worth retrying.
	// An error whose kind is not listed aborts immediately.
	RetryableTypes []errors.ErrorType
	// Classifier overrides the allow-list check when set
	Classifier func(error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		RetryableTypes: []errors.ErrorType{
			errors.ErrorTypeConnectionCreation,
			errors.ErrorTypeTimeout,
			errors.ErrorTypeProtocol,
			errors.ErrorTypeSession,
		},
	}
}

// Retrier handles retry logic with exponential backoff
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 2.0
	}
	if config.Classifier == nil && len(config.RetryableTypes) == 0 {
		config.RetryableTypes = DefaultRetryConfig().RetryableTypes
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
	}
}

// isRetryable classifies the error against the configured allow-list.
// Admission-control rejections are never retryable regardless of the
// configured kinds: retry lives below admission, not around it.
func (r *Retrier) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsType(err, errors.ErrorTypeCircuitOpen) ||
		errors.IsType(err, errors.ErrorTypeBulkheadFull) ||
		errors.IsType(err, errors.ErrorTypePoolShutdown) {
		return false
	}
	if r.config.Classifier != nil {
		return r.config.Classifier(err)
	}
	for _, kind := range r.config.RetryableTypes {
		if errors.IsType(err, kind) {
			return true
		}
	}
	return false
}

// Execute executes the given function with retry logic. Exhausting the
// attempt budget surfaces the last error wrapped as a retry-exhausted
// error; a non-retryable failure is returned as-is on first occurrence.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"total_attempts", r.config.MaxAttempts,
				)
			}
			return nil
		}

		lastErr = err

		if !r.isRetryable(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"error_type", string(errors.GetType(err)),
				"attempt", attempt,
			)
			return err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)

		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"delay", delay,
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"error", lastErr.Error(),
		"attempts", r.config.MaxAttempts,
	)

	return errors.NewRetryExhaustedError(r.config.MaxAttempts, lastErr)
}

// ExecuteWithResult executes the given function with retry logic and returns a result
func (r *Retrier) ExecuteWithResult(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := r.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	return result, err
}

// calculateDelay returns the backoff delay before retry number attempt+1.
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		// uniform perturbation in [-25%, +25%]
		delay += (rand.Float64()*0.5 - 0.25) * delay
	}

	return time.Duration(delay)
}

// Retry is a convenience function to execute an operation with default retry configuration
func Retry(ctx context.Context, operation func(context.Context) error) error {
	return NewRetrier(DefaultRetryConfig()).Execute(ctx, operation)
}

// RetryWithConfig is a convenience function to execute an operation with retry
func RetryWithConfig(ctx context.Context, config RetryConfig, operation func(context.Context) error) error {
	return NewRetrier(config).Execute(ctx, operation)
}
