package resilience

import (
	"context"
	"time"

	"github.com/stackmesh/browserpool/pkg/errors"
	"github.com/stackmesh/browserpool/pkg/logging"
)

// MetricsRecorder receives resilience events. Implemented by
// pkg/metrics; a nil recorder disables instrumentation.
type MetricsRecorder interface {
	RecordOperation(breaker, outcome string, duration time.Duration)
	RecordBreakerRejection(breaker string)
	RecordRetryAttempt(breaker string)
}

// SpanStarter opens a named span around a wrapped operation.
// Implemented by pkg/tracing; a nil starter disables tracing.
type SpanStarter interface {
	StartOperationSpan(ctx context.Context, breaker string) (context.Context, func(err error))
}

// FacadeConfig configures the composed resilience wrapper.
type FacadeConfig struct {
	Breaker CircuitBreakerConfig
	Retry   RetryConfig
	// MaxConcurrentOperations is the per-bulkhead permit capacity
	MaxConcurrentOperations int
	// OperationTimeout bounds one wrapped call including its retries
	OperationTimeout time.Duration
}

// DefaultFacadeConfig returns the default facade configuration.
func DefaultFacadeConfig() FacadeConfig {
	return FacadeConfig{
		Breaker:                 DefaultCircuitBreakerConfig(""),
		Retry:                   DefaultRetryConfig(),
		MaxConcurrentOperations: 100,
		OperationTimeout:        30 * time.Second,
	}
}

// Options adjusts a single Execute call.
type Options struct {
	// BulkheadName selects the concurrency partition; defaults to the
	// breaker name so unrelated operation classes stay isolated
	BulkheadName string
	// Timeout overrides the facade's operation timeout when positive
	Timeout time.Duration
}

// Facade composes bulkhead admission, circuit-breaker gating, a
// timeout guard and retry into one call wrapper, outermost to
// innermost in that order. Admission rejections (bulkhead, breaker)
// surface immediately and are never retried; retry applies only to the
// wrapped operation's own failures.
type Facade struct {
	breakers  *BreakerRegistry
	bulkheads *BulkheadRegistry
	retrier   *Retrier
	timeout   time.Duration
	logger    *logging.Logger
	metrics   MetricsRecorder
	tracer    SpanStarter
}

// FacadeOption configures optional facade collaborators.
type FacadeOption func(*Facade)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) FacadeOption {
	return func(f *Facade) { f.metrics = m }
}

// WithTracing attaches a span starter.
func WithTracing(t SpanStarter) FacadeOption {
	return func(f *Facade) { f.tracer = t }
}

// WithBreakers shares an existing breaker registry, so other observers
// (health checkers, debug endpoints) see the same breaker state the
// facade drives.
func WithBreakers(r *BreakerRegistry) FacadeOption {
	return func(f *Facade) {
		if r != nil {
			f.breakers = r
		}
	}
}

// NewFacade creates a resilience facade.
func NewFacade(config FacadeConfig, opts ...FacadeOption) *Facade {
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = 30 * time.Second
	}

	f := &Facade{
		breakers:  NewBreakerRegistry(config.Breaker),
		bulkheads: NewBulkheadRegistry(config.MaxConcurrentOperations),
		retrier:   NewRetrier(config.Retry),
		timeout:   config.OperationTimeout,
		logger:    logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Execute wraps the operation with the full resilience chain under the
// named breaker.
func (f *Facade) Execute(ctx context.Context, breakerName string, op func(context.Context) (interface{}, error)) (interface{}, error) {
	return f.ExecuteWithOptions(ctx, breakerName, Options{}, op)
}

// ExecuteVoid is Execute for operations without a result.
func (f *Facade) ExecuteVoid(ctx context.Context, breakerName string, op func(context.Context) error) error {
	_, err := f.Execute(ctx, breakerName, func(ctx context.Context) (interface{}, error) {
		return nil, op(ctx)
	})
	return err
}

// ExecuteWithOptions wraps the operation with per-call overrides.
func (f *Facade) ExecuteWithOptions(ctx context.Context, breakerName string, opts Options, op func(context.Context) (interface{}, error)) (result interface{}, err error) {
	bulkheadName := opts.BulkheadName
	if bulkheadName == "" {
		bulkheadName = breakerName
	}
	timeout := f.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	if f.tracer != nil {
		var finish func(err error)
		ctx, finish = f.tracer.StartOperationSpan(ctx, breakerName)
		defer func() { finish(err) }()
	}

	started := time.Now()
	bulkhead := f.bulkheads.Get(bulkheadName)
	breaker := f.breakers.Get(breakerName)

	err = bulkhead.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return WithTimeout(ctx, breakerName, timeout, func(ctx context.Context) (interface{}, error) {
				attempt := 0
				return f.retrier.ExecuteWithResult(ctx, func(ctx context.Context) (interface{}, error) {
					attempt++
					if attempt > 1 && f.metrics != nil {
						f.metrics.RecordRetryAttempt(breakerName)
					}
					return op(ctx)
				})
			})
		})
		return innerErr
	})

	f.record(breakerName, err, time.Since(started))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Breaker returns the named breaker, creating it if needed.
func (f *Facade) Breaker(name string) *CircuitBreaker {
	return f.breakers.Get(name)
}

// Bulkhead returns the named bulkhead, creating it if needed.
func (f *Facade) Bulkhead(name string) *Bulkhead {
	return f.bulkheads.Get(name)
}

// BreakerStats returns snapshots of every breaker seen so far.
func (f *Facade) BreakerStats() map[string]CircuitBreakerStats {
	return f.breakers.Stats()
}

// BulkheadStats returns counters of every bulkhead seen so far.
func (f *Facade) BulkheadStats() map[string]BulkheadStats {
	return f.bulkheads.Stats()
}

func (f *Facade) record(breaker string, err error, duration time.Duration) {
	if f.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		if errors.IsType(err, errors.ErrorTypeCircuitOpen) {
			outcome = "rejected"
			f.metrics.RecordBreakerRejection(breaker)
		}
	}
	f.metrics.RecordOperation(breaker, outcome, duration)
}
