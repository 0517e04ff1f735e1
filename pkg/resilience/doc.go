// Package resilience provides circuit breaker, retry, bulkhead and
// timeout primitives, plus a facade composing them and a recovery
// coordinator for compensating actions, for the browserpool system.
//
// # Circuit Breaker Pattern
//
// The circuit breaker fails fast once a class of operations crosses a
// consecutive-failure threshold, re-probing after a cooldown. Breakers
// are created lazily per name through a BreakerRegistry.
//
//	reg := resilience.NewBreakerRegistry(resilience.DefaultCircuitBreakerConfig(""))
//	cb := reg.Get("devtools-command")
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return conn.Send(ctx, cmd)
//	})
//
// # Retry with Exponential Backoff
//
// The retrier re-attempts failed operations with exponential backoff
// and optional +/-25% jitter. Retryability is decided by typed error
// kind against an allow-list, never by message matching.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// # Bulkhead and Timeout
//
// Bulkheads partition concurrency per name so one workload cannot
// starve another; permits are released on every exit path. WithTimeout
// races an operation against a deadline and cancels the abandoned
// attempt's context on overrun.
//
// # Combined Usage
//
// The Facade applies bulkhead admission, breaker gating, a timeout and
// retry in that order (outermost to innermost). Admission rejections
// are surfaced immediately and never retried.
//
//	f := resilience.NewFacade(resilience.DefaultFacadeConfig())
//	result, err := f.Execute(ctx, "devtools-command", func(ctx context.Context) (interface{}, error) {
//		return conn.Send(ctx, cmd)
//	})
//
// # Recovery
//
// When a wrapped call still fails, RecoveryCoordinator assembles
// compensating actions from the error kind and operation type,
// invokes a caller-supplied recovery function, and reports a
// structured result without ever propagating a failure itself.
//
// The package is safe for concurrent use; each breaker and bulkhead
// serializes its own state and independent names never contend.
package resilience
