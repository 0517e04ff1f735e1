package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/stackmesh/browserpool/pkg/errors"
	"github.com/stackmesh/browserpool/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, limited trial requests are allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures in the
	// closed state that trips the breaker open
	FailureThreshold int
	// ResetTimeout is the period of the open state after which the
	// next call attempt moves the breaker to half-open
	ResetTimeout time.Duration
	// HalfOpenMaxCalls is both the admission limit while half-open and
	// the number of consecutive successes required to close again
	HalfOpenMaxCalls int
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the default breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreakerStats is a point-in-time snapshot of a breaker's counters
type CircuitBreakerStats struct {
	Name                string       `json:"name"`
	State               CircuitState `json:"-"`
	StateName           string       `json:"state"`
	FailureCount        int          `json:"failure_count"`
	SuccessCount        int          `json:"success_count"`
	TotalRequests       uint64       `json:"total_requests"`
	HalfOpenCalls       int          `json:"half_open_calls"`
	LastFailureTime     time.Time    `json:"last_failure_time"`
	LastStateChangeTime time.Time    `json:"last_state_change_time"`
}

// CircuitBreaker is a state machine that fails fast once an operation
// class crosses its failure threshold, re-probing after a cooldown.
// All transitions for one breaker are serialized under its mutex;
// independent breakers never contend.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMaxCalls int
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	totalRequests   uint64
	halfOpenCalls   int
	lastFailureTime time.Time
	lastStateChange time.Time

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = time.Minute
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 3
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		resetTimeout:     config.ResetTimeout,
		halfOpenMaxCalls: config.HalfOpenMaxCalls,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		logger:           logging.GetLogger(),
	}
}

// Execute runs the given request if the circuit breaker admits it.
// A rejected request fails fast with a circuit-open error without
// invoking the wrapped operation.
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := cb.beforeRequest(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(false)
			panic(r)
		}
	}()

	result, err := req(ctx)
	cb.afterRequest(err == nil)
	return result, err
}

// Call is a convenience method that wraps Execute for functions that don't need context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

// State returns the current state of the circuit breaker, applying the
// lazy open -> half-open transition if the reset timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeTransitionToHalfOpen(time.Now())
	return cb.state
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns a snapshot of the breaker's counters
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:                cb.name,
		State:               cb.state,
		StateName:           cb.state.String(),
		FailureCount:        cb.failureCount,
		SuccessCount:        cb.successCount,
		TotalRequests:       cb.totalRequests,
		HalfOpenCalls:       cb.halfOpenCalls,
		LastFailureTime:     cb.lastFailureTime,
		LastStateChangeTime: cb.lastStateChange,
	}
}

// beforeRequest applies the admission rule and records the attempt.
func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.maybeTransitionToHalfOpen(now)

	switch cb.state {
	case StateClosed:
		// allowed
	case StateOpen:
		return errors.NewCircuitOpenError(cb.name)
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return errors.NewCircuitOpenError(cb.name).
				WithDetail("reason", "half-open call limit reached")
		}
		cb.halfOpenCalls++
	}

	cb.totalRequests++
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	if success {
		cb.onSuccess(now)
	} else {
		cb.onFailure(now)
	}
}

func (cb *CircuitBreaker) onSuccess(now time.Time) {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMaxCalls {
			cb.setState(StateClosed, now)
			cb.failureCount = 0
		}
	}
}

func (cb *CircuitBreaker) onFailure(now time.Time) {
	cb.lastFailureTime = now

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		// a single trial failure reopens immediately
		cb.setState(StateOpen, now)
	}
}

// maybeTransitionToHalfOpen applies the lazy open -> half-open
// transition. Must be called with the mutex held.
func (cb *CircuitBreaker) maybeTransitionToHalfOpen(now time.Time) {
	if cb.state == StateOpen && now.Sub(cb.lastStateChange) >= cb.resetTimeout {
		cb.setState(StateHalfOpen, now)
	}
}

func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.lastStateChange = now
	cb.halfOpenCalls = 0
	cb.successCount = 0

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.LogBreakerEvent(cb.name, prev.String(), state.String(), nil)
}
