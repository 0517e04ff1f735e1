package resilience

import (
	"sync"
	"time"
)

// BreakerRegistry owns one circuit breaker per name, created lazily.
// Two callers racing on the same name always observe the same breaker.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults CircuitBreakerConfig
}

// NewBreakerRegistry creates a registry whose breakers inherit the
// given defaults. The Name field of the defaults is ignored.
func NewBreakerRegistry(defaults CircuitBreakerConfig) *BreakerRegistry {
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = 5
	}
	if defaults.ResetTimeout <= 0 {
		defaults.ResetTimeout = time.Minute
	}
	if defaults.HalfOpenMaxCalls <= 0 {
		defaults.HalfOpenMaxCalls = 3
	}

	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Get returns the breaker for the given name, creating it on first use.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	config.Name = name
	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Names returns the names of all registered breakers.
func (r *BreakerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}

// Stats returns a snapshot of every registered breaker.
func (r *BreakerRegistry) Stats() map[string]CircuitBreakerStats {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	stats := make(map[string]CircuitBreakerStats, len(breakers))
	for _, cb := range breakers {
		stats[cb.Name()] = cb.Stats()
	}
	return stats
}
