// Package chain executes fallback chains: an ordered list of model steps,
// each guarded by a retry policy, an optional latency cap, and a per-model
// circuit breaker.
package chain

import (
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState is the derived state of a circuit breaker
type BreakerState string

const (
	// BreakerClosed admits requests normally
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects requests until the reset window elapses
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen admits a trial request after the reset window
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker tracks consecutive failures for one model. State is
// derived from two atomic counters, never stored; concurrent executions
// may race across a threshold crossing, which only shifts the observed
// state by one request.
type CircuitBreaker struct {
	failureCount  atomic.Int64
	lastFailureMs atomic.Int64
	threshold     int64
	resetDuration time.Duration

	now func() time.Time
}

// DefaultBreakerThreshold opens the breaker after this many consecutive
// failures.
const DefaultBreakerThreshold = 5

// DefaultBreakerReset is how long an open breaker waits before admitting
// a trial request.
const DefaultBreakerReset = 60 * time.Second

// NewCircuitBreaker creates a breaker with the given threshold and reset
// window. Non-positive arguments fall back to the defaults.
func NewCircuitBreaker(threshold int64, resetDuration time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if resetDuration <= 0 {
		resetDuration = DefaultBreakerReset
	}
	return &CircuitBreaker{
		threshold:     threshold,
		resetDuration: resetDuration,
		now:           time.Now,
	}
}

// State derives the current state from the counters
func (cb *CircuitBreaker) State() BreakerState {
	if cb.failureCount.Load() < cb.threshold {
		return BreakerClosed
	}
	elapsed := cb.now().UnixMilli() - cb.lastFailureMs.Load()
	if elapsed >= cb.resetDuration.Milliseconds() {
		return BreakerHalfOpen
	}
	return BreakerOpen
}

// IsAvailable reports whether a request may be attempted. HalfOpen admits
// the trial request; only Open refuses.
func (cb *CircuitBreaker) IsAvailable() bool {
	return cb.State() != BreakerOpen
}

// RecordSuccess closes the breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failureCount.Store(0)
}

// RecordFailure counts one failure and restarts the reset window
func (cb *CircuitBreaker) RecordFailure() {
	cb.failureCount.Add(1)
	cb.lastFailureMs.Store(cb.now().UnixMilli())
}

// FailureCount returns the consecutive failure count
func (cb *CircuitBreaker) FailureCount() int64 {
	return cb.failureCount.Load()
}

// breakerSet lazily creates one breaker per model id
type breakerSet struct {
	mu            sync.RWMutex
	breakers      map[string]*CircuitBreaker
	threshold     int64
	resetDuration time.Duration
}

func newBreakerSet(threshold int64, resetDuration time.Duration) *breakerSet {
	return &breakerSet{
		breakers:      make(map[string]*CircuitBreaker),
		threshold:     threshold,
		resetDuration: resetDuration,
	}
}

func (s *breakerSet) get(modelID string) *CircuitBreaker {
	s.mu.RLock()
	cb, ok := s.breakers[modelID]
	s.mu.RUnlock()
	if ok {
		return cb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[modelID]; ok {
		return cb
	}
	cb = NewCircuitBreaker(s.threshold, s.resetDuration)
	s.breakers[modelID] = cb
	return cb
}
