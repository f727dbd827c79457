// Package resilience provides the fault-tolerance primitives used between
// cluster processes: a per-peer circuit breaker, bounded retry with jittered
// backoff, and a context-based timeout wrapper.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current phase of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls failure thresholds and recovery timing.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int

	// IsFailure decides which errors count against the peer. Nil counts
	// every error. Errors it rejects still reach the caller.
	IsFailure func(error) bool
	// OnStateChange runs after each transition, outside the breaker's lock.
	OnStateChange func(name string, from, to State)
	Now           func() time.Time
}

// CircuitBreaker trips open after FailureThreshold consecutive failures and
// rejects calls until ResetTimeout has passed. It then lets
// HalfOpenMaxRequests trial calls through; a successful trial closes it and a
// failed one reopens it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu               sync.Mutex
	state            State
	failures         int
	openedAt         time.Time
	halfOpenInFlight int
}

// NewCircuitBreaker fills zero config values with 5 failures, a 30s reset
// and one half-open trial.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(error) bool { return true }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		state:  StateClosed,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

// GetState returns the current state. An open breaker whose reset timeout
// has passed still reads open until the next call tries it.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.cfg.Now().Sub(cb.openedAt)
		if wait > 0 {
			cb.mu.Unlock()
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.state = StateHalfOpen
		cb.halfOpenInFlight = 1
		cb.mu.Unlock()
		cb.transition(StateOpen, StateHalfOpen)
		return nil
	case StateHalfOpen:
		defer cb.mu.Unlock()
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (trial in flight)", ErrCircuitOpen, cb.name)
		}
		cb.halfOpenInFlight++
		return nil
	default:
		cb.mu.Unlock()
		return nil
	}
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	from := cb.state
	if err == nil || !cb.cfg.IsFailure(err) {
		cb.failures = 0
		if from == StateHalfOpen {
			cb.state = StateClosed
			cb.halfOpenInFlight = 0
		}
	} else {
		cb.failures++
		if from == StateHalfOpen || (from == StateClosed && cb.failures >= cb.cfg.FailureThreshold) {
			cb.state = StateOpen
			cb.openedAt = cb.cfg.Now()
			cb.halfOpenInFlight = 0
		}
	}
	to, failures := cb.state, cb.failures
	cb.mu.Unlock()

	if to != from {
		if to == StateOpen {
			cb.logger.Warn("circuit opened", "consecutive_failures", failures, "threshold", cb.cfg.FailureThreshold, "error", err)
		}
		cb.transition(from, to)
	}
}

// transition is called with every state change; the lock is not held.
func (cb *CircuitBreaker) transition(from, to State) {
	cb.logger.Info("circuit state changed", "from", from.String(), "to", to.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}
