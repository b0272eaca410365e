package clients

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitBreakerConfig is the configuration for circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           // Number of consecutive failures before opening
	SuccessThreshold int           // Number of half-open successes before closing
	Timeout          time.Duration // Time the circuit stays open before probing
}

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a limited number of probe requests
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("CircuitState(%d)", int32(s))
	}
}

// halfOpenLimit bounds the probe requests in flight while half open
const halfOpenLimit = 3

// CircuitBreaker implements the circuit breaker pattern to stop hammering a
// server that keeps failing
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	openedAt             time.Time
}

// NewCircuitBreaker creates a closed circuit breaker; zero config values
// fall back to 5 failures, 2 successes and 30s
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		now:    time.Now,
	}
}

// Execute runs fn with circuit breaker protection
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return fmt.Errorf("circuit breaker is open")
	}

	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Allow reports whether a request may proceed
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return false
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenInFlight >= halfOpenLimit {
			return false
		}
		cb.halfOpenInFlight++
		return true
	}
	return false
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.halfOpenInFlight--
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// RecordFailure records a failed request. Any failure while half open
// reopens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	cb.logger.Info("circuit breaker state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}
