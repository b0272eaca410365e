package base

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
)

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy creates a new retry policy with exponential backoff
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        5 * time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// Execute runs a function with the retry policy
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	return rp.ExecuteWithCondition(ctx, fn, func(error) bool { return true })
}

// ExecuteWithCondition runs a function with retry only if condition is met
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		// Check if we should retry
		if !shouldRetry(err) {
			return err
		}

		// Don't retry on the last attempt
		if attempt == rp.MaxAttempts-1 {
			break
		}

		// Calculate delay
		delay := rp.calculateDelay(attempt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "retry cancelled")
		case <-timer.C:
		}
	}

	if lastErr == nil {
		return nil
	}
	return errors.Wrapf(lastErr, errors.ErrorTypeConnection, "all %d attempts failed", rp.MaxAttempts)
}

// calculateDelay calculates the delay for a given attempt
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	// Base delay calculation with exponential backoff
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))

	// Apply max delay cap
	if delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	// Apply randomization factor (jitter)
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta

		// Random value between min and max
		delay = minDelay + (rand.Float64() * (maxDelay - minDelay))
	}

	return time.Duration(delay)
}

// GetDelay returns the delay for a specific attempt (for testing/preview)
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	return rp.calculateDelay(attempt)
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     rp.MaxAttempts,
		InitialDelay:    rp.InitialDelay,
		MaxDelay:        rp.MaxDelay,
		Multiplier:      rp.Multiplier,
		RandomizeFactor: rp.RandomizeFactor,
	}
}

// WithMaxAttempts returns a new policy with updated max attempts
func (rp *RetryPolicy) WithMaxAttempts(attempts int) *RetryPolicy {
	policy := rp.Clone()
	policy.MaxAttempts = attempts
	return policy
}

// WithDelay returns a new policy with updated delays
func (rp *RetryPolicy) WithDelay(initial, max time.Duration) *RetryPolicy {
	policy := rp.Clone()
	policy.InitialDelay = initial
	policy.MaxDelay = max
	return policy
}

// WithMultiplier returns a new policy with updated multiplier
func (rp *RetryPolicy) WithMultiplier(multiplier float64) *RetryPolicy {
	policy := rp.Clone()
	policy.Multiplier = multiplier
	return policy
}

// WithRandomization returns a new policy with updated randomization
func (rp *RetryPolicy) WithRandomization(factor float64) *RetryPolicy {
	policy := rp.Clone()
	policy.RandomizeFactor = factor
	return policy
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// NoRetryPolicy returns a policy that doesn't retry
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 1,
	}
}

// ConnectWithRetry connects conn, retrying failures the policy considers
// transient. Construction, configuration and authentication failures are
// returned at once.
func ConnectWithRetry(ctx context.Context, conn core.Connector, params *core.ConnectorParameter, policy *RetryPolicy) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	classifier := &ErrorHandler{}
	return policy.ExecuteWithCondition(ctx, func() error {
		return conn.Connect(ctx, params)
	}, classifier.ShouldRetry)
}
