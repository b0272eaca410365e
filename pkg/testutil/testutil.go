// Package testutil provides testing utilities for machconn connectors
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// CallbackRecorder is a reception callback remembering every value with its
// arrival time
type CallbackRecorder[P any] struct {
	mu       sync.Mutex
	values   []P
	arrivals []time.Time
}

// Received implements core.ReceptionCallback
func (r *CallbackRecorder[P]) Received(data P) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, data)
	r.arrivals = append(r.arrivals, time.Now())
}

// Values returns a copy of the received values in arrival order
func (r *CallbackRecorder[P]) Values() []P {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]P, len(r.values))
	copy(out, r.values)
	return out
}

// Arrivals returns the arrival times in order
func (r *CallbackRecorder[P]) Arrivals() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, len(r.arrivals))
	copy(out, r.arrivals)
	return out
}

// Len returns the number of received values
func (r *CallbackRecorder[P]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// ErrorRecorder collects the calls of an error hook
type ErrorRecorder struct {
	mu       sync.Mutex
	messages []string
	causes   []error
}

// Hook records message and cause. Pass it to SetErrorHook.
func (r *ErrorRecorder) Hook(message string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	r.causes = append(r.causes, cause)
}

// Messages returns the recorded messages
func (r *ErrorRecorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Causes returns the recorded causes
func (r *ErrorRecorder) Causes() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.causes...)
}

// Len returns the number of hook calls
func (r *ErrorRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
