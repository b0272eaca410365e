package base

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is the result of the latest keep-alive probe
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     error                  `json:"-"`
}

// HealthChecker probes a session at the keep-alive interval
type HealthChecker struct {
	name             string
	interval         time.Duration
	status           *HealthStatus
	statusMutex      sync.RWMutex
	checkFunc        func(ctx context.Context) error
	logger           *zap.Logger
	stopCh           chan struct{}
	stopOnce         sync.Once
	wg               sync.WaitGroup
	checkCount       int64
	failureCount     int64
	consecutiveFails int
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(name string, interval time.Duration, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		name:     name,
		interval: interval,
		status: &HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now(),
			Details:   make(map[string]interface{}),
		},
		logger: logger.With(zap.String("component", "health_checker")),
		stopCh: make(chan struct{}),
	}
}

// SetCheckFunc sets the health check function
func (hc *HealthChecker) SetCheckFunc(fn func(ctx context.Context) error) {
	hc.checkFunc = fn
}

// Start begins periodic health checks
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.wg.Add(1)
	go func() {
		defer hc.wg.Done()
		ticker := time.NewTicker(hc.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-hc.stopCh:
				return
			case <-ticker.C:
				hc.performCheck(ctx)
			}
		}
	}()
}

// Stop stops the health checker. It may be called more than once.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopCh) })
	hc.wg.Wait()
}

func (hc *HealthChecker) performCheck(ctx context.Context) {
	atomic.AddInt64(&hc.checkCount, 1)

	timeout := hc.interval
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	if hc.checkFunc != nil {
		err = hc.checkFunc(checkCtx)
	}
	hc.record(err)
}

func (hc *HealthChecker) record(err error) {
	hc.statusMutex.Lock()
	defer hc.statusMutex.Unlock()

	hc.status.Timestamp = time.Now()

	if err != nil {
		atomic.AddInt64(&hc.failureCount, 1)
		hc.consecutiveFails++

		if hc.consecutiveFails >= 3 {
			hc.status.Status = "unhealthy"
		} else {
			hc.status.Status = "degraded"
		}

		hc.status.Error = err
		hc.status.Details["consecutive_failures"] = hc.consecutiveFails
		hc.status.Details["last_error"] = err.Error()

		hc.logger.Warn("keep-alive probe failed",
			zap.Error(err),
			zap.String("status", hc.status.Status),
			zap.Int("consecutive_failures", hc.consecutiveFails))
	} else {
		hc.consecutiveFails = 0
		hc.status.Status = "healthy"
		hc.status.Error = nil
		delete(hc.status.Details, "consecutive_failures")
		delete(hc.status.Details, "last_error")
	}

	hc.status.Details["check_count"] = atomic.LoadInt64(&hc.checkCount)
	hc.status.Details["failure_count"] = atomic.LoadInt64(&hc.failureCount)
}

// GetStatus returns a copy of the current health status
func (hc *HealthChecker) GetStatus() *HealthStatus {
	hc.statusMutex.RLock()
	defer hc.statusMutex.RUnlock()

	statusCopy := &HealthStatus{
		Status:    hc.status.Status,
		Timestamp: hc.status.Timestamp,
		Details:   make(map[string]interface{}, len(hc.status.Details)),
		Error:     hc.status.Error,
	}
	for k, v := range hc.status.Details {
		statusCopy.Details[k] = v
	}
	return statusCopy
}

// CheckCount returns the total number of health checks performed
func (hc *HealthChecker) CheckCount() int64 {
	return atomic.LoadInt64(&hc.checkCount)
}

// FailureCount returns the total number of failed health checks
func (hc *HealthChecker) FailureCount() int64 {
	return atomic.LoadInt64(&hc.failureCount)
}

// IsHealthy returns true if the last probe succeeded
func (hc *HealthChecker) IsHealthy() bool {
	hc.statusMutex.RLock()
	defer hc.statusMutex.RUnlock()
	return hc.status.Status == "healthy"
}
