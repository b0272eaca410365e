package base

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ProgressReporter periodically logs the progress of a long running replay
type ProgressReporter struct {
	logger *zap.Logger

	processed      int64
	startTime      time.Time
	reportInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProgressReporter creates a reporter logging every interval
func NewProgressReporter(logger *zap.Logger, interval time.Duration) *ProgressReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ProgressReporter{
		logger:         logger,
		startTime:      time.Now(),
		reportInterval: interval,
		stopCh:         make(chan struct{}),
	}
}

// Start begins periodic progress reporting
func (pr *ProgressReporter) Start() {
	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		ticker := time.NewTicker(pr.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pr.stopCh:
				return
			case <-ticker.C:
				pr.logger.Info("replay progress",
					zap.Int64("delivered", pr.Processed()),
					zap.Float64("throughput", pr.Throughput()),
					zap.Duration("elapsed", pr.Elapsed()))
			}
		}
	}()
}

// Stop stops reporting and logs a summary
func (pr *ProgressReporter) Stop() {
	pr.stopOnce.Do(func() {
		close(pr.stopCh)
		pr.wg.Wait()
		pr.logger.Debug("replay finished",
			zap.Int64("delivered", pr.Processed()),
			zap.Duration("elapsed", pr.Elapsed()))
	})
}

// IncrementProcessed increments the processed count
func (pr *ProgressReporter) IncrementProcessed(count int64) {
	atomic.AddInt64(&pr.processed, count)
}

// Processed returns the number of values delivered so far
func (pr *ProgressReporter) Processed() int64 {
	return atomic.LoadInt64(&pr.processed)
}

// Elapsed returns time since start
func (pr *ProgressReporter) Elapsed() time.Duration {
	return time.Since(pr.startTime)
}

// Throughput returns the average number of values per second
func (pr *ProgressReporter) Throughput() float64 {
	elapsed := pr.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(pr.Processed()) / elapsed
}
