// Package metrics provides Prometheus instrumentation for machine connectors.
//
// # Overview
//
// The package defines process-wide metric vectors labelled by connector name
// and a Collector bound to one connector:
//
//	collector := metrics.NewCollector("line1-history")
//	collector.SetConnected(true)
//	collector.Received("temperature")
//
//	timer := metrics.NewTimer("poll")
//	err := driver.Read(ctx)
//	collector.ObservePoll(timer.Stop(), err)
//
// Metrics are exposed through promhttp by the machconn CLI when
// --metrics-addr is set.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReceivedTotal counts values delivered to reception callbacks.
	// Labels: connector, channel, outcome (delivered/unchanged/dropped)
	ReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "machconn_received_total",
			Help: "Total number of values received from connected systems",
		},
		[]string{"connector", "channel", "outcome"},
	)

	// ErrorsTotal counts errors reported through the error hook.
	// Labels: connector, category
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "machconn_errors_total",
			Help: "Total number of asynchronous connector errors",
		},
		[]string{"connector", "category"},
	)

	// PollDuration tracks the duration of poll ticks in seconds
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "machconn_poll_duration_seconds",
			Help: "Duration of connector poll ticks in seconds",
			Buckets: []float64{
				0.0005, // local simulators
				0.001,
				0.005,
				0.01, // LAN controllers
				0.05,
				0.1,
				0.5, // remote services
				1,
				5,
			},
		},
		[]string{"connector", "status"},
	)

	// Connected is 1 while the connector holds an open session
	Connected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "machconn_connected",
			Help: "Whether the connector holds an open session",
		},
		[]string{"connector"},
	)

	// TriggerRowsTotal counts rows delivered by triggered fetches
	TriggerRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "machconn_trigger_rows_total",
			Help: "Total number of rows delivered by trigger queries",
		},
		[]string{"connector", "kind"},
	)

	// WritesTotal counts writes towards the connected system.
	// Labels: connector, status (success/failure)
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "machconn_writes_total",
			Help: "Total number of values written to connected systems",
		},
		[]string{"connector", "status"},
	)
)

// Collector records the metrics of one connector instance. The zero value is
// not usable; create collectors with NewCollector.
type Collector struct {
	name      string
	startTime time.Time

	mu       sync.Mutex
	received int64
	errors   int64
	writes   int64
}

// NewCollector creates a collector labelling all metrics with name
func NewCollector(name string) *Collector {
	return &Collector{
		name:      name,
		startTime: time.Now(),
	}
}

// Name returns the connector label
func (c *Collector) Name() string {
	return c.name
}

// StartTime returns when the collector was created
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// Received records a value delivered on channel
func (c *Collector) Received(channel string) {
	c.mu.Lock()
	c.received++
	c.mu.Unlock()
	ReceivedTotal.WithLabelValues(c.name, channel, "delivered").Inc()
}

// Unchanged records a polled value that was not new and therefore not delivered
func (c *Collector) Unchanged(channel string) {
	ReceivedTotal.WithLabelValues(c.name, channel, "unchanged").Inc()
}

// Dropped records a value without a registered callback
func (c *Collector) Dropped(channel string) {
	ReceivedTotal.WithLabelValues(c.name, channel, "dropped").Inc()
}

// Error records an asynchronous error of category
func (c *Collector) Error(category string) {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
	ErrorsTotal.WithLabelValues(c.name, category).Inc()
}

// ObservePoll records the duration and outcome of a poll tick
func (c *Collector) ObservePoll(d time.Duration, err error) {
	PollDuration.WithLabelValues(c.name, status(err)).Observe(d.Seconds())
}

// SetConnected updates the connected gauge
func (c *Collector) SetConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	Connected.WithLabelValues(c.name).Set(v)
}

// TriggerRows records n rows delivered by a trigger query of kind
func (c *Collector) TriggerRows(kind string, n int) {
	if n <= 0 {
		return
	}
	TriggerRowsTotal.WithLabelValues(c.name, kind).Add(float64(n))
}

// Write records the outcome of a write
func (c *Collector) Write(err error) {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	WritesTotal.WithLabelValues(c.name, status(err)).Inc()
}

// Snapshot returns the totals recorded through this collector
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"connector": c.name,
		"received":  c.received,
		"errors":    c.errors,
		"writes":    c.writes,
		"uptime":    time.Since(c.startTime).Seconds(),
	}
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer name
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
