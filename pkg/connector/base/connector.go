// Package base provides the generic Connector that every machine binding is
// built from. A binding supplies a Driver owning the protocol client; the
// Connector adds the lifecycle state machine, the poll loop, the trigger
// worker, model access, translation through protocol adapters and the
// ambient logging, metrics and tracing.
//
// # Usage
//
//	driver := &fileDriver{}
//	conn, err := base.NewConnector[string, *models.Record](driver, caps,
//	    []core.ProtocolAdapter[string, *models.Record]{adapter},
//	    base.WithName("line1-log"),
//	    base.WithRegistry(reg),
//	)
//	conn.SetReceptionCallback(core.ReceptionCallbackFunc[*models.Record](handle))
//	err = conn.Connect(ctx, params)
//
// # Concurrency
//
// Driver calls of the poll loop, the trigger worker, model change
// notifications and writes are serialized by one session lock. Reception
// callbacks run synchronously on the goroutine that produced the value.
// Disconnect cancels every connector goroutine and waits for them at most
// the disconnect timeout.
package base

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/connector/model"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/logger"
	"github.com/ajitpratap0/machconn/pkg/metrics"
	"github.com/ajitpratap0/machconn/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type triggerJob struct {
	ctx   context.Context
	query core.TriggerQuery
	done  chan error
}

// Connector implements core.DataConnector and core.EventHandlingConnector
// on top of a Driver
type Connector[N, P any] struct {
	name              string
	driver            Driver[N]
	caps              core.Capabilities
	adapters          []core.ProtocolAdapter[N, P]
	selector          core.AdapterSelector[N, P]
	logger            *zap.Logger
	metrics           *metrics.Collector
	tracer            *observability.ConnectorTracer
	errors            *ErrorHandler
	tracker           Tracker
	disconnectTimeout time.Duration
	sleep             func(ctx context.Context, d time.Duration) error

	// lifecycle serializes Connect and Disconnect
	lifecycle sync.Mutex
	// session serializes driver calls
	session sync.Mutex

	stateMu    sync.RWMutex
	state      core.State
	params     *core.ConnectorParameter
	modelSess  *model.Session
	instanceID string
	health     *HealthChecker

	runMu  sync.Mutex
	life   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pollMu         sync.Mutex
	pollCancel     context.CancelFunc
	pollingEnabled atomic.Bool
	polling        atomic.Bool

	cbMu             sync.RWMutex
	callback         core.ReceptionCallback[P]
	channelCallbacks map[string]core.ReceptionCallback[P]
	timeDifference   core.DataTimeDifferenceProvider[P]

	jobs     chan triggerJob
	notifyCh chan struct{}
}

var (
	_ core.DataConnector[string]  = (*Connector[string, string])(nil)
	_ core.EventHandlingConnector = (*Connector[string, string])(nil)
	_ Host[string]                = (*connectorHost[string, string])(nil)
)

// NewConnector creates a connector around driver. adapters must be non-empty
// and free of nil elements; a model connector's driver must implement
// ModelDriver.
func NewConnector[N, P any](driver Driver[N], caps core.Capabilities, adapters []core.ProtocolAdapter[N, P], opts ...Option) (*Connector[N, P], error) {
	if driver == nil {
		return nil, errors.NewConstruction("driver is required")
	}
	if err := core.ValidateAdapters(adapters); err != nil {
		return nil, err
	}
	if err := caps.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConstruction, "invalid capability declaration")
	}
	if _, ok := driver.(ModelDriver); caps.HasModel && !ok {
		return nil, errors.NewConstruction("model connector driver does not provide a model backend")
	}
	if len(caps.TriggerQueries) > 0 {
		if _, ok := driver.(QueryDriver[N]); !ok {
			return nil, errors.NewConstruction("trigger queries declared but driver does not answer queries")
		}
	}

	o := options{
		name:              "connector",
		connectorType:     "machine",
		disconnectTimeout: DefaultDisconnectTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var selector core.AdapterSelector[N, P] = &core.DefaultSelector[N, P]{}
	if o.selector != nil {
		s, ok := o.selector.(core.AdapterSelector[N, P])
		if !ok {
			return nil, errors.NewConstruction(fmt.Sprintf("adapter selector %T does not match the connector types", o.selector))
		}
		selector = s
	}
	owned := make([]core.ProtocolAdapter[N, P], len(adapters))
	copy(owned, adapters)
	selector.Init(owned)

	log := o.logger
	if log == nil {
		log = logger.Get()
	}
	log = log.With(zap.String("connector", o.name), zap.String("type", o.connectorType))

	collector := metrics.NewCollector(o.name)
	c := &Connector[N, P]{
		name:              o.name,
		driver:            driver,
		caps:              caps,
		adapters:          owned,
		selector:          selector,
		logger:            log,
		metrics:           collector,
		tracer:            observability.NewConnectorTracer(o.connectorType, o.name),
		errors:            NewErrorHandler(log, collector),
		tracker:           o.tracker,
		disconnectTimeout: o.disconnectTimeout,
		sleep:             sleepContext,
		channelCallbacks:  make(map[string]core.ReceptionCallback[P]),
		jobs:              make(chan triggerJob),
		notifyCh:          make(chan struct{}, 1),
	}
	c.errors.SetHook(o.hook)
	c.pollingEnabled.Store(true)
	return c, nil
}

// Name returns the connector name
func (c *Connector[N, P]) Name() string { return c.name }

// Capabilities returns the static capability declaration
func (c *Connector[N, P]) Capabilities() core.Capabilities { return c.caps }

// Adapters returns the protocol adapters in construction order
func (c *Connector[N, P]) Adapters() []core.ProtocolAdapter[N, P] {
	out := make([]core.ProtocolAdapter[N, P], len(c.adapters))
	copy(out, c.adapters)
	return out
}

// Metrics returns the connector's metric collector
func (c *Connector[N, P]) Metrics() *metrics.Collector { return c.metrics }

// ErrorStats returns the counts of asynchronous errors by category
func (c *Connector[N, P]) ErrorStats() map[string]interface{} { return c.errors.GetErrorStats() }

// State returns the current lifecycle state
func (c *Connector[N, P]) State() core.State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// InstanceID returns the registry id of the connected instance, "" if untracked
func (c *Connector[N, P]) InstanceID() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.instanceID
}

// Parameter returns the parameter of the current connection, nil if disconnected
func (c *Connector[N, P]) Parameter() *core.ConnectorParameter {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.params
}

// Polling reports whether the poll loop runs
func (c *Connector[N, P]) Polling() bool { return c.polling.Load() }

func (c *Connector[N, P]) setState(next core.State) {
	c.stateMu.Lock()
	prev := c.state
	if prev != next && !prev.CanTransition(next) {
		c.logger.Debug("unexpected state transition",
			zap.Stringer("from", prev), zap.Stringer("to", next))
	}
	c.state = next
	c.stateMu.Unlock()
	if prev != next {
		c.logger.Debug("state changed", zap.Stringer("from", prev), zap.Stringer("to", next))
	}
}

// SetReceptionCallback registers the callback for values without a channel
// specific callback
func (c *Connector[N, P]) SetReceptionCallback(cb core.ReceptionCallback[P]) {
	c.cbMu.Lock()
	c.callback = cb
	c.cbMu.Unlock()
}

// SetChannelReceptionCallback registers a callback for one logical channel;
// nil removes it
func (c *Connector[N, P]) SetChannelReceptionCallback(channel string, cb core.ReceptionCallback[P]) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	if cb == nil {
		delete(c.channelCallbacks, channel)
		return
	}
	c.channelCallbacks[channel] = cb
}

// SetErrorHook replaces the hook notified of asynchronous failures
func (c *Connector[N, P]) SetErrorHook(hook core.ErrorHook) {
	c.errors.SetHook(hook)
}

// SetDataTimeDifferenceProvider sets the per value delay override used while
// replaying. It only takes effect when the connector declares
// SupportsDataTimeDifference.
func (c *Connector[N, P]) SetDataTimeDifferenceProvider(provider core.DataTimeDifferenceProvider[P]) {
	c.cbMu.Lock()
	c.timeDifference = provider
	c.cbMu.Unlock()
}

func (c *Connector[N, P]) callbackFor(channel string) core.ReceptionCallback[P] {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()
	if cb, ok := c.channelCallbacks[channel]; ok {
		return cb
	}
	return c.callback
}

func (c *Connector[N, P]) dataTimeDifference(data P) (time.Duration, bool) {
	if !c.caps.SupportsDataTimeDifference {
		return 0, false
	}
	c.cbMu.RLock()
	provider := c.timeDifference
	c.cbMu.RUnlock()
	if provider == nil {
		return 0, false
	}
	d := provider(data)
	if d < 0 {
		return 0, false
	}
	return d, true
}

// Connect opens the session. It is a no-op while a session exists.
func (c *Connector[N, P]) Connect(ctx context.Context, params *core.ConnectorParameter) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State().IsOpen() {
		return nil
	}
	if params == nil {
		return errors.New(errors.ErrorTypeValidation, "connector parameter is required")
	}

	return c.tracer.Trace(ctx, "connect", func(ctx context.Context) error {
		return c.connect(ctx, params)
	}, attribute.String("address", params.Address()))
}

func (c *Connector[N, P]) connect(ctx context.Context, params *core.ConnectorParameter) error {
	c.stateMu.Lock()
	c.params = params
	c.stateMu.Unlock()
	c.setState(core.StateConnecting)

	c.runMu.Lock()
	c.life, c.cancel = context.WithCancel(logger.ContextWithConnector(context.WithoutCancel(ctx), c.name, ""))
	c.runMu.Unlock()

	host := &connectorHost[N, P]{c: c}
	c.session.Lock()
	err := c.driver.Open(ctx, host)
	c.session.Unlock()
	if err != nil {
		c.abortConnect()
		ioErr := errors.NewIO(err, fmt.Sprintf("connecting %s to %s", c.name, params.Address()))
		c.setState(core.StateError)
		c.errors.Handle("connect failed", ioErr)
		c.setState(core.StateDisconnected)
		return ioErr
	}

	if c.caps.HasModel {
		md := c.driver.(ModelDriver)
		sess := model.NewSession(md.ModelBackend(), md.ModelOptions())
		sess.SetChangeListener(c.onModelChange)
		c.stateMu.Lock()
		c.modelSess = sess
		c.stateMu.Unlock()
		for _, a := range c.adapters {
			a.ConfigureModelAccess(sess.Root())
		}
	}

	if c.tracker != nil {
		id := c.tracker.Track(c)
		c.stateMu.Lock()
		c.instanceID = id
		c.stateMu.Unlock()
	}

	c.setState(core.StateConnected)
	c.metrics.SetConnected(true)

	c.spawn(c.triggerWorker)
	c.spawn(c.monitorLoop)
	c.updatePolling()
	c.startHealth(params)

	c.logger.Info("connected",
		zap.String("address", params.Address()),
		zap.Duration("notification_interval", params.NotificationInterval()),
		zap.Strings("capabilities", c.caps.Flags()))
	return nil
}

func (c *Connector[N, P]) abortConnect() {
	c.runMu.Lock()
	c.cancel()
	c.runMu.Unlock()
	c.stateMu.Lock()
	c.params = nil
	c.stateMu.Unlock()
}

func (c *Connector[N, P]) startHealth(params *core.ConnectorParameter) {
	pinger, ok := c.driver.(Pinger)
	if !ok || params.KeepAlive() <= 0 {
		return
	}
	hc := NewHealthChecker(c.name, params.KeepAlive(), c.logger)
	hc.SetCheckFunc(func(ctx context.Context) error {
		c.session.Lock()
		defer c.session.Unlock()
		return pinger.Ping(ctx)
	})
	c.runMu.Lock()
	life := c.life
	c.runMu.Unlock()
	hc.Start(life)

	c.stateMu.Lock()
	c.health = hc
	c.stateMu.Unlock()
}

// Health returns the latest keep-alive status. Connectors without a probe
// report their lifecycle state.
func (c *Connector[N, P]) Health() *HealthStatus {
	c.stateMu.RLock()
	hc := c.health
	state := c.state
	c.stateMu.RUnlock()
	if hc != nil {
		return hc.GetStatus()
	}
	status := "healthy"
	switch state {
	case core.StateError:
		status = "degraded"
	case core.StateDisconnected, core.StateDisconnecting:
		status = "unhealthy"
	}
	return &HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"state": state.String()},
	}
}

// Disconnect releases the session. It is a no-op without a session.
func (c *Connector[N, P]) Disconnect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if !c.State().IsOpen() {
		return nil
	}
	return c.tracer.Trace(ctx, "disconnect", c.disconnect)
}

func (c *Connector[N, P]) disconnect(ctx context.Context) error {
	c.setState(core.StateDisconnecting)
	c.stopPolling()

	c.runMu.Lock()
	c.cancel()
	c.runMu.Unlock()

	c.stateMu.Lock()
	hc := c.health
	c.health = nil
	c.stateMu.Unlock()
	if hc != nil {
		hc.Stop()
	}

	if !c.waitWorkers(c.disconnectTimeout) {
		c.logger.Warn("connector goroutines did not stop in time", zap.Duration("timeout", c.disconnectTimeout))
	}

	c.session.Lock()
	c.stateMu.Lock()
	sess := c.modelSess
	c.modelSess = nil
	c.stateMu.Unlock()
	if sess != nil {
		sess.Close()
	}
	err := c.driver.Close(ctx)
	c.session.Unlock()

	c.stateMu.Lock()
	id := c.instanceID
	c.instanceID = ""
	c.params = nil
	c.stateMu.Unlock()
	if c.tracker != nil && id != "" {
		c.tracker.Untrack(id)
	}

	c.setState(core.StateDisconnected)
	c.metrics.SetConnected(false)

	if err != nil {
		return errors.NewIO(err, fmt.Sprintf("disconnecting %s", c.name))
	}
	c.logger.Info("disconnected")
	return nil
}

func (c *Connector[N, P]) waitWorkers(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// spawn runs fn on a goroutine bound to the session lifetime. It returns
// false once the session is being torn down.
func (c *Connector[N, P]) spawn(fn func(ctx context.Context)) (context.CancelFunc, bool) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.life == nil || c.life.Err() != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(c.life)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		fn(ctx)
	}()
	return cancel, true
}

func (c *Connector[N, P]) lifeContext() context.Context {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.life
}

// EnablePolling switches the poll loop on or off. The loop only runs while
// connected, with a positive notification interval and for connectors that
// are not event-only.
func (c *Connector[N, P]) EnablePolling(enable bool) {
	c.pollingEnabled.Store(enable)
	if c.State().IsOpen() {
		c.updatePolling()
	}
}

// NotificationsChanged re-evaluates whether the poll loop should run
func (c *Connector[N, P]) NotificationsChanged() {
	if c.State().IsOpen() {
		c.updatePolling()
	}
}

func (c *Connector[N, P]) updatePolling() {
	params := c.Parameter()
	if params == nil || !c.pollingEnabled.Load() || c.caps.EventOnly || params.NotificationInterval() <= 0 {
		c.stopPolling()
		return
	}
	c.startPolling(params.NotificationInterval())
}

func (c *Connector[N, P]) startPolling(interval time.Duration) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.pollCancel != nil {
		return
	}
	cancel, ok := c.spawn(func(ctx context.Context) {
		c.pollLoop(ctx, interval)
	})
	if !ok {
		return
	}
	c.pollCancel = cancel
	c.polling.Store(true)
	c.logger.Debug("polling started", zap.Duration("interval", interval))
}

func (c *Connector[N, P]) stopPolling() {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.pollCancel == nil {
		return
	}
	c.pollCancel()
	c.pollCancel = nil
	c.polling.Store(false)
	c.logger.Debug("polling stopped")
}

func (c *Connector[N, P]) pollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollTick(ctx)
		}
	}
}

func (c *Connector[N, P]) pollTick(ctx context.Context) {
	err := c.pull(ctx)
	if ctx.Err() != nil {
		return
	}
	state := c.State()
	if err != nil {
		if state == core.StateConnected {
			c.setState(core.StateError)
		}
		c.errors.Handle("poll failed", err)
		return
	}
	if state == core.StateError {
		c.setState(core.StateConnected)
	}
}

func (c *Connector[N, P]) pull(ctx context.Context) error {
	c.session.Lock()
	defer c.session.Unlock()
	timer := metrics.NewTimer("read")
	err := c.driver.Read(ctx)
	c.metrics.ObservePoll(timer.Stop(), err)
	if err != nil {
		return asIO(err, "read failed")
	}
	return nil
}

// Read performs one synchronous pull
func (c *Connector[N, P]) Read(ctx context.Context) error {
	if !c.State().IsOpen() {
		return errors.NewIO(nil, c.name+" is not connected")
	}
	return c.pull(ctx)
}

// Request performs a pull; with block=false it runs asynchronously and
// failures go to the error hook
func (c *Connector[N, P]) Request(ctx context.Context, block bool) error {
	if block {
		return c.Read(ctx)
	}
	if !c.State().IsOpen() {
		return errors.NewIO(nil, c.name+" is not connected")
	}
	if _, ok := c.spawn(func(ctx context.Context) {
		if err := c.pull(ctx); err != nil && ctx.Err() == nil {
			c.errors.Handle("requested read failed", err)
		}
	}); !ok {
		return errors.NewIO(nil, c.name+" is disconnecting")
	}
	return nil
}

// Write writes data to the default channel
func (c *Connector[N, P]) Write(ctx context.Context, data P) error {
	return c.WriteChannel(ctx, "", data)
}

// WriteChannel translates data with the adapter selected for channel and
// writes it
func (c *Connector[N, P]) WriteChannel(ctx context.Context, channel string, data P) error {
	if !c.State().IsOpen() {
		return errors.NewIO(nil, c.name+" is not connected")
	}
	adapter := c.selector.SelectNorthInput(channel, data)
	if adapter == nil {
		return errors.NewConstruction("selector returned no adapter for channel " + channel)
	}
	native, err := adapter.AdaptOutbound(data)
	if err != nil {
		c.metrics.Write(err)
		return err
	}
	c.session.Lock()
	err = c.driver.Write(ctx, channel, native)
	c.session.Unlock()
	c.metrics.Write(err)
	if err != nil {
		return asIO(err, "write failed")
	}
	return nil
}

// ModelAccess returns the root cursor of a connected model connector
func (c *Connector[N, P]) ModelAccess() (core.ModelAccess, error) {
	if !c.caps.HasModel {
		return nil, errors.NewModelAccess(c.name, "connector has no model")
	}
	c.stateMu.RLock()
	sess := c.modelSess
	c.stateMu.RUnlock()
	if sess == nil {
		return nil, errors.NewModelAccess(c.name, "not connected")
	}
	return sess.Root(), nil
}

func (c *Connector[N, P]) onModelChange(qName string) {
	select {
	case c.notifyCh <- struct{}{}:
	default:
	}
}

func (c *Connector[N, P]) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.notifyCh:
			if err := c.pull(ctx); err != nil && ctx.Err() == nil {
				c.errors.Handle("read after change notification failed", err)
			}
		}
	}
}

// Trigger performs one driven pull on the trigger worker
func (c *Connector[N, P]) Trigger(ctx context.Context) error {
	return c.submit(ctx, nil)
}

// TriggerQuery performs the fetch described by query on the trigger worker.
// Failures abort the fetch, are reported to the error hook and returned.
func (c *Connector[N, P]) TriggerQuery(ctx context.Context, query core.TriggerQuery) error {
	if query == nil {
		return errors.New(errors.ErrorTypeValidation, "trigger query is required")
	}
	if !c.caps.SupportsQuery(query.Kind()) {
		return errors.Newf(errors.ErrorTypeCapability, "%s does not support %s trigger queries", c.name, query.Kind())
	}
	return c.submit(ctx, query)
}

func (c *Connector[N, P]) submit(ctx context.Context, query core.TriggerQuery) error {
	if !c.State().IsOpen() {
		return errors.NewIO(nil, c.name+" is not connected")
	}
	life := c.lifeContext()
	jobCtx, cancel := context.WithCancel(life)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	job := triggerJob{ctx: jobCtx, query: query, done: make(chan error, 1)}
	select {
	case c.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-life.Done():
		return errors.NewIO(nil, c.name+" is disconnecting")
	}
	return <-job.done
}

func (c *Connector[N, P]) triggerWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.jobs:
			job.done <- c.runTrigger(job.ctx, job.query)
		}
	}
}

func (c *Connector[N, P]) runTrigger(ctx context.Context, query core.TriggerQuery) error {
	kind := "read"
	if query != nil {
		kind = string(query.Kind())
	}
	err := c.tracer.Trace(ctx, "trigger", func(ctx context.Context) error {
		if query == nil {
			return c.pull(ctx)
		}
		return c.query(ctx, query)
	}, attribute.String("kind", kind))
	if err != nil {
		c.errors.Handle("trigger fetch failed", err)
	}
	return err
}

func (c *Connector[N, P]) query(ctx context.Context, query core.TriggerQuery) error {
	qd := c.driver.(QueryDriver[N])

	progress := NewProgressReporter(c.logger.With(zap.String("query", string(query.Kind()))), 0)
	progress.Start()
	defer progress.Stop()

	pacer := c.newPacer(query.Delay())
	pacer.progress = progress

	c.session.Lock()
	err := qd.Query(ctx, query, pacer)
	c.session.Unlock()

	c.metrics.TriggerRows(string(query.Kind()), pacer.Delivered())
	if err != nil {
		return asIO(err, fmt.Sprintf("%s trigger query failed", query.Kind()))
	}
	return nil
}

func (c *Connector[N, P]) newPacer(explicit time.Duration) *Pacer[N] {
	return &Pacer[N]{
		explicit: explicit,
		sleep:    c.sleep,
		deliver: func(ctx context.Context, channel string, data N) (time.Duration, bool, error) {
			p, delivered, err := c.receive(channel, data, true)
			if err != nil || !delivered {
				return 0, false, err
			}
			d, ok := c.dataTimeDifference(p)
			return d, ok, nil
		},
	}
}

// receive translates and delivers one native value. The boolean result
// reports whether a callback received it.
func (c *Connector[N, P]) receive(channel string, data N, isNew bool) (P, bool, error) {
	var zero P
	if !isNew {
		c.metrics.Unchanged(channel)
		return zero, false, nil
	}
	cb := c.callbackFor(channel)
	if cb == nil {
		c.metrics.Dropped(channel)
		return zero, false, nil
	}
	adapter := c.selector.SelectSouthOutput(channel, data)
	if adapter == nil {
		return zero, false, errors.NewConstruction("selector returned no adapter for channel " + channel)
	}
	p, err := adapter.AdaptInbound(data)
	if err != nil {
		return zero, false, err
	}
	cb.Received(p)
	c.metrics.Received(channel)
	return p, true, nil
}

func asIO(err error, message string) error {
	if errors.IsType(err, errors.ErrorTypeIO) {
		return err
	}
	return errors.NewIO(err, message)
}

// connectorHost is the Host handed to the driver
type connectorHost[N, P any] struct {
	c *Connector[N, P]
}

func (h *connectorHost[N, P]) Name() string                        { return h.c.name }
func (h *connectorHost[N, P]) Logger() *zap.Logger                 { return h.c.logger }
func (h *connectorHost[N, P]) Parameter() *core.ConnectorParameter { return h.c.Parameter() }

func (h *connectorHost[N, P]) Received(_ context.Context, channel string, data N, isNew bool) error {
	_, _, err := h.c.receive(channel, data, isNew)
	return err
}

func (h *connectorHost[N, P]) Error(message string, cause error) {
	h.c.errors.Handle(message, cause)
}

func (h *connectorHost[N, P]) Pacer(explicit time.Duration) *Pacer[N] {
	return h.c.newPacer(explicit)
}

func (h *connectorHost[N, P]) Go(fn func(ctx context.Context)) bool {
	_, ok := h.c.spawn(fn)
	return ok
}
