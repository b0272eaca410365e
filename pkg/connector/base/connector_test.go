package base

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/connector/model"
	"github.com/ajitpratap0/machconn/pkg/connector/translator"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/models"
	"github.com/ajitpratap0/machconn/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

type fakeRow struct {
	value string
	ts    time.Time
}

type fakeDriver struct {
	mu        sync.Mutex
	host      Host[string]
	opens     int
	closes    int
	reads     int
	failOpens int
	openErr   error
	readErr   error
	queryErr  error
	values    []string
	written   []string
	rows      []fakeRow
}

func (d *fakeDriver) Open(_ context.Context, host Host[string]) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.failOpens > 0 {
		d.failOpens--
		return errors.New(errors.ErrorTypeConnection, "connection refused")
	}
	if d.openErr != nil {
		return d.openErr
	}
	d.host = host
	return nil
}

func (d *fakeDriver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDriver) Read(ctx context.Context) error {
	d.mu.Lock()
	d.reads++
	err := d.readErr
	values := append([]string(nil), d.values...)
	host := d.host
	d.mu.Unlock()
	if err != nil {
		return err
	}
	for _, v := range values {
		if err := host.Received(ctx, "", v, true); err != nil {
			return err
		}
	}
	return nil
}

func (d *fakeDriver) Write(_ context.Context, _ string, data string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, data)
	return nil
}

func (d *fakeDriver) Query(ctx context.Context, _ core.TriggerQuery, pacer *Pacer[string]) error {
	d.mu.Lock()
	rows := append([]fakeRow(nil), d.rows...)
	err := d.queryErr
	d.mu.Unlock()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := pacer.Deliver(ctx, "", r.value, r.ts); err != nil {
			return err
		}
	}
	return nil
}

func (d *fakeDriver) setReadErr(err error) {
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
}

func (d *fakeDriver) counts() (opens, closes, reads int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.closes, d.reads
}

type modelDriver struct {
	*fakeDriver
	tree *model.Tree
}

func (m *modelDriver) ModelBackend() model.Backend { return m.tree }
func (m *modelDriver) ModelOptions() model.Options { return model.Options{} }

// plainDriver hides the optional interfaces of the wrapped driver
type plainDriver struct {
	Driver[string]
}

type recordingAdapter struct {
	*core.TranslatingProtocolAdapter[string, *models.Record]
	mu         sync.Mutex
	configured int
}

func (a *recordingAdapter) ConfigureModelAccess(access core.ModelAccess) {
	a.mu.Lock()
	a.configured++
	a.mu.Unlock()
	a.TranslatingProtocolAdapter.ConfigureModelAccess(access)
}

func (a *recordingAdapter) configuredCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.configured
}

type fakeTracker struct {
	mu      sync.Mutex
	tracked map[string]core.Connector
	next    int
}

func (t *fakeTracker) Track(c core.Connector) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := fmt.Sprintf("id-%d", t.next)
	t.tracked[id] = c
	return id
}

func (t *fakeTracker) Untrack(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tracked, id)
}

func (t *fakeTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func newDoneAdapter(t *testing.T) *recordingAdapter {
	tp, err := translator.NewTextPattern("fake", `^DONE: (?P<count>\d+)$`, "DONE: {count}")
	require.NoError(t, err)
	return &recordingAdapter{TranslatingProtocolAdapter: core.NewAdapter[string, *models.Record](tp)}
}

func testParams(interval time.Duration) *core.ConnectorParameter {
	return core.NewParameterBuilder("localhost", 4840).
		SetNotificationInterval(interval).
		SetKeepAlive(0).
		Build()
}

type ConnectorSuite struct {
	suite.Suite
	ctx      context.Context
	cancel   context.CancelFunc
	driver   *fakeDriver
	adapter  *recordingAdapter
	recorder *testutil.CallbackRecorder[*models.Record]
	errs     *testutil.ErrorRecorder
}

func TestConnectorSuite(t *testing.T) {
	suite.Run(t, new(ConnectorSuite))
}

func (s *ConnectorSuite) SetupTest() {
	s.ctx, s.cancel = testutil.TestContext(s.T())
	s.driver = &fakeDriver{}
	s.adapter = newDoneAdapter(s.T())
	s.recorder = &testutil.CallbackRecorder[*models.Record]{}
	s.errs = &testutil.ErrorRecorder{}
}

func (s *ConnectorSuite) TearDownTest() {
	s.cancel()
}

func (s *ConnectorSuite) newConnector(caps core.Capabilities, driver Driver[string], opts ...Option) *Connector[string, *models.Record] {
	all := append([]Option{
		WithName("test-" + s.T().Name()),
		WithLogger(zaptest.NewLogger(s.T())),
		WithErrorHook(s.errs.Hook),
		WithDisconnectTimeout(time.Second),
	}, opts...)
	c, err := NewConnector[string, *models.Record](driver, caps,
		[]core.ProtocolAdapter[string, *models.Record]{s.adapter}, all...)
	s.Require().NoError(err)
	c.SetReceptionCallback(s.recorder)
	return c
}

func (s *ConnectorSuite) TestConnectIsIdempotent() {
	tracker := &fakeTracker{tracked: map[string]core.Connector{}}
	c := s.newConnector(core.Capabilities{}, s.driver, WithRegistry(tracker))

	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))

	opens, _, _ := s.driver.counts()
	s.Equal(1, opens)
	s.Equal(core.StateConnected, c.State())
	s.NotNil(c.Parameter())
	s.NotEmpty(c.InstanceID())
	s.Equal(1, tracker.size())

	s.Require().NoError(c.Disconnect(s.ctx))
	_, closes, _ := s.driver.counts()
	s.Equal(1, closes)
	s.Equal(core.StateDisconnected, c.State())
	s.Nil(c.Parameter())
	s.Empty(c.InstanceID())
	s.Equal(0, tracker.size())
}

func (s *ConnectorSuite) TestDisconnectBeforeConnect() {
	c := s.newConnector(core.Capabilities{}, s.driver)
	s.NoError(c.Disconnect(s.ctx))
	s.NoError(c.Disconnect(s.ctx))
	_, closes, _ := s.driver.counts()
	s.Equal(0, closes)
}

func (s *ConnectorSuite) TestConnectFailure() {
	s.driver.openErr = fmt.Errorf("host unreachable")
	c := s.newConnector(core.Capabilities{}, s.driver)

	err := c.Connect(s.ctx, testParams(0))
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeIO))
	s.Equal(core.StateDisconnected, c.State())
	s.Nil(c.Parameter())
	s.Equal(1, s.errs.Len())

	s.driver.openErr = nil
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	s.Equal(core.StateConnected, c.State())
	s.NoError(c.Disconnect(s.ctx))
}

func (s *ConnectorSuite) TestConnectRequiresParameter() {
	c := s.newConnector(core.Capabilities{}, s.driver)
	err := c.Connect(s.ctx, nil)
	s.True(errors.IsType(err, errors.ErrorTypeValidation))
}

func (s *ConnectorSuite) TestNoModelNeverConfiguresAdapters() {
	c := s.newConnector(core.Capabilities{}, s.driver)
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	s.Equal(0, s.adapter.configuredCount())
	_, err := c.ModelAccess()
	s.True(errors.IsType(err, errors.ErrorTypeModelAccess))
}

func (s *ConnectorSuite) TestModelAccess() {
	tree := model.NewTree("/", "Machines")
	s.Require().NoError(tree.Put("Machines/State/Mode", "RUN"))
	c := s.newConnector(core.Capabilities{HasModel: true, SupportsHierarchicalQNames: true},
		&modelDriver{fakeDriver: s.driver, tree: tree})

	_, err := c.ModelAccess()
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeModelAccess))

	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	s.Equal(1, s.adapter.configuredCount())

	root, err := c.ModelAccess()
	s.Require().NoError(err)
	machines, err := root.StepInto("Machines")
	s.Require().NoError(err)
	state, err := machines.StepInto("State")
	s.Require().NoError(err)

	mode, err := state.Get(s.ctx, "Mode")
	s.Require().NoError(err)
	s.Equal("RUN", mode)

	_, err = state.Get(s.ctx, "Missing")
	s.Require().Error(err)
	q, ok := errors.QNameOf(err)
	s.True(ok)
	s.Contains(q, "Missing")

	s.Require().NoError(c.Disconnect(s.ctx))
	_, err = state.Get(s.ctx, "Mode")
	s.True(errors.IsType(err, errors.ErrorTypeModelAccess))
	_, err = c.ModelAccess()
	s.True(errors.IsType(err, errors.ErrorTypeModelAccess))
}

func (s *ConnectorSuite) TestModelInitializerRunsPerSession() {
	tree := model.NewTree("/", "Machines")
	s.Require().NoError(tree.Put("Machines/State/Mode", "RUN"))
	s.driver.values = []string{"DONE: 1"}

	var mu sync.Mutex
	var initialized []core.ModelAccess
	failFirst := true
	tp, err := translator.NewTextPattern("fake", `^DONE: (?P<count>\d+)$`, "DONE: {count}")
	s.Require().NoError(err)
	s.adapter = &recordingAdapter{TranslatingProtocolAdapter: core.NewAdapter[string, *models.Record](tp,
		core.WithModelInitializer[string, *models.Record](func(access core.ModelAccess) error {
			mu.Lock()
			defer mu.Unlock()
			if failFirst {
				failFirst = false
				return errors.New(errors.ErrorTypeConnection, "model not ready")
			}
			initialized = append(initialized, access)
			return nil
		}))}
	c := s.newConnector(core.Capabilities{HasModel: true, SupportsHierarchicalQNames: true},
		&modelDriver{fakeDriver: s.driver, tree: tree})

	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	s.Error(c.Read(s.ctx), "failed initialization fails the read")
	s.Require().NoError(c.Read(s.ctx), "initialization is retried")
	s.Require().NoError(c.Read(s.ctx))
	s.Require().NoError(c.Disconnect(s.ctx))

	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)
	s.Require().NoError(c.Read(s.ctx))

	mu.Lock()
	defer mu.Unlock()
	s.Require().Len(initialized, 2, "one initialization per session")
	_, err = initialized[0].Get(s.ctx, "Machines/State/Mode")
	s.True(errors.IsType(err, errors.ErrorTypeModelAccess), "first session is closed")
	mode, err := initialized[1].Get(s.ctx, "Machines/State/Mode")
	s.Require().NoError(err, "second session is the live one")
	s.Equal("RUN", mode)
	s.Equal(3, s.recorder.Len())
}

func (s *ConnectorSuite) TestMonitorNotificationTriggersRead() {
	tree := model.NewTree("/", "Machines")
	s.Require().NoError(tree.Put("Machines/State/Count", int64(1)))
	s.driver.values = []string{"DONE: 1"}
	c := s.newConnector(core.Capabilities{HasModel: true, SupportsEvents: true},
		&modelDriver{fakeDriver: s.driver, tree: tree})
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	root, err := c.ModelAccess()
	s.Require().NoError(err)
	s.Require().NoError(root.Monitor(s.ctx, 0, "Machines/State"))

	s.Require().NoError(tree.Put("Machines/State/Count", int64(2)))
	testutil.AssertEventually(s.T(), func() bool { return s.recorder.Len() >= 1 }, 2*time.Second,
		"change notification should trigger a read")
}

func (s *ConnectorSuite) TestReadDeliversTranslatedRecord() {
	s.driver.values = []string{"DONE: 5"}
	c := s.newConnector(core.Capabilities{}, s.driver)

	err := c.Read(s.ctx)
	s.True(errors.IsType(err, errors.ErrorTypeIO), "read before connect")

	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)
	s.Require().NoError(c.Read(s.ctx))

	values := s.recorder.Values()
	s.Require().Len(values, 1)
	count, err := values[0].GetInt64("count")
	s.Require().NoError(err)
	s.Equal(int64(5), count)
	s.Equal("fake", values[0].Source)
}

func (s *ConnectorSuite) TestReadTranslationFailure() {
	s.driver.values = []string{"garbage"}
	c := s.newConnector(core.Capabilities{}, s.driver)
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	err := c.Read(s.ctx)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeIO))
	s.True(errors.IsType(err, errors.ErrorTypeTranslation))
	s.Equal(0, s.recorder.Len())
}

func (s *ConnectorSuite) TestUnchangedValuesAreNotDelivered() {
	c := s.newConnector(core.Capabilities{}, s.driver)
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	s.Require().NoError(s.driver.host.Received(s.ctx, "", "DONE: 1", false))
	s.Equal(0, s.recorder.Len())
	s.Require().NoError(s.driver.host.Received(s.ctx, "", "DONE: 1", true))
	s.Equal(1, s.recorder.Len())
}

func (s *ConnectorSuite) TestChannelCallbacks() {
	c := s.newConnector(core.Capabilities{}, s.driver)
	other := &testutil.CallbackRecorder[*models.Record]{}
	c.SetChannelReceptionCallback("line2", other)
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	s.Require().NoError(s.driver.host.Received(s.ctx, "line2", "DONE: 2", true))
	s.Require().NoError(s.driver.host.Received(s.ctx, "line1", "DONE: 1", true))
	s.Equal(1, other.Len())
	s.Equal(1, s.recorder.Len())

	c.SetChannelReceptionCallback("line2", nil)
	s.Require().NoError(s.driver.host.Received(s.ctx, "line2", "DONE: 3", true))
	s.Equal(1, other.Len())
	s.Equal(2, s.recorder.Len())
}

func (s *ConnectorSuite) TestPollingFailureRecovers() {
	s.driver.values = []string{"DONE: 1"}
	s.driver.setReadErr(fmt.Errorf("device busy"))
	c := s.newConnector(core.Capabilities{}, s.driver)
	s.Require().NoError(c.Connect(s.ctx, testParams(10*time.Millisecond)))
	defer c.Disconnect(s.ctx)
	s.True(c.Polling())

	testutil.AssertEventually(s.T(), func() bool { return c.State() == core.StateError }, 2*time.Second,
		"failed tick should move to ERROR")
	s.GreaterOrEqual(s.errs.Len(), 1)

	s.driver.setReadErr(nil)
	testutil.AssertEventually(s.T(), func() bool { return c.State() == core.StateConnected }, 2*time.Second,
		"successful tick should return to CONNECTED")
	testutil.AssertEventually(s.T(), func() bool { return s.recorder.Len() > 0 }, 2*time.Second,
		"values should be delivered")
}

func (s *ConnectorSuite) TestPollingToggles() {
	c := s.newConnector(core.Capabilities{}, s.driver)
	s.Require().NoError(c.Connect(s.ctx, testParams(time.Hour)))
	defer c.Disconnect(s.ctx)

	s.True(c.Polling())
	c.EnablePolling(false)
	s.False(c.Polling())
	c.EnablePolling(true)
	s.True(c.Polling())

	s.Require().NoError(c.Disconnect(s.ctx))
	s.False(c.Polling())
}

func (s *ConnectorSuite) TestNoPollingWithoutInterval() {
	c := s.newConnector(core.Capabilities{}, s.driver)
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)
	s.False(c.Polling())
}

func (s *ConnectorSuite) TestEventOnlyNeverPolls() {
	c := s.newConnector(core.Capabilities{SupportsEvents: true, EventOnly: true}, s.driver)
	s.Require().NoError(c.Connect(s.ctx, testParams(10*time.Millisecond)))
	defer c.Disconnect(s.ctx)
	s.False(c.Polling())
	c.EnablePolling(true)
	s.False(c.Polling())
}

func (s *ConnectorSuite) TestRequestAsync() {
	s.driver.values = []string{"DONE: 9"}
	c := s.newConnector(core.Capabilities{}, s.driver)
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	s.Require().NoError(c.Request(s.ctx, false))
	testutil.AssertEventually(s.T(), func() bool { return s.recorder.Len() == 1 }, 2*time.Second,
		"asynchronous request should deliver")

	s.Require().NoError(c.Request(s.ctx, true))
	s.Equal(2, s.recorder.Len())
}

func (s *ConnectorSuite) TestTrigger() {
	s.driver.values = []string{"DONE: 3"}
	c := s.newConnector(core.Capabilities{}, s.driver)
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	s.Require().NoError(c.Trigger(s.ctx))
	s.Equal(1, s.recorder.Len())
}

func (s *ConnectorSuite) queryConnector(caps core.Capabilities) (*Connector[string, *models.Record], *sleepRecorder) {
	caps.TriggerQueries = []core.QueryKind{core.QueryKindTimeseries, core.QueryKindString}
	c := s.newConnector(caps, s.driver)
	sleeper := &sleepRecorder{}
	c.sleep = sleeper.sleep
	return c, sleeper
}

func (s *ConnectorSuite) TestTimeseriesTriggerPacesRows() {
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s.driver.rows = []fakeRow{
		{"DONE: 1", t0},
		{"DONE: 2", t0.Add(100 * time.Millisecond)},
		{"DONE: 3", t0.Add(300 * time.Millisecond)},
	}
	c, sleeper := s.queryConnector(core.Capabilities{})
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	q, err := core.NewSimpleTimeseriesQuery(-1, core.TimeRelativeHours, 0, core.TimeRelativeHours, 0)
	s.Require().NoError(err)
	s.Require().NoError(c.TriggerQuery(s.ctx, q))

	values := s.recorder.Values()
	s.Require().Len(values, 3)
	for i, v := range values {
		n, err := v.GetInt64("count")
		s.Require().NoError(err)
		s.Equal(int64(i+1), n)
	}
	s.Equal([]time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.recorded())
}

func (s *ConnectorSuite) TestExplicitDelayWins() {
	t0 := time.Now()
	s.driver.rows = []fakeRow{{"DONE: 1", t0}, {"DONE: 2", t0.Add(time.Second)}, {"DONE: 3", t0.Add(time.Second)}}
	c, sleeper := s.queryConnector(core.Capabilities{SupportsDataTimeDifference: true})
	c.SetDataTimeDifferenceProvider(func(*models.Record) time.Duration { return 7 * time.Millisecond })
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	q, err := core.NewStringTriggerQuery("SELECT *", 50*time.Millisecond)
	s.Require().NoError(err)
	s.Require().NoError(c.TriggerQuery(s.ctx, q))
	s.Equal([]time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, sleeper.recorded())
}

func (s *ConnectorSuite) TestDataTimeDifferenceProviderOverrides() {
	t0 := time.Now()
	s.driver.rows = []fakeRow{{"DONE: 1", t0}, {"DONE: 2", t0.Add(time.Second)}, {"DONE: 3", t0.Add(2 * time.Second)}}
	c, sleeper := s.queryConnector(core.Capabilities{SupportsDataTimeDifference: true})
	c.SetDataTimeDifferenceProvider(func(r *models.Record) time.Duration {
		n, _ := r.GetInt64("count")
		return time.Duration(n) * time.Millisecond
	})
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	q, err := core.NewStringTriggerQuery("SELECT *", 0)
	s.Require().NoError(err)
	s.Require().NoError(c.TriggerQuery(s.ctx, q))
	s.Equal([]time.Duration{time.Millisecond, 2 * time.Millisecond}, sleeper.recorded())
}

func (s *ConnectorSuite) TestProviderIgnoredWithoutCapability() {
	t0 := time.Now()
	s.driver.rows = []fakeRow{{"DONE: 1", t0}, {"DONE: 2", t0.Add(40 * time.Millisecond)}}
	c, sleeper := s.queryConnector(core.Capabilities{})
	c.SetDataTimeDifferenceProvider(func(*models.Record) time.Duration { return time.Hour })
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	q, err := core.NewStringTriggerQuery("SELECT *", 0)
	s.Require().NoError(err)
	s.Require().NoError(c.TriggerQuery(s.ctx, q))
	s.Equal([]time.Duration{40 * time.Millisecond}, sleeper.recorded())
}

func (s *ConnectorSuite) TestUnsupportedTriggerQuery() {
	c, _ := s.queryConnector(core.Capabilities{})
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	q, err := core.NewPatternTriggerQuery("DONE", 0)
	s.Require().NoError(err)
	err = c.TriggerQuery(s.ctx, q)
	s.True(errors.IsType(err, errors.ErrorTypeCapability))

	err = c.TriggerQuery(s.ctx, nil)
	s.True(errors.IsType(err, errors.ErrorTypeValidation))
}

func (s *ConnectorSuite) TestTriggerFailureReportedAndReturned() {
	s.driver.queryErr = fmt.Errorf("measurement unknown")
	c, _ := s.queryConnector(core.Capabilities{})
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	q, err := core.NewStringTriggerQuery("SELECT *", 0)
	s.Require().NoError(err)
	err = c.TriggerQuery(s.ctx, q)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeIO))
	s.Equal(1, s.errs.Len())
	s.Equal(core.StateConnected, c.State())
}

func (s *ConnectorSuite) TestDisconnectCancelsRunningTrigger() {
	t0 := time.Now()
	s.driver.rows = []fakeRow{{"DONE: 1", t0}, {"DONE: 2", t0.Add(time.Hour)}}
	caps := core.Capabilities{TriggerQueries: []core.QueryKind{core.QueryKindString}}
	c := s.newConnector(caps, s.driver)
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))

	q, err := core.NewStringTriggerQuery("SELECT *", 0)
	s.Require().NoError(err)
	done := make(chan error, 1)
	go func() { done <- c.TriggerQuery(s.ctx, q) }()

	testutil.AssertEventually(s.T(), func() bool { return s.recorder.Len() == 1 }, 2*time.Second,
		"first row should be delivered")
	start := time.Now()
	s.Require().NoError(c.Disconnect(s.ctx))
	s.Less(time.Since(start), time.Second)

	select {
	case err := <-done:
		s.Error(err)
	case <-time.After(2 * time.Second):
		s.Fail("trigger query did not return after disconnect")
	}
	s.Equal(1, s.recorder.Len())
}

func (s *ConnectorSuite) TestTriggerCancelledByCaller() {
	t0 := time.Now()
	s.driver.rows = []fakeRow{{"DONE: 1", t0}, {"DONE: 2", t0.Add(time.Hour)}}
	caps := core.Capabilities{TriggerQueries: []core.QueryKind{core.QueryKindString}}
	c := s.newConnector(caps, s.driver)
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	q, err := core.NewStringTriggerQuery("SELECT *", 0)
	s.Require().NoError(err)
	s.Error(c.TriggerQuery(ctx, q))
	s.Equal(core.StateConnected, c.State())
}

func (s *ConnectorSuite) TestWriteTranslates() {
	c := s.newConnector(core.Capabilities{}, s.driver)
	rec := models.NewRecord("test", map[string]interface{}{"count": 7})

	err := c.Write(s.ctx, rec)
	s.True(errors.IsType(err, errors.ErrorTypeIO), "write before connect")

	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)
	s.Require().NoError(c.Write(s.ctx, rec))
	s.Equal([]string{"DONE: 7"}, s.driver.written)

	err = c.Write(s.ctx, models.NewRecord("test", nil))
	s.True(errors.IsType(err, errors.ErrorTypeTranslation))
}

func (s *ConnectorSuite) TestConnectWithRetry() {
	s.driver.failOpens = 2
	c := s.newConnector(core.Capabilities{}, s.driver)

	err := ConnectWithRetry(s.ctx, c, testParams(0), NewRetryPolicy(3, time.Millisecond))
	s.Require().NoError(err)
	opens, _, _ := s.driver.counts()
	s.Equal(3, opens)
	s.NoError(c.Disconnect(s.ctx))
}

func (s *ConnectorSuite) TestConnectWithRetryStopsOnAuthentication() {
	s.driver.openErr = errors.New(errors.ErrorTypeAuthentication, "bad password")
	c := s.newConnector(core.Capabilities{}, s.driver)

	err := ConnectWithRetry(s.ctx, c, testParams(0), NewRetryPolicy(3, time.Millisecond))
	s.Require().Error(err)
	opens, _, _ := s.driver.counts()
	s.Equal(1, opens)
}

func (s *ConnectorSuite) TestHealthReflectsState() {
	c := s.newConnector(core.Capabilities{}, s.driver)
	s.Equal("unhealthy", c.Health().Status)
	s.Require().NoError(c.Connect(s.ctx, testParams(0)))
	defer c.Disconnect(s.ctx)
	s.Equal("healthy", c.Health().Status)
}

func TestNewConnectorConstruction(t *testing.T) {
	adapter := newDoneAdapter(t)
	adapters := []core.ProtocolAdapter[string, *models.Record]{adapter}
	driver := &fakeDriver{}

	_, err := NewConnector[string, *models.Record](driver, core.Capabilities{}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConstruction), "no adapters")

	_, err = NewConnector[string, *models.Record](driver, core.Capabilities{},
		[]core.ProtocolAdapter[string, *models.Record]{adapter, nil})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConstruction), "nil adapter")

	_, err = NewConnector[string, *models.Record](nil, core.Capabilities{}, adapters)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConstruction), "nil driver")

	_, err = NewConnector[string, *models.Record](driver, core.Capabilities{HasModel: true}, adapters)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConstruction), "model without backend")

	_, err = NewConnector[string, *models.Record](plainDriver{driver},
		core.Capabilities{TriggerQueries: []core.QueryKind{core.QueryKindString}}, adapters)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConstruction), "queries without query driver")

	_, err = NewConnector[string, *models.Record](driver, core.Capabilities{EventOnly: true}, adapters)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConstruction), "inconsistent capabilities")

	_, err = NewConnector[string, *models.Record](driver, core.Capabilities{}, adapters,
		WithSelector[int, string](&core.DefaultSelector[int, string]{}))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConstruction), "mismatched selector")

	c, err := NewConnector[string, *models.Record](driver, core.Capabilities{}, adapters,
		WithSelector[string, *models.Record](core.NewChannelSelector[string, *models.Record](map[string]int{"a": 0})))
	require.NoError(t, err)
	assert.Equal(t, "connector", c.Name())
	assert.Len(t, c.Adapters(), 1)
	assert.Equal(t, core.StateDisconnected, c.State())
}
