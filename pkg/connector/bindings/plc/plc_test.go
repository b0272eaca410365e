package plc

import (
	"context"
	"testing"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/connector/model"
	"github.com/ajitpratap0/machconn/pkg/connector/registry"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/models"
	"github.com/ajitpratap0/machconn/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newSimulator(t *testing.T) *Simulator {
	sim := NewSimulator()
	require.NoError(t, sim.Define("Line.Speed", model.KindDouble, 1.5))
	require.NoError(t, sim.Define("Line.Count", model.KindInt, 7))
	require.NoError(t, sim.Define("Line.Name", model.KindString, "press"))
	require.NoError(t, sim.DefineBytes("Line.Samples", []byte{}))
	require.NoError(t, sim.DefineMethod("Line.Reset", func(_ context.Context, args []interface{}) (interface{}, error) {
		return len(args), nil
	}))
	return sim
}

func connect(t *testing.T, sim *Simulator, settings map[string]string) (registry.Connector, *testutil.CallbackRecorder[*models.Record]) {
	t.Helper()
	r := registry.NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, Register(r, SimulatorDialer(sim)))

	params := core.NewParameterBuilder("simulator", 851).
		SetNotificationInterval(0).
		SetSpecificSettings(settings).
		Build()
	conn, err := r.Create(Type, registry.FactoryConfig{Name: "press", Parameter: params, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	rec := &testutil.CallbackRecorder[*models.Record]{}
	conn.SetReceptionCallback(rec)
	require.NoError(t, conn.Connect(context.Background(), params))
	t.Cleanup(func() { _ = conn.Disconnect(context.Background()) })
	return conn, rec
}

func TestTypedModelAccess(t *testing.T) {
	ctx := context.Background()
	conn, _ := connect(t, newSimulator(t), nil)

	root, err := conn.ModelAccess()
	require.NoError(t, err)
	assert.Equal(t, ".", root.QSeparator())

	speed, err := root.GetDouble(ctx, "Line.Speed")
	require.NoError(t, err)
	assert.Equal(t, 1.5, speed)

	count, err := root.GetInt(ctx, "Line.Count")
	require.NoError(t, err)
	assert.Equal(t, int32(7), count)

	_, err = root.Get(ctx, "Line.Speed")
	assert.True(t, errors.IsType(err, errors.ErrorTypeModelAccess), "untyped access is rejected")

	_, err = root.GetInt(ctx, "Line.Speed")
	require.Error(t, err, "declared kind differs")
	q, ok := errors.QNameOf(err)
	require.True(t, ok)
	assert.Equal(t, "Line.Speed", q)

	_, err = root.GetDouble(ctx, "Line.Missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeModelAccess))

	require.NoError(t, root.SetInt(ctx, "Line.Count", 9))
	count, err = root.GetInt(ctx, "Line.Count")
	require.NoError(t, err)
	assert.Equal(t, int32(9), count)

	line, err := root.StepInto("Line")
	require.NoError(t, err)
	name, err := line.GetString(ctx, "Name")
	require.NoError(t, err)
	assert.Equal(t, "press", name)
}

func TestStructsAndCalls(t *testing.T) {
	ctx := context.Background()
	conn, _ := connect(t, newSimulator(t), nil)
	root, err := conn.ModelAccess()
	require.NoError(t, err)

	require.NoError(t, root.SetStruct(ctx, "Line.Samples", []float64{1, 2.5, 4}))
	v, err := root.GetStruct(ctx, "Line.Samples", model.TagDoubleArray)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5, 4}, v)

	arr, err := model.GetStructAs[[]float64](ctx, root, "Line.Samples")
	require.NoError(t, err)
	assert.Len(t, arr, 3)

	res, err := root.Call(ctx, "Line.Reset", 1, "now")
	require.NoError(t, err)
	assert.Equal(t, 2, res)
}

func TestReadEmitsChangedSymbols(t *testing.T) {
	ctx := context.Background()
	sim := newSimulator(t)
	conn, rec := connect(t, sim, map[string]string{SettingSymbols: "Line.Speed:double, Line.Count:int"})

	require.NoError(t, conn.Read(ctx))
	require.Equal(t, 2, rec.Len())
	first := rec.Values()[0]
	assert.Equal(t, "Line.Speed", first.Channel)
	assert.Equal(t, 1.5, first.Fields["value"])

	require.NoError(t, conn.Read(ctx))
	assert.Equal(t, 2, rec.Len(), "unchanged values are not delivered")

	require.NoError(t, sim.WriteSymbol(ctx, "Line.Speed", model.KindDouble, 3.0))
	require.NoError(t, conn.Read(ctx))
	require.Equal(t, 3, rec.Len())
	assert.Equal(t, 3.0, rec.Values()[2].Fields["value"])
}

func TestWriteRecord(t *testing.T) {
	ctx := context.Background()
	sim := newSimulator(t)
	conn, _ := connect(t, sim, nil)

	rec := models.NewRecord("ui", map[string]interface{}{"symbol": "Line.Speed", "value": 12.25})
	require.NoError(t, conn.Write(ctx, rec))
	v, err := sim.ReadSymbol(ctx, "Line.Speed", model.KindDouble)
	require.NoError(t, err)
	assert.Equal(t, 12.25, v)

	rec = models.NewRecord("ui", map[string]interface{}{"symbol": "Line.Speed", "value": "fast"})
	assert.Error(t, conn.Write(ctx, rec), "string written to a double")
}

func TestMonitorTriggersRead(t *testing.T) {
	ctx := context.Background()
	sim := newSimulator(t)
	conn, rec := connect(t, sim, map[string]string{SettingSymbols: "Line.Count:int"})
	root, err := conn.ModelAccess()
	require.NoError(t, err)
	require.NoError(t, root.Monitor(ctx, 0, "Line.Count"))

	require.NoError(t, sim.WriteSymbol(ctx, "Line.Count", model.KindInt, 42))
	testutil.AssertEventually(t, func() bool {
		vals := rec.Values()
		return len(vals) > 0 && vals[len(vals)-1].Fields["value"] == int32(42)
	}, 2*time.Second, "change notification reads the symbol")
}

func TestModelChangesNeedPolling(t *testing.T) {
	conn, _ := connect(t, newSimulator(t), nil)
	root, err := conn.ModelAccess()
	require.NoError(t, err)

	err = root.MonitorModelChanges(context.Background(), time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeModelAccess))
	assert.Contains(t, err.Error(), "not supported, use polling")
}

func TestParseSymbols(t *testing.T) {
	specs, err := parseSymbols("A.B:double, C:Boolean,")
	require.NoError(t, err)
	assert.Equal(t, []symbolSpec{{"A.B", model.KindDouble}, {"C", model.KindBoolean}}, specs)

	_, err = parseSymbols("A")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	_, err = parseSymbols("A:any")
	assert.Error(t, err)
	_, err = parseSymbols("A:complex")
	assert.Error(t, err)
}

func TestSimulatorTick(t *testing.T) {
	ctx := context.Background()
	sim := newSimulator(t)
	require.NoError(t, sim.Tick(ctx, 1))
	v, err := sim.ReadSymbol(ctx, "Line.Count", model.KindInt)
	require.NoError(t, err)
	assert.Equal(t, int32(8), v)
	s, err := sim.ReadSymbol(ctx, "Line.Name", model.KindString)
	require.NoError(t, err)
	assert.Equal(t, "press", s)
	assert.Equal(t, []string{"Line.Count", "Line.Name", "Line.Samples", "Line.Speed"}, sim.Symbols())
}
