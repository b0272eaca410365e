package registry

import (
	"context"
	"testing"

	"github.com/ajitpratap0/machconn/pkg/connector/base"
	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/connector/translator"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type nopDriver struct{}

func (nopDriver) Open(context.Context, base.Host[*models.Record]) error { return nil }
func (nopDriver) Close(context.Context) error                          { return nil }
func (nopDriver) Read(context.Context) error                           { return nil }
func (nopDriver) Write(context.Context, string, *models.Record) error  { return nil }

func nopFactory(cfg FactoryConfig) (Connector, error) {
	adapter := core.NewAdapter[*models.Record, *models.Record](translator.Identity[*models.Record]{})
	return base.NewConnector[*models.Record, *models.Record](nopDriver{}, core.Capabilities{},
		[]core.ProtocolAdapter[*models.Record, *models.Record]{adapter},
		cfg.BaseOptions("nop")...,
	)
}

func TestRegisterAndCreate(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	info := ConnectorInfo{Type: "nop", Description: "does nothing", RequiredSettings: []string{"TABLE"}}
	require.NoError(t, r.Register(info, nopFactory))

	err := r.Register(info, nopFactory)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "duplicate registration")

	assert.True(t, r.Has("nop"))
	assert.False(t, r.Has("other"))

	_, err = r.Create("other", FactoryConfig{Parameter: core.NewParameterBuilder("h", 1).Build()})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = r.Create("nop", FactoryConfig{Parameter: core.NewParameterBuilder("h", 1).Build()})
	require.Error(t, err, "missing required setting")
	assert.Contains(t, err.Error(), "TABLE")

	params := core.NewParameterBuilder("h", 1).SetSpecificSetting("TABLE", "t").Build()
	conn, err := r.Create("nop", FactoryConfig{Parameter: params})
	require.NoError(t, err)
	assert.Equal(t, "nop", conn.Name())
}

func TestRegisterRejectsInvalidInfo(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	assert.Error(t, r.Register(ConnectorInfo{}, nopFactory))
	assert.Error(t, r.Register(ConnectorInfo{Type: "x"}, nil))
	assert.Error(t, r.Register(ConnectorInfo{Type: "x", Capabilities: core.Capabilities{EventOnly: true}}, nopFactory))
}

func TestTypesSorted(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	for _, name := range []string{"twin", "aas", "file"} {
		require.NoError(t, r.Register(ConnectorInfo{Type: name}, nopFactory))
	}
	var names []string
	for _, info := range r.Types() {
		names = append(names, info.Type)
	}
	assert.Equal(t, []string{"aas", "file", "twin"}, names)

	info, err := r.Info("file")
	require.NoError(t, err)
	assert.Equal(t, "file", info.Type)
	_, err = r.Info("missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestInstancesTrackedWhileConnected(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(ConnectorInfo{Type: "nop"}, nopFactory))

	params := core.NewParameterBuilder("h", 1).SetNotificationInterval(0).Build()
	a, err := r.Create("nop", FactoryConfig{Name: "a", Parameter: params})
	require.NoError(t, err)
	b, err := r.Create("nop", FactoryConfig{Name: "b", Parameter: params})
	require.NoError(t, err)
	assert.Empty(t, r.Instances())

	require.NoError(t, a.Connect(ctx, params))
	require.NoError(t, b.Connect(ctx, params))

	instances := r.Instances()
	require.Len(t, instances, 2)
	for _, inst := range instances {
		assert.Equal(t, "CONNECTED", inst.State)
		c, ok := r.Lookup(inst.ID)
		require.True(t, ok)
		assert.Equal(t, inst.Name, c.Name())
	}

	require.NoError(t, a.Disconnect(ctx))
	require.Len(t, r.Instances(), 1)
	assert.Equal(t, "b", r.Instances()[0].Name)

	require.NoError(t, r.DisconnectAll(ctx))
	assert.Empty(t, r.Instances())
	assert.Equal(t, core.StateDisconnected, b.State())
}
