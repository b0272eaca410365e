// Package plc binds controllers addressed by typed symbol names. The model
// requires typed access: untyped Get is rejected and a typed read with a
// kind other than the declared one fails. Composite values travel through
// the struct registry, which knows the primitive array types.
//
// Settings:
//
//	SYMBOLS  comma separated "name:kind" pairs emitted by each poll,
//	         e.g. "Line.Speed:double,Line.Count:int"
package plc

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/base"
	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/connector/model"
	"github.com/ajitpratap0/machconn/pkg/connector/registry"
	"github.com/ajitpratap0/machconn/pkg/connector/translator"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/models"
	"go.uber.org/zap"
)

// Type is the registry name of the binding
const Type = "plc"

// SettingSymbols lists the symbols read by a poll
const SettingSymbols = "SYMBOLS"

// Capabilities of the binding
var Capabilities = core.Capabilities{
	HasModel:                   true,
	SupportsModelStructs:       true,
	SupportsModelCalls:         true,
	SupportsHierarchicalQNames: true,
	SupportsEvents:             true,
	RequiresTypedAccess:        true,
	SpecificSettings:           []string{SettingSymbols},
}

// Sample is the native value of the binding
type Sample struct {
	Symbol string
	Value  interface{}
	Time   time.Time
}

// Dialer opens a symbol client for the connection parameter
type Dialer func(ctx context.Context, params *core.ConnectorParameter) (SymbolClient, error)

// SimulatorDialer returns a Dialer handing out sim for every connection
func SimulatorDialer(sim *Simulator) Dialer {
	return func(context.Context, *core.ConnectorParameter) (SymbolClient, error) {
		return sim, nil
	}
}

type symbolSpec struct {
	name string
	kind model.Kind
}

func parseSymbols(value string) ([]symbolSpec, error) {
	var specs []symbolSpec
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, kindName, ok := strings.Cut(item, ":")
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "symbol %q needs a kind", item)
		}
		kind, ok := model.ParseKind(kindName)
		if !ok || kind == model.KindAny {
			return nil, errors.Newf(errors.ErrorTypeConfig, "symbol %q has unknown kind %q", name, kindName)
		}
		specs = append(specs, symbolSpec{name: strings.TrimSpace(name), kind: kind})
	}
	return specs, nil
}

// Driver is the PLC driver
type Driver struct {
	dial    Dialer
	structs *model.StructRegistry

	mu      sync.Mutex
	host    base.Host[Sample]
	client  SymbolClient
	symbols []symbolSpec
	last    map[string]interface{}
}

var (
	_ base.Driver[Sample] = (*Driver)(nil)
	_ base.ModelDriver    = (*Driver)(nil)
)

// NewDriver creates a driver dialing clients with dial
func NewDriver(dial Dialer) (*Driver, error) {
	structs := model.NewStructRegistry()
	if err := model.RegisterArrayTypes(structs); err != nil {
		return nil, err
	}
	return &Driver{dial: dial, structs: structs}, nil
}

// Structs returns the struct registry; register custom shapes before Connect
func (d *Driver) Structs() *model.StructRegistry { return d.structs }

func (d *Driver) Open(ctx context.Context, host base.Host[Sample]) error {
	symbols, err := parseSymbols(host.Parameter().SpecificStringSetting(SettingSymbols, ""))
	if err != nil {
		return err
	}
	client, err := d.dial(ctx, host.Parameter())
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "cannot reach controller %s", host.Parameter().Address())
	}
	d.mu.Lock()
	d.host = host
	d.client = client
	d.symbols = symbols
	d.last = make(map[string]interface{}, len(symbols))
	d.mu.Unlock()
	host.Logger().Info("controller connected", zap.Int("symbols", len(symbols)))
	return nil
}

func (d *Driver) Close(context.Context) error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// Read reads every configured symbol; unchanged values are not new
func (d *Driver) Read(ctx context.Context) error {
	d.mu.Lock()
	client, host, symbols := d.client, d.host, d.symbols
	d.mu.Unlock()
	if client == nil {
		return errors.New(errors.ErrorTypeConnection, "not connected")
	}
	for _, s := range symbols {
		v, err := client.ReadSymbol(ctx, s.name, s.kind)
		if err != nil {
			return errors.NewIO(err, "reading "+s.name)
		}
		d.mu.Lock()
		prev, seen := d.last[s.name]
		d.last[s.name] = v
		d.mu.Unlock()
		if err := host.Received(ctx, s.name, sample(s.name, v), !seen || prev != v); err != nil {
			return err
		}
	}
	return nil
}

// Write writes the sample value with the kind of its Go type
func (d *Driver) Write(ctx context.Context, channel string, data Sample) error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil {
		return errors.New(errors.ErrorTypeConnection, "not connected")
	}
	symbol := data.Symbol
	if symbol == "" {
		symbol = channel
	}
	if symbol == "" {
		return errors.New(errors.ErrorTypeValidation, "sample names no symbol")
	}
	return client.WriteSymbol(ctx, symbol, model.KindOf(data.Value), data.Value)
}

func (d *Driver) ModelBackend() model.Backend {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &backend{client: d.client}
}

func (d *Driver) ModelOptions() model.Options {
	return model.Options{TypedOnly: true, Structs: d.structs}
}

// backend exposes a SymbolClient as a typed model backend
type backend struct {
	client SymbolClient
}

var (
	_ model.TypedBackend = (*backend)(nil)
	_ model.RawBackend   = (*backend)(nil)
	_ model.Caller       = (*backend)(nil)
	_ model.Monitorer    = (*backend)(nil)
)

func (b *backend) Separator() string    { return Separator }
func (b *backend) TopInstances() string { return "" }

func (b *backend) Read(ctx context.Context, path model.Path) (interface{}, error) {
	return b.client.ReadSymbol(ctx, path.Join(Separator), model.KindAny)
}

func (b *backend) Write(ctx context.Context, path model.Path, value interface{}) error {
	return b.client.WriteSymbol(ctx, path.Join(Separator), model.KindOf(value), value)
}

func (b *backend) ReadTyped(ctx context.Context, path model.Path, kind model.Kind) (interface{}, error) {
	return b.client.ReadSymbol(ctx, path.Join(Separator), kind)
}

func (b *backend) WriteTyped(ctx context.Context, path model.Path, kind model.Kind, value interface{}) error {
	return b.client.WriteSymbol(ctx, path.Join(Separator), kind, value)
}

func (b *backend) ReadRaw(ctx context.Context, path model.Path, size int) ([]byte, error) {
	return b.client.ReadBytes(ctx, path.Join(Separator), size)
}

func (b *backend) WriteRaw(ctx context.Context, path model.Path, data []byte) error {
	return b.client.WriteBytes(ctx, path.Join(Separator), data)
}

func (b *backend) Call(ctx context.Context, path model.Path, args []interface{}) (interface{}, error) {
	return b.client.Invoke(ctx, path.Join(Separator), args)
}

func (b *backend) Monitor(ctx context.Context, _ time.Duration, paths []model.Path, notify func(model.Path)) error {
	for _, p := range paths {
		err := b.client.Subscribe(ctx, p.Join(Separator), func(symbol string) {
			notify(model.Path(model.Split(symbol, Separator)))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *backend) MonitorModelChanges(context.Context, time.Duration, func(model.Path)) error {
	return errors.New(errors.ErrorTypeCapability, "controller symbol tables are static")
}

// SampleTranslator translates samples to records with the fields "symbol"
// and "value"; the symbol is also the record channel
func SampleTranslator(source string) core.TypeTranslator[Sample, *models.Record] {
	return translator.NewFunc(
		func(s Sample) (*models.Record, error) {
			rec := models.NewRecord(source, map[string]interface{}{"symbol": s.Symbol, "value": s.Value})
			rec.Channel = s.Symbol
			if !s.Time.IsZero() {
				rec.Timestamp = s.Time
			}
			return rec, nil
		},
		func(rec *models.Record) (Sample, error) {
			symbol, _ := rec.GetString("symbol")
			if symbol == "" {
				symbol = rec.Channel
			}
			v, ok := rec.Get("value")
			if !ok {
				return Sample{}, errors.New(errors.ErrorTypeValidation, "record has no value field")
			}
			return Sample{Symbol: symbol, Value: v, Time: rec.Timestamp}, nil
		},
	)
}

// New creates a PLC connector dialing with dial
func New(cfg registry.FactoryConfig, dial Dialer) (*base.Connector[Sample, *models.Record], error) {
	driver, err := NewDriver(dial)
	if err != nil {
		return nil, err
	}
	adapter := core.NewAdapter[Sample, *models.Record](SampleTranslator(cfg.Name))
	return base.NewConnector[Sample, *models.Record](driver, Capabilities,
		[]core.ProtocolAdapter[Sample, *models.Record]{adapter},
		cfg.BaseOptions(Type)...)
}

// Info describes the binding
func Info() registry.ConnectorInfo {
	return registry.ConnectorInfo{
		Type:             Type,
		Description:      "typed symbol access to programmable logic controllers",
		Capabilities:     Capabilities,
		OptionalSettings: []string{SettingSymbols},
	}
}

// Register registers the binding. Without a dialer every connector gets its
// own simulator.
func Register(r *registry.Registry, dial Dialer) error {
	return r.Register(Info(), func(cfg registry.FactoryConfig) (registry.Connector, error) {
		d := dial
		if d == nil {
			d = SimulatorDialer(NewSimulator())
		}
		c, err := New(cfg, d)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
