// Package aas binds asset administration shell submodel repositories over
// their HTTP API. The model is hierarchical with "/" separated names: the
// first level names a submodel, the levels below are element idShorts.
// Reads and writes use the value-only serialization; operations are invoked
// synchronously.
//
// Settings:
//
//	SUBMODELS   comma separated submodels delivered by polls, either bare
//	            ids or "alias=id" pairs; aliases also name submodels in the
//	            model
//	RATE_LIMIT  requests per second, 0 disables limiting (default 50)
package aas

import (
	"bytes"
	"context"
	"strings"
	"sync"

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
const Type = "aas"

const (
	SettingSubmodels = "SUBMODELS"
	SettingRateLimit = "RATE_LIMIT"
)

// Separator separates submodel and element levels
const Separator = "/"

// Capabilities of the binding
var Capabilities = core.Capabilities{
	HasModel:                   true,
	SupportsModelCalls:         true,
	SupportsHierarchicalQNames: true,
	SupportsEvents:             true,
	SpecificSettings:           []string{SettingSubmodels, SettingRateLimit},
}

// Submodel is the native value of the binding: the value-only JSON of one
// submodel
type Submodel struct {
	// Alias is the configured name, the id when none was given
	Alias string
	ID    string
	Value []byte
}

type submodelRef struct {
	alias string
	id    string
}

func parseSubmodels(value string) ([]submodelRef, error) {
	var refs []submodelRef
	seen := map[string]bool{}
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		ref := submodelRef{alias: item, id: item}
		if alias, id, ok := strings.Cut(item, "="); ok {
			ref = submodelRef{alias: strings.TrimSpace(alias), id: strings.TrimSpace(id)}
		}
		if ref.alias == "" || ref.id == "" {
			return nil, errors.Newf(errors.ErrorTypeConfig, "invalid submodel %q", item)
		}
		if seen[ref.alias] {
			return nil, errors.Newf(errors.ErrorTypeConfig, "submodel %q listed twice", ref.alias)
		}
		seen[ref.alias] = true
		refs = append(refs, ref)
	}
	return refs, nil
}

// Driver is the AAS repository driver
type Driver struct {
	host      base.Host[Submodel]
	repo      *repository
	submodels []submodelRef
	ids       map[string]string

	mu   sync.Mutex
	last map[string][]byte
}

var (
	_ base.Driver[Submodel] = (*Driver)(nil)
	_ base.ModelDriver      = (*Driver)(nil)
	_ base.Pinger           = (*Driver)(nil)
)

// NewDriver creates an AAS driver
func NewDriver() *Driver {
	return &Driver{}
}

func (d *Driver) Open(_ context.Context, host base.Host[Submodel]) error {
	refs, err := parseSubmodels(host.Parameter().SpecificStringSetting(SettingSubmodels, ""))
	if err != nil {
		return err
	}
	repo, err := newRepository(host.Parameter(), host.Logger())
	if err != nil {
		return err
	}
	d.host = host
	d.repo = repo
	d.submodels = refs
	d.ids = make(map[string]string, len(refs))
	for _, r := range refs {
		d.ids[r.alias] = r.id
	}
	d.mu.Lock()
	d.last = make(map[string][]byte)
	d.mu.Unlock()
	host.Logger().Info("submodel repository configured",
		zap.String("url", BaseURL(host.Parameter())),
		zap.Int("submodels", len(refs)))
	return nil
}

func (d *Driver) Close(context.Context) error {
	if d.repo == nil {
		return nil
	}
	err := d.repo.close()
	d.repo = nil
	return err
}

func (d *Driver) Ping(ctx context.Context) error {
	if d.repo == nil {
		return errors.New(errors.ErrorTypeConnection, "not connected")
	}
	return d.repo.ping(ctx)
}

// resolve maps a submodel alias to its id; unknown names are ids
func (d *Driver) resolve(name string) string {
	if id, ok := d.ids[name]; ok {
		return id
	}
	return name
}

// Read fetches every configured submodel; unchanged values are not new
func (d *Driver) Read(ctx context.Context) error {
	for _, ref := range d.submodels {
		value, err := d.repo.submodelValue(ctx, ref.id)
		if err != nil {
			return errors.NewIO(err, "reading submodel "+ref.alias)
		}
		d.mu.Lock()
		prev, seen := d.last[ref.alias]
		d.last[ref.alias] = value
		d.mu.Unlock()
		sm := Submodel{Alias: ref.alias, ID: ref.id, Value: value}
		if err := d.host.Received(ctx, ref.alias, sm, !seen || !bytes.Equal(prev, value)); err != nil {
			return err
		}
	}
	return nil
}

// Write patches the submodel value named by the alias, id or channel
func (d *Driver) Write(ctx context.Context, channel string, data Submodel) error {
	id := data.ID
	if id == "" {
		name := data.Alias
		if name == "" {
			name = channel
		}
		id = d.resolve(name)
	}
	if id == "" {
		return errors.New(errors.ErrorTypeValidation, "value names no submodel")
	}
	return d.repo.patchSubmodelValue(ctx, id, data.Value)
}

func (d *Driver) ModelBackend() model.Backend { return &backend{d: d} }
func (d *Driver) ModelOptions() model.Options { return model.Options{} }

type backend struct {
	d *Driver
}

var _ model.Caller = (*backend)(nil)

func (b *backend) Separator() string    { return Separator }
func (b *backend) TopInstances() string { return "" }

func (b *backend) split(path model.Path) (string, []string, error) {
	if len(path) < 2 {
		return "", nil, errors.Newf(errors.ErrorTypeValidation, "%s names no submodel element", path.Join(Separator))
	}
	return b.d.resolve(path[0]), path[1:], nil
}

// Read returns the element value. Servers answering with {"<idShort>": v}
// are unwrapped to v.
func (b *backend) Read(ctx context.Context, path model.Path) (interface{}, error) {
	id, elements, err := b.split(path)
	if err != nil {
		return nil, err
	}
	raw, err := b.d.repo.elementValue(ctx, id, elements)
	if err != nil {
		return nil, err
	}
	v, err := translator.DecodeJSONValue(raw)
	if err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]interface{}); ok && len(m) == 1 {
		if inner, ok := m[path.Last()]; ok {
			return inner, nil
		}
	}
	return v, nil
}

func (b *backend) Write(ctx context.Context, path model.Path, value interface{}) error {
	id, elements, err := b.split(path)
	if err != nil {
		return err
	}
	return b.d.repo.patchElementValue(ctx, id, elements, value)
}

func (b *backend) Call(ctx context.Context, path model.Path, args []interface{}) (interface{}, error) {
	id, elements, err := b.split(path)
	if err != nil {
		return nil, err
	}
	return b.d.repo.invoke(ctx, id, elements, args)
}

// SubmodelTranslator translates submodel values to records. The alias is
// the record channel; the value-only JSON object becomes the fields.
func SubmodelTranslator(source string) core.TypeTranslator[Submodel, *models.Record] {
	js := translator.NewJSONRecord(source)
	return translator.NewFunc(
		func(sm Submodel) (*models.Record, error) {
			rec, err := js.From(sm.Value)
			if err != nil {
				return nil, err
			}
			rec.Channel = sm.Alias
			return rec, nil
		},
		func(rec *models.Record) (Submodel, error) {
			value, err := js.To(rec)
			if err != nil {
				return Submodel{}, err
			}
			return Submodel{Alias: rec.Channel, Value: value}, nil
		},
	)
}

// New creates an AAS connector
func New(cfg registry.FactoryConfig) (*base.Connector[Submodel, *models.Record], error) {
	adapter := core.NewAdapter[Submodel, *models.Record](SubmodelTranslator(cfg.Name))
	return base.NewConnector[Submodel, *models.Record](NewDriver(), Capabilities,
		[]core.ProtocolAdapter[Submodel, *models.Record]{adapter},
		cfg.BaseOptions(Type)...)
}

// Info describes the binding
func Info() registry.ConnectorInfo {
	return registry.ConnectorInfo{
		Type:             Type,
		Description:      "asset administration shell submodel repositories",
		Capabilities:     Capabilities,
		OptionalSettings: Capabilities.SpecificSettings,
	}
}

// Register registers the binding
func Register(r *registry.Registry) error {
	return r.Register(Info(), func(cfg registry.FactoryConfig) (registry.Connector, error) {
		c, err := New(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
