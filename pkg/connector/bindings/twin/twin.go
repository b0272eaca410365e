// Package twin binds digital twins kept as MongoDB documents, one document
// per asset. The model is hierarchical with "/" separated names: the first
// level is the asset id, the levels below address (nested) document
// fields. Calls are recorded as requests in an operations collection and
// Monitor follows the collection's change stream.
//
// Settings:
//
//	DATABASE     database name (default "machconn")
//	COLLECTION   asset collection (default "assets")
//	OPERATIONS   operation request collection (default "operations")
//	ASSETS       comma separated asset ids delivered by polls; all when empty
//	AUTH_SOURCE  authentication database (default "admin")
package twin

import (
	"context"
	"reflect"
	"sort"
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
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Type is the registry name of the binding
const Type = "twin"

const (
	SettingDatabase   = "DATABASE"
	SettingCollection = "COLLECTION"
	SettingOperations = "OPERATIONS"
	SettingAssets     = "ASSETS"
	SettingAuthSource = "AUTH_SOURCE"
)

const (
	DefaultDatabase   = "machconn"
	DefaultCollection = "assets"
	DefaultOperations = "operations"
)

// Separator separates asset and field levels
const Separator = "/"

// Capabilities of the binding
var Capabilities = core.Capabilities{
	HasModel:                   true,
	SupportsModelCalls:         true,
	SupportsHierarchicalQNames: true,
	SupportsEvents:             true,
	SpecificSettings:           []string{SettingDatabase, SettingCollection, SettingOperations, SettingAssets, SettingAuthSource},
}

// Lookup returns the value of a dotted field path in doc
func Lookup(doc map[string]interface{}, field string) (interface{}, bool) {
	var cur interface{} = doc
	for _, name := range strings.Split(field, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[name]; !ok {
			return nil, false
		}
	}
	return Normalize(cur), true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]interface{}:
		return m, true
	case bson.D:
		return m.Map(), true
	}
	return nil, false
}

// Normalize converts BSON specific values into plain Go values: documents
// become maps, arrays slices, object ids hex strings and dates time.Time
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return normalizeMap(t)
	case map[string]interface{}:
		return normalizeMap(t)
	case bson.D:
		return normalizeMap(t.Map())
	case bson.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Decimal128:
		return t.String()
	}
	return v
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}

// fieldPath maps a model path to asset id and dotted field
func fieldPath(path model.Path) (string, string, error) {
	if len(path) < 2 {
		return "", "", errors.Newf(errors.ErrorTypeValidation, "element %s names no field", path.Join(Separator))
	}
	return path[0], strings.Join(path[1:], "."), nil
}

// DocumentTranslator translates asset documents to records. The _id is the
// record channel; the remaining fields are the record fields.
func DocumentTranslator(source string) core.TypeTranslator[bson.M, *models.Record] {
	return translator.NewFunc(
		func(doc bson.M) (*models.Record, error) {
			fields := normalizeMap(doc)
			id := models.ToString(fields["_id"])
			delete(fields, "_id")
			rec := models.NewRecord(source, fields)
			rec.Channel = id
			return rec, nil
		},
		func(rec *models.Record) (bson.M, error) {
			doc := bson.M{}
			for k, v := range rec.Fields {
				doc[k] = v
			}
			if _, ok := doc["_id"]; !ok && rec.Channel != "" {
				doc["_id"] = rec.Channel
			}
			return doc, nil
		},
	)
}

// Driver is the digital twin driver
type Driver struct {
	open Opener

	host   base.Host[bson.M]
	docs   Documents
	assets []string

	mu   sync.Mutex
	last map[string]bson.M
}

var (
	_ base.Driver[bson.M] = (*Driver)(nil)
	_ base.ModelDriver    = (*Driver)(nil)
	_ base.Pinger         = (*Driver)(nil)
)

// NewDriver creates a driver opening document stores with open
func NewDriver(open Opener) *Driver {
	return &Driver{open: open}
}

func (d *Driver) Open(ctx context.Context, host base.Host[bson.M]) error {
	docs, err := d.open(ctx, host.Parameter())
	if err != nil {
		return err
	}
	d.host = host
	d.docs = docs
	d.assets = nil
	for _, id := range strings.Split(host.Parameter().SpecificStringSetting(SettingAssets, ""), ",") {
		if id = strings.TrimSpace(id); id != "" {
			d.assets = append(d.assets, id)
		}
	}
	d.mu.Lock()
	d.last = make(map[string]bson.M)
	d.mu.Unlock()
	host.Logger().Info("twin store connected", zap.Strings("assets", d.assets))
	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	if d.docs == nil {
		return nil
	}
	err := d.docs.Close(ctx)
	d.docs = nil
	return err
}

func (d *Driver) Ping(ctx context.Context) error {
	if d.docs == nil {
		return errors.New(errors.ErrorTypeConnection, "not connected")
	}
	return d.docs.Ping(ctx)
}

// Read delivers the asset documents; unchanged documents are not new
func (d *Driver) Read(ctx context.Context) error {
	docs, err := d.docs.Find(ctx, d.assets)
	if err != nil {
		return errors.NewIO(err, "reading assets")
	}
	for _, doc := range docs {
		id := models.ToString(Normalize(doc["_id"]))
		d.mu.Lock()
		prev, seen := d.last[id]
		d.last[id] = doc
		d.mu.Unlock()
		isNew := !seen || !reflect.DeepEqual(prev, doc)
		if err := d.host.Received(ctx, id, doc, isNew); err != nil {
			return err
		}
	}
	return nil
}

// Write sets the document fields of the asset named by _id or channel
func (d *Driver) Write(ctx context.Context, channel string, data bson.M) error {
	fields := bson.M{}
	id := channel
	for k, v := range data {
		if k == "_id" {
			id = models.ToString(v)
			continue
		}
		fields[k] = v
	}
	if id == "" {
		return errors.New(errors.ErrorTypeValidation, "document names no asset")
	}
	if len(fields) == 0 {
		return nil
	}
	return d.docs.Upsert(ctx, id, fields)
}

func (d *Driver) ModelBackend() model.Backend { return &backend{d: d} }
func (d *Driver) ModelOptions() model.Options { return model.Options{} }

type backend struct {
	d *Driver
}

var (
	_ model.Caller    = (*backend)(nil)
	_ model.Monitorer = (*backend)(nil)
)

func (b *backend) Separator() string    { return Separator }
func (b *backend) TopInstances() string { return "" }

func (b *backend) Read(ctx context.Context, path model.Path) (interface{}, error) {
	id, field, err := fieldPath(path)
	if err != nil {
		return nil, err
	}
	return b.d.docs.Field(ctx, id, field)
}

func (b *backend) Write(ctx context.Context, path model.Path, value interface{}) error {
	id, field, err := fieldPath(path)
	if err != nil {
		return err
	}
	return b.d.docs.SetField(ctx, id, field, value)
}

// Call records an operation request and returns its id. The asset side
// picks requests up from the operations collection.
func (b *backend) Call(ctx context.Context, path model.Path, args []interface{}) (interface{}, error) {
	id, operation, err := fieldPath(path)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = []interface{}{}
	}
	return b.d.docs.InsertOperation(ctx, bson.M{
		"asset":       id,
		"operation":   operation,
		"args":        args,
		"status":      "pending",
		"requestedAt": time.Now().UTC(),
	})
}

// Monitor follows the change stream and notifies about changed fields at or
// below paths
func (b *backend) Monitor(_ context.Context, _ time.Duration, paths []model.Path, notify func(model.Path)) error {
	return b.watch(func(c Change) {
		for _, changed := range changedPaths(c) {
			for _, p := range paths {
				if isBelow(changed, p) || isBelow(p, changed) {
					notify(changed)
					break
				}
			}
		}
	})
}

// MonitorModelChanges notifies about assets being created or deleted
func (b *backend) MonitorModelChanges(_ context.Context, _ time.Duration, notify func(model.Path)) error {
	return b.watch(func(c Change) {
		if c.Op == "insert" || c.Op == "delete" {
			notify(model.Path{c.ID})
		}
	})
}

func (b *backend) watch(fn func(Change)) error {
	docs, host := b.d.docs, b.d.host
	ok := host.Go(func(ctx context.Context) {
		if err := docs.Watch(ctx, fn); err != nil && ctx.Err() == nil {
			host.Error("change stream failed", err)
		}
	})
	if !ok {
		return errors.New(errors.ErrorTypeConnection, "not connected")
	}
	return nil
}

// changedPaths returns the model paths touched by a change, sorted
func changedPaths(c Change) []model.Path {
	if len(c.Fields) == 0 {
		return []model.Path{{c.ID}}
	}
	fields := append([]string(nil), c.Fields...)
	sort.Strings(fields)
	out := make([]model.Path, 0, len(fields))
	for _, f := range fields {
		out = append(out, append(model.Path{c.ID}, strings.Split(f, ".")...))
	}
	return out
}

func isBelow(path, prefix model.Path) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

// New creates a twin connector opening stores with open
func New(cfg registry.FactoryConfig, open Opener) (*base.Connector[bson.M, *models.Record], error) {
	adapter := core.NewAdapter[bson.M, *models.Record](DocumentTranslator(cfg.Name))
	return base.NewConnector[bson.M, *models.Record](NewDriver(open), Capabilities,
		[]core.ProtocolAdapter[bson.M, *models.Record]{adapter},
		cfg.BaseOptions(Type)...)
}

// Info describes the binding
func Info() registry.ConnectorInfo {
	return registry.ConnectorInfo{
		Type:             Type,
		Description:      "digital twin documents in MongoDB",
		Capabilities:     Capabilities,
		OptionalSettings: Capabilities.SpecificSettings,
	}
}

// Register registers the binding; a nil opener uses OpenMongo
func Register(r *registry.Registry, open Opener) error {
	if open == nil {
		open = OpenMongo
	}
	return r.Register(Info(), func(cfg registry.FactoryConfig) (registry.Connector, error) {
		c, err := New(cfg, open)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
