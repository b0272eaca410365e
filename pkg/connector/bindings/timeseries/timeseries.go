// Package timeseries binds machine histories kept in SQL time series tables
// in long format: one row per time, measurement and field with a numeric
// value, plus optional tag columns. PostgreSQL (and TimescaleDB) is reached
// through pgx, MySQL through go-sql-driver.
//
// Settings:
//
//	DIALECT      postgres (default) or mysql
//	TABLE        table name, optionally schema qualified
//	MEASUREMENT  restricts reads to one measurement and is the default
//	             measurement of written points
//	TAGS         comma separated tag columns
//	BATCH        rows buffered before a write is flushed (default 100)
//	LOOKBACK     how far before connecting the first poll reaches (default 0s)
//
// Polls deliver the rows newer than the last delivered one. Trigger queries
// replay a time window or a raw SQL statement with the recorded pacing.
// Rows sharing a timestamp are delivered as one point.
package timeseries

import (
	"context"
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
	"go.uber.org/zap"
)

// Type is the registry name of the binding
const Type = "timeseries"

const (
	SettingDialect     = "DIALECT"
	SettingTable       = "TABLE"
	SettingMeasurement = "MEASUREMENT"
	SettingTags        = "TAGS"
	SettingBatch       = "BATCH"
	SettingLookback    = "LOOKBACK"
)

// DefaultBatch is the default number of buffered rows
const DefaultBatch = 100

// Separator separates measurement and field in qualified names
const Separator = "_"

// Capabilities of the binding
var Capabilities = core.Capabilities{
	HasModel:         true,
	SpecificSettings: []string{SettingDialect, SettingTable, SettingMeasurement, SettingTags, SettingBatch, SettingLookback, SettingDatabase},
	TriggerQueries:   []core.QueryKind{core.QueryKindString, core.QueryKindTimeseries},
}

// Point is the native value of the binding: the fields of one measurement
// recorded at one time
type Point struct {
	Measurement string
	Time        time.Time
	Tags        map[string]string
	Fields      map[string]interface{}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// PointTranslator translates points to records. Tags become string fields;
// on the way back the fields named in tags are taken as tags and the
// record channel as measurement.
func PointTranslator(source string, tags []string) core.TypeTranslator[Point, *models.Record] {
	isTag := make(map[string]bool, len(tags))
	for _, t := range tags {
		isTag[t] = true
	}
	return translator.NewFunc(
		func(p Point) (*models.Record, error) {
			rec := models.NewRecord(source, p.Fields)
			for k, v := range p.Tags {
				rec.Set(k, v)
			}
			rec.Channel = p.Measurement
			rec.Timestamp = p.Time
			return rec, nil
		},
		func(rec *models.Record) (Point, error) {
			p := Point{
				Measurement: rec.Channel,
				Time:        rec.Timestamp,
				Tags:        make(map[string]string),
				Fields:      make(map[string]interface{}),
			}
			for k, v := range rec.Fields {
				if isTag[k] {
					p.Tags[k] = models.ToString(v)
				} else {
					p.Fields[k] = v
				}
			}
			return p, nil
		},
	)
}

// Driver is the time series driver
type Driver struct {
	open Opener

	host   base.Host[Point]
	store  Store
	schema schema
	batch  int

	mu      sync.Mutex
	last    time.Time
	pending [][]interface{}
}

var (
	_ base.Driver[Point]      = (*Driver)(nil)
	_ base.QueryDriver[Point] = (*Driver)(nil)
	_ base.ModelDriver        = (*Driver)(nil)
	_ base.Pinger             = (*Driver)(nil)
)

// NewDriver creates a driver opening stores with open
func NewDriver(open Opener) *Driver {
	return &Driver{open: open}
}

func schemaOf(params *core.ConnectorParameter) (schema, error) {
	dialect, err := ParseDialect(params.SpecificStringSetting(SettingDialect, ""))
	if err != nil {
		return schema{}, err
	}
	s := schema{
		dialect:     dialect,
		table:       params.SpecificStringSetting(SettingTable, ""),
		measurement: params.SpecificStringSetting(SettingMeasurement, ""),
		tags:        splitList(params.SpecificStringSetting(SettingTags, "")),
	}
	if s.table == "" {
		return schema{}, errors.New(errors.ErrorTypeConfig, SettingTable+" is required")
	}
	if err := validIdentifiers(append([]string{s.table}, s.tags...)...); err != nil {
		return schema{}, err
	}
	return s, nil
}

func (d *Driver) Open(ctx context.Context, host base.Host[Point]) error {
	params := host.Parameter()
	s, err := schemaOf(params)
	if err != nil {
		return err
	}
	lookback, err := time.ParseDuration(params.SpecificStringSetting(SettingLookback, "0s"))
	if err != nil || lookback < 0 {
		return errors.Newf(errors.ErrorTypeConfig, "invalid %s %q", SettingLookback, params.SpecificStringSetting(SettingLookback, ""))
	}
	batch := params.SpecificIntSetting(SettingBatch, DefaultBatch)
	if batch < 1 {
		batch = 1
	}

	store, err := d.open(ctx, s.dialect, params)
	if err != nil {
		return err
	}
	d.host = host
	d.store = store
	d.schema = s
	d.batch = batch
	d.mu.Lock()
	d.last = time.Now().Add(-lookback)
	d.pending = nil
	d.mu.Unlock()

	host.Logger().Info("time series store connected",
		zap.String("dialect", s.dialect.Name),
		zap.String("table", s.table),
		zap.String("measurement", s.measurement),
		zap.Strings("tags", s.tags),
		zap.Int("batch", batch))
	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	err := d.flush(ctx)
	d.store.Close()
	d.store = nil
	return err
}

func (d *Driver) Ping(ctx context.Context) error {
	if d.store == nil {
		return errors.New(errors.ErrorTypeConnection, "not connected")
	}
	return d.store.Ping(ctx)
}

// Read delivers the points recorded after the last delivered one
func (d *Driver) Read(ctx context.Context) error {
	d.mu.Lock()
	since := d.last
	d.mu.Unlock()

	query, args := d.schema.sinceQuery(since)
	g := &grouper{s: d.schema, emit: func(p Point) error {
		if err := d.host.Received(ctx, p.Measurement, p, true); err != nil {
			return err
		}
		d.mu.Lock()
		if p.Time.After(d.last) {
			d.last = p.Time
		}
		d.mu.Unlock()
		return nil
	}}
	if err := d.store.Query(ctx, query, args, g.add); err != nil {
		return errors.NewIO(err, "polling "+d.schema.table)
	}
	return g.flush()
}

// Query replays a time window or the rows of a raw SQL statement
func (d *Driver) Query(ctx context.Context, query core.TriggerQuery, pacer *base.Pacer[Point]) error {
	var stmt string
	var args []interface{}
	switch q := query.(type) {
	case *core.SimpleTimeseriesQuery:
		stmt, args = d.schema.windowQuery(q.Resolve(time.Now()))
	case *core.StringTriggerQuery:
		stmt = q.Query()
	default:
		return errors.Newf(errors.ErrorTypeCapability, "time series connector cannot answer %s queries", query.Kind())
	}
	g := &grouper{s: d.schema, emit: func(p Point) error {
		return pacer.Deliver(ctx, p.Measurement, p, p.Time)
	}}
	if err := d.store.Query(ctx, stmt, args, g.add); err != nil {
		return err
	}
	return g.flush()
}

// Write buffers the point; a full batch is flushed
func (d *Driver) Write(ctx context.Context, channel string, data Point) error {
	if data.Measurement == "" {
		data.Measurement = channel
	}
	rows, err := d.schema.rows(data)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.pending = append(d.pending, rows...)
	full := len(d.pending) >= d.batch
	d.mu.Unlock()
	if full {
		return d.flush(ctx)
	}
	return nil
}

func (d *Driver) flush(ctx context.Context) error {
	d.mu.Lock()
	rows := d.pending
	d.pending = nil
	d.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}
	if err := d.store.Insert(ctx, d.schema.table, d.schema.columns(), rows); err != nil {
		return errors.NewIO(err, "writing "+d.schema.table)
	}
	d.host.Logger().Debug("rows flushed", zap.Int("rows", len(rows)))
	return nil
}

func (d *Driver) ModelBackend() model.Backend {
	return &backend{d: d}
}

func (d *Driver) ModelOptions() model.Options {
	return model.Options{}
}

// backend exposes the newest value of every measurement field as the
// element <measurement>_<field>. A single name addresses a field of the
// configured measurement.
type backend struct {
	d *Driver
}

func (b *backend) Separator() string    { return Separator }
func (b *backend) TopInstances() string { return b.d.schema.measurement }

func (b *backend) locate(path model.Path) (string, string, error) {
	switch {
	case len(path) == 0:
		return "", "", errors.New(errors.ErrorTypeValidation, "empty element name")
	case len(path) == 1:
		if b.d.schema.measurement == "" {
			return "", "", errors.Newf(errors.ErrorTypeValidation, "element %s names no measurement", path[0])
		}
		return b.d.schema.measurement, path[0], nil
	}
	return path[0], strings.Join(path[1:], Separator), nil
}

func (b *backend) Read(ctx context.Context, path model.Path) (interface{}, error) {
	measurement, field, err := b.locate(path)
	if err != nil {
		return nil, err
	}
	query, args := b.d.schema.latestQuery(measurement, field)
	var value interface{}
	found := false
	err = b.d.store.Query(ctx, query, args, func(row map[string]interface{}) error {
		value, found = normalize(row[ColumnValue]), true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "no value recorded for %s", path.Join(Separator))
	}
	return value, nil
}

// Write records value now and flushes at once
func (b *backend) Write(ctx context.Context, path model.Path, value interface{}) error {
	measurement, field, err := b.locate(path)
	if err != nil {
		return err
	}
	rows, err := b.d.schema.rows(Point{
		Measurement: measurement,
		Time:        time.Now(),
		Fields:      map[string]interface{}{field: value},
	})
	if err != nil {
		return err
	}
	return b.d.store.Insert(ctx, b.d.schema.table, b.d.schema.columns(), rows)
}

// New creates a time series connector opening stores with open
func New(cfg registry.FactoryConfig, open Opener) (*base.Connector[Point, *models.Record], error) {
	tags := splitList(cfg.Parameter.SpecificStringSetting(SettingTags, ""))
	adapter := core.NewAdapter[Point, *models.Record](PointTranslator(cfg.Name, tags))
	return base.NewConnector[Point, *models.Record](NewDriver(open), Capabilities,
		[]core.ProtocolAdapter[Point, *models.Record]{adapter},
		cfg.BaseOptions(Type)...)
}

// Info describes the binding
func Info() registry.ConnectorInfo {
	return registry.ConnectorInfo{
		Type:             Type,
		Description:      "time series tables in PostgreSQL, TimescaleDB or MySQL",
		Capabilities:     Capabilities,
		RequiredSettings: []string{SettingTable},
		OptionalSettings: []string{SettingDialect, SettingMeasurement, SettingTags, SettingBatch, SettingLookback, SettingDatabase},
	}
}

// Register registers the binding; a nil opener uses OpenStore
func Register(r *registry.Registry, open Opener) error {
	if open == nil {
		open = OpenStore
	}
	return r.Register(Info(), func(cfg registry.FactoryConfig) (registry.Connector, error) {
		c, err := New(cfg, open)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
