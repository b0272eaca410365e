package translator

import (
	"reflect"
	"time"

	"github.com/ajitpratap0/machconn/pkg/errors"
	jsonpool "github.com/ajitpratap0/machconn/pkg/json"
	"github.com/ajitpratap0/machconn/pkg/models"
)

// JSONRecord translates JSON documents to records and back. Integral
// numbers become int64, other numbers float64.
type JSONRecord struct {
	source         string
	timestampField string
	timeLayout     string
}

// JSONOption configures a JSONRecord translator
type JSONOption func(*JSONRecord)

// WithTimestampField takes the record timestamp from field, parsed with
// layout. Numeric values are read as unix milliseconds.
func WithTimestampField(field, layout string) JSONOption {
	return func(j *JSONRecord) {
		j.timestampField = field
		j.timeLayout = layout
	}
}

// NewJSONRecord creates a JSON translator stamping records with source
func NewJSONRecord(source string, opts ...JSONOption) *JSONRecord {
	j := &JSONRecord{source: source, timeLayout: time.RFC3339Nano}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *JSONRecord) SourceType() reflect.Type { return reflect.TypeOf((*[]byte)(nil)).Elem() }
func (j *JSONRecord) TargetType() reflect.Type { return reflect.TypeOf((**models.Record)(nil)).Elem() }

// From decodes a JSON object into a record
func (j *JSONRecord) From(native []byte) (*models.Record, error) {
	var fields map[string]interface{}
	if err := jsonpool.Unmarshal(native, &fields); err != nil {
		return nil, errors.NewTranslation(err, "[]byte", "*models.Record")
	}
	for k, v := range fields {
		fields[k] = normalizeJSON(v)
	}
	rec := models.NewRecord(j.source, fields)
	if j.timestampField != "" {
		if ts, ok := j.timestamp(rec); ok {
			rec.Timestamp = ts
		}
	}
	return rec, nil
}

// To encodes the record fields as a JSON object
func (j *JSONRecord) To(platform *models.Record) ([]byte, error) {
	if platform == nil {
		return nil, errors.NewTranslation(nil, "*models.Record(nil)", "[]byte")
	}
	fields := platform.Fields
	if j.timestampField != "" && !platform.Has(j.timestampField) {
		fields = platform.Clone().Fields
		fields[j.timestampField] = platform.Timestamp.Format(j.timeLayout)
	}
	data, err := jsonpool.Marshal(fields)
	if err != nil {
		return nil, errors.NewTranslation(err, "*models.Record", "[]byte")
	}
	return data, nil
}

func (j *JSONRecord) timestamp(rec *models.Record) (time.Time, bool) {
	v, ok := rec.Get(j.timestampField)
	if !ok {
		return time.Time{}, false
	}
	switch ts := v.(type) {
	case string:
		t, err := time.Parse(j.timeLayout, ts)
		return t, err == nil
	case int64:
		return time.UnixMilli(ts), true
	case float64:
		return time.UnixMilli(int64(ts)), true
	}
	return time.Time{}, false
}

// DecodeJSONValue decodes any JSON value with the number rules of JSONRecord
func DecodeJSONValue(data []byte) (interface{}, error) {
	var v interface{}
	if err := jsonpool.Unmarshal(data, &v); err != nil {
		return nil, errors.NewTranslation(err, "[]byte", "interface{}")
	}
	return normalizeJSON(v), nil
}

func normalizeJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case jsonpool.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		for k, inner := range t {
			t[k] = normalizeJSON(inner)
		}
		return t
	case []interface{}:
		for i, inner := range t {
			t[i] = normalizeJSON(inner)
		}
		return t
	default:
		return v
	}
}
