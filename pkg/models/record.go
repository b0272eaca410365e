// Package models provides the canonical platform data model that connectors
// translate native protocol values into.
//
// A Record is a flat set of named fields plus the metadata every connector can
// supply: the source connector, the logical channel the value arrived on and
// the time the value was produced. Field accessors coerce between the numeric
// kinds so that translators and callbacks do not need to know which Go type a
// protocol client handed back.
package models

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Record is the canonical platform value produced by input translators and
// consumed by output translators.
type Record struct {
	// Source is the name of the connector that produced the record
	Source string `json:"source,omitempty"`

	// Channel is the logical channel (topic, file, measurement) of the record
	Channel string `json:"channel,omitempty"`

	// Timestamp is the time the value was produced at the source
	Timestamp time.Time `json:"timestamp"`

	// Fields holds the record payload
	Fields map[string]interface{} `json:"fields"`
}

// NewRecord creates a record for the given source with a copy of data.
func NewRecord(source string, data map[string]interface{}) *Record {
	fields := make(map[string]interface{}, len(data))
	for k, v := range data {
		fields[k] = v
	}
	return &Record{
		Source:    source,
		Timestamp: time.Now(),
		Fields:    fields,
	}
}

// Set stores a field value
func (r *Record) Set(key string, value interface{}) {
	if r.Fields == nil {
		r.Fields = make(map[string]interface{})
	}
	r.Fields[key] = value
}

// Get returns a field value
func (r *Record) Get(key string) (interface{}, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[key]
	return v, ok
}

// Has reports whether the field is present
func (r *Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Keys returns the field names in sorted order
func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetString returns a field rendered as string
func (r *Record) GetString(key string) (string, bool) {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return "", false
	}
	return ToString(v), true
}

// GetInt64 returns a field as int64, converting from other numeric kinds and
// numeric strings.
func (r *Record) GetInt64(key string) (int64, error) {
	v, ok := r.Get(key)
	if !ok {
		return 0, fmt.Errorf("field %q not present", key)
	}
	return ToInt64(v)
}

// GetFloat64 returns a field as float64
func (r *Record) GetFloat64(key string) (float64, error) {
	v, ok := r.Get(key)
	if !ok {
		return 0, fmt.Errorf("field %q not present", key)
	}
	return ToFloat64(v)
}

// GetBool returns a field as bool
func (r *Record) GetBool(key string) (bool, error) {
	v, ok := r.Get(key)
	if !ok {
		return false, fmt.Errorf("field %q not present", key)
	}
	return ToBool(v)
}

// Clone returns a deep copy of the record fields map
func (r *Record) Clone() *Record {
	out := *r
	out.Fields = make(map[string]interface{}, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return &out
}

// ToString renders a value as text
func ToString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// ToInt64 converts numeric kinds and numeric strings to int64
func ToInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

// ToFloat64 converts numeric kinds and numeric strings to float64
func ToFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	default:
		i, err := ToInt64(v)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to float64", v)
		}
		return float64(i), nil
	}
}

// ToBool converts booleans, numbers and textual booleans to bool
func ToBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		i, err := ToInt64(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to bool", v)
		}
		return i != 0, nil
	}
}
