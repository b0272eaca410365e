package translator

import (
	"reflect"

	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/models"
	"github.com/linkedin/goavro/v2"
)

// AvroRecord translates single Avro binary encoded records to records and
// back using one record schema. Union values keep goavro's map form.
type AvroRecord struct {
	source string
	codec  *goavro.Codec
}

// NewAvroRecord compiles the Avro schema
func NewAvroRecord(source, schema string) (*AvroRecord, error) {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid avro schema")
	}
	return &AvroRecord{source: source, codec: codec}, nil
}

func (a *AvroRecord) SourceType() reflect.Type { return reflect.TypeOf((*[]byte)(nil)).Elem() }
func (a *AvroRecord) TargetType() reflect.Type { return reflect.TypeOf((**models.Record)(nil)).Elem() }

// From decodes one binary record
func (a *AvroRecord) From(native []byte) (*models.Record, error) {
	value, _, err := a.codec.NativeFromBinary(native)
	if err != nil {
		return nil, errors.NewTranslation(err, "avro", "*models.Record")
	}
	fields, ok := value.(map[string]interface{})
	if !ok {
		return nil, errors.NewTranslation(
			errors.Newf(errors.ErrorTypeValidation, "avro value is %T, not a record", value), "avro", "*models.Record")
	}
	return models.NewRecord(a.source, fields), nil
}

// To encodes the record fields with the schema
func (a *AvroRecord) To(platform *models.Record) ([]byte, error) {
	if platform == nil {
		return nil, errors.NewTranslation(nil, "*models.Record(nil)", "avro")
	}
	data, err := a.codec.BinaryFromNative(nil, platform.Fields)
	if err != nil {
		return nil, errors.NewTranslation(err, "*models.Record", "avro")
	}
	return data, nil
}

// Schema returns the canonical form of the schema
func (a *AvroRecord) Schema() string {
	return a.codec.CanonicalSchema()
}
