package translator

import (
	"strconv"
	"testing"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncTranslator(t *testing.T) {
	tr := NewFunc(
		func(n int32) (string, error) { return strconv.Itoa(int(n)), nil },
		func(s string) (int32, error) {
			v, err := strconv.Atoi(s)
			return int32(v), err
		},
	)
	assert.Equal(t, "int32", tr.SourceType().String())
	assert.Equal(t, "string", tr.TargetType().String())

	p, err := tr.From(42)
	require.NoError(t, err)
	assert.Equal(t, "42", p)

	n, err := tr.To(p)
	require.NoError(t, err)
	assert.Equal(t, int32(42), n)
}

func TestFuncTranslatorMissingDirection(t *testing.T) {
	tr := NewFunc[int, string](func(n int) (string, error) { return strconv.Itoa(n), nil }, nil)
	_, err := tr.To("1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTranslation))
}

func TestIdentityAndBytes(t *testing.T) {
	var id core.TypeTranslator[string, string] = Identity[string]{}
	v, err := id.From("x")
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	s, err := Bytes{}.From([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", s)

	rev := NewReverse[string, []byte](Bytes{})
	b, err := rev.From("abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), b)
	assert.Equal(t, "string", rev.SourceType().String())
}

func TestTextPattern(t *testing.T) {
	tr, err := NewTextPattern("file", `^(?P<status>\w+): (?P<count>\d+)$`, "{status}: {count}")
	require.NoError(t, err)

	rec, err := tr.From("DONE: 5\n")
	require.NoError(t, err)
	assert.Equal(t, "file", rec.Source)
	assert.Equal(t, "DONE", rec.Fields["status"])
	assert.Equal(t, int64(5), rec.Fields["count"])

	line, err := tr.To(rec)
	require.NoError(t, err)
	assert.Equal(t, "DONE: 5", line)
}

func TestTextPatternErrors(t *testing.T) {
	_, err := NewTextPattern("file", `^\w+$`, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = NewTextPattern("file", `(?P<x`, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	tr, err := NewTextPattern("file", `^(?P<status>\w+)$`, "{status} {missing}")
	require.NoError(t, err)

	_, err = tr.From("not matching")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTranslation))

	_, err = tr.To(models.NewRecord("file", map[string]interface{}{"status": "OK"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot translate")
}

func TestJSONRecord(t *testing.T) {
	tr := NewJSONRecord("mqtt", WithTimestampField("ts", time.RFC3339))

	rec, err := tr.From([]byte(`{"machine":"press-1","count":3,"temp":21.5,"ts":"2024-01-02T03:04:05Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "press-1", rec.Fields["machine"])
	assert.Equal(t, int64(3), rec.Fields["count"])
	assert.Equal(t, 21.5, rec.Fields["temp"])
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), rec.Timestamp.UTC())

	data, err := tr.To(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"machine":"press-1","count":3,"temp":21.5,"ts":"2024-01-02T03:04:05Z"}`, string(data))

	again, err := tr.From(data)
	require.NoError(t, err)
	assert.Equal(t, rec.Fields, again.Fields)
}

func TestJSONRecordAddsTimestampOnWrite(t *testing.T) {
	tr := NewJSONRecord("mqtt", WithTimestampField("ts", time.RFC3339))
	rec := models.NewRecord("mqtt", map[string]interface{}{"v": 1})
	rec.Timestamp = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	data, err := tr.To(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1,"ts":"2024-05-06T07:08:09Z"}`, string(data))
	assert.False(t, rec.Has("ts"))
}

func TestJSONRecordInvalid(t *testing.T) {
	_, err := NewJSONRecord("x").From([]byte(`{`))
	assert.True(t, errors.IsType(err, errors.ErrorTypeTranslation))
}

const readingSchema = `{
	"type": "record",
	"name": "Reading",
	"fields": [
		{"name": "machine", "type": "string"},
		{"name": "count", "type": "long"},
		{"name": "temp", "type": "double"}
	]
}`

func TestAvroRecord(t *testing.T) {
	tr, err := NewAvroRecord("kafka", readingSchema)
	require.NoError(t, err)

	rec := models.NewRecord("kafka", map[string]interface{}{
		"machine": "press-1",
		"count":   int64(7),
		"temp":    19.25,
	})
	data, err := tr.To(rec)
	require.NoError(t, err)

	back, err := tr.From(data)
	require.NoError(t, err)
	assert.Equal(t, rec.Fields, back.Fields)
	assert.Contains(t, tr.Schema(), "Reading")
}

func TestAvroRecordErrors(t *testing.T) {
	_, err := NewAvroRecord("kafka", `{"type":"nope"}`)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	tr, err := NewAvroRecord("kafka", readingSchema)
	require.NoError(t, err)
	_, err = tr.To(models.NewRecord("kafka", map[string]interface{}{"machine": "x"}))
	assert.True(t, errors.IsType(err, errors.ErrorTypeTranslation))
}
