// Package json wraps goccy/go-json with pooled buffers and the decoding
// defaults connectors rely on: numbers stay json.Number so that integers
// are not silently widened to float64.
package json

import (
	"bytes"
	"io"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/machconn/pkg/pool"
)

// Number is a JSON number literal kept as text
type Number = gojson.Number

// RawMessage is an encoded JSON value passed through unchanged
type RawMessage = gojson.RawMessage

// GetBuffer gets an empty pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	return pool.Buffers.Get()
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	pool.Buffers.Put(buf)
}

// Marshal encodes v without HTML escaping and without a trailing newline
func Marshal(v interface{}) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

// MarshalIndent is Marshal with indentation
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes data into v keeping numbers as Number
func Unmarshal(data []byte, v interface{}) error {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// NewDecoder creates a decoder reading numbers as Number
func NewDecoder(r io.Reader) *gojson.Decoder {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// StreamingEncoder writes values either as a JSON array or as JSON lines
type StreamingEncoder struct {
	writer      io.Writer
	encoder     *gojson.Encoder
	firstRecord bool
	isArray     bool
	pretty      bool
}

// NewStreamingEncoder creates a new streaming encoder
func NewStreamingEncoder(w io.Writer, isArray bool) *StreamingEncoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)

	se := &StreamingEncoder{
		writer:      w,
		encoder:     enc,
		firstRecord: true,
		isArray:     isArray,
	}
	return se
}

// SetPretty enables pretty printing
func (se *StreamingEncoder) SetPretty(pretty bool, indent string) {
	se.pretty = pretty
	if pretty {
		se.encoder.SetIndent("", indent)
	}
}

// Encode encodes a single value
func (se *StreamingEncoder) Encode(v interface{}) error {
	if se.isArray {
		sep := []byte{','}
		if se.firstRecord {
			sep = []byte{'['}
		}
		if _, err := se.writer.Write(sep); err != nil {
			return err
		}
		se.firstRecord = false
	}
	return se.encoder.Encode(v)
}

// Close finalizes the encoding
func (se *StreamingEncoder) Close() error {
	if !se.isArray {
		return nil
	}
	closing := "]\n"
	if se.firstRecord {
		closing = "[]\n"
	}
	_, err := io.WriteString(se.writer, closing)
	return err
}
