package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"

	"github.com/ajitpratap0/machconn/pkg/errors"
)

// StructCodec is the translation strategy of one composite shape: a size
// calculator, a reader, a writer and an instance creator.
type StructCodec struct {
	Tag  string
	Type reflect.Type
	// Size returns the encoded size of value; <= 0 means variable size
	Size   func(value interface{}) int
	Read   func(data []byte) (interface{}, error)
	Write  func(value interface{}) ([]byte, error)
	Create func() interface{}
}

// StructRegistry maps stable type tags to struct codecs. It is populated at
// startup and consulted on every composite transfer.
type StructRegistry struct {
	mu     sync.RWMutex
	byTag  map[string]*StructCodec
	byType map[reflect.Type]*StructCodec
}

// NewStructRegistry creates an empty registry
func NewStructRegistry() *StructRegistry {
	return &StructRegistry{
		byTag:  make(map[string]*StructCodec),
		byType: make(map[reflect.Type]*StructCodec),
	}
}

// Register adds a codec
func (r *StructRegistry) Register(codec StructCodec) error {
	if codec.Tag == "" {
		return errors.New(errors.ErrorTypeValidation, "struct codec tag must not be empty")
	}
	if codec.Size == nil || codec.Read == nil || codec.Write == nil || codec.Create == nil {
		return errors.Newf(errors.ErrorTypeValidation, "struct codec %s is incomplete", codec.Tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byTag[codec.Tag]; exists {
		return errors.Newf(errors.ErrorTypeValidation, "struct type %s already registered", codec.Tag)
	}
	c := codec
	r.byTag[c.Tag] = &c
	if c.Type != nil {
		r.byType[c.Type] = &c
	}
	return nil
}

// Lookup returns the codec registered under tag
func (r *StructRegistry) Lookup(tag string) (*StructCodec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byTag[tag]
	return c, ok
}

// LookupType returns the codec registered for a Go type
func (r *StructRegistry) LookupType(t reflect.Type) (*StructCodec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byType[t]
	return c, ok
}

// Tags returns the registered tags
func (r *StructRegistry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.byTag))
	for t := range r.byTag {
		tags = append(tags, t)
	}
	return tags
}

// ByteOrder is the encoding used by fixed-size codecs
var ByteOrder binary.ByteOrder = binary.LittleEndian

// FixedCodec builds a codec for a fixed-size type T using encoding/binary.
// It is also the fallback used for unregistered fixed-size values.
func FixedCodec[T any](tag string) (StructCodec, error) {
	var zero T
	size := binary.Size(zero)
	if size <= 0 {
		return StructCodec{}, errors.Newf(errors.ErrorTypeValidation, "%T has no fixed binary size", zero)
	}
	return StructCodec{
		Tag:  tag,
		Type: reflect.TypeOf(zero),
		Size: func(interface{}) int { return size },
		Read: func(data []byte) (interface{}, error) {
			var v T
			if err := binary.Read(bytes.NewReader(data), ByteOrder, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		Write: func(value interface{}) ([]byte, error) {
			v, ok := value.(T)
			if !ok {
				return nil, fmt.Errorf("expected %T, got %T", zero, value)
			}
			return encodeFixed(v)
		},
		Create: func() interface{} { return new(T) },
	}, nil
}

// RegisterFixed registers FixedCodec[T] under tag
func RegisterFixed[T any](r *StructRegistry, tag string) error {
	c, err := FixedCodec[T](tag)
	if err != nil {
		return err
	}
	return r.Register(c)
}

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~float32 | ~float64
}

// ArrayCodec builds a variable-length codec for slices of a numeric type
func ArrayCodec[T number](tag string) StructCodec {
	var elem T
	elemSize := binary.Size(elem)
	return StructCodec{
		Tag:  tag,
		Type: reflect.TypeOf([]T(nil)),
		Size: func(value interface{}) int {
			if s, ok := value.([]T); ok {
				return len(s) * elemSize
			}
			return 0
		},
		Read: func(data []byte) (interface{}, error) {
			if len(data)%elemSize != 0 {
				return nil, fmt.Errorf("%d bytes is not a multiple of element size %d", len(data), elemSize)
			}
			out := make([]T, len(data)/elemSize)
			if err := binary.Read(bytes.NewReader(data), ByteOrder, out); err != nil {
				return nil, err
			}
			return out, nil
		},
		Write: func(value interface{}) ([]byte, error) {
			s, ok := value.([]T)
			if !ok {
				return nil, fmt.Errorf("expected []%T, got %T", elem, value)
			}
			return encodeFixed(s)
		},
		Create: func() interface{} { return []T{} },
	}
}

// Array type tags registered by RegisterArrayTypes
const (
	TagDoubleArray = "double[]"
	TagFloatArray  = "float[]"
	TagLongArray   = "long[]"
	TagIntArray    = "int[]"
	TagShortArray  = "short[]"
	TagByteArray   = "byte[]"
)

// RegisterArrayTypes registers codecs for the primitive array types
func RegisterArrayTypes(r *StructRegistry) error {
	codecs := []StructCodec{
		ArrayCodec[float64](TagDoubleArray),
		ArrayCodec[float32](TagFloatArray),
		ArrayCodec[int64](TagLongArray),
		ArrayCodec[int32](TagIntArray),
		ArrayCodec[int16](TagShortArray),
		ArrayCodec[int8](TagByteArray),
	}
	for _, c := range codecs {
		if _, exists := r.Lookup(c.Tag); exists {
			continue
		}
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func encodeFixed(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, ByteOrder, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
