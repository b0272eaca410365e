// Package translator provides TypeTranslator implementations that bind
// native protocol values to platform values.
package translator

import (
	"reflect"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
)

// Func is a TypeTranslator built from two conversion functions. A nil
// direction reports a translation error when used.
type Func[N, P any] struct {
	from func(N) (P, error)
	to   func(P) (N, error)
}

// NewFunc creates a translator from the two conversion directions
func NewFunc[N, P any](from func(N) (P, error), to func(P) (N, error)) *Func[N, P] {
	return &Func[N, P]{from: from, to: to}
}

func (f *Func[N, P]) SourceType() reflect.Type { return reflect.TypeOf((*N)(nil)).Elem() }
func (f *Func[N, P]) TargetType() reflect.Type { return reflect.TypeOf((*P)(nil)).Elem() }

// From converts a native value into a platform value
func (f *Func[N, P]) From(native N) (P, error) {
	if f.from == nil {
		var zero P
		return zero, unsupported[N, P]("from")
	}
	return f.from(native)
}

// To converts a platform value into a native value
func (f *Func[N, P]) To(platform P) (N, error) {
	if f.to == nil {
		var zero N
		return zero, unsupported[N, P]("to")
	}
	return f.to(platform)
}

// Identity passes values through unchanged
type Identity[T any] struct{}

func (Identity[T]) SourceType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
func (Identity[T]) TargetType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
func (Identity[T]) From(v T) (T, error)      { return v, nil }
func (Identity[T]) To(v T) (T, error)        { return v, nil }

// Bytes translates between raw bytes and strings
type Bytes struct{}

func (Bytes) SourceType() reflect.Type      { return reflect.TypeOf((*[]byte)(nil)).Elem() }
func (Bytes) TargetType() reflect.Type      { return reflect.TypeOf((*string)(nil)).Elem() }
func (Bytes) From(b []byte) (string, error) { return string(b), nil }
func (Bytes) To(s string) ([]byte, error)   { return []byte(s), nil }

// Reverse swaps the directions of a translator
type Reverse[N, P any] struct {
	inner core.TypeTranslator[P, N]
}

// NewReverse wraps t so that its target becomes the source
func NewReverse[N, P any](t core.TypeTranslator[P, N]) *Reverse[N, P] {
	return &Reverse[N, P]{inner: t}
}

func (r *Reverse[N, P]) SourceType() reflect.Type { return r.inner.TargetType() }
func (r *Reverse[N, P]) TargetType() reflect.Type { return r.inner.SourceType() }
func (r *Reverse[N, P]) From(native N) (P, error) { return r.inner.To(native) }
func (r *Reverse[N, P]) To(platform P) (N, error) { return r.inner.From(platform) }

var (
	_ core.TypeTranslator[int, int]       = Identity[int]{}
	_ core.TypeTranslator[[]byte, string] = Bytes{}
	_ core.TypeTranslator[string, []byte] = (*Reverse[string, []byte])(nil)
)

func unsupported[N, P any](direction string) error {
	return errors.NewTranslation(
		errors.Newf(errors.ErrorTypeCapability, "translation direction %q not provided", direction),
		reflect.TypeOf((*N)(nil)).Elem().String(), reflect.TypeOf((*P)(nil)).Elem().String())
}
