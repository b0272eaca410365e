package model

import (
	"context"
	"strings"
	"time"
)

// Path is an absolute element path below the model root
type Path []string

// Join renders the path with separator
func (p Path) Join(separator string) string {
	return strings.Join(p, separator)
}

// Child returns a new path with names appended
func (p Path) Child(names ...string) Path {
	out := make(Path, 0, len(p)+len(names))
	out = append(out, p...)
	return append(out, names...)
}

// Last returns the final element, empty for the root
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Parent returns the path without its last element
func (p Path) Parent() Path {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1]
}

// Split breaks a qualified name into its non-empty parts
func Split(qName, separator string) []string {
	if separator == "" {
		if qName == "" {
			return nil
		}
		return []string{qName}
	}
	parts := strings.Split(qName, separator)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinNames joins the non-empty names with separator
func JoinNames(separator string, names ...string) string {
	var b strings.Builder
	for _, n := range names {
		if n == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(separator)
		}
		b.WriteString(n)
	}
	return b.String()
}

// Kind is the primitive type requested by a typed access
type Kind int

const (
	KindAny Kind = iota
	KindInt
	KindLong
	KindShort
	KindByte
	KindFloat
	KindDouble
	KindString
	KindBoolean
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindShort:
		return "short"
	case KindByte:
		return "byte"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	default:
		return "any"
	}
}

// ParseKind parses a kind name as returned by Kind.String
func ParseKind(name string) (Kind, bool) {
	for k := KindAny; k <= KindBoolean; k++ {
		if k.String() == strings.ToLower(name) {
			return k, true
		}
	}
	return KindAny, false
}

// KindOf returns the kind of a Go value, KindAny for non-primitives
func KindOf(v interface{}) Kind {
	switch v.(type) {
	case int32, int, uint16:
		return KindInt
	case int64, uint32, uint64:
		return KindLong
	case int16, uint8:
		return KindShort
	case int8:
		return KindByte
	case float32:
		return KindFloat
	case float64:
		return KindDouble
	case string:
		return KindString
	case bool:
		return KindBoolean
	default:
		return KindAny
	}
}

// Backend is the binding side of a model access session. Paths passed in
// are absolute. A backend reports unknown elements with an error of type
// errors.ErrorTypeNotFound.
type Backend interface {
	// Separator returns the qualified name separator of the binding
	Separator() string
	// TopInstances returns the name of the top-level instance container
	TopInstances() string
	Read(ctx context.Context, path Path) (interface{}, error)
	Write(ctx context.Context, path Path, value interface{}) error
}

// Caller is implemented by backends with a remote operation concept
type Caller interface {
	Call(ctx context.Context, path Path, args []interface{}) (interface{}, error)
}

// TypedBackend is implemented by backends with a typed fast path. Bindings
// that require typed access must implement it.
type TypedBackend interface {
	ReadTyped(ctx context.Context, path Path, kind Kind) (interface{}, error)
	WriteTyped(ctx context.Context, path Path, kind Kind, value interface{}) error
}

// RawBackend is implemented by backends able to transfer composite values
// as raw bytes. A size <= 0 reads the whole element.
type RawBackend interface {
	ReadRaw(ctx context.Context, path Path, size int) ([]byte, error)
	WriteRaw(ctx context.Context, path Path, data []byte) error
}

// Monitorer is implemented by backends with native change notification
type Monitorer interface {
	Monitor(ctx context.Context, interval time.Duration, paths []Path, notify func(Path)) error
	MonitorModelChanges(ctx context.Context, interval time.Duration, notify func(Path)) error
}

// TypePreparer is implemented by backends that resolve composite shapes ahead of use
type TypePreparer interface {
	PrepareType(codec *StructCodec) error
}
