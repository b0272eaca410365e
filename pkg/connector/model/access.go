package model

import (
	"context"
	"encoding/binary"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/models"
)

// Options configure a Session
type Options struct {
	// TypedOnly rejects untyped Get for bindings that require typed access
	TypedOnly bool
	// Structs enables composite transfers using this registry
	Structs *StructRegistry
}

// Session is the model access state bound to one connected session: the
// backend, the cursor arena and the change listener. Cursors are created
// from it with Root and become invalid after Close.
type Session struct {
	backend Backend
	opts    Options
	arena   *arena

	mu       sync.RWMutex
	listener func(qName string)
}

// NewSession creates a session over backend
func NewSession(backend Backend, opts Options) *Session {
	return &Session{
		backend: backend,
		opts:    opts,
		arena:   newArena(),
	}
}

// Root returns the root cursor
func (s *Session) Root() *Access {
	return &Access{s: s, handle: rootHandle}
}

// Close invalidates all cursors of the session
func (s *Session) Close() {
	s.arena.close()
}

// Closed reports whether Close was called
func (s *Session) Closed() bool {
	return s.arena.isClosed()
}

// SetChangeListener sets the function notified with the qualified name of
// changed elements reported by Monitor subscriptions
func (s *Session) SetChangeListener(fn func(qName string)) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

func (s *Session) notify(p Path) {
	s.mu.RLock()
	fn := s.listener
	s.mu.RUnlock()
	if fn != nil {
		fn(p.Join(s.backend.Separator()))
	}
}

// CursorCount returns the number of cursor nodes created so far
func (s *Session) CursorCount() int {
	return s.arena.size()
}

// Access is a cursor into a Session. It implements core.ModelAccess.
type Access struct {
	s      *Session
	handle int
}

var _ core.ModelAccess = (*Access)(nil)

func (a *Access) QSeparator() string        { return a.s.backend.Separator() }
func (a *Access) TopInstancesQName() string { return a.s.backend.TopInstances() }

// QName joins the non-empty names with the separator
func (a *Access) QName(names ...string) string {
	return JoinNames(a.QSeparator(), names...)
}

// IQName is QName prefixed by the top instances name
func (a *Access) IQName(names ...string) string {
	all := make([]string, 0, len(names)+1)
	all = append(all, a.TopInstancesQName())
	all = append(all, names...)
	return a.QName(all...)
}

// Path returns the absolute path of the cursor
func (a *Access) Path() Path {
	p, _ := a.s.arena.path(a.handle)
	return p
}

// resolve turns a relative qualified name into an absolute path
func (a *Access) resolve(qName string) (Path, string, error) {
	base, ok := a.s.arena.path(a.handle)
	if !ok {
		return nil, qName, errors.NewModelAccess(qName, "session closed")
	}
	p := base.Child(Split(qName, a.QSeparator())...)
	full := p.Join(a.QSeparator())
	if len(p) == len(base) && qName != "" {
		return nil, qName, errors.NewModelAccess(qName, "invalid qualified name")
	}
	return p, full, nil
}

func (a *Access) wrap(err error, qName string) error {
	if err == nil {
		return nil
	}
	if errors.IsType(err, errors.ErrorTypeModelAccess) {
		return err
	}
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return errors.WrapModelAccess(err, qName, "not found")
	}
	return errors.WrapModelAccess(err, qName, "access failed")
}

// wrapMonitor is wrap for subscriptions the backend declines
func (a *Access) wrapMonitor(err error, qName string) error {
	if errors.IsType(err, errors.ErrorTypeCapability) {
		return errors.WrapModelAccess(err, qName, "event-based monitoring is not supported, use polling")
	}
	return a.wrap(err, qName)
}

// Get reads an element untyped
func (a *Access) Get(ctx context.Context, qName string) (interface{}, error) {
	p, full, err := a.resolve(qName)
	if err != nil {
		return nil, err
	}
	if a.s.opts.TypedOnly {
		return nil, errors.NewModelAccess(full, "untyped access not supported, use typed getters")
	}
	v, err := a.s.backend.Read(ctx, p)
	if err != nil {
		return nil, a.wrap(err, full)
	}
	return v, nil
}

func (a *Access) getTyped(ctx context.Context, qName string, kind Kind) (interface{}, string, error) {
	p, full, err := a.resolve(qName)
	if err != nil {
		return nil, qName, err
	}
	var v interface{}
	if tb, ok := a.s.backend.(TypedBackend); ok {
		v, err = tb.ReadTyped(ctx, p, kind)
	} else {
		v, err = a.s.backend.Read(ctx, p)
	}
	if err != nil {
		return nil, full, a.wrap(err, full)
	}
	return v, full, nil
}

func (a *Access) getInteger(ctx context.Context, qName string, kind Kind, min, max int64) (int64, error) {
	v, full, err := a.getTyped(ctx, qName, kind)
	if err != nil {
		return 0, err
	}
	i, err := models.ToInt64(v)
	if err != nil {
		return 0, errors.WrapModelAccess(err, full, "type mismatch")
	}
	if i < min || i > max {
		return 0, errors.NewModelAccess(full, "value out of range for "+kind.String())
	}
	return i, nil
}

func (a *Access) GetInt(ctx context.Context, qName string) (int32, error) {
	i, err := a.getInteger(ctx, qName, KindInt, math.MinInt32, math.MaxInt32)
	return int32(i), err
}

func (a *Access) GetLong(ctx context.Context, qName string) (int64, error) {
	return a.getInteger(ctx, qName, KindLong, math.MinInt64, math.MaxInt64)
}

func (a *Access) GetShort(ctx context.Context, qName string) (int16, error) {
	i, err := a.getInteger(ctx, qName, KindShort, math.MinInt16, math.MaxInt16)
	return int16(i), err
}

func (a *Access) GetByte(ctx context.Context, qName string) (int8, error) {
	i, err := a.getInteger(ctx, qName, KindByte, math.MinInt8, math.MaxInt8)
	return int8(i), err
}

func (a *Access) GetFloat(ctx context.Context, qName string) (float32, error) {
	v, full, err := a.getTyped(ctx, qName, KindFloat)
	if err != nil {
		return 0, err
	}
	f, err := models.ToFloat64(v)
	if err != nil {
		return 0, errors.WrapModelAccess(err, full, "type mismatch")
	}
	return float32(f), nil
}

func (a *Access) GetDouble(ctx context.Context, qName string) (float64, error) {
	v, full, err := a.getTyped(ctx, qName, KindDouble)
	if err != nil {
		return 0, err
	}
	f, err := models.ToFloat64(v)
	if err != nil {
		return 0, errors.WrapModelAccess(err, full, "type mismatch")
	}
	return f, nil
}

func (a *Access) GetString(ctx context.Context, qName string) (string, error) {
	v, _, err := a.getTyped(ctx, qName, KindString)
	if err != nil {
		return "", err
	}
	return models.ToString(v), nil
}

func (a *Access) GetBoolean(ctx context.Context, qName string) (bool, error) {
	v, full, err := a.getTyped(ctx, qName, KindBoolean)
	if err != nil {
		return false, err
	}
	b, err := models.ToBool(v)
	if err != nil {
		return false, errors.WrapModelAccess(err, full, "type mismatch")
	}
	return b, nil
}

func (a *Access) setTyped(ctx context.Context, qName string, kind Kind, value interface{}) error {
	p, full, err := a.resolve(qName)
	if err != nil {
		return err
	}
	if tb, ok := a.s.backend.(TypedBackend); ok {
		err = tb.WriteTyped(ctx, p, kind, value)
	} else {
		err = a.s.backend.Write(ctx, p, value)
	}
	return a.wrap(err, full)
}

// Set writes an element. Typed-only bindings derive the kind from the value.
func (a *Access) Set(ctx context.Context, qName string, value interface{}) error {
	if a.s.opts.TypedOnly {
		kind := KindOf(value)
		if kind == KindAny {
			_, full, _ := a.resolve(qName)
			return errors.NewModelAccess(full, "unsupported value type for typed access")
		}
		return a.setTyped(ctx, qName, kind, value)
	}
	p, full, err := a.resolve(qName)
	if err != nil {
		return err
	}
	return a.wrap(a.s.backend.Write(ctx, p, value), full)
}

func (a *Access) SetInt(ctx context.Context, qName string, value int32) error {
	return a.setTyped(ctx, qName, KindInt, value)
}

func (a *Access) SetLong(ctx context.Context, qName string, value int64) error {
	return a.setTyped(ctx, qName, KindLong, value)
}

func (a *Access) SetShort(ctx context.Context, qName string, value int16) error {
	return a.setTyped(ctx, qName, KindShort, value)
}

func (a *Access) SetByte(ctx context.Context, qName string, value int8) error {
	return a.setTyped(ctx, qName, KindByte, value)
}

func (a *Access) SetFloat(ctx context.Context, qName string, value float32) error {
	return a.setTyped(ctx, qName, KindFloat, value)
}

func (a *Access) SetDouble(ctx context.Context, qName string, value float64) error {
	return a.setTyped(ctx, qName, KindDouble, value)
}

func (a *Access) SetString(ctx context.Context, qName string, value string) error {
	return a.setTyped(ctx, qName, KindString, value)
}

func (a *Access) SetBoolean(ctx context.Context, qName string, value bool) error {
	return a.setTyped(ctx, qName, KindBoolean, value)
}

// Call invokes a remote operation
func (a *Access) Call(ctx context.Context, qName string, args ...interface{}) (interface{}, error) {
	p, full, err := a.resolve(qName)
	if err != nil {
		return nil, err
	}
	c, ok := a.s.backend.(Caller)
	if !ok {
		return nil, errors.NewModelAccess(full, "not implemented")
	}
	v, err := c.Call(ctx, p, args)
	if err != nil {
		return nil, a.wrap(err, full)
	}
	return v, nil
}

func (a *Access) rawBackend(full string) (RawBackend, error) {
	if a.s.opts.Structs == nil {
		return nil, errors.NewModelAccess(full, "structs not supported")
	}
	rb, ok := a.s.backend.(RawBackend)
	if !ok {
		return nil, errors.NewModelAccess(full, "structs not supported")
	}
	return rb, nil
}

// GetStruct reads a composite value registered under typeTag
func (a *Access) GetStruct(ctx context.Context, qName string, typeTag string) (interface{}, error) {
	p, full, err := a.resolve(qName)
	if err != nil {
		return nil, err
	}
	rb, err := a.rawBackend(full)
	if err != nil {
		return nil, err
	}
	codec, ok := a.s.opts.Structs.Lookup(typeTag)
	if !ok {
		return nil, errors.NewModelAccess(full, "unknown struct type "+typeTag)
	}
	data, err := rb.ReadRaw(ctx, p, codec.Size(codec.Create()))
	if err != nil {
		return nil, a.wrap(err, full)
	}
	v, err := codec.Read(data)
	if err != nil {
		return nil, errors.WrapModelAccess(err, full, "type mismatch reading "+typeTag)
	}
	return v, nil
}

// SetStruct writes a composite value. Unregistered fixed-size values are
// encoded with encoding/binary.
func (a *Access) SetStruct(ctx context.Context, qName string, value interface{}) error {
	p, full, err := a.resolve(qName)
	if err != nil {
		return err
	}
	if value == nil {
		return errors.NewModelAccess(full, "nil struct value")
	}
	rb, err := a.rawBackend(full)
	if err != nil {
		return err
	}
	var data []byte
	if codec, ok := a.s.opts.Structs.LookupType(reflect.TypeOf(value)); ok {
		data, err = codec.Write(value)
	} else if binary.Size(value) > 0 {
		data, err = encodeFixed(value)
	} else {
		return errors.NewModelAccess(full, "unsupported struct type "+reflect.TypeOf(value).String())
	}
	if err != nil {
		return errors.WrapModelAccess(err, full, "type mismatch writing struct")
	}
	return a.wrap(rb.WriteRaw(ctx, p, data), full)
}

// RegisterCustomType prepares a registered composite shape. Bindings
// without struct support treat it as a no-op.
func (a *Access) RegisterCustomType(typeTag string) error {
	if a.s.opts.Structs == nil {
		return nil
	}
	codec, ok := a.s.opts.Structs.Lookup(typeTag)
	if !ok {
		return errors.NewModelAccess(typeTag, "unknown struct type")
	}
	if tp, ok := a.s.backend.(TypePreparer); ok {
		if err := tp.PrepareType(codec); err != nil {
			return errors.WrapModelAccess(err, typeTag, "cannot prepare type")
		}
	}
	return nil
}

// StepInto returns a new cursor below the current one. Names containing the
// separator step several levels at once.
func (a *Access) StepInto(name string) (core.ModelAccess, error) {
	parts := Split(name, a.QSeparator())
	if len(parts) == 0 {
		return nil, errors.NewModelAccess(name, "empty name")
	}
	h := a.handle
	for _, part := range parts {
		next, ok := a.s.arena.child(h, part)
		if !ok {
			return nil, errors.NewModelAccess(name, "session closed")
		}
		h = next
	}
	return &Access{s: a.s, handle: h}, nil
}

// StepOut returns the parent cursor, or the root cursor at the root
func (a *Access) StepOut() core.ModelAccess {
	parent, ok := a.s.arena.parent(a.handle)
	if !ok {
		return a.s.Root()
	}
	return &Access{s: a.s, handle: parent}
}

// Monitor subscribes to changes of the given elements
func (a *Access) Monitor(ctx context.Context, interval time.Duration, qNames ...string) error {
	full := a.QName(qNames...)
	m, ok := a.s.backend.(Monitorer)
	if !ok {
		return errors.NewModelAccess(full, "event-based monitoring is not supported, use polling")
	}
	paths := make([]Path, 0, len(qNames))
	for _, q := range qNames {
		p, _, err := a.resolve(q)
		if err != nil {
			return err
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		p, _, err := a.resolve("")
		if err != nil {
			return err
		}
		paths = append(paths, p)
	}
	return a.wrapMonitor(m.Monitor(ctx, interval, paths, a.s.notify), full)
}

// MonitorModelChanges subscribes to structural changes of the model
func (a *Access) MonitorModelChanges(ctx context.Context, interval time.Duration) error {
	m, ok := a.s.backend.(Monitorer)
	if !ok {
		return errors.NewModelAccess(a.TopInstancesQName(), "event-based monitoring is not supported, use polling")
	}
	return a.wrapMonitor(m.MonitorModelChanges(ctx, interval, a.s.notify), a.TopInstancesQName())
}

// GetStructAs reads a composite value of type T. Registered types use their
// codec; unregistered fixed-size types fall back to encoding/binary.
func GetStructAs[T any](ctx context.Context, access core.ModelAccess, qName string) (T, error) {
	var zero T
	a, ok := access.(*Access)
	if !ok {
		return zero, errors.NewModelAccess(qName, "structs not supported")
	}
	p, full, err := a.resolve(qName)
	if err != nil {
		return zero, err
	}
	rb, err := a.rawBackend(full)
	if err != nil {
		return zero, err
	}
	codec, ok := a.s.opts.Structs.LookupType(reflect.TypeOf(zero))
	if !ok {
		fixed, ferr := FixedCodec[T]("")
		if ferr != nil {
			return zero, errors.NewModelAccess(full, "unsupported struct type "+reflect.TypeOf(zero).String())
		}
		codec = &fixed
	}
	data, err := rb.ReadRaw(ctx, p, codec.Size(codec.Create()))
	if err != nil {
		return zero, a.wrap(err, full)
	}
	v, err := codec.Read(data)
	if err != nil {
		return zero, errors.WrapModelAccess(err, full, "type mismatch")
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.NewModelAccess(full, "type mismatch")
	}
	return t, nil
}
