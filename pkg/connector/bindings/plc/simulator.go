package plc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/model"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/models"
)

// Separator separates the levels of PLC symbol names
const Separator = "."

// SymbolClient is the session to a controller addressing values by symbol
// name. Every value has a declared kind and typed reads with another kind
// fail, as a PLC runtime does.
type SymbolClient interface {
	ReadSymbol(ctx context.Context, symbol string, kind model.Kind) (interface{}, error)
	WriteSymbol(ctx context.Context, symbol string, kind model.Kind, value interface{}) error
	ReadBytes(ctx context.Context, symbol string, size int) ([]byte, error)
	WriteBytes(ctx context.Context, symbol string, data []byte) error
	Invoke(ctx context.Context, symbol string, args []interface{}) (interface{}, error)
	// Subscribe calls notify with the symbol name whenever a value at or
	// below symbol changes
	Subscribe(ctx context.Context, symbol string, notify func(symbol string)) error
	Close() error
}

// Simulator is an in-process SymbolClient over a model.Tree. It stands in
// for a controller in tests and demos.
type Simulator struct {
	tree *model.Tree

	mu     sync.RWMutex
	kinds  map[string]model.Kind
	closed bool
}

var _ SymbolClient = (*Simulator)(nil)

// NewSimulator creates an empty simulator
func NewSimulator() *Simulator {
	return &Simulator{
		tree:  model.NewTree(Separator, ""),
		kinds: make(map[string]model.Kind),
	}
}

// Define declares symbol with kind and an initial value
func (s *Simulator) Define(symbol string, kind model.Kind, value interface{}) error {
	if kind == model.KindAny {
		return errors.Newf(errors.ErrorTypeValidation, "symbol %s needs a primitive kind", symbol)
	}
	v, err := coerce(kind, value)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeValidation, "symbol %s", symbol)
	}
	s.mu.Lock()
	s.kinds[symbol] = kind
	s.mu.Unlock()
	return s.tree.Put(symbol, v)
}

// DefineBytes declares a composite symbol holding raw bytes
func (s *Simulator) DefineBytes(symbol string, data []byte) error {
	return s.tree.WriteRaw(context.Background(), model.Path(model.Split(symbol, Separator)), data)
}

// DefineMethod declares a callable symbol
func (s *Simulator) DefineMethod(symbol string, op model.Operation) error {
	return s.tree.DefineOperation(symbol, op)
}

// Symbols returns the names of all value symbols
func (s *Simulator) Symbols() []string {
	return s.tree.Leaves("")
}

func (s *Simulator) path(symbol string) model.Path {
	return model.Path(model.Split(symbol, Separator))
}

func (s *Simulator) check(symbol string, kind model.Kind) (model.Kind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.KindAny, errors.New(errors.ErrorTypeConnection, "simulator closed")
	}
	declared, ok := s.kinds[symbol]
	if !ok {
		return model.KindAny, errors.Newf(errors.ErrorTypeNotFound, "symbol %s does not exist", symbol)
	}
	if kind != model.KindAny && kind != declared {
		return declared, errors.Newf(errors.ErrorTypeValidation, "symbol %s is %s, not %s", symbol, declared, kind)
	}
	return declared, nil
}

func (s *Simulator) ReadSymbol(ctx context.Context, symbol string, kind model.Kind) (interface{}, error) {
	if _, err := s.check(symbol, kind); err != nil {
		return nil, err
	}
	return s.tree.Read(ctx, s.path(symbol))
}

func (s *Simulator) WriteSymbol(ctx context.Context, symbol string, kind model.Kind, value interface{}) error {
	declared, err := s.check(symbol, kind)
	if err != nil {
		return err
	}
	v, err := coerce(declared, value)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeValidation, "symbol %s", symbol)
	}
	return s.tree.Write(ctx, s.path(symbol), v)
}

func (s *Simulator) ReadBytes(ctx context.Context, symbol string, size int) ([]byte, error) {
	return s.tree.ReadRaw(ctx, s.path(symbol), size)
}

func (s *Simulator) WriteBytes(ctx context.Context, symbol string, data []byte) error {
	return s.tree.WriteRaw(ctx, s.path(symbol), data)
}

func (s *Simulator) Invoke(ctx context.Context, symbol string, args []interface{}) (interface{}, error) {
	return s.tree.Call(ctx, s.path(symbol), args)
}

func (s *Simulator) Subscribe(ctx context.Context, symbol string, notify func(string)) error {
	return s.tree.Monitor(ctx, 0, []model.Path{s.path(symbol)}, func(p model.Path) {
		notify(p.Join(Separator))
	})
}

// Close marks the simulator closed; values stay readable through Tree
func (s *Simulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Tree returns the underlying tree
func (s *Simulator) Tree() *model.Tree { return s.tree }

// Tick advances every numeric symbol by step; it drives demos that poll a
// changing controller
func (s *Simulator) Tick(ctx context.Context, step float64) error {
	s.mu.RLock()
	kinds := make(map[string]model.Kind, len(s.kinds))
	for k, v := range s.kinds {
		kinds[k] = v
	}
	s.mu.RUnlock()
	for symbol, kind := range kinds {
		if kind == model.KindString || kind == model.KindBoolean {
			continue
		}
		v, err := s.tree.Read(ctx, s.path(symbol))
		if err != nil {
			return err
		}
		f, err := models.ToFloat64(v)
		if err != nil {
			return err
		}
		next, err := coerce(kind, f+step)
		if err != nil {
			return err
		}
		if err := s.tree.Write(ctx, s.path(symbol), next); err != nil {
			return err
		}
	}
	return nil
}

// coerce converts v to the Go type of kind
func coerce(kind model.Kind, v interface{}) (interface{}, error) {
	switch kind {
	case model.KindInt, model.KindLong, model.KindShort, model.KindByte:
		var i int64
		var err error
		if f, ok := v.(float64); ok {
			i = int64(f)
		} else if i, err = models.ToInt64(v); err != nil {
			return nil, err
		}
		switch kind {
		case model.KindInt:
			return int32(i), nil
		case model.KindShort:
			return int16(i), nil
		case model.KindByte:
			return int8(i), nil
		}
		return i, nil
	case model.KindFloat:
		f, err := models.ToFloat64(v)
		return float32(f), err
	case model.KindDouble:
		return models.ToFloat64(v)
	case model.KindString:
		return models.ToString(v), nil
	case model.KindBoolean:
		return models.ToBool(v)
	case model.KindAny:
		return v, nil
	}
	return nil, fmt.Errorf("unsupported kind %s", kind)
}

// sample is a value read from a symbol at a point in time
func sample(symbol string, value interface{}) Sample {
	return Sample{Symbol: symbol, Value: value, Time: time.Now()}
}
