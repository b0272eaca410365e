package core

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/ajitpratap0/machconn/pkg/errors"
)

// TranslatingProtocolAdapter is the standard ProtocolAdapter composing an
// input and an output translator.
type TranslatingProtocolAdapter[N, P any] struct {
	input  TypeTranslator[N, P]
	output TypeTranslator[N, P]

	initializer func(ModelAccess) error

	mu     sync.RWMutex
	access ModelAccess
	// generation counts ConfigureModelAccess calls
	generation uint64

	initMu  sync.Mutex
	initGen uint64
	initOK  bool
}

// AdapterOption configures a TranslatingProtocolAdapter
type AdapterOption[N, P any] func(*TranslatingProtocolAdapter[N, P])

// WithModelInitializer sets a hook run on the first adaptation after each
// ConfigureModelAccess, i.e. once per session. A failed run is retried on
// the next adaptation. Use it to set up monitoring or resolve paths.
func WithModelInitializer[N, P any](fn func(ModelAccess) error) AdapterOption[N, P] {
	return func(a *TranslatingProtocolAdapter[N, P]) {
		a.initializer = fn
	}
}

// NewTranslatingProtocolAdapter creates an adapter. A nil output translator
// makes the adapter read-only; a nil input translator makes it write-only.
func NewTranslatingProtocolAdapter[N, P any](input, output TypeTranslator[N, P], opts ...AdapterOption[N, P]) *TranslatingProtocolAdapter[N, P] {
	a := &TranslatingProtocolAdapter[N, P]{input: input, output: output}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewAdapter creates an adapter using translator in both directions
func NewAdapter[N, P any](translator TypeTranslator[N, P], opts ...AdapterOption[N, P]) *TranslatingProtocolAdapter[N, P] {
	return NewTranslatingProtocolAdapter(translator, translator, opts...)
}

func (a *TranslatingProtocolAdapter[N, P]) InputTranslator() TypeTranslator[N, P]  { return a.input }
func (a *TranslatingProtocolAdapter[N, P]) OutputTranslator() TypeTranslator[N, P] { return a.output }

// ConfigureModelAccess stores the model access for lazy initialization
func (a *TranslatingProtocolAdapter[N, P]) ConfigureModelAccess(access ModelAccess) {
	a.mu.Lock()
	a.access = access
	a.generation++
	a.mu.Unlock()
}

// ModelAccess returns the configured model access
func (a *TranslatingProtocolAdapter[N, P]) ModelAccess() ModelAccess {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.access
}

func (a *TranslatingProtocolAdapter[N, P]) initialize() error {
	if a.initializer == nil {
		return nil
	}
	a.mu.RLock()
	access, gen := a.access, a.generation
	a.mu.RUnlock()
	if access == nil {
		return nil
	}

	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.initOK && a.initGen == gen {
		return nil
	}
	if err := a.initializer(access); err != nil {
		a.initOK = false
		return err
	}
	a.initGen, a.initOK = gen, true
	return nil
}

// AdaptInbound translates a received native value
func (a *TranslatingProtocolAdapter[N, P]) AdaptInbound(native N) (P, error) {
	var zero P
	if err := a.initialize(); err != nil {
		return zero, errors.NewIO(err, "initializing model access")
	}
	if a.input == nil {
		return zero, errors.NewIO(nil, "adapter has no input translator")
	}
	p, err := a.input.From(native)
	if err != nil {
		return zero, errors.NewIO(asTranslationError(err, a.input.SourceType(), a.input.TargetType()), "inbound translation failed")
	}
	return p, nil
}

// AdaptOutbound translates a platform value for writing
func (a *TranslatingProtocolAdapter[N, P]) AdaptOutbound(platform P) (N, error) {
	var zero N
	if err := a.initialize(); err != nil {
		return zero, errors.NewIO(err, "initializing model access")
	}
	if a.output == nil {
		return zero, errors.NewIO(nil, "adapter has no output translator")
	}
	n, err := a.output.To(platform)
	if err != nil {
		return zero, errors.NewIO(asTranslationError(err, a.output.TargetType(), a.output.SourceType()), "outbound translation failed")
	}
	return n, nil
}

func asTranslationError(err error, from, to reflect.Type) error {
	if errors.IsType(err, errors.ErrorTypeTranslation) {
		return err
	}
	return errors.NewTranslation(err, typeName(from), typeName(to))
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// ValidateAdapters checks the construction surface of a connector: at least
// one adapter and no nil element.
func ValidateAdapters[N, P any](adapters []ProtocolAdapter[N, P]) error {
	if len(adapters) == 0 {
		return errors.NewConstruction("at least one protocol adapter is required")
	}
	for i, a := range adapters {
		if isNil(a) {
			return errors.NewConstruction(fmt.Sprintf("protocol adapter %d is nil", i)).WithDetail("index", i)
		}
	}
	return nil
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

// DefaultSelector always selects the first adapter.
type DefaultSelector[N, P any] struct {
	first ProtocolAdapter[N, P]
}

func (s *DefaultSelector[N, P]) Init(adapters []ProtocolAdapter[N, P]) {
	if len(adapters) > 0 {
		s.first = adapters[0]
	}
}

func (s *DefaultSelector[N, P]) SelectSouthOutput(string, N) ProtocolAdapter[N, P] { return s.first }
func (s *DefaultSelector[N, P]) SelectNorthInput(string, P) ProtocolAdapter[N, P]  { return s.first }

// ChannelSelector dispatches by channel name to the adapter at the mapped
// index, falling back to the first adapter for unmapped channels.
type ChannelSelector[N, P any] struct {
	indices  map[string]int
	adapters []ProtocolAdapter[N, P]
}

// NewChannelSelector creates a selector from a channel to adapter index mapping
func NewChannelSelector[N, P any](indices map[string]int) *ChannelSelector[N, P] {
	m := make(map[string]int, len(indices))
	for k, v := range indices {
		m[k] = v
	}
	return &ChannelSelector[N, P]{indices: m}
}

func (s *ChannelSelector[N, P]) Init(adapters []ProtocolAdapter[N, P]) {
	s.adapters = adapters
}

func (s *ChannelSelector[N, P]) selectChannel(channel string) ProtocolAdapter[N, P] {
	if len(s.adapters) == 0 {
		return nil
	}
	if i, ok := s.indices[channel]; ok && i >= 0 && i < len(s.adapters) {
		return s.adapters[i]
	}
	return s.adapters[0]
}

func (s *ChannelSelector[N, P]) SelectSouthOutput(channel string, _ N) ProtocolAdapter[N, P] {
	return s.selectChannel(channel)
}

func (s *ChannelSelector[N, P]) SelectNorthInput(channel string, _ P) ProtocolAdapter[N, P] {
	return s.selectChannel(channel)
}
