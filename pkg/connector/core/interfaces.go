package core

import (
	"context"
	"reflect"
	"time"
)

// Connector is the type-independent capability set every connector exposes.
// It owns at most one physical session to one external system.
type Connector interface {
	// Name returns the descriptive connector name
	Name() string

	// Connect opens the session. Calling it while connected is a no-op.
	Connect(ctx context.Context, params *ConnectorParameter) error
	// Disconnect releases the session. Safe to call when never connected.
	Disconnect(ctx context.Context) error

	// Read forces one synchronous pull delivered through the reception callbacks
	Read(ctx context.Context) error
	// Request forces a pull; with block=false the pull runs asynchronously
	Request(ctx context.Context, block bool) error

	// State returns the current lifecycle state
	State() State
	// Polling reports whether the poll loop is currently active
	Polling() bool
	// Capabilities returns the static capability declaration
	Capabilities() Capabilities
	// ModelAccess returns the model access of a connected model connector
	ModelAccess() (ModelAccess, error)
	// Parameter returns the parameters of the current connection, nil if disconnected
	Parameter() *ConnectorParameter
}

// DataConnector is a connector typed by its platform data type P.
type DataConnector[P any] interface {
	Connector

	// Write translates data to the native type and writes it to the default channel
	Write(ctx context.Context, data P) error
	// WriteChannel writes data to a logical channel of a multi-channel connector
	WriteChannel(ctx context.Context, channel string, data P) error

	// SetReceptionCallback registers the callback for the default channel
	SetReceptionCallback(cb ReceptionCallback[P])
	// SetChannelReceptionCallback registers a callback for one logical channel
	SetChannelReceptionCallback(channel string, cb ReceptionCallback[P])
}

// EventHandlingConnector is implemented by connectors that can be driven by
// an external scheduler instead of their own poll loop.
type EventHandlingConnector interface {
	Name() string
	// EnablePolling switches the connector's own poll loop on or off
	EnablePolling(enable bool)
	// Trigger performs one driven fetch
	Trigger(ctx context.Context) error
	// TriggerQuery performs a driven fetch described by query
	TriggerQuery(ctx context.Context, query TriggerQuery) error
}

// ReceptionCallback receives fully translated values of platform type P.
// Callbacks run synchronously on the producing goroutine and must not block.
type ReceptionCallback[P any] interface {
	Received(data P)
}

// ReceptionCallbackFunc adapts a function to a ReceptionCallback
type ReceptionCallbackFunc[P any] func(data P)

// Received calls f(data)
func (f ReceptionCallbackFunc[P]) Received(data P) {
	f(data)
}

// DataTimeDifferenceProvider supplies a per data point delay overriding the
// delay a replaying connector would compute from timestamps. A negative
// result means no override.
type DataTimeDifferenceProvider[P any] func(data P) time.Duration

// ErrorHook is notified of asynchronous failures (poll ticks, monitor
// notifications, triggered fetches).
type ErrorHook func(message string, cause error)

// ModelAccess is the hierarchical, qualified-name addressed protocol over a
// connected session. Each value denotes one cursor position; qualified names
// are resolved relative to it using QSeparator.
type ModelAccess interface {
	// QSeparator returns the separator of qualified names
	QSeparator() string
	// QName joins the non-empty names with the separator
	QName(names ...string) string
	// IQName is QName prefixed with TopInstancesQName
	IQName(names ...string) string
	// TopInstancesQName returns the name of the top-level instance container
	TopInstancesQName() string

	Get(ctx context.Context, qName string) (interface{}, error)
	GetInt(ctx context.Context, qName string) (int32, error)
	GetLong(ctx context.Context, qName string) (int64, error)
	GetShort(ctx context.Context, qName string) (int16, error)
	GetByte(ctx context.Context, qName string) (int8, error)
	GetFloat(ctx context.Context, qName string) (float32, error)
	GetDouble(ctx context.Context, qName string) (float64, error)
	GetString(ctx context.Context, qName string) (string, error)
	GetBoolean(ctx context.Context, qName string) (bool, error)

	Set(ctx context.Context, qName string, value interface{}) error
	SetInt(ctx context.Context, qName string, value int32) error
	SetLong(ctx context.Context, qName string, value int64) error
	SetShort(ctx context.Context, qName string, value int16) error
	SetByte(ctx context.Context, qName string, value int8) error
	SetFloat(ctx context.Context, qName string, value float32) error
	SetDouble(ctx context.Context, qName string, value float64) error
	SetString(ctx context.Context, qName string, value string) error
	SetBoolean(ctx context.Context, qName string, value bool) error

	// Call invokes a remote operation
	Call(ctx context.Context, qName string, args ...interface{}) (interface{}, error)

	// GetStruct reads a composite value registered under typeTag
	GetStruct(ctx context.Context, qName string, typeTag string) (interface{}, error)
	// SetStruct writes a composite value as one unit
	SetStruct(ctx context.Context, qName string, value interface{}) error
	// RegisterCustomType prepares the composite shape registered under typeTag
	RegisterCustomType(typeTag string) error

	// StepInto returns a new cursor one level below the current one
	StepInto(name string) (ModelAccess, error)
	// StepOut returns the parent cursor, or the root cursor at the root
	StepOut() ModelAccess

	// Monitor subscribes to change notifications for qNames
	Monitor(ctx context.Context, interval time.Duration, qNames ...string) error
	// MonitorModelChanges subscribes to structural model changes
	MonitorModelChanges(ctx context.Context, interval time.Duration) error
}

// TypeTranslator converts between a native protocol type N and a platform
// type P. Implementations are pure and keep no cross-call state.
type TypeTranslator[N, P any] interface {
	SourceType() reflect.Type
	TargetType() reflect.Type
	// From translates a native value into a platform value
	From(native N) (P, error)
	// To translates a platform value into a native value
	To(platform P) (N, error)
}

// ProtocolAdapter binds an input and an output TypeTranslator to a connector.
type ProtocolAdapter[N, P any] interface {
	InputTranslator() TypeTranslator[N, P]
	OutputTranslator() TypeTranslator[N, P]

	// AdaptInbound turns a received native value into a platform value
	AdaptInbound(native N) (P, error)
	// AdaptOutbound turns a platform value into a native value for writing
	AdaptOutbound(platform P) (N, error)

	// ConfigureModelAccess hands over the model access of a model connector.
	// It is never called for connectors without a model.
	ConfigureModelAccess(access ModelAccess)
	// ModelAccess returns the configured model access, nil if none
	ModelAccess() ModelAccess
}

// AdapterSelector chooses one adapter among several for an event.
type AdapterSelector[N, P any] interface {
	// Init receives the ordered adapters of the connector before first use
	Init(adapters []ProtocolAdapter[N, P])
	// SelectSouthOutput selects the adapter for a value received on channel
	SelectSouthOutput(channel string, native N) ProtocolAdapter[N, P]
	// SelectNorthInput selects the adapter for a value to be written to channel
	SelectNorthInput(channel string, platform P) ProtocolAdapter[N, P]
}
