package base

import (
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"go.uber.org/zap"
)

// DefaultDisconnectTimeout bounds how long Disconnect waits for the poll
// loop and a running trigger fetch
const DefaultDisconnectTimeout = 5 * time.Second

// Tracker records live connector instances. registry.Registry implements it.
type Tracker interface {
	Track(c core.Connector) string
	Untrack(id string)
}

type options struct {
	name              string
	connectorType     string
	logger            *zap.Logger
	tracker           Tracker
	disconnectTimeout time.Duration
	hook              core.ErrorHook
	selector          interface{}
}

// Option configures a Connector
type Option func(*options)

// WithName sets the descriptive connector name
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithType sets the binding type used in span and log labels
func WithType(connectorType string) Option {
	return func(o *options) { o.connectorType = connectorType }
}

// WithLogger sets the logger; the connector adds its name as a field
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry tracks the connector while it is connected
func WithRegistry(tracker Tracker) Option {
	return func(o *options) { o.tracker = tracker }
}

// WithDisconnectTimeout overrides DefaultDisconnectTimeout
func WithDisconnectTimeout(d time.Duration) Option {
	return func(o *options) { o.disconnectTimeout = d }
}

// WithErrorHook sets the initial error hook
func WithErrorHook(hook core.ErrorHook) Option {
	return func(o *options) { o.hook = hook }
}

// WithSelector sets the adapter selector. Its type parameters must match the
// connector's, otherwise construction fails.
func WithSelector[N, P any](selector core.AdapterSelector[N, P]) Option {
	return func(o *options) { o.selector = selector }
}
