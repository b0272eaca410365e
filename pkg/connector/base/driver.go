package base

import (
	"context"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/connector/model"
	"go.uber.org/zap"
)

// Driver is the protocol specific half of a connector. It owns the physical
// client: the client is created in Open and released in Close, nowhere else.
// Every driver call is serialized by the connector's session lock.
type Driver[N any] interface {
	// Open establishes the session. host stays valid until Close returns.
	Open(ctx context.Context, host Host[N]) error
	// Close releases the session
	Close(ctx context.Context) error
	// Read performs one pull and hands the values to Host.Received
	Read(ctx context.Context) error
	// Write writes a native value to channel; "" is the default channel
	Write(ctx context.Context, channel string, data N) error
}

// ModelDriver is implemented by drivers of connectors declaring HasModel.
// The backend is requested once per session, after Open succeeded.
type ModelDriver interface {
	ModelBackend() model.Backend
	ModelOptions() model.Options
}

// QueryDriver is implemented by pull-only drivers answering trigger queries.
// Every row is handed to the pacer, which waits between rows.
type QueryDriver[N any] interface {
	Query(ctx context.Context, query core.TriggerQuery, pacer *Pacer[N]) error
}

// Pinger is implemented by drivers with a cheap liveness probe. When the
// keep-alive interval is positive the connector pings at that interval.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Host is the view a driver has of its connector
type Host[N any] interface {
	Name() string
	Logger() *zap.Logger
	Parameter() *core.ConnectorParameter

	// Received translates data and delivers it to the callback of channel.
	// Values with isNew=false are counted but not delivered.
	Received(ctx context.Context, channel string, data N, isNew bool) error

	// Error reports an asynchronous failure of a driver owned goroutine
	Error(message string, cause error)

	// Go runs fn until the session ends. Disconnect cancels ctx and waits
	// for fn to return before Close is called.
	Go(fn func(ctx context.Context)) bool

	// Pacer returns a pacer for a replay; explicit > 0 fixes the delay
	Pacer(explicit time.Duration) *Pacer[N]
}
