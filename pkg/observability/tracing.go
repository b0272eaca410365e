// Package observability sets up OpenTelemetry tracing for connectors
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/machconn"

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRate   float64
	// Writer receives exported spans; stdout when nil
	Writer      io.Writer
	PrettyPrint bool
	// Synchronous exports every span on end instead of batching
	Synchronous  bool
	BatchTimeout time.Duration
}

// DefaultConfig returns a default tracing configuration
func DefaultConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "machconn",
		ServiceVersion: "dev",
		Environment:    getEnv("ENVIRONMENT", "development"),
		SamplingRate:   0.1,
		BatchTimeout:   5 * time.Second,
	}
}

// Initialize installs a tracer provider exporting through stdouttrace. A
// provider installed by an earlier call is shut down first.
func Initialize(ctx context.Context, config TracingConfig) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []stdouttrace.Option{}
	if config.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(config.Writer))
	}
	if config.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	var export sdktrace.TracerProviderOption
	if config.Synchronous {
		export = sdktrace.WithSyncer(exporter)
	} else {
		export = sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(config.BatchTimeout))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		export,
	)

	mu.Lock()
	old := provider
	provider = tp
	mu.Unlock()
	otel.SetTracerProvider(tp)

	if old != nil {
		return old.Shutdown(ctx)
	}
	return nil
}

// Shutdown flushes and stops the installed tracer provider
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()
	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer: %w", err)
	}
	return nil
}

// Tracer returns the tracer of the global provider; a no-op tracer until
// Initialize is called
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// ConnectorTracer creates spans named <type>.<name>.<operation>
type ConnectorTracer struct {
	connectorType string
	connectorName string
}

// NewConnectorTracer creates a new connector tracer
func NewConnectorTracer(connectorType, connectorName string) *ConnectorTracer {
	return &ConnectorTracer{
		connectorType: connectorType,
		connectorName: connectorName,
	}
}

// StartSpan starts a connector span; the caller ends it
func (ct *ConnectorTracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	name := fmt.Sprintf("%s.%s.%s", ct.connectorType, ct.connectorName, operation)
	attrs = append(attrs,
		attribute.String("connector.type", ct.connectorType),
		attribute.String("connector.name", ct.connectorName),
		attribute.String("connector.operation", operation),
	)
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// Trace runs fn inside a span and records its error
func (ct *ConnectorTracer) Trace(ctx context.Context, operation string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := ct.StartSpan(ctx, operation, attrs...)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
