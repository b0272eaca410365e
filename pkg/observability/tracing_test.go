package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestConnectorTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.SamplingRate = 1
	cfg.Writer = &buf
	cfg.Synchronous = true
	require.NoError(t, Initialize(context.Background(), cfg))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	tracer := NewConnectorTracer("timeseries", "line1")

	err := tracer.Trace(context.Background(), "connect", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("session refused")
	err = tracer.Trace(context.Background(), "trigger", func(ctx context.Context) error {
		return boom
	}, attribute.String("query.kind", "timeseries"))
	assert.Same(t, boom, err)

	out := buf.String()
	assert.Contains(t, out, "timeseries.line1.connect")
	assert.Contains(t, out, "timeseries.line1.trigger")
	assert.Contains(t, out, "session refused")
}

func TestTracerWithoutInitialize(t *testing.T) {
	require.NoError(t, Shutdown(context.Background()))
	ctx, span := NewConnectorTracer("file", "f").StartSpan(context.Background(), "read")
	defer span.End()
	assert.NotNil(t, ctx)
}
