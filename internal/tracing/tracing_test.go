package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestConfigureTraceProvider_PropagatesThroughMetadata(t *testing.T) {
	tp, err := ConfigureTraceProvider("test", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown(context.Background(), tp) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	require.Contains(t, carrier, "traceparent")

	extracted := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
	_, child := otel.Tracer("test").Start(extracted, "handle")
	defer child.End()

	assert.Equal(t, span.SpanContext().TraceID(), child.SpanContext().TraceID())
}
