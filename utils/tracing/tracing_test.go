package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartEndSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("magios-test", exporter))

	ctx, parent := StartSpan(context.Background(), "lib.Fork")
	parent.WithAttributes(map[string]string{"env": "00001000"})
	_, child := StartSpan(ctx, "lib.pgfault")
	EndSpan(child, errors.New("fault"))
	EndSpan(parent, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "lib.pgfault", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
}

func TestEndSpan_Nil(t *testing.T) {
	assert.NotPanics(t, func() { EndSpan(nil, nil) })
}
