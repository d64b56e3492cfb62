package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledUsesNoopTracer(t *testing.T) {
	Init(false, "localhost:4318")

	tracer := Tracer("test")
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid(), "disabled tracing must produce no-op spans")
	span.End()

	assert.NoError(t, Shutdown(context.Background()))
}
