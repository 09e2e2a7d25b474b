package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitAndShutdown(t *testing.T) {
	shutdown, err := Init(context.Background())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}

func TestSpanAttrsAndEndSpan(t *testing.T) {
	attrs := StoreSpanAttrs("airports", "as_of")
	require.Len(t, attrs, 3)

	ctx, span := Tracer.Start(context.Background(), "test.span")
	EndSpan(span, nil)
	_ = ctx
}
