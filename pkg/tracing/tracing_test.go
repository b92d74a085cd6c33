package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerInstallsGlobalProvider(t *testing.T) {
	ctx := context.Background()

	tp, err := InitTracer(ctx, "agui-gateway-test", "localhost:4318")
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.Same(t, tp, otel.GetTracerProvider())

	assert.NoError(t, Shutdown(ctx, tp))
}

func TestShutdownNil(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background(), nil))
}
