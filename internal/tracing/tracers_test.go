package tracing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetTracerForService(t *testing.T) {
	t.Setenv("JAEGER_DISABLED", "true")

	tracer, err := GetTracerForService("votechain")
	require.NoError(t, err)
	require.NotNil(t, tracer)

	again, err := GetTracerForService("votechain")
	require.NoError(t, err)
	require.Equal(t, tracer, again)

	require.NoError(t, CloseAll())
	require.Empty(t, catalog.tracerByService)
}

func TestGetTracerForService_BadEnv(t *testing.T) {
	t.Setenv("JAEGER_SAMPLER_PARAM", "not a number")

	_, err := GetTracerForService("broken")
	require.Error(t, err)
	require.Contains(t, err.Error(), "error parsing jaeger configuration from environment")
}
