package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(t.Context(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestTraceExporterOptions(t *testing.T) {
	require.Len(t, traceExporterOptions(DefaultTracesEndpoint, false), 1)
	require.Len(t, traceExporterOptions(DefaultTracesEndpoint, true), 2)
}
