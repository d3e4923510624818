package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(context.Background(), "  ")

	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx))
}

func TestSetup_ShutdownFlushesCleanly(t *testing.T) {
	// Registers a global provider, so not parallel. The address is
	// non-routable and nothing is exported before shutdown.
	shutdown, err := Setup(context.Background(), "http://192.0.2.1:4318")

	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
