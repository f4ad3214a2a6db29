package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "memberhub", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitWithEndpoint(t *testing.T) {
	// The exporter connects lazily, so an unreachable collector is fine here.
	shutdown, err := Init(context.Background(), "http://127.0.0.1:4318", "memberhub", "test")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
}
