package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spicelabs/spice/bus"
)

func TestRegisterEventSchemas_DeclaresStandardChannelsAndTypes(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	require.NoError(t, RegisterEventSchemas(b))

	reg := b.Registry()
	for _, eventType := range []string{
		EventGraphStarted, EventGraphCompleted, EventGraphFailed, EventGraphCancelled,
		EventNodeStarted, EventNodeCompleted, EventNodeFailed,
		EventToolCallEmitted, EventToolCallCompleted,
		EventHitlRequest,
	} {
		version, ok := reg.CurrentVersion(eventType)
		require.True(t, ok, "expected %s to be registered", eventType)
		require.Equal(t, eventSchemaVersion, version)
	}
}

func TestRegisterEventSchemas_IdempotentAcrossMultipleCalls(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	require.NoError(t, RegisterEventSchemas(b))
	require.NoError(t, RegisterEventSchemas(b))
}
