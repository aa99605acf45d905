package bus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spicelabs/spice/bus"
)

func TestNewEnvelope_MintsIDAndStampsTimestamp(t *testing.T) {
	env, err := bus.NewEnvelope("ch1", "evt.type", "1.0.0", map[string]any{"k": "v"}, bus.EventMetadata{})
	require.NoError(t, err)
	require.NotEmpty(t, env.EventID)
	require.False(t, env.Timestamp.IsZero())
	require.Equal(t, "ch1", env.Channel)
}

func TestNewEnvelope_RejectsEmptyChannel(t *testing.T) {
	_, err := bus.NewEnvelope("", "evt.type", "1.0.0", nil, bus.EventMetadata{})
	require.ErrorIs(t, err, bus.ErrInvalidEnvelope)
}

func TestNewEnvelope_RejectsEmptyEventType(t *testing.T) {
	_, err := bus.NewEnvelope("ch1", "", "1.0.0", nil, bus.EventMetadata{})
	require.ErrorIs(t, err, bus.ErrInvalidEnvelope)
}

func TestNewEnvelope_RejectsMalformedSchemaVersion(t *testing.T) {
	_, err := bus.NewEnvelope("ch1", "evt.type", "v1", nil, bus.EventMetadata{})
	require.ErrorIs(t, err, bus.ErrInvalidEnvelope)
}

func TestEnvelope_DecodeRoundtrips(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	env, err := bus.NewEnvelope("ch1", "evt.type", "1.0.0", payload{Name: "alice"}, bus.EventMetadata{})
	require.NoError(t, err)

	var decoded payload
	require.NoError(t, env.Decode(&decoded))
	require.Equal(t, "alice", decoded.Name)
}
