package bus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spicelabs/spice/bus"
)

func TestRegistry_RegisterRejectsMalformedVersion(t *testing.T) {
	reg := bus.NewRegistry()
	err := reg.Register("evt.type", "v1")
	require.ErrorIs(t, err, bus.ErrInvalidEnvelope)
}

func TestRegistry_AcceptUnknownEventTypeFails(t *testing.T) {
	reg := bus.NewRegistry()
	_, ok, err := reg.Accept(bus.EventEnvelope{EventType: "ghost", SchemaVersion: "1.0.0"})
	require.Error(t, err)
	require.False(t, ok)
}

func TestRegistry_AcceptSameMajorSucceeds(t *testing.T) {
	reg := bus.NewRegistry()
	require.NoError(t, reg.Register("evt.type", "1.4.0"))

	payload := []byte(`{"x":1}`)
	out, ok, err := reg.Accept(bus.EventEnvelope{EventType: "evt.type", SchemaVersion: "1.0.0", Payload: payload})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, []byte(out))
}

func TestRegistry_AcceptDifferentMajorWithoutMigrationFails(t *testing.T) {
	reg := bus.NewRegistry()
	require.NoError(t, reg.Register("evt.type", "2.0.0"))

	_, ok, err := reg.Accept(bus.EventEnvelope{EventType: "evt.type", SchemaVersion: "1.0.0", Payload: []byte(`{}`)})
	require.Error(t, err)
	require.False(t, ok)
}

func TestRegistry_RegisterMigrationForUnknownTypeFails(t *testing.T) {
	reg := bus.NewRegistry()
	err := reg.RegisterMigration("ghost", 1, func(p []byte, v string) ([]byte, error) { return p, nil })
	require.Error(t, err)
}

func TestRegistry_CurrentVersionReportsUnknownType(t *testing.T) {
	reg := bus.NewRegistry()
	_, ok := reg.CurrentVersion("ghost")
	require.False(t, ok)
}

func TestRegistry_RegisterAgainReplacesCurrentVersionKeepingMigrations(t *testing.T) {
	reg := bus.NewRegistry()
	require.NoError(t, reg.Register("evt.type", "1.0.0"))
	require.NoError(t, reg.RegisterMigration("evt.type", 1, func(p []byte, v string) ([]byte, error) {
		return []byte(`{"migrated":true}`), nil
	}))
	require.NoError(t, reg.Register("evt.type", "2.0.0"))

	out, ok, err := reg.Accept(bus.EventEnvelope{EventType: "evt.type", SchemaVersion: "1.0.0", Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, string(out), "migrated")
}
