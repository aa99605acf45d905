package bus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spicelabs/spice/bus"
)

func envWith(meta bus.EventMetadata, correlationID string) bus.EventEnvelope {
	return bus.EventEnvelope{Metadata: meta, CorrelationID: correlationID}
}

func TestAll_MatchesEverything(t *testing.T) {
	require.True(t, bus.All().Matches(bus.EventEnvelope{}))
}

func TestPredicate_WrapsArbitraryFunc(t *testing.T) {
	f := bus.Predicate(func(env bus.EventEnvelope) bool { return env.Channel == "wanted" })
	require.True(t, f.Matches(bus.EventEnvelope{Channel: "wanted"}))
	require.False(t, f.Matches(bus.EventEnvelope{Channel: "other"}))
}

func TestMetadataEquals_MatchesCustomKey(t *testing.T) {
	f := bus.MetadataEquals("tenant", "acme")
	require.True(t, f.Matches(envWith(bus.EventMetadata{Custom: map[string]any{"tenant": "acme"}}, "")))
	require.False(t, f.Matches(envWith(bus.EventMetadata{Custom: map[string]any{"tenant": "other"}}, "")))
	require.False(t, f.Matches(envWith(bus.EventMetadata{}, "")))
}

func TestUserIDAndTenantIDAndCorrelationID(t *testing.T) {
	require.True(t, bus.UserID("alice").Matches(envWith(bus.EventMetadata{UserID: "alice"}, "")))
	require.False(t, bus.UserID("alice").Matches(envWith(bus.EventMetadata{UserID: "bob"}, "")))
	require.True(t, bus.TenantID("acme").Matches(envWith(bus.EventMetadata{TenantID: "acme"}, "")))
	require.True(t, bus.CorrelationID("r1").Matches(envWith(bus.EventMetadata{}, "r1")))
}

func TestAnd_RequiresAllFilters(t *testing.T) {
	env := envWith(bus.EventMetadata{UserID: "alice", TenantID: "acme"}, "")
	require.True(t, bus.And(bus.UserID("alice"), bus.TenantID("acme")).Matches(env))
	require.False(t, bus.And(bus.UserID("alice"), bus.TenantID("other")).Matches(env))
}

func TestOr_MatchesAnyFilterAndEmptyMatchesNothing(t *testing.T) {
	env := envWith(bus.EventMetadata{UserID: "alice"}, "")
	require.True(t, bus.Or(bus.UserID("bob"), bus.UserID("alice")).Matches(env))
	require.False(t, bus.Or().Matches(env))
}

func TestNot_InvertsFilter(t *testing.T) {
	env := envWith(bus.EventMetadata{UserID: "alice"}, "")
	require.False(t, bus.Not(bus.UserID("alice")).Matches(env))
	require.True(t, bus.Not(bus.UserID("bob")).Matches(env))
}
