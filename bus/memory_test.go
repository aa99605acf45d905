package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spicelabs/spice/bus"
)

type toolCallEmitted struct {
	ToolCallID string `json:"tool_call_id"`
	Prompt     string `json:"prompt"`
}

func newDeclaredBus(t *testing.T) *bus.MemoryBus {
	t.Helper()
	reg := bus.NewRegistry()
	require.NoError(t, reg.Register("spice.toolcall_emitted", "1.0.0"))

	b := bus.NewMemoryBus(reg)
	for _, cfg := range bus.StandardChannels() {
		require.NoError(t, b.DeclareChannel(cfg))
	}
	return b
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := newDeclaredBus(t)
	sub, err := b.Subscribe(context.Background(), bus.ChannelToolCallEvents, bus.All())
	require.NoError(t, err)
	defer sub.Close()

	_, err = b.Publish(context.Background(), bus.ChannelToolCallEvents, "spice.toolcall_emitted", "1.0.0",
		toolCallEmitted{ToolCallID: "hitl_r1_H_0", Prompt: "approve?"}, bus.EventMetadata{})
	require.NoError(t, err)

	select {
	case event := <-sub.Events:
		var decoded toolCallEmitted
		require.NoError(t, event.Decode(&decoded))
		require.Equal(t, "hitl_r1_H_0", decoded.ToolCallID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemoryBusHistoryNewestFirst(t *testing.T) {
	b := newDeclaredBus(t)
	for i := 0; i < 3; i++ {
		_, err := b.Publish(context.Background(), bus.ChannelToolCallEvents, "spice.toolcall_emitted", "1.0.0",
			toolCallEmitted{ToolCallID: "call"}, bus.EventMetadata{})
		require.NoError(t, err)
	}
	history, err := b.History(bus.ChannelToolCallEvents, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.True(t, history[0].Timestamp.After(history[1].Timestamp) || history[0].Timestamp.Equal(history[1].Timestamp))
}

// TestMemoryBusDeadLetterOnUnknownSchema is scenario S6 from spec.md §8: a
// publish whose schema version the registry has no entry for routes to
// dead-letter and never reaches the original channel's subscribers.
func TestMemoryBusDeadLetterOnUnknownSchema(t *testing.T) {
	b := newDeclaredBus(t)

	channelSub, err := b.Subscribe(context.Background(), bus.ChannelToolCallEvents, bus.All())
	require.NoError(t, err)
	defer channelSub.Close()

	dlqSub, err := b.Subscribe(context.Background(), bus.ChannelDeadLetter, bus.All())
	require.NoError(t, err)
	defer dlqSub.Close()

	_, err = b.Publish(context.Background(), bus.ChannelToolCallEvents, "spice.toolcall_emitted", "99.0.0",
		toolCallEmitted{ToolCallID: "call"}, bus.EventMetadata{})
	require.NoError(t, err) // Publish succeeds at the transport level.

	select {
	case event := <-dlqSub.Events:
		require.Equal(t, bus.ChannelDeadLetter, event.Envelope.Channel)
		require.Equal(t, bus.ChannelToolCallEvents, event.Envelope.Metadata.Custom["original_channel"])
	case <-time.After(time.Second):
		t.Fatal("expected exactly one dead-letter event")
	}

	select {
	case <-channelSub.Events:
		t.Fatal("expected zero events on the original channel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusFilterByUserID(t *testing.T) {
	b := newDeclaredBus(t)
	sub, err := b.Subscribe(context.Background(), bus.ChannelToolCallEvents, bus.UserID("alice"))
	require.NoError(t, err)
	defer sub.Close()

	_, err = b.Publish(context.Background(), bus.ChannelToolCallEvents, "spice.toolcall_emitted", "1.0.0",
		toolCallEmitted{ToolCallID: "not-alice"}, bus.EventMetadata{UserID: "bob"})
	require.NoError(t, err)
	_, err = b.Publish(context.Background(), bus.ChannelToolCallEvents, "spice.toolcall_emitted", "1.0.0",
		toolCallEmitted{ToolCallID: "alice-call"}, bus.EventMetadata{UserID: "alice"})
	require.NoError(t, err)

	select {
	case event := <-sub.Events:
		var decoded toolCallEmitted
		require.NoError(t, event.Decode(&decoded))
		require.Equal(t, "alice-call", decoded.ToolCallID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case <-sub.Events:
		t.Fatal("expected only one matching event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistryMigrationAcrossMajor(t *testing.T) {
	reg := bus.NewRegistry()
	require.NoError(t, reg.Register("spice.toolcall_emitted", "2.0.0"))
	require.NoError(t, reg.RegisterMigration("spice.toolcall_emitted", 1, func(payload []byte, fromVersion string) ([]byte, error) {
		return []byte(`{"migrated_from":"` + fromVersion + `"}`), nil
	}))

	env, err := bus.NewEnvelope(bus.ChannelToolCallEvents, "spice.toolcall_emitted", "1.2.0", toolCallEmitted{ToolCallID: "old"}, bus.EventMetadata{})
	require.NoError(t, err)

	payload, ok, err := reg.Accept(env)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, string(payload), "migrated_from")
}
