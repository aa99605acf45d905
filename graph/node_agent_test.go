package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubAgent struct {
	ready bool
	reply Message
	err   error
}

func (a stubAgent) ProcessMessage(_ context.Context, _ Message) (Message, error) {
	return a.reply, a.err
}
func (a stubAgent) Capabilities() []string       { return []string{"chat"} }
func (a stubAgent) IsReady(_ context.Context) bool { return a.ready }

func TestAgentNode_UnknownAgentFails(t *testing.T) {
	n := NewAgentNode("a", "missing", NewAgentRegistry(nil))
	_, err := n.Run(context.Background(), NodeContext{NodeID: "a"})
	require.Error(t, err)
}

func TestAgentNode_NotReadyFails(t *testing.T) {
	reg := NewAgentRegistry(map[string]Agent{"chatbot": stubAgent{ready: false}})
	n := NewAgentNode("a", "chatbot", reg)
	_, err := n.Run(context.Background(), NodeContext{NodeID: "a"})
	require.Error(t, err)
}

func TestAgentNode_ProcessErrorWraps(t *testing.T) {
	cause := errors.New("model unavailable")
	reg := NewAgentRegistry(map[string]Agent{"chatbot": stubAgent{ready: true, err: cause}})
	n := NewAgentNode("a", "chatbot", reg)
	_, err := n.Run(context.Background(), NodeContext{NodeID: "a"})
	require.Error(t, err)
	require.ErrorIs(t, err, cause)
}

func TestAgentNode_SuccessCarriesReplyContentAndMetadata(t *testing.T) {
	reply := Message{ID: "reply-1", Content: "hello there"}
	reg := NewAgentRegistry(map[string]Agent{"chatbot": stubAgent{ready: true, reply: reply}})
	n := NewAgentNode("a", "chatbot", reg)
	result, err := n.Run(context.Background(), NodeContext{NodeID: "a", Message: NewMessage("m1", "hi")})
	require.NoError(t, err)
	require.Equal(t, "hello there", result.Data)
	require.Equal(t, "chatbot", result.Metadata["agent"])
	require.Equal(t, "reply-1", result.Metadata["reply_id"])
}

func TestAgentNode_PolicyDefaultsToZeroValue(t *testing.T) {
	n := NewAgentNode("a", "x", NewAgentRegistry(nil))
	require.Equal(t, NodePolicy{}, n.Policy())
}
