package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHumanNode_RunAlwaysReturnsHitlPause(t *testing.T) {
	n := NewHumanNode("ask", func(nc NodeContext) (string, string, []string) {
		return "pick one", "hitl.selection", []string{"a", "b"}
	})
	result, err := n.Run(context.Background(), NodeContext{NodeID: "ask"})
	require.NoError(t, err)
	require.NotNil(t, result.Hitl)
	require.Equal(t, "pick one", result.Hitl.Prompt)
	require.Equal(t, "hitl.selection", result.Hitl.Kind)
	require.Equal(t, []string{"a", "b"}, result.Hitl.Options)
	require.Empty(t, result.Hitl.ToolCallID)
}

func TestHumanNode_PromptFuncReceivesNodeContext(t *testing.T) {
	var seenNodeID string
	n := NewHumanNode("ask", func(nc NodeContext) (string, string, []string) {
		seenNodeID = nc.NodeID
		return "confirm?", "hitl.confirmation", nil
	})
	_, err := n.Run(context.Background(), NodeContext{NodeID: "ask"})
	require.NoError(t, err)
	require.Equal(t, "ask", seenNodeID)
}
