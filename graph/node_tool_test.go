package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name     string
	result   ToolResult
	err      error
	captured *map[string]any
}

func (s stubTool) Name() string           { return s.name }
func (s stubTool) Schema() map[string]any { return nil }
func (s stubTool) Execute(_ context.Context, params map[string]any) (ToolResult, error) {
	if s.captured != nil {
		*s.captured = params
	}
	return s.result, s.err
}

func TestToolNode_UnknownToolFails(t *testing.T) {
	n := NewToolNode("t", "missing", NewToolRegistry(nil))
	_, err := n.Run(context.Background(), NodeContext{NodeID: "t"})
	require.Error(t, err)
}

func TestToolNode_SuccessCarriesResultAndMetadata(t *testing.T) {
	reg := NewToolRegistry(map[string]Tool{
		"echo": stubTool{name: "echo", result: ToolResult{Outcome: ToolSuccess, Result: map[string]any{"x": 1}}},
	})
	n := NewToolNode("t", "echo", reg)
	result, err := n.Run(context.Background(), NodeContext{NodeID: "t"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"x": 1}, result.Data)
	require.Equal(t, "echo", result.Metadata["tool"])
}

func TestToolNode_ParamsFuncDerivesCallParams(t *testing.T) {
	var captured map[string]any
	reg := NewToolRegistry(map[string]Tool{
		"echo": stubTool{name: "echo", result: ToolResult{Outcome: ToolSuccess}, captured: &captured},
	})
	n := NewToolNode("t", "echo", reg).WithParams(func(nc NodeContext) map[string]any {
		return map[string]any{"from": nc.NodeID}
	})
	_, err := n.Run(context.Background(), NodeContext{NodeID: "worker"})
	require.NoError(t, err)
	require.Equal(t, "worker", captured["from"])
}

func TestToolNode_NoParamsFuncCallsWithNilParams(t *testing.T) {
	captured := map[string]any{"untouched": true}
	reg := NewToolRegistry(map[string]Tool{
		"echo": stubTool{name: "echo", result: ToolResult{Outcome: ToolSuccess}, captured: &captured},
	})
	n := NewToolNode("t", "echo", reg)
	_, err := n.Run(context.Background(), NodeContext{NodeID: "t"})
	require.NoError(t, err)
	require.Nil(t, captured)
}

func TestToolNode_WaitingHitlSurfacesAsHitlPause(t *testing.T) {
	reg := NewToolRegistry(map[string]Tool{
		"ask": stubTool{name: "ask", result: ToolResult{
			Outcome: ToolWaitingHitl,
			Hitl:    &WaitingHitl{Prompt: "confirm?", Kind: "hitl.confirmation"},
		}},
	})
	n := NewToolNode("t", "ask", reg)
	result, err := n.Run(context.Background(), NodeContext{NodeID: "t"})
	require.NoError(t, err)
	require.NotNil(t, result.Hitl)
	require.Equal(t, "confirm?", result.Hitl.Prompt)
}

func TestToolNode_FailureOutcomeBecomesNodeFailure(t *testing.T) {
	cause := errors.New("downstream unavailable")
	reg := NewToolRegistry(map[string]Tool{
		"flaky": stubTool{name: "flaky", result: ToolResult{Outcome: ToolFailure, Err: cause}},
	})
	n := NewToolNode("t", "flaky", reg)
	_, err := n.Run(context.Background(), NodeContext{NodeID: "t", RunID: "r1"})
	require.Error(t, err)
	var nf *NodeFailure
	require.ErrorAs(t, err, &nf)
	require.ErrorIs(t, nf, cause)
}

func TestToolNode_ExecuteErrorWraps(t *testing.T) {
	reg := NewToolRegistry(map[string]Tool{
		"broken": stubTool{name: "broken", err: errors.New("transport down")},
	})
	n := NewToolNode("t", "broken", reg)
	_, err := n.Run(context.Background(), NodeContext{NodeID: "t"})
	require.Error(t, err)
}

func TestToolNode_UnrecognizedOutcomeFails(t *testing.T) {
	reg := NewToolRegistry(map[string]Tool{
		"weird": stubTool{name: "weird", result: ToolResult{Outcome: ToolOutcome(99)}},
	})
	n := NewToolNode("t", "weird", reg)
	_, err := n.Run(context.Background(), NodeContext{NodeID: "t"})
	require.Error(t, err)
}

func TestToolNode_PolicyDefaultsToZeroValue(t *testing.T) {
	n := NewToolNode("t", "x", NewToolRegistry(nil))
	require.Equal(t, NodePolicy{}, n.Policy())
}
