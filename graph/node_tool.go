package graph

import (
	"context"
	"fmt"
)

// ToolNode invokes a named Tool collaborator. A tool call that resolves to
// ToolWaitingHitl surfaces as a NodeResult.Hitl pause, handled identically
// to a HumanNode pause by the runner and HITL coordinator.
type ToolNode struct {
	NodeID   string
	ToolName string
	Registry ToolRegistry

	// ParamsFunc derives the tool's call parameters from the node context.
	// If nil, the tool is called with nil params (parameterless tools).
	ParamsFunc func(nc NodeContext) map[string]any

	policy *NodePolicy
}

// NewToolNode constructs a ToolNode that resolves toolName out of reg.
func NewToolNode(nodeID, toolName string, reg ToolRegistry) *ToolNode {
	return &ToolNode{NodeID: nodeID, ToolName: toolName, Registry: reg}
}

// WithParams attaches a ParamsFunc and returns the receiver for chaining.
func (n *ToolNode) WithParams(fn func(nc NodeContext) map[string]any) *ToolNode {
	n.ParamsFunc = fn
	return n
}

// WithPolicy attaches a NodePolicy and returns the receiver for chaining.
func (n *ToolNode) WithPolicy(p NodePolicy) *ToolNode {
	n.policy = &p
	return n
}

// ID implements Node.
func (n *ToolNode) ID() string { return n.NodeID }

// Policy implements the optional Policy interface.
func (n *ToolNode) Policy() NodePolicy {
	if n.policy == nil {
		return NodePolicy{}
	}
	return *n.policy
}

// Run implements Node.
func (n *ToolNode) Run(ctx context.Context, nc NodeContext) (NodeResult, error) {
	t, ok := n.Registry.Tool(n.ToolName)
	if !ok {
		return NodeResult{}, fmt.Errorf("tool node %q: unknown tool %q", n.NodeID, n.ToolName)
	}

	var params map[string]any
	if n.ParamsFunc != nil {
		params = n.ParamsFunc(nc)
	}

	outcome, err := t.Execute(ctx, params)
	if err != nil {
		return NodeResult{}, fmt.Errorf("tool node %q: %w", n.NodeID, err)
	}

	switch outcome.Outcome {
	case ToolSuccess:
		return NodeResult{Data: outcome.Result, Metadata: map[string]any{"tool": n.ToolName}}, nil
	case ToolWaitingHitl:
		return NodeResult{Hitl: outcome.Hitl, Metadata: map[string]any{"tool": n.ToolName}}, nil
	case ToolFailure:
		return NodeResult{}, &NodeFailure{RunID: nc.RunID, NodeID: n.NodeID, Cause: outcome.Err}
	default:
		return NodeResult{}, fmt.Errorf("tool node %q: unrecognized tool outcome %d", n.NodeID, outcome.Outcome)
	}
}
