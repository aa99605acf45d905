package graph

import (
	"context"
	"fmt"
)

// defaultMaxSubgraphDepth is the fallback depth cap when Options.MaxSubgraphDepth
// is left at zero, per spec.md §4.4.
const defaultMaxSubgraphDepth = 8

// SubGraphNode recursively runs a nested Graph as a single step of the
// parent run, sharing the parent Runner's registries, event bus, and
// checkpoint store. It is the composition primitive spec.md §4.4
// describes: a subgraph looks like any other node from the outside.
type SubGraphNode struct {
	NodeID string
	Child  *Graph

	// runner builds the child Runner lazily from the parent's collaborators
	// the first time this node runs, then reuses it.
	runner *Runner
}

// NewSubGraphNode constructs a SubGraphNode wrapping child. The child
// Runner is built from the parent's options the first time Run is called,
// via Runner.childRunner.
func NewSubGraphNode(nodeID string, child *Graph) *SubGraphNode {
	return &SubGraphNode{NodeID: nodeID, Child: child}
}

// ID implements Node.
func (n *SubGraphNode) ID() string { return n.NodeID }

// Run implements Node. The parent Runner injects itself as nc.parentRunner
// before invoking Run so the child can be built sharing collaborators;
// ordinary NodeFunc/AgentNode/ToolNode nodes never need this.
func (n *SubGraphNode) Run(ctx context.Context, nc NodeContext) (NodeResult, error) {
	maxDepth := nc.parentRunner.maxSubgraphDepth()
	if nc.subgraphDepth+1 > maxDepth {
		return NodeResult{}, &SubgraphDepthExceeded{NodeID: n.NodeID, Depth: nc.subgraphDepth + 1, MaxDepth: maxDepth}
	}

	if n.runner == nil {
		n.runner = nc.parentRunner.childRunner(n.Child)
	}

	childMsg := nc.Message
	result, err := n.runner.executeAt(ctx, childMsg, nc.subgraphDepth+1)
	if err != nil {
		return NodeResult{}, err
	}

	// A paused child does not produce a normal result: it bubbles up as the
	// SubGraphNode's own HITL pause, carrying the child's own tool-call id
	// forward unchanged so Runner.Resume can later delegate the matching
	// answer back down into this child (see Runner.resumeSubgraph).
	if result.State == StateWaitingHitl {
		call, ok := result.PendingHitlCall()
		if !ok {
			return NodeResult{}, fmt.Errorf("subgraph node %q: child paused with no pending HITL call", n.NodeID)
		}
		prompt, _ := call.Args["prompt"].(string)
		options, _ := call.Args["options"].([]string)
		return NodeResult{Hitl: &WaitingHitl{
			ToolCallID: call.ID,
			Prompt:     prompt,
			Kind:       call.Kind,
			Options:    options,
		}}, nil
	}

	return NodeResult{
		Data:     result.Content,
		Metadata: map[string]any{"subgraph": n.Child.ID(), "subgraph_state": result.State},
	}, nil
}
