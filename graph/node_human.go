package graph

import "context"

// HumanPromptFunc builds the prompt shown to a human reviewer from the
// current node context.
type HumanPromptFunc func(nc NodeContext) (prompt string, kind string, options []string)

// HumanNode pauses the run for a human decision. Its ToolCallID is left
// empty here; the Runner assigns the stable hitl_{runId}_{nodeId}_{n} id
// before checkpointing and publishing, since only the runner tracks the
// per-node invocation counter a resumed run needs to stay idempotent.
type HumanNode struct {
	NodeID string
	Prompt HumanPromptFunc
}

// NewHumanNode constructs a HumanNode.
func NewHumanNode(nodeID string, prompt HumanPromptFunc) *HumanNode {
	return &HumanNode{NodeID: nodeID, Prompt: prompt}
}

// ID implements Node.
func (n *HumanNode) ID() string { return n.NodeID }

// Run implements Node: it always returns a Hitl pause marker. The
// responding human's answer arrives later through Runner.Resume.
func (n *HumanNode) Run(_ context.Context, nc NodeContext) (NodeResult, error) {
	prompt, kind, options := n.Prompt(nc)
	return NodeResult{
		Hitl: &WaitingHitl{
			Prompt:  prompt,
			Kind:    kind,
			Options: options,
		},
	}, nil
}
