package graph

import "context"

// OutputFunc transforms the node context into the run's final output data.
type OutputFunc func(ctx context.Context, nc NodeContext) (any, error)

// OutputNode is a terminal node: it always returns Stop(), ending the run
// successfully once it completes. A graph may have more than one
// OutputNode reachable along different paths.
type OutputNode struct {
	NodeID  string
	Produce OutputFunc
}

// NewOutputNode constructs an OutputNode.
func NewOutputNode(nodeID string, produce OutputFunc) *OutputNode {
	return &OutputNode{NodeID: nodeID, Produce: produce}
}

// ID implements Node.
func (n *OutputNode) ID() string { return n.NodeID }

// Run implements Node.
func (n *OutputNode) Run(ctx context.Context, nc NodeContext) (NodeResult, error) {
	data, err := n.Produce(ctx, nc)
	if err != nil {
		return NodeResult{}, err
	}
	stop := Stop()
	return NodeResult{Data: data, Next: &stop}, nil
}
