package graph

import "context"

// DecisionFunc inspects the node context and returns the id of the node to
// route to next. An empty return string lets ordinary edge evaluation
// decide instead.
type DecisionFunc func(ctx context.Context, nc NodeContext) (string, error)

// DecisionNode routes explicitly to one of several possible next nodes
// based on arbitrary logic, rather than a declarative Guard on an Edge.
// Use it when the routing decision needs more than a pure predicate over
// the prior NodeResult (e.g. a multi-way branch, or a branch that reads
// accumulated State rather than just the immediately preceding result).
type DecisionNode struct {
	NodeID string
	Decide DecisionFunc
}

// NewDecisionNode constructs a DecisionNode.
func NewDecisionNode(nodeID string, decide DecisionFunc) *DecisionNode {
	return &DecisionNode{NodeID: nodeID, Decide: decide}
}

// ID implements Node.
func (n *DecisionNode) ID() string { return n.NodeID }

// Run implements Node: it evaluates Decide and turns a non-empty choice
// into a Next override; an empty choice leaves routing to edge evaluation.
func (n *DecisionNode) Run(ctx context.Context, nc NodeContext) (NodeResult, error) {
	choice, err := n.Decide(ctx, nc)
	if err != nil {
		return NodeResult{}, err
	}
	result := NodeResult{Metadata: map[string]any{"decision": choice}}
	if choice != "" {
		next := Goto(choice)
		result.Next = &next
	}
	return result, nil
}
