package graph

import (
	"context"
	"fmt"
)

// AgentNode delegates a message to a named Agent collaborator and carries
// the agent's reply forward as the node's result data. It never talks to
// an LLM client directly — that lives behind the Agent interface entirely
// outside this module, per spec.md §6.
type AgentNode struct {
	NodeID    string
	AgentName string
	Registry  AgentRegistry
	policy    *NodePolicy
}

// NewAgentNode constructs an AgentNode that resolves agentName out of reg
// when run.
func NewAgentNode(nodeID, agentName string, reg AgentRegistry) *AgentNode {
	return &AgentNode{NodeID: nodeID, AgentName: agentName, Registry: reg}
}

// WithPolicy attaches a NodePolicy and returns the receiver for chaining.
func (n *AgentNode) WithPolicy(p NodePolicy) *AgentNode {
	n.policy = &p
	return n
}

// ID implements Node.
func (n *AgentNode) ID() string { return n.NodeID }

// Policy implements the optional Policy interface.
func (n *AgentNode) Policy() NodePolicy {
	if n.policy == nil {
		return NodePolicy{}
	}
	return *n.policy
}

// Run implements Node: it resolves the agent, checks readiness, and
// forwards the context's current message.
func (n *AgentNode) Run(ctx context.Context, nc NodeContext) (NodeResult, error) {
	agent, ok := n.Registry.Agent(n.AgentName)
	if !ok {
		return NodeResult{}, fmt.Errorf("agent node %q: unknown agent %q", n.NodeID, n.AgentName)
	}
	if !agent.IsReady(ctx) {
		return NodeResult{}, fmt.Errorf("agent node %q: agent %q is not ready", n.NodeID, n.AgentName)
	}

	reply, err := agent.ProcessMessage(ctx, nc.Message)
	if err != nil {
		return NodeResult{}, fmt.Errorf("agent node %q: %w", n.NodeID, err)
	}

	return NodeResult{
		Data:     reply.Content,
		Metadata: map[string]any{"agent": n.AgentName, "reply_id": reply.ID},
	}, nil
}
