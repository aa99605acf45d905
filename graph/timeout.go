package graph

import (
	"context"
	"time"
)

// effectiveTimeout resolves the timeout precedence from spec.md §4.5:
// per-node policy overrides the runner's default, which overrides no
// timeout at all.
func effectiveTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// runNodeWithTimeout wraps a single Node.Run call with the resolved
// timeout, returning *NodeTimeout if the node did not finish in time.
func runNodeWithTimeout(
	ctx context.Context,
	node Node,
	nc NodeContext,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) (NodeResult, error) {
	timeout := effectiveTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return node.Run(ctx, nc)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := node.Run(timeoutCtx, nc)
	if err != nil && timeoutCtx.Err() == context.DeadlineExceeded {
		return result, &NodeTimeout{RunID: nc.RunID, NodeID: node.ID(), Timeout: timeout.String()}
	}
	return result, err
}
