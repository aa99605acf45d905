package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEffectiveTimeout_PolicyOverridesDefault(t *testing.T) {
	policy := &NodePolicy{Timeout: 5 * time.Second}
	require.Equal(t, 5*time.Second, effectiveTimeout(policy, time.Second))
}

func TestEffectiveTimeout_FallsBackToDefaultWhenNoPolicy(t *testing.T) {
	require.Equal(t, time.Second, effectiveTimeout(nil, time.Second))
	require.Equal(t, time.Second, effectiveTimeout(&NodePolicy{}, time.Second))
}

func TestEffectiveTimeout_ZeroWhenNeitherSet(t *testing.T) {
	require.Equal(t, time.Duration(0), effectiveTimeout(nil, 0))
}

func TestRunNodeWithTimeout_NoTimeoutRunsDirectly(t *testing.T) {
	n := NodeFunc{NodeID: "A", Fn: func(_ context.Context, _ NodeContext) (NodeResult, error) {
		return NodeResult{Data: "ok"}, nil
	}}
	result, err := runNodeWithTimeout(context.Background(), n, NodeContext{}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, "ok", result.Data)
}

func TestRunNodeWithTimeout_DeadlineExceededBecomesNodeTimeout(t *testing.T) {
	n := NodeFunc{NodeID: "slow", Fn: func(ctx context.Context, _ NodeContext) (NodeResult, error) {
		<-ctx.Done()
		return NodeResult{}, ctx.Err()
	}}
	policy := &NodePolicy{Timeout: 5 * time.Millisecond}
	_, err := runNodeWithTimeout(context.Background(), n, NodeContext{RunID: "r1"}, policy, 0)
	require.Error(t, err)
	var nt *NodeTimeout
	require.ErrorAs(t, err, &nt)
	require.Equal(t, "r1", nt.RunID)
	require.Equal(t, "slow", nt.NodeID)
}

func TestRunNodeWithTimeout_NonDeadlineErrorPassesThrough(t *testing.T) {
	n := NodeFunc{NodeID: "A", Fn: func(_ context.Context, _ NodeContext) (NodeResult, error) {
		return NodeResult{}, context.Canceled
	}}
	policy := &NodePolicy{Timeout: time.Second}
	_, err := runNodeWithTimeout(context.Background(), n, NodeContext{}, policy, 0)
	require.ErrorIs(t, err, context.Canceled)
	var nt *NodeTimeout
	require.NotErrorAs(t, err, &nt)
}
