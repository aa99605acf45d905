package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutputNode_AlwaysStopsTraversal(t *testing.T) {
	n := NewOutputNode("out", func(_ context.Context, _ NodeContext) (any, error) {
		return "final answer", nil
	})
	result, err := n.Run(context.Background(), NodeContext{NodeID: "out"})
	require.NoError(t, err)
	require.Equal(t, "final answer", result.Data)
	require.NotNil(t, result.Next)
	require.True(t, result.Next.Terminal)
}

func TestOutputNode_ProduceErrorPropagates(t *testing.T) {
	cause := errors.New("could not render output")
	n := NewOutputNode("out", func(_ context.Context, _ NodeContext) (any, error) {
		return nil, cause
	})
	_, err := n.Run(context.Background(), NodeContext{NodeID: "out"})
	require.ErrorIs(t, err, cause)
}
