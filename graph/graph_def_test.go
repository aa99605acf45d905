package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func noop(id string) Node {
	return NodeFunc{NodeID: id, Fn: func(_ context.Context, _ NodeContext) (NodeResult, error) {
		return NodeResult{}, nil
	}}
}

func TestBuild_EmptyGraphRejected(t *testing.T) {
	_, err := NewBuilder("empty").Build()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Problems, "graph has no nodes")
}

func TestBuild_MissingEntryPointRejected(t *testing.T) {
	_, err := NewBuilder("g").AddNode(noop("A")).Build()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Problems, "graph has no entry point")
}

func TestBuild_UnknownEntryPointRejected(t *testing.T) {
	_, err := NewBuilder("g").AddNode(noop("A")).Entry("B").Build()
	require.Error(t, err)
}

func TestBuild_EdgeToWildcardRejected(t *testing.T) {
	_, err := NewBuilder("g").
		AddNode(noop("A")).
		AddEdge("A", WildcardNode, nil).
		Entry("A").
		Build()
	require.Error(t, err)
}

func TestBuild_EdgeReferencingUnknownNodesRejected(t *testing.T) {
	_, err := NewBuilder("g").
		AddNode(noop("A")).
		AddEdge("A", "ghost", nil).
		Entry("A").
		Build()
	require.Error(t, err)

	_, err = NewBuilder("g2").
		AddNode(noop("A")).
		AddEdge("ghost", "A", nil).
		Entry("A").
		Build()
	require.Error(t, err)
}

func TestBuild_CycleRejectedUnlessAllowed(t *testing.T) {
	_, err := NewBuilder("g").
		AddNode(noop("A")).
		AddNode(noop("B")).
		AddEdge("A", "B", nil).
		AddEdge("B", "A", nil).
		Entry("A").
		Build()
	require.Error(t, err)

	g, err := NewBuilder("g2").
		AddNode(noop("A")).
		AddNode(noop("B")).
		AddEdge("A", "B", nil).
		AddEdge("B", "A", nil).
		AllowCycles(true).
		Entry("A").
		Build()
	require.NoError(t, err)
	require.True(t, g.AllowsCycles())
}

func TestBuild_UnreachableNodeRejected(t *testing.T) {
	_, err := NewBuilder("g").
		AddNode(noop("A")).
		AddNode(noop("island")).
		Entry("A").
		Build()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Problems, 1)
}

func TestBuild_WildcardEdgeSatisfiesReachability(t *testing.T) {
	g, err := NewBuilder("g").
		AddNode(noop("A")).
		AddNode(noop("fallback")).
		AddEdge(WildcardNode, "fallback", nil).
		Entry("A").
		Build()
	require.NoError(t, err)
	require.NotNil(t, g)
}

func TestBuild_AccumulatesMultipleProblems(t *testing.T) {
	_, err := NewBuilder("g").Entry("missing").Build()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.GreaterOrEqual(t, len(verr.Problems), 2)
}

func TestGraph_EdgesFromOrdersDirectBeforeWildcard(t *testing.T) {
	g, err := NewBuilder("g").
		AddNode(noop("A")).
		AddNode(noop("B")).
		AddNode(noop("C")).
		AddEdge(WildcardNode, "C", nil).
		AddEdge("A", "B", nil).
		Entry("A").
		Build()
	require.NoError(t, err)

	edges := g.EdgesFrom("A")
	require.Len(t, edges, 2)
	require.Equal(t, "B", edges[0].To)
	require.Equal(t, "C", edges[1].To)
}

func TestGraph_StringIncludesIdentity(t *testing.T) {
	g, err := NewBuilder("g").AddNode(noop("A")).Entry("A").Build()
	require.NoError(t, err)
	require.Contains(t, g.String(), "g")
	require.Contains(t, g.String(), "A")
}
