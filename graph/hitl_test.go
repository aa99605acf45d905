package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spicelabs/spice/graph/store"
)

func buildHitlGraph(t *testing.T) (*Graph, *store.MemStore) {
	t.Helper()
	g, err := NewBuilder("hitl").
		AddNode(NewHumanNode("ask", func(nc NodeContext) (string, string, []string) {
			return "confirm?", "hitl.confirmation", []string{"yes", "no"}
		})).
		AddNode(step("after", func(nc NodeContext) (NodeResult, error) {
			return NodeResult{Data: "ok"}, nil
		})).
		AddEdge("ask", "after", nil).
		Entry("ask").
		Build()
	require.NoError(t, err)
	return g, store.NewMemStore()
}

func TestHitlCoordinator_LenientAcceptsAnyValue(t *testing.T) {
	g, memStore := buildHitlGraph(t)
	r, err := New(g, Options{Store: memStore})
	require.NoError(t, err)
	coord := NewHitlCoordinator(r, OptionsLenient)

	paused, err := r.Execute(context.Background(), NewMessage("h1", "go"))
	require.NoError(t, err)
	call, _ := paused.PendingHitlCall()

	final, err := coord.Resume(context.Background(), paused.RunID, call.ID, HumanResponse{Value: "whatever"})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, final.State)
}

func TestHitlCoordinator_StrictRejectsUnknownOption(t *testing.T) {
	g, memStore := buildHitlGraph(t)
	r, err := New(g, Options{Store: memStore})
	require.NoError(t, err)
	coord := NewHitlCoordinator(r, OptionsStrict)

	paused, err := r.Execute(context.Background(), NewMessage("h2", "go"))
	require.NoError(t, err)
	call, _ := paused.PendingHitlCall()

	_, err = coord.Resume(context.Background(), paused.RunID, call.ID, HumanResponse{Value: "maybe"})
	require.Error(t, err)
	var notAnOption *ErrResponseNotAnOption
	require.ErrorAs(t, err, &notAnOption)
	require.Equal(t, []string{"yes", "no"}, notAnOption.Options)
}

func TestHitlCoordinator_StrictAcceptsDeclaredOption(t *testing.T) {
	g, memStore := buildHitlGraph(t)
	r, err := New(g, Options{Store: memStore})
	require.NoError(t, err)
	coord := NewHitlCoordinator(r, OptionsStrict)

	paused, err := r.Execute(context.Background(), NewMessage("h3", "go"))
	require.NoError(t, err)
	call, _ := paused.PendingHitlCall()

	final, err := coord.Resume(context.Background(), paused.RunID, call.ID, HumanResponse{Value: "yes"})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, final.State)
}

func TestRunner_ResumeAlreadyCompletedReportsErrAlreadyResumed(t *testing.T) {
	g, memStore := buildHitlGraph(t)
	r, err := New(g, Options{Store: memStore})
	require.NoError(t, err)

	paused, err := r.Execute(context.Background(), NewMessage("h4", "go"))
	require.NoError(t, err)
	call, _ := paused.PendingHitlCall()

	final, err := r.Resume(context.Background(), paused.RunID, call.ID, HumanResponse{Value: "yes"})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, final.State)

	// Checkpoint was cleared on completion, so a duplicate resume now finds
	// no checkpoint at all rather than a terminal one.
	_, err = r.Resume(context.Background(), paused.RunID, call.ID, HumanResponse{Value: "yes"})
	require.Error(t, err)
	var notFound *CheckpointNotFound
	require.ErrorAs(t, err, &notFound)
}
