package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	cp := Checkpoint{
		RunID:      "r1",
		GraphID:    "g1",
		NodeID:     "ask",
		Message:    CheckpointMessage{ID: "m1", Content: "hello", State: "waiting_hitl"},
		SavedState: map[string]any{"k": "v"},
	}
	require.NoError(t, s.Save(ctx, cp, 0))

	loaded, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "ask", loaded.NodeID)
	require.Equal(t, "hello", loaded.Message.Content)
	require.Equal(t, "v", loaded.SavedState["k"])
	require.Equal(t, 1, loaded.Version)
}

func TestSQLiteStore_LoadNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.Load(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_VersionConflict(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	cp := Checkpoint{RunID: "r1", Message: CheckpointMessage{ID: "m1"}}
	require.NoError(t, s.Save(ctx, cp, 0))

	err := s.Save(ctx, cp, 0)
	require.ErrorIs(t, err, ErrConflict)

	require.NoError(t, s.Save(ctx, cp, 1))
	loaded, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Version)
}

func TestSQLiteStore_InsertConflictOnNonZeroExpectedVersion(t *testing.T) {
	s := newTestSQLiteStore(t)
	// Saving a brand new run with a non-zero expectedVersion is a conflict,
	// not an insert: there is nothing on record to have advanced past 0.
	err := s.Save(context.Background(), Checkpoint{RunID: "never-seen", Message: CheckpointMessage{ID: "m1"}}, 3)
	require.ErrorIs(t, err, ErrConflict)
}

func TestSQLiteStore_LabeledCheckpointsCoexistWithLatest(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first := Checkpoint{RunID: "r1", NodeID: "ask", Label: "g1:call-0", Message: CheckpointMessage{ID: "m1"}}
	require.NoError(t, s.Save(ctx, first, 0))

	second := Checkpoint{RunID: "r1", NodeID: "ask", Label: "g1:call-1", Message: CheckpointMessage{ID: "m2"}}
	require.NoError(t, s.Save(ctx, second, 1))

	byFirst, err := s.LoadLabel(ctx, "r1", "g1:call-0")
	require.NoError(t, err)
	require.Equal(t, "m1", byFirst.Message.ID)

	bySecond, err := s.LoadLabel(ctx, "r1", "g1:call-1")
	require.NoError(t, err)
	require.Equal(t, "m2", bySecond.Message.ID)

	latest, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "m2", latest.Message.ID)
}

func TestSQLiteStore_DeleteRemovesLatestAndLabeled(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Checkpoint{RunID: "r1", Label: "g1:call-0", Message: CheckpointMessage{ID: "m1"}}, 0))

	require.NoError(t, s.Delete(ctx, "r1"))

	_, err := s.Load(ctx, "r1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.LoadLabel(ctx, "r1", "g1:call-0")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListExpired(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Save(ctx, Checkpoint{RunID: "expired", ExpiresAt: now.Add(-time.Hour), Message: CheckpointMessage{ID: "m1"}}, 0))
	require.NoError(t, s.Save(ctx, Checkpoint{RunID: "fresh", ExpiresAt: now.Add(time.Hour), Message: CheckpointMessage{ID: "m2"}}, 0))

	runIDs, err := s.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, []string{"expired"}, runIDs)
}
