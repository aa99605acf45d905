// Package store provides checkpoint persistence for graph runs: durable
// snapshots keyed by run identity, with optimistic concurrency so a
// resumed run can never silently clobber a concurrent writer.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run has no checkpoint.
var ErrNotFound = errors.New("store: checkpoint not found")

// ErrConflict is returned by Save when expectedVersion does not match the
// version currently on record for the run.
var ErrConflict = errors.New("store: checkpoint version conflict")

// Checkpoint is a durable snapshot of a paused or completed run: the
// frozen message, which node it paused at (empty if the run has
// completed), and a monotonically increasing version used for optimistic
// concurrency control.
type Checkpoint struct {
	RunID     string
	GraphID   string
	NodeID    string
	Message   CheckpointMessage
	// SavedState is the JSON-serializable projection of the paused run's
	// NodeContext.State map (spec.md §3 "saved context"), reconstructed into
	// a fresh NodeContext on resume.
	SavedState map[string]any
	// EnvelopeVersion records the semantic schema version of the Checkpoint
	// shape itself, so a future incompatible change to this struct can be
	// detected on load instead of silently misreading old rows.
	EnvelopeVersion string
	Version         int
	Label           string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// CurrentEnvelopeVersion is stamped onto every Checkpoint saved by this
// package version when the caller does not set one explicitly.
const CurrentEnvelopeVersion = "1.0.0"

// CheckpointMessage is the JSON-serializable projection of graph.Message
// persisted inside a Checkpoint. Store lives below graph in the import
// graph (graph depends on store, never the reverse — see DESIGN.md), so it
// cannot import graph.Message directly; callers convert at the boundary.
type CheckpointMessage struct {
	ID            string
	Content       string
	Metadata      map[string]any
	Sender        string
	ToolCalls     []CheckpointToolCall
	State         string
	CorrelationID string
	RunID         string
	GraphID       string
	NodeID        string
}

// CheckpointToolCall is the JSON-serializable projection of graph.ToolCall.
type CheckpointToolCall struct {
	ID       string
	Name     string
	Args     map[string]any
	Kind     string
	NodeID   string
	Resolved bool
}

// CheckpointStore persists and retrieves Checkpoints keyed by run
// identity. Implementations must make Save atomic with respect to the
// version check: two concurrent Save calls for the same run with the same
// expectedVersion must result in exactly one success and one ErrConflict.
type CheckpointStore interface {
	// Save writes checkpoint, succeeding only if the store's current
	// version for checkpoint.RunID equals expectedVersion (0 for a run with
	// no prior checkpoint). On success the stored version becomes
	// expectedVersion+1. Returns ErrConflict on a version mismatch.
	Save(ctx context.Context, checkpoint Checkpoint, expectedVersion int) error

	// Load retrieves the latest checkpoint for runID, or ErrNotFound.
	Load(ctx context.Context, runID string) (Checkpoint, error)

	// LoadLabel retrieves a specific named checkpoint for runID, or
	// ErrNotFound if no checkpoint with that label exists.
	LoadLabel(ctx context.Context, runID, label string) (Checkpoint, error)

	// Delete removes every checkpoint for runID. Deleting a run with no
	// checkpoints is not an error.
	Delete(ctx context.Context, runID string) error

	// ListExpired returns the run IDs of every checkpoint whose ExpiresAt
	// is non-zero and before olderThan, for caller-driven garbage
	// collection. A zero ExpiresAt means the checkpoint never expires and
	// is never returned here.
	ListExpired(ctx context.Context, olderThan time.Time) ([]string, error)
}
