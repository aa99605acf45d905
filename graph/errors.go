package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no structured payload, matching
// the teacher's errors.go convention of plain errors.New values alongside
// struct error types for anything that needs fields.
var (
	// ErrSubgraphDepthExceeded is wrapped by *SubgraphDepthExceeded; kept as a
	// sentinel too so callers can errors.Is against it without the struct.
	ErrSubgraphDepthExceeded = errors.New("graph: subgraph depth exceeded")

	// ErrAlreadyResumed is returned by Runner.Resume when called again for a
	// run whose checkpoint is already in a terminal state.
	ErrAlreadyResumed = errors.New("graph: run already resumed to completion")

	// ErrNoApplicableEdge is returned when a node completes but no outgoing
	// edge (including wildcard edges) evaluates true and the node result did
	// not provide an explicit Next override.
	ErrNoApplicableEdge = errors.New("graph: no applicable outgoing edge")

	// ErrRunCancelled is returned when a run observes its cancellation flag
	// set at one of the runner's defined suspension points.
	ErrRunCancelled = errors.New("graph: run cancelled")
)

// ValidationError aggregates every problem GraphValidator found in a single
// graph, rather than stopping at the first. Problems are accumulated, not
// short-circuited, mirroring the teacher's RetryPolicy.Validate /
// EngineError multi-field style.
type ValidationError struct {
	GraphID  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("graph %q failed validation: %d problem(s): %v", e.GraphID, len(e.Problems), e.Problems)
}

// NodeFailure wraps an error returned by a Node.Run call with the node id
// and run id it occurred in, the struct-error shape the teacher uses for
// *NodeError / *EngineError.
type NodeFailure struct {
	RunID  string
	NodeID string
	Cause  error
}

func (e *NodeFailure) Error() string {
	return fmt.Sprintf("node %q failed in run %q: %v", e.NodeID, e.RunID, e.Cause)
}

func (e *NodeFailure) Unwrap() error { return e.Cause }

// NodeTimeout is returned when a node's execution exceeds its effective
// timeout (node policy, else engine default, else unlimited per §4.5).
type NodeTimeout struct {
	RunID   string
	NodeID  string
	Timeout string
}

func (e *NodeTimeout) Error() string {
	return fmt.Sprintf("node %q in run %q exceeded timeout %s", e.NodeID, e.RunID, e.Timeout)
}

// CheckpointNotFound is returned by Runner.Resume (and HitlCoordinator.Resume)
// when no resumable checkpoint exists for the requested run or tool call.
// CheckpointStore implementations report a missing checkpoint as
// store.ErrNotFound instead.
type CheckpointNotFound struct {
	RunID string
}

func (e *CheckpointNotFound) Error() string {
	return fmt.Sprintf("no checkpoint found for run %q", e.RunID)
}

// CheckpointWriteFailed wraps a low-level storage error encountered while
// saving a checkpoint.
type CheckpointWriteFailed struct {
	RunID string
	Cause error
}

func (e *CheckpointWriteFailed) Error() string {
	return fmt.Sprintf("failed to write checkpoint for run %q: %v", e.RunID, e.Cause)
}

func (e *CheckpointWriteFailed) Unwrap() error { return e.Cause }

// ConcurrencyConflict is returned by a CheckpointStore's Save when the
// caller's expectedVersion does not match the version currently stored,
// the optimistic-concurrency analogue of the teacher's idempotency-key
// uniqueness violation.
type ConcurrencyConflict struct {
	RunID           string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("checkpoint conflict for run %q: expected version %d, found %d", e.RunID, e.ExpectedVersion, e.ActualVersion)
}

// BusPublishFailed wraps a low-level transport error encountered while
// publishing an event envelope.
type BusPublishFailed struct {
	Channel string
	Cause   error
}

func (e *BusPublishFailed) Error() string {
	return fmt.Sprintf("failed to publish to channel %q: %v", e.Channel, e.Cause)
}

func (e *BusPublishFailed) Unwrap() error { return e.Cause }

// DecodeFailure wraps an error encountered while decoding a received event
// envelope's payload against its registered schema.
type DecodeFailure struct {
	Channel string
	Cause   error
}

func (e *DecodeFailure) Error() string {
	return fmt.Sprintf("failed to decode event on channel %q: %v", e.Channel, e.Cause)
}

func (e *DecodeFailure) Unwrap() error { return e.Cause }

// SubgraphDepthExceeded is returned by SubGraphNode when running the child
// graph would exceed Options.MaxSubgraphDepth.
type SubgraphDepthExceeded struct {
	NodeID   string
	Depth    int
	MaxDepth int
}

func (e *SubgraphDepthExceeded) Error() string {
	return fmt.Sprintf("subgraph node %q at depth %d exceeds max depth %d", e.NodeID, e.Depth, e.MaxDepth)
}

func (e *SubgraphDepthExceeded) Unwrap() error { return ErrSubgraphDepthExceeded }
