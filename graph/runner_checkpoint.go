package graph

import (
	"context"
	"errors"
	"time"

	"github.com/spicelabs/spice/bus"
	"github.com/spicelabs/spice/graph/store"
)

// invocationCounterStateKey is the reserved key under which runFrom/pause
// stash the per-node invocation counters inside a checkpoint's SavedState,
// alongside the ordinary node-output entries a NodeResult contributes. It is
// stripped back out by restoreInvocationCounters before a resumed run's
// state map is handed to any Node.
const invocationCounterStateKey = "__spice_invocation_counters__"

// pause implements the human-in-the-loop pause path, spec.md §4.5.b:
// mint (or, for a subgraph's child pause bubbling up, reuse) a stable
// tool-call id, transition to WaitingHitl, checkpoint, publish
// ToolCallEmitted and HitlRequest, and return the paused message without
// running any further nodes.
func (r *Runner) pause(
	ctx context.Context,
	msg Message,
	state map[string]any,
	invocationCounters map[string]int,
	nodeID, runID, graphID string,
	invocationIdx int,
	hitl WaitingHitl,
) (Message, error) {
	toolCallID := hitl.ToolCallID
	if toolCallID == "" {
		toolCallID = ToolCallID(runID, nodeID, invocationIdx)
	}

	call := ToolCall{
		ID:     toolCallID,
		Name:   nodeID,
		Kind:   hitl.Kind,
		NodeID: nodeID,
		Args:   map[string]any{"prompt": hitl.Prompt, "options": hitl.Options},
	}
	paused := msg.AppendToolCall(call)
	paused, err := Transition(paused, StateWaitingHitl, "awaiting human input", nodeID)
	if err != nil {
		return Message{}, err
	}
	paused = paused.clone()
	paused.NodeID = nodeID

	if r.opts.Store == nil {
		return Message{}, ErrNoCheckpointStore
	}

	savedState := snapshotInvocationCounters(state, invocationCounters)
	label := checkpointLabel(graphID, toolCallID)
	if err := r.saveCheckpoint(ctx, runID, graphID, nodeID, paused, savedState, label); err != nil {
		return Message{}, err
	}

	if r.opts.Bus != nil {
		payload := ToolCallEvent{
			RunID: runID, GraphID: graphID, NodeID: nodeID, ToolCallID: toolCallID,
			Name: nodeID, Kind: hitl.Kind, Prompt: hitl.Prompt, Options: hitl.Options, Metadata: hitl.Metadata,
		}
		meta := bus.EventMetadata{CorrelationID: runID, Custom: map[string]any{"tool_call_id": toolCallID}}
		if _, err := r.opts.Bus.Publish(ctx, bus.ChannelToolCallEvents, EventToolCallEmitted, eventSchemaVersion, payload, meta); err != nil {
			return Message{}, &BusPublishFailed{Channel: bus.ChannelToolCallEvents, Cause: err}
		}
		if _, err := r.opts.Bus.Publish(ctx, bus.ChannelHitlRequests, EventHitlRequest, eventSchemaVersion, payload, meta); err != nil {
			return Message{}, &BusPublishFailed{Channel: bus.ChannelHitlRequests, Cause: err}
		}
	}

	return paused, nil
}

// saveCheckpoint persists a checkpoint for runID with at-least-once retry
// (Options.CheckpointRetry), reading the current version first so the
// expectedVersion passed to Save always reflects the latest known state. A
// genuine optimistic-concurrency conflict is not retried (it signals a real
// concurrent writer, not a transient fault) and surfaces immediately as
// *ConcurrencyConflict; any other persistent failure surfaces as
// *CheckpointWriteFailed after retries are exhausted.
func (r *Runner) saveCheckpoint(ctx context.Context, runID, graphID, nodeID string, msg Message, state map[string]any, label string) error {
	retry := r.opts.CheckpointRetry
	maxAttempts := 1
	if retry != nil && retry.MaxAttempts > maxAttempts {
		maxAttempts = retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt-1, retry.BaseDelay, retry.MaxDelay, r.opts.RNG)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		start := time.Now()
		err := r.trySaveCheckpoint(ctx, runID, graphID, nodeID, msg, state, label)
		if r.opts.Metrics != nil {
			r.opts.Metrics.RecordCheckpointSave(checkpointBackendName(r.opts.Store), time.Since(start))
		}
		if err == nil {
			return nil
		}

		var conflict *ConcurrencyConflict
		if errors.As(err, &conflict) {
			if r.opts.Metrics != nil {
				r.opts.Metrics.RecordCheckpointConflict()
			}
			return conflict
		}
		lastErr = err
	}
	return &CheckpointWriteFailed{RunID: runID, Cause: lastErr}
}

// trySaveCheckpoint performs one load-then-save attempt.
func (r *Runner) trySaveCheckpoint(ctx context.Context, runID, graphID, nodeID string, msg Message, state map[string]any, label string) error {
	expectedVersion := 0
	current, err := r.opts.Store.Load(ctx, runID)
	if err == nil {
		expectedVersion = current.Version
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	cp := store.Checkpoint{
		RunID:           runID,
		GraphID:         graphID,
		NodeID:          nodeID,
		Message:         toCheckpointMessage(msg),
		SavedState:      state,
		EnvelopeVersion: store.CurrentEnvelopeVersion,
		Label:           label,
	}
	saveErr := r.opts.Store.Save(ctx, cp, expectedVersion)
	if errors.Is(saveErr, store.ErrConflict) {
		return &ConcurrencyConflict{RunID: runID, ExpectedVersion: expectedVersion, ActualVersion: expectedVersion + 1}
	}
	return saveErr
}

// checkpointLabel scopes a tool-call id to the graph that minted it, so a
// SubGraphNode bubbling a child's pause up to the parent can checkpoint its
// own view of the pause (a different NodeID/GraphID) under a distinct label
// even though both levels share the same externally-visible tool-call id and
// the same runID. Without this, the parent's checkpoint save would silently
// clobber the child's own labeled checkpoint.
func checkpointLabel(graphID, toolCallID string) string {
	return graphID + ":" + toolCallID
}

func checkpointBackendName(s store.CheckpointStore) string {
	switch s.(type) {
	case *store.MemStore:
		return "memory"
	case *store.SQLiteStore:
		return "sqlite"
	case *store.MySQLStore:
		return "mysql"
	default:
		return "custom"
	}
}

// snapshotInvocationCounters packs counters alongside state's ordinary
// node-output entries under a reserved key, so a single SavedState map
// round-trips both through the checkpoint store.
func snapshotInvocationCounters(state map[string]any, counters map[string]int) map[string]any {
	next := make(map[string]any, len(state)+1)
	for k, v := range state {
		next[k] = v
	}
	packed := make(map[string]any, len(counters))
	for k, v := range counters {
		packed[k] = v
	}
	next[invocationCounterStateKey] = packed
	return next
}

// restoreInvocationCounters splits a loaded checkpoint's SavedState back
// into the ordinary state map and the per-node invocation counters,
// tolerating the float64 a JSON round-trip through the store leaves counters
// as.
func restoreInvocationCounters(saved map[string]any) (map[string]any, map[string]int) {
	counters := make(map[string]int)
	clean := make(map[string]any, len(saved))
	for k, v := range saved {
		if k != invocationCounterStateKey {
			clean[k] = v
			continue
		}
		packed, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for nodeID, raw := range packed {
			switch n := raw.(type) {
			case int:
				counters[nodeID] = n
			case int64:
				counters[nodeID] = int(n)
			case float64:
				counters[nodeID] = int(n)
			}
		}
	}
	return clean, counters
}

// toCheckpointMessage projects a graph.Message into its JSON-serializable
// store form.
func toCheckpointMessage(m Message) store.CheckpointMessage {
	calls := make([]store.CheckpointToolCall, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		calls[i] = store.CheckpointToolCall{
			ID: tc.ID, Name: tc.Name, Args: tc.Args, Kind: tc.Kind, NodeID: tc.NodeID, Resolved: tc.Resolved,
		}
	}
	return store.CheckpointMessage{
		ID:            m.ID,
		Content:       m.Content,
		Metadata:      m.Metadata,
		Sender:        m.Sender,
		ToolCalls:     calls,
		State:         string(m.State),
		CorrelationID: m.CorrelationID,
		RunID:         m.RunID,
		GraphID:       m.GraphID,
		NodeID:        m.NodeID,
	}
}

// fromCheckpointMessage reconstructs a graph.Message from its store
// projection. StateHistory is not persisted (only the current state matters
// for resume); a fresh single-entry history starting at the restored state
// is synthesized so Transition's invariant still holds.
func fromCheckpointMessage(cm store.CheckpointMessage) Message {
	calls := make([]ToolCall, len(cm.ToolCalls))
	for i, tc := range cm.ToolCalls {
		calls[i] = ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Args, Kind: tc.Kind, NodeID: tc.NodeID, Resolved: tc.Resolved}
	}
	state := ExecutionState(cm.State)
	return Message{
		ID:            cm.ID,
		Content:       cm.Content,
		Metadata:      cm.Metadata,
		Sender:        cm.Sender,
		ToolCalls:     calls,
		State:         state,
		StateHistory:  []StateTransition{{From: state, To: state, Timestamp: time.Now()}},
		CorrelationID: cm.CorrelationID,
		RunID:         cm.RunID,
		GraphID:       cm.GraphID,
		NodeID:        cm.NodeID,
	}
}

// Resume implements the resume operation from spec.md §4.5: load the
// checkpoint for runID (the latest, or the one labeled toolCallID when a run
// has more than one coexisting pause — see scenario S3), validate it is
// actually waiting on a human response, synthesize a NodeResult from
// response without re-running the paused node, and continue the step loop
// from its successor. Resuming a run already in a terminal state returns
// ErrAlreadyResumed together with the terminal message, rather than an error
// with no message, so a caller racing a duplicate resume can inspect the
// final state.
func (r *Runner) Resume(ctx context.Context, runID, toolCallID string, response HumanResponse) (Message, error) {
	if r.opts.Store == nil {
		return Message{}, ErrNoCheckpointStore
	}

	var cp store.Checkpoint
	var err error
	if toolCallID != "" {
		cp, err = r.opts.Store.LoadLabel(ctx, runID, checkpointLabel(r.graph.ID(), toolCallID))
	} else {
		cp, err = r.opts.Store.Load(ctx, runID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Message{}, &CheckpointNotFound{RunID: runID}
		}
		return Message{}, err
	}

	msg := fromCheckpointMessage(cp.Message)
	if msg.State.IsTerminal() {
		return msg, ErrAlreadyResumed
	}
	if msg.State != StateWaitingHitl {
		return Message{}, &IllegalTransitionError{From: msg.State, To: StateRunning, NodeID: cp.NodeID}
	}

	pendingCall, ok := msg.PendingHitlCall()
	if !ok {
		return Message{}, &CheckpointNotFound{RunID: runID}
	}
	if toolCallID != "" && pendingCall.ID != toolCallID {
		return Message{}, &CheckpointNotFound{RunID: runID}
	}

	node, ok := r.graph.Node(cp.NodeID)
	if !ok {
		return Message{}, &NodeFailure{RunID: runID, NodeID: cp.NodeID, Cause: errors.New("graph: resume target node no longer exists")}
	}

	// A paused SubGraphNode delegates resume to its own child Runner: the
	// human answered a tool call that originated several levels deep, and
	// only the child Runner's checkpoint/state knows how to continue past it.
	if sg, isSubgraph := node.(*SubGraphNode); isSubgraph {
		return r.resumeSubgraph(ctx, sg, cp, msg, pendingCall.ID, response)
	}

	state, invocationCounters := restoreInvocationCounters(cp.SavedState)

	resolved := msg.ResolveToolCall(pendingCall.ID)
	resumed, terr := Transition(resolved, StateRunning, "resumed with human response", cp.NodeID)
	if terr != nil {
		return Message{}, terr
	}

	if r.opts.Bus != nil {
		payload := ToolCallEvent{RunID: runID, GraphID: cp.GraphID, NodeID: cp.NodeID, ToolCallID: pendingCall.ID, Name: cp.NodeID}
		meta := bus.EventMetadata{CorrelationID: runID, Custom: map[string]any{"tool_call_id": pendingCall.ID}}
		if _, err := r.opts.Bus.Publish(ctx, bus.ChannelToolCallEvents, EventToolCallCompleted, eventSchemaVersion, payload, meta); err != nil {
			return Message{}, &BusPublishFailed{Channel: bus.ChannelToolCallEvents, Cause: err}
		}
	}

	result := NodeResult{Data: response.Value, Metadata: map[string]any{"tool_call_id": pendingCall.ID}}
	state = mergeNodeResult(state, cp.NodeID, result)

	nextID, terminal, serr := r.selectSuccessor(node, result)
	if serr != nil {
		return r.finishFailed(ctx, resumed, runID, cp.GraphID, cp.NodeID, invocationCounters[cp.NodeID], serr)
	}
	if terminal {
		return r.finishCompleted(ctx, resumed, runID, cp.GraphID, cp.NodeID, result)
	}

	return r.runFrom(ctx, resumed, state, nextID, 0, invocationCounters)
}

// resumeSubgraph delegates resume to sg's child Runner (built, if needed,
// the same way a fresh Run would via childRunner) and folds its outcome back
// into the parent's step loop: a completed child becomes the SubGraphNode's
// ordinary NodeResult and the parent continues past it; a child that is
// again waiting on a human re-pauses the parent under the child's new
// tool-call id.
func (r *Runner) resumeSubgraph(ctx context.Context, sg *SubGraphNode, cp store.Checkpoint, parentMsg Message, childToolCallID string, response HumanResponse) (Message, error) {
	if sg.runner == nil {
		sg.runner = r.childRunner(sg.Child)
	}

	childResult, err := sg.runner.Resume(ctx, cp.RunID, childToolCallID, response)
	if err != nil && !errors.Is(err, ErrAlreadyResumed) {
		return Message{}, err
	}

	state, invocationCounters := restoreInvocationCounters(cp.SavedState)

	if childResult.State == StateWaitingHitl {
		call, ok := childResult.PendingHitlCall()
		if !ok {
			return Message{}, &CheckpointNotFound{RunID: cp.RunID}
		}
		resumed, terr := Transition(parentMsg, StateRunning, "subgraph re-paused", sg.NodeID)
		if terr != nil {
			return Message{}, terr
		}
		var argsPrompt, argsKind string
		var argsOptions []string
		if p, ok := call.Args["prompt"].(string); ok {
			argsPrompt = p
		}
		if k := call.Kind; k != "" {
			argsKind = k
		}
		if opts, ok := call.Args["options"].([]string); ok {
			argsOptions = opts
		}
		hitl := WaitingHitl{ToolCallID: call.ID, Prompt: argsPrompt, Kind: argsKind, Options: argsOptions}
		return r.pause(ctx, resumed, state, invocationCounters, sg.NodeID, cp.RunID, cp.GraphID, invocationCounters[sg.NodeID], hitl)
	}

	resumed, terr := Transition(parentMsg, StateRunning, "resumed with human response", sg.NodeID)
	if terr != nil {
		return Message{}, terr
	}

	result := NodeResult{
		Data:     childResult.Content,
		Metadata: map[string]any{"subgraph": sg.Child.ID(), "subgraph_state": childResult.State},
	}
	state = mergeNodeResult(state, sg.NodeID, result)

	nextID, terminal, serr := r.selectSuccessor(sg, result)
	if serr != nil {
		return r.finishFailed(ctx, resumed, cp.RunID, cp.GraphID, sg.NodeID, invocationCounters[sg.NodeID], serr)
	}
	if terminal {
		return r.finishCompleted(ctx, resumed, cp.RunID, cp.GraphID, sg.NodeID, result)
	}
	return r.runFrom(ctx, resumed, state, nextID, 0, invocationCounters)
}
