package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/spicelabs/spice/bus"
	"github.com/spicelabs/spice/graph/emit"
	"github.com/spicelabs/spice/graph/store"
)

// ErrNoCheckpointStore is returned when a run reaches a human-in-the-loop
// pause point but Options.Store is nil: pausing without a place to persist
// the pause would make the run unresumable, so the runner refuses outright
// instead of silently dropping it.
var ErrNoCheckpointStore = errors.New("graph: human-in-the-loop pause requires a configured checkpoint store")

// Options configures a Runner. Every field is optional; New applies the
// documented defaults for anything left zero.
type Options struct {
	// DefaultNodeTimeout bounds every node that does not declare its own
	// NodePolicy.Timeout. Zero means unlimited.
	DefaultNodeTimeout time.Duration

	// MaxSubgraphDepth caps SubGraphNode nesting. Zero uses
	// defaultMaxSubgraphDepth (8).
	MaxSubgraphDepth int

	// MetadataSizePolicy controls how the runner reacts to an oversized
	// NodeResult.Metadata. Zero value is MetadataWarn.
	MetadataSizePolicy MetadataSizePolicy

	// Emitter receives process-local observability events. The runner
	// itself emits only the oversized-metadata warning to it. Defaults to
	// emit.NewNullEmitter().
	Emitter emit.Emitter

	// Metrics records Prometheus metrics for node/checkpoint/bus activity.
	// Nil disables metrics recording entirely.
	Metrics *Metrics

	// Store persists checkpoints across human-in-the-loop pauses. Required
	// for any graph containing a HumanNode or a tool that can return
	// ToolWaitingHitl.
	Store store.CheckpointStore

	// Bus publishes graph/node/tool-call lifecycle events. Nil disables
	// publication entirely (the run still executes; it's simply not
	// observable through the event bus).
	Bus bus.EventBus

	// CheckpointRetry governs retrying a failed checkpoint Save call before
	// surfacing *CheckpointWriteFailed. Defaults to 3 attempts, 50ms base
	// backoff, 1s cap.
	CheckpointRetry *RetryPolicy

	// RNG sources jitter for both node-retry and checkpoint-retry backoff.
	// Nil uses the package-level math/rand source.
	RNG *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.Emitter == nil {
		o.Emitter = emit.NewNullEmitter()
	}
	if o.MaxSubgraphDepth <= 0 {
		o.MaxSubgraphDepth = defaultMaxSubgraphDepth
	}
	if o.CheckpointRetry == nil {
		o.CheckpointRetry = &RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    time.Second,
			Retryable:   func(error) bool { return true },
		}
	}
	return o
}

// Runner drives a single Graph forward: the primary operation described in
// spec.md §4.5, including the human-in-the-loop pause/resume cycle, optional
// checkpoint persistence, event-bus publication, and cooperative
// cancellation.
type Runner struct {
	graph  *Graph
	opts   Options
	cancel *cancelFlag
}

// New constructs a Runner for g. If opts.Bus is set, the runner registers
// its own lifecycle event schemas and declares the standard channels via
// RegisterEventSchemas (idempotent, safe if the caller already did this).
func New(g *Graph, opts Options) (*Runner, error) {
	if g == nil {
		return nil, errors.New("graph: runner requires a non-nil graph")
	}
	opts = opts.withDefaults()
	if opts.Bus != nil {
		if err := RegisterEventSchemas(opts.Bus); err != nil {
			return nil, fmt.Errorf("graph: registering event schemas: %w", err)
		}
	}
	return &Runner{graph: g, opts: opts, cancel: newCancelFlag()}, nil
}

// Cancel cooperatively requests that the run stop. The runner checks the
// request before each node starts; a node already running (including its
// retries and their backoff sleeps) is not interrupted unless it polls
// NodeContext.Cancelled. It has no effect on a run that has already reached
// a terminal state.
func (r *Runner) Cancel() {
	r.cancel.set()
}

// maxSubgraphDepth returns the effective subgraph depth cap, read by
// SubGraphNode.Run.
func (r *Runner) maxSubgraphDepth() int {
	return r.opts.MaxSubgraphDepth
}

// childRunner builds a Runner for child sharing this Runner's collaborators
// (store, bus, metrics, emitter, retry/timeout policy, cancellation) and
// subgraph depth cap, read by SubGraphNode.Run. The child's own nodes carry
// whatever AgentRegistry/ToolRegistry they were built with; this method
// shares everything the parent Options configures, not graph-specific state.
func (r *Runner) childRunner(child *Graph) *Runner {
	return &Runner{graph: child, opts: r.opts, cancel: r.cancel}
}

// Execute is the top-level entry point: it assigns a run id if msg has none,
// transitions Pending to Running, publishes GraphStarted, and drives the
// graph forward from its entry node.
func (r *Runner) Execute(ctx context.Context, msg Message) (Message, error) {
	msg = msg.clone()
	if msg.RunID == "" {
		msg.RunID = uuid.NewString()
	}
	msg.GraphID = r.graph.id

	if msg.State == StatePending {
		var err error
		msg, err = Transition(msg, StateRunning, "run started", "")
		if err != nil {
			return Message{}, err
		}
	}

	if r.opts.Bus != nil {
		payload := GraphLifecycleEvent{RunID: msg.RunID, GraphID: msg.GraphID}
		if _, err := r.opts.Bus.Publish(ctx, bus.ChannelGraphLifecycle, EventGraphStarted, eventSchemaVersion, payload,
			bus.EventMetadata{CorrelationID: msg.RunID}); err != nil {
			return Message{}, &BusPublishFailed{Channel: bus.ChannelGraphLifecycle, Cause: err}
		}
	}

	return r.executeAt(ctx, msg, 0)
}

// executeAt drives the graph forward from its entry node at the given
// subgraph depth. Called directly by SubGraphNode.Run for nested graphs, and
// by Execute (at depth 0) for the top-level run.
func (r *Runner) executeAt(ctx context.Context, msg Message, subgraphDepth int) (Message, error) {
	return r.runFrom(ctx, msg, map[string]any{}, r.graph.entry, subgraphDepth, nil)
}

// runFrom is the shared step loop: it advances currentNodeID forward one
// node at a time (per spec.md §5, "one node at a time" — fan-out is a
// caller-composition concern, see Next.Many's doc comment) until the run
// pauses, completes, fails, or is cancelled. Resume re-enters this loop at
// the node after the one that paused, with state/invocationCounters restored
// from the checkpoint instead of starting empty.
func (r *Runner) runFrom(
	ctx context.Context,
	msg Message,
	state map[string]any,
	currentNodeID string,
	subgraphDepth int,
	invocationCounters map[string]int,
) (Message, error) {
	if invocationCounters == nil {
		invocationCounters = make(map[string]int)
	}
	runID, graphID := msg.RunID, r.graph.id

	for {
		if r.cancel.isSet() {
			return r.finishCancelled(ctx, msg, runID, graphID)
		}

		invocationIdx := invocationCounters[currentNodeID]

		node, ok := r.graph.Node(currentNodeID)
		if !ok {
			return r.finishFailed(ctx, msg, runID, graphID, currentNodeID, invocationIdx, fmt.Errorf("graph: unknown node %q", currentNodeID))
		}

		if err := r.publishNodeStarted(ctx, runID, graphID, currentNodeID, invocationIdx); err != nil {
			return Message{}, err
		}

		nc := NodeContext{
			GraphID: graphID,
			RunID:   runID,
			NodeID:  currentNodeID,
			Message: msg,
			State:   state,
			ExecCtx: ExecutionContext{
				CorrelationID: msg.CorrelationID,
				cancel:        r.cancel,
			},
			subgraphDepth:  subgraphDepth,
			invocationSeed: invocationIdx,
			parentRunner:   r,
		}

		policy := nodePolicy(node)
		runFn := chain(func(ctx context.Context, nc NodeContext) (NodeResult, error) {
			return r.runNodeWithRetry(ctx, node, nc, policy)
		}, r.graph.middleware)

		result, err := runFn(ctx, nc)
		invocationCounters[currentNodeID] = invocationIdx + 1

		if err != nil {
			return r.finishFailed(ctx, msg, runID, graphID, currentNodeID, invocationIdx, err)
		}

		if sizeErr := r.checkMetadataSize(currentNodeID, runID, result); sizeErr != nil {
			return r.finishFailed(ctx, msg, runID, graphID, currentNodeID, invocationIdx, sizeErr)
		}

		state = mergeNodeResult(state, currentNodeID, result)

		if result.Hitl != nil {
			return r.pause(ctx, msg, state, invocationCounters, currentNodeID, runID, graphID, invocationIdx, *result.Hitl)
		}

		if err := r.publishNodeCompleted(ctx, runID, graphID, currentNodeID, invocationIdx, result); err != nil {
			return Message{}, err
		}

		nextID, terminal, err := r.selectSuccessor(node, result)
		if err != nil {
			return r.finishFailed(ctx, msg, runID, graphID, currentNodeID, invocationIdx, err)
		}
		if terminal {
			return r.finishCompleted(ctx, msg, runID, graphID, currentNodeID, result)
		}
		currentNodeID = nextID
	}
}

// nodePolicy returns node's NodePolicy if it implements Policy, else nil.
func nodePolicy(node Node) *NodePolicy {
	if p, ok := node.(Policy); ok {
		np := p.Policy()
		return &np
	}
	return nil
}

// runNodeWithRetry wraps a single node invocation with timeout resolution
// and, if the node (or its policy) declares a RetryPolicy, exponential
// backoff retry of errors its Retryable func accepts.
func (r *Runner) runNodeWithRetry(ctx context.Context, node Node, nc NodeContext, policy *NodePolicy) (NodeResult, error) {
	var retry *RetryPolicy
	if policy != nil {
		retry = policy.Retry
	}
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
				return NodeResult{}, ctx.Err()
			}
			if r.opts.Metrics != nil {
				r.opts.Metrics.RecordRetry(node.ID(), "transient")
			}
		}

		result, err := runNodeWithTimeout(ctx, node, nc, policy, r.opts.DefaultNodeTimeout)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if retry == nil || retry.Retryable == nil || !retry.Retryable(err) {
			break
		}
	}

	var nf *NodeFailure
	if errors.As(lastErr, &nf) {
		return NodeResult{}, lastErr
	}
	return NodeResult{}, &NodeFailure{RunID: nc.RunID, NodeID: node.ID(), Cause: lastErr}
}

// checkMetadataSize applies Options.MetadataSizePolicy to result, emitting a
// warning event once the metadata exceeds metadataWarnBytes and, under
// MetadataFail, returning an error that aborts the run.
func (r *Runner) checkMetadataSize(nodeID, runID string, result NodeResult) error {
	if r.opts.MetadataSizePolicy == MetadataIgnore {
		return nil
	}
	size := result.metadataSize()
	if size <= metadataWarnBytes {
		return nil
	}
	r.opts.Emitter.Emit(emit.Event{
		NodeID: nodeID,
		RunID:  runID,
		Msg:    "metadata_size_warning",
		Meta:   map[string]interface{}{"bytes": size, "limit": metadataWarnBytes},
	})
	if r.opts.MetadataSizePolicy == MetadataFail {
		return &NodeFailure{RunID: runID, NodeID: nodeID, Cause: fmt.Errorf("metadata size %d bytes exceeds %d byte limit", size, metadataWarnBytes)}
	}
	return nil
}

// mergeNodeResult returns a copy of state with nodeID's output recorded,
// leaving the receiver untouched (state, like NodeContext.State, is never
// mutated in place).
func mergeNodeResult(state map[string]any, nodeID string, result NodeResult) map[string]any {
	next := make(map[string]any, len(state)+1)
	for k, v := range state {
		next[k] = v
	}
	next[nodeID] = result.Data
	return next
}

// selectSuccessor resolves where the run goes after node completes: an
// explicit NodeResult.Next override takes precedence over edge evaluation.
// A node with no outgoing edges at all (graph's terminalNodes) ends the run,
// same as an explicit Stop().
func (r *Runner) selectSuccessor(node Node, result NodeResult) (nextID string, terminal bool, err error) {
	if result.Next != nil {
		if len(result.Next.Many) > 0 {
			return "", false, fmt.Errorf("graph: node %q returned Next.Many; fan-out is a caller-composition concern, not handled by the core step loop", node.ID())
		}
		if result.Next.Terminal {
			return "", true, nil
		}
		if result.Next.To != "" {
			return result.Next.To, false, nil
		}
	}

	var edges []Edge
	for _, e := range r.graph.EdgesFrom(node.ID()) {
		// As in adjacency, a wildcard edge never loops its own target back
		// onto itself.
		if e.From == WildcardNode && e.To == node.ID() {
			continue
		}
		edges = append(edges, e)
	}
	if len(edges) == 0 {
		return "", true, nil
	}
	for _, e := range edges {
		if e.Guard == nil || e.Guard(result) {
			return e.To, false, nil
		}
	}
	return "", false, ErrNoApplicableEdge
}

// ToolCallID returns the stable, deterministic tool-call id for the
// invocationIndex-th time nodeID pauses within runID. The runner computes
// this purely from (runID, nodeID, invocationIndex) so a retried Save or a
// re-delivered pause event never mints a second id for the same pause.
func ToolCallID(runID, nodeID string, invocationIndex int) string {
	return fmt.Sprintf("hitl_%s_%s_%d", runID, nodeID, invocationIndex)
}

// finishCompleted transitions msg to Completed, stamps the final node's
// output onto Content, publishes GraphCompleted, and clears any checkpoint
// (a completed run has nothing left to resume).
func (r *Runner) finishCompleted(ctx context.Context, msg Message, runID, graphID, nodeID string, result NodeResult) (Message, error) {
	final, err := Transition(msg, StateCompleted, "run completed", nodeID)
	if err != nil {
		return Message{}, err
	}
	final = stampFinalContent(final, result)
	final = final.clone()
	final.NodeID = nodeID

	if r.opts.Bus != nil {
		payload := GraphLifecycleEvent{RunID: runID, GraphID: graphID}
		if _, perr := r.opts.Bus.Publish(ctx, bus.ChannelGraphLifecycle, EventGraphCompleted, eventSchemaVersion, payload,
			bus.EventMetadata{CorrelationID: runID}); perr != nil {
			return Message{}, &BusPublishFailed{Channel: bus.ChannelGraphLifecycle, Cause: perr}
		}
	}
	if r.opts.Store != nil {
		_ = r.opts.Store.Delete(ctx, runID)
	}
	return final, nil
}

// stampFinalContent copies result.Data onto msg.Content when it is a
// non-empty string, the convention a terminal OutputNode/DecisionNode result
// uses to produce the run's final text. Non-string final data is left
// reachable only through the Checkpoint/NodeContext state map.
func stampFinalContent(msg Message, result NodeResult) Message {
	if s, ok := result.Data.(string); ok && s != "" {
		next := msg.clone()
		next.Content = s
		return next
	}
	return msg
}

// finishFailed transitions msg to Failed and publishes both NodeFailed (on
// the node-lifecycle channel, completing the {NodeStarted, NodeCompleted |
// NodeFailed} ordering spec.md §5 names) and GraphFailed (on the graph-
// lifecycle channel). The original cause is returned (wrapped in
// *NodeFailure if it isn't one already) rather than any error from the
// transition itself, which is strictly less informative. Like
// finishCompleted, any checkpoint for runID is deleted: a failed run has
// nothing left to resume, and leaving the last pause's checkpoint behind
// would let a later Resume call mistake a dead run for one still
// legitimately waiting on a human.
func (r *Runner) finishFailed(ctx context.Context, msg Message, runID, graphID, nodeID string, invocationIdx int, cause error) (Message, error) {
	failed, terr := Transition(msg, StateFailed, cause.Error(), nodeID)
	if terr != nil {
		return Message{}, cause
	}
	if r.opts.Bus != nil {
		nodePayload := NodeLifecycleEvent{
			RunID: runID, GraphID: graphID, NodeID: nodeID, InvocationIndex: invocationIdx,
			Err: cause.Error(),
		}
		_, _ = r.opts.Bus.Publish(ctx, bus.ChannelNodeLifecycle, EventNodeFailed, eventSchemaVersion, nodePayload,
			bus.EventMetadata{CorrelationID: runID})

		payload := GraphLifecycleEvent{RunID: runID, GraphID: graphID, Reason: cause.Error()}
		_, _ = r.opts.Bus.Publish(ctx, bus.ChannelGraphLifecycle, EventGraphFailed, eventSchemaVersion, payload,
			bus.EventMetadata{CorrelationID: runID})
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.nodeFailures.WithLabelValues(nodeID).Inc()
	}
	if r.opts.Store != nil {
		_ = r.opts.Store.Delete(ctx, runID)
	}
	var nf *NodeFailure
	if errors.As(cause, &nf) {
		return failed, cause
	}
	return failed, &NodeFailure{RunID: runID, NodeID: nodeID, Cause: cause}
}

// finishCancelled transitions msg to Cancelled, publishes GraphCancelled,
// and returns ErrRunCancelled. Any checkpoint for runID is deleted for the
// same reason as finishFailed.
func (r *Runner) finishCancelled(ctx context.Context, msg Message, runID, graphID string) (Message, error) {
	cancelled, err := Transition(msg, StateCancelled, "run cancelled", "")
	if err != nil {
		return Message{}, ErrRunCancelled
	}
	if r.opts.Bus != nil {
		payload := GraphLifecycleEvent{RunID: runID, GraphID: graphID}
		_, _ = r.opts.Bus.Publish(ctx, bus.ChannelGraphLifecycle, EventGraphCancelled, eventSchemaVersion, payload,
			bus.EventMetadata{CorrelationID: runID})
	}
	if r.opts.Store != nil {
		_ = r.opts.Store.Delete(ctx, runID)
	}
	return cancelled, ErrRunCancelled
}

// publishNodeStarted publishes a NodeStarted event before a node is
// invoked, completing the §5 ordering guarantee ({NodeStarted, ...,
// NodeCompleted} for every node). A publish failure is surfaced to the
// caller rather than swallowed, per spec.md §7's "bus/checkpoint failures
// are never swallowed".
func (r *Runner) publishNodeStarted(ctx context.Context, runID, graphID, nodeID string, invocationIdx int) error {
	if r.opts.Bus == nil {
		return nil
	}
	payload := NodeLifecycleEvent{
		RunID:           runID,
		GraphID:         graphID,
		NodeID:          nodeID,
		InvocationIndex: invocationIdx,
	}
	if _, err := r.opts.Bus.Publish(ctx, bus.ChannelNodeLifecycle, EventNodeStarted, eventSchemaVersion, payload,
		bus.EventMetadata{CorrelationID: runID}); err != nil {
		return &BusPublishFailed{Channel: bus.ChannelNodeLifecycle, Cause: err}
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordPublish(bus.ChannelNodeLifecycle, busBackendName(r.opts.Bus))
	}
	return nil
}

// publishNodeCompleted publishes a NodeCompleted event for a non-pausing
// node result. A publish failure is surfaced to the caller rather than
// swallowed, per spec.md §7's "bus/checkpoint failures are never swallowed".
func (r *Runner) publishNodeCompleted(ctx context.Context, runID, graphID, nodeID string, invocationIdx int, result NodeResult) error {
	if r.opts.Bus == nil {
		return nil
	}
	payload := NodeLifecycleEvent{
		RunID:           runID,
		GraphID:         graphID,
		NodeID:          nodeID,
		InvocationIndex: invocationIdx,
		Data:            result.Data,
		Metadata:        result.Metadata,
	}
	if _, err := r.opts.Bus.Publish(ctx, bus.ChannelNodeLifecycle, EventNodeCompleted, eventSchemaVersion, payload,
		bus.EventMetadata{CorrelationID: runID}); err != nil {
		return &BusPublishFailed{Channel: bus.ChannelNodeLifecycle, Cause: err}
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordPublish(bus.ChannelNodeLifecycle, busBackendName(r.opts.Bus))
	}
	return nil
}

// busBackendName labels which EventBus implementation is in use, for the
// "backend" metric dimension — the bus package itself never records
// metrics (it has no *Metrics dependency), so the runner labels publishes
// at the call site instead.
func busBackendName(b bus.EventBus) string {
	switch b.(type) {
	case *bus.MemoryBus:
		return "memory"
	case *bus.RedisBus:
		return "redis"
	case *bus.KafkaBus:
		return "kafka"
	default:
		return "custom"
	}
}
