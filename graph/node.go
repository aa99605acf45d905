package graph

import (
	"context"
	"encoding/json"
)

// NodeContext is the read-only (functionally mutable) view a Node sees when
// it runs. State carries workflow-scoped key/value data threaded between
// nodes; ExecCtx carries cross-cutting identifiers (auth, tracing, graph
// identity) that nodes may read but rarely write.
type NodeContext struct {
	GraphID        string
	RunID          string
	NodeID         string
	Message        Message
	State          map[string]any
	ExecCtx        ExecutionContext
	subgraphDepth  int
	invocationSeed int
	parentRunner   *Runner
}

// ExecutionContext carries identifiers and cooperative controls that cross
// node boundaries without being part of workflow state proper.
type ExecutionContext struct {
	AuthToken     string
	TraceID       string
	SpanID        string
	CorrelationID string
	cancel        *cancelFlag
}

// cancelFlag is a cooperative, externally-settable cancellation signal
// shared by every NodeContext derived from the same run.
type cancelFlag struct {
	ch chan struct{}
}

func newCancelFlag() *cancelFlag {
	return &cancelFlag{ch: make(chan struct{})}
}

func (c *cancelFlag) set() {
	select {
	case <-c.ch:
	default:
		close(c.ch)
	}
}

func (c *cancelFlag) isSet() bool {
	if c == nil {
		return false
	}
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Cancelled reports whether the run this context belongs to has been
// cooperatively cancelled. The runner also checks this between nodes; a
// long-running node should poll it for faster response to cancellation.
func (nc NodeContext) Cancelled() bool {
	return nc.ExecCtx.cancel.isSet()
}

// SubgraphDepth returns how many SubGraphNode levels deep this context is.
func (nc NodeContext) SubgraphDepth() int {
	return nc.subgraphDepth
}

// WithState returns a new NodeContext with updates merged over the current
// state map. The receiver's map is never mutated; callers that need the
// updated context use the returned value.
func (nc NodeContext) WithState(updates map[string]any) NodeContext {
	merged := make(map[string]any, len(nc.State)+len(updates))
	for k, v := range nc.State {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	nc.State = merged
	return nc
}

// WithMessage returns a new NodeContext carrying msg as the current message.
func (nc NodeContext) WithMessage(msg Message) NodeContext {
	nc.Message = msg
	return nc
}

// Next describes where the runner should go after a node completes. It is
// an explicit override of edge-based routing; when To, Many and Terminal
// are all unset, the runner falls through to edge evaluation instead.
type Next struct {
	To       string
	Many     []string
	Terminal bool
}

// Stop returns a Next that terminates traversal (only valid from an
// OutputNode, or any node choosing to end the run early).
func Stop() Next { return Next{Terminal: true} }

// Goto returns a Next that routes unconditionally to nodeID, overriding
// edge-based routing for this step.
func Goto(nodeID string) Next { return Next{To: nodeID} }

// FanOut returns a Next that routes to every listed node id (used by
// SubGraphNode-style composition; the core runner itself advances one node
// at a time per spec.md §5, so FanOut is consumed by callers composing
// multiple runner.Execute calls, not by the runner's own step loop).
func FanOut(nodeIDs ...string) Next { return Next{Many: nodeIDs} }

// WaitingHitl marks a NodeResult as a human-in-the-loop pause point. When
// present, the runner writes a checkpoint, publishes ToolCallEmitted, and
// returns the paused Message to the caller instead of continuing.
type WaitingHitl struct {
	ToolCallID string
	Prompt     string
	Kind       string
	Options    []string
	Metadata   map[string]any
}

// MetadataSizePolicy controls what happens when a NodeResult's metadata
// grows past the soft warning threshold.
type MetadataSizePolicy int

const (
	// MetadataWarn logs/emits a warning but allows the result through. Default.
	MetadataWarn MetadataSizePolicy = iota
	// MetadataFail rejects the node result with *NodeFailure.
	MetadataFail
	// MetadataIgnore performs no size checking at all.
	MetadataIgnore
)

// metadataWarnBytes is the soft size threshold from spec.md §3 ("soft warn
// at ~5 KB"). Results at exactly this size do not warn; one byte over does.
const metadataWarnBytes = 5 * 1024

// NodeResult is what a Node.Run call produces: data, metadata, an optional
// routing override, and an optional HITL pause marker.
type NodeResult struct {
	Data     any
	Metadata map[string]any
	Next     *Next
	Hitl     *WaitingHitl
}

// metadataSize returns the approximate JSON-encoded size of the result's
// metadata, used by the runner to apply MetadataSizePolicy.
func (r NodeResult) metadataSize() int {
	if len(r.Metadata) == 0 {
		return 0
	}
	b, err := json.Marshal(r.Metadata)
	if err != nil {
		return 0
	}
	return len(b)
}

// Node is the single operation every graph participant implements: given a
// NodeContext, produce a NodeResult or fail. The six built-in variants
// (AgentNode, ToolNode, DecisionNode, OutputNode, HumanNode, SubGraphNode)
// cover the closed set from spec.md §3; user code may add further
// implementations as long as they satisfy this interface — the runner never
// type-switches on concrete node types.
type Node interface {
	ID() string
	Run(ctx context.Context, nc NodeContext) (NodeResult, error)
}

// NodeFunc adapts a plain function to the Node interface, for nodes whose
// logic doesn't warrant a dedicated type.
type NodeFunc struct {
	NodeID string
	Fn     func(ctx context.Context, nc NodeContext) (NodeResult, error)
}

// ID implements Node.
func (f NodeFunc) ID() string { return f.NodeID }

// Run implements Node.
func (f NodeFunc) Run(ctx context.Context, nc NodeContext) (NodeResult, error) {
	return f.Fn(ctx, nc)
}

// Policy is implemented by nodes that want per-node timeout/retry
// configuration. The runner checks for it with a type assertion after
// looking the node up, matching the teacher engine's optional
// `interface{ Policy() NodePolicy }` check.
type Policy interface {
	Policy() NodePolicy
}
