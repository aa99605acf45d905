package graph

import "github.com/spicelabs/spice/bus"

// Event types the runner and HITL coordinator publish. Each is registered
// against a bus.Registry's schema at eventSchemaVersion by
// RegisterEventSchemas; a caller publishing its own custom events alongside
// these registers them the same way, per spec.md §9's replacement for
// reflection-based schema discovery ("unknown types are a hard error").
const (
	EventGraphStarted   = "spice.graph.started"
	EventGraphCompleted = "spice.graph.completed"
	EventGraphFailed    = "spice.graph.failed"
	EventGraphCancelled = "spice.graph.cancelled"

	EventNodeStarted   = "spice.node.started"
	EventNodeCompleted = "spice.node.completed"
	EventNodeFailed    = "spice.node.failed"

	EventToolCallEmitted   = "spice.toolcall.emitted"
	EventToolCallCompleted = "spice.toolcall.completed"

	EventHitlRequest = "spice.hitl.request"
)

// eventSchemaVersion is the schema version every event type above is
// currently published at.
const eventSchemaVersion = "1.0.0"

// GraphLifecycleEvent is the payload for graph-level lifecycle events
// (started/completed/failed/cancelled), published on
// bus.ChannelGraphLifecycle.
type GraphLifecycleEvent struct {
	RunID   string
	GraphID string
	Reason  string `json:"reason,omitempty"`
}

// NodeLifecycleEvent is the payload for per-node lifecycle events
// (started/completed/failed), published on bus.ChannelNodeLifecycle.
type NodeLifecycleEvent struct {
	RunID           string
	GraphID         string
	NodeID          string
	InvocationIndex int
	Data            any            `json:"data,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Err             string         `json:"err,omitempty"`
}

// ToolCallEvent is the payload for tool-call and HITL request/completion
// events, published on bus.ChannelToolCallEvents (and mirrored to
// bus.ChannelHitlRequests for HITL kinds).
type ToolCallEvent struct {
	RunID      string
	GraphID    string
	NodeID     string
	ToolCallID string
	Name       string         `json:"name,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Prompt     string         `json:"prompt,omitempty"`
	Options    []string       `json:"options,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RegisterEventSchemas registers every event type this package publishes
// against b's schema registry and declares the five standard channels
// spec.md §6 names. Both Register and DeclareChannel are idempotent, so
// calling this more than once (e.g. several Runners sharing one bus) is
// safe. Runner.New calls this automatically whenever Options.Bus is set.
func RegisterEventSchemas(b bus.EventBus) error {
	for _, cfg := range bus.StandardChannels() {
		if err := b.DeclareChannel(cfg); err != nil {
			return err
		}
	}
	reg := b.Registry()
	for _, eventType := range []string{
		EventGraphStarted, EventGraphCompleted, EventGraphFailed, EventGraphCancelled,
		EventNodeStarted, EventNodeCompleted, EventNodeFailed,
		EventToolCallEmitted, EventToolCallCompleted,
		EventHitlRequest,
	} {
		if err := reg.Register(eventType, eventSchemaVersion); err != nil {
			return err
		}
	}
	return nil
}
