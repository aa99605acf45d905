package graph

import "context"

// Agent is the collaborator interface a node delegates reasoning to. The
// runner never calls an LLM directly; AgentNode holds an Agent and the
// concrete client (Anthropic, OpenAI, a local model, a test double) lives
// entirely outside this module.
type Agent interface {
	// ProcessMessage runs the agent against the given message and returns its
	// reply. Implementations should respect ctx cancellation.
	ProcessMessage(ctx context.Context, msg Message) (Message, error)

	// Capabilities describes what this agent can do, for registries that
	// route work by capability rather than by name.
	Capabilities() []string

	// IsReady reports whether the agent is currently able to accept work
	// (connection warmed up, credentials valid, rate limit not exhausted).
	IsReady(ctx context.Context) bool
}

// AgentRegistry resolves agent names to Agent collaborators for AgentNode.
type AgentRegistry interface {
	Agent(name string) (Agent, bool)
}

// mapAgentRegistry is the simplest AgentRegistry: a fixed name-to-agent map.
type mapAgentRegistry map[string]Agent

// NewAgentRegistry returns an AgentRegistry backed by the given map. The map
// is copied; later mutation of agents has no effect on the registry.
func NewAgentRegistry(agents map[string]Agent) AgentRegistry {
	reg := make(mapAgentRegistry, len(agents))
	for k, v := range agents {
		reg[k] = v
	}
	return reg
}

// Agent implements AgentRegistry.
func (r mapAgentRegistry) Agent(name string) (Agent, bool) {
	a, ok := r[name]
	return a, ok
}

// ToolRegistry resolves tool names to Tool collaborators for ToolNode.
// NewToolRegistry builds one from a map (graph/tool has no registry type;
// tool.Adapt turns a tool.Tool into a graph Tool). It is kept as an
// interface here so graph
// does not import graph/tool directly (graph/tool depends on no generics
// and carries no import-cycle risk, but the boundary is kept explicit: a
// Node only needs names resolved to something it can Execute).
type ToolRegistry interface {
	Tool(name string) (Tool, bool)
}

// mapToolRegistry is the simplest ToolRegistry: a fixed name-to-tool map.
type mapToolRegistry map[string]Tool

// NewToolRegistry returns a ToolRegistry backed by the given map.
func NewToolRegistry(tools map[string]Tool) ToolRegistry {
	reg := make(mapToolRegistry, len(tools))
	for k, v := range tools {
		reg[k] = v
	}
	return reg
}

// Tool implements ToolRegistry.
func (r mapToolRegistry) Tool(name string) (Tool, bool) {
	t, ok := r[name]
	return t, ok
}

// ToolOutcome is the closed set of shapes a Tool.Execute call can resolve
// to, mirrored from spec.md §6: a tool either succeeds, fails, or asks for
// a human decision before it can proceed.
type ToolOutcome int

const (
	// ToolSuccess means Result carries the tool's output.
	ToolSuccess ToolOutcome = iota
	// ToolFailure means Err carries the reason the tool could not complete.
	ToolFailure
	// ToolWaitingHitl means the tool needs a human answer before it can
	// produce a result; Hitl carries the pause details.
	ToolWaitingHitl
)

// ToolResult is the three-variant outcome of a Tool.Execute call.
type ToolResult struct {
	Outcome ToolOutcome
	Result  map[string]any
	Err     error
	Hitl    *WaitingHitl
}

// Tool is the collaborator interface ToolNode delegates external work to.
// It widens graph/tool.Tool's map-in/map-out contract with a declared
// parameter schema and the three-variant ToolResult so a tool can ask for
// a human decision mid-call instead of only succeeding or failing.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Schema returns the tool's parameter schema as a JSON Schema document
	// (map form), or nil if the tool accepts arbitrary parameters.
	Schema() map[string]any

	// Execute runs the tool against params and returns a ToolResult.
	Execute(ctx context.Context, params map[string]any) (ToolResult, error)
}
