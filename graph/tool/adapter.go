package tool

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/spicelabs/spice/graph"
)

// Adapt bridges a legacy Tool (the map-in/map-out Name()/Call() contract
// in tool.go) to graph.Tool, the wider Name()/Schema()/Execute() contract
// ToolNode expects, the same way goadesign-goa-ai/registry/service.go
// validates a tool call's payload against a declared JSON Schema document
// before dispatch. schema may be nil, in which case params are passed
// through unvalidated.
//
// A Tool adapted this way can only ever resolve to graph.ToolSuccess or
// graph.ToolFailure; it has no way to ask for a human decision mid-call.
// A tool that needs graph.ToolWaitingHitl should implement graph.Tool
// directly instead of going through Adapt.
func Adapt(t Tool, schema map[string]any) (graph.Tool, error) {
	a := &adapter{tool: t, schemaDoc: schema}
	if schema != nil {
		compiled, err := compileSchema(schema)
		if err != nil {
			return nil, fmt.Errorf("tool %q: compile schema: %w", t.Name(), err)
		}
		a.schema = compiled
	}
	return a, nil
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schema); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

type adapter struct {
	tool      Tool
	schemaDoc map[string]any
	schema    *jsonschema.Schema
}

// Name implements graph.Tool.
func (a *adapter) Name() string { return a.tool.Name() }

// Schema implements graph.Tool.
func (a *adapter) Schema() map[string]any { return a.schemaDoc }

// Execute implements graph.Tool: validate params against the declared
// schema (a hard error, not a ToolFailure outcome — a caller that violates
// the contract gets a node failure, not a structured "the tool declined"
// result), then delegate to the wrapped Tool's Call and fold its result
// into the three-variant ToolResult shape.
func (a *adapter) Execute(ctx context.Context, params map[string]any) (graph.ToolResult, error) {
	if a.schema != nil {
		if err := a.schema.Validate(params); err != nil {
			return graph.ToolResult{}, fmt.Errorf("tool %q: invalid params: %w", a.tool.Name(), err)
		}
	}

	out, err := a.tool.Call(ctx, params)
	if err != nil {
		return graph.ToolResult{Outcome: graph.ToolFailure, Err: err}, nil
	}
	return graph.ToolResult{Outcome: graph.ToolSuccess, Result: out}, nil
}
