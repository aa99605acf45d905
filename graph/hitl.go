package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/spicelabs/spice/graph/store"
)

// HumanResponse is what a human supplies back to a human-in-the-loop pause:
// an opaque value (a selected option, free text, a yes/no confirmation)
// with an optional reason. Runner.Resume treats it identically regardless
// of whether the pause originated from a HumanNode or a tool resolving to
// ToolWaitingHitl — both produce the same WaitingHitl shape.
type HumanResponse struct {
	Value  any
	Reason string
}

// OptionValidation controls how HitlCoordinator.Resume checks a response's
// Value against the pending tool call's declared options.
type OptionValidation int

const (
	// OptionsLenient accepts any response value, even one absent from the
	// pending call's declared options (or when none were declared).
	OptionsLenient OptionValidation = iota
	// OptionsStrict rejects a response whose Value does not exactly match
	// (as a string) one of the pending call's declared options, when any
	// were declared.
	OptionsStrict
)

// ErrResponseNotAnOption is returned by HitlCoordinator.Resume under
// OptionsStrict when response.Value matches none of the declared options.
type ErrResponseNotAnOption struct {
	ToolCallID string
	Value      any
	Options    []string
}

func (e *ErrResponseNotAnOption) Error() string {
	return fmt.Sprintf("hitl: response %v for tool call %q is not one of %v", e.Value, e.ToolCallID, e.Options)
}

// HitlCoordinator wraps a Runner with the option-validation policy spec.md
// §4.8 describes: a node-level HITL declaration becomes a tool call with a
// prompt and an option list, and a caller receiving the human's eventual
// answer (over HTTP, a chat reply, a CLI prompt) goes through the
// coordinator instead of calling Runner.Resume directly and re-deriving the
// validation policy at every call site.
type HitlCoordinator struct {
	runner     *Runner
	validation OptionValidation
}

// NewHitlCoordinator constructs a HitlCoordinator wrapping runner.
func NewHitlCoordinator(runner *Runner, validation OptionValidation) *HitlCoordinator {
	return &HitlCoordinator{runner: runner, validation: validation}
}

// Resume validates response against the pending tool call's declared options
// (only under OptionsStrict, and only when options were actually declared),
// then resumes runID at toolCallID — or at the run's latest checkpoint, if
// toolCallID is empty.
func (c *HitlCoordinator) Resume(ctx context.Context, runID, toolCallID string, response HumanResponse) (Message, error) {
	if c.validation == OptionsStrict {
		options, err := c.pendingOptions(ctx, runID, toolCallID)
		if err != nil {
			return Message{}, err
		}
		if len(options) > 0 && !containsOption(options, response.Value) {
			return Message{}, &ErrResponseNotAnOption{ToolCallID: toolCallID, Value: response.Value, Options: options}
		}
	}
	return c.runner.Resume(ctx, runID, toolCallID, response)
}

// pendingOptions loads the checkpoint for runID/toolCallID and returns the
// declared options of its pending HITL call, without resuming anything.
func (c *HitlCoordinator) pendingOptions(ctx context.Context, runID, toolCallID string) ([]string, error) {
	if c.runner.opts.Store == nil {
		return nil, ErrNoCheckpointStore
	}
	var cp store.Checkpoint
	var err error
	if toolCallID != "" {
		cp, err = c.runner.opts.Store.LoadLabel(ctx, runID, checkpointLabel(c.runner.graph.ID(), toolCallID))
	} else {
		cp, err = c.runner.opts.Store.Load(ctx, runID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &CheckpointNotFound{RunID: runID}
		}
		return nil, err
	}

	msg := fromCheckpointMessage(cp.Message)
	call, ok := msg.PendingHitlCall()
	if !ok {
		return nil, nil
	}
	opts, _ := call.Args["options"].([]string)
	return opts, nil
}

func containsOption(options []string, value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}
