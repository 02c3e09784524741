package pattern

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/telemetry"
	"github.com/hupe1980/agentweave/tool"
)

const defaultToolUseInstructions = `You are a helpful assistant with access to tools. Use a tool whenever it
gives a more reliable answer than recall. When you have everything you need,
reply with the final answer and no further tool calls.`

// ErrStepLimit marks a tool-use loop that ran out of steps. Errors returned
// for an exhausted budget unwrap to it.
var ErrStepLimit = errors.New("step limit exceeded")

// StepLimitError reports a tool-use loop that exhausted its step budget
// before the model produced a final answer.
type StepLimitError struct {
	Steps int
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("no final answer after %d steps", e.Steps)
}

func (e *StepLimitError) Unwrap() error { return ErrStepLimit }

// ErrorCode implements core.Coded.
func (e *StepLimitError) ErrorCode() core.ErrorCode { return core.CodeStepLimit }

// ToolUseOptions configures the tool-use strategy.
type ToolUseOptions struct {
	// MaxSteps bounds the model turns. A turn that requests tools and the
	// turn reacting to their results count as two steps.
	MaxSteps int

	// Profile selects the model tier for every turn.
	Profile model.Profile

	// Instructions is the system prompt of the conversation.
	Instructions Instruction
}

// ToolUse runs a conversational loop in which the model may request tool
// calls. Requested calls are dispatched through the router, their results are
// appended to the transcript as tool turns, and the loop continues until the
// model answers without tool calls or the step budget runs out. Failed tool
// calls are fed back as results, not raised as errors, so the model can
// recover from them.
type ToolUse struct {
	deps Deps
	opts ToolUseOptions
}

var _ Executor = (*ToolUse)(nil)

// NewToolUse creates a tool-use strategy.
func NewToolUse(deps Deps, optFns ...func(o *ToolUseOptions)) *ToolUse {
	opts := ToolUseOptions{
		MaxSteps:     5,
		Profile:      model.ProfileBalanced,
		Instructions: NewInstruction(defaultToolUseInstructions),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ToolUse{deps: deps, opts: opts}
}

// Name implements Executor.
func (t *ToolUse) Name() string { return "tooluse" }

// Schema implements Executor. The tool-use strategy streams free text, so it
// carries no frame schema.
func (t *ToolUse) Schema() *core.Schema { return nil }

// Validate implements Executor.
func (t *ToolUse) Validate(input Input) error {
	_, err := t.transcript(input)

	return err
}

// transcript normalizes the input into the opening conversation.
func (t *ToolUse) transcript(input Input) ([]model.Message, error) {
	if len(input.Messages) == 0 {
		text, err := ValidateText(input)
		if err != nil {
			return nil, err
		}

		return []model.Message{{Role: model.RoleUser, Content: text}}, nil
	}

	total := 0

	for i, msg := range input.Messages {
		switch msg.Role {
		case model.RoleSystem, model.RoleUser, model.RoleAssistant:
		default:
			return nil, core.NewInputError(fmt.Sprintf("message %d has unsupported role %q", i, msg.Role))
		}

		if strings.TrimSpace(msg.Content) == "" {
			return nil, core.NewInputError(fmt.Sprintf("message %d has empty content", i))
		}

		total += len(msg.Content)
	}

	if total > MaxInputBytes {
		return nil, core.NewInputError(fmt.Sprintf("messages exceed %d bytes", MaxInputBytes))
	}

	transcript := make([]model.Message, len(input.Messages))
	copy(transcript, input.Messages)

	return transcript, nil
}

// Execute implements Executor.
func (t *ToolUse) Execute(exec *core.Execution, input Input) error {
	transcript, err := t.transcript(input)
	if err != nil {
		return err
	}

	instructions, err := t.opts.Instructions.Resolve(nil)
	if err != nil {
		return err
	}

	var defs []model.ToolDefinition

	if t.deps.Tools != nil {
		for _, d := range t.deps.Tools.Definitions() {
			defs = append(defs, model.ToolDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters.JSONMap(),
			})
		}
	}

	for step := 1; step <= t.opts.MaxSteps; step++ {
		result, err := t.deps.call(exec.Context(), exec, model.Request{
			Profile:      t.opts.Profile,
			Instructions: instructions,
			History:      transcript,
			Tools:        defs,
		})
		if err != nil {
			return err
		}

		if len(result.ToolCalls) == 0 {
			exec.Emit().EmitText(result.Text)
			exec.Emit().EmitFinalText()

			return nil
		}

		if t.deps.Tools == nil {
			return fmt.Errorf("model requested %d tool calls but no tool router is configured", len(result.ToolCalls))
		}

		if result.Text != "" {
			exec.LogDebug("tooluse.commentary", "step", step, "text", result.Text)
		}

		transcript = append(transcript, model.Message{
			Role:      model.RoleAssistant,
			Content:   result.Text,
			ToolCalls: result.ToolCalls,
		})

		transcript = t.dispatch(exec, step, result.ToolCalls, transcript)
	}

	return &StepLimitError{Steps: t.opts.MaxSteps}
}

// dispatch runs the requested tool calls and appends their results to the
// transcript as tool turns.
func (t *ToolUse) dispatch(exec *core.Execution, step int, toolCalls []model.ToolCall, transcript []model.Message) []model.Message {
	calls := make([]tool.Call, len(toolCalls))

	for i, tc := range toolCalls {
		id := tc.ID
		if id == "" {
			id = core.NewID()
		}

		calls[i] = tool.Call{ID: id, Tool: tc.Name, Arguments: tc.Arguments}
	}

	results := t.deps.Tools.DispatchAll(exec.Context(), exec.ID, calls)

	for i, res := range results {
		exec.AddToolRecord(res.Record(calls[i].Arguments))
		t.deps.observe(exec.Context(), telemetry.EventToolCall, map[string]any{
			"pattern":    exec.Pattern,
			"tool":       res.Tool,
			"error_code": string(res.ErrorCode),
			"duration":   res.Duration,
		})

		if res.Failed() {
			exec.LogWarn("tooluse.call.failed", "step", step, "tool", res.Tool, "code", string(res.ErrorCode))
		}

		transcript = append(transcript, model.Message{
			Role:       model.RoleTool,
			Content:    res.Content(),
			ToolCallID: res.CallID,
		})
	}

	return transcript
}
