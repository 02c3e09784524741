// Package tool implements the function / tool calling subsystem that lets
// patterns invoke structured capabilities (APIs, computations, side effects)
// with schema validated arguments, consistent error handling and rich
// metadata for LLM guidance.
package tool

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/agentweave/core"
)

// Tool defines the interface for extending pattern capabilities with external
// functions.
//
// Tools are registered with a Router to enable function calling, allowing
// model-driven steps to perform actions beyond text generation such as API
// calls, calculations, database queries, or any other programmatic operations.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper schemas for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
//   - Follow consistent naming conventions (snake_case recommended)
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and
	// how to use the tool.
	Description() string

	// Parameters returns the schema describing the expected input format.
	// It is used for argument validation and LLM function calling.
	Parameters() *core.Schema

	// Call executes the tool with already validated arguments. The CallContext
	// is the constrained surface handlers get: call correlation ids and a
	// logger, never shared mutable state.
	Call(callCtx *CallContext, args map[string]any) (any, error)
}

// Definition describes a registered tool for export to model providers.
type Definition struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Parameters  *core.Schema `json:"parameters"`
}

// Call is one tool invocation requested by a model step.
type Call struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallResult is the structured outcome of one dispatched call. Failures are
// carried as data (code + message), never as a Go error: a failed tool call
// is a normal result the model gets to react to.
type CallResult struct {
	CallID    string         `json:"callId"`
	Tool      string         `json:"tool"`
	Payload   any            `json:"payload,omitempty"`
	ErrorCode core.ErrorCode `json:"errorCode,omitempty"`
	ErrorMsg  string         `json:"errorMessage,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Failed reports whether the call produced an error outcome.
func (r CallResult) Failed() bool { return r.ErrorCode != "" }

// Content renders the result as the text fed back to the model.
func (r CallResult) Content() string {
	if r.Failed() {
		return fmt.Sprintf("error [%s]: %s", r.ErrorCode, r.ErrorMsg)
	}

	switch p := r.Payload.(type) {
	case string:
		return p
	default:
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Sprintf("%v", r.Payload)
		}
		return string(raw)
	}
}

// Record converts the result into an execution tool record.
func (r CallResult) Record(args map[string]any) core.ToolRecord {
	return core.ToolRecord{
		CallID:    r.CallID,
		Tool:      r.Tool,
		Arguments: args,
		Payload:   r.Payload,
		ErrorCode: r.ErrorCode,
		ErrorMsg:  r.ErrorMsg,
		Duration:  r.Duration,
	}
}

// Tool-level error codes. They refine the coarse taxonomy for diagnostics;
// ToolError.ErrorCode collapses them back onto it.
const (
	CodeUnknownTool = "UNKNOWN_TOOL"
	CodeValidation  = "VALIDATION_ERROR"
	CodeExecution   = "EXECUTION_ERROR"
	CodeTimeout     = "TIMEOUT"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// ErrorCode implements core.Coded.
func (e *ToolError) ErrorCode() core.ErrorCode {
	if e.Code == CodeTimeout {
		return core.CodeToolTimeout
	}
	return core.CodeToolExecution
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
