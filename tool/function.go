package tool

import (
	"fmt"
	"time"

	"github.com/hupe1980/agentweave/core"
)

// Function is a generic adapter that exposes a plain Go function as a tool.
//
// Responsibilities:
//   - Holds the schema describing accepted arguments
//   - Validates model supplied arguments against that schema before execution
//   - Invokes the wrapped function with a *CallContext giving access to
//     correlation ids and logging
//   - Normalizes error handling so callers receive *ToolError with consistent
//     codes:
//     VALIDATION_ERROR  -> schema / argument mismatch
//     EXECUTION_ERROR   -> underlying function returned an error (non-ToolError)
//     (custom codes preserved if the function returns *ToolError directly)
//
// Concurrency:
//
//	A Function has no internal mutable state after construction and is safe
//	for concurrent use by multiple goroutines.
//
// Returned result:
//
//	The returned value can be any Go type that is JSON serializable by the
//	higher layer. If more structure is required, implement Tool directly.
type Function struct {
	name        string
	description string
	parameters  *core.Schema
	fn          func(callCtx *CallContext, args map[string]any) (any, error)
}

// NewFunction constructs a Function from explicit schema and implementation.
//
// Example:
//
//	sum := tool.NewFunction(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  core.NewSchema(
//	    core.Number("a", "first addend"),
//	    core.Number("b", "second addend"),
//	  ),
//	  func(callCtx *tool.CallContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunction(
	name, description string,
	parameters *core.Schema,
	fn func(callCtx *CallContext, args map[string]any) (any, error),
) *Function {
	return &Function{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionFromStruct derives the parameter schema from a struct using
// reflection. It is a convenience for simple argument containers and produces
// a schema equivalent to core.SchemaOf(structType).
func NewFunctionFromStruct(
	name, description string,
	structType any,
	fn func(callCtx *CallContext, args map[string]any) (any, error),
) *Function {
	return NewFunction(name, description, core.SchemaOf(structType), fn)
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *Function) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *Function) Description() string { return t.description }

// Parameters returns the schema describing expected arguments.
func (t *Function) Parameters() *core.Schema { return t.parameters }

// Call validates the provided args against the declared schema then invokes
// the underlying function. Validation or execution failures are wrapped (or
// passed through) as *ToolError for uniform downstream handling.
func (t *Function) Call(callCtx *CallContext, args map[string]any) (any, error) {
	logger := callCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start")

	if t.parameters != nil {
		if err := t.parameters.Validate(args, core.Strict); err != nil {
			logger.Warn("tool.call.validation_failed", "error", err.Error())

			return nil, &ToolError{
				Tool:    t.name,
				Message: fmt.Sprintf("parameter validation failed: %v", err),
				Code:    CodeValidation,
				Details: err,
			}
		}
	}

	result, err := t.fn(callCtx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok { // Already a ToolError -> just log and forward
			logger.Error("tool.call.error", "error", toolErr.Message)

			return nil, toolErr
		}

		logger.Error("tool.call.error", "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
		}
	}

	logger.Info("tool.call.success", "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
