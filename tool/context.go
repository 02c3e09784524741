package tool

import (
	"context"

	"github.com/hupe1980/agentweave/logging"
)

// CallContext provides a constrained execution surface for tool handlers.
//
// It scopes one tool invocation: the Go context governing cancellation and
// deadlines, the correlation ids linking the call back to its execution, and
// a logger pre-bound with those ids. Handlers receive nothing else; tools
// share no mutable state with each other or with the dispatching pattern.
type CallContext struct {
	ctx         context.Context
	executionID string
	callID      string
	tool        string
	logger      logging.Logger
}

// NewCallContext creates the context for one tool invocation.
func NewCallContext(ctx context.Context, executionID, callID, toolName string, logger logging.Logger) *CallContext {
	return &CallContext{
		ctx:         ctx,
		executionID: executionID,
		callID:      callID,
		tool:        toolName,
		logger: logging.With(logger,
			"execution_id", executionID,
			"call_id", callID,
			"tool", toolName,
		),
	}
}

// Context returns the Go context for the call. Handlers performing blocking
// work must honor its cancellation; the router abandons stragglers after the
// call deadline.
func (c *CallContext) Context() context.Context { return c.ctx }

// ExecutionID returns the id of the owning execution.
func (c *CallContext) ExecutionID() string { return c.executionID }

// CallID returns the function call identifier (correlates model request &
// tool execution).
func (c *CallContext) CallID() string { return c.callID }

// Tool returns the name of the tool being invoked.
func (c *CallContext) Tool() string { return c.tool }

// Logger returns a logger bound to the call's correlation ids.
func (c *CallContext) Logger() logging.Logger { return c.logger }
