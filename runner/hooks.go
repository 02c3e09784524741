package runner

import (
	"context"

	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/pattern"
)

// HookType identifies a point in the run lifecycle.
type HookType string

const (
	// HookBeforeExecute fires after validation, before the first model call.
	HookBeforeExecute HookType = "before_execute"
	// HookAfterExecute fires after the run reached its terminal frame,
	// whether it succeeded or failed.
	HookAfterExecute HookType = "after_execute"
	// HookOnError fires when a run fails, before HookAfterExecute.
	HookOnError HookType = "on_error"
)

// HookContext carries the run state visible to a hook. Err is set for
// HookOnError and, after a failed run, for HookAfterExecute.
type HookContext struct {
	ExecutionID string
	Pattern     string
	Input       pattern.Input
	Err         error
}

// Hook observes run lifecycle transitions. An error from a HookBeforeExecute
// hook aborts the run before any model call; errors from the other hook types
// are logged and do not alter the run outcome.
type Hook interface {
	Type() HookType
	Execute(ctx context.Context, hc *HookContext) error
}

// FunctionHook adapts a plain function to the Hook interface.
type FunctionHook struct {
	hookType HookType
	fn       func(ctx context.Context, hc *HookContext) error
}

// NewFunctionHook wraps fn as a hook of the given type.
func NewFunctionHook(hookType HookType, fn func(ctx context.Context, hc *HookContext) error) *FunctionHook {
	return &FunctionHook{hookType: hookType, fn: fn}
}

// Type implements Hook.
func (h *FunctionHook) Type() HookType { return h.hookType }

// Execute implements Hook.
func (h *FunctionHook) Execute(ctx context.Context, hc *HookContext) error {
	return h.fn(ctx, hc)
}

// LoggingHooks returns hooks that log each lifecycle transition of a run.
func LoggingHooks(logger logging.Logger) []Hook {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return []Hook{
		NewFunctionHook(HookBeforeExecute, func(_ context.Context, hc *HookContext) error {
			logger.Info("hook.before_execute", "execution_id", hc.ExecutionID, "pattern", hc.Pattern)
			return nil
		}),
		NewFunctionHook(HookAfterExecute, func(_ context.Context, hc *HookContext) error {
			logger.Info("hook.after_execute", "execution_id", hc.ExecutionID, "pattern", hc.Pattern, "failed", hc.Err != nil)
			return nil
		}),
		NewFunctionHook(HookOnError, func(_ context.Context, hc *HookContext) error {
			logger.Warn("hook.on_error", "execution_id", hc.ExecutionID, "pattern", hc.Pattern, "error", hc.Err)
			return nil
		}),
	}
}
