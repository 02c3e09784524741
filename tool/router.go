package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/logging"
)

const defaultCallTimeout = 10 * time.Second

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithCallTimeout sets the per-call deadline after which the router abandons
// a handler and synthesizes a timeout result.
func WithCallTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxParallel bounds how many calls of one batch run concurrently.
// Zero or negative means no explicit limit.
func WithMaxParallel(n int) RouterOption {
	return func(r *Router) { r.maxParallel = n }
}

// WithLogger attaches a logger for dispatch diagnostics.
func WithLogger(l logging.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// Router dispatches tool calls issued by model steps to registered tools.
//
// Dispatch never returns a Go error for handler failures: unknown tools,
// argument validation failures, handler errors, panics and timeouts all
// become structured CallResults so the calling pattern can feed the outcome
// back to the model. Implementations must respect context cancellation and
// emit exactly one result per incoming call.
type Router struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	timeout     time.Duration
	maxParallel int
	logger      logging.Logger
}

// NewRouter creates an empty router.
func NewRouter(optFns ...RouterOption) *Router {
	r := &Router{
		tools:   make(map[string]Tool),
		timeout: defaultCallTimeout,
		logger:  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(r)
	}

	return r
}

// Register adds tools to the router. Names must be unique.
func (r *Router) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if t == nil || t.Name() == "" {
			return fmt.Errorf("tool must have a name")
		}
		if _, exists := r.tools[t.Name()]; exists {
			return fmt.Errorf("tool %q already registered", t.Name())
		}
		r.tools[t.Name()] = t
	}

	return nil
}

// Lookup returns a registered tool by name.
func (r *Router) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the registered tools as stable, name-sorted definitions
// for export to model providers.
func (r *Router) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs
}

// Dispatch executes one call and returns its structured result. The handler
// runs in its own goroutine under a per-call deadline; if it does not return
// in time the router synthesizes a timeout result and abandons the straggler
// (cooperative cancellation via the call's child context).
func (r *Router) Dispatch(ctx context.Context, executionID string, call Call) CallResult {
	start := time.Now()

	impl, ok := r.Lookup(call.Tool)
	if !ok {
		r.logger.Warn("tool.dispatch.unknown", "execution_id", executionID, "tool", call.Tool)

		return CallResult{
			CallID:    call.ID,
			Tool:      call.Tool,
			ErrorCode: core.CodeToolExecution,
			ErrorMsg:  (&ToolError{Tool: call.Tool, Message: "tool not registered", Code: CodeUnknownTool}).Error(),
			Duration:  time.Since(start),
		}
	}

	// Arguments are validated before the handler runs; handlers only ever see
	// conforming input.
	if schema := impl.Parameters(); schema != nil {
		if err := schema.Validate(call.Arguments, core.Strict); err != nil {
			r.logger.Warn("tool.dispatch.invalid_args", "execution_id", executionID, "tool", call.Tool, "error", err.Error())

			return CallResult{
				CallID:    call.ID,
				Tool:      call.Tool,
				ErrorCode: core.CodeToolExecution,
				ErrorMsg:  (&ToolError{Tool: call.Tool, Message: err.Error(), Code: CodeValidation}).Error(),
				Duration:  time.Since(start),
			}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		payload any
		err     error
	}

	resCh := make(chan outcome, 1)

	go func() {
		var out outcome
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("tool.dispatch.panic", "execution_id", executionID, "tool", call.Tool, "recover", rec, "stack", string(debug.Stack()))
				out = outcome{err: &ToolError{
					Tool:    call.Tool,
					Message: fmt.Sprintf("panic: %v", rec),
					Code:    CodeExecution,
				}}
			}
			resCh <- out
		}()

		cc := NewCallContext(callCtx, executionID, call.ID, call.Tool, r.logger)
		out.payload, out.err = impl.Call(cc, call.Arguments)
	}()

	select {
	case out := <-resCh:
		return r.resultOf(call, out.payload, out.err, start)

	case <-callCtx.Done():
		if ctx.Err() != nil {
			// Parent cancellation, not a tool fault.
			return CallResult{
				CallID:    call.ID,
				Tool:      call.Tool,
				ErrorCode: core.CodeCancelled,
				ErrorMsg:  "execution cancelled",
				Duration:  time.Since(start),
			}
		}

		r.logger.Warn("tool.dispatch.timeout", "execution_id", executionID, "tool", call.Tool, "timeout", r.timeout.String())

		return CallResult{
			CallID:    call.ID,
			Tool:      call.Tool,
			ErrorCode: core.CodeToolTimeout,
			ErrorMsg:  fmt.Sprintf("tool %s did not return within %s", call.Tool, r.timeout),
			Duration:  time.Since(start),
		}
	}
}

// DispatchAll executes a batch of calls with bounded parallelism, preserving
// the input order in the returned results.
func (r *Router) DispatchAll(ctx context.Context, executionID string, calls []Call) []CallResult {
	n := len(calls)
	if n == 0 {
		return nil
	}

	// Fast path: single call, execute inline.
	if n == 1 {
		return []CallResult{r.Dispatch(ctx, executionID, calls[0])}
	}

	maxPar := r.maxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]CallResult, n)
	sem := make(chan struct{}, maxPar)

	var wg sync.WaitGroup

	batchStart := time.Now()
	for i := range calls {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, call Call) {
			defer wg.Done()
			defer func() { <-sem }()

			results[idx] = r.Dispatch(ctx, executionID, call)
		}(i, calls[i])
	}

	wg.Wait()

	r.logger.Debug("tool.dispatch.batch.complete",
		"execution_id", executionID,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

// resultOf normalizes a handler outcome into a CallResult.
func (r *Router) resultOf(call Call, payload any, err error, start time.Time) CallResult {
	res := CallResult{
		CallID:   call.ID,
		Tool:     call.Tool,
		Duration: time.Since(start),
	}

	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			res.ErrorCode = core.CodeToolTimeout
		case errors.Is(err, context.Canceled):
			res.ErrorCode = core.CodeCancelled
		default:
			res.ErrorCode = core.CodeToolExecution
			var coded core.Coded
			if errors.As(err, &coded) {
				res.ErrorCode = coded.ErrorCode()
			}
		}
		res.ErrorMsg = err.Error()
		return res
	}

	res.Payload = payload

	return res
}
