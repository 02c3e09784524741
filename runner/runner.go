package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/pattern"
	"github.com/hupe1980/agentweave/telemetry"
)

var (
	// ErrUnknownPattern is returned by Run for an unregistered pattern name.
	ErrUnknownPattern = errors.New("unknown pattern")
	// ErrUnknownExecution is returned by Cancel for an id that is not in flight.
	ErrUnknownExecution = errors.New("unknown execution")
)

// Options configures the runner.
type Options struct {
	// Logger receives runner and execution logs.
	Logger logging.Logger

	// Observer receives execution lifecycle events.
	Observer telemetry.Observer

	// MaxModelCalls bounds the model calls of each execution. Zero means
	// unlimited.
	MaxModelCalls int

	// FrameBuffer is the capacity of each execution's frame channel.
	FrameBuffer int

	// Hooks observe run lifecycle transitions.
	Hooks []Hook
}

// Runner owns the registered pattern executors and the lifecycle of their
// runs. It validates input before any model call, starts each run on its own
// execution, tracks in-flight runs for cancellation by id and guarantees that
// every frame stream terminates with exactly one terminal frame.
type Runner struct {
	logger        logging.Logger
	observer      telemetry.Observer
	maxModelCalls int
	frameBuffer   int
	hooks         map[HookType][]Hook

	mu        sync.RWMutex
	executors map[string]pattern.Executor
	active    map[string]*core.Execution
}

// New creates a runner.
func New(optFns ...func(o *Options)) *Runner {
	opts := Options{
		Logger:      logging.NoOpLogger{},
		Observer:    telemetry.NoOp{},
		FrameBuffer: 16,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Observer == nil {
		opts.Observer = telemetry.NoOp{}
	}

	hooks := make(map[HookType][]Hook)
	for _, h := range opts.Hooks {
		hooks[h.Type()] = append(hooks[h.Type()], h)
	}

	return &Runner{
		logger:        opts.Logger,
		observer:      opts.Observer,
		maxModelCalls: opts.MaxModelCalls,
		frameBuffer:   opts.FrameBuffer,
		hooks:         hooks,
		executors:     make(map[string]pattern.Executor),
		active:        make(map[string]*core.Execution),
	}
}

// Register adds executors under their pattern names. Registering a name twice
// returns an error.
func (r *Runner) Register(executors ...pattern.Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ex := range executors {
		if ex == nil {
			return errors.New("register: nil executor")
		}

		name := ex.Name()
		if name == "" {
			return errors.New("register: executor has no name")
		}

		if _, ok := r.executors[name]; ok {
			return fmt.Errorf("register: pattern %q already registered", name)
		}

		r.executors[name] = ex
	}

	return nil
}

// Lookup returns the executor registered under name.
func (r *Runner) Lookup(name string) (pattern.Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ex, ok := r.executors[name]

	return ex, ok
}

// Patterns returns the registered pattern names, sorted.
func (r *Runner) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Run validates input and starts one run of the named pattern. The returned
// execution exposes the id and the frame stream; the stream is closed after
// the terminal frame. Unknown patterns, rejected input and before-hook
// failures are returned synchronously and never start a stream.
func (r *Runner) Run(ctx context.Context, name string, input pattern.Input) (*core.Execution, error) {
	ex, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPattern, name)
	}

	if err := ex.Validate(input); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "execution."+name)

	exec := core.NewExecution(ctx, name, ex.Schema(),
		core.WithLogger(r.logger),
		core.WithMaxModelCalls(r.maxModelCalls),
		core.WithFrameBuffer(r.frameBuffer),
	)

	hc := &HookContext{ExecutionID: exec.ID, Pattern: name, Input: input}

	if err := r.runHooks(exec.Context(), HookBeforeExecute, hc); err != nil {
		telemetry.RecordError(span, err)
		span.End()
		exec.Finish()

		return nil, err
	}

	r.track(exec)

	r.observer.RecordEvent(exec.Context(), telemetry.EventExecutionStart, map[string]any{
		"pattern":      name,
		"execution_id": exec.ID,
	})
	exec.LogInfo("run.start")

	go func() {
		defer r.untrack(exec.ID)
		defer span.End()

		err := ex.Execute(exec, input)
		if err == nil && !exec.Emit().Terminated() {
			err = fmt.Errorf("pattern %s finished without a terminal frame", name)
		}

		if err != nil {
			exec.Emit().Fail(err)
			telemetry.RecordError(span, err)
			hc.Err = err
			r.notifyHooks(exec.Context(), HookOnError, hc)

			r.observer.RecordEvent(exec.Context(), telemetry.EventExecutionFailed, map[string]any{
				"pattern":      name,
				"execution_id": exec.ID,
				"error_code":   string(core.ErrorCodeOf(err)),
				"duration":     exec.Elapsed(),
			})
			exec.LogWarn("run.failed", "error", err, "duration", exec.Elapsed())
		} else {
			r.observer.RecordEvent(exec.Context(), telemetry.EventExecutionComplete, map[string]any{
				"pattern":      name,
				"execution_id": exec.ID,
				"duration":     exec.Elapsed(),
			})
			exec.LogInfo("run.complete", "duration", exec.Elapsed())
		}

		r.notifyHooks(exec.Context(), HookAfterExecute, hc)
		exec.Finish()
	}()

	return exec, nil
}

// Cancel requests a cooperative halt of an in-flight run. The run's stream
// still ends with a terminal frame, produced by the strategy observing the
// cancellation.
func (r *Runner) Cancel(id string) error {
	r.mu.RLock()
	exec, ok := r.active[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExecution, id)
	}

	exec.LogInfo("run.cancel")
	exec.Cancel()

	return nil
}

// Running returns the ids of in-flight runs, sorted.
func (r *Runner) Running() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func (r *Runner) track(exec *core.Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active[exec.ID] = exec
}

func (r *Runner) untrack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, id)
}

// runHooks runs hooks whose failure aborts the run.
func (r *Runner) runHooks(ctx context.Context, hookType HookType, hc *HookContext) error {
	for _, h := range r.hooks[hookType] {
		if err := h.Execute(ctx, hc); err != nil {
			return fmt.Errorf("%s hook: %w", hookType, err)
		}
	}

	return nil
}

// notifyHooks runs hooks whose failure must not alter the run outcome.
func (r *Runner) notifyHooks(ctx context.Context, hookType HookType, hc *HookContext) {
	for _, h := range r.hooks[hookType] {
		if err := h.Execute(ctx, hc); err != nil {
			r.logger.Warn("runner.hook.failed", "hook", string(hookType), "error", err)
		}
	}
}
