package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/pattern"
)

type stubExecutor struct {
	name     string
	schema   *core.Schema
	validate func(input pattern.Input) error
	execute  func(exec *core.Execution, input pattern.Input) error
}

var _ pattern.Executor = (*stubExecutor)(nil)

func (s *stubExecutor) Name() string { return s.name }

func (s *stubExecutor) Schema() *core.Schema { return s.schema }

func (s *stubExecutor) Validate(input pattern.Input) error {
	if s.validate != nil {
		return s.validate(input)
	}

	_, err := pattern.ValidateText(input)

	return err
}

func (s *stubExecutor) Execute(exec *core.Execution, input pattern.Input) error {
	if s.execute != nil {
		return s.execute(exec, input)
	}

	exec.Emit().EmitText("done")
	exec.Emit().EmitFinalText()

	return nil
}

type recordedEvent struct {
	name  string
	attrs map[string]any
}

type recordingObserver struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (o *recordingObserver) RecordEvent(_ context.Context, name string, attrs map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.events = append(o.events, recordedEvent{name: name, attrs: attrs})
}

func (o *recordingObserver) names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]string, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.name)
	}

	return out
}

func (o *recordingObserver) find(name string) (recordedEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, e := range o.events {
		if e.name == name {
			return e, true
		}
	}

	return recordedEvent{}, false
}

func drainFrames(exec *core.Execution) []core.Frame {
	var frames []core.Frame
	for f := range exec.Frames() {
		frames = append(frames, f)
	}

	return frames
}

// ----- Registry Tests -----

func TestRunnerRegisterAndLookup(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(
		&stubExecutor{name: "sequential"},
		&stubExecutor{name: "routing"},
	))

	ex, ok := r.Lookup("routing")
	require.True(t, ok)
	assert.Equal(t, "routing", ex.Name())

	_, ok = r.Lookup("parallel")
	assert.False(t, ok)

	assert.Equal(t, []string{"routing", "sequential"}, r.Patterns())
}

func TestRunnerRegisterRejectsDuplicates(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(&stubExecutor{name: "sequential"}))

	err := r.Register(&stubExecutor{name: "sequential"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"sequential" already registered`)
}

func TestRunnerRegisterRejectsUnnamed(t *testing.T) {
	r := New()

	require.Error(t, r.Register(&stubExecutor{}))
	require.Error(t, r.Register(nil))
}

// ----- Run Tests -----

func TestRunnerRunStreamsToTerminalFrame(t *testing.T) {
	observer := &recordingObserver{}
	r := New(func(o *Options) {
		o.Observer = observer
	})
	require.NoError(t, r.Register(&stubExecutor{name: "tooluse"}))

	exec, err := r.Run(context.Background(), "tooluse", pattern.Input{Text: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, exec.ID)
	assert.Equal(t, "tooluse", exec.Pattern)

	frames := drainFrames(exec)
	require.Len(t, frames, 2)

	delta, ok := frames[0].TextDelta()
	require.True(t, ok)
	assert.Equal(t, "done", delta)

	require.True(t, frames[1].Terminal)

	assert.Equal(t, []string{"execution.start", "execution.complete"}, observer.names())

	complete, ok := observer.find("execution.complete")
	require.True(t, ok)
	assert.Equal(t, "tooluse", complete.attrs["pattern"])
	assert.Equal(t, exec.ID, complete.attrs["execution_id"])
	assert.IsType(t, time.Duration(0), complete.attrs["duration"])

	require.Eventually(t, func() bool {
		return len(r.Running()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRunnerRunUnknownPattern(t *testing.T) {
	r := New()

	_, err := r.Run(context.Background(), "parallel", pattern.Input{Text: "hello"})
	require.ErrorIs(t, err, ErrUnknownPattern)
	assert.Contains(t, err.Error(), "parallel")
}

func TestRunnerRunRejectsInvalidInput(t *testing.T) {
	observer := &recordingObserver{}
	r := New(func(o *Options) {
		o.Observer = observer
	})
	require.NoError(t, r.Register(&stubExecutor{name: "sequential"}))

	_, err := r.Run(context.Background(), "sequential", pattern.Input{Text: "   "})
	require.Error(t, err)
	assert.Equal(t, core.CodeInputValidation, core.ErrorCodeOf(err))

	assert.Empty(t, observer.names())
	assert.Empty(t, r.Running())
}

func TestRunnerRunFailureEmitsTerminalError(t *testing.T) {
	observer := &recordingObserver{}
	r := New(func(o *Options) {
		o.Observer = observer
	})

	boom := core.NewInputError("midway rejection")
	require.NoError(t, r.Register(&stubExecutor{
		name: "sequential",
		execute: func(exec *core.Execution, _ pattern.Input) error {
			exec.Emit().EmitValue(map[string]any{"draft": "partial"})
			return boom
		},
	}))

	exec, err := r.Run(context.Background(), "sequential", pattern.Input{Text: "hello"})
	require.NoError(t, err)

	frames := drainFrames(exec)
	require.Len(t, frames, 2)

	terminal := frames[len(frames)-1]
	require.True(t, terminal.Terminal)

	failure, ok := terminal.Err()
	require.True(t, ok)
	assert.Equal(t, core.CodeInputValidation, failure.Code)
	assert.Contains(t, failure.Message, "midway rejection")

	failed, ok := observer.find("execution.failed")
	require.True(t, ok)
	assert.Equal(t, string(core.CodeInputValidation), failed.attrs["error_code"])

	_, ok = observer.find("execution.complete")
	assert.False(t, ok)
}

func TestRunnerRunFailsStreamWhenTerminalFrameMissing(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&stubExecutor{
		name: "sequential",
		execute: func(exec *core.Execution, _ pattern.Input) error {
			exec.Emit().EmitValue(map[string]any{"draft": "partial"})
			return nil
		},
	}))

	exec, err := r.Run(context.Background(), "sequential", pattern.Input{Text: "hello"})
	require.NoError(t, err)

	frames := drainFrames(exec)
	require.NotEmpty(t, frames)

	terminal := frames[len(frames)-1]
	require.True(t, terminal.Terminal)

	failure, ok := terminal.Err()
	require.True(t, ok)
	assert.Equal(t, core.CodeInternal, failure.Code)
	assert.Contains(t, failure.Message, "without a terminal frame")
}

func TestRunnerAppliesModelCallBudget(t *testing.T) {
	r := New(func(o *Options) {
		o.MaxModelCalls = 3
	})

	var seen error
	require.NoError(t, r.Register(&stubExecutor{
		name: "sequential",
		execute: func(exec *core.Execution, _ pattern.Input) error {
			for i := 0; i < 3; i++ {
				require.NoError(t, exec.Limiter().Increment())
			}
			seen = exec.Limiter().Increment()

			exec.Emit().EmitFinalValue(map[string]any{"final": "ok"})

			return nil
		},
	}))

	exec, err := r.Run(context.Background(), "sequential", pattern.Input{Text: "hello"})
	require.NoError(t, err)
	drainFrames(exec)

	require.Error(t, seen)
	assert.Contains(t, seen.Error(), "exceeded max model calls")
}

// ----- Cancel Tests -----

func TestRunnerCancelStopsRun(t *testing.T) {
	r := New()

	started := make(chan struct{})
	require.NoError(t, r.Register(&stubExecutor{
		name: "tooluse",
		execute: func(exec *core.Execution, _ pattern.Input) error {
			close(started)
			<-exec.Context().Done()
			return exec.Context().Err()
		},
	}))

	exec, err := r.Run(context.Background(), "tooluse", pattern.Input{Text: "hello"})
	require.NoError(t, err)

	<-started
	assert.Equal(t, []string{exec.ID}, r.Running())
	require.NoError(t, r.Cancel(exec.ID))

	frames := drainFrames(exec)
	require.Len(t, frames, 1)

	failure, ok := frames[0].Err()
	require.True(t, ok)
	assert.Equal(t, core.CodeCancelled, failure.Code)

	require.Eventually(t, func() bool {
		return len(r.Running()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRunnerCancelUnknownExecution(t *testing.T) {
	r := New()

	err := r.Cancel("nope")
	require.ErrorIs(t, err, ErrUnknownExecution)
}

// ----- Hook Tests -----

func TestRunnerHookOrderOnSuccess(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(step string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, step)
	}

	r := New(func(o *Options) {
		o.Hooks = []Hook{
			NewFunctionHook(HookBeforeExecute, func(_ context.Context, hc *HookContext) error {
				require.NotEmpty(t, hc.ExecutionID)
				require.Equal(t, "sequential", hc.Pattern)
				record("before")
				return nil
			}),
			NewFunctionHook(HookOnError, func(_ context.Context, _ *HookContext) error {
				record("error")
				return nil
			}),
			NewFunctionHook(HookAfterExecute, func(_ context.Context, hc *HookContext) error {
				require.NoError(t, hc.Err)
				record("after")
				return nil
			}),
		}
	})
	require.NoError(t, r.Register(&stubExecutor{
		name: "sequential",
		execute: func(exec *core.Execution, _ pattern.Input) error {
			record("execute")
			exec.Emit().EmitFinalValue(map[string]any{"final": "ok"})
			return nil
		},
	}))

	exec, err := r.Run(context.Background(), "sequential", pattern.Input{Text: "hello"})
	require.NoError(t, err)
	drainFrames(exec)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"before", "execute", "after"}, order)
}

func TestRunnerErrorHookRunsBeforeAfterHook(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(step string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, step)
	}

	boom := errors.New("strategy failed")
	r := New(func(o *Options) {
		o.Hooks = []Hook{
			NewFunctionHook(HookOnError, func(_ context.Context, hc *HookContext) error {
				require.ErrorIs(t, hc.Err, boom)
				record("error")
				return nil
			}),
			NewFunctionHook(HookAfterExecute, func(_ context.Context, hc *HookContext) error {
				require.ErrorIs(t, hc.Err, boom)
				record("after")
				return nil
			}),
		}
	})
	require.NoError(t, r.Register(&stubExecutor{
		name: "sequential",
		execute: func(_ *core.Execution, _ pattern.Input) error {
			return boom
		},
	}))

	exec, err := r.Run(context.Background(), "sequential", pattern.Input{Text: "hello"})
	require.NoError(t, err)
	drainFrames(exec)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"error", "after"}, order)
}

func TestRunnerBeforeHookAbortsRun(t *testing.T) {
	observer := &recordingObserver{}
	executed := false

	r := New(func(o *Options) {
		o.Observer = observer
		o.Hooks = []Hook{
			NewFunctionHook(HookBeforeExecute, func(_ context.Context, _ *HookContext) error {
				return errors.New("quota exhausted")
			}),
		}
	})
	require.NoError(t, r.Register(&stubExecutor{
		name: "sequential",
		execute: func(_ *core.Execution, _ pattern.Input) error {
			executed = true
			return nil
		},
	}))

	_, err := r.Run(context.Background(), "sequential", pattern.Input{Text: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before_execute hook")
	assert.Contains(t, err.Error(), "quota exhausted")

	assert.False(t, executed)
	assert.Empty(t, observer.names())
	assert.Empty(t, r.Running())
}

func TestRunnerAfterHookFailureDoesNotAffectRun(t *testing.T) {
	r := New(func(o *Options) {
		o.Hooks = []Hook{
			NewFunctionHook(HookAfterExecute, func(_ context.Context, _ *HookContext) error {
				return errors.New("audit sink unavailable")
			}),
		}
	})
	require.NoError(t, r.Register(&stubExecutor{name: "sequential"}))

	exec, err := r.Run(context.Background(), "sequential", pattern.Input{Text: "hello"})
	require.NoError(t, err)

	frames := drainFrames(exec)
	terminal := frames[len(frames)-1]
	require.True(t, terminal.Terminal)
	assert.False(t, terminal.Failed())
}
