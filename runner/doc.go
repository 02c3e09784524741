// Package runner coordinates pattern executions. It keeps a registry of
// executors keyed by pattern name, validates input before any model call and
// starts each run on its own execution with a bounded model call budget.
//
// A run's frame stream always terminates: the runner fails the stream when a
// strategy returns an error, synthesizes a failure when a strategy forgets
// its terminal frame, and closes the stream once the terminal frame is out.
// In-flight runs are tracked by execution id so callers can cancel them;
// cancellation is cooperative and still produces a terminal frame.
//
// Lifecycle hooks observe runs at well-defined points. A before-execute hook
// may veto a run; error and after-execute hooks are informational. Each run
// records telemetry events and is wrapped in a trace span.
package runner
