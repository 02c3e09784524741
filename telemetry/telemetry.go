// Package telemetry provides the structured observability hook injected into
// every component. Components report what happened through an Observer;
// implementations decide whether that becomes a log line, a span event, a
// metric, or nothing. No process-wide state is involved beyond the OpenTelemetry
// providers installed by Setup.
package telemetry

import (
	"context"
	"sort"

	"github.com/hupe1980/agentweave/logging"
)

// Canonical event names recorded by the runner and pattern strategies.
// Observers may key aggregation on them; unknown names are still recorded.
const (
	EventExecutionStart    = "execution.start"
	EventExecutionComplete = "execution.complete"
	EventExecutionFailed   = "execution.failed"
	EventModelCall         = "model.call"
	EventToolCall          = "tool.call"
	EventFrameEmitted      = "frame.emit"
)

// Observer receives structured runtime events. Implementations must be safe
// for concurrent use and must not block the caller.
type Observer interface {
	RecordEvent(ctx context.Context, name string, attrs map[string]any)
}

// NoOp discards every event.
type NoOp struct{}

// RecordEvent implements Observer.
func (NoOp) RecordEvent(context.Context, string, map[string]any) {}

// LoggerObserver forwards events to a structured logger at debug level, with
// attribute keys sorted for stable output.
type LoggerObserver struct {
	logger logging.Logger
}

// NewLoggerObserver wraps a logger as an Observer.
func NewLoggerObserver(l logging.Logger) *LoggerObserver {
	if l == nil {
		l = logging.NoOpLogger{}
	}

	return &LoggerObserver{logger: l}
}

// RecordEvent implements Observer.
func (o *LoggerObserver) RecordEvent(_ context.Context, name string, attrs map[string]any) {
	o.logger.Debug(name, flatten(attrs)...)
}

// Multi fans each event out to all observers in order.
type Multi []Observer

// NewMulti combines observers, skipping nils.
func NewMulti(observers ...Observer) Multi {
	out := make(Multi, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}

	return out
}

// RecordEvent implements Observer.
func (m Multi) RecordEvent(ctx context.Context, name string, attrs map[string]any) {
	for _, o := range m {
		o.RecordEvent(ctx, name, attrs)
	}
}

func flatten(attrs map[string]any) []any {
	if len(attrs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, attrs[k])
	}

	return args
}
