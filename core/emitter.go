package core

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
)

// Emitter serializes frame emission for one execution. It owns the sequence
// counter, deduplicates structurally identical values, accumulates text
// deltas, and guarantees that exactly one terminal frame is emitted and that
// nothing follows it. All methods are safe for concurrent use.
type Emitter struct {
	ctx context.Context
	ch  chan<- Frame

	mu      sync.Mutex
	seq     int
	last    map[string]any
	hasLast bool
	text    strings.Builder
	done    bool
}

// NewEmitter creates an emitter that sends frames on ch until ctx is
// cancelled or a terminal frame has been emitted.
func NewEmitter(ctx context.Context, ch chan<- Frame) *Emitter {
	return &Emitter{ctx: ctx, ch: ch}
}

// EmitValue emits a non-terminal frame carrying a partial value. A value
// structurally equal to the last emitted one is dropped. Reports whether a
// frame was emitted.
func (e *Emitter) EmitValue(value map[string]any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return false
	}

	snapshot := copyValue(value)
	if e.hasLast && reflect.DeepEqual(e.last, snapshot) {
		return false
	}

	if !e.send(Frame{Seq: e.seq, Payload: ValuePayload{Value: snapshot}}) {
		return false
	}

	e.seq++
	e.last = snapshot
	e.hasLast = true

	return true
}

// EmitText emits a non-terminal frame carrying a text delta plus the text
// accumulated so far. Empty deltas are dropped.
func (e *Emitter) EmitText(delta string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done || delta == "" {
		return false
	}

	e.text.WriteString(delta)

	if !e.send(Frame{Seq: e.seq, Payload: TextPayload{Delta: delta, Text: e.text.String()}}) {
		return false
	}

	e.seq++

	return true
}

// EmitFinalValue emits the terminal frame carrying the final value. The
// terminal frame is always emitted, even when the value equals the last
// non-terminal emission.
func (e *Emitter) EmitFinalValue(value map[string]any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return false
	}

	e.done = true
	snapshot := copyValue(value)

	if !e.send(Frame{Seq: e.seq, Payload: ValuePayload{Value: snapshot}, Terminal: true}) {
		return false
	}

	e.seq++
	e.last = snapshot
	e.hasLast = true

	return true
}

// EmitFinalText emits the terminal frame carrying the fully accumulated text.
func (e *Emitter) EmitFinalText() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return false
	}

	e.done = true

	if !e.send(Frame{Seq: e.seq, Payload: TextPayload{Text: e.text.String()}, Terminal: true}) {
		return false
	}

	e.seq++

	return true
}

// Fail emits the terminal frame carrying a typed failure. Schema violations
// keep their per-field detail.
func (e *Emitter) Fail(err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done || err == nil {
		return false
	}

	e.done = true

	payload := ErrorPayload{Code: ErrorCodeOf(err), Message: err.Error()}

	var sv *SchemaViolationError
	if errors.As(err, &sv) {
		payload.Violations = sv.Violations
	}

	if !e.send(Frame{Seq: e.seq, Payload: payload, Terminal: true}) {
		return false
	}

	e.seq++

	return true
}

// Terminated reports whether a terminal frame has been emitted (or the
// execution context was cancelled mid-send).
func (e *Emitter) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.done
}

// Seq returns the number of frames emitted so far.
func (e *Emitter) Seq() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.seq
}

// Last returns a copy of the last emitted value, if any value frame has been
// emitted.
func (e *Emitter) Last() (map[string]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasLast {
		return nil, false
	}

	return copyValue(e.last), true
}

// Text returns the text accumulated by EmitText so far.
func (e *Emitter) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.text.String()
}

// send delivers a frame unless the execution context is already cancelled.
// Cancellation stops non-terminal emission immediately; the terminal frame is
// still delivered when the consumer has room, so a cancelled run surfaces its
// CANCELLED failure instead of a silently truncated stream.
func (e *Emitter) send(f Frame) bool {
	if f.Terminal {
		select {
		case e.ch <- f:
			return true
		default:
		}
	} else {
		select {
		case <-e.ctx.Done():
			e.done = true
			return false
		default:
		}
	}

	select {
	case <-e.ctx.Done():
		e.done = true
		return false
	case e.ch <- f:
		return true
	}
}

// copyValue deep-copies a decoded JSON value so later mutations by the
// producer cannot leak into emitted frames or dedup state.
func copyValue(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}

	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = copyAny(v)
	}

	return out
}

func copyAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyValue(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyAny(item)
		}
		return out
	default:
		return v
	}
}
