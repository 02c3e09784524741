// Package stream reconstructs structured values from append-only text
// streams. The transient state where accumulated text is not yet syntactically
// parseable is the expected, not exceptional, case mid-stream: the Reconciler
// buffers deltas, surfaces every complete document as a value frame, and
// settles the stream with exactly one terminal frame: the validated final
// value or the schema violation that prevented one.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/logging"
)

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithLogger attaches a logger for parse diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithWrapper sets a transform applied to every document before emission.
// Strategies use it to embed the reconstructed document into the execution's
// larger value shape; validation always runs against the raw document.
func WithWrapper(fn func(doc map[string]any) map[string]any) Option {
	return func(r *Reconciler) {
		if fn != nil {
			r.wrap = fn
		}
	}
}

// Reconciler turns an append-only text stream into a sequence of value
// frames.
//
// On every push the accumulated buffer is drained with an offset-tracking
// json.Decoder: each complete JSON document present is consumed. This handles
// both a single document arriving in fragments and a concatenation of
// successive snapshot documents. Leading non-JSON bytes (model prose before
// the document) are skipped; a buffer holding no complete document parses to
// nothing and is not an error.
//
// A document that consumed the whole buffer may be the end of the stream, so
// it is held pending: the next push flushes it as a non-terminal frame, or
// Finish promotes it to the terminal frame. A stream whose only parseable
// state is its final one therefore yields exactly one frame, while a
// snapshot stream still yields every distinct intermediate state.
//
// Pending documents are validated in partial mode before emission (present
// fields must type-check; absent required fields are tolerated mid-stream)
// and structurally deduplicated by the emitter. Finish validates strictly.
//
// A Reconciler serves one stream and is not safe for concurrent use.
type Reconciler struct {
	schema  *core.Schema
	emitter *core.Emitter
	logger  logging.Logger
	wrap    func(map[string]any) map[string]any

	buf      []byte
	consumed int
	started  bool

	pending    any
	hasPending bool
}

// New creates a reconciler emitting through the given emitter. A nil schema
// disables validation (every complete document is emitted).
func New(schema *core.Schema, emitter *core.Emitter, optFns ...Option) *Reconciler {
	r := &Reconciler{
		schema:  schema,
		emitter: emitter,
		logger:  logging.NoOpLogger{},
		wrap:    func(doc map[string]any) map[string]any { return doc },
	}

	for _, fn := range optFns {
		fn(r)
	}

	return r
}

// Push appends one delta to the buffer and emits a frame for every newly
// completed document except the latest, which stays pending.
func (r *Reconciler) Push(delta string) {
	if delta == "" {
		return
	}

	r.buf = append(r.buf, delta...)
	r.drain()
}

// drain consumes every complete document currently in the buffer.
func (r *Reconciler) drain() {
	if !r.started {
		idx := bytes.IndexAny(r.buf[r.consumed:], "{[")
		if idx < 0 {
			// Pure prose so far; discard it.
			r.consumed = len(r.buf)
			return
		}
		r.consumed += idx
		r.started = true
	}

	for {
		dec := json.NewDecoder(bytes.NewReader(r.buf[r.consumed:]))

		var doc any
		if err := dec.Decode(&doc); err != nil {
			// Not yet a complete document (or trailing prose); wait for more.
			return
		}

		r.flushPending()

		r.consumed += int(dec.InputOffset())
		r.pending = doc
		r.hasPending = true
	}
}

// flushPending emits the held document as a non-terminal frame. Documents
// that fail partial validation or are not objects are skipped; a later state
// or Finish settles them.
func (r *Reconciler) flushPending() {
	if !r.hasPending {
		return
	}

	doc := r.pending
	r.pending = nil
	r.hasPending = false

	value, ok := doc.(map[string]any)
	if !ok {
		r.logger.Debug("stream.document.skipped", "reason", "root is not an object")
		return
	}

	if r.schema != nil {
		if err := r.schema.Validate(value, core.Partial); err != nil {
			r.logger.Debug("stream.document.skipped", "reason", "partial validation failed", "error", err.Error())
			return
		}
	}

	r.emitter.EmitValue(r.wrap(value))
}

// Finish settles the stream. An upstream error produces a terminal error
// frame with the mapped code. Otherwise the pending document is validated
// strictly: success produces the terminal value frame; no document or a
// validation failure produces a terminal frame carrying the schema violation,
// so a truncated result is never dropped silently. The final raw document is
// returned on success.
func (r *Reconciler) Finish(upstreamErr error) (map[string]any, error) {
	if upstreamErr != nil {
		r.emitter.Fail(upstreamErr)
		return nil, upstreamErr
	}

	value, ok := r.pending.(map[string]any)
	if !r.hasPending || !ok {
		err := &core.SchemaViolationError{Violations: []core.FieldViolation{{
			Field:   "$",
			Message: "stream ended without a complete JSON document",
		}}}
		r.emitter.Fail(err)
		return nil, err
	}

	if r.schema != nil {
		if err := r.schema.Validate(value, core.Strict); err != nil {
			r.emitter.Fail(err)
			return nil, err
		}
	}

	r.emitter.EmitFinalValue(r.wrap(value))

	return value, nil
}

// Run drives the reconciler from a model delta stream until the stream
// completes, fails, or the context is cancelled, then settles it. It returns
// the final validated document.
func (r *Reconciler) Run(ctx context.Context, deltas <-chan string, errs <-chan error) (map[string]any, error) {
	for {
		select {
		case <-ctx.Done():
			return r.Finish(ctx.Err())
		case delta, ok := <-deltas:
			if !ok {
				return r.Finish(<-errs)
			}
			r.Push(delta)
		}
	}
}

// Regressed compares two successive value snapshots and reports the paths
// whose content went backwards: populated fields that disappeared, strings
// that shortened, arrays that lost elements. Well-formed producers refine
// monotonically, so a non-empty result marks a producer bug; the reconciler
// still emits such states as-is.
func Regressed(prev, next map[string]any) []string {
	paths := regressedAt(prev, next, "")
	sort.Strings(paths)
	return paths
}

func regressedAt(prev, next map[string]any, path string) []string {
	var paths []string

	for name, before := range prev {
		childPath := name
		if path != "" {
			childPath = path + "." + name
		}

		after, present := next[name]
		if !present {
			paths = append(paths, childPath)
			continue
		}

		switch b := before.(type) {
		case string:
			if a, ok := after.(string); ok && len(a) < len(b) {
				paths = append(paths, childPath)
			}
		case map[string]any:
			if a, ok := after.(map[string]any); ok {
				paths = append(paths, regressedAt(b, a, childPath)...)
			}
		case []any:
			if a, ok := after.([]any); ok && len(a) < len(b) {
				paths = append(paths, childPath)
			}
		}
	}

	return paths
}

// Text streams one raw delta sequence through an emitter as text frames,
// finishing with a terminal text frame. It is the text counterpart of Run for
// patterns whose output is prose rather than a document.
func Text(ctx context.Context, emitter *core.Emitter, deltas <-chan string, errs <-chan error) (string, error) {
	for {
		select {
		case <-ctx.Done():
			emitter.Fail(ctx.Err())
			return emitter.Text(), ctx.Err()
		case delta, ok := <-deltas:
			if !ok {
				if err := <-errs; err != nil {
					emitter.Fail(err)
					return emitter.Text(), err
				}
				emitter.EmitFinalText()
				return emitter.Text(), nil
			}
			emitter.EmitText(delta)
		}
	}
}
