package core

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentweave/logging"
)

// IterationRecord captures one evaluate step of a refinement loop: the
// candidate under evaluation, its score and the feedback that conditioned the
// next improvement. Records are append-only per execution and read-only once
// the execution finishes.
type IterationRecord struct {
	Index     int                `json:"index"`
	Candidate string             `json:"candidate"`
	Score     float64            `json:"score"`
	Feedback  string             `json:"feedback"`
	Issues    []string           `json:"issues,omitempty"`
	SubScores map[string]float64 `json:"subScores,omitempty"`
}

// ToolRecord captures one dispatched tool call and its structured outcome.
type ToolRecord struct {
	CallID    string         `json:"callId"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Payload   any            `json:"payload,omitempty"`
	ErrorCode ErrorCode      `json:"errorCode,omitempty"`
	ErrorMsg  string         `json:"errorMessage,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Execution is the root context of one pattern invocation. It owns the
// correlation id, the schema of the final answer, the cancellation signal,
// the frame stream and the accumulated iteration/tool records. An Execution
// belongs to exactly one invocation and is finished when its stream
// completes or is cancelled; no state crosses execution boundaries.
type Execution struct {
	ID        string
	Pattern   string
	StartedAt time.Time

	schema  *Schema
	ctx     context.Context
	cancel  context.CancelFunc
	frames  chan Frame
	emitter *Emitter
	limiter *CallLimiter

	mu          sync.RWMutex
	records     []IterationRecord
	toolRecords []ToolRecord

	closeOnce sync.Once

	*loggerAdapter
}

// ExecutionOption customizes execution construction.
type ExecutionOption func(*executionOptions)

type executionOptions struct {
	logger        logging.Logger
	maxModelCalls int
	frameBuffer   int
	id            string
}

// WithLogger attaches a logger to the execution.
func WithLogger(l logging.Logger) ExecutionOption {
	return func(o *executionOptions) { o.logger = l }
}

// WithMaxModelCalls bounds the number of model calls the execution may issue.
// Zero means unlimited.
func WithMaxModelCalls(max int) ExecutionOption {
	return func(o *executionOptions) { o.maxModelCalls = max }
}

// WithFrameBuffer sets the frame channel capacity.
func WithFrameBuffer(n int) ExecutionOption {
	return func(o *executionOptions) { o.frameBuffer = n }
}

// WithID overrides the generated correlation id.
func WithID(id string) ExecutionOption {
	return func(o *executionOptions) { o.id = id }
}

// NewExecution creates an execution for one pattern invocation. The schema
// describes the final answer and must not change afterwards; pass nil for
// text-only patterns.
func NewExecution(ctx context.Context, pattern string, schema *Schema, optFns ...ExecutionOption) *Execution {
	opts := executionOptions{frameBuffer: 8}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.id == "" {
		opts.id = NewID()
	}

	ctx, cancel := context.WithCancel(ctx)
	frames := make(chan Frame, opts.frameBuffer)

	exec := &Execution{
		ID:            opts.id,
		Pattern:       pattern,
		StartedAt:     time.Now(),
		schema:        schema,
		ctx:           ctx,
		cancel:        cancel,
		frames:        frames,
		limiter:       NewCallLimiter(opts.maxModelCalls),
		loggerAdapter: newLoggerAdapter(logging.With(opts.logger, "execution_id", opts.id, "pattern", pattern)),
	}
	exec.emitter = NewEmitter(ctx, frames)

	return exec
}

// Context returns the execution's context; it is cancelled when the caller
// cancels or the execution finishes.
func (e *Execution) Context() context.Context { return e.ctx }

// Cancel requests a cooperative halt. In-flight calls observe it at their
// next suspension point.
func (e *Execution) Cancel() { e.cancel() }

// Frames returns the receive side of the frame stream. The channel is closed
// after the terminal frame.
func (e *Execution) Frames() <-chan Frame { return e.frames }

// Emit returns the execution's frame emitter.
func (e *Execution) Emit() *Emitter { return e.emitter }

// Schema returns the schema of the final answer, or nil for text patterns.
func (e *Execution) Schema() *Schema { return e.schema }

// Limiter returns the per-execution model call budget.
func (e *Execution) Limiter() *CallLimiter { return e.limiter }

// AddRecord appends an iteration record.
func (e *Execution) AddRecord(r IterationRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.records = append(e.records, r)
}

// Records returns a copy of the accumulated iteration records.
func (e *Execution) Records() []IterationRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]IterationRecord, len(e.records))
	copy(out, e.records)

	return out
}

// AddToolRecord appends a tool call record.
func (e *Execution) AddToolRecord(r ToolRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.toolRecords = append(e.toolRecords, r)
}

// ToolRecords returns a copy of the accumulated tool call records.
func (e *Execution) ToolRecords() []ToolRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]ToolRecord, len(e.toolRecords))
	copy(out, e.toolRecords)

	return out
}

// Finish closes the frame stream and releases the execution's resources.
// Safe to call more than once.
func (e *Execution) Finish() {
	e.closeOnce.Do(func() {
		close(e.frames)
		e.cancel()
	})
}

// Elapsed returns the time since the execution started.
func (e *Execution) Elapsed() time.Duration {
	return time.Since(e.StartedAt)
}
