// Package pattern implements the workflow strategies: Sequential, Routing,
// Parallel, OrchestratorWorker, EvaluatorOptimizer and ToolUse. Each strategy
// composes the model registry, the tool router, the stream reconciler and the
// refinement loop into one documented control flow, and drives an execution's
// frame stream from start to exactly one terminal frame.
package pattern

import (
	"context"
	"strings"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/telemetry"
	"github.com/hupe1980/agentweave/tool"
)

// MaxInputBytes bounds the accepted size of a single text input.
const MaxInputBytes = 64 << 10

// Input is the caller-supplied payload of one execution. Text is the single
// input form used by most strategies; Messages is the chat form accepted by
// the tool-use strategy.
type Input struct {
	Text     string          `json:"input,omitempty"`
	Messages []model.Message `json:"messages,omitempty"`
}

// Deps bundles the capabilities a strategy composes. Models is required;
// Tools only by the tool-use strategy. Nil Logger and Observer default to
// no-ops.
type Deps struct {
	Models   *model.Registry
	Tools    *tool.Router
	Logger   logging.Logger
	Observer telemetry.Observer
}

// Executor is one workflow strategy. Validate must be cheap and synchronous
// so transports can reject bad input before any frame is written; Execute
// drives the execution's frame stream and returns an error only when it could
// not produce a terminal frame itself.
type Executor interface {
	Name() string
	Schema() *core.Schema
	Validate(input Input) error
	Execute(exec *core.Execution, input Input) error
}

// ValidateText returns the trimmed single-text input.
func ValidateText(input Input) (string, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return "", core.NewInputError("input must be non-empty")
	}

	if len(text) > MaxInputBytes {
		return "", core.NewInputError("input exceeds %d bytes", MaxInputBytes)
	}

	return text, nil
}

func (d Deps) observe(ctx context.Context, name string, attrs map[string]any) {
	if d.Observer != nil {
		d.Observer.RecordEvent(ctx, name, attrs)
	}
}

// call runs one blocking generation against the execution's call budget. The
// ctx may be narrower than the execution's, e.g. an errgroup-derived context
// during fan-out.
func (d Deps) call(ctx context.Context, exec *core.Execution, req model.Request) (*model.Result, error) {
	if err := exec.Limiter().Increment(); err != nil {
		return nil, err
	}

	m := d.Models.Resolve(req.Profile)
	d.observe(ctx, telemetry.EventModelCall, map[string]any{
		"pattern":  exec.Pattern,
		"provider": m.Info().Provider,
		"profile":  string(req.Profile),
	})

	return m.Invoke(ctx, req)
}

// structured runs one blocking generation whose reply must decode into the
// request's schema.
func (d Deps) structured(ctx context.Context, exec *core.Execution, req model.Request) (map[string]any, error) {
	if err := exec.Limiter().Increment(); err != nil {
		return nil, err
	}

	m := d.Models.Resolve(req.Profile)
	d.observe(ctx, telemetry.EventModelCall, map[string]any{
		"pattern":  exec.Pattern,
		"provider": m.Info().Provider,
		"profile":  string(req.Profile),
	})

	value, _, err := model.Structured(ctx, m, req)

	return value, err
}

// stream starts one streaming generation against the execution's call budget.
func (d Deps) stream(ctx context.Context, exec *core.Execution, req model.Request) (<-chan string, <-chan error, error) {
	if err := exec.Limiter().Increment(); err != nil {
		return nil, nil, err
	}

	m := d.Models.Resolve(req.Profile)
	d.observe(ctx, telemetry.EventModelCall, map[string]any{
		"pattern":  exec.Pattern,
		"provider": m.Info().Provider,
		"profile":  string(req.Profile),
		"stream":   true,
	})

	deltas, errs := m.InvokeStream(ctx, req)

	return deltas, errs, nil
}
