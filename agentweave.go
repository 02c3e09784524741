// Package agentweave provides a high-level façade over the pattern runner and
// its dependencies. Most applications interact with this package by:
//  1. Creating an AgentWeave via New() (optionally overriding the model
//     registry, tool router, logger or observer)
//  2. Executing a pattern asynchronously (Execute) or synchronously
//     (ExecuteSync)
//
// New() registers all six built-in patterns with their defaults; applications
// needing custom strategy options register their own executors on a runner
// instead. All defaults are safe for local development; production
// deployments typically supply a structured logger and an OTel observer.
package agentweave

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/model/anthropic"
	"github.com/hupe1980/agentweave/model/openai"
	"github.com/hupe1980/agentweave/pattern"
	"github.com/hupe1980/agentweave/runner"
	"github.com/hupe1980/agentweave/telemetry"
	"github.com/hupe1980/agentweave/tool"
)

// Options configures the AgentWeave instance.
type Options struct {
	// Models resolves capability profiles to providers. Defaults to an
	// Anthropic-backed registry with retry and circuit breaking.
	Models *model.Registry

	// Tools dispatches tool calls for the tooluse pattern. Defaults to a
	// router with the built-in calculator.
	Tools *tool.Router

	// Logger (defaults to NoOp if nil).
	Logger logging.Logger

	// Observer receives runtime events (defaults to NoOp if nil).
	Observer telemetry.Observer

	// MaxModelCalls bounds the model calls of each execution.
	MaxModelCalls int

	// Hooks observe run lifecycle transitions.
	Hooks []runner.Hook
}

// AgentWeave is the high-level façade aggregating the runner and the shared
// pattern dependencies.
type AgentWeave struct {
	opts   Options
	runner *runner.Runner
}

// New creates an AgentWeave with all six patterns registered. Unset
// dependencies fall back to working defaults.
func New(optFns ...func(o *Options)) (*AgentWeave, error) {
	opts := Options{
		Logger:        logging.NoOpLogger{},
		Observer:      telemetry.NoOp{},
		MaxModelCalls: 50,
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

	if opts.Models == nil {
		registry, err := NewProviderRegistry()
		if err != nil {
			return nil, err
		}
		opts.Models = registry
	}

	if opts.Tools == nil {
		router := tool.NewRouter(tool.WithLogger(opts.Logger))
		if err := router.Register(tool.Calculator()); err != nil {
			return nil, err
		}
		opts.Tools = router
	}

	deps := pattern.Deps{
		Models:   opts.Models,
		Tools:    opts.Tools,
		Logger:   opts.Logger,
		Observer: opts.Observer,
	}

	r := runner.New(func(o *runner.Options) {
		o.Logger = opts.Logger
		o.Observer = opts.Observer
		o.MaxModelCalls = opts.MaxModelCalls
		o.Hooks = opts.Hooks
	})

	if err := r.Register(
		pattern.NewSequential(deps),
		pattern.NewRouting(deps),
		pattern.NewParallel(deps),
		pattern.NewOrchestratorWorker(deps),
		pattern.NewEvaluatorOptimizer(deps),
		pattern.NewToolUse(deps),
	); err != nil {
		return nil, err
	}

	return &AgentWeave{opts: opts, runner: r}, nil
}

// Runner exposes the underlying runner, for serving over HTTP or registering
// additional executors.
func (w *AgentWeave) Runner() *runner.Runner { return w.runner }

// Patterns returns the registered pattern names, sorted.
func (w *AgentWeave) Patterns() []string { return w.runner.Patterns() }

// Execute starts an asynchronous run of the named pattern. The returned
// execution exposes the frame stream; the channel closes after the terminal
// frame.
func (w *AgentWeave) Execute(ctx context.Context, patternName string, input pattern.Input) (*core.Execution, error) {
	return w.runner.Run(ctx, patternName, input)
}

// Cancel requests cancellation of an in-flight run by execution id.
func (w *AgentWeave) Cancel(executionID string) error {
	return w.runner.Cancel(executionID)
}

// Result is the outcome of a synchronous run.
type Result struct {
	ExecutionID string
	// Value holds the final structured value for schema-backed patterns.
	Value map[string]any
	// Text holds the final text for text patterns.
	Text string
	// Frames is the full observed frame sequence, terminal frame included.
	Frames []core.Frame
}

// RunError is the terminal failure of a synchronous run.
type RunError struct {
	Code       core.ErrorCode
	Message    string
	Violations []core.FieldViolation
}

// Error implements the error interface.
func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode implements core.Coded.
func (e *RunError) ErrorCode() core.ErrorCode { return e.Code }

// ExecuteSync runs the named pattern and drains the frame stream. A run that
// ends in a failure frame returns the partial Result alongside a *RunError.
func (w *AgentWeave) ExecuteSync(ctx context.Context, patternName string, input pattern.Input) (*Result, error) {
	exec, err := w.runner.Run(ctx, patternName, input)
	if err != nil {
		return nil, err
	}

	res := &Result{ExecutionID: exec.ID}

	for f := range exec.Frames() {
		res.Frames = append(res.Frames, f)

		if !f.Terminal {
			continue
		}

		switch p := f.Payload.(type) {
		case core.ValuePayload:
			res.Value = p.Value
		case core.TextPayload:
			res.Text = p.Text
		case core.ErrorPayload:
			return res, &RunError{Code: p.Code, Message: p.Message, Violations: p.Violations}
		}
	}

	return res, nil
}

// RegistryOptions selects the provider and the model behind each capability
// profile for NewProviderRegistry.
type RegistryOptions struct {
	// Provider is "anthropic" (default) or "openai".
	Provider string

	// Fast, Balanced and Deep override the model id per profile. Empty
	// values keep the provider defaults below.
	Fast     string
	Balanced string
	Deep     string
}

// NewProviderRegistry builds the three-tier profile registry on a provider's
// models, each wrapped with retry and circuit breaking. API keys come from
// the provider SDK's environment variables.
func NewProviderRegistry(optFns ...func(o *RegistryOptions)) (*model.Registry, error) {
	opts := RegistryOptions{Provider: "anthropic"}

	for _, fn := range optFns {
		fn(&opts)
	}

	var fast, balanced, deep model.Model

	switch opts.Provider {
	case "anthropic":
		fast = anthropicModel(opts.Fast, string(anthropicsdk.ModelClaude3_5HaikuLatest))
		balanced = anthropicModel(opts.Balanced, string(anthropicsdk.ModelClaude3_5Sonnet20241022))
		deep = anthropicModel(opts.Deep, string(anthropicsdk.ModelClaude3OpusLatest))
	case "openai":
		fast = openaiModel(opts.Fast, openaisdk.ChatModelGPT4oMini)
		balanced = openaiModel(opts.Balanced, openaisdk.ChatModelGPT4o)
		deep = openaiModel(opts.Deep, openaisdk.ChatModelO1)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", opts.Provider)
	}

	registry := model.NewRegistry(harden(balanced)).
		Register(model.ProfileFast, harden(fast)).
		Register(model.ProfileBalanced, harden(balanced)).
		Register(model.ProfileDeep, harden(deep))

	return registry, nil
}

func anthropicModel(name, fallback string) model.Model {
	if name == "" {
		name = fallback
	}

	return anthropic.NewModel(func(o *anthropic.Options) {
		o.Model = anthropicsdk.Model(name)
	})
}

func openaiModel(name, fallback string) model.Model {
	if name == "" {
		name = fallback
	}

	return openai.NewModel(func(o *openai.Options) {
		o.Model = name
	})
}

// harden wraps a provider model with the retry and breaker decorators.
func harden(m model.Model) model.Model {
	return model.NewRetry(model.NewBreaker(m))
}
