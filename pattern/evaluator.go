package pattern

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/refine"
)

const (
	defaultEvaluatorProduce = `You are a careful writer. Produce the best possible answer to the request.`

	defaultEvaluatorEvaluate = `You are a critical evaluator. Score the candidate answer for the request on
every dimension from 1 to 10, give an overall score, and name the concrete
issues holding the score down.`

	defaultEvaluatorImprove = `You are a careful writer revising your own work. Address every issue from
the feedback without degrading what already works. Reply with the revised
answer only.`
)

// EvaluatorOptions configures the evaluator-optimizer strategy.
type EvaluatorOptions struct {
	// MaxIterations bounds the evaluation rounds.
	MaxIterations int

	// TargetScore stops the loop early once reached.
	TargetScore float64

	// Dimensions are scored individually by the evaluator on top of the
	// overall score.
	Dimensions []string

	// ProduceProfile, EvaluateProfile and ImproveProfile select the model
	// tiers of the three roles.
	ProduceProfile  model.Profile
	EvaluateProfile model.Profile
	ImproveProfile  model.Profile

	// Produce, Evaluate and Improve are the system prompts of the three
	// roles.
	Produce  Instruction
	Evaluate Instruction
	Improve  Instruction
}

// EvaluatorOptimizer refines a candidate answer through produce, evaluate and
// improve rounds until it scores at or above the target or the iteration
// budget runs out. Frames carry the growing iteration history; the terminal
// frame carries the final candidate, its score and the full history.
type EvaluatorOptimizer struct {
	deps Deps
	opts EvaluatorOptions
}

var _ Executor = (*EvaluatorOptimizer)(nil)

// NewEvaluatorOptimizer creates an evaluator-optimizer strategy.
func NewEvaluatorOptimizer(deps Deps, optFns ...func(o *EvaluatorOptions)) *EvaluatorOptimizer {
	opts := EvaluatorOptions{
		MaxIterations:   3,
		TargetScore:     8.0,
		Dimensions:      []string{"accuracy", "completeness", "clarity"},
		ProduceProfile:  model.ProfileBalanced,
		EvaluateProfile: model.ProfileFast,
		ImproveProfile:  model.ProfileBalanced,
		Produce:         NewInstruction(defaultEvaluatorProduce),
		Evaluate:        NewInstruction(defaultEvaluatorEvaluate),
		Improve:         NewInstruction(defaultEvaluatorImprove),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &EvaluatorOptimizer{deps: deps, opts: opts}
}

// Name implements Executor.
func (e *EvaluatorOptimizer) Name() string { return "evaluator" }

// Schema implements Executor.
func (e *EvaluatorOptimizer) Schema() *core.Schema {
	return core.NewSchema(
		core.String("final", "the refined answer"),
		core.Number("score", "score of the final answer"),
		core.Array("iterations", "per-iteration progress",
			core.Object("iteration", "one evaluation round",
				core.Integer("index", "iteration index"),
				core.Number("score", "score at this iteration"),
				core.String("feedback", "feedback that conditioned the next revision"),
			),
		),
	)
}

// Validate implements Executor.
func (e *EvaluatorOptimizer) Validate(input Input) error {
	_, err := ValidateText(input)

	return err
}

// Execute implements Executor.
func (e *EvaluatorOptimizer) Execute(exec *core.Execution, input Input) error {
	text, err := ValidateText(input)
	if err != nil {
		return err
	}

	produceInstr, err := e.opts.Produce.Resolve(map[string]any{"input": text})
	if err != nil {
		return err
	}

	evaluateInstr, err := e.opts.Evaluate.Resolve(map[string]any{"input": text})
	if err != nil {
		return err
	}

	improveInstr, err := e.opts.Improve.Resolve(map[string]any{"input": text})
	if err != nil {
		return err
	}

	evalSchema := refine.DomainEvaluationSchema(e.opts.Dimensions...)

	produce := func(ctx context.Context) (string, error) {
		result, err := e.deps.call(ctx, exec, model.Request{
			Profile:      e.opts.ProduceProfile,
			Instructions: produceInstr,
			Prompt:       text,
		})
		if err != nil {
			return "", err
		}

		return result.Text, nil
	}

	evaluate := func(ctx context.Context, candidate string) (*refine.Evaluation, error) {
		value, err := e.deps.structured(ctx, exec, model.Request{
			Profile:      e.opts.EvaluateProfile,
			Instructions: evaluateInstr,
			Prompt:       fmt.Sprintf("Request:\n%s\n\nCandidate:\n%s", text, candidate),
			Schema:       evalSchema,
		})
		if err != nil {
			return nil, err
		}

		return refine.ParseEvaluation(value)
	}

	improve := func(ctx context.Context, candidate string, eval *refine.Evaluation) (string, error) {
		result, err := e.deps.call(ctx, exec, model.Request{
			Profile:      e.opts.ImproveProfile,
			Instructions: improveInstr,
			Prompt:       improvePrompt(text, candidate, eval),
		})
		if err != nil {
			return "", err
		}

		return result.Text, nil
	}

	var iterations []any

	loop, err := refine.NewLoop(produce, evaluate, improve, func(o *refine.Options) {
		o.MaxIterations = e.opts.MaxIterations
		o.TargetScore = e.opts.TargetScore
		o.OnIteration = func(record core.IterationRecord) {
			iterations = append(iterations, map[string]any{
				"index":    record.Index,
				"score":    record.Score,
				"feedback": record.Feedback,
			})
			exec.Emit().EmitValue(map[string]any{"iterations": iterations})
		}
	})
	if err != nil {
		return err
	}

	outcome, err := loop.Run(exec.Context(), exec)
	if err != nil {
		return err
	}

	exec.LogInfo("evaluator.done", "score", outcome.Score, "converged", outcome.Converged, "iterations", len(iterations))
	exec.Emit().EmitFinalValue(map[string]any{
		"final":      outcome.Final,
		"score":      outcome.Score,
		"iterations": iterations,
	})

	return nil
}

// improvePrompt renders the revision prompt from the last evaluation.
func improvePrompt(text, candidate string, eval *refine.Evaluation) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Request:\n%s\n\nCandidate:\n%s\n\nScore: %.1f\nFeedback: %s\n", text, candidate, eval.Score, eval.Feedback)

	if len(eval.Issues) > 0 {
		sb.WriteString("Issues:\n")

		for _, issue := range eval.Issues {
			fmt.Fprintf(&sb, "- %s\n", issue)
		}
	}

	return sb.String()
}
