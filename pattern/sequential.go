package pattern

import (
	"fmt"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/refine"
)

const (
	defaultSequentialGenerate = "You are a careful assistant. Produce a complete, well-structured answer to the request in a single reply."
	defaultSequentialEvaluate = "You are a strict quality evaluator. Judge how well the draft answers the request."
	defaultSequentialImprove  = "Revise the draft so it addresses every point of the feedback. Reply with the revised answer only, no preamble."
)

// SequentialOptions configure the Sequential strategy.
type SequentialOptions struct {
	// Threshold is the score below which the draft gets one improvement pass.
	Threshold float64

	GenerateProfile model.Profile
	EvaluateProfile model.Profile
	ImproveProfile  model.Profile

	Generate Instruction
	Evaluate Instruction
	Improve  Instruction
}

// Sequential runs generate, evaluate, and at most one improvement pass as a
// fixed three-stage chain. It is the deterministic single-branch variant of
// the refinement loop: one draft, one quality judgement, and an improvement
// only when the judgement falls below the threshold.
//
// Frames grow stage by stage: {draft}, then {draft, evaluation}, then the
// terminal {draft, evaluation, final}.
type Sequential struct {
	deps Deps
	opts SequentialOptions
}

// NewSequential creates the strategy with a quality threshold of 7.
func NewSequential(deps Deps, optFns ...func(o *SequentialOptions)) *Sequential {
	opts := SequentialOptions{
		Threshold:       7.0,
		GenerateProfile: model.ProfileBalanced,
		EvaluateProfile: model.ProfileFast,
		ImproveProfile:  model.ProfileBalanced,
		Generate:        NewInstruction(defaultSequentialGenerate),
		Evaluate:        NewInstruction(defaultSequentialEvaluate),
		Improve:         NewInstruction(defaultSequentialImprove),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Sequential{deps: deps, opts: opts}
}

// Name implements Executor.
func (s *Sequential) Name() string { return "sequential" }

// Schema implements Executor.
func (s *Sequential) Schema() *core.Schema {
	return core.NewSchema(
		core.String("draft", "first complete answer"),
		core.Object("evaluation", "quality judgement of the draft",
			core.Number("score", "overall quality score from 1 to 10"),
			core.String("feedback", "actionable feedback"),
		),
		core.String("final", "answer after the quality gate"),
	)
}

// Validate implements Executor.
func (s *Sequential) Validate(input Input) error {
	_, err := ValidateText(input)
	return err
}

// Execute implements Executor.
func (s *Sequential) Execute(exec *core.Execution, input Input) error {
	text, err := ValidateText(input)
	if err != nil {
		return err
	}

	values := map[string]any{"input": text}

	generate, err := s.opts.Generate.Resolve(values)
	if err != nil {
		return err
	}

	result, err := s.deps.call(exec.Context(), exec, model.Request{
		Profile:      s.opts.GenerateProfile,
		Instructions: generate,
		Prompt:       text,
	})
	if err != nil {
		return err
	}

	draft := result.Text
	exec.Emit().EmitValue(map[string]any{"draft": draft})

	evaluate, err := s.opts.Evaluate.Resolve(values)
	if err != nil {
		return err
	}

	evalValue, err := s.deps.structured(exec.Context(), exec, model.Request{
		Profile:      s.opts.EvaluateProfile,
		Instructions: evaluate,
		Prompt:       fmt.Sprintf("Request:\n%s\n\nDraft:\n%s", text, draft),
		Schema:       refine.EvaluationSchema(),
	})
	if err != nil {
		return err
	}

	eval, err := refine.ParseEvaluation(evalValue)
	if err != nil {
		return err
	}

	exec.AddRecord(core.IterationRecord{
		Index:     0,
		Candidate: draft,
		Score:     eval.Score,
		Feedback:  eval.Feedback,
		Issues:    eval.Issues,
	})

	evaluation := map[string]any{"score": eval.Score, "feedback": eval.Feedback}
	exec.Emit().EmitValue(map[string]any{"draft": draft, "evaluation": evaluation})

	final := draft

	if eval.Score < s.opts.Threshold {
		exec.LogDebug("sequential.improve", "score", eval.Score, "threshold", s.opts.Threshold)

		improve, err := s.opts.Improve.Resolve(values)
		if err != nil {
			return err
		}

		improved, err := s.deps.call(exec.Context(), exec, model.Request{
			Profile:      s.opts.ImproveProfile,
			Instructions: improve,
			Prompt:       fmt.Sprintf("Request:\n%s\n\nDraft:\n%s\n\nFeedback:\n%s", text, draft, eval.Feedback),
		})
		if err != nil {
			return err
		}

		final = improved.Text
	}

	exec.Emit().EmitFinalValue(map[string]any{
		"draft":      draft,
		"evaluation": evaluation,
		"final":      final,
	})

	return nil
}
