package refine

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentweave/core"
)

// ProduceFunc generates the initial candidate.
type ProduceFunc func(ctx context.Context) (string, error)

// EvaluateFunc scores the current candidate.
type EvaluateFunc func(ctx context.Context, candidate string) (*Evaluation, error)

// ImproveFunc revises the candidate conditioned on the evaluation feedback.
type ImproveFunc func(ctx context.Context, candidate string, eval *Evaluation) (string, error)

// Options configure a refinement loop.
type Options struct {
	// MaxIterations bounds the total number of evaluation calls. At least 1.
	MaxIterations int
	// TargetScore halts the loop once a candidate reaches it. Within (1,10].
	TargetScore float64
	// OnIteration observes each completed evaluation, in order.
	OnIteration func(record core.IterationRecord)
}

// Outcome is the result of a finished refinement loop.
type Outcome struct {
	Final     string
	Score     float64
	Converged bool
}

// Loop drives a candidate through bounded evaluate/improve rounds. It makes
// at most MaxIterations evaluation calls total: each round evaluates and
// records the current candidate, halts with Converged when the score reaches
// TargetScore, and otherwise improves the candidate for the next round. On
// the last budgeted round no improvement is requested, so the final candidate
// is always one whose score is known.
type Loop struct {
	produce  ProduceFunc
	evaluate EvaluateFunc
	improve  ImproveFunc
	opts     Options
}

// NewLoop validates the options and constructs a Loop.
func NewLoop(produce ProduceFunc, evaluate EvaluateFunc, improve ImproveFunc, optFns ...func(o *Options)) (*Loop, error) {
	opts := Options{
		MaxIterations: 3,
		TargetScore:   8.0,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if produce == nil || evaluate == nil || improve == nil {
		return nil, fmt.Errorf("refine: produce, evaluate and improve funcs are required")
	}

	if opts.MaxIterations < 1 {
		return nil, fmt.Errorf("refine: max iterations must be at least 1, got %d", opts.MaxIterations)
	}

	if opts.TargetScore <= 1 || opts.TargetScore > 10 {
		return nil, fmt.Errorf("refine: target score must lie within (1,10], got %v", opts.TargetScore)
	}

	return &Loop{
		produce:  produce,
		evaluate: evaluate,
		improve:  improve,
		opts:     opts,
	}, nil
}

// Run executes the loop, appending one IterationRecord per evaluation to the
// execution. Cancellation is observed between rounds; errors from the
// injected funcs abort the loop unchanged.
func (l *Loop) Run(ctx context.Context, exec *core.Execution) (*Outcome, error) {
	candidate, err := l.produce(ctx)
	if err != nil {
		return nil, err
	}

	var score float64

	for i := 0; i < l.opts.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		eval, err := l.evaluate(ctx, candidate)
		if err != nil {
			return nil, err
		}

		score = eval.Score

		record := core.IterationRecord{
			Index:     i,
			Candidate: candidate,
			Score:     eval.Score,
			Feedback:  eval.Feedback,
			Issues:    eval.Issues,
			SubScores: eval.SubScores,
		}

		if exec != nil {
			exec.AddRecord(record)
			exec.LogDebug("refine.iteration", "index", i, "score", eval.Score, "target", l.opts.TargetScore)
		}

		if l.opts.OnIteration != nil {
			l.opts.OnIteration(record)
		}

		if eval.Score >= l.opts.TargetScore {
			return &Outcome{Final: candidate, Score: eval.Score, Converged: true}, nil
		}

		if i == l.opts.MaxIterations-1 {
			break
		}

		improved, err := l.improve(ctx, candidate, eval)
		if err != nil {
			return nil, err
		}

		candidate = improved
	}

	return &Outcome{Final: candidate, Score: score, Converged: false}, nil
}
