package pattern

import (
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/stream"
)

const defaultParallelAggregate = `You are a synthesis writer. Merge the branch analyses into one coherent
assessment. Weigh conflicting findings against each other explicitly instead
of papering over them.`

// Branch is one concurrent perspective on the input. Each branch runs as its
// own structured model call and contributes its result under Name in the
// emitted frames.
type Branch struct {
	// Name keys the branch result in the frame value. Must be unique.
	Name string

	// Instructions is the system prompt of the branch call.
	Instructions string

	// Profile selects the model tier for the branch call.
	Profile model.Profile

	// Schema constrains the branch result.
	Schema *core.Schema
}

// ParallelOptions configures the parallel strategy.
type ParallelOptions struct {
	// Branches are the concurrent perspectives. Every branch must carry a
	// unique name and a schema.
	Branches []Branch

	// AggregateFields shape the synthesis document produced after all
	// branches have resolved.
	AggregateFields []core.Field

	// AggregateProfile selects the model tier for the synthesis call.
	AggregateProfile model.Profile

	// Aggregate is the system prompt of the synthesis call.
	Aggregate Instruction
}

// Parallel fans the input out to independent branches, streams their results
// into a growing frame as each one resolves, and finishes with a streamed
// synthesis over everything the branches produced. A single branch failure
// cancels the remaining branches and fails the execution; the synthesis call
// only runs on a complete set of branch results.
type Parallel struct {
	deps Deps
	opts ParallelOptions
}

var _ Executor = (*Parallel)(nil)

// NewParallel creates a parallel strategy. Without options it analyzes the
// input from a facts, a risks and a recommendations perspective.
func NewParallel(deps Deps, optFns ...func(o *ParallelOptions)) *Parallel {
	opts := ParallelOptions{
		Branches: []Branch{
			{
				Name:         "facts",
				Instructions: "List the established facts relevant to the input. Be specific and neutral; do not speculate.",
				Profile:      model.ProfileFast,
				Schema: core.NewSchema(
					core.Array("facts", "established facts", core.String("fact", "one established fact")),
				),
			},
			{
				Name:         "risks",
				Instructions: "Identify the risks, failure modes and open questions raised by the input.",
				Profile:      model.ProfileBalanced,
				Schema: core.NewSchema(
					core.Array("risks", "identified risks", core.String("risk", "one risk or open question")),
				),
			},
			{
				Name:         "recommendations",
				Instructions: "Propose concrete recommendations, each with its main tradeoff.",
				Profile:      model.ProfileBalanced,
				Schema: core.NewSchema(
					core.Array("recommendations", "proposed recommendations", core.String("recommendation", "one recommendation with its tradeoff")),
				),
			},
		},
		AggregateFields: []core.Field{
			core.String("summary", "balanced synthesis of all branch findings"),
			core.Array("highlights", "the most important points across branches", core.String("point", "one key point")),
			core.Number("confidence", "confidence in the synthesis from 1 to 10"),
		},
		AggregateProfile: model.ProfileDeep,
		Aggregate:        NewInstruction(defaultParallelAggregate),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Parallel{deps: deps, opts: opts}
}

// Name implements Executor.
func (p *Parallel) Name() string { return "parallel" }

// Schema implements Executor.
func (p *Parallel) Schema() *core.Schema {
	return core.NewSchema(
		core.Object("branches", "result of each branch, keyed by branch name"),
		core.Object("aggregate", "synthesis over all branch results", p.opts.AggregateFields...),
	)
}

// Validate implements Executor.
func (p *Parallel) Validate(input Input) error {
	_, err := ValidateText(input)

	return err
}

// Execute implements Executor.
func (p *Parallel) Execute(exec *core.Execution, input Input) error {
	text, err := ValidateText(input)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(exec.Context())

	var mu sync.Mutex

	collected := make(map[string]any, len(p.opts.Branches))

	for _, b := range p.opts.Branches {
		g.Go(func() error {
			value, err := p.deps.structured(ctx, exec, model.Request{
				Profile:      b.Profile,
				Instructions: b.Instructions,
				Prompt:       text,
				Schema:       b.Schema,
			})
			if err != nil {
				return fmt.Errorf("branch %s: %w", b.Name, err)
			}

			// Snapshot and emission share the critical section so frames grow
			// one branch at a time in completion order.
			mu.Lock()
			collected[b.Name] = value
			snapshot := make(map[string]any, len(collected))

			for k, v := range collected {
				snapshot[k] = v
			}

			exec.Emit().EmitValue(map[string]any{"branches": snapshot})
			mu.Unlock()

			exec.LogDebug("parallel.branch.complete", "branch", b.Name)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return p.aggregate(exec, text, collected)
}

// aggregate streams the synthesis call over the full branch results and emits
// the terminal frame.
func (p *Parallel) aggregate(exec *core.Execution, text string, branches map[string]any) error {
	instructions, err := p.opts.Aggregate.Resolve(map[string]any{"input": text})
	if err != nil {
		return err
	}

	payload, err := json.Marshal(branches)
	if err != nil {
		return fmt.Errorf("marshal branch results: %w", err)
	}

	aggSchema := core.NewSchema(p.opts.AggregateFields...)

	deltas, errs, err := p.deps.stream(exec.Context(), exec, model.Request{
		Profile:      p.opts.AggregateProfile,
		Instructions: instructions,
		Prompt:       fmt.Sprintf("Input:\n%s\n\nBranch analyses:\n%s", text, payload),
		Schema:       aggSchema,
	})
	if err != nil {
		return err
	}

	r := stream.New(aggSchema, exec.Emit(),
		stream.WithLogger(exec.Logger()),
		stream.WithWrapper(func(doc map[string]any) map[string]any {
			return map[string]any{"branches": branches, "aggregate": doc}
		}),
	)

	if _, err := r.Run(exec.Context(), deltas, errs); err != nil {
		return err
	}

	return nil
}
