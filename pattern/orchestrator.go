package pattern

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/stream"
)

const (
	defaultOrchestratorPlan = `You are a project orchestrator. Break the objective into the smallest set
of tasks that together accomplish it. Give every task a short unique id and
declare its prerequisites via dependsOn. Tasks without dependencies run
concurrently.`

	defaultOrchestratorWorker = `You are a focused worker. Complete exactly the task you were given, using
the results of prerequisite tasks where provided. Reply with the task result
only.`

	defaultOrchestratorReport = `You are a reporting writer. Summarize the plan and the task results into a
final report for the requester.`
)

// PlanError reports a malformed or unsatisfiable task plan. Every defect
// found in the plan is listed in Reasons.
type PlanError struct {
	Reasons []string
}

func (e *PlanError) Error() string {
	return "invalid plan: " + strings.Join(e.Reasons, "; ")
}

// ErrorCode implements core.Coded.
func (e *PlanError) ErrorCode() core.ErrorCode { return core.CodePlanValidation }

// OrchestratorOptions configures the orchestrator-worker strategy.
type OrchestratorOptions struct {
	// PlanProfile selects the model tier for the planning call.
	PlanProfile model.Profile

	// WorkerProfile selects the model tier for each task call.
	WorkerProfile model.Profile

	// ReportProfile selects the model tier for the final report call.
	ReportProfile model.Profile

	// Plan, Worker and Report are the system prompts of the three phases.
	Plan   Instruction
	Worker Instruction
	Report Instruction

	// ReportFields shape the final report document.
	ReportFields []core.Field
}

// OrchestratorWorker plans the objective into a task graph, validates the
// graph, runs it wave by wave with maximal concurrency inside each wave, and
// streams a final report over the collected task results. Frames grow from
// the plan, through per-task results as they land, to the terminal frame
// carrying plan, results and report.
type OrchestratorWorker struct {
	deps Deps
	opts OrchestratorOptions
}

var _ Executor = (*OrchestratorWorker)(nil)

// NewOrchestratorWorker creates an orchestrator-worker strategy.
func NewOrchestratorWorker(deps Deps, optFns ...func(o *OrchestratorOptions)) *OrchestratorWorker {
	opts := OrchestratorOptions{
		PlanProfile:   model.ProfileDeep,
		WorkerProfile: model.ProfileBalanced,
		ReportProfile: model.ProfileDeep,
		Plan:          NewInstruction(defaultOrchestratorPlan),
		Worker:        NewInstruction(defaultOrchestratorWorker),
		Report:        NewInstruction(defaultOrchestratorReport),
		ReportFields: []core.Field{
			core.String("summary", "what was accomplished overall"),
			core.Array("outcomes", "the outcome of each task", core.String("outcome", "one task outcome")),
		},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &OrchestratorWorker{deps: deps, opts: opts}
}

// Name implements Executor.
func (o *OrchestratorWorker) Name() string { return "orchestrator" }

// Schema implements Executor.
func (o *OrchestratorWorker) Schema() *core.Schema {
	return core.NewSchema(
		core.Object("plan", "the validated task plan",
			core.Array("tasks", "the planned tasks",
				core.Object("task", "one planned task",
					core.String("id", "short unique task id"),
					core.String("description", "what the task accomplishes"),
					core.Array("dependsOn", "ids of prerequisite tasks", core.String("id", "prerequisite task id")).Optional(),
				),
			),
		),
		core.Object("results", "task results keyed by task id"),
		core.Object("report", "the final report", o.opts.ReportFields...),
	)
}

// Validate implements Executor.
func (o *OrchestratorWorker) Validate(input Input) error {
	_, err := ValidateText(input)

	return err
}

// planSchema constrains the planning call.
func planSchema() *core.Schema {
	return core.NewSchema(
		core.Array("tasks", "the decomposed tasks in any order",
			core.Object("task", "one task",
				core.String("id", "short unique task id, e.g. research or draft"),
				core.String("description", "what this task accomplishes"),
				core.Array("dependsOn", "ids of tasks that must complete first", core.String("id", "prerequisite task id")).Optional(),
			),
		),
	)
}

// planTask is one node of the parsed task graph.
type planTask struct {
	ID          string
	Description string
	DependsOn   []string
}

// parsePlan extracts the task list from the planning call's document.
func parsePlan(value map[string]any) ([]planTask, error) {
	raw, ok := value["tasks"].([]any)
	if !ok {
		return nil, &PlanError{Reasons: []string{"plan carries no task list"}}
	}

	tasks := make([]planTask, 0, len(raw))

	for i, entry := range raw {
		item, ok := entry.(map[string]any)
		if !ok {
			return nil, &PlanError{Reasons: []string{fmt.Sprintf("task %d is not an object", i)}}
		}

		task := planTask{}

		if id, ok := item["id"].(string); ok {
			task.ID = strings.TrimSpace(id)
		}

		if desc, ok := item["description"].(string); ok {
			task.Description = strings.TrimSpace(desc)
		}

		if deps, ok := item["dependsOn"].([]any); ok {
			for _, dep := range deps {
				if s, ok := dep.(string); ok {
					task.DependsOn = append(task.DependsOn, strings.TrimSpace(s))
				}
			}
		}

		tasks = append(tasks, task)
	}

	return tasks, nil
}

// validatePlan checks the task graph for structural defects: missing ids,
// duplicates, unknown or self dependencies, and cycles.
func validatePlan(tasks []planTask) error {
	var reasons []string

	if len(tasks) == 0 {
		return &PlanError{Reasons: []string{"plan contains no tasks"}}
	}

	known := make(map[string]bool, len(tasks))

	for i, task := range tasks {
		if task.ID == "" {
			reasons = append(reasons, fmt.Sprintf("task %d has no id", i))
			continue
		}

		if known[task.ID] {
			reasons = append(reasons, fmt.Sprintf("duplicate task id %q", task.ID))
			continue
		}

		known[task.ID] = true
	}

	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			switch {
			case dep == task.ID:
				reasons = append(reasons, fmt.Sprintf("task %q depends on itself", task.ID))
			case !known[dep]:
				reasons = append(reasons, fmt.Sprintf("task %q depends on unknown task %q", task.ID, dep))
			}
		}
	}

	if len(reasons) > 0 {
		return &PlanError{Reasons: reasons}
	}

	if cycle := findCycle(tasks); len(cycle) > 0 {
		return &PlanError{Reasons: []string{"dependency cycle involving tasks: " + strings.Join(cycle, ", ")}}
	}

	return nil
}

// findCycle returns the ids left unordered by a topological sort, sorted for
// stable reporting. Empty means the graph is acyclic.
func findCycle(tasks []planTask) []string {
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for _, task := range tasks {
		indegree[task.ID] = len(task.DependsOn)

		for _, dep := range task.DependsOn {
			dependents[dep] = append(dependents[dep], task.ID)
		}
	}

	queue := make([]string, 0, len(tasks))

	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	ordered := 0

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered++

		for _, next := range dependents[id] {
			indegree[next]--

			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if ordered == len(tasks) {
		return nil
	}

	var cycle []string

	for id, deg := range indegree {
		if deg > 0 {
			cycle = append(cycle, id)
		}
	}

	sort.Strings(cycle)

	return cycle
}

// waves groups a validated task graph into execution waves: every task lands
// in the first wave where all of its prerequisites have already run.
func waves(tasks []planTask) [][]planTask {
	remaining := make([]planTask, len(tasks))
	copy(remaining, tasks)

	done := make(map[string]bool, len(tasks))

	var out [][]planTask

	for len(remaining) > 0 {
		var wave, rest []planTask

		for _, task := range remaining {
			ready := true

			for _, dep := range task.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}

			if ready {
				wave = append(wave, task)
			} else {
				rest = append(rest, task)
			}
		}

		for _, task := range wave {
			done[task.ID] = true
		}

		out = append(out, wave)
		remaining = rest
	}

	return out
}

// Execute implements Executor.
func (o *OrchestratorWorker) Execute(exec *core.Execution, input Input) error {
	text, err := ValidateText(input)
	if err != nil {
		return err
	}

	planValue, tasks, err := o.plan(exec, text)
	if err != nil {
		return err
	}

	exec.Emit().EmitValue(map[string]any{"plan": planValue})

	results, err := o.runWaves(exec, text, planValue, tasks)
	if err != nil {
		return err
	}

	return o.report(exec, text, planValue, results)
}

// plan runs the planning call and validates the resulting task graph.
func (o *OrchestratorWorker) plan(exec *core.Execution, text string) (map[string]any, []planTask, error) {
	instructions, err := o.opts.Plan.Resolve(map[string]any{"input": text})
	if err != nil {
		return nil, nil, err
	}

	value, err := o.deps.structured(exec.Context(), exec, model.Request{
		Profile:      o.opts.PlanProfile,
		Instructions: instructions,
		Prompt:       text,
		Schema:       planSchema(),
	})
	if err != nil {
		return nil, nil, err
	}

	tasks, err := parsePlan(value)
	if err != nil {
		return nil, nil, err
	}

	if err := validatePlan(tasks); err != nil {
		return nil, nil, err
	}

	exec.LogInfo("orchestrator.plan", "tasks", len(tasks))

	return value, tasks, nil
}

// runWaves executes the task graph wave by wave, emitting a growing results
// frame as tasks land.
func (o *OrchestratorWorker) runWaves(exec *core.Execution, text string, planValue map[string]any, tasks []planTask) (map[string]string, error) {
	instructions, err := o.opts.Worker.Resolve(map[string]any{"input": text})
	if err != nil {
		return nil, err
	}

	results := make(map[string]string, len(tasks))

	for _, wave := range waves(tasks) {
		// Tasks inside a wave only read results from earlier waves, so a
		// pre-wave snapshot keeps the workers free of shared reads.
		inputs := make(map[string]string, len(results))

		for id, text := range results {
			inputs[id] = text
		}

		g, ctx := errgroup.WithContext(exec.Context())

		var mu sync.Mutex

		for _, task := range wave {
			g.Go(func() error {
				result, err := o.deps.call(ctx, exec, model.Request{
					Profile:      o.opts.WorkerProfile,
					Instructions: instructions,
					Prompt:       workerPrompt(text, task, inputs),
				})
				if err != nil {
					return fmt.Errorf("task %s: %w", task.ID, err)
				}

				// Snapshot and emission share the critical section so frames
				// grow one task at a time in completion order.
				mu.Lock()
				results[task.ID] = result.Text
				snapshot := make(map[string]any, len(results))

				for id, text := range results {
					snapshot[id] = text
				}

				exec.Emit().EmitValue(map[string]any{"plan": planValue, "results": snapshot})
				mu.Unlock()

				exec.LogDebug("orchestrator.task.complete", "task", task.ID)

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// workerPrompt renders the prompt of one task call, including the results of
// its prerequisites.
func workerPrompt(text string, task planTask, inputs map[string]string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Objective:\n%s\n\nYour task (%s): %s\n", text, task.ID, task.Description)

	for _, dep := range task.DependsOn {
		fmt.Fprintf(&sb, "\nResult of %s:\n%s\n", dep, inputs[dep])
	}

	return sb.String()
}

// report streams the final report over the collected task results and emits
// the terminal frame.
func (o *OrchestratorWorker) report(exec *core.Execution, text string, planValue map[string]any, results map[string]string) error {
	instructions, err := o.opts.Report.Resolve(map[string]any{"input": text})
	if err != nil {
		return err
	}

	resultsValue := make(map[string]any, len(results))

	for id, out := range results {
		resultsValue[id] = out
	}

	payload, err := json.Marshal(resultsValue)
	if err != nil {
		return fmt.Errorf("marshal task results: %w", err)
	}

	reportSchema := core.NewSchema(o.opts.ReportFields...)

	deltas, errs, err := o.deps.stream(exec.Context(), exec, model.Request{
		Profile:      o.opts.ReportProfile,
		Instructions: instructions,
		Prompt:       fmt.Sprintf("Objective:\n%s\n\nTask results:\n%s", text, payload),
		Schema:       reportSchema,
	})
	if err != nil {
		return err
	}

	r := stream.New(reportSchema, exec.Emit(),
		stream.WithLogger(exec.Logger()),
		stream.WithWrapper(func(doc map[string]any) map[string]any {
			return map[string]any{"plan": planValue, "results": resultsValue, "report": doc}
		}),
	)

	if _, err := r.Run(exec.Context(), deltas, errs); err != nil {
		return err
	}

	return nil
}
