package pattern

import (
	"strings"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
)

const defaultRoutingClassify = "You are a triage classifier. Decide which specialist should answer the request and whether it is simple or complex. Pick exactly one category from the list; answer \"general\" when nothing fits."

// Route describes one specialist a classifier can select: a prompt fragment
// and the capability profile it should run on.
type Route struct {
	Category     string
	Instructions string
	Profile      model.Profile
}

// RoutingOptions configure the Routing strategy.
type RoutingOptions struct {
	Routes   []Route
	Default  Route
	Classify Instruction
}

// Routing classifies the request with a fast model call, selects a specialist
// from a static route table, and streams the specialist's reply. Unrecognized
// categories fall back to the default route; a request classified as simple
// runs on the fast profile regardless of the route's own tier.
//
// Frames carry {classification, response} with response growing as the
// specialist streams.
type Routing struct {
	deps   Deps
	opts   RoutingOptions
	routes map[string]Route
}

// NewRouting creates the strategy with a default route table covering
// support, technical and sales specialists.
func NewRouting(deps Deps, optFns ...func(o *RoutingOptions)) *Routing {
	opts := RoutingOptions{
		Routes: []Route{
			{Category: "support", Instructions: "You are a customer support specialist. Resolve the customer's problem step by step, in plain language, and state what to do next.", Profile: model.ProfileBalanced},
			{Category: "technical", Instructions: "You are a senior engineer. Diagnose the problem precisely and give a concrete, technically detailed solution.", Profile: model.ProfileDeep},
			{Category: "sales", Instructions: "You are a sales advisor. Understand what the customer needs and recommend the best fitting option, including pricing considerations.", Profile: model.ProfileBalanced},
		},
		Default:  Route{Category: "general", Instructions: "You are a helpful generalist assistant. Answer the request directly and completely.", Profile: model.ProfileBalanced},
		Classify: NewInstruction(defaultRoutingClassify),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	routes := make(map[string]Route, len(opts.Routes))
	for _, r := range opts.Routes {
		routes[strings.ToLower(r.Category)] = r
	}

	return &Routing{deps: deps, opts: opts, routes: routes}
}

// Name implements Executor.
func (r *Routing) Name() string { return "routing" }

// Schema implements Executor.
func (r *Routing) Schema() *core.Schema {
	return core.NewSchema(
		core.Object("classification", "how the request was categorized",
			core.String("category", "selected category"),
			core.String("complexity", "simple or complex"),
			core.String("reasoning", "one sentence explaining the choice"),
		),
		core.String("response", "the specialist's reply"),
	)
}

// Validate implements Executor.
func (r *Routing) Validate(input Input) error {
	_, err := ValidateText(input)
	return err
}

func (r *Routing) categories() []string {
	out := make([]string, 0, len(r.opts.Routes)+1)
	for _, route := range r.opts.Routes {
		out = append(out, route.Category)
	}

	return append(out, r.opts.Default.Category)
}

func (r *Routing) classificationSchema() *core.Schema {
	return core.NewSchema(
		core.String("category", "one of: "+strings.Join(r.categories(), ", ")),
		core.String("complexity", "either simple or complex"),
		core.String("reasoning", "one sentence explaining the choice"),
	)
}

// Execute implements Executor.
func (r *Routing) Execute(exec *core.Execution, input Input) error {
	text, err := ValidateText(input)
	if err != nil {
		return err
	}

	classify, err := r.opts.Classify.Resolve(map[string]any{"input": text})
	if err != nil {
		return err
	}

	classification, err := r.deps.structured(exec.Context(), exec, model.Request{
		Profile:      model.ProfileFast,
		Instructions: classify,
		Prompt:       text,
		Schema:       r.classificationSchema(),
	})
	if err != nil {
		return err
	}

	exec.Emit().EmitValue(map[string]any{"classification": classification})

	category, _ := classification["category"].(string)
	complexity, _ := classification["complexity"].(string)

	route, ok := r.routes[strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		exec.LogDebug("routing.fallback", "category", category)
		route = r.opts.Default
	}

	profile := route.Profile
	if strings.EqualFold(strings.TrimSpace(complexity), "simple") {
		profile = model.ProfileFast
	}

	exec.LogInfo("routing.selected", "category", route.Category, "profile", string(profile))

	deltas, errs, err := r.deps.stream(exec.Context(), exec, model.Request{
		Profile:      profile,
		Instructions: route.Instructions,
		Prompt:       text,
	})
	if err != nil {
		return err
	}

	var response strings.Builder

	for delta := range deltas {
		response.WriteString(delta)
		exec.Emit().EmitValue(map[string]any{
			"classification": classification,
			"response":       response.String(),
		})
	}

	if err := <-errs; err != nil {
		return err
	}

	exec.Emit().EmitFinalValue(map[string]any{
		"classification": classification,
		"response":       response.String(),
	})

	return nil
}
