// Package refine implements the bounded evaluate/improve loop shared by the
// refinement-style patterns. A candidate answer is scored against an
// evaluation schema and revised with the scorer's feedback until it reaches a
// target score or exhausts its iteration budget.
package refine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hupe1980/agentweave/core"
)

// Evaluation is one scored judgement of a candidate.
type Evaluation struct {
	Score     float64
	Feedback  string
	Issues    []string
	SubScores map[string]float64
}

// EvaluationSchema describes the structured reply expected from an
// evaluation call.
func EvaluationSchema() *core.Schema {
	return core.NewSchema(baseEvaluationFields()...)
}

// DomainEvaluationSchema extends EvaluationSchema with one named sub-score
// per dimension, e.g. accuracy, naturalness, domain fit.
func DomainEvaluationSchema(dimensions ...string) *core.Schema {
	fields := baseEvaluationFields()
	for _, name := range dimensions {
		fields = append(fields, core.Number(name, name+" score from 1 to 10"))
	}

	return core.NewSchema(fields...)
}

func baseEvaluationFields() []core.Field {
	return []core.Field{
		core.Number("score", "overall quality score from 1 to 10"),
		core.String("feedback", "actionable feedback for the next revision"),
		core.Array("issues", "specific problems found", core.String("issue", "one concrete problem")).Optional(),
	}
}

// ParseEvaluation turns a structured evaluation reply into an Evaluation.
// Every score, overall and per-dimension, must lie within [1,10]; anything
// outside that range is a schema violation, not a valid judgement.
func ParseEvaluation(value map[string]any) (*Evaluation, error) {
	var violations []core.FieldViolation

	score, ok := toFloat(value["score"])
	switch {
	case !ok:
		violations = append(violations, core.FieldViolation{Field: "score", Message: "missing or not a number"})
	case score < 1 || score > 10:
		violations = append(violations, core.FieldViolation{Field: "score", Message: fmt.Sprintf("must lie within [1,10], got %v", score)})
	}

	feedback, _ := value["feedback"].(string)

	var issues []string
	if raw, ok := value["issues"].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				issues = append(issues, s)
			}
		}
	}

	names := make([]string, 0, len(value))
	for name := range value {
		names = append(names, name)
	}
	sort.Strings(names)

	var subScores map[string]float64
	for _, name := range names {
		switch name {
		case "score", "feedback", "issues":
			continue
		}

		sub, ok := toFloat(value[name])
		if !ok {
			continue
		}
		if sub < 1 || sub > 10 {
			violations = append(violations, core.FieldViolation{Field: name, Message: fmt.Sprintf("must lie within [1,10], got %v", sub)})
			continue
		}

		if subScores == nil {
			subScores = make(map[string]float64)
		}
		subScores[name] = sub
	}

	if len(violations) > 0 {
		return nil, &core.SchemaViolationError{Violations: violations}
	}

	return &Evaluation{Score: score, Feedback: feedback, Issues: issues, SubScores: subScores}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}

	return 0, false
}
