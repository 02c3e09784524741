package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
)

// ----- EvaluatorOptimizer Tests -----

func TestEvaluatorConvergesOnTarget(t *testing.T) {
	models := newTestModels()
	models.balanced.Enqueue(
		model.MockTurn{Text: "draft one"},
		model.MockTurn{Text: "draft two"},
	)
	models.fast.Enqueue(
		model.MockTurn{Text: `{"score": 5.0, "feedback": "unclear", "issues": ["ambiguous opener"], "accuracy": 6.0, "completeness": 5.0, "clarity": 4.0}`},
		model.MockTurn{Text: `{"score": 9.0, "feedback": "much better", "accuracy": 9.0, "completeness": 9.0, "clarity": 9.0}`},
	)

	ev := NewEvaluatorOptimizer(models.deps(), func(o *EvaluatorOptions) {
		o.MaxIterations = 3
		o.TargetScore = 8.5
	})
	exec := newExec(t, ev)

	frames, err := runPattern(t, exec, ev, Input{Text: "translate this passage"})
	require.NoError(t, err)
	require.Len(t, frames, 3)

	first, ok := frameValue(t, frames[0])["iterations"].([]any)
	require.True(t, ok)
	require.Len(t, first, 1)
	assert.Equal(t, map[string]any{"index": 0, "score": 5.0, "feedback": "unclear"}, first[0])

	second, ok := frameValue(t, frames[1])["iterations"].([]any)
	require.True(t, ok)
	assert.Len(t, second, 2)

	require.True(t, frames[2].Terminal)
	final := frameValue(t, frames[2])
	assert.Equal(t, "draft two", final["final"])
	assert.Equal(t, 9.0, final["score"])
	assert.NotContains(t, final, "converged")

	iterations, ok := final["iterations"].([]any)
	require.True(t, ok)
	assert.Len(t, iterations, 2)

	// Two evaluations, two records, sub-scores preserved.
	records := exec.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "draft one", records[0].Candidate)
	assert.InDelta(t, 6.0, records[0].SubScores["accuracy"], 0.0001)
	assert.Equal(t, "draft two", records[1].Candidate)

	// Exactly one improvement call after the failed round.
	assert.Len(t, models.balanced.Requests(), 2)
	assert.Contains(t, models.balanced.Requests()[1].Prompt, "ambiguous opener")
}

func TestEvaluatorStopsAtIterationBudget(t *testing.T) {
	models := newTestModels()
	models.balanced.Enqueue(
		model.MockTurn{Text: "draft one"},
		model.MockTurn{Text: "draft two"},
	)
	models.fast.Enqueue(
		model.MockTurn{Text: `{"score": 5.0, "feedback": "weak", "accuracy": 5.0, "completeness": 5.0, "clarity": 5.0}`},
		model.MockTurn{Text: `{"score": 6.0, "feedback": "better", "accuracy": 6.0, "completeness": 6.0, "clarity": 6.0}`},
	)

	ev := NewEvaluatorOptimizer(models.deps(), func(o *EvaluatorOptions) {
		o.MaxIterations = 2
		o.TargetScore = 9.5
	})
	exec := newExec(t, ev)

	frames, err := runPattern(t, exec, ev, Input{Text: "translate"})
	require.NoError(t, err)

	final := frameValue(t, frames[len(frames)-1])
	assert.Equal(t, "draft two", final["final"])
	assert.Equal(t, 6.0, final["score"])

	// The last evaluated candidate is final; no trailing improvement call.
	assert.Len(t, models.balanced.Requests(), 2)
	assert.Len(t, models.fast.Requests(), 2)
}

func TestEvaluatorEvaluationViolationFails(t *testing.T) {
	models := newTestModels()
	models.balanced.Enqueue(model.MockTurn{Text: "draft"})
	models.fast.Enqueue(model.MockTurn{Text: `{"score": 5.0, "feedback": "weak", "accuracy": 5.0, "completeness": 5.0}`})

	ev := NewEvaluatorOptimizer(models.deps())
	exec := newExec(t, ev)

	frames, err := runPattern(t, exec, ev, Input{Text: "translate"})
	require.Error(t, err)

	last := frames[len(frames)-1]
	require.True(t, last.Terminal)

	payload := frameErr(t, last)
	assert.Equal(t, core.CodeSchemaViolation, payload.Code)
	require.NotEmpty(t, payload.Violations)
	assert.Equal(t, "clarity", payload.Violations[0].Field)
}

func TestEvaluatorCustomDimensions(t *testing.T) {
	models := newTestModels()
	models.balanced.Enqueue(model.MockTurn{Text: "ein Entwurf"})
	models.fast.Enqueue(model.MockTurn{Text: `{"score": 9.0, "feedback": "idiomatic", "accuracy": 9.0, "naturalness": 8.5, "domainFit": 9.5}`})

	ev := NewEvaluatorOptimizer(models.deps(), func(o *EvaluatorOptions) {
		o.Dimensions = []string{"accuracy", "naturalness", "domainFit"}
	})
	exec := newExec(t, ev)

	_, err := runPattern(t, exec, ev, Input{Text: "translate to German"})
	require.NoError(t, err)

	records := exec.Records()
	require.Len(t, records, 1)
	assert.InDelta(t, 8.5, records[0].SubScores["naturalness"], 0.0001)
	assert.InDelta(t, 9.5, records[0].SubScores["domainFit"], 0.0001)

	// The evaluation schema offered to the model names every dimension.
	schema := models.fast.Requests()[0].Schema
	require.NotNil(t, schema)
	_, ok := schema.Field("domainFit")
	assert.True(t, ok)
}

func TestEvaluatorInvalidOptionsSurfaceOnRun(t *testing.T) {
	models := newTestModels()
	ev := NewEvaluatorOptimizer(models.deps(), func(o *EvaluatorOptions) {
		o.MaxIterations = 0
	})
	exec := newExec(t, ev)

	_, err := runPattern(t, exec, ev, Input{Text: "translate"})
	require.Error(t, err)
	assert.Empty(t, models.balanced.Requests())
}
