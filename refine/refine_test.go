package refine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/core"
)

// ----- Evaluation Schema Tests -----

func TestEvaluationSchemaShape(t *testing.T) {
	schema := EvaluationSchema()

	err := schema.Validate(map[string]any{
		"score":    7.5,
		"feedback": "tighten the opening",
		"issues":   []any{"opening is verbose"},
	}, core.Strict)
	require.NoError(t, err)

	// issues is optional.
	err = schema.Validate(map[string]any{"score": 7.5, "feedback": "ok"}, core.Strict)
	require.NoError(t, err)

	err = schema.Validate(map[string]any{"score": 7.5}, core.Strict)
	require.Error(t, err, "feedback is required")
}

func TestDomainEvaluationSchemaAddsDimensions(t *testing.T) {
	schema := DomainEvaluationSchema("accuracy", "naturalness")

	_, ok := schema.Field("accuracy")
	assert.True(t, ok)
	_, ok = schema.Field("naturalness")
	assert.True(t, ok)

	err := schema.Validate(map[string]any{
		"score":    8.0,
		"feedback": "solid",
		"accuracy": 9.0,
	}, core.Strict)
	require.Error(t, err, "every dimension is required")

	err = schema.Validate(map[string]any{
		"score":       8.0,
		"feedback":    "solid",
		"accuracy":    9.0,
		"naturalness": 7.0,
	}, core.Strict)
	require.NoError(t, err)
}

// ----- ParseEvaluation Tests -----

func TestParseEvaluationComplete(t *testing.T) {
	eval, err := ParseEvaluation(map[string]any{
		"score":       8.5,
		"feedback":    "nearly there",
		"issues":      []any{"second paragraph drifts"},
		"accuracy":    9.0,
		"naturalness": 8.0,
	})
	require.NoError(t, err)

	assert.Equal(t, 8.5, eval.Score)
	assert.Equal(t, "nearly there", eval.Feedback)
	assert.Equal(t, []string{"second paragraph drifts"}, eval.Issues)
	assert.Equal(t, map[string]float64{"accuracy": 9.0, "naturalness": 8.0}, eval.SubScores)
}

func TestParseEvaluationScoreOutOfRange(t *testing.T) {
	for _, score := range []float64{0.5, 10.5, -1} {
		_, err := ParseEvaluation(map[string]any{"score": score, "feedback": "x"})
		require.Error(t, err)

		var sv *core.SchemaViolationError
		require.ErrorAs(t, err, &sv)
		assert.Equal(t, "score", sv.Violations[0].Field)
	}
}

func TestParseEvaluationMissingScore(t *testing.T) {
	_, err := ParseEvaluation(map[string]any{"feedback": "no score given"})
	require.Error(t, err)
	assert.Equal(t, core.CodeSchemaViolation, core.ErrorCodeOf(err))
}

func TestParseEvaluationSubScoreOutOfRange(t *testing.T) {
	_, err := ParseEvaluation(map[string]any{
		"score":    8.0,
		"feedback": "ok",
		"accuracy": 0.0,
	})
	require.Error(t, err)

	var sv *core.SchemaViolationError
	require.ErrorAs(t, err, &sv)
	require.Len(t, sv.Violations, 1)
	assert.Equal(t, "accuracy", sv.Violations[0].Field)
}

func TestParseEvaluationAcceptsIntegerScores(t *testing.T) {
	eval, err := ParseEvaluation(map[string]any{"score": 9, "feedback": "good"})
	require.NoError(t, err)
	assert.Equal(t, 9.0, eval.Score)
}

func TestParseEvaluationIgnoresNonNumericExtras(t *testing.T) {
	eval, err := ParseEvaluation(map[string]any{
		"score":     7.0,
		"feedback":  "ok",
		"reasoning": "the draft covers all points",
	})
	require.NoError(t, err)
	assert.Empty(t, eval.SubScores)
}
