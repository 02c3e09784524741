package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Calculator Tests --------------------

func TestCalculatorEvaluates(t *testing.T) {
	tests := []struct {
		expression string
		want       string
	}{
		{"2+2", "4"},
		{"2 + 3 * 4", "14"},
		{"(2 + 3) * 4", "20"},
		{"10 / 4", "2.5"},
		{"-3 + 5", "2"},
		{"2 * (3 - -1)", "8"},
		{"1.5 + 2.25", "3.75"},
	}

	calc := Calculator()

	for _, tt := range tests {
		result, err := calc.Call(testCallCtx("calculate"), map[string]any{"expression": tt.expression})
		require.NoError(t, err, "expression %q", tt.expression)

		payload, ok := result.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, tt.want, payload["result"], "expression %q", tt.expression)
	}
}

func TestCalculatorRejectsMalformedExpressions(t *testing.T) {
	calc := Calculator()

	for _, expression := range []string{
		"",
		"2 +",
		"(2 + 3",
		"hello",
		"2 ** 3",
	} {
		_, err := calc.Call(testCallCtx("calculate"), map[string]any{"expression": expression})
		assert.Error(t, err, "expression %q", expression)
	}
}

func TestCalculatorDivisionByZero(t *testing.T) {
	calc := Calculator()

	_, err := calc.Call(testCallCtx("calculate"), map[string]any{"expression": "1 / 0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestCalculatorRequiresExpression(t *testing.T) {
	calc := Calculator()

	_, err := calc.Call(testCallCtx("calculate"), map[string]any{})
	require.Error(t, err)

	toolErr, ok := err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, CodeValidation, toolErr.Code)
}
