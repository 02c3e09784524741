package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/tool"
)

func newToolDeps(t *testing.T, models *testModels) Deps {
	t.Helper()

	router := tool.NewRouter()
	require.NoError(t, router.Register(tool.Calculator()))

	deps := models.deps()
	deps.Tools = router

	return deps
}

// ----- ToolUse Tests -----

func TestToolUseAnswersAfterToolCall(t *testing.T) {
	models := newTestModels()
	models.balanced.Enqueue(
		model.MockTurn{ToolCalls: []model.ToolCall{{
			ID:        "call-1",
			Name:      "calculate",
			Arguments: map[string]any{"expression": "2+2"},
		}}},
		model.MockTurn{Text: "2+2 equals 4."},
	)

	tu := NewToolUse(newToolDeps(t, models))
	exec := newExec(t, tu)

	frames, err := runPattern(t, exec, tu, Input{Text: "What is 2+2?"})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	delta, ok := frames[0].TextDelta()
	require.True(t, ok)
	assert.Equal(t, "2+2 equals 4.", delta)

	require.True(t, frames[1].Terminal)
	text, ok := frames[1].Payload.(core.TextPayload)
	require.True(t, ok)
	assert.Equal(t, "2+2 equals 4.", text.Text)

	// The tool round-trip is recorded and fed back to the model.
	records := exec.ToolRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "calculate", records[0].Tool)
	assert.Equal(t, "call-1", records[0].CallID)
	assert.Equal(t, map[string]any{"result": "4"}, records[0].Payload)
	assert.Empty(t, records[0].ErrorCode)

	requests := models.balanced.Requests()
	require.Len(t, requests, 2)

	history := requests[1].History
	require.Len(t, history, 3)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, model.RoleTool, history[2].Role)
	assert.Equal(t, "call-1", history[2].ToolCallID)
	assert.JSONEq(t, `{"result":"4"}`, history[2].Content)

	// Tool definitions were offered on every turn.
	require.Len(t, requests[0].Tools, 1)
	assert.Equal(t, "calculate", requests[0].Tools[0].Name)
}

func TestToolUseDirectAnswerSkipsTools(t *testing.T) {
	models := newTestModels()
	models.balanced.Enqueue(model.MockTurn{Text: "Paris."})

	tu := NewToolUse(newToolDeps(t, models))
	exec := newExec(t, tu)

	frames, err := runPattern(t, exec, tu, Input{Text: "Capital of France?"})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Empty(t, exec.ToolRecords())
}

func TestToolUseFeedsFailureBackToModel(t *testing.T) {
	models := newTestModels()
	models.balanced.Enqueue(
		model.MockTurn{ToolCalls: []model.ToolCall{{
			ID:        "call-1",
			Name:      "calculate",
			Arguments: map[string]any{"expression": "1/0"},
		}}},
		model.MockTurn{Text: "That expression divides by zero."},
	)

	tu := NewToolUse(newToolDeps(t, models))
	exec := newExec(t, tu)

	frames, err := runPattern(t, exec, tu, Input{Text: "What is 1/0?"})
	require.NoError(t, err)
	require.True(t, frames[len(frames)-1].Terminal)

	records := exec.ToolRecords()
	require.Len(t, records, 1)
	assert.Equal(t, core.CodeToolExecution, records[0].ErrorCode)

	// The failure reached the model as a structured result, not an abort.
	history := models.balanced.Requests()[1].History
	assert.Contains(t, history[2].Content, "error [TOOL_EXECUTION_ERROR]")
}

func TestToolUseUnknownToolContinues(t *testing.T) {
	models := newTestModels()
	models.balanced.Enqueue(
		model.MockTurn{ToolCalls: []model.ToolCall{{ID: "call-1", Name: "search_web", Arguments: map[string]any{"q": "news"}}}},
		model.MockTurn{Text: "I cannot search the web."},
	)

	tu := NewToolUse(newToolDeps(t, models))
	exec := newExec(t, tu)

	_, err := runPattern(t, exec, tu, Input{Text: "Latest news?"})
	require.NoError(t, err)

	records := exec.ToolRecords()
	require.Len(t, records, 1)
	assert.True(t, records[0].ErrorCode != "")
}

func TestToolUseStepLimit(t *testing.T) {
	models := newTestModels()
	call := model.MockTurn{ToolCalls: []model.ToolCall{{
		ID:        "loop",
		Name:      "calculate",
		Arguments: map[string]any{"expression": "1+1"},
	}}}
	models.balanced.Enqueue(call, call)

	tu := NewToolUse(newToolDeps(t, models), func(o *ToolUseOptions) {
		o.MaxSteps = 2
	})
	exec := newExec(t, tu)

	frames, err := runPattern(t, exec, tu, Input{Text: "keep calculating"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepLimit)

	var stepErr *StepLimitError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Steps)

	require.Len(t, frames, 1)
	require.True(t, frames[0].Terminal)
	assert.Equal(t, core.CodeStepLimit, frameErr(t, frames[0]).Code)

	assert.Len(t, exec.ToolRecords(), 2)
}

func TestToolUseGeneratesMissingCallIDs(t *testing.T) {
	models := newTestModels()
	models.balanced.Enqueue(
		model.MockTurn{ToolCalls: []model.ToolCall{{
			Name:      "calculate",
			Arguments: map[string]any{"expression": "3*3"},
		}}},
		model.MockTurn{Text: "Nine."},
	)

	tu := NewToolUse(newToolDeps(t, models))
	exec := newExec(t, tu)

	_, err := runPattern(t, exec, tu, Input{Text: "What is 3*3?"})
	require.NoError(t, err)

	records := exec.ToolRecords()
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].CallID)
}

func TestToolUseAcceptsMessages(t *testing.T) {
	models := newTestModels()
	models.balanced.Enqueue(model.MockTurn{Text: "Hello again."})

	tu := NewToolUse(newToolDeps(t, models))
	exec := newExec(t, tu)

	input := Input{Messages: []model.Message{
		{Role: model.RoleSystem, Content: "Be brief."},
		{Role: model.RoleUser, Content: "Hi"},
	}}

	require.NoError(t, tu.Validate(input))

	_, err := runPattern(t, exec, tu, input)
	require.NoError(t, err)

	history := models.balanced.Requests()[0].History
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleSystem, history[0].Role)
}

func TestToolUseRejectsBadMessages(t *testing.T) {
	models := newTestModels()
	tu := NewToolUse(newToolDeps(t, models))

	err := tu.Validate(Input{Messages: []model.Message{{Role: "tool", Content: "sneaky"}}})
	require.Error(t, err)
	assert.Equal(t, core.CodeInputValidation, core.ErrorCodeOf(err))

	err = tu.Validate(Input{Messages: []model.Message{{Role: model.RoleUser, Content: "   "}}})
	require.Error(t, err)
}
