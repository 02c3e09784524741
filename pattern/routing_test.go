package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
)

// ----- Routing Tests -----

func classifiedAs(category, complexity string) model.MockTurn {
	return model.MockTurn{Text: `{"category": "` + category + `", "complexity": "` + complexity + `", "reasoning": "test classification"}`}
}

func TestRoutingSimpleRequestRunsOnFastProfile(t *testing.T) {
	models := newTestModels()
	models.fast.Enqueue(
		classifiedAs("support", "simple"),
		model.MockTurn{Deltas: []string{"Reset your password", " from the account page."}},
	)

	routing := NewRouting(models.deps())
	exec := newExec(t, routing)

	frames, err := runPattern(t, exec, routing, Input{Text: "How do I reset my password?"})
	require.NoError(t, err)
	require.Len(t, frames, 4)

	classification, ok := frameValue(t, frames[0])["classification"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "support", classification["category"])
	assert.Equal(t, "simple", classification["complexity"])

	second := frameValue(t, frames[1])
	assert.Equal(t, "Reset your password", second["response"])

	require.True(t, frames[3].Terminal)
	final := frameValue(t, frames[3])
	assert.Equal(t, "Reset your password from the account page.", final["response"])

	// Simple requests run on the fast tier even though the support route is
	// bound to the balanced one; the specialist prompt still applies.
	requests := models.fast.Requests()
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1].Instructions, "customer support specialist")
	assert.Empty(t, models.balanced.Requests())
}

func TestRoutingComplexRequestKeepsRouteProfile(t *testing.T) {
	models := newTestModels()
	models.fast.Enqueue(classifiedAs("technical", "complex"))
	models.deep.Enqueue(model.MockTurn{Deltas: []string{"Check the connection pool limits."}})

	routing := NewRouting(models.deps())
	exec := newExec(t, routing)

	frames, err := runPattern(t, exec, routing, Input{Text: "The service deadlocks under load."})
	require.NoError(t, err)

	require.True(t, frames[len(frames)-1].Terminal)

	requests := models.deep.Requests()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].Instructions, "senior engineer")
}

func TestRoutingUnknownCategoryFallsBack(t *testing.T) {
	models := newTestModels()
	models.fast.Enqueue(classifiedAs("billing", "complex"))
	models.balanced.Enqueue(model.MockTurn{Deltas: []string{"Here is what I found."}})

	routing := NewRouting(models.deps())
	exec := newExec(t, routing)

	_, err := runPattern(t, exec, routing, Input{Text: "Question about my invoice"})
	require.NoError(t, err)

	requests := models.balanced.Requests()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].Instructions, "generalist")
}

func TestRoutingCategoryMatchingIsCaseInsensitive(t *testing.T) {
	models := newTestModels()
	models.fast.Enqueue(classifiedAs("Technical", "complex"))
	models.deep.Enqueue(model.MockTurn{Deltas: []string{"Root cause analysis."}})

	routing := NewRouting(models.deps())
	exec := newExec(t, routing)

	_, err := runPattern(t, exec, routing, Input{Text: "Kernel panic on boot"})
	require.NoError(t, err)

	assert.Len(t, models.deep.Requests(), 1)
}

func TestRoutingClassificationViolationFails(t *testing.T) {
	models := newTestModels()
	models.fast.Enqueue(model.MockTurn{Text: `{"category": "support"}`})

	routing := NewRouting(models.deps())
	exec := newExec(t, routing)

	frames, err := runPattern(t, exec, routing, Input{Text: "help"})
	require.Error(t, err)

	last := frames[len(frames)-1]
	require.True(t, last.Terminal)
	assert.Equal(t, core.CodeSchemaViolation, frameErr(t, last).Code)
}

func TestRoutingStreamFailureFailsExecution(t *testing.T) {
	models := newTestModels()
	models.fast.Enqueue(classifiedAs("technical", "complex"))
	models.deep.Enqueue(model.MockTurn{Err: model.NewRateLimited("mock", assert.AnError)})

	routing := NewRouting(models.deps())
	exec := newExec(t, routing)

	frames, err := runPattern(t, exec, routing, Input{Text: "diagnose this"})
	require.Error(t, err)

	last := frames[len(frames)-1]
	require.True(t, last.Terminal)
	assert.Equal(t, core.CodeProviderRateLimited, frameErr(t, last).Code)

	// The classification frame was already delivered before the failure.
	_, hasClassification := frameValue(t, frames[0])["classification"]
	assert.True(t, hasClassification)
}

func TestRoutingCustomRoutes(t *testing.T) {
	models := newTestModels()
	models.fast.Enqueue(classifiedAs("legal", "complex"))
	models.deep.Enqueue(model.MockTurn{Deltas: []string{"Consult the contract."}})

	routing := NewRouting(models.deps(), func(o *RoutingOptions) {
		o.Routes = []Route{
			{Category: "legal", Instructions: "You are a contracts lawyer.", Profile: model.ProfileDeep},
		}
	})
	exec := newExec(t, routing)

	_, err := runPattern(t, exec, routing, Input{Text: "Can we terminate early?"})
	require.NoError(t, err)

	requests := models.deep.Requests()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].Instructions, "contracts lawyer")

	// The classifier was offered the custom category list.
	assert.Contains(t, models.fast.Requests()[0].Schema.Fields[0].Description, "legal")
}
