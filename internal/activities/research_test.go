package activities

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"

	"github.com/graphweave/researcher/internal/coordinator"
	"github.com/graphweave/researcher/internal/llm"
	"github.com/graphweave/researcher/internal/tools"
)

func testResearchTask() coordinator.Task {
	return coordinator.Task{
		TaskName:       "experian-history",
		Goal:           "Map the corporate history of Experian",
		EntityTypeIDs:  []string{companyType},
		InternetAccess: true,
	}
}

// planThenSearch scripts a model that plans once and then searches forever.
func planThenSearch() *llm.MockProvider {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(_ context.Context, req llm.Request) (*llm.Response, error) {
		name, args := string(tools.WebSearch), `{"query":"experian","explanation":"keep digging"}`
		if req.Metadata.StepID == "plan" {
			name, args = string(tools.UpdatePlan), `{"plan":"search forever"}`
		}
		return &llm.Response{
			StopReason: "tool_use",
			ToolCalls:  []llm.ToolCall{{ID: "c-" + req.Metadata.StepID, Name: name, Args: json.RawMessage(args)}},
		}, nil
	}
	return provider
}

func TestRunCoordinatingAgentTerminates(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(_ context.Context, req llm.Request) (*llm.Response, error) {
		name, args := string(tools.Terminate), `{"reason":"nothing to research"}`
		if req.Metadata.StepID == "plan" {
			name, args = string(tools.UpdatePlan), `{"plan":"search, then give up"}`
		}
		return &llm.Response{
			StopReason: "tool_use",
			ToolCalls:  []llm.ToolCall{{ID: "c-" + req.Metadata.StepID, Name: name, Args: json.RawMessage(args)}},
		}, nil
	}
	SetDeps(Deps{Provider: provider, Logger: zaptest.NewLogger(t)})

	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(RunCoordinatingAgent)

	val, err := env.ExecuteActivity(RunCoordinatingAgent, ResearchInput{Task: testResearchTask()})
	require.NoError(t, err)

	var res *ResearchResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, string(coordinator.StatusTerminated), res.Status)
	assert.Equal(t, "nothing to research", res.Reason)
	assert.Empty(t, res.SubmittedEntities)
	assert.Equal(t, 1, res.Iterations)
}

func TestRunCoordinatingAgentExhaustionIsAResultNotAFailure(t *testing.T) {
	var searches atomic.Int32
	SetDeps(Deps{
		Provider: planThenSearch(),
		Search:   searchServer(t, &searches),
		Research: ResearchDefaults{InternetAccess: true},
		Logger:   zaptest.NewLogger(t),
	})

	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(RunCoordinatingAgent)

	val, err := env.ExecuteActivity(RunCoordinatingAgent, ResearchInput{Task: testResearchTask(), MaxIterations: 2})
	require.NoError(t, err, "running out of iterations must not fail the activity")

	var res *ResearchResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, string(coordinator.StatusExhausted), res.Status)
	assert.Equal(t, 3, res.Iterations, "plan call plus one search per iteration")
	assert.EqualValues(t, 2, searches.Load())
}

func TestRunCoordinatingAgentAppliesWorkerDefaults(t *testing.T) {
	var searches atomic.Int32
	SetDeps(Deps{
		Provider: planThenSearch(),
		Search:   searchServer(t, &searches),
		// The worker caps the budget and disables internet access; the task
		// below requests internet access anyway.
		Research: ResearchDefaults{MaxIterations: 2, InternetAccess: false},
		Logger:   zaptest.NewLogger(t),
	})

	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(RunCoordinatingAgent)

	val, err := env.ExecuteActivity(RunCoordinatingAgent, ResearchInput{Task: testResearchTask()})
	require.NoError(t, err)

	var res *ResearchResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, string(coordinator.StatusExhausted), res.Status,
		"an unset input budget must fall back to the worker default")
	assert.Equal(t, 3, res.Iterations)
	assert.EqualValues(t, 0, searches.Load(),
		"the worker's internet gate must keep searches from executing")
}
