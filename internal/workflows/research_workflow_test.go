package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/graphweave/researcher/internal/activities"
	"github.com/graphweave/researcher/internal/checkpoint"
	"github.com/graphweave/researcher/internal/coordinator"
	"github.com/graphweave/researcher/internal/research"
	"github.com/graphweave/researcher/internal/workflows/control"
)

func testInput() ResearchTaskInput {
	return ResearchTaskInput{
		Task: coordinator.Task{
			TaskName:      "experian-history",
			Goal:          "Map the corporate history of Experian",
			EntityTypeIDs: []string{"https://graph.test/types/company/v/2"},
		},
	}
}

func TestResearchWorkflowReturnsActivityResult(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ResearchEntitiesWorkflow)

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.ResearchInput) (*activities.ResearchResult, error) {
		assert.Equal(t, "experian-history", in.Task.TaskName)
		return &activities.ResearchResult{
			Status: string(coordinator.StatusCompleted),
			Reason: "all entity types covered",
			SubmittedEntities: []research.ProposedEntity{
				{LocalID: "prop-1", EntityTypeID: "https://graph.test/types/company/v/2"},
			},
			Iterations: 7,
		}, nil
	}, activity.RegisterOptions{Name: "RunCoordinatingAgent"})

	env.ExecuteWorkflow(ResearchEntitiesWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res ResearchTaskResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, string(coordinator.StatusCompleted), res.Status)
	assert.Equal(t, 7, res.Iterations)
	require.Len(t, res.SubmittedEntities, 1)
	assert.Equal(t, "prop-1", res.SubmittedEntities[0].LocalID)
}

func TestResearchWorkflowAbsorbsCheckpointSignals(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ResearchEntitiesWorkflow)

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.ResearchInput) (*activities.ResearchResult, error) {
		// Hold the workflow open long enough for the signals to arrive.
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return &activities.ResearchResult{Status: string(coordinator.StatusCompleted)}, nil
	}, activity.RegisterOptions{Name: "RunCoordinatingAgent"})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(checkpoint.SignalCheckpoint, checkpoint.Envelope{CheckpointID: "cp-1", StepID: "plan"})
	}, 10*time.Millisecond)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(checkpoint.SignalCheckpoint, checkpoint.Envelope{CheckpointID: "cp-2", StepID: "iteration-1"})
	}, 20*time.Millisecond)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(checkpoint.SignalCheckpointReset, checkpoint.ResetRequest{CheckpointID: "cp-1"})
	}, 30*time.Millisecond)

	env.ExecuteWorkflow(ResearchEntitiesWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	val, err := env.QueryWorkflow(QueryCheckpoints)
	require.NoError(t, err)
	var view CheckpointView
	require.NoError(t, val.Get(&view))
	assert.Equal(t, 2, view.Count)
	assert.Equal(t, "cp-2", view.LatestCheckpointID)
	assert.Equal(t, "iteration-1", view.LatestStepID)
	assert.Equal(t, "cp-1", view.ResetTargetID)

	var res ResearchTaskResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, "cp-2", res.LastCheckpointID)
}

func TestResearchWorkflowCancelStopsTheActivity(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ResearchEntitiesWorkflow)

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.ResearchInput) (*activities.ResearchResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, activity.RegisterOptions{Name: "RunCoordinatingAgent"})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(control.SignalCancel, control.CancelRequest{Reason: "wrong goal", RequestedBy: "ops"})
	}, 50*time.Millisecond)

	env.ExecuteWorkflow(ResearchEntitiesWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var canceled *temporal.CanceledError
	assert.True(t, errors.As(err, &canceled), "expected CanceledError, got %T", err)
}

func TestResearchWorkflowActivityFailureSurfaces(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ResearchEntitiesWorkflow)

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.ResearchInput) (*activities.ResearchResult, error) {
		return nil, temporal.NewNonRetryableApplicationError("planning: no usable tool call after 3 attempts", "planning", nil)
	}, activity.RegisterOptions{Name: "RunCoordinatingAgent"})

	env.ExecuteWorkflow(ResearchEntitiesWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable tool call")
}
