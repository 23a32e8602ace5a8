package control

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

func controlledWorkflow(checkpoints int) func(ctx workflow.Context) (int, error) {
	return func(ctx workflow.Context) (int, error) {
		handler := &SignalHandler{Logger: workflow.GetLogger(ctx)}
		handler.Setup(ctx)

		reached := 0
		for i := 0; i < checkpoints; i++ {
			_ = workflow.Sleep(ctx, 100*time.Millisecond)
			if err := handler.CheckPausePoint(ctx, "loop"); err != nil {
				return reached, err
			}
			reached++
		}
		return reached, nil
	}
}

func TestPauseBlocksUntilResume(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	wf := controlledWorkflow(1)
	env.RegisterWorkflow(wf)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPause, PauseRequest{Reason: "operator hold", RequestedBy: "ops"})
	}, 50*time.Millisecond)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalResume, ResumeRequest{RequestedBy: "ops"})
	}, 300*time.Millisecond)

	env.ExecuteWorkflow(wf)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var reached int
	require.NoError(t, env.GetWorkflowResult(&reached))
	assert.Equal(t, 1, reached)
}

func TestCancelReturnsCanceledError(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	wf := controlledWorkflow(1)
	env.RegisterWorkflow(wf)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, CancelRequest{Reason: "wrong goal", RequestedBy: "ops"})
	}, 50*time.Millisecond)

	env.ExecuteWorkflow(wf)

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var canceled *temporal.CanceledError
	assert.True(t, errors.As(err, &canceled), "expected CanceledError, got %T", err)
}

func TestCancelWhilePausedWinsOverResume(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	wf := controlledWorkflow(1)
	env.RegisterWorkflow(wf)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPause, PauseRequest{Reason: "hold"})
	}, 50*time.Millisecond)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, CancelRequest{Reason: "abandon"})
	}, 300*time.Millisecond)

	env.ExecuteWorkflow(wf)

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var canceled *temporal.CanceledError
	assert.True(t, errors.As(err, &canceled))
	assert.Contains(t, err.Error(), "while paused")
}

func TestOnCancelFiresOnce(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	fired := 0
	wf := func(ctx workflow.Context) error {
		handler := &SignalHandler{
			Logger:   workflow.GetLogger(ctx),
			OnCancel: func() { fired++ },
		}
		handler.Setup(ctx)
		_ = workflow.Sleep(ctx, 500*time.Millisecond)
		return handler.CheckPausePoint(ctx, "end")
	}
	env.RegisterWorkflow(wf)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, CancelRequest{Reason: "a"})
	}, 50*time.Millisecond)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, CancelRequest{Reason: "b"})
	}, 100*time.Millisecond)

	env.ExecuteWorkflow(wf)

	require.True(t, env.IsWorkflowCompleted())
	assert.Equal(t, 1, fired, "duplicate cancel signals must not re-fire the hook")
}

func TestQueryExposesControlState(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	wf := controlledWorkflow(1)
	env.RegisterWorkflow(wf)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPause, PauseRequest{Reason: "hold", RequestedBy: "ops"})
	}, 50*time.Millisecond)
	env.RegisterDelayedCallback(func() {
		val, err := env.QueryWorkflow(QueryState)
		require.NoError(t, err)
		var state State
		require.NoError(t, val.Get(&state))
		assert.True(t, state.IsPaused)
		assert.Equal(t, "hold", state.PauseReason)
		assert.Equal(t, "ops", state.PausedBy)
	}, 200*time.Millisecond)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalResume, ResumeRequest{})
	}, 300*time.Millisecond)

	env.ExecuteWorkflow(wf)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}
