package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/graphweave/researcher/internal/activities"
	"github.com/graphweave/researcher/internal/checkpoint"
	"github.com/graphweave/researcher/internal/workflows/control"
)

const (
	// researchRunTimeout bounds one coordinator activity attempt. Runs are
	// long by design; the iteration budget, not this timeout, is the normal
	// stopping mechanism.
	researchRunTimeout = 4 * time.Hour
	// researchHeartbeatTimeout is how long the server waits between activity
	// heartbeats before considering the worker dead and retrying.
	researchHeartbeatTimeout = 2 * time.Minute
)

// checkpointHeader is the slice of a checkpoint envelope the workflow keeps in
// memory. The state snapshot stays in event history only.
type checkpointHeader struct {
	CheckpointID string `json:"checkpoint_id"`
	StepID       string `json:"step_id"`
}

// ResearchEntitiesWorkflow runs one research task. The coordinator loop lives
// in a single long activity; this workflow exists to give that loop a durable
// identity: checkpoint signals land in its history, control signals pause or
// cancel it, and a retry of the activity resumes from the newest recoverable
// state.
func ResearchEntitiesWorkflow(ctx workflow.Context, input ResearchTaskInput) (*ResearchTaskResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Research task starting",
		"task_name", input.Task.TaskName,
		"goal", input.Task.Goal)

	view := &CheckpointView{}
	if err := workflow.SetQueryHandler(ctx, QueryCheckpoints, func() (CheckpointView, error) {
		return *view, nil
	}); err != nil {
		return nil, err
	}
	drainCheckpointSignals(ctx, view)

	activityCtx, cancelActivity := workflow.WithCancel(ctx)
	handler := &control.SignalHandler{
		Logger:   logger,
		OnCancel: cancelActivity,
	}
	handler.Setup(ctx)

	if err := handler.CheckPausePoint(ctx, "start"); err != nil {
		return nil, err
	}

	activityCtx = workflow.WithActivityOptions(activityCtx, workflow.ActivityOptions{
		StartToCloseTimeout: researchRunTimeout,
		HeartbeatTimeout:    researchHeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    5,
		},
	})

	var res activities.ResearchResult
	err := workflow.ExecuteActivity(activityCtx, activities.RunCoordinatingAgent, activities.ResearchInput{
		Task:          input.Task,
		MaxIterations: input.MaxIterations,
	}).Get(ctx, &res)
	if err != nil {
		if handler.IsCancelled() {
			logger.Info("Research task cancelled", "task_name", input.Task.TaskName)
			return nil, temporal.NewCanceledError("research task cancelled")
		}
		logger.Error("Research task failed", "task_name", input.Task.TaskName, "error", err)
		return nil, err
	}

	logger.Info("Research task finished",
		"task_name", input.Task.TaskName,
		"status", res.Status,
		"iterations", res.Iterations,
		"submitted", len(res.SubmittedEntities))

	return &ResearchTaskResult{
		Status:            res.Status,
		Reason:            res.Reason,
		SubmittedEntities: res.SubmittedEntities,
		EntitySummaries:   res.EntitySummaries,
		Claims:            res.Claims,
		Iterations:        res.Iterations,
		LastCheckpointID:  view.LatestCheckpointID,
	}, nil
}

// drainCheckpointSignals receives checkpoint and reset signals so they are
// recorded in history and the signal buffers stay empty across a run with
// hundreds of checkpoints.
func drainCheckpointSignals(ctx workflow.Context, view *CheckpointView) {
	cpCh := workflow.GetSignalChannel(ctx, checkpoint.SignalCheckpoint)
	resetCh := workflow.GetSignalChannel(ctx, checkpoint.SignalCheckpointReset)

	workflow.Go(ctx, func(gCtx workflow.Context) {
		for {
			sel := workflow.NewSelector(gCtx)

			sel.AddReceive(cpCh, func(c workflow.ReceiveChannel, more bool) {
				var hdr checkpointHeader
				c.Receive(gCtx, &hdr)
				view.Count++
				view.LatestCheckpointID = hdr.CheckpointID
				view.LatestStepID = hdr.StepID
			})

			sel.AddReceive(resetCh, func(c workflow.ReceiveChannel, more bool) {
				var req checkpoint.ResetRequest
				c.Receive(gCtx, &req)
				view.ResetTargetID = req.CheckpointID
			})

			sel.Select(gCtx)
		}
	})
}
