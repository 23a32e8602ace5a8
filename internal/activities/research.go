package activities

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/graphweave/researcher/internal/checkpoint"
	"github.com/graphweave/researcher/internal/coordinator"
	"github.com/graphweave/researcher/internal/progress"
	"github.com/graphweave/researcher/internal/research"
)

// heartbeatSlack is how far ahead of the heartbeat timeout the state-carrying
// heartbeat fires.
const heartbeatSlack = 2 * time.Second

// ResearchInput starts one coordinating-agent run.
type ResearchInput struct {
	Task          coordinator.Task `json:"task"`
	MaxIterations int              `json:"max_iterations,omitempty"`
}

// ResearchResult is the run's terminal outcome, shaped for workflow return
// values; the full state stays in checkpoints.
type ResearchResult struct {
	Status            string                     `json:"status"`
	Reason            string                     `json:"reason,omitempty"`
	SubmittedEntities []research.ProposedEntity  `json:"submitted_entities"`
	EntitySummaries   []research.EntitySummary   `json:"entity_summaries"`
	Claims            []research.Claim           `json:"claims"`
	Iterations        int                        `json:"iterations"`
}

// RunCoordinatingAgent hosts one whole coordinator run inside a single
// long-running activity. Progress is observable through checkpoint signals
// and state-carrying heartbeats; on retry the run resumes from the newest
// recoverable state instead of starting over.
func RunCoordinatingAgent(ctx context.Context, input ResearchInput) (*ResearchResult, error) {
	deps, ok := getDeps()
	if !ok {
		return nil, fmt.Errorf("activity dependencies not initialized")
	}
	info := activity.GetInfo(ctx)
	wfID := info.WorkflowExecution.ID
	wfRunID := info.WorkflowExecution.RunID
	logger := deps.Logger.With(
		zap.String("workflow_id", wfID),
		zap.String("task_name", input.Task.TaskName))

	task := input.Task
	if task.RunID == "" {
		task.RunID = wfID
	}
	// Worker config gates the capabilities a task may request and supplies
	// the iteration budget when the input leaves it unset.
	task.HumanInLoop = task.HumanInLoop && deps.Research.HumanInLoop
	task.InternetAccess = task.InternetAccess && deps.Research.InternetAccess
	maxIterations := input.MaxIterations
	if maxIterations == 0 {
		maxIterations = deps.Research.MaxIterations
	}

	var resume *research.State
	if deps.Checkpoints != nil {
		env, err := deps.Checkpoints.Latest(ctx, wfID, wfRunID)
		switch {
		case err != nil:
			logger.Warn("checkpoint recovery failed, starting fresh", zap.Error(err))
		case env != nil:
			resume = env.Data
			logger.Info("resuming from checkpoint",
				zap.String("checkpoint_id", env.CheckpointID),
				zap.String("step_id", env.StepID))
		}
	}

	var current atomic.Pointer[research.State]
	if resume != nil {
		current.Store(resume)
	}
	stopHeartbeat := startHeartbeat(ctx, info.HeartbeatTimeout, &current)
	defer stopHeartbeat()

	coordCfg := coordinator.Config{
		Provider: deps.Provider,
		Executor: newExecutor(deps),
		Checkpointer: &signalCheckpointer{
			deps:       deps,
			workflowID: wfID,
			wfRunID:    wfRunID,
			taskRunID:  task.RunID,
			current:    &current,
		},
		Logger:        logger,
		MaxIterations: maxIterations,
	}
	if deps.Progress != nil {
		coordCfg.SubTasks = deps.Progress
	}
	coord := coordinator.New(coordCfg)

	result, err := coord.Run(ctx, task, resume)
	if err != nil && !errors.Is(err, coordinator.ErrIterationBudget) {
		return nil, err
	}

	return &ResearchResult{
		Status:            string(result.Status),
		Reason:            result.Reason,
		SubmittedEntities: result.SubmittedEntities,
		EntitySummaries:   result.State.EntitySummaries,
		Claims:            result.State.InferredClaims,
		Iterations:        len(result.State.PreviousCalls),
	}, nil
}

// startHeartbeat ticks just inside the heartbeat timeout, attaching the
// newest folded state so a retry that finds no checkpoint signal still has
// something to resume from.
func startHeartbeat(ctx context.Context, timeout time.Duration, current *atomic.Pointer[research.State]) func() {
	interval := 30 * time.Second
	if timeout > 2*heartbeatSlack {
		interval = timeout - heartbeatSlack
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if state := current.Load(); state != nil {
					activity.RecordHeartbeat(ctx, checkpoint.Envelope{
						StepID:     "heartbeat",
						RecordedAt: time.Now().UTC(),
						Data:       state,
					})
				} else {
					activity.RecordHeartbeat(ctx)
				}
			}
		}
	}()
	return func() { close(done) }
}

// signalCheckpointer bridges the coordinator's per-fold checkpoints to the
// workflow's signal channel and keeps the heartbeat state pointer fresh.
type signalCheckpointer struct {
	deps       Deps
	workflowID string
	wfRunID    string
	taskRunID  string
	current    *atomic.Pointer[research.State]
}

func (s *signalCheckpointer) Checkpoint(ctx context.Context, stepID string, state *research.State) error {
	s.current.Store(state)
	if s.deps.Checkpoints == nil {
		return nil
	}
	checkpointID, err := s.deps.Checkpoints.Record(ctx, s.workflowID, s.wfRunID, stepID, state)
	if err != nil {
		return err
	}
	if s.deps.Progress != nil {
		if perr := s.deps.Progress.Record(ctx, s.taskRunID, progress.KindCheckpoint, checkpointID); perr != nil {
			s.deps.Logger.Warn("progress write failed", zap.String("run_id", s.taskRunID), zap.Error(perr))
		}
	}
	return nil
}
