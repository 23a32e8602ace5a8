// Package workflows defines the Temporal workflow surface: one workflow per
// research task, hosting a single long-running coordinator activity and
// absorbing its checkpoint signals into event history.
package workflows

import (
	"github.com/graphweave/researcher/internal/coordinator"
	"github.com/graphweave/researcher/internal/research"
)

// TaskQueue is the queue workers and starters share.
const TaskQueue = "graphweave-research"

// QueryCheckpoints returns the CheckpointView for a running or finished task.
const QueryCheckpoints = "checkpoints_v1"

// ResearchTaskInput starts one research task.
type ResearchTaskInput struct {
	Task          coordinator.Task `json:"task"`
	MaxIterations int              `json:"max_iterations,omitempty"`
}

// ResearchTaskResult is the workflow's terminal outcome.
type ResearchTaskResult struct {
	Status            string                    `json:"status"`
	Reason            string                    `json:"reason,omitempty"`
	SubmittedEntities []research.ProposedEntity `json:"submitted_entities"`
	EntitySummaries   []research.EntitySummary  `json:"entity_summaries"`
	Claims            []research.Claim          `json:"claims"`
	Iterations        int                       `json:"iterations"`
	LastCheckpointID  string                    `json:"last_checkpoint_id,omitempty"`
}

// CheckpointView summarizes the checkpoint signals absorbed so far. The
// snapshots themselves stay in event history; callers that need one go
// through the checkpoint bridge.
type CheckpointView struct {
	Count              int    `json:"count"`
	LatestCheckpointID string `json:"latest_checkpoint_id,omitempty"`
	LatestStepID       string `json:"latest_step_id,omitempty"`
	ResetTargetID      string `json:"reset_target_id,omitempty"`
}
