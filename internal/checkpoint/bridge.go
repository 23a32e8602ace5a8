// Package checkpoint records coordinator state into the owning workflow's
// event history via signals and recovers it on resume. Signals are durable
// and survive workflow resets; activity heartbeat details act as a cheaper
// fallback when no checkpoint signal landed yet.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap"

	"github.com/graphweave/researcher/internal/metrics"
	"github.com/graphweave/researcher/internal/research"
)

const (
	// SignalCheckpoint carries a full state snapshot into workflow history.
	SignalCheckpoint = "researchCheckpoint"
	// SignalCheckpointReset asks the next resume to rewind to a named checkpoint.
	SignalCheckpointReset = "researchCheckpointReset"
)

// Envelope is the signal payload wrapping one state snapshot.
type Envelope struct {
	CheckpointID string          `json:"checkpoint_id"`
	StepID       string          `json:"step_id"`
	RecordedAt   time.Time       `json:"recorded_at"`
	Data         *research.State `json:"data"`
}

// ResetRequest names the checkpoint to rewind to.
type ResetRequest struct {
	CheckpointID string `json:"checkpoint_id"`
}

// WorkflowClient is the slice of client.Client the bridge needs; tests
// substitute fakes.
type WorkflowClient interface {
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
	GetWorkflowHistory(ctx context.Context, workflowID, runID string, isLongPoll bool, filterType enumspb.HistoryEventFilterType) client.HistoryEventIterator
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
}

// Bridge records and recovers checkpoints for one worker process.
type Bridge struct {
	client WorkflowClient
	conv   converter.DataConverter
	ids    research.IDSource
	logger *zap.Logger
}

// NewBridge builds a bridge using the default data converter.
func NewBridge(c WorkflowClient, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		client: c,
		conv:   converter.GetDefaultDataConverter(),
		ids:    research.NewIDSource(),
		logger: logger,
	}
}

// WithIDSource overrides checkpoint id generation (tests).
func (b *Bridge) WithIDSource(ids research.IDSource) *Bridge {
	b.ids = ids
	return b
}

// Record signals a state snapshot to the owning workflow so it lands in event
// history. Returns the checkpoint id.
func (b *Bridge) Record(ctx context.Context, workflowID, runID, stepID string, state *research.State) (string, error) {
	env := Envelope{
		CheckpointID: b.ids(),
		StepID:       stepID,
		RecordedAt:   time.Now().UTC(),
		Data:         state,
	}
	if err := b.client.SignalWorkflow(ctx, workflowID, runID, SignalCheckpoint, env); err != nil {
		return "", fmt.Errorf("signal checkpoint %s: %w", env.CheckpointID, err)
	}
	metrics.CheckpointsRecorded.Inc()
	b.logger.Debug("checkpoint recorded",
		zap.String("workflow_id", workflowID),
		zap.String("checkpoint_id", env.CheckpointID),
		zap.String("step_id", stepID))
	return env.CheckpointID, nil
}

// RequestReset signals that the next resume should rewind to checkpointID.
func (b *Bridge) RequestReset(ctx context.Context, workflowID, runID, checkpointID string) error {
	if err := b.client.SignalWorkflow(ctx, workflowID, runID, SignalCheckpointReset,
		ResetRequest{CheckpointID: checkpointID}); err != nil {
		return fmt.Errorf("signal checkpoint reset to %s: %w", checkpointID, err)
	}
	return nil
}

// Latest recovers the state the coordinator should resume from. Order of
// preference: the checkpoint a reset signal names, the most recent checkpoint
// signal, the pending activity's heartbeat details. A nil envelope with nil
// error means fresh start.
func (b *Bridge) Latest(ctx context.Context, workflowID, runID string) (*Envelope, error) {
	checkpoints, resetTarget, err := b.scanHistory(ctx, workflowID, runID)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}

	if resetTarget != "" {
		for i := len(checkpoints) - 1; i >= 0; i-- {
			if checkpoints[i].CheckpointID == resetTarget {
				metrics.CheckpointsRestored.WithLabelValues("reset").Inc()
				return &checkpoints[i], nil
			}
		}
		b.logger.Warn("reset target checkpoint not found in history, using latest",
			zap.String("workflow_id", workflowID),
			zap.String("checkpoint_id", resetTarget))
	}

	if len(checkpoints) > 0 {
		metrics.CheckpointsRestored.WithLabelValues("checkpoint").Inc()
		return &checkpoints[len(checkpoints)-1], nil
	}

	return b.latestHeartbeat(ctx, workflowID, runID)
}

func (b *Bridge) scanHistory(ctx context.Context, workflowID, runID string) ([]Envelope, string, error) {
	iter := b.client.GetWorkflowHistory(ctx, workflowID, runID, false, enumspb.HISTORY_EVENT_FILTER_TYPE_ALL_EVENT)
	if iter == nil {
		return nil, "", fmt.Errorf("history iterator is nil")
	}

	var checkpoints []Envelope
	var resetTarget string
	for iter.HasNext() {
		event, err := iter.Next()
		if err != nil {
			return nil, "", fmt.Errorf("read history for %s: %w", workflowID, err)
		}
		attrs := event.GetWorkflowExecutionSignaledEventAttributes()
		if attrs == nil {
			continue
		}
		switch attrs.GetSignalName() {
		case SignalCheckpoint:
			var env Envelope
			if err := b.conv.FromPayloads(attrs.GetInput(), &env); err != nil {
				b.logger.Warn("undecodable checkpoint signal skipped",
					zap.String("workflow_id", workflowID), zap.Error(err))
				continue
			}
			checkpoints = append(checkpoints, env)
		case SignalCheckpointReset:
			var req ResetRequest
			if err := b.conv.FromPayloads(attrs.GetInput(), &req); err != nil {
				b.logger.Warn("undecodable reset signal skipped",
					zap.String("workflow_id", workflowID), zap.Error(err))
				continue
			}
			// A later reset supersedes an earlier one.
			resetTarget = req.CheckpointID
		}
	}
	return checkpoints, resetTarget, nil
}

func (b *Bridge) latestHeartbeat(ctx context.Context, workflowID, runID string) (*Envelope, error) {
	desc, err := b.client.DescribeWorkflowExecution(ctx, workflowID, runID)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe workflow %s: %w", workflowID, err)
	}
	for _, pending := range desc.GetPendingActivities() {
		details := pending.GetHeartbeatDetails()
		if details == nil {
			continue
		}
		var env Envelope
		if err := b.conv.FromPayloads(details, &env); err != nil {
			b.logger.Warn("undecodable heartbeat details skipped",
				zap.String("workflow_id", workflowID), zap.Error(err))
			continue
		}
		if env.Data != nil {
			metrics.CheckpointsRestored.WithLabelValues("heartbeat").Inc()
			return &env, nil
		}
	}
	return nil, nil
}
