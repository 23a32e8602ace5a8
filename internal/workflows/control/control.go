// Package control handles pause/resume/cancel signals for research workflows.
package control

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Signal and query names for workflow control.
const (
	SignalPause  = "pause_v1"
	SignalResume = "resume_v1"
	SignalCancel = "cancel_v1"
	QueryState   = "control_state_v1"
)

// PauseRequest asks a running workflow to hold at its next pause point.
type PauseRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

// ResumeRequest releases a paused workflow.
type ResumeRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

// CancelRequest asks a workflow to stop gracefully.
type CancelRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

// State is the pause/cancel state exposed through the query handler.
type State struct {
	IsPaused     bool      `json:"is_paused"`
	IsCancelled  bool      `json:"is_cancelled"`
	PausedAt     time.Time `json:"paused_at,omitempty"`
	PauseReason  string    `json:"pause_reason,omitempty"`
	PausedBy     string    `json:"paused_by,omitempty"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	CancelledBy  string    `json:"cancelled_by,omitempty"`
}

// SignalHandler wires the control signals into one workflow. The state is a
// plain struct because Temporal workflows are cooperatively scheduled.
type SignalHandler struct {
	State  *State
	Logger log.Logger

	// OnCancel, when set, fires once when a cancel signal arrives. The
	// research workflow uses it to cancel the in-flight activity context so
	// the coordinator loop stops instead of running to exhaustion.
	OnCancel func()
}

// Setup registers the query handler and starts the signal loop.
func (h *SignalHandler) Setup(ctx workflow.Context) {
	h.State = &State{}

	_ = workflow.SetQueryHandler(ctx, QueryState, func() (State, error) {
		return *h.State, nil
	})

	pauseCh := workflow.GetSignalChannel(ctx, SignalPause)
	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)

	workflow.Go(ctx, func(gCtx workflow.Context) {
		for {
			sel := workflow.NewSelector(gCtx)

			sel.AddReceive(pauseCh, func(c workflow.ReceiveChannel, more bool) {
				var req PauseRequest
				c.Receive(gCtx, &req)
				h.handlePause(gCtx, req)
			})

			sel.AddReceive(resumeCh, func(c workflow.ReceiveChannel, more bool) {
				var req ResumeRequest
				c.Receive(gCtx, &req)
				h.handleResume(req)
			})

			sel.AddReceive(cancelCh, func(c workflow.ReceiveChannel, more bool) {
				var req CancelRequest
				c.Receive(gCtx, &req)
				h.handleCancel(req)
			})

			sel.Select(gCtx)
		}
	})
}

func (h *SignalHandler) handlePause(ctx workflow.Context, req PauseRequest) {
	if h.State.IsPaused {
		h.Logger.Debug("Already paused, ignoring")
		return
	}
	h.State.IsPaused = true
	h.State.PausedAt = workflow.Now(ctx)
	h.State.PauseReason = req.Reason
	h.State.PausedBy = req.RequestedBy
	h.Logger.Info("Workflow paused", "reason", req.Reason, "requested_by", req.RequestedBy)
}

func (h *SignalHandler) handleResume(req ResumeRequest) {
	if !h.State.IsPaused {
		h.Logger.Debug("Not paused, ignoring resume")
		return
	}
	h.State.IsPaused = false
	h.State.PausedAt = time.Time{}
	h.State.PauseReason = ""
	h.State.PausedBy = ""
	h.Logger.Info("Workflow resumed", "requested_by", req.RequestedBy)
}

func (h *SignalHandler) handleCancel(req CancelRequest) {
	if h.State.IsCancelled {
		return
	}
	h.State.IsCancelled = true
	h.State.CancelReason = req.Reason
	h.State.CancelledBy = req.RequestedBy
	h.Logger.Info("Workflow cancel requested", "reason", req.Reason, "requested_by", req.RequestedBy)
	if h.OnCancel != nil {
		h.OnCancel()
	}
}

// CheckPausePoint blocks while paused and returns a CanceledError once
// cancelled, so the workflow status ends up CANCELLED rather than FAILED.
func (h *SignalHandler) CheckPausePoint(ctx workflow.Context, point string) error {
	if h.State == nil {
		return nil
	}

	// Yield so signals already delivered get processed before the check.
	_ = workflow.Sleep(ctx, 0)

	if h.State.IsCancelled {
		return temporal.NewCanceledError(fmt.Sprintf("workflow cancelled at %s: %s", point, h.State.CancelReason))
	}

	if h.State.IsPaused {
		h.Logger.Info("Workflow holding at pause point", "point", point)
		_ = workflow.Await(ctx, func() bool {
			return !h.State.IsPaused || h.State.IsCancelled
		})
		if h.State.IsCancelled {
			return temporal.NewCanceledError(fmt.Sprintf("workflow cancelled while paused at %s: %s", point, h.State.CancelReason))
		}
	}
	return nil
}

// IsCancelled reports whether a cancel signal has been processed.
func (h *SignalHandler) IsCancelled() bool {
	return h.State != nil && h.State.IsCancelled
}

// IsPaused reports whether the workflow is currently paused.
func (h *SignalHandler) IsPaused() bool {
	return h.State != nil && h.State.IsPaused
}
