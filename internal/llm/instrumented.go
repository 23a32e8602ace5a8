package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/graphweave/researcher/internal/metrics"
	"github.com/graphweave/researcher/internal/usage"
)

// UsageRecorder receives one accounting entry per successful chat call.
// *usage.Ledger satisfies it; tests substitute fakes.
type UsageRecorder interface {
	Add(ctx context.Context, rec usage.Record) error
}

// Instrumented decorates a Provider with request pacing, usage-ledger
// recording and Prometheus metrics. Recording failures are logged, never
// surfaced: losing a ledger entry must not fail a research step.
type Instrumented struct {
	inner    Provider
	limiter  *rate.Limiter
	recorder UsageRecorder
	logger   *zap.Logger
}

// NewInstrumented wraps a provider. limiter and recorder may be nil.
func NewInstrumented(inner Provider, limiter *rate.Limiter, recorder UsageRecorder, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{inner: inner, limiter: limiter, recorder: recorder, logger: logger}
}

// Chat implements Provider.
func (p *Instrumented) Chat(ctx context.Context, req Request) (*Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	task := req.Metadata.TaskName
	if task == "" {
		task = "unknown"
	}

	start := time.Now()
	resp, err := p.inner.Chat(ctx, req)
	metrics.LLMCallDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMCalls.WithLabelValues(task, "error").Inc()
		return nil, err
	}
	metrics.LLMCalls.WithLabelValues(task, "ok").Inc()
	metrics.LLMTokens.WithLabelValues(task, "input").Add(float64(resp.Usage.InputTokens))
	metrics.LLMTokens.WithLabelValues(task, "output").Add(float64(resp.Usage.OutputTokens))

	if p.recorder != nil {
		rec := usage.Record{
			TaskName:     req.Metadata.TaskName,
			StepID:       req.Metadata.StepID,
			Model:        resp.Model,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			RecordedAt:   time.Now(),
		}
		if err := p.recorder.Add(ctx, rec); err != nil {
			p.logger.Warn("Usage ledger write failed",
				zap.String("task", task),
				zap.String("step", req.Metadata.StepID),
				zap.Error(err),
			)
		}
	}
	return resp, nil
}
