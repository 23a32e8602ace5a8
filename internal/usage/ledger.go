// Package usage records per-call LLM token consumption to Redis so the
// billing pipeline can aggregate spend per task and step.
package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Record is one LLM call's accounting entry.
type Record struct {
	TaskName     string    `json:"task_name"`
	StepID       string    `json:"step_id"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Totals aggregates a task's consumption for one day.
type Totals struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Calls        int64 `json:"calls"`
}

// Ledger accumulates usage records in Redis hashes keyed by task and day.
type Ledger struct {
	rdb    *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewLedger builds a ledger. Entries expire after 90 days.
func NewLedger(rdb *redis.Client, logger *zap.Logger) *Ledger {
	return &Ledger{rdb: rdb, logger: logger, ttl: 90 * 24 * time.Hour}
}

func dayKey(task string, at time.Time) string {
	return fmt.Sprintf("usage:%s:%s", task, at.UTC().Format("2006-01-02"))
}

// Add folds one record into the per-task daily totals and a per-step entry.
func (l *Ledger) Add(ctx context.Context, rec Record) error {
	if rec.TaskName == "" {
		rec.TaskName = "unknown"
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	key := dayKey(rec.TaskName, rec.RecordedAt)

	pipe := l.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "input_tokens", int64(rec.InputTokens))
	pipe.HIncrBy(ctx, key, "output_tokens", int64(rec.OutputTokens))
	pipe.HIncrBy(ctx, key, "calls", 1)
	if rec.StepID != "" {
		stepField := fmt.Sprintf("step:%s:%s", rec.StepID, rec.Model)
		pipe.HIncrBy(ctx, key, stepField, int64(rec.InputTokens+rec.OutputTokens))
	}
	pipe.Expire(ctx, key, l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record usage for %s: %w", rec.TaskName, err)
	}
	return nil
}

// TaskTotals reads back one task's totals for a given day.
func (l *Ledger) TaskTotals(ctx context.Context, task string, day time.Time) (Totals, error) {
	vals, err := l.rdb.HGetAll(ctx, dayKey(task, day)).Result()
	if err != nil {
		return Totals{}, fmt.Errorf("read usage for %s: %w", task, err)
	}
	var t Totals
	t.InputTokens, _ = strconv.ParseInt(vals["input_tokens"], 10, 64)
	t.OutputTokens, _ = strconv.ParseInt(vals["output_tokens"], 10, 64)
	t.Calls, _ = strconv.ParseInt(vals["calls"], 10, 64)
	return t, nil
}
