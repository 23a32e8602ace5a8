package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/graphweave/researcher/internal/usage"
)

type captureRecorder struct {
	mu      sync.Mutex
	records []usage.Record
	err     error
}

func (c *captureRecorder) Add(_ context.Context, rec usage.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return c.err
}

func TestInstrumentedRecordsUsage(t *testing.T) {
	mock := NewMockProvider()
	mock.EnqueueResponse(&Response{
		Model: "gpt-4o",
		Usage: Usage{InputTokens: 321, OutputTokens: 45},
	})
	rec := &captureRecorder{}
	p := NewInstrumented(mock, nil, rec, zaptest.NewLogger(t))

	resp, err := p.Chat(context.Background(), Request{
		Metadata: Metadata{TaskName: "research-acme", StepID: "step-3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 321, resp.Usage.InputTokens)

	require.Len(t, rec.records, 1)
	assert.Equal(t, "research-acme", rec.records[0].TaskName)
	assert.Equal(t, "step-3", rec.records[0].StepID)
	assert.Equal(t, "gpt-4o", rec.records[0].Model)
	assert.Equal(t, 321, rec.records[0].InputTokens)
	assert.Equal(t, 45, rec.records[0].OutputTokens)
}

func TestInstrumentedPropagatesProviderError(t *testing.T) {
	mock := NewMockProvider()
	mock.EnqueueError(errors.New("upstream down"))
	rec := &captureRecorder{}
	p := NewInstrumented(mock, nil, rec, zaptest.NewLogger(t))

	_, err := p.Chat(context.Background(), Request{})
	require.Error(t, err)
	assert.Empty(t, rec.records, "failed calls are not recorded")
}

func TestInstrumentedToleratesRecorderFailure(t *testing.T) {
	mock := NewMockProvider()
	mock.EnqueueText("fine")
	rec := &captureRecorder{err: errors.New("redis gone")}
	p := NewInstrumented(mock, nil, rec, zaptest.NewLogger(t))

	resp, err := p.Chat(context.Background(), Request{})
	require.NoError(t, err, "ledger failure must not fail the call")
	assert.Equal(t, "fine", resp.Content)
}
