package coordinator

import (
	"context"
	"fmt"

	"github.com/graphweave/researcher/internal/research"
	"github.com/graphweave/researcher/internal/tools"
)

// Delta is the state change one tool execution produced. The loop folds
// deltas sequentially after the whole batch finished; handlers never touch
// shared state themselves.
type Delta struct {
	Summaries   []research.EntitySummary
	Claims      []research.Claim
	Proposed    []research.ProposedEntity
	QueuedURLs  []string
	VisitedURLs []string
	Queries     []string
}

// Outcome is one tool execution's result. IsError marks soft failures that
// are rendered back to the model as tool results so it can adapt; they never
// abort the run.
type Outcome struct {
	Output  string
	IsError bool
	Delta   Delta
}

func errorOutcome(format string, args ...interface{}) Outcome {
	return Outcome{Output: fmt.Sprintf(format, args...), IsError: true}
}

// ToolExecutor performs the side-effecting tools. Implementations return
// Outcomes only: an infrastructure failure becomes an error Outcome, because
// the model is the retry mechanism for everything below the adapter.
type ToolExecutor interface {
	Search(ctx context.Context, runID string, call tools.WebSearchCall) Outcome
	SummarizePage(ctx context.Context, runID string, call tools.WebPageSummaryCall) Outcome
	InferClaims(ctx context.Context, runID string, call tools.InferClaimsCall, allowedTypeIDs []string) Outcome
	PersistEntities(ctx context.Context, runID string, call tools.ProposeEntitiesCall) Outcome
	RunPython(ctx context.Context, runID string, call tools.RunPythonCall, state *research.State) Outcome
	RequestHumanInput(ctx context.Context, runID string, call tools.RequestHumanInputCall) Outcome
}
