package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/graphweave/researcher/internal/research"
	"github.com/graphweave/researcher/internal/tools"
)

// subTaskIterationShare keeps a delegated agent from eating the parent's
// whole iteration budget.
const subTaskIterationShare = 2

// runSubTasks fans delegated claim-gathering agents out in parallel and
// merges everything they found back into one delta, which the parent's fold
// then routes through the usual dedup path.
func (c *Coordinator) runSubTasks(ctx context.Context, parent Task, state *research.State, call tools.StartSubTasksCall) (Outcome, error) {
	if reason := checkSubTasks(parent, state, call.SubTasks); reason != "" {
		return errorOutcome("%s", reason), nil
	}

	child := New(Config{
		Provider:      c.provider,
		Executor:      c.executor,
		IDs:           c.ids,
		Logger:        c.logger,
		MaxIterations: c.maxIterations / subTaskIterationShare,
		WindowSize:    c.windowSize,
		MaxTokens:     c.maxTokens,
	})

	results := make([]*Result, len(call.SubTasks))
	errs := make([]error, len(call.SubTasks))
	var wg sync.WaitGroup
	for i, spec := range call.SubTasks {
		wg.Add(1)
		go func(i int, spec tools.SubTaskSpec) {
			defer wg.Done()
			entityIDs, linkIDs := partitionTypes(spec.EntityTypeIDs, parent.LinkTypeIDs)
			task := Task{
				TaskName:       parent.TaskName,
				RunID:          fmt.Sprintf("%s/sub-task-%d", parent.RunID, i),
				Goal:           subTaskGoal(state, spec),
				EntityTypeIDs:  entityIDs,
				LinkTypeIDs:    linkIDs,
				InternetAccess: parent.InternetAccess,
				SubTask:        true,
			}
			res, err := child.Run(ctx, task, nil)
			if errors.Is(err, ErrIterationBudget) {
				// Exhausted sub-tasks still contribute what they gathered.
				err = nil
			}
			results[i], errs[i] = res, err
		}(i, spec)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return Outcome{}, fmt.Errorf("sub-task %d (%q): %w", i, call.SubTasks[i].Goal, err)
		}
	}

	var outcome Outcome
	var lines []string
	for i, res := range results {
		if res == nil || res.State == nil {
			continue
		}
		outcome.Delta.Summaries = append(outcome.Delta.Summaries, res.State.EntitySummaries...)
		outcome.Delta.Claims = append(outcome.Delta.Claims, res.State.InferredClaims...)
		outcome.Delta.Proposed = append(outcome.Delta.Proposed, res.State.ProposedEntities...)
		outcome.Delta.Queries = append(outcome.Delta.Queries, res.State.WebQueriesMade...)
		outcome.Delta.VisitedURLs = append(outcome.Delta.VisitedURLs, res.State.ResourceURLsVisited...)

		line := fmt.Sprintf("Sub-task %d (%s): %d entities, %d claims, %d proposals",
			i, res.Status, len(res.State.EntitySummaries), len(res.State.InferredClaims), len(res.State.ProposedEntities))
		if res.Status == StatusTerminated {
			line += fmt.Sprintf(" (terminated: %s)", res.Reason)
		}
		lines = append(lines, line)
		c.logger.Info("sub-task finished",
			zap.String("run_id", parent.RunID),
			zap.Int("sub_task", i),
			zap.String("status", string(res.Status)))
		if c.subTaskLog != nil {
			if err := c.subTaskLog.RecordSubTask(ctx, parent.RunID, line); err != nil {
				c.logger.Warn("sub-task progress write failed",
					zap.String("run_id", parent.RunID), zap.Error(err))
			}
		}
	}
	outcome.Output = strings.Join(lines, "\n")
	return outcome, nil
}

// checkSubTasks validates delegated goals. Overlapping entity types between
// sub-tasks are fine; types outside the parent's scope and references to
// unknown entities are not.
func checkSubTasks(parent Task, state *research.State, specs []tools.SubTaskSpec) string {
	inScope := make(map[string]bool)
	for _, id := range parent.AllTypeIDs() {
		inScope[id] = true
	}
	var problems []string
	for i, spec := range specs {
		if strings.TrimSpace(spec.Goal) == "" {
			problems = append(problems, fmt.Sprintf("sub-task %d has an empty goal", i))
		}
		if len(spec.EntityTypeIDs) == 0 {
			problems = append(problems, fmt.Sprintf("sub-task %d names no entity types", i))
		}
		for _, id := range spec.EntityTypeIDs {
			if !inScope[id] {
				problems = append(problems, fmt.Sprintf(
					"sub-task %d names entity type %s which is not in scope; valid types: %s",
					i, id, strings.Join(parent.AllTypeIDs(), ", ")))
			}
		}
		for _, id := range spec.RelevantEntityIDs {
			if _, ok := state.SummaryByLocalID(id); !ok {
				problems = append(problems, fmt.Sprintf(
					"sub-task %d references unknown entity %s", i, id))
			}
		}
	}
	return strings.Join(problems, "\n")
}

// subTaskGoal folds the parent's context about relevant entities into the
// delegated goal so the sub-task agent does not rediscover them.
func subTaskGoal(state *research.State, spec tools.SubTaskSpec) string {
	var b strings.Builder
	b.WriteString(spec.Goal)
	wrote := false
	for _, id := range spec.RelevantEntityIDs {
		es, ok := state.SummaryByLocalID(id)
		if !ok {
			continue
		}
		if !wrote {
			b.WriteString("\n\nAlready known entities relevant to this task:\n")
			wrote = true
		}
		fmt.Fprintf(&b, "- %s: %s\n", es.Name, es.Summary)
	}
	return b.String()
}

// partitionTypes splits a sub-task's requested type ids into entity types and
// link types, using the parent's link-type set as the discriminator.
func partitionTypes(requested, parentLinkTypes []string) (entityIDs, linkIDs []string) {
	isLink := make(map[string]bool, len(parentLinkTypes))
	for _, id := range parentLinkTypes {
		isLink[id] = true
	}
	for _, id := range requested {
		if isLink[id] {
			linkIDs = append(linkIDs, id)
		} else {
			entityIDs = append(entityIDs, id)
		}
	}
	return entityIDs, linkIDs
}
