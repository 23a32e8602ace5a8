// Package coordinator is the research control loop: it asks the model for
// the next batch of tool calls, executes them, folds the results into an
// explicit state value, deduplicates discovered entities, and decides whether
// to keep going, delegate, complete, or terminate.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/graphweave/researcher/internal/llm"
	"github.com/graphweave/researcher/internal/metrics"
	"github.com/graphweave/researcher/internal/research"
	"github.com/graphweave/researcher/internal/tools"
)

// Task describes one coordinator run.
type Task struct {
	TaskName       string   `json:"task_name"`
	RunID          string   `json:"run_id"`
	Goal           string   `json:"goal"`
	EntityTypeIDs  []string `json:"entity_type_ids"`
	LinkTypeIDs    []string `json:"link_entity_type_ids"`
	HumanInLoop    bool     `json:"human_in_loop"`
	InternetAccess bool     `json:"internet_access"`
	// SubTask narrows the palette: no delegation, no submission, no human
	// input, and completion is accepted without the check step.
	SubTask bool `json:"sub_task"`
}

// AllTypeIDs returns the entity and link type ids in scope, in declared order.
func (t Task) AllTypeIDs() []string {
	out := make([]string, 0, len(t.EntityTypeIDs)+len(t.LinkTypeIDs))
	out = append(out, t.EntityTypeIDs...)
	out = append(out, t.LinkTypeIDs...)
	return out
}

// Status is a run's terminal outcome.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusTerminated Status = "terminated"
	// StatusExhausted means the iteration budget ran out; State still holds
	// everything gathered so far.
	StatusExhausted Status = "exhausted"
)

// Result is what a finished run hands back.
type Result struct {
	Status            Status                    `json:"status"`
	Reason            string                    `json:"reason,omitempty"`
	State             *research.State           `json:"state"`
	SubmittedEntities []research.ProposedEntity `json:"submitted_entities"`
}

// ErrIterationBudget marks a run that hit its iteration cap. The returned
// Result still carries the last folded state as the known-good fallback.
var ErrIterationBudget = errors.New("coordinator iteration budget exhausted")

const (
	defaultMaxIterations = 60
	defaultWindowSize    = 20
	planAttempts         = 3
	// planRounds bounds the whole planning phase, human-input exchanges
	// included, so a model that keeps asking questions cannot stall planning
	// forever.
	planRounds = 8
)

// Checkpointer persists state after each fold. A failure to checkpoint is
// logged, not fatal: losing a checkpoint is cheaper than losing the run.
type Checkpointer interface {
	Checkpoint(ctx context.Context, stepID string, state *research.State) error
}

// SubTaskLogger records finished delegated sub-tasks for operators watching
// the run. Failures are logged, never fatal.
type SubTaskLogger interface {
	RecordSubTask(ctx context.Context, runID, detail string) error
}

// Config wires a coordinator.
type Config struct {
	Provider      llm.Provider
	Executor      ToolExecutor
	Checkpointer  Checkpointer  // optional
	SubTasks      SubTaskLogger // optional
	IDs           research.IDSource
	Logger        *zap.Logger
	MaxIterations int
	WindowSize    int
	MaxTokens     int
}

// Coordinator runs research tasks. One instance is safe for concurrent runs
// because all per-run state lives in the State value.
type Coordinator struct {
	provider      llm.Provider
	executor      ToolExecutor
	checkpointer  Checkpointer
	subTaskLog    SubTaskLogger
	ids           research.IDSource
	logger        *zap.Logger
	maxIterations int
	windowSize    int
	maxTokens     int
}

// New builds a coordinator, filling defaults for anything unset.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		provider:      cfg.Provider,
		executor:      cfg.Executor,
		checkpointer:  cfg.Checkpointer,
		subTaskLog:    cfg.SubTasks,
		ids:           cfg.IDs,
		logger:        cfg.Logger,
		maxIterations: cfg.MaxIterations,
		windowSize:    cfg.WindowSize,
		maxTokens:     cfg.MaxTokens,
	}
	if c.ids == nil {
		c.ids = research.NewIDSource()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.maxIterations <= 0 {
		c.maxIterations = defaultMaxIterations
	}
	if c.windowSize <= 0 {
		c.windowSize = defaultWindowSize
	}
	return c
}

// Run executes one research task. A non-nil resume state skips planning and
// picks up where the checkpoint left off. Adapter failures and unknown tool
// names abort the run; everything else is fed back to the model as a tool
// result.
func (c *Coordinator) Run(ctx context.Context, task Task, resume *research.State) (*Result, error) {
	state := resume
	if state == nil {
		state = research.NewState(time.Now().UTC())
	}

	if state.Plan == "" {
		planned, err := c.initialPlan(ctx, task, state)
		if err != nil {
			metrics.CoordinatorRuns.WithLabelValues("planning_failed").Inc()
			return nil, err
		}
		state = planned
		c.checkpoint(ctx, "plan", state)
	}

	for iter := 0; iter < c.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stepID := fmt.Sprintf("iteration-%d", len(state.PreviousCalls))

		next, result, err := c.step(ctx, task, state, stepID)
		if err != nil {
			metrics.CoordinatorRuns.WithLabelValues("failed").Inc()
			return nil, err
		}
		c.checkpoint(ctx, stepID, next)
		state = next

		if result != nil {
			result.State = state
			result.SubmittedEntities = state.SubmittedEntities()
			metrics.CoordinatorRuns.WithLabelValues(string(result.Status)).Inc()
			metrics.CoordinatorIterations.Observe(float64(iter + 1))
			return result, nil
		}
	}

	metrics.CoordinatorRuns.WithLabelValues(string(StatusExhausted)).Inc()
	metrics.CoordinatorIterations.Observe(float64(c.maxIterations))
	return &Result{
		Status:            StatusExhausted,
		Reason:            fmt.Sprintf("no terminal tool call within %d iterations", c.maxIterations),
		State:             state,
		SubmittedEntities: state.SubmittedEntities(),
	}, ErrIterationBudget
}

// initialPlan forces the model to produce a plan (or ask the user first).
// Unusable responses get a corrective message and another attempt, up to a
// small fixed bound.
func (c *Coordinator) initialPlan(ctx context.Context, task Task, state *research.State) (*research.State, error) {
	palette := map[tools.Name]tools.Definition{}
	all := tools.Definitions(tools.Options{HumanInLoop: task.HumanInLoop, InternetAccess: true, AllowComplete: true})
	palette[tools.UpdatePlan] = all[tools.UpdatePlan]
	if task.HumanInLoop && !task.SubTask {
		palette[tools.RequestHumanInput] = all[tools.RequestHumanInput]
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: initialMessage(task)}}
	next := state.Clone()

	attempts := 0
	for rounds := 0; rounds < planRounds; rounds++ {
		resp, err := c.provider.Chat(ctx, llm.Request{
			System:     systemPrompt(task),
			Messages:   messages,
			Tools:      tools.Sorted(palette),
			ToolChoice: llm.ToolChoiceRequired,
			MaxTokens:  c.maxTokens,
			Metadata:   llm.Metadata{TaskName: task.TaskName, StepID: "plan"},
		})
		if err != nil {
			return nil, fmt.Errorf("planning call: %w", err)
		}

		usable := false
		for _, tc := range resp.ToolCalls {
			if _, offered := palette[tools.Name(tc.Name)]; !offered {
				continue
			}
			call, err := tools.ParseCall(tools.Name(tc.Name), tc.Args)
			if err != nil {
				continue
			}
			switch v := call.(type) {
			case *tools.UpdatePlanCall:
				next.Plan = v.Plan
				next.PreviousCalls = append(next.PreviousCalls, research.CompletedToolCall{
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
					Args:       tc.Args,
					Output:     "Plan recorded.",
					MadeAt:     time.Now().UTC(),
				})
				return next, nil
			case *tools.RequestHumanInputCall:
				outcome := c.executor.RequestHumanInput(ctx, task.RunID, *v)
				entry := research.CompletedToolCall{
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
					Args:       tc.Args,
					Output:     outcome.Output,
					IsError:    outcome.IsError,
					MadeAt:     time.Now().UTC(),
				}
				next.PreviousCalls = append(next.PreviousCalls, entry)
				messages = append(messages, transcriptPair(entry)...)
				// Answers arrived; the plan is still owed.
				usable = true
			}
		}
		if !usable {
			attempts++
			if attempts == planAttempts {
				return nil, fmt.Errorf("planning: no usable tool call after %d attempts", planAttempts)
			}
			messages = append(messages, llm.Message{
				Role:    llm.RoleUser,
				Content: "Your last response contained no usable tool call. Respond with a single updatePlan call laying out your research plan.",
			})
		}
	}
	return nil, fmt.Errorf("planning: no plan settled after %d rounds", planRounds)
}

// batchItem is one tool call of an iteration's batch, in model-emitted order.
type batchItem struct {
	id      string
	name    tools.Name
	args    json.RawMessage
	call    tools.Call
	async   bool
	outcome Outcome
	err     error
}

// step runs one iteration: one LLM call, one batch of tool executions, one
// fold. A non-nil Result means the run reached a terminal call.
func (c *Coordinator) step(ctx context.Context, task Task, state *research.State, stepID string) (*research.State, *Result, error) {
	defs := tools.Definitions(tools.Options{
		SubTask:        task.SubTask,
		HumanInLoop:    task.HumanInLoop,
		InternetAccess: task.InternetAccess,
		AllowComplete:  task.SubTask || len(state.SubmittedEntityIDs) > 0,
	})

	resp, err := c.provider.Chat(ctx, llm.Request{
		System:     systemPrompt(task),
		Messages:   buildMessages(task, state, c.windowSize),
		Tools:      tools.Sorted(defs),
		ToolChoice: llm.ToolChoiceRequired,
		MaxTokens:  c.maxTokens,
		Metadata:   llm.Metadata{TaskName: task.TaskName, StepID: stepID},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("coordinator call %s: %w", stepID, err)
	}
	if len(resp.ToolCalls) == 0 {
		return nil, nil, fmt.Errorf("coordinator call %s: model returned no tool calls with tool choice required", stepID)
	}

	// Terminate short-circuits the whole batch, no matter what else came
	// with it.
	for _, tc := range resp.ToolCalls {
		if tools.Name(tc.Name) != tools.Terminate {
			continue
		}
		reason := "terminated by model"
		if call, err := tools.ParseCall(tools.Terminate, tc.Args); err == nil {
			reason = call.(*tools.TerminateCall).Reason
		}
		c.logger.Info("run terminated by model", zap.String("run_id", task.RunID), zap.String("reason", reason))
		return state, &Result{Status: StatusTerminated, Reason: reason}, nil
	}

	items := make([]batchItem, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		name := tools.Name(tc.Name)
		item := batchItem{id: tc.ID, name: name, args: tc.Args}
		switch {
		case !tools.Known(name):
			return nil, nil, fmt.Errorf("coordinator call %s: model invoked unknown tool %q", stepID, tc.Name)
		case !offered(defs, name):
			item.outcome = errorOutcome("The tool %q is not available right now.", tc.Name)
		default:
			call, err := tools.ParseCall(name, tc.Args)
			if err != nil {
				item.outcome = errorOutcome("Invalid arguments: %v", err)
			} else {
				item.call = call
				item.async = isAsync(name)
			}
		}
		items = append(items, item)
	}

	if err := c.executeBatch(ctx, task, state, items); err != nil {
		return nil, nil, err
	}

	next, completeItem, newSummaries := c.fold(state, items)

	if len(newSummaries) > 0 {
		groups, err := c.dedupe(ctx, task, next.EntitySummaries)
		if err != nil {
			return nil, nil, err
		}
		next.ApplyDuplicates(groups)
	}

	var result *Result
	if completeItem != nil {
		explanation := ""
		if call, ok := completeItem.call.(*tools.CompleteCall); ok {
			explanation = call.Explanation
		}
		warnings := c.checkStep(task, next)
		if len(warnings) > 0 && !next.HasConductedCheckStep && !task.SubTask {
			next.HasConductedCheckStep = true
			next.PreviousCalls = append(next.PreviousCalls, research.CompletedToolCall{
				ToolCallID: completeItem.id,
				ToolName:   string(tools.Complete),
				Args:       completeItem.args,
				Output:     "Completion withheld:\n- " + strings.Join(warnings, "\n- ") + "\nAddress these or call complete again to finish regardless.",
				IsError:    true,
				MadeAt:     time.Now().UTC(),
			})
		} else {
			next.PreviousCalls = append(next.PreviousCalls, research.CompletedToolCall{
				ToolCallID: completeItem.id,
				ToolName:   string(tools.Complete),
				Args:       completeItem.args,
				Output:     "Task completed.",
				MadeAt:     time.Now().UTC(),
			})
			result = &Result{Status: StatusCompleted, Reason: explanation}
		}
	}

	return next, result, nil
}

// executeBatch fans the async items out and waits for all of them. Results
// land at their own index; order among executions is deliberately unspecified.
func (c *Coordinator) executeBatch(ctx context.Context, task Task, state *research.State, items []batchItem) error {
	var wg sync.WaitGroup
	for i := range items {
		if !items[i].async || items[i].call == nil {
			continue
		}
		wg.Add(1)
		go func(item *batchItem) {
			defer wg.Done()
			started := time.Now()
			item.outcome, item.err = c.executeOne(ctx, task, state, item.call)
			status := "ok"
			if item.outcome.IsError {
				status = "error"
			}
			metrics.ToolExecutions.WithLabelValues(string(item.name), status).Inc()
			metrics.ToolExecutionDuration.WithLabelValues(string(item.name)).Observe(time.Since(started).Seconds())
		}(&items[i])
	}
	wg.Wait()

	for i := range items {
		if items[i].err != nil {
			return items[i].err
		}
	}
	return nil
}

func (c *Coordinator) executeOne(ctx context.Context, task Task, state *research.State, call tools.Call) (Outcome, error) {
	switch v := call.(type) {
	case *tools.WebSearchCall:
		return c.executor.Search(ctx, task.RunID, *v), nil
	case *tools.WebPageSummaryCall:
		return c.executor.SummarizePage(ctx, task.RunID, *v), nil
	case *tools.InferClaimsCall:
		return c.executor.InferClaims(ctx, task.RunID, *v, task.AllTypeIDs()), nil
	case *tools.ProposeEntitiesCall:
		return c.executor.PersistEntities(ctx, task.RunID, *v), nil
	case *tools.RunPythonCall:
		return c.executor.RunPython(ctx, task.RunID, *v, state), nil
	case *tools.RequestHumanInputCall:
		return c.executor.RequestHumanInput(ctx, task.RunID, *v), nil
	case *tools.StartSubTasksCall:
		return c.runSubTasks(ctx, task, state, *v)
	default:
		return errorOutcome("The tool %q cannot be executed here.", call.CallName()), nil
	}
}

// fold merges the batch's outcomes into a fresh state copy, in batch order.
// Returns the complete call, if any, for terminal handling by the caller.
func (c *Coordinator) fold(state *research.State, items []batchItem) (*research.State, *batchItem, []research.EntitySummary) {
	next := state.Clone()
	var completeItem *batchItem
	var newSummaries []research.EntitySummary

	for i := range items {
		item := &items[i]

		switch v := item.call.(type) {
		case *tools.UpdatePlanCall:
			next.Plan = v.Plan
			item.outcome = Outcome{Output: "Plan updated."}
		case *tools.SubmitCall:
			unknown := next.Submit(v.EntityIDs)
			if len(unknown) > 0 {
				item.outcome = errorOutcome(
					"These ids do not name proposed entities and were not submitted: %s. Submitted ids must come from proposeAndPersistEntities results.",
					strings.Join(unknown, ", "))
			} else {
				item.outcome = Outcome{Output: fmt.Sprintf("Submitted %d entities.", len(v.EntityIDs))}
			}
		case *tools.CompleteCall:
			// Terminal handling happens after the fold; no transcript entry yet.
			completeItem = item
			continue
		}

		delta := item.outcome.Delta
		for _, q := range delta.Queries {
			next.RecordQuery(q)
		}
		for _, u := range delta.VisitedURLs {
			next.MarkVisited(u)
		}
		if len(delta.QueuedURLs) > 0 {
			next.QueueResources(delta.QueuedURLs)
		}
		if len(delta.Summaries) > 0 {
			newSummaries = append(newSummaries, delta.Summaries...)
			next.AddSummaries(delta.Summaries)
		}
		if len(delta.Claims) > 0 {
			if errs := next.AddClaims(delta.Claims); len(errs) > 0 {
				msgs := make([]string, 0, len(errs))
				for _, e := range errs {
					msgs = append(msgs, e.Error())
				}
				item.outcome.Output += "\nRejected claims:\n- " + strings.Join(msgs, "\n- ")
			}
		}
		if len(delta.Proposed) > 0 {
			next.ProposedEntities = append(next.ProposedEntities, delta.Proposed...)
			metrics.EntitiesProposed.Add(float64(len(delta.Proposed)))
		}

		next.PreviousCalls = append(next.PreviousCalls, research.CompletedToolCall{
			ToolCallID: item.id,
			ToolName:   string(item.name),
			Args:       item.args,
			Output:     item.outcome.Output,
			IsError:    item.outcome.IsError,
			MadeAt:     time.Now().UTC(),
		})
	}

	return next, completeItem, newSummaries
}

// checkStep produces the one-shot completion warnings.
func (c *Coordinator) checkStep(task Task, state *research.State) []string {
	var warnings []string
	if len(state.ProposedEntities) == 0 {
		warnings = append(warnings, "no entities have been proposed")
	}
	submitted := make(map[string]bool)
	for _, p := range state.SubmittedEntities() {
		submitted[p.EntityTypeID] = true
	}
	for _, typeID := range task.AllTypeIDs() {
		if !submitted[typeID] {
			warnings = append(warnings, fmt.Sprintf("no submitted entity has type %s", typeID))
		}
	}
	return warnings
}

func (c *Coordinator) checkpoint(ctx context.Context, stepID string, state *research.State) {
	if c.checkpointer == nil {
		return
	}
	if err := c.checkpointer.Checkpoint(ctx, stepID, state); err != nil {
		c.logger.Warn("checkpoint failed", zap.String("step_id", stepID), zap.Error(err))
	}
}

func offered(defs map[tools.Name]tools.Definition, name tools.Name) bool {
	_, ok := defs[name]
	return ok
}

// isAsync reports whether a tool runs in the batch fan-out. Plan, submit and
// complete are pure state folds and stay on the loop goroutine.
func isAsync(name tools.Name) bool {
	switch name {
	case tools.UpdatePlan, tools.SubmitProposedEntities, tools.Complete:
		return false
	default:
		return true
	}
}
