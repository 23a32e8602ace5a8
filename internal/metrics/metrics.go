package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLM metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researcher_llm_calls_total",
			Help: "Total number of LLM chat calls",
		},
		[]string{"task", "status"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researcher_llm_tokens_total",
			Help: "Total LLM tokens consumed",
		},
		[]string{"task", "direction"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "researcher_llm_call_duration_seconds",
			Help:    "LLM chat call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"task"},
	)

	// Tool metrics
	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researcher_tool_executions_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "status"},
	)

	ToolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "researcher_tool_execution_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"tool"},
	)

	// Coordinator metrics
	CoordinatorIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "researcher_coordinator_iterations",
			Help:    "Number of loop iterations per coordinator run",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	CoordinatorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researcher_coordinator_runs_total",
			Help: "Total coordinator runs by terminal status",
		},
		[]string{"status"},
	)

	EntitiesProposed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researcher_entities_proposed_total",
			Help: "Total entities proposed across all runs",
		},
	)

	EntitiesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researcher_entities_persisted_total",
			Help: "Total entities persisted to the graph",
		},
		[]string{"status"},
	)

	DuplicateGroupsFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researcher_duplicate_groups_total",
			Help: "Total duplicate groups reported by the dedup agent",
		},
	)

	// Checkpoint metrics
	CheckpointsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "researcher_checkpoints_recorded_total",
			Help: "Total checkpoints signalled into workflow histories",
		},
	)

	CheckpointsRestored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researcher_checkpoints_restored_total",
			Help: "Total state restorations by source",
		},
		[]string{"source"},
	)
)
