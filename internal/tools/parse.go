package tools

import (
	"encoding/json"
	"fmt"

	"github.com/graphweave/researcher/internal/research"
)

// Call is the discriminated union of validated tool invocations. The
// coordinator switches exhaustively over the concrete types; raw argument
// maps never cross this boundary.
type Call interface {
	CallName() Name
}

// WebSearchCall requests a web search.
type WebSearchCall struct {
	Query           string `json:"query"`
	Explanation     string `json:"explanation"`
	NumberOfResults int    `json:"number_of_results"`
}

func (WebSearchCall) CallName() Name { return WebSearch }

// InferClaimsCall requests claim inference from one web resource.
type InferClaimsCall struct {
	URL               string   `json:"url"`
	Goal              string   `json:"goal"`
	EntityTypeIDs     []string `json:"entity_type_ids"`
	LinkEntityTypeIDs []string `json:"link_entity_type_ids"`
	FollowLinks       bool     `json:"follow_links"`
}

func (InferClaimsCall) CallName() Name { return InferClaimsFromResource }

// WebPageSummaryCall requests a short summary of one page.
type WebPageSummaryCall struct {
	URL string `json:"url"`
}

func (WebPageSummaryCall) CallName() Name { return GetWebPageSummary }

// UpdatePlanCall replaces the agent's plan.
type UpdatePlanCall struct {
	Plan string `json:"plan"`
}

func (UpdatePlanCall) CallName() Name { return UpdatePlan }

// SubTaskSpec is one delegated research goal.
type SubTaskSpec struct {
	Goal              string   `json:"goal"`
	Explanation       string   `json:"explanation"`
	EntityTypeIDs     []string `json:"entity_type_ids"`
	RelevantEntityIDs []string `json:"relevant_entity_ids"`
}

// StartSubTasksCall delegates work to sub-task agents.
type StartSubTasksCall struct {
	SubTasks []SubTaskSpec `json:"sub_tasks"`
}

func (StartSubTasksCall) CallName() Name { return StartClaimGatheringSubTasks }

// EntityProposal is the wire shape of one proposed entity or link.
type EntityProposal struct {
	LocalID      string                 `json:"local_id"`
	EntityTypeID string                 `json:"entity_type_id"`
	Properties   map[string]interface{} `json:"properties"`
	Source       *research.EntityRef    `json:"source"`
	Target       *research.EntityRef    `json:"target"`
	SourceURLs   []string               `json:"source_urls"`
}

// ProposeEntitiesCall proposes and persists entities.
type ProposeEntitiesCall struct {
	Proposals []EntityProposal `json:"proposals"`
}

func (ProposeEntitiesCall) CallName() Name { return ProposeAndPersistEntities }

// SubmitCall flags proposals as part of the final result.
type SubmitCall struct {
	EntityIDs []string `json:"entity_ids"`
}

func (SubmitCall) CallName() Name { return SubmitProposedEntities }

// RunPythonCall executes sandboxed analysis code.
type RunPythonCall struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation"`
}

func (RunPythonCall) CallName() Name { return RunPythonAnalysis }

// RequestHumanInputCall asks the user questions.
type RequestHumanInputCall struct {
	Questions []string `json:"questions"`
}

func (RequestHumanInputCall) CallName() Name { return RequestHumanInput }

// CompleteCall declares the task complete.
type CompleteCall struct {
	Explanation string `json:"explanation"`
}

func (CompleteCall) CallName() Name { return Complete }

// TerminateCall aborts the task.
type TerminateCall struct {
	Reason string `json:"reason"`
}

func (TerminateCall) CallName() Name { return Terminate }

// DuplicateReport is one canonical/duplicates grouping from the dedup agent.
type DuplicateReport struct {
	CanonicalID  string   `json:"canonical_id"`
	DuplicateIDs []string `json:"duplicate_ids"`
}

// ReportDuplicatesCall carries the dedup agent's judgement.
type ReportDuplicatesCall struct {
	Duplicates []DuplicateReport `json:"duplicates"`
}

func (ReportDuplicatesCall) CallName() Name { return ReportDuplicates }

// ParseCall validates raw arguments against the tool's schema and returns the
// typed variant. Unknown tool names and schema violations are errors.
func ParseCall(name Name, raw json.RawMessage) (Call, error) {
	if err := ValidateArgs(name, raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	decode := func(dst Call) (Call, error) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", name, err)
		}
		return dst, nil
	}

	switch name {
	case WebSearch:
		return decode(&WebSearchCall{})
	case InferClaimsFromResource:
		return decode(&InferClaimsCall{})
	case GetWebPageSummary:
		return decode(&WebPageSummaryCall{})
	case UpdatePlan:
		return decode(&UpdatePlanCall{})
	case StartClaimGatheringSubTasks:
		return decode(&StartSubTasksCall{})
	case ProposeAndPersistEntities:
		return decode(&ProposeEntitiesCall{})
	case SubmitProposedEntities:
		return decode(&SubmitCall{})
	case RunPythonAnalysis:
		return decode(&RunPythonCall{})
	case RequestHumanInput:
		return decode(&RequestHumanInputCall{})
	case Complete:
		return decode(&CompleteCall{})
	case Terminate:
		return decode(&TerminateCall{})
	case ReportDuplicates:
		return decode(&ReportDuplicatesCall{})
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}
