// Package tools declares the tool palette exposed to the coordinating agent:
// each tool's name, description, and JSON-schema input contract, plus the
// boundary validation that turns raw model-emitted arguments into typed calls.
package tools

// Name identifies a tool within one invocation context.
type Name string

const (
	WebSearch               Name = "webSearch"
	InferClaimsFromResource Name = "inferClaimsFromResource"
	GetWebPageSummary       Name = "getWebPageSummary"
	UpdatePlan              Name = "updatePlan"
	StartClaimGatheringSubTasks Name = "startClaimGatheringSubTasks"
	ProposeAndPersistEntities   Name = "proposeAndPersistEntities"
	SubmitProposedEntities      Name = "submitProposedEntities"
	RunPythonAnalysis           Name = "runPythonAnalysis"
	RequestHumanInput           Name = "requestHumanInput"
	Complete                    Name = "complete"
	Terminate                   Name = "terminate"

	// ReportDuplicates is only ever offered to the deduplication agent.
	ReportDuplicates Name = "reportDuplicates"
)

// Definition is one tool's contract: a unique name, a description the model
// sees, and a JSON-schema object its arguments must validate against.
type Definition struct {
	Name        Name                   `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

func objectSchema(required []string, props map[string]interface{}) map[string]interface{} {
	s := map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func stringArrayProp(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": desc,
	}
}

var entityRefSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"kind":        map[string]interface{}{"type": "string", "enum": []interface{}{"proposed", "existing"}},
		"local_id":    stringProp("Local id of a proposed entity, when kind is 'proposed'"),
		"external_id": stringProp("Graph id of an existing entity, when kind is 'existing'"),
	},
	"required":             []string{"kind"},
	"additionalProperties": false,
}

func definitions() map[Name]Definition {
	return map[Name]Definition{
		WebSearch: {
			Name:        WebSearch,
			Description: "Run a web search and receive a list of result URLs with titles and snippets. Use distinct queries; repeated queries are wasted calls.",
			InputSchema: objectSchema([]string{"query", "explanation"}, map[string]interface{}{
				"query":             stringProp("The search query"),
				"explanation":       stringProp("Why this query advances the research goal"),
				"number_of_results": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 20, "description": "How many results to return (default 10)"},
			}),
		},
		InferClaimsFromResource: {
			Name:        InferClaimsFromResource,
			Description: "Fetch a web resource and infer claims and entity summaries about the requested entity types from its content, optionally following outbound links.",
			InputSchema: objectSchema([]string{"url", "goal", "entity_type_ids"}, map[string]interface{}{
				"url":                  stringProp("The URL of the resource to analyse"),
				"goal":                 stringProp("What information to look for in the resource"),
				"entity_type_ids":      stringArrayProp("Versioned entity type URLs to gather claims about"),
				"link_entity_type_ids": stringArrayProp("Versioned link entity type URLs to gather claims about"),
				"follow_links":         map[string]interface{}{"type": "boolean", "description": "Whether the agent may follow outbound links from this resource"},
			}),
		},
		GetWebPageSummary: {
			Name:        GetWebPageSummary,
			Description: "Fetch a web page and receive a short summary of its content. Cheaper than inferClaimsFromResource when you only need to judge relevance.",
			InputSchema: objectSchema([]string{"url"}, map[string]interface{}{
				"url": stringProp("The URL of the web page to summarise"),
			}),
		},
		UpdatePlan: {
			Name:        UpdatePlan,
			Description: "Rewrite your research plan. The new plan replaces the old one entirely.",
			InputSchema: objectSchema([]string{"plan"}, map[string]interface{}{
				"plan": stringProp("The full text of the updated plan"),
			}),
		},
		StartClaimGatheringSubTasks: {
			Name:        StartClaimGatheringSubTasks,
			Description: "Delegate independent areas of research to sub-task agents that run in parallel. Each sub-task needs a self-contained goal and the entity types it should gather claims about.",
			InputSchema: objectSchema([]string{"sub_tasks"}, map[string]interface{}{
				"sub_tasks": map[string]interface{}{
					"type": "array",
					"items": objectSchema([]string{"goal", "entity_type_ids"}, map[string]interface{}{
						"goal":                stringProp("A self-contained research goal for the sub-task agent"),
						"explanation":         stringProp("Why this sub-task is worth delegating"),
						"entity_type_ids":     stringArrayProp("Versioned entity type URLs the sub-task should cover"),
						"relevant_entity_ids": stringArrayProp("Local ids of already-discovered entities relevant to the sub-task"),
					}),
					"minItems": 1,
				},
			}),
		},
		ProposeAndPersistEntities: {
			Name:        ProposeAndPersistEntities,
			Description: "Propose entities and links built from gathered claims and persist them to the graph. Link endpoints may reference other proposals by local id or existing graph entities by external id.",
			InputSchema: objectSchema([]string{"proposals"}, map[string]interface{}{
				"proposals": map[string]interface{}{
					"type": "array",
					"items": objectSchema([]string{"local_id", "entity_type_id", "properties"}, map[string]interface{}{
						"local_id":       stringProp("A local id for the proposal, unique within this run"),
						"entity_type_id": stringProp("The versioned entity type URL"),
						"properties":     map[string]interface{}{"type": "object", "description": "Property values keyed by property type base URL"},
						"source":         entityRefSchema,
						"target":         entityRefSchema,
						"source_urls":    stringArrayProp("URLs of the resources the proposal is based on"),
					}),
					"minItems": 1,
				},
			}),
		},
		SubmitProposedEntities: {
			Name:        SubmitProposedEntities,
			Description: "Flag proposed entities as part of the final research result. Proposals never submitted are discarded when the task ends.",
			InputSchema: objectSchema([]string{"entity_ids"}, map[string]interface{}{
				"entity_ids": stringArrayProp("Local ids of the proposed entities to submit"),
			}),
		},
		RunPythonAnalysis: {
			Name:        RunPythonAnalysis,
			Description: "Execute Python code in an ephemeral sandbox against the gathered data and receive stdout, stderr and any produced artifacts.",
			InputSchema: objectSchema([]string{"code", "explanation"}, map[string]interface{}{
				"code":        stringProp("The Python code to execute"),
				"explanation": stringProp("What the analysis is for"),
			}),
		},
		RequestHumanInput: {
			Name:        RequestHumanInput,
			Description: "Ask the user questions when the research goal is ambiguous. Use sparingly and batch questions into one call.",
			InputSchema: objectSchema([]string{"questions"}, map[string]interface{}{
				"questions": stringArrayProp("The questions to put to the user"),
			}),
		},
		Complete: {
			Name:        Complete,
			Description: "Declare the research task complete. Only do this once every submitted entity satisfies the task requirements.",
			InputSchema: objectSchema([]string{"explanation"}, map[string]interface{}{
				"explanation": stringProp("Why the task is complete"),
			}),
		},
		Terminate: {
			Name:        Terminate,
			Description: "Stop the research task because it cannot be completed. Prefer complete with partial results when any useful entities were found.",
			InputSchema: objectSchema([]string{"reason"}, map[string]interface{}{
				"reason": stringProp("Why the task cannot proceed"),
			}),
		},
		ReportDuplicates: {
			Name:        ReportDuplicates,
			Description: "Report which entities are duplicates of one another. An entity is a duplicate only if it refers to the same real-world thing, not merely a similar one.",
			InputSchema: objectSchema([]string{"duplicates"}, map[string]interface{}{
				"duplicates": map[string]interface{}{
					"type": "array",
					"items": objectSchema([]string{"canonical_id", "duplicate_ids"}, map[string]interface{}{
						"canonical_id":  stringProp("Local id of the entity to keep"),
						"duplicate_ids": stringArrayProp("Local ids of entities that duplicate the canonical one"),
					}),
				},
			}),
		},
	}
}
