package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/graphweave/researcher/internal/coordinator"
	"github.com/graphweave/researcher/internal/graph"
	"github.com/graphweave/researcher/internal/llm"
	"github.com/graphweave/researcher/internal/metrics"
	"github.com/graphweave/researcher/internal/research"
	"github.com/graphweave/researcher/internal/sandbox"
	"github.com/graphweave/researcher/internal/tools"
	"github.com/graphweave/researcher/internal/webpage"
)

const (
	// maxLinkHops bounds the link-follower loop inside one
	// inferClaimsFromResource call.
	maxLinkHops = 3
	// pageTextLimit caps how much sanitized page text one extraction call
	// feeds to the model.
	pageTextLimit = 24000
	summaryTokens = 600
)

// executor performs the coordinator's side-effecting tools against real
// collaborators. All failures below the LLM adapter render as soft tool
// results; the model is the retry mechanism.
type executor struct {
	deps Deps
	ids  research.IDSource
}

func newExecutor(deps Deps) *executor {
	return &executor{deps: deps, ids: research.NewIDSource()}
}

func softError(format string, args ...interface{}) coordinator.Outcome {
	return coordinator.Outcome{Output: fmt.Sprintf(format, args...), IsError: true}
}

func (e *executor) Search(ctx context.Context, runID string, call tools.WebSearchCall) coordinator.Outcome {
	results, err := e.deps.Search.Search(ctx, call.Query, call.NumberOfResults)
	if err != nil {
		return softError("Web search failed: %v", err)
	}
	if e.deps.Progress != nil {
		if err := e.deps.Progress.RecordQuery(ctx, runID, call.Query); err != nil {
			e.deps.Logger.Warn("progress write failed", zap.String("run_id", runID), zap.Error(err))
		}
	}

	if len(results) == 0 {
		return coordinator.Outcome{
			Output: "No results. Try a different query.",
			Delta:  coordinator.Delta{Queries: []string{call.Query}},
		}
	}

	var b strings.Builder
	urls := make([]string, 0, len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (%s)\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
		urls = append(urls, r.URL)
	}
	return coordinator.Outcome{
		Output: b.String(),
		Delta:  coordinator.Delta{Queries: []string{call.Query}, QueuedURLs: urls},
	}
}

func (e *executor) SummarizePage(ctx context.Context, runID string, call tools.WebPageSummaryCall) coordinator.Outcome {
	article, err := e.deps.Pages.Fetch(ctx, call.URL)
	if err != nil {
		return softError("Unavailable: %v", err)
	}
	e.recordVisit(ctx, runID, call.URL)

	resp, err := e.deps.Provider.Chat(ctx, llm.Request{
		System: "Summarize the page content you are given in at most three paragraphs. Keep names, places, dates and figures; drop navigation and boilerplate.",
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Title: %s\n\n%s", article.Title, truncateText(article.Text, pageTextLimit)),
		}},
		MaxTokens: summaryTokens,
		Metadata:  llm.Metadata{TaskName: runID, StepID: "page-summary"},
	})
	if err != nil {
		return softError("Could not summarize %s: %v", call.URL, err)
	}
	return coordinator.Outcome{
		Output: resp.Content,
		Delta:  coordinator.Delta{VisitedURLs: []string{call.URL}},
	}
}

// extraction is the shape of one recordEntityClaims call from the extraction
// model. Ids in here are call-local and remapped to fresh run-unique ids
// before they reach state.
type extraction struct {
	Entities []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Summary      string `json:"summary"`
		EntityTypeID string `json:"entity_type_id"`
	} `json:"entities"`
	Claims []struct {
		SubjectID            string   `json:"subject_id"`
		ObjectID             string   `json:"object_id"`
		Text                 string   `json:"text"`
		PrepositionalPhrases []string `json:"prepositional_phrases"`
	} `json:"claims"`
	FurtherURLs []string `json:"further_urls"`
}

const recordEntityClaimsTool = tools.Name("recordEntityClaims")

// recordClaimsDefinition is a private tool offered only to the extraction
// call; it never appears in the coordinator's palette.
func recordClaimsDefinition() tools.Definition {
	str := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	strArray := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": desc}
	}
	return tools.Definition{
		Name:        recordEntityClaimsTool,
		Description: "Record the entities and claims found in the resource, and optionally outbound links worth following.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"entities": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"id":             str("A short id for the entity, unique within this call"),
							"name":           str("The entity's name"),
							"summary":        str("One or two sentences about the entity, grounded in the resource"),
							"entity_type_id": str("The versioned entity type URL this entity belongs to"),
						},
						"required":             []string{"id", "name", "summary", "entity_type_id"},
						"additionalProperties": false,
					},
				},
				"claims": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"subject_id":            str("Id of the entity the claim is about"),
							"object_id":             str("Id of the entity the claim relates the subject to, if any"),
							"text":                  str("The claim as a single sentence"),
							"prepositional_phrases": strArray("Qualifying phrases such as dates or places"),
						},
						"required":             []string{"subject_id", "text"},
						"additionalProperties": false,
					},
				},
				"further_urls": strArray("Outbound links from this resource likely to contain more relevant claims"),
			},
			"required":             []string{"entities", "claims"},
			"additionalProperties": false,
		},
	}
}

func (e *executor) InferClaims(ctx context.Context, runID string, call tools.InferClaimsCall, allowedTypeIDs []string) coordinator.Outcome {
	allowed := make(map[string]bool, len(allowedTypeIDs))
	for _, id := range allowedTypeIDs {
		allowed[id] = true
	}
	var invalid []string
	for _, id := range append(append([]string{}, call.EntityTypeIDs...), call.LinkEntityTypeIDs...) {
		if !allowed[id] {
			invalid = append(invalid, id)
		}
	}
	// Type validation happens before any fetch.
	if len(invalid) > 0 {
		return softError("Unknown entity type ids: %s. Valid ids are: %s.",
			strings.Join(invalid, ", "), strings.Join(allowedTypeIDs, ", "))
	}

	delta := coordinator.Delta{}
	idMap := make(map[string]string)
	url := call.URL
	hops := 0

	for {
		article, err := e.deps.Pages.Fetch(ctx, url)
		if err != nil {
			if hops == 0 {
				return softError("Unavailable: %v", err)
			}
			break
		}
		e.recordVisit(ctx, runID, url)
		delta.VisitedURLs = append(delta.VisitedURLs, url)

		ext, err := e.extract(ctx, runID, call, article)
		if err != nil {
			if hops == 0 {
				return softError("Claim extraction from %s failed: %v", url, err)
			}
			break
		}

		for _, ent := range ext.Entities {
			fresh := e.ids()
			idMap[ent.ID] = fresh
			delta.Summaries = append(delta.Summaries, research.EntitySummary{
				LocalID:      fresh,
				Name:         ent.Name,
				Summary:      ent.Summary,
				EntityTypeID: ent.EntityTypeID,
			})
		}
		for _, cl := range ext.Claims {
			subject, ok := idMap[cl.SubjectID]
			if !ok {
				continue
			}
			claim := research.Claim{
				SubjectLocalID:       subject,
				Text:                 cl.Text,
				PrepositionalPhrases: cl.PrepositionalPhrases,
				SourceURL:            url,
			}
			if cl.ObjectID != "" {
				if object, ok := idMap[cl.ObjectID]; ok {
					claim.ObjectLocalID = object
				}
			}
			delta.Claims = append(delta.Claims, claim)
		}
		delta.QueuedURLs = append(delta.QueuedURLs, ext.FurtherURLs...)

		if !call.FollowLinks || hops >= maxLinkHops {
			break
		}
		next := firstUnvisited(ext.FurtherURLs, delta.VisitedURLs)
		if next == "" {
			break
		}
		url = next
		hops++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Inferred %d claims about %d entities from %s.\n",
		len(delta.Claims), len(delta.Summaries), strings.Join(delta.VisitedURLs, ", "))
	for _, es := range delta.Summaries {
		fmt.Fprintf(&b, "- entity %s: %s (%s)\n", es.LocalID, es.Name, es.EntityTypeID)
	}
	for _, cl := range delta.Claims {
		fmt.Fprintf(&b, "- claim: [%s] %s\n", cl.SubjectLocalID, cl.Text)
	}
	return coordinator.Outcome{Output: b.String(), Delta: delta}
}

func (e *executor) extract(ctx context.Context, runID string, call tools.InferClaimsCall, article *webpage.Article) (*extraction, error) {
	var prompt strings.Builder
	prompt.WriteString("Goal: ")
	prompt.WriteString(call.Goal)
	prompt.WriteString("\n\nGather claims about these entity types:\n")
	for _, id := range call.EntityTypeIDs {
		fmt.Fprintf(&prompt, "- %s\n", id)
	}
	for _, id := range call.LinkEntityTypeIDs {
		fmt.Fprintf(&prompt, "- %s (link)\n", id)
	}
	fmt.Fprintf(&prompt, "\nResource %s:\nTitle: %s\n\n%s", article.URL, article.Title, truncateText(article.Text, pageTextLimit))

	resp, err := e.deps.Provider.Chat(ctx, llm.Request{
		System:     "You extract entities and claims from one web resource. Only record what the resource states; use the requested entity types; record a claim for every fact tying an entity to the goal.",
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: prompt.String()}},
		Tools:      []tools.Definition{recordClaimsDefinition()},
		ToolChoice: string(recordEntityClaimsTool),
		Metadata:   llm.Metadata{TaskName: runID, StepID: "infer-claims"},
	})
	if err != nil {
		return nil, err
	}
	for _, tc := range resp.ToolCalls {
		if tools.Name(tc.Name) != recordEntityClaimsTool {
			continue
		}
		var ext extraction
		if err := json.Unmarshal(tc.Args, &ext); err != nil {
			return nil, fmt.Errorf("decode extraction: %w", err)
		}
		return &ext, nil
	}
	return nil, fmt.Errorf("extraction model made no %s call", recordEntityClaimsTool)
}

func (e *executor) PersistEntities(ctx context.Context, runID string, call tools.ProposeEntitiesCall) coordinator.Outcome {
	proposals := make([]research.ProposedEntity, 0, len(call.Proposals))
	for _, p := range call.Proposals {
		proposal := research.ProposedEntity{
			LocalID:      p.LocalID,
			EntityTypeID: p.EntityTypeID,
			Properties:   p.Properties,
			Source:       p.Source,
			Target:       p.Target,
		}
		for _, u := range p.SourceURLs {
			proposal.Provenance = append(proposal.Provenance, research.SourceRef{URL: u})
		}
		proposals = append(proposals, proposal)
	}

	result, err := graph.Persist(ctx, e.deps.Graph, proposals)
	if err != nil {
		return softError("Entity persistence aborted: %v", err)
	}
	metrics.EntitiesPersisted.WithLabelValues("ok").Add(float64(len(result.Persisted)))
	metrics.EntitiesPersisted.WithLabelValues("failed").Add(float64(len(result.Failures)))

	persisted := make(map[string]bool, len(result.Persisted))
	var b strings.Builder
	for _, p := range result.Persisted {
		persisted[p.LocalID] = true
		fmt.Fprintf(&b, "Persisted %s as graph entity %s.\n", p.LocalID, p.GraphID)
	}
	for _, f := range result.Failures {
		fmt.Fprintf(&b, "Failed to persist %s: %s\n", f.LocalID, f.Reason)
	}

	var kept []research.ProposedEntity
	for _, p := range proposals {
		if persisted[p.LocalID] {
			kept = append(kept, p)
		}
	}
	return coordinator.Outcome{
		Output:  b.String(),
		IsError: len(kept) == 0 && len(result.Failures) > 0,
		Delta:   coordinator.Delta{Proposed: kept},
	}
}

func (e *executor) RunPython(ctx context.Context, runID string, call tools.RunPythonCall, state *research.State) coordinator.Outcome {
	contextFile, err := json.MarshalIndent(map[string]interface{}{
		"entities": state.EntitySummaries,
		"claims":   state.InferredClaims,
	}, "", "  ")
	if err != nil {
		return softError("Could not prepare analysis context: %v", err)
	}

	result, err := e.deps.Sandbox.RunPython(ctx, sandbox.RunRequest{
		Code:         call.Code,
		ContextFiles: map[string][]byte{"research_context.json": contextFile},
	})
	if err != nil {
		return softError("Sandbox execution failed: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Exit code: %d\n", result.ExitCode)
	if result.Stdout != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n", result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", result.Stderr)
	}
	for _, a := range result.Artifacts {
		fmt.Fprintf(&b, "artifact: %s (%d bytes)\n", a.Name, len(a.Content))
	}
	return coordinator.Outcome{Output: b.String(), IsError: result.ExitCode != 0}
}

func (e *executor) RequestHumanInput(ctx context.Context, runID string, call tools.RequestHumanInputCall) coordinator.Outcome {
	if e.deps.HumanInput == nil {
		return softError("Human input is not available in this deployment. Proceed with your best judgement.")
	}
	answer, err := e.deps.HumanInput(ctx, runID, call.Questions)
	if err != nil {
		return softError("Human input failed: %v", err)
	}
	return coordinator.Outcome{Output: answer}
}

func (e *executor) recordVisit(ctx context.Context, runID, url string) {
	if e.deps.Progress == nil {
		return
	}
	if err := e.deps.Progress.RecordVisit(ctx, runID, url); err != nil {
		e.deps.Logger.Warn("progress write failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func firstUnvisited(candidates, visited []string) string {
	seen := make(map[string]bool, len(visited))
	for _, u := range visited {
		seen[u] = true
	}
	for _, u := range candidates {
		if u != "" && !seen[u] {
			return u
		}
	}
	return ""
}

func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[truncated]"
}
