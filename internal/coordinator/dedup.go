package coordinator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/graphweave/researcher/internal/llm"
	"github.com/graphweave/researcher/internal/metrics"
	"github.com/graphweave/researcher/internal/research"
	"github.com/graphweave/researcher/internal/tools"
)

const dedupSystemPrompt = `You are an entity-deduplication agent. You are given summaries of entities discovered during research. Decide which entries describe the same real-world thing. Entities of different types are never duplicates. Similar is not the same: two companies with similar names are distinct unless the summaries show they are one. Report your judgement with a single reportDuplicates call; report an empty list when there are no duplicates.`

// dedupe asks the dedup agent for duplicate groups over all known summaries.
// An adapter failure here propagates as an error rather than a soft tool
// result: merged claims are load-bearing for everything reported afterwards.
func (c *Coordinator) dedupe(ctx context.Context, task Task, summaries []research.EntitySummary) ([]research.DuplicateGroup, error) {
	if len(summaries) < 2 {
		return nil, nil
	}

	resp, err := c.provider.Chat(ctx, llm.Request{
		System:     dedupSystemPrompt,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: renderSummariesForDedup(summaries)}},
		Tools:      tools.Sorted(tools.DedupDefinitions()),
		ToolChoice: string(tools.ReportDuplicates),
		MaxTokens:  c.maxTokens,
		Metadata:   llm.Metadata{TaskName: task.TaskName, StepID: "dedup"},
	})
	if err != nil {
		return nil, fmt.Errorf("dedup agent: %w", err)
	}

	for _, tc := range resp.ToolCalls {
		if tools.Name(tc.Name) != tools.ReportDuplicates {
			continue
		}
		call, err := tools.ParseCall(tools.ReportDuplicates, tc.Args)
		if err != nil {
			return nil, fmt.Errorf("dedup agent returned invalid report: %w", err)
		}
		report := call.(*tools.ReportDuplicatesCall)

		known := make(map[string]bool, len(summaries))
		for _, es := range summaries {
			known[es.LocalID] = true
		}

		var groups []research.DuplicateGroup
		for _, d := range report.Duplicates {
			if !known[d.CanonicalID] {
				c.logger.Warn("dedup agent named unknown canonical id, group dropped",
					zap.String("canonical_id", d.CanonicalID))
				continue
			}
			var dups []string
			for _, id := range d.DuplicateIDs {
				if known[id] {
					dups = append(dups, id)
				} else {
					c.logger.Warn("dedup agent named unknown duplicate id, skipped",
						zap.String("duplicate_id", id))
				}
			}
			if len(dups) > 0 {
				groups = append(groups, research.DuplicateGroup{
					CanonicalLocalID:  d.CanonicalID,
					DuplicateLocalIDs: dups,
				})
			}
		}
		metrics.DuplicateGroupsFound.Add(float64(len(groups)))
		return groups, nil
	}
	return nil, fmt.Errorf("dedup agent made no reportDuplicates call")
}

func renderSummariesForDedup(summaries []research.EntitySummary) string {
	var b strings.Builder
	b.WriteString("Discovered entities:\n")
	for _, es := range summaries {
		fmt.Fprintf(&b, "- id: %s\n  name: %s\n  type: %s\n  summary: %s\n",
			es.LocalID, es.Name, es.EntityTypeID, es.Summary)
	}
	return b.String()
}
