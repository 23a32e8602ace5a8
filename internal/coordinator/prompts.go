package coordinator

import (
	"fmt"
	"strings"

	"github.com/graphweave/researcher/internal/llm"
	"github.com/graphweave/researcher/internal/research"
)

const (
	digestArgsLimit   = 60
	digestOutputLimit = 100
)

func systemPrompt(task Task) string {
	var b strings.Builder
	if task.SubTask {
		b.WriteString("You are a claim-gathering agent working on one delegated slice of a larger research task. ")
	} else {
		b.WriteString("You are a research agent that discovers entities and the relationships between them. ")
	}
	b.WriteString("You work exclusively through tool calls; plain text replies are discarded.\n\n")
	b.WriteString("Ground rules:\n")
	b.WriteString("- Base every claim on a resource you actually inspected. Never invent facts.\n")
	b.WriteString("- Avoid repeating web queries or revisiting resources; the progress report lists both.\n")
	b.WriteString("- Propose entities only for the entity and link types in scope.\n")
	if !task.SubTask {
		b.WriteString("- Submit the proposals that belong in the final result; unsubmitted proposals are discarded.\n")
	}
	b.WriteString("- Call complete when the goal is satisfied, or terminate if it cannot be.\n")
	return b.String()
}

func initialMessage(task Task) string {
	var b strings.Builder
	b.WriteString("Research goal:\n")
	b.WriteString(task.Goal)
	b.WriteString("\n\nEntity types in scope:\n")
	for _, id := range task.EntityTypeIDs {
		fmt.Fprintf(&b, "- %s\n", id)
	}
	if len(task.LinkTypeIDs) > 0 {
		b.WriteString("\nLink types in scope:\n")
		for _, id := range task.LinkTypeIDs {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}
	return b.String()
}

// buildMessages renders the conversation the model sees: the initial request,
// a digest of actions that fell out of the sliding window, the recent
// transcript verbatim, and a fresh progress report appended to the latest
// turn.
func buildMessages(task Task, state *research.State, window int) []llm.Message {
	msgs := []llm.Message{{Role: llm.RoleUser, Content: initialMessage(task)}}

	calls := state.PreviousCalls
	if len(calls) > window {
		older := calls[:len(calls)-window]
		var b strings.Builder
		b.WriteString("Earlier actions, oldest first (details elided):\n")
		for _, call := range older {
			b.WriteString("- ")
			b.WriteString(digestLine(call))
			b.WriteString("\n")
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: b.String()})
		calls = calls[len(calls)-window:]
	}

	for _, call := range calls {
		msgs = append(msgs, transcriptPair(call)...)
	}

	last := &msgs[len(msgs)-1]
	last.Content = strings.TrimRight(last.Content, "\n") + "\n\n" + progressReport(state)
	return msgs
}

// transcriptPair replays one completed tool call as the assistant turn that
// requested it and the tool turn that answered it.
func transcriptPair(call research.CompletedToolCall) []llm.Message {
	output := call.Output
	if call.IsError {
		output = "ERROR: " + output
	}
	return []llm.Message{
		{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{
				{ID: call.ToolCallID, Name: call.ToolName, Args: call.Args},
			},
		},
		{
			Role:       llm.RoleTool,
			ToolCallID: call.ToolCallID,
			Content:    output,
		},
	}
}

func digestLine(call research.CompletedToolCall) string {
	line := fmt.Sprintf("%s(%s) -> %s",
		call.ToolName,
		truncate(string(call.Args), digestArgsLimit),
		truncate(firstLine(call.Output), digestOutputLimit))
	if call.IsError {
		line += " [error]"
	}
	return line
}

func progressReport(state *research.State) string {
	var b strings.Builder
	b.WriteString("Progress report:\n")
	fmt.Fprintf(&b, "Plan:\n%s\n", state.Plan)

	if len(state.EntitySummaries) > 0 {
		fmt.Fprintf(&b, "\nDiscovered entities (%d):\n", len(state.EntitySummaries))
		for _, es := range state.EntitySummaries {
			fmt.Fprintf(&b, "- %s [%s]: %s (type %s)\n", es.LocalID, es.Name, truncate(es.Summary, 160), es.EntityTypeID)
		}
	}
	fmt.Fprintf(&b, "\nClaims gathered: %d\n", len(state.InferredClaims))

	if len(state.ProposedEntities) > 0 {
		fmt.Fprintf(&b, "Proposed entities (%d):\n", len(state.ProposedEntities))
		for _, p := range state.ProposedEntities {
			marker := ""
			for _, id := range state.SubmittedEntityIDs {
				if id == p.LocalID {
					marker = " [submitted]"
					break
				}
			}
			fmt.Fprintf(&b, "- %s (type %s)%s\n", p.LocalID, p.EntityTypeID, marker)
		}
	}

	if len(state.WebQueriesMade) > 0 {
		b.WriteString("\nWeb queries already made:\n")
		for _, q := range state.WebQueriesMade {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	if len(state.ResourceURLsVisited) > 0 {
		b.WriteString("\nResources already visited:\n")
		for _, u := range state.ResourceURLsVisited {
			fmt.Fprintf(&b, "- %s\n", u)
		}
	}
	if len(state.ResourcesNotVisited) > 0 {
		b.WriteString("\nResources discovered but not yet visited:\n")
		for _, u := range state.ResourcesNotVisited {
			fmt.Fprintf(&b, "- %s\n", u)
		}
	}
	return b.String()
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
