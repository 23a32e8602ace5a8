package coordinator

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphweave/researcher/internal/llm"
	"github.com/graphweave/researcher/internal/research"
)

func stateWithCalls(n int) *research.State {
	s := research.NewState(time.Now().UTC())
	s.Plan = "the plan"
	for i := 0; i < n; i++ {
		s.PreviousCalls = append(s.PreviousCalls, research.CompletedToolCall{
			ToolCallID: fmt.Sprintf("call-%d", i),
			ToolName:   "webSearch",
			Args:       json.RawMessage(fmt.Sprintf(`{"query":"q%d","explanation":"e"}`, i)),
			Output:     fmt.Sprintf("result %d", i),
		})
	}
	return s
}

func TestBuildMessagesReplaysShortTranscriptVerbatim(t *testing.T) {
	state := stateWithCalls(3)
	msgs := buildMessages(testTask(), state, 20)

	// Initial user message plus one assistant/tool pair per call.
	require.Len(t, msgs, 1+3*2)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "call-0", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, llm.RoleTool, msgs[2].Role)
	assert.Equal(t, "call-0", msgs[2].ToolCallID)
}

func TestBuildMessagesDigestsBeyondWindow(t *testing.T) {
	state := stateWithCalls(25)
	msgs := buildMessages(testTask(), state, 20)

	// Initial message, digest message, then 20 verbatim pairs.
	require.Len(t, msgs, 2+20*2)
	digest := msgs[1]
	assert.Equal(t, llm.RoleUser, digest.Role)
	assert.Contains(t, digest.Content, "q0", "oldest call appears in the digest")
	assert.Contains(t, digest.Content, "q4")
	assert.NotContains(t, digest.Content, `"q5"`, "windowed calls are not digested")
	assert.Equal(t, "call-5", msgs[2].ToolCalls[0].ID, "verbatim window starts after the digest")
}

func TestBuildMessagesAppendsProgressReportToLatestTurn(t *testing.T) {
	state := stateWithCalls(2)
	state.WebQueriesMade = []string{"experian founders"}
	msgs := buildMessages(testTask(), state, 20)

	last := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, "Progress report:")
	assert.Contains(t, last.Content, "experian founders")
	for _, m := range msgs[:len(msgs)-1] {
		assert.NotContains(t, m.Content, "Progress report:", "only the latest turn carries the report")
	}
}

func TestTranscriptPairMarksErrors(t *testing.T) {
	pair := transcriptPair(research.CompletedToolCall{
		ToolCallID: "c1",
		ToolName:   "getWebPageSummary",
		Args:       json.RawMessage(`{"url":"https://x.test"}`),
		Output:     "page 404",
		IsError:    true,
	})
	require.Len(t, pair, 2)
	assert.Contains(t, pair[1].Content, "ERROR: page 404")
}

func TestProgressReportListsStateSections(t *testing.T) {
	state := stateWithCalls(0)
	state.EntitySummaries = []research.EntitySummary{
		{LocalID: "a", Name: "Experian", Summary: "credit bureau", EntityTypeID: companyType},
	}
	state.ProposedEntities = []research.ProposedEntity{
		{LocalID: "prop-1", EntityTypeID: companyType, Properties: map[string]interface{}{}},
	}
	state.SubmittedEntityIDs = []string{"prop-1"}
	state.ResourcesNotVisited = []string{"https://example.com/next"}

	report := progressReport(state)
	assert.Contains(t, report, "the plan")
	assert.Contains(t, report, "Experian")
	assert.Contains(t, report, "prop-1")
	assert.Contains(t, report, "[submitted]")
	assert.Contains(t, report, "https://example.com/next")
}
