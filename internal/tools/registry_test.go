package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionsOmissions(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		present []Name
		absent  []Name
	}{
		{
			name:    "default coordinator before first submit",
			opts:    Options{HumanInLoop: true, InternetAccess: true},
			present: []Name{WebSearch, UpdatePlan, SubmitProposedEntities, RequestHumanInput, Terminate},
			absent:  []Name{Complete, ReportDuplicates},
		},
		{
			name:    "complete unlocked after submit",
			opts:    Options{InternetAccess: true, AllowComplete: true},
			present: []Name{Complete},
			absent:  []Name{RequestHumanInput},
		},
		{
			name:    "no internet access",
			opts:    Options{AllowComplete: true},
			present: []Name{InferClaimsFromResource, GetWebPageSummary},
			absent:  []Name{WebSearch},
		},
		{
			name:    "sub-task agent",
			opts:    Options{SubTask: true, HumanInLoop: true, InternetAccess: true},
			present: []Name{WebSearch, InferClaimsFromResource, UpdatePlan, Terminate},
			absent:  []Name{StartClaimGatheringSubTasks, SubmitProposedEntities, RequestHumanInput},
		},
		{
			name:    "explicit omission",
			opts:    Options{InternetAccess: true, Omit: []Name{RunPythonAnalysis}},
			present: []Name{WebSearch},
			absent:  []Name{RunPythonAnalysis},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs := Definitions(tt.opts)
			for _, n := range tt.present {
				assert.Contains(t, defs, n)
			}
			for _, n := range tt.absent {
				assert.NotContains(t, defs, n)
			}
			for n, d := range defs {
				assert.Equal(t, n, d.Name)
				assert.NotEmpty(t, d.Description)
				assert.NotNil(t, d.InputSchema)
			}
		})
	}
}

func TestDedupDefinitions(t *testing.T) {
	defs := DedupDefinitions()
	require.Len(t, defs, 1)
	assert.Contains(t, defs, ReportDuplicates)
}

func TestSortedIsDeterministic(t *testing.T) {
	defs := Definitions(Options{InternetAccess: true, AllowComplete: true, HumanInLoop: true})
	a := Sorted(defs)
	b := Sorted(defs)
	require.Equal(t, a, b)
	for i := 1; i < len(a); i++ {
		assert.Less(t, string(a[i-1].Name), string(a[i].Name))
	}
}

func TestValidateArgs(t *testing.T) {
	err := ValidateArgs(WebSearch, []byte(`{"query":"experian plc","explanation":"initial search"}`))
	assert.NoError(t, err)

	err = ValidateArgs(WebSearch, []byte(`{"explanation":"missing query"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")

	err = ValidateArgs(WebSearch, []byte(`{"query":"x","explanation":"y","bogus":1}`))
	assert.Error(t, err, "additionalProperties must be rejected")

	err = ValidateArgs(Name("notATool"), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestParseCallTypedVariants(t *testing.T) {
	call, err := ParseCall(WebSearch, json.RawMessage(`{"query":"experian","explanation":"why","number_of_results":5}`))
	require.NoError(t, err)
	ws, ok := call.(*WebSearchCall)
	require.True(t, ok)
	assert.Equal(t, "experian", ws.Query)
	assert.Equal(t, 5, ws.NumberOfResults)

	call, err = ParseCall(StartClaimGatheringSubTasks, json.RawMessage(
		`{"sub_tasks":[{"goal":"find founders","entity_type_ids":["https://t.example/person/v/1"]}]}`))
	require.NoError(t, err)
	st, ok := call.(*StartSubTasksCall)
	require.True(t, ok)
	require.Len(t, st.SubTasks, 1)
	assert.Equal(t, "find founders", st.SubTasks[0].Goal)

	call, err = ParseCall(ProposeAndPersistEntities, json.RawMessage(
		`{"proposals":[{"local_id":"e1","entity_type_id":"https://t.example/company/v/1",`+
			`"properties":{"https://t.example/name/":"Experian"},`+
			`"source":{"kind":"proposed","local_id":"e2"},"target":{"kind":"existing","external_id":"abc"}}]}`))
	require.NoError(t, err)
	pe, ok := call.(*ProposeEntitiesCall)
	require.True(t, ok)
	require.Len(t, pe.Proposals, 1)
	assert.Equal(t, "e2", pe.Proposals[0].Source.LocalID)
	assert.Equal(t, "abc", pe.Proposals[0].Target.ExternalID)

	_, err = ParseCall(Terminate, json.RawMessage(`{}`))
	assert.Error(t, err, "terminate requires a reason")

	_, err = ParseCall(Name("mystery"), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestParseCallEmptyArgs(t *testing.T) {
	_, err := ParseCall(Complete, nil)
	assert.Error(t, err, "complete requires an explanation")

	call, err := ParseCall(Complete, json.RawMessage(`{"explanation":"done"}`))
	require.NoError(t, err)
	assert.Equal(t, Complete, call.CallName())
}
