package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/records"
	"github.com/harborview/clinical-copilot/internal/store"
	"github.com/harborview/clinical-copilot/pkg/anthropic"
)

// scriptedModel returns canned responses in order and records every request
// so tests can assert on the tools offered per step.
type scriptedModel struct {
	responses []*anthropic.MessageResponse
	err       error
	calls     []anthropic.MessageRequest
}

func (m *scriptedModel) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.calls) > len(m.responses) {
		return nil, eris.New("scripted model: no response left")
	}
	return m.responses[len(m.calls)-1], nil
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Text: text, StopReason: "end_turn", Usage: anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20}}
}

func toolResponse(calls ...anthropic.ToolCall) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{ToolCalls: calls, StopReason: "tool_use", Usage: anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20}}
}

func submitCall(summary string) anthropic.ToolCall {
	return anthropic.ToolCall{ID: "tc-submit", Name: toolSubmitResults, Input: map[string]any{"summary": summary}}
}

func newTestLedger(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newLedgerRun(t *testing.T, ledger *store.SQLiteStore) *model.Run {
	t.Helper()
	run := &model.Run{OrgID: "org-1", UserID: "user-1", ProviderID: "prov-1", InputText: "test"}
	require.NoError(t, ledger.CreateRun(context.Background(), run))
	return run
}

func toolNames(specs []anthropic.ToolSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

func startTranscript() []model.Turn {
	return []model.Turn{{Role: model.TurnRoleUser, Text: "Create a progress note for John Doe"}}
}

func TestToolNamesForStep_PhaseGate(t *testing.T) {
	for step := 1; step <= 2; step++ {
		names := toolNamesForStep(step)
		assert.Contains(t, names, toolSearchPatients)
		assert.Contains(t, names, toolAskClarification)
		assert.NotContains(t, names, string(model.ActionCreateNoteDraft), "step %d", step)
	}
	for step := 3; step <= 7; step++ {
		names := toolNamesForStep(step)
		assert.Contains(t, names, toolSearchPatients)
		assert.Contains(t, names, string(model.ActionCreateNoteDraft), "step %d", step)
	}
	for step := 8; step <= 10; step++ {
		names := toolNamesForStep(step)
		assert.ElementsMatch(t, []string{toolAskClarification, toolSubmitResults}, names, "step %d", step)
	}
}

func TestLoop_DraftingToolNeverDispatchedBeforeStep3(t *testing.T) {
	ledger := newTestLedger(t)
	run := newLedgerRun(t, ledger)
	rs := records.NewMemory()
	tb := NewToolbox(rs)
	sess := tb.newSession("org-1", "prov-1")

	// A misbehaving model drafts at step 1; the loop must refuse and let it
	// recover at step 3.
	ai := &scriptedModel{responses: []*anthropic.MessageResponse{
		toolResponse(anthropic.ToolCall{ID: "tc-1", Name: string(model.ActionCreateNoteDraft),
			Input: map[string]any{"patient_id": "pat-1", "content": "early draft"}}),
		textResponse("understood, looking up first"),
		toolResponse(anthropic.ToolCall{ID: "tc-2", Name: string(model.ActionCreateNoteDraft),
			Input: map[string]any{"patient_id": "pat-1", "content": "proper draft"}}),
		toolResponse(submitCall("drafted one note")),
	}}

	loop := NewLoop(ai, tb, ledger, "test-model", 1024, 10, nil)
	outcome, err := loop.Run(context.Background(), run.ID, "system", sess, startTranscript(), 1)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSubmitted, outcome.Kind)
	require.Len(t, outcome.Actions, 1)
	assert.Equal(t, "proper draft", outcome.Actions[0].Payload["content"])

	// Step 1 and 2 requests never offered a drafting tool.
	assert.NotContains(t, toolNames(ai.calls[0].Tools), string(model.ActionCreateNoteDraft))
	assert.NotContains(t, toolNames(ai.calls[1].Tools), string(model.ActionCreateNoteDraft))
	assert.Contains(t, toolNames(ai.calls[2].Tools), string(model.ActionCreateNoteDraft))

	// The step-1 refusal surfaced as an error tool result, not an abort.
	steps, err := ledger.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	refusal := steps[0].Transcript[len(steps[0].Transcript)-1]
	require.Len(t, refusal.ToolResults, 1)
	assert.True(t, refusal.ToolResults[0].IsError)
	assert.Contains(t, refusal.ToolResults[0].Content, "not available at this step")
}

func TestLoop_AdapterErrorReturnedToModel(t *testing.T) {
	ledger := newTestLedger(t)
	run := newLedgerRun(t, ledger)
	tb := NewToolbox(records.NewMemory())
	sess := tb.newSession("org-1", "prov-1")

	ai := &scriptedModel{responses: []*anthropic.MessageResponse{
		// Missing required argument.
		toolResponse(anthropic.ToolCall{ID: "tc-1", Name: toolSearchPatients, Input: map[string]any{}}),
		toolResponse(submitCall("done")),
	}}

	loop := NewLoop(ai, tb, ledger, "test-model", 1024, 10, nil)
	outcome, err := loop.Run(context.Background(), run.ID, "system", sess, startTranscript(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, outcome.Kind)

	// The error became a tool result in the transcript sent at step 2.
	secondReq := ai.calls[1]
	lastMsg := secondReq.Messages[len(secondReq.Messages)-1]
	require.NotEmpty(t, lastMsg.Blocks)
	assert.Equal(t, anthropic.BlockToolResult, lastMsg.Blocks[0].Type)
	assert.True(t, lastMsg.Blocks[0].IsError)
	assert.Contains(t, lastMsg.Blocks[0].Text, "name is required")
}

func TestLoop_ClarificationPausesImmediately(t *testing.T) {
	ledger := newTestLedger(t)
	run := newLedgerRun(t, ledger)
	tb := NewToolbox(records.NewMemory())
	sess := tb.newSession("org-1", "prov-1")

	ai := &scriptedModel{responses: []*anthropic.MessageResponse{
		toolResponse(anthropic.ToolCall{ID: "tc-1", Name: toolAskClarification, Input: map[string]any{
			"questions": []any{
				map[string]any{"question": "Which John Doe?", "options": []any{"DOB 1980-01-01", "DOB 1992-06-15"}},
			},
		}}),
	}}

	loop := NewLoop(ai, tb, ledger, "test-model", 1024, 10, nil)
	outcome, err := loop.Run(context.Background(), run.ID, "system", sess, startTranscript(), 1)
	require.NoError(t, err)

	assert.Equal(t, OutcomePaused, outcome.Kind)
	require.Len(t, outcome.Clarifications, 1)
	assert.Equal(t, "Which John Doe?", outcome.Clarifications[0].Question)
	assert.Equal(t, []string{"DOB 1980-01-01", "DOB 1992-06-15"}, outcome.Clarifications[0].Options)
	assert.Len(t, ai.calls, 1)

	// The persisted snapshot ends with the assistant turn; the dangling tool
	// call gets its synthetic result only at resume.
	last, err := ledger.LastStep(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	tail := last.Transcript[len(last.Transcript)-1]
	assert.Equal(t, model.TurnRoleAssistant, tail.Role)
}

func TestLoop_StepBudgetExhausted(t *testing.T) {
	ledger := newTestLedger(t)
	run := newLedgerRun(t, ledger)
	tb := NewToolbox(records.NewMemory())
	sess := tb.newSession("org-1", "prov-1")

	responses := make([]*anthropic.MessageResponse, 3)
	for i := range responses {
		responses[i] = textResponse("thinking...")
	}
	ai := &scriptedModel{responses: responses}

	loop := NewLoop(ai, tb, ledger, "test-model", 1024, 3, nil)
	outcome, err := loop.Run(context.Background(), run.ID, "system", sess, startTranscript(), 1)
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, outcome.Kind)
	assert.Equal(t, 3, outcome.LastStep)
	assert.Equal(t, 300, outcome.Usage.InputTokens)
	assert.Len(t, ai.calls, 3)
}

func TestLoop_ModelErrorPropagates(t *testing.T) {
	ledger := newTestLedger(t)
	run := newLedgerRun(t, ledger)
	tb := NewToolbox(records.NewMemory())
	sess := tb.newSession("org-1", "prov-1")

	ai := &scriptedModel{err: eris.New("rate limited")}
	loop := NewLoop(ai, tb, ledger, "test-model", 1024, 10, nil)

	_, err := loop.Run(context.Background(), run.ID, "system", sess, startTranscript(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestLoop_StepCallbackObservesProgress(t *testing.T) {
	ledger := newTestLedger(t)
	run := newLedgerRun(t, ledger)
	tb := NewToolbox(records.NewMemory())
	sess := tb.newSession("org-1", "prov-1")

	var seen []int
	ai := &scriptedModel{responses: []*anthropic.MessageResponse{
		textResponse("looking"),
		toolResponse(submitCall("done")),
	}}

	loop := NewLoop(ai, tb, ledger, "test-model", 1024, 10, func(step model.Step) {
		seen = append(seen, step.StepNumber)
	})
	_, err := loop.Run(context.Background(), run.ID, "system", sess, startTranscript(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestLoop_ResumeContinuesStepNumbering(t *testing.T) {
	ledger := newTestLedger(t)
	run := newLedgerRun(t, ledger)
	tb := NewToolbox(records.NewMemory())
	sess := tb.newSession("org-1", "prov-1")

	ai := &scriptedModel{responses: []*anthropic.MessageResponse{
		toolResponse(submitCall("resumed and finished")),
	}}

	loop := NewLoop(ai, tb, ledger, "test-model", 1024, 10, nil)
	transcript := append(startTranscript(), model.Turn{Role: model.TurnRoleAssistant, Text: "prior work"},
		model.Turn{Role: model.TurnRoleUser, Text: "answers"})

	outcome, err := loop.Run(context.Background(), run.ID, "system", sess, transcript, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, outcome.LastStep)

	steps, err := ledger.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 4, steps[0].StepNumber)
}
