package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/clinical-copilot/internal/billing"
	"github.com/harborview/clinical-copilot/internal/commit"
	"github.com/harborview/clinical-copilot/internal/intent"
	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/records"
	"github.com/harborview/clinical-copilot/internal/store"
	"github.com/harborview/clinical-copilot/internal/transcriptarena"
	"github.com/harborview/clinical-copilot/pkg/anthropic"
)

type runnerFixture struct {
	runner  *Runner
	ledger  *store.SQLiteStore
	records *records.MemoryStore
	ai      *scriptedModel
}

func newRunnerFixture(t *testing.T, responses ...*anthropic.MessageResponse) *runnerFixture {
	t.Helper()
	ledger := newTestLedger(t)
	rs := records.NewMemory()
	ai := &scriptedModel{responses: responses}

	runner := NewRunner(ledger, rs, ai, intent.NewClassifier(ai, "test-model"),
		transcriptarena.New(), Config{Model: "test-model", MaxTokens: 1024, MaxSteps: 10})
	return &runnerFixture{runner: runner, ledger: ledger, records: rs, ai: ai}
}

func (f *runnerFixture) seedJohnDoe(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	patientID, err := f.records.Insert(ctx, model.TablePatients, map[string]any{
		"org_id":        "org-1",
		"first_name":    "John",
		"last_name":     "Doe",
		"date_of_birth": "1980-01-01",
		"mrn":           "MRN-1001",
	})
	require.NoError(t, err)

	for _, s := range []map[string]any{
		{"patient_id": patientID, "measure": "PHQ-9", "score": 18.0, "recorded_at": "2026-06-01T00:00:00Z"},
		{"patient_id": patientID, "measure": "PHQ-9", "score": 14.0, "recorded_at": "2026-07-15T00:00:00Z"},
	} {
		_, err := f.records.Insert(ctx, model.TableScores, s)
		require.NoError(t, err)
	}
	return patientID
}

func submitReq() SubmitRequest {
	return SubmitRequest{
		OrgID:      "org-1",
		UserID:     "user-1",
		ProviderID: "prov-1",
		InputText:  "Create a progress note for John Doe from today's session. PHQ-9 score dropped to 11.",
	}
}

func TestSubmitIntent_EndToEndProgressNote(t *testing.T) {
	f := newRunnerFixture(t)
	patientID := f.seedJohnDoe(t)
	ctx := context.Background()

	f.ai.responses = []*anthropic.MessageResponse{
		toolResponse(anthropic.ToolCall{ID: "tc-1", Name: toolSearchPatients,
			Input: map[string]any{"name": "John Doe"}}),
		toolResponse(anthropic.ToolCall{ID: "tc-2", Name: toolLoadPatientContext,
			Input: map[string]any{"patient_id": patientID}}),
		toolResponse(anthropic.ToolCall{ID: "tc-3", Name: string(model.ActionCreateNoteDraft),
			Input: map[string]any{
				"patient_id": patientID,
				"content":    "S: Reports improved mood. PHQ-9 today 11, down from 14.\nO: Engaged.\nA: Improving.\nP: Continue weekly.",
				"standardized_scores": []any{
					map[string]any{"measure": "PHQ-9", "score": 11.0},
				},
				"confidence":  0.9,
				"assumptions": []any{"session occurred today"},
			}}),
		toolResponse(submitCall("Drafted one progress note with today's PHQ-9 score.")),
	}

	result, err := f.runner.SubmitIntent(ctx, submitReq())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusReadyToCommit, result.Status)
	assert.Equal(t, "progress_note", result.IntentType)
	require.Len(t, result.ProposedActions, 1)
	action := result.ProposedActions[0]
	assert.Equal(t, model.ActionCreateNoteDraft, action.ActionType)
	assert.Contains(t, action.Payload["content"], "PHQ-9 today 11")
	assert.InDelta(t, 0.9, action.Confidence, 1e-9)
	assert.Equal(t, []string{"session occurred today"}, action.Assumptions)
	assert.Equal(t, 400, result.TotalTokens.InputTokens)

	// Commit the group and verify the trust-boundary writes.
	codes, err := billing.LoadTable(nil)
	require.NoError(t, err)
	pipeline := commit.NewPipeline(f.ledger, f.records, codes)

	commitResult, err := pipeline.CommitActionGroup(ctx, action.ActionGroupID, "prov-1", "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, commitResult.Committed)
	assert.Equal(t, model.RunStatusCommitted, commitResult.RunStatus)

	notes, err := f.records.Find(ctx, model.TableClinicalNotes, records.Filter{"patient_id": patientID}, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "prov-1", notes[0]["signed_by"])

	scores, err := f.records.Find(ctx, model.TableScores, records.Filter{"patient_id": patientID}, 10)
	require.NoError(t, err)
	assert.Len(t, scores, 3) // two seeded plus the new one
}

func TestSubmitIntent_IdempotencyKeyDedup(t *testing.T) {
	f := newRunnerFixture(t, toolResponse(submitCall("done")))
	ctx := context.Background()

	req := submitReq()
	req.IdempotencyKey = "key-1"

	first, err := f.runner.SubmitIntent(ctx, req)
	require.NoError(t, err)
	modelCalls := len(f.ai.calls)

	second, err := f.runner.SubmitIntent(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, first.Status, second.Status)
	assert.Len(t, f.ai.calls, modelCalls, "second submission must not invoke the model")

	runs, err := f.ledger.ListRuns(ctx, store.RunFilter{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// blindLedger hides existing runs from the first idempotency lookups so a
// submission proceeds to CreateRun and collides with the unique index.
type blindLedger struct {
	store.Store
	misses int
}

func (l *blindLedger) GetRunByIdempotencyKey(ctx context.Context, orgID, key string) (*model.Run, error) {
	if l.misses > 0 {
		l.misses--
		return nil, nil
	}
	return l.Store.GetRunByIdempotencyKey(ctx, orgID, key)
}

func TestSubmitIntent_IdempotencyKeyRace(t *testing.T) {
	f := newRunnerFixture(t, toolResponse(submitCall("done")))
	ctx := context.Background()

	req := submitReq()
	req.IdempotencyKey = "key-1"

	first, err := f.runner.SubmitIntent(ctx, req)
	require.NoError(t, err)
	modelCalls := len(f.ai.calls)

	// A concurrent duplicate can pass the pre-insert lookup before the
	// winner's row lands. Replay the losing interleaving: the lookup sees
	// nothing, the insert hits the unique index, and the caller still gets
	// the winner's run back.
	racing := NewRunner(&blindLedger{Store: f.ledger, misses: 1}, f.records, f.ai,
		intent.NewClassifier(f.ai, "test-model"), transcriptarena.New(),
		Config{Model: "test-model", MaxTokens: 1024, MaxSteps: 10})

	second, err := racing.SubmitIntent(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, first.Status, second.Status)
	assert.Len(t, f.ai.calls, modelCalls, "losing submission must not invoke the model")

	runs, err := f.ledger.ListRuns(ctx, store.RunFilter{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSubmitIntent_PauseAndResume(t *testing.T) {
	f := newRunnerFixture(t,
		toolResponse(anthropic.ToolCall{ID: "tc-1", Name: toolAskClarification, Input: map[string]any{
			"questions": []any{map[string]any{"question": "Which John Doe?", "options": []any{"DOB 1980-01-01", "DOB 1992-06-15"}}},
		}}),
		toolResponse(submitCall("finished after clarification")),
	)
	ctx := context.Background()

	result, err := f.runner.SubmitIntent(ctx, submitReq())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusNeedsClarification, result.Status)
	require.Len(t, result.Clarifications, 1)
	clarID := result.Clarifications[0].ID

	// Resume before answering fails synchronously, without a model call.
	callsBefore := len(f.ai.calls)
	_, err = f.runner.ResumeAfterClarification(ctx, result.RunID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unanswered")
	assert.Len(t, f.ai.calls, callsBefore)

	require.NoError(t, f.runner.AnswerClarification(ctx, clarID, "DOB 1980-01-01", "prov-1"))

	resumed, err := f.runner.ResumeAfterClarification(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusReadyToCommit, resumed.Status)
	assert.Equal(t, "finished after clarification", resumed.Summary)

	// The resumed request carried the synthetic result and the answer text.
	resumeReq := f.ai.calls[len(f.ai.calls)-1]
	lastMsg := resumeReq.Messages[len(resumeReq.Messages)-1]
	require.NotEmpty(t, lastMsg.Blocks)
	assert.Equal(t, anthropic.BlockToolResult, lastMsg.Blocks[0].Type)
	assert.Equal(t, clarificationPlaceholder, lastMsg.Blocks[0].Text)

	// Step numbering continued.
	steps, err := f.ledger.ListSteps(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].StepNumber)
	assert.Equal(t, 2, steps[1].StepNumber)

	// Token counters accumulated across the pause.
	run, err := f.ledger.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, 200, run.TotalTokens.InputTokens)
}

func TestResume_WrongStatusRejected(t *testing.T) {
	f := newRunnerFixture(t, toolResponse(submitCall("done")))
	ctx := context.Background()

	result, err := f.runner.SubmitIntent(ctx, submitReq())
	require.NoError(t, err)
	require.Equal(t, model.RunStatusReadyToCommit, result.Status)

	_, err = f.runner.ResumeAfterClarification(ctx, result.RunID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not needs_clarification")
}

func TestSubmitIntent_ExhaustionFailsRun(t *testing.T) {
	responses := make([]*anthropic.MessageResponse, 10)
	for i := range responses {
		responses[i] = textResponse("still thinking")
	}
	f := newRunnerFixture(t, responses...)
	ctx := context.Background()

	result, err := f.runner.SubmitIntent(ctx, submitReq())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, result.Status)
	assert.Equal(t, exhaustedErrMsg, result.Error)

	run, err := f.ledger.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, exhaustedErrMsg, run.Error)
}

func TestSubmitIntent_ModelErrorFailsRun(t *testing.T) {
	f := newRunnerFixture(t) // no responses scripted
	ctx := context.Background()

	_, err := f.runner.SubmitIntent(ctx, submitReq())
	require.Error(t, err)

	runs, err := f.ledger.ListRuns(ctx, store.RunFilter{OrgID: "org-1"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

func TestSubmitIntent_Validation(t *testing.T) {
	f := newRunnerFixture(t)

	_, err := f.runner.SubmitIntent(context.Background(), SubmitRequest{InputText: "x"})
	require.Error(t, err)

	req := submitReq()
	req.InputText = ""
	_, err = f.runner.SubmitIntent(context.Background(), req)
	require.Error(t, err)
	assert.Empty(t, f.ai.calls)
}

func TestRejectRun(t *testing.T) {
	f := newRunnerFixture(t,
		toolResponse(
			anthropic.ToolCall{ID: "tc-1", Name: string(model.ActionCreateAppointment),
				Input: map[string]any{"patient_id": "pat-1", "scheduled_at": "2026-09-06T10:00:00Z"}},
		),
		toolResponse(submitCall("scheduled follow-up")),
	)
	ctx := context.Background()

	// Drafting at steps 1-2 is refused; push drafting into step 3 by burning
	// two steps on text.
	f.ai.responses = append([]*anthropic.MessageResponse{
		textResponse("let me think"), textResponse("ok"),
	}, f.ai.responses...)

	result, err := f.runner.SubmitIntent(ctx, submitReq())
	require.NoError(t, err)
	require.Equal(t, model.RunStatusReadyToCommit, result.Status)
	require.Len(t, result.ProposedActions, 1)

	require.NoError(t, f.runner.RejectRun(ctx, result.RunID, "user-1", "not wanted"))

	details, err := f.runner.GetRunWithDetails(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRejected, details.Run.Status)
	require.Len(t, details.Actions, 1)
	assert.Equal(t, model.ActionStatusRejected, details.Actions[0].Status)

	// Rejecting twice fails.
	assert.Error(t, f.runner.RejectRun(ctx, result.RunID, "user-1", "again"))
}

func TestGetRunWithDetails(t *testing.T) {
	f := newRunnerFixture(t, toolResponse(submitCall("done")))
	ctx := context.Background()

	result, err := f.runner.SubmitIntent(ctx, submitReq())
	require.NoError(t, err)

	details, err := f.runner.GetRunWithDetails(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.RunID, details.Run.ID)
	assert.Len(t, details.Steps, 1)
	assert.Empty(t, details.Clarifications)
}
