package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/clinical-copilot/internal/model"
)

func pausedSnapshot() []model.Turn {
	return []model.Turn{
		{Role: model.TurnRoleUser, Text: "Create a note for John"},
		{Role: model.TurnRoleAssistant, ToolCalls: []model.ToolCall{
			{ID: "tc-1", Name: toolSearchPatients, Input: map[string]any{"name": "John"}},
		}},
		{Role: model.TurnRoleUser, ToolResults: []model.ToolResult{
			{ToolCallID: "tc-1", Content: `{"count":2}`},
		}},
		{Role: model.TurnRoleAssistant, Text: "Two matches.", ToolCalls: []model.ToolCall{
			{ID: "tc-2", Name: toolAskClarification, Input: map[string]any{
				"questions": []any{map[string]any{"question": "Which John Doe?"}},
			}},
		}},
	}
}

func TestBuildResumeTranscript(t *testing.T) {
	qas := []QA{{Question: "Which John Doe?", Answer: "DOB 1980-01-01"}}

	transcript, err := buildResumeTranscript(pausedSnapshot(), qas)
	require.NoError(t, err)
	require.Len(t, transcript, 5)

	last := transcript[4]
	assert.Equal(t, model.TurnRoleUser, last.Role)
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "tc-2", last.ToolResults[0].ToolCallID)
	assert.Equal(t, clarificationPlaceholder, last.ToolResults[0].Content)
	assert.False(t, last.ToolResults[0].IsError)
	assert.Contains(t, last.Text, "Which John Doe?")
	assert.Contains(t, last.Text, "DOB 1980-01-01")
}

func TestBuildResumeTranscript_SynthesizesAllDanglingResults(t *testing.T) {
	snapshot := []model.Turn{
		{Role: model.TurnRoleUser, Text: "intent"},
		{Role: model.TurnRoleAssistant, ToolCalls: []model.ToolCall{
			{ID: "tc-1", Name: toolResolveEncounter, Input: map[string]any{"patient_id": "pat-1"}},
			{ID: "tc-2", Name: toolAskClarification, Input: map[string]any{
				"questions": []any{map[string]any{"question": "Which date?"}},
			}},
		}},
	}

	transcript, err := buildResumeTranscript(snapshot, []QA{{Question: "Which date?", Answer: "today"}})
	require.NoError(t, err)

	last := transcript[len(transcript)-1]
	require.Len(t, last.ToolResults, 2)
	assert.Equal(t, "tc-1", last.ToolResults[0].ToolCallID)
	assert.Equal(t, "tc-2", last.ToolResults[1].ToolCallID)
	assert.Equal(t, clarificationPlaceholder, last.ToolResults[1].Content)
}

func TestBuildResumeTranscript_DropsTurnsAfterPause(t *testing.T) {
	snapshot := append(pausedSnapshot(), model.Turn{Role: model.TurnRoleUser, Text: "stray turn"})

	transcript, err := buildResumeTranscript(snapshot, []QA{{Question: "q", Answer: "a"}})
	require.NoError(t, err)
	require.Len(t, transcript, 5)
	assert.NotEqual(t, "stray turn", transcript[4].Text)
}

func TestBuildResumeTranscript_NoAskCall(t *testing.T) {
	snapshot := []model.Turn{
		{Role: model.TurnRoleUser, Text: "intent"},
		{Role: model.TurnRoleAssistant, Text: "plain text"},
	}
	_, err := buildResumeTranscript(snapshot, []QA{{Question: "q", Answer: "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ask_clarification")
}

func TestBuildResumeTranscript_NoAnswers(t *testing.T) {
	_, err := buildResumeTranscript(pausedSnapshot(), nil)
	require.Error(t, err)
}

func TestBuildResumeTranscript_DoesNotMutateSnapshot(t *testing.T) {
	snapshot := pausedSnapshot()
	_, err := buildResumeTranscript(snapshot, []QA{{Question: "q", Answer: "a"}})
	require.NoError(t, err)
	require.Len(t, snapshot, 4)
	assert.Empty(t, snapshot[3].ToolCalls[0].Input["answered"])
}
