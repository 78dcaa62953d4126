package agent

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/harborview/clinical-copilot/internal/model"
)

// clarificationPlaceholder is the synthetic tool result injected for the
// dangling ask_clarification call when a paused conversation is rebuilt.
// Every emitted tool call must have a matching result before the conversation
// can continue, but the loop terminated before producing one.
const clarificationPlaceholder = "questions sent to provider for clarification"

// QA pairs one clarification question with its answer for resume.
type QA struct {
	Question string
	Answer   string
}

// buildResumeTranscript reconstructs the conversation for a paused run from
// the last persisted transcript snapshot. It finds the most recent assistant
// turn containing an ask_clarification call, synthesizes the placeholder
// result for it, and appends the question/answer pairs as plain text in the
// same user turn. Pure function; callers pass a snapshot they own.
func buildResumeTranscript(snapshot []model.Turn, qas []QA) ([]model.Turn, error) {
	if len(qas) == 0 {
		return nil, eris.New("resume: no answered clarifications")
	}

	askCallID := ""
	askTurn := -1
	for i := len(snapshot) - 1; i >= 0; i-- {
		if snapshot[i].Role != model.TurnRoleAssistant {
			continue
		}
		for _, tc := range snapshot[i].ToolCalls {
			if tc.Name == toolAskClarification {
				askCallID = tc.ID
				askTurn = i
				break
			}
		}
		if askCallID != "" {
			break
		}
	}
	if askCallID == "" {
		return nil, eris.New("resume: transcript has no ask_clarification call")
	}

	// Anything after the pausing turn would corrupt the tool-call pairing.
	transcript := model.CloneTranscript(snapshot[:askTurn+1])

	// Every tool call in the pausing turn needs a result, not just the
	// ask_clarification call itself.
	var synthesized []model.ToolResult
	for _, tc := range transcript[askTurn].ToolCalls {
		content := clarificationPlaceholder
		if tc.Name != toolAskClarification {
			content = "result unavailable; the run paused for clarification"
		}
		synthesized = append(synthesized, model.ToolResult{ToolCallID: tc.ID, Content: content})
	}

	var b strings.Builder
	b.WriteString("The provider answered the clarification questions:\n")
	for i, qa := range qas {
		fmt.Fprintf(&b, "\nQ%d: %s\nA%d: %s\n", i+1, qa.Question, i+1, qa.Answer)
	}
	b.WriteString("\nContinue the task with these answers.")

	transcript = append(transcript, model.Turn{
		Role:        model.TurnRoleUser,
		ToolResults: synthesized,
		Text:        b.String(),
	})
	return transcript, nil
}
