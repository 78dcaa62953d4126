package agent

import "strings"

const systemPromptBase = `You are a clinical workflow assistant for a behavioral-health practice.
A clinician has stated an intent in natural language. Your job is to gather the
context you need, draft the requested clinical artifacts, and propose them as
structured actions for the clinician to review. You never write to the medical
record yourself; every draft you produce is held for human approval.

Ground rules:
- Identify the patient and load their chart before drafting anything.
- Draft only what the clinician asked for. Do not invent clinical findings.
- When a drafted action depends on a record created by an earlier action in the
  same run, reference it with the placeholder "$ref:<key>" using the ref key
  returned by the earlier tool.
- List any assumptions you made in the action's assumptions field.
- If the intent is ambiguous (wrong patient match, missing date, unclear
  medication), call ask_clarification instead of guessing.
- When your drafts are complete, call submit_results with a short summary.`

// buildSystemPrompt assembles the system prompt from the base instructions,
// the rendered patient chart (when a patient is already known) and the live
// session transcript (when one is attached to the intent).
func buildSystemPrompt(intentType, patientContext, sessionTranscript string) string {
	var b strings.Builder
	b.WriteString(systemPromptBase)

	if intentType != "" {
		b.WriteString("\n\nThe intent was classified as: ")
		b.WriteString(intentType)
	}
	if patientContext != "" {
		b.WriteString("\n\n## Patient Chart\n\n")
		b.WriteString(patientContext)
	}
	if sessionTranscript != "" {
		b.WriteString("\n\n## Session Transcript\n\n")
		b.WriteString(sessionTranscript)
	}
	return b.String()
}
