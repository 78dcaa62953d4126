// Package intent labels a clinician's free-text request with a best-effort
// intent type. Classification never blocks or fails a run.
package intent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/harborview/clinical-copilot/pkg/anthropic"
)

const classifySystemPrompt = `Classify the clinician request into exactly one label: progress_note, appointment, medication, billing, treatment_plan, utilization_review, chart_question, other. Respond with the label only.`

// keywordLabels maps request keywords to intent labels, checked before any
// model call.
var keywordLabels = []struct {
	keywords []string
	label    string
}{
	{[]string{"progress note", "session note", "write a note", "document the session"}, "progress_note"},
	{[]string{"appointment", "schedule", "reschedule", "book"}, "appointment"},
	{[]string{"medication", "prescri", "refill", "dosage", "dose"}, "medication"},
	{[]string{"billing", "cpt", "charge", "claim"}, "billing"},
	{[]string{"treatment plan", "care plan", "goals"}, "treatment_plan"},
	{[]string{"utilization review", "authorization", "auth request"}, "utilization_review"},
}

// validLabels guards against free-form model output.
var validLabels = map[string]bool{
	"progress_note": true, "appointment": true, "medication": true,
	"billing": true, "treatment_plan": true, "utilization_review": true,
	"chart_question": true, "other": true,
}

// Classifier labels intents, preferring deterministic keyword routing.
type Classifier struct {
	ai    anthropic.Client
	model string
}

// NewClassifier creates a Classifier. ai may be nil, in which case only
// keyword routing runs.
func NewClassifier(ai anthropic.Client, model string) *Classifier {
	return &Classifier{ai: ai, model: model}
}

// Classify returns an intent label for the input text, or "" when
// classification fails. Errors are logged, never propagated.
func (c *Classifier) Classify(ctx context.Context, inputText string) string {
	if label, ok := classifyByKeyword(inputText); ok {
		return label
	}
	if c.ai == nil {
		return ""
	}

	resp, err := c.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: 16,
		System:    classifySystemPrompt,
		Messages: []anthropic.Message{{
			Role:   "user",
			Blocks: []anthropic.Block{{Type: anthropic.BlockText, Text: inputText}},
		}},
	})
	if err != nil {
		zap.L().Warn("intent: classification failed", zap.Error(err))
		return ""
	}

	label := strings.ToLower(strings.TrimSpace(resp.Text))
	if !validLabels[label] {
		return "other"
	}
	return label
}

func classifyByKeyword(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kl := range keywordLabels {
		for _, kw := range kl.keywords {
			if strings.Contains(lower, kw) {
				return kl.label, true
			}
		}
	}
	return "", false
}
