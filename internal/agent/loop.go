package agent

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/store"
	"github.com/harborview/clinical-copilot/pkg/anthropic"
)

// Phase boundaries for tool gating. Steps 1-2 expose lookup tools only so the
// model has to identify the patient before it may draft; from step 8 on only
// the terminal tools remain, forcing convergence.
const (
	lookupPhaseEnd   = 2
	draftingPhaseEnd = 7
)

// OutcomeKind classifies how the loop ended.
type OutcomeKind string

const (
	OutcomePaused    OutcomeKind = "paused"    // ask_clarification
	OutcomeSubmitted OutcomeKind = "submitted" // submit_results
	OutcomeExhausted OutcomeKind = "exhausted" // step budget spent
)

// Outcome is the result of one loop execution (initial or resumed).
type Outcome struct {
	Kind           OutcomeKind
	Clarifications []model.Clarification
	Actions        []model.ProposedAction
	Summary        string
	Usage          model.TokenUsage
	LastStep       int
	Transcript     []model.Turn
}

// StepCallback receives each persisted step for progress UI. It is invoked
// after persistence and must not block for long.
type StepCallback func(step model.Step)

// Loop drives the bounded tool-gated conversation for one run. Steps are
// strictly sequential; tool calls within a step are dispatched in the order
// the model emitted them.
type Loop struct {
	ai        anthropic.Client
	toolbox   *Toolbox
	ledger    store.Store
	model     string
	maxTokens int64
	maxSteps  int
	onStep    StepCallback
}

func NewLoop(ai anthropic.Client, tb *Toolbox, ledger store.Store, modelID string, maxTokens int64, maxSteps int, onStep StepCallback) *Loop {
	if maxSteps <= 0 {
		maxSteps = 10
	}
	return &Loop{ai: ai, toolbox: tb, ledger: ledger, model: modelID, maxTokens: maxTokens, maxSteps: maxSteps, onStep: onStep}
}

// toolNamesForStep applies the phase gate.
func toolNamesForStep(step int) []string {
	var names []string
	switch {
	case step <= lookupPhaseEnd:
		names = append(names, lookupToolNames...)
	case step <= draftingPhaseEnd:
		names = append(names, lookupToolNames...)
		names = append(names, draftingToolNames...)
	}
	return append(names, terminalToolNames...)
}

func toolAllowed(step int, name string) bool {
	for _, n := range toolNamesForStep(step) {
		if n == name {
			return true
		}
	}
	return false
}

// Run executes the loop from startStep until a terminal tool call, a model
// error or step-budget exhaustion. The transcript passed in must already end
// with a user turn.
func (l *Loop) Run(ctx context.Context, runID, systemPrompt string, sess *session, transcript []model.Turn, startStep int) (*Outcome, error) {
	var usage model.TokenUsage
	if startStep < 1 {
		startStep = 1
	}

	for stepNum := startStep; stepNum <= l.maxSteps; stepNum++ {
		resp, err := l.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     l.model,
			MaxTokens: l.maxTokens,
			System:    systemPrompt,
			Messages:  turnsToMessages(transcript),
			Tools:     toolSpecs(toolNamesForStep(stepNum)),
		})
		if err != nil {
			return nil, eris.Wrapf(err, "agent: model call at step %d", stepNum)
		}
		stepUsage := model.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		}
		usage.Add(stepUsage)

		assistant := model.Turn{Role: model.TurnRoleAssistant, Text: resp.Text}
		for _, tc := range resp.ToolCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, model.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Input})
		}
		transcript = append(transcript, assistant)

		step := model.Step{
			RunID:      runID,
			StepNumber: stepNum,
			StepType:   model.StepTypeModelText,
			Usage:      stepUsage,
		}

		var results []model.ToolResult
		var terminal OutcomeKind
		outputs := map[string]any{}

		for _, tc := range resp.ToolCalls {
			if step.ToolName == "" {
				step.StepType = model.StepTypeToolCall
				step.ToolName = tc.Name
				step.ToolInput = tc.Input
			}

			if !toolAllowed(stepNum, tc.Name) {
				results = append(results, errorResult(tc.ID, eris.Errorf("tool %s is not available at this step", tc.Name)))
				continue
			}

			switch tc.Name {
			case toolAskClarification:
				if err := sess.captureClarifications(tc.Input); err != nil {
					results = append(results, errorResult(tc.ID, err))
					continue
				}
				terminal = OutcomePaused
			case toolSubmitResults:
				if err := sess.captureResults(tc.Input); err != nil {
					results = append(results, errorResult(tc.ID, err))
					continue
				}
				terminal = OutcomeSubmitted
			default:
				result, err := l.toolbox.dispatch(ctx, sess, tc.Name, tc.Input)
				if err != nil {
					zap.L().Warn("agent: tool error",
						zap.String("run_id", runID),
						zap.Int("step", stepNum),
						zap.String("tool", tc.Name),
						zap.Error(err))
					results = append(results, errorResult(tc.ID, err))
					continue
				}
				outputs[tc.ID] = result
				content, _ := json.Marshal(result)
				results = append(results, model.ToolResult{ToolCallID: tc.ID, Content: string(content)})
			}

			// A well-formed terminal call ends the loop immediately. Its tool
			// result is deliberately not synthesized here; resume injects one.
			if terminal != "" {
				break
			}
		}

		if len(outputs) > 0 {
			step.ToolOutput = outputs
		}
		if terminal == "" {
			if len(results) > 0 {
				transcript = append(transcript, model.Turn{Role: model.TurnRoleUser, ToolResults: results})
			} else if len(resp.ToolCalls) == 0 {
				// Text-only step: give the model an explicit cue to proceed.
				transcript = append(transcript, model.Turn{Role: model.TurnRoleUser, Text: "Continue with the task. Use a tool to proceed, or submit_results when done."})
			}
		}

		step.Transcript = model.CloneTranscript(transcript)
		if err := l.ledger.AppendStep(ctx, &step); err != nil {
			return nil, eris.Wrap(err, "agent: append step")
		}
		if l.onStep != nil {
			l.onStep(step)
		}

		zap.L().Debug("agent: step complete",
			zap.String("run_id", runID),
			zap.Int("step", stepNum),
			zap.String("tool", step.ToolName),
			zap.Int("tool_calls", len(resp.ToolCalls)))

		if terminal != "" {
			return &Outcome{
				Kind:           terminal,
				Clarifications: sess.clarifications,
				Actions:        sess.actions,
				Summary:        sess.summary,
				Usage:          usage,
				LastStep:       stepNum,
				Transcript:     transcript,
			}, nil
		}
	}

	return &Outcome{
		Kind:       OutcomeExhausted,
		Usage:      usage,
		LastStep:   l.maxSteps,
		Transcript: transcript,
	}, nil
}

func errorResult(toolCallID string, err error) model.ToolResult {
	return model.ToolResult{ToolCallID: toolCallID, Content: err.Error(), IsError: true}
}

// turnsToMessages converts the persisted transcript representation into the
// wire message shape. Tool results must precede any text in a user message.
func turnsToMessages(turns []model.Turn) []anthropic.Message {
	msgs := make([]anthropic.Message, 0, len(turns))
	for _, t := range turns {
		var blocks []anthropic.Block
		if t.Role == model.TurnRoleAssistant {
			if t.Text != "" {
				blocks = append(blocks, anthropic.Block{Type: anthropic.BlockText, Text: t.Text})
			}
			for _, tc := range t.ToolCalls {
				blocks = append(blocks, anthropic.Block{
					Type:      anthropic.BlockToolUse,
					ToolID:    tc.ID,
					ToolName:  tc.Name,
					ToolInput: tc.Input,
				})
			}
		} else {
			for _, tr := range t.ToolResults {
				blocks = append(blocks, anthropic.Block{
					Type:    anthropic.BlockToolResult,
					ToolID:  tr.ToolCallID,
					Text:    tr.Content,
					IsError: tr.IsError,
				})
			}
			if t.Text != "" {
				blocks = append(blocks, anthropic.Block{Type: anthropic.BlockText, Text: t.Text})
			}
		}
		msgs = append(msgs, anthropic.Message{Role: string(t.Role), Blocks: blocks})
	}
	return msgs
}
