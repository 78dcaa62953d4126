package agent

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview/clinical-copilot/internal/cost"
	"github.com/harborview/clinical-copilot/internal/intent"
	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/records"
	"github.com/harborview/clinical-copilot/internal/store"
	"github.com/harborview/clinical-copilot/internal/transcriptarena"
	"github.com/harborview/clinical-copilot/pkg/anthropic"
)

const exhaustedErrMsg = "step budget exhausted without a terminal tool call"

// Config holds the runner's tunables.
type Config struct {
	Model     string
	MaxTokens int64
	MaxSteps  int
}

// Runner owns the run lifecycle: intent submission, clarification resume and
// run inspection. It is the only component that mutates run state outside the
// commit pipeline.
type Runner struct {
	ledger      store.Store
	records     records.Store
	ai          anthropic.Client
	classifier  *intent.Classifier
	transcripts transcriptarena.Store
	toolbox     *Toolbox
	costs       *cost.Calculator
	cfg         Config
	onStep      StepCallback
}

func NewRunner(ledger store.Store, rs records.Store, ai anthropic.Client, classifier *intent.Classifier, transcripts transcriptarena.Store, cfg Config) *Runner {
	return &Runner{
		ledger:      ledger,
		records:     rs,
		ai:          ai,
		classifier:  classifier,
		transcripts: transcripts,
		toolbox:     NewToolbox(rs),
		costs:       cost.NewCalculator(cost.DefaultRates()),
		cfg:         cfg,
	}
}

// WithStepCallback sets a progress callback invoked after each step persists.
func (r *Runner) WithStepCallback(cb StepCallback) *Runner {
	r.onStep = cb
	return r
}

// SubmitRequest is one natural-language intent submission.
type SubmitRequest struct {
	OrgID               string `json:"org_id"`
	UserID              string `json:"user_id"`
	ProviderID          string `json:"provider_id"`
	InputText           string `json:"input_text"`
	PatientID           string `json:"patient_id,omitempty"`
	EncounterID         string `json:"encounter_id,omitempty"`
	TranscriptSessionID string `json:"transcript_session_id,omitempty"`
	IdempotencyKey      string `json:"idempotency_key,omitempty"`
}

// RunResult is the caller-facing shape returned by submit and resume.
type RunResult struct {
	RunID           string                 `json:"run_id"`
	Status          model.RunStatus        `json:"status"`
	IntentType      string                 `json:"intent_type,omitempty"`
	Clarifications  []model.Clarification  `json:"clarifications,omitempty"`
	ProposedActions []model.ProposedAction `json:"proposed_actions,omitempty"`
	Summary         string                 `json:"summary,omitempty"`
	TotalTokens     model.TokenUsage       `json:"total_tokens"`
	EstimatedCost   float64                `json:"estimated_cost"`
	Error           string                 `json:"error,omitempty"`
}

// RunDetails bundles a run with its full ledger for inspection.
type RunDetails struct {
	Run            *model.Run             `json:"run"`
	Steps          []model.Step           `json:"steps"`
	Actions        []model.ProposedAction `json:"actions"`
	Clarifications []model.Clarification  `json:"clarifications"`
}

// SubmitIntent creates a run for the given intent and drives the orchestration
// loop to its first pause or completion. A duplicate idempotency key returns
// the existing run's current state without invoking the model.
func (r *Runner) SubmitIntent(ctx context.Context, req SubmitRequest) (*RunResult, error) {
	if req.OrgID == "" || req.UserID == "" || req.ProviderID == "" {
		return nil, eris.New("agent: org_id, user_id and provider_id are required")
	}
	if req.InputText == "" {
		return nil, eris.New("agent: input_text is required")
	}

	if req.IdempotencyKey != "" {
		existing, err := r.ledger.GetRunByIdempotencyKey(ctx, req.OrgID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			zap.L().Info("agent: idempotent resubmission",
				zap.String("run_id", existing.ID),
				zap.String("idempotency_key", req.IdempotencyKey))
			return r.resultForRun(ctx, existing)
		}
	}

	run := &model.Run{
		OrgID:          req.OrgID,
		UserID:         req.UserID,
		ProviderID:     req.ProviderID,
		PatientID:      req.PatientID,
		EncounterID:    req.EncounterID,
		InputText:      req.InputText,
		IdempotencyKey: req.IdempotencyKey,
		IntentType:     r.classifier.Classify(ctx, req.InputText),
	}
	if err := r.ledger.CreateRun(ctx, run); err != nil {
		// Two submissions with the same key can both pass the lookup above;
		// the unique index decides the winner. Hand the loser the winner's
		// run instead of the constraint violation.
		if req.IdempotencyKey != "" {
			existing, lookupErr := r.ledger.GetRunByIdempotencyKey(ctx, req.OrgID, req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				zap.L().Info("agent: idempotent resubmission",
					zap.String("run_id", existing.ID),
					zap.String("idempotency_key", req.IdempotencyKey))
				return r.resultForRun(ctx, existing)
			}
		}
		return nil, err
	}
	if err := r.ledger.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
		return nil, err
	}

	zap.L().Info("agent: run started",
		zap.String("run_id", run.ID),
		zap.String("org_id", run.OrgID),
		zap.String("intent_type", run.IntentType))

	systemPrompt, err := r.buildPrompt(ctx, run, req.TranscriptSessionID)
	if err != nil {
		return r.failRun(ctx, run, err)
	}

	transcript := []model.Turn{{Role: model.TurnRoleUser, Text: req.InputText}}
	sess := r.toolbox.newSession(run.OrgID, run.ProviderID)

	outcome, err := r.newLoop().Run(ctx, run.ID, systemPrompt, sess, transcript, 1)
	if err != nil {
		return r.failRun(ctx, run, err)
	}
	return r.settle(ctx, run, outcome, model.TokenUsage{})
}

// ResumeAfterClarification re-enters the loop for a paused run once every
// clarification has an answer. It fails synchronously, before any model call,
// if the run is not paused or a question is unanswered.
func (r *Runner) ResumeAfterClarification(ctx context.Context, runID string) (*RunResult, error) {
	run, err := r.ledger.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunStatusNeedsClarification {
		return nil, eris.Errorf("agent: run %s is %s, not needs_clarification", runID, run.Status)
	}

	clars, err := r.ledger.ListClarifications(ctx, runID)
	if err != nil {
		return nil, err
	}
	var qas []QA
	for _, c := range clars {
		if c.Status == model.ClarificationExpired {
			continue
		}
		if !c.Answered() {
			return nil, eris.Errorf("agent: clarification %s is unanswered", c.ID)
		}
		qas = append(qas, QA{Question: c.Question, Answer: c.Answer})
	}

	last, err := r.ledger.LastStep(ctx, runID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, eris.Errorf("agent: run %s has no steps to resume from", runID)
	}

	transcript, err := buildResumeTranscript(last.Transcript, qas)
	if err != nil {
		return nil, err
	}

	if err := r.ledger.UpdateRunStatus(ctx, runID, model.RunStatusRunning); err != nil {
		return nil, err
	}

	zap.L().Info("agent: run resumed",
		zap.String("run_id", runID),
		zap.Int("from_step", last.StepNumber+1),
		zap.Int("answers", len(qas)))

	systemPrompt, err := r.buildPrompt(ctx, run, "")
	if err != nil {
		return r.failRun(ctx, run, err)
	}

	sess := r.toolbox.newSession(run.OrgID, run.ProviderID)
	outcome, err := r.newLoop().Run(ctx, run.ID, systemPrompt, sess, transcript, last.StepNumber+1)
	if err != nil {
		return r.failRun(ctx, run, err)
	}
	return r.settle(ctx, run, outcome, run.TotalTokens)
}

// AnswerClarification records a provider's answer.
func (r *Runner) AnswerClarification(ctx context.Context, clarificationID, answer, answeredBy string) error {
	if answer == "" {
		return eris.New("agent: answer must not be empty")
	}
	return r.ledger.AnswerClarification(ctx, clarificationID, answer, answeredBy)
}

// GetRunWithDetails loads a run with its steps, actions and clarifications.
func (r *Runner) GetRunWithDetails(ctx context.Context, runID string) (*RunDetails, error) {
	run, err := r.ledger.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	steps, err := r.ledger.ListSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	actions, err := r.ledger.ListActionsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	clars, err := r.ledger.ListClarifications(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunDetails{Run: run, Steps: steps, Actions: actions, Clarifications: clars}, nil
}

// RejectRun rejects a run and all of its still-pending actions.
func (r *Runner) RejectRun(ctx context.Context, runID, userID, reason string) error {
	run, err := r.ledger.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	switch run.Status {
	case model.RunStatusCommitted, model.RunStatusRejected, model.RunStatusFailed:
		return eris.Errorf("agent: run %s is already %s", runID, run.Status)
	}

	actions, err := r.ledger.ListActionsByRun(ctx, runID)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if a.Status != model.ActionStatusPending {
			continue
		}
		if err := r.ledger.MarkActionRejected(ctx, a.ID, userID, reason); err != nil {
			return err
		}
	}
	if err := r.ledger.UpdateRunStatus(ctx, runID, model.RunStatusRejected); err != nil {
		return err
	}
	zap.L().Info("agent: run rejected",
		zap.String("run_id", runID),
		zap.String("by", userID))
	return nil
}

func (r *Runner) newLoop() *Loop {
	return NewLoop(r.ai, r.toolbox, r.ledger, r.cfg.Model, r.cfg.MaxTokens, r.cfg.MaxSteps, r.onStep)
}

func (r *Runner) buildPrompt(ctx context.Context, run *model.Run, sessionID string) (string, error) {
	patientContext := ""
	if run.PatientID != "" {
		pc, err := r.toolbox.agg.BuildContext(ctx, run.PatientID)
		if err != nil {
			return "", eris.Wrap(err, "agent: build patient context")
		}
		patientContext = pc.Render()
	}

	sessionText := ""
	if sessionID != "" && r.transcripts != nil {
		session, err := r.transcripts.Get(ctx, sessionID)
		if err != nil {
			zap.L().Warn("agent: transcript session unavailable",
				zap.String("session_id", sessionID),
				zap.Error(err))
		} else if session != nil {
			sessionText = session.Text
		}
	}
	return buildSystemPrompt(run.IntentType, patientContext, sessionText), nil
}

// settle persists a loop outcome onto the run and assembles the caller result.
// priorUsage carries token totals from before a resume so counters accumulate.
func (r *Runner) settle(ctx context.Context, run *model.Run, outcome *Outcome, priorUsage model.TokenUsage) (*RunResult, error) {
	total := priorUsage
	total.Add(outcome.Usage)
	estimated := r.costs.Claude(r.cfg.Model, total.InputTokens, total.OutputTokens)

	result := &RunResult{
		RunID:         run.ID,
		IntentType:    run.IntentType,
		TotalTokens:   total,
		EstimatedCost: estimated,
	}

	switch outcome.Kind {
	case OutcomePaused:
		clars := make([]model.Clarification, len(outcome.Clarifications))
		copy(clars, outcome.Clarifications)
		for i := range clars {
			clars[i].RunID = run.ID
		}
		if err := r.ledger.CreateClarifications(ctx, clars); err != nil {
			return nil, err
		}
		if err := r.ledger.FinishRun(ctx, run.ID, model.RunStatusNeedsClarification, "", total, estimated); err != nil {
			return nil, err
		}
		result.Status = model.RunStatusNeedsClarification
		result.Clarifications = clars
		zap.L().Info("agent: run paused for clarification",
			zap.String("run_id", run.ID),
			zap.Int("questions", len(clars)))

	case OutcomeSubmitted:
		groupID := uuid.New().String()
		actions := make([]model.ProposedAction, len(outcome.Actions))
		copy(actions, outcome.Actions)
		for i := range actions {
			actions[i].RunID = run.ID
			actions[i].ActionGroupID = groupID
			actions[i].ActionOrder = i + 1
		}
		if len(actions) > 0 {
			if err := r.ledger.CreateActions(ctx, actions); err != nil {
				return nil, err
			}
		}
		if err := r.ledger.FinishRun(ctx, run.ID, model.RunStatusReadyToCommit, outcome.Summary, total, estimated); err != nil {
			return nil, err
		}
		result.Status = model.RunStatusReadyToCommit
		result.ProposedActions = actions
		result.Summary = outcome.Summary
		zap.L().Info("agent: run ready to commit",
			zap.String("run_id", run.ID),
			zap.String("action_group_id", groupID),
			zap.Int("actions", len(actions)),
			zap.Int("total_tokens", total.Total()),
			zap.Float64("estimated_cost_usd", estimated))

	case OutcomeExhausted:
		if err := r.ledger.FinishRun(ctx, run.ID, model.RunStatusFailed, "", total, estimated); err != nil {
			return nil, err
		}
		if err := r.ledger.SetRunError(ctx, run.ID, exhaustedErrMsg); err != nil {
			return nil, err
		}
		result.Status = model.RunStatusFailed
		result.Error = exhaustedErrMsg
		zap.L().Warn("agent: step budget exhausted", zap.String("run_id", run.ID))

	default:
		return nil, eris.Errorf("agent: unknown outcome %q", outcome.Kind)
	}

	return result, nil
}

// failRun records a loop-level failure on the run and returns the error.
func (r *Runner) failRun(ctx context.Context, run *model.Run, cause error) (*RunResult, error) {
	if err := r.ledger.SetRunError(ctx, run.ID, cause.Error()); err != nil {
		zap.L().Error("agent: failed to record run error",
			zap.String("run_id", run.ID),
			zap.Error(err))
	}
	zap.L().Error("agent: run failed",
		zap.String("run_id", run.ID),
		zap.Error(cause))
	return nil, cause
}

// resultForRun rebuilds a RunResult from persisted state, used for idempotent
// resubmissions.
func (r *Runner) resultForRun(ctx context.Context, run *model.Run) (*RunResult, error) {
	result := &RunResult{
		RunID:         run.ID,
		Status:        run.Status,
		IntentType:    run.IntentType,
		Summary:       run.ResultSummary,
		TotalTokens:   run.TotalTokens,
		EstimatedCost: run.EstimatedCost,
		Error:         run.Error,
	}
	clars, err := r.ledger.ListClarifications(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	result.Clarifications = clars

	actions, err := r.ledger.ListActionsByRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	result.ProposedActions = actions
	return result, nil
}
