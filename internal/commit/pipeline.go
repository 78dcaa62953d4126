package commit

import (
	"context"

	"go.uber.org/zap"

	"github.com/rotisserie/eris"

	"github.com/harborview/clinical-copilot/internal/billing"
	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/records"
	"github.com/harborview/clinical-copilot/internal/store"
)

// ActionResult reports the outcome of one attempted action. Actions after the
// first failure are never attempted and do not appear in the list.
type ActionResult struct {
	ActionID   string           `json:"action_id"`
	ActionType model.ActionType `json:"action_type"`
	Success    bool             `json:"success"`
	ResultID   string           `json:"result_id,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// CommitResult is the caller-facing summary of one commit attempt.
type CommitResult struct {
	RunID     string          `json:"run_id"`
	RunStatus model.RunStatus `json:"run_status"`
	Committed int             `json:"committed"`
	Results   []ActionResult  `json:"results"`
}

// Pipeline executes approved action groups against the record store. Fail
// fast, no rollback: a failure stops the group, already-committed actions
// stay committed and the remainder stays pending for a later retry.
type Pipeline struct {
	ledger  store.Store
	records records.Store
	codes   *billing.Table
}

func NewPipeline(ledger store.Store, rs records.Store, codes *billing.Table) *Pipeline {
	return &Pipeline{ledger: ledger, records: rs, codes: codes}
}

// CommitActionGroup executes every pending action in the group, in order.
// The claim at the top is the single-writer guard: it atomically moves the
// owning run from ready_to_commit to committing, so a concurrent second
// commit attempt on the same group fails before touching the record store.
// Re-running after a partial failure naturally skips committed actions since
// only pending ones are loaded.
func (p *Pipeline) CommitActionGroup(ctx context.Context, groupID, providerID, orgID string) (*CommitResult, error) {
	runID, err := p.ledger.ClaimActionGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	actions, err := p.ledger.ListActionsByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	wc := &writerContext{
		records:    p.records,
		codes:      p.codes,
		runID:      runID,
		orgID:      orgID,
		providerID: providerID,
	}
	refs := NewRefTable()

	result := &CommitResult{RunID: runID}
	failed := false
	needsConfirm := false

	for _, action := range actions {
		if action.Status != model.ActionStatusPending {
			// Published so later actions can still reference records from a
			// previous partial commit of this group.
			if action.Status == model.ActionStatusCommitted && action.ResultID != "" {
				refs.Publish(action.ActionType.RefKey(), action.ResultID)
			}
			continue
		}

		payload, err := refs.ResolvePayload(action.Payload)
		if err == nil && !model.ValidActionType(action.ActionType) {
			err = eris.Errorf("unknown action type: %s", action.ActionType)
		}

		var wr *writeResult
		if err == nil {
			wr, err = wc.write(ctx, action.ActionType, payload)
		}
		if err != nil {
			zap.L().Warn("commit: action failed",
				zap.String("run_id", runID),
				zap.String("action_id", action.ID),
				zap.String("action_type", string(action.ActionType)),
				zap.Error(err))
			result.Results = append(result.Results, ActionResult{
				ActionID:   action.ID,
				ActionType: action.ActionType,
				Success:    false,
				Error:      err.Error(),
			})
			failed = true
			break
		}

		if err := p.ledger.MarkActionCommitted(ctx, action.ID, providerID, wr.ID); err != nil {
			return nil, err
		}
		refs.Publish(action.ActionType.RefKey(), wr.ID)
		if wr.NeedsDiagnosisConfirmation {
			needsConfirm = true
		}

		result.Results = append(result.Results, ActionResult{
			ActionID:   action.ID,
			ActionType: action.ActionType,
			Success:    true,
			ResultID:   wr.ID,
		})
		result.Committed++
	}

	switch {
	case failed:
		// Re-arm the run so the caller can reject it or retry the remainder
		// with a fresh claim.
		result.RunStatus = model.RunStatusReadyToCommit
	case needsConfirm:
		result.RunStatus = model.RunStatusConfirmingDiagnoses
	default:
		result.RunStatus = model.RunStatusCommitted
	}
	if err := p.ledger.UpdateRunStatus(ctx, runID, result.RunStatus); err != nil {
		return nil, err
	}

	zap.L().Info("commit: action group processed",
		zap.String("run_id", runID),
		zap.String("action_group_id", groupID),
		zap.Int("committed", result.Committed),
		zap.Bool("failed", failed),
		zap.String("run_status", string(result.RunStatus)))
	return result, nil
}

// ConfirmDiagnoses activates the diagnoses a commit filed as pending and
// completes the run.
func (p *Pipeline) ConfirmDiagnoses(ctx context.Context, runID, providerID string) error {
	run, err := p.ledger.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != model.RunStatusConfirmingDiagnoses {
		return eris.Errorf("run %s is %s, not confirming_diagnoses", runID, run.Status)
	}

	pending, err := p.records.Find(ctx, model.TableDiagnoses,
		records.Filter{"proposed_by_run_id": runID, "status": "pending_confirmation"}, 50)
	if err != nil {
		return eris.Wrap(err, "load pending diagnoses")
	}
	for _, d := range pending {
		id, ok := d["id"].(string)
		if !ok {
			continue
		}
		if err := p.records.Update(ctx, model.TableDiagnoses, id, map[string]any{
			"status":       "active",
			"confirmed_by": providerID,
		}); err != nil {
			return eris.Wrap(err, "confirm diagnosis")
		}
	}

	zap.L().Info("commit: diagnoses confirmed",
		zap.String("run_id", runID),
		zap.Int("count", len(pending)))
	return p.ledger.UpdateRunStatus(ctx, runID, model.RunStatusCommitted)
}

// RejectAction rejects one pending action without executing it.
func (p *Pipeline) RejectAction(ctx context.Context, actionID, userID, reason string) error {
	return p.ledger.MarkActionRejected(ctx, actionID, userID, reason)
}
