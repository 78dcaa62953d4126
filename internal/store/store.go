// Package store persists the agent run ledger: runs, steps, clarifications
// and proposed actions. The ledger is the only mutation surface for a run's
// lifecycle and the source of truth for conversation reconstruction.
package store

import (
	"context"
	"time"

	"github.com/harborview/clinical-copilot/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	OrgID  string          `json:"org_id,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the agent run ledger.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	// GetRunByIdempotencyKey returns (nil, nil) when no run holds the key.
	GetRunByIdempotencyKey(ctx context.Context, orgID, key string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	SetRunError(ctx context.Context, runID string, errMsg string) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary string, usage model.TokenUsage, cost float64) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Steps (append-only)
	AppendStep(ctx context.Context, step *model.Step) error
	ListSteps(ctx context.Context, runID string) ([]model.Step, error)
	// LastStep returns (nil, nil) when the run has no steps.
	LastStep(ctx context.Context, runID string) (*model.Step, error)

	// Clarifications
	CreateClarifications(ctx context.Context, clars []model.Clarification) error
	ListClarifications(ctx context.Context, runID string) ([]model.Clarification, error)
	GetClarification(ctx context.Context, id string) (*model.Clarification, error)
	AnswerClarification(ctx context.Context, id, answer, answeredBy string) error
	ExpireStaleClarifications(ctx context.Context, olderThan time.Time) (int, error)

	// Proposed actions
	CreateActions(ctx context.Context, actions []model.ProposedAction) error
	ListActionsByGroup(ctx context.Context, groupID string) ([]model.ProposedAction, error)
	ListActionsByRun(ctx context.Context, runID string) ([]model.ProposedAction, error)
	GetAction(ctx context.Context, id string) (*model.ProposedAction, error)
	MarkActionCommitted(ctx context.Context, id, committedBy, resultID string) error
	MarkActionRejected(ctx context.Context, id, rejectedBy, reason string) error
	ExpireStaleActions(ctx context.Context, olderThan time.Time) (int, error)

	// ClaimActionGroup is the single-writer guard for commits: it atomically
	// moves the owning run from ready_to_commit to committing and returns the
	// run ID. A second concurrent claim fails.
	ClaimActionGroup(ctx context.Context, groupID string) (string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
