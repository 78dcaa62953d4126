// Package monitoring watches the run ledger for failure spikes, cost overruns
// and runs wedged in committing state, and raises webhook alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Run counts within the lookback window.
	RunsTotal            int     `json:"runs_total"`
	RunsCommitted        int     `json:"runs_committed"`
	RunsFailed           int     `json:"runs_failed"`
	RunsAwaitingReview   int     `json:"runs_awaiting_review"`
	RunsAwaitingAnswers  int     `json:"runs_awaiting_answers"`
	FailRate             float64 `json:"fail_rate"`
	ModelCostUSD         float64 `json:"model_cost_usd"`
	AvgTokensPerFinished int     `json:"avg_tokens_per_finished"`

	// StuckCommits lists runs that entered committing and never left. A run
	// here means a commit crashed mid-group and needs operator attention.
	StuckCommits []string `json:"stuck_commits,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers run metrics from the ledger.
type Collector struct {
	ledger store.Store

	// stuckAfter is how long a run may sit in committing before it counts
	// as stuck.
	stuckAfter time.Duration
}

// NewCollector creates a metrics collector over the run ledger.
func NewCollector(ledger store.Store, stuckAfter time.Duration) *Collector {
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}
	return &Collector{ledger: ledger, stuckAfter: stuckAfter}
}

// Collect gathers a snapshot of run health over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.ledger.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var finished, finishedTokens int
	for _, r := range runs {
		// Stuck commit detection ignores the lookback window: a wedged run
		// from last week is still wedged.
		if r.Status == model.RunStatusCommitting && c.stuckSince(r, snap.CollectedAt) {
			snap.StuckCommits = append(snap.StuckCommits, r.ID)
		}

		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		snap.ModelCostUSD += r.EstimatedCost

		switch r.Status {
		case model.RunStatusCommitted:
			snap.RunsCommitted++
			finished++
			finishedTokens += r.TotalTokens.Total()
		case model.RunStatusFailed:
			snap.RunsFailed++
			finished++
			finishedTokens += r.TotalTokens.Total()
		case model.RunStatusReadyToCommit, model.RunStatusConfirmingDiagnoses:
			snap.RunsAwaitingReview++
		case model.RunStatusNeedsClarification:
			snap.RunsAwaitingAnswers++
		}
	}

	if finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
		snap.AvgTokensPerFinished = finishedTokens / finished
	}
	return snap, nil
}

func (c *Collector) stuckSince(r model.Run, now time.Time) bool {
	since := r.CreatedAt
	if r.StartedAt != nil {
		since = *r.StartedAt
	}
	return now.Sub(since) >= c.stuckAfter
}
