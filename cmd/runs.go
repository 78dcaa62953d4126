package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect agent run history",
	Long:  "Commands for listing, viewing, summarizing and exporting agent runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		orgID, _ := cmd.Flags().GetString("org")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{
			OrgID:  orgID,
			Status: model.RunStatus(status),
			Limit:  limit,
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its steps, actions and clarifications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		steps, err := st.ListSteps(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		actions, err := st.ListActionsByRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		clars, err := st.ListClarifications(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"run":            run,
			"steps":          steps,
			"actions":        actions,
			"clarifications": clars,
		})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		filter := store.RunFilter{Limit: 10000}
		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		stats := computeRunStats(runs)
		formatRunStats(os.Stdout, stats)
		return nil
	},
}

// -- runs export --

var runsExportCmd = &cobra.Command{
	Use:   "export <output.xlsx>",
	Short: "Export run history to an xlsx workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		orgID, _ := cmd.Flags().GetString("org")
		runs, err := st.ListRuns(ctx, store.RunFilter{OrgID: orgID, Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs export")
		}

		file := xlsx.NewFile()
		sheet, err := file.AddSheet("Runs")
		if err != nil {
			return eris.Wrap(err, "runs export: add sheet")
		}

		header := sheet.AddRow()
		for _, h := range []string{"ID", "Org", "Provider", "Intent", "Status", "Input Tokens", "Output Tokens", "Cost USD", "Created", "Completed", "Error"} {
			header.AddCell().Value = h
		}

		for _, r := range runs {
			row := sheet.AddRow()
			row.AddCell().Value = r.ID
			row.AddCell().Value = r.OrgID
			row.AddCell().Value = r.ProviderID
			row.AddCell().Value = r.IntentType
			row.AddCell().Value = string(r.Status)
			row.AddCell().SetInt(r.TotalTokens.InputTokens)
			row.AddCell().SetInt(r.TotalTokens.OutputTokens)
			row.AddCell().SetFloat(r.EstimatedCost)
			row.AddCell().Value = r.CreatedAt.Format(time.RFC3339)
			if r.CompletedAt != nil {
				row.AddCell().Value = r.CompletedAt.Format(time.RFC3339)
			} else {
				row.AddCell().Value = ""
			}
			row.AddCell().Value = r.Error
		}

		if err := file.Save(args[0]); err != nil {
			return eris.Wrap(err, "runs export: save")
		}
		fmt.Fprintf(os.Stderr, "Exported %d runs to %s\n", len(runs), args[0])
		return nil
	},
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total       int
	Committed   int
	AwaitingRev int
	Paused      int
	Failed      int
	Rejected    int
	Other       int
	TotalCost   float64
	TotalTokens int
	AvgDurSecs  float64
}

func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		s.TotalCost += r.EstimatedCost
		s.TotalTokens += r.TotalTokens.Total()

		switch r.Status {
		case model.RunStatusCommitted:
			s.Committed++
		case model.RunStatusReadyToCommit, model.RunStatusConfirmingDiagnoses:
			s.AwaitingRev++
		case model.RunStatusNeedsClarification:
			s.Paused++
		case model.RunStatusFailed:
			s.Failed++
		case model.RunStatusRejected:
			s.Rejected++
		default:
			s.Other++
		}

		if r.StartedAt != nil && r.CompletedAt != nil {
			totalDur += r.CompletedAt.Sub(*r.StartedAt)
			durCount++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tINTENT\tSTATUS\tTOKENS\tCOST\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t------\t----\t-------")

	for _, r := range runs {
		intent := r.IntentType
		if intent == "" {
			intent = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%.4f\t%s\n",
			truncateID(r.ID),
			intent,
			r.Status,
			r.TotalTokens.Total(),
			r.EstimatedCost,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Committed:\t%d\n", s.Committed)
	_, _ = fmt.Fprintf(w, "Awaiting review:\t%d\n", s.AwaitingRev)
	_, _ = fmt.Fprintf(w, "Needs clarification:\t%d\n", s.Paused)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Rejected:\t%d\n", s.Rejected)
	_, _ = fmt.Fprintf(w, "Other:\t%d\n", s.Other)
	_, _ = fmt.Fprintf(w, "Total tokens:\t%d\n", s.TotalTokens)
	_, _ = fmt.Fprintf(w, "Total cost:\t$%.4f\n", s.TotalCost)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (pending, running, needs_clarification, ready_to_commit, committed, failed, rejected)")
	runsListCmd.Flags().String("org", "", "filter by organization ID")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsExportCmd.Flags().String("org", "", "filter by organization ID")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsExportCmd)
	rootCmd.AddCommand(runsCmd)
}
