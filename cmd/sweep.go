package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire stale clarifications and unreviewed actions",
	Long:  "Marks clarifications and proposed actions past their retention window as expired. Intended to run on a schedule.",
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

		clarCutoff := time.Now().AddDate(0, 0, -cfg.Expiry.ClarificationDays)
		actionCutoff := time.Now().AddDate(0, 0, -cfg.Expiry.ActionDays)

		clars, err := st.ExpireStaleClarifications(ctx, clarCutoff)
		if err != nil {
			return err
		}
		actions, err := st.ExpireStaleActions(ctx, actionCutoff)
		if err != nil {
			return err
		}

		zap.L().Info("sweep complete",
			zap.Int("clarifications_expired", clars),
			zap.Int("actions_expired", actions),
			zap.Time("clarification_cutoff", clarCutoff),
			zap.Time("action_cutoff", actionCutoff),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
