package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harborview/clinical-copilot/internal/model"
)

var (
	commitProviderID string
	commitOrgID      string
	rejectUserID     string
	rejectReason     string
)

var commitCmd = &cobra.Command{
	Use:   "commit <action-group-id>",
	Short: "Commit an approved action group to the record store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.CommitActionGroup(ctx, args[0], commitProviderID, commitOrgID)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}

		if result.RunStatus == model.RunStatusConfirmingDiagnoses {
			fmt.Fprintf(os.Stderr, "Run %s proposed new diagnoses. Confirm with: copilot confirm-diagnoses %s\n", result.RunID, result.RunID)
		}
		return nil
	},
}

var confirmDiagnosesCmd = &cobra.Command{
	Use:   "confirm-diagnoses <run-id>",
	Short: "Activate diagnoses a committed run proposed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.ConfirmDiagnoses(ctx, args[0], commitProviderID); err != nil {
			return err
		}
		fmt.Printf("Run %s committed.\n", args[0])
		return nil
	},
}

var rejectActionCmd = &cobra.Command{
	Use:   "reject-action <action-id>",
	Short: "Reject a single proposed action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Pipeline.RejectAction(ctx, args[0], rejectUserID, rejectReason)
	},
}

var rejectRunCmd = &cobra.Command{
	Use:   "reject-run <run-id>",
	Short: "Reject a run and all its pending actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Runner.RejectRun(ctx, args[0], rejectUserID, rejectReason)
	},
}

func init() {
	commitCmd.Flags().StringVar(&commitProviderID, "provider", "", "committing provider ID (required)")
	commitCmd.Flags().StringVar(&commitOrgID, "org", "", "organization ID (required)")
	commitCmd.MarkFlagRequired("provider") //nolint:errcheck
	commitCmd.MarkFlagRequired("org")      //nolint:errcheck

	confirmDiagnosesCmd.Flags().StringVar(&commitProviderID, "provider", "", "confirming provider ID (required)")
	confirmDiagnosesCmd.MarkFlagRequired("provider") //nolint:errcheck

	rejectActionCmd.Flags().StringVar(&rejectUserID, "user", "", "rejecting user ID")
	rejectActionCmd.Flags().StringVar(&rejectReason, "reason", "", "rejection reason")
	rejectRunCmd.Flags().StringVar(&rejectUserID, "user", "", "rejecting user ID")
	rejectRunCmd.Flags().StringVar(&rejectReason, "reason", "", "rejection reason")

	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(confirmDiagnosesCmd)
	rootCmd.AddCommand(rejectActionCmd)
	rootCmd.AddCommand(rejectRunCmd)
}
