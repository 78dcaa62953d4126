package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harborview/clinical-copilot/internal/agent"
)

var (
	submitOrgID      string
	submitUserID     string
	submitProviderID string
	submitPatientID  string
	submitEncounter  string
	submitSessionID  string
	submitIdemKey    string
)

var submitCmd = &cobra.Command{
	Use:   "submit [intent text]",
	Short: "Submit a clinician intent and run the agent to its first pause",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Runner.SubmitIntent(ctx, agent.SubmitRequest{
			OrgID:               submitOrgID,
			UserID:              submitUserID,
			ProviderID:          submitProviderID,
			InputText:           strings.Join(args, " "),
			PatientID:           submitPatientID,
			EncounterID:         submitEncounter,
			TranscriptSessionID: submitSessionID,
			IdempotencyKey:      submitIdemKey,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}

		switch {
		case len(result.Clarifications) > 0:
			fmt.Fprintf(os.Stderr, "Run %s paused: %d clarification(s) need answers.\n", result.RunID, len(result.Clarifications))
		case len(result.ProposedActions) > 0:
			fmt.Fprintf(os.Stderr, "Run %s proposed %d action(s) awaiting approval.\n", result.RunID, len(result.ProposedActions))
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitOrgID, "org", "", "organization ID (required)")
	submitCmd.Flags().StringVar(&submitUserID, "user", "", "submitting user ID (required)")
	submitCmd.Flags().StringVar(&submitProviderID, "provider", "", "provider ID the run acts as (required)")
	submitCmd.Flags().StringVar(&submitPatientID, "patient", "", "patient ID, if known")
	submitCmd.Flags().StringVar(&submitEncounter, "encounter", "", "encounter ID, if known")
	submitCmd.Flags().StringVar(&submitSessionID, "session", "", "transcript session ID for session-note intents")
	submitCmd.Flags().StringVar(&submitIdemKey, "idempotency-key", "", "dedupe key, repeat submits return the original run")
	submitCmd.MarkFlagRequired("org")     //nolint:errcheck
	submitCmd.MarkFlagRequired("user")    //nolint:errcheck
	submitCmd.MarkFlagRequired("provider") //nolint:errcheck
	rootCmd.AddCommand(submitCmd)
}
