package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/harborview/clinical-copilot/internal/model"
)

var (
	answerText string
	answerBy   string
)

var answerCmd = &cobra.Command{
	Use:   "answer <clarification-id>",
	Short: "Record a provider's answer to a pending clarification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if answerText == "" {
			return eris.New("--answer is required")
		}
		return env.Runner.AnswerClarification(ctx, args[0], answerText, answerBy)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a paused run once all its clarifications are answered",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Runner.ResumeAfterClarification(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var clarificationsCmd = &cobra.Command{
	Use:   "clarifications <run-id>",
	Short: "List a run's clarifications and their answers",
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

		clars, err := st.ListClarifications(ctx, args[0])
		if err != nil {
			return err
		}
		if clars == nil {
			clars = []model.Clarification{}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(clars)
	},
}

func init() {
	answerCmd.Flags().StringVar(&answerText, "answer", "", "answer text (required)")
	answerCmd.Flags().StringVar(&answerBy, "by", "", "answering user ID")
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(clarificationsCmd)
}
