package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborview/clinical-copilot/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "copilot",
	Short: "Clinical workflow assistant",
	Long:  "Turns free-text clinician intents into reviewed record mutations: an agent loop drafts proposed actions, a provider approves them, the commit pipeline writes them.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
