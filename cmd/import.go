package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harborview/clinical-copilot/internal/roster"
)

var importOrgID string

var importCmd = &cobra.Command{
	Use:   "import <roster.csv|roster.xlsx>",
	Short: "Import a patient roster into the record store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rs, err := initRecords(ctx)
		if err != nil {
			return err
		}
		defer rs.Close() //nolint:errcheck

		result, err := roster.NewImporter(rs).ImportFile(ctx, args[0], importOrgID)
		if err != nil {
			return err
		}

		fmt.Printf("Imported %d patient(s), skipped %d.\n", result.Imported, result.Skipped)
		for _, e := range result.Errors {
			fmt.Fprintln(os.Stderr, "  "+e)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importOrgID, "org", "", "organization ID to import into (required)")
	importCmd.MarkFlagRequired("org") //nolint:errcheck
	rootCmd.AddCommand(importCmd)
}
