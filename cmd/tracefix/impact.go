package main

import (
	"github.com/spf13/cobra"
)

var impactCmd = &cobra.Command{
	Use:   "impact <changes.yaml|->",
	Short: "Estimate the impact of proposed changes",
	Long: `Report the files a batch affects, potential breaking changes, the tests
worth running and a confidence level. Nothing is written.

Examples:
  tracefix impact fix.yaml
  tracefix impact fix.yaml --format=json`,
	Args: cobra.ExactArgs(1),
	RunE: runImpact,
}

func init() {
	rootCmd.AddCommand(impactCmd)
}

func runImpact(cmd *cobra.Command, args []string) error {
	batch, err := loadBatch(args[0])
	if err != nil {
		return err
	}
	m, err := cliManager()
	if err != nil {
		return err
	}
	report, err := m.AnalyzeImpact(newContext(), batch.Changes)
	if err != nil {
		return err
	}
	return printResult(report)
}
