package main

import (
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Describe the repository",
	Long: `Report the primary language, detected agent framework, relevant source
files, configuration files and declared dependencies.

Examples:
  tracefix analyze
  tracefix analyze ../other-agent --format=json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	m, err := cliManager()
	if err != nil {
		return err
	}
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	res, err := m.AnalyzeCodebase(newContext(), path)
	if err != nil {
		return err
	}
	return printResult(res)
}
