package main

import (
	"github.com/spf13/cobra"
)

var relatedCmd = &cobra.Command{
	Use:   "related <file>",
	Short: "List files related to a file",
	Long: `List the modules a file imports, the files importing it, its tests and
configuration files. The path is relative to the repository root.

Examples:
  tracefix related agents/planner.py
  tracefix related main.py --format=json`,
	Args: cobra.ExactArgs(1),
	RunE: runRelated,
}

func init() {
	rootCmd.AddCommand(relatedCmd)
}

func runRelated(cmd *cobra.Command, args []string) error {
	m, err := cliManager()
	if err != nil {
		return err
	}
	rel, err := m.RelatedDetail(newContext(), args[0])
	if err != nil {
		return err
	}
	return printResult(rel)
}
