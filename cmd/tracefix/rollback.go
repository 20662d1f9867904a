package main

import (
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <commit>",
	Short: "Revert a commit made by apply",
	Long: `Undo a commit with a new revert commit. When the revert conflicts with
later history, the commit's files are restored from its parent instead.
Uncommitted edits in the work tree are preserved.

Examples:
  tracefix rollback 3f9c2d1`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	m, err := cliManager()
	if err != nil {
		return err
	}
	res := m.RollbackDetail(newContext(), args[0])
	if err := printResult(res); err != nil {
		return err
	}
	if !res.Success {
		return errReported
	}
	return nil
}
