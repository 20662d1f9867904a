package main

import (
	"github.com/spf13/cobra"

	"tracefix/internal/apply"
)

var applyMessage string

var applyCmd = &cobra.Command{
	Use:   "apply <changes.yaml|->",
	Short: "Apply a batch of changes as one git commit",
	Long: `Validate every change, then write them all and commit them together.
If any change is invalid nothing is written. If a later step fails, the work
tree is restored to its exact prior state, uncommitted edits included.

The commit message comes from -m, else the batch file's "message" key.

Examples:
  tracefix apply fix.yaml -m "Tighten planner prompt"
  tracefix apply fix.json --format=json`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVarP(&applyMessage, "message", "m", "", "Commit message")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	batch, err := loadBatch(args[0])
	if err != nil {
		return err
	}
	m, err := cliManager()
	if err != nil {
		return err
	}

	message := applyMessage
	if message == "" {
		message = batch.Message
	}
	res := m.ApplyChanges(newContext(), batch.Changes, message)
	if err := printResult(res); err != nil {
		return err
	}
	if res.Status != apply.StatusSuccess {
		return errReported
	}
	return nil
}
