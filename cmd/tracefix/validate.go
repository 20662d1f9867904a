package main

import (
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <changes.yaml|->",
	Short: "Validate proposed changes without writing them",
	Long: `Check each change for path safety, size, embedded secrets, syntax errors,
lint problems and removed or changed definitions. Nothing is written.

Exits with status 1 when any change has a blocking issue.

Examples:
  tracefix validate fix.yaml
  cat fix.json | tracefix validate -`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	batch, err := loadBatch(args[0])
	if err != nil {
		return err
	}
	m, err := cliManager()
	if err != nil {
		return err
	}

	ctx := newContext()
	entries := make([]validationEntry, 0, len(batch.Changes))
	valid := true
	for _, change := range batch.Changes {
		res := m.ValidateChange(ctx, change)
		valid = valid && res.IsValid
		entries = append(entries, validationEntry{FilePath: change.FilePath, Result: res})
	}
	if err := printResult(entries); err != nil {
		return err
	}
	if !valid {
		return errReported
	}
	return nil
}
