package main

import (
	"os"

	"github.com/spf13/cobra"

	"tracefix/internal/changes"
	"tracefix/internal/paths"
)

var diffCmd = &cobra.Command{
	Use:   "diff <changes.yaml|->",
	Short: "Show the unified diff a batch would apply",
	Long: `Print a unified diff for every change in the batch. Changes without
original_content are compared against the file currently in the work tree.

Examples:
  tracefix diff fix.yaml
  tracefix diff fix.yaml --format=json`,
	Args: cobra.ExactArgs(1),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	batch, err := loadBatch(args[0])
	if err != nil {
		return err
	}
	m, err := cliManager()
	if err != nil {
		return err
	}

	resolved := make([]changes.FileChange, 0, len(batch.Changes))
	for _, c := range batch.Changes {
		clean, err := paths.CleanRelative(c.FilePath)
		if err != nil {
			return err
		}
		c.FilePath = clean
		if c.OriginalContent == "" {
			if data, err := os.ReadFile(paths.JoinRepoPath(m.Root(), clean)); err == nil {
				c.OriginalContent = string(data)
			}
		}
		resolved = append(resolved, c)
	}

	unified := changes.BatchDiff(resolved)
	stats, err := changes.DiffStats(unified)
	if err != nil {
		return err
	}
	return printResult(diffOutput{Diff: unified, Stats: stats})
}
