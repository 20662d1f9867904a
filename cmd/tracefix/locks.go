package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect and clean per-file lock files",
}

var locksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lock files and their holders",
	Long: `List lock files under .tracefix/locks. A lock is stale when no process
holds its OS lock, which happens when a holder crashed.`,
	Args: cobra.NoArgs,
	RunE: runLocksList,
}

var locksCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale lock files",
	Args:  cobra.NoArgs,
	RunE:  runLocksCleanup,
}

func init() {
	locksCmd.AddCommand(locksListCmd)
	locksCmd.AddCommand(locksCleanupCmd)
	rootCmd.AddCommand(locksCmd)
}

func runLocksList(cmd *cobra.Command, args []string) error {
	m, err := cliManager()
	if err != nil {
		return err
	}
	locks, err := m.Locks().Inspect()
	if err != nil {
		return err
	}
	return printResult(locks)
}

func runLocksCleanup(cmd *cobra.Command, args []string) error {
	m, err := cliManager()
	if err != nil {
		return err
	}
	removed, err := m.Locks().CleanupStale()
	if err != nil {
		return err
	}
	format, err := resolveFormat(formatFlag, os.Stdout)
	if err != nil {
		return err
	}
	if format == FormatJSON {
		return writeResult(os.Stdout, map[string]int{"removed": removed}, format)
	}
	fmt.Printf("Removed %d stale lock file(s).\n", removed)
	return nil
}
