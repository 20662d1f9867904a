package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"tracefix/internal/engine"
	"tracefix/internal/slogutil"
	"tracefix/internal/version"
)

// errReported marks a failure whose details were already printed.
var errReported = stderrors.New("command failed")

var (
	repoFlag    string
	formatFlag  string
	verbosity   int
	quietFlag   bool
	ownerFlag   string
	logJSONFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "tracefix",
	Short: "tracefix - safe, atomic code changes for agent repositories",
	Long: `tracefix inspects a repository, validates proposed file edits and applies a
batch of them as a single git commit that can be rolled back.

Change batches are JSON or YAML files holding a list of changes, or an object
with "message" and "changes" keys. Each change has file_path, new_content and
optionally original_content, change_type and description.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("tracefix version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&repoFlag, "repo", "C", ".", "Repository to operate on")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "", "Output format: human or json (default: human on a terminal, json otherwise)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress all log output")
	rootCmd.PersistentFlags().BoolVar(&logJSONFlag, "log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "Name recorded in lock files (default: tracefix-cli)")
}

// newLogger writes to stderr so stdout stays machine-readable.
func newLogger() *slog.Logger {
	format := "human"
	if logJSONFlag {
		format = "json"
	}
	return slogutil.NewLoggerWithFormat(os.Stderr, slogutil.LevelFromVerbosity(verbosity, quietFlag), format)
}

func owner(fallback string) string {
	if ownerFlag != "" {
		return ownerFlag
	}
	return fallback
}

// openManager builds the Manager for --repo.
func openManager(opts engine.Options) (*engine.Manager, error) {
	if opts.Logger == nil {
		opts.Logger = newLogger()
	}
	if opts.Owner == "" {
		opts.Owner = owner("tracefix-cli")
	}
	return engine.New(repoFlag, opts)
}

// cliManager builds a single-shot Manager with default options.
func cliManager() (*engine.Manager, error) {
	return openManager(engine.Options{})
}

func newContext() context.Context {
	return context.Background()
}
