package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tracefix/internal/engine"
	"tracefix/internal/mcpserver"
	"tracefix/internal/metrics"
	"tracefix/internal/paths"
	"tracefix/internal/slogutil"
	"tracefix/internal/telemetry"
	"tracefix/internal/version"
	"tracefix/internal/watcher"
)

var (
	serveMetricsAddr string
	serveTraceStdout bool
	serveWatch       bool
	serveLogFile     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the change tools over MCP on stdio",
	Long: `Run an MCP server on stdin/stdout exposing analyze_codebase,
get_related_files, validate_change, analyze_impact, apply_changes and
rollback_changes for the repository given by --repo.

Logs go to stderr and, with --log-file, to .tracefix/logs/serve.log.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	serveCmd.Flags().BoolVar(&serveTraceStdout, "trace-stdout", false, "Export apply/rollback trace spans to stderr")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reset analysis caches when files change")
	serveCmd.Flags().BoolVar(&serveLogFile, "log-file", false, "Also write logs to the repository log file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	reg := metrics.New()
	m, err := openManager(engine.Options{Logger: logger, Metrics: reg, Owner: owner("tracefix-mcp")})
	if err != nil {
		return err
	}

	if serveLogFile {
		level := slogutil.LevelFromVerbosity(verbosity, quietFlag)
		fileLogger, f, err := slogutil.NewFileLogger(paths.GetLogPath(m.Root(), "serve"), level)
		if err != nil {
			logger.Warn("file logging disabled", "error", err)
		} else {
			defer f.Close()
			logger = slogutil.NewTeeLogger(logger.Handler(), fileLogger.Handler())
			// The log path needs the resolved root; reopen so engine logs reach the file.
			m, err = openManager(engine.Options{Logger: logger, Metrics: reg, Owner: owner("tracefix-mcp")})
			if err != nil {
				return err
			}
		}
	}

	exporter := telemetry.ExporterNone
	if serveTraceStdout {
		exporter = telemetry.ExporterStdout
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "tracefix",
		ServiceVersion: version.Version,
		Exporter:       exporter,
		Writer:         os.Stderr,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("trace shutdown", "error", err)
		}
	}()

	if serveMetricsAddr != "" {
		srv := &http.Server{Addr: serveMetricsAddr, Handler: reg.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", serveMetricsAddr, "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", serveMetricsAddr)
	}

	if serveWatch {
		if stopWatch := startWatcher(ctx, m, logger); stopWatch != nil {
			defer stopWatch()
		}
	}

	logger.Info("MCP server starting", "repo", m.Root(), "version", version.Version)
	errCh := make(chan error, 1)
	go func() { errCh <- mcpserver.Serve(mcpserver.New(m, logger)) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	}
}

// startWatcher resets the Manager's caches after file changes settle.
func startWatcher(ctx context.Context, m *engine.Manager, logger *slog.Logger) func() {
	cfg := watcher.DefaultConfig()
	cfg.Ignore = m.Config().Analysis.Ignore
	w, err := watcher.New(m.Root(), cfg, logger, func(events []watcher.Event) {
		logger.Debug("files changed, resetting caches", "events", len(events))
		m.ResetCaches()
	})
	if err != nil {
		logger.Warn("file watching disabled", "error", err)
		return nil
	}
	if err := w.Start(ctx); err != nil {
		logger.Warn("file watching disabled", "error", err)
		return nil
	}
	return func() {
		if err := w.Stop(); err != nil {
			logger.Debug("watcher stop", "error", err)
		}
	}
}
