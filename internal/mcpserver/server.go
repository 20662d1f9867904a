// Package mcpserver exposes a Manager as MCP tools over stdio.
package mcpserver

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"tracefix/internal/apply"
	"tracefix/internal/changes"
	"tracefix/internal/codebase"
	"tracefix/internal/impact"
	"tracefix/internal/related"
	"tracefix/internal/validate"
	"tracefix/internal/version"
)

// Service is the part of engine.Manager the tools call.
type Service interface {
	AnalyzeCodebase(ctx context.Context, path string) (*codebase.CodeContext, error)
	RelatedDetail(ctx context.Context, path string) (*related.Relations, error)
	ValidateChange(ctx context.Context, change changes.FileChange) validate.Result
	AnalyzeImpact(ctx context.Context, batch []changes.FileChange) (*impact.Report, error)
	ApplyChanges(ctx context.Context, batch []changes.FileChange, message string) *apply.Result
	RollbackDetail(ctx context.Context, commitID string) *apply.RollbackResult
}

// New registers every tool on a fresh MCP server.
func New(svc Service, logger *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"tracefix",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	tools := []tool{
		&analyzeTool{svc: svc},
		&relatedTool{svc: svc},
		&validateTool{svc: svc},
		&impactTool{svc: svc},
		&applyTool{svc: svc, logger: logger},
		&rollbackTool{svc: svc, logger: logger},
	}
	for _, t := range tools {
		s.AddTool(t.Definition(), t.Handle)
	}
	logger.Debug("MCP tools registered", "count", len(tools))
	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `tracefix applies proposed file edits to the repository safely.
Call validate_change or analyze_impact before apply_changes. apply_changes
validates the whole batch first and writes nothing if any change is invalid;
on success it returns the commit id that rollback_changes accepts.`
