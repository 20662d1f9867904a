package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"tracefix/internal/apply"
	"tracefix/internal/changes"
	"tracefix/internal/errors"
)

type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// changeSchema describes one FileChange in tool input schemas.
var changeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"file_path":        map[string]any{"type": "string", "description": "Repository-relative path"},
		"original_content": map[string]any{"type": "string", "description": "Content the edit was based on; empty for new files"},
		"new_content":      map[string]any{"type": "string"},
		"change_type": map[string]any{
			"type": "string",
			"enum": []string{"prompt_modification", "eval_modification", "config_change", "orchestration_suggestion"},
		},
		"description": map[string]any{"type": "string"},
	},
	"required": []string{"file_path", "new_content"},
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult reports err with its tracefix code when it has one.
func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", errors.CodeOf(err), err))
}

// decodeArg re-decodes one argument into out through JSON, so object and
// array arguments get the same field rules as batch files.
func decodeArg(req mcp.CallToolRequest, key string, out any) error {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return fmt.Errorf("'%s' is required", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("'%s': %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("'%s' is malformed: %w", key, err)
	}
	return nil
}

func batchArg(req mcp.CallToolRequest) ([]changes.FileChange, error) {
	var batch []changes.FileChange
	if err := decodeArg(req, "changes", &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// ─── analyze_codebase ───────────────────────────────────────────────────────

type analyzeTool struct {
	svc Service
}

func (t *analyzeTool) Definition() mcp.Tool {
	return mcp.NewTool("analyze_codebase",
		mcp.WithDescription(
			"Describe the repository: primary language, detected agent framework, "+
				"relevant source files, configuration files and declared dependencies.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("path",
			mcp.Description("Directory to analyse (default: the served repository)"),
		),
	)
}

func (t *analyzeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.svc.AnalyzeCodebase(ctx, req.GetString("path", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

// ─── get_related_files ──────────────────────────────────────────────────────

type relatedTool struct {
	svc Service
}

func (t *relatedTool) Definition() mcp.Tool {
	return mcp.NewTool("get_related_files",
		mcp.WithDescription(
			"List files related to a file: modules it imports, files importing it, "+
				"its tests and configuration files.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Repository-relative path"),
		),
	)
}

func (t *relatedTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("file_path", "")
	if path == "" {
		return mcp.NewToolResultError("'file_path' is required"), nil
	}
	rel, err := t.svc.RelatedDetail(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(relatedView{
		RelatedFiles: rel.All(),
		Imports:      rel.Imports,
		Importers:    rel.Importers,
		Tests:        rel.Tests,
		Config:       rel.Config,
		Unparsable:   rel.Unparsable,
	})
}

type relatedView struct {
	RelatedFiles []string `json:"related_files"`
	Imports      []string `json:"imports"`
	Importers    []string `json:"importers"`
	Tests        []string `json:"tests"`
	Config       []string `json:"config"`
	Unparsable   []string `json:"unparsable,omitempty"`
}

// ─── validate_change ────────────────────────────────────────────────────────

type validateTool struct {
	svc Service
}

func (t *validateTool) Definition() mcp.Tool {
	return mcp.NewTool("validate_change",
		mcp.WithDescription(
			"Check one proposed change for path safety, size, embedded secrets, syntax "+
				"and breaking definition changes. Nothing is written.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithObject("change",
			mcp.Required(),
			mcp.Description("The proposed change"),
			mcp.Properties(changeSchema["properties"].(map[string]any)),
		),
	)
}

func (t *validateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var change changes.FileChange
	if err := decodeArg(req, "change", &change); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t.svc.ValidateChange(ctx, change))
}

// ─── analyze_impact ─────────────────────────────────────────────────────────

type impactTool struct {
	svc Service
}

func (t *impactTool) Definition() mcp.Tool {
	return mcp.NewTool("analyze_impact",
		mcp.WithDescription(
			"Estimate what a batch of changes affects: related files, potential breaking "+
				"changes, tests to run and a confidence level.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithArray("changes",
			mcp.Required(),
			mcp.Description("Proposed changes"),
			mcp.Items(changeSchema),
		),
	)
}

func (t *impactTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	batch, err := batchArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := t.svc.AnalyzeImpact(ctx, batch)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(report)
}

// ─── apply_changes ──────────────────────────────────────────────────────────

type applyTool struct {
	svc    Service
	logger *slog.Logger
}

func (t *applyTool) Definition() mcp.Tool {
	return mcp.NewTool("apply_changes",
		mcp.WithDescription(
			"Validate every change, then write them all and record one git commit. "+
				"Any failure restores the work tree, including uncommitted edits that were already there.",
		),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithArray("changes",
			mcp.Required(),
			mcp.Description("Proposed changes"),
			mcp.Items(changeSchema),
		),
		mcp.WithString("message",
			mcp.Description("Commit message"),
		),
	)
}

func (t *applyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	batch, err := batchArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := t.svc.ApplyChanges(ctx, batch, req.GetString("message", ""))
	t.logger.Info("apply_changes", "status", res.Status, "commit", res.CommitID, "files", len(batch))

	out, err := jsonResult(res)
	if err == nil && res.Status != apply.StatusSuccess {
		out.IsError = true
	}
	return out, err
}

// ─── rollback_changes ───────────────────────────────────────────────────────

type rollbackTool struct {
	svc    Service
	logger *slog.Logger
}

func (t *rollbackTool) Definition() mcp.Tool {
	return mcp.NewTool("rollback_changes",
		mcp.WithDescription(
			"Undo a commit made by apply_changes with a new revert commit.",
		),
		mcp.WithString("commit_id",
			mcp.Required(),
			mcp.Description("Commit id returned by apply_changes"),
		),
	)
}

func (t *rollbackTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("commit_id", "")
	if id == "" {
		return mcp.NewToolResultError("'commit_id' is required"), nil
	}
	res := t.svc.RollbackDetail(ctx, id)
	t.logger.Info("rollback_changes", "commit", id, "success", res.Success, "method", res.Method)

	out, err := jsonResult(res)
	if err == nil && !res.Success {
		out.IsError = true
	}
	return out, err
}
