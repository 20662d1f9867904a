package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"tracefix/internal/apply"
	"tracefix/internal/changes"
	"tracefix/internal/codebase"
	"tracefix/internal/impact"
	"tracefix/internal/lockmgr"
	"tracefix/internal/related"
	"tracefix/internal/validate"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

var (
	colorOK    = lipgloss.Color("#2CD7C7")
	colorWarn  = lipgloss.Color("#F4D03F")
	colorError = lipgloss.Color("#E74C3C")
	colorMuted = lipgloss.Color("#6C7A89")

	styleTitle = lipgloss.NewStyle().Bold(true)
	styleOK    = lipgloss.NewStyle().Foreground(colorOK)
	styleWarn  = lipgloss.NewStyle().Foreground(colorWarn)
	styleError = lipgloss.NewStyle().Foreground(colorError)
	styleMuted = lipgloss.NewStyle().Foreground(colorMuted)
)

// resolveFormat picks the output format: the --format flag, else human for
// terminals and json for pipes.
func resolveFormat(flag string, out *os.File) (OutputFormat, error) {
	switch strings.ToLower(flag) {
	case "json":
		return FormatJSON, nil
	case "human":
		return FormatHuman, nil
	case "":
		if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
			return FormatHuman, nil
		}
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported format: %s (want human or json)", flag)
	}
}

// printResult writes resp to stdout in the selected format.
func printResult(resp interface{}) error {
	format, err := resolveFormat(formatFlag, os.Stdout)
	if err != nil {
		return err
	}
	return writeResult(os.Stdout, resp, format)
}

func writeResult(w io.Writer, resp interface{}, format OutputFormat) error {
	var out string
	var err error
	switch format {
	case FormatJSON:
		out, err = formatJSON(resp)
	default:
		out, err = formatHuman(resp)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *codebase.CodeContext:
		return formatCodeContextHuman(v), nil
	case *related.Relations:
		return formatRelationsHuman(v), nil
	case []validationEntry:
		return formatValidationHuman(v), nil
	case *impact.Report:
		return formatImpactHuman(v), nil
	case *apply.Result:
		return formatApplyHuman(v), nil
	case *apply.RollbackResult:
		return formatRollbackHuman(v), nil
	case []lockmgr.Status:
		return formatLocksHuman(v), nil
	case diffOutput:
		return formatDiffHuman(v), nil
	default:
		return formatJSON(resp)
	}
}

// validationEntry pairs a file with its validation outcome for output.
type validationEntry struct {
	FilePath string          `json:"file_path"`
	Result   validate.Result `json:"result"`
}

func section(b *strings.Builder, title string, items []string, style lipgloss.Style) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n" + styleTitle.Render(title) + "\n")
	for _, item := range items {
		b.WriteString("  " + style.Render("•") + " " + item + "\n")
	}
}

func formatCodeContextHuman(c *codebase.CodeContext) string {
	var b strings.Builder
	b.WriteString(styleTitle.Render("Repository: ") + c.RepositoryPath + "\n")
	b.WriteString(fmt.Sprintf("Language:   %s\n", c.MainLanguage))
	fw := styleMuted.Render("none detected")
	if c.Framework != nil {
		fw = *c.Framework
	}
	b.WriteString("Framework:  " + fw + "\n")
	b.WriteString(fmt.Sprintf("Files:      %d scanned, %d relevant\n", c.TotalFiles, len(c.RelevantFiles)))

	section(&b, "Relevant files", c.RelevantFiles, styleMuted)
	section(&b, "Configuration", c.ConfigFiles, styleMuted)

	if len(c.Dependencies) > 0 {
		names := make([]string, 0, len(c.Dependencies))
		for name := range c.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		deps := make([]string, len(names))
		for i, name := range names {
			deps[i] = name + " " + styleMuted.Render(c.Dependencies[name])
		}
		section(&b, "Dependencies", deps, styleMuted)
	}

	problems := make([]string, 0, len(c.Manifests))
	for _, m := range c.Manifests {
		problems = append(problems, m.Path+": "+m.Err)
	}
	section(&b, "Unreadable manifests", problems, styleWarn)
	return strings.TrimRight(b.String(), "\n")
}

func formatRelationsHuman(r *related.Relations) string {
	var b strings.Builder
	b.WriteString(styleTitle.Render("Related to ") + r.File + "\n")
	all := r.All()
	if len(all) == 0 {
		b.WriteString(styleMuted.Render("  no related files") + "\n")
	}
	section(&b, "Imports", r.Imports, styleMuted)
	section(&b, "Imported by", r.Importers, styleMuted)
	section(&b, "Tests", r.Tests, styleMuted)
	section(&b, "Configuration", r.Config, styleMuted)
	section(&b, "Could not parse", r.Unparsable, styleWarn)
	return strings.TrimRight(b.String(), "\n")
}

func formatValidationHuman(entries []validationEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		mark := styleOK.Render("✓ valid")
		if !e.Result.IsValid {
			mark = styleError.Render("✗ invalid")
		}
		b.WriteString(styleTitle.Render(e.FilePath) + "  " + mark + "\n")
		for _, issue := range e.Result.Issues {
			b.WriteString("  " + styleError.Render("✗") + " " + issue + "\n")
		}
		for _, w := range e.Result.Warnings {
			b.WriteString("  " + styleWarn.Render("⚠") + " " + w + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func confidenceStyle(c impact.Confidence) lipgloss.Style {
	switch c {
	case impact.ConfidenceLow:
		return styleError
	case impact.ConfidenceMedium:
		return styleWarn
	default:
		return styleOK
	}
}

func formatImpactHuman(r *impact.Report) string {
	var b strings.Builder
	b.WriteString(styleTitle.Render("Confidence: ") + confidenceStyle(r.Confidence).Render(string(r.Confidence)) + "\n")
	b.WriteString(fmt.Sprintf("Related files touched: %d\n", r.RelatedCount))
	section(&b, "Affected files", r.AffectedFiles, styleMuted)
	section(&b, "Potential breaking changes", r.PotentialBreakingChanges, styleWarn)
	section(&b, "Suggested tests", r.SuggestedTests, styleOK)
	section(&b, "Notes", r.Notes, styleMuted)
	return strings.TrimRight(b.String(), "\n")
}

func formatApplyHuman(r *apply.Result) string {
	var b strings.Builder
	switch r.Status {
	case apply.StatusSuccess:
		b.WriteString(styleOK.Render("✓ Applied") + " as " + styleTitle.Render(r.CommitID) + "\n")
		if r.DiffStats != nil {
			b.WriteString(fmt.Sprintf("  %d file(s), %s, %s\n",
				len(r.FilesChanged),
				styleOK.Render(fmt.Sprintf("+%d", r.DiffStats.Added)),
				styleError.Render(fmt.Sprintf("-%d", r.DiffStats.Removed))))
		}
		section(&b, "Files", r.FilesChanged, styleMuted)
	case apply.StatusValidationFailed:
		b.WriteString(styleError.Render("✗ Validation failed") + ": " + r.Error + "\n")
		paths := make([]string, 0, len(r.Validation))
		for p := range r.Validation {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		var issues []string
		for _, p := range paths {
			for _, issue := range r.Validation[p].Issues {
				issues = append(issues, p+": "+issue)
			}
		}
		section(&b, "Issues", issues, styleError)
	default:
		phase := r.FailedPhase
		if phase == "" {
			phase = r.Phase
		}
		b.WriteString(styleError.Render("✗ Apply failed") + fmt.Sprintf(" during %s: %s\n", phase, r.Error))
		if len(r.StateMismatch) > 0 {
			section(&b, "Work tree differs after rollback", r.StateMismatch, styleError)
		}
	}
	section(&b, "Warnings", r.Warnings, styleWarn)
	return strings.TrimRight(b.String(), "\n")
}

func formatRollbackHuman(r *apply.RollbackResult) string {
	var b strings.Builder
	if r.Success {
		b.WriteString(styleOK.Render("✓ Rolled back") + " " + r.Target + "\n")
		b.WriteString(fmt.Sprintf("  method %s, new commit %s\n", r.Method, styleTitle.Render(r.CommitID)))
	} else {
		b.WriteString(styleError.Render("✗ Rollback failed") + " " + r.Target + ": " + r.Error + "\n")
	}
	section(&b, "Files", r.Files, styleMuted)
	section(&b, "Warnings", r.Warnings, styleWarn)
	return strings.TrimRight(b.String(), "\n")
}

func formatLocksHuman(locks []lockmgr.Status) string {
	if len(locks) == 0 {
		return styleMuted.Render("No lock files.")
	}
	var b strings.Builder
	for _, l := range locks {
		state := styleWarn.Render("held")
		if l.Stale {
			state = styleMuted.Render("stale")
		}
		target := l.LockFile
		holder := ""
		if l.Info != nil {
			target = l.Info.FilePath
			holder = fmt.Sprintf(" pid %d", l.Info.PID)
			if l.Info.Owner != "" {
				holder += " (" + l.Info.Owner + ")"
			}
			holder += " since " + l.Info.AcquiredAt.Format("2006-01-02 15:04:05")
		}
		b.WriteString(fmt.Sprintf("%-6s %s%s\n", state, target, styleMuted.Render(holder)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// diffOutput is the diff command's result.
type diffOutput struct {
	Diff  string         `json:"diff"`
	Stats *changes.Stats `json:"stats,omitempty"`
}

func formatDiffHuman(d diffOutput) string {
	if d.Diff == "" {
		return styleMuted.Render("No differences.")
	}
	lines := strings.Split(strings.TrimRight(d.Diff, "\n"), "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			lines[i] = styleTitle.Render(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = styleOK.Render(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = styleError.Render(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = styleMuted.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}
