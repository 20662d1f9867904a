// Package validate screens a proposed file change for path safety, size,
// leaked credentials, syntax, config format validity and breaking-change
// risk. Validation has no side effects.
package validate

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"

	"tracefix/internal/changes"
	"tracefix/internal/config"
	"tracefix/internal/errors"
	"tracefix/internal/paths"
	"tracefix/internal/syntax"
)

// Check names one validation stage.
type Check string

const (
	CheckPath       Check = "path"
	CheckSize       Check = "size"
	CheckSecret     Check = "secret"
	CheckSyntax     Check = "syntax"
	CheckLint       Check = "lint"
	CheckFormat     Check = "format"
	CheckBreaking   Check = "breaking"
	CheckComplexity Check = "complexity"
)

// Severity separates blocking issues from warnings.
type Severity string

const (
	SeverityIssue   Severity = "issue"
	SeverityWarning Severity = "warning"
)

// Finding is one message with the check that produced it.
type Finding struct {
	Check    Check    `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Result is the outcome of validating one change. IsValid is true exactly
// when Issues is empty.
type Result struct {
	IsValid  bool      `json:"is_valid"`
	Issues   []string  `json:"issues"`
	Warnings []string  `json:"warnings"`
	Findings []Finding `json:"findings,omitempty"`
	// Breaking lists definition-level changes found by the comparison.
	Breaking []BreakingChange `json:"breaking,omitempty"`
}

// IssueCounts tallies findings by check, for metrics.
func (r Result) IssueCounts() map[Check]int {
	counts := make(map[Check]int)
	for _, f := range r.Findings {
		if f.Severity == SeverityIssue {
			counts[f.Check]++
		}
	}
	return counts
}

type collector struct {
	findings []Finding
	breaking []BreakingChange
}

func (c *collector) issue(check Check, msg string) {
	c.findings = append(c.findings, Finding{Check: check, Severity: SeverityIssue, Message: msg})
}

func (c *collector) warn(check Check, msg string) {
	c.findings = append(c.findings, Finding{Check: check, Severity: SeverityWarning, Message: msg})
}

// finalize is the only constructor of Result.
func (c *collector) finalize() Result {
	r := Result{Issues: []string{}, Warnings: []string{}, Findings: c.findings, Breaking: c.breaking}
	for _, f := range c.findings {
		if f.Severity == SeverityIssue {
			r.Issues = append(r.Issues, f.Message)
		} else {
			r.Warnings = append(r.Warnings, f.Message)
		}
	}
	r.IsValid = len(r.Issues) == 0
	return r
}

// Options configures a Validator.
type Options struct {
	// Root enables the on-disk containment check: a path whose existing
	// prefix resolves through a symlink outside Root is rejected.
	Root                    string
	MaxFileSizeBytes        int64
	ComplexityWarnThreshold int
	ExtraSecretPatterns     []config.SecretPatternConfig
}

// OptionsFromConfig maps the validation config section.
func OptionsFromConfig(cfg config.ValidationConfig) Options {
	return Options{
		MaxFileSizeBytes:        cfg.MaxFileSizeBytes,
		ComplexityWarnThreshold: cfg.ComplexityWarnThreshold,
		ExtraSecretPatterns:     cfg.ExtraSecretPatterns,
	}
}

// Validator holds the compiled secret table and limits.
type Validator struct {
	opts     Options
	patterns []SecretPattern
	logger   *slog.Logger
}

// New compiles the secret table and returns a validator.
func New(opts Options, logger *slog.Logger) (*Validator, error) {
	if opts.MaxFileSizeBytes <= 0 {
		opts.MaxFileSizeBytes = config.DefaultConfig().Validation.MaxFileSizeBytes
	}
	patterns, err := compileSecretPatterns(opts.ExtraSecretPatterns)
	if err != nil {
		return nil, err
	}
	return &Validator{opts: opts, patterns: patterns, logger: logger}, nil
}

// Validate runs every check in order and accumulates the findings.
func (v *Validator) Validate(ctx context.Context, change changes.FileChange) Result {
	var c collector

	filePath, err := paths.CleanRelative(change.FilePath)
	if err != nil {
		c.issue(CheckPath, "Invalid file path: "+err.Error())
		filePath = paths.NormalizePath(change.FilePath)
	} else if v.opts.Root != "" && !paths.ResolvesWithinRepo(v.opts.Root, filePath) {
		c.issue(CheckPath, fmt.Sprintf("%s: %s resolves outside the repository through a symbolic link", errors.PathOutsideRepo, filePath))
	}

	if size := int64(len(change.NewContent)); size > v.opts.MaxFileSizeBytes {
		c.issue(CheckSize, fmt.Sprintf("File too large: %d bytes exceeds limit of %d bytes", size, v.opts.MaxFileSizeBytes))
	}

	if p, found := findSecret(v.patterns, change.NewContent); found {
		c.issue(CheckSecret, fmt.Sprintf("Potential secret detected (%s); remove credentials from the change", p.Description))
	}

	if analyzer, ok := syntax.ForPath(filePath); ok {
		v.checkSource(ctx, &c, analyzer, change)
	} else if check, ok := formatFor(filePath); ok {
		if issue, ok := check(change.NewContent); !ok {
			c.issue(CheckFormat, issue)
		}
	}

	result := c.finalize()
	v.logger.Debug("Validated change",
		"file", filePath,
		"valid", result.IsValid,
		"issues", len(result.Issues),
		"warnings", len(result.Warnings),
	)
	return result
}

// checkSource runs the structural, breaking-change and complexity checks
// for an analyzable language.
func (v *Validator) checkSource(ctx context.Context, c *collector, a syntax.Analyzer, change changes.FileChange) {
	newSrc := []byte(change.NewContent)

	check, err := a.Check(ctx, newSrc)
	if err != nil {
		if stderrors.Is(err, syntax.ErrNoCGO) {
			c.warn(CheckSyntax, "Structural analysis unavailable in this build; syntax not checked")
		} else {
			c.warn(CheckSyntax, "Structural analysis failed: "+err.Error())
		}
		return
	}

	if !check.Valid() {
		first := check.Errors[0]
		msg := fmt.Sprintf("Syntax error at line %d, column %d: %s", first.Line, first.Column, first.Message)
		if n := len(check.Errors) - 1; n > 0 {
			msg += fmt.Sprintf(" (and %d more)", n)
		}
		c.issue(CheckSyntax, msg)
		return
	}

	lints := append([]syntax.Lint(nil), check.Lints...)
	sort.SliceStable(lints, func(i, j int) bool { return lints[i].Line < lints[j].Line })
	for _, l := range lints {
		c.warn(CheckLint, fmt.Sprintf("Line %d: %s [%s]", l.Line, l.Message, l.Rule))
	}

	if change.OriginalContent == "" {
		if fns, err := a.Complexity(ctx, newSrc); err == nil {
			for _, w := range complexityWarnings(nil, fns, v.opts.ComplexityWarnThreshold) {
				c.warn(CheckComplexity, w)
			}
		}
		return
	}

	oldSrc := []byte(change.OriginalContent)
	if diffs, ok := CompareDefinitions(ctx, a, oldSrc, newSrc); ok {
		c.breaking = diffs
		for _, w := range breakingWarnings(diffs) {
			c.warn(CheckBreaking, w)
		}
	}

	oldFns, oldErr := a.Complexity(ctx, oldSrc)
	newFns, newErr := a.Complexity(ctx, newSrc)
	if oldErr == nil && newErr == nil {
		for _, w := range complexityWarnings(oldFns, newFns, v.opts.ComplexityWarnThreshold) {
			c.warn(CheckComplexity, w)
		}
	}
}
