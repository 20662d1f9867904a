package impact

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"tracefix/internal/changes"
	"tracefix/internal/errors"
	"tracefix/internal/paths"
	"tracefix/internal/related"
	"tracefix/internal/syntax"
	"tracefix/internal/validate"
)

// RelationFinder provides the related files of one repository path.
type RelationFinder interface {
	Related(ctx context.Context, filePath string) (*related.Relations, error)
}

// ChangeChecker validates a single change. The analyzer only reads the
// breaking-change findings.
type ChangeChecker interface {
	Validate(ctx context.Context, change changes.FileChange) validate.Result
}

// Options configures an Analyzer.
type Options struct {
	// FullSuiteThreshold is the related-file count above which targeted test
	// suggestions collapse into a full-suite run.
	FullSuiteThreshold int
}

const defaultFullSuiteThreshold = 5

// publicAPIMarkers are path substrings that suggest a module other code
// depends on.
var publicAPIMarkers = []string{"api", "interface", "public", "__init__", "sdk", "client", "schema"}

// Analyzer performs impact analysis over change batches.
type Analyzer struct {
	finder  RelationFinder
	checker ChangeChecker
	opts    Options
	logger  *slog.Logger
}

// NewAnalyzer creates an analyzer. checker may be nil, in which case no
// definition-level notes are produced.
func NewAnalyzer(finder RelationFinder, checker ChangeChecker, opts Options, logger *slog.Logger) *Analyzer {
	if opts.FullSuiteThreshold <= 0 {
		opts.FullSuiteThreshold = defaultFullSuiteThreshold
	}
	return &Analyzer{finder: finder, checker: checker, opts: opts, logger: logger}
}

// Analyze builds the impact report for batch. Per-file problems become
// report notes; only cancellation and internal failures are returned.
func (a *Analyzer) Analyze(ctx context.Context, batch []changes.FileChange) (*Report, error) {
	affected := make(map[string]bool)
	relatedSet := make(map[string]bool)
	changed := make(map[string]bool)
	report := &Report{
		PotentialBreakingChanges: []string{},
		SuggestedTests:           []string{},
	}

	var targeted []TestSuggestion
	seenTest := make(map[string]bool)
	addTest := func(s TestSuggestion) {
		if seenTest[s.Target] {
			return
		}
		seenTest[s.Target] = true
		targeted = append(targeted, s)
	}

	for _, change := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		file, err := paths.CleanRelative(change.FilePath)
		if err != nil {
			report.PotentialBreakingChanges = append(report.PotentialBreakingChanges,
				fmt.Sprintf("%s: invalid file path (%v)", change.FilePath, err))
			continue
		}
		affected[file] = true
		changed[file] = true

		rel, err := a.finder.Related(ctx, file)
		switch {
		case err == nil:
			for _, p := range rel.All() {
				affected[p] = true
				relatedSet[p] = true
			}
			for _, u := range rel.Unparsable {
				report.AddNote(fmt.Sprintf("Could not parse %s; its imports were not resolved", u))
			}
		case errors.Is(err, errors.PathOutsideRepo):
			report.AddNote(fmt.Sprintf("Relations of %s skipped: %v", file, err))
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.New(errors.InternalError, "resolving related files for "+file, err, nil)
		}

		if change.ChangeType == changes.OrchestrationSuggestion {
			report.PotentialBreakingChanges = append(report.PotentialBreakingChanges,
				fmt.Sprintf("Orchestration change in %s may alter agent control flow", file))
		}

		if _, ok := syntax.LanguageFromPath(file); !ok {
			continue
		}

		if looksPublicAPI(file) {
			report.PotentialBreakingChanges = append(report.PotentialBreakingChanges,
				fmt.Sprintf("%s looks like a public API or interface; callers may break", file))
		}
		report.PotentialBreakingChanges = append(report.PotentialBreakingChanges, a.definitionNotes(ctx, file, change)...)

		for _, s := range moduleTests(file) {
			addTest(s)
		}
		if rel != nil {
			for _, t := range rel.Tests {
				addTest(TestSuggestion{Kind: TestDiscovered, Target: t, Reason: "tests " + file})
			}
		}
	}

	for p := range changed {
		delete(relatedSet, p)
	}
	report.RelatedCount = len(relatedSet)

	if report.RelatedCount > a.opts.FullSuiteThreshold {
		targeted = []TestSuggestion{{
			Kind:   TestFullSuite,
			Target: "full test suite",
			Reason: fmt.Sprintf("%d related files touched", report.RelatedCount),
		}}
	}
	report.Tests = targeted
	for _, s := range targeted {
		report.SuggestedTests = append(report.SuggestedTests, s.describe())
	}

	report.AffectedFiles = make([]string, 0, len(affected))
	for p := range affected {
		report.AffectedFiles = append(report.AffectedFiles, p)
	}
	sort.Strings(report.AffectedFiles)
	report.Confidence = ConfidenceFor(len(report.PotentialBreakingChanges))

	a.logger.Debug("Analyzed impact",
		"changes", len(batch),
		"affected", len(report.AffectedFiles),
		"breaking", len(report.PotentialBreakingChanges),
		"confidence", report.Confidence,
	)
	return report, nil
}

// definitionNotes returns the validator's removed and changed definition
// warnings for one change, prefixed with the file.
func (a *Analyzer) definitionNotes(ctx context.Context, file string, change changes.FileChange) []string {
	if a.checker == nil || change.OriginalContent == "" {
		return nil
	}
	var notes []string
	for _, f := range a.checker.Validate(ctx, change).Findings {
		if f.Check == validate.CheckBreaking {
			notes = append(notes, file+": "+f.Message)
		}
	}
	return notes
}

func looksPublicAPI(file string) bool {
	lower := strings.ToLower(file)
	for _, m := range publicAPIMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// moduleTests returns the conventional unit and integration test paths for
// a source file.
func moduleTests(file string) []TestSuggestion {
	base := path.Base(file)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if strings.HasPrefix(stem, "test_") || strings.HasSuffix(stem, "_test") {
		return []TestSuggestion{{Kind: TestUnit, Target: file, Reason: "changed test file"}}
	}
	return []TestSuggestion{
		{Kind: TestUnit, Target: "tests/test_" + stem + ext, Reason: "unit tests for " + file},
		{Kind: TestIntegration, Target: "tests/integration/test_" + stem + ext, Reason: "integration tests for " + file},
	}
}

func (s TestSuggestion) describe() string {
	switch s.Kind {
	case TestFullSuite:
		return fmt.Sprintf("Run the full test suite (%s)", s.Reason)
	case TestIntegration:
		return "Run integration tests: " + s.Target
	default:
		return "Run " + string(s.Kind) + " tests: " + s.Target
	}
}
