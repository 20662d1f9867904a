package validate

import (
	"context"
	"fmt"
	"strings"

	"tracefix/internal/syntax"
)

// BreakingChange is a definition-level difference between two versions of
// a file.
type BreakingChange struct {
	Kind string `json:"kind"` // removed, signature_changed
	Name string `json:"name"`
	Old  string `json:"old"`
	New  string `json:"new,omitempty"`
}

const (
	BreakingRemoved          = "removed"
	BreakingSignatureChanged = "signature_changed"
)

// CompareDefinitions diffs top-level definitions of old and new source. ok
// is false when either side does not parse, in which case no comparison is
// made.
func CompareDefinitions(ctx context.Context, a syntax.Analyzer, oldSrc, newSrc []byte) ([]BreakingChange, bool) {
	oldDefs, err := a.Definitions(ctx, oldSrc)
	if err != nil {
		return nil, false
	}
	newDefs, err := a.Definitions(ctx, newSrc)
	if err != nil {
		return nil, false
	}

	byName := make(map[string]syntax.Signature, len(newDefs))
	for _, d := range newDefs {
		byName[d.Name] = d
	}

	var out []BreakingChange
	for _, old := range oldDefs {
		cur, ok := byName[old.Name]
		if !ok {
			out = append(out, BreakingChange{Kind: BreakingRemoved, Name: old.Name, Old: renderSignature(old)})
			continue
		}
		if !old.SameParams(cur) {
			out = append(out, BreakingChange{
				Kind: BreakingSignatureChanged,
				Name: old.Name,
				Old:  renderSignature(old),
				New:  renderSignature(cur),
			})
		}
	}
	return out, true
}

// breakingWarnings renders removed definitions as one warning and each
// signature change as its own.
func breakingWarnings(changes []BreakingChange) []string {
	var removed []string
	var warnings []string
	for _, c := range changes {
		switch c.Kind {
		case BreakingRemoved:
			removed = append(removed, c.Name)
		case BreakingSignatureChanged:
			warnings = append(warnings, fmt.Sprintf("Signature changed: %s -> %s", c.Old, c.New))
		}
	}
	if len(removed) > 0 {
		warnings = append([]string{"Removed definitions: " + strings.Join(removed, ", ")}, warnings...)
	}
	return warnings
}

func renderSignature(s syntax.Signature) string {
	return s.Name + "(" + strings.Join(s.Params, ", ") + ")"
}

// complexityWarnings flags functions whose cyclomatic complexity is above
// threshold and higher than in the old source. Functions new to the file
// compare against zero.
func complexityWarnings(oldFns, newFns []syntax.FunctionComplexity, threshold int) []string {
	if threshold <= 0 {
		return nil
	}
	prev := make(map[string]int, len(oldFns))
	for _, f := range oldFns {
		if f.Cyclomatic > prev[f.Name] {
			prev[f.Name] = f.Cyclomatic
		}
	}

	var warnings []string
	for _, f := range newFns {
		if f.Cyclomatic <= threshold {
			continue
		}
		before, existed := prev[f.Name]
		if f.Cyclomatic <= before {
			continue
		}
		if existed {
			warnings = append(warnings, fmt.Sprintf("Complexity of %s increased from %d to %d (threshold %d)", f.Name, before, f.Cyclomatic, threshold))
		} else {
			warnings = append(warnings, fmt.Sprintf("Function %s at line %d has cyclomatic complexity %d (threshold %d)", f.Name, f.StartLine, f.Cyclomatic, threshold))
		}
	}
	return warnings
}
