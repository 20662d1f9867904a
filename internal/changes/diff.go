package changes

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// ComputeDiff renders a git-style unified diff for one file. Identical
// contents produce an empty string.
func ComputeDiff(original, updated, path string) string {
	if original == updated {
		return ""
	}

	from := "a/" + path
	if original == "" {
		from = "/dev/null"
	}
	ud := difflib.UnifiedDiff{
		A:        splitLines(original),
		B:        splitLines(updated),
		FromFile: from,
		ToFile:   "b/" + path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil || text == "" {
		return ""
	}
	return fmt.Sprintf("diff --git a/%s b/%s\n%s", path, path, text)
}

// BatchDiff concatenates the diffs of every change in the batch.
func BatchDiff(batch []FileChange) string {
	var sb strings.Builder
	for _, c := range batch {
		sb.WriteString(ComputeDiff(c.OriginalContent, c.NewContent, c.FilePath))
	}
	return sb.String()
}

// splitLines splits on newlines keeping terminators. A missing final newline
// is added so difflib hunks stay well-formed.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}

// FileStat counts changed lines for one file of a unified diff.
type FileStat struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	IsNew   bool   `json:"isNew,omitempty"`
}

// Stats aggregates FileStat over a diff.
type Stats struct {
	Files   []FileStat `json:"files"`
	Added   int        `json:"added"`
	Removed int        `json:"removed"`
}

// DiffStats parses a multi-file unified diff and counts added and removed
// lines per file.
func DiffStats(unified string) (*Stats, error) {
	stats := &Stats{Files: []FileStat{}}
	if strings.TrimSpace(unified) == "" {
		return stats, nil
	}

	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(unified))
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}

	for _, fd := range fileDiffs {
		fs := FileStat{Path: stripPrefix(fd.NewName)}
		if fd.OrigName == "/dev/null" || fd.OrigName == "" {
			fs.IsNew = true
		}
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if line == "" {
					continue
				}
				switch line[0] {
				case '+':
					fs.Added++
				case '-':
					fs.Removed++
				}
			}
		}
		stats.Added += fs.Added
		stats.Removed += fs.Removed
		stats.Files = append(stats.Files, fs)
	}
	return stats, nil
}

// stripPrefix removes the a/ or b/ prefix git puts on diff paths.
func stripPrefix(p string) string {
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		return p[2:]
	}
	return p
}
