package changes

import (
	"strings"
	"testing"
)

func TestComputeDiff(t *testing.T) {
	diff := ComputeDiff("a\nb\nc\n", "a\nB\nc\n", "pkg/mod.py")

	for _, want := range []string{"diff --git a/pkg/mod.py b/pkg/mod.py", "--- a/pkg/mod.py", "+++ b/pkg/mod.py", "-b", "+B"} {
		if !strings.Contains(diff, want) {
			t.Errorf("diff missing %q:\n%s", want, diff)
		}
	}
}

func TestComputeDiff_Identical(t *testing.T) {
	if diff := ComputeDiff("same\n", "same\n", "a.py"); diff != "" {
		t.Errorf("expected empty diff, got:\n%s", diff)
	}
}

func TestComputeDiff_NewFile(t *testing.T) {
	diff := ComputeDiff("", "x = 1\n", "new.py")
	if !strings.Contains(diff, "--- /dev/null") {
		t.Errorf("new file diff should come from /dev/null:\n%s", diff)
	}
}

func TestDiffStats(t *testing.T) {
	batch := []FileChange{
		{FilePath: "a.py", OriginalContent: "one\ntwo\n", NewContent: "one\nTWO\nthree\n"},
		{FilePath: "b.py", NewContent: "x\ny\n"},
	}

	stats, err := DiffStats(BatchDiff(batch))
	if err != nil {
		t.Fatalf("DiffStats: %v", err)
	}
	if len(stats.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(stats.Files))
	}
	a, b := stats.Files[0], stats.Files[1]
	if a.Path != "a.py" || a.Added != 2 || a.Removed != 1 {
		t.Errorf("a.py stat = %+v", a)
	}
	if b.Path != "b.py" || !b.IsNew || b.Added != 2 || b.Removed != 0 {
		t.Errorf("b.py stat = %+v", b)
	}
	if stats.Added != 4 || stats.Removed != 1 {
		t.Errorf("totals = +%d -%d", stats.Added, stats.Removed)
	}
}

func TestDiffStats_Empty(t *testing.T) {
	stats, err := DiffStats("")
	if err != nil || len(stats.Files) != 0 {
		t.Errorf("empty diff: %+v, %v", stats, err)
	}
}
