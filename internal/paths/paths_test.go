package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestToolLayout(t *testing.T) {
	root := "/repo"

	if got := GetToolDir(root); got != filepath.Join(root, ".tracefix") {
		t.Errorf("GetToolDir = %s", got)
	}
	if got := GetLocksDir(root); got != filepath.Join(root, ".tracefix", "locks") {
		t.Errorf("GetLocksDir = %s", got)
	}
	if got := GetConfigPath(root); got != filepath.Join(root, ".tracefix", "config.json") {
		t.Errorf("GetConfigPath = %s", got)
	}
	if got := GetLogPath(root, "serve"); got != filepath.Join(root, ".tracefix", "logs", "serve.log") {
		t.Errorf("GetLogPath = %s", got)
	}
}

func TestEnsureLocksDir(t *testing.T) {
	root := t.TempDir()

	dir, err := EnsureLocksDir(root)
	if err != nil {
		t.Fatalf("EnsureLocksDir failed: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("lock dir not created: %v", err)
	}

	// Idempotent
	if _, err := EnsureLocksDir(root); err != nil {
		t.Errorf("second EnsureLocksDir failed: %v", err)
	}
}

func TestCleanRelative(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr string
	}{
		{in: "main.py", want: "main.py"},
		{in: "pkg/./mod.py", want: "pkg/mod.py"},
		{in: "pkg\\sub\\mod.py", want: "pkg/sub/mod.py"},
		{in: "pkg/../main.py", want: "main.py"},
		{in: "", wantErr: "empty"},
		{in: "/etc/passwd", wantErr: "relative"},
		{in: "../outside.py", wantErr: "escapes"},
		{in: "pkg/../../outside.py", wantErr: "escapes"},
		{in: ".", wantErr: "root"},
		{in: ".git/config", wantErr: "reserved"},
		{in: ".tracefix/locks/x.lock", wantErr: "reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanRelative(tt.in)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("CleanRelative(%q) error = %v, want containing %q", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanRelative(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("CleanRelative(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalizePath(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "pkg", "mod.py")
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file, []byte("x = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := CanonicalizePath(file, root)
	if err != nil {
		t.Fatalf("CanonicalizePath failed: %v", err)
	}
	if got != "pkg/mod.py" {
		t.Errorf("CanonicalizePath = %q, want pkg/mod.py", got)
	}

	// Non-existent files are used as-is
	got, err = CanonicalizePath(filepath.Join(root, "new.py"), root)
	if err != nil || got != "new.py" {
		t.Errorf("CanonicalizePath(new) = %q, %v", got, err)
	}
}

func TestIsWithinRepo(t *testing.T) {
	root := t.TempDir()

	if !IsWithinRepo(filepath.Join(root, "a", "b.py"), root) {
		t.Error("path under root should be within repo")
	}
	if IsWithinRepo(filepath.Join(filepath.Dir(root), "other"), root) {
		t.Error("sibling path should not be within repo")
	}
}

func TestResolvesWithinRepo(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "shared")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "pkg"), filepath.Join(root, "alias")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		rel  string
		want bool
	}{
		{"main.py", true},
		{"pkg/mod.py", true},
		{"pkg/new/deep/file.py", true},
		{"alias/mod.py", true},
		{"shared/settings.py", false},
		{"shared/new/dir/file.py", false},
	}
	for _, tt := range tests {
		if got := ResolvesWithinRepo(root, tt.rel); got != tt.want {
			t.Errorf("ResolvesWithinRepo(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestNormalizeAndJoin(t *testing.T) {
	if got := NormalizePath(`a\b\c.py`); got != "a/b/c.py" {
		t.Errorf("NormalizePath = %q", got)
	}
	if got := JoinRepoPath("/repo", "a/b.py"); got != filepath.Join("/repo", "a", "b.py") {
		t.Errorf("JoinRepoPath = %q", got)
	}
}
