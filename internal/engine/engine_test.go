package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"tracefix/internal/apply"
	"tracefix/internal/changes"
	"tracefix/internal/config"
	"tracefix/internal/errors"
	"tracefix/internal/metrics"
	"tracefix/internal/slogutil"
)

func setupRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	run("config", "commit.gpgsign", "false")
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	run("add", ".")
	run("commit", "-q", "-m", "Initial commit")
	return dir
}

func newManager(t *testing.T, dir string) *Manager {
	t.Helper()
	m, err := New(dir, Options{Logger: slogutil.NewDiscardLogger(), Metrics: metrics.New()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

var baseFiles = map[string]string{
	"main.py":          "def hello_world():\n    return \"Hello, World!\"\n",
	"config.yaml":      "model: small\n",
	"requirements.txt": "langgraph>=0.2\n",
}

func TestNew_RejectsMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), Options{Logger: slogutil.NewDiscardLogger()})
	if !errors.Is(err, errors.RepoInvalid) {
		t.Errorf("expected REPO_INVALID, got %v", err)
	}
}

func TestNew_RejectsNonGitDirectory(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := New(t.TempDir(), Options{Logger: slogutil.NewDiscardLogger()})
	if !errors.Is(err, errors.NotGitRepository) {
		t.Errorf("expected NOT_A_GIT_REPOSITORY, got %v", err)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	dir := setupRepo(t, baseFiles)
	cfg := config.DefaultConfig()
	cfg.Locks.TimeoutMs = 0

	_, err := New(dir, Options{Config: cfg, Logger: slogutil.NewDiscardLogger()})
	if !errors.Is(err, errors.ConfigInvalid) {
		t.Errorf("expected CONFIG_INVALID, got %v", err)
	}
}

func TestNew_ResolvesWorkTreeRoot(t *testing.T) {
	dir := setupRepo(t, map[string]string{"pkg/mod.py": "X = 1\n"})

	m := newManager(t, filepath.Join(dir, "pkg"))
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(m.Root())
	if got != want {
		t.Errorf("Root() = %q, want %q", got, want)
	}
	if _, err := os.Stat(m.Locks().LockDir()); err != nil {
		t.Errorf("lock directory not created: %v", err)
	}
}

func TestAnalyzeCodebase(t *testing.T) {
	dir := setupRepo(t, baseFiles)
	m := newManager(t, dir)

	got, err := m.AnalyzeCodebase(context.Background(), "")
	if err != nil {
		t.Fatalf("AnalyzeCodebase: %v", err)
	}
	if got.MainLanguage != "python" {
		t.Errorf("MainLanguage = %q", got.MainLanguage)
	}
	if got.Framework == nil || *got.Framework != "langgraph" {
		t.Errorf("Framework = %v", got.Framework)
	}
	if !reflect.DeepEqual(got.RelevantFiles, []string{"main.py"}) {
		t.Errorf("RelevantFiles = %v", got.RelevantFiles)
	}

	other := t.TempDir()
	if err := os.WriteFile(filepath.Join(other, "app.js"), []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = m.AnalyzeCodebase(context.Background(), other)
	if err != nil {
		t.Fatalf("AnalyzeCodebase(other): %v", err)
	}
	if got.MainLanguage != "javascript" {
		t.Errorf("other MainLanguage = %q", got.MainLanguage)
	}
}

func TestValidateChange_Idempotent(t *testing.T) {
	dir := setupRepo(t, baseFiles)
	m := newManager(t, dir)
	change := changes.FileChange{
		FilePath:   "settings.py",
		NewContent: `API_KEY = "abcdefghijklmnopqrstuvwx1234"` + "\n",
		ChangeType: changes.ConfigChange,
	}

	first := m.ValidateChange(context.Background(), change)
	second := m.ValidateChange(context.Background(), change)
	if first.IsValid {
		t.Fatal("expected the API key to block the change")
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("validation is not idempotent:\n%+v\n%+v", first, second)
	}
	if strings.Contains(strings.Join(first.Issues, " "), "abcdefghijklmnop") {
		t.Error("issue text must not echo the secret")
	}
}

func TestApplyAndRollback(t *testing.T) {
	dir := setupRepo(t, baseFiles)
	m := newManager(t, dir)
	ctx := context.Background()

	res := m.ApplyChanges(ctx, []changes.FileChange{
		{FilePath: "config.yaml", NewContent: "model: large\n", ChangeType: changes.ConfigChange},
	}, "Use the large model")
	if res.Status != apply.StatusSuccess {
		t.Fatalf("ApplyChanges: %s (%s)", res.Status, res.Error)
	}
	data, _ := os.ReadFile(filepath.Join(m.Root(), "config.yaml"))
	if string(data) != "model: large\n" {
		t.Errorf("config.yaml = %q", data)
	}

	if !m.RollbackChanges(ctx, res.CommitID) {
		t.Fatal("RollbackChanges returned false")
	}
	data, _ = os.ReadFile(filepath.Join(m.Root(), "config.yaml"))
	if string(data) != "model: small\n" {
		t.Errorf("config.yaml after rollback = %q", data)
	}
	if m.RollbackChanges(ctx, "deadbeef") {
		t.Error("rollback of an unknown commit should fail")
	}
}

func TestApplyChanges_InvalidYAML(t *testing.T) {
	dir := setupRepo(t, baseFiles)
	m := newManager(t, dir)

	res := m.ApplyChanges(context.Background(), []changes.FileChange{
		{FilePath: "config.yaml", NewContent: "model: [unclosed\n"},
	}, "")
	if res.Status != apply.StatusValidationFailed {
		t.Fatalf("Status = %s, want validation_failed", res.Status)
	}
	data, _ := os.ReadFile(filepath.Join(m.Root(), "config.yaml"))
	if string(data) != "model: small\n" {
		t.Errorf("config.yaml was modified: %q", data)
	}
}

func TestApplyChanges_SymlinkEscapeFailsValidation(t *testing.T) {
	dir := setupRepo(t, baseFiles)
	outside := t.TempDir()
	target := filepath.Join(outside, "settings.py")
	if err := os.WriteFile(target, []byte("PRECIOUS = True\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m := newManager(t, dir)
	if err := os.Symlink(outside, filepath.Join(m.Root(), "shared")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	res := m.ApplyChanges(context.Background(), []changes.FileChange{
		{FilePath: "shared/settings.py", NewContent: "PRECIOUS = False\n"},
	}, "")
	if res.Status != apply.StatusValidationFailed {
		t.Fatalf("Status = %s, want validation_failed", res.Status)
	}
	if v := res.Validation["shared/settings.py"]; !strings.Contains(strings.Join(v.Issues, "\n"), "PATH_OUTSIDE_REPO") {
		t.Errorf("Issues = %v, want PATH_OUTSIDE_REPO", v.Issues)
	}
	if data, _ := os.ReadFile(target); string(data) != "PRECIOUS = True\n" {
		t.Errorf("outside file modified: %q", data)
	}
}

func TestAnalyzeImpact_OrchestrationNote(t *testing.T) {
	dir := setupRepo(t, baseFiles)
	m := newManager(t, dir)

	report, err := m.AnalyzeImpact(context.Background(), []changes.FileChange{
		{FilePath: "graph.yaml", NewContent: "nodes: []\n", ChangeType: changes.OrchestrationSuggestion},
	})
	if err != nil {
		t.Fatalf("AnalyzeImpact: %v", err)
	}
	if len(report.PotentialBreakingChanges) == 0 {
		t.Errorf("expected an orchestration note, got %+v", report)
	}
}

func TestGetRelatedFiles_RejectsEscape(t *testing.T) {
	dir := setupRepo(t, baseFiles)
	m := newManager(t, dir)

	_, err := m.GetRelatedFiles(context.Background(), "../outside.py")
	if !errors.Is(err, errors.PathOutsideRepo) {
		t.Errorf("expected PATH_OUTSIDE_REPO, got %v", err)
	}
}
