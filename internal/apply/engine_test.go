package apply

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracefix/internal/backends/git"
	"tracefix/internal/changes"
	"tracefix/internal/config"
	"tracefix/internal/errors"
	"tracefix/internal/lockmgr"
	"tracefix/internal/paths"
	"tracefix/internal/slogutil"
	"tracefix/internal/validate"
)

type fixture struct {
	dir    string
	repo   *git.GitAdapter
	engine *Engine
	locks  *lockmgr.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	gitCmd(t, dir, "init", "-q")
	gitCmd(t, dir, "config", "user.email", "test@example.com")
	gitCmd(t, dir, "config", "user.name", "Test User")
	gitCmd(t, dir, "config", "commit.gpgsign", "false")
	writeFile(t, dir, "main.py", "def hello_world():\n    return \"Hello\"\n")
	writeFile(t, dir, "README.md", "# demo\n")
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-q", "-m", "Initial commit")

	return newFixtureAt(t, dir, nil)
}

func newFixtureAt(t *testing.T, dir string, wrap func(git.VCS) git.VCS) *fixture {
	t.Helper()
	logger := slogutil.NewDiscardLogger()

	repo, err := git.NewGitAdapter(dir, config.GitConfig{TimeoutMs: 20000}, logger)
	require.NoError(t, err)

	lockDir, err := paths.EnsureLocksDir(repo.RepoRoot())
	require.NoError(t, err)
	locks, err := lockmgr.New(lockmgr.Options{
		LockDir: lockDir,
		Timeout: 5 * time.Second,
		Logger:  logger,
	})
	require.NoError(t, err)

	v, err := validate.New(validate.Options{}, logger)
	require.NoError(t, err)

	var vcs git.VCS = repo
	if wrap != nil {
		vcs = wrap(repo)
	}
	engine, err := New(vcs, Options{Validator: v, Locks: locks, Logger: logger})
	require.NoError(t, err)

	return &fixture{dir: repo.RepoRoot(), repo: repo, engine: engine, locks: locks}
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func readFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func exists(dir, rel string) bool {
	_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
	return err == nil
}

func commitCount(t *testing.T, dir string) int {
	t.Helper()
	return len(strings.Split(gitCmd(t, dir, "rev-list", "HEAD"), "\n"))
}

func statusLines(t *testing.T, dir string) string {
	t.Helper()
	return gitCmd(t, dir, "status", "--porcelain", "--untracked-files=all")
}

func TestApply_SingleCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := commitCount(t, f.dir)

	res := f.engine.Apply(ctx, []changes.FileChange{
		{
			FilePath:        "main.py",
			OriginalContent: "def hello_world():\n    return \"Hello\"\n",
			NewContent:      "def hello_world():\n    return \"Hello, world\"\n",
			ChangeType:      changes.PromptModification,
		},
		{
			FilePath:   "agents/planner/prompt.yaml",
			NewContent: "system: be concise\n",
			ChangeType: changes.ConfigChange,
		},
	}, "Tune greeting")

	require.Equal(t, StatusSuccess, res.Status, "error: %s", res.Error)
	assert.Equal(t, PhaseSuccess, res.Phase)
	assert.Len(t, res.CommitID, 40)
	assert.Equal(t, []string{"main.py", "agents/planner/prompt.yaml"}, res.FilesChanged)
	assert.Equal(t, before+1, commitCount(t, f.dir))
	assert.Equal(t, res.CommitID, gitCmd(t, f.dir, "rev-parse", "HEAD"))
	assert.Equal(t, "Tune greeting", gitCmd(t, f.dir, "log", "-1", "--format=%s"))

	files := gitCmd(t, f.dir, "show", "--name-only", "--format=", "HEAD")
	assert.ElementsMatch(t, []string{"agents/planner/prompt.yaml", "main.py"}, strings.Split(files, "\n"))
	assert.Equal(t, "system: be concise\n", readFile(t, f.dir, "agents/planner/prompt.yaml"))
	assert.Empty(t, statusLines(t, f.dir), "lock state and temp files must not leak into the tree")

	require.NotNil(t, res.DiffStats)
	assert.Equal(t, 2, res.DiffStats.Added)
	assert.Equal(t, 1, res.DiffStats.Removed)
}

func TestApply_InvalidBatchWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	head := gitCmd(t, f.dir, "rev-parse", "HEAD")

	res := f.engine.Apply(ctx, []changes.FileChange{
		{FilePath: "ok.txt", NewContent: "fine\n"},
		{FilePath: "settings.py", NewContent: `API_KEY = "abcdefghijklmnopqrstuvwx1234"` + "\n"},
	}, "Leak a key")

	assert.Equal(t, StatusValidationFailed, res.Status)
	assert.Equal(t, PhaseFailedValidation, res.Phase)
	assert.False(t, res.Validation["settings.py"].IsValid)
	assert.True(t, res.Validation["ok.txt"].IsValid)
	assert.Equal(t, head, gitCmd(t, f.dir, "rev-parse", "HEAD"))
	assert.False(t, exists(f.dir, "ok.txt"), "no file of an invalid batch may be written")
	assert.Empty(t, statusLines(t, f.dir))
}

func TestApply_EmptyAndDuplicateBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.engine.Apply(ctx, nil, "nothing")
	assert.Equal(t, StatusValidationFailed, res.Status)

	res = f.engine.Apply(ctx, []changes.FileChange{
		{FilePath: "a.txt", NewContent: "1\n"},
		{FilePath: "./a.txt", NewContent: "2\n"},
	}, "dup")
	assert.Equal(t, StatusValidationFailed, res.Status)
	assert.False(t, exists(f.dir, "a.txt"))
}

func TestApply_NoopBatchFails(t *testing.T) {
	f := newFixture(t)

	res := f.engine.Apply(context.Background(), []changes.FileChange{
		{FilePath: "README.md", NewContent: "# demo\n"},
	}, "noop")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "already matches HEAD")
}

func TestApply_FilesChangedSkipsUnchanged(t *testing.T) {
	f := newFixture(t)

	res := f.engine.Apply(context.Background(), []changes.FileChange{
		{FilePath: "README.md", NewContent: "# demo\n"},
		{FilePath: "main.py", NewContent: "def hello_world():\n    return \"Hi\"\n"},
		{FilePath: "empty.txt", NewContent: ""},
	}, "Partial")
	require.Equal(t, StatusSuccess, res.Status, "error: %s", res.Error)
	assert.Equal(t, []string{"main.py", "empty.txt"}, res.FilesChanged)
}

func TestApply_SymlinkEscapeLeavesOutsideFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outside := t.TempDir()
	writeFile(t, outside, "settings.py", "PRECIOUS = True\n")
	if err := os.Symlink(outside, filepath.Join(f.dir, "shared")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	gitCmd(t, f.dir, "add", "shared")
	gitCmd(t, f.dir, "commit", "-q", "-m", "Add shared link")
	before := commitCount(t, f.dir)

	res := f.engine.Apply(ctx, []changes.FileChange{
		{FilePath: "shared/settings.py", NewContent: "PRECIOUS = False\n"},
	}, "Escape")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, string(errors.PathOutsideRepo), res.Code)
	assert.Equal(t, "PRECIOUS = True\n", readFile(t, outside, "settings.py"))
	assert.Equal(t, before, commitCount(t, f.dir))
	assert.Empty(t, statusLines(t, f.dir))
}

func TestApply_PreservesPreExistingChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	writeFile(t, f.dir, "README.md", "# demo\n\nlocal notes\n")
	gitCmd(t, f.dir, "add", "README.md")
	writeFile(t, f.dir, "README.md", "# demo\n\nlocal notes\nmore\n")
	writeFile(t, f.dir, "scratch/todo.txt", "untracked\n")
	statusBefore := statusLines(t, f.dir)

	res := f.engine.Apply(ctx, []changes.FileChange{
		{FilePath: "main.py", NewContent: "def hello_world():\n    return \"Hi\"\n"},
	}, "Change greeting")
	require.Equal(t, StatusSuccess, res.Status, "error: %s", res.Error)

	assert.Equal(t, "main.py", gitCmd(t, f.dir, "show", "--name-only", "--format=", "HEAD"))
	assert.Equal(t, "# demo\n\nlocal notes\nmore\n", readFile(t, f.dir, "README.md"))
	assert.Equal(t, "untracked\n", readFile(t, f.dir, "scratch/todo.txt"))
	assert.Equal(t, statusBefore, statusLines(t, f.dir), "staged and unstaged split must survive")
	assert.Empty(t, gitCmd(t, f.dir, "stash", "list"))
}

type failingCommit struct {
	git.VCS
}

func (f failingCommit) Commit(context.Context, string) (string, error) {
	return "", errors.New(errors.VCSCommandFailed, "git commit failed: injected", nil, nil)
}

func TestApply_FailureRestoresTree(t *testing.T) {
	base := newFixture(t)
	f := newFixtureAt(t, base.dir, func(v git.VCS) git.VCS { return failingCommit{v} })
	ctx := context.Background()
	head := gitCmd(t, f.dir, "rev-parse", "HEAD")

	writeFile(t, f.dir, "README.md", "# demo\n\nwork in progress\n")
	writeFile(t, f.dir, "notes.txt", "draft\n")
	statusBefore := statusLines(t, f.dir)

	res := f.engine.Apply(ctx, []changes.FileChange{
		{FilePath: "main.py", NewContent: "def hello_world():\n    return \"Bye\"\n"},
		{FilePath: "fresh/module/new.py", NewContent: "X = 1\n"},
	}, "Will fail")

	require.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Equal(t, PhaseCommitting, res.FailedPhase)
	assert.Equal(t, string(errors.VCSCommandFailed), res.Code)
	assert.Contains(t, res.Error, "injected")
	assert.Empty(t, res.CommitID)
	assert.Empty(t, res.StateMismatch)

	assert.Equal(t, head, gitCmd(t, f.dir, "rev-parse", "HEAD"))
	assert.Equal(t, "def hello_world():\n    return \"Hello\"\n", readFile(t, f.dir, "main.py"))
	assert.False(t, exists(f.dir, "fresh"), "directories created by the batch must be removed")
	assert.Equal(t, "# demo\n\nwork in progress\n", readFile(t, f.dir, "README.md"))
	assert.Equal(t, "draft\n", readFile(t, f.dir, "notes.txt"))
	assert.Equal(t, statusBefore, statusLines(t, f.dir))
	assert.Empty(t, gitCmd(t, f.dir, "stash", "list"))
}

func TestApply_StaleOriginalWarns(t *testing.T) {
	f := newFixture(t)

	res := f.engine.Apply(context.Background(), []changes.FileChange{
		{
			FilePath:        "main.py",
			OriginalContent: "def something_else():\n    pass\n",
			NewContent:      "def hello_world():\n    return \"Hey\"\n",
		},
	}, "Stale base")

	require.Equal(t, StatusSuccess, res.Status, "error: %s", res.Error)
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "differs from HEAD") {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", res.Warnings)
}

func TestApply_NoCommits(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-q")
	f := newFixtureAt(t, dir, nil)

	res := f.engine.Apply(context.Background(), []changes.FileChange{{FilePath: "a.txt", NewContent: "x\n"}}, "first")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, string(errors.RepoInvalid), res.Code)
	assert.False(t, exists(f.dir, "a.txt"))
}

func TestApply_LockTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	holder, err := lockmgr.New(lockmgr.Options{LockDir: f.locks.LockDir(), Owner: "other-agent"})
	require.NoError(t, err)
	held, err := holder.Acquire(ctx, paths.JoinRepoPath(f.dir, "main.py"))
	require.NoError(t, err)
	defer held.Release()

	short, err := lockmgr.New(lockmgr.Options{LockDir: f.locks.LockDir(), Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	v, err := validate.New(validate.Options{}, slogutil.NewDiscardLogger())
	require.NoError(t, err)
	engine, err := New(f.repo, Options{Validator: v, Locks: short, Logger: slogutil.NewDiscardLogger()})
	require.NoError(t, err)

	res := engine.Apply(ctx, []changes.FileChange{{FilePath: "main.py", NewContent: "x = 1\n"}}, "blocked")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, string(errors.LockTimeout), res.Code)
	assert.Equal(t, PhaseLocking, res.FailedPhase)
}

func TestApply_ConcurrentDisjointBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := commitCount(t, f.dir)

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i, name := range []string{"alpha.txt", "beta.txt"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = f.engine.Apply(ctx, []changes.FileChange{{FilePath: name, NewContent: name + "\n"}}, "Add "+name)
		}(i, name)
	}
	wg.Wait()

	for _, res := range results {
		require.Equal(t, StatusSuccess, res.Status, "error: %s", res.Error)
	}
	assert.NotEqual(t, results[0].CommitID, results[1].CommitID)
	assert.Equal(t, before+2, commitCount(t, f.dir))
	assert.Equal(t, "alpha.txt\n", readFile(t, f.dir, "alpha.txt"))
	assert.Equal(t, "beta.txt\n", readFile(t, f.dir, "beta.txt"))
	assert.Empty(t, statusLines(t, f.dir))
}

func TestApply_ConcurrentOverlappingBatchesSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i, content := range []string{"one\n", "two\n"} {
		wg.Add(1)
		go func(i int, content string) {
			defer wg.Done()
			results[i] = f.engine.Apply(ctx, []changes.FileChange{{FilePath: "shared.txt", NewContent: content}}, "Write shared")
		}(i, content)
	}
	wg.Wait()

	for _, res := range results {
		require.Equal(t, StatusSuccess, res.Status, "error: %s", res.Error)
	}
	final := readFile(t, f.dir, "shared.txt")
	assert.Contains(t, []string{"one\n", "two\n"}, final)
	assert.Equal(t, final, gitCmd(t, f.dir, "show", "HEAD:shared.txt")+"\n")
}

func TestRollback_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := readFile(t, f.dir, "main.py")

	res := f.engine.Apply(ctx, []changes.FileChange{
		{FilePath: "main.py", NewContent: "def hello_world():\n    return \"Changed\"\n"},
		{FilePath: "added.txt", NewContent: "new\n"},
	}, "Apply then undo")
	require.Equal(t, StatusSuccess, res.Status, "error: %s", res.Error)

	detail := f.engine.RollbackDetail(ctx, res.CommitID)
	require.True(t, detail.Success, "error: %s", detail.Error)
	assert.Equal(t, MethodRevert, detail.Method)
	assert.NotEqual(t, res.CommitID, detail.CommitID)
	assert.Equal(t, original, readFile(t, f.dir, "main.py"))
	assert.False(t, exists(f.dir, "added.txt"))
	assert.Empty(t, statusLines(t, f.dir))
}

func TestRollback_FallsBackToRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := readFile(t, f.dir, "main.py")

	first := f.engine.Apply(ctx, []changes.FileChange{
		{FilePath: "main.py", NewContent: "def hello_world():\n    return \"First\"\n"},
		{FilePath: "extra.txt", NewContent: "extra\n"},
	}, "First change")
	require.Equal(t, StatusSuccess, first.Status, "error: %s", first.Error)
	second := f.engine.Apply(ctx, []changes.FileChange{
		{FilePath: "main.py", NewContent: "def hello_world():\n    return \"Second\"\n"},
	}, "Second change")
	require.Equal(t, StatusSuccess, second.Status, "error: %s", second.Error)

	detail := f.engine.RollbackDetail(ctx, first.CommitID)
	require.True(t, detail.Success, "error: %s", detail.Error)
	assert.Equal(t, MethodRestore, detail.Method)
	assert.Equal(t, original, readFile(t, f.dir, "main.py"))
	assert.False(t, exists(f.dir, "extra.txt"))
	assert.Empty(t, statusLines(t, f.dir), "an aborted revert must not leave conflict state")
	assert.True(t, strings.HasPrefix(gitCmd(t, f.dir, "log", "-1", "--format=%s"), "Revert "))
}

func TestRollback_PreservesPreExistingChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.engine.Apply(ctx, []changes.FileChange{{FilePath: "added.txt", NewContent: "new\n"}}, "Add file")
	require.Equal(t, StatusSuccess, res.Status, "error: %s", res.Error)

	writeFile(t, f.dir, "README.md", "# demo\nedited\n")
	assert.True(t, f.engine.Rollback(ctx, res.CommitID))
	assert.Equal(t, "# demo\nedited\n", readFile(t, f.dir, "README.md"))
	assert.False(t, exists(f.dir, "added.txt"))
}

func TestRollback_UnknownCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.engine.Rollback(ctx, "0123456789abcdef0123456789abcdef01234567"))
	assert.False(t, f.engine.Rollback(ctx, "not-a-commit"))
	assert.False(t, f.engine.Rollback(ctx, ""))
	assert.False(t, f.engine.Rollback(ctx, "--help"))
}

func TestWriteAtomic_KeepsMode(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(p, []byte("old"), 0755))

	require.NoError(t, writeAtomic(p, "new"))
	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	assert.Equal(t, "new", readFile(t, dir, "run.sh"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestEnsureParent(t *testing.T) {
	root := t.TempDir()

	created, err := ensureParent(root, filepath.Join(root, "a", "b", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a"), created)

	created, err = ensureParent(root, filepath.Join(root, "a", "b", "d.txt"))
	require.NoError(t, err)
	assert.Empty(t, created)

	created, err = ensureParent(root, filepath.Join(root, "top.txt"))
	require.NoError(t, err)
	assert.Empty(t, created)
}
