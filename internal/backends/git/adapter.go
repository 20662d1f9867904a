// Package git drives the git command line for snapshot, commit and revert
// operations on the target repository.
package git

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"tracefix/internal/config"
	"tracefix/internal/errors"
	"tracefix/internal/paths"
)

const (
	// BackendID is the unique identifier for the Git backend
	BackendID = "git"

	// DefaultCommandTimeout bounds a single git subprocess
	DefaultCommandTimeout = 30 * time.Second
)

// GitAdapter runs git subprocesses against one work tree
type GitAdapter struct {
	repoRoot string
	timeout  time.Duration
	identity []string
	logger   *slog.Logger
}

// NewGitAdapter resolves the work tree containing repoRoot and returns an
// adapter for it. A NOT_A_GIT_REPOSITORY error is returned when repoRoot is
// not inside a git work tree.
func NewGitAdapter(repoRoot string, cfg config.GitConfig, logger *slog.Logger) (*GitAdapter, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	timeout := cfg.CommandTimeout()
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	g := &GitAdapter{
		repoRoot: repoRoot,
		timeout:  timeout,
		logger:   logger,
	}
	if cfg.AuthorName != "" {
		g.identity = append(g.identity, "-c", "user.name="+cfg.AuthorName)
	}
	if cfg.AuthorEmail != "" {
		g.identity = append(g.identity, "-c", "user.email="+cfg.AuthorEmail)
	}

	top, err := g.run(context.Background(), "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, errors.New(
			errors.NotGitRepository,
			fmt.Sprintf("%s is not inside a git work tree", repoRoot),
			err,
			nil,
		)
	}
	g.repoRoot = filepath.FromSlash(top)

	logger.Debug("Git adapter initialized",
		"backend", BackendID,
		"repoRoot", g.repoRoot,
		"timeout", timeout.String(),
	)
	return g, nil
}

// IsAvailable checks that the work tree is still a git repository
func (g *GitAdapter) IsAvailable() bool {
	_, err := g.run(context.Background(), "rev-parse", "--git-dir")
	return err == nil
}

// RepoRoot returns the absolute top-level directory of the work tree
func (g *GitAdapter) RepoRoot() string {
	return g.repoRoot
}

// HeadCommit returns the full hash of HEAD, or "" in a repository without
// commits.
func (g *GitAdapter) HeadCommit(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--verify", "--quiet", "HEAD^{commit}")
	if err != nil {
		if errors.Is(err, errors.VCSCommandFailed) {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// RevParse resolves rev to a full commit hash
func (g *GitAdapter) RevParse(ctx context.Context, rev string) (string, error) {
	return g.run(ctx, "rev-parse", "--verify", rev+"^{commit}")
}

// StatusEntries returns porcelain status paths outside the tool directory
func (g *GitAdapter) StatusEntries(ctx context.Context) ([]string, error) {
	out, err := g.runRaw(ctx, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}

	var entries []string
	fields := strings.Split(out, "\x00")
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if len(f) < 4 {
			continue
		}
		xy, p := f[:2], f[3:]
		// Renames and copies carry the source path as the next field
		if xy[0] == 'R' || xy[0] == 'C' {
			i++
		}
		if p == paths.ToolDirName || strings.HasPrefix(p, paths.ToolDirName+"/") {
			continue
		}
		entries = append(entries, xy+" "+p)
	}
	return entries, nil
}

// IsDirty reports uncommitted changes outside the tool directory
func (g *GitAdapter) IsDirty(ctx context.Context) (bool, error) {
	entries, err := g.StatusEntries(ctx)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// StashPush stashes tracked and untracked changes under message
func (g *GitAdapter) StashPush(ctx context.Context, message string) (bool, error) {
	if _, err := g.run(ctx, "stash", "push", "--include-untracked", "-m", message); err != nil {
		return false, err
	}
	ref, err := g.stashRef(ctx, message)
	if err != nil {
		return false, err
	}
	return ref != "", nil
}

// StashPop restores the stash entry recorded under message, keeping the
// staged/unstaged split when git can.
func (g *GitAdapter) StashPop(ctx context.Context, message string) error {
	ref, err := g.stashRef(ctx, message)
	if err != nil {
		return err
	}
	if ref == "" {
		return errors.Newf(errors.VCSCommandFailed, "no stash entry named %q", message)
	}

	if _, err := g.run(ctx, "stash", "pop", "--index", ref); err != nil {
		g.logger.Warn("Stash pop with index failed, retrying without index",
			"ref", ref,
			"error", err.Error(),
		)
		if _, err := g.run(ctx, "stash", "pop", ref); err != nil {
			return err
		}
	}
	return nil
}

func (g *GitAdapter) stashRef(ctx context.Context, message string) (string, error) {
	lines, err := g.runLines(ctx, "stash", "list", "--format=%gd%x09%s")
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		ref, subject, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		// Subjects read "On <branch>: <message>"
		if subject == message || strings.HasSuffix(subject, ": "+message) {
			return ref, nil
		}
	}
	return "", nil
}

// Add stages the given repository-relative paths
func (g *GitAdapter) Add(ctx context.Context, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := g.run(ctx, append([]string{"add", "--"}, files...)...)
	return err
}

// Commit records the index and returns the new commit hash
func (g *GitAdapter) Commit(ctx context.Context, message string) (string, error) {
	if _, err := g.run(ctx, "commit", "-q", "-m", message); err != nil {
		return "", err
	}
	return g.run(ctx, "rev-parse", "HEAD")
}

// ResetHard moves HEAD, index and work tree to rev
func (g *GitAdapter) ResetHard(ctx context.Context, rev string) error {
	_, err := g.run(ctx, "reset", "-q", "--hard", rev)
	return err
}

// Revert creates a commit undoing commit
func (g *GitAdapter) Revert(ctx context.Context, commit string) error {
	_, err := g.run(ctx, "revert", "--no-edit", commit)
	return err
}

// RevertAbort cancels an in-progress revert
func (g *GitAdapter) RevertAbort(ctx context.Context) error {
	_, err := g.run(ctx, "revert", "--abort")
	return err
}

// ChangedFiles lists the paths touched by commit with their status
func (g *GitAdapter) ChangedFiles(ctx context.Context, commit string) ([]FileStatus, error) {
	out, err := g.runRaw(ctx, "diff-tree", "-z", "--no-commit-id", "--name-status", "-r", "--root", commit)
	if err != nil {
		return nil, err
	}

	var files []FileStatus
	fields := strings.Split(strings.TrimRight(out, "\x00"), "\x00")
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i] == "" {
			continue
		}
		files = append(files, FileStatus{Status: fields[i][:1], Path: fields[i+1]})
	}
	return files, nil
}

// CheckoutFrom restores paths from rev into index and work tree
func (g *GitAdapter) CheckoutFrom(ctx context.Context, rev string, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := g.run(ctx, append([]string{"checkout", rev, "--"}, files...)...)
	return err
}

// Remove deletes paths from index and work tree
func (g *GitAdapter) Remove(ctx context.Context, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := g.run(ctx, append([]string{"rm", "-q", "-f", "--"}, files...)...)
	return err
}

// ShowFile returns the content of path at rev
func (g *GitAdapter) ShowFile(ctx context.Context, rev, path string) (string, bool, error) {
	out, err := g.runRaw(ctx, "cat-file", "-p", rev+":"+path)
	if err != nil {
		if errors.Is(err, errors.VCSCommandFailed) {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// EnsureExcluded appends the tool directory to .git/info/exclude so lock
// files are never staged or stashed.
func (g *GitAdapter) EnsureExcluded(ctx context.Context) error {
	gitPath, err := g.run(ctx, "rev-parse", "--git-path", "info/exclude")
	if err != nil {
		return err
	}
	if !filepath.IsAbs(gitPath) {
		gitPath = filepath.Join(g.repoRoot, gitPath)
	}

	pattern := "/" + paths.ToolDirName + "/"
	existing, err := os.ReadFile(gitPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(gitPath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(gitPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	prefix := ""
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		prefix = "\n"
	}
	_, err = f.WriteString(prefix + pattern + "\n")
	return err
}

// run executes a git command and returns trimmed stdout
func (g *GitAdapter) run(ctx context.Context, args ...string) (string, error) {
	out, err := g.runRaw(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// runLines executes a git command and returns non-empty output lines
func (g *GitAdapter) runLines(ctx context.Context, args ...string) ([]string, error) {
	output, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if output == "" {
		return []string{}, nil
	}

	lines := strings.Split(output, "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result, nil
}

// runRaw executes a git command with the adapter timeout and returns stdout
// unmodified
func (g *GitAdapter) runRaw(ctx context.Context, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cmdCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	fullArgs := append(append([]string{}, g.identity...), args...)
	cmd := exec.CommandContext(cmdCtx, "git", fullArgs...)
	cmd.Dir = g.repoRoot
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_EDITOR=true", "LC_ALL=C")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.logger.Debug("Executing git command",
		"args", args,
		"timeout", g.timeout.String(),
	)

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if cmdCtx.Err() == context.DeadlineExceeded {
		return "", errors.New(
			errors.Timeout,
			fmt.Sprintf("git %s timed out after %s", args[0], g.timeout),
			err,
			nil,
		).WithDetails(map[string]interface{}{"args": args})
	}

	details := map[string]interface{}{
		"args":   args,
		"stderr": strings.TrimSpace(stderr.String()),
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		details["exitCode"] = exitErr.ExitCode()
	}

	msg := "git " + args[0] + " failed"
	if first := firstLine(stderr.String()); first != "" {
		msg += ": " + first
	}
	return "", errors.New(errors.VCSCommandFailed, msg, err, nil).WithDetails(details)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
