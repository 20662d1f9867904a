// Package apply writes a validated batch of file changes as one git commit,
// restoring the exact pre-apply work tree when any step fails, and reverts
// previously applied commits.
//
// Locking: per-file locks are taken in sorted order, then the repository
// lock. The repository lock is held from snapshot to snapshot restore
// because git stash captures every uncommitted change in the tree.
// Validation runs before any lock is taken, so disjoint batches only
// serialize on the mutation phase.
package apply

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tracefix/internal/backends/git"
	"tracefix/internal/changes"
	"tracefix/internal/errors"
	"tracefix/internal/lockmgr"
	"tracefix/internal/metrics"
	"tracefix/internal/paths"
	"tracefix/internal/repostate"
	"tracefix/internal/telemetry"
	"tracefix/internal/validate"
)

const snapshotPrefix = "tracefix-snapshot-"

// Validator screens one change.
type Validator interface {
	Validate(ctx context.Context, change changes.FileChange) validate.Result
}

// Options configures an Engine.
type Options struct {
	Validator Validator
	Locks     *lockmgr.Manager
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Fingerprint computes the work tree state compared before and after a
	// rollback. Defaults to repostate.Compute on the repository root.
	Fingerprint func(ctx context.Context) (*repostate.RepoState, error)
}

// Engine applies and reverts change batches in one repository.
type Engine struct {
	repo        git.VCS
	root        string
	validator   Validator
	locks       *lockmgr.Manager
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	fingerprint func(ctx context.Context) (*repostate.RepoState, error)
}

// New creates an engine over repo.
func New(repo git.VCS, opts Options) (*Engine, error) {
	if repo == nil {
		return nil, errors.New(errors.InternalError, "apply engine requires a repository", nil, nil)
	}
	if opts.Validator == nil || opts.Locks == nil {
		return nil, errors.New(errors.InternalError, "apply engine requires a validator and a lock manager", nil, nil)
	}
	if !repo.IsAvailable() {
		return nil, errors.Newf(errors.NotGitRepository, "%s is no longer a git repository", repo.RepoRoot())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	root := repo.RepoRoot()
	if opts.Fingerprint == nil {
		opts.Fingerprint = func(ctx context.Context) (*repostate.RepoState, error) {
			return repostate.Compute(ctx, root)
		}
	}
	return &Engine{
		repo:        repo,
		root:        root,
		validator:   opts.Validator,
		locks:       opts.Locks,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		tracer:      telemetry.Tracer("tracefix/apply"),
		fingerprint: opts.Fingerprint,
	}, nil
}

// run tracks one apply through its phases.
type run struct {
	e     *Engine
	span  trace.Span
	id    string
	res   *Result
	phase Phase

	// unchanged holds batch files whose new content equals HEAD.
	unchanged map[string]bool
}

func (r *run) enter(p Phase) {
	r.phase = p
	r.res.Phase = p
	r.span.AddEvent(string(p))
	r.e.logger.Debug("Apply phase", "apply", r.id, "phase", p)
}

// fail records err as the outcome without touching the tree.
func (r *run) fail(err error) *Result {
	r.res.Status = StatusFailed
	r.res.Error = err.Error()
	r.res.Code = string(errors.CodeOf(err))
	if r.res.FailedPhase == "" {
		r.res.FailedPhase = r.phase
	}
	r.enter(PhaseFailed)
	return r.res
}

// Apply validates every change, then writes and commits them as one
// commit. Any failure after the first write rolls the tree back to its
// pre-apply state, pre-existing uncommitted changes included.
func (e *Engine) Apply(ctx context.Context, batch []changes.FileChange, message string) *Result {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "apply.changes",
		trace.WithAttributes(attribute.Int("apply.files", len(batch))),
	)
	defer span.End()

	r := &run{
		e:    e,
		span: span,
		id:   uuid.NewString()[:8],
		res:  &Result{Warnings: []string{}},
	}
	res := r.apply(ctx, batch, message)

	span.SetAttributes(
		attribute.String("apply.status", string(res.Status)),
		attribute.String("apply.phase", string(res.Phase)),
	)
	if res.Status != StatusSuccess {
		span.SetStatus(codes.Error, res.Error)
		if res.Status == StatusFailed {
			span.RecordError(fmt.Errorf("%s", res.Error))
		}
	}
	e.metrics.RecordApply(string(res.Status), time.Since(start))

	e.logger.Info("Apply finished",
		"apply", r.id,
		"status", res.Status,
		"commit", res.CommitID,
		"files", len(batch),
		"duration", time.Since(start).String(),
	)
	return res
}

func (r *run) apply(ctx context.Context, batch []changes.FileChange, message string) *Result {
	e := r.e
	res := r.res

	r.enter(PhaseValidating)
	files, ok := r.validate(ctx, batch)
	if !ok {
		res.Status = StatusValidationFailed
		r.enter(PhaseFailedValidation)
		return res
	}
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("tracefix: apply %d change(s)", len(batch))
	}

	r.enter(PhaseLocking)
	targets := make([]string, 0, len(files)+1)
	for _, f := range files {
		targets = append(targets, paths.JoinRepoPath(e.root, f))
	}
	targets = append(targets, lockmgr.RepositoryTarget)

	var out *Result
	err := e.locks.WithLocks(ctx, targets, func() error {
		out = r.locked(ctx, batch, files, message)
		return nil
	})
	if err != nil {
		return r.fail(err)
	}
	return out
}

// locked runs the mutating phases. The caller holds every file lock and
// the repository lock.
func (r *run) locked(ctx context.Context, batch []changes.FileChange, files []string, message string) *Result {
	e := r.e
	res := r.res

	if err := e.repo.EnsureExcluded(ctx); err != nil {
		return r.fail(err)
	}
	preHead, err := e.repo.HeadCommit(ctx)
	if err != nil {
		return r.fail(err)
	}
	if preHead == "" {
		return r.fail(errors.New(errors.RepoInvalid,
			"repository has no commits; create an initial commit before applying changes", nil, nil))
	}

	originals, err := r.checkHead(ctx, preHead, batch, files)
	if err != nil {
		return r.fail(err)
	}

	before, err := e.fingerprint(ctx)
	if err != nil {
		e.logger.Warn("Could not fingerprint work tree", "apply", r.id, "error", err.Error())
		before = nil
	}

	r.enter(PhaseSnapshotting)
	snap, err := r.snapshot(ctx)
	if err != nil {
		return r.fail(err)
	}

	created, mutErr := r.mutate(ctx, batch, files, message)
	if mutErr != nil {
		res.FailedPhase = r.phase
		r.rollback(ctx, preHead, created, snap, before)
		return r.fail(mutErr)
	}

	if snap != "" {
		if err := e.repo.StashPop(ctx, snap); err != nil {
			e.logger.Warn("Could not restore pre-existing changes", "apply", r.id, "stash", snap, "error", err.Error())
			if rerr := e.repo.ResetHard(ctx, "HEAD"); rerr != nil {
				e.logger.Warn("Could not clean partial stash apply", "apply", r.id, "error", rerr.Error())
			}
			res.warn(fmt.Sprintf("Pre-existing uncommitted changes could not be re-applied on top of the new commit; they are kept in stash %q", snap))
		}
	}

	stats, err := changes.DiffStats(changes.BatchDiff(originals))
	if err == nil {
		res.DiffStats = stats
	}
	res.Status = StatusSuccess
	res.FilesChanged = r.changedPaths(files)
	r.enter(PhaseSuccess)
	return res
}

// validate runs the validator over the whole batch. It returns the cleaned
// paths in batch order.
func (r *run) validate(ctx context.Context, batch []changes.FileChange) ([]string, bool) {
	res := r.res
	res.Validation = make(map[string]validate.Result, len(batch))

	if len(batch) == 0 {
		res.Error = "no changes to apply"
		return nil, false
	}

	files := make([]string, 0, len(batch))
	seen := make(map[string]bool, len(batch))
	invalid := 0
	for _, change := range batch {
		v := r.e.validator.Validate(ctx, change)
		r.e.metrics.RecordValidationIssues(v.IssueCounts())

		key := change.FilePath
		if clean, err := paths.CleanRelative(change.FilePath); err == nil {
			key = clean
			if seen[clean] {
				v.IsValid = false
				v.Issues = append(v.Issues, "Duplicate change for "+clean)
			}
			seen[clean] = true
			files = append(files, clean)
		}
		res.Validation[key] = v
		if !v.IsValid {
			invalid++
		}
		for _, w := range v.Warnings {
			res.warn(key + ": " + w)
		}
	}

	if invalid > 0 {
		res.Error = fmt.Sprintf("validation failed for %d of %d change(s)", invalid, len(batch))
		return nil, false
	}
	return files, true
}

// checkHead compares each change against HEAD. It warns when the caller's
// original content is stale and returns the batch with HEAD originals for
// diff statistics.
func (r *run) checkHead(ctx context.Context, head string, batch []changes.FileChange, files []string) ([]changes.FileChange, error) {
	out := make([]changes.FileChange, len(batch))
	r.unchanged = make(map[string]bool)
	for i, change := range batch {
		current, exists, err := r.e.repo.ShowFile(ctx, head, files[i])
		if err != nil {
			return nil, err
		}
		if change.OriginalContent != "" && change.OriginalContent != current {
			r.res.warn(fmt.Sprintf("%s: original content differs from HEAD; the change may overwrite newer edits", files[i]))
		}
		if exists && current == change.NewContent {
			r.unchanged[files[i]] = true
		}
		out[i] = change
		out[i].FilePath = files[i]
		out[i].OriginalContent = current
	}
	if len(r.unchanged) == len(batch) {
		return nil, errors.New(errors.InternalError, "nothing to apply: every file already matches HEAD", nil, nil)
	}
	return out, nil
}

// changedPaths lists the batch files that differ from HEAD.
func (r *run) changedPaths(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !r.unchanged[f] {
			out = append(out, f)
		}
	}
	return out
}

// snapshot stashes pre-existing changes. It returns the stash message, or
// "" when the tree was clean.
func (r *run) snapshot(ctx context.Context) (string, error) {
	dirty, err := r.e.repo.IsDirty(ctx)
	if err != nil || !dirty {
		return "", err
	}
	msg := snapshotPrefix + uuid.NewString()
	stashed, err := r.e.repo.StashPush(ctx, msg)
	if err != nil {
		// A failed push may still have recorded the entry.
		if perr := r.e.repo.StashPop(ctx, msg); perr == nil {
			r.e.logger.Warn("Restored partial snapshot", "apply", r.id)
		}
		return "", err
	}
	if !stashed {
		return "", nil
	}
	r.e.logger.Debug("Snapshot taken", "apply", r.id, "stash", msg)
	return msg, nil
}

// mutate writes, stages and commits. It returns what it created so a
// rollback can remove it.
func (r *run) mutate(ctx context.Context, batch []changes.FileChange, files []string, message string) ([]string, error) {
	e := r.e
	var created []string

	r.enter(PhaseWriting)
	for _, f := range files {
		if !paths.ResolvesWithinRepo(e.root, f) {
			return created, errors.Newf(errors.PathOutsideRepo, "%s resolves outside the repository through a symbolic link", f)
		}
	}
	for i, change := range batch {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		abs := paths.JoinRepoPath(e.root, files[i])
		if _, err := os.Lstat(abs); os.IsNotExist(err) {
			dir, err := ensureParent(e.root, abs)
			if err != nil {
				return created, err
			}
			if dir != "" {
				created = append(created, dir)
			}
			created = append(created, abs)
		}
		if err := writeAtomic(abs, change.NewContent); err != nil {
			return created, errors.New(errors.InternalError, "writing "+files[i], err, nil)
		}
	}

	r.enter(PhaseStaging)
	if err := e.repo.Add(ctx, files...); err != nil {
		return created, err
	}

	r.enter(PhaseCommitting)
	commit, err := e.repo.Commit(ctx, message)
	if err != nil {
		return created, err
	}
	r.res.CommitID = commit
	return created, nil
}

// rollback restores the pre-apply tree. It runs on a fresh context so a
// cancelled caller still gets a clean tree.
func (r *run) rollback(ctx context.Context, preHead string, created []string, snap string, before *repostate.RepoState) {
	e := r.e
	r.enter(PhaseRollingBack)
	ctx = context.WithoutCancel(ctx)
	r.res.CommitID = ""

	if err := e.repo.ResetHard(ctx, preHead); err != nil {
		e.logger.Error("Rollback reset failed", "apply", r.id, "head", preHead, "error", err.Error())
		r.res.warn("Rollback could not reset to " + preHead + ": " + err.Error())
	}
	for i := len(created) - 1; i >= 0; i-- {
		if err := os.RemoveAll(created[i]); err != nil {
			r.res.warn("Rollback could not remove " + created[i] + ": " + err.Error())
		}
	}
	if snap != "" {
		if err := e.repo.StashPop(ctx, snap); err != nil {
			e.logger.Error("Rollback could not restore snapshot", "apply", r.id, "stash", snap, "error", err.Error())
			r.res.warn(fmt.Sprintf("Pre-existing changes are kept in stash %q: %v", snap, err))
		}
	}

	if before == nil {
		return
	}
	after, err := e.fingerprint(ctx)
	if err != nil {
		r.res.warn("Could not verify restored state: " + err.Error())
		return
	}
	if diffs := before.Differences(after); len(diffs) > 0 {
		r.res.StateMismatch = diffs
		r.res.warn("Work tree differs from its pre-apply state after rollback: " + strings.Join(diffs, ", "))
		e.logger.Error("Rollback left state mismatch", "apply", r.id, "components", diffs)
	}
}

// Rollback reverts a previously applied commit. It reports failure as
// false; details are logged.
func (e *Engine) Rollback(ctx context.Context, commitID string) bool {
	res := e.RollbackDetail(ctx, commitID)
	return res.Success
}

// RollbackDetail reverts commitID with a forward revert, falling back to
// restoring the commit's files from its parent in a new commit.
func (e *Engine) RollbackDetail(ctx context.Context, commitID string) *RollbackResult {
	ctx, span := e.tracer.Start(ctx, "apply.rollback",
		trace.WithAttributes(attribute.String("rollback.target", commitID)),
	)
	defer span.End()

	res, err := e.rollbackCommit(ctx, commitID)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordRollback("failed")
		e.logger.Warn("Rollback failed", "commit", commitID, "error", err.Error())
		return res
	}

	res.Success = true
	span.SetAttributes(attribute.String("rollback.method", res.Method))
	e.metrics.RecordRollback(res.Method)
	e.logger.Info("Rollback finished", "commit", res.Target, "method", res.Method, "revertCommit", res.CommitID)
	return res
}

func (e *Engine) rollbackCommit(ctx context.Context, commitID string) (*RollbackResult, error) {
	res := &RollbackResult{Target: commitID}

	id := strings.TrimSpace(commitID)
	if id == "" || strings.HasPrefix(id, "-") {
		return res, errors.Newf(errors.VCSCommandFailed, "invalid commit id %q", commitID)
	}
	full, err := e.repo.RevParse(ctx, id)
	if err != nil {
		return res, err
	}
	res.Target = full

	changed, err := e.repo.ChangedFiles(ctx, full)
	if err != nil {
		return res, err
	}
	targets := make([]string, 0, len(changed)+1)
	for _, f := range changed {
		res.Files = append(res.Files, f.Path)
		targets = append(targets, paths.JoinRepoPath(e.root, f.Path))
	}
	targets = append(targets, lockmgr.RepositoryTarget)

	err = e.locks.WithLocks(ctx, targets, func() error {
		return e.revertLocked(ctx, res, full, changed)
	})
	return res, err
}

// revertLocked reverts full, falling back to a restore from its parent.
// The caller holds the locks for every file the commit touched.
func (e *Engine) revertLocked(ctx context.Context, res *RollbackResult, full string, changed []git.FileStatus) error {
	if err := e.repo.EnsureExcluded(ctx); err != nil {
		return err
	}
	preHead, err := e.repo.HeadCommit(ctx)
	if err != nil {
		return err
	}

	r := &run{e: e, span: trace.SpanFromContext(ctx), id: full[:8], res: &Result{}}
	snap, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if snap == "" {
			return
		}
		if perr := e.repo.StashPop(context.WithoutCancel(ctx), snap); perr != nil {
			e.logger.Warn("Could not restore pre-existing changes after rollback", "stash", snap, "error", perr.Error())
			res.Warnings = append(res.Warnings, fmt.Sprintf("Pre-existing changes are kept in stash %q", snap))
		}
	}()

	revertErr := e.repo.Revert(ctx, full)
	if revertErr == nil {
		res.Method = MethodRevert
		res.CommitID, err = e.repo.HeadCommit(ctx)
		return err
	}
	e.logger.Warn("Forward revert failed, restoring files from parent", "commit", full, "error", revertErr.Error())
	if err := e.repo.RevertAbort(ctx); err != nil {
		e.logger.Debug("Revert abort", "error", err.Error())
	}

	commit, err := e.restoreFromParent(ctx, full, changed)
	if err != nil {
		if preHead != "" {
			if rerr := e.repo.ResetHard(context.WithoutCancel(ctx), preHead); rerr != nil {
				e.logger.Error("Could not reset after failed rollback", "head", preHead, "error", rerr.Error())
			}
		}
		return fmt.Errorf("revert failed (%v); restore from parent failed: %w", revertErr, err)
	}
	res.Method = MethodRestore
	res.CommitID = commit
	return nil
}

// restoreFromParent checks out commit^ for every file the commit touched,
// removes files it added and records the result as a new commit.
func (e *Engine) restoreFromParent(ctx context.Context, commit string, changed []git.FileStatus) (string, error) {
	parent, err := e.repo.RevParse(ctx, commit+"^")
	if err != nil {
		return "", err
	}

	var restore, remove []string
	for _, f := range changed {
		if f.Status == "A" {
			remove = append(remove, f.Path)
		} else {
			restore = append(restore, f.Path)
		}
	}
	if err := e.repo.CheckoutFrom(ctx, parent, restore...); err != nil {
		return "", err
	}
	if err := e.repo.Remove(ctx, remove...); err != nil {
		return "", err
	}
	return e.repo.Commit(ctx, fmt.Sprintf("Revert %s\n\nRestores %d file(s) from %s.", commit[:12], len(changed), parent[:12]))
}
