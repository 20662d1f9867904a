// Package engine is the caller-facing entry point. A Manager binds every
// component to one repository and owns the caches they share.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"tracefix/internal/apply"
	"tracefix/internal/backends/git"
	"tracefix/internal/changes"
	"tracefix/internal/codebase"
	"tracefix/internal/config"
	"tracefix/internal/errors"
	"tracefix/internal/impact"
	"tracefix/internal/lockmgr"
	"tracefix/internal/metrics"
	"tracefix/internal/paths"
	"tracefix/internal/related"
	"tracefix/internal/syntax"
	"tracefix/internal/validate"
)

// Options configures a Manager. Zero values select defaults.
type Options struct {
	// Config overrides the repository's .tracefix/config.json.
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Owner is recorded in lock files this Manager creates.
	Owner string
}

// Manager coordinates analysis, validation and apply for one repository.
type Manager struct {
	root      string
	config    *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	repo      *git.GitAdapter
	locks     *lockmgr.Manager
	validator *validate.Validator
	applier   *apply.Engine

	// Parse-derived caches, replaced as a unit by ResetCaches.
	mu    sync.RWMutex
	cache *caches
}

type caches struct {
	parses   *syntax.FileCache
	codebase *codebase.Analyzer
	resolver *related.Resolver
	impact   *impact.Analyzer
}

// New builds a Manager for the git work tree containing repoRoot.
// Configuration, repository and lock directory problems are returned here;
// nothing is retried later.
func New(repoRoot string, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, errors.New(errors.RepoInvalid, fmt.Sprintf("resolving %s", repoRoot), err, nil)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, errors.New(errors.RepoInvalid, fmt.Sprintf("repository path %s is not a directory", abs), err, nil)
	}

	repo, err := git.NewGitAdapter(abs, gitConfigFor(opts.Config), logger)
	if err != nil {
		return nil, err
	}
	root := repo.RepoRoot()

	cfg := opts.Config
	if cfg == nil {
		cfg, err = config.LoadConfig(root)
		if err != nil {
			return nil, errors.New(errors.ConfigInvalid, "loading configuration", err, nil)
		}
		repo, err = git.NewGitAdapter(root, cfg.Git, logger)
		if err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, errors.New(errors.ConfigInvalid, "invalid configuration", err, nil)
	}

	lockDir, err := paths.EnsureLocksDir(root)
	if err != nil {
		return nil, errors.New(errors.RepoInvalid, "repository is not writable", err, nil)
	}
	locks, err := lockmgr.New(lockmgr.Options{
		LockDir:      lockDir,
		Owner:        opts.Owner,
		Timeout:      cfg.Locks.LockTimeout(),
		PollInterval: cfg.Locks.PollInterval(),
		Logger:       logger,
		OnAcquire:    opts.Metrics.ObserveLockWait,
	})
	if err != nil {
		return nil, errors.New(errors.InternalError, "creating lock manager", err, nil)
	}
	if err := repo.EnsureExcluded(context.Background()); err != nil {
		logger.Warn("Could not exclude tool directory from git", "error", err.Error())
	}

	vopts := validate.OptionsFromConfig(cfg.Validation)
	vopts.Root = root
	validator, err := validate.New(vopts, logger)
	if err != nil {
		return nil, err
	}

	applier, err := apply.New(repo, apply.Options{
		Validator: validator,
		Locks:     locks,
		Metrics:   opts.Metrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		root:      root,
		config:    cfg,
		logger:    logger,
		metrics:   opts.Metrics,
		repo:      repo,
		locks:     locks,
		validator: validator,
		applier:   applier,
	}
	m.cache = m.newCaches()

	logger.Debug("Manager ready", "repo", root, "lockDir", locks.LockDir())
	return m, nil
}

func gitConfigFor(cfg *config.Config) config.GitConfig {
	if cfg != nil {
		return cfg.Git
	}
	return config.DefaultConfig().Git
}

func (m *Manager) newCaches() *caches {
	parses := syntax.NewFileCache(m.logger)
	analyzer := codebase.NewAnalyzer(m.root, m.codebaseOptions(), parses, m.logger)
	resolver := related.NewResolver(analyzer.Walker(), parses, related.Options{
		MaxConfigFiles: m.config.Analysis.MaxConfigFiles,
	}, m.logger)
	return &caches{
		parses:   parses,
		codebase: analyzer,
		resolver: resolver,
		impact: impact.NewAnalyzer(resolver, m.validator, impact.Options{
			FullSuiteThreshold: m.config.Analysis.FullSuiteThreshold,
		}, m.logger),
	}
}

func (m *Manager) codebaseOptions() codebase.Options {
	return codebase.Options{
		MaxRelevantFiles: m.config.Analysis.MaxRelevantFiles,
		MaxConfigFiles:   m.config.Analysis.MaxConfigFiles,
		Ignore:           m.config.Analysis.Ignore,
		PrimaryLanguage:  m.config.Analysis.PrimaryLanguage,
	}
}

func (m *Manager) current() *caches {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache
}

// ResetCaches drops the parse and import caches. Caches are otherwise kept
// for the Manager's lifetime, applies included. Requests already running
// finish against the caches they started with.
func (m *Manager) ResetCaches() {
	fresh := m.newCaches()
	m.mu.Lock()
	m.cache = fresh
	m.mu.Unlock()
	m.logger.Debug("Caches reset", "repo", m.root)
}

// Root returns the repository root.
func (m *Manager) Root() string {
	return m.root
}

// Config returns the effective configuration.
func (m *Manager) Config() *config.Config {
	return m.config
}

// Locks returns the lock manager, for inspection and cleanup.
func (m *Manager) Locks() *lockmgr.Manager {
	return m.locks
}

// AnalyzeCodebase describes the repository at path. An empty path means the
// Manager's root; any other directory is analysed without caching.
func (m *Manager) AnalyzeCodebase(ctx context.Context, path string) (*codebase.CodeContext, error) {
	if path == "" {
		return m.current().codebase.Analyze(ctx)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.New(errors.RepoInvalid, fmt.Sprintf("resolving %s", path), err, nil)
	}
	if abs == m.root {
		return m.current().codebase.Analyze(ctx)
	}
	return codebase.NewAnalyzer(abs, m.codebaseOptions(), syntax.NewFileCache(m.logger), m.logger).Analyze(ctx)
}

// GetRelatedFiles returns the sorted set of files related to a
// repository-relative path.
func (m *Manager) GetRelatedFiles(ctx context.Context, path string) ([]string, error) {
	return m.current().resolver.RelatedFiles(ctx, path)
}

// RelatedDetail returns the categorised relations of path.
func (m *Manager) RelatedDetail(ctx context.Context, path string) (*related.Relations, error) {
	return m.current().resolver.Related(ctx, path)
}

// ValidateChange screens one change. It has no side effects.
func (m *Manager) ValidateChange(ctx context.Context, change changes.FileChange) validate.Result {
	res := m.validator.Validate(ctx, change)
	m.metrics.RecordValidationIssues(res.IssueCounts())
	return res
}

// AnalyzeImpact estimates what a batch affects.
func (m *Manager) AnalyzeImpact(ctx context.Context, batch []changes.FileChange) (*impact.Report, error) {
	return m.current().impact.Analyze(ctx, batch)
}

// ApplyChanges validates and commits batch as one commit.
func (m *Manager) ApplyChanges(ctx context.Context, batch []changes.FileChange, message string) *apply.Result {
	return m.applier.Apply(ctx, batch, message)
}

// RollbackChanges reverts a commit made by ApplyChanges. Failures are
// logged and reported as false.
func (m *Manager) RollbackChanges(ctx context.Context, commitID string) bool {
	return m.RollbackDetail(ctx, commitID).Success
}

// RollbackDetail is RollbackChanges with the full outcome.
func (m *Manager) RollbackDetail(ctx context.Context, commitID string) *apply.RollbackResult {
	return m.applier.RollbackDetail(ctx, commitID)
}

// CachedParses reports how many files the current parse cache holds.
func (m *Manager) CachedParses() int {
	return m.current().parses.Len()
}
