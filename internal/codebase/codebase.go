// Package codebase inspects a repository: its primary language, framework,
// relevant source files, configuration files and declared dependencies.
package codebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	tferrors "tracefix/internal/errors"
	"tracefix/internal/paths"
	"tracefix/internal/syntax"
)

// CodeContext describes a repository at the time of analysis.
type CodeContext struct {
	RepositoryPath string            `json:"repository_path"`
	MainLanguage   string            `json:"main_language"`
	Framework      *string           `json:"framework"`
	RelevantFiles  []string          `json:"relevant_files"`
	ConfigFiles    []string          `json:"config_files"`
	Dependencies   map[string]string `json:"dependencies"`
	LanguageCounts map[string]int    `json:"language_counts"`
	TotalFiles     int               `json:"total_files"`
	// Unparsable lists relevant files skipped by the framework import scan.
	Unparsable []string        `json:"unparsable_files,omitempty"`
	Manifests  []ManifestError `json:"manifest_errors,omitempty"`
}

// Options bounds discovery.
type Options struct {
	MaxRelevantFiles int
	MaxConfigFiles   int
	Ignore           []string
	// PrimaryLanguage overrides majority detection when set.
	PrimaryLanguage string
}

// DefaultOptions matches the configuration defaults.
func DefaultOptions() Options {
	return Options{MaxRelevantFiles: 100, MaxConfigFiles: 20}
}

// Analyzer produces CodeContext values for one repository.
type Analyzer struct {
	root   string
	opts   Options
	walker *Walker
	cache  *syntax.FileCache
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer. cache may be shared with other
// components of the same owner.
func NewAnalyzer(root string, opts Options, cache *syntax.FileCache, logger *slog.Logger) *Analyzer {
	if opts.MaxRelevantFiles <= 0 {
		opts.MaxRelevantFiles = DefaultOptions().MaxRelevantFiles
	}
	if opts.MaxConfigFiles <= 0 {
		opts.MaxConfigFiles = DefaultOptions().MaxConfigFiles
	}
	return &Analyzer{
		root:   root,
		opts:   opts,
		walker: NewWalker(root, opts.Ignore),
		cache:  cache,
		logger: logger,
	}
}

// Walker returns the file walker used by the analyzer.
func (a *Analyzer) Walker() *Walker {
	return a.walker
}

// Analyze walks the repository and builds its CodeContext.
func (a *Analyzer) Analyze(ctx context.Context) (*CodeContext, error) {
	info, err := os.Stat(a.root)
	if err != nil || !info.IsDir() {
		return nil, tferrors.New(tferrors.RepoInvalid, fmt.Sprintf("repository path %s is not a directory", a.root), err, nil)
	}

	files, err := a.walker.Files(ctx)
	if err != nil {
		return nil, tferrors.New(tferrors.InternalError, "walking repository", err, nil)
	}

	lang, counts := DetectLanguage(files)
	if a.opts.PrimaryLanguage != "" {
		lang = a.opts.PrimaryLanguage
	}

	result := &CodeContext{
		RepositoryPath: a.root,
		MainLanguage:   lang,
		RelevantFiles:  RelevantFiles(files, lang, a.opts.MaxRelevantFiles),
		ConfigFiles:    ConfigFiles(files, a.opts.MaxConfigFiles),
		LanguageCounts: counts,
		TotalFiles:     len(files),
	}

	result.Dependencies, result.Manifests = LoadDependencies(a.root)
	for _, m := range result.Manifests {
		a.logger.Warn("Skipping unreadable dependency manifest", "path", m.Path, "error", m.Err)
	}

	fw := DetectFramework(result.Dependencies, nil)
	if fw == "" {
		var modules []string
		modules, result.Unparsable = a.importedModules(ctx, result.RelevantFiles)
		fw = DetectFramework(nil, modules)
	}
	if fw != "" {
		result.Framework = &fw
	}

	a.logger.Info("Analyzed codebase",
		"repo", a.root,
		"language", lang,
		"framework", fw,
		"files", len(files),
		"dependencies", len(result.Dependencies),
	)
	return result, nil
}

// importedModules collects modules imported by analyzable files.
func (a *Analyzer) importedModules(ctx context.Context, files []string) ([]string, []string) {
	if a.cache == nil {
		return nil, nil
	}
	var modules, unparsable []string
	for _, rel := range files {
		if _, ok := syntax.LanguageFromPath(rel); !ok {
			continue
		}
		res := a.cache.Result(ctx, paths.JoinRepoPath(a.root, rel))
		if res.Err != nil {
			if !errors.Is(res.Err, syntax.ErrNoCGO) {
				unparsable = append(unparsable, rel)
			}
			continue
		}
		for _, imp := range res.Imports {
			if imp.Level == 0 {
				modules = append(modules, imp.Module)
			}
		}
	}
	return modules, unparsable
}

// RelevantFiles returns up to max files of the given language in discovery
// order, falling back to any source file when the language is unknown.
func RelevantFiles(files []string, lang string, max int) []string {
	out := make([]string, 0, min(len(files), max))
	for _, f := range files {
		if len(out) >= max {
			break
		}
		fl, ok := LanguageOf(f)
		if !ok {
			continue
		}
		if lang == LangUnknown || fl == lang {
			out = append(out, f)
		}
	}
	return out
}

// ConfigFiles returns up to max configuration files in discovery order.
func ConfigFiles(files []string, max int) []string {
	out := make([]string, 0, min(len(files), max))
	for _, f := range files {
		if len(out) >= max {
			break
		}
		if IsConfigFile(f) {
			out = append(out, f)
		}
	}
	return out
}
