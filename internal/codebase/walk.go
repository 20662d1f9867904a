package codebase

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"tracefix/internal/paths"
)

// DefaultSkipDirs are directory names never descended into.
var DefaultSkipDirs = []string{
	".git", ".hg", ".svn", paths.ToolDirName,
	"venv", ".venv", "env",
	"node_modules", "__pycache__",
	"build", "dist",
	".tox", ".mypy_cache", ".pytest_cache", ".ruff_cache",
	".idea", ".vscode",
}

// Walker lists repository files, skipping tool, VCS and dependency
// directories.
type Walker struct {
	root string
	skip map[string]bool
}

// NewWalker creates a walker rooted at root. Entries of ignore may be bare
// directory names or repository-relative directory paths.
func NewWalker(root string, ignore []string) *Walker {
	skip := make(map[string]bool, len(DefaultSkipDirs)+len(ignore))
	for _, d := range DefaultSkipDirs {
		skip[d] = true
	}
	for _, d := range ignore {
		d = strings.Trim(paths.NormalizePath(d), "/")
		if d != "" {
			skip[d] = true
		}
	}
	return &Walker{root: root, skip: skip}
}

// Root returns the walked directory.
func (w *Walker) Root() string {
	return w.root
}

// Files returns every regular file as a sorted slash-separated relative
// path. Unreadable subdirectories are skipped.
func (w *Walker) Files(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == w.root {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && w.skipDir(rel, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (w *Walker) skipDir(rel, name string) bool {
	if w.skip[name] || w.skip[rel] {
		return true
	}
	return strings.HasSuffix(name, ".egg-info")
}

// Skipped reports whether rel lies in a directory the walker never enters.
// rel is slash-separated and relative to the root.
func (w *Walker) Skipped(rel string) bool {
	rel = strings.Trim(rel, "/")
	parts := strings.Split(rel, "/")
	for i := range parts {
		if parts[i] == "" || parts[i] == "." {
			continue
		}
		if w.skipDir(strings.Join(parts[:i+1], "/"), parts[i]) {
			return true
		}
	}
	return false
}
