// Package related finds the files connected to a source file: its import
// targets, the files importing it, its tests and, for configuration code,
// the repository's configuration files.
//
// Reverse dependents are found by resolving the imports of every analyzable
// file on each query. There is no global reverse index, so a query costs
// O(files x imports); resolved imports are cached per file for the owner's
// lifetime, which bounds repeated queries to one parse per file.
package related

import (
	"context"
	stderrors "errors"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"tracefix/internal/codebase"
	"tracefix/internal/errors"
	"tracefix/internal/paths"
	"tracefix/internal/syntax"
)

// Relations is the categorised outcome of a query. Every list is sorted.
type Relations struct {
	File       string   `json:"file"`
	Imports    []string `json:"imports"`
	Importers  []string `json:"importers"`
	Tests      []string `json:"tests"`
	Config     []string `json:"config"`
	Unparsable []string `json:"unparsable,omitempty"`
}

// All returns the sorted, de-duplicated union of every category, excluding
// the queried file.
func (r *Relations) All() []string {
	set := make(map[string]bool)
	for _, group := range [][]string{r.Imports, r.Importers, r.Tests, r.Config} {
		for _, p := range group {
			if p != r.File {
				set[p] = true
			}
		}
	}
	return sortedSet(set)
}

// Options configures a Resolver.
type Options struct {
	MaxConfigFiles int
}

// Resolver answers related-file queries for one repository.
type Resolver struct {
	root    string
	walker  *codebase.Walker
	parses  *syntax.FileCache
	opts    Options
	logger  *slog.Logger
	mu      sync.RWMutex
	imports map[string][]string
	group   singleflight.Group
}

// NewResolver creates a resolver over walker's repository. parses is the
// shared parse cache.
func NewResolver(walker *codebase.Walker, parses *syntax.FileCache, opts Options, logger *slog.Logger) *Resolver {
	if opts.MaxConfigFiles <= 0 {
		opts.MaxConfigFiles = codebase.DefaultOptions().MaxConfigFiles
	}
	return &Resolver{
		root:    walker.Root(),
		walker:  walker,
		parses:  parses,
		opts:    opts,
		logger:  logger,
		imports: make(map[string][]string),
	}
}

// RelatedFiles returns the sorted set of files related to filePath.
func (r *Resolver) RelatedFiles(ctx context.Context, filePath string) ([]string, error) {
	rel, err := r.Related(ctx, filePath)
	if err != nil {
		return nil, err
	}
	return rel.All(), nil
}

// Related returns the categorised relations of filePath, a
// repository-relative path.
func (r *Resolver) Related(ctx context.Context, filePath string) (*Relations, error) {
	target, err := paths.CleanRelative(filePath)
	if err != nil {
		return nil, errors.New(errors.PathOutsideRepo, err.Error(), nil, nil)
	}

	files, err := r.walker.Files(ctx)
	if err != nil {
		return nil, errors.New(errors.InternalError, "listing repository files", err, nil)
	}

	out := &Relations{
		File:      target,
		Imports:   []string{},
		Importers: []string{},
		Tests:     []string{},
		Config:    []string{},
	}
	unparsable := make(map[string]bool)

	if _, ok := syntax.LanguageFromPath(target); ok {
		imports, perr := r.ResolveImports(ctx, target)
		if perr {
			unparsable[target] = true
		}
		out.Imports = without(imports, target)

		importers := make(map[string]bool)
		for _, f := range files {
			if f == target {
				continue
			}
			if _, ok := syntax.LanguageFromPath(f); !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			targets, perr := r.ResolveImports(ctx, f)
			if perr {
				unparsable[f] = true
			}
			for _, t := range targets {
				if t == target {
					importers[f] = true
					break
				}
			}
		}
		out.Importers = sortedSet(importers)
	}

	out.Tests = testFiles(files, target)

	if codebase.LooksConfigRelated(target) {
		out.Config = without(codebase.ConfigFiles(files, r.opts.MaxConfigFiles), target)
		sort.Strings(out.Config)
	}

	out.Unparsable = sortedSet(unparsable)
	r.logger.Debug("Resolved related files",
		"file", target,
		"imports", len(out.Imports),
		"importers", len(out.Importers),
		"tests", len(out.Tests),
		"config", len(out.Config),
	)
	return out, nil
}

// ResolveImports returns the sorted repository files rel imports. The
// boolean reports that the file could not be parsed, in which case the
// result is empty.
func (r *Resolver) ResolveImports(ctx context.Context, rel string) ([]string, bool) {
	abs := paths.JoinRepoPath(r.root, rel)

	r.mu.RLock()
	cached, ok := r.imports[abs]
	r.mu.RUnlock()
	if ok {
		return cached, false
	}

	type outcome struct {
		targets []string
		failed  bool
	}
	v, _, _ := r.group.Do(abs, func() (interface{}, error) {
		res := r.parses.Result(ctx, abs)
		if res.Err != nil {
			return outcome{targets: []string{}, failed: !isNoCGO(res.Err)}, nil
		}

		set := make(map[string]bool)
		for _, ref := range res.Imports {
			for _, t := range resolveRef(r.root, rel, ref) {
				set[t] = true
			}
		}
		delete(set, rel)
		targets := sortedSet(set)

		if ctx.Err() == nil {
			r.mu.Lock()
			r.imports[abs] = targets
			r.mu.Unlock()
		}
		return outcome{targets: targets}, nil
	})
	o := v.(outcome)
	return o.targets, o.failed
}

// CachedFiles returns the number of files with cached import targets.
func (r *Resolver) CachedFiles() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.imports)
}

// testFiles returns files named test_<stem>.* or <stem>_test.* anywhere in
// the tree.
func testFiles(files []string, target string) []string {
	base := path.Base(target)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" || stem == "__init__" {
		return []string{}
	}
	// Test modules relate to other tests only through imports
	if strings.HasPrefix(stem, "test_") || strings.HasSuffix(stem, "_test") {
		return []string{}
	}

	var out []string
	for _, f := range files {
		if f == target {
			continue
		}
		fb := path.Base(f)
		fstem := strings.TrimSuffix(fb, path.Ext(fb))
		if fstem == "test_"+stem || fstem == stem+"_test" {
			out = append(out, f)
		}
	}
	if out == nil {
		return []string{}
	}
	sort.Strings(out)
	return out
}

func isNoCGO(err error) bool {
	return stderrors.Is(err, syntax.ErrNoCGO)
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		if p != drop {
			out = append(out, p)
		}
	}
	return out
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
