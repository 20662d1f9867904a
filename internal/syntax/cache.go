package syntax

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FileResult is the outcome of extracting one file. Extraction is best
// effort: a file that cannot be read or parsed carries Err and empty
// slices instead of failing the caller.
type FileResult struct {
	Path        string
	Imports     []ModuleRef
	Definitions []Signature
	// Skipped is set for files without a registered analyzer.
	Skipped bool
	Err     error
}

// OK reports whether extraction succeeded.
func (r FileResult) OK() bool {
	return r.Err == nil && !r.Skipped
}

// FileCache memoizes FileResult per absolute path for the owner's lifetime.
// Entries are never invalidated. Concurrent requests for the same path share
// one parse.
type FileCache struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]FileResult
	group   singleflight.Group
}

// NewFileCache creates an empty cache.
func NewFileCache(logger *slog.Logger) *FileCache {
	return &FileCache{
		logger:  logger,
		entries: make(map[string]FileResult),
	}
}

// Result returns the extraction outcome for absPath, parsing on first use.
func (c *FileCache) Result(ctx context.Context, absPath string) FileResult {
	c.mu.RLock()
	r, ok := c.entries[absPath]
	c.mu.RUnlock()
	if ok {
		return r
	}

	v, _, _ := c.group.Do(absPath, func() (interface{}, error) {
		r := c.load(ctx, absPath)
		if ctx.Err() == nil {
			c.mu.Lock()
			c.entries[absPath] = r
			c.mu.Unlock()
		}
		return r, nil
	})
	return v.(FileResult)
}

// ParseImports returns the imports of absPath, empty on any failure.
func (c *FileCache) ParseImports(ctx context.Context, absPath string) []ModuleRef {
	return c.Result(ctx, absPath).Imports
}

// ExtractDefinitions returns the top-level definitions of absPath, empty on
// any failure.
func (c *FileCache) ExtractDefinitions(ctx context.Context, absPath string) []Signature {
	return c.Result(ctx, absPath).Definitions
}

// Len returns the number of cached entries.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *FileCache) load(ctx context.Context, absPath string) FileResult {
	res := FileResult{Path: absPath, Imports: []ModuleRef{}, Definitions: []Signature{}}

	analyzer, ok := ForPath(absPath)
	if !ok {
		res.Skipped = true
		return res
	}

	src, err := os.ReadFile(absPath)
	if err != nil {
		res.Err = err
		c.logger.Warn("Failed to read file for analysis", "path", absPath, "error", err)
		return res
	}

	imports, err := analyzer.Imports(ctx, src)
	if err != nil {
		res.Err = err
		c.logFailure(absPath, err)
		return res
	}
	defs, err := analyzer.Definitions(ctx, src)
	if err != nil {
		res.Err = err
		c.logFailure(absPath, err)
		return res
	}

	res.Imports = imports
	res.Definitions = defs
	return res
}

func (c *FileCache) logFailure(path string, err error) {
	if errors.Is(err, ErrNoCGO) {
		c.logger.Debug("Structural analysis unavailable", "path", path)
		return
	}
	c.logger.Warn("Skipping unparsable file", "path", path, "error", err)
}
