// Package watcher reports file system changes under a repository so that
// long-lived processes can drop caches built from the previous content.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tracefix/internal/codebase"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// Event is one change, with Path relative to the watched root.
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ChangeHandler is called with each debounced batch.
type ChangeHandler func(events []Event)

// Config contains watcher configuration
type Config struct {
	DebounceMs int `json:"debounceMs" mapstructure:"debounce_ms"`
	// Ignore lists extra directory names or relative paths, on top of the
	// walker's skip list.
	Ignore []string `json:"ignore" mapstructure:"ignore"`
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() Config {
	return Config{DebounceMs: 500}
}

// Watcher watches one repository tree.
type Watcher struct {
	root     string
	config   Config
	logger   *slog.Logger
	skip     *codebase.Walker
	fsw      *fsnotify.Watcher
	debounce *BatchDebouncer

	mu       sync.Mutex
	watching bool
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a watcher for root. Nothing is watched until Start.
func New(root string, config Config, logger *slog.Logger, handler ChangeHandler) (*Watcher, error) {
	if config.DebounceMs <= 0 {
		config.DebounceMs = DefaultConfig().DebounceMs
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:   root,
		config: config,
		logger: logger,
		skip:   codebase.NewWalker(root, config.Ignore),
		fsw:    fsw,
		done:   make(chan struct{}),
	}
	w.debounce = NewBatchDebouncer(time.Duration(config.DebounceMs)*time.Millisecond, func(events []Event) {
		w.logger.Debug("File changes detected", "root", w.root, "eventCount", len(events))
		if handler != nil {
			handler(events)
		}
	})
	return w, nil
}

// Start registers every non-ignored directory and begins processing
// events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	w.logger.Info("Starting file watcher", "root", w.root, "debounceMs", w.config.DebounceMs)

	w.wg.Add(1)
	go w.processEvents(ctx)
	return nil
}

// Stop stops watching and drops pending events.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
		w.debounce.Cancel()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
		w.logger.Info("File watcher stopped", "root", w.root)
	})
	return err
}

// IsIgnored reports whether an absolute path falls in an ignored directory.
func (w *Watcher) IsIgnored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return true
	}
	return w.skip.Skipped(rel)
}

// addRecursive adds a directory and all non-ignored subdirectories.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.IsIgnored(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.IsIgnored(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err.Error())
					}
				}
			}

			rel, _ := filepath.Rel(w.root, event.Name)
			w.debounce.Add(Event{
				Type:      convertOp(event.Op),
				Path:      filepath.ToSlash(rel),
				Timestamp: time.Now(),
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err.Error())
		}
	}
}

func convertOp(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventCreate
	case op.Has(fsnotify.Remove):
		return EventDelete
	case op.Has(fsnotify.Rename):
		return EventRename
	default:
		return EventModify
	}
}
