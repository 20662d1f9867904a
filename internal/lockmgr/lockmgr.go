// Package lockmgr provides per-file mutual exclusion across processes using
// lock files under <repo>/.tracefix/locks.
//
// Each target maps to sha256(absPath)[:16].lock. The lock is an advisory OS
// lock (flock(2) on Unix, LockFileEx on Windows) held on that file; the file
// body records the holder for diagnostics. Because the kernel drops the OS
// lock when a process dies, a lock file whose OS lock is free is stale.
package lockmgr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tracefix/internal/errors"
)

// RepositoryTarget is the pseudo-target that serializes repository-global
// operations (git index, stash).
const RepositoryTarget = "<repository>"

const repositoryLockName = "repository.lock"

// LockInfo is the JSON body of a held lock file.
type LockInfo struct {
	FilePath   string    `json:"filePath"`
	PID        int       `json:"pid"`
	Owner      string    `json:"owner,omitempty"`
	Hostname   string    `json:"hostname,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Options configures a Manager.
type Options struct {
	LockDir      string
	Owner        string
	Timeout      time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
	// OnAcquire observes how long each acquisition waited.
	OnAcquire func(target string, waited time.Duration)
}

// Manager hands out locks. It holds no per-lock state itself, so separate
// Managers (or processes) on the same lock directory exclude each other.
type Manager struct {
	lockDir   string
	owner     string
	hostname  string
	timeout   time.Duration
	poll      time.Duration
	logger    *slog.Logger
	onAcquire func(string, time.Duration)
}

// New creates a Manager over an existing lock directory (see
// paths.EnsureLocksDir).
func New(opts Options) (*Manager, error) {
	if opts.LockDir == "" {
		return nil, fmt.Errorf("lock directory is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if fi, err := os.Stat(opts.LockDir); err != nil {
		return nil, fmt.Errorf("lock directory %s: %w", opts.LockDir, err)
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("lock directory %s is not a directory", opts.LockDir)
	}
	hostname, _ := os.Hostname()

	return &Manager{
		lockDir:   opts.LockDir,
		owner:     opts.Owner,
		hostname:  hostname,
		timeout:   opts.Timeout,
		poll:      opts.PollInterval,
		logger:    opts.Logger,
		onAcquire: opts.OnAcquire,
	}, nil
}

// LockDir returns the directory holding lock files.
func (m *Manager) LockDir() string {
	return m.lockDir
}

// LockPath returns the lock file for target.
func (m *Manager) LockPath(target string) string {
	if target == RepositoryTarget {
		return filepath.Join(m.lockDir, repositoryLockName)
	}
	hash := sha256.Sum256([]byte(target))
	return filepath.Join(m.lockDir, hex.EncodeToString(hash[:])[:16]+".lock")
}

// Lock is a held lock. Release it exactly once; extra calls are no-ops.
type Lock struct {
	target string
	path   string
	file   *os.File
	info   LockInfo
	logger *slog.Logger
}

// Target returns the locked target path.
func (l *Lock) Target() string {
	return l.target
}

// Info returns the holder record written to the lock file.
func (l *Lock) Info() LockInfo {
	return l.info
}

// Release removes the lock file and drops the OS lock.
func (l *Lock) Release() error {
	if l == nil {
		return errors.Newf(errors.LockNotHeld, "lock is not held")
	}
	if l.file == nil {
		return nil
	}
	err := releaseFile(l.file, l.path)
	l.file = nil
	if err != nil {
		l.logger.Warn("Failed to release lock", "target", l.target, "error", err)
		return err
	}
	l.logger.Debug("Released lock", "target", l.target)
	return nil
}

// Acquire blocks until target is locked, ctx is done or the timeout passes.
// target should be an absolute path or RepositoryTarget.
func (m *Manager) Acquire(ctx context.Context, target string) (*Lock, error) {
	if target != RepositoryTarget {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, fmt.Errorf("resolving path %s: %w", target, err)
		}
		target = abs
	}

	path := m.LockPath(target)
	start := time.Now()
	deadline := start.Add(m.timeout)

	for {
		lock, err := m.tryAcquire(target, path)
		if err == nil {
			waited := time.Since(start)
			if m.onAcquire != nil {
				m.onAcquire(target, waited)
			}
			m.logger.Debug("Acquired lock", "target", target, "waited", waited.String())
			return lock, nil
		}
		if err != errWouldBlock {
			return nil, fmt.Errorf("acquiring lock on %s: %w", target, err)
		}

		if !time.Now().Before(deadline) {
			return nil, m.timeoutError(target, path)
		}

		timer := time.NewTimer(m.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire makes one non-blocking attempt.
func (m *Manager) tryAcquire(target, path string) (*Lock, error) {
	if err := os.MkdirAll(m.lockDir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}

	// A releaser may have unlinked the file between our open and lock; the
	// lock we hold would then guard an orphaned inode.
	held, err := f.Stat()
	if err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, err
	}
	current, err := os.Stat(path)
	if err != nil || !os.SameFile(held, current) {
		_ = unlockFile(f)
		f.Close()
		return nil, errWouldBlock
	}

	info := LockInfo{
		FilePath:   target,
		PID:        os.Getpid(),
		Owner:      m.owner,
		Hostname:   m.hostname,
		AcquiredAt: time.Now().UTC(),
	}
	if err := writeInfo(f, info); err != nil {
		_ = releaseFile(f, path)
		return nil, fmt.Errorf("writing lock info: %w", err)
	}

	return &Lock{target: target, path: path, file: f, info: info, logger: m.logger}, nil
}

func writeInfo(f *os.File, info LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

func readInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (m *Manager) timeoutError(target, path string) error {
	msg := fmt.Sprintf("timed out after %s waiting for lock on %s", m.timeout, target)
	details := map[string]interface{}{"target": target, "lockFile": path}
	if info, err := readInfo(path); err == nil && info != nil {
		msg += fmt.Sprintf(" (held by pid %d", info.PID)
		if info.Owner != "" {
			msg += ", " + info.Owner
		}
		msg += fmt.Sprintf(" since %s)", info.AcquiredAt.Format(time.RFC3339))
		details["holder"] = info
	}
	return errors.New(errors.LockTimeout, msg, nil, nil).WithDetails(details)
}

// Set is a group of locks acquired together.
type Set struct {
	locks []*Lock
}

// Targets returns the locked targets in acquisition order.
func (s *Set) Targets() []string {
	out := make([]string, 0, len(s.locks))
	for _, l := range s.locks {
		out = append(out, l.target)
	}
	return out
}

// Release releases all locks in reverse order and returns the first error.
func (s *Set) Release() error {
	var firstErr error
	for i := len(s.locks) - 1; i >= 0; i-- {
		if err := s.locks[i].Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.locks = nil
	return firstErr
}

// AcquireAll locks every target in sorted order, so two callers with
// overlapping sets cannot deadlock. Duplicates are locked once. On failure
// the locks already taken are released.
func (m *Manager) AcquireAll(ctx context.Context, targets []string) (*Set, error) {
	abs := make([]string, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t != RepositoryTarget {
			a, err := filepath.Abs(t)
			if err != nil {
				return nil, fmt.Errorf("resolving path %s: %w", t, err)
			}
			t = a
		}
		if !seen[t] {
			seen[t] = true
			abs = append(abs, t)
		}
	}
	sort.Strings(abs)

	set := &Set{locks: make([]*Lock, 0, len(abs))}
	for _, t := range abs {
		l, err := m.Acquire(ctx, t)
		if err != nil {
			_ = set.Release()
			return nil, err
		}
		set.locks = append(set.locks, l)
	}
	return set, nil
}

// WithLocks runs fn while holding locks on every target.
func (m *Manager) WithLocks(ctx context.Context, targets []string, fn func() error) error {
	set, err := m.AcquireAll(ctx, targets)
	if err != nil {
		return err
	}
	defer set.Release()
	return fn()
}

// Status describes one lock file found on disk.
type Status struct {
	LockFile string    `json:"lockFile"`
	Info     *LockInfo `json:"info,omitempty"`
	// Stale is set when no process holds the OS lock.
	Stale bool `json:"stale"`
	// PIDAlive reports whether the recorded holder process exists on this host.
	PIDAlive bool `json:"pidAlive"`
}

// Inspect lists the lock files in the lock directory.
func (m *Manager) Inspect() ([]Status, error) {
	entries, err := os.ReadDir(m.lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Status{}, nil
		}
		return nil, fmt.Errorf("reading lock directory: %w", err)
	}

	out := make([]Status, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}
		path := filepath.Join(m.lockDir, entry.Name())
		st := Status{LockFile: path}

		info, err := readInfo(path)
		if err != nil && !os.IsNotExist(err) {
			m.logger.Warn("Unreadable lock file", "path", path, "error", err)
		}
		st.Info = info
		if info != nil && (info.Hostname == "" || info.Hostname == m.hostname) {
			st.PIDAlive = isProcessAlive(info.PID)
		}

		free, err := probe(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			m.logger.Warn("Failed to probe lock file", "path", path, "error", err)
		}
		st.Stale = free
		out = append(out, st)
	}
	return out, nil
}

// probe reports whether the OS lock on path is free.
func probe(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if err := lockFile(f); err != nil {
		if err == errWouldBlock {
			return false, nil
		}
		return false, err
	}
	_ = unlockFile(f)
	return true, nil
}

// CleanupStale removes lock files whose OS lock is free. It returns the
// number removed.
func (m *Manager) CleanupStale() (int, error) {
	entries, err := os.ReadDir(m.lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading lock directory: %w", err)
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}
		path := filepath.Join(m.lockDir, entry.Name())

		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			continue
		}
		if err := lockFile(f); err != nil {
			f.Close()
			continue
		}
		info, _ := readInfo(path)
		// Removing while holding the OS lock keeps waiters correct: they
		// detect the unlinked inode and retry.
		if err := releaseFile(f, path); err != nil {
			m.logger.Warn("Failed to remove stale lock", "path", path, "error", err)
			continue
		}
		if info != nil {
			m.logger.Info("Removed stale lock", "target", info.FilePath, "pid", info.PID)
		} else {
			m.logger.Info("Removed stale lock", "path", path)
		}
		cleaned++
	}
	return cleaned, nil
}
