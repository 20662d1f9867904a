// Package paths handles repository-relative paths and the layout of the
// per-repository tool directory (.tracefix/).
package paths

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	// ToolDirName is the per-repository state directory.
	ToolDirName = ".tracefix"
	// LocksDirName holds one lock file per locked target.
	LocksDirName = "locks"
	// LogsDirName holds file logs written by long-running commands.
	LogsDirName = "logs"
	// ConfigFileName is the config file inside ToolDirName.
	ConfigFileName = "config.json"
)

// GetToolDir returns <repoRoot>/.tracefix.
func GetToolDir(repoRoot string) string {
	return filepath.Join(repoRoot, ToolDirName)
}

// GetLocksDir returns <repoRoot>/.tracefix/locks.
func GetLocksDir(repoRoot string) string {
	return filepath.Join(repoRoot, ToolDirName, LocksDirName)
}

// GetLogPath returns <repoRoot>/.tracefix/logs/<name>.log.
func GetLogPath(repoRoot, name string) string {
	return filepath.Join(repoRoot, ToolDirName, LogsDirName, name+".log")
}

// GetConfigPath returns <repoRoot>/.tracefix/config.json.
func GetConfigPath(repoRoot string) string {
	return filepath.Join(repoRoot, ToolDirName, ConfigFileName)
}

// EnsureLocksDir creates the lock directory if needed and returns it.
func EnsureLocksDir(repoRoot string) (string, error) {
	dir := GetLocksDir(repoRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating lock directory %s: %w", dir, err)
	}
	return dir, nil
}

// CanonicalizePath converts an absolute path to a repo-relative path with
// forward slashes. Symlinks are resolved where the path exists.
func CanonicalizePath(absolutePath string, repoRoot string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		resolved = absolutePath
	}

	rootResolved, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		rootResolved = repoRoot
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// IsWithinRepo checks if an absolute path is within the repository root.
func IsWithinRepo(p string, repoRoot string) bool {
	canonical, err := CanonicalizePath(p, repoRoot)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// ResolvesWithinRepo reports whether the repo-relative path rel stays under
// repoRoot once symlinks are followed. The deepest existing ancestor is
// resolved, so a file that does not exist yet is judged by the directory
// it would be created in.
func ResolvesWithinRepo(repoRoot, rel string) bool {
	p := JoinRepoPath(repoRoot, rel)
	for {
		if _, err := os.Lstat(p); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return false
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return IsWithinRepo(p, repoRoot)
}

// CleanRelative validates a caller-supplied repository-relative path and
// returns it in canonical slash form. Absolute paths, empty paths and paths
// that climb out of the root via ".." are rejected.
func CleanRelative(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	slashed := NormalizePath(p)
	if path.IsAbs(slashed) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", fmt.Errorf("path %q must be relative to the repository root", p)
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." {
		return "", fmt.Errorf("path %q names the repository root", p)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes the repository root", p)
	}
	if cleaned == ToolDirName || strings.HasPrefix(cleaned, ToolDirName+"/") || cleaned == ".git" || strings.HasPrefix(cleaned, ".git/") {
		return "", fmt.Errorf("path %q points into a reserved directory", p)
	}
	return cleaned, nil
}

// NormalizePath converts backslashes to forward slashes.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// JoinRepoPath joins a repo root with a canonical path.
func JoinRepoPath(repoRoot string, canonicalPath string) string {
	parts := strings.Split(NormalizePath(canonicalPath), "/")
	return filepath.Join(append([]string{repoRoot}, parts...)...)
}
