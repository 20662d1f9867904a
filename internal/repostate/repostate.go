// Package repostate fingerprints the uncommitted state of a work tree so the
// apply engine can prove a rollback restored exactly what was there before.
package repostate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"tracefix/internal/errors"
	"tracefix/internal/paths"
)

const (
	// EmptyHash represents an empty diff/list hash
	EmptyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// RepoState represents the current state of the repository
type RepoState struct {
	RepoStateID         string `json:"repoStateId"`
	HeadCommit          string `json:"headCommit"`
	StagedDiffHash      string `json:"stagedDiffHash"`
	WorkingTreeDiffHash string `json:"workingTreeDiffHash"`
	UntrackedHash       string `json:"untrackedHash"`
	Dirty               bool   `json:"dirty"`
	ComputedAt          string `json:"computedAt"`
}

// Compute fingerprints HEAD, the index, the work tree and untracked file
// contents. The tool directory is excluded from every component.
func Compute(ctx context.Context, repoRoot string) (*RepoState, error) {
	headCommit, err := gitOutput(ctx, repoRoot, "rev-parse", "--verify", "--quiet", "HEAD^{commit}")
	if err != nil {
		// Unborn branch
		headCommit = ""
	}

	stagedDiff, err := gitOutput(ctx, repoRoot, "diff", "--cached", "--binary", "--", ".", excludeToolDir)
	if err != nil {
		return nil, wrap("Failed to get staged diff", err)
	}
	stagedDiffHash := hashString(stagedDiff)

	// Index against work tree so a staged/unstaged split is part of the state
	workingDiff, err := gitOutput(ctx, repoRoot, "diff", "--binary", "--", ".", excludeToolDir)
	if err != nil {
		return nil, wrap("Failed to get working tree diff", err)
	}
	workingTreeDiffHash := hashString(workingDiff)

	untracked, err := gitOutput(ctx, repoRoot, "ls-files", "--others", "--exclude-standard", "-z", "--", ".", excludeToolDir)
	if err != nil {
		return nil, wrap("Failed to get untracked files", err)
	}
	untrackedHash, err := hashUntracked(repoRoot, untracked)
	if err != nil {
		return nil, wrap("Failed to read untracked files", err)
	}

	dirty := stagedDiffHash != EmptyHash ||
		workingTreeDiffHash != EmptyHash ||
		untrackedHash != EmptyHash

	return &RepoState{
		RepoStateID:         computeRepoStateID(headCommit, stagedDiffHash, workingTreeDiffHash, untrackedHash),
		HeadCommit:          headCommit,
		StagedDiffHash:      stagedDiffHash,
		WorkingTreeDiffHash: workingTreeDiffHash,
		UntrackedHash:       untrackedHash,
		Dirty:               dirty,
		ComputedAt:          time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Differences names the components that differ between two states.
func (s *RepoState) Differences(other *RepoState) []string {
	var diffs []string
	if s.HeadCommit != other.HeadCommit {
		diffs = append(diffs, "head")
	}
	if s.StagedDiffHash != other.StagedDiffHash {
		diffs = append(diffs, "staged")
	}
	if s.WorkingTreeDiffHash != other.WorkingTreeDiffHash {
		diffs = append(diffs, "working-tree")
	}
	if s.UntrackedHash != other.UntrackedHash {
		diffs = append(diffs, "untracked")
	}
	return diffs
}

// Equal reports whether two states fingerprint the same tree.
func (s *RepoState) Equal(other *RepoState) bool {
	return other != nil && s.RepoStateID == other.RepoStateID
}

var excludeToolDir = ":(exclude)" + paths.ToolDirName

func gitOutput(ctx context.Context, repoRoot string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoRoot

	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(output), "\n"), nil
}

// hashUntracked hashes each untracked path together with its content
func hashUntracked(repoRoot, list string) (string, error) {
	if list == "" {
		return EmptyHash, nil
	}

	h := sha256.New()
	for _, rel := range strings.Split(strings.TrimRight(list, "\x00"), "\x00") {
		if rel == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(repoRoot, filepath.FromSlash(rel)))
		if err != nil && !os.IsNotExist(err) {
			return "", err
		}
		sum := sha256.Sum256(data)
		fmt.Fprintf(h, "%s\x00%x\n", rel, sum)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func wrap(msg string, err error) error {
	detail := ""
	if exitErr, ok := err.(*exec.ExitError); ok {
		detail = strings.TrimSpace(string(exitErr.Stderr))
	}
	return errors.New(errors.VCSCommandFailed, msg, err, nil).WithDetails(map[string]interface{}{
		"stderr": detail,
	})
}

// hashString computes SHA256 hash of a string
func hashString(s string) string {
	if s == "" {
		return EmptyHash
	}
	h := sha256.New()
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// computeRepoStateID computes the composite repoStateId from all components
func computeRepoStateID(headCommit, stagedHash, workingHash, untrackedHash string) string {
	composite := fmt.Sprintf("%s:%s:%s:%s", headCommit, stagedHash, workingHash, untrackedHash)
	return hashString(composite)
}
