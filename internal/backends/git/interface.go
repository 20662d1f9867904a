package git

import "context"

// VCS is the set of repository mutations the apply engine drives.
// Every call maps to one or two git subprocesses bounded by the adapter's
// command timeout.
type VCS interface {
	// IsAvailable checks that the work tree is still a git repository
	IsAvailable() bool

	// RepoRoot returns the absolute top-level directory of the work tree
	RepoRoot() string

	// EnsureExcluded keeps the tool directory out of status, stash and add
	EnsureExcluded(ctx context.Context) error

	// RevParse resolves rev to a full hash
	RevParse(ctx context.Context, rev string) (string, error)

	// HeadCommit returns the full hash of HEAD, or "" when the repository
	// has no commits yet
	HeadCommit(ctx context.Context) (string, error)

	// IsDirty reports uncommitted changes outside the tool directory
	IsDirty(ctx context.Context) (bool, error)

	// StashPush stashes tracked and untracked changes under message.
	// It returns false when there was nothing to stash.
	StashPush(ctx context.Context, message string) (bool, error)

	// StashPop restores the stash entry recorded under message
	StashPop(ctx context.Context, message string) error

	// Add stages the given repository-relative paths
	Add(ctx context.Context, paths ...string) error

	// Commit records the index and returns the new commit hash
	Commit(ctx context.Context, message string) (string, error)

	// ResetHard moves HEAD, index and work tree to rev
	ResetHard(ctx context.Context, rev string) error

	// Revert creates a commit undoing commit
	Revert(ctx context.Context, commit string) error

	// RevertAbort cancels an in-progress revert
	RevertAbort(ctx context.Context) error

	// ChangedFiles lists the paths touched by commit with their status
	ChangedFiles(ctx context.Context, commit string) ([]FileStatus, error)

	// CheckoutFrom restores paths from rev into index and work tree
	CheckoutFrom(ctx context.Context, rev string, paths ...string) error

	// Remove deletes paths from index and work tree
	Remove(ctx context.Context, paths ...string) error

	// ShowFile returns the content of path at rev; ok is false when the
	// path does not exist there
	ShowFile(ctx context.Context, rev, path string) (content string, ok bool, err error)
}

// FileStatus is one entry of a commit's name-status listing
type FileStatus struct {
	Status string `json:"status"` // A, M, D, R, C, T
	Path   string `json:"path"`
}

var _ VCS = (*GitAdapter)(nil)
