// Package errors defines the stable error codes and structured error type
// returned by tracefix operations.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// RepoInvalid indicates the repository path is missing or not a directory
	RepoInvalid ErrorCode = "REPO_INVALID"
	// NotGitRepository indicates the path is not under git version control
	NotGitRepository ErrorCode = "NOT_A_GIT_REPOSITORY"
	// PathOutsideRepo indicates a file path escapes the repository root
	PathOutsideRepo ErrorCode = "PATH_OUTSIDE_REPO"
	// LockTimeout indicates a file lock could not be acquired in time
	LockTimeout ErrorCode = "LOCK_TIMEOUT"
	// LockNotHeld indicates a release was attempted for a lock we do not hold
	LockNotHeld ErrorCode = "LOCK_NOT_HELD"
	// VCSCommandFailed indicates a git command exited with an error
	VCSCommandFailed ErrorCode = "VCS_COMMAND_FAILED"
	// Timeout indicates a subprocess or operation timed out
	Timeout ErrorCode = "TIMEOUT"
	// ConfigInvalid indicates the configuration failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// TracefixError carries a code, a message and suggested fixes.
type TracefixError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error
}

// New creates a TracefixError. When fixes is nil the predefined actions for
// the code are attached.
func New(code ErrorCode, message string, cause error, fixes []FixAction) *TracefixError {
	if fixes == nil {
		fixes = GetSuggestedFixes(code)
	}
	return &TracefixError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: fixes,
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *TracefixError {
	return New(code, fmt.Sprintf(format, args...), nil, nil)
}

// Error implements the error interface
func (e *TracefixError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *TracefixError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *TracefixError) WithDetails(details interface{}) *TracefixError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first TracefixError in err's chain, or
// InternalError when there is none.
func CodeOf(err error) ErrorCode {
	var te *TracefixError
	if stderrors.As(err, &te) {
		return te.Code
	}
	return InternalError
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var te *TracefixError
	for err != nil {
		if !stderrors.As(err, &te) {
			return false
		}
		if te.Code == code {
			return true
		}
		err = te.cause
	}
	return false
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	NotGitRepository: {
		{
			Type:        RunCommand,
			Command:     "git init",
			Safe:        false,
			Description: "Initialize a git repository",
		},
	},
	LockTimeout: {
		{
			Type:        RunCommand,
			Command:     "tracefix locks list",
			Safe:        true,
			Description: "Show which process holds the lock",
		},
		{
			Type:        RunCommand,
			Command:     "tracefix locks cleanup",
			Safe:        true,
			Description: "Remove lock files left behind by crashed processes",
		},
	},
	VCSCommandFailed: {
		{
			Type:        RunCommand,
			Command:     "git status",
			Safe:        true,
			Description: "Inspect the working tree state",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
