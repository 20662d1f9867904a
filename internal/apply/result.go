package apply

import (
	"tracefix/internal/changes"
	"tracefix/internal/validate"
)

// Phase is a step of the apply state machine.
type Phase string

const (
	PhaseValidating       Phase = "validating"
	PhaseFailedValidation Phase = "failed_validation"
	PhaseLocking          Phase = "locking"
	PhaseSnapshotting     Phase = "snapshotting"
	PhaseWriting          Phase = "writing"
	PhaseStaging          Phase = "staging"
	PhaseCommitting       Phase = "committing"
	PhaseRollingBack      Phase = "rolling_back"
	PhaseSuccess          Phase = "success"
	PhaseFailed           Phase = "failed"
)

// Status is the caller-facing outcome of an apply.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusValidationFailed Status = "validation_failed"
	StatusFailed           Status = "failed"
)

// Result is the outcome of one apply.
type Result struct {
	Status       Status   `json:"status"`
	CommitID     string   `json:"commit_id,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Warnings     []string `json:"warnings"`
	Error        string   `json:"error,omitempty"`
	// Code is the error code of Error, e.g. LOCK_TIMEOUT.
	Code string `json:"code,omitempty"`

	Validation map[string]validate.Result `json:"validation,omitempty"`
	DiffStats  *changes.Stats             `json:"diff_stats,omitempty"`

	// Phase is where the state machine stopped.
	Phase Phase `json:"phase"`
	// FailedPhase is the phase whose error triggered a rollback.
	FailedPhase Phase `json:"failed_phase,omitempty"`
	// StateMismatch lists fingerprint components that differ from the
	// pre-apply state after a rollback. Empty means fully restored.
	StateMismatch []string `json:"state_mismatch,omitempty"`
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Rollback methods.
const (
	MethodRevert  = "revert"
	MethodRestore = "restore"
)

// RollbackResult describes a rollback of an applied commit.
type RollbackResult struct {
	Success bool   `json:"success"`
	Target  string `json:"target"`
	// Method is revert, or restore when the forward revert conflicted and
	// the parent's files were checked out instead.
	Method   string   `json:"method,omitempty"`
	CommitID string   `json:"commit_id,omitempty"`
	Files    []string `json:"files,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}
