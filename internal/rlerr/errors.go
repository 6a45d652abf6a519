// Package rlerr defines the error taxonomy shared across ralphd: one
// tagged struct per failure kind from the error-handling design, each with
// an Is<Kind> helper in the style of the upstream agent runner's
// core/errors.go (IsClaudeCommandErr, IsClaudeParseError, ...).
package rlerr

import (
	"errors"
	"fmt"
)

// ConfigurationError is fatal: missing agent binary, invalid model,
// conflicting sandbox/network settings. The engine must never start with
// one of these outstanding.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}
func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is a *ConfigurationError.
func IsConfigurationError(err error) (*ConfigurationError, bool) {
	var e *ConfigurationError
	return e, errors.As(err, &e)
}

// TrackerError wraps a tracker read/mutation failure.
type TrackerError struct {
	Op   string
	Err  error
}

func (e *TrackerError) Error() string { return fmt.Sprintf("tracker %s: %v", e.Op, e.Err) }
func (e *TrackerError) Unwrap() error { return e.Err }

// IsTrackerError reports whether err is a *TrackerError.
func IsTrackerError(err error) (*TrackerError, bool) {
	var e *TrackerError
	return e, errors.As(err, &e)
}

// AgentExecutionError is a nonzero agent exit without a rate-limit
// signature. Governed by the configured iteration error strategy.
type AgentExecutionError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent execution failed (exit %d): %v", e.ExitCode, e.Err)
}
func (e *AgentExecutionError) Unwrap() error { return e.Err }

// IsAgentExecutionError reports whether err is an *AgentExecutionError.
func IsAgentExecutionError(err error) (*AgentExecutionError, bool) {
	var e *AgentExecutionError
	return e, errors.As(err, &e)
}

// RateLimitError is non-fatal: it triggers backoff, then fallback.
type RateLimitError struct {
	Agent      string
	RetryAfter int // seconds, 0 if not parsed
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("agent %s rate-limited: %s", e.Agent, e.Message)
}

// IsRateLimitError reports whether err is a *RateLimitError.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var e *RateLimitError
	return e, errors.As(err, &e)
}

// DirtyCompletionError: the agent signaled completion but left a dirty
// working tree. Triggers commit-recovery; on exhaustion the task blocks.
type DirtyCompletionError struct {
	ChangedFiles []string
}

func (e *DirtyCompletionError) Error() string {
	return fmt.Sprintf("completion signaled with %d uncommitted files", len(e.ChangedFiles))
}

// IsDirtyCompletionError reports whether err is a *DirtyCompletionError.
func IsDirtyCompletionError(err error) (*DirtyCompletionError, bool) {
	var e *DirtyCompletionError
	return e, errors.As(err, &e)
}

// MergeConflictError: cherry-pick conflicted and the auto-resolver could
// not clear it.
type MergeConflictError struct {
	Commit          string
	ConflictedPaths []string
	Err             error
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict on %s in %v: %v", e.Commit, e.ConflictedPaths, e.Err)
}
func (e *MergeConflictError) Unwrap() error { return e.Err }

// IsMergeConflictError reports whether err is a *MergeConflictError.
func IsMergeConflictError(err error) (*MergeConflictError, bool) {
	var e *MergeConflictError
	return e, errors.As(err, &e)
}

// MainSyncError: fast-forward impossible or fetch failed. The task is
// held pending-main and retried in the background.
type MainSyncError struct {
	Reason string
	Err    error
}

func (e *MainSyncError) Error() string { return fmt.Sprintf("main sync failed: %s: %v", e.Reason, e.Err) }
func (e *MainSyncError) Unwrap() error { return e.Err }

// IsMainSyncError reports whether err is a *MainSyncError.
func IsMainSyncError(err error) (*MainSyncError, bool) {
	var e *MainSyncError
	return e, errors.As(err, &e)
}

// LockContentionError: another live process holds the single-instance
// lock. Fatal unless force or the holder is confirmed stale.
type LockContentionError struct {
	HolderPID int
	LockPath  string
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("another ralphd instance (pid %d) holds the lock at %s", e.HolderPID, e.LockPath)
}

// IsLockContentionError reports whether err is a *LockContentionError.
func IsLockContentionError(err error) (*LockContentionError, bool) {
	var e *LockContentionError
	return e, errors.As(err, &e)
}

// LoggingError wraps a logging/progress-write failure. Call sites must
// never propagate it past a single diagnostic log line — it exists so
// that one line of code can both name and discard the cause.
type LoggingError struct {
	Op  string
	Err error
}

func (e *LoggingError) Error() string { return fmt.Sprintf("logging error during %s: %v", e.Op, e.Err) }
func (e *LoggingError) Unwrap() error { return e.Err }
