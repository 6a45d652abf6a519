// Package lock is the Single-Instance Lock (C12): it ensures only one
// ralphd process runs against a given repository checkout at a time.
// Grounded on the upstream runner's utils/dirlock.go/utils/repolock.go
// flock-backed lock files, extended with the JSON schema
// {pid, sessionId, acquiredAt, cwd, hostname} and an explicit PID
// liveness check, since spec.md requires staleness be judged by liveness
// rather than by a lock's timestamp alone.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"ralphd/internal/rlerr"
)

// Info is the JSON document written into the lock file.
type Info struct {
	PID        int       `json:"pid"`
	SessionID  string    `json:"sessionId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	Cwd        string    `json:"cwd"`
	Hostname   string    `json:"hostname"`
}

// Options configures Acquire.
type Options struct {
	Force          bool
	NonInteractive bool
	// Prompt, if set, is invoked to ask the user whether to clean up a
	// dead-pid lock when running interactively. Returning false aborts.
	Prompt func(info Info) bool
}

// Lock owns one lock file's lifecycle.
type Lock struct {
	path string
	fl   *flock.Flock
}

// New returns a Lock for the given lock file path (normally
// ".ralph-tui/ralph.lock" under the repo's cwd).
func New(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// Acquire implements the documented decision table: no lockfile -> write
// and succeed; live foreign pid and not force -> fail; dead pid and
// interactive -> prompt then rewrite; dead pid and non-interactive ->
// auto-clean; force -> overwrite unconditionally.
func (l *Lock) Acquire(cwd, sessionID string, opts Options) error {
	existing, err := readInfo(l.path)
	if err == nil {
		if opts.Force {
			// fall through to overwrite
		} else if existing.PID != os.Getpid() && isAlive(existing.PID) {
			return &rlerr.LockContentionError{HolderPID: existing.PID, LockPath: l.path}
		} else if isAlive(existing.PID) {
			// our own pid already holds it (re-entrant acquire); treat as success
			return nil
		} else {
			// dead pid: stale lock
			if !opts.NonInteractive && opts.Prompt != nil {
				if !opts.Prompt(*existing) {
					return fmt.Errorf("lock cleanup declined by user")
				}
			}
			// non-interactive or prompt accepted: auto-clean and continue
		}
	}

	locked, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring OS advisory lock: %w", err)
	}
	if !locked {
		return &rlerr.LockContentionError{LockPath: l.path}
	}

	hostname, _ := os.Hostname()
	info := Info{PID: os.Getpid(), SessionID: sessionID, AcquiredAt: time.Now(), Cwd: cwd, Hostname: hostname}
	return writeInfo(l.path, info)
}

// Release deletes the lock file and drops the OS advisory lock. Must be
// called on every termination path (signal handlers, normal exit,
// panics-recovered-to-exit).
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing OS advisory lock: %w", err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// Info reads the current lock file's contents, if any.
func (l *Lock) Info() (Info, error) {
	return readInfo(l.path)
}

func readInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("parsing lock file %s: %w", path, err)
	}
	return info, nil
}

func writeInfo(path string, info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// isAlive reports whether pid names a live process, using
// os.FindProcess + a zero-signal probe on unix (os.FindProcess always
// succeeds on unix, so the signal is what actually tests liveness).
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
