// Package worktree is the Worktree Manager (C1): it creates, validates,
// locks, and prunes the per-worker git worktrees that isolate parallel
// agent execution, grounded on the upstream runner's
// usecases/worktree_pool.go lifecycle and clients/git.go's worktree
// plumbing, generalized from a fixed pool into a batch-create API that
// matches a task-driven, not pool-driven, coordinator.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"ralphd/internal/gitutil"
	"ralphd/internal/rlog"

	"context"
)

// Health classifies a worktree's condition for HealthSummary.
type Health string

const (
	HealthActive   Health = "active"
	HealthLocked   Health = "locked"
	HealthStale    Health = "stale"
	HealthPrunable Health = "prunable"
)

// Record describes one worker worktree as observed on disk.
type Record struct {
	WorkerID   string
	Path       string
	Branch     string
	Commit     string
	Locked     bool
	LockReason string
	Health     Health
}

// CreateSpec describes one worktree to create in a batch.
type CreateSpec struct {
	WorkerID   string
	Path       string
	Branch     string
	BaseRef    string
	LockReason string
}

// Manager owns the worktrees/ directory for one repository checkout.
type Manager struct {
	git  *gitutil.Client
	root string // absolute path to the worktrees/ parent directory
}

// New returns a Manager operating git from repoPath and creating worker
// worktrees under root (normally "<repoPath>/worktrees").
func New(repoPath, root string) *Manager {
	return &Manager{git: gitutil.New(repoPath), root: root}
}

// CreateWorktrees fans a batch of creations out concurrently with
// errgroup, one goroutine per worker, matching the upstream runner's
// pool-replenish fan-out but parameterized per-call instead of pool-sized.
func (m *Manager) CreateWorktrees(ctx context.Context, specs []CreateSpec) ([]Record, error) {
	records := make([]Record, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			rec, err := m.CreateWorktree(gctx, spec)
			if err != nil {
				return fmt.Errorf("worker %s: %w", spec.WorkerID, err)
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// CreateWorktree implements the creation algorithm from the worktree
// manager's design: cleanup-tolerant-failure, add -b, retry -f, force
// cleanup and retry, validate, destroy-and-fail on mismatch.
func (m *Manager) CreateWorktree(ctx context.Context, spec CreateSpec) (Record, error) {
	m.cleanupPriorState(ctx, spec.Path)

	exists, _ := m.git.BranchExists(ctx, spec.Branch)
	var err error
	if exists {
		err = m.git.CreateWorktreeExistingBranch(ctx, spec.Path, spec.Branch, false)
	} else {
		err = m.git.CreateWorktree(ctx, spec.Path, spec.Branch, spec.BaseRef, false)
	}

	if err != nil {
		rlog.Warn("worktree create failed for %s, retrying with -f: %v", spec.WorkerID, err)
		if exists {
			err = m.git.CreateWorktreeExistingBranch(ctx, spec.Path, spec.Branch, true)
		} else {
			err = m.git.CreateWorktree(ctx, spec.Path, spec.Branch, spec.BaseRef, true)
		}
	}

	if err != nil {
		rlog.Warn("worktree create failed again for %s, forcing cleanup and retrying once more: %v", spec.WorkerID, err)
		m.forceCleanup(ctx, spec.Path)
		if exists {
			err = m.git.CreateWorktreeExistingBranch(ctx, spec.Path, spec.Branch, true)
		} else {
			err = m.git.CreateWorktree(ctx, spec.Path, spec.Branch, spec.BaseRef, true)
		}
	}

	if err != nil {
		return Record{}, fmt.Errorf("creating worktree for %s: %w", spec.WorkerID, err)
	}

	rec, err := m.validate(ctx, spec)
	if err != nil {
		_ = m.RemoveWorktree(ctx, spec.WorkerID, spec.Path, false)
		return Record{}, err
	}

	if spec.LockReason != "" {
		if err := m.git.LockWorktree(ctx, spec.Path, spec.LockReason); err != nil {
			rlog.Warn("failed to lock worktree %s: %v", spec.Path, err)
		} else {
			rec.Locked = true
			rec.LockReason = spec.LockReason
		}
	}

	return rec, nil
}

// validate re-reads the branch and commit git actually checked out and
// compares them to what was requested; any mismatch is a structured
// error naming both expected and observed values.
func (m *Manager) validate(ctx context.Context, spec CreateSpec) (Record, error) {
	branch, err := m.git.CurrentBranch(ctx, spec.Path)
	if err != nil {
		return Record{}, fmt.Errorf("validate %s: reading branch: %w", spec.WorkerID, err)
	}
	commit, err := m.git.HeadCommit(ctx, spec.Path)
	if err != nil {
		return Record{}, fmt.Errorf("validate %s: reading commit: %w", spec.WorkerID, err)
	}
	if branch != spec.Branch {
		return Record{}, fmt.Errorf("validate %s: expected branch %q, observed %q", spec.WorkerID, spec.Branch, branch)
	}
	if spec.BaseRef != "" {
		expected, err := m.git.ResolveRef(ctx, spec.BaseRef)
		if err != nil {
			return Record{}, fmt.Errorf("validate %s: resolving base %q: %w", spec.WorkerID, spec.BaseRef, err)
		}
		if commit != expected {
			return Record{}, fmt.Errorf("validate %s: expected commit %q, observed %q", spec.WorkerID, expected, commit)
		}
	}
	return Record{
		WorkerID: spec.WorkerID,
		Path:     spec.Path,
		Branch:   branch,
		Commit:   commit,
		Health:   HealthActive,
	}, nil
}

// Validate re-checks an existing worktree against expected branch/commit,
// for use outside the creation path (e.g. pre-dispatch sanity checks).
func (m *Manager) Validate(ctx context.Context, path, expectedBranch, expectedCommit string) error {
	branch, err := m.git.CurrentBranch(ctx, path)
	if err != nil {
		return fmt.Errorf("reading branch at %s: %w", path, err)
	}
	if branch != expectedBranch {
		return fmt.Errorf("worktree %s: expected branch %q, observed %q", path, expectedBranch, branch)
	}
	if expectedCommit != "" {
		commit, err := m.git.HeadCommit(ctx, path)
		if err != nil {
			return fmt.Errorf("reading commit at %s: %w", path, err)
		}
		if commit != expectedCommit {
			return fmt.Errorf("worktree %s: expected commit %q, observed %q", path, expectedCommit, commit)
		}
	}
	return nil
}

func (m *Manager) cleanupPriorState(ctx context.Context, path string) {
	_ = m.git.UnlockWorktree(ctx, path)
	_ = m.git.RemoveWorktree(ctx, path, false)
	_ = m.git.PruneWorktrees(ctx)
}

func (m *Manager) forceCleanup(ctx context.Context, path string) {
	_ = m.git.UnlockWorktree(ctx, path)
	_ = m.git.RemoveWorktree(ctx, path, false)
	_ = os.RemoveAll(path)
	_ = m.git.PruneWorktrees(ctx)
}

// RemoveWorktree removes one worker's worktree. skipGitRemove skips
// `git worktree remove` (for when the directory itself is already gone);
// the Prune that always follows clears git's administrative entry for a
// missing directory.
func (m *Manager) RemoveWorktree(ctx context.Context, workerID, path string, skipGitRemove bool) error {
	if err := m.git.UnlockWorktree(ctx, path); err != nil {
		rlog.Debug("unlock %s before removal (ignored): %v", path, err)
	}
	if err := m.git.RemoveWorktree(ctx, path, skipGitRemove); err != nil {
		rlog.Warn("git worktree remove failed for %s, forcing rm -rf: %v", workerID, err)
		_ = os.RemoveAll(path)
	}
	return m.git.PruneWorktrees(ctx)
}

// Lock marks a worktree locked with reason, protecting it from accidental
// pruning while a worker's task is in flight.
func (m *Manager) Lock(ctx context.Context, path, reason string) error {
	return m.git.LockWorktree(ctx, path, reason)
}

// Unlock clears a worktree's locked flag.
func (m *Manager) Unlock(ctx context.Context, path string) error {
	return m.git.UnlockWorktree(ctx, path)
}

// Prune removes administrative entries for worktrees whose directories no
// longer exist on disk.
func (m *Manager) Prune(ctx context.Context) error {
	return m.git.PruneWorktrees(ctx)
}

// List returns every worktree known to git, including the main checkout.
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	infos, err := m.git.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(infos))
	for _, info := range infos {
		records = append(records, Record{
			Path:       info.Path,
			Branch:     info.Branch,
			Commit:     info.Commit,
			Locked:     info.Locked,
			LockReason: info.LockInfo,
			Health:     deriveHealth(info),
		})
	}
	return records, nil
}

// deriveHealth implements the documented precedence: prunable, then
// locked, then missing-directory (stale), else active.
func deriveHealth(info gitutil.WorktreeInfo) Health {
	switch {
	case info.Prunable:
		return HealthPrunable
	case info.Locked:
		return HealthLocked
	}
	if _, err := os.Stat(info.Path); err != nil {
		return HealthStale
	}
	return HealthActive
}

// HealthSummary returns a health count grouping for the worktrees under
// the manager's root; every worktree outside root, the main checkout
// included, is left out.
func (m *Manager) HealthSummary(ctx context.Context) (map[Health]int, error) {
	records, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	summary := map[Health]int{}
	for _, rec := range records {
		if isMainCheckout(m.root, rec.Path) {
			continue
		}
		summary[rec.Health]++
	}
	return summary, nil
}

func isMainCheckout(root, path string) bool {
	return !strings.HasPrefix(filepath.Clean(path), filepath.Clean(root))
}

// HealthEvent reports a worktree directory change observed between
// HealthSummary sweeps.
type HealthEvent struct {
	Path string
	Op   string // "removed", "created", "renamed", "modified"
}

// Watch watches the worktrees/ directory (its direct entries, not the
// trees below them) with fsnotify and pushes a HealthEvent for each
// create, remove, rename or write there, so a caller (e.g. a future TUI)
// doesn't have to poll HealthSummary to learn a worktree went away
// between sweeps. Events that arrive while the 16-slot channel is full
// are dropped. The returned channel is closed
// when ctx is done or the underlying watcher fails to start; callers
// that only need point-in-time health should keep using HealthSummary.
func (m *Manager) Watch(ctx context.Context) <-chan HealthEvent {
	out := make(chan HealthEvent, 16)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		rlog.Warn("worktree watch: fsnotify unavailable (%v), Watch disabled", err)
		close(out)
		return out
	}
	if err := watcher.Add(m.root); err != nil {
		rlog.Warn("worktree watch: fsnotify.Add(%s) failed (%v), Watch disabled", m.root, err)
		watcher.Close()
		close(out)
		return out
	}

	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				op := watchOpName(ev.Op)
				if op == "" {
					continue
				}
				select {
				case out <- HealthEvent{Path: ev.Name, Op: op}:
				default:
					rlog.Warn("worktree watch: event channel full, dropping event for %s", ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				rlog.Warn("worktree watch: fsnotify error watching %s: %v", m.root, err)
			}
		}
	}()

	return out
}

func watchOpName(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Remove != 0:
		return "removed"
	case op&fsnotify.Create != 0:
		return "created"
	case op&fsnotify.Rename != 0:
		return "renamed"
	case op&fsnotify.Write != 0:
		return "modified"
	default:
		return ""
	}
}

// BranchName generates a worker branch name "worker/<id>/<timestamp>", per
// the worktree design's naming requirement. now is injected for testability.
func BranchName(workerID string, now time.Time) string {
	return fmt.Sprintf("worker/%s/%d", workerID, now.Unix())
}
