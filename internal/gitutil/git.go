// Package gitutil is a trimmed git CLI wrapper scoped to what the
// execution engine needs: worktree lifecycle, branch/commit inspection,
// and the cherry-pick/ancestry operations the merge queue and
// reconciliation depend on. It is grounded on the upstream runner's
// clients/git.go, carrying over its CombinedOutput-and-wrap error style
// and its executeWithRetry backoff wrapper for transient lock contention.
package gitutil

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ralphd/internal/rlog"
)

// Client runs git commands rooted at RepoPath.
type Client struct {
	RepoPath string
}

// New returns a Client rooted at repoPath.
func New(repoPath string) *Client {
	return &Client{RepoPath: repoPath}
}

func (c *Client) cmd(ctx context.Context, dir string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	} else {
		cmd.Dir = c.RepoPath
	}
	return cmd
}

func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := c.cmd(ctx, dir, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w\noutput: %s", strings.Join(args, " "), err, string(out))
	}
	return string(out), nil
}

// isLockContention reports whether git's output indicates a transient
// index.lock / pack-refs.lock contention that's worth retrying.
func isLockContention(output string) bool {
	l := strings.ToLower(output)
	return strings.Contains(l, "unable to create") && strings.Contains(l, ".lock") ||
		strings.Contains(l, "index.lock")
}

// runWithRetry retries transient lock-contention failures with the same
// exponential backoff shape the upstream runner uses for its GitHub CLI
// calls (clients/git.go executeWithRetry): 2s initial, x2, capped at 30s,
// giving up after 2 minutes total.
func (c *Client) runWithRetry(ctx context.Context, dir string, args ...string) (string, error) {
	var out string
	var err error

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	b.Multiplier = 2

	op := func() error {
		out, err = c.run(ctx, dir, args...)
		if err != nil && isLockContention(out) {
			rlog.Warn("git %s hit lock contention, retrying", strings.Join(args, " "))
			return err
		}
		return nil
	}
	if retryErr := backoff.Retry(op, backoff.WithContext(b, ctx)); retryErr != nil && err == nil {
		return out, retryErr
	}
	return out, err
}

// WorktreeInfo is one entry from `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path     string
	Branch   string
	Commit   string
	Locked   bool
	LockInfo string
	Prunable bool
}

// CreateWorktree runs `git worktree add <path> -b <branch> <baseRef>`.
// force appends --force (used for the second/third creation attempt).
func (c *Client) CreateWorktree(ctx context.Context, path, branch, baseRef string, force bool) error {
	args := []string{"worktree", "add"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path, "-b", branch)
	if baseRef != "" {
		args = append(args, baseRef)
	}
	_, err := c.runWithRetry(ctx, "", args...)
	return err
}

// CreateWorktreeExistingBranch runs `git worktree add <path> <branch>`
// for a branch that already exists.
func (c *Client) CreateWorktreeExistingBranch(ctx context.Context, path, branch string, force bool) error {
	args := []string{"worktree", "add"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path, branch)
	_, err := c.runWithRetry(ctx, "", args...)
	return err
}

// RemoveWorktree force-removes a worktree. With skipGitRemove it does
// nothing: neither the directory nor git's administrative metadata is
// touched.
func (c *Client) RemoveWorktree(ctx context.Context, path string, skipGitRemove bool) error {
	if skipGitRemove {
		return nil
	}
	_, err := c.run(ctx, "", "worktree", "remove", "--force", path)
	return err
}

// ListWorktrees parses `git worktree list --porcelain`.
func (c *Client) ListWorktrees(ctx context.Context) ([]WorktreeInfo, error) {
	out, err := c.run(ctx, "", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var list []WorktreeInfo
	var cur WorktreeInfo
	flush := func() {
		if cur.Path != "" {
			list = append(list, cur)
		}
		cur = WorktreeInfo{}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "locked" || strings.HasPrefix(line, "locked "):
			cur.Locked = true
			cur.LockInfo = strings.TrimPrefix(line, "locked ")
		case line == "prunable" || strings.HasPrefix(line, "prunable "):
			cur.Prunable = true
		}
	}
	flush()
	return list, nil
}

// PruneWorktrees removes administrative entries for worktrees whose
// directory no longer exists on disk.
func (c *Client) PruneWorktrees(ctx context.Context) error {
	_, err := c.run(ctx, "", "worktree", "prune")
	return err
}

// LockWorktree runs `git worktree lock [--reason ...] <path>`.
func (c *Client) LockWorktree(ctx context.Context, path, reason string) error {
	args := []string{"worktree", "lock"}
	if reason != "" {
		args = append(args, "--reason", reason)
	}
	args = append(args, path)
	_, err := c.run(ctx, "", args...)
	return err
}

// UnlockWorktree runs `git worktree unlock <path>`.
func (c *Client) UnlockWorktree(ctx context.Context, path string) error {
	_, err := c.run(ctx, "", "worktree", "unlock", path)
	return err
}

// CurrentBranch returns the checked-out branch name in dir.
func (c *Client) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := c.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	return strings.TrimSpace(out), err
}

// HeadCommit returns the current HEAD commit hash in dir.
func (c *Client) HeadCommit(ctx context.Context, dir string) (string, error) {
	out, err := c.run(ctx, dir, "rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

// ResolveRef returns the commit hash ref resolves to.
func (c *Client) ResolveRef(ctx context.Context, ref string) (string, error) {
	out, err := c.run(ctx, "", "rev-parse", ref)
	return strings.TrimSpace(out), err
}

// PorcelainStatus returns `git status --porcelain` output for dir.
func (c *Client) PorcelainStatus(ctx context.Context, dir string) (string, error) {
	return c.run(ctx, dir, "status", "--porcelain")
}

// ChangedFiles returns the list of paths named by a porcelain status line,
// stripping the two-character status prefix.
func ChangedFiles(porcelain string) []string {
	var files []string
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 4 {
			continue
		}
		files = append(files, strings.TrimSpace(line[3:]))
	}
	return files
}

// AddAll stages all changes in dir.
func (c *Client) AddAll(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, "add", "-A")
	return err
}

// AddPaths stages specific paths in dir.
func (c *Client) AddPaths(ctx context.Context, dir string, paths []string) error {
	args := append([]string{"add", "--"}, paths...)
	_, err := c.run(ctx, dir, args...)
	return err
}

// Commit commits staged changes with message in dir.
func (c *Client) Commit(ctx context.Context, dir, message string) error {
	_, err := c.run(ctx, dir, "commit", "-m", message)
	return err
}

// CherryPick cherry-picks commit into dir's working tree.
func (c *Client) CherryPick(ctx context.Context, dir, commit string) error {
	_, err := c.run(ctx, dir, "cherry-pick", commit)
	return err
}

// CherryPickAbort aborts an in-progress cherry-pick in dir.
func (c *Client) CherryPickAbort(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, "cherry-pick", "--abort")
	return err
}

// UnmergedPaths returns paths still in conflict after a failed cherry-pick.
func (c *Client) UnmergedPaths(ctx context.Context, dir string) ([]string, error) {
	out, err := c.run(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ResetHardTo resets dir to ref, discarding local changes.
func (c *Client) ResetHardTo(ctx context.Context, dir, ref string) error {
	_, err := c.run(ctx, dir, "reset", "--hard", ref)
	return err
}

// FastForwardTo attempts `git merge --ff-only ref` in dir, reporting
// whether HEAD was already at ref ("already"), advanced ("updated"), or
// rejected non-fast-forward.
func (c *Client) FastForwardTo(ctx context.Context, dir, ref string) (updated bool, err error) {
	before, err := c.HeadCommit(ctx, dir)
	if err != nil {
		return false, err
	}
	target, err := c.ResolveRef(ctx, ref)
	if err != nil {
		return false, err
	}
	if before == target {
		return false, nil
	}
	if _, err := c.run(ctx, dir, "merge", "--ff-only", ref); err != nil {
		return false, err
	}
	return true, nil
}

// RevListReverse lists commits reachable from head but not base, oldest first.
func (c *Client) RevListReverse(ctx context.Context, base, head string) ([]string, error) {
	out, err := c.run(ctx, "", "rev-list", "--reverse", base+".."+head)
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// CommitsForTask finds commits whose message contains taskID.
func (c *Client) CommitsForTask(ctx context.Context, taskID string) ([]string, error) {
	out, err := c.run(ctx, "", "log", "--all", "--format=%H", "--grep="+taskID)
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// IsAncestor reports whether commit is an ancestor of ref.
func (c *Client) IsAncestor(ctx context.Context, commit, ref string) (bool, error) {
	cmd := c.cmd(ctx, "", "merge-base", "--is-ancestor", commit, ref)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// DefaultBranch returns the default branch name (origin/HEAD, falling
// back to "main").
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "", "symbolic-ref", "--short", "refs/remotes/origin/HEAD")
	if err == nil {
		return strings.TrimPrefix(strings.TrimSpace(out), "origin/"), nil
	}
	return "main", nil
}

// BranchExists reports whether a local branch exists.
func (c *Client) BranchExists(ctx context.Context, branch string) (bool, error) {
	cmd := c.cmd(ctx, "", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return false, nil
	}
	return false, err
}

// DeleteLocalBranch force-deletes a local branch.
func (c *Client) DeleteLocalBranch(ctx context.Context, branch string) error {
	_, err := c.run(ctx, "", "branch", "-D", branch)
	return err
}

// RemoteOriginURL returns the configured origin URL, or "" if none.
func (c *Client) RemoteOriginURL(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "", "remote", "get-url", "origin")
	if err != nil {
		return "", nil // no remote configured is not fatal here
	}
	return strings.TrimSpace(out), nil
}

// WorktreeDirName returns the basename of a worktree path, for log messages.
func WorktreeDirName(path string) string { return filepath.Base(path) }
