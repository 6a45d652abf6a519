// Package mainsync is the Main-Sync Controller (C6): after a task is
// declared completed, it fast-forwards the auxiliary integration
// worktree to the main checkout's HEAD. On failure it holds the task
// pending and retries in the background with exponential backoff,
// exactly as the upstream runner's clients/git.go executeWithRetry and
// cmd/main.go's backoff.RetryNotify do for their own retry loops.
package mainsync

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ralphd/internal/gitutil"
	"ralphd/internal/rlerr"
	"ralphd/internal/rlog"
	"ralphd/internal/task"
	"ralphd/internal/waiter"
)

// Outcome classifies one sync attempt.
type Outcome string

const (
	OutcomeUpdated           Outcome = "success(updated)"
	OutcomeAlready           Outcome = "success(already)"
	OutcomeFetchFailed       Outcome = "FETCH_FAILED"
	OutcomeFastForwardFailed Outcome = "FAST_FORWARD_FAILED"
	OutcomeSkipped           Outcome = "SKIPPED"
)

// MaxRetries bounds the background retry pass before a main-sync-alert
// is emitted.
const MaxRetries = 10

// Controller owns the auxiliary integration worktree and the set of
// tasks held back pending a successful sync.
type Controller struct {
	git           *gitutil.Client
	auxWorktree   string
	OnAlert       func(pendingCount int)
	OnSynced      func(taskIDs []string)

	mu      sync.Mutex
	pending map[string]*task.PendingMainRecord
	running bool
	alerted bool
}

// New returns a Controller driving the auxiliary worktree at auxWorktree,
// using git from mainRepoPath for HEAD resolution.
func New(mainRepoPath, auxWorktree string) *Controller {
	return &Controller{
		git:         gitutil.New(mainRepoPath),
		auxWorktree: auxWorktree,
		pending:     make(map[string]*task.PendingMainRecord),
	}
}

// Sync resolves HEAD in the main checkout and fast-forwards the
// auxiliary worktree to it. On failure, taskID is registered as pending,
// a background retry loop is started if one isn't already running, and
// the returned error is a *rlerr.MainSyncError naming the reason.
func (c *Controller) Sync(ctx context.Context, taskID string, commits []string) (Outcome, error) {
	head, err := c.git.HeadCommit(ctx, "")
	if err != nil {
		c.markPending(taskID, commits)
		c.ensureRetryLoop(ctx)
		return OutcomeFetchFailed, &rlerr.MainSyncError{Reason: "resolving HEAD", Err: err}
	}

	updated, err := c.git.FastForwardTo(ctx, c.auxWorktree, head)
	if err != nil {
		rlog.Warn("main-sync fast-forward failed for task %s: %v", taskID, err)
		c.markPending(taskID, commits)
		c.ensureRetryLoop(ctx)
		return OutcomeFastForwardFailed, &rlerr.MainSyncError{Reason: "fast-forward rejected", Err: err}
	}
	if updated {
		return OutcomeUpdated, nil
	}
	return OutcomeAlready, nil
}

func (c *Controller) markPending(taskID string, commits []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[taskID] = &task.PendingMainRecord{
		TaskID:      taskID,
		CommitCount: len(commits),
		Commits:     commits,
		MarkedAt:    time.Now(),
	}
}

// Pending returns the tasks currently held back from completion.
func (c *Controller) Pending() []*task.PendingMainRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*task.PendingMainRecord, 0, len(c.pending))
	for _, r := range c.pending {
		out = append(out, r)
	}
	return out
}

func (c *Controller) ensureRetryLoop(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.retryLoop(ctx)
}

// retryLoop retries the fast-forward with exponential backoff (2s
// doubling to a 30s cap) until every pending task clears or ctx is done.
// Once MaxRetries attempts have failed, one main-sync-alert fires
// (suppressed after the first until the pending set clears); retrying
// continues after the alert.
func (c *Controller) retryLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Reset()

	attempt := 0
	for {
		if c.isEmpty() {
			c.mu.Lock()
			c.alerted = false
			c.mu.Unlock()
			return
		}
		if err := waiter.Sleep(ctx, b.NextBackOff(), nil); err != nil {
			return
		}
		attempt++

		head, err := c.git.HeadCommit(ctx, "")
		if err == nil {
			if _, err := c.git.FastForwardTo(ctx, c.auxWorktree, head); err == nil {
				c.flushPending()
				continue
			}
		}

		if attempt >= MaxRetries {
			c.maybeAlert()
		}
	}
}

func (c *Controller) isEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) == 0
}

func (c *Controller) flushPending() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.pending = make(map[string]*task.PendingMainRecord)
	c.alerted = false
	c.mu.Unlock()
	if c.OnSynced != nil {
		c.OnSynced(ids)
	}
}

func (c *Controller) maybeAlert() {
	c.mu.Lock()
	if c.alerted {
		c.mu.Unlock()
		return
	}
	c.alerted = true
	count := len(c.pending)
	c.mu.Unlock()
	if c.OnAlert != nil {
		c.OnAlert(count)
	}
}
