// Package mergequeue is the Merge Queue (C7): a single-writer serial
// queue that protects the integration working tree, cherry-picking each
// worker's commit onto it in FIFO order and falling back to an ephemeral
// conflict-resolution worktree plus an agent invocation when a
// cherry-pick conflicts. Grounded on the upstream runner's
// handlers/dispatcher.go per-key serialized channel processing, adapted
// here from per-job dispatch to a single shared integration-branch queue.
package mergequeue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"ralphd/internal/agent"
	"ralphd/internal/gitutil"
	"ralphd/internal/rlerr"
	"ralphd/internal/rlog"
	"ralphd/internal/worktree"
)

// Entry is one unit of work dequeued by the merge queue.
type Entry struct {
	TaskID   string
	WorkerID string
	Commit   string
}

// Resolver invokes an agent to resolve a cherry-pick conflict. Returns
// true if the agent reports the conflicts resolved; resolveConflict
// re-checks for unmerged paths itself afterwards.
type Resolver func(ctx context.Context, resolveDir string, conflictedPaths []string) (bool, error)

// Queue serializes cherry-picks onto the integration working tree.
type Queue struct {
	mainRepoPath string
	git          *gitutil.Client
	wtMgr        *worktree.Manager
	resolver     Resolver

	mu      sync.Mutex
	entries chan Entry

	countsMu            sync.Mutex
	pendingMergeCounts  map[string]int

	OnMergeQueued    func(Entry)
	OnMergeSucceeded func(Entry)
	OnMergeFailed    func(Entry, error)
	// OnTaskMergesComplete fires once pendingMergeCounts[taskID] reaches
	// zero, i.e. every commit queued for that task has been merged.
	OnTaskMergesComplete func(taskID string)
}

// New returns a Queue operating on mainRepoPath's working tree, using
// wtMgr to create/destroy the ephemeral conflict-resolution worktree, and
// resolver to invoke an agent against unresolved conflicts.
func New(mainRepoPath string, wtMgr *worktree.Manager, resolver Resolver) *Queue {
	return &Queue{
		mainRepoPath:       mainRepoPath,
		git:                gitutil.New(mainRepoPath),
		wtMgr:              wtMgr,
		resolver:           resolver,
		entries:            make(chan Entry, 256),
		pendingMergeCounts: make(map[string]int),
	}
}

// EnqueueTask registers taskID as having commits queued, in
// `rev-list --reverse base..HEAD` order, and enqueues one Entry per
// commit. The task is only reported complete (via
// OnTaskMergesComplete) once every one of these has merged.
func (q *Queue) EnqueueTask(taskID, workerID string, commitsOldestFirst []string) {
	q.countsMu.Lock()
	q.pendingMergeCounts[taskID] += len(commitsOldestFirst)
	q.countsMu.Unlock()

	for _, commit := range commitsOldestFirst {
		q.Enqueue(Entry{TaskID: taskID, WorkerID: workerID, Commit: commit})
	}
}

// Enqueue adds e to the queue. Non-blocking up to the queue's buffer; the
// caller's goroutine blocks only if the buffer is full, matching the
// dispatcher's bounded-channel backpressure.
func (q *Queue) Enqueue(e Entry) {
	if q.OnMergeQueued != nil {
		q.OnMergeQueued(e)
	}
	q.entries <- e
}

// decrementPending records one commit as merged for taskID and fires
// OnTaskMergesComplete once the count reaches zero.
func (q *Queue) decrementPending(taskID string) {
	q.countsMu.Lock()
	q.pendingMergeCounts[taskID]--
	done := q.pendingMergeCounts[taskID] <= 0
	if done {
		delete(q.pendingMergeCounts, taskID)
	}
	q.countsMu.Unlock()
	if done && q.OnTaskMergesComplete != nil {
		q.OnTaskMergesComplete(taskID)
	}
}

// Run drains the queue one entry at a time until ctx is canceled. Only
// one Run goroutine should ever be active per Queue (single-writer
// invariant).
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-q.entries:
			if err := q.process(ctx, e); err != nil {
				rlog.Warn("merge queue: task %s commit %s failed: %v", e.TaskID, e.Commit, err)
				if q.OnMergeFailed != nil {
					q.OnMergeFailed(e, err)
				}
				continue
			}
			if q.OnMergeSucceeded != nil {
				q.OnMergeSucceeded(e)
			}
			q.decrementPending(e.TaskID)
		}
	}
}

func (q *Queue) process(ctx context.Context, e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	status, err := q.git.PorcelainStatus(ctx, "")
	if err != nil {
		return fmt.Errorf("checking main tree status: %w", err)
	}
	if len(gitutil.ChangedFiles(status)) > 0 {
		return fmt.Errorf("main working tree is dirty, refusing to cherry-pick %s", e.Commit)
	}

	if err := q.git.CherryPick(ctx, "", e.Commit); err == nil {
		return nil
	}

	_ = q.git.CherryPickAbort(ctx, "")
	return q.resolveConflict(ctx, e)
}

// resolveConflict creates an ephemeral merge-* worktree, re-attempts the
// cherry-pick there, and if it still conflicts invokes the resolver. On
// success the resulting commit is applied to the main checkout with a
// second cherry-pick. The ephemeral worktree is always removed.
func (q *Queue) resolveConflict(ctx context.Context, e Entry) error {
	resolveDir := fmt.Sprintf("%s/worktrees/merge-%s", q.mainRepoPath, uuid.NewString()[:8])
	head, err := q.git.HeadCommit(ctx, "")
	if err != nil {
		return fmt.Errorf("resolving HEAD for merge worktree: %w", err)
	}

	rec, err := q.wtMgr.CreateWorktree(ctx, worktree.CreateSpec{
		WorkerID: "merge-" + e.TaskID,
		Path:     resolveDir,
		Branch:   "merge/" + e.TaskID + "/" + uuid.NewString()[:8],
		BaseRef:  head,
	})
	if err != nil {
		return fmt.Errorf("creating merge worktree: %w", err)
	}
	defer func() {
		if err := q.wtMgr.RemoveWorktree(ctx, rec.WorkerID, resolveDir, false); err != nil {
			rlog.Warn("failed to remove merge worktree %s: %v", resolveDir, err)
		}
	}()

	wtGit := gitutil.New(resolveDir)
	if err := wtGit.CherryPick(ctx, resolveDir, e.Commit); err != nil {
		conflicted, cErr := wtGit.UnmergedPaths(ctx, resolveDir)
		if cErr != nil {
			return fmt.Errorf("reading unmerged paths: %w", cErr)
		}
		if len(conflicted) == 0 {
			return fmt.Errorf("cherry-pick failed in merge worktree with no unmerged paths: %w", err)
		}

		if q.resolver == nil {
			return &rlerr.MergeConflictError{Commit: e.Commit, ConflictedPaths: conflicted, Err: err}
		}
		resolved, rErr := q.resolver(ctx, resolveDir, conflicted)
		if rErr != nil {
			return fmt.Errorf("resolver agent failed: %w", rErr)
		}
		if !resolved {
			return &rlerr.MergeConflictError{Commit: e.Commit, ConflictedPaths: conflicted, Err: err}
		}
		remaining, rErr := wtGit.UnmergedPaths(ctx, resolveDir)
		if rErr != nil {
			return fmt.Errorf("re-checking unmerged paths: %w", rErr)
		}
		if len(remaining) > 0 {
			return &rlerr.MergeConflictError{Commit: e.Commit, ConflictedPaths: remaining}
		}
	}

	resultCommit, err := wtGit.HeadCommit(ctx, resolveDir)
	if err != nil {
		return fmt.Errorf("reading resolved commit: %w", err)
	}
	return q.git.CherryPick(ctx, "", resultCommit)
}

// AgentResolver builds a Resolver that invokes a against a tightly scoped
// "resolve conflicts" prompt listing the conflicting files, declaring
// success only if the agent signals completion (the unmerged-path check
// is left to resolveConflict) — wired by the caller since conflict resolution needs the same
// completion-sentinel detection as the commit-recovery loop.
func AgentResolver(a agent.Agent, signaledCompletion func(string) bool) Resolver {
	return func(ctx context.Context, resolveDir string, conflictedPaths []string) (bool, error) {
		prompt := fmt.Sprintf(
			"Resolve the merge conflicts in the following files, then commit the result:\n%v\n"+
				"Do not touch any other files. When done, end your response with <promise>COMPLETE</promise>.",
			conflictedPaths,
		)
		handle, err := a.Execute(ctx, prompt, conflictedPaths, agent.ExecOptions{Cwd: resolveDir})
		if err != nil {
			return false, err
		}
		res := <-handle.Done
		if res.Err != nil {
			return false, res.Err
		}
		return signaledCompletion(res.Stdout), nil
	}
}
