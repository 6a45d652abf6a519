// Package reconcile is Reconciliation (C13): on startup, it verifies
// that every task the tracker believes is completed actually has a
// commit reachable from the integration branch, and reopens (or just
// reports) any that don't. Grounded on the upstream runner's
// handlers/recovery.go RecoverInProgressJobs, generalized from an
// age+branch-existence check to a commit-ancestry check since ralphd's
// completion signal is a merged commit, not a live job record.
package reconcile

import (
	"context"
	"fmt"

	"ralphd/internal/gitutil"
	"ralphd/internal/rlog"
	"ralphd/internal/task"
)

// Result is one task's reconciliation outcome.
type Result struct {
	TaskID       string
	Verified     bool
	Reopened     bool
	MatchedCommit string
}

// Reconcile checks every completed task against integrationBranch's
// history. shouldReopen decides whether an unverified task is reset to
// open (true) or only reported (false) — operators may want to inspect
// before reopening in a shared repo.
func Reconcile(ctx context.Context, tr task.Tracker, git *gitutil.Client, integrationBranch string, shouldReopen bool) ([]Result, error) {
	tasks, err := tr.GetTasks(ctx, task.Filter{Status: []task.Status{task.StatusCompleted}})
	if err != nil {
		return nil, fmt.Errorf("listing completed tasks: %w", err)
	}

	var results []Result
	for _, t := range tasks {
		res, err := reconcileOne(ctx, tr, git, integrationBranch, t, shouldReopen)
		if err != nil {
			rlog.Warn("reconcile: task %s: %v", t.ID, err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func reconcileOne(ctx context.Context, tr task.Tracker, git *gitutil.Client, integrationBranch string, t task.Task, shouldReopen bool) (Result, error) {
	commits, err := git.CommitsForTask(ctx, t.ID)
	if err != nil {
		return Result{}, fmt.Errorf("finding commits: %w", err)
	}

	for _, commit := range commits {
		ok, err := git.IsAncestor(ctx, commit, integrationBranch)
		if err != nil {
			return Result{}, fmt.Errorf("checking ancestry of %s: %w", commit, err)
		}
		if ok {
			return Result{TaskID: t.ID, Verified: true, MatchedCommit: commit}, nil
		}
	}

	res := Result{TaskID: t.ID, Verified: false}
	if shouldReopen {
		if err := tr.UpdateTaskStatus(ctx, t.ID, task.StatusOpen); err != nil {
			return res, fmt.Errorf("reopening unverified task: %w", err)
		}
		res.Reopened = true
		rlog.Info("reconcile: reopened task %s, no commit found on %s", t.ID, integrationBranch)
	} else {
		rlog.Warn("reconcile: task %s marked completed but no commit verified on %s", t.ID, integrationBranch)
	}
	return res, nil
}
