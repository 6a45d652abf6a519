// Package coordinator is the Parallel Coordinator (C8): it owns a fixed
// pool of Workers, each bound to its own worktree and agent instance, and
// drives the claim-dispatch loop that keeps them busy until the tracker
// reports no more open work. Grounded on the upstream runner's
// handlers/dispatcher.go worker-pool submission pattern, adapted from
// per-job channel routing to a single shared claim loop since ralphd's
// workers pull tasks rather than having jobs routed to them.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"ralphd/internal/agent"
	"ralphd/internal/gitutil"
	"ralphd/internal/mergequeue"
	"ralphd/internal/rlog"
	"ralphd/internal/task"
)

// Worker is one pool slot: a stable id, its own worktree, and its own
// agent instance. Only the Coordinator ever transitions Busy — this is
// the one-writer invariant from the worktree-ownership design.
type Worker struct {
	ID           string
	WorktreePath string
	Agent        agent.Agent

	mu         sync.Mutex
	busy       bool
	baseCommit string
}

func (w *Worker) setBusy(b bool) {
	w.mu.Lock()
	w.busy = b
	w.mu.Unlock()
}

func (w *Worker) isBusy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// SetBaseCommit records the worktree's HEAD immediately before dispatch,
// so finalizeAndMerge can later collect exactly the commits produced by
// this iteration via rev-list base..HEAD.
func (w *Worker) SetBaseCommit(commit string) {
	w.mu.Lock()
	w.baseCommit = commit
	w.mu.Unlock()
}

func (w *Worker) getBaseCommit() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.baseCommit
}

// PromptBuilder renders the full prompt for a task, including the
// required impact-plan table instructions.
type PromptBuilder func(t task.Task) string

// Coordinator runs the parallel claim-dispatch loop over a pool of Workers.
type Coordinator struct {
	Workers       []*Worker
	Tracker       task.Tracker
	MergeQueue    *mergequeue.Queue
	BuildPrompt   PromptBuilder
	PollInterval  time.Duration
	ClaimInterval time.Duration

	OnStdout     func(workerID, taskID string, chunk []byte)
	OnStderr     func(workerID, taskID string, chunk []byte)
	OnTaskPicked func(workerID, taskID string)
	OnTaskReopened func(workerID, taskID string, reason string)

	pool    *workerpool.WorkerPool
	pausedM sync.Mutex
	paused  bool
}

// New returns a Coordinator with a workerpool sized to len(workers).
func New(workers []*Worker, tr task.Tracker, mq *mergequeue.Queue, buildPrompt PromptBuilder) *Coordinator {
	return &Coordinator{
		Workers:       workers,
		Tracker:       tr,
		MergeQueue:    mq,
		BuildPrompt:   buildPrompt,
		PollInterval:  100 * time.Millisecond,
		ClaimInterval: 50 * time.Millisecond,
		pool:          workerpool.New(len(workers)),
	}
}

// SetPaused toggles the pause flag the main loop polls.
func (c *Coordinator) SetPaused(p bool) {
	c.pausedM.Lock()
	c.paused = p
	c.pausedM.Unlock()
}

func (c *Coordinator) isPaused() bool {
	c.pausedM.Lock()
	defer c.pausedM.Unlock()
	return c.paused
}

// Run drives the coordinator until ctx is canceled or termination: no
// worker busy AND no open/in_progress tasks remain.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.pool.StopWait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if c.isPaused() {
			time.Sleep(c.PollInterval)
			continue
		}

		idle := c.findIdleWorker()
		if idle == nil {
			time.Sleep(c.PollInterval)
			if c.terminated(ctx) {
				return nil
			}
			continue
		}

		t, ok := c.nextClaimedTask(ctx, idle.ID)
		if !ok {
			time.Sleep(c.ClaimInterval)
			if c.terminated(ctx) {
				return nil
			}
			continue
		}

		idle.setBusy(true)
		w := idle
		taskCopy := t
		if head, err := gitutil.New(w.WorktreePath).HeadCommit(ctx, w.WorktreePath); err == nil {
			w.SetBaseCommit(head)
		}
		c.pool.Submit(func() {
			defer w.setBusy(false)
			c.runIteration(ctx, w, taskCopy)
		})
	}
}

func (c *Coordinator) terminated(ctx context.Context) bool {
	for _, w := range c.Workers {
		if w.isBusy() {
			return false
		}
	}
	open, err := c.Tracker.GetTasks(ctx, task.Filter{Status: []task.Status{task.StatusOpen, task.StatusInProgress}})
	if err != nil {
		rlog.Warn("coordinator: checking termination: %v", err)
		return false
	}
	return len(open) == 0
}

func (c *Coordinator) findIdleWorker() *Worker {
	for _, w := range c.Workers {
		if !w.isBusy() {
			return w
		}
	}
	return nil
}

// nextClaimedTask asks the tracker for the next ready task and attempts
// to claim it via tracker.ClaimTask; trackers that don't support atomic
// claiming (ClaimCapable.SupportsClaim() == false) fall back to a plain
// status transition.
func (c *Coordinator) nextClaimedTask(ctx context.Context, workerID string) (task.Task, bool) {
	t, err := c.Tracker.GetNextTask(ctx, task.Filter{})
	if err != nil || t == nil {
		return task.Task{}, false
	}

	if claimer, ok := c.Tracker.(task.ClaimCapable); !ok || claimer.SupportsClaim() {
		claimed, err := c.Tracker.ClaimTask(ctx, t.ID, workerID)
		if err != nil || !claimed {
			return task.Task{}, false
		}
		return *t, true
	}
	if err := c.Tracker.UpdateTaskStatus(ctx, t.ID, task.StatusInProgress); err != nil {
		return task.Task{}, false
	}
	return *t, true
}

// runIteration executes one task on worker w: builds the prompt, runs the
// agent with streaming callbacks, and on finish either collects commits
// into the merge queue or reopens the task.
func (c *Coordinator) runIteration(ctx context.Context, w *Worker, t task.Task) {
	if c.OnTaskPicked != nil {
		c.OnTaskPicked(w.ID, t.ID)
	}

	prompt := t.Description
	if c.BuildPrompt != nil {
		prompt = c.BuildPrompt(t)
	}

	handle, err := w.Agent.Execute(ctx, prompt, nil, agent.ExecOptions{
		Cwd: w.WorktreePath,
		OnStdout: func(chunk []byte) {
			if c.OnStdout != nil {
				c.OnStdout(w.ID, t.ID, chunk)
			}
		},
		OnStderr: func(chunk []byte) {
			if c.OnStderr != nil {
				c.OnStderr(w.ID, t.ID, chunk)
			}
		},
	})
	if err != nil {
		c.reopen(ctx, w, t, fmt.Sprintf("agent execute failed: %v", err))
		return
	}
	res := <-handle.Done
	if res.Err != nil {
		c.reopen(ctx, w, t, fmt.Sprintf("agent run failed: %v", res.Err))
		return
	}

	if err := c.finalizeAndMerge(ctx, w, t); err != nil {
		c.reopen(ctx, w, t, fmt.Sprintf("finalize failed: %v", err))
		return
	}
}

// finalizeAndMerge auto-commits any remaining changes with a derived
// message, collects the task's commits oldest-first, and enqueues them
// into the merge queue.
func (c *Coordinator) finalizeAndMerge(ctx context.Context, w *Worker, t task.Task) error {
	wg := gitutil.New(w.WorktreePath)

	status, err := wg.PorcelainStatus(ctx, "")
	if err != nil {
		return err
	}
	if len(gitutil.ChangedFiles(status)) > 0 {
		if err := wg.AddAll(ctx, w.WorktreePath); err != nil {
			return err
		}
		if err := wg.Commit(ctx, w.WorktreePath, derivedCommitMessage(t)); err != nil {
			return err
		}
	}

	head, err := wg.HeadCommit(ctx, w.WorktreePath)
	if err != nil {
		return err
	}
	commits, err := wg.RevListReverse(ctx, w.getBaseCommit(), head)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		return fmt.Errorf("no commits produced for task %s", t.ID)
	}

	c.MergeQueue.EnqueueTask(t.ID, w.ID, commits)
	return nil
}

func derivedCommitMessage(t task.Task) string {
	title := t.Title
	if len(title) > 60 {
		title = title[:60]
	}
	return fmt.Sprintf("%s: %s", t.ID, strings.TrimSpace(title))
}

func (c *Coordinator) reopen(ctx context.Context, w *Worker, t task.Task, reason string) {
	if err := c.Tracker.UpdateTaskStatus(ctx, t.ID, task.StatusOpen); err != nil {
		rlog.Warn("coordinator: failed to reopen task %s: %v", t.ID, err)
	}
	if c.OnTaskReopened != nil {
		c.OnTaskReopened(w.ID, t.ID, reason)
	}
}
