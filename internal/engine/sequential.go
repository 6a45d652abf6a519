package engine

import (
	"context"
	"fmt"
	"time"

	"ralphd/internal/agent"
	"ralphd/internal/agentstate"
	"ralphd/internal/eventbus"
	"ralphd/internal/gitutil"
	"ralphd/internal/mainsync"
	"ralphd/internal/ratelimit"
	"ralphd/internal/recovery"
	"ralphd/internal/rlerr"
	"ralphd/internal/rlog"
	"ralphd/internal/task"
	"ralphd/internal/waiter"
)

// PromptBuilder renders the full prompt for a task. cmd/ralphd supplies
// one backed by promptbuild.SequentialPrompt, which does not read the
// tracker's own template (Tracker.GetTemplate). When the builder returns
// an error, runIteration falls back to the task description as the prompt.
type PromptBuilder func(ctx context.Context, t task.Task, recentProgress string) (string, error)

// Sequential is the Sequential Engine (C9): a single agent driven against
// the main checkout, one task at a time.
type Sequential struct {
	Config
	Tracker   task.Tracker
	Agent     agent.Agent
	AgentID   string
	RepoPath  string
	Bus       *eventbus.Bus
	State     *State
	Iterations *IterationCounter

	// Agents holds one constructed instance per agent id the primary or
	// fallback chain may run, keyed by id (including AgentID itself).
	// Populated by the caller alongside AgentState; required for
	// MaybeFallback/MaybeRecoverPrimary transitions to actually swap the
	// active agent instead of only updating AgentState's bookkeeping.
	Agents map[string]agent.Agent

	RateLimit  *ratelimit.Detector
	AgentState *agentstate.Machine
	Recovery   *recovery.Loop
	MainSync   *mainsync.Controller
	BuildPrompt PromptBuilder

	PollInterval time.Duration
}

// NewSequential wires the default PollInterval and a fresh State/counter.
// Agents is seeded with just the primary; callers running a fallback
// chain should add the remaining agent instances before calling Run.
func NewSequential(cfg Config, tr task.Tracker, a agent.Agent, agentID, repoPath string, bus *eventbus.Bus) *Sequential {
	return &Sequential{
		Config:       cfg,
		Tracker:      tr,
		Agent:        a,
		AgentID:      agentID,
		RepoPath:     repoPath,
		Bus:          bus,
		State:        NewState(),
		Iterations:   &IterationCounter{},
		Agents:       map[string]agent.Agent{agentID: a},
		RateLimit:    ratelimit.NewDetector(),
		Recovery:     recovery.New(repoPath),
		PollInterval: 100 * time.Millisecond,
	}
}

// wireMainSyncCompletion hooks MainSync.OnSynced to complete every task
// flushed by the background retry loop, mirroring the synchronous
// completion path at the bottom of runIteration. Called by WireMainSync
// right after it assigns s.MainSync.
func (s *Sequential) wireMainSyncCompletion() {
	if s.MainSync == nil {
		return
	}
	s.MainSync.OnSynced = func(taskIDs []string) {
		for _, id := range taskIDs {
			if err := s.Tracker.CompleteTask(context.Background(), id, "completed"); err != nil {
				rlog.Warn("sequential: completing task %s after background main-sync: %v", id, err)
				continue
			}
			if err := s.Tracker.ClearPendingMain(context.Background(), id, "main-sync succeeded"); err != nil {
				rlog.Warn("sequential: clearing pending-main for %s: %v", id, err)
			}
			s.State.incTasksCompleted()
			s.emit("task:completed", id, map[string]any{"via": "background-main-sync"})
		}
	}
	s.MainSync.OnAlert = func(pendingCount int) {
		s.emit("main-sync:alert", "", map[string]any{"pendingCount": pendingCount})
	}
}

// WireMainSync assigns c as the main-sync controller and wires its
// completion/alert callbacks. Callers must use this instead of assigning
// s.MainSync directly so OnSynced/OnAlert are never left nil.
func (s *Sequential) WireMainSync(c *mainsync.Controller) {
	s.MainSync = c
	s.wireMainSyncCompletion()
}

func (s *Sequential) emit(kind, taskID string, payload map[string]any) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(eventbus.Event{Kind: kind, TaskID: taskID, Payload: payload})
}

// Run drives the sequential loop until ctx is canceled, maxIterations is
// reached, the tracker reports complete, or an abort-strategy failure
// breaks the loop.
func (s *Sequential) Run(ctx context.Context) error {
	s.State.setRunning(true)
	defer s.State.setRunning(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.State.isPaused() {
			time.Sleep(s.PollInterval)
			continue
		}

		if s.AgentState != nil && s.AgentState.MaybeRecoverPrimary() {
			s.attemptPrimaryRecovery(ctx)
		}

		if s.MaxIterations > 0 && s.Iterations.Current() >= s.MaxIterations {
			return nil
		}

		done, err := s.Tracker.IsComplete(ctx)
		if err != nil {
			rlog.Warn("sequential: IsComplete check failed: %v", err)
		} else if done {
			return nil
		}

		t, err := s.Tracker.GetNextTask(ctx, task.Filter{ExcludeIDs: s.State.skippedIDs()})
		if err != nil || t == nil {
			time.Sleep(s.PollInterval)
			continue
		}

		if err := s.runIterationWithErrorHandling(ctx, *t); err != nil {
			if s.ErrorStrategy == StrategyAbort {
				s.emit("engine:stopped", t.ID, map[string]any{"reason": err.Error()})
				return err
			}
		}
	}
}

func (s *Sequential) attemptPrimaryRecovery(ctx context.Context) {
	primary, ok := s.Agents[s.AgentState.Primary]
	if !ok || primary == nil {
		s.emit("agent:recovery-attempted", "", map[string]any{"success": false, "reason": "no primary agent instance"})
		return
	}

	res, err := agent.Probe(ctx, primary)
	limited := s.RateLimit.Detect(ratelimit.Output{AgentID: s.AgentState.Primary, Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode})
	if err == nil && !limited.IsRateLimit {
		prevID := s.AgentID
		s.AgentState.RecoverPrimary()
		s.Agent = primary
		s.AgentID = s.AgentState.Primary
		s.emit("agent:switched", "", map[string]any{"from": prevID, "to": s.AgentID, "reason": "primary-recovered"})
		s.emit("agent:recovery-attempted", "", map[string]any{"success": true})
	} else {
		s.emit("agent:recovery-attempted", "", map[string]any{"success": false})
	}
}

// switchAgent swaps the active agent to id, returning an error if no
// instance was registered for it.
func (s *Sequential) switchAgent(id string) error {
	next, ok := s.Agents[id]
	if !ok || next == nil {
		return fmt.Errorf("no agent instance registered for fallback id %q", id)
	}
	s.Agent = next
	s.AgentID = id
	return nil
}

// runIterationWithErrorHandling dispatches one iteration and applies the
// configured error strategy on failure.
func (s *Sequential) runIterationWithErrorHandling(ctx context.Context, t task.Task) error {
	var lastErr error
	attempts := 0
	for {
		iterNum := s.Iterations.Next()
		err := s.runIteration(ctx, t, iterNum, attempts)
		if err == nil {
			return nil
		}
		lastErr = err
		attempts++

		switch s.ErrorStrategy {
		case StrategyAbort:
			_ = s.Tracker.UpdateTaskStatus(ctx, t.ID, task.StatusOpen)
			return lastErr
		case StrategySkip:
			s.emit("iteration:skipped", t.ID, map[string]any{"reason": lastErr.Error()})
			_ = s.Tracker.UpdateTaskStatus(ctx, t.ID, task.StatusOpen)
			s.State.addSkipped(t.ID)
			return nil
		default: // StrategyRetry
			if attempts > s.MaxRetries {
				if _, isRateLimit := rlerr.IsRateLimitError(lastErr); isRateLimit && s.AgentState != nil {
					transition, nextID := s.AgentState.MaybeFallback(t.ID, attempts)
					switch transition {
					case agentstate.TransitionFallback:
						prevID := s.AgentID
						if serr := s.switchAgent(nextID); serr != nil {
							rlog.Warn("sequential: fallback to %s failed: %v", nextID, serr)
						} else {
							s.emit("agent:switched", t.ID, map[string]any{"from": prevID, "to": nextID, "reason": "rate-limited"})
							attempts = 0
							continue
						}
					case agentstate.TransitionAllLimited:
						s.emit("agent:all-limited", t.ID, map[string]any{"lastError": lastErr.Error()})
						_ = s.Tracker.UpdateTaskStatus(ctx, t.ID, task.StatusBlocked)
						s.emit("task:blocked", t.ID, map[string]any{"reason": "all agents rate-limited"})
						return nil
					}
				}
				s.emit("iteration:skipped", t.ID, map[string]any{"reason": "retries exhausted: " + lastErr.Error()})
				_ = s.Tracker.UpdateTaskStatus(ctx, t.ID, task.StatusOpen)
				s.State.addSkipped(t.ID)
				return nil
			}
			_ = waiter.Sleep(ctx, s.RetryDelay, nil)
		}
	}
}

// runIteration covers one full pass: set in_progress, build prompt,
// execute with streaming callbacks, detect rate-limit/completion, run
// commit-recovery, gate on main-sync, persist state, emit
// iteration:completed.
func (s *Sequential) runIteration(ctx context.Context, t task.Task, iterNum, attempt int) error {
	if err := s.Tracker.UpdateTaskStatus(ctx, t.ID, task.StatusInProgress); err != nil {
		return fmt.Errorf("marking in_progress: %w", err)
	}

	prompt := t.Description
	if s.BuildPrompt != nil {
		if rendered, err := s.BuildPrompt(ctx, t, ""); err == nil {
			prompt = rendered
		} else {
			rlog.Warn("prompt render failed for %s, using tolerant fallback: %v", t.ID, err)
		}
	}

	rec := IterationRecord{Number: iterNum, TaskID: t.ID, AgentID: s.AgentID, StartedAt: time.Now()}

	handle, err := s.Agent.Execute(ctx, prompt, nil, agent.ExecOptions{
		Cwd: s.RepoPath,
		OnStdout: func(chunk []byte) {
			s.emit("agent:output", t.ID, map[string]any{"delta": string(chunk)})
		},
	})
	if err != nil {
		rec.EndedAt = time.Now()
		rec.Outcome = "error"
		rec.Err = err.Error()
		s.State.recordIteration(rec)
		return err
	}
	res := <-handle.Done
	rec.EndedAt = time.Now()

	if s.RateLimit != nil {
		limited := s.RateLimit.Detect(ratelimit.Output{AgentID: s.AgentID, Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode})
		if limited.IsRateLimit {
			rec.Outcome = "rate-limited"
			s.State.recordIteration(rec)
			if s.AgentState != nil {
				s.AgentState.RecordRateLimit(t.ID)
			}
			s.emit("iteration:rate-limited", t.ID, map[string]any{"agent": s.AgentID, "retryAfterMs": limited.RetryAfter.Milliseconds()})
			delay := limited.RetryAfter
			if delay <= 0 && s.AgentState != nil {
				delay = s.AgentState.Backoff(0, attempt)
			}
			_ = waiter.Sleep(ctx, delay, nil)
			return &rlerr.RateLimitError{Agent: s.AgentID, RetryAfter: int(limited.RetryAfter.Seconds()), Message: limited.Message}
		}
	}

	if res.Err != nil {
		rec.Outcome = "error"
		rec.Err = res.Err.Error()
		s.State.recordIteration(rec)
		return res.Err
	}

	if recovery.SignaledCompletion(res.Stdout) {
		if s.Recovery != nil {
			outcome, rerr := s.Recovery.MaybeRecover(ctx, s.Agent, prompt, res.Stdout, 0)
			if rerr != nil {
				rec.Outcome = "blocked"
				rec.Err = rerr.Error()
				s.State.recordIteration(rec)
				_ = s.Tracker.UpdateTaskStatus(ctx, t.ID, task.StatusBlocked)
				s.emit("task:blocked", t.ID, map[string]any{"recoveryAttemptCount": outcome.RecoveryAttemptCount})
				return nil
			}
		}

		if s.MainSync != nil {
			head, herr := gitutil.New(s.RepoPath).HeadCommit(ctx, s.RepoPath)
			if herr == nil {
				if syncOutcome, serr := s.MainSync.Sync(ctx, t.ID, []string{head}); serr != nil {
					rec.Outcome = "blocked"
					rec.Err = serr.Error()
					s.State.recordIteration(rec)
					_ = s.Tracker.UpdateTaskStatus(ctx, t.ID, task.StatusBlocked)
					if merr := s.Tracker.MarkTaskPendingMain(ctx, t.ID, 1, []string{head}); merr != nil {
						rlog.Warn("sequential: marking %s pending-main: %v", t.ID, merr)
					}
					s.emit("main-sync:failed", t.ID, map[string]any{"outcome": string(syncOutcome)})
					return nil
				}
				s.emit("main-sync:succeeded", t.ID, nil)
			}
		}

		if err := s.Tracker.CompleteTask(ctx, t.ID, "completed"); err != nil {
			return fmt.Errorf("completing task: %w", err)
		}
		s.State.incTasksCompleted()
		rec.Outcome = "completed"
		s.State.recordIteration(rec)
		s.emit("task:completed", t.ID, nil)
		s.emit("iteration:completed", t.ID, map[string]any{"iteration": iterNum})
		return nil
	}

	// No completion signal yet: the task stays in_progress for the next
	// iteration to continue the conversation.
	rec.Outcome = "in-progress"
	s.State.recordIteration(rec)
	s.emit("iteration:completed", t.ID, map[string]any{"iteration": iterNum})
	return nil
}

// Status returns a lock-free snapshot of the run state.
func (s *Sequential) Status() Snapshot { return s.State.Snapshot() }
