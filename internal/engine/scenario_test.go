package engine

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ralphd/internal/agent"
	"ralphd/internal/agentstate"
	"ralphd/internal/eventbus"
	"ralphd/internal/mainsync"
	"ralphd/internal/task"
)

// scriptedAgent is a fake agent.Agent that replays a fixed sequence of
// Results, one per Execute call, holding on the last entry once the
// script is exhausted. It drives the S1/S2 scenario tests end-to-end
// through the real Sequential.Run loop instead of unit-testing its
// pieces in isolation.
type scriptedAgent struct {
	id      string
	mu      sync.Mutex
	results []agent.Result
	calls   int
}

func (a *scriptedAgent) Meta() agent.Meta { return agent.Meta{ID: a.id} }
func (a *scriptedAgent) Detect(ctx context.Context) (agent.Availability, error) {
	return agent.Availability{Available: true}, nil
}
func (a *scriptedAgent) ValidateModel(ctx context.Context, name string) error { return nil }
func (a *scriptedAgent) Initialize(ctx context.Context, opts agent.InitOptions) error {
	return nil
}
func (a *scriptedAgent) Dispose() error                    { return nil }
func (a *scriptedAgent) GetSandboxRequirements() []string { return nil }

func (a *scriptedAgent) Execute(ctx context.Context, prompt string, contextFiles []string, opts agent.ExecOptions) (*agent.Handle, error) {
	a.mu.Lock()
	i := a.calls
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	a.calls++
	res := a.results[i]
	a.mu.Unlock()

	done := make(chan agent.Result, 1)
	done <- res
	return &agent.Handle{Done: done}, nil
}

// newGitRepo creates an empty, clean git repository for tests that
// exercise the recovery loop's PorcelainStatus check, so MaybeRecover
// sees a clean tree without the test having to stage real commits.
func newGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	return dir
}

// newGitRepoWithCommit is newGitRepo plus one empty commit, for tests
// whose mainsync.Controller needs a resolvable HEAD.
func newGitRepoWithCommit(t *testing.T) string {
	t.Helper()
	dir := newGitRepo(t)
	cmd := exec.Command("git", "commit", "--allow-empty", "-q", "-m", "init")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())
	return dir
}

func collectKinds(bus *eventbus.Bus) (*[]string, func(eventbus.Event)) {
	kinds := make([]string, 0)
	return &kinds, func(e eventbus.Event) { kinds = append(kinds, e.Kind) }
}

// TestScenarioS1HappyPathSingleTask drives Sequential.Run against one
// open task and an agent that completes on its first invocation,
// matching spec scenario S1.
func TestScenarioS1HappyPathSingleTask(t *testing.T) {
	repo := newGitRepo(t)
	tracker := task.NewMemoryTracker([]task.Task{{ID: "T1", Title: "Add README", Status: task.StatusOpen, Description: "write a README"}}, "")

	a := &scriptedAgent{id: "claude", results: []agent.Result{
		{Stdout: "done\n<promise>COMPLETE</promise>\n", ExitCode: 0},
	}}

	bus := eventbus.NewBus()
	kinds, listener := collectKinds(bus)
	bus.Subscribe(listener)

	seq := NewSequential(Config{MaxRetries: 2, RetryDelay: 0, ErrorStrategy: StrategyRetry}, tracker, a, "claude", repo, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, seq.Run(ctx))

	tasks, err := tracker.GetTasks(ctx, task.Filter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, task.StatusCompleted, tasks[0].Status)

	require.Contains(t, *kinds, "task:completed")
	require.Contains(t, *kinds, "iteration:completed")
	require.Equal(t, 1, a.calls)
}

// TestScenarioS2RateLimitThenFallback drives Sequential.Run with a
// primary agent that always rate-limits and a fallback agent that
// succeeds immediately, matching spec scenario S2: once MaxRetries is
// exhausted against the primary, AgentState.MaybeFallback switches the
// active agent and the task completes on the fallback.
func TestScenarioS2RateLimitThenFallback(t *testing.T) {
	repo := newGitRepo(t)
	tracker := task.NewMemoryTracker([]task.Task{{ID: "T1", Title: "Add README", Status: task.StatusOpen, Description: "write a README"}}, "")

	primary := &scriptedAgent{id: "claude", results: []agent.Result{
		{Stdout: "rate limit exceeded, try again in 0 seconds", ExitCode: 1},
	}}
	fallback := &scriptedAgent{id: "stub-b", results: []agent.Result{
		{Stdout: "done\n<promise>COMPLETE</promise>\n", ExitCode: 0},
	}}

	bus := eventbus.NewBus()
	kinds, listener := collectKinds(bus)
	bus.Subscribe(listener)

	cfg := Config{MaxRetries: 2, RetryDelay: 0, ErrorStrategy: StrategyRetry}
	seq := NewSequential(cfg, tracker, primary, "claude", repo, bus)
	seq.Agents["stub-b"] = fallback
	// BaseBackoffMs 0 and no RecoverPrimaryBetweenIterations keep this
	// test from sleeping or probing the primary back in mid-run.
	seq.AgentState = agentstate.New("claude", []string{"stub-b"}, cfg.MaxRetries, 0, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, seq.Run(ctx))

	tasks, err := tracker.GetTasks(ctx, task.Filter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, task.StatusCompleted, tasks[0].Status)

	require.Contains(t, *kinds, "agent:switched")
	require.Contains(t, *kinds, "task:completed")
	require.Equal(t, "stub-b", seq.AgentID)
	require.GreaterOrEqual(t, primary.calls, cfg.MaxRetries+1)
	require.Equal(t, 1, fallback.calls)
}

// TestScenarioS4MainSyncBlockedThenPendingMain drives Sequential.Run
// with a MainSync controller whose fast-forward target cannot be
// resolved, matching the first half of spec scenario S4: the task is
// held at blocked and recorded as pending-main with its commit, rather
// than being completed, so a later background retry can pick it up.
func TestScenarioS4MainSyncBlockedThenPendingMain(t *testing.T) {
	repo := newGitRepoWithCommit(t)
	tracker := task.NewMemoryTracker([]task.Task{{ID: "T2", Title: "Second task", Status: task.StatusOpen, Description: "do work"}}, "")

	a := &scriptedAgent{id: "claude", results: []agent.Result{
		{Stdout: "done\n<promise>COMPLETE</promise>\n", ExitCode: 0},
	}}

	bus := eventbus.NewBus()
	kinds, listener := collectKinds(bus)
	bus.Subscribe(listener)

	seq := NewSequential(Config{MaxRetries: 2, RetryDelay: 0, ErrorStrategy: StrategyRetry, MaxIterations: 1}, tracker, a, "claude", repo, bus)
	// The aux worktree path does not exist, so the controller's
	// fast-forward can never resolve HEAD there and Sync fails deterministically
	// without needing a real integration worktree.
	seq.WireMainSync(mainsync.New(repo, repo+"/does-not-exist"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, seq.Run(ctx))

	tasks, err := tracker.GetTasks(ctx, task.Filter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, task.StatusBlocked, tasks[0].Status)

	rec, ok := tracker.PendingMain("T2")
	require.True(t, ok, "task should be recorded pending-main")
	require.Equal(t, 1, rec.CommitCount)

	require.Contains(t, *kinds, "main-sync:failed")
	require.Contains(t, *kinds, "task:blocked")
	require.NotContains(t, *kinds, "task:completed")
}
