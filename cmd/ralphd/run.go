package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lucasepe/codename"

	"ralphd/internal/agent"
	"ralphd/internal/agentstate"
	"ralphd/internal/config"
	"ralphd/internal/coordinator"
	"ralphd/internal/engine"
	"ralphd/internal/eventbus"
	"ralphd/internal/gitutil"
	"ralphd/internal/lock"
	"ralphd/internal/mainsync"
	"ralphd/internal/mergequeue"
	"ralphd/internal/progress"
	"ralphd/internal/promptbuild"
	"ralphd/internal/reconcile"
	"ralphd/internal/recovery"
	"ralphd/internal/rlog"
	"ralphd/internal/task"
	"ralphd/internal/trackerwatch"
	"ralphd/internal/worktree"
)

// runCommand is the `run` subcommand: acquires the single-instance lock,
// reconciles tracker state against the integration branch, constructs
// the configured engine (sequential or parallel), and drives it until
// completion, a SIGINT, or a fatal error.
type runCommand struct {
	LogLevel          string `long:"log-level" description:"log level (debug, info, warn, error)" default:"info"`
	Mode              string `long:"mode" description:"sequential or parallel" optional:"true"`
	MaxWorkers        int    `long:"max-workers" description:"worker count for parallel mode" optional:"true"`
	Agent             string `long:"agent" description:"primary agent id (claude, codex, opencode, droid)" optional:"true"`
	FallbackAgents    string `long:"fallback-agents" description:"comma-separated fallback agent ids, tried in order once the primary is rate-limited" optional:"true"`
	IntegrationBranch string `long:"integration-branch" description:"branch the merge queue and main-sync target" optional:"true"`
	MaxIterations     int    `long:"max-iterations" description:"0 means unbounded" optional:"true"`
	Force             bool   `long:"force" description:"force-acquire the lock, overriding a live holder"`
}

func (r *runCommand) Execute(args []string) error {
	setLogLevel(r.LogLevel)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	overrides := config.Overrides{}
	if r.Mode != "" {
		overrides.Mode = &r.Mode
	}
	if r.MaxWorkers > 0 {
		overrides.MaxWorkers = &r.MaxWorkers
	}
	if r.Agent != "" {
		overrides.PrimaryAgent = &r.Agent
	}
	if r.FallbackAgents != "" {
		var ids []string
		for _, part := range strings.Split(r.FallbackAgents, ",") {
			if id := strings.TrimSpace(part); id != "" {
				ids = append(ids, id)
			}
		}
		overrides.FallbackAgents = ids
	}
	if r.IntegrationBranch != "" {
		overrides.IntegrationBranch = &r.IntegrationBranch
	}
	if r.MaxIterations > 0 {
		overrides.MaxIterations = &r.MaxIterations
	}

	cfg, err := config.Load(cwd, overrides)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	stateDir := filepath.Join(cwd, ".ralph-tui")
	lockPath := filepath.Join(stateDir, "ralph.lock")
	l := lock.New(lockPath)
	sessionID := fmt.Sprintf("%s-%d", randomSessionName(), os.Getpid())
	if err := l.Acquire(cwd, sessionID, lock.Options{Force: r.Force, NonInteractive: true}); err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	defer func() {
		if err := l.Release(); err != nil {
			rlog.Warn("releasing lock: %v", err)
		}
	}()

	sweeper := lock.NewSweeper(lockPath)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sweeper.Run(sweepCtx)

	git := gitutil.New(cwd)
	taskStatePath := filepath.Join(stateDir, "tasks.json")
	tracker := task.NewMemoryTracker(nil, taskStatePath)

	if _, err := reconcile.Reconcile(context.Background(), tracker, git, cfg.IntegrationBranch, true); err != nil {
		rlog.Warn("reconciliation failed, continuing: %v", err)
	}

	eventLog, err := progress.NewEventLog(filepath.Join(stateDir, "tracker-events.jsonl"))
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	progressFile, err := progress.NewProgressFile(filepath.Join(stateDir, "progress.md"))
	if err != nil {
		return fmt.Errorf("opening progress file: %w", err)
	}
	iterWriter := progress.NewIterationWriter(filepath.Join(stateDir, "iterations"))

	bus := eventbus.NewBus()
	bus.Subscribe(func(e eventbus.Event) {
		eventLog.Append(e.Kind, e.TaskID, e.Payload)
		if e.Kind == "task:completed" || e.Kind == "parallel:task-merges-complete" {
			progressFile.Append(fmt.Sprintf("Task %s completed.", e.TaskID))
		}
	})
	bridge := eventbus.NewBridge(bus)
	bridge.Start()
	defer bridge.Stop()

	registry := agent.NewRegistry()
	agent.RegisterDefaults(registry)
	primary, err := registry.Create(cfg.PrimaryAgent, "", "acceptEdits")
	if err != nil {
		return fmt.Errorf("creating primary agent: %w", err)
	}

	// One agent instance per id in the fallback chain, so MaybeFallback
	// transitions have a real instance to swap to instead of just a name.
	agents := map[string]agent.Agent{cfg.PrimaryAgent: primary}
	for _, id := range cfg.FallbackAgents {
		a, err := registry.Create(id, "", "acceptEdits")
		if err != nil {
			return fmt.Errorf("creating fallback agent %q: %w", id, err)
		}
		agents[id] = a
	}

	watcher := trackerwatch.New(taskStatePath, func() {
		if err := tracker.Sync(context.Background()); err != nil {
			rlog.Warn("tracker sync after change notification failed: %v", err)
		}
	})
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	go func() {
		if err := watcher.Run(watchCtx); err != nil && watchCtx.Err() == nil {
			rlog.Warn("tracker watcher stopped: %v", err)
		}
	}()

	runCtx, stop := signalContext()
	defer stop()

	iterations := 0
	onSummary := func(taskID, outcome string) {
		iterations++
		iterWriter.WriteSummary(iterations, map[string]any{"taskId": taskID, "outcome": outcome})
	}
	bus.Subscribe(func(e eventbus.Event) {
		switch e.Kind {
		case "task:completed", "task:blocked", "iteration:skipped":
			onSummary(e.TaskID, e.Kind)
		}
	})

	if cfg.Mode == "parallel" {
		return runParallel(runCtx, cfg, cwd, tracker, registry, bus)
	}
	return runSequential(runCtx, cfg, cwd, tracker, agents, bus)
}

func runSequential(ctx context.Context, cfg config.Config, cwd string, tracker task.Tracker, agents map[string]agent.Agent, bus *eventbus.Bus) error {
	seq := engine.NewSequential(cfg.Engine, tracker, agents[cfg.PrimaryAgent], cfg.PrimaryAgent, cwd, bus)
	seq.Agents = agents
	seq.AgentState = agentstate.New(cfg.PrimaryAgent, cfg.FallbackAgents, cfg.Engine.MaxRetries, 2000, cfg.Engine.RecoverPrimaryBetweenIterations)
	seq.WireMainSync(mainsync.New(cwd, filepath.Join(cwd, "worktrees", "main-sync-aux")))
	seq.BuildPrompt = func(ctx context.Context, t task.Task, recentProgress string) (string, error) {
		return promptbuild.SequentialPrompt(t, nil, recentProgress), nil
	}

	rlog.Info("ralphd running in sequential mode with agent %s", cfg.PrimaryAgent)
	return seq.Run(ctx)
}

func runParallel(ctx context.Context, cfg config.Config, cwd string, tracker task.Tracker, registry *agent.Registry, bus *eventbus.Bus) error {
	wtMgr := worktree.New(cwd, filepath.Join(cwd, "worktrees"))

	specs := make([]worktree.CreateSpec, cfg.MaxWorkers)
	for i := range specs {
		workerID := fmt.Sprintf("worker-%d", i+1)
		specs[i] = worktree.CreateSpec{
			WorkerID: workerID,
			Path:     filepath.Join(cwd, "worktrees", workerID),
			Branch:   worktree.BranchName(workerID, time.Now()),
			BaseRef:  cfg.IntegrationBranch,
		}
	}
	records, err := wtMgr.CreateWorktrees(ctx, specs)
	if err != nil {
		return fmt.Errorf("creating worker worktrees: %w", err)
	}

	resolverAgent, err := registry.Create(cfg.PrimaryAgent, "", "acceptEdits")
	if err != nil {
		return fmt.Errorf("creating merge-conflict resolver agent: %w", err)
	}
	mq := mergequeue.New(cwd, wtMgr, mergequeue.AgentResolver(resolverAgent, recovery.SignaledCompletion))

	mqCtx, mqCancel := context.WithCancel(ctx)
	defer mqCancel()
	go mq.Run(mqCtx)

	workers := make([]*coordinator.Worker, len(records))
	for i, rec := range records {
		a, err := registry.Create(cfg.PrimaryAgent, "", "acceptEdits")
		if err != nil {
			return fmt.Errorf("creating agent for %s: %w", rec.WorkerID, err)
		}
		workers[i] = &coordinator.Worker{ID: rec.WorkerID, WorktreePath: rec.Path, Agent: a}
	}

	coord := coordinator.New(workers, tracker, mq, func(t task.Task) string {
		return promptbuild.ParallelPrompt(t, promptbuild.ImpactPlan{})
	})
	par := engine.NewParallel(coord, bus)

	rlog.Info("ralphd running in parallel mode with %d workers", len(workers))
	err = par.Run(ctx)

	for _, rec := range records {
		if rmErr := wtMgr.RemoveWorktree(context.Background(), rec.WorkerID, rec.Path, false); rmErr != nil {
			rlog.Warn("removing worker worktree %s: %v", rec.Path, rmErr)
		}
	}

	return err
}

// randomSessionName generates a human-readable adjective-animal name for
// the lock's sessionId field, so a stale-lock message ("held by session
// quiet-falcon-482") reads better than a bare pid. Falls back to "ralphd"
// if the RNG can't be seeded.
func randomSessionName() string {
	rng, err := codename.DefaultRNG()
	if err != nil {
		return "ralphd"
	}
	return codename.Generate(rng, 0)
}

// signalContext returns a context canceled on the first SIGINT/SIGTERM;
// a second signal forces immediate exit, matching the upstream runner's
// interrupt handling but extended to a hard second-signal exit since
// ralphd's engine loop may not always observe ctx.Done() promptly
// between agent invocations.
func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		count := 0
		for range sigCh {
			count++
			if count == 1 {
				rlog.Info("received interrupt, requesting stop (press again to force exit)")
				cancel()
				continue
			}
			rlog.Warn("received second interrupt, forcing exit")
			os.Exit(130)
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(sigCh)
		cancel()
	}
}
