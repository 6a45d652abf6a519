// Package engine hosts the Sequential Engine (C9) and Parallel Engine
// (C10): the two run-loop shapes that drive agent iterations against a
// Tracker. Grounded on the upstream runner's cmd/main.go CmdRunner
// construction/signal-wiring order and handlers/recovery.go's
// retry/skip/abort iteration-error shape.
package engine

import (
	"sync"
	"time"
)

// ErrorStrategy selects how a failed iteration is handled. The three
// strategies are mutually exclusive per run.
type ErrorStrategy string

const (
	StrategyRetry ErrorStrategy = "retry"
	StrategySkip  ErrorStrategy = "skip"
	StrategyAbort ErrorStrategy = "abort"
)

// Config configures one engine run.
type Config struct {
	MaxIterations     int
	MaxRetries        int
	RetryDelay        time.Duration
	ErrorStrategy     ErrorStrategy
	RecoverPrimaryBetweenIterations bool
}

// IterationRecord is one finished iteration's summary, appended to
// State.Iterations.
type IterationRecord struct {
	Number     int
	TaskID     string
	AgentID    string
	Outcome    string // "completed", "in-progress", "blocked", "rate-limited", "error"
	StartedAt  time.Time
	EndedAt    time.Time
	Err        string
}

// State is the engine's mutable run state. Copy-on-read via Snapshot,
// matching the upstream runner's models/app_state.go pattern.
type State struct {
	mu             sync.RWMutex
	Running        bool
	Paused         bool
	CurrentIter    int
	TasksCompleted int
	Iterations     []IterationRecord
	SkippedTasks   map[string]bool
}

// NewState returns a zeroed, ready-to-use State.
func NewState() *State {
	return &State{SkippedTasks: make(map[string]bool)}
}

// Snapshot is a point-in-time, lock-free copy of State for callers (e.g.
// the event bridge) that must not hold State's lock.
type Snapshot struct {
	Running        bool
	Paused         bool
	CurrentIter    int
	TasksCompleted int
	Iterations     []IterationRecord
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iters := make([]IterationRecord, len(s.Iterations))
	copy(iters, s.Iterations)
	return Snapshot{
		Running:        s.Running,
		Paused:         s.Paused,
		CurrentIter:    s.CurrentIter,
		TasksCompleted: s.TasksCompleted,
		Iterations:     iters,
	}
}

func (s *State) setPaused(p bool) {
	s.mu.Lock()
	s.Paused = p
	s.mu.Unlock()
}

func (s *State) isPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Paused
}

func (s *State) setRunning(r bool) {
	s.mu.Lock()
	s.Running = r
	s.mu.Unlock()
}

func (s *State) recordIteration(rec IterationRecord) {
	s.mu.Lock()
	s.Iterations = append(s.Iterations, rec)
	s.mu.Unlock()
}

func (s *State) incTasksCompleted() {
	s.mu.Lock()
	s.TasksCompleted++
	s.mu.Unlock()
}

func (s *State) addSkipped(taskID string) {
	s.mu.Lock()
	s.SkippedTasks[taskID] = true
	s.mu.Unlock()
}

func (s *State) skippedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.SkippedTasks))
	for id := range s.SkippedTasks {
		ids = append(ids, id)
	}
	return ids
}

// SetPaused toggles pause; the run loop polls this every PollInterval.
func (s *State) SetPaused(p bool) { s.setPaused(p) }
