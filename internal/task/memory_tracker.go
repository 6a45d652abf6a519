package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// MemoryTracker is a reference Tracker backed by an in-memory map with
// optional JSON snapshot persistence (see Sync), the same copy-on-read-under-mutex shape as
// the upstream runner's AppState (models/app_state.go): a single RWMutex
// guards the map, and every read returns a defensive copy so callers can
// never observe (or corrupt) tracker-owned state through an alias.
type MemoryTracker struct {
	mu          sync.RWMutex
	tasks       map[string]*Task
	pendingMain map[string]*PendingMainRecord
	statePath   string
	template    string
	prdContext  string
}

// NewMemoryTracker creates a tracker seeded with the given tasks. statePath,
// if non-empty, is where Sync persists a snapshot as JSON.
func NewMemoryTracker(seed []Task, statePath string) *MemoryTracker {
	t := &MemoryTracker{
		tasks:       make(map[string]*Task, len(seed)),
		pendingMain: make(map[string]*PendingMainRecord),
		statePath:   statePath,
	}
	for i := range seed {
		cp := seed[i]
		t.tasks[cp.ID] = &cp
	}
	return t
}

// SetTemplate sets the prompt template returned by GetTemplate.
func (t *MemoryTracker) SetTemplate(tmpl string) { t.template = tmpl }

// SetPRDContext sets the PRD context returned by GetPRDContext.
func (t *MemoryTracker) SetPRDContext(ctx string) { t.prdContext = ctx }

func (t *MemoryTracker) Sync(ctx context.Context) error {
	if t.statePath == "" {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, err := json.MarshalIndent(t.tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tracker state: %w", err)
	}
	if err := os.WriteFile(t.statePath, b, 0o644); err != nil {
		return fmt.Errorf("persist tracker state: %w", err)
	}
	return nil
}

func (t *MemoryTracker) GetTasks(ctx context.Context, f Filter) ([]Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	excluded := make(map[string]bool, len(f.ExcludeIDs))
	for _, id := range f.ExcludeIDs {
		excluded[id] = true
	}
	var wantStatus map[Status]bool
	if len(f.Status) > 0 {
		wantStatus = make(map[Status]bool, len(f.Status))
		for _, s := range f.Status {
			wantStatus[s] = true
		}
	}

	out := make([]Task, 0, len(t.tasks))
	for id, tk := range t.tasks {
		if excluded[id] {
			continue
		}
		if wantStatus != nil && !wantStatus[tk.Status] {
			continue
		}
		out = append(out, *tk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *MemoryTracker) GetNextTask(ctx context.Context, f Filter) (*Task, error) {
	if len(f.Status) == 0 {
		f.Status = []Status{StatusOpen}
	}
	tasks, err := t.GetTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	// Highest priority first, then lowest ID for determinism.
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].ID < tasks[j].ID
	})
	picked := tasks[0]
	return &picked, nil
}

func (t *MemoryTracker) UpdateTaskStatus(ctx context.Context, id string, status Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	tk.Status = status
	return nil
}

func (t *MemoryTracker) CompleteTask(ctx context.Context, id, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	tk.Status = StatusCompleted
	delete(t.pendingMain, id)
	return nil
}

func (t *MemoryTracker) IsComplete(ctx context.Context) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, tk := range t.tasks {
		if tk.Status == StatusOpen || tk.Status == StatusInProgress {
			return false, nil
		}
	}
	return true, nil
}

// ClaimTask atomically transitions a task from open to in_progress,
// returning false if it wasn't open (already claimed, or doesn't exist).
func (t *MemoryTracker) ClaimTask(ctx context.Context, id, workerID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[id]
	if !ok || tk.Status != StatusOpen {
		return false, nil
	}
	tk.Status = StatusInProgress
	if tk.Metadata == nil {
		tk.Metadata = map[string]any{}
	}
	tk.Metadata["claimedBy"] = workerID
	tk.Metadata["claimedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	return true, nil
}

func (t *MemoryTracker) ReleaseTask(ctx context.Context, id, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tk, ok := t.tasks[id]; ok {
		delete(tk.Metadata, "claimedBy")
	}
	return nil
}

func (t *MemoryTracker) MarkTaskPendingMain(ctx context.Context, id string, count int, commits []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tasks[id]; !ok {
		return fmt.Errorf("task %s not found", id)
	}
	t.pendingMain[id] = &PendingMainRecord{
		TaskID:      id,
		CommitCount: count,
		Commits:     commits,
		MarkedAt:    time.Now(),
	}
	return nil
}

func (t *MemoryTracker) ClearPendingMain(ctx context.Context, id, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pendingMain, id)
	return nil
}

// PendingMain returns a copy of the current pending-main record for id, if any.
func (t *MemoryTracker) PendingMain(id string) (PendingMainRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.pendingMain[id]
	if !ok {
		return PendingMainRecord{}, false
	}
	return *rec, true
}

func (t *MemoryTracker) GetTemplate(ctx context.Context) (string, error)    { return t.template, nil }
func (t *MemoryTracker) GetPRDContext(ctx context.Context) (string, error) { return t.prdContext, nil }

var _ Tracker = (*MemoryTracker)(nil)
