// Package task defines the Task data contract and the Tracker capability
// interface consumed by the engine. Trackers themselves are external
// collaborators (§6); this package also ships MemoryTracker, a reference
// implementation used by tests and by `ralphd run`, which always runs
// against it.
package task

import "time"

// Status is the lifecycle state of a Task within one run.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// Task is the unit of work the engine dispatches to agents.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      Status
	Priority    int
	Metadata    map[string]any
}

// Filter narrows GetTasks/GetNextTask queries.
type Filter struct {
	Status     []Status
	ExcludeIDs []string
}

// PendingMainRecord is what MarkTaskPendingMain stores about a task held
// back from completion by the main-sync controller.
type PendingMainRecord struct {
	TaskID      string
	CommitCount int
	Commits     []string
	MarkedAt    time.Time
}
