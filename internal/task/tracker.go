package task

import "context"

// Tracker is the abstract capability the engine drives. Concrete trackers
// (beads, linear, jira, ...) live outside this module; ClaimTask and
// ReleaseTask are optional — a Tracker that doesn't support atomic
// claiming can leave them as no-ops and implement ClaimCapable with
// SupportsClaim returning false; the coordinator then falls back to a
// status-transition claim (see coordinator.Coordinator.nextClaimedTask).
type Tracker interface {
	Sync(ctx context.Context) error
	GetTasks(ctx context.Context, f Filter) ([]Task, error)
	GetNextTask(ctx context.Context, f Filter) (*Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status Status) error
	CompleteTask(ctx context.Context, id, reason string) error
	IsComplete(ctx context.Context) (bool, error)

	// ClaimTask atomically assigns a task to a worker. Returns false,nil
	// if the task could not be claimed (e.g. another worker holds it); the
	// coordinator treats that as "not claimed" and does not fall back to
	// UpdateTaskStatus. Trackers without atomic claiming say so through
	// ClaimCapable instead.
	ClaimTask(ctx context.Context, id, workerID string) (bool, error)
	ReleaseTask(ctx context.Context, id, reason string) error

	MarkTaskPendingMain(ctx context.Context, id string, count int, commits []string) error
	ClearPendingMain(ctx context.Context, id, reason string) error

	GetTemplate(ctx context.Context) (string, error)
	GetPRDContext(ctx context.Context) (string, error)
}

// SupportsClaim reports whether a Tracker implements real atomic claiming
// rather than the no-op fallback. Trackers may implement this optional
// interface to let callers skip the status-transition fallback entirely.
type ClaimCapable interface {
	SupportsClaim() bool
}
