package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryTrackerClaimTask(t *testing.T) {
	tr := NewMemoryTracker([]Task{{ID: "T1", Status: StatusOpen}}, "")
	ctx := context.Background()

	ok, err := tr.ClaimTask(ctx, "T1", "worker-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Second claim of the same task must fail — only one worker owns it.
	ok, err = tr.ClaimTask(ctx, "T1", "worker-2")
	require.NoError(t, err)
	require.False(t, ok)

	tasks, err := tr.GetTasks(ctx, Filter{Status: []Status{StatusInProgress}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, StatusInProgress, tasks[0].Status)
}

func TestMemoryTrackerSkipResetsToOpen(t *testing.T) {
	tr := NewMemoryTracker([]Task{{ID: "T1", Status: StatusOpen}}, "")
	ctx := context.Background()

	ok, err := tr.ClaimTask(ctx, "T1", "worker-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tr.UpdateTaskStatus(ctx, "T1", StatusOpen))

	next, err := tr.GetNextTask(ctx, Filter{})
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, "T1", next.ID)
}

func TestMemoryTrackerPendingMain(t *testing.T) {
	tr := NewMemoryTracker([]Task{{ID: "T1", Status: StatusInProgress}}, "")
	ctx := context.Background()

	require.NoError(t, tr.MarkTaskPendingMain(ctx, "T1", 2, []string{"abc", "def"}))
	rec, ok := tr.PendingMain("T1")
	require.True(t, ok)
	require.Equal(t, 2, rec.CommitCount)

	require.NoError(t, tr.CompleteTask(ctx, "T1", "synced"))
	_, ok = tr.PendingMain("T1")
	require.False(t, ok, "CompleteTask must clear any pending-main record")
}

func TestMemoryTrackerIsComplete(t *testing.T) {
	tr := NewMemoryTracker([]Task{{ID: "T1", Status: StatusOpen}}, "")
	ctx := context.Background()

	done, err := tr.IsComplete(ctx)
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, tr.UpdateTaskStatus(ctx, "T1", StatusCompleted))
	done, err = tr.IsComplete(ctx)
	require.NoError(t, err)
	require.True(t, done)
}
