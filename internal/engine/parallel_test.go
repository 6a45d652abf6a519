package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ralphd/internal/coordinator"
	"ralphd/internal/eventbus"
	"ralphd/internal/mergequeue"
	"ralphd/internal/task"
)

// TestParallelTaskMergesCompleteCompletesTask guards against the
// coordinator.terminated() spin-forever regression: OnTaskMergesComplete
// must transition the task to completed in the Tracker, not just bump a
// local counter, since terminated() requires GetTasks(open|in_progress)
// to be empty before Parallel.Run can return.
func TestParallelTaskMergesCompleteCompletesTask(t *testing.T) {
	tracker := task.NewMemoryTracker([]task.Task{{ID: "T3", Title: "Parallel task", Status: task.StatusInProgress}}, "")
	mq := mergequeue.New("/repo", nil, nil)
	coord := coordinator.New(nil, tracker, mq, nil)

	bus := eventbus.NewBus()
	var kinds []string
	bus.Subscribe(func(e eventbus.Event) { kinds = append(kinds, e.Kind) })

	par := NewParallel(coord, bus)
	require.NotNil(t, mq.OnTaskMergesComplete)

	mq.OnTaskMergesComplete("T3")

	tasks, err := tracker.GetTasks(context.Background(), task.Filter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, task.StatusCompleted, tasks[0].Status)

	require.Contains(t, kinds, "task:completed")
	require.Contains(t, kinds, "parallel:task-merges-complete")
	require.Equal(t, 1, par.Status().TasksCompleted)
}
