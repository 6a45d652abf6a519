package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ralphd/internal/task"
)

func TestDerivedCommitMessageTruncatesTitle(t *testing.T) {
	long := "this is a very long title that definitely exceeds sixty characters in length"
	msg := derivedCommitMessage(task.Task{ID: "task-1", Title: long})
	require.Equal(t, "task-1: "+long[:60], msg)
}

func TestDerivedCommitMessageShortTitle(t *testing.T) {
	msg := derivedCommitMessage(task.Task{ID: "task-2", Title: "fix bug"})
	require.Equal(t, "task-2: fix bug", msg)
}

func TestWorkerBusyTransitions(t *testing.T) {
	w := &Worker{ID: "worker-1"}
	require.False(t, w.isBusy())
	w.setBusy(true)
	require.True(t, w.isBusy())
	w.setBusy(false)
	require.False(t, w.isBusy())
}

func TestWorkerBaseCommitRoundTrip(t *testing.T) {
	w := &Worker{ID: "worker-1"}
	w.SetBaseCommit("abc123")
	require.Equal(t, "abc123", w.getBaseCommit())
}

func TestFindIdleWorkerSkipsBusy(t *testing.T) {
	busy := &Worker{ID: "worker-1"}
	busy.setBusy(true)
	idle := &Worker{ID: "worker-2"}
	c := &Coordinator{Workers: []*Worker{busy, idle}}
	require.Same(t, idle, c.findIdleWorker())
}
