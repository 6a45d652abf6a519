package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIterationCounterMonotonic(t *testing.T) {
	c := &IterationCounter{}
	require.Equal(t, 1, c.Next())
	require.Equal(t, 2, c.Next())
	require.Equal(t, 2, c.Current())
}

func TestStateSnapshotIsIndependentCopy(t *testing.T) {
	s := NewState()
	s.recordIteration(IterationRecord{Number: 1, TaskID: "t1"})
	snap := s.Snapshot()
	require.Len(t, snap.Iterations, 1)

	s.recordIteration(IterationRecord{Number: 2, TaskID: "t2"})
	require.Len(t, snap.Iterations, 1, "snapshot must not see later mutations")
}

func TestStateSkippedTasksTracked(t *testing.T) {
	s := NewState()
	s.addSkipped("t1")
	s.addSkipped("t2")
	ids := s.skippedIDs()
	require.ElementsMatch(t, []string{"t1", "t2"}, ids)
}

func TestStatePauseToggle(t *testing.T) {
	s := NewState()
	require.False(t, s.isPaused())
	s.SetPaused(true)
	require.True(t, s.isPaused())
}
