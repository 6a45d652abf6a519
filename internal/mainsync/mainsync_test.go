package mainsync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkPendingAndPending(t *testing.T) {
	c := New("/repo", "/repo/aux")
	c.markPending("task-1", []string{"abc123", "def456"})

	pending := c.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "task-1", pending[0].TaskID)
	require.Equal(t, 2, pending[0].CommitCount)
}

func TestIsEmptyInitially(t *testing.T) {
	c := New("/repo", "/repo/aux")
	require.True(t, c.isEmpty())
	c.markPending("task-1", nil)
	require.False(t, c.isEmpty())
}

func TestMaybeAlertFiresOnceUntilCleared(t *testing.T) {
	c := New("/repo", "/repo/aux")
	count := 0
	c.OnAlert = func(n int) { count++ }
	c.markPending("task-1", nil)

	c.maybeAlert()
	c.maybeAlert()
	require.Equal(t, 1, count)

	c.flushPending()
	c.markPending("task-2", nil)
	c.maybeAlert()
	require.Equal(t, 2, count)
}

// TestFlushPendingInvokesOnSynced covers the wiring spec scenario S4
// depends on: once the pending set clears, every held-back task id must
// reach OnSynced so the caller can complete it in the tracker.
func TestFlushPendingInvokesOnSynced(t *testing.T) {
	c := New("/repo", "/repo/aux")
	var synced []string
	c.OnSynced = func(ids []string) { synced = ids }

	c.markPending("T2", []string{"abc123"})
	require.False(t, c.isEmpty())

	c.flushPending()

	require.Equal(t, []string{"T2"}, synced)
	require.True(t, c.isEmpty())
}
