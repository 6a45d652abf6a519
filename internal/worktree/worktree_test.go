package worktree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ralphd/internal/gitutil"
)

func TestDeriveHealthPrecedence(t *testing.T) {
	require.Equal(t, HealthPrunable, deriveHealth(gitutil.WorktreeInfo{Prunable: true, Locked: true}))
	require.Equal(t, HealthLocked, deriveHealth(gitutil.WorktreeInfo{Locked: true}))
	require.Equal(t, HealthStale, deriveHealth(gitutil.WorktreeInfo{Path: "/nonexistent/path/xyz"}))
}

func TestIsMainCheckoutExcludesOutsideRoot(t *testing.T) {
	require.True(t, isMainCheckout("/repo/worktrees", "/repo"))
	require.False(t, isMainCheckout("/repo/worktrees", "/repo/worktrees/worker-1"))
}

func TestBranchNameFormat(t *testing.T) {
	now := time.Unix(1700000000, 0)
	require.Equal(t, "worker/worker-1/1700000000", BranchName("worker-1", now))
}
