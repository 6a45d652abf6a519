package agentstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMaybeFallbackSwitchesToNextAgent(t *testing.T) {
	m := New("claude", []string{"codex", "opencode"}, 2, 1000, false)
	tr, next := m.MaybeFallback("task-1", 0)
	require.Equal(t, TransitionNone, tr)
	require.Empty(t, next)

	tr, next = m.MaybeFallback("task-1", 2)
	require.Equal(t, TransitionFallback, tr)
	require.Equal(t, "codex", next)
	require.Equal(t, "codex", m.Current())
}

func TestMaybeFallbackAllLimited(t *testing.T) {
	m := New("claude", []string{"codex"}, 1, 1000, false)
	m.RecordRateLimit("task-1") // marks "claude" limited
	tr, _ := m.MaybeFallback("task-1", 1)
	require.Equal(t, TransitionFallback, tr)
	require.Equal(t, "codex", m.Current())

	m.RecordRateLimit("task-1") // marks "codex" limited too
	tr, next := m.MaybeFallback("task-1", 1)
	require.Equal(t, TransitionAllLimited, tr)
	require.Empty(t, next)
}

func TestRecoverPrimaryClearsRateLimitedSet(t *testing.T) {
	m := New("claude", []string{"codex"}, 1, 1000, true)
	m.RecordRateLimit("task-1")
	m.current = "codex"
	require.True(t, m.MaybeRecoverPrimary())
	m.RecoverPrimary()
	require.Equal(t, "claude", m.Current())
	require.False(t, m.IsRateLimitedForTask("task-1", "claude"))
}

func TestBackoffPrefersRetryAfter(t *testing.T) {
	m := New("claude", nil, 2, 1000, false)
	require.Equal(t, 5*time.Second, m.Backoff(5*time.Second, 3))
	require.Equal(t, 1000*time.Millisecond, m.Backoff(0, 0))
	require.Equal(t, 3000*time.Millisecond, m.Backoff(0, 1))
	require.Equal(t, 9000*time.Millisecond, m.Backoff(0, 2))
}
