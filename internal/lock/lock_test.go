package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireWritesLockFileWhenNoneExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ralph.lock")
	l := New(path)

	err := l.Acquire(dir, "session-1", Options{NonInteractive: true})
	require.NoError(t, err)

	info, err := l.Info()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), info.PID)
	require.Equal(t, "session-1", info.SessionID)
}

func TestAcquireSucceedsWhenOwnPIDHoldsLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ralph.lock")
	require.NoError(t, writeInfo(path, Info{PID: os.Getpid(), SessionID: "other", Cwd: dir}))

	l := New(path)
	err := l.Acquire(dir, "session-2", Options{})
	require.NoError(t, err, "acquiring our own pid's lock should be a no-op success")
}

func TestAcquireCleansDeadPIDNonInteractively(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ralph.lock")
	require.NoError(t, writeInfo(path, Info{PID: 999999, SessionID: "stale"}))

	l := New(path)
	err := l.Acquire(dir, "session-3", Options{NonInteractive: true})
	require.NoError(t, err)

	info, err := l.Info()
	require.NoError(t, err)
	require.Equal(t, "session-3", info.SessionID)
}

func TestReleaseRemovesLockFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ralph.lock")
	l := New(path)
	require.NoError(t, l.Acquire(dir, "session-1", Options{NonInteractive: true}))
	require.NoError(t, l.Release())

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestIsAliveFalseForImplausiblePID(t *testing.T) {
	require.False(t, isAlive(999999))
	require.False(t, isAlive(0))
}
