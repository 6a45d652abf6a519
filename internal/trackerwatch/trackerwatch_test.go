package trackerwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherDetectsWriteViaFsnotify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	changed := make(chan struct{}, 4)
	w := New(path, func() { changed <- struct{}{} })
	w.StaleAfter = 200 * time.Millisecond
	w.FallbackInterval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("{}\n{}\n"), 0o644))

	select {
	case <-changed:
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("expected OnChange to fire after write")
	}
}

func TestWatcherCadenceStartsLive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	w := New(path, func() {})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, CadenceLive, w.Cadence())
}
