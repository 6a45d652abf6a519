// Package trackerwatch is the Tracker Change Watcher (C3): it notices
// when the tracker's backing file changes outside of ralphd itself (a
// human editing tasks, another process completing one) and coalesces
// those notifications into a single OnChange callback. Grounded on the
// upstream runner's handlers/dispatcher.go coalescing-channel idiom,
// extended with github.com/fsnotify/fsnotify for the live cadence and a
// time.Ticker fallback for filesystems where fsnotify can't watch.
package trackerwatch

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ralphd/internal/rlog"
)

// Cadence names which mechanism is currently driving change detection.
type Cadence string

const (
	CadenceLive     Cadence = "live"
	CadenceFallback Cadence = "fallback"
	CadenceStale    Cadence = "stale"
)

// DefaultFallbackInterval is the ticker period used when fsnotify is
// unavailable or has gone quiet.
const DefaultFallbackInterval = 5 * time.Second

// DefaultStaleAfter is how long a live watch can go without an event
// before it's demoted to fallback cadence.
const DefaultStaleAfter = 10 * time.Second

// Watcher watches one tracker persistence file for changes.
type Watcher struct {
	Path             string
	FallbackInterval time.Duration
	StaleAfter       time.Duration
	OnChange         func()

	mu      sync.Mutex
	cadence Cadence

	pending chan struct{}
}

// New returns a Watcher for path with the documented default cadences.
func New(path string, onChange func()) *Watcher {
	return &Watcher{
		Path:             path,
		FallbackInterval: DefaultFallbackInterval,
		StaleAfter:       DefaultStaleAfter,
		OnChange:         onChange,
		pending:          make(chan struct{}, 1),
	}
}

// Cadence reports which mechanism is currently active.
func (w *Watcher) Cadence() Cadence {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cadence
}

func (w *Watcher) setCadence(c Cadence) {
	w.mu.Lock()
	changed := w.cadence != c
	w.cadence = c
	w.mu.Unlock()
	if changed {
		rlog.Debug("tracker watcher cadence -> %s", c)
	}
}

// Run blocks until ctx is canceled, driving change detection and
// invoking OnChange (via a single coalescing worker) whenever the
// tracker file is touched.
func (w *Watcher) Run(ctx context.Context) error {
	go w.drain(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		rlog.Warn("fsnotify unavailable (%v), using fallback ticker only", err)
		return w.runFallbackOnly(ctx)
	}
	defer watcher.Close()

	if err := watcher.Add(w.Path); err != nil {
		rlog.Warn("fsnotify.Add(%s) failed (%v), using fallback ticker only", w.Path, err)
		return w.runFallbackOnly(ctx)
	}

	w.setCadence(CadenceLive)
	staleTimer := time.NewTimer(w.staleAfter())
	defer staleTimer.Stop()

	fallback := time.NewTicker(w.fallbackInterval())
	defer fallback.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.setCadence(CadenceLive)
				resetTimer(staleTimer, w.staleAfter())
				w.notify()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			rlog.Warn("fsnotify error watching %s: %v", w.Path, err)
		case <-staleTimer.C:
			w.setCadence(CadenceFallback)
		case <-fallback.C:
			if w.Cadence() != CadenceLive {
				w.notify()
			}
		}
	}
}

func (w *Watcher) runFallbackOnly(ctx context.Context) error {
	w.setCadence(CadenceStale)
	ticker := time.NewTicker(w.fallbackInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.notify()
		}
	}
}

// notify enqueues a refresh without blocking; bursts collapse to one
// pending signal per the coalescing-channel design.
func (w *Watcher) notify() {
	select {
	case w.pending <- struct{}{}:
	default:
	}
}

func (w *Watcher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.pending:
			if w.OnChange != nil {
				w.OnChange()
			}
		}
	}
}

func (w *Watcher) fallbackInterval() time.Duration {
	if w.FallbackInterval > 0 {
		return w.FallbackInterval
	}
	return DefaultFallbackInterval
}

func (w *Watcher) staleAfter() time.Duration {
	if w.StaleAfter > 0 {
		return w.StaleAfter
	}
	return DefaultStaleAfter
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
