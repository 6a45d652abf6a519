package lock

import (
	"context"
	"os"
	"time"

	"ralphd/internal/rlog"
)

// DefaultSweepInterval is how often Sweeper checks for a dead-pid lock.
const DefaultSweepInterval = 60 * time.Second

// Sweeper periodically deletes a lock file left behind by a dead
// process. Timestamp-based staleness is logged but never causes
// deletion on its own — only a confirmed-dead pid does, per spec.md's
// invariant.
type Sweeper struct {
	Path     string
	Interval time.Duration
}

// NewSweeper returns a Sweeper for path using DefaultSweepInterval.
func NewSweeper(path string) *Sweeper {
	return &Sweeper{Path: path, Interval: DefaultSweepInterval}
}

// Run blocks until ctx is canceled, sweeping at Interval.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	info, err := readInfo(s.Path)
	if err != nil {
		return
	}
	if isAlive(info.PID) {
		age := time.Since(info.AcquiredAt)
		if age > 24*time.Hour {
			rlog.Debug("lock %s held by live pid %d for %s (not removed, liveness wins)", s.Path, info.PID, age)
		}
		return
	}
	rlog.Info("sweeping dead-pid lock %s (pid %d no longer alive)", s.Path, info.PID)
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		rlog.Warn("failed to remove dead lock %s: %v", s.Path, err)
	}
}
