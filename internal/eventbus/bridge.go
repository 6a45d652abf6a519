package eventbus

import (
	"sync"
	"time"
)

// FlushInterval is how often coalesced agent-output deltas are flushed
// to the Bridge's listeners.
const FlushInterval = 50 * time.Millisecond

// OutputCap is the maximum retained tail of one task's streamed agent
// output, a sliding window trimmed from the front as new bytes arrive.
const OutputCap = 500_000

// Bridge sits between the raw Bus and UI-facing listeners, coalescing
// "agent:output" deltas per task into one flush per FlushInterval instead
// of one event per stdout line, and retaining only the most recent
// OutputCap bytes per task.
type Bridge struct {
	bus      *Bus
	interval time.Duration
	cap      int

	mu      sync.Mutex
	pending map[string][]byte // taskID -> buffered delta since last flush
	tail    map[string][]byte // taskID -> retained sliding tail

	stop chan struct{}
}

// NewBridge returns a Bridge publishing coalesced output onto bus.
func NewBridge(bus *Bus) *Bridge {
	return &Bridge{
		bus:      bus,
		interval: FlushInterval,
		cap:      OutputCap,
		pending:  make(map[string][]byte),
		tail:     make(map[string][]byte),
		stop:     make(chan struct{}),
	}
}

// Start begins the flush timer loop. Call Stop to end it.
func (b *Bridge) Start() {
	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				b.flush()
			}
		}
	}()
}

// Stop ends the flush loop. Safe to call once.
func (b *Bridge) Stop() {
	close(b.stop)
}

// Feed buffers a chunk of streamed output for taskID, to be coalesced
// into the next flush.
func (b *Bridge) Feed(taskID, workerID string, chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[taskID] = append(b.pending[taskID], chunk...)

	tail := append(b.tail[taskID], chunk...)
	if len(tail) > b.cap {
		tail = tail[len(tail)-b.cap:]
	}
	b.tail[taskID] = tail
	_ = workerID
}

func (b *Bridge) flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make(map[string][]byte)
	b.mu.Unlock()

	for taskID, delta := range batch {
		if len(delta) == 0 {
			continue
		}
		b.bus.Publish(Event{
			Kind:   "agent:output",
			TaskID: taskID,
			Payload: map[string]any{
				"delta": string(delta),
			},
		})
	}
}

// Tail returns the currently retained sliding-window output for taskID.
func (b *Bridge) Tail(taskID string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.tail[taskID]))
	copy(out, b.tail[taskID])
	return out
}

// ClearTask drops all buffered/tail state for taskID, e.g. once it
// completes and its output stream is no longer relevant.
func (b *Bridge) ClearTask(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, taskID)
	delete(b.tail, taskID)
}
