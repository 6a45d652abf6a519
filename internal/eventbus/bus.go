// Package eventbus is the Event Bridge (C11): a fan-out publisher that
// every other component emits into, plus a Bridge that coalesces
// high-frequency agent-output deltas before they reach UI listeners.
// Grounded on the upstream runner's handlers/message_sender.go
// persistent-goroutine channel drain, generalized from a single
// websocket sink to an arbitrary number of fault-isolated listeners.
package eventbus

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"ralphd/internal/rlog"
)

// Event is the common shape every component publishes. Kind names follow
// the "component:verb" convention used throughout ("iteration:completed",
// "agent:switched", "parallel:merge-queued", ...).
type Event struct {
	ID       string
	Kind     string
	TaskID   string
	WorkerID string
	At       time.Time
	Payload  map[string]any
}

// Listener receives every published Event. Implementations must not
// block for long — Bus delivers synchronously to each listener in turn.
type Listener func(Event)

// Bus is the fan-out publisher. Safe for concurrent Publish/Subscribe.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
	entropy   *ulid.MonotonicEntropy
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)}
}

// Subscribe registers l to receive every future Publish call.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish stamps e with an id/timestamp if unset and fans it out to every
// listener. A listener that panics is recovered and logged — fault
// isolation means one broken store must never stop the others or halt
// the bus.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = b.nextID()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		dispatchSafely(l, e)
	}
}

func dispatchSafely(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			rlog.Error("eventbus: listener panicked handling %s: %v", e.Kind, r)
		}
	}()
	l(e)
}

func (b *Bus) nextID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), b.entropy).String()
}

// Emit publishes an event built from its arguments; a shorthand for
// Publish at call sites that have the fields at hand.
func (b *Bus) Emit(kind, taskID, workerID string, payload map[string]any) {
	b.Publish(Event{Kind: kind, TaskID: taskID, WorkerID: workerID, Payload: payload})
}
