package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllListeners(t *testing.T) {
	bus := NewBus()
	var got1, got2 Event
	bus.Subscribe(func(e Event) { got1 = e })
	bus.Subscribe(func(e Event) { got2 = e })

	bus.Publish(Event{Kind: "task:completed", TaskID: "t1"})

	require.Equal(t, "task:completed", got1.Kind)
	require.Equal(t, "task:completed", got2.Kind)
	require.NotEmpty(t, got1.ID)
}

func TestPublishRecoversFromPanickingListener(t *testing.T) {
	bus := NewBus()
	var secondCalled bool
	bus.Subscribe(func(e Event) { panic("boom") })
	bus.Subscribe(func(e Event) { secondCalled = true })

	require.NotPanics(t, func() {
		bus.Publish(Event{Kind: "test"})
	})
	require.True(t, secondCalled)
}

func TestBridgeCoalescesFeedIntoOneFlush(t *testing.T) {
	bus := NewBus()
	var events []Event
	bus.Subscribe(func(e Event) { events = append(events, e) })

	bridge := NewBridge(bus)
	bridge.interval = 20 * time.Millisecond
	bridge.Start()
	defer bridge.Stop()

	bridge.Feed("t1", "w1", []byte("line1\n"))
	bridge.Feed("t1", "w1", []byte("line2\n"))

	time.Sleep(60 * time.Millisecond)

	var outputEvents int
	for _, e := range events {
		if e.Kind == "agent:output" {
			outputEvents++
		}
	}
	require.Equal(t, 1, outputEvents)
}

func TestBridgeTailCapsRetainedBytes(t *testing.T) {
	bus := NewBus()
	bridge := NewBridge(bus)
	bridge.cap = 10
	bridge.Feed("t1", "w1", []byte("0123456789ABCDEF"))
	require.Equal(t, 10, len(bridge.Tail("t1")))
	require.Equal(t, "6789ABCDEF", string(bridge.Tail("t1")))
}
