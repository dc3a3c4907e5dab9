package ticker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out after %d events", len(events))
		}
	}
}

func TestClockCountsDown(t *testing.T) {
	c := NewClock(2 * time.Millisecond)
	defer c.Stop()

	events := collect(t, c.Start(3), time.Second)

	require.Len(t, events, 4)
	assert.Equal(t, Event{Kind: EventTick, Remaining: 2}, events[0])
	assert.Equal(t, Event{Kind: EventTick, Remaining: 1}, events[1])
	assert.Equal(t, Event{Kind: EventTick, Remaining: 0}, events[2])
	assert.Equal(t, EventDone, events[3].Kind)
}

func TestClockStopCancelsRun(t *testing.T) {
	c := NewClock(time.Millisecond)
	ch := c.Start(1000)

	ev := <-ch
	assert.Equal(t, EventTick, ev.Kind)

	c.Stop()

	// The channel is closed without a done event.
	for ev := range ch {
		assert.NotEqual(t, EventDone, ev.Kind)
	}
}

func TestClockRestartAbandonsPreviousRun(t *testing.T) {
	c := NewClock(time.Millisecond)
	defer c.Stop()

	first := c.Start(1000)
	second := c.Start(2)

	_, open := <-first
	for open {
		_, open = <-first
	}

	events := collect(t, second, time.Second)
	require.Len(t, events, 3)
	assert.Equal(t, EventDone, events[2].Kind)
}

func TestManualDeliversTicksAndDone(t *testing.T) {
	m := NewManual()
	ch := m.Start(2)

	got := make(chan Event, 8)
	go func() {
		for i := 0; i < 3; i++ {
			got <- <-ch
		}
	}()

	assert.True(t, m.Tick())
	assert.True(t, m.Tick())
	assert.False(t, m.Tick(), "countdown exhausted")

	assert.Equal(t, Event{Kind: EventTick, Remaining: 1}, <-got)
	assert.Equal(t, Event{Kind: EventTick, Remaining: 0}, <-got)
	assert.Equal(t, EventDone, (<-got).Kind)
	assert.Equal(t, []int{2}, m.Starts())
}

func TestManualStopUnblocksTick(t *testing.T) {
	m := NewManual()
	m.Start(5)

	done := make(chan bool)
	go func() { done <- m.Tick() }()

	m.Stop()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Tick did not return after Stop")
	}
	assert.False(t, m.Active())
}
