// Package ticker provides the once-per-second tick sources that drive the
// pomodoro engine.
package ticker

import (
	"context"
	"sync"
	"time"
)

// EventKind distinguishes tick and done events.
type EventKind int

const (
	EventTick EventKind = iota
	EventDone
)

func (k EventKind) String() string {
	if k == EventDone {
		return "done"
	}
	return "tick"
}

// Event is emitted by a Source. Remaining is the count left after this tick.
type Event struct {
	Kind      EventKind
	Remaining int
}

// Source counts down from a number of seconds, emitting one tick per elapsed
// second and a final done event. Start cancels any run in flight and returns
// the channel for the new run. After Stop no further events are delivered.
type Source interface {
	Start(seconds int) <-chan Event
	Stop()
}

// Clock is a Source backed by time.Ticker.
type Clock struct {
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClock creates a Clock ticking every interval (one second if zero).
func NewClock(interval time.Duration) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Clock{interval: interval}
}

// Start begins a new countdown.
func (c *Clock) Start(seconds int) <-chan Event {
	c.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event)

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx, seconds, out)
	return out
}

// Stop cancels the current countdown and waits for it to exit.
func (c *Clock) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Clock) run(ctx context.Context, remaining int, out chan<- Event) {
	defer c.wg.Done()
	defer close(out)

	t := time.NewTicker(c.interval)
	defer t.Stop()

	for remaining > 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			remaining--
			if !send(ctx, out, Event{Kind: EventTick, Remaining: remaining}) {
				return
			}
		}
	}
	send(ctx, out, Event{Kind: EventDone})
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
