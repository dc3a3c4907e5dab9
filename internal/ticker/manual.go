package ticker

import "sync"

// Manual is a Source whose ticks are fired explicitly. Tick blocks until the
// consumer has received the event, so once it returns the consumer is
// processing (or has processed) that tick.
type Manual struct {
	mu      sync.Mutex
	current *manualRun
	starts  []int
}

type manualRun struct {
	ch        chan Event
	stopped   chan struct{}
	remaining int
	once      sync.Once
}

func (r *manualRun) stop() {
	r.once.Do(func() { close(r.stopped) })
}

// NewManual creates an idle Manual source.
func NewManual() *Manual {
	return &Manual{}
}

// Start begins a new countdown.
func (m *Manual) Start(seconds int) <-chan Event {
	run := &manualRun{
		ch:        make(chan Event),
		stopped:   make(chan struct{}),
		remaining: seconds,
	}

	m.mu.Lock()
	if m.current != nil {
		m.current.stop()
	}
	m.current = run
	m.starts = append(m.starts, seconds)
	m.mu.Unlock()
	return run.ch
}

// Stop cancels the current countdown.
func (m *Manual) Stop() {
	m.mu.Lock()
	if m.current != nil {
		m.current.stop()
		m.current = nil
	}
	m.mu.Unlock()
}

// Tick delivers one tick to the current run. It reports false if no run is
// active or the run was stopped before the event was received. When the
// countdown reaches zero a done event follows.
func (m *Manual) Tick() bool {
	m.mu.Lock()
	run := m.current
	if run == nil || run.remaining <= 0 {
		m.mu.Unlock()
		return false
	}
	run.remaining--
	ev := Event{Kind: EventTick, Remaining: run.remaining}
	m.mu.Unlock()

	select {
	case run.ch <- ev:
	case <-run.stopped:
		return false
	}

	if ev.Remaining == 0 {
		select {
		case run.ch <- Event{Kind: EventDone}:
		case <-run.stopped:
		}
	}
	return true
}

// TickN fires up to n ticks and returns how many were delivered.
func (m *Manual) TickN(n int) int {
	delivered := 0
	for i := 0; i < n; i++ {
		if !m.Tick() {
			break
		}
		delivered++
	}
	return delivered
}

// Starts returns the durations passed to Start, in order.
func (m *Manual) Starts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int, len(m.starts))
	copy(out, m.starts)
	return out
}

// Active reports whether a countdown is in flight.
func (m *Manual) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.remaining > 0
}
