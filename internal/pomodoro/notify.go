package pomodoro

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// NotificationKind names an observable engine event.
type NotificationKind string

const (
	NotifySessionStarted     NotificationKind = "session_started"
	NotifyFocusEnded         NotificationKind = "focus_ended"
	NotifyBreakEnded         NotificationKind = "break_ended"
	NotifySessionStopped     NotificationKind = "session_stopped"
	NotifySessionRestarted   NotificationKind = "session_restarted"
	NotifyAllowanceExhausted NotificationKind = "allowance_exhausted"
)

// Notification is emitted on every phase change.
type Notification struct {
	Kind        NotificationKind `json:"type"`
	AccountID   string           `json:"account_id,omitempty"`
	LossSeconds int64            `json:"loss_seconds,omitempty"`
	At          time.Time        `json:"at"`
}

// Notifier receives engine notifications. Notify is called on the engine
// goroutine and must not block.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Dispatcher decouples the engine from slow subscribers: Notify only enqueues,
// Run delivers to every subscriber in order.
type Dispatcher struct {
	ch chan Notification

	mu   sync.RWMutex
	subs []Notifier
}

// NewDispatcher creates a Dispatcher with the given queue size.
func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{ch: make(chan Notification, buffer)}
}

// Subscribe adds a subscriber.
func (d *Dispatcher) Subscribe(n Notifier) {
	d.mu.Lock()
	d.subs = append(d.subs, n)
	d.mu.Unlock()
}

// Notify enqueues n, dropping it if the queue is full.
func (d *Dispatcher) Notify(n Notification) {
	select {
	case d.ch <- n:
	default:
		log.Warn().Str("kind", string(n.Kind)).Msg("Notification queue full, dropping")
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.ch:
			d.mu.RLock()
			subs := append([]Notifier(nil), d.subs...)
			d.mu.RUnlock()
			for _, s := range subs {
				s.Notify(n)
			}
		}
	}
}
