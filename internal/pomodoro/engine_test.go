package pomodoro

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/timebook/internal/ledger"
	"github.com/fentz26/timebook/internal/models"
	"github.com/fentz26/timebook/internal/ticker"
	"github.com/fentz26/timebook/internal/timelog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *recorder) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationKind, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Kind
	}
	return out
}

type harness struct {
	t      *testing.T
	engine *Engine
	ledger *ledger.Ledger
	log    *timelog.Log
	src    *ticker.Manual
	clock  *fakeClock
	notes  *recorder
}

func newHarness(t *testing.T, cfg Config, allowance int64) *harness {
	t.Helper()

	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	tl := timelog.New()
	l := ledger.New(allowance, ledger.WithJournal(tl), ledger.WithClock(clock.Now))
	src := ticker.NewManual()
	notes := &recorder{}

	e := New(l, tl, src, cfg, WithClock(clock.Now), WithNotifier(notes))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})

	return &harness{t: t, engine: e, ledger: l, log: tl, src: src, clock: clock, notes: notes}
}

func (h *harness) tick(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.clock.Advance(time.Second)
		require.True(h.t, h.src.Tick(), "tick %d not delivered", i+1)
	}
	// Round-trip through the loop so the last tick is fully applied.
	h.state()
}

func (h *harness) state() models.SessionState {
	h.t.Helper()
	st, err := h.engine.State(context.Background())
	require.NoError(h.t, err)
	return st
}

func (h *harness) balance(name string) int64 {
	h.t.Helper()
	b, ok := h.ledger.Balance(name)
	require.True(h.t, ok, "account %s missing", name)
	return b
}

func (h *harness) entries(kind models.LogEntryType) []models.LogEntry {
	var out []models.LogEntry
	for _, e := range h.log.List() {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func shortCycle() Config {
	return Config{Settings: models.Settings{FocusSeconds: 5, BreakSeconds: 2}}
}

func TestFocusCompletesIntoBreak(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)
	ctx := context.Background()

	require.NoError(t, h.ledger.CreateAccount("Coding", models.AccountKindGeneral))
	require.NoError(t, h.engine.Start(ctx, "Coding"))

	st := h.state()
	assert.Equal(t, models.PhaseFocus, st.Phase)
	assert.Equal(t, 5, st.RemainingSeconds)

	h.tick(5)

	st = h.state()
	assert.Equal(t, models.PhaseBreak, st.Phase)
	assert.Equal(t, 2, st.RemainingSeconds)
	assert.Equal(t, "Coding", st.AccountID)
	assert.Equal(t, int64(5), h.balance("Coding"))

	timers := h.entries(models.LogEntryTimer)
	require.Len(t, timers, 1)
	assert.Equal(t, "Coding", timers[0].AccountID)
	assert.Equal(t, int64(5), timers[0].Seconds())
	assert.Equal(t, []int{5, 2}, h.src.Starts())
}

func TestBreakCreditsRestTimeAndReturnsIdle(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)
	ctx := context.Background()

	require.NoError(t, h.ledger.CreateAccount("Coding", models.AccountKindGeneral))
	require.NoError(t, h.engine.Start(ctx, "Coding"))
	h.tick(5)
	h.tick(2)

	st := h.state()
	assert.Equal(t, models.PhaseIdle, st.Phase)
	assert.Empty(t, st.AccountID)
	assert.Nil(t, st.PhaseStartedAt)
	assert.Equal(t, int64(2), h.balance(models.AccountRestTime))

	timers := h.entries(models.LogEntryTimer)
	require.Len(t, timers, 2)
	assert.Equal(t, models.AccountRestTime, timers[1].AccountID)
	assert.Equal(t, int64(2), timers[1].Seconds())

	assert.Equal(t,
		[]NotificationKind{NotifySessionStarted, NotifyFocusEnded, NotifyBreakEnded},
		h.notes.kinds())
}

func TestTickCreditsBeforeQueuedStop(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)
	ctx := context.Background()

	require.NoError(t, h.ledger.CreateAccount("Coding", models.AccountKindGeneral))
	require.NoError(t, h.engine.Start(ctx, "Coding"))
	h.tick(3)
	require.NoError(t, h.engine.Stop(ctx))

	assert.Equal(t, int64(3), h.balance("Coding"))
	assert.Equal(t, models.PhaseIdle, h.state().Phase)

	timers := h.entries(models.LogEntryTimer)
	require.Len(t, timers, 1)
	assert.Equal(t, int64(3), timers[0].Seconds())
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)
	ctx := context.Background()

	require.NoError(t, h.engine.Stop(ctx))
	require.NoError(t, h.ledger.CreateAccount("Coding", models.AccountKindGeneral))
	require.NoError(t, h.engine.Start(ctx, "Coding"))
	h.tick(1)
	require.NoError(t, h.engine.Stop(ctx))
	require.NoError(t, h.engine.Stop(ctx))

	assert.Len(t, h.entries(models.LogEntryTimer), 1)
	assert.False(t, h.src.Tick(), "no countdown after stop")
}

func TestStartReplacesActiveSession(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)
	ctx := context.Background()

	require.NoError(t, h.ledger.CreateAccount("A", models.AccountKindGeneral))
	require.NoError(t, h.ledger.CreateAccount("B", models.AccountKindGeneral))

	require.NoError(t, h.engine.Start(ctx, "A"))
	h.tick(2)
	require.NoError(t, h.engine.Start(ctx, "B"))
	h.tick(1)

	assert.Equal(t, int64(2), h.balance("A"))
	assert.Equal(t, int64(1), h.balance("B"))
	assert.Equal(t, "B", h.state().AccountID)

	timers := h.entries(models.LogEntryTimer)
	require.Len(t, timers, 1, "the replaced session is flushed")
	assert.Equal(t, "A", timers[0].AccountID)
}

func TestStartUnknownAccount(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)

	err := h.engine.Start(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, models.PhaseIdle, h.state().Phase)
}

func TestStartWithoutAccountCreditsUnallocated(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)

	require.NoError(t, h.engine.Start(context.Background(), ""))
	h.tick(2)

	assert.Equal(t, models.AccountUnallocated, h.state().AccountID)
	assert.Equal(t, int64(102), h.balance(models.AccountUnallocated))
}

func TestRestartBooksLoss(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)
	ctx := context.Background()

	require.NoError(t, h.ledger.CreateAccount("Coding", models.AccountKindGeneral))
	require.NoError(t, h.engine.Start(ctx, "Coding"))
	h.tick(3)

	loss, err := h.engine.Restart(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), loss)

	assert.Equal(t, int64(0), h.balance("Coding"))
	assert.Equal(t, int64(3), h.balance(models.AccountDefaultLoss))
	assert.Equal(t, models.PhaseIdle, h.state().Phase)

	transfers := h.entries(models.LogEntryTransfer)
	require.Len(t, transfers, 1)
	assert.Equal(t, "Coding", transfers[0].FromAccount)
	assert.Equal(t, models.AccountDefaultLoss, transfers[0].ToAccount)
	assert.Equal(t, int64(3), transfers[0].Amount)
	assert.Empty(t, h.entries(models.LogEntryTimer))
}

func TestRestartOnlyForfeitsCurrentPhase(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)
	ctx := context.Background()

	require.NoError(t, h.ledger.CreateAccount("Coding", models.AccountKindGeneral))
	require.NoError(t, h.ledger.Credit("Coding", 40))
	require.NoError(t, h.engine.Start(ctx, "Coding"))
	h.tick(5) // focus done, 5 credited
	h.tick(1) // one second of break

	loss, err := h.engine.Restart(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loss)
	assert.Equal(t, int64(45), h.balance("Coding"))
	assert.Equal(t, int64(0), h.balance(models.AccountRestTime))
	assert.Equal(t, int64(1), h.balance(models.AccountDefaultLoss))
}

func TestRestartWhenIdle(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)

	loss, err := h.engine.Restart(context.Background())
	require.NoError(t, err)
	assert.Zero(t, loss)
	assert.Empty(t, h.log.List())
}

func TestRenameRetargetsActiveSession(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)
	ctx := context.Background()

	require.NoError(t, h.ledger.CreateAccount("Coding", models.AccountKindGeneral))
	require.NoError(t, h.engine.Start(ctx, "Coding"))
	h.tick(2)

	require.NoError(t, h.engine.RenameAccount(ctx, "Coding", "Coding-v2"))
	assert.Equal(t, "Coding-v2", h.state().AccountID)

	h.tick(3)

	assert.False(t, h.ledger.Exists("Coding"))
	assert.Equal(t, int64(5), h.balance("Coding-v2"))

	timers := h.entries(models.LogEntryTimer)
	require.Len(t, timers, 1)
	assert.Equal(t, "Coding-v2", timers[0].AccountID)
}

func TestDeleteActiveAccountStopsSession(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)
	ctx := context.Background()

	require.NoError(t, h.ledger.CreateAccount("Coding", models.AccountKindGeneral))
	require.NoError(t, h.engine.Start(ctx, "Coding"))
	h.tick(2)

	require.NoError(t, h.engine.DeleteAccount(ctx, "Coding"))
	assert.Equal(t, models.PhaseIdle, h.state().Phase)
	assert.False(t, h.ledger.Exists("Coding"))
	assert.Len(t, h.entries(models.LogEntryTimer), 1)

	assert.ErrorIs(t, h.engine.DeleteAccount(ctx, models.AccountRestTime), ledger.ErrReservedAccount)
	assert.ErrorIs(t, h.engine.DeleteAccount(ctx, "Coding"), ledger.ErrNotFound)
}

func TestFastForwardSkipsRemainder(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)
	ctx := context.Background()

	require.NoError(t, h.ledger.CreateAccount("Coding", models.AccountKindGeneral))
	require.NoError(t, h.engine.Start(ctx, "Coding"))
	h.tick(2)

	require.NoError(t, h.engine.FastForward(ctx))
	st := h.state()
	assert.Equal(t, models.PhaseBreak, st.Phase)
	assert.Equal(t, int64(2), h.balance("Coding"))

	require.NoError(t, h.engine.FastForward(ctx))
	assert.Equal(t, models.PhaseIdle, h.state().Phase)

	timers := h.entries(models.LogEntryTimer)
	require.Len(t, timers, 1, "a break with no elapsed seconds is not logged")
	assert.Equal(t, int64(2), timers[0].Seconds())
}

func TestDrawModeMovesFromUnallocated(t *testing.T) {
	cfg := shortCycle()
	cfg.DrawFromUnallocated = true
	h := newHarness(t, cfg, 3)
	ctx := context.Background()

	require.NoError(t, h.ledger.CreateAccount("Coding", models.AccountKindGeneral))
	total := h.ledger.Total()
	require.NoError(t, h.engine.Start(ctx, "Coding"))

	h.tick(3)
	assert.Equal(t, int64(3), h.balance("Coding"))
	assert.Equal(t, int64(0), h.balance(models.AccountUnallocated))
	assert.Equal(t, total, h.ledger.Total())

	// Unallocated is empty: the next tick ends the session.
	h.tick(1)
	assert.Equal(t, models.PhaseIdle, h.state().Phase)
	assert.Equal(t, int64(3), h.balance("Coding"))
	assert.Contains(t, h.notes.kinds(), NotifyAllowanceExhausted)
	assert.Empty(t, h.entries(models.LogEntryTransfer), "per-tick moves are not journaled")
}

func TestSetDurationsAppliesToNextPhase(t *testing.T) {
	h := newHarness(t, shortCycle(), 100)
	ctx := context.Background()

	require.NoError(t, h.ledger.CreateAccount("Coding", models.AccountKindGeneral))
	require.NoError(t, h.engine.Start(ctx, "Coding"))
	require.NoError(t, h.engine.SetDurations(ctx, models.Settings{FocusSeconds: 10, BreakSeconds: 4}))

	assert.Equal(t, 5, h.state().RemainingSeconds)
	h.tick(5)
	assert.Equal(t, 4, h.state().RemainingSeconds)

	assert.ErrorIs(t, h.engine.SetDurations(ctx, models.Settings{FocusSeconds: 0, BreakSeconds: 1}), ErrInvalidDurations)
}

func TestShutdownFlushesActiveSession(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	tl := timelog.New()
	l := ledger.New(0)
	require.NoError(t, l.CreateAccount("Coding", models.AccountKindGeneral))
	src := ticker.NewManual()
	e := New(l, tl, src, shortCycle(), WithClock(clock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	require.NoError(t, e.Start(ctx, "Coding"))
	clock.Advance(time.Second)
	require.True(t, src.Tick())
	_, err := e.State(ctx)
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-errc)

	assert.Equal(t, 1, tl.Len())
	assert.ErrorIs(t, e.Stop(context.Background()), ErrEngineStopped)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := NewDispatcher(4)
	got := make(chan NotificationKind, 4)
	d.Subscribe(NotifierFunc(func(n Notification) { got <- n.Kind }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Notify(Notification{Kind: NotifySessionStarted})
	d.Notify(Notification{Kind: NotifySessionStopped})

	assert.Equal(t, NotifySessionStarted, <-got)
	assert.Equal(t, NotifySessionStopped, <-got)
}
