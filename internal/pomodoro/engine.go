// Package pomodoro implements the focus/break session state machine and its
// accounting against the ledger.
package pomodoro

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fentz26/timebook/internal/ledger"
	"github.com/fentz26/timebook/internal/models"
	"github.com/fentz26/timebook/internal/ticker"
	"github.com/fentz26/timebook/internal/timelog"
)

// ErrEngineStopped is returned for commands issued after Run has exited.
var ErrEngineStopped = errors.New("pomodoro engine stopped")

// ErrInvalidDurations is returned when focus or break is not positive.
var ErrInvalidDurations = errors.New("focus and break durations must be positive")

// Config holds the engine settings.
type Config struct {
	Settings models.Settings
	// DrawFromUnallocated makes every tick a move out of Unallocated instead
	// of a plain credit. The session stops when Unallocated runs dry.
	DrawFromUnallocated bool
}

// LabelFunc resolves the display label stored on timer log entries.
type LabelFunc func(accountID string) string

// Engine owns the single active session. All state lives on the goroutine
// started by Run; every public method is a command queued to it.
type Engine struct {
	ledger *ledger.Ledger
	log    *timelog.Log
	source ticker.Source

	now      func() time.Time
	label    LabelFunc
	notifier Notifier
	onChange func()

	cmds     chan command
	done     chan struct{}
	detached sync.Mutex

	// Owned by the Run goroutine.
	settings models.Settings
	draw     bool
	session  session
	events   <-chan ticker.Event
}

type command struct {
	fn    func() error
	reply chan error
}

type session struct {
	phase          models.Phase
	remaining      int
	accountID      string
	startedAt      time.Time
	balanceAtStart int64
	credited       int
}

func (s session) active() bool {
	return s.phase == models.PhaseFocus || s.phase == models.PhaseBreak
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLabels sets the label resolver for timer entries.
func WithLabels(fn LabelFunc) Option {
	return func(e *Engine) { e.label = fn }
}

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithOnChange registers a hook run after every state or balance change.
// It is called on the engine goroutine and must not block.
func WithOnChange(fn func()) Option {
	return func(e *Engine) { e.onChange = fn }
}

// New creates an idle engine. Call Run to start processing.
func New(l *ledger.Ledger, tl *timelog.Log, src ticker.Source, cfg Config, opts ...Option) *Engine {
	settings := cfg.Settings
	if !settings.Valid() {
		settings = models.DefaultSettings()
	}
	e := &Engine{
		ledger:   l,
		log:      tl,
		source:   src,
		now:      time.Now,
		label:    func(id string) string { return id },
		cmds:     make(chan command),
		done:     make(chan struct{}),
		settings: settings,
		draw:     cfg.DrawFromUnallocated,
		session:  session{phase: models.PhaseIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes commands and ticks until ctx is cancelled. An active session
// is stopped, and its log entry flushed, before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	log.Debug().Msg("Pomodoro engine started")

	for {
		select {
		case <-ctx.Done():
			e.stop()
			e.source.Stop()
			log.Debug().Msg("Pomodoro engine stopped")
			return nil
		case cmd := <-e.cmds:
			cmd.reply <- cmd.fn()
		case ev, ok := <-e.events:
			if !ok {
				e.events = nil
				e.resync()
				continue
			}
			e.handle(ev)
		}
	}
}

func (e *Engine) exec(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case e.cmds <- command{fn: fn, reply: reply}:
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins a focus phase on accountID, stopping any active session first.
// An empty accountID runs the timer against Unallocated.
func (e *Engine) Start(ctx context.Context, accountID string) error {
	return e.exec(ctx, func() error { return e.start(accountID) })
}

// Stop ends the active session and logs the elapsed phase. Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	return e.exec(ctx, func() error {
		e.stop()
		return nil
	})
}

// Restart abandons the active phase, moving the seconds accrued in it to
// DefaultLoss. It returns the number of seconds forfeited.
func (e *Engine) Restart(ctx context.Context) (int64, error) {
	var loss int64
	err := e.exec(ctx, func() error {
		var err error
		loss, err = e.restart()
		return err
	})
	return loss, err
}

// FastForward ends the current phase now. Remaining seconds are not credited.
func (e *Engine) FastForward(ctx context.Context) error {
	return e.exec(ctx, func() error {
		if e.session.active() {
			e.completePhase()
			e.changed()
		}
		return nil
	})
}

// State returns a snapshot of the session.
func (e *Engine) State(ctx context.Context) (models.SessionState, error) {
	var st models.SessionState
	err := e.exec(ctx, func() error {
		st = e.snapshot()
		return nil
	})
	return st, err
}

// Settings returns the durations used for the next phases.
func (e *Engine) Settings(ctx context.Context) (models.Settings, error) {
	var s models.Settings
	err := e.exec(ctx, func() error {
		s = e.settings
		return nil
	})
	return s, err
}

// SetDurations replaces the focus and break durations. A phase already in
// progress keeps its remaining time.
func (e *Engine) SetDurations(ctx context.Context, s models.Settings) error {
	if !s.Valid() {
		return ErrInvalidDurations
	}
	return e.Do(ctx, func(tx Tx) error { return tx.SetSettings(s) })
}

// RenameAccount renames a ledger account, retargeting the active session.
func (e *Engine) RenameAccount(ctx context.Context, oldName, newName string) error {
	return e.exec(ctx, func() error { return e.renameAccount(oldName, newName) })
}

// DeleteAccount deletes a ledger account, stopping the session first if it
// is bound to that account.
func (e *Engine) DeleteAccount(ctx context.Context, name string) error {
	return e.exec(ctx, func() error { return e.deleteAccount(name) })
}

// Do runs fn on the engine goroutine, serialized with ticks and commands.
// Once Run has returned, fn runs on the caller's goroutine instead so the
// final state can still be read.
func (e *Engine) Do(ctx context.Context, fn func(Tx) error) error {
	err := e.exec(ctx, func() error { return fn(Tx{e: e}) })
	if errors.Is(err, ErrEngineStopped) {
		e.detached.Lock()
		defer e.detached.Unlock()
		return fn(Tx{e: e})
	}
	return err
}

// Tx gives a function passed to Do direct access to the engine. It must not
// be retained after the function returns.
type Tx struct {
	e *Engine
}

// State returns the session snapshot.
func (tx Tx) State() models.SessionState { return tx.e.snapshot() }

// ActiveAccount returns the account bound to the running session, or "".
func (tx Tx) ActiveAccount() string {
	if !tx.e.session.active() {
		return ""
	}
	return tx.e.session.accountID
}

// Stop stops the session, flushing its log entry.
func (tx Tx) Stop() { tx.e.stop() }

// RenameAccount is Engine.RenameAccount.
func (tx Tx) RenameAccount(oldName, newName string) error {
	return tx.e.renameAccount(oldName, newName)
}

// DeleteAccount is Engine.DeleteAccount.
func (tx Tx) DeleteAccount(name string) error { return tx.e.deleteAccount(name) }

// Settings returns the configured durations.
func (tx Tx) Settings() models.Settings { return tx.e.settings }

// SetSettings replaces the durations for the next phases.
func (tx Tx) SetSettings(s models.Settings) error {
	if !s.Valid() {
		return ErrInvalidDurations
	}
	tx.e.settings = s
	tx.e.changed()
	return nil
}

func (e *Engine) renameAccount(oldName, newName string) error {
	if err := e.ledger.RenameAccount(oldName, newName); err != nil {
		return err
	}
	if e.session.active() && e.session.accountID == oldName && oldName != newName {
		e.session.accountID = newName
		log.Info().Str("from", oldName).Str("to", newName).Msg("Active session account renamed")
	}
	e.changed()
	return nil
}

func (e *Engine) deleteAccount(name string) error {
	if models.IsReserved(name) {
		return ledger.ErrReservedAccount
	}
	if !e.ledger.Exists(name) {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, name)
	}
	if e.session.active() && e.session.accountID == name {
		e.stop()
	}
	if err := e.ledger.DeleteAccount(name); err != nil {
		return err
	}
	e.changed()
	return nil
}

func (e *Engine) start(accountID string) error {
	if accountID == "" {
		accountID = models.AccountUnallocated
	}
	if !e.ledger.Exists(accountID) {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, accountID)
	}
	if e.session.active() {
		e.stop()
	}

	e.session = session{accountID: accountID}
	e.beginPhase(models.PhaseFocus, e.settings.FocusSeconds)

	log.Info().Str("account", accountID).Int("seconds", e.session.remaining).Msg("Focus started")
	e.notify(Notification{Kind: NotifySessionStarted, AccountID: accountID})
	e.changed()
	return nil
}

func (e *Engine) beginPhase(phase models.Phase, seconds int) {
	e.session.phase = phase
	e.session.remaining = seconds
	e.session.startedAt = e.now()
	e.session.credited = 0
	e.session.balanceAtStart, _ = e.ledger.Balance(e.phaseAccount())
	e.events = e.source.Start(seconds)
}

// phaseAccount is the account credited by the current phase.
func (e *Engine) phaseAccount() string {
	if e.session.phase == models.PhaseBreak {
		return models.AccountRestTime
	}
	if e.session.accountID == "" {
		return models.AccountUnallocated
	}
	return e.session.accountID
}

func (e *Engine) handle(ev ticker.Event) {
	if !e.session.active() {
		return
	}
	switch ev.Kind {
	case ticker.EventTick:
		e.tick()
	case ticker.EventDone:
		e.resync()
	}
}

// resync restarts the source if it finished while the engine still has
// seconds left in the phase.
func (e *Engine) resync() {
	if !e.session.active() || e.session.remaining <= 0 {
		return
	}
	log.Warn().Int("remaining", e.session.remaining).Msg("Tick source ended early, restarting countdown")
	e.events = e.source.Start(e.session.remaining)
}

func (e *Engine) tick() {
	account := e.phaseAccount()
	if err := e.accrue(account); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			log.Warn().Str("account", account).Msg("Unallocated time exhausted, stopping session")
			e.stop()
			e.notify(Notification{Kind: NotifyAllowanceExhausted, AccountID: account})
		} else {
			log.Error().Err(err).Str("account", account).Msg("Failed to credit tick, stopping session")
			e.stop()
		}
		e.changed()
		return
	}

	e.session.credited++
	e.session.remaining--
	if e.session.remaining <= 0 {
		e.completePhase()
	}
	e.changed()
}

func (e *Engine) accrue(account string) error {
	if e.draw && account != models.AccountUnallocated {
		return e.ledger.Move(models.AccountUnallocated, account, 1)
	}
	return e.ledger.Credit(account, 1)
}

// completePhase writes the phase's log entry and advances the state machine.
// The entry spans exactly the credited seconds.
func (e *Engine) completePhase() {
	account := e.phaseAccount()
	end := e.session.startedAt.Add(time.Duration(e.session.credited) * time.Second)
	e.appendTimer(account, e.session.startedAt, end)

	switch e.session.phase {
	case models.PhaseFocus:
		e.beginPhase(models.PhaseBreak, e.settings.BreakSeconds)
		log.Info().Str("account", account).Msg("Focus ended, break started")
		e.notify(Notification{Kind: NotifyFocusEnded, AccountID: account})
	case models.PhaseBreak:
		task := e.session.accountID
		e.reset()
		log.Info().Msg("Break ended")
		e.notify(Notification{Kind: NotifyBreakEnded, AccountID: task})
	}
}

func (e *Engine) stop() {
	if !e.session.active() {
		return
	}
	account := e.phaseAccount()
	task := e.session.accountID
	if !e.session.startedAt.IsZero() {
		e.appendTimer(account, e.session.startedAt, e.now())
	}
	e.reset()

	log.Info().Str("account", account).Msg("Session stopped")
	e.notify(Notification{Kind: NotifySessionStopped, AccountID: task})
	e.changed()
}

func (e *Engine) restart() (int64, error) {
	if !e.session.active() {
		return 0, nil
	}
	account := e.phaseAccount()
	task := e.session.accountID

	balance, _ := e.ledger.Balance(account)
	loss := balance - e.session.balanceAtStart
	if loss > 0 {
		if err := e.ledger.Transfer(account, models.AccountDefaultLoss, loss); err != nil {
			log.Error().Err(err).Str("account", account).Int64("loss", loss).Msg("Failed to book interruption loss")
			loss = 0
		}
	} else {
		loss = 0
	}
	e.reset()

	log.Info().Str("account", account).Int64("loss", loss).Msg("Session restarted")
	e.notify(Notification{Kind: NotifySessionRestarted, AccountID: task, LossSeconds: loss})
	e.changed()
	return loss, nil
}

func (e *Engine) reset() {
	e.source.Stop()
	e.events = nil
	e.session = session{phase: models.PhaseIdle}
}

func (e *Engine) appendTimer(account string, start, end time.Time) {
	// Malformed entries are dropped and warned about by the log itself.
	_, _ = e.log.AppendTimer(account, e.label(account), start, end)
}

func (e *Engine) snapshot() models.SessionState {
	st := models.SessionState{
		Phase:               e.session.phase,
		RemainingSeconds:    e.session.remaining,
		AccountID:           e.session.accountID,
		BalanceAtPhaseStart: e.session.balanceAtStart,
	}
	if !e.session.startedAt.IsZero() {
		t := e.session.startedAt
		st.PhaseStartedAt = &t
	}
	return st
}

func (e *Engine) notify(n Notification) {
	if e.notifier == nil {
		return
	}
	if n.At.IsZero() {
		n.At = e.now()
	}
	e.notifier.Notify(n)
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}
