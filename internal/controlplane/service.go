// Package controlplane provides the HTTP API and service layer for timebook.
package controlplane

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fentz26/timebook/internal/audit"
	"github.com/fentz26/timebook/internal/ledger"
	"github.com/fentz26/timebook/internal/models"
	"github.com/fentz26/timebook/internal/pomodoro"
	"github.com/fentz26/timebook/internal/snapshot"
	"github.com/fentz26/timebook/internal/timelog"
)

// Service provides the control plane business logic. Every mutation that
// touches more than the ledger runs on the engine goroutine through Do.
type Service struct {
	ledger *ledger.Ledger
	log    *timelog.Log
	engine *pomodoro.Engine
	todos  *TodoList
	pdr    *audit.PDRWriter

	onChange func()
	now      func() time.Time
}

// NewService creates a new control plane service.
func NewService(l *ledger.Ledger, tl *timelog.Log, e *pomodoro.Engine, todos *TodoList, pdr *audit.PDRWriter) *Service {
	return &Service{
		ledger: l,
		log:    tl,
		engine: e,
		todos:  todos,
		pdr:    pdr,
		now:    time.Now,
	}
}

// OnChange registers a hook run after every successful mutation.
func (s *Service) OnChange(fn func()) {
	s.onChange = fn
}

func (s *Service) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// --- Account Operations ---

// ListAccounts returns all accounts in insertion order.
func (s *Service) ListAccounts() []models.Account {
	return s.ledger.Accounts()
}

// CreateAccount creates an empty account. The kind defaults to general.
func (s *Service) CreateAccount(name string, kind models.AccountKind) (models.Account, error) {
	if kind == "" {
		kind = models.AccountKindGeneral
	}
	var err error
	if !kind.Valid() || kind == models.AccountKindSystem {
		err = fmt.Errorf("%w: account kind %q", ErrInvalidInput, kind)
	} else {
		err = s.ledger.CreateAccount(name, kind)
	}
	s.pdr.Outcome("account.create", map[string]string{"name": name, "kind": string(kind)}, name, err)
	if err != nil {
		return models.Account{}, err
	}
	s.changed()
	return s.ledger.Get(name)
}

// RenameAccount renames an account, retargeting the active session and any
// todos bound to it.
func (s *Service) RenameAccount(ctx context.Context, oldName, newName string) error {
	err := s.engine.Do(ctx, func(tx pomodoro.Tx) error {
		if err := tx.RenameAccount(oldName, newName); err != nil {
			return err
		}
		s.todos.retarget(oldName, newName)
		return nil
	})
	s.pdr.Outcome("account.rename", map[string]string{"from": oldName, "to": newName}, oldName, err)
	if err == nil {
		s.changed()
	}
	return err
}

// DeleteAccount deletes an account and the todos bound to it. Its balance is
// discarded.
func (s *Service) DeleteAccount(ctx context.Context, name string) error {
	err := s.engine.Do(ctx, func(tx pomodoro.Tx) error {
		if err := tx.DeleteAccount(name); err != nil {
			return err
		}
		for _, t := range s.todos.BoundTo(name) {
			s.deleteTodoTree(tx, t.ID)
		}
		return nil
	})
	s.pdr.Outcome("account.delete", map[string]string{"name": name}, name, err)
	if err == nil {
		s.changed()
	}
	return err
}

// SetArchived marks an account as a completed monument, or reopens it.
func (s *Service) SetArchived(name string, archived bool) (models.Account, error) {
	var err error
	if models.IsReserved(name) {
		err = ledger.ErrReservedAccount
	} else {
		err = s.ledger.SetArchived(name, archived)
	}
	s.pdr.Outcome("account.archive", map[string]any{"name": name, "archived": archived}, name, err)
	if err != nil {
		return models.Account{}, err
	}
	s.changed()
	return s.ledger.Get(name)
}

// ConvertToTodo creates a todo bound to an existing account.
func (s *Service) ConvertToTodo(ctx context.Context, name string) (models.Todo, error) {
	var todo models.Todo
	err := s.engine.Do(ctx, func(pomodoro.Tx) error {
		if models.IsReserved(name) {
			return ledger.ErrReservedAccount
		}
		if !s.ledger.Exists(name) {
			return fmt.Errorf("%w: %s", ledger.ErrNotFound, name)
		}
		if len(s.todos.BoundTo(name)) > 0 {
			return fmt.Errorf("%w: account %s already has a todo", ledger.ErrAlreadyExists, name)
		}
		todo = models.Todo{ID: uuid.New().String(), Text: name, AccountID: name}
		s.todos.add(todo)
		return nil
	})
	s.pdr.Outcome("account.to_todo", map[string]string{"name": name}, name, err)
	if err != nil {
		return models.Todo{}, err
	}
	s.changed()
	return todo, nil
}

// MonumentReport summarizes monument accounts.
type MonumentReport struct {
	Monuments    []models.Account `json:"monuments"`
	Completed    []string         `json:"completed"`
	TotalSeconds int64            `json:"total_seconds"`
}

// Monuments lists monument accounts and the time invested in them.
func (s *Service) Monuments() MonumentReport {
	report := MonumentReport{Monuments: []models.Account{}, Completed: []string{}}
	for _, a := range s.ledger.Accounts() {
		if a.Kind != models.AccountKindMonument {
			continue
		}
		report.Monuments = append(report.Monuments, a)
		report.TotalSeconds += a.Balance
		if a.Archived {
			report.Completed = append(report.Completed, a.Name)
		}
	}
	return report
}

// Transfer moves seconds between accounts and journals the movement.
func (s *Service) Transfer(from, to string, seconds int64) error {
	err := s.ledger.Transfer(from, to, seconds)
	s.pdr.Outcome("transfer", map[string]any{"from": from, "to": to, "amount": seconds}, from, err)
	if err == nil {
		s.changed()
	}
	return err
}

// --- Todo Operations ---

// ListTodos returns all todos.
func (s *Service) ListTodos() []models.Todo {
	return s.todos.List()
}

// AddTodo creates a todo. With linkAccount empty a fresh todo account is
// created for it; otherwise the todo is bound to that existing account.
func (s *Service) AddTodo(ctx context.Context, text, parentID, linkAccount string) (models.Todo, error) {
	text = strings.TrimSpace(text)
	var todo models.Todo
	err := s.engine.Do(ctx, func(pomodoro.Tx) error {
		if text == "" {
			return fmt.Errorf("%w: todo text is empty", ErrInvalidInput)
		}
		if parentID != "" {
			if _, ok := s.todos.Get(parentID); !ok {
				return fmt.Errorf("%w: %s", ErrTodoNotFound, parentID)
			}
		}

		id := uuid.New().String()
		account := linkAccount
		if account == "" {
			account = TodoAccountPrefix + id
			if err := s.ledger.CreateAccount(account, models.AccountKindTodo); err != nil {
				return err
			}
		} else if !s.ledger.Exists(account) {
			return fmt.Errorf("%w: %s", ledger.ErrNotFound, account)
		}

		todo = models.Todo{ID: id, Text: text, ParentID: parentID, AccountID: account}
		s.todos.add(todo)
		return nil
	})
	s.pdr.Outcome("todo.add", map[string]string{"text": text, "parent": parentID, "link": linkAccount}, todo.ID, err)
	if err != nil {
		return models.Todo{}, err
	}
	s.changed()
	return todo, nil
}

// RenameTodo changes a todo's text. Its account keeps its name.
func (s *Service) RenameTodo(ctx context.Context, id, text string) (models.Todo, error) {
	text = strings.TrimSpace(text)
	var todo models.Todo
	err := s.engine.Do(ctx, func(pomodoro.Tx) error {
		if text == "" {
			return fmt.Errorf("%w: todo text is empty", ErrInvalidInput)
		}
		var ok bool
		todo, ok = s.todos.update(id, func(t *models.Todo) { t.Text = text })
		if !ok {
			return fmt.Errorf("%w: %s", ErrTodoNotFound, id)
		}
		return nil
	})
	s.pdr.Outcome("todo.rename", map[string]string{"id": id, "text": text}, id, err)
	if err != nil {
		return models.Todo{}, err
	}
	s.changed()
	return todo, nil
}

// CompleteTodo toggles a todo's completion flag.
func (s *Service) CompleteTodo(ctx context.Context, id string) (models.Todo, error) {
	var todo models.Todo
	err := s.engine.Do(ctx, func(pomodoro.Tx) error {
		var ok bool
		todo, ok = s.todos.update(id, func(t *models.Todo) { t.Completed = !t.Completed })
		if !ok {
			return fmt.Errorf("%w: %s", ErrTodoNotFound, id)
		}
		return nil
	})
	s.pdr.Outcome("todo.complete", map[string]string{"id": id}, id, err)
	if err != nil {
		return models.Todo{}, err
	}
	s.changed()
	return todo, nil
}

// DeleteTodo deletes a todo, its descendants and the accounts they own.
// Linked accounts are left in place.
func (s *Service) DeleteTodo(ctx context.Context, id string) error {
	err := s.engine.Do(ctx, func(tx pomodoro.Tx) error {
		if _, ok := s.todos.Get(id); !ok {
			return fmt.Errorf("%w: %s", ErrTodoNotFound, id)
		}
		s.deleteTodoTree(tx, id)
		return nil
	})
	s.pdr.Outcome("todo.delete", map[string]string{"id": id}, id, err)
	if err == nil {
		s.changed()
	}
	return err
}

func (s *Service) deleteTodoTree(tx pomodoro.Tx, id string) {
	tree := s.todos.Subtree(id)
	ids := make(map[string]bool, len(tree))
	for _, t := range tree {
		ids[t.ID] = true
	}
	s.todos.remove(ids)

	for _, t := range tree {
		if t.AccountID != TodoAccountPrefix+t.ID {
			continue
		}
		acct, err := s.ledger.Get(t.AccountID)
		if err != nil || acct.Kind != models.AccountKindTodo {
			continue
		}
		if err := tx.DeleteAccount(t.AccountID); err != nil {
			log.Warn().Err(err).Str("account", t.AccountID).Msg("Failed to delete todo account")
		}
	}
}

// --- Session Operations ---

// SessionView is the session state plus its resolved label.
type SessionView struct {
	models.SessionState
	Label    string          `json:"label,omitempty"`
	Settings models.Settings `json:"settings"`
}

// Session returns the current session.
func (s *Service) Session(ctx context.Context) (SessionView, error) {
	var view SessionView
	err := s.engine.Do(ctx, func(tx pomodoro.Tx) error {
		view.SessionState = tx.State()
		view.Settings = tx.Settings()
		return nil
	})
	if view.AccountID != "" {
		view.Label = s.todos.Label(view.AccountID)
	}
	return view, err
}

// StartSession starts focusing on an account, or on the account of todoID
// when given.
func (s *Service) StartSession(ctx context.Context, accountID, todoID string) (SessionView, error) {
	if todoID != "" {
		t, ok := s.todos.Get(todoID)
		if !ok {
			err := fmt.Errorf("%w: %s", ErrTodoNotFound, todoID)
			s.pdr.Outcome("session.start", map[string]string{"todo": todoID}, todoID, err)
			return SessionView{}, err
		}
		accountID = t.AccountID
	}
	err := s.engine.Start(ctx, accountID)
	s.pdr.Outcome("session.start", map[string]string{"account": accountID, "todo": todoID}, accountID, err)
	if err != nil {
		return SessionView{}, err
	}
	return s.Session(ctx)
}

// StopSession stops the session.
func (s *Service) StopSession(ctx context.Context) (SessionView, error) {
	err := s.engine.Stop(ctx)
	s.pdr.Outcome("session.stop", nil, "", err)
	if err != nil {
		return SessionView{}, err
	}
	return s.Session(ctx)
}

// RestartSession abandons the current phase and returns the seconds lost.
func (s *Service) RestartSession(ctx context.Context) (int64, error) {
	loss, err := s.engine.Restart(ctx)
	s.pdr.Outcome("session.restart", nil, "", err)
	return loss, err
}

// FastForward ends the current phase.
func (s *Service) FastForward(ctx context.Context) (SessionView, error) {
	err := s.engine.FastForward(ctx)
	s.pdr.Outcome("session.fast_forward", nil, "", err)
	if err != nil {
		return SessionView{}, err
	}
	return s.Session(ctx)
}

// --- Log Operations ---

// Logs returns the time log, newest first when requested. Timer labels are
// resolved against the current todos, falling back to the recorded label.
func (s *Service) Logs(newestFirst bool) []models.LogEntry {
	entries := s.log.List()
	for i := range entries {
		e := &entries[i]
		if e.Type != models.LogEntryTimer {
			continue
		}
		if label := s.todos.Label(e.AccountID); label != e.AccountID || e.AccountLabel == "" {
			e.AccountLabel = label
		}
	}
	if newestFirst {
		return timelog.NewestFirst(entries)
	}
	return entries
}

// ClearLogs empties the time log. Balances are not touched.
func (s *Service) ClearLogs() {
	n := s.log.Len()
	s.log.Clear()
	s.pdr.Outcome("logs.clear", map[string]int{"entries": n}, "", nil)
	s.changed()
}

// --- Settings Operations ---

// Settings returns the pomodoro durations.
func (s *Service) Settings(ctx context.Context) (models.Settings, error) {
	return s.engine.Settings(ctx)
}

// UpdateSettings replaces the pomodoro durations.
func (s *Service) UpdateSettings(ctx context.Context, settings models.Settings) (models.Settings, error) {
	var err error
	if !settings.Valid() {
		err = fmt.Errorf("%w: durations must be positive", ErrInvalidSettings)
	} else {
		err = s.engine.SetDurations(ctx, settings)
	}
	s.pdr.Outcome("settings.update", settings, "", err)
	if err != nil {
		return models.Settings{}, err
	}
	s.changed()
	return settings, nil
}

// --- Snapshot Operations ---

// Snapshot captures a consistent copy of the whole state.
func (s *Service) Snapshot(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	err := s.engine.Do(ctx, func(tx pomodoro.Tx) error {
		snap = models.Snapshot{
			Accounts: s.ledger.Accounts(),
			Todos:    s.todos.List(),
			TimeLogs: s.log.List(),
			Settings: tx.Settings(),
		}
		return nil
	})
	return snap, err
}

// Export writes the export document to w.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	return snapshot.Encode(w, snap, s.now())
}

// Import replaces the whole state with the document read from r. The active
// session is stopped first. Nothing changes if the document is rejected.
func (s *Service) Import(ctx context.Context, r io.Reader) error {
	snap, err := snapshot.Decode(r)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidImport, err)
		s.pdr.Outcome("import", nil, "", err)
		return err
	}

	err = s.engine.Do(ctx, func(tx pomodoro.Tx) error {
		return s.restore(tx, snap, true)
	})
	s.pdr.Outcome("import", map[string]int{
		"accounts": len(snap.Accounts),
		"todos":    len(snap.Todos),
		"entries":  len(snap.TimeLogs),
	}, "", err)
	if err == nil {
		s.changed()
	}
	return err
}

// Restore loads a persisted snapshot at startup.
func (s *Service) Restore(ctx context.Context, snap models.Snapshot) error {
	return s.engine.Do(ctx, func(tx pomodoro.Tx) error {
		return s.restore(tx, snap, false)
	})
}

func (s *Service) restore(tx pomodoro.Tx, snap models.Snapshot, stop bool) error {
	if !snap.Settings.Valid() {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidImport)
	}
	accounts, err := ledger.PrepareReplace(snap.Accounts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if stop {
		tx.Stop()
	}
	s.ledger.Commit(accounts)
	if kept := s.log.Replace(snap.TimeLogs); kept < len(snap.TimeLogs) {
		log.Warn().Int("skipped", len(snap.TimeLogs)-kept).Msg("Dropped malformed time log entries")
	}
	s.todos.replace(snap.Todos)
	return tx.SetSettings(snap.Settings)
}
