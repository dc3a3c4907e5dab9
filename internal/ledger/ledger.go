// Package ledger owns account balances and every mutation applied to them.
package ledger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/timebook/internal/models"
)

// Journal receives a record of every successful transfer.
type Journal interface {
	AppendTransfer(from, to string, amount int64, at time.Time) error
}

// Ledger maps account names to balances. All methods are safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	order    []string

	journal Journal
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithJournal sets the sink for transfer records.
func WithJournal(j Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithClock overrides the clock used to timestamp transfers.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger with the reserved system accounts. Unallocated starts
// with allowance seconds.
func New(allowance int64, opts ...Option) *Ledger {
	l := &Ledger{
		accounts: make(map[string]*models.Account),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	for _, name := range models.ReservedAccounts {
		l.insertLocked(name, models.AccountKindSystem, 0)
	}
	if allowance > 0 {
		l.accounts[models.AccountUnallocated].Balance = allowance
	}
	return l
}

func (l *Ledger) insertLocked(name string, kind models.AccountKind, balance int64) {
	l.accounts[name] = &models.Account{Name: name, Kind: kind, Balance: balance}
	l.order = append(l.order, name)
}

// CreateAccount adds a zero-balance account.
func (l *Ledger) CreateAccount(name string, kind models.AccountKind) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	if !kind.Valid() {
		kind = models.AccountKindGeneral
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	l.insertLocked(name, kind, 0)
	return nil
}

// DeleteAccount removes an account and discards its balance.
func (l *Ledger) DeleteAccount(name string) error {
	if models.IsReserved(name) {
		return ErrReservedAccount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(l.accounts, name)
	for i, n := range l.order {
		if n == name {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return nil
}

// RenameAccount substitutes the key in place, keeping balance and position.
func (l *Ledger) RenameAccount(oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	if strings.TrimSpace(newName) == "" {
		return ErrInvalidName
	}
	if models.IsReserved(oldName) {
		return ErrReservedAccount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[oldName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	if _, exists := l.accounts[newName]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, newName)
	}

	delete(l.accounts, oldName)
	acct.Name = newName
	l.accounts[newName] = acct
	for i, n := range l.order {
		if n == oldName {
			l.order[i] = newName
			break
		}
	}
	return nil
}

// SetArchived flags an account as archived (completed monuments).
func (l *Ledger) SetArchived(name string, archived bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	acct.Archived = archived
	return nil
}

// Credit adds seconds to an account. Reserved system accounts are created on
// demand; any other account must already exist.
func (l *Ledger) Credit(name string, seconds int64) error {
	if seconds < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.creditLocked(name, seconds)
}

func (l *Ledger) creditLocked(name string, seconds int64) error {
	acct, ok := l.accounts[name]
	if !ok {
		if !models.IsReserved(name) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		l.insertLocked(name, models.AccountKindSystem, 0)
		acct = l.accounts[name]
	}
	acct.Balance += seconds
	return nil
}

// Debit removes seconds from an account, rejecting any underflow.
func (l *Ledger) Debit(name string, seconds int64) error {
	if seconds < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.debitLocked(name, seconds)
}

func (l *Ledger) debitLocked(name string, seconds int64) error {
	acct, ok := l.accounts[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if acct.Balance < seconds {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientBalance, name, acct.Balance, seconds)
	}
	acct.Balance -= seconds
	return nil
}

// Transfer moves seconds from one account to another as a single step and
// journals the movement. On error neither balance changes.
func (l *Ledger) Transfer(from, to string, seconds int64) error {
	if err := l.move(from, to, seconds); err != nil {
		return err
	}
	if l.journal != nil {
		// The balances are already committed; a rejected journal entry
		// is warned about by the journal itself.
		_ = l.journal.AppendTransfer(from, to, seconds, l.now())
	}
	return nil
}

// Move is Transfer without a journal record. The engine uses it for
// tick-driven accrual drawn from Unallocated.
func (l *Ledger) Move(from, to string, seconds int64) error {
	return l.move(from, to, seconds)
}

func (l *Ledger) move(from, to string, seconds int64) error {
	if seconds <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSameAccount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	if _, ok := l.accounts[to]; !ok && !models.IsReserved(to) {
		return fmt.Errorf("%w: %s", ErrNotFound, to)
	}
	if src.Balance < seconds {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientBalance, from, src.Balance, seconds)
	}

	src.Balance -= seconds
	return l.creditLocked(to, seconds)
}

// Balance returns the balance of name and whether it exists.
func (l *Ledger) Balance(name string) (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct, ok := l.accounts[name]
	if !ok {
		return 0, false
	}
	return acct.Balance, true
}

// Get returns a copy of the named account.
func (l *Ledger) Get(name string) (models.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct, ok := l.accounts[name]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return *acct, nil
}

// Exists reports whether name is a known account.
func (l *Ledger) Exists(name string) bool {
	_, ok := l.Balance(name)
	return ok
}

// Accounts returns copies of all accounts in insertion order.
func (l *Ledger) Accounts() []models.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]models.Account, 0, len(l.order))
	for _, name := range l.order {
		result = append(result, *l.accounts[name])
	}
	return result
}

// Total returns the sum of all balances.
func (l *Ledger) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum int64
	for _, acct := range l.accounts {
		sum += acct.Balance
	}
	return sum
}

// Replacement is a validated account set ready to be installed with Commit.
type Replacement struct {
	accounts map[string]*models.Account
	order    []string
}

// PrepareReplace validates accounts and builds the set Commit installs.
// Reserved accounts missing from accounts are added with a zero balance.
func PrepareReplace(accounts []models.Account) (*Replacement, error) {
	next := make(map[string]*models.Account, len(accounts))
	order := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if strings.TrimSpace(a.Name) == "" {
			return nil, ErrInvalidName
		}
		if a.Balance < 0 {
			return nil, fmt.Errorf("%w: %s has negative balance", ErrInvalidAmount, a.Name)
		}
		if _, dup := next[a.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, a.Name)
		}
		acct := a
		if models.IsReserved(acct.Name) {
			acct.Kind = models.AccountKindSystem
		} else if !acct.Kind.Valid() || acct.Kind == models.AccountKindSystem {
			acct.Kind = models.AccountKindGeneral
		}
		next[acct.Name] = &acct
		order = append(order, acct.Name)
	}
	for _, name := range models.ReservedAccounts {
		if _, ok := next[name]; !ok {
			next[name] = &models.Account{Name: name, Kind: models.AccountKindSystem}
			order = append(order, name)
		}
	}
	return &Replacement{accounts: next, order: order}, nil
}

// Commit swaps in a prepared account set, e.g. after an import.
func (l *Ledger) Commit(r *Replacement) {
	l.mu.Lock()
	l.accounts = r.accounts
	l.order = r.order
	l.mu.Unlock()
}
