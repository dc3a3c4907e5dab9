// Package models defines the core domain types for timebook.
package models

import "time"

// Reserved system account names, created at bootstrap.
const (
	AccountUnallocated = "Unallocated"
	AccountRestTime    = "RestTime"
	AccountWastedTime  = "WastedTime"
	AccountDefaultLoss = "DefaultLoss"
)

// ReservedAccounts lists the system accounts in bootstrap order.
var ReservedAccounts = []string{
	AccountUnallocated,
	AccountRestTime,
	AccountWastedTime,
	AccountDefaultLoss,
}

// IsReserved reports whether name is one of the system accounts.
func IsReserved(name string) bool {
	for _, r := range ReservedAccounts {
		if r == name {
			return true
		}
	}
	return false
}

// AccountKind tags what an account is used for.
type AccountKind string

const (
	AccountKindSystem   AccountKind = "system"
	AccountKindTodo     AccountKind = "todo"
	AccountKindMonument AccountKind = "monument"
	AccountKindGeneral  AccountKind = "general"
)

// Valid reports whether k is a known kind.
func (k AccountKind) Valid() bool {
	switch k {
	case AccountKindSystem, AccountKindTodo, AccountKindMonument, AccountKindGeneral:
		return true
	}
	return false
}

// Account is a named, non-negative balance of whole seconds.
type Account struct {
	Name     string      `json:"name"`
	Kind     AccountKind `json:"kind"`
	Balance  int64       `json:"balance"`
	Archived bool        `json:"archived,omitempty"`
}

// Todo is a user-visible task bound to an account.
type Todo struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	ParentID  string `json:"parent_id,omitempty"`
	AccountID string `json:"account_id"`
}

// Phase is the pomodoro phase.
type Phase string

const (
	PhaseIdle  Phase = "idle"
	PhaseFocus Phase = "focus"
	PhaseBreak Phase = "break"
)

// SessionState is a read-only snapshot of the pomodoro session.
type SessionState struct {
	Phase               Phase      `json:"phase"`
	RemainingSeconds    int        `json:"remaining_seconds"`
	AccountID           string     `json:"account_id,omitempty"`
	PhaseStartedAt      *time.Time `json:"phase_started_at,omitempty"`
	BalanceAtPhaseStart int64      `json:"balance_at_phase_start"`
}

// Active reports whether a session is running.
func (s SessionState) Active() bool {
	return s.Phase != PhaseIdle && s.Phase != ""
}

// Settings holds the pomodoro durations in seconds.
type Settings struct {
	FocusSeconds int `json:"focus_seconds" yaml:"focus_seconds"`
	BreakSeconds int `json:"break_seconds" yaml:"break_seconds"`
}

// DefaultSettings returns the classic 25/5 minute cycle.
func DefaultSettings() Settings {
	return Settings{FocusSeconds: 25 * 60, BreakSeconds: 5 * 60}
}

// Valid reports whether both durations are positive.
func (s Settings) Valid() bool {
	return s.FocusSeconds > 0 && s.BreakSeconds > 0
}

// LogEntryType distinguishes time log variants.
type LogEntryType string

const (
	LogEntryTimer    LogEntryType = "timer"
	LogEntryTransfer LogEntryType = "transfer"
)

// LogEntry is an immutable time log record.
type LogEntry struct {
	ID        string       `json:"id"`
	Type      LogEntryType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`

	// Timer entries
	AccountID    string     `json:"account_id,omitempty"`
	AccountLabel string     `json:"account_label,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`

	// Transfer entries
	FromAccount string `json:"from_account,omitempty"`
	ToAccount   string `json:"to_account,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
}

// Seconds returns the whole seconds covered by a timer entry, or the amount
// of a transfer entry.
func (e LogEntry) Seconds() int64 {
	if e.Type == LogEntryTransfer {
		return e.Amount
	}
	if e.StartedAt == nil || e.EndedAt == nil {
		return 0
	}
	return int64(e.EndedAt.Sub(*e.StartedAt) / time.Second)
}

// PDREntry is a decision record written for every mutating command.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Subject    string    `json:"subject,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot is the full persisted state.
type Snapshot struct {
	Accounts []Account  `json:"accounts"`
	Todos    []Todo     `json:"todos"`
	TimeLogs []LogEntry `json:"time_logs"`
	Settings Settings   `json:"settings"`
}
