// Package timelog keeps the append-only audit trail of timer sessions and
// transfers.
package timelog

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fentz26/timebook/internal/models"
)

// ErrMalformedEntry is returned for entries that were dropped. It is never a
// hard failure: callers may ignore it.
var ErrMalformedEntry = errors.New("malformed time log entry")

// Log is an in-memory, append-only list of entries. Safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	entries  []models.LogEntry
	onAppend func(models.LogEntry)
}

// New creates an empty log.
func New() *Log {
	return &Log{}
}

// OnAppend registers a hook called after each accepted entry, outside the lock.
func (l *Log) OnAppend(fn func(models.LogEntry)) {
	l.mu.Lock()
	l.onAppend = fn
	l.mu.Unlock()
}

// AppendTimer records a completed timer phase.
func (l *Log) AppendTimer(accountID, label string, startedAt, endedAt time.Time) (models.LogEntry, error) {
	if strings.TrimSpace(accountID) == "" || startedAt.IsZero() || endedAt.IsZero() || !endedAt.After(startedAt) {
		log.Warn().
			Str("account", accountID).
			Time("startedAt", startedAt).
			Time("endedAt", endedAt).
			Msg("Dropping malformed timer log entry")
		return models.LogEntry{}, ErrMalformedEntry
	}
	if label == "" {
		label = accountID
	}

	start, end := startedAt.UTC(), endedAt.UTC()
	entry := models.LogEntry{
		ID:           uuid.New().String(),
		Type:         models.LogEntryTimer,
		Timestamp:    end,
		AccountID:    accountID,
		AccountLabel: label,
		StartedAt:    &start,
		EndedAt:      &end,
	}
	l.append(entry)
	return entry, nil
}

// AppendTransfer records a ledger transfer.
func (l *Log) AppendTransfer(from, to string, amount int64, at time.Time) error {
	_, err := l.appendTransfer(from, to, amount, at)
	return err
}

func (l *Log) appendTransfer(from, to string, amount int64, at time.Time) (models.LogEntry, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" || amount <= 0 || at.IsZero() {
		log.Warn().
			Str("from", from).
			Str("to", to).
			Int64("amount", amount).
			Msg("Dropping malformed transfer log entry")
		return models.LogEntry{}, ErrMalformedEntry
	}

	entry := models.LogEntry{
		ID:          uuid.New().String(),
		Type:        models.LogEntryTransfer,
		Timestamp:   at.UTC(),
		FromAccount: from,
		ToAccount:   to,
		Amount:      amount,
	}
	l.append(entry)
	return entry, nil
}

func (l *Log) append(entry models.LogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	hook := l.onAppend
	l.mu.Unlock()

	if hook != nil {
		hook(entry)
	}
}

// Clear empties the log. Confirmation is the caller's job.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// List returns a copy of all entries in append order.
func (l *Log) List() []models.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Replace swaps in a previously persisted or imported list. Malformed entries
// are skipped with a warning; the number kept is returned.
func (l *Log) Replace(entries []models.LogEntry) int {
	kept := make([]models.LogEntry, 0, len(entries))
	for _, e := range entries {
		if err := Validate(e); err != nil {
			log.Warn().Str("id", e.ID).Str("type", string(e.Type)).Msg("Skipping malformed time log entry")
			continue
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		kept = append(kept, e)
	}

	l.mu.Lock()
	l.entries = kept
	l.mu.Unlock()
	return len(kept)
}

// Validate checks a stored entry against the append rules.
func Validate(e models.LogEntry) error {
	switch e.Type {
	case models.LogEntryTimer:
		if e.AccountID == "" || e.StartedAt == nil || e.EndedAt == nil || !e.EndedAt.After(*e.StartedAt) {
			return ErrMalformedEntry
		}
	case models.LogEntryTransfer:
		if e.FromAccount == "" || e.ToAccount == "" || e.Amount <= 0 {
			return ErrMalformedEntry
		}
	default:
		return ErrMalformedEntry
	}
	return nil
}

// NewestFirst returns a copy sorted by timestamp, most recent first.
func NewestFirst(entries []models.LogEntry) []models.LogEntry {
	out := make([]models.LogEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
