// Package store provides SQLite-backed persistence for timebook.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fentz26/timebook/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the timebook SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		name TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		archived INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS todos (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		parent_id TEXT,
		account_id TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS time_log (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		account_id TEXT,
		account_label TEXT,
		started_at DATETIME,
		ended_at DATETIME,
		from_account TEXT,
		to_account TEXT,
		amount INTEGER,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		subject TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_time_log_position ON time_log(position);
	CREATE INDEX IF NOT EXISTS idx_pdr_timestamp ON pdr(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

const (
	settingFocus = "focus_seconds"
	settingBreak = "break_seconds"
)

// --- Snapshot Operations ---

// SaveSnapshot replaces the persisted state with snap in a single transaction.
// On error the previous state is kept.
func (s *Store) SaveSnapshot(ctx context.Context, snap models.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"accounts", "todos", "time_log"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, a := range snap.Accounts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (name, kind, balance, archived, position) VALUES (?, ?, ?, ?, ?)`,
			a.Name, string(a.Kind), a.Balance, a.Archived, i,
		)
		if err != nil {
			return fmt.Errorf("insert account %s: %w", a.Name, err)
		}
	}

	for i, t := range snap.Todos {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO todos (id, text, completed, parent_id, account_id, position) VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, t.Text, t.Completed, nullString(t.ParentID), t.AccountID, i,
		)
		if err != nil {
			return fmt.Errorf("insert todo %s: %w", t.ID, err)
		}
	}

	for i, e := range snap.TimeLogs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO time_log (id, type, timestamp, account_id, account_label, started_at, ended_at, from_account, to_account, amount, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, string(e.Type), e.Timestamp.UTC(),
			nullString(e.AccountID), nullString(e.AccountLabel), nullTime(e.StartedAt), nullTime(e.EndedAt),
			nullString(e.FromAccount), nullString(e.ToAccount), e.Amount, i,
		)
		if err != nil {
			return fmt.Errorf("insert log entry %s: %w", e.ID, err)
		}
	}

	settings := map[string]int{
		settingFocus: snap.Settings.FocusSeconds,
		settingBreak: snap.Settings.BreakSeconds,
	}
	for k, v := range settings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			k, strconv.Itoa(v),
		)
		if err != nil {
			return fmt.Errorf("upsert setting %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted state. The second return value is false
// for a database that has never been saved to.
func (s *Store) LoadSnapshot(ctx context.Context) (models.Snapshot, bool, error) {
	var snap models.Snapshot

	settings, err := s.loadSettings(ctx)
	if err != nil {
		return snap, false, err
	}
	if settings == nil {
		return snap, false, nil
	}
	snap.Settings = *settings

	if snap.Accounts, err = s.loadAccounts(ctx); err != nil {
		return snap, false, err
	}
	if snap.Todos, err = s.loadTodos(ctx); err != nil {
		return snap, false, err
	}
	if snap.TimeLogs, err = s.loadTimeLog(ctx); err != nil {
		return snap, false, err
	}
	return snap, true, nil
}

func (s *Store) loadSettings(ctx context.Context) (*models.Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	found := false
	settings := models.DefaultSettings()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", key, err)
		}
		switch key {
		case settingFocus:
			settings.FocusSeconds = n
		case settingBreak:
			settings.BreakSeconds = n
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &settings, nil
}

func (s *Store) loadAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, kind, balance, archived FROM accounts ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		var kind string
		if err := rows.Scan(&a.Name, &kind, &a.Balance, &a.Archived); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Kind = models.AccountKind(kind)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) loadTodos(ctx context.Context) ([]models.Todo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, completed, parent_id, account_id FROM todos ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	var todos []models.Todo
	for rows.Next() {
		var t models.Todo
		var parentID sql.NullString
		if err := rows.Scan(&t.ID, &t.Text, &t.Completed, &parentID, &t.AccountID); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		if parentID.Valid {
			t.ParentID = parentID.String
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

func (s *Store) loadTimeLog(ctx context.Context) ([]models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, timestamp, account_id, account_label, started_at, ended_at, from_account, to_account, amount
		 FROM time_log ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query time log: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var typ string
		var accountID, label, from, to sql.NullString
		var startedAt, endedAt sql.NullTime
		var amount sql.NullInt64
		if err := rows.Scan(&e.ID, &typ, &e.Timestamp, &accountID, &label, &startedAt, &endedAt, &from, &to, &amount); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Type = models.LogEntryType(typ)
		e.Timestamp = e.Timestamp.UTC()
		e.AccountID = accountID.String
		e.AccountLabel = label.String
		e.FromAccount = from.String
		e.ToAccount = to.String
		e.Amount = amount.Int64
		if startedAt.Valid {
			t := startedAt.Time.UTC()
			e.StartedAt = &t
		}
		if endedAt.Valid {
			t := endedAt.Time.UTC()
			e.EndedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, subject, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		Subject:    subject,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, subject, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.Subject, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the most recent decision records, newest first.
func (s *Store) ListPDR(limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, subject, details, timestamp FROM pdr ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var p models.PDREntry
		var subject, details sql.NullString
		if err := rows.Scan(&p.ID, &p.Action, &p.InputsHash, &p.Outcome, &subject, &details, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		p.Subject = subject.String
		p.Details = details.String
		entries = append(entries, p)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
