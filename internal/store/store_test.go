package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/timebook/internal/models"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestLoadSnapshot_Empty(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	_, ok, err := s.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if ok {
		t.Error("Expected no snapshot in a fresh database")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(25 * time.Minute)
	snap := models.Snapshot{
		Accounts: []models.Account{
			{Name: models.AccountUnallocated, Kind: models.AccountKindSystem, Balance: 100},
			{Name: "Writing", Kind: models.AccountKindGeneral, Balance: 1500},
			{Name: "Book", Kind: models.AccountKindMonument, Balance: 40, Archived: true},
		},
		Todos: []models.Todo{
			{ID: "t1", Text: "Draft", AccountID: "Writing"},
			{ID: "t2", Text: "Outline", Completed: true, ParentID: "t1", AccountID: "todo-t2"},
		},
		TimeLogs: []models.LogEntry{
			{ID: "e1", Type: models.LogEntryTimer, Timestamp: end, AccountID: "Writing", AccountLabel: "Draft", StartedAt: &start, EndedAt: &end},
			{ID: "e2", Type: models.LogEntryTransfer, Timestamp: end, FromAccount: "Writing", ToAccount: "Book", Amount: 40},
		},
		Settings: models.Settings{FocusSeconds: 1200, BreakSeconds: 240},
	}

	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, ok, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected a snapshot")
	}

	if len(got.Accounts) != 3 || got.Accounts[1].Name != "Writing" || got.Accounts[1].Balance != 1500 {
		t.Errorf("Unexpected accounts: %+v", got.Accounts)
	}
	if !got.Accounts[2].Archived || got.Accounts[2].Kind != models.AccountKindMonument {
		t.Errorf("Monument flags lost: %+v", got.Accounts[2])
	}
	if len(got.Todos) != 2 || got.Todos[1].ParentID != "t1" || !got.Todos[1].Completed {
		t.Errorf("Unexpected todos: %+v", got.Todos)
	}
	if got.Todos[0].ParentID != "" {
		t.Errorf("Expected empty parent, got %q", got.Todos[0].ParentID)
	}
	if len(got.TimeLogs) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(got.TimeLogs))
	}
	timer := got.TimeLogs[0]
	if timer.StartedAt == nil || !timer.StartedAt.Equal(start) || timer.Seconds() != 1500 {
		t.Errorf("Timer entry mismatch: %+v", timer)
	}
	transfer := got.TimeLogs[1]
	if transfer.StartedAt != nil || transfer.Amount != 40 || transfer.ToAccount != "Book" {
		t.Errorf("Transfer entry mismatch: %+v", transfer)
	}
	if got.Settings != snap.Settings {
		t.Errorf("Expected settings %+v, got %+v", snap.Settings, got.Settings)
	}
}

func TestSaveSnapshot_Replaces(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	first := models.Snapshot{
		Accounts: []models.Account{{Name: "A", Kind: models.AccountKindGeneral}, {Name: "B", Kind: models.AccountKindGeneral}},
		Settings: models.DefaultSettings(),
	}
	if err := s.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	second := models.Snapshot{
		Accounts: []models.Account{{Name: "B", Kind: models.AccountKindGeneral, Balance: 9}},
		Settings: models.DefaultSettings(),
	}
	if err := s.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, _, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if len(got.Accounts) != 1 || got.Accounts[0].Balance != 9 {
		t.Errorf("Expected only B=9, got %+v", got.Accounts)
	}
}

func TestSaveSnapshot_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	good := models.Snapshot{
		Accounts: []models.Account{{Name: "A", Kind: models.AccountKindGeneral, Balance: 5}},
		Settings: models.DefaultSettings(),
	}
	if err := s.SaveSnapshot(ctx, good); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	bad := models.Snapshot{
		Accounts: []models.Account{
			{Name: "X", Kind: models.AccountKindGeneral},
			{Name: "X", Kind: models.AccountKindGeneral},
		},
		Settings: models.DefaultSettings(),
	}
	if err := s.SaveSnapshot(ctx, bad); err == nil {
		t.Fatal("Expected duplicate account names to fail")
	}

	got, _, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if len(got.Accounts) != 1 || got.Accounts[0].Name != "A" {
		t.Errorf("Expected previous state to survive, got %+v", got.Accounts)
	}
}

func TestWritePDR(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	pdr, err := s.WritePDR("transfer", "abc123", "success", "Writing", "40s to Book")
	if err != nil {
		t.Fatalf("WritePDR failed: %v", err)
	}
	if pdr.ID == "" {
		t.Error("PDR ID should not be empty")
	}

	entries, err := s.ListPDR(10)
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "transfer" || entries[0].Subject != "Writing" {
		t.Errorf("Unexpected PDR entries: %+v", entries)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

type countingSaver struct {
	mu    sync.Mutex
	saves int
	last  models.Snapshot
	err   error
}

func (c *countingSaver) SaveSnapshot(_ context.Context, snap models.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.saves++
	c.last = snap
	return nil
}

func (c *countingSaver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

func TestPersister_CoalescesMarks(t *testing.T) {
	saver := &countingSaver{}
	var captures atomic.Int32
	snapshot := func(context.Context) (models.Snapshot, error) {
		captures.Add(1)
		return models.Snapshot{Settings: models.DefaultSettings()}, nil
	}

	p := NewPersister(saver, snapshot, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	for i := 0; i < 100; i++ {
		p.Mark()
	}

	deadline := time.Now().Add(2 * time.Second)
	for saver.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if n := saver.count(); n < 1 || n > 2 {
		t.Errorf("Expected 1-2 saves for a burst of marks, got %d", n)
	}
}

func TestPersister_FlushReportsErrors(t *testing.T) {
	saver := &countingSaver{err: errors.New("disk full")}
	p := NewPersister(saver, func(context.Context) (models.Snapshot, error) {
		return models.Snapshot{}, nil
	}, 0)

	if err := p.Flush(context.Background()); err == nil {
		t.Error("Expected Flush to surface the save error")
	}
}

func newTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}
