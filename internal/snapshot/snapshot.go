// Package snapshot encodes and decodes the portable export document.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/fentz26/timebook/internal/models"
)

// Version is the export format written by Encode.
const Version = 1

// ErrInvalidDocument is returned by Decode for missing or inconsistent data.
var ErrInvalidDocument = errors.New("invalid export document")

// Document is the on-disk export format.
type Document struct {
	Version            int               `json:"version"`
	ExportedAt         time.Time         `json:"exportedAt"`
	Accounts           []models.Account  `json:"accounts"`
	Todos              []models.Todo     `json:"todos"`
	TimeLogs           []models.LogEntry `json:"timeLogs"`
	Settings           models.Settings   `json:"settings"`
	CompletedMonuments []string          `json:"completedMonuments"`
}

// incoming mirrors Document with pointers so absent sections can be told
// apart from empty ones.
type incoming struct {
	Version            int               `json:"version"`
	Accounts           *[]models.Account `json:"accounts"`
	Todos              *[]models.Todo    `json:"todos"`
	TimeLogs           []models.LogEntry `json:"timeLogs"`
	Settings           *models.Settings  `json:"settings"`
	CompletedMonuments []string          `json:"completedMonuments"`
}

// NewDocument builds an export document from snap.
func NewDocument(snap models.Snapshot, at time.Time) Document {
	doc := Document{
		Version:            Version,
		ExportedAt:         at.UTC(),
		Accounts:           nonNil(snap.Accounts),
		Todos:              nonNil(snap.Todos),
		TimeLogs:           nonNil(snap.TimeLogs),
		Settings:           snap.Settings,
		CompletedMonuments: []string{},
	}
	for _, a := range snap.Accounts {
		if a.Kind == models.AccountKindMonument && a.Archived {
			doc.CompletedMonuments = append(doc.CompletedMonuments, a.Name)
		}
	}
	return doc
}

// Encode writes snap as an indented export document.
func Encode(w io.Writer, snap models.Snapshot, at time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(snap, at))
}

// Decode reads and validates an export document. Accounts, todos and
// settings must be present; the time log may be omitted.
func Decode(r io.Reader) (models.Snapshot, error) {
	var in incoming
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if in.Version > Version {
		return models.Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidDocument, in.Version)
	}
	switch {
	case in.Accounts == nil:
		return models.Snapshot{}, fmt.Errorf("%w: accounts missing", ErrInvalidDocument)
	case in.Todos == nil:
		return models.Snapshot{}, fmt.Errorf("%w: todos missing", ErrInvalidDocument)
	case in.Settings == nil:
		return models.Snapshot{}, fmt.Errorf("%w: settings missing", ErrInvalidDocument)
	}
	if !in.Settings.Valid() {
		return models.Snapshot{}, fmt.Errorf("%w: durations must be positive", ErrInvalidDocument)
	}

	snap := models.Snapshot{
		Accounts: *in.Accounts,
		Todos:    *in.Todos,
		TimeLogs: nonNil(in.TimeLogs),
		Settings: *in.Settings,
	}
	if err := validate(&snap, in.CompletedMonuments); err != nil {
		return models.Snapshot{}, err
	}
	return snap, nil
}

func validate(snap *models.Snapshot, completed []string) error {
	index := make(map[string]int, len(snap.Accounts))
	for i, a := range snap.Accounts {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("%w: account %d has no name", ErrInvalidDocument, i)
		}
		if a.Balance < 0 {
			return fmt.Errorf("%w: account %s has negative balance", ErrInvalidDocument, a.Name)
		}
		if _, dup := index[a.Name]; dup {
			return fmt.Errorf("%w: duplicate account %s", ErrInvalidDocument, a.Name)
		}
		index[a.Name] = i
	}

	todoIDs := make(map[string]bool, len(snap.Todos))
	for _, t := range snap.Todos {
		if t.ID == "" {
			return fmt.Errorf("%w: todo without id", ErrInvalidDocument)
		}
		if todoIDs[t.ID] {
			return fmt.Errorf("%w: duplicate todo %s", ErrInvalidDocument, t.ID)
		}
		todoIDs[t.ID] = true
	}
	for _, t := range snap.Todos {
		i, ok := index[t.AccountID]
		if !ok {
			return fmt.Errorf("%w: todo %s references unknown account %q", ErrInvalidDocument, t.ID, t.AccountID)
		}
		if t.ParentID != "" && !todoIDs[t.ParentID] {
			return fmt.Errorf("%w: todo %s references unknown parent %s", ErrInvalidDocument, t.ID, t.ParentID)
		}
		if !snap.Accounts[i].Kind.Valid() {
			snap.Accounts[i].Kind = models.AccountKindTodo
		}
	}
	if err := checkParentCycles(snap.Todos); err != nil {
		return err
	}

	for i := range snap.Accounts {
		a := &snap.Accounts[i]
		switch {
		case models.IsReserved(a.Name):
			a.Kind = models.AccountKindSystem
		case !a.Kind.Valid():
			a.Kind = models.AccountKindGeneral
		}
	}
	for _, name := range completed {
		if i, ok := index[name]; ok && !models.IsReserved(name) {
			snap.Accounts[i].Kind = models.AccountKindMonument
			snap.Accounts[i].Archived = true
		}
	}
	return nil
}

// checkParentCycles rejects todos whose parent chain loops back on itself.
func checkParentCycles(todos []models.Todo) error {
	parent := make(map[string]string, len(todos))
	for _, t := range todos {
		parent[t.ID] = t.ParentID
	}
	acyclic := make(map[string]bool, len(todos))
	for _, t := range todos {
		visited := map[string]bool{}
		for cur := t.ID; cur != "" && !acyclic[cur]; cur = parent[cur] {
			if visited[cur] {
				return fmt.Errorf("%w: todo %s has a parent cycle", ErrInvalidDocument, t.ID)
			}
			visited[cur] = true
		}
		for id := range visited {
			acyclic[id] = true
		}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
