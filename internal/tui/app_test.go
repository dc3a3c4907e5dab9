package tui

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/timebook/internal/models"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		cmd   string
		args  []string
	}{
		{"/add write tests", "add", []string{"write", "tests"}},
		{"stop", "stop", nil},
		{"  /FF ", "ff", nil},
		{"@Coding", "start", []string{"Coding"}},
		{"@", "start", nil},
		{"transfer A B 1m30s", "transfer", []string{"A", "B", "1m30s"}},
		{"/", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, args := parseCommand(tt.input)
			assert.Equal(t, tt.cmd, cmd)
			if len(tt.args) == 0 {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

func TestTodoRowsDepthFirst(t *testing.T) {
	todos := []models.Todo{
		{ID: "a", Text: "A", AccountID: "todo-a"},
		{ID: "b", Text: "B", AccountID: "todo-b"},
		{ID: "a1", Text: "A1", ParentID: "a", AccountID: "todo-a1"},
		{ID: "a1x", Text: "A1x", ParentID: "a1", AccountID: "todo-a1x"},
		{ID: "orphan", Text: "Orphan", ParentID: "gone", AccountID: "todo-orphan"},
	}
	accounts := []models.Account{{Name: "todo-a1", Balance: 90}}

	rows := todoRows(todos, accounts)
	require.Len(t, rows, 5)

	var titles []string
	var depths []int
	for _, r := range rows {
		titles = append(titles, r.Title)
		depths = append(depths, r.Depth)
	}
	assert.Equal(t, []string{"A", "A1", "A1x", "B", "Orphan"}, titles)
	assert.Equal(t, []int{0, 1, 2, 0, 0}, depths)
	assert.Equal(t, int64(90), rows[1].Balance)
	assert.Equal(t, "a1", rows[1].TodoID)
}

func TestAccountRowsReservedFirst(t *testing.T) {
	accounts := []models.Account{
		{Name: "Coding", Kind: models.AccountKindGeneral},
		{Name: models.AccountUnallocated, Kind: models.AccountKindSystem, Balance: 100},
		{Name: "Book", Kind: models.AccountKindMonument, Archived: true},
	}

	rows := accountRows(accounts)
	require.Len(t, rows, 3)
	assert.Equal(t, models.AccountUnallocated, rows[0].AccountID)
	assert.Equal(t, "Coding", rows[1].AccountID)
	assert.Equal(t, "Book ✓", rows[2].Title)
	assert.True(t, rows[2].Completed)
}

func TestSessionProgress(t *testing.T) {
	s := Session{Settings: models.Settings{FocusSeconds: 100, BreakSeconds: 20}}
	assert.Zero(t, s.Progress())

	s.Phase = models.PhaseFocus
	s.RemainingSeconds = 75
	assert.InDelta(t, 0.25, s.Progress(), 1e-9)

	s.Phase = models.PhaseBreak
	s.RemainingSeconds = 5
	assert.Equal(t, 20, s.PhaseLength())
	assert.InDelta(t, 0.75, s.Progress(), 1e-9)
}

func TestSuggestions(t *testing.T) {
	s := NewSuggestions()

	s.Update("/tr")
	require.True(t, s.IsVisible())
	assert.Equal(t, "transfer", s.Selected().Text)

	s.Update("plain text")
	assert.False(t, s.IsVisible())

	s.SetAccounts([]string{"Coding", "Reading"})
	s.Update("@rea")
	require.True(t, s.IsVisible())
	assert.Equal(t, "Reading", s.Selected().Text)
	assert.Equal(t, "account", s.Selected().Type)

	s.Update("@zzz")
	assert.False(t, s.IsVisible())
	assert.Nil(t, s.Selected())
}

func TestSuggestionsCycle(t *testing.T) {
	s := NewSuggestions()
	s.Update("/st")
	require.True(t, s.IsVisible())

	first := s.Selected().Text
	s.Next()
	second := s.Selected().Text
	assert.NotEqual(t, first, second)
	s.Prev()
	assert.Equal(t, first, s.Selected().Text)
}

type fakeAPI struct {
	mu       sync.Mutex
	lastBody map[string]any
	lastPath string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/start", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastBody = body
		f.lastPath = r.URL.Path
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(Session{
			SessionState: models.SessionState{Phase: models.PhaseFocus, AccountID: "todo-1", RemainingSeconds: 1500},
			Label:        "Write report",
		})
	})
	mux.HandleFunc("/transfers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"insufficient balance: Coding"}`))
	})
	return mux
}

func TestClientDecodesAPIErrors(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	err := NewClient(srv.URL).Transfer("Coding", "Book", 10)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "insufficient balance: Coding", apiErr.Message)
}

func TestStartUsesSelectedTodo(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	app := New(srv.URL)
	app.apply(stateMsg{
		todos:    []models.Todo{{ID: "1", Text: "Write report", AccountID: "todo-1"}},
		accounts: []models.Account{{Name: "todo-1", Kind: models.AccountKindTodo}},
	})
	require.Len(t, app.rows, 1)

	msg := app.executeCommand("start")()
	result, ok := msg.(commandResultMsg)
	require.True(t, ok)
	assert.Equal(t, "✓ Focusing on Write report", result.message)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "/session/start", api.lastPath)
	assert.Equal(t, "1", api.lastBody["todo_id"])
	assert.Equal(t, "", api.lastBody["account"])
}

func TestTransferCommandValidatesAmount(t *testing.T) {
	app := New("http://127.0.0.1:0")

	msg := app.executeCommand("/transfer A B soon")()
	result, ok := msg.(commandResultMsg)
	require.True(t, ok)
	assert.Contains(t, result.message, "Error")

	msg = app.executeCommand("/transfer A B")()
	result, ok = msg.(commandResultMsg)
	require.True(t, ok)
	assert.Contains(t, result.message, "Usage")
}

func TestViewRendersSession(t *testing.T) {
	app := New("http://127.0.0.1:0")
	app.width, app.height = 100, 40
	app.apply(stateMsg{
		session: Session{
			SessionState: models.SessionState{Phase: models.PhaseFocus, AccountID: "Coding", RemainingSeconds: 65},
			Settings:     models.Settings{FocusSeconds: 1500, BreakSeconds: 300},
		},
		accounts: []models.Account{{Name: models.AccountUnallocated, Balance: 3600}, {Name: "Coding", Balance: 30}},
	})

	view := app.View()
	assert.Contains(t, view, "FOCUS")
	assert.Contains(t, view, "00:01:05")
	assert.Contains(t, view, "unallocated 01:00:00")
}
