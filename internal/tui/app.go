// Package tui provides the interactive terminal dashboard for timebook.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/timebook/internal/ledger"
	"github.com/fentz26/timebook/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

const (
	panelAccounts = "accounts"
	panelTodos    = "todos"
	panelLog      = "log"
)

var panels = []string{panelAccounts, panelTodos, panelLog}

const pollInterval = time.Second

// App is the main TUI application model.
type App struct {
	client      *Client
	input       textinput.Model
	bar         progress.Model
	suggestions *Suggestions

	width  int
	height int
	panel  string

	session  Session
	accounts []models.Account
	todos    []models.Todo
	logs     []models.LogEntry
	rows     []row

	selectedIdx  int
	message      string
	daemonOnline bool
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "/ for commands, @ to start an account, Enter to start the selection"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		bar:         progress.New(progress.WithDefaultGradient()),
		suggestions: NewSuggestions(),
		panel:       panelTodos,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, a.refresh())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			a.input.SetValue("")
			a.message = ""

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else if a.selectedIdx > 0 {
				a.selectedIdx--
			}
			return a, nil

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else if a.selectedIdx < len(a.rows)-1 {
				a.selectedIdx++
			}
			return a, nil

		case "tab":
			if a.acceptSuggestion() {
				return a, nil
			}
			a.cyclePanel()
			return a, nil

		case "enter":
			if a.acceptSuggestion() {
				return a, nil
			}
			input := strings.TrimSpace(a.input.Value())
			a.input.SetValue("")
			if input == "" {
				input = "start"
			}
			return a, a.executeCommand(input)

		case "ctrl+x":
			return a, a.executeCommand("stop")
		case "ctrl+r":
			return a, a.executeCommand("restart")
		case "ctrl+f":
			return a, a.executeCommand("ff")
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.bar.Width = min(msg.Width-4, 60)

	case pollMsg:
		return a, a.refresh()

	case stateMsg:
		a.apply(msg)
		cmds = append(cmds, a.pollCmd())

	case stateOnceMsg:
		a.apply(stateMsg(msg))

	case commandResultMsg:
		a.message = msg.message
		return a, a.refreshOnce()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
		var apiErr *APIError
		if !errors.As(msg.err, &apiErr) {
			a.daemonOnline = false
		}
		if msg.poll {
			cmds = append(cmds, a.pollCmd())
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.suggestions.Update(a.input.Value())

	return a, tea.Batch(cmds...)
}

func (a *App) apply(msg stateMsg) {
	a.daemonOnline = true
	a.session = msg.session
	a.accounts = msg.accounts
	a.todos = msg.todos
	if msg.logs != nil || a.panel != panelLog {
		a.logs = msg.logs
	}
	a.rebuildRows()
}

func (a *App) acceptSuggestion() bool {
	if !a.suggestions.IsVisible() {
		return false
	}
	selected := a.suggestions.Selected()
	if selected == nil {
		return false
	}
	if selected.Type == "account" {
		a.input.SetValue("start " + selected.Text)
	} else {
		a.input.SetValue("/" + selected.Text + " ")
	}
	a.input.CursorEnd()
	a.suggestions.Update(a.input.Value())
	return true
}

func (a *App) cyclePanel() {
	for i, p := range panels {
		if p == a.panel {
			a.panel = panels[(i+1)%len(panels)]
			break
		}
	}
	a.selectedIdx = 0
	a.rebuildRows()
}

func (a *App) rebuildRows() {
	switch a.panel {
	case panelAccounts:
		a.rows = accountRows(a.accounts)
	case panelTodos:
		a.rows = todoRows(a.todos, a.accounts)
	default:
		a.rows = nil
	}
	if a.selectedIdx >= len(a.rows) {
		a.selectedIdx = max(0, len(a.rows)-1)
	}

	names := make([]string, 0, len(a.accounts))
	for _, acct := range a.accounts {
		if !acct.Archived {
			names = append(names, acct.Name)
		}
	}
	a.suggestions.SetAccounts(names)
}

func (a *App) selected() (row, bool) {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.rows) {
		return row{}, false
	}
	return a.rows[a.selectedIdx], true
}

// accountRows lists accounts, reserved ones first.
func accountRows(accounts []models.Account) []row {
	rows := make([]row, 0, len(accounts))
	for _, pass := range []bool{true, false} {
		for _, acct := range accounts {
			if models.IsReserved(acct.Name) != pass {
				continue
			}
			title := acct.Name
			if acct.Archived {
				title += " ✓"
			}
			rows = append(rows, row{
				Title:     title,
				AccountID: acct.Name,
				Balance:   acct.Balance,
				Completed: acct.Archived,
			})
		}
	}
	return rows
}

// todoRows flattens the todo forest depth first. Todos whose parent is
// missing are shown as roots.
func todoRows(todos []models.Todo, accounts []models.Account) []row {
	balances := make(map[string]int64, len(accounts))
	for _, acct := range accounts {
		balances[acct.Name] = acct.Balance
	}
	known := make(map[string]bool, len(todos))
	children := make(map[string][]models.Todo)
	for _, t := range todos {
		known[t.ID] = true
	}
	var roots []models.Todo
	for _, t := range todos {
		if t.ParentID != "" && known[t.ParentID] {
			children[t.ParentID] = append(children[t.ParentID], t)
		} else {
			roots = append(roots, t)
		}
	}

	rows := make([]row, 0, len(todos))
	var walk func(t models.Todo, depth int)
	walk = func(t models.Todo, depth int) {
		rows = append(rows, row{
			Title:     t.Text,
			AccountID: t.AccountID,
			TodoID:    t.ID,
			Balance:   balances[t.AccountID],
			Depth:     depth,
			Completed: t.Completed,
		})
		for _, c := range children[t.ID] {
			walk(c, depth+1)
		}
	}
	for _, t := range roots {
		walk(t, 0)
	}
	return rows
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("⏱ TIMEBOOK") + "  " + daemonStatus
	if bal, ok := a.balance(models.AccountUnallocated); ok {
		header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render("unallocated "+ledger.FormatClock(bal))
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	b.WriteString(panelStyle.Render(a.renderSession()) + "\n")

	contentHeight := a.height - 16
	if contentHeight < 5 {
		contentHeight = 5
	}
	b.WriteString(a.renderTabs() + "\n")
	if a.panel == panelLog {
		b.WriteString(a.renderLog(contentHeight))
	} else {
		b.WriteString(a.renderRows(contentHeight))
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	status := " ↑↓:nav | Enter:start | Ctrl+X:stop | Ctrl+R:restart | Ctrl+F:skip | Tab:panel | Ctrl+C:quit"
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) balance(name string) (int64, bool) {
	for _, acct := range a.accounts {
		if acct.Name == name {
			return acct.Balance, true
		}
	}
	return 0, false
}

func (a *App) renderSession() string {
	s := a.session
	var phase string
	switch s.Phase {
	case models.PhaseFocus:
		phase = lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Render("FOCUS")
	case models.PhaseBreak:
		phase = lipgloss.NewStyle().Foreground(successColor).Bold(true).Render("BREAK")
	default:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("Idle. Pick a todo or account and press Enter.")
	}

	label := s.Label
	if label == "" {
		label = s.AccountID
	}
	if s.Phase == models.PhaseBreak {
		label = models.AccountRestTime
	}

	line := fmt.Sprintf("%s  %s  %s", phase, ledger.FormatClock(int64(s.RemainingSeconds)), label)
	return line + "\n" + a.bar.ViewAs(s.Progress())
}

func (a *App) renderTabs() string {
	var tabs []string
	for _, p := range panels {
		style := lipgloss.NewStyle().Foreground(mutedColor).Padding(0, 1)
		if p == a.panel {
			style = lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Underline(true).Padding(0, 1)
		}
		tabs = append(tabs, style.Render(strings.ToUpper(p)))
	}
	return strings.Join(tabs, " ")
}

func (a *App) renderRows(height int) string {
	if len(a.rows) == 0 {
		if a.panel == panelTodos {
			return "\n  No todos yet. Type: /add <text>\n"
		}
		return "\n  No accounts.\n"
	}

	var lines []string
	for i, r := range a.rows {
		title := strings.Repeat("  ", r.Depth) + r.Title
		if a.panel == panelTodos {
			box := "[ ]"
			if r.Completed {
				box = "[x]"
			}
			title = box + " " + title
		}
		active := a.session.Active() && r.AccountID == a.session.AccountID
		marker := "  "
		if active {
			marker = "▶ "
		}
		text := fmt.Sprintf("%s%-40s %s", marker, title, ledger.FormatClock(r.Balance))
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(text))
		} else if r.Completed {
			lines = append(lines, itemStyle.Foreground(mutedColor).Render(text))
		} else {
			lines = append(lines, itemStyle.Render(text))
		}
	}

	if len(lines) > height {
		start := a.selectedIdx - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderLog(height int) string {
	if len(a.logs) == 0 {
		return "\n  The time log is empty.\n"
	}
	var lines []string
	for i, e := range a.logs {
		if i >= height {
			break
		}
		ts := e.Timestamp.Local().Format("Jan 02 15:04:05")
		var text string
		switch e.Type {
		case models.LogEntryTimer:
			label := e.AccountLabel
			if label == "" {
				label = e.AccountID
			}
			text = fmt.Sprintf("%s  ⏱ %-30s %s", ts, label, ledger.FormatClock(e.Seconds()))
		case models.LogEntryTransfer:
			text = fmt.Sprintf("%s  ⇄ %s → %s  %s", ts, e.FromAccount, e.ToAccount, ledger.FormatClock(e.Amount))
		}
		style := itemStyle
		if e.Type == models.LogEntryTransfer {
			style = itemStyle.Foreground(warningColor)
		}
		lines = append(lines, style.Render(text))
	}
	return strings.Join(lines, "\n")
}

// --- Commands ---

func (a *App) pollCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return pollMsg{}
	})
}

// refresh fetches everything and schedules the next poll.
func (a *App) refresh() tea.Cmd {
	return a.fetch(true)
}

// refreshOnce fetches without scheduling; the running poll loop continues.
func (a *App) refreshOnce() tea.Cmd {
	return a.fetch(false)
}

func (a *App) fetch(poll bool) tea.Cmd {
	wantLogs := a.panel == panelLog
	return func() tea.Msg {
		session, err := a.client.Session()
		if err != nil {
			return errMsg{err: err, poll: poll}
		}
		accounts, err := a.client.Accounts()
		if err != nil {
			return errMsg{err: err, poll: poll}
		}
		todos, err := a.client.Todos()
		if err != nil {
			return errMsg{err: err, poll: poll}
		}
		var logs []models.LogEntry
		if wantLogs {
			if logs, err = a.client.Logs(); err != nil {
				return errMsg{err: err, poll: poll}
			}
		}
		msg := stateMsg{session: session, accounts: accounts, todos: todos, logs: logs}
		if !poll {
			return stateOnceMsg(msg)
		}
		return msg
	}
}

// parseCommand splits input into a command name and its arguments. A leading
// "/" is optional and "@name" is shorthand for "start name".
func parseCommand(input string) (string, []string) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "@") {
		name := strings.TrimSpace(strings.TrimPrefix(input, "@"))
		if name == "" {
			return "start", nil
		}
		return "start", []string{name}
	}
	input = strings.TrimPrefix(input, "/")
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return "", nil
	}
	return strings.ToLower(parts[0]), parts[1:]
}

func (a *App) executeCommand(input string) tea.Cmd {
	cmd, args := parseCommand(input)
	if cmd == "" {
		return nil
	}
	sel, hasSel := a.selected()
	panel := a.panel

	return func() tea.Msg {
		switch cmd {
		case "start":
			account, todoID := "", ""
			switch {
			case len(args) > 0:
				account = strings.Join(args, " ")
			case hasSel && sel.TodoID != "":
				todoID = sel.TodoID
			case hasSel:
				account = sel.AccountID
			}
			s, err := a.client.Start(account, todoID)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			label := s.Label
			if label == "" {
				label = s.AccountID
			}
			return commandResultMsg{fmt.Sprintf("✓ Focusing on %s", label)}

		case "stop":
			if _, err := a.client.Stop(); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"✓ Session stopped"}

		case "restart":
			loss, err := a.client.Restart()
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Restarted, %s booked as loss", ledger.FormatClock(loss))}

		case "ff":
			if _, err := a.client.FastForward(); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"✓ Phase skipped"}

		case "add", "sub":
			if len(args) < 1 {
				return commandResultMsg{"Usage: " + cmd + " <text>"}
			}
			parent := ""
			if cmd == "sub" {
				if !hasSel || sel.TodoID == "" || panel != panelTodos {
					return commandResultMsg{"Select a todo first"}
				}
				parent = sel.TodoID
			}
			t, err := a.client.AddTodo(strings.Join(args, " "), parent)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Added todo: %s", t.Text)}

		case "done":
			if !hasSel || sel.TodoID == "" {
				return commandResultMsg{"Select a todo first"}
			}
			t, err := a.client.CompleteTodo(sel.TodoID)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			if t.Completed {
				return commandResultMsg{"✓ Completed: " + t.Text}
			}
			return commandResultMsg{"✓ Reopened: " + t.Text}

		case "rm":
			if !hasSel || sel.TodoID == "" {
				return commandResultMsg{"Select a todo first"}
			}
			if err := a.client.DeleteTodo(sel.TodoID); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"✓ Deleted: " + sel.Title}

		case "account":
			if len(args) < 1 {
				return commandResultMsg{"Usage: account <name> [kind]"}
			}
			kind := models.AccountKindGeneral
			if len(args) > 1 {
				kind = models.AccountKind(args[1])
			}
			if err := a.client.CreateAccount(args[0], kind); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{"✓ Created account: " + args[0]}

		case "transfer":
			if len(args) != 3 {
				return commandResultMsg{"Usage: transfer <from> <to> <amount>"}
			}
			amount, err := ledger.ParseAmount(args[2])
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			if err := a.client.Transfer(args[0], args[1], amount); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Moved %s from %s to %s", ledger.FormatClock(amount), args[0], args[1])}

		case "q", "quit", "exit":
			return tea.Quit()

		default:
			return commandResultMsg{fmt.Sprintf("Unknown: %s (type / for commands)", cmd)}
		}
	}
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err  error
	poll bool
}

type pollMsg struct{}

type stateMsg struct {
	session  Session
	accounts []models.Account
	todos    []models.Todo
	logs     []models.LogEntry
}

// stateOnceMsg carries a refresh that must not schedule another poll.
type stateOnceMsg stateMsg
