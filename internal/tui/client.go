package tui

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/fentz26/timebook/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the timebook API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// Session fetches the pomodoro session.
func (c *Client) Session() (Session, error) {
	var s Session
	err := c.do(http.MethodGet, "/session", nil, &s)
	return s, err
}

// Start starts focusing on an account or, when todoID is set, on a todo.
func (c *Client) Start(account, todoID string) (Session, error) {
	var s Session
	body := map[string]string{"account": account, "todo_id": todoID}
	err := c.do(http.MethodPost, "/session/start", body, &s)
	return s, err
}

// Stop stops the session.
func (c *Client) Stop() (Session, error) {
	var s Session
	err := c.do(http.MethodPost, "/session/stop", nil, &s)
	return s, err
}

// Restart abandons the current phase and returns the seconds lost.
func (c *Client) Restart() (int64, error) {
	var result struct {
		LossSeconds int64 `json:"loss_seconds"`
	}
	err := c.do(http.MethodPost, "/session/restart", nil, &result)
	return result.LossSeconds, err
}

// FastForward ends the current phase.
func (c *Client) FastForward() (Session, error) {
	var s Session
	err := c.do(http.MethodPost, "/session/fast-forward", nil, &s)
	return s, err
}

// Accounts lists accounts with their balances.
func (c *Client) Accounts() ([]models.Account, error) {
	var accounts []models.Account
	err := c.do(http.MethodGet, "/accounts", nil, &accounts)
	return accounts, err
}

// CreateAccount creates an account of the given kind.
func (c *Client) CreateAccount(name string, kind models.AccountKind) error {
	return c.do(http.MethodPost, "/accounts", map[string]string{"name": name, "kind": string(kind)}, nil)
}

// Transfer moves seconds between two accounts.
func (c *Client) Transfer(from, to string, seconds int64) error {
	body := map[string]any{"from": from, "to": to, "amount": seconds}
	return c.do(http.MethodPost, "/transfers", body, nil)
}

// Todos lists todos.
func (c *Client) Todos() ([]models.Todo, error) {
	var todos []models.Todo
	err := c.do(http.MethodGet, "/todos", nil, &todos)
	return todos, err
}

// AddTodo creates a todo with its own account.
func (c *Client) AddTodo(text, parentID string) (models.Todo, error) {
	var t models.Todo
	err := c.do(http.MethodPost, "/todos", map[string]string{"text": text, "parent_id": parentID}, &t)
	return t, err
}

// CompleteTodo toggles a todo's completion.
func (c *Client) CompleteTodo(id string) (models.Todo, error) {
	var t models.Todo
	err := c.do(http.MethodPost, "/todos/"+url.PathEscape(id)+"/complete", nil, &t)
	return t, err
}

// DeleteTodo deletes a todo and its subtree.
func (c *Client) DeleteTodo(id string) error {
	return c.do(http.MethodDelete, "/todos/"+url.PathEscape(id), nil, nil)
}

// Logs fetches the time log, newest first.
func (c *Client) Logs() ([]models.LogEntry, error) {
	var entries []models.LogEntry
	err := c.do(http.MethodGet, "/logs?newest_first=true", nil, &entries)
	return entries, err
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	var health struct {
		OK bool `json:"ok"`
	}
	if err := c.do(http.MethodGet, "/health", nil, &health); err != nil {
		return false, err
	}
	return health.OK, nil
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := string(bytes.TrimSpace(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
