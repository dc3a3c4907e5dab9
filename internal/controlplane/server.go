package controlplane

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/fentz26/timebook/internal/ledger"
	"github.com/fentz26/timebook/internal/models"
	"github.com/fentz26/timebook/internal/pomodoro"
)

// Version is reported by /health. Overridden at build time.
var Version = "dev"

// Storage is what the server reads from the database: its health and the
// decision records.
type Storage interface {
	Ping(ctx context.Context) error
	ListPDR(limit int) ([]models.PDREntry, error)
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Server provides the HTTP API for timebook.
type Server struct {
	service *Service
	db      Storage
	events  *Broadcaster
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server. db may be nil.
func NewServer(service *Service, db Storage, addr string) *Server {
	return &Server{
		service: service,
		db:      db,
		events:  NewBroadcaster(),
		addr:    addr,
	}
}

// Events returns the SSE broadcaster for engine notifications.
func (s *Server) Events() *Broadcaster {
	return s.events
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", s.listAccounts)
		r.Post("/", s.createAccount)
		r.Patch("/{name}", s.renameAccount)
		r.Delete("/{name}", s.deleteAccount)
		r.Post("/{name}/archive", s.archiveAccount)
		r.Post("/{name}/todo", s.convertToTodo)
	})
	r.Get("/monuments", s.listMonuments)
	r.Post("/transfers", s.transfer)

	r.Route("/todos", func(r chi.Router) {
		r.Get("/", s.listTodos)
		r.Post("/", s.addTodo)
		r.Patch("/{id}", s.renameTodo)
		r.Delete("/{id}", s.deleteTodo)
		r.Post("/{id}/complete", s.completeTodo)
	})

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.getSession)
		r.Post("/start", s.startSession)
		r.Post("/stop", s.stopSession)
		r.Post("/restart", s.restartSession)
		r.Post("/fast-forward", s.fastForward)
	})

	r.Get("/logs", s.listLogs)
	r.Delete("/logs", s.clearLogs)
	r.Get("/settings", s.getSettings)
	r.Put("/settings", s.updateSettings)
	r.Get("/export", s.export)
	r.Post("/import", s.importState)
	r.Get("/audit", s.listAudit)
	r.Get("/events", s.events.ServeHTTP)

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: /events responses are long-lived.
	}

	log.Info().Str("addr", s.addr).Msg("Starting timebook daemon")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	})
}

// --- Helpers ---

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ErrTodoNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrSameAccount),
		errors.Is(err, ledger.ErrInvalidName),
		errors.Is(err, ledger.ErrReservedAccount),
		errors.Is(err, pomodoro.ErrInvalidDurations),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidSettings),
		errors.Is(err, ErrInvalidImport):
		return http.StatusBadRequest
	case errors.Is(err, pomodoro.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return false
	}
	return true
}

func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			resp.OK = false
			resp.DB = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// --- Account Handlers ---

type createAccountRequest struct {
	Name string             `json:"name"`
	Kind models.AccountKind `json:"kind"`
}

type renameAccountRequest struct {
	Name string `json:"name"`
}

type archiveRequest struct {
	Archived *bool `json:"archived"`
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListAccounts())
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := s.service.CreateAccount(req.Name, req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) renameAccount(w http.ResponseWriter, r *http.Request) {
	var req renameAccountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.service.RenameAccount(r.Context(), pathParam(r, "name"), req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": req.Name})
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteAccount(r.Context(), pathParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) archiveAccount(w http.ResponseWriter, r *http.Request) {
	archived := true
	if r.ContentLength != 0 {
		var req archiveRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Archived != nil {
			archived = *req.Archived
		}
	}
	acct, err := s.service.SetArchived(pathParam(r, "name"), archived)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) convertToTodo(w http.ResponseWriter, r *http.Request) {
	todo, err := s.service.ConvertToTodo(r.Context(), pathParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, todo)
}

func (s *Server) listMonuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Monuments())
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.service.Transfer(req.From, req.To, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- Todo Handlers ---

type addTodoRequest struct {
	Text     string `json:"text"`
	ParentID string `json:"parent_id"`
	Account  string `json:"account"`
}

type renameTodoRequest struct {
	Text string `json:"text"`
}

func (s *Server) listTodos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListTodos())
}

func (s *Server) addTodo(w http.ResponseWriter, r *http.Request) {
	var req addTodoRequest
	if !decode(w, r, &req) {
		return
	}
	todo, err := s.service.AddTodo(r.Context(), req.Text, req.ParentID, req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, todo)
}

func (s *Server) renameTodo(w http.ResponseWriter, r *http.Request) {
	var req renameTodoRequest
	if !decode(w, r, &req) {
		return
	}
	todo, err := s.service.RenameTodo(r.Context(), pathParam(r, "id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, todo)
}

func (s *Server) completeTodo(w http.ResponseWriter, r *http.Request) {
	todo, err := s.service.CompleteTodo(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, todo)
}

func (s *Server) deleteTodo(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTodo(r.Context(), pathParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Session Handlers ---

type startRequest struct {
	Account string `json:"account"`
	TodoID  string `json:"todo_id"`
}

type restartResponse struct {
	LossSeconds int64 `json:"loss_seconds"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Session(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	view, err := s.service.StartSession(r.Context(), req.Account, req.TodoID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.StopSession(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) restartSession(w http.ResponseWriter, r *http.Request) {
	loss, err := s.service.RestartSession(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, restartResponse{LossSeconds: loss})
}

func (s *Server) fastForward(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.FastForward(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- Log Handlers ---

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	newest := true
	if v := r.URL.Query().Get("newest_first"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "newest_first must be a boolean"})
			return
		}
		newest = b
	}
	writeJSON(w, http.StatusOK, s.service.Logs(newest))
}

func (s *Server) clearLogs(w http.ResponseWriter, r *http.Request) {
	s.service.ClearLogs()
	w.WriteHeader(http.StatusNoContent)
}

// --- Audit Handlers ---

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if s.db == nil {
		writeJSON(w, http.StatusOK, []models.PDREntry{})
		return
	}
	entries, err := s.db.ListPDR(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list decision records")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []models.PDREntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Settings Handlers ---

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.service.Settings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.Settings
	if !decode(w, r, &req) {
		return
	}
	settings, err := s.service.UpdateSettings(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// --- Import/Export Handlers ---

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="timebook-export.json"`)
	if err := s.service.Export(r.Context(), w); err != nil {
		writeError(w, err)
	}
}

func (s *Server) importState(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Import(r.Context(), r.Body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}
