// Package server exposes runs, their progress streams and runtime status
// over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/resumerank/internal/documents"
	"github.com/raphaelgruber/resumerank/internal/models"
	"github.com/raphaelgruber/resumerank/internal/service"
)

// Server routes HTTP requests to the App.
type Server struct {
	app      *service.App
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New creates a server for app.
func New(app *service.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		app:    app,
		logger: logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local dev
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /runs", s.handleSubmit)
	s.mux.HandleFunc("GET /runs", s.handleListRuns)
	s.mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	s.mux.HandleFunc("GET /runs/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /runs/{id}/ws", s.handleWS)
	s.mux.HandleFunc("GET /limits", s.handleLimits)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.logger)(s.mux)
}

// Submission modes.
const (
	ModeAsync = "async"
	ModeSync  = "sync"
)

// SubmitRequest is the body of POST /runs.
type SubmitRequest struct {
	RunID       string                   `json:"runId,omitempty"`
	Locator     string                   `json:"locator,omitempty"`
	Documents   []service.InlineDocument `json:"documents,omitempty"`
	Description string                   `json:"description"`
	Mode        string                   `json:"mode,omitempty"`
}

// SubmitResponse is returned by POST /runs. Outcomes are only set for sync runs.
type SubmitResponse struct {
	RunID    string           `json:"runId"`
	Status   string           `json:"status"`
	Outcomes []models.Outcome `json:"outcomes,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 32<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Mode == "" {
		req.Mode = ModeAsync
	}
	if req.Mode != ModeAsync && req.Mode != ModeSync {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "mode must be async or sync"})
		return
	}

	run, err := s.app.Prepare(r.Context(), service.SubmitRequest{
		RunID:       req.RunID,
		Locator:     req.Locator,
		Documents:   req.Documents,
		Description: req.Description,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if req.Mode == ModeAsync {
		s.app.RunAsync(run)
		writeJSON(w, http.StatusAccepted, SubmitResponse{RunID: run.ID, Status: "accepted"})
		return
	}

	// A sync run can take far longer than the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	outcomes, err := s.app.RunSync(r.Context(), run)
	resp := SubmitResponse{
		RunID:    run.ID,
		Status:   string(run.Snapshot().Status),
		Outcomes: outcomes,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.app.Runs.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []service.RunView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	view, err := s.app.Runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Limiter.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Metrics.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps service errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrNoDocuments),
		errors.Is(err, documents.ErrNotFound), errors.Is(err, documents.ErrUnsupported):
		status = http.StatusBadRequest
	case errors.Is(err, documents.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrRunExists):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request error", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
