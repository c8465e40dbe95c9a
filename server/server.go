// Package server provides the HTTP API for reporting failed executions and
// inspecting resume records.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/KamdynS/sfnresume/history"
	"github.com/KamdynS/sfnresume/persister"
	"github.com/KamdynS/sfnresume/state"
)

// Persister is the part of persister.Persister the server drives.
type Persister interface {
	Persist(ctx context.Context, executionARN string) (*state.ResumeRecord, error)
}

// Server provides HTTP API for resume records
type Server struct {
	persister  Persister
	store      state.Store
	logger     *slog.Logger
	httpServer *http.Server
	port       int
	poll       time.Duration
	heartbeat  time.Duration
}

// Config holds server configuration
type Config struct {
	Persister Persister
	Store     state.Store
	Port      int
	Logger    *slog.Logger
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	// SSE intervals for GET /resumes/{arn} with Accept: text/event-stream.
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

// New creates a new resume API server
func New(cfg Config) (*Server, error) {
	if cfg.Persister == nil {
		return nil, fmt.Errorf("persister is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	server := &Server{
		persister: cfg.Persister,
		store:     cfg.Store,
		logger:    cfg.Logger,
		port:      cfg.Port,
		poll:      cfg.PollInterval,
		heartbeat: cfg.HeartbeatInterval,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /executions/failed", server.handleFailedExecution)
	mux.HandleFunc("GET /resumes", server.handleListResumes)
	mux.HandleFunc("GET /resumes/{arn}", server.handleGetResume)
	mux.HandleFunc("GET /health", server.handleHealth)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	server.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	return server, nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting resume API server", "port", s.port)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping resume API server")
	return s.httpServer.Shutdown(ctx)
}

// FailedExecutionRequest reports a failed execution. Either ExecutionARN is
// set directly or the body is an EventBridge "Step Functions Execution Status
// Change" event carrying it in Detail.
type FailedExecutionRequest struct {
	ExecutionARN string          `json:"executionArn"`
	Detail       *ExecutionEvent `json:"detail,omitempty"`
}

// ExecutionEvent is the detail of an execution status change event.
type ExecutionEvent struct {
	ExecutionARN string `json:"executionArn"`
	Status       string `json:"status"`
}

// PersistResponse wraps the record created (or found) for an execution.
type PersistResponse struct {
	Created bool                `json:"created"`
	Record  *state.ResumeRecord `json:"record"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleFailedExecution handles POST /executions/failed
func (s *Server) handleFailedExecution(w http.ResponseWriter, r *http.Request) {
	var req FailedExecutionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	arn := req.ExecutionARN
	if req.Detail != nil {
		if req.Detail.Status != "" && req.Detail.Status != "FAILED" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if arn == "" {
			arn = req.Detail.ExecutionARN
		}
	}
	if arn == "" {
		s.sendError(w, http.StatusBadRequest, "executionArn is required")
		return
	}

	rec, err := s.persister.Persist(r.Context(), arn)
	switch {
	case err == nil:
		s.sendJSON(w, http.StatusAccepted, PersistResponse{Created: true, Record: rec})
	case errors.Is(err, persister.ErrAlreadyPersisted):
		s.sendJSON(w, http.StatusOK, PersistResponse{Created: false, Record: rec})
	default:
		status := persistErrorStatus(err)
		s.logger.Warn("persist failed", "execution", arn, "status", status, "error", err)
		s.sendError(w, status, err.Error())
	}
}

func persistErrorStatus(err error) int {
	switch {
	case errors.Is(err, persister.ErrInvalidExecutionARN):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrEmptyHistory),
		errors.Is(err, history.ErrLookup),
		errors.Is(err, history.ErrChainExhausted),
		errors.Is(err, history.ErrUnmappedFailure),
		errors.Is(err, history.ErrMalformedInput):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// handleListResumes handles GET /resumes?status=
func (s *Server) handleListResumes(w http.ResponseWriter, r *http.Request) {
	status := state.ResumeStatus(r.URL.Query().Get("status"))
	switch status {
	case "", state.StatusPending, state.StatusStarted, state.StatusFailed:
	default:
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}
	recs, err := s.store.ListResumes(r.Context(), status)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list resumes: %v", err))
		return
	}
	if recs == nil {
		recs = []*state.ResumeRecord{}
	}
	s.sendJSON(w, http.StatusOK, recs)
}

// handleGetResume handles GET /resumes/{arn}, streaming status changes when
// the client asks for text/event-stream.
func (s *Server) handleGetResume(w http.ResponseWriter, r *http.Request) {
	arn := r.PathValue("arn")
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		get := func(ctx context.Context) (*state.ResumeRecord, error) {
			return s.store.GetResume(ctx, arn)
		}
		if err := StreamRecord(r.Context(), w, get, s.poll, s.heartbeat); err != nil {
			s.logger.Debug("record stream ended", "execution", arn, "error", err)
		}
		return
	}

	rec, err := s.store.GetResume(r.Context(), arn)
	if errors.Is(err, state.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "resume not found")
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, rec)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
