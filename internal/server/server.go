// Package server provides the read-only HTTP/WebSocket observe surface
// for `sw serve`: registry snapshots and live status events for dashboards
// and editor integrations. All mutations stay on the CLI path where the
// file lock coordinates them; the server never writes state.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/brianly1003/sw/internal/domain/ports"
	"github.com/brianly1003/sw/internal/history"
	"github.com/brianly1003/sw/internal/orchestrator"
)

// Server is the observe HTTP/WebSocket server.
type Server struct {
	orch   *orchestrator.Orchestrator
	hist   *history.Log
	hub    ports.EventHub
	logger *slog.Logger

	addr       string
	httpServer *http.Server

	mu          sync.RWMutex
	connections int
}

// NewServer creates an observe server. hist may be nil when history
// recording is disabled.
func NewServer(host string, port int, orch *orchestrator.Orchestrator, hist *history.Log, hub ports.EventHub, logger *slog.Logger) *Server {
	return &Server{
		orch:   orch,
		hist:   hist,
		hub:    hub,
		logger: logger,
		addr:   fmt.Sprintf("%s:%d", host, port),
	}
}

func (s *Server) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/registry", s.handleRegistry).Methods("GET")
	api.HandleFunc("/worktrees/{name}/history", s.handleHistory).Methods("GET")

	router.HandleFunc("/ws", s.handleWebSocket)
	return router
}

// Start begins serving in the background.
func (s *Server) Start() error {
	router := s.router()

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("observe server starting", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("observe server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("observe server stopping")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	conns := s.connections
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": conns,
	})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	entries, err := s.orch.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	type worktreeView struct {
		Name     string      `json:"name"`
		Path     string      `json:"path"`
		Branch   string      `json:"branch"`
		Dirty    bool        `json:"dirty"`
		Ahead    int         `json:"ahead"`
		Behind   int         `json:"behind"`
		Sessions interface{} `json:"sessions"`
	}
	views := make([]worktreeView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, worktreeView{
			Name:     entry.Worktree.Name,
			Path:     entry.Worktree.Path,
			Branch:   entry.Worktree.Branch,
			Dirty:    entry.Dirty,
			Ahead:    entry.Ahead,
			Behind:   entry.Behind,
			Sessions: entry.Worktree.Sessions,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"repo_root": s.orch.Config().RepoRoot,
		"worktrees": views,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("history recording is disabled"))
		return
	}
	name := mux.Vars(r)["name"]
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	transitions, err := s.hist.ByWorktree(name, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"worktree":    name,
		"transitions": transitions,
	})
}

func (s *Server) trackConnection(delta int) {
	s.mu.Lock()
	s.connections += delta
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func newClientID() string {
	return uuid.New().String()
}
