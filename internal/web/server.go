// Package web implements the inbound control surface of spec.md §6: a
// message-oriented command/event contract, bound here to a plain HTTP+SSE
// transport (the contract itself is transport-agnostic; this is the concrete
// transport this binary ships with, in the same spirit as the host's
// previous web console).
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fieldcam/camctl/internal/bus"
	"github.com/fieldcam/camctl/internal/logger"
	"github.com/fieldcam/camctl/internal/reportstore"
	"github.com/fieldcam/camctl/internal/session"
	"github.com/fieldcam/camctl/internal/timesync"
)

// Config wires a Server to the rest of the running system.
type Config struct {
	Port     int
	Password string

	Coordinator session.CoordinatorHandle
	Store       *reportstore.Store
	Proxy       *timesync.Machine

	// Events is the process-wide bus: sessions and the time-proxy machine
	// publish on it, and the web surface's SSE endpoint fans it out to
	// connected clients. It must be the same bus.Publisher instance passed
	// to session.New and timesync.New.
	Events *bus.Chan
}

// Server is the HTTP binding of the command/event contract.
type Server struct {
	cfg Config
	mux *http.ServeMux
	srv *http.Server
	log *logger.Logger

	rootCtx context.Context

	broadcaster *broadcaster

	mu     sync.Mutex
	active *session.Session
}

// NewServer builds a Server and registers its routes. rootCtx governs the
// lifetime of any session started through it, so it must outlive the
// server's own Start/Stop cycle (in practice, a context canceled on process
// shutdown, not a per-request context).
func NewServer(rootCtx context.Context, cfg Config) *Server {
	s := &Server{
		cfg:         cfg,
		mux:         http.NewServeMux(),
		log:         logger.Default(),
		rootCtx:     rootCtx,
		broadcaster: newBroadcaster(),
	}
	if cfg.Events != nil {
		go s.broadcaster.drain(cfg.Events.C)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/commands/start_intervalometer_with_title", s.authMiddleware(s.handleStart))
	s.mux.HandleFunc("/api/commands/pause_intervalometer", s.authMiddleware(s.handleSimpleCommand(func(sess *session.Session) error { return sess.Pause() })))
	s.mux.HandleFunc("/api/commands/resume_intervalometer", s.authMiddleware(s.handleSimpleCommand(func(sess *session.Session) error { return sess.Resume() })))
	s.mux.HandleFunc("/api/commands/stop_intervalometer", s.authMiddleware(s.handleSimpleCommand(func(sess *session.Session) error { return sess.Stop() })))
	s.mux.HandleFunc("/api/commands/update_session_title", s.authMiddleware(s.handleUpdateSessionTitle))

	s.mux.HandleFunc("/api/commands/client_connected", s.authMiddleware(s.handleClientConnected))
	s.mux.HandleFunc("/api/commands/client_disconnected", s.authMiddleware(s.handleClientDisconnected))
	s.mux.HandleFunc("/api/commands/client_time_response", s.authMiddleware(s.handleClientTimeResponse))
	s.mux.HandleFunc("/api/commands/manual_time_sync", s.authMiddleware(s.handleManualTimeSync))

	s.mux.HandleFunc("/api/timelapse_reports", s.authMiddleware(s.handleReports))
	s.mux.HandleFunc("/api/timelapse_reports/", s.authMiddleware(s.handleReport))

	s.mux.HandleFunc("/api/status", s.authMiddleware(s.handleStatus))
	s.mux.HandleFunc("/api/events", s.authMiddleware(s.handleEvents))

	s.mux.HandleFunc("/healthz", s.handleHealthz)
}

// Start runs the HTTP server; it blocks until Stop is called or
// ListenAndServe fails.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the SSE endpoint streams indefinitely
		IdleTimeout:  60 * time.Second,
	}
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// GetMux exposes the mux for tests.
func (s *Server) GetMux() *http.ServeMux { return s.mux }

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, password, ok := r.BasicAuth()
		if !ok || password != s.cfg.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="camctl"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	connected := s.cfg.Coordinator != nil && s.cfg.Coordinator.Connected()
	if !connected {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"camera_connected": connected,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]any{
		"camera_connected": s.cfg.Coordinator != nil && s.cfg.Coordinator.Connected(),
	}

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		stats := active.Stats()
		status["session"] = map[string]any{
			"id":               active.ID(),
			"title":            active.Title(),
			"state":            active.State(),
			"shots_taken":      stats.ShotsTaken,
			"shots_successful": stats.ShotsSuccessful,
			"shots_failed":     stats.ShotsFailed,
			"success_rate":     stats.SuccessRate(),
		}
	}

	if s.cfg.Proxy != nil {
		ps := s.cfg.Proxy.State()
		status["time_proxy"] = map[string]any{
			"tier":           ps.Tier.String(),
			"client_address": ps.ClientAddress,
			"is_valid":       s.cfg.Proxy.IsValid(),
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// reportIDFromPath extracts the {id} segment from /api/timelapse_reports/{id}
// or /api/timelapse_reports/{id}/title, mirroring the host's manual
// path-parsing style for its other list/item endpoints.
func reportIDFromPath(p string) (id string, isTitle bool) {
	trimmed := strings.TrimPrefix(p, "/api/timelapse_reports/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", false
	}
	return parts[0], len(parts) > 1 && parts[1] == "title"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeCommandError maps a core error to the HTTP status a caller should
// react to: validation/contention errors are the caller's fault (4xx),
// anything else is ours (5xx). See spec.md §7's error taxonomy.
func writeCommandError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *session.InvalidTitleError, *session.InvalidIntervalError, *session.InvalidConfigError:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case *session.CameraNotConnectedError:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case *session.AlreadyRunningError, *session.NotRunningError:
		http.Error(w, err.Error(), http.StatusConflict)
	case *reportstore.NotFoundError:
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
