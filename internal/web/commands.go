package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fieldcam/camctl/internal/session"
	"github.com/fieldcam/camctl/internal/timesync"
	"github.com/google/uuid"
)

type startRequest struct {
	Interval      int        `json:"interval"`
	Shots         *int       `json:"shots,omitempty"`
	StopTime      *time.Time `json:"stop_time,omitempty"`
	StopCondition string     `json:"stop_condition"`
	Title         string     `json:"title,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	cfg := session.Config{
		IntervalSeconds: req.Interval,
		StopCondition:   session.StopCondition(req.StopCondition),
		Title:           req.Title,
	}
	switch cfg.StopCondition {
	case session.StopAfterShots:
		if req.Shots != nil {
			cfg.TotalShots = *req.Shots
		}
	case session.StopAtTime:
		if req.StopTime != nil {
			cfg.StopAt = *req.StopTime
		}
	case session.StopUnlimited:
	default:
		http.Error(w, "stop_condition must be one of unlimited, stop-after, stop-at", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.active != nil && !s.active.State().Terminal() {
		s.mu.Unlock()
		http.Error(w, "a session is already active", http.StatusConflict)
		return
	}
	sess := session.New(uuid.New().String(), s.cfg.Coordinator, s.cfg.Events, s.cfg.Store, cfg)
	s.active = sess
	s.mu.Unlock()

	if err := sess.Start(s.rootCtx); err != nil {
		s.mu.Lock()
		if s.active == sess {
			s.active = nil
		}
		s.mu.Unlock()
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID(), "title": sess.Title()})
}

// handleSimpleCommand adapts a no-body, no-response command (pause, resume,
// stop) against whichever session is currently active.
func (s *Server) handleSimpleCommand(fn func(*session.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.mu.Lock()
		sess := s.active
		s.mu.Unlock()
		if sess == nil {
			http.Error(w, "no active session", http.StatusConflict)
			return
		}

		if err := fn(sess); err != nil {
			writeCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

type updateTitleRequest struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

func (s *Server) handleUpdateSessionTitle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()
	if sess == nil || sess.ID() != req.SessionID {
		http.Error(w, "no active session with that session_id", http.StatusNotFound)
		return
	}

	if err := sess.SetTitle(req.Title); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type clientConnectedRequest struct {
	Address   string `json:"address"`
	Interface string `json:"interface"`
}

func (s *Server) handleClientConnected(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Proxy == nil {
		http.Error(w, "time proxy not configured", http.StatusServiceUnavailable)
		return
	}

	var req clientConnectedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	var tier timesync.Tier
	switch req.Interface {
	case "ap0":
		tier = timesync.TierAP0
	case "wlan0":
		tier = timesync.TierWLAN0
	default:
		http.Error(w, "interface must be ap0 or wlan0", http.StatusBadRequest)
		return
	}

	s.cfg.Proxy.ClientConnected(req.Address, tier)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type clientDisconnectedRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleClientDisconnected(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Proxy == nil {
		http.Error(w, "time proxy not configured", http.StatusServiceUnavailable)
		return
	}

	var req clientDisconnectedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.cfg.Proxy.ClientDisconnected(req.Address)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type clientTimeResponseRequest struct {
	Address    string    `json:"address"`
	ClientTime time.Time `json:"client_time"`
	Timezone   string    `json:"timezone,omitempty"`
}

func (s *Server) handleClientTimeResponse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Proxy == nil {
		http.Error(w, "time proxy not configured", http.StatusServiceUnavailable)
		return
	}

	var req clientTimeResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.cfg.Proxy.ClientTimeResponseReceived(req.Address, req.ClientTime, req.Timezone)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleManualTimeSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Proxy == nil {
		http.Error(w, "time proxy not configured", http.StatusServiceUnavailable)
		return
	}

	s.cfg.Proxy.ManualSync()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
