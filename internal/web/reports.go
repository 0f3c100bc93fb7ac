package web

import (
	"encoding/json"
	"net/http"
)

// handleReports serves get_timelapse_reports: GET /api/timelapse_reports.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Store.List())
}

// handleReport serves get_timelapse_report, delete_timelapse_report, and
// update_report_title against /api/timelapse_reports/{id}[/title].
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, isTitle := reportIDFromPath(r.URL.Path)
	if id == "" {
		http.Error(w, "report id required", http.StatusBadRequest)
		return
	}

	switch {
	case isTitle && r.Method == http.MethodPut:
		s.updateReportTitle(w, r, id)
	case !isTitle && r.Method == http.MethodGet:
		s.getReport(w, r, id)
	case !isTitle && r.Method == http.MethodDelete:
		s.deleteReport(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request, id string) {
	report, err := s.cfg.Store.Get(id)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) deleteReport(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.cfg.Store.Delete(id); err != nil {
		writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateReportTitleRequest struct {
	Title string `json:"title"`
}

func (s *Server) updateReportTitle(w http.ResponseWriter, r *http.Request, id string) {
	var req updateReportTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.cfg.Store.UpdateTitle(id, req.Title); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
