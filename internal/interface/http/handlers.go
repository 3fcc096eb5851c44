package http

import (
	"net/http"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "Voice Tutor Hub API",
		"version": "v1",
		"endpoints": map[string]string{
			"health":   "/health",
			"webhook":  "/webhook/voice",
			"sessions": "/api/v1/sessions",
		},
	})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{
			"status": "healthy",
			"uptime": s.Uptime().String(),
		})
		return
	}

	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles GET /ready for readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		status := s.deps.Health.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles GET /live for liveness probes.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListSessions handles GET /api/v1/sessions?status=failed&limit=50.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	status := queryParam(r, "status", "failed")
	limit := queryParamInt(r, "limit", 50)

	views, err := s.deps.Sessions.ListByStatus(r.Context(), status, limit)
	if err != nil {
		s.writeDomainError(w, err, "ListSessions")
		return
	}
	writeJSON(w, r, http.StatusOK, views)
}

// handleGetSession handles GET /api/v1/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "session id is required")
		return
	}

	detail, err := s.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "GetSession")
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// handleGetSessionByCall handles GET /api/v1/calls/{call_id}/session.
func (s *Server) handleGetSessionByCall(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")
	if callID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "call id is required")
		return
	}

	detail, err := s.deps.Sessions.GetByCallID(r.Context(), callID)
	if err != nil {
		s.writeDomainError(w, err, "GetSessionByCall")
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// handleReapplySession handles POST /api/v1/sessions/{id}/reapply. Requeues a
// failed session that still holds a validated delta and applies it, without
// re-running analysis.
func (s *Server) handleReapplySession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "session id is required")
		return
	}

	report, err := s.deps.Sessions.Reapply(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "ReapplySession")
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetStudent handles GET /api/v1/students/{id}.
func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "student id is required")
		return
	}

	view, err := s.deps.Students.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "GetStudent")
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleStudentProfiles handles GET /api/v1/students/{id}/profiles.
func (s *Server) handleStudentProfiles(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "student id is required")
		return
	}

	history, err := s.deps.Students.ProfileHistory(r.Context(), id, queryParamInt(r, "limit", 20))
	if err != nil {
		s.writeDomainError(w, err, "StudentProfiles")
		return
	}
	writeJSON(w, r, http.StatusOK, history)
}

// handleStudentProgress handles GET /api/v1/students/{id}/progress.
func (s *Server) handleStudentProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "student id is required")
		return
	}

	progress, err := s.deps.Students.Progress(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "StudentProgress")
		return
	}
	writeJSON(w, r, http.StatusOK, progress)
}
