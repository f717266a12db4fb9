package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/applyforge/content"
	"github.com/hupe1980/applyforge/core"
)

// generateRequest is the wire form of a generation request. Preferences
// is a pointer so an absent field means "everything", not "nothing".
type generateRequest struct {
	OwnerID     string            `json:"owner_id"`
	RawInput    string            `json:"raw_input"`
	SessionID   string            `json:"session_id,omitempty"`
	Profile     string            `json:"profile,omitempty"`
	Preferences *core.Preferences `json:"preferences,omitempty"`
}

func (g generateRequest) toCore() core.GenerationRequest {
	req := core.NewGenerationRequest(g.OwnerID, g.RawInput)
	req.SessionID = g.SessionID
	req.Profile = g.Profile
	if g.Preferences != nil {
		req.Preferences = *g.Preferences
	}
	return req
}

type startResponse struct {
	RunID     string `json:"run_id"`
	EventsURL string `json:"events_url"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusForError maps the core error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrSessionLocked),
		errors.Is(err, core.ErrSessionProcessing),
		errors.Is(err, core.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) domainError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	}
	Error(w, status, err.Error())
}

func (s *Server) handleStartGeneration(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	runID, _, _, err := s.app.StartGeneration(r.Context(), req.toCore())
	if err != nil {
		s.domainError(w, err)
		return
	}

	// Every event reaches the broker through the app's sink; the push
	// channels returned by StartGeneration are redundant here.
	s.broker.Register(runID)

	JSON(w, http.StatusAccepted, startResponse{
		RunID:     runID,
		EventsURL: "/api/runs/" + runID + "/events",
	})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.app.Cancel(runID); err != nil {
		Error(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		Error(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	sessions, err := s.app.Sessions().List(r.Context(), owner)
	if err != nil {
		s.domainError(w, err)
		return
	}

	statuses := make([]core.SessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		statuses = append(statuses, sess.Status())
	}
	JSON(w, http.StatusOK, statuses)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.app.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.app.SessionStatus(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	JSON(w, http.StatusOK, status)
}

func (s *Server) handleSessionLog(w http.ResponseWriter, r *http.Request) {
	log, err := s.app.SessionLog(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	if log == nil {
		log = []core.LogLine{}
	}
	JSON(w, http.StatusOK, log)
}

func (s *Server) handleApproveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.app.ApproveSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	sess, err := s.app.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.domainError(w, err)
		return
	}

	kind := core.DocumentKind(chi.URLParam(r, "kind"))
	ref, ok := sess.Documents[kind]
	if !ok {
		Error(w, http.StatusNotFound, "document not available")
		return
	}

	if r.URL.Query().Get("artifact") == "true" {
		if ref.ArtifactPath == "" {
			Error(w, http.StatusNotFound, "no compiled artifact for this document")
			return
		}
		data, err := s.app.Contents().Read(r.Context(), ref.ArtifactPath)
		if err != nil {
			s.domainError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(data)
		return
	}

	data, err := s.app.Contents().Read(r.Context(), ref.SourcePath)
	if err != nil {
		s.domainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
