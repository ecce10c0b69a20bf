package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type wakeRequest struct {
	SourceAgentID string `json:"source_agent_id"`
	Reason        string `json:"reason"`
}

// handleWake triggers a pulse for an agent. Guardrail suppression is not an
// error; the response reports whether the wake was emitted.
func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	var req wakeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "external"
	}
	woken := s.scheduler.Wake(r.Context(), chi.URLParam(r, "agentID"), req.SourceAgentID, req.Reason)
	respondJSON(w, http.StatusOK, map[string]interface{}{"woken": woken})
}
