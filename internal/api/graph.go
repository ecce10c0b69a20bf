package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/djinnbot/djinnbot/internal/core"
)

type addDependencyRequest struct {
	FromTaskID string `json:"from_task_id"`
	Type       string `json:"type"`
}

// handleAddDependency adds an edge from the given task to the task in the
// URL: the URL task is blocked by (or informed by) from_task_id.
func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req addDependencyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	depType := core.DependencyType(req.Type)
	if depType == "" {
		depType = core.DependencyBlocks
	}
	edge, err := s.graph.AddEdge(r.Context(), projectID(r), core.TaskID(req.FromTaskID), taskID(r), depType)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, edge)
}

func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	if err := s.graph.RemoveEdge(r.Context(), core.EdgeID(chi.URLParam(r, "edgeID"))); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleDependencyGraph(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.graph.Graph(r.Context(), projectID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	hoursPerDay := 8.0
	if v := r.URL.Query().Get("hours_per_day"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			s.respondError(w, core.ErrValidation("BAD_HOURS_PER_DAY", "hours_per_day must be a positive number"))
			return
		}
		hoursPerDay = parsed
	}
	timeline, err := s.graph.Timeline(r.Context(), projectID(r), hoursPerDay)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, timeline)
}
