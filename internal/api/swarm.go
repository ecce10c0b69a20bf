package api

import (
	"net/http"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/swarm"
)

type boardSwarmRequest struct {
	TaskIDs []core.TaskID `json:"task_ids"`
}

func (s *Server) handleBoardSwarm(w http.ResponseWriter, r *http.Request) {
	var req boardSwarmRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	swarmID, err := s.swarm.BoardSwarm(r.Context(), projectID(r), req.TaskIDs)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"swarm_id": swarmID})
}

type executeDAGRequest struct {
	DAG swarm.DAG `json:"dag"`
}

func (s *Server) handleExecuteDAG(w http.ResponseWriter, r *http.Request) {
	var req executeDAGRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	swarmID, err := s.swarm.ExecuteDAG(r.Context(), projectID(r), req.DAG)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"swarm_id": swarmID})
}
