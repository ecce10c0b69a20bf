package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/engine"
)

type createProjectRequest struct {
	Name              string               `json:"name"`
	Description       string               `json:"description"`
	Repository        string               `json:"repository"`
	DefaultPipelineID string               `json:"default_pipeline_id"`
	Semantics         core.StatusSemantics `json:"status_semantics"`
	WorkspaceType     string               `json:"workspace_type"`
}

type projectResponse struct {
	Project *core.Project        `json:"project"`
	Columns []*core.KanbanColumn `json:"columns,omitempty"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	project, columns, err := s.engine.CreateProject(r.Context(), engine.CreateProjectRequest{
		Name:              req.Name,
		Description:       req.Description,
		Repository:        req.Repository,
		DefaultPipelineID: req.DefaultPipelineID,
		Semantics:         req.Semantics,
		WorkspaceType:     core.WorkspaceType(req.WorkspaceType),
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, projectResponse{Project: project, Columns: columns})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), projectID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	columns, err := s.store.ListColumns(r.Context(), project.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, projectResponse{Project: project, Columns: columns})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteProject(r.Context(), projectID(r)); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type columnRequest struct {
	Name     string   `json:"name"`
	Position int      `json:"position"`
	WIPLimit *int     `json:"wip_limit"`
	Statuses []string `json:"task_statuses"`
}

func (s *Server) handleListColumns(w http.ResponseWriter, r *http.Request) {
	columns, err := s.store.ListColumns(r.Context(), projectID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"columns": columns})
}

func (s *Server) handleCreateColumn(w http.ResponseWriter, r *http.Request) {
	var req columnRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	column, err := s.engine.CreateColumn(r.Context(), projectID(r), req.Name, req.Position, req.WIPLimit, req.Statuses)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, column)
}

func (s *Server) handleUpdateColumn(w http.ResponseWriter, r *http.Request) {
	var req columnRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	column := &core.KanbanColumn{
		ID:           core.ColumnID(chi.URLParam(r, "columnID")),
		ProjectID:    projectID(r),
		Name:         req.Name,
		Position:     req.Position,
		WIPLimit:     req.WIPLimit,
		TaskStatuses: req.Statuses,
	}
	if err := s.engine.UpdateColumn(r.Context(), column); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, column)
}

func (s *Server) handleDeleteColumn(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteColumn(r.Context(), core.ColumnID(chi.URLParam(r, "columnID"))); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
