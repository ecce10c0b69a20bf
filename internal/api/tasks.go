package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/engine"
	"github.com/djinnbot/djinnbot/internal/workspace"
)

type createTaskRequest struct {
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Status         string        `json:"status"`
	Priority       string        `json:"priority"`
	WorkType       string        `json:"work_type"`
	Tags           []string      `json:"tags"`
	EstimatedHours float64       `json:"estimated_hours"`
	ParentTaskID   string        `json:"parent_task_id"`
	ColumnID       string        `json:"column_id"`
	AssignedAgent  string        `json:"assigned_agent"`
	Dependencies   []core.TaskID `json:"dependencies"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	task, err := s.engine.CreateTask(r.Context(), projectID(r), engine.CreateTaskRequest{
		Title:          req.Title,
		Description:    req.Description,
		Status:         req.Status,
		Priority:       core.Priority(req.Priority),
		WorkType:       core.WorkType(req.WorkType),
		Tags:           req.Tags,
		EstimatedHours: req.EstimatedHours,
		ParentTaskID:   core.TaskID(req.ParentTaskID),
		ColumnID:       core.ColumnID(req.ColumnID),
		AssignedAgent:  req.AssignedAgent,
		Dependencies:   req.Dependencies,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context(), projectID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), taskID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if task.ProjectID != projectID(r) {
		s.respondError(w, core.ErrNotFound("task", string(task.ID)))
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteTask(r.Context(), taskID(r)); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type claimRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	result, err := s.engine.ClaimTask(r.Context(), projectID(r), taskID(r), req.AgentID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"outcome": result.Outcome,
		"task":    result.Task,
		"branch":  result.Branch,
	})
}

type transitionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	result, err := s.engine.Transition(r.Context(), projectID(r), taskID(r), req.Status, req.Note)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"task": result.Task,
		"from": result.From,
		"to":   result.To,
	})
}

type moveRequest struct {
	ColumnID string `json:"column_id"`
	Position int    `json:"position"`
}

func (s *Server) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	task, err := s.engine.MoveTask(r.Context(), projectID(r), taskID(r), core.ColumnID(req.ColumnID), req.Position)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleReadyTasks(w http.ResponseWriter, r *http.Request) {
	q := engine.ReadyQuery{
		AgentID: r.URL.Query().Get("agent_id"),
	}
	if v := r.URL.Query().Get("statuses"); v != "" {
		q.Statuses = strings.Split(v, ",")
	}
	if v := r.URL.Query().Get("work_types"); v != "" {
		q.WorkTypes = strings.Split(v, ",")
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.respondError(w, core.ErrValidation("BAD_LIMIT", "limit must be a non-negative integer"))
			return
		}
		q.Limit = limit
	}
	result, err := s.engine.ReadyTasks(r.Context(), projectID(r), q)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type importRequest struct {
	Tasks []importTaskItem `json:"tasks"`
}

type importTaskItem struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       string   `json:"priority"`
	WorkType       string   `json:"work_type"`
	Tags           []string `json:"tags"`
	EstimatedHours float64  `json:"estimated_hours"`
	Dependencies   []string `json:"dependencies"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	items := make([]engine.ImportTask, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		items = append(items, engine.ImportTask{
			Title:          t.Title,
			Description:    t.Description,
			Priority:       core.Priority(t.Priority),
			WorkType:       core.WorkType(t.WorkType),
			Tags:           t.Tags,
			EstimatedHours: t.EstimatedHours,
			Dependencies:   t.Dependencies,
		})
	}
	tasks, err := s.engine.Import(r.Context(), projectID(r), items)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"tasks": tasks})
}

type worktreeRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleRequestWorktree(w http.ResponseWriter, r *http.Request) {
	var req worktreeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	branch, err := s.workspaces.EnsureTaskBranch(r.Context(), taskID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	path, err := s.workspaces.RequestWorktree(r.Context(), req.AgentID, projectID(r), taskID(r), branch)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"path":   path,
		"branch": branch,
	})
}

func (s *Server) handleRemoveWorktree(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	s.workspaces.RequestWorktreeRemoval(r.Context(), agentID, projectID(r), taskID(r))
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

type pullRequestRequest struct {
	AgentID    string `json:"agent_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Draft      bool   `json:"draft"`
	BaseBranch string `json:"base_branch"`
}

func (s *Server) handleOpenPullRequest(w http.ResponseWriter, r *http.Request) {
	var req pullRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	pr, err := s.workspaces.OpenPullRequest(r.Context(), projectID(r), taskID(r), workspace.OpenPullRequestOptions{
		Title:      req.Title,
		Body:       req.Body,
		Draft:      req.Draft,
		BaseBranch: req.BaseBranch,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, pr)
}

func (s *Server) handlePullRequestStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.workspaces.PullRequestStatus(r.Context(), projectID(r), taskID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type setupWorkspaceRequest struct {
	RepoURL        string `json:"repo_url"`
	InstallationID *int64 `json:"installation_id"`
}

func (s *Server) handleSetupWorkspace(w http.ResponseWriter, r *http.Request) {
	var req setupWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	pid := projectID(r)
	repoURL := req.RepoURL
	if repoURL == "" {
		project, err := s.store.GetProject(r.Context(), pid)
		if err != nil {
			s.respondError(w, err)
			return
		}
		repoURL = project.Repository
	}
	result, err := s.workspaces.SetupProject(r.Context(), pid, repoURL, req.InstallationID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
