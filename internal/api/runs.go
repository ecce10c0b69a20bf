package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/dispatch"
)

type startRunRequest struct {
	PipelineID        string `json:"pipeline_id"`
	ProjectID         string `json:"project_id"`
	TaskDescription   string `json:"task_description"`
	HumanContext      string `json:"human_context"`
	InitiatedByUserID string `json:"initiated_by_user_id"`
	ModelOverride     string `json:"model_override"`
	TaskBranch        string `json:"task_branch"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	run, err := s.dispatcher.StartRun(r.Context(), dispatch.StartRunRequest{
		PipelineID:        req.PipelineID,
		ProjectID:         core.ProjectID(req.ProjectID),
		TaskDescription:   req.TaskDescription,
		HumanContext:      req.HumanContext,
		InitiatedByUserID: req.InitiatedByUserID,
		ModelOverride:     req.ModelOverride,
		TaskBranch:        req.TaskBranch,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			s.respondError(w, core.ErrValidation("BAD_LIMIT", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), runID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	steps, err := s.store.ListSteps(r.Context(), run.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run":   run,
		"steps": steps,
	})
}

type executeTaskRequest struct {
	PipelineID    string `json:"pipelineId"`
	WorkflowID    string `json:"workflowId"`
	Context       string `json:"context"`
	ModelOverride string `json:"modelOverride"`
	KeyUserID     string `json:"keyUserId"`
}

func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	var req executeTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	run, err := s.dispatcher.ExecuteTask(r.Context(), projectID(r), taskID(r), dispatch.ExecuteTaskRequest{
		PipelineID:    req.PipelineID,
		WorkflowID:    req.WorkflowID,
		Context:       req.Context,
		ModelOverride: req.ModelOverride,
		KeyUserID:     req.KeyUserID,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, run)
}

// handleRunCompleted is the worker webhook: it maps the finished run onto the
// linked task and fires the readiness cascade.
func (s *Server) handleRunCompleted(w http.ResponseWriter, r *http.Request) {
	rid := core.RunID(r.URL.Query().Get("run_id"))
	status := core.RunStatus(r.URL.Query().Get("status"))
	if rid == "" {
		s.respondError(w, core.ErrValidation("RUN_ID_REQUIRED", "run_id query parameter is required"))
		return
	}
	task, err := s.dispatcher.CompleteForTask(r.Context(), projectID(r), taskID(r), rid, status)
	if err != nil {
		s.respondError(w, err)
		return
	}
	// The agent handing its run back ends the pulse session its wake opened.
	if task.AssignedAgent != "" {
		s.scheduler.EndSession(task.AssignedAgent)
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handlePauseRun(w http.ResponseWriter, r *http.Request) {
	s.runControl(w, r, s.dispatcher.Pause)
}

func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	s.runControl(w, r, s.dispatcher.Resume)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	s.runControl(w, r, s.dispatcher.Cancel)
}

func (s *Server) handleRestartRun(w http.ResponseWriter, r *http.Request) {
	s.runControl(w, r, s.dispatcher.RestartRun)
}

func (s *Server) runControl(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id core.RunID) error) {
	if err := op(r.Context(), runID(r)); err != nil {
		s.respondError(w, err)
		return
	}
	run, err := s.store.GetRun(r.Context(), runID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunOutputs(w http.ResponseWriter, r *http.Request) {
	outputs, err := s.dispatcher.Outputs(r.Context(), runID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"outputs": outputs})
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.store.ListSteps(r.Context(), runID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

type createStepRequest struct {
	StepID     string                 `json:"step_id"`
	AgentID    string                 `json:"agent_id"`
	Inputs     map[string]interface{} `json:"inputs"`
	MaxRetries int                    `json:"max_retries"`
}

func (s *Server) handleCreateStep(w http.ResponseWriter, r *http.Request) {
	var req createStepRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	step, err := s.dispatcher.CreateStep(r.Context(), runID(r), req.StepID, req.AgentID, req.Inputs, req.MaxRetries)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, step)
}

type updateStepRequest struct {
	Status       string                 `json:"status"`
	SessionID    string                 `json:"session_id"`
	Outputs      map[string]interface{} `json:"outputs"`
	Error        string                 `json:"error"`
	ModelUsed    string                 `json:"model_used"`
	HumanContext string                 `json:"human_context"`
}

func (s *Server) handleUpdateStep(w http.ResponseWriter, r *http.Request) {
	var req updateStepRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	rid := runID(r)
	stepID := chi.URLParam(r, "stepID")

	step, err := s.store.GetStep(r.Context(), rid, stepID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if req.Status != "" {
		step.Status = core.StepStatus(req.Status)
		now := time.Now()
		switch step.Status {
		case core.StepStatusRunning:
			if step.StartedAt == nil {
				step.StartedAt = &now
			}
		case core.StepStatusCompleted, core.StepStatusFailed:
			step.CompletedAt = &now
		}
	}
	if req.SessionID != "" {
		step.SessionID = req.SessionID
	}
	if req.Outputs != nil {
		step.Outputs = req.Outputs
	}
	if req.Error != "" {
		step.Error = req.Error
	}
	if req.ModelUsed != "" {
		step.ModelUsed = req.ModelUsed
	}
	if req.HumanContext != "" {
		step.HumanContext = req.HumanContext
	}
	if err := s.dispatcher.UpdateStep(r.Context(), step); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, step)
}

func (s *Server) handleRestartStep(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.RestartStep(r.Context(), runID(r), chi.URLParam(r, "stepID")); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}
