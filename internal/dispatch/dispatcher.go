// Package dispatch translates "start a pipeline run" intents into persistent
// state and signals to the worker pool, and applies run completion back onto
// the linked task.
package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/engine"
	"github.com/djinnbot/djinnbot/internal/events"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/store"
	"github.com/djinnbot/djinnbot/internal/workspace"
)

// PipelineRegistry validates pipeline ids. The real registry ships
// separately; AllowAllPipelines stands in until then.
type PipelineRegistry interface {
	Known(pipelineID string) bool
}

// AllowAllPipelines accepts every non-empty pipeline id.
type AllowAllPipelines struct{}

// Known implements PipelineRegistry.
func (AllowAllPipelines) Known(pipelineID string) bool { return pipelineID != "" }

// Dispatcher owns the runs table. Workers only read: they pick up run:new
// messages from the new-runs stream as a consumer group.
type Dispatcher struct {
	store     *store.Store
	bus       events.Bus
	logger    *logging.Logger
	registry  PipelineRegistry
	propagate *engine.Propagator
}

// New creates a run dispatcher.
func New(st *store.Store, bus events.Bus, logger *logging.Logger, registry PipelineRegistry, propagator *engine.Propagator) *Dispatcher {
	if registry == nil {
		registry = AllowAllPipelines{}
	}
	return &Dispatcher{
		store:     st,
		bus:       bus,
		logger:    logger,
		registry:  registry,
		propagate: propagator,
	}
}

// StartRunRequest carries the intent to start a pipeline run.
type StartRunRequest struct {
	PipelineID        string
	ProjectID         core.ProjectID
	TaskDescription   string
	HumanContext      string
	InitiatedByUserID string
	ModelOverride     string
	TaskBranch        string
}

// StartRun persists a pending run and signals the worker pool. The project,
// when present, contributes its workspace type so workers know where to build
// the worktree.
func (d *Dispatcher) StartRun(ctx context.Context, req StartRunRequest) (*core.Run, error) {
	if !d.registry.Known(req.PipelineID) {
		return nil, core.ErrValidation("UNKNOWN_PIPELINE",
			fmt.Sprintf("pipeline %q is not registered", req.PipelineID))
	}

	run := core.NewRun(core.RunID(uuid.NewString()), req.PipelineID)
	run.TaskDescription = req.TaskDescription
	run.HumanContext = req.HumanContext
	run.InitiatedByUserID = req.InitiatedByUserID
	run.ModelOverride = req.ModelOverride
	run.TaskBranch = req.TaskBranch
	if req.ProjectID != "" {
		project, err := d.store.GetProject(ctx, req.ProjectID)
		if err != nil {
			return nil, err
		}
		run.ProjectID = project.ID
		run.WorkspaceType = project.WorkspaceType
	}

	if err := d.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	d.signalNewRun(ctx, run)
	d.logger.Info("run started",
		"run_id", run.ID,
		"pipeline_id", run.PipelineID,
		"project_id", run.ProjectID)
	return run, nil
}

// ExecuteTaskRequest carries the per-task execution options.
type ExecuteTaskRequest struct {
	PipelineID    string
	WorkflowID    string
	Context       string
	ModelOverride string
	KeyUserID     string
}

// ExecuteTask starts a run for a task: the task records the running run id,
// a TaskRun history row is written, and the worker pool is signalled. The
// pipeline falls back from the request to the task to the project default.
func (d *Dispatcher) ExecuteTask(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, req ExecuteTaskRequest) (*core.Run, error) {
	project, err := d.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ProjectID != projectID {
		return nil, core.ErrNotFound("task", string(taskID))
	}
	if task.RunID != "" {
		return nil, core.ErrConflict("TASK_ALREADY_RUNNING",
			fmt.Sprintf("task already has run %s in flight", task.RunID))
	}

	pipelineID := req.PipelineID
	if pipelineID == "" {
		pipelineID = task.PipelineID
	}
	if pipelineID == "" {
		pipelineID = project.DefaultPipelineID
	}
	if !d.registry.Known(pipelineID) {
		return nil, core.ErrValidation("UNKNOWN_PIPELINE",
			"no pipeline configured for task, project, or request")
	}

	branch := task.GitBranch()
	if branch == "" {
		branch = workspace.TaskBranchName(task.ID, task.Title)
		task.Metadata = task.Metadata.Set(core.MetaGitBranch, branch)
	}

	run := core.NewRun(core.RunID(uuid.NewString()), pipelineID)
	run.ProjectID = projectID
	run.TaskDescription = task.Title
	run.HumanContext = req.Context
	run.InitiatedByUserID = req.KeyUserID
	run.ModelOverride = req.ModelOverride
	run.TaskBranch = branch
	run.WorkspaceType = project.WorkspaceType

	err = d.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := d.store.CreateRunTx(ctx, tx, run); err != nil {
			return err
		}
		if err := d.store.CreateTaskRunTx(ctx, tx, &core.TaskRun{
			ID:         uuid.NewString(),
			TaskID:     task.ID,
			RunID:      run.ID,
			PipelineID: pipelineID,
			Status:     core.RunStatusPending,
			StartedAt:  time.Now(),
		}); err != nil {
			return err
		}
		task.RunID = string(run.ID)
		if req.WorkflowID != "" {
			task.WorkflowID = req.WorkflowID
		}
		return d.store.UpdateTaskTx(ctx, tx, task)
	})
	if err != nil {
		return nil, err
	}

	d.signalNewRun(ctx, run)
	d.logger.Info("task execution started",
		"task_id", task.ID,
		"run_id", run.ID,
		"pipeline_id", pipelineID,
		"branch", branch)
	return run, nil
}

// CompleteForTask is the worker webhook: the finished run's status is mapped
// onto the linked task through the project's semantics, the task and history
// rows are updated atomically, and the readiness cascade fires.
func (d *Dispatcher) CompleteForTask(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, runID core.RunID, runStatus core.RunStatus) (*core.Task, error) {
	project, err := d.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s := project.Semantics

	var taskStatus string
	switch runStatus {
	case core.RunStatusCompleted:
		taskStatus = s.First(core.RoleTerminalDone, "done")
	case core.RunStatusFailed:
		taskStatus = s.First(core.RoleTerminalFail, "failed")
	default:
		return nil, core.ErrValidation("INVALID_RUN_STATUS",
			fmt.Sprintf("run completion status must be terminal, got %q", runStatus))
	}

	var task *core.Task
	now := time.Now()
	err = d.store.WithTx(ctx, func(tx *sql.Tx) error {
		task, err = d.store.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.ProjectID != projectID {
			return core.ErrNotFound("task", string(taskID))
		}
		columns, err := d.store.ListColumnsTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		column := core.ColumnForStatus(columns, taskStatus)
		if column == nil {
			return core.ErrValidation(core.CodeUnknownStatus,
				fmt.Sprintf("no column maps status %q", taskStatus))
		}

		task.Status = taskStatus
		task.ColumnID = column.ID
		task.RunID = ""
		if s.IsDone(taskStatus) {
			task.CompletedAt = &now
		}
		if err := d.store.UpdateTaskTx(ctx, tx, task); err != nil {
			return err
		}
		if err := d.store.UpdateTaskRunStatus(ctx, tx, taskID, runID, runStatus, now.UnixMilli()); err != nil {
			return err
		}
		return d.finishRunTx(ctx, tx, runID, runStatus, now)
	})
	if err != nil {
		return nil, err
	}

	if d.propagate != nil {
		d.propagate.OnStatusChange(ctx, project, task)
	}

	eventType := events.TypeTaskExecutionCompleted
	if runStatus == core.RunStatusFailed {
		eventType = events.TypeTaskExecutionFailed
	}
	events.TryPublish(ctx, d.bus, d.logger, events.StreamGlobal,
		events.New(eventType).
			WithProject(string(projectID)).
			WithTask(string(taskID)).
			WithRun(string(runID)).
			WithData("task_status", taskStatus))

	d.logger.Info("task execution finished",
		"task_id", taskID,
		"run_id", runID,
		"run_status", runStatus,
		"task_status", taskStatus)
	return task, nil
}

func (d *Dispatcher) finishRunTx(ctx context.Context, tx *sql.Tx, runID core.RunID, status core.RunStatus, now time.Time) error {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	run.Status = status
	run.CompletedAt = &now
	return d.store.UpdateRunTx(ctx, tx, run)
}

// signalNewRun appends the worker-pool message and the dashboard counter
// event. Both are best-effort; the run row is the source of truth.
func (d *Dispatcher) signalNewRun(ctx context.Context, run *core.Run) {
	events.TryPublish(ctx, d.bus, d.logger, events.StreamNewRuns,
		events.New(events.TypeRunNew).
			WithRun(string(run.ID)).
			WithData("pipeline_id", run.PipelineID))

	running, err := d.store.CountRunsByStatus(ctx, core.RunStatusRunning)
	if err != nil {
		d.logger.Warn("counting running runs", "error", err)
	}
	events.TryPublish(ctx, d.bus, d.logger, events.StreamGlobal,
		events.New(events.TypeRunCreated).
			WithRun(string(run.ID)).
			WithProject(string(run.ProjectID)).
			WithData("pipeline_id", run.PipelineID).
			WithData("running_count", running))
}
