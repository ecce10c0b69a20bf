package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/events"
)

// TransitionResult reports a completed status move.
type TransitionResult struct {
	Task *core.Task
	From string
	To   string
}

// Transition moves a task to a new status, resolves its column, tracks
// completed stages and notes, then fires the readiness cascade, parent
// derivation, and transition-triggered pulses.
func (e *Engine) Transition(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, newStatus, note string) (*TransitionResult, error) {
	policy, err := e.store.GetWorkflowPolicy(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var (
		project *core.Project
		task    *core.Task
		from    string
	)
	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		project, err = e.store.GetProjectTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		task, err = e.store.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.ProjectID != projectID {
			return core.ErrNotFound("task", string(taskID))
		}
		columns, err := e.store.ListColumnsTx(ctx, tx, projectID)
		if err != nil {
			return err
		}

		// The valid status set is derived from the board, never hardcoded.
		target := core.ColumnForStatus(columns, newStatus)
		if target == nil {
			return core.ErrValidation(core.CodeUnknownStatus,
				fmt.Sprintf("status %q is not mapped by any column", newStatus)).
				WithDetail("valid_statuses", core.StatusUnion(columns))
		}

		if stage := core.StatusStage(newStatus); stage != "" && !policy.StageAllowed(task.WorkType, stage) {
			return core.ErrValidation(core.CodeStageSkipped,
				fmt.Sprintf("stage %q is skipped for work type %q", stage, task.WorkType)).
				WithDetail("valid_stages", policy.RunnableStages(task.WorkType))
		}

		from = task.Status
		if from == newStatus {
			return nil
		}

		task.Status = newStatus
		task.ColumnID = target.ID
		if project.Semantics.IsDone(newStatus) {
			now := time.Now()
			task.CompletedAt = &now
		}
		if stage := core.StatusStage(from); stage != "" {
			task.RecordStage(stage)
		}
		if note != "" {
			task.Metadata = appendTransitionNote(task.Metadata, core.TransitionNote{
				From:      from,
				To:        newStatus,
				Note:      note,
				Timestamp: time.Now(),
			})
		}
		return e.store.UpdateTaskTx(ctx, tx, task)
	})
	if err != nil {
		return nil, err
	}

	if from != newStatus {
		// Cascade failures are logged inside the propagator, never surfaced:
		// partial cascades self-heal on the next transition.
		e.propagator.OnStatusChange(ctx, project, task)
		if task.ParentTaskID != "" {
			e.propagator.DeriveParent(ctx, project, task.ParentTaskID)
		}
	}

	e.publish(ctx, statusChanged(task, from, "transition"))
	if from != newStatus {
		e.firePulse(ctx, policy, project, task, newStatus)
		if project.Semantics.IsDone(newStatus) && task.AssignedAgent != "" {
			e.publish(ctx, events.New(events.TypeTaskWorkspaceRemoveReq).
				WithProject(string(projectID)).
				WithTask(string(taskID)).
				WithAgent(task.AssignedAgent))
		}
	}

	return &TransitionResult{Task: task, From: from, To: task.Status}, nil
}

// firePulse wakes the agent owning the stage the task just entered. The
// workflow policy's role mapping wins; the hardcoded fallback routes the
// statuses legacy projects rely on. The wake goes through the scheduler so
// the cooldown and cap guardrails apply to transition pulses too.
func (e *Engine) firePulse(ctx context.Context, policy *core.WorkflowPolicy, project *core.Project, task *core.Task, newStatus string) {
	agent := ""
	if stage := core.StatusStage(newStatus); stage != "" {
		agent = policy.AgentRoleForStage(task.WorkType, stage)
	}
	if agent == "" {
		agent = core.FallbackAgentForStatus(newStatus)
	}
	if agent == "" || e.waker == nil {
		return
	}
	e.waker.WakeTask(ctx, agent, "transition", string(project.ID), string(task.ID), newStatus)
}

func appendTransitionNote(m core.TaskMetadata, note core.TransitionNote) core.TaskMetadata {
	var notes []interface{}
	if m != nil {
		notes, _ = m[core.MetaTransitionNotes].([]interface{})
	}
	return m.Set(core.MetaTransitionNotes, append(notes, note))
}
