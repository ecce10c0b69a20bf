package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/djinnbot/djinnbot/internal/core"
)

// CreateColumn adds a board column to a project.
func (e *Engine) CreateColumn(ctx context.Context, projectID core.ProjectID, name string, position int, wipLimit *int, statuses []string) (*core.KanbanColumn, error) {
	if name == "" {
		return nil, core.ErrValidation("COLUMN_NAME_REQUIRED", "column name cannot be empty")
	}
	if len(statuses) == 0 {
		return nil, core.ErrValidation("COLUMN_STATUSES_REQUIRED", "column must map at least one status")
	}
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	c := &core.KanbanColumn{
		ID:           core.ColumnID(uuid.NewString()),
		ProjectID:    projectID,
		Name:         name,
		Position:     position,
		WIPLimit:     wipLimit,
		TaskStatuses: statuses,
	}
	if err := e.store.CreateColumn(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateColumn rewrites a column's mutable fields.
func (e *Engine) UpdateColumn(ctx context.Context, c *core.KanbanColumn) error {
	if len(c.TaskStatuses) == 0 {
		return core.ErrValidation("COLUMN_STATUSES_REQUIRED", "column must map at least one status")
	}
	return e.store.UpdateColumn(ctx, c)
}

// DeleteColumn removes a column. It fails while any task still sits in the
// column; callers must move tasks first.
func (e *Engine) DeleteColumn(ctx context.Context, id core.ColumnID) error {
	n, err := e.store.CountTasksInColumn(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return core.ErrValidation(core.CodeColumnOccupied,
			fmt.Sprintf("column still contains %d tasks; move them first", n))
	}
	return e.store.DeleteColumn(ctx, id)
}

// MoveTask is the drag-drop operation: it places a task into a column,
// forcing the task's status to the column's first mapped status. A full
// target column (WIP limit) rejects the move with no state change.
func (e *Engine) MoveTask(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, columnID core.ColumnID, position int) (*core.Task, error) {
	var task *core.Task
	var from string

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
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
		var target *core.KanbanColumn
		for _, c := range columns {
			if c.ID == columnID {
				target = c
				break
			}
		}
		if target == nil {
			return core.ErrNotFound("column", string(columnID))
		}
		if target.WIPLimit != nil && task.ColumnID != target.ID {
			n, err := e.store.CountTasksInColumnTx(ctx, tx, target.ID)
			if err != nil {
				return err
			}
			if n >= *target.WIPLimit {
				return core.ErrValidation(core.CodeWIPLimitReached,
					fmt.Sprintf("column %q is at its WIP limit of %d", target.Name, *target.WIPLimit))
			}
		}

		from = task.Status
		task.Status = target.EntryStatus()
		task.ColumnID = target.ID
		task.ColumnPosition = position
		return e.store.UpdateTaskTx(ctx, tx, task)
	})
	if err != nil {
		return nil, err
	}

	if from != task.Status {
		e.publish(ctx, statusChanged(task, from, "column_move"))
	}
	return task, nil
}
