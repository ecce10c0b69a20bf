package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/graph"
)

// CreateTaskRequest carries the attributes of a new task. Dependencies are
// ids of tasks that block this one.
type CreateTaskRequest struct {
	ID             core.TaskID
	Title          string
	Description    string
	Status         string
	Priority       core.Priority
	WorkType       core.WorkType
	Tags           []string
	EstimatedHours float64
	ParentTaskID   core.TaskID
	ColumnID       core.ColumnID
	AssignedAgent  string
	Dependencies   []core.TaskID
}

// CreateTask creates a task, inferring its work type and resolving the
// initial column and status when the caller leaves them unspecified.
func (e *Engine) CreateTask(ctx context.Context, projectID core.ProjectID, req CreateTaskRequest) (*core.Task, error) {
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	columns, err := e.store.ListColumns(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errNoColumns(projectID)
	}

	if req.ID == "" {
		req.ID = core.TaskID(uuid.NewString())
	}
	task := core.NewTask(req.ID, projectID, req.Title)
	task.Description = req.Description
	task.Tags = req.Tags
	task.EstimatedHours = req.EstimatedHours
	task.AssignedAgent = req.AssignedAgent
	if req.Priority != "" {
		task.Priority = req.Priority
	}

	// Explicit work type wins over inference; empty means unclassified.
	task.WorkType = req.WorkType
	if task.WorkType == "" {
		task.WorkType = core.InferWorkType(req.Title, req.Tags, req.Description)
	}

	if req.ParentTaskID != "" {
		parent, err := e.store.GetTask(ctx, req.ParentTaskID)
		if err != nil {
			return nil, err
		}
		if parent.ProjectID != projectID {
			return nil, core.ErrValidation("PARENT_PROJECT_MISMATCH",
				"parent task belongs to a different project")
		}
		if parent.ParentTaskID != "" {
			return nil, core.ErrValidation("PARENT_IS_SUBTASK",
				"subtasks cannot have their own subtasks")
		}
		task.ParentTaskID = req.ParentTaskID
	}

	column, status, err := resolveInitialPlacement(project, columns, req.Status, req.ColumnID, len(req.Dependencies) > 0)
	if err != nil {
		return nil, err
	}
	task.ColumnID = column.ID
	task.Status = status

	if err := task.Validate(); err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.CreateTaskTx(ctx, tx, task); err != nil {
			return err
		}
		for _, dep := range req.Dependencies {
			if dep == task.ID {
				return core.ErrValidation(core.CodeSelfDependency, "a task cannot depend on itself")
			}
			if _, err := e.store.GetTaskTx(ctx, tx, dep); err != nil {
				return err
			}
			edge := &core.DependencyEdge{
				ID:         core.EdgeID(uuid.NewString()),
				ProjectID:  projectID,
				FromTaskID: dep,
				ToTaskID:   task.ID,
				Type:       core.DependencyBlocks,
			}
			if err := e.store.CreateEdgeTx(ctx, tx, edge); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// resolveInitialPlacement picks the column and status for a new task:
//  1. an explicit column or status wins;
//  2. else, with no declared dependencies, the column of the first claimable
//     status;
//  3. else, a column intersecting the initial semantic set;
//  4. else, the lowest-position column.
//
// The status is always the first entry of the chosen column unless the caller
// named a status the column maps.
func resolveInitialPlacement(project *core.Project, columns []*core.KanbanColumn, status string, columnID core.ColumnID, hasDeps bool) (*core.KanbanColumn, string, error) {
	if columnID != "" {
		for _, c := range columns {
			if c.ID == columnID {
				if status != "" && !c.Accepts(status) {
					return nil, "", core.ErrValidation(core.CodeUnknownStatus,
						fmt.Sprintf("column %q does not map status %q", c.Name, status))
				}
				if status == "" {
					status = c.EntryStatus()
				}
				return c, status, nil
			}
		}
		return nil, "", core.ErrNotFound("column", string(columnID))
	}
	if status != "" {
		c := core.ColumnForStatus(columns, status)
		if c == nil {
			return nil, "", core.ErrValidation(core.CodeUnknownStatus,
				fmt.Sprintf("no column maps status %q", status))
		}
		return c, status, nil
	}

	if !hasDeps {
		ready := project.Semantics.First(core.RoleClaimable, "")
		if c := core.ColumnForStatus(columns, ready); c != nil {
			return c, c.EntryStatus(), nil
		}
	}
	for _, c := range columns {
		for _, s := range c.TaskStatuses {
			if project.Semantics.Has(core.RoleInitial, s) {
				return c, c.EntryStatus(), nil
			}
		}
	}
	c := columns[0]
	return c, c.EntryStatus(), nil
}

func errNoColumns(projectID core.ProjectID) error {
	return &core.DomainError{
		Category: core.ErrCatInternal,
		Code:     core.CodeNoColumns,
		Message:  fmt.Sprintf("project %s has no kanban columns configured", projectID),
	}
}

// ImportTask is one entry of a bulk import. Dependencies reference other
// entries by title.
type ImportTask struct {
	Title          string
	Description    string
	Priority       core.Priority
	WorkType       core.WorkType
	Tags           []string
	EstimatedHours float64
	Dependencies   []string
}

// Import creates a batch of tasks and their dependency edges atomically. An
// unknown dependency title or a cycle in the combined graph rejects the whole
// import with no rows written.
func (e *Engine) Import(ctx context.Context, projectID core.ProjectID, items []ImportTask) ([]*core.Task, error) {
	if len(items) == 0 {
		return nil, core.ErrValidation("IMPORT_EMPTY", "import contains no tasks")
	}
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	columns, err := e.store.ListColumns(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errNoColumns(projectID)
	}

	idByTitle := make(map[string]core.TaskID, len(items))
	tasks := make([]*core.Task, 0, len(items))
	for _, item := range items {
		if item.Title == "" {
			return nil, core.ErrValidation("TASK_TITLE_REQUIRED", "imported task is missing a title")
		}
		t := core.NewTask(core.TaskID(uuid.NewString()), projectID, item.Title)
		t.Description = item.Description
		t.Tags = item.Tags
		t.EstimatedHours = item.EstimatedHours
		if item.Priority != "" {
			t.Priority = item.Priority
		}
		t.WorkType = item.WorkType
		if t.WorkType == "" {
			t.WorkType = core.InferWorkType(item.Title, item.Tags, item.Description)
		}
		column, status, err := resolveInitialPlacement(project, columns, "", "", len(item.Dependencies) > 0)
		if err != nil {
			return nil, err
		}
		t.ColumnID = column.ID
		t.Status = status

		if _, dup := idByTitle[item.Title]; !dup {
			idByTitle[item.Title] = t.ID
		}
		tasks = append(tasks, t)
	}

	titles := make(map[core.TaskID]string, len(tasks))
	for _, t := range tasks {
		titles[t.ID] = t.Title
	}
	var proposed []*core.DependencyEdge
	for i, item := range items {
		for _, depTitle := range item.Dependencies {
			from, ok := idByTitle[depTitle]
			if !ok {
				return nil, core.ErrValidation(core.CodeImportUnknownTask,
					fmt.Sprintf("dependency %q of %q matches no imported task", depTitle, item.Title))
			}
			if from == tasks[i].ID {
				return nil, core.ErrValidation(core.CodeSelfDependency,
					fmt.Sprintf("task %q depends on itself", item.Title))
			}
			proposed = append(proposed, &core.DependencyEdge{
				ID:         core.EdgeID(uuid.NewString()),
				ProjectID:  projectID,
				FromTaskID: from,
				ToTaskID:   tasks[i].ID,
				Type:       core.DependencyBlocks,
			})
		}
	}

	existing, err := e.store.ListEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := graph.CycleCheck(existing, proposed, titles); err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tasks {
			if err := e.store.CreateTaskTx(ctx, tx, t); err != nil {
				return err
			}
		}
		for _, edge := range proposed {
			if err := e.store.CreateEdgeTx(ctx, tx, edge); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("tasks imported",
		"project_id", projectID,
		"tasks", len(tasks),
		"edges", len(proposed))
	return tasks, nil
}
