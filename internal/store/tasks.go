package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/djinnbot/djinnbot/internal/core"
)

const taskColumns = `id, project_id, title, description, status, priority,
	assigned_agent, workflow_id, pipeline_id, run_id, parent_task_id, tags,
	estimated_hours, column_id, column_position, task_metadata, work_type,
	completed_stages, created_at, updated_at, completed_at`

// CreateTask inserts a task row.
func (s *Store) CreateTask(ctx context.Context, t *core.Task) error {
	return s.createTask(ctx, s.db, t)
}

// CreateTaskTx inserts a task inside an existing transaction.
func (s *Store) CreateTaskTx(ctx context.Context, tx *sql.Tx, t *core.Task) error {
	return s.createTask(ctx, tx, t)
}

func (s *Store) createTask(ctx context.Context, q querier, t *core.Task) error {
	tags, metadata, stages, err := marshalTaskJSON(t)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Priority,
		t.AssignedAgent, t.WorkflowID, t.PipelineID, t.RunID, t.ParentTaskID, tags,
		t.EstimatedHours, t.ColumnID, t.ColumnPosition, metadata, t.WorkType,
		stages, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(), timeToNullMs(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

func marshalTaskJSON(t *core.Task) (tags, metadata, stages string, err error) {
	tagsB, err := json.Marshal(emptySlice(t.Tags))
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling tags: %w", err)
	}
	meta := t.Metadata
	if meta == nil {
		meta = core.TaskMetadata{}
	}
	metaB, err := json.Marshal(meta)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling task metadata: %w", err)
	}
	stagesB, err := json.Marshal(emptySlice(t.CompletedStages))
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling completed stages: %w", err)
	}
	return string(tagsB), string(metaB), string(stagesB), nil
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	return s.getTask(ctx, s.db, id)
}

// GetTaskTx fetches a task inside a transaction. With immediate write
// transactions this is the moral equivalent of SELECT ... FOR UPDATE.
func (s *Store) GetTaskTx(ctx context.Context, tx *sql.Tx, id core.TaskID) (*core.Task, error) {
	return s.getTask(ctx, tx, id)
}

func (s *Store) getTask(ctx context.Context, q querier, id core.TaskID) (*core.Task, error) {
	row := q.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("task", string(id))
	}
	return t, err
}

func scanTask(scan func(...any) error) (*core.Task, error) {
	var (
		t           core.Task
		tags        string
		metadata    string
		stages      string
		createdAt   int64
		updatedAt   int64
		completedAt sql.NullInt64
	)
	err := scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.AssignedAgent, &t.WorkflowID, &t.PipelineID, &t.RunID, &t.ParentTaskID, &tags,
		&t.EstimatedHours, &t.ColumnID, &t.ColumnPosition, &metadata, &t.WorkType,
		&stages, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
		return nil, fmt.Errorf("decoding task metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(stages), &t.CompletedStages); err != nil {
		return nil, fmt.Errorf("decoding completed stages: %w", err)
	}
	t.CreatedAt = msToTime(createdAt)
	t.UpdatedAt = msToTime(updatedAt)
	t.CompletedAt = nullMsToTime(completedAt)
	return &t, nil
}

// UpdateTask rewrites the mutable task fields.
func (s *Store) UpdateTask(ctx context.Context, t *core.Task) error {
	return s.updateTask(ctx, s.db, t)
}

// UpdateTaskTx rewrites the task inside an existing transaction.
func (s *Store) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t *core.Task) error {
	return s.updateTask(ctx, tx, t)
}

func (s *Store) updateTask(ctx context.Context, q querier, t *core.Task) error {
	tags, metadata, stages, err := marshalTaskJSON(t)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
			assigned_agent = ?, workflow_id = ?, pipeline_id = ?, run_id = ?,
			parent_task_id = ?, tags = ?, estimated_hours = ?, column_id = ?,
			column_position = ?, task_metadata = ?, work_type = ?,
			completed_stages = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		t.Title, t.Description, t.Status, t.Priority,
		t.AssignedAgent, t.WorkflowID, t.PipelineID, t.RunID,
		t.ParentTaskID, tags, t.EstimatedHours, t.ColumnID,
		t.ColumnPosition, metadata, t.WorkType,
		stages, nowMilli(), timeToNullMs(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("task", string(t.ID))
	}
	return nil
}

// DeleteTask removes a task; dependency edges and task_runs cascade.
func (s *Store) DeleteTask(ctx context.Context, id core.TaskID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("task", string(id))
	}
	return nil
}

// ListTasks returns all tasks of a project.
func (s *Store) ListTasks(ctx context.Context, projectID core.ProjectID) ([]*core.Task, error) {
	return s.listTasks(ctx, s.db,
		"SELECT "+taskColumns+" FROM tasks WHERE project_id = ? ORDER BY created_at", projectID)
}

// ListTasksTx returns all tasks of a project inside a transaction.
func (s *Store) ListTasksTx(ctx context.Context, tx *sql.Tx, projectID core.ProjectID) ([]*core.Task, error) {
	return s.listTasks(ctx, tx,
		"SELECT "+taskColumns+" FROM tasks WHERE project_id = ? ORDER BY created_at", projectID)
}

// ListTasksByStatuses returns a project's tasks whose status is in the given
// set.
func (s *Store) ListTasksByStatuses(ctx context.Context, projectID core.ProjectID, statuses []string) ([]*core.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?, ", len(statuses)-1) + "?"
	args := make([]any, 0, len(statuses)+1)
	args = append(args, projectID)
	for _, st := range statuses {
		args = append(args, st)
	}
	return s.listTasks(ctx, s.db,
		"SELECT "+taskColumns+" FROM tasks WHERE project_id = ? AND status IN ("+placeholders+") ORDER BY priority, created_at",
		args...)
}

// ListChildren returns the subtasks of a parent.
func (s *Store) ListChildren(ctx context.Context, parentID core.TaskID) ([]*core.Task, error) {
	return s.listTasks(ctx, s.db,
		"SELECT "+taskColumns+" FROM tasks WHERE parent_task_id = ? ORDER BY created_at", parentID)
}

// ParentTaskIDs returns the ids of tasks referenced as parent by some other
// task of the project. Such container tasks are never directly executed.
func (s *Store) ParentTaskIDs(ctx context.Context, projectID core.ProjectID) (map[core.TaskID]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT parent_task_id FROM tasks
		WHERE project_id = ? AND parent_task_id != ''`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing parent ids: %w", err)
	}
	defer rows.Close()

	parents := make(map[core.TaskID]bool)
	for rows.Next() {
		var id core.TaskID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning parent id: %w", err)
		}
		parents[id] = true
	}
	return parents, rows.Err()
}

func (s *Store) listTasks(ctx context.Context, q querier, query string, args ...any) ([]*core.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*core.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
