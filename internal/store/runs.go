package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/djinnbot/djinnbot/internal/core"
)

const runColumns = `id, pipeline_id, project_id, task_description, status,
	current_step_id, outputs, human_context, initiated_by_user_id,
	model_override, task_branch, workspace_type, created_at, updated_at,
	completed_at`

// CreateRun inserts a run row.
func (s *Store) CreateRun(ctx context.Context, r *core.Run) error {
	return s.createRun(ctx, s.db, r)
}

// CreateRunTx inserts a run inside an existing transaction.
func (s *Store) CreateRunTx(ctx context.Context, tx *sql.Tx, r *core.Run) error {
	return s.createRun(ctx, tx, r)
}

func (s *Store) createRun(ctx context.Context, q querier, r *core.Run) error {
	outputs, err := json.Marshal(r.Outputs)
	if err != nil {
		return fmt.Errorf("marshaling run outputs: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PipelineID, r.ProjectID, r.TaskDescription, r.Status,
		r.CurrentStepID, string(outputs), r.HumanContext, r.InitiatedByUserID,
		r.ModelOverride, r.TaskBranch, r.WorkspaceType,
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(), timeToNullMs(r.CompletedAt))
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id core.RunID) (*core.Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("run", string(id))
	}
	return r, err
}

func scanRun(scan func(...any) error) (*core.Run, error) {
	var (
		r           core.Run
		outputs     string
		createdAt   int64
		updatedAt   int64
		completedAt sql.NullInt64
	)
	err := scan(&r.ID, &r.PipelineID, &r.ProjectID, &r.TaskDescription, &r.Status,
		&r.CurrentStepID, &outputs, &r.HumanContext, &r.InitiatedByUserID,
		&r.ModelOverride, &r.TaskBranch, &r.WorkspaceType,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	if err := json.Unmarshal([]byte(outputs), &r.Outputs); err != nil {
		return nil, fmt.Errorf("decoding run outputs: %w", err)
	}
	r.CreatedAt = msToTime(createdAt)
	r.UpdatedAt = msToTime(updatedAt)
	r.CompletedAt = nullMsToTime(completedAt)
	return &r, nil
}

// UpdateRun rewrites the mutable run fields.
func (s *Store) UpdateRun(ctx context.Context, r *core.Run) error {
	return s.updateRun(ctx, s.db, r)
}

// UpdateRunTx rewrites the run inside an existing transaction.
func (s *Store) UpdateRunTx(ctx context.Context, tx *sql.Tx, r *core.Run) error {
	return s.updateRun(ctx, tx, r)
}

func (s *Store) updateRun(ctx context.Context, q querier, r *core.Run) error {
	outputs, err := json.Marshal(r.Outputs)
	if err != nil {
		return fmt.Errorf("marshaling run outputs: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE runs SET status = ?, current_step_id = ?, outputs = ?,
			human_context = ?, model_override = ?, task_branch = ?,
			workspace_type = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		r.Status, r.CurrentStepID, string(outputs),
		r.HumanContext, r.ModelOverride, r.TaskBranch,
		r.WorkspaceType, nowMilli(), timeToNullMs(r.CompletedAt), r.ID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("run", string(r.ID))
	}
	return nil
}

// ListRuns returns runs ordered by creation time, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CountRunsByStatus returns the number of runs in the given status. The
// dashboard counter uses this with RunStatusRunning.
func (s *Store) CountRunsByStatus(ctx context.Context, status core.RunStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE status = ?", status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}
	return n, nil
}

// CreateTaskRun records the task/run linkage.
func (s *Store) CreateTaskRun(ctx context.Context, tr *core.TaskRun) error {
	return s.createTaskRun(ctx, s.db, tr)
}

// CreateTaskRunTx records the linkage inside an existing transaction.
func (s *Store) CreateTaskRunTx(ctx context.Context, tx *sql.Tx, tr *core.TaskRun) error {
	return s.createTaskRun(ctx, tx, tr)
}

func (s *Store) createTaskRun(ctx context.Context, q querier, tr *core.TaskRun) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO task_runs (id, task_id, run_id, pipeline_id, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.TaskID, tr.RunID, tr.PipelineID, tr.Status,
		tr.StartedAt.UnixMilli(), timeToNullMs(tr.CompletedAt))
	if err != nil {
		return fmt.Errorf("inserting task run: %w", err)
	}
	return nil
}

// UpdateTaskRunStatus closes out the history record for a (task, run) pair.
func (s *Store) UpdateTaskRunStatus(ctx context.Context, tx *sql.Tx, taskID core.TaskID, runID core.RunID, status core.RunStatus, completedAt interface{}) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE task_runs SET status = ?, completed_at = ?
		WHERE task_id = ? AND run_id = ?`,
		status, completedAt, taskID, runID)
	if err != nil {
		return fmt.Errorf("updating task run: %w", err)
	}
	return nil
}

// ListTaskRuns returns the run history of a task, newest first.
func (s *Store) ListTaskRuns(ctx context.Context, taskID core.TaskID) ([]*core.TaskRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, run_id, pipeline_id, status, started_at, completed_at
		FROM task_runs WHERE task_id = ? ORDER BY started_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing task runs: %w", err)
	}
	defer rows.Close()

	var taskRuns []*core.TaskRun
	for rows.Next() {
		var (
			tr          core.TaskRun
			startedAt   int64
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&tr.ID, &tr.TaskID, &tr.RunID, &tr.PipelineID, &tr.Status,
			&startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning task run: %w", err)
		}
		tr.StartedAt = msToTime(startedAt)
		tr.CompletedAt = nullMsToTime(completedAt)
		taskRuns = append(taskRuns, &tr)
	}
	return taskRuns, rows.Err()
}
