package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/djinnbot/djinnbot/internal/core"
)

// CreateColumn inserts a column row.
func (s *Store) CreateColumn(ctx context.Context, c *core.KanbanColumn) error {
	return s.createColumn(ctx, s.db, c)
}

// CreateColumnTx inserts a column inside an existing transaction.
func (s *Store) CreateColumnTx(ctx context.Context, tx *sql.Tx, c *core.KanbanColumn) error {
	return s.createColumn(ctx, tx, c)
}

func (s *Store) createColumn(ctx context.Context, q querier, c *core.KanbanColumn) error {
	statuses, err := json.Marshal(c.TaskStatuses)
	if err != nil {
		return fmt.Errorf("marshaling task statuses: %w", err)
	}
	var wip interface{}
	if c.WIPLimit != nil {
		wip = *c.WIPLimit
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO kanban_columns (id, project_id, name, position, wip_limit, task_statuses)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Name, c.Position, wip, string(statuses))
	if err != nil {
		return fmt.Errorf("inserting column: %w", err)
	}
	return nil
}

// GetColumn fetches a column by id.
func (s *Store) GetColumn(ctx context.Context, id core.ColumnID) (*core.KanbanColumn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, position, wip_limit, task_statuses
		FROM kanban_columns WHERE id = ?`, id)

	c, err := scanColumn(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("column", string(id))
	}
	return c, err
}

// ListColumns returns a project's columns ordered by position.
func (s *Store) ListColumns(ctx context.Context, projectID core.ProjectID) ([]*core.KanbanColumn, error) {
	return s.listColumns(ctx, s.db, projectID)
}

// ListColumnsTx returns a project's columns inside a transaction.
func (s *Store) ListColumnsTx(ctx context.Context, tx *sql.Tx, projectID core.ProjectID) ([]*core.KanbanColumn, error) {
	return s.listColumns(ctx, tx, projectID)
}

func (s *Store) listColumns(ctx context.Context, q querier, projectID core.ProjectID) ([]*core.KanbanColumn, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, project_id, name, position, wip_limit, task_statuses
		FROM kanban_columns WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing columns: %w", err)
	}
	defer rows.Close()

	var columns []*core.KanbanColumn
	for rows.Next() {
		c, err := scanColumn(rows.Scan)
		if err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func scanColumn(scan func(...any) error) (*core.KanbanColumn, error) {
	var (
		c        core.KanbanColumn
		wip      sql.NullInt64
		statuses string
	)
	if err := scan(&c.ID, &c.ProjectID, &c.Name, &c.Position, &wip, &statuses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning column: %w", err)
	}
	if wip.Valid {
		limit := int(wip.Int64)
		c.WIPLimit = &limit
	}
	if err := json.Unmarshal([]byte(statuses), &c.TaskStatuses); err != nil {
		return nil, fmt.Errorf("decoding task statuses: %w", err)
	}
	return &c, nil
}

// UpdateColumn rewrites the mutable column fields.
func (s *Store) UpdateColumn(ctx context.Context, c *core.KanbanColumn) error {
	statuses, err := json.Marshal(c.TaskStatuses)
	if err != nil {
		return fmt.Errorf("marshaling task statuses: %w", err)
	}
	var wip interface{}
	if c.WIPLimit != nil {
		wip = *c.WIPLimit
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE kanban_columns SET name = ?, position = ?, wip_limit = ?, task_statuses = ?
		WHERE id = ?`,
		c.Name, c.Position, wip, string(statuses), c.ID)
	if err != nil {
		return fmt.Errorf("updating column: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("column", string(c.ID))
	}
	return nil
}

// DeleteColumn removes an empty column. The engine checks occupancy first;
// the foreign key on tasks.column_id backstops it.
func (s *Store) DeleteColumn(ctx context.Context, id core.ColumnID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM kanban_columns WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting column: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("column", string(id))
	}
	return nil
}

// CountTasksInColumn returns the number of tasks currently in the column.
func (s *Store) CountTasksInColumn(ctx context.Context, id core.ColumnID) (int, error) {
	return s.countTasksInColumn(ctx, s.db, id)
}

// CountTasksInColumnTx counts inside a transaction.
func (s *Store) CountTasksInColumnTx(ctx context.Context, tx *sql.Tx, id core.ColumnID) (int, error) {
	return s.countTasksInColumn(ctx, tx, id)
}

func (s *Store) countTasksInColumn(ctx context.Context, q querier, id core.ColumnID) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE column_id = ?", id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting tasks in column: %w", err)
	}
	return n, nil
}
