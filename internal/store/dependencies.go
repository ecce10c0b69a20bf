package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/djinnbot/djinnbot/internal/core"
)

// CreateEdge inserts a dependency edge. A duplicate (from, to) pair maps to
// a conflict error via the unique constraint.
func (s *Store) CreateEdge(ctx context.Context, e *core.DependencyEdge) error {
	return s.createEdge(ctx, s.db, e)
}

// CreateEdgeTx inserts an edge inside an existing transaction.
func (s *Store) CreateEdgeTx(ctx context.Context, tx *sql.Tx, e *core.DependencyEdge) error {
	return s.createEdge(ctx, tx, e)
}

func (s *Store) createEdge(ctx context.Context, q querier, e *core.DependencyEdge) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO dependency_edges (id, project_id, from_task_id, to_task_id, type)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.FromTaskID, e.ToTaskID, e.Type)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return core.ErrConflict(core.CodeDuplicateEdge,
				fmt.Sprintf("dependency %s -> %s already exists", e.FromTaskID, e.ToTaskID))
		}
		return fmt.Errorf("inserting dependency edge: %w", err)
	}
	return nil
}

// DeleteEdge removes an edge; missing ids are a no-op so removal is
// idempotent.
func (s *Store) DeleteEdge(ctx context.Context, id core.EdgeID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM dependency_edges WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting dependency edge: %w", err)
	}
	return nil
}

// ListEdges returns all edges of a project.
func (s *Store) ListEdges(ctx context.Context, projectID core.ProjectID) ([]*core.DependencyEdge, error) {
	return s.listEdges(ctx, s.db,
		"SELECT id, project_id, from_task_id, to_task_id, type FROM dependency_edges WHERE project_id = ?",
		projectID)
}

// ListEdgesTx returns all edges of a project inside a transaction.
func (s *Store) ListEdgesTx(ctx context.Context, tx *sql.Tx, projectID core.ProjectID) ([]*core.DependencyEdge, error) {
	return s.listEdges(ctx, tx,
		"SELECT id, project_id, from_task_id, to_task_id, type FROM dependency_edges WHERE project_id = ?",
		projectID)
}

// ListEdgesTo returns the edges pointing at a task (its predecessors).
func (s *Store) ListEdgesTo(ctx context.Context, taskID core.TaskID) ([]*core.DependencyEdge, error) {
	return s.listEdges(ctx, s.db,
		"SELECT id, project_id, from_task_id, to_task_id, type FROM dependency_edges WHERE to_task_id = ?",
		taskID)
}

// ListEdgesFrom returns the edges leaving a task (its dependents).
func (s *Store) ListEdgesFrom(ctx context.Context, taskID core.TaskID) ([]*core.DependencyEdge, error) {
	return s.listEdges(ctx, s.db,
		"SELECT id, project_id, from_task_id, to_task_id, type FROM dependency_edges WHERE from_task_id = ?",
		taskID)
}

func (s *Store) listEdges(ctx context.Context, q querier, query string, args ...any) ([]*core.DependencyEdge, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing dependency edges: %w", err)
	}
	defer rows.Close()

	var edges []*core.DependencyEdge
	for rows.Next() {
		var e core.DependencyEdge
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.FromTaskID, &e.ToTaskID, &e.Type); err != nil {
			return nil, fmt.Errorf("scanning dependency edge: %w", err)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}
