package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/djinnbot/djinnbot/internal/core"
)

// CreateProject inserts a project row.
func (s *Store) CreateProject(ctx context.Context, p *core.Project) error {
	return s.createProject(ctx, s.db, p)
}

// CreateProjectTx inserts a project inside an existing transaction.
func (s *Store) CreateProjectTx(ctx context.Context, tx *sql.Tx, p *core.Project) error {
	return s.createProject(ctx, tx, p)
}

func (s *Store) createProject(ctx context.Context, q querier, p *core.Project) error {
	semantics, err := json.Marshal(p.Semantics)
	if err != nil {
		return fmt.Errorf("marshaling status semantics: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, status, repository,
			default_pipeline_id, status_semantics, workspace_type,
			created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Status, p.Repository,
		p.DefaultPipelineID, string(semantics), p.WorkspaceType,
		p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(), timeToNullMs(p.CompletedAt))
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id core.ProjectID) (*core.Project, error) {
	return s.getProject(ctx, s.db, id)
}

// GetProjectTx fetches a project inside a transaction.
func (s *Store) GetProjectTx(ctx context.Context, tx *sql.Tx, id core.ProjectID) (*core.Project, error) {
	return s.getProject(ctx, tx, id)
}

func (s *Store) getProject(ctx context.Context, q querier, id core.ProjectID) (*core.Project, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, description, status, repository, default_pipeline_id,
			status_semantics, workspace_type, created_at, updated_at, completed_at
		FROM projects WHERE id = ?`, id)

	var (
		p           core.Project
		semantics   string
		createdAt   int64
		updatedAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.Repository,
		&p.DefaultPipelineID, &semantics, &p.WorkspaceType,
		&createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("project", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("scanning project: %w", err)
	}
	if err := json.Unmarshal([]byte(semantics), &p.Semantics); err != nil {
		return nil, fmt.Errorf("decoding status semantics: %w", err)
	}
	p.CreatedAt = msToTime(createdAt)
	p.UpdatedAt = msToTime(updatedAt)
	p.CompletedAt = nullMsToTime(completedAt)
	return &p, nil
}

// UpdateProject rewrites the mutable project fields.
func (s *Store) UpdateProject(ctx context.Context, p *core.Project) error {
	semantics, err := json.Marshal(p.Semantics)
	if err != nil {
		return fmt.Errorf("marshaling status semantics: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, status = ?, repository = ?,
			default_pipeline_id = ?, status_semantics = ?, workspace_type = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ?`,
		p.Name, p.Description, p.Status, p.Repository,
		p.DefaultPipelineID, string(semantics), p.WorkspaceType,
		nowMilli(), timeToNullMs(p.CompletedAt), p.ID)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("project", string(p.ID))
	}
	return nil
}

// DeleteProject removes a project; columns, tasks, edges, and policies
// cascade.
func (s *Store) DeleteProject(ctx context.Context, id core.ProjectID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("project", string(id))
	}
	return nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*core.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, status, repository, default_pipeline_id,
			status_semantics, workspace_type, created_at, updated_at, completed_at
		FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []*core.Project
	for rows.Next() {
		var (
			p           core.Project
			semantics   string
			createdAt   int64
			updatedAt   int64
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.Repository,
			&p.DefaultPipelineID, &semantics, &p.WorkspaceType,
			&createdAt, &updatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		if err := json.Unmarshal([]byte(semantics), &p.Semantics); err != nil {
			return nil, fmt.Errorf("decoding status semantics: %w", err)
		}
		p.CreatedAt = msToTime(createdAt)
		p.UpdatedAt = msToTime(updatedAt)
		p.CompletedAt = nullMsToTime(completedAt)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// GetWorkflowPolicy returns the project's workflow policy, nil when none is
// configured.
func (s *Store) GetWorkflowPolicy(ctx context.Context, projectID core.ProjectID) (*core.WorkflowPolicy, error) {
	var rules string
	err := s.db.QueryRowContext(ctx,
		"SELECT stage_rules FROM workflow_policies WHERE project_id = ?", projectID).Scan(&rules)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching workflow policy: %w", err)
	}
	policy := &core.WorkflowPolicy{ProjectID: projectID}
	if err := json.Unmarshal([]byte(rules), &policy.StageRules); err != nil {
		return nil, fmt.Errorf("decoding stage rules: %w", err)
	}
	return policy, nil
}

// SaveWorkflowPolicy upserts the project's workflow policy.
func (s *Store) SaveWorkflowPolicy(ctx context.Context, policy *core.WorkflowPolicy) error {
	rules, err := json.Marshal(policy.StageRules)
	if err != nil {
		return fmt.Errorf("marshaling stage rules: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_policies (project_id, stage_rules) VALUES (?, ?)
		ON CONFLICT(project_id) DO UPDATE SET stage_rules = excluded.stage_rules`,
		policy.ProjectID, string(rules))
	if err != nil {
		return fmt.Errorf("saving workflow policy: %w", err)
	}
	return nil
}
