package engine

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/djinnbot/djinnbot/internal/core"
)

// CreateProjectRequest carries the attributes of a new project. Omitted
// semantics, workspace type, and columns fall back to the defaults.
type CreateProjectRequest struct {
	ID                core.ProjectID
	Name              string
	Description       string
	Repository        string
	DefaultPipelineID string
	Semantics         core.StatusSemantics
	WorkspaceType     core.WorkspaceType
}

// CreateProject creates a project together with its default board columns in
// one transaction.
func (e *Engine) CreateProject(ctx context.Context, req CreateProjectRequest) (*core.Project, []*core.KanbanColumn, error) {
	if req.ID == "" {
		req.ID = core.ProjectID(uuid.NewString())
	}
	p := core.NewProject(req.ID, req.Name)
	p.Description = req.Description
	p.Repository = req.Repository
	p.DefaultPipelineID = req.DefaultPipelineID
	if req.Semantics != nil {
		p.Semantics = req.Semantics
	}
	if req.WorkspaceType != "" {
		p.WorkspaceType = req.WorkspaceType
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	var columns []*core.KanbanColumn
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.CreateProjectTx(ctx, tx, p); err != nil {
			return err
		}
		for i, spec := range core.DefaultColumns() {
			c := &core.KanbanColumn{
				ID:           core.ColumnID(uuid.NewString()),
				ProjectID:    p.ID,
				Name:         spec.Name,
				Position:     i,
				TaskStatuses: spec.Statuses,
			}
			if err := e.store.CreateColumnTx(ctx, tx, c); err != nil {
				return err
			}
			columns = append(columns, c)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info("project created", "project_id", p.ID, "name", p.Name)
	return p, columns, nil
}

// DeleteProject removes a project; columns, tasks, edges, runs history, and
// policies cascade in the database.
func (e *Engine) DeleteProject(ctx context.Context, id core.ProjectID) error {
	if err := e.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	e.logger.Info("project deleted", "project_id", id)
	return nil
}

// DeleteTask removes a task; its dependency edges and run history cascade.
func (e *Engine) DeleteTask(ctx context.Context, id core.TaskID) error {
	return e.store.DeleteTask(ctx, id)
}
