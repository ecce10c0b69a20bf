package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/store"
)

// Service owns dependency-edge mutations and structural queries for one
// store.
type Service struct {
	store  *store.Store
	logger *logging.Logger
}

// NewService creates a dependency graph service.
func NewService(st *store.Store, logger *logging.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// AddEdge validates and inserts a dependency edge. Both endpoints must
// exist in the project, self-loops and duplicates are rejected, and blocks
// edges go through cycle detection before commit.
func (s *Service) AddEdge(ctx context.Context, projectID core.ProjectID, from, to core.TaskID, depType core.DependencyType) (*core.DependencyEdge, error) {
	edge := &core.DependencyEdge{
		ID:         core.EdgeID(uuid.NewString()),
		ProjectID:  projectID,
		FromTaskID: from,
		ToTaskID:   to,
		Type:       depType,
	}
	if err := edge.Validate(); err != nil {
		return nil, err
	}

	fromTask, err := s.store.GetTask(ctx, from)
	if err != nil {
		return nil, err
	}
	toTask, err := s.store.GetTask(ctx, to)
	if err != nil {
		return nil, err
	}
	if fromTask.ProjectID != projectID || toTask.ProjectID != projectID {
		return nil, core.ErrValidation(core.CodeCrossProjectEdge,
			"dependency endpoints must belong to the project")
	}

	if depType == core.DependencyBlocks {
		existing, err := s.store.ListEdges(ctx, projectID)
		if err != nil {
			return nil, err
		}
		// Adding from -> to creates a cycle exactly when from is already
		// reachable from to.
		if path := FindPath(existing, to, from); path != nil {
			titles := s.titleIndex(ctx, projectID)
			// path runs to -> ... -> from; prefix the proposed source and
			// drop the repeated endpoint so the message reads from -> to -> ...
			return nil, CycleError(append([]core.TaskID{from}, path[:len(path)-1]...), titles)
		}
	}

	if err := s.store.CreateEdge(ctx, edge); err != nil {
		return nil, err
	}
	return edge, nil
}

// RemoveEdge deletes an edge; removal is idempotent.
func (s *Service) RemoveEdge(ctx context.Context, edgeID core.EdgeID) error {
	return s.store.DeleteEdge(ctx, edgeID)
}

func (s *Service) titleIndex(ctx context.Context, projectID core.ProjectID) map[core.TaskID]string {
	titles := make(map[core.TaskID]string)
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		s.logger.Warn("loading titles for cycle message", "error", err)
		return titles
	}
	for _, t := range tasks {
		titles[t.ID] = t.Title
	}
	return titles
}

// Snapshot is the full structural view of a project graph.
type Snapshot struct {
	Tasks            []*core.Task           `json:"tasks"`
	Edges            []*core.DependencyEdge `json:"edges"`
	TopologicalOrder []core.TaskID          `json:"topological_order"`
	CriticalPath     []core.TaskID          `json:"critical_path"`
}

// Graph fetches all tasks and edges of the project and computes the
// topological order and critical path.
func (s *Service) Graph(ctx context.Context, projectID core.ProjectID) (*Snapshot, error) {
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.ListEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Tasks:            tasks,
		Edges:            edges,
		TopologicalOrder: TopoSort(tasks, edges),
		CriticalPath:     CriticalPath(tasks, edges),
	}, nil
}

// Timeline fetches the project and forward-schedules it.
func (s *Service) Timeline(ctx context.Context, projectID core.ProjectID, hoursPerDay float64) (*TimelineResult, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.ListEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return Timeline(tasks, edges, project.Semantics, hoursPerDay, time.Now()), nil
}

// CycleCheck validates a combined edge set (existing plus proposed) without
// writing anything. Bulk imports call this before inserting any row.
func CycleCheck(existing, proposed []*core.DependencyEdge, titles map[core.TaskID]string) error {
	combined := make([]*core.DependencyEdge, 0, len(existing)+len(proposed))
	combined = append(combined, existing...)
	combined = append(combined, proposed...)
	if cycle := FindAnyCycle(combined); cycle != nil {
		return CycleError(cycle, titles)
	}
	return nil
}

// DescribeEdge renders an edge for logs and error details.
func DescribeEdge(e *core.DependencyEdge) string {
	return fmt.Sprintf("%s -> %s (%s)", e.FromTaskID, e.ToTaskID, e.Type)
}
