// Package swarm launches parallel execution across multiple tasks. The
// coordinator only derives the execution DAG and announces it; the external
// swarm executor subscribes and fans work out to agents respecting the
// topology.
package swarm

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/events"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/store"
)

// Node is one task of the execution DAG.
type Node struct {
	TaskID   core.TaskID   `json:"task_id"`
	Title    string        `json:"title"`
	Status   string        `json:"status"`
	Priority core.Priority `json:"priority"`
	WorkType core.WorkType `json:"work_type,omitempty"`
}

// Edge is one blocking relation inside the DAG.
type Edge struct {
	From core.TaskID `json:"from"`
	To   core.TaskID `json:"to"`
}

// DAG is the execution topology handed to the swarm executor.
type DAG struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Coordinator builds and dispatches swarm DAGs.
type Coordinator struct {
	store  *store.Store
	bus    events.Bus
	logger *logging.Logger
}

// New creates a swarm coordinator.
func New(st *store.Store, bus events.Bus, logger *logging.Logger) *Coordinator {
	return &Coordinator{store: st, bus: bus, logger: logger}
}

// BoardSwarm dispatches the selected board tasks as one swarm. Every
// selected task must be claimable per the project's semantics; the induced
// subgraph of their blocking edges becomes the execution DAG.
func (c *Coordinator) BoardSwarm(ctx context.Context, projectID core.ProjectID, taskIDs []core.TaskID) (string, error) {
	if len(taskIDs) == 0 {
		return "", core.ErrValidation("SWARM_EMPTY", "swarm needs at least one task")
	}
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}

	selected := make(map[core.TaskID]bool, len(taskIDs))
	dag := DAG{Nodes: make([]Node, 0, len(taskIDs))}
	for _, id := range taskIDs {
		if selected[id] {
			continue
		}
		task, err := c.store.GetTask(ctx, id)
		if err != nil {
			return "", err
		}
		if task.ProjectID != projectID {
			return "", core.ErrNotFound("task", string(id))
		}
		if !project.Semantics.IsClaimable(task.Status) {
			return "", core.ErrValidation(core.CodeNotClaimable,
				fmt.Sprintf("task %q is in non-claimable status %q", task.Title, task.Status))
		}
		selected[id] = true
		dag.Nodes = append(dag.Nodes, Node{
			TaskID:   task.ID,
			Title:    task.Title,
			Status:   task.Status,
			Priority: task.Priority,
			WorkType: task.WorkType,
		})
	}

	edges, err := c.store.ListEdges(ctx, projectID)
	if err != nil {
		return "", err
	}
	for _, e := range edges {
		if e.Type != core.DependencyBlocks {
			continue
		}
		if selected[e.FromTaskID] && selected[e.ToTaskID] {
			dag.Edges = append(dag.Edges, Edge{From: e.FromTaskID, To: e.ToTaskID})
		}
	}

	return c.dispatch(ctx, projectID, dag, "board")
}

// ExecuteDAG dispatches a pre-built DAG, the path agents use for
// self-organised swarms.
func (c *Coordinator) ExecuteDAG(ctx context.Context, projectID core.ProjectID, dag DAG) (string, error) {
	if len(dag.Nodes) == 0 {
		return "", core.ErrValidation("SWARM_EMPTY", "swarm needs at least one task")
	}
	if _, err := c.store.GetProject(ctx, projectID); err != nil {
		return "", err
	}
	nodes := make(map[core.TaskID]bool, len(dag.Nodes))
	for _, n := range dag.Nodes {
		nodes[n.TaskID] = true
	}
	for _, e := range dag.Edges {
		if !nodes[e.From] || !nodes[e.To] {
			return "", core.ErrValidation("SWARM_DANGLING_EDGE",
				fmt.Sprintf("edge %s -> %s references a task outside the swarm", e.From, e.To))
		}
	}
	return c.dispatch(ctx, projectID, dag, "agent")
}

func (c *Coordinator) dispatch(ctx context.Context, projectID core.ProjectID, dag DAG, origin string) (string, error) {
	swarmID := uuid.NewString()
	events.TryPublish(ctx, c.bus, c.logger, events.StreamGlobal,
		events.New(events.TypeSwarmDispatched).
			WithProject(string(projectID)).
			WithData("swarm_id", swarmID).
			WithData("origin", origin).
			WithData("dag", dag))
	c.logger.Info("swarm dispatched",
		"swarm_id", swarmID,
		"project_id", projectID,
		"tasks", len(dag.Nodes),
		"edges", len(dag.Edges),
		"origin", origin)
	return swarmID, nil
}
