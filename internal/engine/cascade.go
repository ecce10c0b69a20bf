package engine

import (
	"context"
	"time"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/events"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/store"
)

// Propagator applies the cross-cutting readiness rules fired whenever a task
// status changes: unblocking dependents, blocking downstream work on failure,
// restoring it on recovery, and deriving container-parent statuses.
//
// Cascade errors are logged but never abort the originating transition; the
// database state is eventually consistent and self-heals on the next change.
type Propagator struct {
	store  *store.Store
	bus    events.Bus
	logger *logging.Logger
}

// NewPropagator creates a readiness propagator.
func NewPropagator(st *store.Store, bus events.Bus, logger *logging.Logger) *Propagator {
	return &Propagator{store: st, bus: bus, logger: logger}
}

// OnStatusChange routes the cascade for a task that just changed status.
func (p *Propagator) OnStatusChange(ctx context.Context, project *core.Project, task *core.Task) {
	s := project.Semantics
	switch {
	case s.IsDone(task.Status):
		p.cascadeDone(ctx, project, task.ID)
	case s.IsFailed(task.Status):
		p.cascadeFail(ctx, project, task.ID)
	case !s.IsBlocked(task.Status):
		p.cascadeRecovery(ctx, project, task.ID, map[core.TaskID]bool{task.ID: true})
	}
}

// cascadeDone unblocks every direct dependent whose blocking predecessors are
// now all done, restoring a saved pre-block position when one exists.
func (p *Propagator) cascadeDone(ctx context.Context, project *core.Project, taskID core.TaskID) {
	columns, err := p.store.ListColumns(ctx, project.ID)
	if err != nil {
		p.logger.Warn("cascade: listing columns", "project_id", project.ID, "error", err)
		return
	}
	s := project.Semantics

	for _, dep := range p.blockedDependents(ctx, taskID) {
		d, err := p.store.GetTask(ctx, dep)
		if err != nil {
			p.logger.Warn("cascade: loading dependent", "task_id", dep, "error", err)
			continue
		}
		if s.IsTerminal(d.Status) {
			continue
		}
		allDone, err := p.allPredecessorsDone(ctx, s, d.ID)
		if err != nil {
			p.logger.Warn("cascade: checking predecessors", "task_id", d.ID, "error", err)
			continue
		}
		if !allDone {
			continue
		}

		target, column := p.restoreTarget(d, columns, s.First(core.RoleClaimable, "ready"))
		if column == nil || d.Status == target {
			continue
		}
		p.applyStatus(ctx, s, d, target, column, "all_dependencies_met")
	}
}

// cascadeFail walks the downstream closure of the failed task and blocks
// every reachable non-terminal task, saving its current position so recovery
// can restore it.
func (p *Propagator) cascadeFail(ctx context.Context, project *core.Project, taskID core.TaskID) {
	columns, err := p.store.ListColumns(ctx, project.ID)
	if err != nil {
		p.logger.Warn("cascade: listing columns", "project_id", project.ID, "error", err)
		return
	}
	s := project.Semantics
	blockedStatus := s.First(core.RoleBlocked, "blocked")
	column := core.ColumnForStatus(columns, blockedStatus)
	if column == nil {
		// No blocked-capable column; park downstream work with the failures.
		column = core.ColumnForStatus(columns, s.First(core.RoleTerminalFail, ""))
	}
	if column == nil {
		p.logger.Warn("cascade: no column accepts blocked status", "project_id", project.ID)
		return
	}

	visited := map[core.TaskID]bool{taskID: true}
	queue := []core.TaskID{taskID}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, dep := range p.blockedDependents(ctx, node) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			queue = append(queue, dep)

			d, err := p.store.GetTask(ctx, dep)
			if err != nil {
				p.logger.Warn("cascade: loading dependent", "task_id", dep, "error", err)
				continue
			}
			if s.IsTerminal(d.Status) || s.IsBlocked(d.Status) {
				continue
			}

			d.Metadata = d.Metadata.Set(core.MetaPreBlockStatus, d.Status)
			d.Metadata = d.Metadata.Set(core.MetaPreBlockColumnID, string(d.ColumnID))
			p.applyStatus(ctx, s, d, blockedStatus, column, "dependency_failed")
		}
	}
}

// cascadeRecovery restores blocked dependents of a task that left its failed
// state. A restored dependent is itself a recovery, so the restoration walks
// down the chain.
func (p *Propagator) cascadeRecovery(ctx context.Context, project *core.Project, taskID core.TaskID, visited map[core.TaskID]bool) {
	columns, err := p.store.ListColumns(ctx, project.ID)
	if err != nil {
		p.logger.Warn("cascade: listing columns", "project_id", project.ID, "error", err)
		return
	}
	s := project.Semantics

	for _, dep := range p.blockedDependents(ctx, taskID) {
		if visited[dep] {
			continue
		}
		visited[dep] = true

		d, err := p.store.GetTask(ctx, dep)
		if err != nil {
			p.logger.Warn("cascade: loading dependent", "task_id", dep, "error", err)
			continue
		}
		if !s.IsBlocked(d.Status) {
			continue
		}
		healthy, allDone, err := p.predecessorHealth(ctx, s, d.ID)
		if err != nil {
			p.logger.Warn("cascade: checking predecessors", "task_id", d.ID, "error", err)
			continue
		}
		if !healthy {
			continue
		}

		fallback := s.First(core.RoleInitial, "backlog")
		if allDone {
			fallback = s.First(core.RoleClaimable, "ready")
		}
		target, column := p.restoreTarget(d, columns, fallback)
		if column == nil {
			continue
		}
		p.applyStatus(ctx, s, d, target, column, "dependency_recovered")
		if !s.IsBlocked(target) && !s.IsTerminal(target) {
			p.cascadeRecovery(ctx, project, d.ID, visited)
		}
	}
}

// DeriveParent recomputes a container parent's status from the multiset of
// its subtask statuses. The derivation is idempotent: rerunning it against an
// unchanged sibling set is a no-op.
func (p *Propagator) DeriveParent(ctx context.Context, project *core.Project, parentID core.TaskID) {
	parent, err := p.store.GetTask(ctx, parentID)
	if err != nil {
		p.logger.Warn("derive: loading parent", "task_id", parentID, "error", err)
		return
	}
	children, err := p.store.ListChildren(ctx, parentID)
	if err != nil || len(children) == 0 {
		if err != nil {
			p.logger.Warn("derive: listing children", "task_id", parentID, "error", err)
		}
		return
	}

	s := project.Semantics
	allDone := true
	anyFailed := false
	activeStatus := ""
	for _, c := range children {
		if !s.IsDone(c.Status) {
			allDone = false
		}
		if s.IsFailed(c.Status) {
			anyFailed = true
		}
		if activeStatus == "" && isActiveStatus(s, c.Status) {
			activeStatus = c.Status
		}
	}

	var derived string
	switch {
	case allDone:
		derived = s.First(core.RoleTerminalDone, "done")
	case activeStatus != "":
		derived = activeStatus
	case anyFailed:
		derived = s.First(core.RoleTerminalFail, "failed")
	default:
		return
	}
	if derived == parent.Status {
		return
	}

	columns, err := p.store.ListColumns(ctx, project.ID)
	if err != nil {
		p.logger.Warn("derive: listing columns", "project_id", project.ID, "error", err)
		return
	}
	column := core.ColumnForStatus(columns, derived)
	if column == nil {
		p.logger.Warn("derive: no column accepts derived status",
			"task_id", parentID, "status", derived)
		return
	}
	p.applyStatus(ctx, s, parent, derived, column, "derived_from_subtasks")

	// A parent reaching done unlocks whatever depends on the parent itself.
	if s.IsDone(derived) {
		p.cascadeDone(ctx, project, parent.ID)
	} else if s.IsFailed(derived) {
		p.cascadeFail(ctx, project, parent.ID)
	}
}

// applyStatus persists a cascade-driven status change and publishes it.
func (p *Propagator) applyStatus(ctx context.Context, s core.StatusSemantics, task *core.Task, status string, column *core.KanbanColumn, reason string) {
	from := task.Status
	task.Status = status
	task.ColumnID = column.ID
	if s.IsDone(status) {
		now := time.Now()
		task.CompletedAt = &now
	} else {
		task.CompletedAt = nil
	}
	if err := p.store.UpdateTask(ctx, task); err != nil {
		p.logger.Warn("cascade: updating task",
			"task_id", task.ID, "status", status, "error", err)
		return
	}
	events.TryPublish(ctx, p.bus, p.logger, events.StreamGlobal,
		events.New(events.TypeTaskStatusChanged).
			WithProject(string(task.ProjectID)).
			WithTask(string(task.ID)).
			WithData("from", from).
			WithData("to", status).
			WithData("reason", reason))
	p.logger.Info("cascade applied",
		"task_id", task.ID,
		"from", from,
		"to", status,
		"reason", reason)
}

// restoreTarget picks the status and column a dependent returns to: the saved
// pre-block position when present (popping the metadata keys), otherwise the
// given fallback status.
func (p *Propagator) restoreTarget(d *core.Task, columns []*core.KanbanColumn, fallback string) (string, *core.KanbanColumn) {
	status := d.Metadata.GetString(core.MetaPreBlockStatus)
	if status != "" {
		var column *core.KanbanColumn
		if saved := d.Metadata.GetString(core.MetaPreBlockColumnID); saved != "" {
			for _, c := range columns {
				if c.ID == core.ColumnID(saved) {
					column = c
					break
				}
			}
		}
		if column == nil {
			column = core.ColumnForStatus(columns, status)
		}
		if column != nil {
			d.Metadata.Delete(core.MetaPreBlockStatus)
			d.Metadata.Delete(core.MetaPreBlockColumnID)
			return status, column
		}
	}
	return fallback, core.ColumnForStatus(columns, fallback)
}

// blockedDependents returns the tasks directly blocked by taskID.
func (p *Propagator) blockedDependents(ctx context.Context, taskID core.TaskID) []core.TaskID {
	edges, err := p.store.ListEdgesFrom(ctx, taskID)
	if err != nil {
		p.logger.Warn("cascade: listing dependents", "task_id", taskID, "error", err)
		return nil
	}
	var out []core.TaskID
	for _, e := range edges {
		if e.Type == core.DependencyBlocks {
			out = append(out, e.ToTaskID)
		}
	}
	return out
}

// allPredecessorsDone reports whether every blocking predecessor of taskID is
// in a terminal done status.
func (p *Propagator) allPredecessorsDone(ctx context.Context, s core.StatusSemantics, taskID core.TaskID) (bool, error) {
	_, allDone, err := p.predecessorState(ctx, s, taskID)
	return allDone, err
}

// predecessorHealth reports whether no blocking predecessor of taskID is
// failed or blocked, and whether all of them are done.
func (p *Propagator) predecessorHealth(ctx context.Context, s core.StatusSemantics, taskID core.TaskID) (healthy, allDone bool, err error) {
	return p.predecessorState(ctx, s, taskID)
}

func (p *Propagator) predecessorState(ctx context.Context, s core.StatusSemantics, taskID core.TaskID) (healthy, allDone bool, err error) {
	edges, err := p.store.ListEdgesTo(ctx, taskID)
	if err != nil {
		return false, false, err
	}
	healthy, allDone = true, true
	for _, e := range edges {
		if e.Type != core.DependencyBlocks {
			continue
		}
		pred, err := p.store.GetTask(ctx, e.FromTaskID)
		if err != nil {
			return false, false, err
		}
		if !s.IsDone(pred.Status) {
			allDone = false
		}
		if s.IsFailed(pred.Status) || s.IsBlocked(pred.Status) {
			healthy = false
		}
	}
	return healthy, allDone, nil
}

// isActiveStatus reports whether a status means the task is being worked on:
// neither waiting (initial, claimable, blocked) nor finished.
func isActiveStatus(s core.StatusSemantics, status string) bool {
	return !s.IsTerminal(status) &&
		!s.IsBlocked(status) &&
		!s.Has(core.RoleInitial, status) &&
		!s.IsClaimable(status)
}
