package engine

import (
	"context"
	"sort"

	"github.com/djinnbot/djinnbot/internal/core"
)

// ReadyQuery filters the ready-tasks call an agent makes on each pulse.
type ReadyQuery struct {
	AgentID   string
	Statuses  []string
	WorkTypes []string
	Limit     int
}

// DependentRef is a downstream task blocked by a candidate, with its current
// status. Agents use it to avoid picking up work whose downstream would
// conflict.
type DependentRef struct {
	TaskID core.TaskID `json:"task_id"`
	Title  string      `json:"title"`
	Status string      `json:"status"`
}

// ReadyTask pairs a candidate with its blocked dependents.
type ReadyTask struct {
	Task       *core.Task     `json:"task"`
	Dependents []DependentRef `json:"dependents,omitempty"`
}

// ReadyResult answers one pulse: claimable work plus the tasks the agent
// already owns, so it can reason about parallel independence in one call.
type ReadyResult struct {
	Tasks      []ReadyTask `json:"tasks"`
	InProgress []ReadyTask `json:"in_progress,omitempty"`
}

// ReadyTasks returns the tasks an agent may pick up. Container parents are
// never returned; tasks still in an initial or blocked status qualify only
// when every blocking dependency is done, including the parent's dependencies
// for subtasks.
func (e *Engine) ReadyTasks(ctx context.Context, projectID core.ProjectID, q ReadyQuery) (*ReadyResult, error) {
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s := project.Semantics

	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = defaultReadyStatuses(s)
	}
	statusSet := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		statusSet[st] = true
	}
	workTypes := make(map[core.WorkType]bool, len(q.WorkTypes))
	for _, wt := range q.WorkTypes {
		workTypes[core.WorkType(wt)] = true
	}

	all, err := e.store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	parents, err := e.store.ParentTaskIDs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.ListEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}

	byID := make(map[core.TaskID]*core.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}
	preds := make(map[core.TaskID][]core.TaskID)
	dependents := make(map[core.TaskID][]core.TaskID)
	for _, edge := range edges {
		if edge.Type != core.DependencyBlocks {
			continue
		}
		preds[edge.ToTaskID] = append(preds[edge.ToTaskID], edge.FromTaskID)
		dependents[edge.FromTaskID] = append(dependents[edge.FromTaskID], edge.ToTaskID)
	}

	predsDone := func(id core.TaskID) bool {
		for _, pid := range preds[id] {
			pred, ok := byID[pid]
			if !ok || !s.IsDone(pred.Status) {
				return false
			}
		}
		return true
	}

	var ready []ReadyTask
	for _, t := range all {
		if !statusSet[t.Status] || parents[t.ID] {
			continue
		}
		if q.AgentID != "" && t.AssignedAgent != "" && t.AssignedAgent != q.AgentID {
			continue
		}
		// Unclassified tasks always pass a work-type filter.
		if len(workTypes) > 0 && t.WorkType != "" && !workTypes[t.WorkType] {
			continue
		}
		// Statuses past initial were dependency-validated on entry; waiting
		// statuses are re-checked here.
		if s.Has(core.RoleInitial, t.Status) || s.IsBlocked(t.Status) {
			if !predsDone(t.ID) {
				continue
			}
			if t.ParentTaskID != "" && !predsDone(t.ParentTaskID) {
				continue
			}
		}
		ready = append(ready, ReadyTask{Task: t, Dependents: dependentRefs(t.ID, dependents, byID)})
	}

	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i].Task, ready[j].Task
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if q.Limit > 0 && len(ready) > q.Limit {
		ready = ready[:q.Limit]
	}

	result := &ReadyResult{Tasks: ready}
	if q.AgentID != "" {
		for _, t := range all {
			if t.AssignedAgent == q.AgentID && isActiveStatus(s, t.Status) {
				result.InProgress = append(result.InProgress,
					ReadyTask{Task: t, Dependents: dependentRefs(t.ID, dependents, byID)})
			}
		}
	}
	return result, nil
}

// defaultReadyStatuses is the union of the initial and claimable semantic
// sets, deduplicated in order.
func defaultReadyStatuses(s core.StatusSemantics) []string {
	seen := make(map[string]bool)
	var out []string
	for _, role := range []core.SemanticRole{core.RoleInitial, core.RoleClaimable} {
		for _, st := range s[role] {
			if !seen[st] {
				seen[st] = true
				out = append(out, st)
			}
		}
	}
	return out
}

func dependentRefs(id core.TaskID, dependents map[core.TaskID][]core.TaskID, byID map[core.TaskID]*core.Task) []DependentRef {
	var refs []DependentRef
	for _, did := range dependents[id] {
		if d, ok := byID[did]; ok {
			refs = append(refs, DependentRef{TaskID: d.ID, Title: d.Title, Status: d.Status})
		}
	}
	return refs
}
