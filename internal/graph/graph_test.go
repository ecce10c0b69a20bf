package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.OpenTemp(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewService(s, logging.NewNop()), s
}

func seedGraphProject(t *testing.T, s *store.Store, taskIDs ...core.TaskID) {
	t.Helper()
	ctx := context.Background()
	p := core.NewProject("p1", "graph demo")
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("creating project: %v", err)
	}
	col := &core.KanbanColumn{
		ID: "c1", ProjectID: "p1", Name: "Backlog",
		Position: 0, TaskStatuses: []string{"backlog"},
	}
	if err := s.CreateColumn(ctx, col); err != nil {
		t.Fatalf("creating column: %v", err)
	}
	for _, id := range taskIDs {
		task := core.NewTask(id, "p1", "task "+string(id))
		task.ColumnID = "c1"
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("creating task %s: %v", id, err)
		}
	}
}

func edge(id core.EdgeID, from, to core.TaskID) *core.DependencyEdge {
	return &core.DependencyEdge{
		ID: id, ProjectID: "p1",
		FromTaskID: from, ToTaskID: to,
		Type: core.DependencyBlocks,
	}
}

func TestService_AddEdgeRejectsCycle(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedGraphProject(t, st, "a", "b")

	if _, err := svc.AddEdge(ctx, "p1", "a", "b", core.DependencyBlocks); err != nil {
		t.Fatalf("adding a->b: %v", err)
	}
	_, err := svc.AddEdge(ctx, "p1", "b", "a", core.DependencyBlocks)
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected validation error for cycle, got %v", err)
	}
	var derr *core.DomainError
	if !errors.As(err, &derr) || derr.Code != core.CodeDependencyCycle {
		t.Fatalf("expected %s, got %v", core.CodeDependencyCycle, err)
	}
	path, ok := derr.Details["path"].([]string)
	if !ok || len(path) != 2 {
		t.Fatalf("expected two-node cycle path in details, got %v", derr.Details)
	}
	if path[0] == path[len(path)-1] {
		t.Fatalf("cycle path must not repeat the endpoint, got %v", path)
	}

	edges, err := st.ListEdges(ctx, "p1")
	if err != nil {
		t.Fatalf("listing edges: %v", err)
	}
	if len(edges) != 1 || edges[0].FromTaskID != "a" {
		t.Fatalf("expected a->b to remain the only edge, got %v", edges)
	}
}

func TestService_AddEdgeAllowsInformsBackEdge(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedGraphProject(t, st, "a", "b")

	if _, err := svc.AddEdge(ctx, "p1", "a", "b", core.DependencyBlocks); err != nil {
		t.Fatalf("adding a->b: %v", err)
	}
	// informs edges are advisory and exempt from acyclicity
	if _, err := svc.AddEdge(ctx, "p1", "b", "a", core.DependencyInforms); err != nil {
		t.Fatalf("adding informs back edge: %v", err)
	}
}

func TestService_AddEdgeValidation(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedGraphProject(t, st, "a", "b")

	if _, err := svc.AddEdge(ctx, "p1", "a", "a", core.DependencyBlocks); !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected self-dependency rejected, got %v", err)
	}
	if _, err := svc.AddEdge(ctx, "p1", "a", "missing", core.DependencyBlocks); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("expected not found for unknown endpoint, got %v", err)
	}

	if _, err := svc.AddEdge(ctx, "p1", "a", "b", core.DependencyBlocks); err != nil {
		t.Fatalf("adding a->b: %v", err)
	}
	if _, err := svc.AddEdge(ctx, "p1", "a", "b", core.DependencyBlocks); !core.IsCategory(err, core.ErrCatConflict) {
		t.Fatalf("expected duplicate edge conflict, got %v", err)
	}
}

func TestService_RemoveEdgeIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedGraphProject(t, st, "a", "b")

	e, err := svc.AddEdge(ctx, "p1", "a", "b", core.DependencyBlocks)
	if err != nil {
		t.Fatalf("adding edge: %v", err)
	}
	if err := svc.RemoveEdge(ctx, e.ID); err != nil {
		t.Fatalf("removing edge: %v", err)
	}
	if err := svc.RemoveEdge(ctx, e.ID); err != nil {
		t.Fatalf("expected idempotent removal, got %v", err)
	}
}

func TestFindAnyCycle(t *testing.T) {
	acyclic := []*core.DependencyEdge{
		edge("e1", "a", "b"), edge("e2", "b", "c"), edge("e3", "a", "c"),
	}
	if cycle := FindAnyCycle(acyclic); cycle != nil {
		t.Fatalf("expected no cycle, got %v", cycle)
	}

	cyclic := append(acyclic, edge("e4", "c", "a"))
	cycle := FindAnyCycle(cyclic)
	if cycle == nil {
		t.Fatal("expected a cycle")
	}
	if cycle[0] != cycle[len(cycle)-1] {
		t.Fatalf("expected closed cycle path, got %v", cycle)
	}
}

func TestCycleCheck_CombinedEdgeSet(t *testing.T) {
	existing := []*core.DependencyEdge{edge("e1", "a", "b")}
	proposed := []*core.DependencyEdge{edge("e2", "b", "c"), edge("e3", "c", "a")}

	err := CycleCheck(existing, proposed, map[core.TaskID]string{"a": "Design API"})
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected combined set rejected, got %v", err)
	}
	if err := CycleCheck(existing, proposed[:1], nil); err != nil {
		t.Fatalf("expected acyclic combined set accepted, got %v", err)
	}
}

func TestTopoSort_PriorityTieBreak(t *testing.T) {
	mk := func(id core.TaskID, p core.Priority) *core.Task {
		t := core.NewTask(id, "p1", string(id))
		t.Priority = p
		return t
	}
	tasks := []*core.Task{
		mk("low", core.PriorityP3),
		mk("urgent", core.PriorityP0),
		mk("sink", core.PriorityP2),
	}
	edges := []*core.DependencyEdge{
		edge("e1", "low", "sink"),
		edge("e2", "urgent", "sink"),
	}

	order := TopoSort(tasks, edges)
	if len(order) != 3 {
		t.Fatalf("expected all tasks ordered, got %v", order)
	}
	if order[0] != "urgent" || order[1] != "low" || order[2] != "sink" {
		t.Fatalf("expected priority tie-break urgent, low, sink; got %v", order)
	}
}

func TestCriticalPath_LongestChainWins(t *testing.T) {
	mk := func(id core.TaskID, hours float64) *core.Task {
		t := core.NewTask(id, "p1", string(id))
		t.EstimatedHours = hours
		return t
	}
	// a(2) -> b(8) -> d(1) outweighs a(2) -> c(3) -> d(1).
	tasks := []*core.Task{mk("a", 2), mk("b", 8), mk("c", 3), mk("d", 1)}
	edges := []*core.DependencyEdge{
		edge("e1", "a", "b"), edge("e2", "a", "c"),
		edge("e3", "b", "d"), edge("e4", "c", "d"),
	}

	path := CriticalPath(tasks, edges)
	want := []core.TaskID{"a", "b", "d"}
	if len(path) != len(want) {
		t.Fatalf("expected %v, got %v", want, path)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, path)
		}
	}
}

func TestTimeline_ForwardScheduling(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mk := func(id core.TaskID, hours float64) *core.Task {
		t := core.NewTask(id, "p1", string(id))
		t.EstimatedHours = hours
		return t
	}
	tasks := []*core.Task{mk("a", 8), mk("b", 16)}
	edges := []*core.DependencyEdge{edge("e1", "a", "b")}

	result := Timeline(tasks, edges, core.DefaultSemantics(), 8, now)
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}
	a, b := result.Entries[0], result.Entries[1]
	if a.TaskID != "a" || b.TaskID != "b" {
		t.Fatalf("expected topological entry order, got %v then %v", a.TaskID, b.TaskID)
	}
	if a.StartMs != now.UnixMilli() {
		t.Fatalf("root task must start now, got %d", a.StartMs)
	}
	if a.DurationDays != 1 {
		t.Fatalf("8h at 8h/day must be one day, got %v", a.DurationDays)
	}
	if b.StartMs != a.EndMs {
		t.Fatalf("dependent must start at predecessor end: %d vs %d", b.StartMs, a.EndMs)
	}
	if b.DurationDays != 2 {
		t.Fatalf("16h at 8h/day must be two days, got %v", b.DurationDays)
	}
	if len(result.CriticalPath) != 2 || result.CriticalPath[1] != "b" {
		t.Fatalf("expected critical path ending at b, got %v", result.CriticalPath)
	}
}

func TestTimeline_DoneTasksKeepActualWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	done := core.NewTask("a", "p1", "a")
	done.Status = "done"
	created := now.Add(-72 * time.Hour)
	completed := now.Add(-24 * time.Hour)
	done.CreatedAt = created
	done.CompletedAt = &completed

	result := Timeline([]*core.Task{done}, nil, core.DefaultSemantics(), 8, now)
	e := result.Entries[0]
	if e.StartMs != created.UnixMilli() || e.EndMs != completed.UnixMilli() {
		t.Fatalf("done task must keep its actual window, got %+v", e)
	}
}
