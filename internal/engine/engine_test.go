package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/events"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/pulse"
	"github.com/djinnbot/djinnbot/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *events.MemoryBus) {
	t.Helper()
	st, err := store.OpenTemp(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	bus := events.NewMemoryBus()
	return New(st, bus, logging.NewNop()), st, bus
}

func mustProject(t *testing.T, e *Engine) (*core.Project, []*core.KanbanColumn) {
	t.Helper()
	p, cols, err := e.CreateProject(context.Background(), CreateProjectRequest{Name: "demo"})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}
	return p, cols
}

func mustTask(t *testing.T, e *Engine, projectID core.ProjectID, req CreateTaskRequest) *core.Task {
	t.Helper()
	task, err := e.CreateTask(context.Background(), projectID, req)
	if err != nil {
		t.Fatalf("creating task %q: %v", req.Title, err)
	}
	return task
}

func mustEdge(t *testing.T, st *store.Store, projectID core.ProjectID, id core.EdgeID, from, to core.TaskID) {
	t.Helper()
	err := st.CreateEdge(context.Background(), &core.DependencyEdge{
		ID: id, ProjectID: projectID, FromTaskID: from, ToTaskID: to, Type: core.DependencyBlocks,
	})
	if err != nil {
		t.Fatalf("creating edge %s->%s: %v", from, to, err)
	}
}

func status(t *testing.T, st *store.Store, id core.TaskID) string {
	t.Helper()
	task, err := st.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("fetching task %s: %v", id, err)
	}
	return task.Status
}

func TestCreateProject_DefaultColumns(t *testing.T) {
	e, _, _ := newTestEngine(t)
	p, cols, err := e.CreateProject(context.Background(), CreateProjectRequest{Name: "demo"})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}
	if len(cols) != len(core.DefaultColumns()) {
		t.Fatalf("expected default board, got %d columns", len(cols))
	}
	if p.Semantics.First(core.RoleClaimable, "") != "ready" {
		t.Fatalf("expected default semantics, got %v", p.Semantics)
	}
}

func TestCreateTask_Placement(t *testing.T) {
	e, _, _ := newTestEngine(t)
	p, cols := mustProject(t, e)
	ctx := context.Background()

	// No dependencies: lands in the claimable (ready) column.
	free := mustTask(t, e, p.ID, CreateTaskRequest{Title: "standalone work"})
	if free.Status != "ready" {
		t.Fatalf("expected ready placement, got %q", free.Status)
	}

	// With dependencies: lands in an initial column.
	dep := mustTask(t, e, p.ID, CreateTaskRequest{
		Title:        "follow-up work",
		Dependencies: []core.TaskID{free.ID},
	})
	if dep.Status != "backlog" {
		t.Fatalf("expected backlog placement, got %q", dep.Status)
	}

	// Explicit status wins and resolves its column.
	explicit := mustTask(t, e, p.ID, CreateTaskRequest{Title: "queued work", Status: "planning"})
	if explicit.Status != "planning" || explicit.ColumnID != cols[1].ID {
		t.Fatalf("expected planning column, got %q in %s", explicit.Status, explicit.ColumnID)
	}

	if _, err := e.CreateTask(ctx, p.ID, CreateTaskRequest{Title: "x", Status: "nonsense"}); !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected unknown status rejected, got %v", err)
	}
}

func TestCreateTask_WorkTypeInference(t *testing.T) {
	e, _, _ := newTestEngine(t)
	p, _ := mustProject(t, e)

	inferred := mustTask(t, e, p.ID, CreateTaskRequest{Title: "Fix crash on login"})
	if inferred.WorkType != core.WorkTypeBugfix {
		t.Fatalf("expected bugfix inferred, got %q", inferred.WorkType)
	}
	explicit := mustTask(t, e, p.ID, CreateTaskRequest{Title: "Fix crash on logout", WorkType: core.WorkTypeDocs})
	if explicit.WorkType != core.WorkTypeDocs {
		t.Fatalf("explicit work type must win, got %q", explicit.WorkType)
	}
}

func TestCreateTask_NoColumnsIsConfigurationError(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p := core.NewProject("bare", "no columns")
	if err := st.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("creating project: %v", err)
	}
	_, err := e.CreateTask(context.Background(), "bare", CreateTaskRequest{Title: "x"})
	if !core.IsCategory(err, core.ErrCatInternal) {
		t.Fatalf("expected internal configuration error, got %v", err)
	}
}

func TestDeleteColumn_FailsWhileOccupied(t *testing.T) {
	e, _, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	task := mustTask(t, e, p.ID, CreateTaskRequest{Title: "occupies ready"})

	err := e.DeleteColumn(context.Background(), task.ColumnID)
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected occupied column rejected, got %v", err)
	}
}

func TestMoveTask_WIPLimitAndForcedStatus(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p, cols := mustProject(t, e)
	ctx := context.Background()

	inProgress := cols[3]
	limit := 1
	inProgress.WIPLimit = &limit
	if err := e.UpdateColumn(ctx, inProgress); err != nil {
		t.Fatalf("setting WIP limit: %v", err)
	}

	first := mustTask(t, e, p.ID, CreateTaskRequest{Title: "first"})
	second := mustTask(t, e, p.ID, CreateTaskRequest{Title: "second"})

	moved, err := e.MoveTask(ctx, p.ID, first.ID, inProgress.ID, 0)
	if err != nil {
		t.Fatalf("moving first task: %v", err)
	}
	if moved.Status != "in_progress" {
		t.Fatalf("drop must force the column's first status, got %q", moved.Status)
	}

	if _, err := e.MoveTask(ctx, p.ID, second.ID, inProgress.ID, 0); !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected WIP limit breach rejected, got %v", err)
	}
	if got := status(t, st, second.ID); got != "ready" {
		t.Fatalf("rejected move must not change state, got %q", got)
	}
}

func TestClaimTask(t *testing.T) {
	e, _, bus := newTestEngine(t)
	p, _ := mustProject(t, e)
	ctx := context.Background()

	task := mustTask(t, e, p.ID, CreateTaskRequest{Title: "Implement webhook retries"})

	res, err := e.ClaimTask(ctx, p.ID, task.ID, "shigeo")
	if err != nil {
		t.Fatalf("claiming: %v", err)
	}
	if res.Outcome != ClaimOutcomeClaimed || res.Branch == "" {
		t.Fatalf("expected fresh claim with branch, got %+v", res)
	}

	// Same agent again: idempotent, same branch, no second event.
	again, err := e.ClaimTask(ctx, p.ID, task.ID, "shigeo")
	if err != nil {
		t.Fatalf("re-claiming: %v", err)
	}
	if again.Outcome != ClaimOutcomeAlreadyClaimed || again.Branch != res.Branch {
		t.Fatalf("expected already_claimed with stable branch, got %+v", again)
	}
	if n := len(bus.EventsOfType(events.StreamGlobal, events.TypeTaskClaimed)); n != 1 {
		t.Fatalf("expected a single claim event, got %d", n)
	}

	// Different agent: conflict naming the winner.
	_, err = e.ClaimTask(ctx, p.ID, task.ID, "chieko")
	if !core.IsCategory(err, core.ErrCatConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestClaimTask_NotClaimableStatus(t *testing.T) {
	e, _, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	ctx := context.Background()

	task := mustTask(t, e, p.ID, CreateTaskRequest{Title: "blocked work", Status: "blocked"})
	if _, err := e.ClaimTask(ctx, p.ID, task.ID, "shigeo"); !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected non-claimable status rejected, got %v", err)
	}
}

func TestClaimTask_Race(t *testing.T) {
	e, _, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	ctx := context.Background()
	task := mustTask(t, e, p.ID, CreateTaskRequest{Title: "contested work"})

	type outcome struct {
		res *ClaimResult
		err error
	}
	results := make([]outcome, 2)
	var wg sync.WaitGroup
	for i, agent := range []string{"agent-x", "agent-y"} {
		wg.Add(1)
		go func(i int, agent string) {
			defer wg.Done()
			res, err := e.ClaimTask(ctx, p.ID, task.ID, agent)
			results[i] = outcome{res, err}
		}(i, agent)
	}
	wg.Wait()

	var wins, conflicts int
	for _, r := range results {
		switch {
		case r.err == nil && r.res.Outcome == ClaimOutcomeClaimed && r.res.Branch != "":
			wins++
		case core.IsCategory(r.err, core.ErrCatConflict):
			conflicts++
		default:
			t.Fatalf("unexpected outcome: res=%+v err=%v", r.res, r.err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner and one conflict, got %d/%d", wins, conflicts)
	}
}

func TestTransition_SetsCompletedAtAndStages(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	ctx := context.Background()

	task := mustTask(t, e, p.ID, CreateTaskRequest{Title: "small fix", Status: "in_progress"})
	if _, err := e.Transition(ctx, p.ID, task.ID, "review", "looks good"); err != nil {
		t.Fatalf("transitioning: %v", err)
	}
	got, _ := st.GetTask(ctx, task.ID)
	if !got.HasCompletedStage("implementation") {
		t.Fatalf("leaving in_progress must record the implementation stage, got %v", got.CompletedStages)
	}
	if _, ok := got.Metadata[core.MetaTransitionNotes]; !ok {
		t.Fatal("expected transition note recorded")
	}

	if _, err := e.Transition(ctx, p.ID, task.ID, "done", ""); err != nil {
		t.Fatalf("completing: %v", err)
	}
	got, _ = st.GetTask(ctx, task.ID)
	if got.CompletedAt == nil {
		t.Fatal("terminal done must set completed_at in the same commit")
	}
}

func TestTransition_PulsesRespectGuardrails(t *testing.T) {
	e, st, bus := newTestEngine(t)
	e.SetWaker(pulse.New(st, bus, logging.NewNop(), pulse.StaticAgents{"shigeo"}))
	p, _ := mustProject(t, e)
	ctx := context.Background()

	pulses := func() []events.Event {
		return bus.EventsOfType(events.StreamGlobal, events.TypePulseTriggered)
	}

	if err := st.SetSetting(ctx, store.SettingWakeEnabled, "false"); err != nil {
		t.Fatalf("disabling wakes: %v", err)
	}
	task := mustTask(t, e, p.ID, CreateTaskRequest{Title: "handoff work"})
	if _, err := e.Transition(ctx, p.ID, task.ID, "planned", ""); err != nil {
		t.Fatalf("transitioning: %v", err)
	}
	if n := len(pulses()); n != 0 {
		t.Fatalf("disabled wakes must suppress transition pulses, got %d", n)
	}

	if err := st.SetSetting(ctx, store.SettingWakeEnabled, "true"); err != nil {
		t.Fatalf("enabling wakes: %v", err)
	}
	other := mustTask(t, e, p.ID, CreateTaskRequest{Title: "second handoff"})
	if _, err := e.Transition(ctx, p.ID, other.ID, "planned", ""); err != nil {
		t.Fatalf("transitioning: %v", err)
	}
	got := pulses()
	if len(got) != 1 || got[0].AgentID != "shigeo" || got[0].TaskID != string(other.ID) {
		t.Fatalf("expected one pulse for shigeo on the task, got %+v", got)
	}
	// The wake is recorded, so it counts toward the cooldown and daily caps.
	if last, err := st.LastWake(ctx, "shigeo"); err != nil || last.IsZero() {
		t.Fatalf("transition wake must be recorded, got %v err=%v", last, err)
	}
}

func TestTransition_NoOpOnSameStatus(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	ctx := context.Background()

	task := mustTask(t, e, p.ID, CreateTaskRequest{Title: "idle"})
	before, _ := st.GetTask(ctx, task.ID)
	res, err := e.Transition(ctx, p.ID, task.ID, task.Status, "")
	if err != nil {
		t.Fatalf("same-status transition: %v", err)
	}
	if res.From != res.To {
		t.Fatalf("expected no-op, got %+v", res)
	}
	after, _ := st.GetTask(ctx, task.ID)
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatal("no-op transition must not modify persisted state")
	}
}

func TestTransition_UnknownStatusRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	task := mustTask(t, e, p.ID, CreateTaskRequest{Title: "x"})
	_, err := e.Transition(context.Background(), p.ID, task.ID, "warp_speed", "")
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected unknown status rejected, got %v", err)
	}
}

func TestTransition_PolicySkippedStageRejected(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	ctx := context.Background()

	policy := &core.WorkflowPolicy{
		ProjectID: p.ID,
		StageRules: map[core.WorkType][]core.StageRule{
			core.WorkTypeDocs: {
				{Stage: "implementation", Disposition: core.StageRun, AgentRole: "writer"},
				{Stage: "qa", Disposition: core.StageSkip},
			},
		},
	}
	if err := st.SaveWorkflowPolicy(ctx, policy); err != nil {
		t.Fatalf("saving policy: %v", err)
	}

	task := mustTask(t, e, p.ID, CreateTaskRequest{Title: "Write architecture docs", WorkType: core.WorkTypeDocs})
	if _, err := e.Transition(ctx, p.ID, task.ID, "test", ""); !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected skipped stage rejected, got %v", err)
	}
	if _, err := e.Transition(ctx, p.ID, task.ID, "in_progress", ""); err != nil {
		t.Fatalf("runnable stage must pass: %v", err)
	}
}

// Linear unlock: A blocks B blocks C, all in backlog. Completing A readies B
// only; completing B readies C.
func TestCascade_LinearUnlock(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	ctx := context.Background()

	a := mustTask(t, e, p.ID, CreateTaskRequest{Title: "a", Status: "backlog"})
	b := mustTask(t, e, p.ID, CreateTaskRequest{Title: "b", Status: "backlog"})
	c := mustTask(t, e, p.ID, CreateTaskRequest{Title: "c", Status: "backlog"})
	mustEdge(t, st, p.ID, "e1", a.ID, b.ID)
	mustEdge(t, st, p.ID, "e2", b.ID, c.ID)

	if _, err := e.Transition(ctx, p.ID, a.ID, "done", ""); err != nil {
		t.Fatalf("completing a: %v", err)
	}
	if got := status(t, st, b.ID); got != "ready" {
		t.Fatalf("b must become ready, got %q", got)
	}
	if got := status(t, st, c.ID); got != "backlog" {
		t.Fatalf("c must stay backlog, got %q", got)
	}

	if _, err := e.Transition(ctx, p.ID, b.ID, "done", ""); err != nil {
		t.Fatalf("completing b: %v", err)
	}
	if got := status(t, st, c.ID); got != "ready" {
		t.Fatalf("c must become ready, got %q", got)
	}
}

// Failure cascade and recovery: failing A blocks the whole downstream closure
// with saved positions; recovering A restores the chain.
func TestCascade_FailureAndRecovery(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	ctx := context.Background()

	a := mustTask(t, e, p.ID, CreateTaskRequest{Title: "a", Status: "ready"})
	b := mustTask(t, e, p.ID, CreateTaskRequest{Title: "b", Status: "ready"})
	c := mustTask(t, e, p.ID, CreateTaskRequest{Title: "c", Status: "ready"})
	mustEdge(t, st, p.ID, "e1", a.ID, b.ID)
	mustEdge(t, st, p.ID, "e2", b.ID, c.ID)

	if _, err := e.Transition(ctx, p.ID, a.ID, "failed", ""); err != nil {
		t.Fatalf("failing a: %v", err)
	}
	for _, id := range []core.TaskID{b.ID, c.ID} {
		got, _ := st.GetTask(ctx, id)
		if got.Status != "blocked" {
			t.Fatalf("%s must be blocked, got %q", id, got.Status)
		}
		if got.Metadata.GetString(core.MetaPreBlockStatus) != "ready" {
			t.Fatalf("%s must remember pre-block status, got %v", id, got.Metadata)
		}
	}

	if _, err := e.Transition(ctx, p.ID, a.ID, "in_progress", ""); err != nil {
		t.Fatalf("recovering a: %v", err)
	}
	for _, id := range []core.TaskID{b.ID, c.ID} {
		got, _ := st.GetTask(ctx, id)
		if got.Status != "ready" {
			t.Fatalf("%s must be restored to ready, got %q", id, got.Status)
		}
		if got.Metadata.GetString(core.MetaPreBlockStatus) != "" {
			t.Fatalf("%s must drop pre-block metadata after restore, got %v", id, got.Metadata)
		}
	}
}

// Parent derivation: one active subtask drags the parent to in_progress; all
// subtasks done completes the parent and unlocks the parent's dependents.
func TestCascade_ParentDerivation(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	ctx := context.Background()

	parent := mustTask(t, e, p.ID, CreateTaskRequest{Title: "epic", Status: "ready"})
	s1 := mustTask(t, e, p.ID, CreateTaskRequest{Title: "s1", Status: "ready", ParentTaskID: parent.ID})
	s2 := mustTask(t, e, p.ID, CreateTaskRequest{Title: "s2", Status: "ready", ParentTaskID: parent.ID})
	s3 := mustTask(t, e, p.ID, CreateTaskRequest{Title: "s3", Status: "ready", ParentTaskID: parent.ID})
	after := mustTask(t, e, p.ID, CreateTaskRequest{Title: "after epic", Status: "backlog"})
	mustEdge(t, st, p.ID, "e1", parent.ID, after.ID)

	if _, err := e.Transition(ctx, p.ID, s1.ID, "in_progress", ""); err != nil {
		t.Fatalf("starting s1: %v", err)
	}
	if got := status(t, st, parent.ID); got != "in_progress" {
		t.Fatalf("parent must derive in_progress, got %q", got)
	}

	for _, id := range []core.TaskID{s2.ID, s3.ID, s1.ID} {
		if _, err := e.Transition(ctx, p.ID, id, "done", ""); err != nil {
			t.Fatalf("completing %s: %v", id, err)
		}
	}
	if got := status(t, st, parent.ID); got != "done" {
		t.Fatalf("parent must derive done, got %q", got)
	}
	if got := status(t, st, after.ID); got != "ready" {
		t.Fatalf("parent completion must unlock its dependents, got %q", got)
	}

	// Rerunning the derivation against an unchanged sibling set is a no-op.
	project, _ := st.GetProject(ctx, p.ID)
	before, _ := st.GetTask(ctx, parent.ID)
	e.Propagator().DeriveParent(ctx, project, parent.ID)
	again, _ := st.GetTask(ctx, parent.ID)
	if again.Status != before.Status {
		t.Fatalf("derivation must be idempotent, got %q then %q", before.Status, again.Status)
	}
}

func TestReadyTasks(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	ctx := context.Background()

	free := mustTask(t, e, p.ID, CreateTaskRequest{Title: "free", Status: "backlog"})
	gated := mustTask(t, e, p.ID, CreateTaskRequest{Title: "gated", Status: "backlog"})
	mustEdge(t, st, p.ID, "e1", free.ID, gated.ID)

	parent := mustTask(t, e, p.ID, CreateTaskRequest{Title: "container", Status: "backlog"})
	mustTask(t, e, p.ID, CreateTaskRequest{Title: "child", Status: "backlog", ParentTaskID: parent.ID})

	mine := mustTask(t, e, p.ID, CreateTaskRequest{Title: "mine", Status: "in_progress", AssignedAgent: "shigeo"})
	mustTask(t, e, p.ID, CreateTaskRequest{Title: "theirs", Status: "ready", AssignedAgent: "chieko"})

	res, err := e.ReadyTasks(ctx, p.ID, ReadyQuery{AgentID: "shigeo"})
	if err != nil {
		t.Fatalf("ready tasks: %v", err)
	}

	ids := make(map[core.TaskID]bool)
	for _, rt := range res.Tasks {
		ids[rt.Task.ID] = true
	}
	if !ids[free.ID] {
		t.Fatal("dependency-free backlog task must be ready")
	}
	if ids[gated.ID] {
		t.Fatal("task with an unfinished blocker must not be ready")
	}
	if ids[parent.ID] {
		t.Fatal("container parents must never be returned")
	}
	if ids[mine.ID] {
		t.Fatal("in_progress tasks belong in the in_progress section")
	}
	for _, rt := range res.Tasks {
		if rt.Task.AssignedAgent != "" && rt.Task.AssignedAgent != "shigeo" {
			t.Fatalf("task assigned to another agent leaked: %+v", rt.Task)
		}
	}

	if len(res.InProgress) != 1 || res.InProgress[0].Task.ID != mine.ID {
		t.Fatalf("expected my in_progress task attached, got %+v", res.InProgress)
	}

	// Completing the blocker makes the gated task eligible, and the blocker's
	// dependents are attached to it.
	if _, err := e.Transition(ctx, p.ID, free.ID, "done", ""); err != nil {
		t.Fatalf("completing blocker: %v", err)
	}
	res, err = e.ReadyTasks(ctx, p.ID, ReadyQuery{})
	if err != nil {
		t.Fatalf("ready tasks: %v", err)
	}
	found := false
	for _, rt := range res.Tasks {
		if rt.Task.ID == gated.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("task with all blockers done must be ready")
	}
}

func TestReadyTasks_WorkTypeFilter(t *testing.T) {
	e, _, _ := newTestEngine(t)
	p, _ := mustProject(t, e)

	bug := mustTask(t, e, p.ID, CreateTaskRequest{Title: "b", WorkType: core.WorkTypeBugfix})
	mustTask(t, e, p.ID, CreateTaskRequest{Title: "f", WorkType: core.WorkTypeFeature})
	plain := mustTask(t, e, p.ID, CreateTaskRequest{Title: "anything goes here now"})

	res, err := e.ReadyTasks(context.Background(), p.ID, ReadyQuery{WorkTypes: []string{"bugfix"}})
	if err != nil {
		t.Fatalf("ready tasks: %v", err)
	}
	ids := make(map[core.TaskID]bool)
	for _, rt := range res.Tasks {
		ids[rt.Task.ID] = true
	}
	if !ids[bug.ID] || !ids[plain.ID] || len(res.Tasks) != 2 {
		t.Fatalf("expected bugfix plus unclassified, got %+v", res.Tasks)
	}
}

// Bulk import with a cycle must leave the database untouched.
func TestImport_AllOrNothing(t *testing.T) {
	e, st, _ := newTestEngine(t)
	p, _ := mustProject(t, e)
	ctx := context.Background()

	_, err := e.Import(ctx, p.ID, []ImportTask{
		{Title: "a", Dependencies: []string{"c"}},
		{Title: "b", Dependencies: []string{"a"}},
		{Title: "c", Dependencies: []string{"b"}},
	})
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected cyclic import rejected, got %v", err)
	}
	tasks, _ := st.ListTasks(ctx, p.ID)
	if len(tasks) != 0 {
		t.Fatalf("rejected import must insert nothing, got %d tasks", len(tasks))
	}

	if _, err := e.Import(ctx, p.ID, []ImportTask{
		{Title: "a"},
		{Title: "b", Dependencies: []string{"missing"}},
	}); !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected unknown dependency title rejected, got %v", err)
	}

	imported, err := e.Import(ctx, p.ID, []ImportTask{
		{Title: "a"},
		{Title: "b", Dependencies: []string{"a"}},
		{Title: "c", Dependencies: []string{"b"}},
	})
	if err != nil {
		t.Fatalf("importing: %v", err)
	}
	if len(imported) != 3 {
		t.Fatalf("expected 3 tasks imported, got %d", len(imported))
	}
	edges, _ := st.ListEdges(ctx, p.ID)
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges imported, got %d", len(edges))
	}
}
