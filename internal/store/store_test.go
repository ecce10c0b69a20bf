package store

import (
	"context"
	"testing"
	"time"

	"github.com/djinnbot/djinnbot/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenTemp(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store, id core.ProjectID) (*core.Project, []*core.KanbanColumn) {
	t.Helper()
	ctx := context.Background()

	p := core.NewProject(id, "demo "+string(id))
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("creating project: %v", err)
	}
	var columns []*core.KanbanColumn
	for i, spec := range core.DefaultColumns() {
		c := &core.KanbanColumn{
			ID:           core.ColumnID(string(id) + "-col-" + spec.Name),
			ProjectID:    id,
			Name:         spec.Name,
			Position:     i,
			TaskStatuses: spec.Statuses,
		}
		if err := s.CreateColumn(ctx, c); err != nil {
			t.Fatalf("creating column: %v", err)
		}
		columns = append(columns, c)
	}
	return p, columns
}

func seedTask(t *testing.T, s *Store, projectID core.ProjectID, id core.TaskID, status string, columnID core.ColumnID) *core.Task {
	t.Helper()
	task := core.NewTask(id, projectID, "task "+string(id))
	task.Status = status
	task.ColumnID = columnID
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("creating task: %v", err)
	}
	return task
}

func TestStore_ProjectRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := seedProject(t, s, "p1")

	got, err := s.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("fetching project: %v", err)
	}
	if got.Name != p.Name || got.Status != core.ProjectStatusActive {
		t.Fatalf("unexpected project: %+v", got)
	}
	if !got.Semantics.IsDone("done") {
		t.Fatalf("semantics did not survive the round trip")
	}

	if _, err := s.GetProject(ctx, "missing"); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStore_TaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, cols := seedProject(t, s, "p1")
	task := seedTask(t, s, "p1", "t1", "backlog", cols[0].ID)
	task.Metadata = task.Metadata.Set(core.MetaGitBranch, "feat/t1-demo")
	task.Tags = []string{"backend"}
	task.RecordStage("planning")
	if err := s.UpdateTask(ctx, task); err != nil {
		t.Fatalf("updating task: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("fetching task: %v", err)
	}
	if got.GitBranch() != "feat/t1-demo" {
		t.Fatalf("metadata did not survive: %+v", got.Metadata)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "backend" {
		t.Fatalf("tags did not survive: %v", got.Tags)
	}
	if !got.HasCompletedStage("planning") {
		t.Fatalf("completed stages did not survive: %v", got.CompletedStages)
	}
}

func TestStore_DeleteProjectCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, cols := seedProject(t, s, "p1")
	seedTask(t, s, "p1", "t1", "backlog", cols[0].ID)
	seedTask(t, s, "p1", "t2", "backlog", cols[0].ID)
	edge := &core.DependencyEdge{ID: "e1", ProjectID: "p1", FromTaskID: "t1", ToTaskID: "t2", Type: core.DependencyBlocks}
	if err := s.CreateEdge(ctx, edge); err != nil {
		t.Fatalf("creating edge: %v", err)
	}

	if err := s.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("deleting project: %v", err)
	}
	if _, err := s.GetTask(ctx, "t1"); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("expected cascaded task delete, got %v", err)
	}
	edges, err := s.ListEdges(ctx, "p1")
	if err != nil {
		t.Fatalf("listing edges: %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("expected cascaded edge delete, got %d", len(edges))
	}
}

func TestStore_DuplicateEdgeConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, cols := seedProject(t, s, "p1")
	seedTask(t, s, "p1", "t1", "backlog", cols[0].ID)
	seedTask(t, s, "p1", "t2", "backlog", cols[0].ID)

	edge := &core.DependencyEdge{ID: "e1", ProjectID: "p1", FromTaskID: "t1", ToTaskID: "t2", Type: core.DependencyBlocks}
	if err := s.CreateEdge(ctx, edge); err != nil {
		t.Fatalf("creating edge: %v", err)
	}
	dup := &core.DependencyEdge{ID: "e2", ProjectID: "p1", FromTaskID: "t1", ToTaskID: "t2", Type: core.DependencyInforms}
	if err := s.CreateEdge(ctx, dup); !core.IsCategory(err, core.ErrCatConflict) {
		t.Fatalf("expected conflict for duplicate edge, got %v", err)
	}
}

func TestStore_StepUpsertResetsForRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := core.NewRun("r1", "pipe")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("creating run: %v", err)
	}

	step := &core.Step{
		ID: "s1", RunID: "r1", StepID: "plan", AgentID: "shigeo",
		Status: core.StepStatusPending, MaxRetries: 3,
		Inputs: map[string]interface{}{"prompt": "v1"},
	}
	if err := s.UpsertStep(ctx, step); err != nil {
		t.Fatalf("creating step: %v", err)
	}

	got, err := s.GetStep(ctx, "r1", "plan")
	if err != nil {
		t.Fatalf("fetching step: %v", err)
	}
	if got.RetryCount != 0 {
		t.Fatalf("fresh step must start at retry 0, got %d", got.RetryCount)
	}

	// Simulate a failed attempt, then re-create for retry.
	now := time.Now()
	got.Status = core.StepStatusFailed
	got.Error = "boom"
	got.Outputs = map[string]interface{}{"partial": true}
	got.CompletedAt = &now
	if err := s.UpdateStep(ctx, got); err != nil {
		t.Fatalf("updating step: %v", err)
	}

	retry := &core.Step{
		ID: "s1-retry", RunID: "r1", StepID: "plan", AgentID: "shigeo",
		Status: core.StepStatusPending, MaxRetries: 3,
		Inputs: map[string]interface{}{"prompt": "v2"},
	}
	if err := s.UpsertStep(ctx, retry); err != nil {
		t.Fatalf("upserting step: %v", err)
	}

	got, err = s.GetStep(ctx, "r1", "plan")
	if err != nil {
		t.Fatalf("fetching step after retry: %v", err)
	}
	if got.RetryCount != 1 {
		t.Fatalf("expected retry_count incremented in place, got %d", got.RetryCount)
	}
	if got.Status != core.StepStatusPending || got.Error != "" || got.CompletedAt != nil {
		t.Fatalf("expected reset step, got %+v", got)
	}
	if got.Inputs["prompt"] != "v2" {
		t.Fatalf("expected inputs overwritten, got %v", got.Inputs)
	}
	if len(got.Outputs) != 0 {
		t.Fatalf("expected outputs cleared, got %v", got.Outputs)
	}
}

func TestStore_OutputsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := core.NewRun("r1", "pipe")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("creating run: %v", err)
	}

	if err := s.SetOutput(ctx, "r1", "plan", "summary", "v1"); err != nil {
		t.Fatalf("setting output: %v", err)
	}
	if err := s.SetOutput(ctx, "r1", "review", "summary", "v2"); err != nil {
		t.Fatalf("overwriting output: %v", err)
	}

	outputs, err := s.GetOutputs(ctx, "r1")
	if err != nil {
		t.Fatalf("fetching outputs: %v", err)
	}
	if outputs["summary"] != "v2" {
		t.Fatalf("expected upsert on (run, key), got %v", outputs)
	}
}

func TestStore_Settings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.GetSettingInt(ctx, SettingMaxWakesPerDay, 48)
	if err != nil || n != 48 {
		t.Fatalf("expected fallback 48, got %d err=%v", n, err)
	}
	if err := s.SetSetting(ctx, SettingMaxWakesPerDay, "10"); err != nil {
		t.Fatalf("setting: %v", err)
	}
	n, err = s.GetSettingInt(ctx, SettingMaxWakesPerDay, 48)
	if err != nil || n != 10 {
		t.Fatalf("expected 10, got %d err=%v", n, err)
	}

	enabled, err := s.GetSettingBool(ctx, SettingWakeEnabled, true)
	if err != nil || !enabled {
		t.Fatalf("expected default true, got %v err=%v", enabled, err)
	}
}

func TestStore_WakeAccounting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordWake(ctx, "w1", "chieko", "shigeo", "transition"); err != nil {
		t.Fatalf("recording wake: %v", err)
	}
	if err := s.RecordWake(ctx, "w2", "chieko", "", "periodic"); err != nil {
		t.Fatalf("recording wake: %v", err)
	}

	since := time.Now().Add(-time.Hour)
	n, err := s.CountWakesSince(ctx, "chieko", since)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 wakes, got %d err=%v", n, err)
	}
	n, err = s.CountPairWakesSince(ctx, "shigeo", "chieko", since)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pair wake, got %d err=%v", n, err)
	}
	last, err := s.LastWake(ctx, "chieko")
	if err != nil || last.IsZero() {
		t.Fatalf("expected last wake recorded, got %v err=%v", last, err)
	}
	if last, err := s.LastWake(ctx, "nobody"); err != nil || !last.IsZero() {
		t.Fatalf("expected zero time for unknown agent, got %v err=%v", last, err)
	}
}
