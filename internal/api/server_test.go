package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/djinnbot/djinnbot/internal/dispatch"
	"github.com/djinnbot/djinnbot/internal/engine"
	"github.com/djinnbot/djinnbot/internal/events"
	"github.com/djinnbot/djinnbot/internal/graph"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/pulse"
	"github.com/djinnbot/djinnbot/internal/store"
	"github.com/djinnbot/djinnbot/internal/swarm"
	"github.com/djinnbot/djinnbot/internal/workspace"
)

func newTestServer(t *testing.T) (*httptest.Server, *events.MemoryBus) {
	t.Helper()
	st, err := store.OpenTemp(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bus := events.NewMemoryBus()
	log := logging.NewNop()
	eng := engine.New(st, bus, log)
	scheduler := pulse.New(st, bus, log, pulse.StaticAgents{"shigeo"})
	eng.SetWaker(scheduler)
	srv := NewServer(
		st,
		eng,
		graph.NewService(st, log),
		dispatch.New(st, bus, log, nil, eng.Propagator()),
		workspace.NewManager(st, bus, bus, log, t.TempDir(), nil, ""),
		scheduler,
		swarm.New(st, bus, log),
		WithLogger(log),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, bus
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp
}

func createProject(t *testing.T, base string) string {
	t.Helper()
	var created struct {
		Project struct {
			ID string `json:"ID"`
		} `json:"project"`
	}
	resp := doJSON(t, http.MethodPost, base+"/v1/projects/", map[string]string{"name": "demo"}, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("creating project: status %d", resp.StatusCode)
	}
	if created.Project.ID == "" {
		t.Fatal("expected a project id")
	}
	return created.Project.ID
}

func createTask(t *testing.T, base, projectID string, body map[string]interface{}) string {
	t.Helper()
	var task struct {
		ID string `json:"ID"`
	}
	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/projects/%s/tasks/", base, projectID), body, &task)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("creating task: status %d", resp.StatusCode)
	}
	return task.ID
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProjectLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	pid := createProject(t, ts.URL)

	var fetched struct {
		Project struct {
			Name string `json:"Name"`
		} `json:"project"`
		Columns []struct {
			Name string `json:"Name"`
		} `json:"columns"`
	}
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/projects/"+pid+"/", nil, &fetched)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetching project: status %d", resp.StatusCode)
	}
	if fetched.Project.Name != "demo" || len(fetched.Columns) == 0 {
		t.Fatalf("unexpected project %+v", fetched)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/projects/nope/", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown project must 404, got %d", resp.StatusCode)
	}
}

func TestClaimConflictMapsTo409(t *testing.T) {
	ts, _ := newTestServer(t)
	pid := createProject(t, ts.URL)
	tid := createTask(t, ts.URL, pid, map[string]interface{}{"title": "work"})
	claimURL := fmt.Sprintf("%s/v1/projects/%s/tasks/%s/claim", ts.URL, pid, tid)

	resp := doJSON(t, http.MethodPost, claimURL, map[string]string{"agent_id": "shigeo"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first claim must succeed, got %d", resp.StatusCode)
	}

	var errResp struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	resp = doJSON(t, http.MethodPost, claimURL, map[string]string{"agent_id": "chieko"}, &errResp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("competing claim must 409, got %d", resp.StatusCode)
	}
	if errResp.Error.Code != "CLAIMED_BY_OTHER_AGENT" {
		t.Fatalf("unexpected error code %q", errResp.Error.Code)
	}
	if errResp.Error.Details["assigned_agent"] != "shigeo" {
		t.Fatalf("conflict must name the winner, got %v", errResp.Error.Details)
	}
}

func TestTransitionValidationMapsTo400(t *testing.T) {
	ts, _ := newTestServer(t)
	pid := createProject(t, ts.URL)
	tid := createTask(t, ts.URL, pid, map[string]interface{}{"title": "work"})

	var errResp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	url := fmt.Sprintf("%s/v1/projects/%s/tasks/%s/transition", ts.URL, pid, tid)
	resp := doJSON(t, http.MethodPost, url, map[string]string{"status": "no_such_status"}, &errResp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown status must 400, got %d", resp.StatusCode)
	}
	if errResp.Error.Code != "UNKNOWN_STATUS" {
		t.Fatalf("unexpected error code %q", errResp.Error.Code)
	}
}

func TestDependencyCycleMapsTo400(t *testing.T) {
	ts, _ := newTestServer(t)
	pid := createProject(t, ts.URL)
	a := createTask(t, ts.URL, pid, map[string]interface{}{"title": "a"})
	b := createTask(t, ts.URL, pid, map[string]interface{}{
		"title":        "b",
		"dependencies": []string{a},
	})

	var errResp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	url := fmt.Sprintf("%s/v1/projects/%s/tasks/%s/dependencies", ts.URL, pid, a)
	resp := doJSON(t, http.MethodPost, url, map[string]string{"from_task_id": b, "type": "blocks"}, &errResp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("cycle must 400, got %d", resp.StatusCode)
	}
	if errResp.Error.Code != "DEPENDENCY_CYCLE" {
		t.Fatalf("unexpected error code %q", errResp.Error.Code)
	}
}

func TestReadyTasksEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	pid := createProject(t, ts.URL)
	free := createTask(t, ts.URL, pid, map[string]interface{}{"title": "free"})
	createTask(t, ts.URL, pid, map[string]interface{}{
		"title":        "gated",
		"dependencies": []string{free},
	})

	var result struct {
		Tasks []struct {
			Task struct {
				ID string `json:"ID"`
			} `json:"task"`
		} `json:"tasks"`
	}
	url := fmt.Sprintf("%s/v1/projects/%s/ready-tasks?agent_id=shigeo&limit=10", ts.URL, pid)
	resp := doJSON(t, http.MethodGet, url, nil, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready-tasks: status %d", resp.StatusCode)
	}
	if len(result.Tasks) != 1 || result.Tasks[0].Task.ID != free {
		t.Fatalf("expected only the free task, got %+v", result.Tasks)
	}
}

func TestRunCompletedWebhook(t *testing.T) {
	ts, _ := newTestServer(t)
	pid := createProject(t, ts.URL)
	tid := createTask(t, ts.URL, pid, map[string]interface{}{"title": "deploy"})

	var run struct {
		ID string `json:"ID"`
	}
	execURL := fmt.Sprintf("%s/v1/projects/%s/tasks/%s/execute", ts.URL, pid, tid)
	resp := doJSON(t, http.MethodPost, execURL, map[string]string{"pipelineId": "standard"}, &run)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("execute: status %d", resp.StatusCode)
	}

	var task struct {
		Status string `json:"Status"`
	}
	hookURL := fmt.Sprintf("%s/v1/projects/%s/tasks/%s/run-completed?run_id=%s&status=completed", ts.URL, pid, tid, run.ID)
	resp = doJSON(t, http.MethodPost, hookURL, nil, &task)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run-completed: status %d", resp.StatusCode)
	}
	if task.Status != "done" {
		t.Fatalf("completed run must finish the task, got %q", task.Status)
	}
}

func TestImportEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	pid := createProject(t, ts.URL)

	body := map[string]interface{}{
		"tasks": []map[string]interface{}{
			{"title": "one"},
			{"title": "two", "dependencies": []string{"one"}},
		},
	}
	var result struct {
		Tasks []json.RawMessage `json:"tasks"`
	}
	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/projects/%s/import", ts.URL, pid), body, &result)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import: status %d", resp.StatusCode)
	}
	if len(result.Tasks) != 2 {
		t.Fatalf("expected 2 imported tasks, got %d", len(result.Tasks))
	}

	cyclic := map[string]interface{}{
		"tasks": []map[string]interface{}{
			{"title": "x", "dependencies": []string{"y"}},
			{"title": "y", "dependencies": []string{"x"}},
		},
	}
	resp = doJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/projects/%s/import", ts.URL, pid), cyclic, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("cyclic import must 400, got %d", resp.StatusCode)
	}
}

func TestDependencyGraphAndTimeline(t *testing.T) {
	ts, _ := newTestServer(t)
	pid := createProject(t, ts.URL)
	a := createTask(t, ts.URL, pid, map[string]interface{}{"title": "a", "estimated_hours": 8})
	createTask(t, ts.URL, pid, map[string]interface{}{
		"title":           "b",
		"estimated_hours": 4,
		"dependencies":    []string{a},
	})

	var snapshot struct {
		TopologicalOrder []string `json:"topological_order"`
		CriticalPath     []string `json:"critical_path"`
	}
	resp := doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/projects/%s/dependency-graph", ts.URL, pid), nil, &snapshot)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dependency-graph: status %d", resp.StatusCode)
	}
	if len(snapshot.TopologicalOrder) != 2 || snapshot.TopologicalOrder[0] != a {
		t.Fatalf("unexpected topo order %+v", snapshot.TopologicalOrder)
	}
	if len(snapshot.CriticalPath) != 2 {
		t.Fatalf("unexpected critical path %+v", snapshot.CriticalPath)
	}

	var timeline struct {
		Entries []struct {
			TaskID string `json:"task_id"`
		} `json:"entries"`
	}
	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/projects/%s/timeline?hours_per_day=8", ts.URL, pid), nil, &timeline)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("timeline: status %d", resp.StatusCode)
	}
	if len(timeline.Entries) != 2 {
		t.Fatalf("expected 2 timeline entries, got %d", len(timeline.Entries))
	}

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/projects/%s/timeline?hours_per_day=zero", ts.URL, pid), nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad hours_per_day must 400, got %d", resp.StatusCode)
	}
}

func TestWakeEndpoint(t *testing.T) {
	ts, bus := newTestServer(t)

	var result struct {
		Woken bool `json:"woken"`
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/agents/shigeo/wake", map[string]string{"reason": "test"}, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wake: status %d", resp.StatusCode)
	}
	if !result.Woken {
		t.Fatal("expected the wake to be emitted")
	}
	if len(bus.EventsOfType(events.StreamGlobal, events.TypePulseTriggered)) != 1 {
		t.Fatal("expected one PULSE_TRIGGERED event")
	}

	// Cooldown suppression is a 200 with woken=false, not an error.
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/agents/shigeo/wake", map[string]string{"reason": "test"}, &result)
	if resp.StatusCode != http.StatusOK || result.Woken {
		t.Fatalf("suppressed wake must be 200/false, got %d/%v", resp.StatusCode, result.Woken)
	}
}

func TestSwarmEndpoint(t *testing.T) {
	ts, bus := newTestServer(t)
	pid := createProject(t, ts.URL)
	a := createTask(t, ts.URL, pid, map[string]interface{}{"title": "a"})
	b := createTask(t, ts.URL, pid, map[string]interface{}{"title": "b"})

	var result struct {
		SwarmID string `json:"swarm_id"`
	}
	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/projects/%s/swarm", ts.URL, pid),
		map[string]interface{}{"task_ids": []string{a, b}}, &result)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("swarm: status %d", resp.StatusCode)
	}
	if result.SwarmID == "" {
		t.Fatal("expected a swarm id")
	}
	if len(bus.EventsOfType(events.StreamGlobal, events.TypeSwarmDispatched)) != 1 {
		t.Fatal("expected one SWARM_DISPATCHED event")
	}
}
