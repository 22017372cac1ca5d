package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flemzord/cronhub/internal/catalog"
	"github.com/flemzord/cronhub/internal/execlog"
	"github.com/flemzord/cronhub/internal/schedule"
	"github.com/flemzord/cronhub/internal/storage"
)

type testEnv struct {
	server *httptest.Server
	scheds *schedule.Store
	logs   *execlog.Store
	taskID int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat := catalog.NewStore(db)
	def, err := cat.Insert(context.Background(), catalog.TaskDefinition{
		Name:          "Send Email",
		Description:   "Send an email with optional delay",
		ExecutableRef: "email.send",
		Schema:        catalog.Schema{"email": catalog.TypeString, "delay": catalog.TypeInteger},
		Retry:         catalog.RetryPolicy{MaxAttempts: 3, RetryDelay: time.Minute},
		IsActive:      true,
	})
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}

	scheds := schedule.NewStore(db, cat, nil, logger)
	logs := execlog.NewStore(db)

	g := New(Config{}, Deps{
		Schedules: scheds,
		Catalog:   cat,
		Logs:      logs,
		Logger:    logger,
	})
	srv := httptest.NewServer(g.buildRouter())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, scheds: scheds, logs: logs, taskID: def.ID}
}

// do issues a request with identity headers and decodes the JSON body.
func (e *testEnv) do(t *testing.T, method, path, user string, privileged bool, payload any) (int, map[string]any) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if privileged {
		req.Header.Set("X-User-Privileged", "true")
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func createBody(taskID int64) map[string]any {
	return map[string]any{
		"task_definition_id": taskID,
		"cron_expression":    "*/5 * * * *",
		"parameters":         map[string]any{"email": "alice@example.com"},
	}
}

func TestAPI_RequiresIdentity(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	status, _ := e.do(t, http.MethodGet, "/api/schedules/", "", false, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestHealth_NoIdentityNeeded(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	status, body := e.do(t, http.MethodGet, "/health", "", false, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body: %v", body)
	}
}

type fakeQueueStats struct{ n int }

func (f fakeQueueStats) Pending() int { return f.n }

type fakeBodySet struct{ refs []string }

func (f fakeBodySet) Refs() []string { return f.refs }

func TestHealth_ReportsQueueAndBodies(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := New(Config{}, Deps{
		Queue:  fakeQueueStats{n: 3},
		Bodies: fakeBodySet{refs: []string{"email.send", "report.generate"}},
		Logger: logger,
	})
	srv := httptest.NewServer(g.buildRouter())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["pending"] != float64(3) {
		t.Fatalf("pending = %v, want 3", body["pending"])
	}
	refs, ok := body["task_bodies"].([]any)
	if !ok || len(refs) != 2 || refs[0] != "email.send" || refs[1] != "report.generate" {
		t.Fatalf("task_bodies = %v", body["task_bodies"])
	}
}

func TestCreateSchedule(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	status, body := e.do(t, http.MethodPost, "/api/schedules/", "alice", false, createBody(e.taskID))
	if status != http.StatusCreated {
		t.Fatalf("status = %d, body %v", status, body)
	}

	sched, ok := body["schedule"].(map[string]any)
	if !ok {
		t.Fatalf("missing schedule in %v", body)
	}
	if sched["owner_id"] != "alice" || sched["is_active"] != true {
		t.Fatalf("schedule body: %v", sched)
	}
	if sched["next_run_time"] == nil {
		t.Fatal("active schedule should expose next_run_time")
	}
}

func TestCreateSchedule_ValidationPayload(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	status, body := e.do(t, http.MethodPost, "/api/schedules/", "alice", false, map[string]any{
		"task_definition_id": 9999,
		"cron_expression":    "garbage",
		"parameters":         map[string]any{"email": 1, "bogus": "x"},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}

	errs, ok := body["errors"].(map[string]any)
	if !ok {
		t.Fatalf("missing errors in %v", body)
	}
	if errs["cron_expression"] != "Invalid cron expression format" {
		t.Fatalf("cron error: %v", errs["cron_expression"])
	}
	if errs["task_definition"] == nil {
		t.Fatal("task error missing")
	}
	params, _ := errs["parameters"].(map[string]any)
	if params["email"] != "email must be a string" || params["bogus"] != "bogus is not a valid parameter" {
		t.Fatalf("parameter errors: %v", params)
	}
}

func TestCreateSchedule_QuotaError(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	for i := 0; i < schedule.MaxActivePerOwner; i++ {
		if status, body := e.do(t, http.MethodPost, "/api/schedules/", "alice", false, createBody(e.taskID)); status != http.StatusCreated {
			t.Fatalf("setup create %d: %d %v", i, status, body)
		}
	}

	status, body := e.do(t, http.MethodPost, "/api/schedules/", "alice", false, createBody(e.taskID))
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	errs, _ := body["errors"].(map[string]any)
	if errs["quota"] != "Regular users cannot have more than 5 active jobs" {
		t.Fatalf("quota error: %v", errs)
	}
}

func TestGetSchedule_VisibilityIs404(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	_, body := e.do(t, http.MethodPost, "/api/schedules/", "alice", false, createBody(e.taskID))
	id := int64(body["schedule"].(map[string]any)["id"].(float64))

	status, _ := e.do(t, http.MethodGet, fmt.Sprintf("/api/schedules/%d/", id), "bob", false, nil)
	if status != http.StatusNotFound {
		t.Fatalf("non-owner status = %d, want 404", status)
	}

	status, _ = e.do(t, http.MethodGet, fmt.Sprintf("/api/schedules/%d/", id), "bob", true, nil)
	if status != http.StatusOK {
		t.Fatalf("privileged status = %d, want 200", status)
	}

	// Garbage ids are indistinguishable from missing ones.
	status, _ = e.do(t, http.MethodGet, "/api/schedules/notanid/", "alice", false, nil)
	if status != http.StatusNotFound {
		t.Fatalf("garbage id status = %d, want 404", status)
	}
}

func TestToggleSchedule(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	_, body := e.do(t, http.MethodPost, "/api/schedules/", "alice", false, createBody(e.taskID))
	id := int64(body["schedule"].(map[string]any)["id"].(float64))

	status, body := e.do(t, http.MethodPost, fmt.Sprintf("/api/schedules/%d/toggle", id), "alice", false, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["message"] != "Schedule deactivated successfully" || body["is_active"] != false {
		t.Fatalf("toggle body: %v", body)
	}

	status, body = e.do(t, http.MethodPost, fmt.Sprintf("/api/schedules/%d/toggle", id), "alice", false, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["message"] != "Schedule activated successfully" || body["is_active"] != true {
		t.Fatalf("toggle body: %v", body)
	}
}

func TestUpdateSchedule(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	_, body := e.do(t, http.MethodPost, "/api/schedules/", "alice", false, createBody(e.taskID))
	id := int64(body["schedule"].(map[string]any)["id"].(float64))

	status, body := e.do(t, http.MethodPatch, fmt.Sprintf("/api/schedules/%d/", id), "alice", false, map[string]any{
		"cron_expression": "0 6 * * 1",
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	sched := body["schedule"].(map[string]any)
	if sched["cron_expression"] != "0 6 * * 1" {
		t.Fatalf("cron not updated: %v", sched)
	}
	// Untouched fields persist.
	params := sched["parameters"].(map[string]any)
	if params["email"] != "alice@example.com" {
		t.Fatalf("parameters lost on partial update: %v", params)
	}
}

func TestDeleteSchedule(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	_, body := e.do(t, http.MethodPost, "/api/schedules/", "alice", false, createBody(e.taskID))
	id := int64(body["schedule"].(map[string]any)["id"].(float64))

	status, _ := e.do(t, http.MethodDelete, fmt.Sprintf("/api/schedules/%d/", id), "alice", false, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", status)
	}
	status, _ = e.do(t, http.MethodGet, fmt.Sprintf("/api/schedules/%d/", id), "alice", false, nil)
	if status != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", status)
	}
}

func TestListSchedules_PageSizeCaps(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	for i := 0; i < 4; i++ {
		body := createBody(e.taskID)
		body["is_active"] = false
		if status, resp := e.do(t, http.MethodPost, "/api/schedules/", "alice", false, body); status != http.StatusCreated {
			t.Fatalf("create %d: %d %v", i, status, resp)
		}
	}

	// A regular caller asking for 500 is capped at 10.
	status, body := e.do(t, http.MethodGet, "/api/schedules/?page_size=500", "alice", false, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["page_size"] != float64(10) {
		t.Fatalf("page_size = %v, want 10", body["page_size"])
	}

	status, body = e.do(t, http.MethodGet, "/api/schedules/?page_size=500", "alice", true, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["page_size"] != float64(100) {
		t.Fatalf("privileged page_size = %v, want 100", body["page_size"])
	}

	// Invalid requests fall back to the default.
	_, body = e.do(t, http.MethodGet, "/api/schedules/?page_size=wat", "alice", false, nil)
	if body["page_size"] != float64(10) {
		t.Fatalf("invalid page_size fell back to %v", body["page_size"])
	}
}

func TestSearchSchedules(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	for i := 0; i < 2; i++ {
		e.do(t, http.MethodPost, "/api/schedules/", "alice", false, createBody(e.taskID))
	}
	inactive := createBody(e.taskID)
	inactive["is_active"] = false
	e.do(t, http.MethodPost, "/api/schedules/", "alice", false, inactive)

	status, body := e.do(t, http.MethodPost, "/api/schedules/search", "alice", false, map[string]any{
		"filters":  map[string]any{"is_active": true, "no_such_field": "ignored"},
		"ordering": []string{"-created_at", "bogus"},
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["count"] != float64(2) {
		t.Fatalf("count = %v, want 2 active", body["count"])
	}

	// Search respects ownership: bob sees nothing.
	status, body = e.do(t, http.MethodPost, "/api/schedules/search", "bob", false, map[string]any{})
	if status != http.StatusOK || body["count"] != float64(0) {
		t.Fatalf("bob's search: %d %v", status, body)
	}
}

func TestScheduleLogs(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	ctx := context.Background()
	_, body := e.do(t, http.MethodPost, "/api/schedules/", "alice", false, createBody(e.taskID))
	id := int64(body["schedule"].(map[string]any)["id"].(float64))

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row, err := e.logs.Insert(ctx, execlog.ExecutionLog{
		ScheduleID: id, Handle: "h-1", Status: execlog.StatusRunning, StartedAt: started,
	})
	if err != nil {
		t.Fatalf("insert log: %v", err)
	}
	if _, err := e.logs.Finalize(ctx, row.ID, execlog.Outcome{
		Status: execlog.StatusSuccess, Result: map[string]any{"ok": true},
		CompletedAt: started.Add(3 * time.Second),
	}); err != nil {
		t.Fatalf("finalize log: %v", err)
	}

	status, body := e.do(t, http.MethodGet, fmt.Sprintf("/api/schedules/%d/logs", id), "alice", false, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	results := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results: %v", results)
	}
	entry := results[0].(map[string]any)
	if entry["status"] != "success" || entry["is_completed"] != true {
		t.Fatalf("log entry: %v", entry)
	}
	if entry["duration_ms"] != float64(3000) {
		t.Fatalf("duration_ms = %v, want 3000", entry["duration_ms"])
	}

	// Non-owners must not learn the schedule exists, let alone its history.
	status, _ = e.do(t, http.MethodGet, fmt.Sprintf("/api/schedules/%d/logs", id), "bob", false, nil)
	if status != http.StatusNotFound {
		t.Fatalf("bob's logs status = %d, want 404", status)
	}
}

func TestListTasks(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	status, body := e.do(t, http.MethodGet, "/api/tasks", "alice", false, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	results := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results: %v", results)
	}
	task := results[0].(map[string]any)
	if task["name"] != "Send Email" {
		t.Fatalf("task: %v", task)
	}
	schema := task["parameter_schema"].(map[string]any)
	if schema["email"] != "string" || schema["delay"] != "integer" {
		t.Fatalf("schema: %v", schema)
	}
}
