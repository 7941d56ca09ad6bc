package controlplane

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/audit"
	"github.com/MaiM-with-u/MaiLuncher/internal/config"
	"github.com/MaiM-with-u/MaiLuncher/internal/connectors"
	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"github.com/MaiM-with-u/MaiLuncher/internal/store"
	"github.com/MaiM-with-u/MaiLuncher/internal/supervisor"
)

type testEnv struct {
	server  *Server
	handler http.Handler
	store   *store.Store
	spawner *fakeSpawner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	spawner := newFakeSpawner()
	cfg := &supervisor.Config{
		LogCap:           100,
		BatchLimit:       20,
		FlushInterval:    10 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		StopTimeout:      200 * time.Millisecond,
		ShutdownTimeout:  200 * time.Millisecond,
		ExitGrace:        50 * time.Millisecond,
		RestartLogPolicy: supervisor.RestartLogClear,
		PrimaryID:        "main",
	}
	sup := supervisor.New(spawner, cfg, supervisor.WithSink(NewHistory(st, nil)))
	catalog := &fakeCatalog{targets: []config.Target{
		{ID: "main", Name: "MaiBot", Script: "bot.py"},
		{ID: "napcat", Name: "NapCat Adapter", Script: "napcat.py"},
	}}

	service := NewService(sup, st, audit.NewPDRWriter(st), catalog, nil)
	server := NewServer(service, "127.0.0.1:0", nil)

	t.Cleanup(func() {
		sup.ShutdownAll()
		st.Close()
	})

	return &testEnv{server: server, handler: server.Handler(), store: st, spawner: spawner}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthEndpoint_OK(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	health := decode[HealthResponse](t, w)
	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	env := newTestEnv(t)

	// Close the store to simulate DB error
	env.store.Close()

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	health := decode[HealthResponse](t, w)
	if health.OK {
		t.Error("Expected health.OK to be false when DB is down")
	}
	if health.DB == "ok" {
		t.Error("Expected DB status to indicate error")
	}
}

func TestListProcesses_IncludesConfiguredTargets(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/processes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	infos := decode[[]models.ProcessInfo](t, w)
	if len(infos) != 2 {
		t.Fatalf("Expected 2 processes, got %+v", infos)
	}
	for _, info := range infos {
		if info.Status != models.ProcessStatusStopped || info.HasRunBefore {
			t.Errorf("Expected never-started process, got %+v", info)
		}
	}
}

func TestProcessLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/processes/main/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[ActionResponse](t, w)
	if resp.Message != "Process 'MaiBot' started successfully." {
		t.Errorf("Unexpected message %q", resp.Message)
	}
	if resp.Process.Status != models.ProcessStatusRunning || resp.Process.PID == 0 {
		t.Errorf("Expected running process with pid, got %+v", resp.Process)
	}

	// Duplicate start is rejected.
	if w := env.do(t, http.MethodPost, "/processes/main/start", nil); w.Code != http.StatusConflict {
		t.Errorf("duplicate start: expected 409, got %d", w.Code)
	}

	proc := env.spawner.last()
	proc.write("hello", "world")
	var logs []models.LogEntry
	waitFor(t, func() bool {
		logs = decode[[]models.LogEntry](t, env.do(t, http.MethodGet, "/processes/main/logs", nil))
		return len(logs) == 3
	})
	if logs[1].Raw != "hello" || logs[2].Raw != "world" {
		t.Errorf("Unexpected logs: %+v", logs)
	}

	// Incremental tail.
	after := logs[1].Seq
	more := decode[[]models.LogEntry](t, env.do(t, http.MethodGet, fmt.Sprintf("/processes/main/logs?after=%d", after), nil))
	if len(more) != 1 || more[0].Raw != "world" {
		t.Errorf("Expected only entries after %d, got %+v", after, more)
	}
	tail := decode[[]models.LogEntry](t, env.do(t, http.MethodGet, "/processes/main/logs?tail=1", nil))
	if len(tail) != 1 || tail[0].Raw != "world" {
		t.Errorf("Expected last entry, got %+v", tail)
	}

	// A running process cannot be removed.
	if w := env.do(t, http.MethodDelete, "/processes/main", nil); w.Code != http.StatusConflict {
		t.Errorf("remove running: expected 409, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/processes/main/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", w.Code)
	}
	resp = decode[ActionResponse](t, w)
	if resp.Process.Status != models.ProcessStatusStopped || resp.Process.EndReason != models.EndReasonStopped {
		t.Errorf("Expected stopped process, got %+v", resp.Process)
	}

	runs := decode[[]models.Run](t, env.do(t, http.MethodGet, "/processes/main/runs", nil))
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %+v", runs)
	}
	if runs[0].EndReason != models.EndReasonStopped || runs[0].EndedAt == nil || runs[0].Command != "/usr/bin/python3" {
		t.Errorf("Unexpected run: %+v", runs[0])
	}

	if w := env.do(t, http.MethodDelete, "/processes/main", nil); w.Code != http.StatusOK {
		t.Errorf("remove stopped: expected 200, got %d", w.Code)
	}

	pdrs, err := env.store.ListPDRs(10)
	if err != nil {
		t.Fatal(err)
	}
	actions := make(map[string]int)
	for _, p := range pdrs {
		actions[p.Action]++
	}
	if actions["process.start"] != 2 || actions["process.stop"] != 1 || actions["process.remove"] != 2 {
		t.Errorf("Unexpected audit trail: %v", actions)
	}
}

func TestProcessNaturalExit_RecordsHistory(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/processes/napcat/start", nil); w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", w.Code)
	}
	env.spawner.last().exit(connectors.ExitState{Code: 3})

	var runs []models.Run
	waitFor(t, func() bool {
		runs = decode[[]models.Run](t, env.do(t, http.MethodGet, "/processes/napcat/runs", nil))
		return len(runs) == 1 && runs[0].EndedAt != nil
	})
	if runs[0].EndReason != models.EndReasonExited || runs[0].ExitCode == nil || *runs[0].ExitCode != 3 {
		t.Errorf("Unexpected run: %+v", runs[0])
	}
}

func TestStartProcess_Errors(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/processes/ghost/start", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown target: expected 404, got %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/processes/main/start", StartRequest{Script: "broken.py"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("resolve error: expected 422, got %d", w.Code)
	}
	info := decode[models.ProcessInfo](t, env.do(t, http.MethodGet, "/processes/main", nil))
	if info.Status != models.ProcessStatusError || info.LastError == "" {
		t.Errorf("Expected error status, got %+v", info)
	}

	runs := decode[[]models.Run](t, env.do(t, http.MethodGet, "/processes/main/runs", nil))
	if len(runs) != 1 || runs[0].EndReason != models.EndReasonSpawnError {
		t.Errorf("Expected failed start in history, got %+v", runs)
	}

	req := httptest.NewRequest(http.MethodPost, "/processes/main/start", strings.NewReader("{"))
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json: expected 400, got %d", w.Code)
	}
}

func TestGetProcess_NotFound(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/processes/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/processes/ghost/logs", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/processes/main/logs?tail=x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/processes/main/stop", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestRestart_StartsNeverRunProcess(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/processes/napcat/restart", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	first := decode[ActionResponse](t, w).Process

	w = env.do(t, http.MethodPost, "/processes/napcat/restart", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	second := decode[ActionResponse](t, w).Process
	if second.RunID == first.RunID || second.Status != models.ProcessStatusRunning {
		t.Errorf("Expected a fresh run, got %+v after %+v", second, first)
	}
}

func TestUIDisconnect_StopsPrimary(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/processes/main/start", nil)
	env.do(t, http.MethodPost, "/processes/napcat/start", nil)

	if w := env.do(t, http.MethodPost, "/ui/disconnect", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	main := decode[models.ProcessInfo](t, env.do(t, http.MethodGet, "/processes/main", nil))
	if main.Status != models.ProcessStatusStopped {
		t.Errorf("Expected main to be stopped, got %s", main.Status)
	}
	adapter := decode[models.ProcessInfo](t, env.do(t, http.MethodGet, "/processes/napcat", nil))
	if adapter.Status != models.ProcessStatusRunning {
		t.Errorf("Expected adapter to keep running, got %s", adapter.Status)
	}

	w := env.do(t, http.MethodPost, "/ui/connect", nil)
	if got := decode[map[string]bool](t, w); got["cancelled_stop"] {
		t.Error("Expected no pending stop with zero grace")
	}
	if w := env.do(t, http.MethodGet, "/ui/connect", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{supervisor.ErrNotFound, http.StatusNotFound},
		{config.ErrUnknownTarget, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", supervisor.ErrAlreadyRunning), http.StatusConflict},
		{supervisor.ErrStillRunning, http.StatusConflict},
		{fmt.Errorf("%w: %w", supervisor.ErrInvalidCommand, errNoInterpreter), http.StatusUnprocessableEntity},
		{supervisor.ErrSpawn, http.StatusInternalServerError},
		{supervisor.ErrClosed, http.StatusServiceUnavailable},
		{ErrBadRequest, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
