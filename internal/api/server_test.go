package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/wesm/msgdb/internal/config"
	"github.com/wesm/msgdb/internal/msgdb"
	"github.com/wesm/msgdb/internal/testutil"
	"github.com/wesm/msgdb/internal/view"
)

// testLogger returns a logger for tests that only reports errors.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// inline runs engine work on the request goroutine.
type inline struct{}

func (inline) Call(_ context.Context, fn func() error) error { return fn() }

// mockScheduler implements MaintenanceScheduler for tests.
type mockScheduler struct {
	scheduled map[string]bool
	running   bool
	statuses  []JobStatus
	triggerFn func(name string) error
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{
		scheduled: make(map[string]bool),
		running:   true,
	}
}

func (m *mockScheduler) IsScheduled(name string) bool { return m.scheduled[name] }

func (m *mockScheduler) Trigger(name string) error {
	if m.triggerFn != nil {
		return m.triggerFn(name)
	}
	return nil
}

func (m *mockScheduler) Status() []JobStatus { return m.statuses }

func (m *mockScheduler) IsRunning() bool { return m.running }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{APIPort: 8080, RateLimitPerSec: 1000},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, sched MaintenanceScheduler) (*Server, *msgdb.Database) {
	t.Helper()
	db, _ := testutil.NewTestDatabase(t)
	views := view.NewCache(db, 2, nil)
	t.Cleanup(views.Close)
	return NewServer(cfg, inline{}, db, views, sched, testLogger()), db
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	w := do(t, srv, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decode[map[string]string](t, w); resp["status"] != "ok" {
		t.Errorf("health status = %q, want 'ok'", resp["status"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKey = "secret-key"
	srv, _ := newTestServer(t, cfg, nil)

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"no key", "", "", http.StatusUnauthorized},
		{"wrong key", "Authorization", "wrong-key", http.StatusUnauthorized},
		{"bearer token", "Authorization", "Bearer secret-key", http.StatusOK},
		{"raw authorization", "Authorization", "secret-key", http.StatusOK},
		{"x-api-key", "X-API-Key", "secret-key", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stats", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			srv.Router().ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}

	// Health stays open
	if w := do(t, srv, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Errorf("GET /health with auth configured = %d, want 200", w.Code)
	}
}

func TestRateLimitEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimitPerSec = 1
	srv, _ := newTestServer(t, cfg, nil)

	var limited bool
	for i := 0; i < 5; i++ {
		w := do(t, srv, "GET", "/health", "")
		if w.Code == http.StatusTooManyRequests {
			limited = true
			if w.Header().Get("Retry-After") == "" {
				t.Error("missing Retry-After header")
			}
			break
		}
	}
	if !limited {
		t.Error("expected a request to be rate limited")
	}
}

func TestServerStartRejectsInsecureBind(t *testing.T) {
	cfg := testConfig()
	cfg.Server.BindAddr = "0.0.0.0"
	srv, _ := newTestServer(t, cfg, nil)

	if err := srv.Start(); err == nil {
		t.Fatal("Start() on a public address without api_key = nil, want error")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() before serving = %v", err)
	}
}

func TestSchedulerStatusEndpoint(t *testing.T) {
	sched := newMockScheduler()
	sched.statuses = []JobStatus{{Name: "recover", Schedule: "0 3 * * *"}}
	srv, _ := newTestServer(t, testConfig(), sched)

	w := do(t, srv, "GET", "/api/v1/scheduler/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[SchedulerStatusResponse](t, w)
	if !resp.Running || len(resp.Jobs) != 1 || resp.Jobs[0].Name != "recover" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSchedulerStatusWithoutScheduler(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), nil)

	w := do(t, srv, "GET", "/api/v1/scheduler/status", "")
	resp := decode[SchedulerStatusResponse](t, w)
	if resp.Running || len(resp.Jobs) != 0 {
		t.Errorf("response = %+v, want idle and empty", resp)
	}
}

func TestTriggerJobEndpoint(t *testing.T) {
	sched := newMockScheduler()
	sched.scheduled["recover"] = true
	var triggered string
	sched.triggerFn = func(name string) error {
		triggered = name
		return nil
	}
	srv, _ := newTestServer(t, testConfig(), sched)

	if w := do(t, srv, "POST", "/api/v1/maintenance/recover", ""); w.Code != http.StatusAccepted {
		t.Errorf("trigger status = %d, want 202", w.Code)
	}
	if triggered != "recover" {
		t.Errorf("triggered = %q, want recover", triggered)
	}
	if w := do(t, srv, "POST", "/api/v1/maintenance/purge", ""); w.Code != http.StatusNotFound {
		t.Errorf("unscheduled job status = %d, want 404", w.Code)
	}
}

func TestTriggerJobConflict(t *testing.T) {
	sched := newMockScheduler()
	sched.scheduled["purge"] = true
	sched.triggerFn = func(string) error { return errors.New("job purge is already running") }
	srv, _ := newTestServer(t, testConfig(), sched)

	if w := do(t, srv, "POST", "/api/v1/maintenance/purge", ""); w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}
