package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/server/endpoints"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

func openServices(t *testing.T) *svcctx.Services {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  driver: memory\nproviders:\n  primary:\n    type: mock\n    enabled: true\nworker:\n  interval_seconds: 1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cm, err := config.NewManager(path, "")
	if err != nil {
		t.Fatal(err)
	}
	h, err := home.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	svcs, err := svcctx.Open(context.Background(), svcctx.Options{Config: cm, Home: h, Store: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("svcctx.Open() error = %v", err)
	}
	t.Cleanup(func() { svcs.Close() })
	return svcs
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", s.Addr())
	}
	if s.IsRunning() {
		t.Error("server running before Start")
	}
}

func TestNew_ConsumeRequiresNATS(t *testing.T) {
	if _, err := New(Config{Consume: true}); err == nil {
		t.Error("expected error without a NATS connection")
	}
}

func TestRequireInit(t *testing.T) {
	t.Run("uninitialized server answers 503", func(t *testing.T) {
		s, err := New(Config{})
		if err != nil {
			t.Fatal(err)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}

		rec = httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("/health status = %d", rec.Code)
		}
	})

	t.Run("initialized server serves jobs", func(t *testing.T) {
		s, err := New(Config{Services: openServices(t)})
		if err != nil {
			t.Fatal(err)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})
}

func TestServer_StartStop(t *testing.T) {
	svcs := openServices(t)
	s, err := New(Config{Port: "0", Services: svcs, Scheduler: true})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !s.IsRunning() {
		t.Fatal("server did not start")
	}

	var status endpoints.StatusResponse
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + s.Addr() + "/status")
		if err == nil {
			err = json.NewDecoder(resp.Body).Decode(&status)
			resp.Body.Close()
		}
		if err == nil && status.Scheduler != nil && status.Scheduler.Sweeps > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status.Scheduler == nil || status.Scheduler.Sweeps == 0 {
		t.Errorf("scheduler never swept: %+v", status)
	}

	if err := s.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	if s.IsRunning() {
		t.Error("server still running after shutdown")
	}
}
