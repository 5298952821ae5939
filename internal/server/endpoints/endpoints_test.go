package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/pages"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// sheetPages serves text-only pages from a document of a fixed length.
type sheetPages struct{ total int }

func (p sheetPages) DiscoverPageCount(_ context.Context, _ string, endPage int) (int, bool) {
	if endPage > 0 {
		return endPage, false
	}
	return p.total, false
}

func (p sheetPages) LoadPages(_ context.Context, _ string, start, end int) ([]pages.Page, error) {
	var out []pages.Page
	for n := start; n <= end; n++ {
		out = append(out, pages.Page{Number: n, Text: fmt.Sprintf("SHEET A-%d", n)})
	}
	return out, nil
}

const testConfig = `
database:
  driver: memory
providers:
  primary:
    type: mock
    enabled: true
worker:
  auto_merge: false
  budget_seconds: 30
`

type testEnv struct {
	t        *testing.T
	server   *httptest.Server
	services *svcctx.Services
	model    *providers.MockClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	cm, err := config.NewManager(path, "")
	if err != nil {
		t.Fatalf("config.NewManager() error = %v", err)
	}

	st := store.NewMemoryStore()
	model := providers.NewMockClient()
	model.ProviderName = "primary"
	registry := providers.NewRegistry()
	registry.RegisterLLM("primary", model)

	src := sheetPages{total: 6}
	collectors := metrics.NewCollectors()
	manager := jobs.NewManager(jobs.ManagerConfig{
		Store: st,
		Pages: src,
		Defaults: jobs.Defaults{
			ModelPolicy: store.ModelPolicy{Primary: "primary:model-a", Fallbacks: []string{}},
			BatchConfig: store.BatchConfig{MaxRetries: 1},
		},
		Metrics: collectors,
	})
	noSleep := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	limiter := jobs.NewProviderLimiter(jobs.LimiterConfig{Store: st, Sleep: noSleep})
	worker := jobs.NewWorker(jobs.WorkerConfig{
		Store:   st,
		Manager: manager,
		Pages:   src,
		Models:  registry,
		Limiter: limiter,
		Metrics: collectors,
		Sleep:   noSleep,
	})

	svcs := &svcctx.Services{
		Store:      st,
		JobManager: manager,
		Worker:     worker,
		Limiter:    limiter,
		Registry:   registry,
		Config:     cm,
		Metrics:    collectors,
	}

	reg := api.NewRegistry()
	for _, ep := range All() {
		reg.Register(ep)
	}
	mux := http.NewServeMux()
	reg.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc { return next })
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), svcs)))
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{t: t, server: srv, services: svcs, model: model}
}

// do sends a request and decodes the JSON response into out when non-nil.
func (e *testEnv) do(method, path string, body any, out any) int {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	if err != nil {
		e.t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			e.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) createJob(pageEnd, batchSize int) *store.Job {
	e.t.Helper()
	var job store.Job
	code := e.do("POST", "/api/jobs", map[string]any{
		"pdf_ref":      "plans/tower.pdf",
		"plan_id":      "plan-1",
		"pages":        map[string]int{"start": 1, "end": pageEnd},
		"batch_config": map[string]int{"batch_size": batchSize},
	}, &job)
	if code != http.StatusCreated {
		e.t.Fatalf("create job status = %d", code)
	}
	return &job
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var health HealthResponse
	if code := env.do("GET", "/health", nil, &health); code != http.StatusOK || health.Status != "ok" {
		t.Errorf("/health = %d %+v", code, health)
	}

	var ready HealthResponse
	if code := env.do("GET", "/ready", nil, &ready); code != http.StatusOK || ready.Store != "ok" {
		t.Errorf("/ready = %d %+v", code, ready)
	}

	var status StatusResponse
	if code := env.do("GET", "/status", nil, &status); code != http.StatusOK {
		t.Fatalf("/status = %d", code)
	}
	if status.Store != "healthy" || status.NATS != "disabled" || status.Scheduler != nil {
		t.Errorf("/status = %+v", status)
	}
	if len(status.Providers) != 1 || status.Providers[0] != "primary" {
		t.Errorf("providers = %v", status.Providers)
	}
}

func TestReadyEndpoint_NotInitialized(t *testing.T) {
	rec := httptest.NewRecorder()
	(&ReadyEndpoint{}).handler(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Store != "not_initialized" {
		t.Errorf("store = %q", resp.Store)
	}
}

func TestCreateJobEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("partitions pages into batches", func(t *testing.T) {
		job := env.createJob(5, 2)
		if job.Status != store.JobQueued {
			t.Errorf("status = %s", job.Status)
		}
		if job.TotalPages != 5 || job.TotalBatches != 3 {
			t.Errorf("total_pages=%d total_batches=%d", job.TotalPages, job.TotalBatches)
		}
		if job.PlanID != "plan-1" {
			t.Errorf("plan_id = %q", job.PlanID)
		}
	})

	t.Run("requires pdf_ref", func(t *testing.T) {
		var errResp ErrorResponse
		code := env.do("POST", "/api/jobs", map[string]any{"plan_id": "x"}, &errResp)
		if code != http.StatusBadRequest || !strings.Contains(errResp.Error, "pdf_ref") {
			t.Errorf("got %d %+v", code, errResp)
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		code := env.do("POST", "/api/jobs", map[string]any{
			"pdf_ref": "plans/a.pdf",
			"mode":    "estimate",
		}, nil)
		if code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})
}

func TestJobQueries(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(4, 2)

	t.Run("get", func(t *testing.T) {
		var resp GetJobResponse
		if code := env.do("GET", "/api/jobs/"+job.ID, nil, &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if resp.ID != job.ID || resp.Usage == nil || resp.Usage.Batches != 2 {
			t.Errorf("resp = %+v usage=%+v", resp.Job, resp.Usage)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		if code := env.do("GET", "/api/jobs/missing", nil, nil); code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", code)
		}
	})

	t.Run("list", func(t *testing.T) {
		var resp ListJobsResponse
		if code := env.do("GET", "/api/jobs?status=queued&limit=5", nil, &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if len(resp.Jobs) != 1 || resp.Jobs[0].ID != job.ID {
			t.Errorf("jobs = %+v", resp.Jobs)
		}

		if code := env.do("GET", "/api/jobs?status=complete", nil, &resp); code != http.StatusOK || len(resp.Jobs) != 0 {
			t.Errorf("complete filter = %d %d jobs", code, len(resp.Jobs))
		}
	})

	t.Run("list rejects unknown status", func(t *testing.T) {
		if code := env.do("GET", "/api/jobs?status=done", nil, nil); code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})

	t.Run("batches", func(t *testing.T) {
		var resp ListBatchesResponse
		if code := env.do("GET", "/api/jobs/"+job.ID+"/batches", nil, &resp); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if len(resp.Batches) != 2 {
			t.Fatalf("batches = %d", len(resp.Batches))
		}
		if resp.Batches[1].PageStart != 3 || resp.Batches[1].PageEnd != 4 {
			t.Errorf("batch 1 pages = %d-%d", resp.Batches[1].PageStart, resp.Batches[1].PageEnd)
		}
	})
}

func TestProcessMergeResult(t *testing.T) {
	t.Run("process then merge", func(t *testing.T) {
		env := newTestEnv(t)
		job := env.createJob(5, 2)

		var result ResultResponse
		if code := env.do("GET", "/api/jobs/"+job.ID+"/result", nil, &result); code != http.StatusAccepted || result.Status != "not_ready" {
			t.Fatalf("result before processing = %d %+v", code, result)
		}

		var proc ProcessResponse
		code := env.do("POST", "/api/jobs/"+job.ID+"/process", ProcessRequest{MaxBatches: 10}, &proc)
		if code != http.StatusOK {
			t.Fatalf("process status = %d", code)
		}
		if proc.Result == nil || proc.Result.Completed != 3 || !proc.Result.Done() {
			t.Fatalf("process result = %+v", proc.Result)
		}
		if proc.Merged {
			t.Error("merged although worker.auto_merge is false")
		}

		var merged store.Job
		if code := env.do("POST", "/api/jobs/"+job.ID+"/merge", MergeRequest{RequireFullCoverage: true}, &merged); code != http.StatusOK {
			t.Fatalf("merge status = %d", code)
		}
		if merged.FinalResult == nil || merged.FinalResult.Coverage.BatchesMerged != 3 {
			t.Errorf("final_result = %+v", merged.FinalResult)
		}

		if code := env.do("GET", "/api/jobs/"+job.ID+"/result", nil, &result); code != http.StatusOK || result.Status != "ready" || result.Result == nil {
			t.Errorf("result after merge = %d %+v", code, result)
		}
	})

	t.Run("process with merge", func(t *testing.T) {
		env := newTestEnv(t)
		job := env.createJob(2, 2)
		merge := true

		var proc ProcessResponse
		if code := env.do("POST", "/api/jobs/"+job.ID+"/process", ProcessRequest{Merge: &merge}, &proc); code != http.StatusOK {
			t.Fatalf("process status = %d", code)
		}
		if !proc.Merged || proc.Failed {
			t.Errorf("response = %+v", proc)
		}
	})

	t.Run("empty body uses defaults", func(t *testing.T) {
		env := newTestEnv(t)
		job := env.createJob(2, 2)
		resp, err := http.Post(env.server.URL+"/api/jobs/"+job.ID+"/process", "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("negative limits rejected", func(t *testing.T) {
		env := newTestEnv(t)
		job := env.createJob(2, 2)
		if code := env.do("POST", "/api/jobs/"+job.ID+"/process", ProcessRequest{MaxBatches: -1}, nil); code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})

	t.Run("async requires nats", func(t *testing.T) {
		env := newTestEnv(t)
		job := env.createJob(2, 2)
		if code := env.do("POST", "/api/jobs/"+job.ID+"/process", ProcessRequest{Async: true}, nil); code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})

	t.Run("merge with pending batches conflicts", func(t *testing.T) {
		env := newTestEnv(t)
		job := env.createJob(2, 2)
		if code := env.do("POST", "/api/jobs/"+job.ID+"/merge", nil, nil); code != http.StatusConflict {
			t.Errorf("status = %d, want 409", code)
		}
	})

	t.Run("all batches failed fails the job", func(t *testing.T) {
		env := newTestEnv(t)
		env.model.ShouldFail = true
		job := env.createJob(4, 2)

		merge := true
		var proc ProcessResponse
		if code := env.do("POST", "/api/jobs/"+job.ID+"/process", ProcessRequest{MaxBatches: 10, Merge: &merge}, &proc); code != http.StatusOK {
			t.Fatalf("process status = %d", code)
		}
		if proc.Result.Failed != 2 || !proc.Result.Done() {
			t.Errorf("result = %+v", proc.Result)
		}
		if !proc.Failed || proc.Merged {
			t.Errorf("a job with no completed batch should be failed: %+v", proc)
		}
	})
}

func TestFailJobEndpoint(t *testing.T) {
	env := newTestEnv(t)
	job := env.createJob(4, 2)

	var failed store.Job
	if code := env.do("POST", "/api/jobs/"+job.ID+"/fail", FailRequest{Reason: "plan withdrawn"}, &failed); code != http.StatusOK {
		t.Fatalf("fail status = %d", code)
	}
	if failed.Status != store.JobFailed {
		t.Errorf("status = %s", failed.Status)
	}

	if code := env.do("POST", "/api/jobs/"+job.ID+"/process", nil, nil); code != http.StatusConflict {
		t.Errorf("process after fail = %d, want 409", code)
	}
	if code := env.do("POST", "/api/jobs/missing/fail", nil, nil); code != http.StatusNotFound {
		t.Errorf("fail unknown = %d, want 404", code)
	}
}

func TestListProvidersEndpoint(t *testing.T) {
	env := newTestEnv(t)
	until := time.Now().Add(time.Minute)
	if err := env.services.Store.UpsertProviderState(context.Background(), &store.ProviderState{
		Provider:        "primary",
		Consecutive429s: 2,
		BackoffUntil:    &until,
	}); err != nil {
		t.Fatal(err)
	}

	var resp ListProvidersResponse
	if code := env.do("GET", "/api/providers", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Providers) != 1 {
		t.Fatalf("providers = %+v", resp.Providers)
	}
	p := resp.Providers[0]
	if p.Name != "primary" || p.Consecutive429s != 2 || p.BackoffMS <= 0 {
		t.Errorf("provider = %+v", p)
	}
}

func TestConfigEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var list ConfigResponse
	if code := env.do("GET", "/api/config?prefix=worker.", nil, &list); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(list.Entries) == 0 {
		t.Fatal("no worker entries")
	}
	for _, e := range list.Entries {
		if !strings.HasPrefix(e.Key, "worker.") {
			t.Errorf("entry %q outside prefix", e.Key)
		}
	}

	var entry config.Entry
	if code := env.do("GET", "/api/config/worker.budget_seconds", nil, &entry); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if fmt.Sprint(entry.Value) != "30" || entry.Description == "" {
		t.Errorf("entry = %+v", entry)
	}

	if code := env.do("GET", "/api/config/worker.nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown key = %d, want 404", code)
	}
	if code := env.do("GET", "/api/config/bad!key", nil, nil); code != http.StatusBadRequest {
		t.Errorf("invalid key = %d, want 400", code)
	}
}

func TestMetricsAndSwagger(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("/metrics = %d", resp.StatusCode)
	}

	var doc map[string]any
	if code := env.do("GET", "/swagger.json", nil, &doc); code != http.StatusOK {
		t.Fatalf("/swagger.json = %d", code)
	}
	info, _ := doc["info"].(map[string]any)
	if info["title"] != "Takeoff API" {
		t.Errorf("info = %v", info)
	}
	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/api/jobs", "/api/jobs/{id}/process", "/api/jobs/{id}/result"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("swagger doc lacks %s", p)
		}
	}
}
