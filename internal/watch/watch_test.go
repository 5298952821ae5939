package watch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/takeoff"
)

func snapshot(status store.JobStatus) *Snapshot {
	return &Snapshot{
		Job: &store.Job{
			ID:               "job-1",
			DocumentRef:      "plans/tower.pdf",
			Status:           status,
			PageStart:        1,
			PageEnd:          4,
			TotalPages:       4,
			TotalBatches:     2,
			CompletedBatches: 1,
			ProgressPercent:  50,
		},
		Batches: []*store.Batch{
			{BatchIndex: 0, PageStart: 1, PageEnd: 2, Status: store.BatchCompleted,
				Metrics: &store.BatchMetrics{Model: "openai:gpt-4o", TokensUsed: 1200, EstimatedCostUSD: 0.01, UsedFallback: true}},
			{BatchIndex: 1, PageStart: 3, PageEnd: 4, Status: store.BatchFailed, RetryCount: 3,
				ErrorMessage: "model timeout\nstack"},
		},
	}
}

func staticFetcher(snap *Snapshot, err error) Fetcher {
	return func(context.Context, string) (*Snapshot, error) { return snap, err }
}

func TestModel_Init(t *testing.T) {
	m := NewModel("job-1", staticFetcher(nil, nil), 0, false)
	if m.interval != 2*time.Second {
		t.Errorf("interval = %v, want default", m.interval)
	}
	if m.Init() == nil {
		t.Error("Init() should start polling")
	}
}

func TestModel_Update(t *testing.T) {
	t.Run("quit key", func(t *testing.T) {
		m := NewModel("job-1", staticFetcher(nil, nil), time.Second, false)
		updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
		if !updated.(Model).quitting || cmd == nil {
			t.Error("q should quit")
		}
		if updated.(Model).View() != "" {
			t.Error("quitting view should be empty")
		}
	})

	t.Run("refresh key polls", func(t *testing.T) {
		snap := snapshot(store.JobPartial)
		m := NewModel("job-1", staticFetcher(snap, nil), time.Second, false)
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
		if cmd == nil {
			t.Fatal("r should return a poll command")
		}
		msg := cmd()
		if got, ok := msg.(snapshotMsg); !ok || (*Snapshot)(got) != snap {
			t.Errorf("poll message = %#v", msg)
		}
	})

	t.Run("poll error", func(t *testing.T) {
		m := NewModel("job-1", staticFetcher(nil, errors.New("connection refused")), time.Second, false)
		msg := m.poll()()
		updated, cmd := m.Update(msg)
		if cmd != nil {
			t.Error("error should not schedule a command")
		}
		view := updated.(Model).View()
		if !strings.Contains(view, "connection refused") {
			t.Errorf("view lacks error:\n%s", view)
		}
	})

	t.Run("snapshot fills the table", func(t *testing.T) {
		m := NewModel("job-1", staticFetcher(nil, nil), time.Second, false)
		updated, cmd := m.Update(snapshotMsg(snapshot(store.JobPartial)))
		if cmd != nil {
			t.Error("unfinished job should not quit")
		}
		got := updated.(Model)
		rows := got.batches.Rows()
		if len(rows) != 2 {
			t.Fatalf("rows = %d", len(rows))
		}
		if rows[0][4] != "openai:gpt-4o (fallback)" || rows[0][6] != "$0.0100" {
			t.Errorf("row 0 = %v", rows[0])
		}
		if rows[1][7] != "model timeout" {
			t.Errorf("error column = %q", rows[1][7])
		}
		if got.lastUpdate.IsZero() {
			t.Error("lastUpdate not set")
		}
	})

	t.Run("exit on done", func(t *testing.T) {
		snap := snapshot(store.JobComplete)
		snap.Job.FinalResult = &takeoff.FinalResult{Coverage: takeoff.Coverage{BatchesMerged: 1, BatchesTotal: 2}}
		m := NewModel("job-1", staticFetcher(nil, nil), time.Second, true)
		updated, cmd := m.Update(snapshotMsg(snap))
		if cmd == nil || !updated.(Model).quitting {
			t.Error("merged job should quit with exitOnDone")
		}
	})

	t.Run("tick polls again", func(t *testing.T) {
		m := NewModel("job-1", staticFetcher(nil, nil), time.Second, false)
		if _, cmd := m.Update(tickMsg(time.Now())); cmd == nil {
			t.Error("tick should schedule poll and next tick")
		}
	})
}

func TestModel_View(t *testing.T) {
	m := NewModel("job-1", staticFetcher(nil, nil), time.Second, false)
	if view := m.View(); !strings.Contains(view, "loading") || !strings.Contains(view, "[q]") {
		t.Errorf("initial view:\n%s", view)
	}

	snap := snapshot(store.JobFailed)
	snap.Job.PageCountEstimated = true
	updated, _ := m.Update(snapshotMsg(snap))
	view := updated.(Model).View()
	for _, want := range []string{"plans/tower.pdf", "(estimated)", "failed", "1/2 completed", "updated"} {
		if !strings.Contains(view, want) {
			t.Errorf("view lacks %q:\n%s", want, view)
		}
	}
}

func TestFinished(t *testing.T) {
	if finished(nil) {
		t.Error("nil job is not finished")
	}
	if finished(&store.Job{Status: store.JobComplete}) {
		t.Error("complete but unmerged job is not finished")
	}
	if !finished(&store.Job{Status: store.JobFailed}) {
		t.Error("failed job is finished")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/jobs/job-1":
			w.Write([]byte(`{"id":"job-1","status":"running","total_batches":2,"usage":{"batches":2,"total_tokens":50}}`))
		case "/api/jobs/job-1/batches":
			w.Write([]byte(`{"job_id":"job-1","batches":[{"batch_index":0,"status":"completed"},{"batch_index":1,"status":"pending"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	snap, err := HTTPFetcher(api.NewClient(srv.URL))(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("fetch error = %v", err)
	}
	if snap.Job == nil || snap.Job.ID != "job-1" || snap.Job.Status != store.JobRunning {
		t.Errorf("job = %+v", snap.Job)
	}
	if snap.Usage == nil || snap.Usage.TotalTokens != 50 {
		t.Errorf("usage = %+v", snap.Usage)
	}
	if len(snap.Batches) != 2 {
		t.Errorf("batches = %d", len(snap.Batches))
	}

	if _, err := HTTPFetcher(api.NewClient(srv.URL))(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}
