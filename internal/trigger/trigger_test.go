package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/pages"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/store"
)

// textPages serves text-only pages from a document of a fixed length.
type textPages struct{ total int }

func (p textPages) DiscoverPageCount(_ context.Context, _ string, endPage int) (int, bool) {
	if endPage > 0 {
		return endPage, false
	}
	return p.total, false
}

func (p textPages) LoadPages(_ context.Context, _ string, start, end int) ([]pages.Page, error) {
	var out []pages.Page
	for n := start; n <= end; n++ {
		out = append(out, pages.Page{Number: n, Text: fmt.Sprintf("SHEET S-%d", n)})
	}
	return out, nil
}

type fixture struct {
	store   *store.MemoryStore
	model   *providers.MockClient
	manager *jobs.Manager
	worker  *jobs.Worker
}

func newFixture(t *testing.T, totalPages int) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemoryStore(),
		model: providers.NewMockClient(),
	}
	f.model.ProviderName = "primary"
	registry := providers.NewRegistry()
	registry.RegisterLLM("primary", f.model)

	src := textPages{total: totalPages}
	f.manager = jobs.NewManager(jobs.ManagerConfig{
		Store: f.store,
		Pages: src,
		Defaults: jobs.Defaults{
			ModelPolicy: store.ModelPolicy{Primary: "primary:model-a", Fallbacks: []string{}},
			BatchConfig: store.BatchConfig{MaxRetries: 1},
		},
	})
	noSleep := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	f.worker = jobs.NewWorker(jobs.WorkerConfig{
		Store:   f.store,
		Manager: f.manager,
		Pages:   src,
		Models:  registry,
		Sleep:   noSleep,
		Limiter: jobs.NewProviderLimiter(jobs.LimiterConfig{Store: f.store, Sleep: noSleep}),
	})
	return f
}

func (f *fixture) createJob(t *testing.T, ref string) *store.Job {
	t.Helper()
	job, err := f.manager.CreateJob(context.Background(), jobs.JobConfig{DocumentRef: ref})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return job
}

func (f *fixture) job(t *testing.T, id string) *store.Job {
	t.Helper()
	job, err := f.manager.GetJobStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJobStatus() error = %v", err)
	}
	return job
}

func TestScheduler_Sweep(t *testing.T) {
	t.Run("processes and merges open jobs", func(t *testing.T) {
		f := newFixture(t, 12)
		a := f.createJob(t, "plans/a.pdf")
		b := f.createJob(t, "plans/b.pdf")

		s := NewScheduler(SchedulerConfig{Worker: f.worker, Manager: f.manager, AutoMerge: true})
		res := s.Sweep(context.Background())
		if res.Jobs != 2 || res.Processed != 2 || res.Merged != 2 || res.Errors != 0 {
			t.Fatalf("Sweep() = %+v", res)
		}
		for _, id := range []string{a.ID, b.ID} {
			job := f.job(t, id)
			if job.Status != store.JobComplete || job.FinalResult == nil {
				t.Errorf("job %s status = %s", id, job.Status)
			}
		}

		res = s.Sweep(context.Background())
		if res.Jobs != 0 {
			t.Errorf("merged jobs are still open: %+v", res)
		}
		last, ticks := s.LastSweep()
		if ticks != 2 || last.Jobs != 0 {
			t.Errorf("LastSweep() = %+v, %d", last, ticks)
		}
	})

	t.Run("max batches spreads work across sweeps", func(t *testing.T) {
		f := newFixture(t, 15)
		job := f.createJob(t, "plans/c.pdf")

		s := NewScheduler(SchedulerConfig{Worker: f.worker, Manager: f.manager, MaxBatches: 1, AutoMerge: true})
		s.Sweep(context.Background())
		if got := f.job(t, job.ID); got.CompletedBatches != 1 || got.Status != store.JobPartial {
			t.Fatalf("after one sweep: status=%s completed=%d", got.Status, got.CompletedBatches)
		}
		s.Sweep(context.Background())
		res := s.Sweep(context.Background())
		if res.Merged != 1 {
			t.Errorf("third sweep = %+v", res)
		}
	})

	t.Run("without auto merge nothing is merged", func(t *testing.T) {
		f := newFixture(t, 5)
		job := f.createJob(t, "plans/d.pdf")

		s := NewScheduler(SchedulerConfig{Worker: f.worker, Manager: f.manager})
		s.Sweep(context.Background())
		got := f.job(t, job.ID)
		if got.FinalResult != nil || got.CompletedBatches != 1 {
			t.Errorf("final_result=%v completed=%d", got.FinalResult != nil, got.CompletedBatches)
		}
		if res := s.Sweep(context.Background()); res.Jobs != 0 {
			t.Errorf("finished job swept again: %+v", res)
		}
	})

	t.Run("completed but unmerged job is merged", func(t *testing.T) {
		f := newFixture(t, 5)
		job := f.createJob(t, "plans/d2.pdf")
		if _, err := f.worker.ProcessBatches(context.Background(), job.ID, 0, 0); err != nil {
			t.Fatal(err)
		}
		if got := f.job(t, job.ID); got.Status != store.JobComplete || got.FinalResult != nil {
			t.Fatalf("status=%s final_result=%v", got.Status, got.FinalResult != nil)
		}

		s := NewScheduler(SchedulerConfig{Worker: f.worker, Manager: f.manager, AutoMerge: true})
		if res := s.Sweep(context.Background()); res.Merged != 1 {
			t.Errorf("Sweep() = %+v", res)
		}
		if got := f.job(t, job.ID); got.FinalResult == nil {
			t.Error("expected a final result")
		}
	})

	t.Run("job with no completed batch is failed", func(t *testing.T) {
		f := newFixture(t, 5)
		f.model.ShouldFail = true
		job := f.createJob(t, "plans/e.pdf")

		s := NewScheduler(SchedulerConfig{Worker: f.worker, Manager: f.manager, AutoMerge: true})
		res := s.Sweep(context.Background())
		if res.Failed != 1 {
			t.Fatalf("Sweep() = %+v", res)
		}
		got := f.job(t, job.ID)
		if got.Status != store.JobFailed {
			t.Errorf("status = %s, want failed", got.Status)
		}
		if res := s.Sweep(context.Background()); res.Jobs != 0 {
			t.Errorf("failed job still swept: %+v", res)
		}
	})
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 5)
	f.createJob(t, "plans/f.pdf")

	s := NewScheduler(SchedulerConfig{Worker: f.worker, Manager: f.manager, Interval: 10 * time.Millisecond, AutoMerge: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ticks := s.LastSweep(); ticks >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if last, ticks := s.LastSweep(); ticks < 2 || last.Errors != 0 {
		t.Errorf("LastSweep() = %+v, %d", last, ticks)
	}
}

func TestMergeOrFail_ClosedJob(t *testing.T) {
	f := newFixture(t, 5)
	job := f.createJob(t, "plans/g.pdf")
	if _, err := f.manager.FailJob(context.Background(), job.ID, "cancelled by estimator"); err != nil {
		t.Fatal(err)
	}
	outcome, err := MergeOrFail(context.Background(), f.manager, job.ID, slog.Default())
	if err != nil || outcome != OutcomeProcessed {
		t.Errorf("MergeOrFail() = %v, %v", outcome, err)
	}
}

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := Connect(server.ClientURL(), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestConsumer(t *testing.T) {
	server := startTestNATSServer(t)

	t.Run("request reply processes and merges", func(t *testing.T) {
		f := newFixture(t, 10)
		job := f.createJob(t, "plans/h.pdf")

		c, err := NewConsumer(ConsumerConfig{
			Conn: connect(t, server), Subject: "test.process.reply",
			Worker: f.worker, Manager: f.manager, AutoMerge: true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		defer c.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reply, err := Request(ctx, connect(t, server), "test.process.reply", ProcessRequest{JobID: job.ID, TimeoutMS: 60000})
		if err != nil {
			t.Fatalf("Request() error = %v", err)
		}
		if reply.Error != "" || reply.Result == nil || reply.Result.Completed != 2 || !reply.Merged {
			t.Errorf("reply = %+v (result %+v)", reply, reply.Result)
		}
		if got := f.job(t, job.ID); got.Status != store.JobComplete {
			t.Errorf("status = %s", got.Status)
		}
	})

	t.Run("invalid request gets an error reply", func(t *testing.T) {
		f := newFixture(t, 5)
		c, err := NewConsumer(ConsumerConfig{Conn: connect(t, server), Subject: "test.process.invalid", Worker: f.worker, Manager: f.manager})
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer c.Stop()

		nc := connect(t, server)
		msg, err := nc.Request("test.process.invalid", []byte(`{"max_batches": 2}`), 5*time.Second)
		if err != nil {
			t.Fatalf("Request() error = %v", err)
		}
		if !strings.Contains(string(msg.Data), "job_id is required") {
			t.Errorf("reply = %s", msg.Data)
		}
	})

	t.Run("unknown job reports the error", func(t *testing.T) {
		f := newFixture(t, 5)
		c, err := NewConsumer(ConsumerConfig{Conn: connect(t, server), Subject: "test.process.unknown", Worker: f.worker, Manager: f.manager})
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer c.Stop()

		reply, err := Request(context.Background(), connect(t, server), "test.process.unknown", ProcessRequest{JobID: "missing"})
		if err != nil {
			t.Fatal(err)
		}
		if reply.Error == "" {
			t.Error("expected an error for an unknown job")
		}
	})

	t.Run("published requests are shared by the queue group", func(t *testing.T) {
		f := newFixture(t, 5)
		var created []string
		for i := 0; i < 4; i++ {
			created = append(created, f.createJob(t, fmt.Sprintf("plans/q%d.pdf", i)).ID)
		}

		var consumers []*Consumer
		for i := 0; i < 2; i++ {
			c, err := NewConsumer(ConsumerConfig{
				Conn: connect(t, server), Subject: "test.process.queue",
				Worker: f.worker, Manager: f.manager, AutoMerge: true,
			})
			if err != nil {
				t.Fatal(err)
			}
			if err := c.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			consumers = append(consumers, c)
		}

		pub := connect(t, server)
		for _, id := range created {
			if err := Publish(pub, "test.process.queue", ProcessRequest{JobID: id}); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
		}
		if err := pub.Flush(); err != nil {
			t.Fatal(err)
		}

		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			merged := 0
			for _, id := range created {
				if f.job(t, id).Status == store.JobComplete {
					merged++
				}
			}
			if merged == len(created) {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		for _, c := range consumers {
			if err := c.Stop(); err != nil {
				t.Errorf("Stop() error = %v", err)
			}
		}
		for _, id := range created {
			if got := f.job(t, id); got.Status != store.JobComplete {
				t.Errorf("job %s status = %s", id, got.Status)
			}
		}
		if n := f.model.RequestCount(); n != int64(len(created)) {
			t.Errorf("model calls = %d, want %d (one per batch)", n, len(created))
		}
	})
}

func TestNewConsumer_Validation(t *testing.T) {
	if _, err := NewConsumer(ConsumerConfig{}); err == nil {
		t.Error("expected error without a connection")
	}
	server := startTestNATSServer(t)
	_, err := NewConsumer(ConsumerConfig{Conn: connect(t, server)})
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %v", err)
	}
}
