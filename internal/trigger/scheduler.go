// Package trigger drives ProcessBatches from outside a request: a periodic
// scheduler that sweeps open jobs, and a NATS consumer that processes jobs
// on demand.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/store"
)

// Trigger names recorded on takeoff_process_invocations_total.
const (
	TriggerScheduler = "scheduler"
	TriggerNATS      = "nats"
	TriggerHTTP      = "http"
	TriggerCLI       = "cli"
)

// openStatuses are the job states the scheduler sweeps. Complete jobs are
// listed too: a job whose batches all completed is complete before it has
// been merged.
var openStatuses = []store.JobStatus{store.JobQueued, store.JobRunning, store.JobPartial, store.JobComplete}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Worker  *jobs.Worker
	Manager *jobs.Manager

	// Interval between sweeps (default 10s).
	Interval time.Duration

	// MaxBatches caps the batches claimed per job per sweep; 0 uses the
	// job's concurrency.
	MaxBatches int

	// Budget stops new batches from starting in one invocation.
	Budget time.Duration

	// AutoMerge merges a job once every batch is terminal.
	AutoMerge bool

	Metrics *metrics.Collectors
	Logger  *slog.Logger
}

// Scheduler periodically invokes ProcessBatches for every open job.
type Scheduler struct {
	worker     *jobs.Worker
	manager    *jobs.Manager
	interval   time.Duration
	maxBatches int
	budget     time.Duration
	autoMerge  bool
	metrics    *metrics.Collectors
	logger     *slog.Logger

	mu sync.RWMutex
	// ticks counts completed sweeps.
	ticks int
	last  SweepResult
}

// SweepResult summarizes one pass over the open jobs.
type SweepResult struct {
	At        time.Time `json:"at"`
	Jobs      int       `json:"jobs"`
	Processed int       `json:"processed"`
	Merged    int       `json:"merged"`
	Failed    int       `json:"failed"`
	Errors    int       `json:"errors"`
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		worker:     cfg.Worker,
		manager:    cfg.Manager,
		interval:   cfg.Interval,
		maxBatches: cfg.MaxBatches,
		budget:     cfg.Budget,
		autoMerge:  cfg.AutoMerge,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "scheduler"),
	}
}

// Run sweeps once immediately and then on every interval until ctx is
// cancelled. Call this in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval, "auto_merge", s.autoMerge)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sweep(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
		}
	}
}

// Sweep processes every open job once. Jobs are handled one after another;
// a job's batches run concurrently inside ProcessBatches.
func (s *Scheduler) Sweep(ctx context.Context) SweepResult {
	res := SweepResult{At: time.Now().UTC()}

	listed, err := s.manager.ListJobs(ctx, store.JobFilter{Statuses: openStatuses})
	if err != nil {
		s.logger.Error("list open jobs", "error", err)
		res.Errors++
		s.record(res)
		return res
	}
	open := listed[:0]
	for _, job := range listed {
		if job.Status == store.JobComplete && (job.FinalResult != nil || !s.autoMerge) {
			continue
		}
		open = append(open, job)
	}
	res.Jobs = len(open)

	for _, job := range open {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.handle(ctx, job.ID)
		if err != nil {
			res.Errors++
			s.logger.Error("sweep job", "job_id", job.ID, "error", err)
			continue
		}
		res.Processed++
		switch outcome {
		case OutcomeMerged:
			res.Merged++
		case OutcomeFailed:
			res.Failed++
		}
	}

	if res.Jobs > 0 {
		s.logger.Debug("sweep finished", "jobs", res.Jobs, "merged", res.Merged, "failed", res.Failed, "errors", res.Errors)
	}
	s.record(res)
	return res
}

// Outcome is what a trigger did with a job.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeMerged
	OutcomeFailed
)

func (s *Scheduler) handle(ctx context.Context, jobID string) (Outcome, error) {
	s.metrics.ObserveInvocation(TriggerScheduler)
	pr, err := s.worker.ProcessBatches(ctx, jobID, s.maxBatches, s.budget)
	if err != nil {
		if errors.Is(err, jobs.ErrJobClosed) {
			return OutcomeProcessed, nil
		}
		return OutcomeProcessed, err
	}
	if !s.autoMerge || !pr.Done() {
		return OutcomeProcessed, nil
	}
	return MergeOrFail(ctx, s.manager, jobID, s.logger)
}

// MergeOrFail merges a job whose batches are all terminal. When the merge
// can never succeed (no batch completed, or full coverage is required and a
// batch failed) the job is marked failed so it leaves the open set.
func MergeOrFail(ctx context.Context, m *jobs.Manager, jobID string, logger *slog.Logger) (Outcome, error) {
	job, err := m.MergeJobResults(ctx, jobID, jobs.MergeOptions{})
	switch {
	case err == nil:
		logger.Info("job merged", "job_id", jobID, "items", len(job.FinalResult.Items),
			"batches_merged", job.FinalResult.Coverage.BatchesMerged, "batches_total", job.FinalResult.Coverage.BatchesTotal)
		return OutcomeMerged, nil
	case errors.Is(err, jobs.ErrNoCompletedBatches), errors.Is(err, jobs.ErrIncompleteCoverage):
		if _, ferr := m.FailJob(ctx, jobID, err.Error()); ferr != nil {
			return OutcomeProcessed, ferr
		}
		logger.Warn("job failed at merge", "job_id", jobID, "reason", err)
		return OutcomeFailed, nil
	case errors.Is(err, jobs.ErrJobClosed), errors.Is(err, jobs.ErrBatchesUnfinished):
		return OutcomeProcessed, nil
	default:
		return OutcomeProcessed, err
	}
}

func (s *Scheduler) record(res SweepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	s.last = res
}

// LastSweep returns the most recent sweep and how many sweeps have run.
func (s *Scheduler) LastSweep() (SweepResult, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.ticks
}
