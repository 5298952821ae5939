// Package store persists jobs, batches and provider rate-limit state.
//
// Two implementations are provided: SQLStore (Postgres through pgx, or an
// embedded SQLite database) and MemoryStore for tests and one-shot CLI runs.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClaimLost is returned when a batch update is rejected because the
	// caller no longer holds the batch's claim.
	ErrClaimLost = errors.New("batch claim lost")
)

// Store is the persistence interface used by the orchestrator.
type Store interface {
	// CreateJob writes a job and its batches atomically.
	CreateJob(ctx context.Context, job *Job, batches []*Batch) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// MarkJobRunning moves a queued job to running. It is a no-op for any
	// other status and reports whether the transition happened.
	MarkJobRunning(ctx context.Context, id string, at time.Time) (bool, error)

	// SaveJobProgress writes derived progress unless the job is already
	// complete or failed. It reports whether the row was updated.
	SaveJobProgress(ctx context.Context, id string, p Progress, at time.Time) (bool, error)

	// CompleteJob stores the merged result and marks the job complete.
	// Failed jobs are left untouched and false is returned.
	CompleteJob(ctx context.Context, id string, job *Job, at time.Time) (bool, error)

	// FailJob marks a job failed unless it already completed.
	FailJob(ctx context.Context, id string, errorLog []ErrorEntry, at time.Time) (bool, error)

	// ListBatches returns a job's batches ordered by batch index.
	ListBatches(ctx context.Context, jobID string) ([]*Batch, error)

	// ClaimBatch atomically moves the lowest-index pending batch of a job to
	// processing and returns it with a fresh claim token. It returns nil when
	// nothing is claimable.
	ClaimBatch(ctx context.Context, jobID, token string, at time.Time) (*Batch, error)

	// UpdateBatch writes a claimed batch. The write only applies while
	// b.ClaimToken still matches; otherwise ErrClaimLost is returned. A write
	// that leaves the batch processing renews its lease (claimed_at is set to
	// b.UpdatedAt).
	UpdateBatch(ctx context.Context, b *Batch) error

	// ReleaseStaleBatches returns processing batches claimed before cutoff
	// to pending.
	ReleaseStaleBatches(ctx context.Context, jobID string, cutoff, at time.Time) (int, error)

	// GetProviderState returns nil when the provider has no record.
	GetProviderState(ctx context.Context, provider string) (*ProviderState, error)
	UpsertProviderState(ctx context.Context, st *ProviderState) error

	Ping(ctx context.Context) error
	Close() error
}
