package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/takeoff/internal/takeoff"
)

const jobColumns = `id, plan_id, user_id, document_ref, mode, model_policy, batch_config, status,
	page_start, page_end, total_pages, page_count_estimated, total_batches, completed_batches,
	failed_batches, progress_percent, final_result, error_log, created_at, updated_at, started_at, completed_at`

const batchColumns = `id, job_id, batch_index, page_start, page_end, status, retry_count, result_jsonb,
	metrics, error_message, claim_token, claimed_at, created_at, updated_at, completed_at`

// SQLStore implements Store on database/sql for Postgres and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	closers []func()
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database. Call Migrate before use.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger}
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the backend in use.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Migrate creates tables and indexes if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range statements(s.dialect.schema()) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect, err)
		}
	}
	s.logger.Debug("schema migrated", "dialect", s.dialect)
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	err := s.db.Close()
	for _, c := range s.closers {
		c()
	}
	return err
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) CreateJob(ctx context.Context, job *Job, batches []*Batch) error {
	policy, err := json.Marshal(job.ModelPolicy)
	if err != nil {
		return fmt.Errorf("encode model policy: %w", err)
	}
	cfg, err := json.Marshal(job.BatchConfig)
	if err != nil {
		return fmt.Errorf("encode batch config: %w", err)
	}
	errorLog, err := encodeErrorLog(job.ErrorLog)
	if err != nil {
		return err
	}
	final, err := nullableJSON(job.FinalResult)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	d := s.dialect
	_, err = tx.ExecContext(ctx, d.rebind(`INSERT INTO takeoff_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID, job.PlanID, job.UserID, job.DocumentRef, string(job.Mode), string(policy), string(cfg), string(job.Status),
		job.PageStart, job.PageEnd, job.TotalPages, job.PageCountEstimated, job.TotalBatches, job.CompletedBatches,
		job.FailedBatches, job.ProgressPercent, final, errorLog,
		d.timeArg(job.CreatedAt), d.timeArg(job.UpdatedAt), d.nullTimeArg(job.StartedAt), d.nullTimeArg(job.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, d.rebind(`INSERT INTO takeoff_batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range batches {
		result, err := nullableJSON(b.Result)
		if err != nil {
			return err
		}
		metrics, err := nullableJSON(b.Metrics)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			b.ID, b.JobID, b.BatchIndex, b.PageStart, b.PageEnd, string(b.Status), b.RetryCount, result,
			metrics, b.ErrorMessage, b.ClaimToken, d.nullTimeArg(b.ClaimedAt),
			d.timeArg(b.CreatedAt), d.timeArg(b.UpdatedAt), d.nullTimeArg(b.CompletedAt))
		if err != nil {
			return fmt.Errorf("insert batch %d: %w", b.BatchIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+jobColumns+` FROM takeoff_jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLStore) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM takeoff_jobs`
	var args []any
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLStore) MarkJobRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := s.exec(ctx, `UPDATE takeoff_jobs SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(JobRunning), s.dialect.timeArg(at), s.dialect.timeArg(at), id, string(JobQueued))
	if err != nil {
		return false, fmt.Errorf("mark job %s running: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLStore) SaveJobProgress(ctx context.Context, id string, p Progress, at time.Time) (bool, error) {
	errorLog, err := encodeErrorLog(p.ErrorLog)
	if err != nil {
		return false, err
	}
	d := s.dialect
	n, err := s.exec(ctx, `UPDATE takeoff_jobs SET status = ?, completed_batches = ?, failed_batches = ?,
		progress_percent = ?, error_log = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(p.Status), p.CompletedBatches, p.FailedBatches, p.ProgressPercent, errorLog,
		d.nullTimeArg(p.CompletedAt), d.timeArg(at), id, string(JobComplete), string(JobFailed))
	if err != nil {
		return false, fmt.Errorf("save job %s progress: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLStore) CompleteJob(ctx context.Context, id string, job *Job, at time.Time) (bool, error) {
	final, err := nullableJSON(job.FinalResult)
	if err != nil {
		return false, err
	}
	errorLog, err := encodeErrorLog(job.ErrorLog)
	if err != nil {
		return false, err
	}
	d := s.dialect
	n, err := s.exec(ctx, `UPDATE takeoff_jobs SET status = ?, final_result = ?, progress_percent = 100,
		completed_batches = ?, failed_batches = ?, error_log = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status <> ?`,
		string(JobComplete), final, job.CompletedBatches, job.FailedBatches, errorLog,
		d.timeArg(at), d.timeArg(at), id, string(JobFailed))
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLStore) FailJob(ctx context.Context, id string, errorLog []ErrorEntry, at time.Time) (bool, error) {
	encoded, err := encodeErrorLog(errorLog)
	if err != nil {
		return false, err
	}
	d := s.dialect
	n, err := s.exec(ctx, `UPDATE takeoff_jobs SET status = ?, error_log = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(JobFailed), encoded, d.timeArg(at), d.timeArg(at), id, string(JobComplete), string(JobFailed))
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLStore) ListBatches(ctx context.Context, jobID string) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT `+batchColumns+` FROM takeoff_batches
		WHERE job_id = ? ORDER BY batch_index`), jobID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *SQLStore) ClaimBatch(ctx context.Context, jobID, token string, at time.Time) (*Batch, error) {
	d := s.dialect
	query := `UPDATE takeoff_batches SET status = ?, claim_token = ?, claimed_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM takeoff_batches
			WHERE job_id = ? AND status = ?
			ORDER BY batch_index
			LIMIT 1` + d.claimLock() + `
		) AND status = ?
		RETURNING ` + batchColumns

	row := s.db.QueryRowContext(ctx, d.rebind(query),
		string(BatchProcessing), token, d.timeArg(at), d.timeArg(at),
		jobID, string(BatchPending), string(BatchPending))
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim batch for job %s: %w", jobID, err)
	}
	return b, nil
}

func (s *SQLStore) UpdateBatch(ctx context.Context, b *Batch) error {
	result, err := nullableJSON(b.Result)
	if err != nil {
		return err
	}
	metrics, err := nullableJSON(b.Metrics)
	if err != nil {
		return err
	}
	// A write from the claim holder while still processing renews the lease.
	var renewed *time.Time
	if b.Status == BatchProcessing {
		renewed = &b.UpdatedAt
	}
	d := s.dialect
	n, err := s.exec(ctx, `UPDATE takeoff_batches SET status = ?, retry_count = ?, result_jsonb = ?, metrics = ?,
		error_message = ?, completed_at = ?, updated_at = ?, claimed_at = COALESCE(?, claimed_at)
		WHERE id = ? AND claim_token = ?`,
		string(b.Status), b.RetryCount, result, metrics, b.ErrorMessage,
		d.nullTimeArg(b.CompletedAt), d.timeArg(b.UpdatedAt), d.nullTimeArg(renewed), b.ID, b.ClaimToken)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", b.ID, err)
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

func (s *SQLStore) ReleaseStaleBatches(ctx context.Context, jobID string, cutoff, at time.Time) (int, error) {
	d := s.dialect
	n, err := s.exec(ctx, `UPDATE takeoff_batches SET status = ?, claim_token = '', claimed_at = NULL, updated_at = ?
		WHERE job_id = ? AND status = ? AND claimed_at < ?`,
		string(BatchPending), d.timeArg(at), jobID, string(BatchProcessing), d.timeArg(cutoff))
	if err != nil {
		return 0, fmt.Errorf("release stale batches: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) GetProviderState(ctx context.Context, provider string) (*ProviderState, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT provider, consecutive_429s, backoff_until, last_429_at, updated_at
		FROM provider_rate_limits WHERE provider = ?`), provider)

	var st ProviderState
	err := row.Scan(&st.Provider, &st.Consecutive429s, scanTime(&st.BackoffUntil), scanTime(&st.Last429At),
		requiredTime{&st.UpdatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get provider state %s: %w", provider, err)
	}
	return &st, nil
}

func (s *SQLStore) UpsertProviderState(ctx context.Context, st *ProviderState) error {
	d := s.dialect
	_, err := s.exec(ctx, `INSERT INTO provider_rate_limits (provider, consecutive_429s, backoff_until, last_429_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider) DO UPDATE SET
			consecutive_429s = excluded.consecutive_429s,
			backoff_until = excluded.backoff_until,
			last_429_at = excluded.last_429_at,
			updated_at = excluded.updated_at`,
		st.Provider, st.Consecutive429s, d.nullTimeArg(st.BackoffUntil), d.nullTimeArg(st.Last429At), d.timeArg(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert provider state %s: %w", st.Provider, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                      Job
		mode, status             string
		policy, cfg, final, elog []byte
	)
	err := row.Scan(&job.ID, &job.PlanID, &job.UserID, &job.DocumentRef, &mode, &policy, &cfg, &status,
		&job.PageStart, &job.PageEnd, &job.TotalPages, &job.PageCountEstimated, &job.TotalBatches, &job.CompletedBatches,
		&job.FailedBatches, &job.ProgressPercent, &final, &elog,
		requiredTime{&job.CreatedAt}, requiredTime{&job.UpdatedAt}, scanTime(&job.StartedAt), scanTime(&job.CompletedAt))
	if err != nil {
		return nil, err
	}
	job.Mode = takeoff.Mode(mode)
	job.Status = JobStatus(status)
	if err := json.Unmarshal(policy, &job.ModelPolicy); err != nil {
		return nil, fmt.Errorf("decode model policy: %w", err)
	}
	if err := json.Unmarshal(cfg, &job.BatchConfig); err != nil {
		return nil, fmt.Errorf("decode batch config: %w", err)
	}
	if len(final) > 0 {
		if err := json.Unmarshal(final, &job.FinalResult); err != nil {
			return nil, fmt.Errorf("decode final result: %w", err)
		}
	}
	job.ErrorLog = []ErrorEntry{}
	if len(elog) > 0 {
		if err := json.Unmarshal(elog, &job.ErrorLog); err != nil {
			return nil, fmt.Errorf("decode error log: %w", err)
		}
	}
	return &job, nil
}

func scanBatch(row scanner) (*Batch, error) {
	var (
		b               Batch
		status          string
		result, metrics []byte
	)
	err := row.Scan(&b.ID, &b.JobID, &b.BatchIndex, &b.PageStart, &b.PageEnd, &status, &b.RetryCount, &result,
		&metrics, &b.ErrorMessage, &b.ClaimToken, scanTime(&b.ClaimedAt),
		requiredTime{&b.CreatedAt}, requiredTime{&b.UpdatedAt}, scanTime(&b.CompletedAt))
	if err != nil {
		return nil, err
	}
	b.Status = BatchStatus(status)
	if len(result) > 0 {
		if err := json.Unmarshal(result, &b.Result); err != nil {
			return nil, fmt.Errorf("decode batch result: %w", err)
		}
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &b.Metrics); err != nil {
			return nil, fmt.Errorf("decode batch metrics: %w", err)
		}
	}
	return &b, nil
}

// nullableJSON encodes v as a JSON string, or SQL NULL for nil pointers.
func nullableJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return string(data), nil
}

func encodeErrorLog(entries []ErrorEntry) (string, error) {
	if entries == nil {
		entries = []ErrorEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode error log: %w", err)
	}
	return string(data), nil
}
