package store

import (
	"time"

	"github.com/jackzampolin/takeoff/internal/takeoff"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobPartial  JobStatus = "partial"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// Terminal reports whether no further progress updates apply.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Terminal reports whether the batch has finished for good.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// ModelPolicy selects the models a job calls.
type ModelPolicy struct {
	Primary     string   `json:"primary" yaml:"primary" mapstructure:"primary"`
	Fallbacks   []string `json:"fallbacks" yaml:"fallbacks" mapstructure:"fallbacks"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64  `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
}

// BatchConfig controls how a job is split and processed.
type BatchConfig struct {
	BatchSize      int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency    int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`
	MaxRetries     int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSeconds int `json:"timeout_s" yaml:"timeout_s" mapstructure:"timeout_s"`
}

// Timeout returns the per-call model timeout.
func (c BatchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ErrorEntry records why a batch failed.
type ErrorEntry struct {
	BatchIndex int       `json:"batch_index"`
	PageStart  int       `json:"page_start"`
	PageEnd    int       `json:"page_end"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// Job is one analysis request over a page range of a document.
type Job struct {
	ID                 string               `json:"id"`
	PlanID             string               `json:"plan_id,omitempty"`
	UserID             string               `json:"user_id,omitempty"`
	DocumentRef        string               `json:"document_ref"`
	Mode               takeoff.Mode         `json:"mode"`
	ModelPolicy        ModelPolicy          `json:"model_policy"`
	BatchConfig        BatchConfig          `json:"batch_config"`
	Status             JobStatus            `json:"status"`
	PageStart          int                  `json:"page_start"`
	PageEnd            int                  `json:"page_end"`
	TotalPages         int                  `json:"total_pages"`
	PageCountEstimated bool                 `json:"page_count_estimated"`
	TotalBatches       int                  `json:"total_batches"`
	CompletedBatches   int                  `json:"completed_batches"`
	FailedBatches      int                  `json:"failed_batches"`
	ProgressPercent    int                  `json:"progress_percent"`
	FinalResult        *takeoff.FinalResult `json:"final_result,omitempty"`
	ErrorLog           []ErrorEntry         `json:"error_log"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	StartedAt          *time.Time           `json:"started_at,omitempty"`
	CompletedAt        *time.Time           `json:"completed_at,omitempty"`
}

// BatchMetrics describes the attempt that produced a batch's final state.
type BatchMetrics struct {
	TokensUsed       int     `json:"tokens_used"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	LatencyMS        int64   `json:"latency_ms"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Attempt          int     `json:"attempt"`
	UsedFallback     bool    `json:"used_fallback"`
	RepairStrategy   string  `json:"repair_strategy,omitempty"`
	SchemaIssues     int     `json:"schema_issues,omitempty"`
	PagesWithImages  int     `json:"pages_with_images"`
	PagesWithText    int     `json:"pages_with_text"`
}

// Batch is a contiguous page span of a job.
type Batch struct {
	ID           string          `json:"id"`
	JobID        string          `json:"job_id"`
	BatchIndex   int             `json:"batch_index"`
	PageStart    int             `json:"page_start"`
	PageEnd      int             `json:"page_end"`
	Status       BatchStatus     `json:"status"`
	RetryCount   int             `json:"retry_count"`
	Result       *takeoff.Result `json:"result_jsonb,omitempty"`
	Metrics      *BatchMetrics   `json:"metrics,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ClaimToken   string          `json:"-"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Pages returns the batch's page span.
func (b *Batch) Pages() takeoff.PageRange {
	return takeoff.PageRange{Start: b.PageStart, End: b.PageEnd}
}

// ProviderState is the persisted rate-limit record for one provider.
type ProviderState struct {
	Provider        string     `json:"provider"`
	Consecutive429s int        `json:"consecutive_429s"`
	BackoffUntil    *time.Time `json:"backoff_until,omitempty"`
	Last429At       *time.Time `json:"last_429_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Progress is the derived job state written by progress updates.
type Progress struct {
	Status           JobStatus
	CompletedBatches int
	FailedBatches    int
	ProgressPercent  int
	ErrorLog         []ErrorEntry
	CompletedAt      *time.Time
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Statuses []JobStatus
	Limit    int
}
