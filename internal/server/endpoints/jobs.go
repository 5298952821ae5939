package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// writeJobError maps job errors to HTTP statuses.
func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case jobs.IsNotFound(err):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrJobClosed),
		errors.Is(err, jobs.ErrBatchesUnfinished),
		errors.Is(err, jobs.ErrNoCompletedBatches),
		errors.Is(err, jobs.ErrIncompleteCoverage):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// CreateJobEndpoint handles POST /api/jobs.
type CreateJobEndpoint struct{}

func (e *CreateJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs", e.handler
}

func (e *CreateJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Create a job
//	@Description	Size the document, partition it into batches and persist the job
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			request	body		jobs.JobConfig	true	"Job request"
//	@Success		201		{object}	store.Job
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs [post]
func (e *CreateJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req jobs.JobConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.DocumentRef) == "" {
		writeError(w, http.StatusBadRequest, "pdf_ref is required")
		return
	}

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	job, err := jm.CreateJob(r.Context(), req)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (e *CreateJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		req   jobs.JobConfig
		flags JobFlags
	)
	cmd := &cobra.Command{
		Use:   "create <pdf-ref>",
		Short: "Create a takeoff job",
		Long: `Create a job for a plan document. The reference is a path under the
server's documents directory or an http(s) URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.DocumentRef = args[0]
			if err := flags.Apply(&req); err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var job store.Job
			if err := client.Post(cmd.Context(), "/api/jobs", req, &job); err != nil {
				return err
			}
			return api.Output(job)
		},
	}
	cmd.Flags().StringVar(&req.PlanID, "plan", "", "Plan id")
	cmd.Flags().StringVar(&req.UserID, "user", "", "User id")
	flags.Register(cmd)
	return cmd
}

// JobFlags are the CLI flags shared by the local and API create commands.
type JobFlags struct {
	Mode        string
	StartPage   int
	EndPage     int
	Primary     string
	Fallbacks   []string
	NoFallback  bool
	MaxTokens   int
	Temperature float64
	BatchSize   int
	Concurrency int
	MaxRetries  int
	TimeoutSec  int

	cmd *cobra.Command
}

// Register adds the flags to cmd.
func (f *JobFlags) Register(cmd *cobra.Command) {
	f.cmd = cmd
	fl := cmd.Flags()
	fl.StringVar(&f.Mode, "mode", "", "takeoff, quality_analysis or both (default from config)")
	fl.IntVar(&f.StartPage, "start", 0, "First page to analyze")
	fl.IntVar(&f.EndPage, "end", 0, "Last page to analyze (skips page count discovery)")
	fl.StringVar(&f.Primary, "model", "", "Primary model as provider:model")
	fl.StringSliceVar(&f.Fallbacks, "fallback", nil, "Fallback model (repeatable)")
	fl.BoolVar(&f.NoFallback, "no-fallback", false, "Disable fallback models")
	fl.IntVar(&f.MaxTokens, "max-tokens", 0, "Completion token limit")
	fl.Float64Var(&f.Temperature, "temperature", 0, "Sampling temperature")
	fl.IntVar(&f.BatchSize, "batch-size", 0, "Pages per batch")
	fl.IntVar(&f.Concurrency, "concurrency", 0, "Batches per invocation")
	fl.IntVar(&f.MaxRetries, "max-retries", 0, "Attempts per batch")
	fl.IntVar(&f.TimeoutSec, "timeout", 0, "Per-call model timeout in seconds")
}

// Apply copies set flags into req.
func (f *JobFlags) Apply(req *jobs.JobConfig) error {
	if f.NoFallback && len(f.Fallbacks) > 0 {
		return fmt.Errorf("--fallback and --no-fallback are mutually exclusive")
	}
	req.Mode = f.Mode
	if f.StartPage > 0 || f.EndPage > 0 {
		req.Pages = &jobs.PageSelection{Start: f.StartPage, End: f.EndPage}
	}

	var policy jobs.PolicyOverride
	policySet := false
	if f.Primary != "" {
		policy.Primary = f.Primary
		policySet = true
	}
	if f.NoFallback {
		policy.Fallbacks = []string{}
		policySet = true
	} else if len(f.Fallbacks) > 0 {
		policy.Fallbacks = f.Fallbacks
		policySet = true
	}
	if f.MaxTokens > 0 {
		policy.MaxTokens = f.MaxTokens
		policySet = true
	}
	if f.cmd != nil && f.cmd.Flags().Changed("temperature") {
		t := f.Temperature
		policy.Temperature = &t
		policySet = true
	}
	if policySet {
		req.ModelPolicy = &policy
	}

	batch := jobs.BatchOverride{
		BatchSize:      f.BatchSize,
		Concurrency:    f.Concurrency,
		MaxRetries:     f.MaxRetries,
		TimeoutSeconds: f.TimeoutSec,
	}
	if batch != (jobs.BatchOverride{}) {
		req.BatchConfig = &batch
	}
	return nil
}

// ListJobsResponse is the response for listing jobs.
type ListJobsResponse struct {
	Jobs []*store.Job `json:"jobs"`
}

// ListJobsEndpoint handles GET /api/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs", e.handler
}

func (e *ListJobsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List jobs
//	@Description	List jobs, newest first, optionally filtered by status
//	@Tags			jobs
//	@Produce		json
//	@Param			status	query		string	false	"Comma separated statuses"
//	@Param			limit	query		int		false	"Maximum number of jobs"
//	@Success		200		{object}	ListJobsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs [get]
func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	filter, err := ParseJobFilter(r.URL.Query().Get("status"), r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := jm.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*store.Job{}
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: list})
}

// ParseJobFilter builds a filter from a comma separated status list and a
// limit. Empty strings mean no constraint.
func ParseJobFilter(statuses, limit string) (store.JobFilter, error) {
	var f store.JobFilter
	for _, s := range strings.Split(statuses, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		st := store.JobStatus(s)
		switch st {
		case store.JobQueued, store.JobRunning, store.JobPartial, store.JobComplete, store.JobFailed:
		default:
			return f, fmt.Errorf("unknown status %q", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", limit)
		}
		f.Limit = n
	}
	return f, nil
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/jobs"
			params := url.Values{}
			if status != "" {
				params.Set("status", status)
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			client := api.NewClient(getServerURL())
			var resp ListJobsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (comma separated)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs")
	return cmd
}
