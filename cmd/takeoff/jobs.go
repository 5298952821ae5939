package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/server/endpoints"
	"github.com/jackzampolin/takeoff/internal/svcctx"
	"github.com/jackzampolin/takeoff/internal/trigger"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Work with jobs in the local store",
	Long: `Job commands open the configured store directly, without a server.

Use them for single-machine runs or scripts. 'takeoff api jobs ...' offers
the same operations against a running server.

Examples:
  takeoff jobs create plans/tower.pdf --start 1 --end 40
  takeoff jobs process <id> --until-done --merge
  takeoff jobs result <id> -f takeoff.json`,
}

// withServices opens the store for one command.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svcs *svcctx.Services) error) error {
	ctx := cmd.Context()
	svcs, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer svcs.Close()
	return fn(ctx, svcs)
}

func jobsCreateCmd() *cobra.Command {
	var (
		req   jobs.JobConfig
		flags endpoints.JobFlags
	)
	cmd := &cobra.Command{
		Use:   "create <pdf-ref>",
		Short: "Create a job",
		Long: `Create a job for a plan document. The reference is a path under
storage.documents_dir or an http(s) URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.DocumentRef = args[0]
			if err := flags.Apply(&req); err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, svcs *svcctx.Services) error {
				job, err := svcs.JobManager.CreateJob(ctx, req)
				if err != nil {
					return err
				}
				return api.Output(job)
			})
		},
	}
	cmd.Flags().StringVar(&req.PlanID, "plan", "", "Plan id")
	cmd.Flags().StringVar(&req.UserID, "user", "", "User id")
	flags.Register(cmd)
	return cmd
}

func jobsListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := endpoints.ParseJobFilter(status, fmt.Sprint(limit))
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, svcs *svcctx.Services) error {
				list, err := svcs.JobManager.ListJobs(ctx, filter)
				if err != nil {
					return err
				}
				return api.Output(endpoints.ListJobsResponse{Jobs: list})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Comma separated statuses")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs (0 = all)")
	return cmd
}

func jobsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show a job's progress and usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *svcctx.Services) error {
				job, err := svcs.JobManager.GetJobStatus(ctx, args[0])
				if err != nil {
					return err
				}
				batches, err := svcs.JobManager.ListBatches(ctx, args[0])
				if err != nil {
					return err
				}
				return api.Output(endpoints.GetJobResponse{Job: job, Usage: metrics.Summarize(batches)})
			})
		},
	}
}

func jobsBatchesCmd() *cobra.Command {
	var table bool
	cmd := &cobra.Command{
		Use:   "batches <id>",
		Short: "List a job's batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *svcctx.Services) error {
				batches, err := svcs.JobManager.ListBatches(ctx, args[0])
				if err != nil {
					return err
				}
				if table {
					return endpoints.PrintBatchTable(batches)
				}
				return api.Output(endpoints.ListBatchesResponse{JobID: args[0], Batches: batches})
			})
		},
	}
	cmd.Flags().BoolVar(&table, "table", false, "Print a compact table instead of structured output")
	return cmd
}

func jobsProcessCmd() *cobra.Command {
	var (
		maxBatches int
		budget     time.Duration
		merge      bool
		untilDone  bool
	)
	cmd := &cobra.Command{
		Use:   "process <id>",
		Short: "Run worker invocations for a job",
		Long: `Claim and process pending batches of a job. Without --until-done this
is a single invocation bounded by --max-batches and --budget.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withServices(cmd, func(ctx context.Context, svcs *svcctx.Services) error {
				wc := svcs.Config.Get().Worker
				if budget == 0 {
					budget = wc.Budget()
				}
				if !cmd.Flags().Changed("merge") {
					merge = wc.AutoMerge
				}
				logger := svcs.Logger.With("job_id", id)

				var (
					res *jobs.ProcessResult
					err error
				)
				for {
					svcs.Metrics.ObserveInvocation(trigger.TriggerCLI)
					res, err = svcs.Worker.ProcessBatches(ctx, id, maxBatches, budget)
					if err != nil {
						return err
					}
					logger.Info("invocation finished", "completed", res.Completed, "failed", res.Failed,
						"pending", res.Pending, "progress", res.ProgressPercent)
					if !untilDone || res.Done() || ctx.Err() != nil {
						break
					}
					if res.Claimed == 0 {
						// Everything left is backing off or held by another worker.
						select {
						case <-ctx.Done():
						case <-time.After(time.Second):
						}
					}
				}

				resp := endpoints.ProcessResponse{Result: res}
				if merge && res.Done() {
					outcome, err := trigger.MergeOrFail(ctx, svcs.JobManager, id, logger)
					if err != nil {
						return err
					}
					resp.Merged = outcome == trigger.OutcomeMerged
					resp.Failed = outcome == trigger.OutcomeFailed
				}
				return api.Output(resp)
			})
		},
	}
	cmd.Flags().IntVar(&maxBatches, "max-batches", 0, "Batches to claim per invocation (default: job concurrency)")
	cmd.Flags().DurationVar(&budget, "budget", 0, "Stop starting batches after this long (default: worker budget)")
	cmd.Flags().BoolVar(&merge, "merge", false, "Merge when every batch is terminal (default: worker.auto_merge)")
	cmd.Flags().BoolVar(&untilDone, "until-done", false, "Repeat invocations until no batch is pending or processing")
	return cmd
}

func jobsMergeCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "merge <id>",
		Short: "Merge completed batches into the final result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *svcctx.Services) error {
				job, err := svcs.JobManager.MergeJobResults(ctx, args[0], jobs.MergeOptions{RequireFullCoverage: full})
				if err != nil {
					return err
				}
				return api.Output(job.FinalResult)
			})
		},
	}
	cmd.Flags().BoolVar(&full, "require-full-coverage", false, "Refuse to merge unless every batch completed")
	return cmd
}

func jobsResultCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "result <id>",
		Short: "Print a merged job's final result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *svcctx.Services) error {
				result, err := svcs.JobManager.GetJobResult(ctx, args[0])
				if err != nil {
					return err
				}
				if output != "" {
					return api.OutputToFile(result, output)
				}
				return api.Output(result)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "file", "f", "", "Write the result to a .json or .yaml file")
	return cmd
}

func jobsFailCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Mark a job failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svcs *svcctx.Services) error {
				job, err := svcs.JobManager.FailJob(ctx, args[0], reason)
				if err != nil {
					return err
				}
				return api.Output(job)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the job is abandoned")
	return cmd
}

func init() {
	jobsCmd.AddCommand(
		jobsCreateCmd(),
		jobsListCmd(),
		jobsStatusCmd(),
		jobsBatchesCmd(),
		jobsProcessCmd(),
		jobsMergeCmd(),
		jobsResultCmd(),
		jobsFailCmd(),
	)
	rootCmd.AddCommand(jobsCmd)
}
