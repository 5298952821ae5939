package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/svcctx"
	"github.com/jackzampolin/takeoff/internal/watch"
)

var (
	watchInterval time.Duration
	watchExit     bool
	watchLocal    bool
	watchServer   string
)

var watchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Follow a job's batches in a live terminal view",
	Long: `Follow a job's progress, batch states, retries, fallbacks and cost.

By default the view polls a running server; --local reads the configured
store directly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fetch := watch.HTTPFetcher(api.NewClient(watchServer))
		if watchLocal {
			svcs, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svcs.Close()
			fetch = localFetcher(svcs)
		}
		return watch.Run(ctx, args[0], fetch, watchInterval, watchExit)
	},
}

func localFetcher(svcs *svcctx.Services) watch.Fetcher {
	return func(ctx context.Context, jobID string) (*watch.Snapshot, error) {
		job, err := svcs.JobManager.GetJobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		batches, err := svcs.JobManager.ListBatches(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return &watch.Snapshot{Job: job, Usage: metrics.Summarize(batches), Batches: batches}, nil
	}
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Poll interval")
	watchCmd.Flags().BoolVar(&watchExit, "exit", false, "Exit once the job is merged or failed")
	watchCmd.Flags().BoolVar(&watchLocal, "local", false, "Read the local store instead of a server")
	watchCmd.Flags().StringVar(&watchServer, "server", defaultServerURL(), "Server URL (env: "+serverEnv+")")

	rootCmd.AddCommand(watchCmd)
}
