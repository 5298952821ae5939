package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
)

var (
	workerOnce      bool
	workerNoSweep   bool
	workerNoConsume bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process batches without serving HTTP",
	Long: `Run the background triggers against the configured store.

By default the worker sweeps every open job each worker.interval_seconds
and, when nats.enabled is set, also consumes process requests from the
queue group. Several workers can share one Postgres store; batch claims
never hand the same batch to two of them.

Examples:
  takeoff worker                  # scheduler plus NATS when enabled
  takeoff worker --once           # one sweep, print the summary, exit
  takeoff worker --no-sweep       # NATS consumer only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.Close()

		sched := svcs.AttachScheduler()
		if workerOnce {
			return api.Output(sched.Sweep(ctx))
		}

		svcs.Config.WatchConfig()
		if err := svcs.ConnectNATS(); err != nil {
			return err
		}

		consuming := false
		if svcs.NATS != nil && !workerNoConsume {
			consumer, err := svcs.NewConsumer()
			if err != nil {
				return err
			}
			if err := consumer.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := consumer.Stop(); err != nil {
					logger.Error("NATS consumer stop error", "error", err)
				}
			}()
			consuming = true
		}

		if workerNoSweep {
			if !consuming {
				return errors.New("nothing to do: --no-sweep needs nats.enabled")
			}
			<-ctx.Done()
			return nil
		}

		sched.Run(ctx)
		return nil
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "Run a single sweep and exit")
	workerCmd.Flags().BoolVar(&workerNoSweep, "no-sweep", false, "Do not run the periodic sweep")
	workerCmd.Flags().BoolVar(&workerNoConsume, "no-consume", false, "Do not consume NATS process requests")

	rootCmd.AddCommand(workerCmd)
}
