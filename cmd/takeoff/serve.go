package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/server"
)

var (
	serveHost      string
	servePort      string
	serveScheduler bool
	serveConsume   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the takeoff server",
	Long: `Start the takeoff HTTP server.

The server exposes job creation, batch processing, merge and result
retrieval, provider backoff state, Prometheus metrics and an OpenAPI
document at /swagger.json.

With --scheduler the server also sweeps open jobs every
worker.interval_seconds. With --consume (and nats.enabled) it takes
process requests from the NATS queue group.

Examples:
  takeoff serve                          # Start on the configured port
  takeoff serve --port 3000              # Start on custom port
  takeoff serve --host 0.0.0.0 --scheduler`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		svcs, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svcs.Close()

		// Provider settings reload on config file edits.
		svcs.Config.WatchConfig()

		if err := svcs.ConnectNATS(); err != nil {
			return err
		}

		cfg := svcs.Config.Get().Server
		if !cmd.Flags().Changed("host") && cfg.Host != "" {
			serveHost = cfg.Host
		}
		if !cmd.Flags().Changed("port") && cfg.Port != "" {
			servePort = cfg.Port
		}

		srv, err := server.New(server.Config{
			Host:      serveHost,
			Port:      servePort,
			Services:  svcs,
			Scheduler: serveScheduler,
			Consume:   serveConsume,
			Logger:    logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().BoolVar(&serveScheduler, "scheduler", false, "Sweep open jobs in this process")
	serveCmd.Flags().BoolVar(&serveConsume, "consume", false, "Consume NATS process requests in this process")

	rootCmd.AddCommand(serveCmd)
}
