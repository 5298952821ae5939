package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/svcctx"
	"github.com/jackzampolin/takeoff/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
	logJSON      bool
)

var rootCmd = &cobra.Command{
	Use:   "takeoff",
	Short: "Batch construction takeoff and plan quality analysis",
	Long: `Takeoff turns construction plan PDFs into quantity takeoffs and quality
analyses using LLMs.

A job splits a document into page batches. Workers claim batches, call the
configured models with rate-limit backoff and fallback, repair their JSON
output and store the result per batch. Once every batch is done the results
are merged into one takeoff.

  takeoff serve                  # HTTP API, optionally with the scheduler
  takeoff worker                 # scheduler and NATS consumer without HTTP
  takeoff jobs create plan.pdf   # work against the local store directly
  takeoff api jobs list          # call a running server`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.takeoff/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "takeoff home directory (default: ~/.takeoff)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", string(api.DefaultOutput), "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn or error",
	)
	rootCmd.PersistentFlags().BoolVar(
		&logJSON, "log-json", false, "log as JSON",
	)

	// Set output format and logger before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		api.SetOutputFormat(outputFormat)
		logger, err := newLogger(logLevel, logJSON)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	}

	rootCmd.AddCommand(versionCmd)
}

// newLogger writes to stderr so command output on stdout stays parseable.
func newLogger(level string, json bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// getHome returns the home directory, creating it if needed.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// loadConfig reads --config, else config.yaml in the working or home directory.
func loadConfig(h *home.Dir) (*config.Manager, error) {
	cm, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, err
	}
	cm.SetLogger(slog.Default())
	if err := cm.Get().Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cm, nil
}

// openServices opens the store and builds the job services. Callers Close
// the result.
func openServices(ctx context.Context) (*svcctx.Services, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	cm, err := loadConfig(h)
	if err != nil {
		return nil, err
	}
	return svcctx.Open(ctx, svcctx.Options{Config: cm, Home: h, Logger: slog.Default()})
}
