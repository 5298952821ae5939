package svcctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/pages"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/trigger"
)

// Options configures Open.
type Options struct {
	// Config is required. The provider registry follows its hot reloads.
	Config *config.Manager
	Home   *home.Dir
	Logger *slog.Logger

	// Store overrides the configured database (tests).
	Store store.Store

	// Extractor overrides the PDF extractor (tests).
	Extractor pages.Extractor
}

// Open builds the job store, provider registry, page loader, job manager
// and batch worker from configuration. Call Close when done.
func Open(ctx context.Context, opts Options) (*Services, error) {
	if opts.Config == nil {
		return nil, errors.New("config manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, err
		}
		opts.Home = h
	}
	cfg := opts.Config.Get()
	logger := opts.Logger

	st := opts.Store
	if st == nil {
		var err error
		st, err = OpenStore(ctx, cfg, opts.Home, logger)
		if err != nil {
			return nil, err
		}
	}

	registry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig())
	registry.SetLogger(logger)
	opts.Config.OnChange(func(c *config.Config) {
		registry.Reload(c.ToProviderRegistryConfig())
		logger.Info("provider registry reloaded from config", "providers", registry.ListLLM())
	})

	docsDir := cfg.Storage.DocumentsDir
	if docsDir == "" {
		docsDir = opts.Home.DocumentsDir()
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = pages.NewPDFExtractor(cfg.Storage.RenderDPI)
	}
	loader := pages.NewLoader(pages.LoaderConfig{
		Documents:         pages.NewRouter(docsDir, time.Duration(cfg.Storage.HTTPTimeoutSeconds)*time.Second),
		Extractor:         extractor,
		FallbackPageCount: cfg.Defaults.FallbackPageCount,
		Logger:            logger.With("component", "pages"),
	})

	collectors := metrics.NewCollectors()

	manager := jobs.NewManager(jobs.ManagerConfig{
		Store:    st,
		Pages:    loader,
		Defaults: cfg.JobDefaults(),
		Metrics:  collectors,
		Logger:   logger.With("component", "jobs"),
	})
	limiter := jobs.NewProviderLimiter(jobs.LimiterConfig{
		Store:   st,
		Metrics: collectors,
		Logger:  logger.With("component", "limiter"),
	})
	worker := jobs.NewWorker(jobs.WorkerConfig{
		Store:      st,
		Manager:    manager,
		Pages:      loader,
		Models:     registry,
		Limiter:    limiter,
		Metrics:    collectors,
		Logger:     logger.With("component", "worker"),
		StaleAfter: cfg.Worker.StaleAfter(),
	})

	return &Services{
		Store:      st,
		JobManager: manager,
		Worker:     worker,
		Limiter:    limiter,
		Registry:   registry,
		Config:     opts.Config,
		Logger:     logger,
		Home:       opts.Home,
		Metrics:    collectors,
	}, nil
}

// OpenStore opens the configured job store.
func OpenStore(ctx context.Context, cfg *config.Config, h *home.Dir, logger *slog.Logger) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory job store; jobs are lost on exit")
		return store.NewMemoryStore(), nil
	case config.DriverPostgres:
		s, err := store.OpenPostgres(ctx, cfg.PostgresConfig(), logger.With("component", "store"))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.DriverSQLite, "":
		path := cfg.Database.Path
		if path == "" {
			path = h.DatabasePath()
		}
		s, err := store.OpenSQLite(ctx, path, logger.With("component", "store"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// Close releases the NATS connection and the store.
func (s *Services) Close() error {
	if s.NATS != nil {
		if err := s.NATS.Drain(); err != nil {
			s.NATS.Close()
		}
	}
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

// ConnectNATS dials the configured NATS server when nats.enabled is set.
// It is a no-op otherwise or when already connected.
func (s *Services) ConnectNATS() error {
	cfg := s.Config.Get().NATS
	if !cfg.Enabled || s.NATS != nil {
		return nil
	}
	nc, err := trigger.Connect(cfg.URL, s.Logger.With("component", "nats"))
	if err != nil {
		return err
	}
	s.NATS = nc
	s.NATSSubject = cfg.Subject
	if s.NATSSubject == "" {
		s.NATSSubject = trigger.DefaultSubject
	}
	return nil
}

// AttachScheduler builds a scheduler from the worker settings and records
// it so /status can report its sweeps. The caller runs it.
func (s *Services) AttachScheduler() *trigger.Scheduler {
	wc := s.Config.Get().Worker
	s.Scheduler = trigger.NewScheduler(trigger.SchedulerConfig{
		Worker:     s.Worker,
		Manager:    s.JobManager,
		Interval:   wc.Interval(),
		MaxBatches: wc.MaxBatches,
		Budget:     wc.Budget(),
		AutoMerge:  wc.AutoMerge,
		Metrics:    s.Metrics,
		Logger:     s.Logger,
	})
	return s.Scheduler
}

// NewConsumer builds a NATS consumer for process requests. ConnectNATS must
// have succeeded first.
func (s *Services) NewConsumer() (*trigger.Consumer, error) {
	if s.NATS == nil {
		return nil, errors.New("nats is not connected; set nats.enabled")
	}
	cfg := s.Config.Get()
	return trigger.NewConsumer(trigger.ConsumerConfig{
		Conn:      s.NATS,
		Subject:   s.NATSSubject,
		Queue:     cfg.NATS.Queue,
		Worker:    s.Worker,
		Manager:   s.JobManager,
		Budget:    cfg.Worker.Budget(),
		AutoMerge: cfg.Worker.AutoMerge,
		Metrics:   s.Metrics,
		Logger:    s.Logger,
	})
}
