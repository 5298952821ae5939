// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/trigger"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store      store.Store
	JobManager *jobs.Manager
	Worker     *jobs.Worker
	Limiter    *jobs.ProviderLimiter
	Registry   *providers.Registry
	Config     *config.Manager
	Logger     *slog.Logger
	Home       *home.Dir
	Metrics    *metrics.Collectors

	// Scheduler is set when the process runs the sweep loop.
	Scheduler *trigger.Scheduler

	// NATS is set when the queue trigger is enabled.
	NATS        *nats.Conn
	NATSSubject string
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the job store from context.
func StoreFrom(ctx context.Context) store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// JobManagerFrom extracts the job manager from context.
func JobManagerFrom(ctx context.Context) *jobs.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.JobManager
	}
	return nil
}

// WorkerFrom extracts the batch worker from context.
func WorkerFrom(ctx context.Context) *jobs.Worker {
	if s := ServicesFrom(ctx); s != nil {
		return s.Worker
	}
	return nil
}

// LimiterFrom extracts the provider limiter from context.
func LimiterFrom(ctx context.Context) *jobs.ProviderLimiter {
	if s := ServicesFrom(ctx); s != nil {
		return s.Limiter
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// SchedulerFrom extracts the scheduler from context.
func SchedulerFrom(ctx context.Context) *trigger.Scheduler {
	if s := ServicesFrom(ctx); s != nil {
		return s.Scheduler
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// MetricsFrom extracts the Prometheus collectors from context.
func MetricsFrom(ctx context.Context) *metrics.Collectors {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// NATSFrom extracts the NATS connection and process subject from context.
// The connection is nil when the queue trigger is disabled.
func NATSFrom(ctx context.Context) (*nats.Conn, string) {
	if s := ServicesFrom(ctx); s != nil {
		return s.NATS, s.NATSSubject
	}
	return nil, ""
}
