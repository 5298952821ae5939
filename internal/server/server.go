package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/server/endpoints"
	"github.com/jackzampolin/takeoff/internal/svcctx"
	"github.com/jackzampolin/takeoff/internal/trigger"
)

// Server is the takeoff HTTP server. It can also host the scheduler and
// the NATS consumer so a single process serves and works.
type Server struct {
	httpServer *http.Server
	services   *svcctx.Services
	logger     *slog.Logger

	runScheduler bool
	consume      bool

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu       sync.RWMutex
	running  bool
	listener net.Listener
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080); "0" picks a free port
	Port string
	// Services are injected into every request context. Endpoints that
	// require initialization answer 503 while it is nil.
	Services *svcctx.Services
	// Scheduler runs the periodic sweep in this process.
	Scheduler bool
	// Consume subscribes to NATS process requests in this process.
	Consume bool
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Consume && (cfg.Services == nil || cfg.Services.NATS == nil) {
		return nil, errors.New("consuming process requests requires a NATS connection")
	}

	s := &Server{
		services:     cfg.Services,
		logger:       cfg.Logger,
		runScheduler: cfg.Scheduler && cfg.Services != nil,
		consume:      cfg.Consume,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	// Process requests run a worker invocation inline, so the write
	// timeout covers the worker budget.
	writeTimeout := 30 * time.Second
	if cfg.Services != nil && cfg.Services.Config != nil {
		if budget := cfg.Services.Config.Get().Worker.Budget(); budget+30*time.Second > writeTimeout {
			writeTimeout = budget + 30*time.Second
		}
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the HTTP handler with services and routes wired.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves HTTP and, when configured, runs the scheduler and the NATS
// consumer. It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()

	var wg sync.WaitGroup
	if s.runScheduler {
		sched := s.services.AttachScheduler()
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(workCtx)
		}()
	}

	var consumer *trigger.Consumer
	if s.consume {
		consumer, err = s.services.NewConsumer()
		if err == nil {
			err = consumer.Start(workCtx)
		}
		if err != nil {
			stopWork()
			wg.Wait()
			ln.Close()
			s.setNotRunning()
			return fmt.Errorf("failed to start NATS consumer: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("HTTP server error: %w", err)
		}
	}

	s.shutdown(stopWork, &wg, consumer)
	return serveErr
}

// shutdown stops HTTP first so no new invocations start, then the
// background triggers. In-flight batches are released by the worker when
// their context ends.
func (s *Server) shutdown(stopWork context.CancelFunc, wg *sync.WaitGroup, consumer *trigger.Consumer) {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			s.logger.Error("NATS consumer stop error", "error", err)
		}
	}
	stopWork()
	wg.Wait()

	s.setNotRunning()
	s.logger.Info("server stopped")
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.listener = nil
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound address while running, else the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the job store and worker exist.
// Returns 503 Service Unavailable otherwise.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil || s.services.Store == nil || s.services.Worker == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
