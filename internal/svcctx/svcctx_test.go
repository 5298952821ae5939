package svcctx

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
)

func newConfig(t *testing.T, content string) (*config.Manager, *home.Dir) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cm, err := config.NewManager(path, "")
	if err != nil {
		t.Fatalf("config.NewManager() error = %v", err)
	}
	h, err := home.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return cm, h
}

const memoryConfig = `
database:
  driver: memory
providers:
  primary:
    type: mock
    enabled: true
`

func TestExtractors_EmptyContext(t *testing.T) {
	ctx := context.Background()
	if ServicesFrom(ctx) != nil || StoreFrom(ctx) != nil || JobManagerFrom(ctx) != nil {
		t.Error("expected nil services from empty context")
	}
	if WorkerFrom(ctx) != nil || LimiterFrom(ctx) != nil || RegistryFrom(ctx) != nil {
		t.Error("expected nil worker, limiter and registry")
	}
	if ConfigFrom(ctx) != nil || HomeFrom(ctx) != nil || SchedulerFrom(ctx) != nil {
		t.Error("expected nil config, home and scheduler")
	}
	if MetricsFrom(ctx) != nil {
		t.Error("expected nil metrics")
	}
	if nc, _ := NATSFrom(ctx); nc != nil {
		t.Error("expected nil NATS connection")
	}
	if LoggerFrom(ctx) != slog.Default() {
		t.Error("LoggerFrom() should fall back to slog.Default()")
	}
}

func TestOpen(t *testing.T) {
	t.Run("requires config", func(t *testing.T) {
		if _, err := Open(context.Background(), Options{}); err == nil {
			t.Error("expected error without config")
		}
	})

	t.Run("memory driver", func(t *testing.T) {
		cm, h := newConfig(t, memoryConfig)
		svcs, err := Open(context.Background(), Options{Config: cm, Home: h})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer svcs.Close()

		if svcs.Store == nil || svcs.JobManager == nil || svcs.Worker == nil || svcs.Limiter == nil {
			t.Fatalf("services not wired: %+v", svcs)
		}
		if names := svcs.Registry.ListLLM(); len(names) != 1 || names[0] != "primary" {
			t.Errorf("providers = %v", names)
		}

		ctx := WithServices(context.Background(), svcs)
		if StoreFrom(ctx) != svcs.Store || WorkerFrom(ctx) != svcs.Worker || ConfigFrom(ctx) != cm {
			t.Error("extractors do not return the injected services")
		}
		if HomeFrom(ctx) != h {
			t.Error("HomeFrom() mismatch")
		}
	})

	t.Run("environment selects driver", func(t *testing.T) {
		t.Setenv("TAKEOFF_DATABASE_DRIVER", "memory")
		cm, h := newConfig(t, "providers: {}\n")
		svcs, err := Open(context.Background(), Options{Config: cm, Home: h})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer svcs.Close()
		if err := svcs.Store.Ping(context.Background()); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})
}

func TestOpenStore(t *testing.T) {
	logger := slog.Default()

	t.Run("sqlite under home", func(t *testing.T) {
		cm, h := newConfig(t, "database:\n  driver: sqlite\n")
		if err := h.EnsureExists(); err != nil {
			t.Fatal(err)
		}
		st, err := OpenStore(context.Background(), cm.Get(), h, logger)
		if err != nil {
			t.Fatalf("OpenStore() error = %v", err)
		}
		defer st.Close()
		if _, err := os.Stat(h.DatabasePath()); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		cm, h := newConfig(t, "database:\n  driver: oracle\n")
		if _, err := OpenStore(context.Background(), cm.Get(), h, logger); err == nil {
			t.Error("expected error for unknown driver")
		}
	})
}

func TestTriggers(t *testing.T) {
	t.Run("scheduler is attached", func(t *testing.T) {
		cm, h := newConfig(t, memoryConfig)
		svcs, err := Open(context.Background(), Options{Config: cm, Home: h})
		if err != nil {
			t.Fatal(err)
		}
		defer svcs.Close()

		sched := svcs.AttachScheduler()
		ctx := WithServices(context.Background(), svcs)
		if SchedulerFrom(ctx) != sched {
			t.Error("SchedulerFrom() does not return the attached scheduler")
		}
	})

	t.Run("nats disabled", func(t *testing.T) {
		cm, h := newConfig(t, memoryConfig)
		svcs, err := Open(context.Background(), Options{Config: cm, Home: h})
		if err != nil {
			t.Fatal(err)
		}
		defer svcs.Close()

		if err := svcs.ConnectNATS(); err != nil {
			t.Fatalf("ConnectNATS() error = %v", err)
		}
		if svcs.NATS != nil {
			t.Error("connected although nats.enabled is false")
		}
		if _, err := svcs.NewConsumer(); err == nil {
			t.Error("NewConsumer() should fail without a connection")
		}
	})

	t.Run("nats enabled", func(t *testing.T) {
		ns, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
		if err != nil {
			t.Fatal(err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			t.Fatal("NATS server not ready")
		}
		defer ns.Shutdown()

		cm, h := newConfig(t, memoryConfig+"nats:\n  enabled: true\n  url: "+ns.ClientURL()+"\n")
		svcs, err := Open(context.Background(), Options{Config: cm, Home: h})
		if err != nil {
			t.Fatal(err)
		}
		defer svcs.Close()

		if err := svcs.ConnectNATS(); err != nil {
			t.Fatalf("ConnectNATS() error = %v", err)
		}
		nc, subject := NATSFrom(WithServices(context.Background(), svcs))
		if nc == nil || subject == "" {
			t.Fatalf("NATSFrom() = %v, %q", nc, subject)
		}
		if _, err := svcs.NewConsumer(); err != nil {
			t.Errorf("NewConsumer() error = %v", err)
		}
	})
}
