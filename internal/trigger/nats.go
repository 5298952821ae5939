package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/metrics"
)

// Default subject and queue group for process requests.
const (
	DefaultSubject = "takeoff.jobs.process"
	DefaultQueue   = "takeoff-workers"
)

// ProcessRequest asks a worker to run ProcessBatches for one job.
type ProcessRequest struct {
	JobID      string `json:"job_id"`
	MaxBatches int    `json:"max_batches,omitempty"`
	TimeoutMS  int64  `json:"timeout_ms,omitempty"`
}

// ProcessReply is sent when the request carried a reply subject.
type ProcessReply struct {
	Result *jobs.ProcessResult `json:"result,omitempty"`
	Merged bool                `json:"merged,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Connect dials NATS with reconnects enabled.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("takeoff"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Conn    *nats.Conn
	Subject string
	Queue   string

	Worker  *jobs.Worker
	Manager *jobs.Manager

	// Budget is used when a request has no timeout_ms.
	Budget time.Duration

	// AutoMerge merges a job once every batch is terminal.
	AutoMerge bool

	// MaxInFlight bounds concurrently handled requests (default 4).
	MaxInFlight int

	Metrics *metrics.Collectors
	Logger  *slog.Logger
}

// Consumer handles process requests from a NATS queue group, so each
// request is delivered to one worker process.
type Consumer struct {
	nc        *nats.Conn
	subject   string
	queue     string
	worker    *jobs.Worker
	manager   *jobs.Manager
	budget    time.Duration
	autoMerge bool
	metrics   *metrics.Collectors
	logger    *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewConsumer creates a consumer. Call Start to subscribe.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Conn == nil {
		return nil, errors.New("nats connection is required")
	}
	if cfg.Worker == nil || cfg.Manager == nil {
		return nil, errors.New("worker and manager are required")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Consumer{
		nc:        cfg.Conn,
		subject:   cfg.Subject,
		queue:     cfg.Queue,
		worker:    cfg.Worker,
		manager:   cfg.Manager,
		budget:    cfg.Budget,
		autoMerge: cfg.AutoMerge,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "nats", "subject", cfg.Subject),
		slots:     make(chan struct{}, cfg.MaxInFlight),
	}, nil
}

// Start subscribes to the subject. Requests are processed under ctx; when
// ctx is cancelled in-flight batches are returned to pending by the worker.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return errors.New("consumer already started")
	}

	sub, err := c.nc.QueueSubscribe(c.subject, c.queue, func(msg *nats.Msg) {
		// The callback blocks the subscription, which is the backpressure
		// once every slot is taken.
		select {
		case c.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer func() { <-c.slots }()
			c.handle(ctx, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}
	c.sub = sub
	c.logger.Info("consuming process requests", "queue", c.queue)
	return nil
}

// Stop drains the subscription and waits for in-flight requests.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Drain()
		// Drain is asynchronous; the subscription turns invalid once every
		// buffered message has gone through the callback.
		deadline := time.Now().Add(30 * time.Second)
		for sub.IsValid() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	}
	c.wg.Wait()
	return err
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	var req ProcessRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.JobID == "" {
		c.logger.Warn("invalid process request", "data", string(msg.Data), "error", err)
		c.respond(msg, ProcessReply{Error: "invalid request: job_id is required"})
		return
	}

	budget := c.budget
	if req.TimeoutMS > 0 {
		budget = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	c.metrics.ObserveInvocation(TriggerNATS)
	res, err := c.worker.ProcessBatches(ctx, req.JobID, req.MaxBatches, budget)
	if err != nil {
		c.logger.Error("process request failed", "job_id", req.JobID, "error", err)
		c.respond(msg, ProcessReply{Result: res, Error: err.Error()})
		return
	}

	reply := ProcessReply{Result: res}
	if c.autoMerge && res.Done() {
		outcome, err := MergeOrFail(ctx, c.manager, req.JobID, c.logger)
		if err != nil {
			reply.Error = err.Error()
		}
		reply.Merged = outcome == OutcomeMerged
	}
	c.respond(msg, reply)
}

func (c *Consumer) respond(msg *nats.Msg, reply ProcessReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		c.logger.Error("marshal reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		c.logger.Warn("reply failed", "error", err)
	}
}

// Publish enqueues a process request without waiting for the result.
func Publish(nc *nats.Conn, subject string, req ProcessRequest) error {
	if subject == "" {
		subject = DefaultSubject
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Request sends a process request and waits for the consumer's reply.
func Request(ctx context.Context, nc *nats.Conn, subject string, req ProcessRequest) (*ProcessReply, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	msg, err := nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}
	var reply ProcessReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &reply, nil
}
