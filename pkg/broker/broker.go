// Package broker is the public face of the queue system. It composes the
// storage adapter, cache, event bus, hook pipeline, queue core and the
// engines built on top of them into one handle with a managed lifecycle:
// construct, wait for the Redis connection, run the background loops,
// close.
//
// Two construction paths are provided. New blocks until the broker is
// connected and ready. NewDeferred returns immediately and connects in
// the background; callers observe the outcome through WaitForReady.
// Every operation method waits for readiness before touching storage.
package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/muaviaUsmani/plantain/internal/audit"
	"github.com/muaviaUsmani/plantain/internal/cache"
	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/dependency"
	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/hooks"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/metrics"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/ratelimit"
	"github.com/muaviaUsmani/plantain/internal/retry"
	"github.com/muaviaUsmani/plantain/internal/scheduler"
	"github.com/muaviaUsmani/plantain/internal/storage"
	"github.com/muaviaUsmani/plantain/internal/timeout"
	"github.com/muaviaUsmani/plantain/internal/validation"
)

// connectWaitTimeout caps the initial connection wait.
const connectWaitTimeout = 30 * time.Second

// tickTimeout bounds one cleanup pass.
const tickTimeout = 30 * time.Second

// Broker bundles every subsystem behind one handle.
type Broker struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Collector

	bus       *events.Bus
	store     *storage.Store
	hybrid    *cache.Hybrid
	runner    *hooks.Runner
	mgr       *queue.Manager
	sched     *scheduler.Scheduler
	retrier   *retry.Executor
	limiter   *ratelimit.Limiter
	deps      *dependency.Engine
	validator *validation.Validator
	trail     *audit.Trail
	monitor   *timeout.Monitor

	// readyErr is written once before readyCh closes.
	readyCh  chan struct{}
	readyErr error

	cleanStop chan struct{}
	cleanDone chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// CloseOptions shapes shutdown. The zero value uses the configured
// shutdown timeout and drops writes that cannot drain in time.
type CloseOptions struct {
	// Timeout bounds the whole shutdown. Zero falls back to
	// broker.shutdown_timeout.
	Timeout time.Duration
	// ForceSyncCache retries the write-back drain with the rest of the
	// budget when the first attempt misses its half share.
	ForceSyncCache bool
}

// New builds a broker from cfg and blocks until it is connected and its
// background loops are running. A nil cfg uses defaults. ctx bounds the
// connection wait together with the 30 s cap.
func New(ctx context.Context, cfg *config.Config) (*Broker, error) {
	b, err := newBroker(cfg)
	if err != nil {
		return nil, err
	}
	b.runInit(ctx)
	if b.readyErr != nil {
		return nil, b.readyErr
	}
	return b, nil
}

// NewDeferred builds a broker and connects in the background. Operations
// called before the connection is up block inside WaitForReady; a failed
// initialization surfaces there and through every gated call.
func NewDeferred(cfg *config.Config) (*Broker, error) {
	b, err := newBroker(cfg)
	if err != nil {
		return nil, err
	}
	go b.runInit(context.Background())
	return b, nil
}

// NewFromFile loads configuration from path plus PLANTAIN_ env overrides
// and builds a ready broker from it.
func NewFromFile(ctx context.Context, path string) (*Broker, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

func newBroker(cfg *config.Config) (*Broker, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, qerrors.Wrap(qerrors.KindValidation, "broker.new", err)
	}
	log, err := logger.NewLogger(cfg.Logging.LoggerConfig())
	if err != nil {
		return nil, err
	}
	m := metrics.NewCollector()

	bus := events.NewBus(cfg.Events, log, m)
	store := storage.New(cfg.Redis, cfg.Breaker, log)
	hybrid := cache.New(cfg.Cache, queue.NewCacheSyncFunc(store, log), log, m)
	runner := hooks.NewRunner(cfg.Broker, bus, log)
	mgr := queue.NewManager(store, hybrid, bus, runner, log, m)

	limiter := ratelimit.New(mgr, bus, log, m)
	monitor := timeout.New(mgr, bus, cfg.Broker, log, m)
	monitor.SetLimiter(limiter)
	validator := validation.New(mgr, bus, log, m)
	mgr.SetValidator(validator)

	return &Broker{
		cfg:       cfg,
		log:       log.WithComponent(logger.ComponentBroker),
		metrics:   m,
		bus:       bus,
		store:     store,
		hybrid:    hybrid,
		runner:    runner,
		mgr:       mgr,
		sched:     scheduler.New(mgr, bus, cfg.Broker, log, m),
		retrier:   retry.NewExecutor(mgr, bus, log, m),
		limiter:   limiter,
		deps:      dependency.New(mgr, bus, log, m),
		validator: validator,
		trail:     audit.New(mgr, bus, log, m),
		monitor:   monitor,
		readyCh:   make(chan struct{}),
	}, nil
}

// runInit drives initialization and publishes the outcome on readyCh.
func (b *Broker) runInit(ctx context.Context) {
	err := b.initialize(ctx)
	b.readyErr = err
	close(b.readyCh)
	if err != nil {
		// The loops never started; free what construction opened.
		_ = b.store.Close()
		b.bus.Close()
	}
}

func (b *Broker) initialize(ctx context.Context) error {
	start := time.Now()

	if err := b.store.WaitForConnection(ctx, connectWaitTimeout); err != nil {
		b.log.Error("broker initialization failed", "error", err.Error())
		return err
	}
	b.bus.Emit(events.TypeRedisConnected, "", map[string]interface{}{
		"addr": b.cfg.Redis.Addr(),
	})

	if n, err := b.sched.LoadSchedules(ctx); err != nil {
		b.log.Warn("failed to restore recurring schedules", "error", err.Error())
	} else if n > 0 {
		b.log.Info("recurring schedules restored", "count", n)
	}

	// A close racing a deferred initialization must not start loops the
	// shutdown has already walked past.
	if b.closed.Load() {
		return qerrors.New(qerrors.KindStorage, "broker.initialize", "broker closed during initialization")
	}

	b.hybrid.Start()
	b.sched.Start()
	b.monitor.Start()
	b.startCleanupLoop()

	b.bus.Emit(events.TypeInitialized, "", map[string]interface{}{
		"cacheEnabled":  b.cfg.Cache.Enabled,
		"cacheStrategy": b.cfg.Cache.Strategy,
		"elapsedMs":     time.Since(start).Milliseconds(),
	})
	b.log.Info("broker initialized", "elapsed", time.Since(start).String())
	return nil
}

// WaitForReady blocks until initialization finishes and reports its
// outcome, or until ctx expires.
func (b *Broker) WaitForReady(ctx context.Context) error {
	select {
	case <-b.readyCh:
		return b.readyErr
	case <-ctx.Done():
		return qerrors.Classify("broker.waitForReady", ctx.Err())
	}
}

// ready gates every operation on initialization and shutdown state.
func (b *Broker) ready(ctx context.Context) error {
	if b.closed.Load() {
		return qerrors.New(qerrors.KindStorage, "broker.ready", "broker is closed")
	}
	return b.WaitForReady(ctx)
}

// Close stops the background loops, drains the cache and releases every
// connection. Calling it again returns the first result.
func (b *Broker) Close(ctx context.Context, opts CloseOptions) error {
	b.closeOnce.Do(func() { b.closeErr = b.shutdown(ctx, opts) })
	return b.closeErr
}

func (b *Broker) shutdown(ctx context.Context, opts CloseOptions) error {
	// Let a deferred initialization settle before tearing down under it.
	select {
	case <-b.readyCh:
	case <-ctx.Done():
	}

	budget := opts.Timeout
	if budget <= 0 {
		budget = b.cfg.Broker.ShutdownTimeout
	}
	if budget <= 0 {
		budget = 30 * time.Second
	}
	deadline := time.Now().Add(budget)

	b.closed.Store(true)
	b.bus.BeginShutdown()
	b.log.Info("broker shutting down", "timeout", budget.String())

	b.sched.Stop()
	b.monitor.Stop()
	if b.cleanStop != nil {
		close(b.cleanStop)
		<-b.cleanDone
	}

	// Half the budget goes to the write-back drain, the rest to the
	// disconnect. A drain that misses its share drops the writes unless
	// the caller asked to force the sync.
	drainCtx, cancel := context.WithTimeout(ctx, budget/2)
	err := b.hybrid.Stop(drainCtx)
	cancel()
	if err != nil && opts.ForceSyncCache && time.Now().Before(deadline) {
		flushCtx, cancel := context.WithDeadline(ctx, deadline)
		err = b.hybrid.Flush(flushCtx)
		cancel()
	}
	if err != nil {
		b.log.Error("cache drain incomplete, pending writes dropped",
			"pending", b.hybrid.PendingWrites(), "error", err.Error())
	}

	closeErr := b.store.Close()
	b.bus.Close()
	b.log.Info("broker closed")
	return closeErr
}

func (b *Broker) startCleanupLoop() {
	interval := b.cfg.Broker.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	b.cleanStop = make(chan struct{})
	b.cleanDone = make(chan struct{})
	go b.cleanupLoop(interval, b.cleanStop, b.cleanDone)
	b.log.Info("cleanup loop started", "interval", interval.String())
}

func (b *Broker) cleanupLoop(interval time.Duration, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
			b.cleanupTick(ctx)
			cancel()
		}
	}
}

// cleanupTick sweeps every queue once: expired audit entries, dead rate
// buckets and failed promotion leftovers past the configured retention.
// Per-queue failures are logged and do not stop the pass.
func (b *Broker) cleanupTick(ctx context.Context) {
	queues, err := b.mgr.GetAllQueues(ctx, queue.ListOptions{})
	if err != nil {
		b.log.Error("cleanup pass failed", "error", err.Error())
		return
	}
	retention := b.cfg.Broker.FailedJobRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	for _, q := range queues {
		if _, err := b.trail.CleanupAuditLogs(ctx, q.ID); err != nil {
			b.log.Error("audit cleanup failed", "queue_id", q.ID, "error", err.Error())
		}
		if _, err := b.limiter.CleanupRateCounters(ctx, q.ID); err != nil {
			b.log.Error("rate counter cleanup failed", "queue_id", q.ID, "error", err.Error())
		}
		if _, err := b.sched.CleanupFailedPromotions(ctx, q.ID, retention); err != nil {
			b.log.Error("schedule cleanup failed", "queue_id", q.ID, "error", err.Error())
		}
	}
}

// MetricsRegistry exposes the broker's Prometheus registry so embedding
// applications can mount it on their metrics endpoint.
func (b *Broker) MetricsRegistry() *prometheus.Registry {
	return b.metrics.Registry()
}
