// Package scheduler parks jobs in a per-queue time index until they are
// due, then promotes them into the queue's item list. It also spawns jobs
// from recurring cron schedules, deduplicated across broker instances by
// a per-schedule distributed lock.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/metrics"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

const (
	// defaultLockTTL bounds how long a crashed instance can hold a
	// recurring-schedule lock.
	defaultLockTTL = 60 * time.Second
	// tickTimeout bounds one full sweep across queues and schedules.
	tickTimeout = 30 * time.Second
)

// Scheduler owns the due-job promotion loop and the recurring schedules.
type Scheduler struct {
	mgr      *queue.Manager
	store    *storage.Store
	bus      *events.Bus
	log      logger.Logger
	metrics  *metrics.Collector
	registry *Registry
	interval time.Duration
	lockTTL  time.Duration

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New wires a scheduler over the queue core. bus and m may be nil; the
// scheduler then emits no events and records no metrics.
func New(mgr *queue.Manager, bus *events.Bus, cfg config.Broker, log logger.Logger, m *metrics.Collector) *Scheduler {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	interval := cfg.SchedulerInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		mgr:      mgr,
		store:    mgr.Store(),
		bus:      bus,
		log:      log.WithComponent(logger.ComponentScheduler),
		metrics:  m,
		registry: NewRegistry(),
		interval: interval,
		lockTTL:  defaultLockTTL,
	}
}

// SetLockTTL tunes the recurring-schedule lock TTL.
func (s *Scheduler) SetLockTTL(ttl time.Duration) {
	s.lockTTL = ttl
}

// Start launches the background loop. Safe to call once; repeat calls
// while running are no-ops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)
	s.log.Info("scheduler started",
		"interval", s.interval.String(),
		"schedules", s.registry.Count())
}

func (s *Scheduler) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
			s.tick(ctx, time.Now())
			cancel()
		}
	}
}

// tick promotes due jobs on every queue, then fires due recurring
// schedules. Per-queue failures are logged and do not stop the sweep.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if _, err := s.ProcessAllDue(ctx); err != nil {
		s.log.Error("due-job sweep failed", "error", err.Error())
	}
	s.processRecurring(ctx, now)
}

// Stop halts the loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()
	<-done
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) emit(t events.Type, queueID string, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(t, queueID, payload)
}

func (s *Scheduler) observe(op, queueID string, start time.Time, err error) {
	kind := ""
	if err != nil {
		kind = string(qerrors.KindOf(err))
	}
	s.metrics.RecordOperation(op, queueID, time.Since(start), kind)
}
