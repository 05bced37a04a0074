// Package timeout enforces per-job execution deadlines. Every tracked job
// carries a tracker hash mirroring its deadline in Redis, so a monitor
// sweep can finalize overdue work even when the worker that owned it is
// gone. The tracker expires a grace period after the deadline; the sweep
// normally finalizes the job well before Redis reaps the key.
package timeout

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/hooks"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/metrics"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/ratelimit"
	"github.com/muaviaUsmani/plantain/internal/serialization"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

const (
	// expiryGrace keeps the tracker alive past its deadline so the sweep
	// can finalize the job before Redis reaps the key.
	expiryGrace = 60 * time.Second
	// tickTimeout bounds one full sweep across queues.
	tickTimeout = 30 * time.Second
)

// AddOptions carries the queue options for a job added with a deadline.
type AddOptions struct {
	ItemID         string
	Priority       int
	PriorityWeight int
	RetryPolicy    *model.RetryPolicy
	Metadata       map[string]interface{}
}

// Monitor tracks job deadlines and owns the background sweep loop.
type Monitor struct {
	mgr      *queue.Manager
	store    *storage.Store
	bus      *events.Bus
	log      logger.Logger
	metrics  *metrics.Collector
	limiter  *ratelimit.Limiter
	interval time.Duration

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New wires a monitor over the queue core. bus and m may be nil; the
// monitor then emits no events and records no metrics.
func New(mgr *queue.Manager, bus *events.Bus, cfg config.Broker, log logger.Logger, m *metrics.Collector) *Monitor {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	interval := cfg.TimeoutMonitorInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		mgr:      mgr,
		store:    mgr.Store(),
		bus:      bus,
		log:      log.WithComponent(logger.ComponentTimeout),
		metrics:  m,
		interval: interval,
	}
}

// SetLimiter pairs executions with the rate limiter's concurrency gauge.
func (m *Monitor) SetLimiter(l *ratelimit.Limiter) {
	m.limiter = l
}

// AddJobWithTimeout enqueues a job and opens a deadline tracker for it.
func (m *Monitor) AddJobWithTimeout(ctx context.Context, queueID string, data interface{}, timeout time.Duration, opts AddOptions) (*model.Item, error) {
	const op = "timeout.AddJobWithTimeout"
	start := time.Now()

	if timeout <= 0 {
		err := qerrors.Newf(qerrors.KindValidation, op, "timeout must be positive, got %s", timeout).WithQueue(queueID)
		m.observe(op, queueID, start, err)
		return nil, err
	}

	item, err := m.mgr.AddToQueue(ctx, queueID, data, queue.AddOptions{
		ItemID:         opts.ItemID,
		Priority:       opts.Priority,
		PriorityWeight: opts.PriorityWeight,
		Timeout:        timeout.Milliseconds(),
		RetryPolicy:    opts.RetryPolicy,
		Metadata:       opts.Metadata,
	})
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	deadline := item.AddedAt.Add(timeout)
	if item.TimeoutAt != nil {
		deadline = *item.TimeoutAt
	}
	tracker := &model.TimeoutTracker{
		JobID:     item.ID,
		QueueID:   queueID,
		Timeout:   timeout.Milliseconds(),
		TimeoutAt: deadline,
		Status:    model.StatusPending,
		CreatedAt: item.AddedAt,
	}
	if err := m.writeTracker(ctx, op, tracker); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	m.emit(events.TypeJobAddedTimeout, queueID, map[string]interface{}{
		"jobId":     item.ID,
		"timeout":   tracker.Timeout,
		"timeoutAt": serialization.FormatTime(tracker.TimeoutAt),
	})
	m.log.Debug("job deadline tracked",
		"queue_id", queueID, "job_id", item.ID, "timeout_ms", tracker.Timeout)
	m.observe(op, queueID, start, nil)
	return item, nil
}

// GetTimeoutTracker returns the job's deadline tracker.
func (m *Monitor) GetTimeoutTracker(ctx context.Context, queueID, jobID string) (*model.TimeoutTracker, error) {
	const op = "timeout.GetTimeoutTracker"
	tracker, err := m.loadTracker(ctx, queueID, jobID)
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		return nil, qerrors.Newf(qerrors.KindNotFound, op, "no timeout tracker for job %q", jobID).WithQueue(queueID).WithItem(jobID)
	}
	return tracker, nil
}

// ExtendJobTimeout pushes the deadline out by extension. Only pending and
// processing jobs can be extended.
func (m *Monitor) ExtendJobTimeout(ctx context.Context, queueID, jobID string, extension time.Duration) (*model.TimeoutTracker, error) {
	const op = "timeout.ExtendJobTimeout"
	start := time.Now()

	if extension <= 0 {
		err := qerrors.Newf(qerrors.KindValidation, op, "extension must be positive, got %s", extension).WithQueue(queueID).WithItem(jobID)
		m.observe(op, queueID, start, err)
		return nil, err
	}
	tracker, err := m.loadTracker(ctx, queueID, jobID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	if tracker == nil {
		err := qerrors.Newf(qerrors.KindNotFound, op, "no timeout tracker for job %q", jobID).WithQueue(queueID).WithItem(jobID)
		m.observe(op, queueID, start, err)
		return nil, err
	}
	if tracker.Status != model.StatusPending && tracker.Status != model.StatusProcessing {
		err := qerrors.Newf(qerrors.KindValidation, op, "cannot extend a %s job", tracker.Status).WithQueue(queueID).WithItem(jobID)
		m.observe(op, queueID, start, err)
		return nil, err
	}

	tracker.Timeout += extension.Milliseconds()
	tracker.TimeoutAt = tracker.TimeoutAt.Add(extension)
	if err := m.writeTracker(ctx, op, tracker); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	// Keep the item's deadline fields in step; the tracker stays the
	// source of truth if this write cannot land.
	if item, err := m.mgr.GetItem(ctx, queueID, jobID); err == nil {
		deadline := tracker.TimeoutAt
		item.Timeout = tracker.Timeout
		item.TimeoutAt = &deadline
		if err := m.persistItem(ctx, op, queueID, item, map[string]interface{}{
			"timeout":   tracker.Timeout,
			"timeoutAt": deadline,
		}); err != nil {
			m.log.Warn("failed to update item deadline",
				"queue_id", queueID, "job_id", jobID, "error", err.Error())
		}
	} else if !qerrors.IsNotFound(err) {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	m.emit(events.TypeJobTimeoutExtended, queueID, map[string]interface{}{
		"jobId":     jobID,
		"timeout":   tracker.Timeout,
		"timeoutAt": serialization.FormatTime(tracker.TimeoutAt),
	})
	m.log.Info("job deadline extended",
		"queue_id", queueID, "job_id", jobID, "extension", extension.String())
	m.observe(op, queueID, start, nil)
	return tracker, nil
}

// writeTracker persists the full tracker hash and refreshes its TTL to
// the remaining time plus the grace period.
func (m *Monitor) writeTracker(ctx context.Context, op string, tracker *model.TimeoutTracker) error {
	remaining := time.Until(tracker.TimeoutAt)
	if remaining < 0 {
		remaining = 0
	}
	key := storage.TimeoutKey(tracker.QueueID, tracker.JobID)
	fields := tracker.ToHash()
	_, err := m.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.PExpire(ctx, key, remaining+expiryGrace)
		return nil
	})
	return err
}

func (m *Monitor) loadTracker(ctx context.Context, queueID, jobID string) (*model.TimeoutTracker, error) {
	fields, err := m.store.HGetAll(ctx, storage.TimeoutKey(queueID, jobID))
	if err != nil {
		return nil, err
	}
	return model.TimeoutTrackerFromHash(fields), nil
}

// persistItem writes item changes through the list when the item is still
// queued, and falls back to the hash for items that were already popped.
// item carries the mutated fallback state; updates feeds the list path.
func (m *Monitor) persistItem(ctx context.Context, op, queueID string, item *model.Item, updates map[string]interface{}) error {
	_, err := m.mgr.UpdateItem(ctx, queueID, item.ID, updates, hooks.Set{})
	if err == nil {
		return nil
	}
	if !qerrors.IsNotFound(err) {
		return err
	}

	item.Touch()
	fields, err := item.ToHash()
	if err != nil {
		return qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID).WithItem(item.ID)
	}
	return m.store.HSet(ctx, storage.ItemKey(queueID, item.ID), fields)
}

// finalizeTimedOut moves the tracker and the item (when it still exists)
// to timed_out and announces it.
func (m *Monitor) finalizeTimedOut(ctx context.Context, op, queueID, jobID string) error {
	if err := m.store.HSet(ctx, storage.TimeoutKey(queueID, jobID), map[string]string{
		"status": string(model.StatusTimedOut),
	}); err != nil {
		return err
	}

	item, err := m.mgr.GetItem(ctx, queueID, jobID)
	if err == nil {
		item.UpdateStatus(model.StatusTimedOut)
		if err := m.persistItem(ctx, op, queueID, item, map[string]interface{}{
			"status": model.StatusTimedOut,
		}); err != nil {
			return err
		}
	} else if !qerrors.IsNotFound(err) {
		return err
	}

	m.emit(events.TypeJobTimedOut, queueID, map[string]interface{}{"jobId": jobID})
	m.log.Warn("job timed out", "queue_id", queueID, "job_id", jobID)
	return nil
}

func (m *Monitor) emit(t events.Type, queueID string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(t, queueID, payload)
}

func (m *Monitor) observe(op, queueID string, start time.Time, err error) {
	kind := ""
	if err != nil {
		kind = string(qerrors.KindOf(err))
	}
	m.metrics.RecordOperation(op, queueID, time.Since(start), kind)
}
