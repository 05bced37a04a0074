// Package retry runs work under a retry policy with exponential backoff,
// persists per-job retry history, and routes exhausted jobs to their
// dead-letter queue.
package retry

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/metrics"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// Processor runs one attempt against the job payload.
type Processor func(ctx context.Context, data interface{}) error

// Condition vetoes a retry the policy would otherwise allow. attempt is
// the attempt that just failed, counted from 1.
type Condition func(err error, attempt int) bool

// Options tunes a single ExecuteWithRetry run.
type Options struct {
	// JobID overrides the generated id, tying the history to an
	// existing queue item.
	JobID string
	// Condition adds a caller veto on top of the policy's RetryOnTypes.
	Condition Condition
}

// Executor runs processors under retry policies.
type Executor struct {
	mgr     *queue.Manager
	store   *storage.Store
	bus     *events.Bus
	log     logger.Logger
	metrics *metrics.Collector
}

// NewExecutor wires the retry engine over the queue core. bus and m may
// be nil; the executor then emits no events and records no metrics.
func NewExecutor(mgr *queue.Manager, bus *events.Bus, log logger.Logger, m *metrics.Collector) *Executor {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Executor{
		mgr:     mgr,
		store:   mgr.Store(),
		bus:     bus,
		log:     log.WithComponent(logger.ComponentRetry),
		metrics: m,
	}
}

// ExecuteWithRetry runs processor until it succeeds or the policy is
// exhausted. A nil policy gets the default. The returned record holds
// every attempt and is persisted whether the run succeeds or not; on
// failure the error is the last attempt's, and the job is routed to the
// dead-letter queue when the policy names one.
func (e *Executor) ExecuteWithRetry(ctx context.Context, queueID string, jobData interface{}, policy *model.RetryPolicy, processor Processor, opts Options) (*model.RetryRecord, error) {
	const op = "retry.ExecuteWithRetry"
	start := time.Now()

	if policy == nil {
		policy = model.DefaultRetryPolicy()
	}
	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	record := &model.RetryRecord{
		JobID:     jobID,
		QueueID:   queueID,
		Status:    model.RetryStatusProcessing,
		StartTime: time.Now().UTC(),
	}

	maxAttempts := policy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptStart := time.Now()
		err := e.runAttempt(ctx, processor, jobData)
		entry := model.RetryAttempt{
			Attempt:    attempt,
			Success:    err == nil,
			DurationMs: time.Since(attemptStart).Milliseconds(),
			Timestamp:  time.Now().UTC(),
		}
		if err == nil {
			record.Attempts = append(record.Attempts, entry)
			e.finalize(ctx, record, model.RetryStatusCompleted, "")
			e.emit(events.TypeJobRetrySuccess, queueID, map[string]interface{}{
				"jobId":    jobID,
				"attempts": attempt,
			})
			e.observe(op, queueID, start, nil)
			return record, nil
		}

		lastErr = err
		kind := string(qerrors.KindOf(err))
		entry.Error = err.Error()
		entry.ErrorKind = kind
		record.Attempts = append(record.Attempts, entry)

		retryable := policy.ShouldRetry(kind)
		if retryable && opts.Condition != nil {
			retryable = opts.Condition(err, attempt)
		}
		if !retryable || attempt == maxAttempts {
			break
		}

		delay := policy.NextDelay(attempt)
		e.emit(events.TypeJobRetryAttempt, queueID, map[string]interface{}{
			"jobId":   jobID,
			"attempt": attempt,
			"delayMs": delay.Milliseconds(),
			"error":   err.Error(),
		})
		e.log.Debug("attempt failed, backing off",
			"queue_id", queueID, "job_id", jobID,
			"attempt", attempt, "delay", delay.String())
		if serr := e.sleep(ctx, delay); serr != nil {
			lastErr = serr
			break
		}
	}

	e.finalize(ctx, record, model.RetryStatusFailed, lastErr.Error())
	e.emit(events.TypeJobRetryFailed, queueID, map[string]interface{}{
		"jobId":    jobID,
		"attempts": len(record.Attempts),
		"error":    lastErr.Error(),
	})
	e.log.Warn("retries exhausted",
		"queue_id", queueID, "job_id", jobID,
		"attempts", len(record.Attempts), "error", lastErr.Error())

	if policy.DeadLetter != nil {
		item := &model.Item{ID: jobID, Data: jobData}
		if _, dlqErr := e.RouteToDeadLetterQueue(ctx, queueID, item, lastErr, record, policy.DeadLetter); dlqErr != nil {
			e.log.Error("dead letter routing failed",
				"queue_id", queueID, "job_id", jobID, "error", dlqErr.Error())
		}
	}
	e.observe(op, queueID, start, lastErr)
	return record, lastErr
}

// runAttempt shields the loop from processor panics; a panic counts as a
// failed attempt.
func (e *Executor) runAttempt(ctx context.Context, processor Processor, data interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &qerrors.PanicError{
				Value:      r,
				Stacktrace: string(debug.Stack()),
			}
		}
	}()
	return processor(ctx, data)
}

// sleep waits out the backoff, cut short by context cancellation.
func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return qerrors.Classify("retry.backoff", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// finalize stamps the record's outcome and persists it. Persistence
// failure is logged, not returned; the caller's result stands either way.
func (e *Executor) finalize(ctx context.Context, record *model.RetryRecord, status, finalError string) {
	now := time.Now().UTC()
	record.Status = status
	record.EndTime = &now
	record.FinalError = finalError
	record.TotalRetries = len(record.Attempts) - 1
	if record.TotalRetries < 0 {
		record.TotalRetries = 0
	}
	if err := e.storeHistory(ctx, record); err != nil {
		e.log.Warn("failed to persist retry history",
			"queue_id", record.QueueID, "job_id", record.JobID, "error", err.Error())
	}
}

func (e *Executor) emit(t events.Type, queueID string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(t, queueID, payload)
}

func (e *Executor) observe(op, queueID string, start time.Time, err error) {
	kind := ""
	if err != nil {
		kind = string(qerrors.KindOf(err))
	}
	e.metrics.RecordOperation(op, queueID, time.Since(start), kind)
}
