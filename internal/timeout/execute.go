package timeout

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// Processor runs the job payload under the deadline.
type Processor func(ctx context.Context, data interface{}) error

// ExecuteJobWithTimeout races the processor against the job's deadline.
// Losing the race finalizes the job as timed_out and returns a timeout
// error; the processor's context is canceled, but a processor that
// ignores it may keep running. That loose end belongs to the caller.
func (m *Monitor) ExecuteJobWithTimeout(ctx context.Context, queueID, jobID string, processor Processor) error {
	const op = "timeout.ExecuteJobWithTimeout"
	start := time.Now()

	tracker, err := m.loadTracker(ctx, queueID, jobID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return err
	}
	if tracker == nil {
		err := qerrors.Newf(qerrors.KindNotFound, op, "no timeout tracker for job %q", jobID).WithQueue(queueID).WithItem(jobID)
		m.observe(op, queueID, start, err)
		return err
	}
	if tracker.Status != model.StatusPending && tracker.Status != model.StatusProcessing {
		err := qerrors.Newf(qerrors.KindValidation, op, "cannot execute a %s job", tracker.Status).WithQueue(queueID).WithItem(jobID)
		m.observe(op, queueID, start, err)
		return err
	}

	item, err := m.mgr.GetItem(ctx, queueID, jobID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return err
	}

	remaining := time.Until(tracker.TimeoutAt)
	if remaining <= 0 {
		if err := m.finalizeTimedOut(ctx, op, queueID, jobID); err != nil {
			m.observe(op, queueID, start, err)
			return err
		}
		err := qerrors.Newf(qerrors.KindTimeout, op, "job deadline passed %s ago", (-remaining).Round(time.Millisecond)).WithQueue(queueID).WithItem(jobID)
		m.observe(op, queueID, start, err)
		return err
	}

	if err := m.mark(ctx, op, queueID, item, model.StatusProcessing); err != nil {
		m.observe(op, queueID, start, err)
		return err
	}

	// The concurrency gauge must come back down on every exit, timeouts
	// included, so the completion runs detached from the caller's ctx.
	if m.limiter != nil {
		if err := m.limiter.RecordJobExecution(ctx, queueID, jobID); err != nil {
			m.log.Warn("failed to record execution",
				"queue_id", queueID, "job_id", jobID, "error", err.Error())
		} else {
			defer func() {
				if err := m.limiter.CompleteJobExecution(context.WithoutCancel(ctx), queueID, jobID); err != nil {
					m.log.Warn("failed to complete execution",
						"queue_id", queueID, "job_id", jobID, "error", err.Error())
				}
			}()
		}
	}

	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- runProcessor(procCtx, processor, item.Data)
	}()

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case procErr := <-done:
		status := model.StatusCompleted
		if procErr != nil {
			status = model.StatusFailed
		}
		if err := m.mark(ctx, op, queueID, item, status); err != nil {
			m.observe(op, queueID, start, err)
			return err
		}
		m.observe(op, queueID, start, procErr)
		return procErr
	case <-timer.C:
		cancel()
		if err := m.finalizeTimedOut(ctx, op, queueID, jobID); err != nil {
			m.observe(op, queueID, start, err)
			return err
		}
		err := qerrors.Newf(qerrors.KindTimeout, op, "job timed out after %dms", tracker.Timeout).WithQueue(queueID).WithItem(jobID)
		m.observe(op, queueID, start, err)
		return err
	case <-ctx.Done():
		// The caller walked away; leave the tracker processing and let
		// the sweep finalize at the deadline.
		err := qerrors.Classify(op, ctx.Err())
		m.observe(op, queueID, start, err)
		return err
	}
}

// mark moves the tracker and the item to status together.
func (m *Monitor) mark(ctx context.Context, op, queueID string, item *model.Item, status model.ItemStatus) error {
	if err := m.store.HSet(ctx, storage.TimeoutKey(queueID, item.ID), map[string]string{
		"status": string(status),
	}); err != nil {
		return err
	}
	item.UpdateStatus(status)
	return m.persistItem(ctx, op, queueID, item, map[string]interface{}{"status": status})
}

// runProcessor shields the race from processor panics; a panic reports
// as a failed run.
func runProcessor(ctx context.Context, processor Processor, data interface{}) (err error) {
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
