package broker

import (
	"context"
	"time"

	"github.com/muaviaUsmani/plantain/internal/timeout"
)

// ScheduleJob parks data in the queue's time index until scheduleTime.
func (b *Broker) ScheduleJob(ctx context.Context, queueID string, data interface{}, scheduleTime time.Time, opts ScheduleOptions) (*ScheduledJob, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.sched.ScheduleJob(ctx, queueID, data, scheduleTime, opts)
}

// RescheduleJob moves a scheduled job to a new due time.
func (b *Broker) RescheduleJob(ctx context.Context, queueID, jobID string, newTime time.Time) (*ScheduledJob, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.sched.RescheduleJob(ctx, queueID, jobID, newTime)
}

// CancelScheduledJob removes a scheduled job before it promotes.
func (b *Broker) CancelScheduledJob(ctx context.Context, queueID, jobID string) (*ScheduledJob, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.sched.CancelScheduledJob(ctx, queueID, jobID)
}

// GetScheduledJobs lists scheduled jobs in due order, soonest first.
func (b *Broker) GetScheduledJobs(ctx context.Context, queueID string, limit int) ([]*ScheduledJob, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.sched.GetScheduledJobs(ctx, queueID, limit)
}

// GetNextScheduledTime returns the soonest due time, or nil when nothing
// is scheduled.
func (b *Broker) GetNextScheduledTime(ctx context.Context, queueID string) (*time.Time, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.sched.GetNextScheduledTime(ctx, queueID)
}

// ProcessDueJobs runs one promotion sweep for a queue outside the
// scheduler loop's cadence.
func (b *Broker) ProcessDueJobs(ctx context.Context, queueID string) (int, error) {
	if err := b.ready(ctx); err != nil {
		return 0, err
	}
	return b.sched.ProcessDueJobs(ctx, queueID)
}

// RegisterSchedule adds a recurring schedule and persists it.
func (b *Broker) RegisterSchedule(ctx context.Context, schedule *Schedule) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.sched.RegisterSchedule(ctx, schedule)
}

// UnregisterSchedule removes a recurring schedule.
func (b *Broker) UnregisterSchedule(ctx context.Context, scheduleID string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.sched.UnregisterSchedule(ctx, scheduleID)
}

// EnableSchedule turns a recurring schedule on.
func (b *Broker) EnableSchedule(ctx context.Context, scheduleID string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.sched.EnableSchedule(ctx, scheduleID)
}

// DisableSchedule turns a recurring schedule off without removing it.
func (b *Broker) DisableSchedule(ctx context.Context, scheduleID string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.sched.DisableSchedule(ctx, scheduleID)
}

// GetSchedule returns a registered recurring schedule.
func (b *Broker) GetSchedule(scheduleID string) (*Schedule, error) {
	return b.sched.GetSchedule(scheduleID)
}

// ListSchedules returns every registered recurring schedule.
func (b *Broker) ListSchedules() []*Schedule {
	return b.sched.ListSchedules()
}

// ExecuteWithRetry runs processor over jobData under policy, retrying
// per its backoff and routing terminal failures to the DLQ when one is
// configured.
func (b *Broker) ExecuteWithRetry(ctx context.Context, queueID string, jobData interface{}, policy *RetryPolicy, processor Processor, opts RetryOptions) (*RetryRecord, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.retrier.ExecuteWithRetry(ctx, queueID, jobData, policy, processor, opts)
}

// RouteToDeadLetterQueue moves a failed item into the source queue's
// dead-letter queue, creating it on first use. record and cfg may be
// nil; the DLQ id defaults to "<sourceQueueID>-dlq".
func (b *Broker) RouteToDeadLetterQueue(ctx context.Context, sourceQueueID string, item *Item, failure error, record *RetryRecord, cfg *DLQConfig) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.retrier.RouteToDeadLetterQueue(ctx, sourceQueueID, item, failure, record, cfg)
}

// GetRetryRecord returns the retry history of one job.
func (b *Broker) GetRetryRecord(ctx context.Context, jobID string) (*RetryRecord, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.retrier.GetRetryRecord(ctx, jobID)
}

// GetRetryHistory lists a queue's retry records, newest first.
func (b *Broker) GetRetryHistory(ctx context.Context, queueID string, limit int) ([]*RetryRecord, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.retrier.GetRetryHistory(ctx, queueID, limit)
}

// AddJobWithDependencies adds a job that stays parked until deps
// complete.
func (b *Broker) AddJobWithDependencies(ctx context.Context, queueID string, data interface{}, deps []string, opts DependencyOptions) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.deps.AddJobWithDependencies(ctx, queueID, data, deps, opts)
}

// GetDependencyStatus reports which of a job's dependencies are still
// outstanding.
func (b *Broker) GetDependencyStatus(ctx context.Context, queueID, jobID string) (*DependencyStatus, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.deps.GetDependencyStatus(ctx, queueID, jobID)
}

// MarkJobCompleted records a completion and releases jobs that were
// waiting on it.
func (b *Broker) MarkJobCompleted(ctx context.Context, queueID, jobID string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.deps.MarkJobCompleted(ctx, queueID, jobID)
}

// MarkJobFailed records a failure and cascades it to dependents per
// opts.
func (b *Broker) MarkJobFailed(ctx context.Context, queueID, jobID string, opts FailOptions) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.deps.MarkJobFailed(ctx, queueID, jobID, opts)
}

// WaitForCompletion blocks until the job reaches a terminal status or
// the wait times out.
func (b *Broker) WaitForCompletion(ctx context.Context, queueID, jobID string, timeout time.Duration) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.deps.WaitForCompletion(ctx, queueID, jobID, timeout)
}

// AddJobWithTimeout adds a job with an execution deadline tracked in
// Redis.
func (b *Broker) AddJobWithTimeout(ctx context.Context, queueID string, data interface{}, d time.Duration, opts TimeoutOptions) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.monitor.AddJobWithTimeout(ctx, queueID, data, d, opts)
}

// ExecuteJobWithTimeout races processor against the job's tracked
// deadline.
func (b *Broker) ExecuteJobWithTimeout(ctx context.Context, queueID, jobID string, processor Processor) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.monitor.ExecuteJobWithTimeout(ctx, queueID, jobID, timeout.Processor(processor))
}

// ExtendJobTimeout pushes a tracked deadline further out.
func (b *Broker) ExtendJobTimeout(ctx context.Context, queueID, jobID string, extension time.Duration) (*TimeoutTracker, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.monitor.ExtendJobTimeout(ctx, queueID, jobID, extension)
}

// GetTimeoutTracker returns a job's deadline tracker.
func (b *Broker) GetTimeoutTracker(ctx context.Context, queueID, jobID string) (*TimeoutTracker, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.monitor.GetTimeoutTracker(ctx, queueID, jobID)
}

// CheckTimedOutJobs runs one timeout sweep for a queue outside the
// monitor loop's cadence.
func (b *Broker) CheckTimedOutJobs(ctx context.Context, queueID string) (int, error) {
	if err := b.ready(ctx); err != nil {
		return 0, err
	}
	return b.monitor.CheckTimedOutJobs(ctx, queueID)
}
