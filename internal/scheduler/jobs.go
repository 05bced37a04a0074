package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/serialization"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// maxPromotionsPerTick bounds one due-job sweep of a queue so a large
// backlog cannot monopolize a tick.
const maxPromotionsPerTick = 100

// ScheduleOptions shapes a scheduled job. The zero value schedules a
// plain job due at the given time.
type ScheduleOptions struct {
	// JobID overrides the generated id; the promoted item reuses it.
	JobID string
	// Priority carries over to the promoted item.
	Priority int
	// Timeout in milliseconds carries over to the promoted item.
	Timeout int64
	// RetryPolicy carries over to the promoted item.
	RetryPolicy *model.RetryPolicy
	// Dependencies carries over to the promoted item.
	Dependencies []string
	// Metadata is attached to the job and the promoted item.
	Metadata map[string]interface{}
	// ScheduleID links the job to the recurring schedule that spawned it.
	ScheduleID string
}

// ScheduleJob parks data in queueID's time index until scheduleTime. Past
// due times are allowed; the job promotes on the next tick.
func (s *Scheduler) ScheduleJob(ctx context.Context, queueID string, data interface{}, scheduleTime time.Time, opts ScheduleOptions) (*model.ScheduledJob, error) {
	const op = "scheduler.ScheduleJob"
	start := time.Now()

	if _, err := s.mgr.GetQueue(ctx, queueID); err != nil {
		s.observe(op, queueID, start, err)
		return nil, err
	}

	job := model.NewScheduledJob(queueID, data, scheduleTime)
	if opts.JobID != "" {
		job.ID = opts.JobID
	}
	job.Priority = opts.Priority
	job.Timeout = opts.Timeout
	job.RetryPolicy = opts.RetryPolicy
	job.Dependencies = opts.Dependencies
	job.Metadata = opts.Metadata
	job.ScheduleID = opts.ScheduleID

	if err := s.writeJob(ctx, op, job); err != nil {
		s.observe(op, queueID, start, err)
		return nil, err
	}

	s.log.Debug("job scheduled", "queue_id", queueID, "job_id", job.ID, "due", job.ScheduledFor.String())
	s.emit(events.TypeJobScheduled, queueID, map[string]interface{}{
		"jobId":        job.ID,
		"scheduledFor": serialization.FormatTime(job.ScheduledFor),
	})
	s.observe(op, queueID, start, nil)
	return job, nil
}

// RescheduleJob moves a pending job to a new due time.
func (s *Scheduler) RescheduleJob(ctx context.Context, queueID, jobID string, newTime time.Time) (*model.ScheduledJob, error) {
	const op = "scheduler.RescheduleJob"
	start := time.Now()

	job, err := s.loadJob(ctx, op, queueID, jobID)
	if err != nil {
		s.observe(op, queueID, start, err)
		return nil, err
	}
	job.ScheduledFor = newTime.UTC()
	job.RescheduledCount++
	job.Touch()

	if err := s.writeJob(ctx, op, job); err != nil {
		s.observe(op, queueID, start, err)
		return nil, err
	}

	s.emit(events.TypeJobRescheduled, queueID, map[string]interface{}{
		"jobId":            job.ID,
		"scheduledFor":     serialization.FormatTime(job.ScheduledFor),
		"rescheduledCount": job.RescheduledCount,
	})
	s.observe(op, queueID, start, nil)
	return job, nil
}

// CancelScheduledJob removes a pending job from the index and deletes its
// body. Fails with NotFound when the job does not exist.
func (s *Scheduler) CancelScheduledJob(ctx context.Context, queueID, jobID string) (*model.ScheduledJob, error) {
	const op = "scheduler.CancelScheduledJob"
	start := time.Now()

	job, err := s.loadJob(ctx, op, queueID, jobID)
	if err != nil {
		s.observe(op, queueID, start, err)
		return nil, err
	}

	// The stored queue id is authoritative for the index key; a caller
	// passing the wrong queue still cancels cleanly.
	_, err = s.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, storage.ScheduledKey(job.QueueID), job.ID)
		pipe.Del(ctx, storage.JobKey(job.ID))
		return nil
	})
	if err != nil {
		s.observe(op, queueID, start, err)
		return nil, err
	}

	job.Status = model.StatusCancelled
	s.emit(events.TypeJobCancelled, queueID, map[string]interface{}{"jobId": job.ID})
	s.observe(op, queueID, start, nil)
	return job, nil
}

// GetScheduledJobs returns pending jobs in due-time order. limit caps the
// result, 0 returns everything.
func (s *Scheduler) GetScheduledJobs(ctx context.Context, queueID string, limit int) ([]*model.ScheduledJob, error) {
	const op = "scheduler.GetScheduledJobs"
	start := time.Now()

	if _, err := s.mgr.GetQueue(ctx, queueID); err != nil {
		s.observe(op, queueID, start, err)
		return nil, err
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.store.ZRange(ctx, storage.ScheduledKey(queueID), 0, stop)
	if err != nil {
		s.observe(op, queueID, start, err)
		return nil, err
	}

	jobs := make([]*model.ScheduledJob, 0, len(ids))
	for _, id := range ids {
		job, err := s.loadJob(ctx, op, queueID, id)
		if err != nil {
			// Promoted or cancelled between the range read and here.
			if qerrors.IsNotFound(err) {
				continue
			}
			s.observe(op, queueID, start, err)
			return nil, err
		}
		jobs = append(jobs, job)
	}
	s.observe(op, queueID, start, nil)
	return jobs, nil
}

// GetNextScheduledTime peeks the earliest due time, nil when the index is
// empty. External pollers use it to pace their own wakeups.
func (s *Scheduler) GetNextScheduledTime(ctx context.Context, queueID string) (*time.Time, error) {
	const op = "scheduler.GetNextScheduledTime"
	start := time.Now()

	members, err := s.store.ZRangeByScoreWithScores(ctx, storage.ScheduledKey(queueID), "-inf", "+inf", 0, 1)
	if err != nil {
		s.observe(op, queueID, start, err)
		return nil, err
	}
	if len(members) == 0 {
		s.observe(op, queueID, start, nil)
		return nil, nil
	}
	next := serialization.FromEpochMillis(int64(members[0].Score))
	s.observe(op, queueID, start, nil)
	return &next, nil
}

// ProcessDueJobs promotes up to maxPromotionsPerTick due jobs of one queue
// into its item list, in nondecreasing due-time order. A promotion failure
// flags the job hash status=failed and leaves the index entry for
// inspection; flagged jobs are skipped on later sweeps. Returns the number
// of jobs promoted.
func (s *Scheduler) ProcessDueJobs(ctx context.Context, queueID string) (int, error) {
	const op = "scheduler.ProcessDueJobs"
	start := time.Now()

	nowMs := strconv.FormatInt(serialization.EpochMillis(time.Now()), 10)
	key := storage.ScheduledKey(queueID)
	ids, err := s.store.ZRangeByScore(ctx, key, "-inf", nowMs, 0, maxPromotionsPerTick)
	if err != nil {
		s.observe(op, queueID, start, err)
		return 0, err
	}
	if len(ids) == 0 {
		s.observe(op, queueID, start, nil)
		return 0, nil
	}

	promoted := 0
	for _, id := range ids {
		fields, err := s.store.HGetAll(ctx, storage.JobKey(id))
		if err != nil {
			s.log.Error("failed to read scheduled job", "queue_id", queueID, "job_id", id, "error", err.Error())
			continue
		}
		if len(fields) == 0 {
			// Body already gone; drop the orphaned index entry.
			if err := s.store.ZRem(ctx, key, id); err != nil {
				s.log.Warn("failed to drop orphaned schedule entry", "queue_id", queueID, "job_id", id, "error", err.Error())
			}
			continue
		}
		job, err := model.ScheduledJobFromHash(fields)
		if err != nil {
			s.log.Error("corrupted scheduled job", "queue_id", queueID, "job_id", id, "error", err.Error())
			s.flagFailed(ctx, id)
			continue
		}
		if job.Status == model.StatusFailed {
			continue
		}

		if err := s.promote(ctx, job); err != nil {
			s.log.Error("failed to promote scheduled job", "queue_id", queueID, "job_id", id, "error", err.Error())
			s.flagFailed(ctx, id)
			continue
		}

		_, err = s.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, key, id)
			pipe.Del(ctx, storage.JobKey(id))
			return nil
		})
		if err != nil {
			// The item is queued; the leftover entry is skipped above once
			// its hash is flagged.
			s.log.Warn("failed to clear promoted job", "queue_id", queueID, "job_id", id, "error", err.Error())
			s.flagFailed(ctx, id)
		}
		promoted++
	}

	s.log.Debug("due jobs processed", "queue_id", queueID, "count", promoted)
	s.emit(events.TypeScheduledJobsProcessed, queueID, map[string]interface{}{"count": promoted})
	s.observe(op, queueID, start, nil)
	return promoted, nil
}

// ProcessAllDue sweeps every known queue. Per-queue failures are logged
// and do not stop the sweep.
func (s *Scheduler) ProcessAllDue(ctx context.Context) (int, error) {
	queues, err := s.mgr.GetAllQueues(ctx, queue.ListOptions{})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, q := range queues {
		n, err := s.ProcessDueJobs(ctx, q.ID)
		if err != nil {
			s.log.Error("due-job sweep failed for queue", "queue_id", q.ID, "error", err.Error())
			continue
		}
		total += n
	}
	return total, nil
}

// CleanupFailedPromotions collects schedule entries left behind by failed
// promotions once their due time is more than olderThan in the past.
// Entries whose job hash is gone are dropped as orphans regardless of
// status. Pending jobs inside the window are left for the promotion
// sweep. At most maxPromotionsPerTick entries are examined per call.
func (s *Scheduler) CleanupFailedPromotions(ctx context.Context, queueID string, olderThan time.Duration) (int, error) {
	const op = "scheduler.CleanupFailedPromotions"
	start := time.Now()

	cutoff := strconv.FormatInt(serialization.EpochMillis(time.Now().Add(-olderThan)), 10)
	key := storage.ScheduledKey(queueID)
	ids, err := s.store.ZRangeByScore(ctx, key, "-inf", cutoff, 0, maxPromotionsPerTick)
	if err != nil {
		s.observe(op, queueID, start, err)
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		fields, err := s.store.HGetAll(ctx, storage.JobKey(id))
		if err != nil {
			s.log.Warn("failed to read stale scheduled job", "queue_id", queueID, "job_id", id, "error", err.Error())
			continue
		}
		if len(fields) == 0 {
			if err := s.store.ZRem(ctx, key, id); err != nil {
				s.log.Warn("failed to drop orphaned schedule entry", "queue_id", queueID, "job_id", id, "error", err.Error())
				continue
			}
			removed++
			continue
		}
		if fields["status"] != string(model.StatusFailed) {
			continue
		}
		_, err = s.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, storage.JobKey(id))
			pipe.ZRem(ctx, key, id)
			return nil
		})
		if err != nil {
			s.log.Warn("failed to remove failed promotion", "queue_id", queueID, "job_id", id, "error", err.Error())
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info("failed promotions cleaned", "queue_id", queueID, "count", removed)
	}
	s.observe(op, queueID, start, nil)
	return removed, nil
}

// promote hands the job body to the queue core under the job's own id.
func (s *Scheduler) promote(ctx context.Context, job *model.ScheduledJob) error {
	meta := make(map[string]interface{}, len(job.Metadata)+3)
	for k, v := range job.Metadata {
		meta[k] = v
	}
	meta["scheduledJob"] = true
	meta["originalScheduleTime"] = serialization.FormatTime(job.ScheduledFor)
	if job.ScheduleID != "" {
		meta["scheduleId"] = job.ScheduleID
	}

	_, err := s.mgr.AddToQueue(ctx, job.QueueID, job.Data, queue.AddOptions{
		ItemID:       job.ID,
		Priority:     job.Priority,
		Timeout:      job.Timeout,
		RetryPolicy:  job.RetryPolicy,
		Dependencies: job.Dependencies,
		Metadata:     meta,
	})
	return err
}

// flagFailed marks a job hash so later sweeps skip it. The index entry
// stays behind for inspection; the cleanup loop collects it.
func (s *Scheduler) flagFailed(ctx context.Context, jobID string) {
	fields := map[string]string{
		"status":    string(model.StatusFailed),
		"updatedAt": serialization.FormatTime(time.Now().UTC()),
	}
	if err := s.store.HSet(ctx, storage.JobKey(jobID), fields); err != nil {
		s.log.Warn("failed to flag scheduled job", "job_id", jobID, "error", err.Error())
	}
}

// writeJob persists the job body and its due-time score in one
// transaction.
func (s *Scheduler) writeJob(ctx context.Context, op string, job *model.ScheduledJob) error {
	fields, err := job.ToHash()
	if err != nil {
		return qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(job.QueueID).WithItem(job.ID)
	}
	_, err = s.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, storage.JobKey(job.ID), fields)
		pipe.ZAdd(ctx, storage.ScheduledKey(job.QueueID), redis.Z{
			Score:  float64(serialization.EpochMillis(job.ScheduledFor)),
			Member: job.ID,
		})
		return nil
	})
	return err
}

// loadJob reads a job body, NotFound when absent.
func (s *Scheduler) loadJob(ctx context.Context, op, queueID, jobID string) (*model.ScheduledJob, error) {
	fields, err := s.store.HGetAll(ctx, storage.JobKey(jobID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, qerrors.Wrap(qerrors.KindNotFound, op, qerrors.ErrJobNotFound).WithQueue(queueID).WithItem(jobID)
	}
	job, err := model.ScheduledJobFromHash(fields)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindStorage, op, err).WithQueue(queueID).WithItem(jobID)
	}
	return job, nil
}
