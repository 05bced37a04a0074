package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/serialization"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// RegisterSchedule validates and persists a recurring schedule and starts
// evaluating it on the next tick. The first fire is the first cron
// occurrence after registration.
func (s *Scheduler) RegisterSchedule(ctx context.Context, schedule *model.Schedule) error {
	const op = "scheduler.RegisterSchedule"
	start := time.Now()

	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now().UTC()
	}
	if err := s.registry.Add(schedule); err != nil {
		s.observe(op, schedule.QueueID, start, err)
		return err
	}

	fields, err := schedule.ToHash()
	if err != nil {
		s.registry.Remove(schedule.ID)
		err = qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(schedule.QueueID)
		s.observe(op, schedule.QueueID, start, err)
		return err
	}
	_, err = s.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, storage.ScheduleKey(schedule.ID), fields)
		pipe.SAdd(ctx, storage.ScheduleIndexKey(), schedule.ID)
		return nil
	})
	if err != nil {
		s.registry.Remove(schedule.ID)
		s.observe(op, schedule.QueueID, start, err)
		return err
	}

	s.log.Info("recurring schedule registered",
		"schedule_id", schedule.ID,
		"queue_id", schedule.QueueID,
		"cron", schedule.CronExpr)
	s.observe(op, schedule.QueueID, start, nil)
	return nil
}

// UnregisterSchedule removes a schedule from the registry and storage.
func (s *Scheduler) UnregisterSchedule(ctx context.Context, scheduleID string) error {
	const op = "scheduler.UnregisterSchedule"
	start := time.Now()

	schedule, exists := s.registry.Get(scheduleID)
	if !exists {
		err := qerrors.Newf(qerrors.KindNotFound, op, "schedule %q not registered", scheduleID)
		s.observe(op, "", start, err)
		return err
	}

	_, err := s.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, storage.ScheduleKey(scheduleID))
		pipe.SRem(ctx, storage.ScheduleIndexKey(), scheduleID)
		return nil
	})
	if err != nil {
		s.observe(op, schedule.QueueID, start, err)
		return err
	}
	s.registry.Remove(scheduleID)

	s.log.Info("recurring schedule unregistered", "schedule_id", scheduleID)
	s.observe(op, schedule.QueueID, start, nil)
	return nil
}

// EnableSchedule resumes a paused schedule.
func (s *Scheduler) EnableSchedule(ctx context.Context, scheduleID string) error {
	return s.setScheduleEnabled(ctx, "scheduler.EnableSchedule", scheduleID, true)
}

// DisableSchedule pauses a schedule without removing it.
func (s *Scheduler) DisableSchedule(ctx context.Context, scheduleID string) error {
	return s.setScheduleEnabled(ctx, "scheduler.DisableSchedule", scheduleID, false)
}

func (s *Scheduler) setScheduleEnabled(ctx context.Context, op, scheduleID string, enabled bool) error {
	start := time.Now()

	schedule, exists := s.registry.Get(scheduleID)
	if !exists {
		err := qerrors.Newf(qerrors.KindNotFound, op, "schedule %q not registered", scheduleID)
		s.observe(op, "", start, err)
		return err
	}

	fields := map[string]string{"enabled": serialization.HashString(enabled)}
	if err := s.store.HSet(ctx, storage.ScheduleKey(scheduleID), fields); err != nil {
		s.observe(op, schedule.QueueID, start, err)
		return err
	}
	schedule.Enabled = enabled
	s.observe(op, schedule.QueueID, start, nil)
	return nil
}

// GetSchedule returns the live registry entry. Treat it as read-only; the
// tick mutates LastRunAt in place.
func (s *Scheduler) GetSchedule(scheduleID string) (*model.Schedule, error) {
	const op = "scheduler.GetSchedule"
	schedule, exists := s.registry.Get(scheduleID)
	if !exists {
		return nil, qerrors.Newf(qerrors.KindNotFound, op, "schedule %q not registered", scheduleID)
	}
	return schedule, nil
}

// ListSchedules returns the registered schedules sorted by id.
func (s *Scheduler) ListSchedules() []*model.Schedule {
	return s.registry.List()
}

// LoadSchedules rebuilds the registry from storage. Invalid or duplicate
// entries are logged and skipped. Returns the number of schedules loaded.
func (s *Scheduler) LoadSchedules(ctx context.Context) (int, error) {
	const op = "scheduler.LoadSchedules"
	start := time.Now()

	ids, err := s.store.SMembers(ctx, storage.ScheduleIndexKey())
	if err != nil {
		s.observe(op, "", start, err)
		return 0, err
	}

	loaded := 0
	for _, id := range ids {
		fields, err := s.store.HGetAll(ctx, storage.ScheduleKey(id))
		if err != nil {
			s.log.Error("failed to read schedule", "schedule_id", id, "error", err.Error())
			continue
		}
		if len(fields) == 0 {
			s.log.Warn("schedule index entry without body", "schedule_id", id)
			continue
		}
		schedule, err := model.ScheduleFromHash(fields)
		if err != nil {
			s.log.Error("corrupted schedule", "schedule_id", id, "error", err.Error())
			continue
		}
		if err := s.registry.Add(schedule); err != nil {
			s.log.Warn("skipping schedule", "schedule_id", id, "error", err.Error())
			continue
		}
		loaded++
	}

	s.log.Info("recurring schedules loaded", "count", loaded)
	s.observe(op, "", start, nil)
	return loaded, nil
}

// processRecurring fires every enabled schedule whose next cron occurrence
// has passed. Returns the number of jobs spawned by this instance.
func (s *Scheduler) processRecurring(ctx context.Context, now time.Time) int {
	spawned := 0
	for _, schedule := range s.registry.List() {
		if !schedule.Enabled {
			continue
		}
		if !s.scheduleDue(schedule, now) {
			continue
		}
		if s.fireSchedule(ctx, schedule, now) {
			spawned++
		}
	}
	return spawned
}

// scheduleDue reports whether the schedule's next occurrence after its
// last run has passed. A schedule that never ran counts from creation.
func (s *Scheduler) scheduleDue(schedule *model.Schedule, now time.Time) bool {
	lastRun := schedule.CreatedAt
	if schedule.LastRunAt != nil {
		lastRun = *schedule.LastRunAt
	}
	nextRun, err := s.registry.NextRun(schedule, lastRun)
	if err != nil {
		s.log.Error("failed to compute next run", "schedule_id", schedule.ID, "error", err.Error())
		return false
	}
	// One second of slack absorbs tick jitter around the boundary.
	return now.After(nextRun.Add(-time.Second)) || now.Equal(nextRun)
}

// fireSchedule spawns one job under the schedule's distributed lock.
// Reports whether this instance did the spawn.
func (s *Scheduler) fireSchedule(ctx context.Context, schedule *model.Schedule, now time.Time) bool {
	lock, err := AcquireLock(ctx, s.store, storage.ScheduleLockKey(schedule.ID), s.lockTTL)
	if err != nil {
		s.log.Error("failed to acquire schedule lock", "schedule_id", schedule.ID, "error", err.Error())
		return false
	}
	if lock == nil {
		s.log.Debug("schedule locked by another instance", "schedule_id", schedule.ID)
		return false
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			s.log.Warn("failed to release schedule lock", "schedule_id", schedule.ID, "error", err.Error())
		}
	}()

	meta := make(map[string]interface{}, len(schedule.Metadata)+2)
	for k, v := range schedule.Metadata {
		meta[k] = v
	}
	meta["scheduleId"] = schedule.ID
	meta["recurring"] = true

	item, err := s.mgr.AddToQueue(ctx, schedule.QueueID, schedule.Data, queue.AddOptions{
		Priority:    schedule.Priority,
		Timeout:     schedule.Timeout,
		RetryPolicy: schedule.RetryPolicy,
		Metadata:    meta,
	})
	if err != nil {
		// LastRunAt stays put, so the next tick retries the fire.
		s.log.Error("failed to spawn recurring job",
			"schedule_id", schedule.ID,
			"queue_id", schedule.QueueID,
			"error", err.Error())
		return false
	}

	runAt := now.UTC()
	schedule.LastRunAt = &runAt
	fields := map[string]string{"lastRunAt": serialization.FormatTime(runAt)}
	if err := s.store.HSet(ctx, storage.ScheduleKey(schedule.ID), fields); err != nil {
		s.log.Warn("failed to persist schedule run time", "schedule_id", schedule.ID, "error", err.Error())
	}

	s.log.Info("recurring job spawned",
		"schedule_id", schedule.ID,
		"queue_id", schedule.QueueID,
		"item_id", item.ID)
	return true
}
