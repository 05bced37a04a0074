package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/hooks"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/serialization"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// Fixed base time so cron boundaries land where the assertions expect.
var scheduleBase = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func hourlySchedule(id string) *model.Schedule {
	return &model.Schedule{
		ID:        id,
		QueueID:   "orders",
		CronExpr:  "0 * * * *",
		Data:      "report",
		Enabled:   true,
		CreatedAt: scheduleBase,
	}
}

func TestRegisterSchedule_Validation(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		schedule *model.Schedule
	}{
		{"empty id", &model.Schedule{QueueID: "orders", CronExpr: "* * * * *"}},
		{"bad id", &model.Schedule{ID: "bad id!", QueueID: "orders", CronExpr: "* * * * *"}},
		{"empty queue", &model.Schedule{ID: "s1", CronExpr: "* * * * *"}},
		{"empty cron", &model.Schedule{ID: "s1", QueueID: "orders"}},
		{"bad cron", &model.Schedule{ID: "s1", QueueID: "orders", CronExpr: "61 * * * *"}},
		{"bad timezone", &model.Schedule{ID: "s1", QueueID: "orders", CronExpr: "* * * * *", Timezone: "Mars/Olympus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := sched.RegisterSchedule(ctx, tc.schedule)
			if !qerrors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegisterSchedule_Duplicate(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	if err := sched.RegisterSchedule(ctx, hourlySchedule("hourly-report")); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	err := sched.RegisterSchedule(ctx, hourlySchedule("hourly-report"))
	if !qerrors.IsAlreadyExists(err) {
		t.Errorf("expected AlreadyExists, got %v", err)
	}
}

func TestRegisterSchedule_Persists(t *testing.T) {
	sched, _, mr := newTestScheduler(t)
	ctx := context.Background()

	if err := sched.RegisterSchedule(ctx, hourlySchedule("hourly-report")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if !mr.Exists(storage.ScheduleKey("hourly-report")) {
		t.Error("expected schedule hash in redis")
	}
	ids, err := sched.store.SMembers(ctx, storage.ScheduleIndexKey())
	if err != nil {
		t.Fatalf("failed to read index: %v", err)
	}
	if len(ids) != 1 || ids[0] != "hourly-report" {
		t.Errorf("index mismatch: %v", ids)
	}

	got, err := sched.GetSchedule("hourly-report")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Timezone != "UTC" {
		t.Errorf("expected timezone to default to UTC, got %q", got.Timezone)
	}
	if list := sched.ListSchedules(); len(list) != 1 {
		t.Errorf("expected 1 schedule listed, got %d", len(list))
	}
}

func TestLoadSchedules_RebuildsRegistry(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	first := New(newTestManager(t, st, nil), nil, config.Default().Broker, &logger.NoOpLogger{}, nil)
	if err := first.RegisterSchedule(ctx, hourlySchedule("hourly-report")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// A fresh process over the same store starts with an empty registry.
	second := New(newTestManager(t, st, nil), nil, config.Default().Broker, &logger.NoOpLogger{}, nil)
	if second.registry.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", second.registry.Count())
	}
	loaded, err := second.LoadSchedules(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded != 1 {
		t.Errorf("expected 1 schedule loaded, got %d", loaded)
	}
	if _, err := second.GetSchedule("hourly-report"); err != nil {
		t.Errorf("expected schedule after load, got %v", err)
	}
}

func TestProcessRecurring_SpawnsWhenDue(t *testing.T) {
	sched, mgr, mr := newTestScheduler(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")

	if err := sched.RegisterSchedule(ctx, hourlySchedule("hourly-report")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// 11:01 is past the 11:00 occurrence that follows creation at 10:30.
	fireAt := scheduleBase.Add(31 * time.Minute)
	if fired := sched.processRecurring(ctx, fireAt); fired != 1 {
		t.Fatalf("expected 1 fire, got %d", fired)
	}

	item, err := mgr.PopFromQueue(ctx, "orders", hooks.Set{})
	if err != nil || item == nil {
		t.Fatalf("pop failed: item=%v err=%v", item, err)
	}
	if item.Data != "report" {
		t.Errorf("spawned data mismatch: %v", item.Data)
	}
	if item.Metadata["scheduleId"] != "hourly-report" || item.Metadata["recurring"] != true {
		t.Errorf("spawn metadata mismatch: %v", item.Metadata)
	}

	got, err := sched.GetSchedule("hourly-report")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(fireAt) {
		t.Errorf("expected LastRunAt %v, got %v", fireAt, got.LastRunAt)
	}
	if mr.HGet(storage.ScheduleKey("hourly-report"), "lastRunAt") != serialization.FormatTime(fireAt) {
		t.Error("expected lastRunAt persisted")
	}

	// The 12:00 occurrence has not arrived a minute later.
	if fired := sched.processRecurring(ctx, scheduleBase.Add(32*time.Minute)); fired != 0 {
		t.Errorf("expected no fire before the next occurrence, got %d", fired)
	}
}

func TestProcessRecurring_NeverRanWaitsForFirstOccurrence(t *testing.T) {
	sched, mgr, _ := newTestScheduler(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")

	if err := sched.RegisterSchedule(ctx, hourlySchedule("hourly-report")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Created 10:30, so nothing fires before 11:00.
	if fired := sched.processRecurring(ctx, scheduleBase.Add(15*time.Minute)); fired != 0 {
		t.Errorf("expected no fire before the first occurrence, got %d", fired)
	}
	if fired := sched.processRecurring(ctx, scheduleBase.Add(31*time.Minute)); fired != 1 {
		t.Errorf("expected the first occurrence to fire, got %d", fired)
	}
}

func TestProcessRecurring_Disabled(t *testing.T) {
	sched, mgr, _ := newTestScheduler(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")

	if err := sched.RegisterSchedule(ctx, hourlySchedule("hourly-report")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := sched.DisableSchedule(ctx, "hourly-report"); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	fireAt := scheduleBase.Add(31 * time.Minute)
	if fired := sched.processRecurring(ctx, fireAt); fired != 0 {
		t.Errorf("expected disabled schedule to be skipped, got %d", fired)
	}

	if err := sched.EnableSchedule(ctx, "hourly-report"); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	if fired := sched.processRecurring(ctx, fireAt); fired != 1 {
		t.Errorf("expected re-enabled schedule to fire, got %d", fired)
	}
}

func TestProcessRecurring_LockHeldSkips(t *testing.T) {
	sched, mgr, _ := newTestScheduler(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")

	if err := sched.RegisterSchedule(ctx, hourlySchedule("hourly-report")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Another instance holds the schedule lock.
	lock, err := AcquireLock(ctx, sched.store, storage.ScheduleLockKey("hourly-report"), time.Minute)
	if err != nil || lock == nil {
		t.Fatalf("failed to take the lock: lock=%v err=%v", lock, err)
	}

	fireAt := scheduleBase.Add(31 * time.Minute)
	if fired := sched.processRecurring(ctx, fireAt); fired != 0 {
		t.Errorf("expected no fire while locked, got %d", fired)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if fired := sched.processRecurring(ctx, fireAt); fired != 1 {
		t.Errorf("expected fire after release, got %d", fired)
	}
}

func TestEnableDisableSchedule_Persists(t *testing.T) {
	sched, _, mr := newTestScheduler(t)
	ctx := context.Background()

	if err := sched.RegisterSchedule(ctx, hourlySchedule("hourly-report")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := sched.DisableSchedule(ctx, "hourly-report"); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	got, err := sched.GetSchedule("hourly-report")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Enabled {
		t.Error("expected schedule disabled")
	}
	if mr.HGet(storage.ScheduleKey("hourly-report"), "enabled") != "false" {
		t.Error("expected disabled state persisted")
	}

	if err := sched.DisableSchedule(ctx, "missing"); !qerrors.IsNotFound(err) {
		t.Errorf("expected NotFound for unknown schedule, got %v", err)
	}
}

func TestUnregisterSchedule(t *testing.T) {
	sched, _, mr := newTestScheduler(t)
	ctx := context.Background()

	if err := sched.RegisterSchedule(ctx, hourlySchedule("hourly-report")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := sched.UnregisterSchedule(ctx, "hourly-report"); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}

	if mr.Exists(storage.ScheduleKey("hourly-report")) {
		t.Error("expected schedule hash removed")
	}
	ids, err := sched.store.SMembers(ctx, storage.ScheduleIndexKey())
	if err != nil {
		t.Fatalf("failed to read index: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty index, got %v", ids)
	}
	if _, err := sched.GetSchedule("hourly-report"); !qerrors.IsNotFound(err) {
		t.Errorf("expected NotFound after unregister, got %v", err)
	}

	if err := sched.UnregisterSchedule(ctx, "hourly-report"); !qerrors.IsNotFound(err) {
		t.Errorf("expected NotFound on second unregister, got %v", err)
	}
}
