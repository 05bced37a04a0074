package scheduler

import (
	"testing"
	"time"

	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
)

func registrySchedule(id string) *model.Schedule {
	return &model.Schedule{
		ID:        id,
		QueueID:   "orders",
		CronExpr:  "0 * * * *",
		Enabled:   true,
		CreatedAt: scheduleBase,
	}
}

func TestRegistry_AddAndGet(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Add(registrySchedule("hourly")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	got, ok := reg.Get("hourly")
	if !ok {
		t.Fatal("expected schedule present")
	}
	if got.Timezone != "UTC" {
		t.Errorf("expected timezone defaulted to UTC, got %q", got.Timezone)
	}
	if reg.Count() != 1 {
		t.Errorf("expected count 1, got %d", reg.Count())
	}

	err := reg.Add(registrySchedule("hourly"))
	if !qerrors.IsAlreadyExists(err) {
		t.Errorf("expected AlreadyExists on duplicate, got %v", err)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := reg.Add(registrySchedule(id)); err != nil {
			t.Fatalf("add %s failed: %v", id, err)
		}
	}

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 schedules, got %d", len(list))
	}
	want := []string{"alpha", "bravo", "charlie"}
	for i, schedule := range list {
		if schedule.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], schedule.ID)
		}
	}
}

func TestRegistry_Remove(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Add(registrySchedule("hourly")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if !reg.Remove("hourly") {
		t.Error("expected remove to report the entry existed")
	}
	if _, ok := reg.Get("hourly"); ok {
		t.Error("expected schedule gone")
	}
	if reg.Remove("hourly") {
		t.Error("expected second remove to report absence")
	}
}

func TestRegistry_NextRunHourly(t *testing.T) {
	reg := NewRegistry()
	schedule := registrySchedule("hourly")

	next, err := reg.NextRun(schedule, scheduleBase)
	if err != nil {
		t.Fatalf("next run failed: %v", err)
	}
	want := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestRegistry_NextRunTimezone(t *testing.T) {
	reg := NewRegistry()
	schedule := &model.Schedule{
		ID:       "morning-digest",
		QueueID:  "orders",
		CronExpr: "0 9 * * *",
		Timezone: "America/New_York",
	}

	// 12:00 UTC is 07:00 in New York in January, so 09:00 local is
	// 14:00 UTC the same day.
	after := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	next, err := reg.NextRun(schedule, after)
	if err != nil {
		t.Fatalf("next run failed: %v", err)
	}
	want := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestRegistry_NextRunBadCron(t *testing.T) {
	reg := NewRegistry()
	schedule := registrySchedule("hourly")
	schedule.CronExpr = "not a cron"

	if _, err := reg.NextRun(schedule, scheduleBase); !qerrors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
