package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
)

// Registry holds the recurring schedules of one broker instance. The
// persisted copies under qm:queue:schedule:* are the durable source;
// LoadSchedules rebuilds the registry from them at startup.
type Registry struct {
	mu        sync.RWMutex
	schedules map[string]*model.Schedule
	parser    cron.Parser
}

// NewRegistry creates an empty schedule registry with a standard
// five-field cron parser.
func NewRegistry() *Registry {
	return &Registry{
		schedules: make(map[string]*model.Schedule),
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Add validates and stores a schedule. Fails with AlreadyExists on a
// duplicate id.
func (r *Registry) Add(schedule *model.Schedule) error {
	const op = "scheduler.Registry.Add"
	if err := r.validate(op, schedule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schedules[schedule.ID]; exists {
		return qerrors.Newf(qerrors.KindAlreadyExists, op, "schedule %q already registered", schedule.ID)
	}
	if schedule.Timezone == "" {
		schedule.Timezone = "UTC"
	}
	r.schedules[schedule.ID] = schedule
	return nil
}

// Remove drops a schedule, reporting whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schedules[id]; !exists {
		return false
	}
	delete(r.schedules, id)
	return true
}

// Get retrieves a schedule by id.
func (r *Registry) Get(id string) (*model.Schedule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, exists := r.schedules[id]
	return s, exists
}

// List returns the schedules sorted by id.
func (r *Registry) List() []*model.Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schedules := make([]*model.Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		schedules = append(schedules, s)
	}
	sort.Slice(schedules, func(i, j int) bool { return schedules[i].ID < schedules[j].ID })
	return schedules
}

// Count returns the number of registered schedules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schedules)
}

// NextRun computes the first cron occurrence after the given time, in the
// schedule's timezone.
func (r *Registry) NextRun(schedule *model.Schedule, after time.Time) (time.Time, error) {
	const op = "scheduler.Registry.NextRun"
	cronSchedule, err := r.parser.Parse(schedule.CronExpr)
	if err != nil {
		return time.Time{}, qerrors.Wrap(qerrors.KindValidation, op, err)
	}
	loc := time.UTC
	if schedule.Timezone != "" && schedule.Timezone != "UTC" {
		loc, err = time.LoadLocation(schedule.Timezone)
		if err != nil {
			return time.Time{}, qerrors.Wrap(qerrors.KindValidation, op, err)
		}
	}
	return cronSchedule.Next(after.In(loc)), nil
}

func (r *Registry) validate(op string, schedule *model.Schedule) error {
	if schedule.ID == "" {
		return qerrors.New(qerrors.KindValidation, op, "schedule id cannot be empty")
	}
	if model.ValidQueueID(schedule.ID) != nil {
		return qerrors.Newf(qerrors.KindValidation, op, "invalid schedule id %q", schedule.ID)
	}
	if model.ValidQueueID(schedule.QueueID) != nil {
		return qerrors.Newf(qerrors.KindValidation, op, "invalid queue id %q", schedule.QueueID)
	}
	if schedule.CronExpr == "" {
		return qerrors.New(qerrors.KindValidation, op, "cron expression cannot be empty")
	}
	if _, err := r.parser.Parse(schedule.CronExpr); err != nil {
		return qerrors.Wrap(qerrors.KindValidation, op, err)
	}
	if schedule.Timezone != "" && schedule.Timezone != "UTC" {
		if _, err := time.LoadLocation(schedule.Timezone); err != nil {
			return qerrors.Wrap(qerrors.KindValidation, op, err)
		}
	}
	return nil
}
