// Package dependency gates job readiness on predecessor completion. A job
// added with dependencies enters the queue waiting, turns pending when its
// last predecessor completes, and can be failed as a group when a
// predecessor fails under the fail_dependents policy.
package dependency

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/hooks"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/metrics"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// FailurePolicy decides what happens to dependents when a job fails.
type FailurePolicy string

const (
	// FailNone leaves dependents waiting for the caller to resolve.
	FailNone FailurePolicy = ""
	// FailDependents fails every transitive dependent of the failed job.
	FailDependents FailurePolicy = "fail_dependents"
)

// failureDependency marks items failed by the cascade rather than by
// their own execution.
const failureDependency = "dependency_failed"

// AddOptions carries the optional item knobs through to the queue core.
// Status and dependency bookkeeping stay with the engine.
type AddOptions struct {
	ItemID         string
	Priority       int
	PriorityWeight int
	Timeout        int64
	RetryPolicy    *model.RetryPolicy
	Metadata       map[string]interface{}
}

// FailOptions tunes MarkJobFailed.
type FailOptions struct {
	// Reason lands in the failed job's metadata as failureReason.
	Reason string
	// Policy selects the cascade behavior.
	Policy FailurePolicy
}

// Status reports where a job stands against its predecessors.
type Status struct {
	JobID        string                           `json:"jobId"`
	QueueID      string                           `json:"queueId"`
	ItemStatus   model.ItemStatus                 `json:"status"`
	Dependencies []string                         `json:"dependencies"`
	States       map[string]model.DependencyState `json:"states"`
	Remaining    []string                         `json:"remaining"`
	Ready        bool                             `json:"ready"`
}

// Engine resolves dependencies over the queue core.
type Engine struct {
	mgr     *queue.Manager
	store   *storage.Store
	bus     *events.Bus
	log     logger.Logger
	metrics *metrics.Collector
}

// New wires the dependency engine over the queue core. bus and m may be
// nil; the engine then emits no events and records no metrics.
func New(mgr *queue.Manager, bus *events.Bus, log logger.Logger, m *metrics.Collector) *Engine {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Engine{
		mgr:     mgr,
		store:   mgr.Store(),
		bus:     bus,
		log:     log.WithComponent(logger.ComponentDependency),
		metrics: m,
	}
}

// AddJobWithDependencies adds a job that stays waiting until every listed
// predecessor completes. Every dependency must already exist in the queue;
// a job with no dependencies is added pending as usual.
func (e *Engine) AddJobWithDependencies(ctx context.Context, queueID string, data interface{}, deps []string, opts AddOptions) (*model.Item, error) {
	const op = "dependency.AddJobWithDependencies"
	start := time.Now()

	deps = dedupe(deps)
	var missing []string
	for _, dep := range deps {
		if _, err := e.mgr.GetItem(ctx, queueID, dep); err != nil {
			if qerrors.IsNotFound(err) {
				missing = append(missing, dep)
				continue
			}
			e.observe(op, queueID, start, err)
			return nil, err
		}
	}
	if len(missing) > 0 {
		err := qerrors.Newf(qerrors.KindDependency, op, "missing dependencies: %s", strings.Join(missing, ", ")).WithQueue(queueID)
		e.observe(op, queueID, start, err)
		return nil, err
	}

	addOpts := queue.AddOptions{
		ItemID:         opts.ItemID,
		Priority:       opts.Priority,
		PriorityWeight: opts.PriorityWeight,
		Timeout:        opts.Timeout,
		RetryPolicy:    opts.RetryPolicy,
		Metadata:       opts.Metadata,
		Dependencies:   deps,
	}
	if len(deps) > 0 {
		addOpts.Status = model.StatusWaiting
	}
	item, err := e.mgr.AddToQueue(ctx, queueID, data, addOpts)
	if err != nil {
		e.observe(op, queueID, start, err)
		return nil, err
	}

	if len(deps) > 0 {
		members := make([]interface{}, len(deps))
		for i, dep := range deps {
			members[i] = dep
		}
		if err := e.store.SAdd(ctx, storage.DependenciesKey(queueID, item.ID), members...); err != nil {
			e.observe(op, queueID, start, err)
			return nil, err
		}
	}

	e.emit(events.TypeJobAddedDependencies, queueID, map[string]interface{}{
		"jobId":        item.ID,
		"dependencies": len(deps),
	})
	e.log.Debug("job added with dependencies",
		"queue_id", queueID, "item_id", item.ID, "dependencies", len(deps))
	e.observe(op, queueID, start, nil)
	return item, nil
}

// GetDependencyStatus reports the job's predecessors and which of them
// still block it.
func (e *Engine) GetDependencyStatus(ctx context.Context, queueID, jobID string) (*Status, error) {
	const op = "dependency.GetDependencyStatus"
	start := time.Now()

	item, err := e.mgr.GetItem(ctx, queueID, jobID)
	if err != nil {
		e.observe(op, queueID, start, err)
		return nil, err
	}

	states := item.DependencyStatus
	if states == nil {
		states = map[string]model.DependencyState{}
	}
	var remaining []string
	for _, dep := range item.Dependencies {
		if !states[dep].Satisfied {
			remaining = append(remaining, dep)
		}
	}

	e.observe(op, queueID, start, nil)
	return &Status{
		JobID:        jobID,
		QueueID:      queueID,
		ItemStatus:   item.Status,
		Dependencies: item.Dependencies,
		States:       states,
		Remaining:    remaining,
		Ready:        len(remaining) == 0,
	}, nil
}

// dependentsOf lists the items whose dependency set still contains id.
func (e *Engine) dependentsOf(ctx context.Context, queueID, id string) ([]string, error) {
	keys, err := e.store.ScanKeys(ctx, storage.DependenciesPattern(queueID))
	if err != nil {
		return nil, err
	}
	prefix := storage.DependenciesKey(queueID, "")
	var out []string
	for _, key := range keys {
		member, err := e.store.SIsMember(ctx, key, id)
		if err != nil {
			return nil, err
		}
		if member {
			out = append(out, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

// persistItem writes item changes through the list when the item is still
// queued, and falls back to the hash for items that were already popped.
// item carries the mutated fallback state; updates feeds the list path.
func (e *Engine) persistItem(ctx context.Context, op, queueID string, item *model.Item, updates map[string]interface{}) error {
	_, err := e.mgr.UpdateItem(ctx, queueID, item.ID, updates, hooks.Set{})
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
	return e.store.HSet(ctx, storage.ItemKey(queueID, item.ID), fields)
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (e *Engine) emit(t events.Type, queueID string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(t, queueID, payload)
}

func (e *Engine) observe(op, queueID string, start time.Time, err error) {
	kind := ""
	if err != nil {
		kind = string(qerrors.KindOf(err))
	}
	e.metrics.RecordOperation(op, queueID, time.Since(start), kind)
}
