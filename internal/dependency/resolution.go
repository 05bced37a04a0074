package dependency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// MarkJobCompleted finalizes the job, satisfies it in every dependent's
// dependency status, and promotes dependents whose last predecessor this
// was. Waiters on the job's notify channel are woken either way.
func (e *Engine) MarkJobCompleted(ctx context.Context, queueID, jobID string) error {
	const op = "dependency.MarkJobCompleted"
	start := time.Now()

	if err := e.finalizeJob(ctx, op, queueID, jobID, model.StatusCompleted, nil); err != nil {
		e.observe(op, queueID, start, err)
		return err
	}
	if _, err := e.store.Del(ctx, storage.DependenciesKey(queueID, jobID)); err != nil {
		e.log.Warn("failed to drop dependency set",
			"queue_id", queueID, "item_id", jobID, "error", err.Error())
	}

	dependents, err := e.dependentsOf(ctx, queueID, jobID)
	if err != nil {
		e.observe(op, queueID, start, err)
		return err
	}

	now := time.Now().UTC()
	ready := 0
	for _, depID := range dependents {
		promoted, err := e.satisfy(ctx, op, queueID, depID, jobID, now)
		if err != nil {
			e.log.Warn("failed to update dependent",
				"queue_id", queueID, "item_id", depID, "error", err.Error())
			continue
		}
		if promoted {
			ready++
		}
	}

	e.notify(ctx, queueID, jobID, model.StatusCompleted)
	e.emit(events.TypeJobCompleted, queueID, map[string]interface{}{
		"jobId":           jobID,
		"readyDependents": ready,
	})
	e.log.Info("job completed",
		"queue_id", queueID, "item_id", jobID, "ready_dependents", ready)
	e.observe(op, queueID, start, nil)
	return nil
}

// MarkJobFailed finalizes the job as failed and, under the
// fail_dependents policy, fails every transitive dependent with
// failureReason=dependency_failed.
func (e *Engine) MarkJobFailed(ctx context.Context, queueID, jobID string, opts FailOptions) error {
	const op = "dependency.MarkJobFailed"
	start := time.Now()

	var meta map[string]interface{}
	if opts.Reason != "" {
		meta = map[string]interface{}{"failureReason": opts.Reason}
	}
	if err := e.finalizeJob(ctx, op, queueID, jobID, model.StatusFailed, meta); err != nil {
		e.observe(op, queueID, start, err)
		return err
	}
	if _, err := e.store.Del(ctx, storage.DependenciesKey(queueID, jobID)); err != nil {
		e.log.Warn("failed to drop dependency set",
			"queue_id", queueID, "item_id", jobID, "error", err.Error())
	}

	failed := 0
	if opts.Policy == FailDependents {
		n, err := e.cascadeFailure(ctx, op, queueID, jobID)
		if err != nil {
			e.observe(op, queueID, start, err)
			return err
		}
		failed = n
	}

	e.notify(ctx, queueID, jobID, model.StatusFailed)
	e.emit(events.TypeJobFailed, queueID, map[string]interface{}{
		"jobId":            jobID,
		"reason":           opts.Reason,
		"failedDependents": failed,
	})
	e.log.Info("job failed",
		"queue_id", queueID, "item_id", jobID, "failed_dependents", failed)
	e.observe(op, queueID, start, nil)
	return nil
}

// finalizeJob writes the terminal status (and metadata) of the job
// itself, whether it still sits in the queue or was already popped.
func (e *Engine) finalizeJob(ctx context.Context, op, queueID, jobID string, status model.ItemStatus, meta map[string]interface{}) error {
	item, err := e.mgr.GetItem(ctx, queueID, jobID)
	if err != nil {
		return err
	}
	item.Status = status
	if len(meta) > 0 {
		if item.Metadata == nil {
			item.Metadata = make(map[string]interface{}, len(meta))
		}
		for k, v := range meta {
			item.Metadata[k] = v
		}
	}

	updates := map[string]interface{}{"status": status}
	if len(meta) > 0 {
		updates["metadata"] = meta
	}
	return e.persistItem(ctx, op, queueID, item, updates)
}

// satisfy marks jobID resolved in depID's dependency status and promotes
// depID to pending when nothing else blocks it. The resolved predecessor
// leaves the dependency set so the scan shrinks as jobs finish.
func (e *Engine) satisfy(ctx context.Context, op, queueID, depID, jobID string, now time.Time) (bool, error) {
	item, err := e.mgr.GetItem(ctx, queueID, depID)
	if err != nil {
		return false, err
	}
	if item.DependencyStatus == nil {
		item.DependencyStatus = make(map[string]model.DependencyState, len(item.Dependencies))
	}
	state := item.DependencyStatus[jobID]
	state.Satisfied = true
	state.Failed = false
	state.CompletedAt = &now
	item.DependencyStatus[jobID] = state

	blocked := false
	for _, dep := range item.Dependencies {
		if !item.DependencyStatus[dep].Satisfied {
			blocked = true
			break
		}
	}

	updates := map[string]interface{}{"dependencyStatus": item.DependencyStatus}
	promote := !blocked && item.Status == model.StatusWaiting
	if promote {
		item.Status = model.StatusPending
		updates["status"] = model.StatusPending
	}
	if err := e.persistItem(ctx, op, queueID, item, updates); err != nil {
		return false, err
	}
	if err := e.store.SRem(ctx, storage.DependenciesKey(queueID, depID), jobID); err != nil {
		e.log.Warn("failed to trim dependency set",
			"queue_id", queueID, "item_id", depID, "error", err.Error())
	}

	if promote {
		e.emit(events.TypeJobReady, queueID, map[string]interface{}{"jobId": depID})
		e.log.Info("job ready", "queue_id", queueID, "item_id", depID)
	}
	return promote, nil
}

// cascadeFailure fails every transitive dependent of rootID. Breadth
// first over the dependency sets; the seen set guards against cycles.
func (e *Engine) cascadeFailure(ctx context.Context, op, queueID, rootID string) (int, error) {
	seen := map[string]bool{rootID: true}
	frontier := []string{rootID}
	failed := 0
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]

		dependents, err := e.dependentsOf(ctx, queueID, id)
		if err != nil {
			return failed, err
		}
		for _, depID := range dependents {
			if seen[depID] {
				continue
			}
			seen[depID] = true
			if err := e.failDependent(ctx, op, queueID, depID, id); err != nil {
				e.log.Warn("failed to cascade failure",
					"queue_id", queueID, "item_id", depID, "error", err.Error())
				continue
			}
			failed++
			frontier = append(frontier, depID)
		}
	}
	return failed, nil
}

func (e *Engine) failDependent(ctx context.Context, op, queueID, depID, causeID string) error {
	item, err := e.mgr.GetItem(ctx, queueID, depID)
	if err != nil {
		return err
	}
	if item.DependencyStatus == nil {
		item.DependencyStatus = make(map[string]model.DependencyState, len(item.Dependencies))
	}
	state := item.DependencyStatus[causeID]
	state.Failed = true
	item.DependencyStatus[causeID] = state

	item.Status = model.StatusFailed
	meta := map[string]interface{}{"failureReason": failureDependency}
	if item.Metadata == nil {
		item.Metadata = make(map[string]interface{}, 1)
	}
	item.Metadata["failureReason"] = failureDependency

	updates := map[string]interface{}{
		"status":           model.StatusFailed,
		"dependencyStatus": item.DependencyStatus,
		"metadata":         meta,
	}
	if err := e.persistItem(ctx, op, queueID, item, updates); err != nil {
		return err
	}
	if _, err := e.store.Del(ctx, storage.DependenciesKey(queueID, depID)); err != nil {
		e.log.Warn("failed to drop dependency set",
			"queue_id", queueID, "item_id", depID, "error", err.Error())
	}

	e.notify(ctx, queueID, depID, model.StatusFailed)
	e.emit(events.TypeJobFailed, queueID, map[string]interface{}{
		"jobId":         depID,
		"failureReason": failureDependency,
	})
	return nil
}

// notify wakes waiters on the job's pub/sub channel. Delivery is best
// effort; WaitForCompletion re-reads the item on every wake.
func (e *Engine) notify(ctx context.Context, queueID, jobID string, status model.ItemStatus) {
	msg, err := json.Marshal(map[string]string{
		"jobId":   jobID,
		"queueId": queueID,
		"status":  string(status),
	})
	if err != nil {
		return
	}
	if err := e.store.Publish(ctx, storage.NotifyChannel(jobID), string(msg)); err != nil {
		e.log.Warn("failed to publish job notification",
			"queue_id", queueID, "item_id", jobID, "error", err.Error())
	}
}
