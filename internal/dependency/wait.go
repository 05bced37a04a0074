package dependency

import (
	"context"
	"time"

	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// WaitForCompletion blocks until the job reaches a terminal status, the
// wait times out, or ctx is done. A timeout of zero or less waits on ctx
// alone. The returned item is the job's terminal snapshot.
func (e *Engine) WaitForCompletion(ctx context.Context, queueID, jobID string, timeout time.Duration) (*model.Item, error) {
	const op = "dependency.WaitForCompletion"
	start := time.Now()

	sub := e.store.Subscribe(ctx, storage.NotifyChannel(jobID))
	defer sub.Close()

	// Check after subscribing so a completion between the two cannot be
	// missed.
	item, err := e.mgr.GetItem(ctx, queueID, jobID)
	if err != nil {
		e.observe(op, queueID, start, err)
		return nil, err
	}
	if isTerminal(item.Status) {
		e.observe(op, queueID, start, nil)
		return item, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			err := qerrors.Classify(op, ctx.Err())
			e.observe(op, queueID, start, err)
			return nil, err
		case <-expired:
			err := qerrors.Newf(qerrors.KindTimeout, op, "timed out after %s waiting for job", timeout).
				WithQueue(queueID).WithItem(jobID)
			e.observe(op, queueID, start, err)
			return nil, err
		case _, ok := <-ch:
			if !ok {
				err := qerrors.New(qerrors.KindStorage, op, "notify subscription closed").
					WithQueue(queueID).WithItem(jobID)
				e.observe(op, queueID, start, err)
				return nil, err
			}
			item, err := e.mgr.GetItem(ctx, queueID, jobID)
			if err != nil {
				e.observe(op, queueID, start, err)
				return nil, err
			}
			if isTerminal(item.Status) {
				e.observe(op, queueID, start, nil)
				return item, nil
			}
			// A stale wake; keep waiting.
		}
	}
}

func isTerminal(s model.ItemStatus) bool {
	switch s {
	case model.StatusCompleted, model.StatusFailed, model.StatusTimedOut, model.StatusCancelled:
		return true
	}
	return false
}
