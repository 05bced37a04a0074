package retry

import (
	"context"
	"time"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/serialization"
)

// RouteToDeadLetterQueue moves an exhausted job onto its dead-letter
// queue, creating the queue on first use. The pushed envelope carries the
// original ids, the failure reason and the retry history; the item lands
// already marked failed.
func (e *Executor) RouteToDeadLetterQueue(ctx context.Context, sourceQueueID string, item *model.Item, failure error, record *model.RetryRecord, cfg *model.DLQConfig) (*model.Item, error) {
	const op = "retry.RouteToDeadLetterQueue"
	start := time.Now()

	dlqID := model.DeadLetterQueueID(sourceQueueID, cfg)
	if err := e.ensureQueue(ctx, dlqID, cfg); err != nil {
		e.observe(op, sourceQueueID, start, err)
		return nil, err
	}

	reason := ""
	if failure != nil {
		reason = failure.Error()
	}
	envelope := model.DeadLetterItem{
		OriginalQueueID: sourceQueueID,
		OriginalJobID:   item.ID,
		FailureReason:   reason,
		RetryHistory:    record,
		RoutedAt:        time.Now().UTC(),
		Data:            item.Data,
	}
	dead, err := e.mgr.AddToQueue(ctx, dlqID, envelope, queue.AddOptions{
		Status:   model.StatusFailed,
		Metadata: map[string]interface{}{"dlq": true},
	})
	if err != nil {
		e.observe(op, sourceQueueID, start, err)
		return nil, err
	}

	e.emit(events.TypeJobRoutedDLQ, sourceQueueID, map[string]interface{}{
		"jobId":      item.ID,
		"dlqQueueId": dlqID,
	})
	e.log.Info("job routed to dead letter queue",
		"queue_id", sourceQueueID, "job_id", item.ID, "dlq_queue_id", dlqID)
	e.observe(op, sourceQueueID, start, nil)
	return dead, nil
}

// ensureQueue creates the dead-letter destination on first use.
func (e *Executor) ensureQueue(ctx context.Context, dlqID string, cfg *model.DLQConfig) error {
	_, err := e.mgr.GetQueue(ctx, dlqID)
	if err == nil {
		return nil
	}
	if !qerrors.IsNotFound(err) {
		return err
	}

	options := map[string]string{"deadLetter": "true"}
	if cfg != nil {
		if cfg.MaxSize > 0 {
			options["maxSize"] = serialization.HashString(cfg.MaxSize)
		}
		if cfg.RetentionDays > 0 {
			options["retentionDays"] = serialization.HashString(cfg.RetentionDays)
		}
	}
	_, err = e.mgr.CreateQueue(ctx, dlqID, dlqID, options)
	if err != nil && qerrors.IsAlreadyExists(err) {
		// Another instance created it between the check and the create.
		return nil
	}
	return err
}
