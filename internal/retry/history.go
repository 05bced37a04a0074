package retry

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/serialization"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// storeHistory writes the record hash and indexes it in the queue's
// history set, scored by end time so recent runs list first.
func (e *Executor) storeHistory(ctx context.Context, record *model.RetryRecord) error {
	const op = "retry.storeHistory"
	fields, err := record.ToHash()
	if err != nil {
		return qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(record.QueueID).WithItem(record.JobID)
	}
	at := record.StartTime
	if record.EndTime != nil {
		at = *record.EndTime
	}
	_, err = e.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, storage.RetryJobKey(record.JobID), fields)
		pipe.ZAdd(ctx, storage.RetryHistoryKey(record.QueueID), redis.Z{
			Score:  float64(serialization.EpochMillis(at)),
			Member: record.JobID,
		})
		return nil
	})
	return err
}

// GetRetryRecord returns one job's retry record.
func (e *Executor) GetRetryRecord(ctx context.Context, jobID string) (*model.RetryRecord, error) {
	const op = "retry.GetRetryRecord"
	fields, err := e.store.HGetAll(ctx, storage.RetryJobKey(jobID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, qerrors.Wrap(qerrors.KindNotFound, op, qerrors.ErrJobNotFound).WithItem(jobID)
	}
	record, err := model.RetryRecordFromHash(fields)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindStorage, op, err).WithItem(jobID)
	}
	return record, nil
}

// GetRetryHistory returns a queue's retry records, most recent first.
// limit <= 0 returns everything. Records whose hash has expired are
// skipped.
func (e *Executor) GetRetryHistory(ctx context.Context, queueID string, limit int) ([]*model.RetryRecord, error) {
	const op = "retry.GetRetryHistory"
	start := time.Now()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := e.store.ZRevRange(ctx, storage.RetryHistoryKey(queueID), 0, stop)
	if err != nil {
		e.observe(op, queueID, start, err)
		return nil, err
	}
	records := make([]*model.RetryRecord, 0, len(ids))
	for _, id := range ids {
		record, err := e.GetRetryRecord(ctx, id)
		if err != nil {
			if qerrors.IsNotFound(err) {
				continue
			}
			e.observe(op, queueID, start, err)
			return nil, err
		}
		records = append(records, record)
	}
	e.observe(op, queueID, start, nil)
	return records, nil
}
