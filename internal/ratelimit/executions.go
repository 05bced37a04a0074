package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/serialization"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// executionTTL keeps per-job execution stats for a week.
const executionTTL = 7 * 24 * time.Hour

// Execution hash statuses.
const (
	execProcessing = "processing"
	execCompleted  = "completed"
)

// ResetOptions selects which accounting a reset wipes.
type ResetOptions struct {
	Concurrent bool
	Windows    bool
	Executions bool
}

// ExecutionStats aggregates a queue's recorded executions. Durations
// cover completed executions only.
type ExecutionStats struct {
	Total         int   `json:"total"`
	Completed     int   `json:"completed"`
	InFlight      int   `json:"inFlight"`
	AvgDurationMs int64 `json:"avgDurationMs"`
	MinDurationMs int64 `json:"minDurationMs"`
	MaxDurationMs int64 `json:"maxDurationMs"`
}

// RecordJobExecution charges one execution start against the queue's
// windows and the in-flight gauge, and opens the job's execution hash.
// When the limiter is disabled only the execution hash is written; the
// hash remembers whether counters were charged so completion decrements
// exactly when the start incremented.
func (l *Limiter) RecordJobExecution(ctx context.Context, queueID, jobID string) error {
	return l.record(ctx, queueID, jobID, time.Now())
}

func (l *Limiter) record(ctx context.Context, queueID, jobID string, now time.Time) error {
	const op = "ratelimit.RecordJobExecution"
	start := time.Now()

	cfg, err := l.GetRateLimitConfig(ctx, queueID)
	if err != nil {
		l.observe(op, queueID, start, err)
		return err
	}
	counted := cfg != nil && cfg.Enabled

	rec := model.ExecutionRecord{
		JobID:     jobID,
		QueueID:   queueID,
		Status:    execProcessing,
		StartTime: now.UTC(),
	}
	fields := rec.ToHash()
	fields["counted"] = serialization.HashString(counted)

	countersKey := storage.RateCountersKey(queueID)
	_, err = l.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		if counted {
			for _, w := range windows {
				if w.limit(cfg) > 0 {
					pipe.HIncrBy(ctx, countersKey, w.key(now), 1)
				}
			}
			pipe.HIncrBy(ctx, countersKey, concurrentField, 1)
			pipe.PExpire(ctx, countersKey, countersTTL)
		}
		pipe.HSet(ctx, storage.ExecutionKey(queueID, jobID), fields)
		pipe.PExpire(ctx, storage.ExecutionKey(queueID, jobID), executionTTL)
		return nil
	})
	if err != nil {
		l.observe(op, queueID, start, err)
		return err
	}
	l.observe(op, queueID, start, nil)
	return nil
}

// CompleteJobExecution closes the job's execution hash and releases its
// slot on the in-flight gauge. Completing twice is a no-op.
func (l *Limiter) CompleteJobExecution(ctx context.Context, queueID, jobID string) error {
	const op = "ratelimit.CompleteJobExecution"
	start := time.Now()

	key := storage.ExecutionKey(queueID, jobID)
	fields, err := l.store.HGetAll(ctx, key)
	if err != nil {
		l.observe(op, queueID, start, err)
		return err
	}
	if len(fields) == 0 {
		err := qerrors.Wrap(qerrors.KindNotFound, op, qerrors.ErrJobNotFound).WithQueue(queueID).WithItem(jobID)
		l.observe(op, queueID, start, err)
		return err
	}
	rec := model.ExecutionRecordFromHash(fields)
	if rec.Status == execCompleted {
		l.observe(op, queueID, start, nil)
		return nil
	}

	now := time.Now().UTC()
	update := map[string]string{
		"status":     execCompleted,
		"endTime":    serialization.FormatTime(now),
		"durationMs": serialization.HashString(now.Sub(rec.StartTime).Milliseconds()),
	}
	counted := serialization.ParseBool(fields["counted"])
	_, err = l.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, update)
		if counted {
			pipe.HIncrBy(ctx, storage.RateCountersKey(queueID), concurrentField, -1)
		}
		return nil
	})
	if err != nil {
		l.observe(op, queueID, start, err)
		return err
	}
	l.observe(op, queueID, start, nil)
	return nil
}

// GetExecutionStats aggregates the queue's execution hashes.
func (l *Limiter) GetExecutionStats(ctx context.Context, queueID string) (*ExecutionStats, error) {
	const op = "ratelimit.GetExecutionStats"
	start := time.Now()

	keys, err := l.store.ScanKeys(ctx, storage.ExecutionPattern(queueID))
	if err != nil {
		l.observe(op, queueID, start, err)
		return nil, err
	}

	stats := &ExecutionStats{}
	var sum int64
	for _, key := range keys {
		fields, err := l.store.HGetAll(ctx, key)
		if err != nil {
			l.observe(op, queueID, start, err)
			return nil, err
		}
		rec := model.ExecutionRecordFromHash(fields)
		if rec == nil {
			continue
		}
		stats.Total++
		if rec.Status != execCompleted {
			stats.InFlight++
			continue
		}
		stats.Completed++
		sum += rec.DurationMs
		if stats.Completed == 1 || rec.DurationMs < stats.MinDurationMs {
			stats.MinDurationMs = rec.DurationMs
		}
		if rec.DurationMs > stats.MaxDurationMs {
			stats.MaxDurationMs = rec.DurationMs
		}
	}
	if stats.Completed > 0 {
		stats.AvgDurationMs = sum / int64(stats.Completed)
	}
	l.observe(op, queueID, start, nil)
	return stats, nil
}

// ResetRateLimitCounters wipes the selected accounting. Resetting the
// gauge while jobs are in flight lets their completions drive it briefly
// negative; the next quiet period zeroes it again.
func (l *Limiter) ResetRateLimitCounters(ctx context.Context, queueID string, opts ResetOptions) error {
	const op = "ratelimit.ResetRateLimitCounters"
	start := time.Now()

	countersKey := storage.RateCountersKey(queueID)
	switch {
	case opts.Windows && opts.Concurrent:
		if _, err := l.store.Del(ctx, countersKey); err != nil {
			l.observe(op, queueID, start, err)
			return err
		}
	case opts.Windows:
		counters, err := l.store.HGetAll(ctx, countersKey)
		if err != nil {
			l.observe(op, queueID, start, err)
			return err
		}
		var stale []string
		for field := range counters {
			for _, w := range windows {
				if strings.HasPrefix(field, w.prefix+":") {
					stale = append(stale, field)
					break
				}
			}
		}
		if len(stale) > 0 {
			if err := l.store.HDel(ctx, countersKey, stale...); err != nil {
				l.observe(op, queueID, start, err)
				return err
			}
		}
	case opts.Concurrent:
		fields := map[string]string{concurrentField: "0"}
		if err := l.store.HSet(ctx, countersKey, fields); err != nil {
			l.observe(op, queueID, start, err)
			return err
		}
	}

	if opts.Executions {
		keys, err := l.store.ScanKeys(ctx, storage.ExecutionPattern(queueID))
		if err != nil {
			l.observe(op, queueID, start, err)
			return err
		}
		if len(keys) > 0 {
			if _, err := l.store.Del(ctx, keys...); err != nil {
				l.observe(op, queueID, start, err)
				return err
			}
		}
	}

	l.emit(events.TypeRateLimitCountersReset, queueID, map[string]interface{}{
		"concurrent": opts.Concurrent,
		"windows":    opts.Windows,
		"executions": opts.Executions,
	})
	l.log.Info("rate limit counters reset",
		"queue_id", queueID, "concurrent", opts.Concurrent,
		"windows", opts.Windows, "executions", opts.Executions)
	l.observe(op, queueID, start, nil)
	return nil
}
