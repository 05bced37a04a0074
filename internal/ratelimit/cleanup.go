package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/muaviaUsmani/plantain/internal/storage"
)

// CleanupRateCounters removes window buckets that can no longer be read.
// The check path only consults the bucket containing now, so every older
// bucket field just sits in the counters hash until the hash TTL reaps
// it. The in-flight gauge and any current bucket are kept. Returns the
// number of fields removed.
func (l *Limiter) CleanupRateCounters(ctx context.Context, queueID string) (int, error) {
	const op = "ratelimit.CleanupRateCounters"
	start := time.Now()

	key := storage.RateCountersKey(queueID)
	counters, err := l.store.HGetAll(ctx, key)
	if err != nil {
		l.observe(op, queueID, start, err)
		return 0, err
	}

	now := time.Now()
	stale := make([]string, 0, len(counters))
	for field := range counters {
		if field == concurrentField {
			continue
		}
		for _, w := range windows {
			if !strings.HasPrefix(field, w.prefix+":") {
				continue
			}
			if field != w.key(now) {
				stale = append(stale, field)
			}
			break
		}
	}
	if len(stale) == 0 {
		l.observe(op, queueID, start, nil)
		return 0, nil
	}

	if err := l.store.HDel(ctx, key, stale...); err != nil {
		l.observe(op, queueID, start, err)
		return 0, err
	}
	l.log.Debug("stale rate buckets removed", "queue_id", queueID, "count", len(stale))
	l.observe(op, queueID, start, nil)
	return len(stale), nil
}
