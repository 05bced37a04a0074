// Package ratelimit enforces per-queue throughput policies with fixed
// window counters and an in-flight gauge, both held in one Redis hash so
// every broker instance sees the same budget.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/metrics"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/serialization"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// countersTTL bounds how long an abandoned counter hash lingers. It must
// outlive the day window so long-window counts survive their own bucket.
const countersTTL = 48 * time.Hour

// concurrentField is the in-flight gauge inside the counters hash.
const concurrentField = "concurrent"

// window is one fixed counting window.
type window struct {
	name   string
	prefix string
	size   time.Duration
	limit  func(*model.RateLimitConfig) int64
}

var windows = []window{
	{"second", "sec", time.Second, func(c *model.RateLimitConfig) int64 { return c.MaxPerSecond }},
	{"minute", "min", time.Minute, func(c *model.RateLimitConfig) int64 { return c.MaxPerMinute }},
	{"hour", "hour", time.Hour, func(c *model.RateLimitConfig) int64 { return c.MaxPerHour }},
	{"day", "day", 24 * time.Hour, func(c *model.RateLimitConfig) int64 { return c.MaxPerDay }},
}

// key returns the hash field for the bucket containing now.
func (w window) key(now time.Time) string {
	return w.prefix + ":" + strconv.FormatInt(now.UnixMilli()/w.size.Milliseconds(), 10)
}

// retryAfter returns milliseconds until the next bucket opens.
func (w window) retryAfter(now time.Time) int64 {
	bucket := now.UnixMilli() / w.size.Milliseconds()
	return (bucket+1)*w.size.Milliseconds() - now.UnixMilli()
}

// Limiter owns per-queue rate limit configuration and accounting.
type Limiter struct {
	mgr     *queue.Manager
	store   *storage.Store
	bus     *events.Bus
	log     logger.Logger
	metrics *metrics.Collector
}

// New wires the limiter over the queue core. bus and m may be nil.
func New(mgr *queue.Manager, bus *events.Bus, log logger.Logger, m *metrics.Collector) *Limiter {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Limiter{
		mgr:     mgr,
		store:   mgr.Store(),
		bus:     bus,
		log:     log.WithComponent(logger.ComponentRateLimit),
		metrics: m,
	}
}

// ConfigureRateLimit stores a queue's limit policy and switches it on.
// Use DisableRateLimit to switch it off without losing the limits.
func (l *Limiter) ConfigureRateLimit(ctx context.Context, queueID string, cfg *model.RateLimitConfig) error {
	const op = "ratelimit.ConfigureRateLimit"
	start := time.Now()

	if _, err := l.mgr.GetQueue(ctx, queueID); err != nil {
		l.observe(op, queueID, start, err)
		return err
	}
	if err := validateConfig(op, cfg); err != nil {
		l.observe(op, queueID, start, err)
		return err
	}

	cfg.Enabled = true
	if err := l.store.HSet(ctx, storage.RateLimitKey(queueID), cfg.ToHash()); err != nil {
		l.observe(op, queueID, start, err)
		return err
	}

	l.emit(events.TypeRateLimitConfigured, queueID, map[string]interface{}{
		"maxPerSecond":  cfg.MaxPerSecond,
		"maxPerMinute":  cfg.MaxPerMinute,
		"maxPerHour":    cfg.MaxPerHour,
		"maxPerDay":     cfg.MaxPerDay,
		"maxConcurrent": cfg.MaxConcurrent,
	})
	l.log.Info("rate limit configured", "queue_id", queueID)
	l.observe(op, queueID, start, nil)
	return nil
}

func validateConfig(op string, cfg *model.RateLimitConfig) error {
	if cfg == nil {
		return qerrors.New(qerrors.KindValidation, op, "rate limit config cannot be nil")
	}
	for _, v := range []int64{cfg.MaxPerSecond, cfg.MaxPerMinute, cfg.MaxPerHour, cfg.MaxPerDay, cfg.MaxConcurrent, cfg.Burst} {
		if v < 0 {
			return qerrors.New(qerrors.KindValidation, op, "rate limits cannot be negative")
		}
	}
	if cfg.MaxPerSecond == 0 && cfg.MaxPerMinute == 0 && cfg.MaxPerHour == 0 &&
		cfg.MaxPerDay == 0 && cfg.MaxConcurrent == 0 {
		return qerrors.New(qerrors.KindValidation, op, "at least one limit must be set")
	}
	return nil
}

// GetRateLimitConfig returns the stored policy, nil when the queue has
// never been configured.
func (l *Limiter) GetRateLimitConfig(ctx context.Context, queueID string) (*model.RateLimitConfig, error) {
	fields, err := l.store.HGetAll(ctx, storage.RateLimitKey(queueID))
	if err != nil {
		return nil, err
	}
	return model.RateLimitConfigFromHash(fields), nil
}

// DisableRateLimit switches enforcement off, keeping the stored limits.
func (l *Limiter) DisableRateLimit(ctx context.Context, queueID string) error {
	const op = "ratelimit.DisableRateLimit"
	start := time.Now()

	cfg, err := l.GetRateLimitConfig(ctx, queueID)
	if err != nil {
		l.observe(op, queueID, start, err)
		return err
	}
	if cfg == nil {
		err := qerrors.Newf(qerrors.KindNotFound, op, "queue %q has no rate limit configured", queueID)
		l.observe(op, queueID, start, err)
		return err
	}

	fields := map[string]string{"enabled": serialization.HashString(false)}
	if err := l.store.HSet(ctx, storage.RateLimitKey(queueID), fields); err != nil {
		l.observe(op, queueID, start, err)
		return err
	}
	l.emit(events.TypeRateLimitDisabled, queueID, map[string]interface{}{})
	l.log.Info("rate limit disabled", "queue_id", queueID)
	l.observe(op, queueID, start, nil)
	return nil
}

// CheckRateLimit reports whether the queue has budget for one more
// execution right now. Unconfigured or disabled queues always allow.
func (l *Limiter) CheckRateLimit(ctx context.Context, queueID string) (*model.RateLimitDecision, error) {
	return l.check(ctx, queueID, time.Now())
}

func (l *Limiter) check(ctx context.Context, queueID string, now time.Time) (*model.RateLimitDecision, error) {
	const op = "ratelimit.CheckRateLimit"
	start := time.Now()

	cfg, err := l.GetRateLimitConfig(ctx, queueID)
	if err != nil {
		l.observe(op, queueID, start, err)
		return nil, err
	}
	if cfg == nil || !cfg.Enabled {
		l.observe(op, queueID, start, nil)
		return &model.RateLimitDecision{Allowed: true}, nil
	}

	counters, err := l.store.HGetAll(ctx, storage.RateCountersKey(queueID))
	if err != nil {
		l.observe(op, queueID, start, err)
		return nil, err
	}

	for _, w := range windows {
		limit := w.limit(cfg)
		if limit <= 0 {
			continue
		}
		// Burst headroom stacks on the tightest window only.
		if w.prefix == "sec" {
			limit += cfg.Burst
		}
		current := serialization.ParseInt(counters[w.key(now)])
		if current >= limit {
			l.observe(op, queueID, start, nil)
			return &model.RateLimitDecision{
				Allowed:      false,
				Reason:       "rate limit exceeded for the " + w.name + " window",
				Window:       w.name,
				Current:      current,
				Limit:        limit,
				RetryAfterMs: w.retryAfter(now),
			}, nil
		}
	}

	if cfg.MaxConcurrent > 0 {
		current := serialization.ParseInt(counters[concurrentField])
		if current >= cfg.MaxConcurrent {
			l.observe(op, queueID, start, nil)
			return &model.RateLimitDecision{
				Allowed: false,
				Reason:  "concurrency limit reached",
				Window:  concurrentField,
				Current: current,
				Limit:   cfg.MaxConcurrent,
			}, nil
		}
	}

	l.observe(op, queueID, start, nil)
	return &model.RateLimitDecision{Allowed: true}, nil
}

func (l *Limiter) emit(t events.Type, queueID string, payload map[string]interface{}) {
	if l.bus == nil {
		return
	}
	l.bus.Emit(t, queueID, payload)
}

func (l *Limiter) observe(op, queueID string, start time.Time, err error) {
	kind := ""
	if err != nil {
		kind = string(qerrors.KindOf(err))
	}
	l.metrics.RecordOperation(op, queueID, time.Since(start), kind)
}
