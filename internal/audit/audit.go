// Package audit keeps a per-queue trail of notable events in Redis. Each
// entry is a hash indexed by a timestamp-scored sorted set; retention is
// enforced by hash TTLs plus an explicit cleanup pass for the index.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/metrics"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/serialization"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// LogOptions tunes a single audit entry.
type LogOptions struct {
	// Level defaults to info.
	Level model.AuditLevel
	// Actor names who or what caused the event.
	Actor string
	// Metadata lands on the entry when the config includes metadata.
	Metadata map[string]interface{}
}

// Trail writes and reads a queue's audit log.
type Trail struct {
	mgr     *queue.Manager
	store   *storage.Store
	bus     *events.Bus
	log     logger.Logger
	metrics *metrics.Collector
}

// New wires the audit trail over the queue core. bus and m may be nil;
// the trail then emits no events and records no metrics.
func New(mgr *queue.Manager, bus *events.Bus, log logger.Logger, m *metrics.Collector) *Trail {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Trail{
		mgr:     mgr,
		store:   mgr.Store(),
		bus:     bus,
		log:     log.WithComponent(logger.ComponentAudit),
		metrics: m,
	}
}

// ConfigureAuditTrail enables auditing for the queue. An empty LogEvents
// list admits every event type; an empty LogLevel means info.
func (t *Trail) ConfigureAuditTrail(ctx context.Context, queueID string, cfg *model.AuditConfig) error {
	const op = "audit.ConfigureAuditTrail"
	start := time.Now()

	if _, err := t.mgr.GetQueue(ctx, queueID); err != nil {
		t.observe(op, queueID, start, err)
		return err
	}
	if err := validateConfig(op, queueID, cfg); err != nil {
		t.observe(op, queueID, start, err)
		return err
	}
	cfg.Enabled = true
	if cfg.LogLevel == "" {
		cfg.LogLevel = model.AuditInfo
	}

	fields, err := cfg.ToHash()
	if err != nil {
		err := qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID)
		t.observe(op, queueID, start, err)
		return err
	}
	if err := t.store.HSet(ctx, storage.AuditConfigKey(queueID), fields); err != nil {
		t.observe(op, queueID, start, err)
		return err
	}

	t.emit(events.TypeAuditConfigured, queueID, map[string]interface{}{
		"logLevel":      string(cfg.LogLevel),
		"retentionDays": cfg.RetentionDays,
		"logEvents":     len(cfg.LogEvents),
	})
	t.log.Info("audit trail configured",
		"queue_id", queueID, "log_level", string(cfg.LogLevel), "retention_days", cfg.RetentionDays)
	t.observe(op, queueID, start, nil)
	return nil
}

func validateConfig(op, queueID string, cfg *model.AuditConfig) error {
	if cfg == nil {
		return qerrors.New(qerrors.KindValidation, op, "audit config is required").WithQueue(queueID)
	}
	if cfg.RetentionDays < 0 {
		return qerrors.Newf(qerrors.KindValidation, op, "retention days must not be negative, got %d", cfg.RetentionDays).WithQueue(queueID)
	}
	if cfg.MaxLogSize < 0 {
		return qerrors.Newf(qerrors.KindValidation, op, "max log size must not be negative, got %d", cfg.MaxLogSize).WithQueue(queueID)
	}
	switch cfg.LogLevel {
	case "", model.AuditInfo, model.AuditWarning, model.AuditCritical:
		return nil
	default:
		return qerrors.Newf(qerrors.KindValidation, op, "unknown log level %q", cfg.LogLevel).WithQueue(queueID)
	}
}

// DisableAuditTrail stops persisting entries but keeps the stored config
// and the existing log.
func (t *Trail) DisableAuditTrail(ctx context.Context, queueID string) error {
	const op = "audit.DisableAuditTrail"
	start := time.Now()

	cfg, err := t.GetAuditConfig(ctx, queueID)
	if err != nil {
		t.observe(op, queueID, start, err)
		return err
	}
	if cfg == nil {
		err := qerrors.Newf(qerrors.KindNotFound, op, "queue %q has no audit trail configured", queueID).WithQueue(queueID)
		t.observe(op, queueID, start, err)
		return err
	}

	if err := t.store.HSet(ctx, storage.AuditConfigKey(queueID), map[string]string{"enabled": "false"}); err != nil {
		t.observe(op, queueID, start, err)
		return err
	}

	t.emit(events.TypeAuditDisabled, queueID, map[string]interface{}{})
	t.log.Info("audit trail disabled", "queue_id", queueID)
	t.observe(op, queueID, start, nil)
	return nil
}

// GetAuditConfig returns the stored config, or nil when the queue was
// never configured.
func (t *Trail) GetAuditConfig(ctx context.Context, queueID string) (*model.AuditConfig, error) {
	fields, err := t.store.HGetAll(ctx, storage.AuditConfigKey(queueID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	cfg, err := model.AuditConfigFromHash(fields)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindStorage, "audit.GetAuditConfig", err).WithQueue(queueID)
	}
	return cfg, nil
}

// LogAuditEvent persists one entry when the config admits it. Filtered
// and unconfigured events return (nil, nil); only storage trouble is an
// error.
func (t *Trail) LogAuditEvent(ctx context.Context, queueID, eventType string, data interface{}, opts LogOptions) (*model.AuditRecord, error) {
	const op = "audit.LogAuditEvent"
	start := time.Now()

	cfg, err := t.GetAuditConfig(ctx, queueID)
	if err != nil {
		t.observe(op, queueID, start, err)
		return nil, err
	}
	level := opts.Level
	if level == "" {
		level = model.AuditInfo
	}
	if cfg == nil || !cfg.Enabled || !eventAdmitted(cfg, eventType) || !level.AtLeast(cfg.LogLevel) {
		t.observe(op, queueID, start, nil)
		return nil, nil
	}

	rec := &model.AuditRecord{
		ID:        uuid.NewString(),
		QueueID:   queueID,
		EventType: eventType,
		Level:     level,
		Timestamp: time.Now().UTC(),
		Actor:     opts.Actor,
	}
	if cfg.IncludeData {
		rec.Data = data
	}
	if cfg.IncludeMetadata && len(opts.Metadata) > 0 {
		rec.Metadata = opts.Metadata
	}

	fields, err := rec.ToHash()
	if err != nil {
		err := qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID)
		t.observe(op, queueID, start, err)
		return nil, err
	}
	// Oversized payloads lose the data field, not the entry.
	if cfg.MaxLogSize > 0 && len(fields["data"]) > cfg.MaxLogSize {
		rec.Data = nil
		delete(fields, "data")
		fields["truncated"] = "true"
	}

	logKey := storage.AuditLogKey(queueID, rec.ID)
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	_, err = t.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, logKey, fields)
		if retention > 0 {
			pipe.PExpire(ctx, logKey, retention)
		}
		pipe.ZAdd(ctx, storage.AuditIndexKey(queueID), redis.Z{
			Score:  float64(serialization.EpochMillis(rec.Timestamp)),
			Member: rec.ID,
		})
		return nil
	})
	if err != nil {
		t.observe(op, queueID, start, err)
		return nil, err
	}

	t.emit(events.TypeAuditLogged, queueID, map[string]interface{}{
		"auditId":   rec.ID,
		"eventType": eventType,
		"level":     string(level),
	})
	t.observe(op, queueID, start, nil)
	return rec, nil
}

// eventAdmitted applies the logEvents filter; an empty list admits all.
func eventAdmitted(cfg *model.AuditConfig, eventType string) bool {
	if len(cfg.LogEvents) == 0 {
		return true
	}
	for _, e := range cfg.LogEvents {
		if e == eventType {
			return true
		}
	}
	return false
}

func (t *Trail) emit(typ events.Type, queueID string, payload map[string]interface{}) {
	if t.bus == nil {
		return
	}
	t.bus.Emit(typ, queueID, payload)
}

func (t *Trail) observe(op, queueID string, start time.Time, err error) {
	kind := ""
	if err != nil {
		kind = string(qerrors.KindOf(err))
	}
	t.metrics.RecordOperation(op, queueID, time.Since(start), kind)
}
