// Package validation enforces per-queue payload schemas. The schema
// document is standard JSON Schema executed by gojsonschema; custom
// validators run after the structural checks and are process-local.
package validation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/metrics"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// Custom validator severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// CustomValidator inspects a payload after the structural checks pass
// over it. Validators cannot be persisted; they live for the process.
type CustomValidator func(data interface{}) *CustomResult

// CustomResult is one custom validator's verdict.
type CustomResult struct {
	Valid    bool
	Errors   []string
	Severity string
}

// Config is the caller-facing validation policy for a queue.
type Config struct {
	// Schema is a JSON Schema document. Empty means structural checks
	// are skipped and only custom validators run.
	Schema map[string]interface{}
	// StrictMode folds warnings into errors.
	StrictMode bool
	// ValidateOnAdd gates payloads entering the queue.
	ValidateOnAdd bool
	// ValidateOnUpdate gates payload changes.
	ValidateOnUpdate bool
	// ErrorHandling is reject, warn or ignore. Empty means reject.
	ErrorHandling string
	// CustomValidators run in order after the schema.
	CustomValidators []CustomValidator
}

// Result is the merged outcome of one validation run.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type compiledSchema struct {
	raw    string
	schema *gojsonschema.Schema
}

// Validator enforces schemas for the queue core. It implements
// queue.DataValidator.
type Validator struct {
	mgr     *queue.Manager
	store   *storage.Store
	bus     *events.Bus
	log     logger.Logger
	metrics *metrics.Collector

	mu       sync.RWMutex
	custom   map[string][]CustomValidator
	compiled map[string]compiledSchema
}

// New wires the validator over the queue core. bus and m may be nil; the
// validator then emits no events and records no metrics.
func New(mgr *queue.Manager, bus *events.Bus, log logger.Logger, m *metrics.Collector) *Validator {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Validator{
		mgr:      mgr,
		store:    mgr.Store(),
		bus:      bus,
		log:      log.WithComponent(logger.ComponentValidation),
		metrics:  m,
		custom:   make(map[string][]CustomValidator),
		compiled: make(map[string]compiledSchema),
	}
}

// ConfigureSchemaValidation enables validation for the queue. The schema
// is compiled up front so a broken document fails here, not on the first
// add.
func (v *Validator) ConfigureSchemaValidation(ctx context.Context, queueID string, cfg Config) error {
	const op = "validation.ConfigureSchemaValidation"
	start := time.Now()

	if _, err := v.mgr.GetQueue(ctx, queueID); err != nil {
		v.observe(op, queueID, start, err)
		return err
	}
	switch cfg.ErrorHandling {
	case "", model.SchemaReject, model.SchemaWarn, model.SchemaIgnore:
	default:
		err := qerrors.Newf(qerrors.KindValidation, op, "unknown error handling %q", cfg.ErrorHandling).WithQueue(queueID)
		v.observe(op, queueID, start, err)
		return err
	}
	handling := cfg.ErrorHandling
	if handling == "" {
		handling = model.SchemaReject
	}

	stored := &model.SchemaConfig{
		Enabled:          true,
		Schema:           cfg.Schema,
		StrictMode:       cfg.StrictMode,
		ValidateOnAdd:    cfg.ValidateOnAdd,
		ValidateOnUpdate: cfg.ValidateOnUpdate,
		ErrorHandling:    handling,
	}
	fields, err := stored.ToHash()
	if err != nil {
		err := qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID)
		v.observe(op, queueID, start, err)
		return err
	}
	if raw, ok := fields["schema"]; ok {
		if _, err := v.compile(queueID, raw); err != nil {
			err := qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID)
			v.observe(op, queueID, start, err)
			return err
		}
	}

	if err := v.store.HSet(ctx, storage.SchemaKey(queueID), fields); err != nil {
		v.observe(op, queueID, start, err)
		return err
	}

	v.mu.Lock()
	if len(cfg.CustomValidators) > 0 {
		v.custom[queueID] = append([]CustomValidator(nil), cfg.CustomValidators...)
	} else {
		delete(v.custom, queueID)
	}
	v.mu.Unlock()

	v.emit(events.TypeSchemaConfigured, queueID, map[string]interface{}{
		"validateOnAdd":    cfg.ValidateOnAdd,
		"validateOnUpdate": cfg.ValidateOnUpdate,
		"errorHandling":    handling,
	})
	v.log.Info("schema validation configured",
		"queue_id", queueID, "error_handling", handling)
	v.observe(op, queueID, start, nil)
	return nil
}

// DisableSchemaValidation turns validation off but keeps the stored
// schema, so re-enabling does not need the document again.
func (v *Validator) DisableSchemaValidation(ctx context.Context, queueID string) error {
	const op = "validation.DisableSchemaValidation"
	start := time.Now()

	cfg, _, err := v.loadConfig(ctx, queueID)
	if err != nil {
		v.observe(op, queueID, start, err)
		return err
	}
	if cfg == nil {
		err := qerrors.Newf(qerrors.KindNotFound, op, "queue %q has no schema configured", queueID).WithQueue(queueID)
		v.observe(op, queueID, start, err)
		return err
	}

	if err := v.store.HSet(ctx, storage.SchemaKey(queueID), map[string]string{"enabled": "false"}); err != nil {
		v.observe(op, queueID, start, err)
		return err
	}

	v.emit(events.TypeSchemaDisabled, queueID, map[string]interface{}{})
	v.log.Info("schema validation disabled", "queue_id", queueID)
	v.observe(op, queueID, start, nil)
	return nil
}

// GetSchemaConfig returns the stored policy, or nil when the queue was
// never configured.
func (v *Validator) GetSchemaConfig(ctx context.Context, queueID string) (*model.SchemaConfig, error) {
	cfg, _, err := v.loadConfig(ctx, queueID)
	return cfg, err
}

// ValidateJobData runs the queue's schema and custom validators over the
// payload and reports every finding. A disabled or unconfigured queue
// validates everything.
func (v *Validator) ValidateJobData(ctx context.Context, queueID string, data interface{}) (*Result, error) {
	const op = "validation.ValidateJobData"
	start := time.Now()

	cfg, raw, err := v.loadConfig(ctx, queueID)
	if err != nil {
		v.observe(op, queueID, start, err)
		return nil, err
	}
	if cfg == nil || !cfg.Enabled {
		v.observe(op, queueID, start, nil)
		return &Result{Valid: true}, nil
	}

	result := &Result{}
	if raw != "" {
		schema, err := v.compile(queueID, raw)
		if err != nil {
			err := qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID)
			v.observe(op, queueID, start, err)
			return nil, err
		}
		checked, err := schema.Validate(gojsonschema.NewGoLoader(data))
		if err != nil {
			err := qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID)
			v.observe(op, queueID, start, err)
			return nil, err
		}
		for _, fieldErr := range checked.Errors() {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", fieldErr.Field(), fieldErr.Description()))
		}
	}

	for _, fn := range v.customFor(queueID) {
		verdict := fn(data)
		if verdict == nil || verdict.Valid {
			continue
		}
		if verdict.Severity == SeverityWarning {
			result.Warnings = append(result.Warnings, verdict.Errors...)
		} else {
			result.Errors = append(result.Errors, verdict.Errors...)
		}
	}

	if cfg.StrictMode && len(result.Warnings) > 0 {
		result.Errors = append(result.Errors, result.Warnings...)
		result.Warnings = nil
	}
	result.Valid = len(result.Errors) == 0
	v.observe(op, queueID, start, nil)
	return result, nil
}

// ValidateOnAdd gates payloads entering the queue per the configured
// error handling. Part of queue.DataValidator.
func (v *Validator) ValidateOnAdd(ctx context.Context, queueID string, data interface{}) error {
	return v.gate(ctx, "validation.ValidateOnAdd", queueID, data, func(c *model.SchemaConfig) bool {
		return c.ValidateOnAdd
	})
}

// ValidateOnUpdate gates payload changes per the configured error
// handling. Part of queue.DataValidator.
func (v *Validator) ValidateOnUpdate(ctx context.Context, queueID string, data interface{}) error {
	return v.gate(ctx, "validation.ValidateOnUpdate", queueID, data, func(c *model.SchemaConfig) bool {
		return c.ValidateOnUpdate
	})
}

func (v *Validator) gate(ctx context.Context, op, queueID string, data interface{}, applies func(*model.SchemaConfig) bool) error {
	cfg, _, err := v.loadConfig(ctx, queueID)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.Enabled || !applies(cfg) {
		return nil
	}

	result, err := v.ValidateJobData(ctx, queueID, data)
	if err != nil {
		return err
	}
	if len(result.Warnings) > 0 {
		v.log.Warn("payload validation warnings",
			"queue_id", queueID, "warnings", strings.Join(result.Warnings, "; "))
	}
	if result.Valid {
		return nil
	}

	switch cfg.ErrorHandling {
	case model.SchemaWarn:
		v.log.Warn("payload rejected by schema, continuing",
			"queue_id", queueID, "errors", strings.Join(result.Errors, "; "))
		return nil
	case model.SchemaIgnore:
		return nil
	default:
		return qerrors.Newf(qerrors.KindValidation, op, "payload failed validation: %s", strings.Join(result.Errors, "; ")).WithQueue(queueID)
	}
}

// loadConfig reads the stored policy. The raw schema string doubles as
// the compile-cache fingerprint.
func (v *Validator) loadConfig(ctx context.Context, queueID string) (*model.SchemaConfig, string, error) {
	fields, err := v.store.HGetAll(ctx, storage.SchemaKey(queueID))
	if err != nil {
		return nil, "", err
	}
	if len(fields) == 0 {
		return nil, "", nil
	}
	cfg, err := model.SchemaConfigFromHash(fields)
	if err != nil {
		return nil, "", qerrors.Wrap(qerrors.KindStorage, "validation.loadConfig", err).WithQueue(queueID)
	}
	return cfg, fields["schema"], nil
}

// compile returns the cached schema when the raw document is unchanged.
func (v *Validator) compile(queueID, raw string) (*gojsonschema.Schema, error) {
	v.mu.RLock()
	cached, ok := v.compiled[queueID]
	v.mu.RUnlock()
	if ok && cached.raw == raw {
		return cached.schema, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	v.mu.Lock()
	v.compiled[queueID] = compiledSchema{raw: raw, schema: schema}
	v.mu.Unlock()
	return schema, nil
}

func (v *Validator) customFor(queueID string) []CustomValidator {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.custom[queueID]
}

func (v *Validator) emit(t events.Type, queueID string, payload map[string]interface{}) {
	if v.bus == nil {
		return
	}
	v.bus.Emit(t, queueID, payload)
}

func (v *Validator) observe(op, queueID string, start time.Time, err error) {
	kind := ""
	if err != nil {
		kind = string(qerrors.KindOf(err))
	}
	v.metrics.RecordOperation(op, queueID, time.Since(start), kind)
}
