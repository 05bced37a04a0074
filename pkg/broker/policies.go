package broker

import "context"

// ConfigureRateLimit installs or replaces a queue's throughput policy.
func (b *Broker) ConfigureRateLimit(ctx context.Context, queueID string, cfg *RateLimitConfig) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.limiter.ConfigureRateLimit(ctx, queueID, cfg)
}

// GetRateLimitConfig returns a queue's throughput policy, or nil when
// none is configured.
func (b *Broker) GetRateLimitConfig(ctx context.Context, queueID string) (*RateLimitConfig, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.limiter.GetRateLimitConfig(ctx, queueID)
}

// DisableRateLimit switches a queue's policy off while keeping it
// stored.
func (b *Broker) DisableRateLimit(ctx context.Context, queueID string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.limiter.DisableRateLimit(ctx, queueID)
}

// CheckRateLimit reports whether the queue has budget for one more
// execution.
func (b *Broker) CheckRateLimit(ctx context.Context, queueID string) (*RateLimitDecision, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.limiter.CheckRateLimit(ctx, queueID)
}

// RecordJobExecution charges one execution start against the queue's
// windows and in-flight gauge.
func (b *Broker) RecordJobExecution(ctx context.Context, queueID, jobID string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.limiter.RecordJobExecution(ctx, queueID, jobID)
}

// CompleteJobExecution closes an execution opened by RecordJobExecution.
func (b *Broker) CompleteJobExecution(ctx context.Context, queueID, jobID string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.limiter.CompleteJobExecution(ctx, queueID, jobID)
}

// GetExecutionStats aggregates a queue's recorded executions.
func (b *Broker) GetExecutionStats(ctx context.Context, queueID string) (*ExecutionStats, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.limiter.GetExecutionStats(ctx, queueID)
}

// ResetRateLimitCounters wipes the selected rate accounting.
func (b *Broker) ResetRateLimitCounters(ctx context.Context, queueID string, opts ResetOptions) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.limiter.ResetRateLimitCounters(ctx, queueID, opts)
}

// ConfigureSchemaValidation installs a queue's validation policy.
func (b *Broker) ConfigureSchemaValidation(ctx context.Context, queueID string, cfg ValidationConfig) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.validator.ConfigureSchemaValidation(ctx, queueID, cfg)
}

// DisableSchemaValidation removes a queue's validation policy.
func (b *Broker) DisableSchemaValidation(ctx context.Context, queueID string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.validator.DisableSchemaValidation(ctx, queueID)
}

// GetSchemaConfig returns a queue's stored validation policy, or nil.
func (b *Broker) GetSchemaConfig(ctx context.Context, queueID string) (*SchemaConfig, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.validator.GetSchemaConfig(ctx, queueID)
}

// ValidateJobData runs a payload through the queue's schema and custom
// validators without enqueueing it.
func (b *Broker) ValidateJobData(ctx context.Context, queueID string, data interface{}) (*ValidationResult, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.validator.ValidateJobData(ctx, queueID, data)
}

// ConfigureAuditTrail installs a queue's audit policy.
func (b *Broker) ConfigureAuditTrail(ctx context.Context, queueID string, cfg *AuditConfig) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.trail.ConfigureAuditTrail(ctx, queueID, cfg)
}

// DisableAuditTrail switches a queue's audit policy off while keeping
// it stored.
func (b *Broker) DisableAuditTrail(ctx context.Context, queueID string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	return b.trail.DisableAuditTrail(ctx, queueID)
}

// GetAuditConfig returns a queue's audit policy, or nil when none is
// configured.
func (b *Broker) GetAuditConfig(ctx context.Context, queueID string) (*AuditConfig, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.trail.GetAuditConfig(ctx, queueID)
}

// LogAuditEvent persists an audit entry when the queue's policy admits
// it. A filtered entry returns nil without error.
func (b *Broker) LogAuditEvent(ctx context.Context, queueID, eventType string, data interface{}, opts AuditLogOptions) (*AuditRecord, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.trail.LogAuditEvent(ctx, queueID, eventType, data, opts)
}

// GetAuditLogs returns audit entries newest first.
func (b *Broker) GetAuditLogs(ctx context.Context, queueID string, limit int) ([]*AuditRecord, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.trail.GetAuditLogs(ctx, queueID, limit)
}

// SearchAuditLogs returns entries matching the query, newest first.
func (b *Broker) SearchAuditLogs(ctx context.Context, queueID string, query AuditSearchQuery) ([]*AuditRecord, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.trail.SearchAuditLogs(ctx, queueID, query)
}

// GetAuditStats summarizes a queue's audit trail.
func (b *Broker) GetAuditStats(ctx context.Context, queueID string) (*AuditStats, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.trail.GetAuditStats(ctx, queueID)
}

// ExportAuditLogs renders the trail chronologically as JSON or CSV.
func (b *Broker) ExportAuditLogs(ctx context.Context, queueID, format string) ([]byte, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.trail.ExportAuditLogs(ctx, queueID, format)
}

// CleanupAuditLogs prunes expired audit entries outside the cleanup
// loop's cadence.
func (b *Broker) CleanupAuditLogs(ctx context.Context, queueID string) (int, error) {
	if err := b.ready(ctx); err != nil {
		return 0, err
	}
	return b.trail.CleanupAuditLogs(ctx, queueID)
}
