package model

import (
	"fmt"
	"time"

	"github.com/muaviaUsmani/plantain/internal/serialization"
)

// Retry record statuses.
const (
	RetryStatusProcessing = "processing"
	RetryStatusCompleted  = "completed"
	RetryStatusFailed     = "failed"
	RetryStatusError      = "error"
)

// RetryAttempt records one execution attempt of a retried job.
type RetryAttempt struct {
	Attempt    int       `json:"attempt"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	DurationMs int64     `json:"durationMs"`
	Timestamp  time.Time `json:"timestamp"`
}

// RetryRecord tracks the full retry history of one job.
type RetryRecord struct {
	JobID        string         `json:"jobId"`
	QueueID      string         `json:"queueId"`
	Status       string         `json:"status"`
	Attempts     []RetryAttempt `json:"attempts"`
	TotalRetries int            `json:"totalRetries"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      *time.Time     `json:"endTime,omitempty"`
	FinalError   string         `json:"finalError,omitempty"`
}

// ToHash flattens the record; attempts are stored as one JSON field.
func (r *RetryRecord) ToHash() (map[string]string, error) {
	fields := map[string]string{
		"jobId":        r.JobID,
		"queueId":      r.QueueID,
		"status":       r.Status,
		"totalRetries": serialization.HashString(r.TotalRetries),
		"startTime":    serialization.FormatTime(r.StartTime),
	}
	attempts, err := serialization.MarshalField(r.Attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal retry attempts: %w", err)
	}
	fields["attempts"] = attempts
	if r.EndTime != nil {
		fields["endTime"] = serialization.FormatTime(*r.EndTime)
	}
	if r.FinalError != "" {
		fields["finalError"] = r.FinalError
	}
	return fields, nil
}

// RetryRecordFromHash rebuilds a retry record.
func RetryRecordFromHash(fields map[string]string) (*RetryRecord, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty retry record hash")
	}
	r := &RetryRecord{
		JobID:        fields["jobId"],
		QueueID:      fields["queueId"],
		Status:       fields["status"],
		TotalRetries: int(serialization.ParseInt(fields["totalRetries"])),
		StartTime:    serialization.ParseTime(fields["startTime"]),
		FinalError:   fields["finalError"],
	}
	if raw, ok := fields["attempts"]; ok {
		if err := serialization.UnmarshalField(raw, &r.Attempts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retry attempts: %w", err)
		}
	}
	if raw, ok := fields["endTime"]; ok {
		t := serialization.ParseTime(raw)
		r.EndTime = &t
	}
	return r, nil
}

// ExecutionRecord captures one rate-limited execution for stats.
type ExecutionRecord struct {
	JobID      string     `json:"jobId"`
	QueueID    string     `json:"queueId"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	DurationMs int64      `json:"durationMs,omitempty"`
}

// ToHash flattens the execution record.
func (e *ExecutionRecord) ToHash() map[string]string {
	fields := map[string]string{
		"jobId":     e.JobID,
		"queueId":   e.QueueID,
		"status":    e.Status,
		"startTime": serialization.FormatTime(e.StartTime),
	}
	if e.EndTime != nil {
		fields["endTime"] = serialization.FormatTime(*e.EndTime)
		fields["durationMs"] = serialization.HashString(e.DurationMs)
	}
	return fields
}

// ExecutionRecordFromHash rebuilds an execution record.
func ExecutionRecordFromHash(fields map[string]string) *ExecutionRecord {
	if len(fields) == 0 {
		return nil
	}
	e := &ExecutionRecord{
		JobID:      fields["jobId"],
		QueueID:    fields["queueId"],
		Status:     fields["status"],
		StartTime:  serialization.ParseTime(fields["startTime"]),
		DurationMs: serialization.ParseInt(fields["durationMs"]),
	}
	if raw, ok := fields["endTime"]; ok {
		t := serialization.ParseTime(raw)
		e.EndTime = &t
	}
	return e
}

// TimeoutTracker mirrors a running job's deadline in Redis so timed-out
// work can be finalized even if the owning process is gone.
type TimeoutTracker struct {
	JobID     string     `json:"jobId"`
	QueueID   string     `json:"queueId"`
	Timeout   int64      `json:"timeout"`
	TimeoutAt time.Time  `json:"timeoutAt"`
	Status    ItemStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ToHash flattens the tracker.
func (t *TimeoutTracker) ToHash() map[string]string {
	return map[string]string{
		"jobId":     t.JobID,
		"queueId":   t.QueueID,
		"timeout":   serialization.HashString(t.Timeout),
		"timeoutAt": serialization.FormatTime(t.TimeoutAt),
		"status":    string(t.Status),
		"createdAt": serialization.FormatTime(t.CreatedAt),
	}
}

// TimeoutTrackerFromHash rebuilds a tracker.
func TimeoutTrackerFromHash(fields map[string]string) *TimeoutTracker {
	if len(fields) == 0 {
		return nil
	}
	return &TimeoutTracker{
		JobID:     fields["jobId"],
		QueueID:   fields["queueId"],
		Timeout:   serialization.ParseInt(fields["timeout"]),
		TimeoutAt: serialization.ParseTime(fields["timeoutAt"]),
		Status:    ItemStatus(fields["status"]),
		CreatedAt: serialization.ParseTime(fields["createdAt"]),
	}
}

// RateLimitConfig is the per-queue throughput policy. Zero limits are
// treated as unconfigured.
type RateLimitConfig struct {
	Enabled       bool  `json:"enabled"`
	MaxPerSecond  int64 `json:"maxPerSecond,omitempty"`
	MaxPerMinute  int64 `json:"maxPerMinute,omitempty"`
	MaxPerHour    int64 `json:"maxPerHour,omitempty"`
	MaxPerDay     int64 `json:"maxPerDay,omitempty"`
	MaxConcurrent int64 `json:"maxConcurrent,omitempty"`
	Burst         int64 `json:"burst,omitempty"`
	WindowSeconds int64 `json:"windowSeconds,omitempty"`
}

// ToHash flattens the config.
func (c *RateLimitConfig) ToHash() map[string]string {
	return map[string]string{
		"enabled":       serialization.HashString(c.Enabled),
		"maxPerSecond":  serialization.HashString(c.MaxPerSecond),
		"maxPerMinute":  serialization.HashString(c.MaxPerMinute),
		"maxPerHour":    serialization.HashString(c.MaxPerHour),
		"maxPerDay":     serialization.HashString(c.MaxPerDay),
		"maxConcurrent": serialization.HashString(c.MaxConcurrent),
		"burst":         serialization.HashString(c.Burst),
		"windowSeconds": serialization.HashString(c.WindowSeconds),
	}
}

// RateLimitConfigFromHash rebuilds the config.
func RateLimitConfigFromHash(fields map[string]string) *RateLimitConfig {
	if len(fields) == 0 {
		return nil
	}
	return &RateLimitConfig{
		Enabled:       serialization.ParseBool(fields["enabled"]),
		MaxPerSecond:  serialization.ParseInt(fields["maxPerSecond"]),
		MaxPerMinute:  serialization.ParseInt(fields["maxPerMinute"]),
		MaxPerHour:    serialization.ParseInt(fields["maxPerHour"]),
		MaxPerDay:     serialization.ParseInt(fields["maxPerDay"]),
		MaxConcurrent: serialization.ParseInt(fields["maxConcurrent"]),
		Burst:         serialization.ParseInt(fields["burst"]),
		WindowSeconds: serialization.ParseInt(fields["windowSeconds"]),
	}
}

// RateLimitDecision is the outcome of a limit check.
type RateLimitDecision struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	Window       string `json:"window,omitempty"`
	Current      int64  `json:"current,omitempty"`
	Limit        int64  `json:"limit,omitempty"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// AuditLevel orders audit entries by severity.
type AuditLevel string

const (
	AuditInfo     AuditLevel = "info"
	AuditWarning  AuditLevel = "warning"
	AuditCritical AuditLevel = "critical"
)

var auditLevelRank = map[AuditLevel]int{
	AuditInfo:     0,
	AuditWarning:  1,
	AuditCritical: 2,
}

// AtLeast reports whether the level meets the threshold. Unknown levels
// rank lowest.
func (l AuditLevel) AtLeast(threshold AuditLevel) bool {
	return auditLevelRank[l] >= auditLevelRank[threshold]
}

// AuditConfig is the per-queue audit trail policy.
type AuditConfig struct {
	Enabled         bool       `json:"enabled"`
	LogLevel        AuditLevel `json:"logLevel"`
	RetentionDays   int        `json:"retentionDays"`
	LogEvents       []string   `json:"logEvents,omitempty"`
	IncludeData     bool       `json:"includeData,omitempty"`
	IncludeMetadata bool       `json:"includeMetadata,omitempty"`
	CompressOldLogs bool       `json:"compressOldLogs,omitempty"`
	MaxLogSize      int        `json:"maxLogSize,omitempty"`
}

// ToHash flattens the audit config.
func (c *AuditConfig) ToHash() (map[string]string, error) {
	fields := map[string]string{
		"enabled":         serialization.HashString(c.Enabled),
		"logLevel":        string(c.LogLevel),
		"retentionDays":   serialization.HashString(c.RetentionDays),
		"includeData":     serialization.HashString(c.IncludeData),
		"includeMetadata": serialization.HashString(c.IncludeMetadata),
		"compressOldLogs": serialization.HashString(c.CompressOldLogs),
		"maxLogSize":      serialization.HashString(c.MaxLogSize),
	}
	events, err := serialization.MarshalField(c.LogEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log events: %w", err)
	}
	fields["logEvents"] = events
	return fields, nil
}

// AuditConfigFromHash rebuilds the audit config.
func AuditConfigFromHash(fields map[string]string) (*AuditConfig, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty audit config hash")
	}
	c := &AuditConfig{
		Enabled:         serialization.ParseBool(fields["enabled"]),
		LogLevel:        AuditLevel(fields["logLevel"]),
		RetentionDays:   int(serialization.ParseInt(fields["retentionDays"])),
		IncludeData:     serialization.ParseBool(fields["includeData"]),
		IncludeMetadata: serialization.ParseBool(fields["includeMetadata"]),
		CompressOldLogs: serialization.ParseBool(fields["compressOldLogs"]),
		MaxLogSize:      int(serialization.ParseInt(fields["maxLogSize"])),
	}
	if raw, ok := fields["logEvents"]; ok {
		if err := serialization.UnmarshalField(raw, &c.LogEvents); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log events: %w", err)
		}
	}
	return c, nil
}

// AuditRecord is one persisted audit trail entry.
type AuditRecord struct {
	ID        string                 `json:"id"`
	QueueID   string                 `json:"queueId"`
	EventType string                 `json:"eventType"`
	Level     AuditLevel             `json:"level"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"`
	Data      interface{}            `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToHash flattens the record; data and metadata are JSON fields.
func (r *AuditRecord) ToHash() (map[string]string, error) {
	fields := map[string]string{
		"id":        r.ID,
		"queueId":   r.QueueID,
		"eventType": r.EventType,
		"level":     string(r.Level),
		"timestamp": serialization.FormatTime(r.Timestamp),
	}
	if r.Actor != "" {
		fields["actor"] = r.Actor
	}
	if r.Data != nil {
		data, err := serialization.MarshalField(r.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit data: %w", err)
		}
		fields["data"] = data
	}
	if len(r.Metadata) > 0 {
		meta, err := serialization.MarshalField(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		fields["metadata"] = meta
	}
	return fields, nil
}

// AuditRecordFromHash rebuilds an audit record.
func AuditRecordFromHash(fields map[string]string) (*AuditRecord, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty audit record hash")
	}
	r := &AuditRecord{
		ID:        fields["id"],
		QueueID:   fields["queueId"],
		EventType: fields["eventType"],
		Level:     AuditLevel(fields["level"]),
		Timestamp: serialization.ParseTime(fields["timestamp"]),
		Actor:     fields["actor"],
	}
	if raw, ok := fields["data"]; ok {
		if err := serialization.UnmarshalField(raw, &r.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit data: %w", err)
		}
	}
	if raw, ok := fields["metadata"]; ok {
		if err := serialization.UnmarshalField(raw, &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
		}
	}
	return r, nil
}

// Schema error handling modes.
const (
	SchemaReject = "reject"
	SchemaWarn   = "warn"
	SchemaIgnore = "ignore"
)

// SchemaConfig is the per-queue payload validation policy. The schema
// document itself is standard JSON Schema.
type SchemaConfig struct {
	Enabled          bool                   `json:"enabled"`
	Schema           map[string]interface{} `json:"schema,omitempty"`
	StrictMode       bool                   `json:"strictMode,omitempty"`
	ValidateOnAdd    bool                   `json:"validateOnAdd"`
	ValidateOnUpdate bool                   `json:"validateOnUpdate,omitempty"`
	ErrorHandling    string                 `json:"errorHandling,omitempty"`
}

// ToHash flattens the schema config.
func (c *SchemaConfig) ToHash() (map[string]string, error) {
	fields := map[string]string{
		"enabled":          serialization.HashString(c.Enabled),
		"strictMode":       serialization.HashString(c.StrictMode),
		"validateOnAdd":    serialization.HashString(c.ValidateOnAdd),
		"validateOnUpdate": serialization.HashString(c.ValidateOnUpdate),
		"errorHandling":    c.ErrorHandling,
	}
	if c.Schema != nil {
		schema, err := serialization.MarshalField(c.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}
		fields["schema"] = schema
	}
	return fields, nil
}

// SchemaConfigFromHash rebuilds the schema config.
func SchemaConfigFromHash(fields map[string]string) (*SchemaConfig, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty schema config hash")
	}
	c := &SchemaConfig{
		Enabled:          serialization.ParseBool(fields["enabled"]),
		StrictMode:       serialization.ParseBool(fields["strictMode"]),
		ValidateOnAdd:    serialization.ParseBool(fields["validateOnAdd"]),
		ValidateOnUpdate: serialization.ParseBool(fields["validateOnUpdate"]),
		ErrorHandling:    fields["errorHandling"],
	}
	if raw, ok := fields["schema"]; ok {
		if err := serialization.UnmarshalField(raw, &c.Schema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
		}
	}
	return c, nil
}

// BulkError ties a failed batch entry to its cause.
type BulkError struct {
	ItemID string `json:"itemId"`
	Error  string `json:"error"`
}

// BulkResult summarizes a batch operation.
type BulkResult struct {
	// Successful lists the item ids that went through
	Successful []string `json:"successful"`
	// Failed is the number of entries that did not
	Failed int `json:"failed"`
	// Errors details each failure
	Errors []BulkError `json:"errors,omitempty"`
	// Items holds result snapshots where the operation produces them
	Items []*Item `json:"items,omitempty"`
}
