package model

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/muaviaUsmani/plantain/internal/serialization"
)

// ScheduledJob is a job parked in the time index until its due time.
type ScheduledJob struct {
	// ID is the job identifier, also the member in the scheduled set
	ID string `json:"id"`
	// QueueID is the destination queue on promotion
	QueueID string `json:"queueId"`
	// Data is the payload the promoted item will carry
	Data interface{} `json:"data"`
	// Status stays pending until promotion succeeds or fails
	Status ItemStatus `json:"status"`
	// ScheduledFor is the due time
	ScheduledFor time.Time `json:"scheduledFor"`
	// CreatedAt is when the job was scheduled
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is stamped on reschedule or status change
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	// Priority carries over to the promoted item
	Priority int `json:"priority,omitempty"`
	// Timeout carries over to the promoted item, in milliseconds
	Timeout int64 `json:"timeout,omitempty"`
	// RetryPolicy carries over to the promoted item
	RetryPolicy *RetryPolicy `json:"retryPolicy,omitempty"`
	// Dependencies carries over to the promoted item
	Dependencies []string `json:"dependencies,omitempty"`
	// Metadata carries over to the promoted item
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	// RescheduledCount counts how many times the due time moved
	RescheduledCount int `json:"rescheduledCount,omitempty"`
	// ScheduleID links jobs spawned by a recurring schedule
	ScheduleID string `json:"scheduleId,omitempty"`
}

// NewScheduledJob creates a pending job due at scheduledFor.
func NewScheduledJob(queueID string, data interface{}, scheduledFor time.Time) *ScheduledJob {
	return &ScheduledJob{
		ID:           uuid.New().String(),
		QueueID:      queueID,
		Data:         data,
		Status:       StatusPending,
		ScheduledFor: scheduledFor.UTC(),
		CreatedAt:    time.Now().UTC(),
	}
}

// Touch stamps UpdatedAt.
func (j *ScheduledJob) Touch() {
	now := time.Now().UTC()
	j.UpdatedAt = &now
}

// ToHash flattens the job for its Redis hash. The due time is stored twice:
// ISO-8601 here and epoch milliseconds as the sorted-set score.
func (j *ScheduledJob) ToHash() (map[string]string, error) {
	fields := map[string]string{
		"id":           j.ID,
		"queueId":      j.QueueID,
		"status":       string(j.Status),
		"scheduledFor": serialization.FormatTime(j.ScheduledFor),
		"createdAt":    serialization.FormatTime(j.CreatedAt),
	}
	data, err := serialization.MarshalField(j.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job data: %w", err)
	}
	fields["data"] = data
	if j.UpdatedAt != nil {
		fields["updatedAt"] = serialization.FormatTime(*j.UpdatedAt)
	}
	if j.Priority != 0 {
		fields["priority"] = serialization.HashString(j.Priority)
	}
	if j.Timeout > 0 {
		fields["timeout"] = serialization.HashString(j.Timeout)
	}
	if j.RetryPolicy != nil {
		policy, err := serialization.MarshalField(j.RetryPolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal retry policy: %w", err)
		}
		fields["retryPolicy"] = policy
	}
	if len(j.Dependencies) > 0 {
		deps, err := serialization.MarshalField(j.Dependencies)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal dependencies: %w", err)
		}
		fields["dependencies"] = deps
	}
	if len(j.Metadata) > 0 {
		meta, err := serialization.MarshalField(j.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		fields["metadata"] = meta
	}
	if j.RescheduledCount > 0 {
		fields["rescheduledCount"] = serialization.HashString(j.RescheduledCount)
	}
	if j.ScheduleID != "" {
		fields["scheduleId"] = j.ScheduleID
	}
	return fields, nil
}

// ScheduledJobFromHash rebuilds a job from its hash fields.
func ScheduledJobFromHash(fields map[string]string) (*ScheduledJob, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty job hash")
	}
	j := &ScheduledJob{
		ID:               fields["id"],
		QueueID:          fields["queueId"],
		Status:           ItemStatus(fields["status"]),
		ScheduledFor:     serialization.ParseTime(fields["scheduledFor"]),
		CreatedAt:        serialization.ParseTime(fields["createdAt"]),
		Priority:         int(serialization.ParseInt(fields["priority"])),
		Timeout:          serialization.ParseInt(fields["timeout"]),
		RescheduledCount: int(serialization.ParseInt(fields["rescheduledCount"])),
		ScheduleID:       fields["scheduleId"],
	}
	if raw, ok := fields["data"]; ok {
		if err := serialization.UnmarshalField(raw, &j.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job data: %w", err)
		}
	}
	if raw, ok := fields["updatedAt"]; ok {
		t := serialization.ParseTime(raw)
		j.UpdatedAt = &t
	}
	if raw, ok := fields["retryPolicy"]; ok {
		if err := serialization.UnmarshalField(raw, &j.RetryPolicy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retry policy: %w", err)
		}
	}
	if raw, ok := fields["dependencies"]; ok {
		if err := serialization.UnmarshalField(raw, &j.Dependencies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dependencies: %w", err)
		}
	}
	if raw, ok := fields["metadata"]; ok {
		if err := serialization.UnmarshalField(raw, &j.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return j, nil
}

// RetryPolicy controls re-execution of failed work.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int `json:"maxRetries"`
	// BaseDelayMs is the delay before the first retry
	BaseDelayMs int64 `json:"baseDelayMs"`
	// BackoffMultiplier grows the delay per attempt
	BackoffMultiplier float64 `json:"backoffMultiplier"`
	// MaxDelayMs caps the grown delay, zero for no cap
	MaxDelayMs int64 `json:"maxDelayMs,omitempty"`
	// RetryOnTypes lists the error kinds worth retrying; "error" matches all
	RetryOnTypes []string `json:"retryOnTypes,omitempty"`
	// DeadLetter routes exhausted jobs to a DLQ when set
	DeadLetter *DLQConfig `json:"deadLetter,omitempty"`
}

// DefaultRetryPolicy returns the stock policy: three retries, one second
// base delay doubling up to thirty seconds, retrying on any error.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:        3,
		BaseDelayMs:       1000,
		BackoffMultiplier: 2,
		MaxDelayMs:        30000,
		RetryOnTypes:      []string{"error"},
	}
}

// NextDelay computes the backoff before the given retry attempt, counted
// from 1: min(maxDelayMs, baseDelayMs * multiplier^(attempt-1)).
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(p.BaseDelayMs) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelayMs > 0 && delay > float64(p.MaxDelayMs) {
		delay = float64(p.MaxDelayMs)
	}
	return time.Duration(delay) * time.Millisecond
}

// ShouldRetry reports whether an error of the given kind is retryable
// under this policy. The catch-all type "error" matches every kind.
func (p *RetryPolicy) ShouldRetry(errorKind string) bool {
	types := p.RetryOnTypes
	if len(types) == 0 {
		types = []string{"error"}
	}
	for _, t := range types {
		if t == "error" || t == errorKind {
			return true
		}
	}
	return false
}

// DLQConfig names the dead-letter destination for exhausted jobs.
type DLQConfig struct {
	// QueueID overrides the default "<source>-dlq" destination
	QueueID string `json:"queueId,omitempty"`
	// MaxSize bounds the DLQ length, zero for unbounded
	MaxSize int `json:"maxSize,omitempty"`
	// RetentionDays bounds how long dead letters are kept
	RetentionDays int `json:"retentionDays,omitempty"`
}

// DeadLetterQueueID resolves the DLQ destination for a source queue.
func DeadLetterQueueID(sourceQueueID string, cfg *DLQConfig) string {
	if cfg != nil && cfg.QueueID != "" {
		return cfg.QueueID
	}
	return sourceQueueID + "-dlq"
}

// DeadLetterItem is the payload pushed onto a dead-letter queue.
type DeadLetterItem struct {
	OriginalQueueID string       `json:"originalQueueId"`
	OriginalJobID   string       `json:"originalJobId"`
	FailureReason   string       `json:"failureReason"`
	RetryHistory    *RetryRecord `json:"retryHistory,omitempty"`
	RoutedAt        time.Time    `json:"routedAt"`
	Data            interface{}  `json:"data,omitempty"`
}

// Schedule is a recurring cron definition that spawns scheduled jobs.
type Schedule struct {
	// ID identifies the schedule and its distributed lock
	ID string `json:"id"`
	// QueueID is the destination of spawned jobs
	QueueID string `json:"queueId"`
	// CronExpr is a five-field cron expression
	CronExpr string `json:"cronExpr"`
	// Data is the payload each spawned job carries
	Data interface{} `json:"data,omitempty"`
	// Enabled pauses the schedule when false
	Enabled bool `json:"enabled"`
	// Timezone is the IANA zone cron fields are evaluated in, default UTC
	Timezone string `json:"timezone,omitempty"`
	// CreatedAt is when the schedule was registered
	CreatedAt time.Time `json:"createdAt"`
	// LastRunAt is the last spawn time
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	// Priority carries over to spawned jobs
	Priority int `json:"priority,omitempty"`
	// Timeout carries over to spawned jobs, in milliseconds
	Timeout int64 `json:"timeout,omitempty"`
	// RetryPolicy carries over to spawned jobs
	RetryPolicy *RetryPolicy `json:"retryPolicy,omitempty"`
	// Metadata carries over to spawned jobs
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToHash flattens the schedule for its Redis hash.
func (s *Schedule) ToHash() (map[string]string, error) {
	fields := map[string]string{
		"id":        s.ID,
		"queueId":   s.QueueID,
		"cronExpr":  s.CronExpr,
		"enabled":   serialization.HashString(s.Enabled),
		"createdAt": serialization.FormatTime(s.CreatedAt),
	}
	if s.Data != nil {
		data, err := serialization.MarshalField(s.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schedule data: %w", err)
		}
		fields["data"] = data
	}
	if s.Timezone != "" {
		fields["timezone"] = s.Timezone
	}
	if s.LastRunAt != nil {
		fields["lastRunAt"] = serialization.FormatTime(*s.LastRunAt)
	}
	if s.Priority != 0 {
		fields["priority"] = serialization.HashString(s.Priority)
	}
	if s.Timeout > 0 {
		fields["timeout"] = serialization.HashString(s.Timeout)
	}
	if s.RetryPolicy != nil {
		policy, err := serialization.MarshalField(s.RetryPolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal retry policy: %w", err)
		}
		fields["retryPolicy"] = policy
	}
	if len(s.Metadata) > 0 {
		meta, err := serialization.MarshalField(s.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		fields["metadata"] = meta
	}
	return fields, nil
}

// ScheduleFromHash rebuilds a schedule from its hash fields.
func ScheduleFromHash(fields map[string]string) (*Schedule, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty schedule hash")
	}
	s := &Schedule{
		ID:        fields["id"],
		QueueID:   fields["queueId"],
		CronExpr:  fields["cronExpr"],
		Enabled:   serialization.ParseBool(fields["enabled"]),
		Timezone:  fields["timezone"],
		CreatedAt: serialization.ParseTime(fields["createdAt"]),
		Priority:  int(serialization.ParseInt(fields["priority"])),
		Timeout:   serialization.ParseInt(fields["timeout"]),
	}
	if raw, ok := fields["data"]; ok {
		if err := serialization.UnmarshalField(raw, &s.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schedule data: %w", err)
		}
	}
	if raw, ok := fields["lastRunAt"]; ok {
		t := serialization.ParseTime(raw)
		s.LastRunAt = &t
	}
	if raw, ok := fields["retryPolicy"]; ok {
		if err := serialization.UnmarshalField(raw, &s.RetryPolicy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retry policy: %w", err)
		}
	}
	if raw, ok := fields["metadata"]; ok {
		if err := serialization.UnmarshalField(raw, &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return s, nil
}
