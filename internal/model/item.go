// Package model holds the entities the broker moves around: queues, items,
// scheduled jobs and the records the auxiliary engines keep about them.
// All JSON tags are camelCase because item bodies are shared on the wire
// with other consumers of the same dataset.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/muaviaUsmani/plantain/internal/serialization"
)

// ItemStatus represents the lifecycle state of an item or job
type ItemStatus string

const (
	// StatusPending indicates the item is ready to be consumed
	StatusPending ItemStatus = "pending"
	// StatusWaiting indicates the item is blocked on unresolved dependencies
	StatusWaiting ItemStatus = "waiting"
	// StatusProcessing indicates the item is currently being worked on
	StatusProcessing ItemStatus = "processing"
	// StatusCompleted indicates the item finished successfully
	StatusCompleted ItemStatus = "completed"
	// StatusFailed indicates the item failed and will not run again
	StatusFailed ItemStatus = "failed"
	// StatusTimedOut indicates the item exceeded its execution deadline
	StatusTimedOut ItemStatus = "timed_out"
	// StatusCancelled indicates the item was cancelled before running
	StatusCancelled ItemStatus = "cancelled"
	// StatusRetry indicates the item is between retry attempts
	StatusRetry ItemStatus = "retry"
	// StatusCorrupted indicates the stored body could not be decoded
	StatusCorrupted ItemStatus = "corrupted"
)

// DependencyState records what is known about one predecessor of an item.
type DependencyState struct {
	Satisfied   bool       `json:"satisfied"`
	Failed      bool       `json:"failed,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Item is a single queue entry.
type Item struct {
	// ID is unique within the queue; generated when the caller omits it
	ID string `json:"id"`
	// Data is the opaque payload
	Data interface{} `json:"data"`
	// Status is the current lifecycle state
	Status ItemStatus `json:"status"`
	// AddedAt is when the item entered the queue
	AddedAt time.Time `json:"addedAt"`
	// UpdatedAt is set on every mutation after the initial add
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	// Priority orders delivery; higher pops first. Default 0.
	Priority int `json:"priority,omitempty"`
	// PriorityWeight breaks ties between equal priorities. Default 1.
	PriorityWeight int `json:"priorityWeight,omitempty"`
	// RetryCount is how many times the item has been re-attempted
	RetryCount int `json:"retryCount,omitempty"`
	// Timeout is the execution deadline in milliseconds, zero for none
	Timeout int64 `json:"timeout,omitempty"`
	// TimeoutAt is the absolute deadline derived from Timeout
	TimeoutAt *time.Time `json:"timeoutAt,omitempty"`
	// Delayed marks an item a consumer must not run before DelayUntil
	Delayed bool `json:"delayed,omitempty"`
	// DelayUntil is the earliest allowed consumption time
	DelayUntil *time.Time `json:"delayUntil,omitempty"`
	// RetryPolicy controls re-execution when this item fails
	RetryPolicy *RetryPolicy `json:"retryPolicy,omitempty"`
	// Dependencies lists predecessor item ids
	Dependencies []string `json:"dependencies,omitempty"`
	// DependencyStatus tracks resolution per predecessor
	DependencyStatus map[string]DependencyState `json:"dependencyStatus,omitempty"`
	// Metadata carries free-form caller data
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewItem creates a pending item around a payload with a fresh UUID.
func NewItem(data interface{}) *Item {
	return &Item{
		ID:             uuid.New().String(),
		Data:           data,
		Status:         StatusPending,
		AddedAt:        time.Now().UTC(),
		PriorityWeight: 1,
	}
}

// Touch stamps UpdatedAt.
func (i *Item) Touch() {
	now := time.Now().UTC()
	i.UpdatedAt = &now
}

// UpdateStatus sets the status and stamps UpdatedAt.
func (i *Item) UpdateStatus(status ItemStatus) {
	i.Status = status
	i.Touch()
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing cache internals. Payloads round-trip through JSON, which also
// normalizes them to plain maps and slices.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	b, err := json.Marshal(i)
	if err != nil {
		dup := *i
		return &dup
	}
	var out Item
	if err := json.Unmarshal(b, &out); err != nil {
		dup := *i
		return &dup
	}
	return &out
}

// JSON renders the item as its wire body.
func (i *Item) JSON() (string, error) {
	b, err := json.Marshal(i)
	if err != nil {
		return "", fmt.Errorf("failed to marshal item %s: %w", i.ID, err)
	}
	return string(b), nil
}

// ItemFromJSON decodes a wire body back into an item.
func ItemFromJSON(body string) (*Item, error) {
	var item Item
	if err := json.Unmarshal([]byte(body), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item body: %w", err)
	}
	return &item, nil
}

// CorruptedItem wraps a body that failed to decode so it can still be
// surfaced instead of silently dropped.
func CorruptedItem(body string) *Item {
	return &Item{
		ID:             uuid.New().String(),
		Data:           body,
		Status:         StatusCorrupted,
		AddedAt:        time.Now().UTC(),
		PriorityWeight: 1,
	}
}

// ToHash flattens the item into string fields for the per-item hash the
// dependency engine keeps.
func (i *Item) ToHash() (map[string]string, error) {
	fields := map[string]string{
		"id":             i.ID,
		"status":         string(i.Status),
		"addedAt":        serialization.FormatTime(i.AddedAt),
		"priority":       serialization.HashString(i.Priority),
		"priorityWeight": serialization.HashString(i.PriorityWeight),
		"retryCount":     serialization.HashString(i.RetryCount),
	}
	data, err := serialization.MarshalField(i.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item data: %w", err)
	}
	fields["data"] = data
	if i.UpdatedAt != nil {
		fields["updatedAt"] = serialization.FormatTime(*i.UpdatedAt)
	}
	if i.Timeout > 0 {
		fields["timeout"] = serialization.HashString(i.Timeout)
	}
	if i.TimeoutAt != nil {
		fields["timeoutAt"] = serialization.FormatTime(*i.TimeoutAt)
	}
	if i.Delayed {
		fields["delayed"] = serialization.HashString(i.Delayed)
		if i.DelayUntil != nil {
			fields["delayUntil"] = serialization.FormatTime(*i.DelayUntil)
		}
	}
	if i.RetryPolicy != nil {
		policy, err := serialization.MarshalField(i.RetryPolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal retry policy: %w", err)
		}
		fields["retryPolicy"] = policy
	}
	if len(i.Dependencies) > 0 {
		deps, err := serialization.MarshalField(i.Dependencies)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal dependencies: %w", err)
		}
		fields["dependencies"] = deps
	}
	if len(i.DependencyStatus) > 0 {
		status, err := serialization.MarshalField(i.DependencyStatus)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal dependency status: %w", err)
		}
		fields["dependencyStatus"] = status
	}
	if len(i.Metadata) > 0 {
		meta, err := serialization.MarshalField(i.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		fields["metadata"] = meta
	}
	return fields, nil
}

// ItemFromHash rebuilds an item from its hash fields.
func ItemFromHash(fields map[string]string) (*Item, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty item hash")
	}
	item := &Item{
		ID:             fields["id"],
		Status:         ItemStatus(fields["status"]),
		AddedAt:        serialization.ParseTime(fields["addedAt"]),
		Priority:       int(serialization.ParseInt(fields["priority"])),
		PriorityWeight: int(serialization.ParseInt(fields["priorityWeight"])),
		RetryCount:     int(serialization.ParseInt(fields["retryCount"])),
		Timeout:        serialization.ParseInt(fields["timeout"]),
		Delayed:        serialization.ParseBool(fields["delayed"]),
	}
	if item.PriorityWeight == 0 {
		item.PriorityWeight = 1
	}
	if raw, ok := fields["data"]; ok {
		if err := serialization.UnmarshalField(raw, &item.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item data: %w", err)
		}
	}
	if raw, ok := fields["updatedAt"]; ok {
		t := serialization.ParseTime(raw)
		item.UpdatedAt = &t
	}
	if raw, ok := fields["timeoutAt"]; ok {
		t := serialization.ParseTime(raw)
		item.TimeoutAt = &t
	}
	if raw, ok := fields["delayUntil"]; ok {
		t := serialization.ParseTime(raw)
		item.DelayUntil = &t
	}
	if raw, ok := fields["retryPolicy"]; ok {
		if err := serialization.UnmarshalField(raw, &item.RetryPolicy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retry policy: %w", err)
		}
	}
	if raw, ok := fields["dependencies"]; ok {
		if err := serialization.UnmarshalField(raw, &item.Dependencies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dependencies: %w", err)
		}
	}
	if raw, ok := fields["dependencyStatus"]; ok {
		if err := serialization.UnmarshalField(raw, &item.DependencyStatus); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dependency status: %w", err)
		}
	}
	if raw, ok := fields["metadata"]; ok {
		if err := serialization.UnmarshalField(raw, &item.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return item, nil
}

// ValidQueueID reports whether the id is non-empty, at most 255 characters
// and built from alphanumerics, underscores and hyphens.
func ValidQueueID(id string) error {
	if id == "" {
		return fmt.Errorf("queue id cannot be empty")
	}
	if len(id) > 255 {
		return fmt.Errorf("queue id too long: %d characters (max 255)", len(id))
	}
	for _, char := range id {
		if (char < 'a' || char > 'z') &&
			(char < 'A' || char > 'Z') &&
			(char < '0' || char > '9') &&
			char != '_' && char != '-' {
			return fmt.Errorf("invalid queue id format: must contain only alphanumeric characters, underscores, and hyphens")
		}
	}
	return nil
}
