// Package events is the in-process multicast every mutating operation
// reports into: one global sink plus one sink per queue id, with ordered
// middleware, per-type rate limiting and an optional in-memory audit ring.
// Delivery is synchronous on the emitting goroutine, which is what keeps
// per-queue emission order intact.
package events

import (
	"time"
)

// Type names an event. The strings are part of the public contract and
// never change between versions.
type Type string

// Queue lifecycle events.
const (
	TypeQueueCreated    Type = "queue:created"
	TypeQueueUpdated    Type = "queue:updated"
	TypeQueueDeleted    Type = "queue:deleted"
	TypeQueuePaused     Type = "queue:paused"
	TypeQueueResumed    Type = "queue:resumed"
	TypeQueueCleared    Type = "queue:cleared"
	TypeQueueRenamedIn  Type = "queue:renamed:in"
	TypeQueueRenamedOut Type = "queue:renamed:out"
)

// Item lifecycle events.
const (
	TypeItemAdded        Type = "item:added"
	TypeItemUpdated      Type = "item:updated"
	TypeItemDeleted      Type = "item:deleted"
	TypeItemPeeked       Type = "item:peeked"
	TypeItemPopped       Type = "item:popped"
	TypeItemsBatchPopped Type = "items:batch:popped"
	TypeItemRequeued     Type = "item:requeued"
	TypeItemMovedIn      Type = "item:moved:in"
	TypeItemMovedOut     Type = "item:moved:out"
	TypeItemFound        Type = "item:found"
	TypeItemsFiltered    Type = "items:filtered"
)

// Priority queue events.
const (
	TypeItemAddedPriority    Type = "item:added:priority"
	TypeItemPoppedPriority   Type = "item:popped:priority"
	TypeItemPriorityUpdated  Type = "item:priority:updated"
	TypeQueueReorderedByPrio Type = "queue:reordered:priority"
)

// Scheduling events.
const (
	TypeJobScheduled           Type = "job:scheduled"
	TypeJobCancelled           Type = "job:cancelled"
	TypeJobRescheduled         Type = "job:rescheduled"
	TypeScheduledJobsProcessed Type = "scheduled:jobs:processed"
)

// Dependency and completion events.
const (
	TypeJobAddedDependencies Type = "job:added:dependencies"
	TypeJobReady             Type = "job:ready"
	TypeJobCompleted         Type = "job:completed"
	TypeJobFailed            Type = "job:failed"
)

// Timeout events.
const (
	TypeJobTimedOut        Type = "job:timed_out"
	TypeJobAddedTimeout    Type = "job:added:timeout"
	TypeJobTimeoutExtended Type = "job:timeout:extended"
)

// Retry and dead letter events.
const (
	TypeJobRoutedDLQ      Type = "job:routed:dlq"
	TypeJobRetrySuccess   Type = "job:retry:success"
	TypeJobRetryFailed    Type = "job:retry:failed"
	TypeJobRetryAttempt   Type = "job:retry:attempt"
)

// Rate limiter events.
const (
	TypeRateLimitConfigured    Type = "rate_limit:configured"
	TypeRateLimitDisabled      Type = "rate_limit:disabled"
	TypeRateLimitCountersReset Type = "rate_limit:counters:reset"
)

// Schema validation events.
const (
	TypeSchemaConfigured Type = "schema:configured"
	TypeSchemaDisabled   Type = "schema:disabled"
)

// Audit trail events.
const (
	TypeAuditConfigured Type = "audit:configured"
	TypeAuditLogged     Type = "audit:logged"
	TypeAuditDisabled   Type = "audit:disabled"
	TypeAuditCleaned    Type = "audit:cleaned"
)

// Connection events.
const (
	TypeRedisConnected    Type = "redis:connected"
	TypeRedisDisconnected Type = "redis:disconnected"
	TypeRedisReconnecting Type = "redis:reconnecting"
	TypeRedisError        Type = "redis:error"
)

// Broker events.
const (
	TypeInitialized Type = "queuemanager:initialized"
	TypeError       Type = "error"
)

// HookErrorType builds the event type for a failed hook of the given kind,
// e.g. "hook:beforeAction:error".
func HookErrorType(hookType string) Type {
	return Type("hook:" + hookType + ":error")
}

// EnvelopeVersion stamps every emitted envelope.
const EnvelopeVersion = "1.0.0"

// DefaultSource identifies this library in emitted envelopes.
const DefaultSource = "plantain"

// Envelope is the wire shape delivered to listeners.
type Envelope struct {
	// Timestamp is when the event was emitted, UTC.
	Timestamp time.Time `json:"timestamp"`
	// Type is the event name, one of the Type constants.
	Type Type `json:"eventType"`
	// Version is the envelope schema version.
	Version string `json:"version"`
	// Source identifies the emitting library or service.
	Source string `json:"source"`
	// QueueID is the queue the event concerns, empty for broker-level events.
	QueueID string `json:"queueId,omitempty"`
	// Payload carries event-specific fields.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Listener receives delivered envelopes. Listeners run synchronously on
// the emitting goroutine and must return quickly.
type Listener func(evt Envelope)

// Middleware transforms an envelope before delivery. Returning false
// drops the event.
type Middleware func(evt Envelope) (Envelope, bool)
