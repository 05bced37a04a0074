package storage

import "strings"

// Key prefixes for the fixed keyspace layout. The layout is wire-compatible
// with existing datasets, so these strings must never change.
const (
	queueMetaPrefix    = "qm:meta:"
	queueItemsPrefix   = "qm:items:"
	itemPrefix         = "qm:queue:item:"
	scheduledPrefix    = "qm:queue:scheduled:"
	jobPrefix          = "qm:queue:job:"
	dependenciesPrefix = "qm:queue:dependencies:"
	rateLimitPrefix    = "qm:queue:rate_limit:"
	rateCountersPrefix = "qm:queue:rate_counters:"
	executionPrefix    = "qm:queue:execution:"
	timeoutPrefix      = "qm:queue:timeout:"
	auditConfigPrefix  = "qm:queue:audit:config:"
	auditLogPrefix     = "qm:queue:audit:log:"
	auditIndexPrefix   = "qm:queue:audit:index:"
	retryHistoryPrefix = "qm:queue:retry:history:"
	retryJobPrefix     = "qm:queue:retry:job:"
	schemaPrefix       = "qm:queue:schema:"
	notifyPrefix       = "qm:queue:notify:"
	scheduleLockPrefix = "qm:queue:schedule_lock:"
	schedulePrefix     = "qm:queue:schedule:"
	scheduleIndexKey   = "qm:queue:schedules"
)

func joinKey(prefix, id string) string {
	var sb strings.Builder
	sb.Grow(len(prefix) + len(id))
	sb.WriteString(prefix)
	sb.WriteString(id)
	return sb.String()
}

func joinKey2(prefix, first, second string) string {
	var sb strings.Builder
	sb.Grow(len(prefix) + len(first) + 1 + len(second))
	sb.WriteString(prefix)
	sb.WriteString(first)
	sb.WriteByte(':')
	sb.WriteString(second)
	return sb.String()
}

// QueueMetaKey returns the hash key holding a queue's metadata.
func QueueMetaKey(queueID string) string {
	return joinKey(queueMetaPrefix, queueID)
}

// QueueItemsKey returns the list key holding a queue's item bodies.
// The head of the list is the newest item.
func QueueItemsKey(queueID string) string {
	return joinKey(queueItemsPrefix, queueID)
}

// ItemKey returns the per-item hash key used by the dependency engine.
func ItemKey(queueID, itemID string) string {
	return joinKey2(itemPrefix, queueID, itemID)
}

// ScheduledKey returns the sorted-set key of pending scheduled jobs,
// scored by scheduledFor in epoch milliseconds.
func ScheduledKey(queueID string) string {
	return joinKey(scheduledPrefix, queueID)
}

// JobKey returns the hash key holding a scheduled job's body.
func JobKey(jobID string) string {
	return joinKey(jobPrefix, jobID)
}

// DependenciesKey returns the set key of an item's unresolved predecessors.
func DependenciesKey(queueID, itemID string) string {
	return joinKey2(dependenciesPrefix, queueID, itemID)
}

// RateLimitKey returns the hash key holding a queue's rate-limit config.
func RateLimitKey(queueID string) string {
	return joinKey(rateLimitPrefix, queueID)
}

// RateCountersKey returns the hash key holding a queue's window counters
// and the concurrent-jobs gauge.
func RateCountersKey(queueID string) string {
	return joinKey(rateCountersPrefix, queueID)
}

// ExecutionKey returns the hash key holding per-execution stats for a job.
func ExecutionKey(queueID, jobID string) string {
	return joinKey2(executionPrefix, queueID, jobID)
}

// TimeoutKey returns the hash key tracking a running job's deadline.
func TimeoutKey(queueID, jobID string) string {
	return joinKey2(timeoutPrefix, queueID, jobID)
}

// AuditConfigKey returns the hash key holding a queue's audit settings.
func AuditConfigKey(queueID string) string {
	return joinKey(auditConfigPrefix, queueID)
}

// AuditLogKey returns the hash key holding a single audit entry.
func AuditLogKey(queueID, auditID string) string {
	return joinKey2(auditLogPrefix, queueID, auditID)
}

// AuditIndexKey returns the sorted-set key indexing audit entries by time.
func AuditIndexKey(queueID string) string {
	return joinKey(auditIndexPrefix, queueID)
}

// RetryHistoryKey returns the sorted-set key of retry records by end time.
func RetryHistoryKey(queueID string) string {
	return joinKey(retryHistoryPrefix, queueID)
}

// RetryJobKey returns the hash key holding a job's retry state.
func RetryJobKey(jobID string) string {
	return joinKey(retryJobPrefix, jobID)
}

// SchemaKey returns the hash key holding a queue's JSON schema config.
func SchemaKey(queueID string) string {
	return joinKey(schemaPrefix, queueID)
}

// NotifyChannel returns the pub/sub channel for job completion signals.
func NotifyChannel(jobID string) string {
	return joinKey(notifyPrefix, jobID)
}

// ScheduleLockKey returns the lock key guarding one recurring schedule tick.
func ScheduleLockKey(scheduleID string) string {
	return joinKey(scheduleLockPrefix, scheduleID)
}

// ScheduleKey returns the hash key holding a recurring schedule.
func ScheduleKey(scheduleID string) string {
	return joinKey(schedulePrefix, scheduleID)
}

// ScheduleIndexKey returns the set key listing every recurring schedule id.
func ScheduleIndexKey() string {
	return scheduleIndexKey
}

// QueueMetaPattern matches every queue metadata key.
func QueueMetaPattern() string {
	return queueMetaPrefix + "*"
}

// ItemPattern matches every per-item hash of a queue.
func ItemPattern(queueID string) string {
	return joinKey2(itemPrefix, queueID, "*")
}

// TimeoutPattern matches every timeout tracker of a queue.
func TimeoutPattern(queueID string) string {
	return joinKey2(timeoutPrefix, queueID, "*")
}

// ExecutionPattern matches every execution-stats hash of a queue.
func ExecutionPattern(queueID string) string {
	return joinKey2(executionPrefix, queueID, "*")
}

// AuditLogPattern matches every audit entry of a queue.
func AuditLogPattern(queueID string) string {
	return joinKey2(auditLogPrefix, queueID, "*")
}

// DependenciesPattern matches every dependency set of a queue.
func DependenciesPattern(queueID string) string {
	return joinKey2(dependenciesPrefix, queueID, "*")
}

// QueuePatterns returns every key pattern owned by a queue. Queue deletion
// scans each pattern and removes the matches in one pipeline.
func QueuePatterns(queueID string) []string {
	return []string{
		QueueMetaKey(queueID),
		QueueItemsKey(queueID),
		ScheduledKey(queueID),
		RateLimitKey(queueID),
		RateCountersKey(queueID),
		AuditConfigKey(queueID),
		AuditIndexKey(queueID),
		RetryHistoryKey(queueID),
		SchemaKey(queueID),
		ItemPattern(queueID),
		TimeoutPattern(queueID),
		ExecutionPattern(queueID),
		AuditLogPattern(queueID),
		DependenciesPattern(queueID),
	}
}
