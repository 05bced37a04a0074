package broker

import (
	"github.com/muaviaUsmani/plantain/internal/audit"
	"github.com/muaviaUsmani/plantain/internal/cache"
	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/dependency"
	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/hooks"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/ratelimit"
	"github.com/muaviaUsmani/plantain/internal/retry"
	"github.com/muaviaUsmani/plantain/internal/scheduler"
	"github.com/muaviaUsmani/plantain/internal/timeout"
	"github.com/muaviaUsmani/plantain/internal/validation"
)

// Aliases so callers outside the module can name every argument and
// option struct without reaching into internal packages.

// Configuration.
type (
	Config = config.Config
)

// Core records.
type (
	Item         = model.Item
	ItemStatus   = model.ItemStatus
	Queue        = model.Queue
	ScheduledJob = model.ScheduledJob
	Schedule     = model.Schedule
	BulkResult   = model.BulkResult

	RetryPolicy = model.RetryPolicy
	RetryRecord = model.RetryRecord
	DLQConfig   = model.DLQConfig

	RateLimitConfig   = model.RateLimitConfig
	RateLimitDecision = model.RateLimitDecision

	AuditConfig = model.AuditConfig
	AuditLevel  = model.AuditLevel
	AuditRecord = model.AuditRecord

	SchemaConfig   = model.SchemaConfig
	TimeoutTracker = model.TimeoutTracker
)

// Item statuses.
const (
	StatusPending    = model.StatusPending
	StatusProcessing = model.StatusProcessing
	StatusCompleted  = model.StatusCompleted
	StatusFailed     = model.StatusFailed
	StatusTimedOut   = model.StatusTimedOut
	StatusWaiting    = model.StatusWaiting
)

// Queue core options.
type (
	AddOptions            = queue.AddOptions
	ListOptions           = queue.ListOptions
	RequeueOptions        = queue.RequeueOptions
	MoveOptions           = queue.MoveOptions
	FilterOptions         = queue.FilterOptions
	FilteredItem          = queue.FilteredItem
	Predicate             = queue.Predicate
	PriorityPopOptions    = queue.PriorityPopOptions
	UpdatePriorityOptions = queue.UpdatePriorityOptions
	BulkEntry             = queue.BulkEntry
)

// Hooks.
type (
	Hook       = hooks.Hook
	HookSet    = hooks.Set
	Invocation = hooks.Invocation
)

// Engine options and results.
type (
	ScheduleOptions = scheduler.ScheduleOptions

	RetryOptions = retry.Options
	Processor    = retry.Processor

	DependencyOptions = dependency.AddOptions
	DependencyStatus  = dependency.Status
	FailOptions       = dependency.FailOptions

	ResetOptions   = ratelimit.ResetOptions
	ExecutionStats = ratelimit.ExecutionStats

	ValidationConfig = validation.Config
	ValidationResult = validation.Result
	CustomValidator  = validation.CustomValidator
	CustomResult     = validation.CustomResult

	AuditLogOptions  = audit.LogOptions
	AuditSearchQuery = audit.SearchQuery
	AuditStats       = audit.Stats

	TimeoutOptions = timeout.AddOptions

	CacheStats = cache.Stats
)

// Audit export formats.
const (
	AuditFormatJSON = audit.FormatJSON
	AuditFormatCSV  = audit.FormatCSV
)

// Events.
type (
	Envelope   = events.Envelope
	EventType  = events.Type
	Listener   = events.Listener
	Middleware = events.Middleware
)

// Queue lifecycle events.
const (
	EventQueueCreated    = events.TypeQueueCreated
	EventQueueUpdated    = events.TypeQueueUpdated
	EventQueueDeleted    = events.TypeQueueDeleted
	EventQueuePaused     = events.TypeQueuePaused
	EventQueueResumed    = events.TypeQueueResumed
	EventQueueCleared    = events.TypeQueueCleared
	EventQueueRenamedIn  = events.TypeQueueRenamedIn
	EventQueueRenamedOut = events.TypeQueueRenamedOut
)

// Item events.
const (
	EventItemAdded        = events.TypeItemAdded
	EventItemUpdated      = events.TypeItemUpdated
	EventItemDeleted      = events.TypeItemDeleted
	EventItemPeeked       = events.TypeItemPeeked
	EventItemPopped       = events.TypeItemPopped
	EventItemsBatchPopped = events.TypeItemsBatchPopped
	EventItemRequeued     = events.TypeItemRequeued
	EventItemMovedIn      = events.TypeItemMovedIn
	EventItemMovedOut     = events.TypeItemMovedOut
	EventItemFound        = events.TypeItemFound
	EventItemsFiltered    = events.TypeItemsFiltered
)

// Priority events.
const (
	EventItemAddedPriority    = events.TypeItemAddedPriority
	EventItemPoppedPriority   = events.TypeItemPoppedPriority
	EventItemPriorityUpdated  = events.TypeItemPriorityUpdated
	EventQueueReorderedByPrio = events.TypeQueueReorderedByPrio
)

// Scheduling events.
const (
	EventJobScheduled           = events.TypeJobScheduled
	EventJobCancelled           = events.TypeJobCancelled
	EventJobRescheduled         = events.TypeJobRescheduled
	EventScheduledJobsProcessed = events.TypeScheduledJobsProcessed
)

// Dependency events.
const (
	EventJobAddedDependencies = events.TypeJobAddedDependencies
	EventJobReady             = events.TypeJobReady
	EventJobCompleted         = events.TypeJobCompleted
	EventJobFailed            = events.TypeJobFailed
)

// Timeout events.
const (
	EventJobTimedOut        = events.TypeJobTimedOut
	EventJobAddedTimeout    = events.TypeJobAddedTimeout
	EventJobTimeoutExtended = events.TypeJobTimeoutExtended
)

// Retry and DLQ events.
const (
	EventJobRoutedDLQ    = events.TypeJobRoutedDLQ
	EventJobRetrySuccess = events.TypeJobRetrySuccess
	EventJobRetryFailed  = events.TypeJobRetryFailed
	EventJobRetryAttempt = events.TypeJobRetryAttempt
)

// Policy events.
const (
	EventRateLimitConfigured    = events.TypeRateLimitConfigured
	EventRateLimitDisabled      = events.TypeRateLimitDisabled
	EventRateLimitCountersReset = events.TypeRateLimitCountersReset
	EventSchemaConfigured       = events.TypeSchemaConfigured
	EventSchemaDisabled         = events.TypeSchemaDisabled
	EventAuditConfigured        = events.TypeAuditConfigured
	EventAuditLogged            = events.TypeAuditLogged
	EventAuditDisabled          = events.TypeAuditDisabled
	EventAuditCleaned           = events.TypeAuditCleaned
)

// Broker events.
const (
	EventRedisConnected = events.TypeRedisConnected
	EventInitialized    = events.TypeInitialized
	EventError          = events.TypeError
)

// DefaultConfig returns the default configuration, ready to adjust
// before handing to New.
func DefaultConfig() *Config {
	return config.Default()
}
