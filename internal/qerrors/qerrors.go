package qerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a broker error into one of the failure families callers
// are expected to branch on.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindAlreadyExists Kind = "already_exists"
	KindTimeout       Kind = "timeout"
	KindStorage       Kind = "storage"
	KindCache         Kind = "cache"
	KindHook          Kind = "hook"
	KindRateLimit     Kind = "rate_limit"
	KindDependency    Kind = "dependency"
	KindCircuitOpen   Kind = "circuit_open"
	KindUnknown       Kind = "unknown"
)

// Standard sentinel errors for comparison using errors.Is()
var (
	ErrQueueNotFound     = errors.New("queue not found")
	ErrItemNotFound      = errors.New("item not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrQueueExists       = errors.New("queue already exists")
	ErrQueuePaused       = errors.New("queue is paused")
	ErrNotReady          = errors.New("broker not ready")
	ErrClosed            = errors.New("broker is closed")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrCircuitOpen       = errors.New("storage circuit breaker is open")
	ErrHookTimeout       = errors.New("hook timed out")
	ErrDependencyFailed  = errors.New("dependency failed")
	ErrSchemaViolation   = errors.New("payload failed schema validation")
	ErrConnectionTimeout = errors.New("timed out waiting for redis connection")
)

// Error is the structured error type returned by broker operations. It
// carries the operation name and the queue/item it was acting on so callers
// and logs get full context without string parsing.
type Error struct {
	Kind    Kind   // failure family
	Op      string // operation that failed (e.g. "queue.AddToQueue")
	QueueID string // queue involved, when known
	ItemID  string // item or job involved, when known
	Index   int    // pipeline command index, -1 when not applicable
	Message string // human-readable detail
	Err     error  // underlying cause for wrapping
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	scope := e.Op
	if e.QueueID != "" {
		scope = fmt.Sprintf("%s [queue=%s]", scope, e.QueueID)
	}
	if e.ItemID != "" {
		scope = fmt.Sprintf("%s [item=%s]", scope, e.ItemID)
	}
	switch {
	case scope != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", scope, e.Err)
	case scope != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", scope, e.Message)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with a message and no underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Index: -1}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Index: -1}
}

// Wrap creates an Error wrapping an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Index: -1}
}

// WithQueue attaches the queue id and returns the error for chaining.
func (e *Error) WithQueue(queueID string) *Error {
	e.QueueID = queueID
	return e
}

// WithItem attaches the item or job id and returns the error for chaining.
func (e *Error) WithItem(itemID string) *Error {
	e.ItemID = itemID
	return e
}

// WithIndex records the pipeline command index that produced the error.
func (e *Error) WithIndex(i int) *Error {
	e.Index = i
	return e
}

// KindOf extracts the Kind from err, walking the wrap chain. Errors that
// never passed through this package report KindUnknown.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err represents a missing queue, item or job.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound) ||
		errors.Is(err, ErrQueueNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrJobNotFound)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return IsKind(err, KindValidation)
}

// IsAlreadyExists reports whether err is a uniqueness conflict.
func IsAlreadyExists(err error) bool {
	return IsKind(err, KindAlreadyExists) || errors.Is(err, ErrQueueExists)
}

// IsTimeout reports whether err is a timeout of any flavor.
func IsTimeout(err error) bool {
	return IsKind(err, KindTimeout) ||
		errors.Is(err, ErrHookTimeout) ||
		errors.Is(err, ErrConnectionTimeout)
}

// IsStorage reports whether err originated in the Redis layer.
func IsStorage(err error) bool {
	return IsKind(err, KindStorage)
}

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	return IsKind(err, KindRateLimit) || errors.Is(err, ErrRateLimited)
}

// IsCircuitOpen reports whether err was short-circuited by the storage
// breaker without reaching Redis.
func IsCircuitOpen(err error) bool {
	return IsKind(err, KindCircuitOpen) || errors.Is(err, ErrCircuitOpen)
}

// IsRetryable reports whether the failure is transient enough that retrying
// the operation can succeed. Validation and uniqueness failures are final.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindStorage, KindTimeout, KindCircuitOpen, KindUnknown:
		return true
	}
	return false
}
