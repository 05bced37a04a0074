package queue

import (
	"time"

	"github.com/muaviaUsmani/plantain/internal/hooks"
	"github.com/muaviaUsmani/plantain/internal/model"
)

// Position names where a requeued or moved item lands, measured in pop
// order: head pops next, tail pops last.
type Position string

const (
	PositionHead  Position = "head"
	PositionTail  Position = "tail"
	PositionIndex Position = "index"
)

// AddOptions shapes a new item. The zero value adds a plain pending item.
type AddOptions struct {
	// ItemID overrides the generated id. The scheduler reuses job ids here.
	ItemID string
	// Priority within the configured range, 0 when unused.
	Priority int
	// PriorityWeight breaks ties between equal priorities, minimum 1.
	PriorityWeight int
	// Timeout in milliseconds; 0 means no deadline.
	Timeout int64
	// RetryPolicy travels with the item for the retry engine.
	RetryPolicy *model.RetryPolicy
	// Dependencies lists item ids that must complete first.
	Dependencies []string
	// Metadata is attached verbatim.
	Metadata map[string]interface{}
	// Status overrides the initial status; empty means pending. The
	// dependency engine sets waiting here.
	Status model.ItemStatus
	// Hooks bracket the operation.
	Hooks hooks.Set
}

// RequeueOptions shapes a requeue.
type RequeueOptions struct {
	// Position selects head, tail or index placement; default tail.
	Position Position
	// Index is the pop-order slot when Position is index, clamped to
	// [0, len].
	Index int
	// Delay defers consumption: the item is flagged delayed with a
	// delayUntil consumers must honor.
	Delay time.Duration
	// UpdateStatus applies NewStatus to the requeued item.
	UpdateStatus bool
	NewStatus    model.ItemStatus
	// RetryCount overrides the stored count when non-nil.
	RetryCount *int
	// ResetTimestamp re-stamps addedAt, moving the item's age to zero.
	ResetTimestamp bool
	Hooks          hooks.Set
}

// MoveOptions shapes a cross-queue move.
type MoveOptions struct {
	// Position in the destination, default tail.
	Position Position
	Index    int
	Hooks    hooks.Set
}

// ListOptions pages queue listings.
type ListOptions struct {
	// Limit caps the page size; 0 means everything.
	Limit int
	// Offset skips into the sorted id listing.
	Offset int
	// Pattern is a glob over queue ids, empty matches all.
	Pattern string
}

// FilterOptions shapes filterItems.
type FilterOptions struct {
	// Limit caps matches; 0 means all.
	Limit int
	// IncludeIndices populates FilteredItem.Index; otherwise it is -1.
	IncludeIndices bool
}

// FilteredItem is one filter match.
type FilteredItem struct {
	Item *model.Item `json:"item"`
	// Index is the item's position in list order, -1 when not requested.
	Index int `json:"index"`
}

// PriorityPopOptions narrows a priority pop.
type PriorityPopOptions struct {
	// MinPriority and MaxPriority bound eligible items when non-nil.
	MinPriority *int
	MaxPriority *int
	// PriorityFilter allows only the listed priorities when non-empty.
	PriorityFilter []int
	Hooks          hooks.Set
}

// UpdatePriorityOptions shapes updateItemPriority.
type UpdatePriorityOptions struct {
	// Weight replaces the stored priority weight when non-nil.
	Weight *int
	Hooks  hooks.Set
}

// Predicate inspects one item during find and filter scans. Returning an
// error (or panicking) skips the item; the scan continues.
type Predicate func(item *model.Item, index int) (bool, error)
