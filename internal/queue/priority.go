package queue

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
)

// Default priority bounds. Queues may widen or narrow them through the
// minPriority and maxPriority option keys.
const (
	defaultMinPriority = -10
	defaultMaxPriority = 10
)

// priorityScore ranks an item for delivery: priority dominates, weight
// breaks ties between equal priorities, and age nudges older items ahead
// of newer ones. The age term uses addedAt so the ranking of two items
// never flips between calls.
func priorityScore(item *model.Item, now time.Time) float64 {
	weight := item.PriorityWeight
	if weight < 1 {
		weight = 1
	}
	age := float64(now.UnixMilli()-item.AddedAt.UnixMilli()) / 1_000_000
	return float64(item.Priority)*1_000_000 + float64(weight)*1_000 + age
}

// popsBefore reports whether a is delivered before b. Equal scores fall
// back to earlier addedAt.
func popsBefore(a, b *model.Item, now time.Time) bool {
	sa, sb := priorityScore(a, now), priorityScore(b, now)
	if sa != sb {
		return sa > sb
	}
	return a.AddedAt.Before(b.AddedAt)
}

// insertByScore splices an item into a list-ordered slice so delivery
// order stays sorted: the slice end pops next, so the scan walks up from
// the least preferred entry until it meets one that outranks the new item.
func insertByScore(items []*model.Item, item *model.Item, now time.Time) []*model.Item {
	pos := len(items)
	for i, existing := range items {
		if popsBefore(existing, item, now) {
			pos = i
			break
		}
	}
	items = append(items, nil)
	copy(items[pos+1:], items[pos:])
	items[pos] = item
	return items
}

// priorityBounds resolves the allowed priority range for a queue.
func priorityBounds(q *model.Queue) (int, int) {
	min, max := defaultMinPriority, defaultMaxPriority
	if raw, ok := q.Options["minPriority"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			min = n
		}
	}
	if raw, ok := q.Options["maxPriority"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			max = n
		}
	}
	return min, max
}

func validatePriority(op string, q *model.Queue, priority int) error {
	min, max := priorityBounds(q)
	if priority < min || priority > max {
		return qerrors.Newf(qerrors.KindValidation, op,
			"priority %d out of range %d..%d", priority, min, max).WithQueue(q.ID)
	}
	return nil
}

// matchesPriority applies the optional pop filters.
func (o PriorityPopOptions) matchesPriority(priority int) bool {
	if o.MinPriority != nil && priority < *o.MinPriority {
		return false
	}
	if o.MaxPriority != nil && priority > *o.MaxPriority {
		return false
	}
	if len(o.PriorityFilter) > 0 {
		for _, p := range o.PriorityFilter {
			if p == priority {
				return true
			}
		}
		return false
	}
	return true
}

// AddToQueueWithPriority creates an item and splices it into score order
// instead of the plain head insert.
func (m *Manager) AddToQueueWithPriority(ctx context.Context, queueID string, data interface{}, opts AddOptions) (*model.Item, error) {
	const op = "queue.AddToQueueWithPriority"
	start := time.Now()
	unlock := m.lockQueue(queueID)
	defer unlock()

	q, err := m.loadQueue(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	if err := requirePausable(op, q); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	if err := validatePriority(op, q, opts.Priority); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	if m.validator != nil {
		if err := m.validator.ValidateOnAdd(ctx, queueID, data); err != nil {
			m.observe(op, queueID, start, err)
			return nil, err
		}
	}

	item := m.buildItem(data, opts)
	if err := m.runBefore(ctx, op, queueID, item, opts.Hooks); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	items, err := m.loadItems(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	items = insertByScore(items, item, time.Now())

	if err := m.writeItemHash(ctx, op, queueID, item); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	if err := m.saveItems(ctx, op, queueID, items); err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}

	m.log.Debug("item added by priority", "queue_id", queueID, "item_id", item.ID, "priority", item.Priority)
	m.emit(events.TypeItemAddedPriority, queueID, map[string]interface{}{
		"itemId":   item.ID,
		"priority": item.Priority,
	})
	m.runAfter(ctx, op, queueID, item, opts.Hooks)
	m.observe(op, queueID, start, nil)
	return item.Clone(), nil
}

// PopFromQueueByPriority removes and returns the highest-scoring item that
// passes the filters, scanning the whole list so interleaved plain adds
// cannot hide a better candidate. Returns nil, nil when nothing qualifies.
func (m *Manager) PopFromQueueByPriority(ctx context.Context, queueID string, opts PriorityPopOptions) (*model.Item, error) {
	const op = "queue.PopFromQueueByPriority"
	start := time.Now()
	unlock := m.lockQueue(queueID)
	defer unlock()

	q, err := m.loadQueue(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	if err := requirePausable(op, q); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	items, err := m.loadItems(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	now := time.Now()
	best := -1
	for i, item := range items {
		if !opts.matchesPriority(item.Priority) {
			continue
		}
		if best == -1 || popsBefore(item, items[best], now) {
			best = i
		}
	}
	if best == -1 {
		m.observe(op, queueID, start, nil)
		return nil, nil
	}
	item := items[best]

	if err := m.runBefore(ctx, op, queueID, item, opts.Hooks); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	items = append(items[:best], items[best+1:]...)
	if err := m.saveItems(ctx, op, queueID, items); err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}

	m.emit(events.TypeItemPoppedPriority, queueID, map[string]interface{}{
		"itemId":   item.ID,
		"priority": item.Priority,
	})
	m.runAfter(ctx, op, queueID, item, opts.Hooks)
	m.observe(op, queueID, start, nil)
	return item, nil
}

// UpdateItemPriority changes an item's priority (and optionally weight)
// and re-inserts it at its new rank.
func (m *Manager) UpdateItemPriority(ctx context.Context, queueID, itemID string, priority int, opts UpdatePriorityOptions) (*model.Item, error) {
	const op = "queue.UpdateItemPriority"
	start := time.Now()
	unlock := m.lockQueue(queueID)
	defer unlock()

	q, err := m.loadQueue(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	if err := validatePriority(op, q, priority); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	items, err := m.loadItems(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	idx := indexOfItem(items, itemID)
	if idx < 0 {
		err := qerrors.Wrap(qerrors.KindNotFound, op, qerrors.ErrItemNotFound).WithQueue(queueID).WithItem(itemID)
		m.observe(op, queueID, start, err)
		return nil, err
	}
	item := items[idx]

	if err := m.runBefore(ctx, op, queueID, item, opts.Hooks); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	oldPriority := item.Priority
	items = append(items[:idx], items[idx+1:]...)
	item.Priority = priority
	if opts.Weight != nil && *opts.Weight > 0 {
		item.PriorityWeight = *opts.Weight
	}
	item.Touch()
	items = insertByScore(items, item, time.Now())

	if err := m.saveItems(ctx, op, queueID, items); err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}
	if err := m.writeItemHash(ctx, op, queueID, item); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	m.emit(events.TypeItemPriorityUpdated, queueID, map[string]interface{}{
		"itemId":      itemID,
		"oldPriority": oldPriority,
		"newPriority": priority,
	})
	m.runAfter(ctx, op, queueID, item, opts.Hooks)
	m.observe(op, queueID, start, nil)
	return item.Clone(), nil
}

// ReorderQueueByPriority rewrites the whole list in score order. Useful
// after bulk edits that bypassed the splice path. Returns the item count.
func (m *Manager) ReorderQueueByPriority(ctx context.Context, queueID string) (int, error) {
	const op = "queue.ReorderQueueByPriority"
	start := time.Now()
	unlock := m.lockQueue(queueID)
	defer unlock()

	if _, err := m.loadQueue(ctx, op, queueID); err != nil {
		m.observe(op, queueID, start, err)
		return 0, err
	}
	items, err := m.loadItems(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return 0, err
	}
	now := time.Now()
	// Ascending delivery preference: the slice end pops next.
	sort.SliceStable(items, func(i, j int) bool {
		return popsBefore(items[j], items[i], now)
	})

	if err := m.saveItems(ctx, op, queueID, items); err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return 0, err
	}

	m.log.Info("queue reordered by priority", "queue_id", queueID, "items", len(items))
	m.emit(events.TypeQueueReorderedByPrio, queueID, map[string]interface{}{"itemCount": len(items)})
	m.observe(op, queueID, start, nil)
	return len(items), nil
}
