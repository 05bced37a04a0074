package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/hooks"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// maxBatchPop bounds one popBatch call.
const maxBatchPop = 100

// AddToQueue creates an item and inserts it at the list head. The item
// pops after everything already queued.
func (m *Manager) AddToQueue(ctx context.Context, queueID string, data interface{}, opts AddOptions) (*model.Item, error) {
	const op = "queue.AddToQueue"
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

	count, err := m.pushItem(ctx, op, queueID, item)
	if err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}

	m.refreshItemCount(queueID, count)
	m.log.Debug("item added", "queue_id", queueID, "item_id", item.ID)
	m.emit(events.TypeItemAdded, queueID, map[string]interface{}{"itemId": item.ID})
	m.runAfter(ctx, op, queueID, item, opts.Hooks)
	m.observe(op, queueID, start, nil)
	return item.Clone(), nil
}

func (m *Manager) buildItem(data interface{}, opts AddOptions) *model.Item {
	item := model.NewItem(data)
	if opts.ItemID != "" {
		item.ID = opts.ItemID
	}
	if opts.Priority != 0 {
		item.Priority = opts.Priority
	}
	if opts.PriorityWeight > 0 {
		item.PriorityWeight = opts.PriorityWeight
	}
	if opts.Timeout > 0 {
		item.Timeout = opts.Timeout
		deadline := item.AddedAt.Add(time.Duration(opts.Timeout) * time.Millisecond)
		item.TimeoutAt = &deadline
	}
	if opts.RetryPolicy != nil {
		item.RetryPolicy = opts.RetryPolicy
	}
	if len(opts.Dependencies) > 0 {
		item.Dependencies = append([]string(nil), opts.Dependencies...)
		item.DependencyStatus = make(map[string]model.DependencyState, len(opts.Dependencies))
		for _, dep := range opts.Dependencies {
			item.DependencyStatus[dep] = model.DependencyState{}
		}
	}
	if len(opts.Metadata) > 0 {
		item.Metadata = make(map[string]interface{}, len(opts.Metadata))
		for k, v := range opts.Metadata {
			item.Metadata[k] = v
		}
	}
	if opts.Status != "" {
		item.Status = opts.Status
	}
	return item
}

// pushItem inserts at the head. Write-through is a single LPUSH plus the
// item hash; write-back goes through the mirror so the flusher owns the
// list write.
func (m *Manager) pushItem(ctx context.Context, op, queueID string, item *model.Item) (int, error) {
	if m.cache.WriteBackEnabled() {
		items, err := m.loadItems(ctx, op, queueID)
		if err != nil {
			return 0, err
		}
		items = append([]*model.Item{item}, items...)
		if err := m.writeItemHash(ctx, op, queueID, item); err != nil {
			return 0, err
		}
		if err := m.saveItems(ctx, op, queueID, items); err != nil {
			return 0, err
		}
		return len(items), nil
	}

	blob, err := item.JSON()
	if err != nil {
		return 0, qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID).WithItem(item.ID)
	}
	fields, err := item.ToHash()
	if err != nil {
		return 0, qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID).WithItem(item.ID)
	}
	var push *redis.IntCmd
	_, err = m.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		push = pipe.LPush(ctx, storage.QueueItemsKey(queueID), blob)
		pipe.HSet(ctx, storage.ItemKey(queueID, item.ID), fields)
		return nil
	})
	if err != nil {
		return 0, err
	}
	// The mirror, when present, gets the new head as well.
	if items, ok := m.cache.GetItems(queueID); ok {
		m.cache.SetItems(queueID, append([]*model.Item{item.Clone()}, items...), false)
	}
	return int(push.Val()), nil
}

// GetQueueItems returns deep copies of a slice of the list. Indices follow
// list order (0 is the newest item) and may be negative to count from the
// oldest end, -1 being the last.
func (m *Manager) GetQueueItems(ctx context.Context, queueID string, start, end int) ([]*model.Item, error) {
	const op = "queue.GetQueueItems"
	opStart := time.Now()

	if _, err := m.loadQueue(ctx, op, queueID); err != nil {
		m.observe(op, queueID, opStart, err)
		return nil, err
	}
	items, err := m.loadItems(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, opStart, err)
		return nil, err
	}
	m.observe(op, queueID, opStart, nil)
	return sliceItems(items, start, end), nil
}

// sliceItems applies LRANGE index semantics to the in-memory list.
func sliceItems(items []*model.Item, start, end int) []*model.Item {
	n := len(items)
	if n == 0 {
		return nil
	}
	if start < 0 {
		start = n + start
		if start < 0 {
			start = 0
		}
	}
	if end < 0 {
		end = n + end
	}
	if end >= n {
		end = n - 1
	}
	if start > end || start >= n {
		return nil
	}
	return items[start : end+1]
}

// GetItem reads an item snapshot by id from its hash. The hash is written
// through on every mutation, so it is current even under write-back.
func (m *Manager) GetItem(ctx context.Context, queueID, itemID string) (*model.Item, error) {
	const op = "queue.GetItem"
	start := time.Now()

	fields, err := m.store.HGetAll(ctx, storage.ItemKey(queueID, itemID))
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	if len(fields) == 0 {
		err := qerrors.Wrap(qerrors.KindNotFound, op, qerrors.ErrItemNotFound).WithQueue(queueID).WithItem(itemID)
		m.observe(op, queueID, start, err)
		return nil, err
	}
	item, err := model.ItemFromHash(fields)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, qerrors.Wrap(qerrors.KindStorage, op, err).WithQueue(queueID).WithItem(itemID)
	}
	m.observe(op, queueID, start, nil)
	return item, nil
}

// UpdateItem merges updates into an item and rewrites the list so indices
// never drift. Recognized keys map to item fields; unknown keys land in
// metadata.
func (m *Manager) UpdateItem(ctx context.Context, queueID, itemID string, updates map[string]interface{}, hookSet hooks.Set) (*model.Item, error) {
	const op = "queue.UpdateItem"
	start := time.Now()
	unlock := m.lockQueue(queueID)
	defer unlock()

	if m.validator != nil {
		if data, ok := updates["data"]; ok {
			if err := m.validator.ValidateOnUpdate(ctx, queueID, data); err != nil {
				m.observe(op, queueID, start, err)
				return nil, err
			}
		}
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

	if err := m.runBefore(ctx, op, queueID, item, hookSet); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	applyItemUpdates(item, updates)
	item.Touch()

	if err := m.saveItems(ctx, op, queueID, items); err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}
	if err := m.writeItemHash(ctx, op, queueID, item); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	m.emit(events.TypeItemUpdated, queueID, map[string]interface{}{"itemId": itemID})
	m.runAfter(ctx, op, queueID, item, hookSet)
	m.observe(op, queueID, start, nil)
	return item.Clone(), nil
}

func applyItemUpdates(item *model.Item, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "data":
			item.Data = v
		case "status":
			if s, ok := v.(string); ok {
				item.Status = model.ItemStatus(s)
			} else if s, ok := v.(model.ItemStatus); ok {
				item.Status = s
			}
		case "priority":
			if n, ok := toInt(v); ok {
				item.Priority = n
			}
		case "priorityWeight":
			if n, ok := toInt(v); ok && n > 0 {
				item.PriorityWeight = n
			}
		case "timeout":
			if n, ok := toInt(v); ok {
				item.Timeout = int64(n)
			}
		case "timeoutAt":
			switch ts := v.(type) {
			case time.Time:
				deadline := ts
				item.TimeoutAt = &deadline
			case *time.Time:
				item.TimeoutAt = ts
			}
		case "retryCount":
			if n, ok := toInt(v); ok {
				item.RetryCount = n
			}
		case "metadata":
			if meta, ok := v.(map[string]interface{}); ok {
				if item.Metadata == nil {
					item.Metadata = make(map[string]interface{}, len(meta))
				}
				for mk, mv := range meta {
					item.Metadata[mk] = mv
				}
			}
		case "dependencyStatus":
			if ds, ok := v.(map[string]model.DependencyState); ok {
				item.DependencyStatus = ds
			}
		case "id", "addedAt", "updatedAt":
			// Identity and bookkeeping stay managed.
		default:
			if item.Metadata == nil {
				item.Metadata = make(map[string]interface{})
			}
			item.Metadata[k] = v
		}
	}
}

// toInt accepts the numeric shapes JSON decoding and Go callers produce.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}

// DeleteItemFromQueue removes an item by id and returns the deleted
// snapshot.
func (m *Manager) DeleteItemFromQueue(ctx context.Context, queueID, itemID string, hookSet hooks.Set) (*model.Item, error) {
	const op = "queue.DeleteItemFromQueue"
	start := time.Now()
	unlock := m.lockQueue(queueID)
	defer unlock()

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

	if err := m.runBefore(ctx, op, queueID, item, hookSet); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	items = append(items[:idx], items[idx+1:]...)
	if err := m.saveItems(ctx, op, queueID, items); err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}
	m.deleteItemHash(ctx, queueID, itemID)
	if _, err := m.store.Del(ctx, storage.DependenciesKey(queueID, itemID)); err != nil {
		m.log.Warn("failed to delete dependency set", "queue_id", queueID, "item_id", itemID, "error", err.Error())
	}

	m.emit(events.TypeItemDeleted, queueID, map[string]interface{}{"itemId": itemID})
	m.runAfter(ctx, op, queueID, item, hookSet)
	m.observe(op, queueID, start, nil)
	return item, nil
}

// PeekQueue returns up to n items in pop order without mutating anything.
// The first element is what PopFromQueue would return next.
func (m *Manager) PeekQueue(ctx context.Context, queueID string, n int) ([]*model.Item, error) {
	const op = "queue.PeekQueue"
	start := time.Now()

	if n <= 0 {
		n = 1
	}
	if _, err := m.loadQueue(ctx, op, queueID); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	items, err := m.loadItems(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	if n > len(items) {
		n = len(items)
	}
	out := make([]*model.Item, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, items[len(items)-1-i])
	}
	m.emit(events.TypeItemPeeked, queueID, map[string]interface{}{"count": len(out)})
	m.observe(op, queueID, start, nil)
	return out, nil
}

// PopFromQueue removes and returns the oldest item. Returns nil, nil on an
// empty queue.
func (m *Manager) PopFromQueue(ctx context.Context, queueID string, hookSet hooks.Set) (*model.Item, error) {
	const op = "queue.PopFromQueue"
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

	item, err := m.popOne(ctx, op, queueID, hookSet)
	if err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}
	if item == nil {
		m.observe(op, queueID, start, nil)
		return nil, nil
	}

	count, countErr := m.liveItemCount(ctx, queueID)
	if countErr == nil {
		m.refreshItemCount(queueID, int(count))
	}
	m.emit(events.TypeItemPopped, queueID, map[string]interface{}{"itemId": item.ID})
	m.runAfter(ctx, op, queueID, item, hookSet)
	m.observe(op, queueID, start, nil)
	return item, nil
}

func (m *Manager) popOne(ctx context.Context, op, queueID string, hookSet hooks.Set) (*model.Item, error) {
	if m.cache.WriteBackEnabled() {
		items, err := m.loadItems(ctx, op, queueID)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, nil
		}
		item := items[len(items)-1]
		if err := m.runBefore(ctx, op, queueID, item, hookSet); err != nil {
			return nil, err
		}
		items = items[:len(items)-1]
		if err := m.saveItems(ctx, op, queueID, items); err != nil {
			return nil, err
		}
		return item, nil
	}

	// Write-through: peek the tail for the before hooks, then pop.
	tail, err := m.store.LRange(ctx, storage.QueueItemsKey(queueID), -1, -1)
	if err != nil {
		return nil, err
	}
	if len(tail) == 0 {
		return nil, nil
	}
	peeked, parseErr := model.ItemFromJSON(tail[0])
	if parseErr != nil {
		peeked = model.CorruptedItem(tail[0])
	}
	if err := m.runBefore(ctx, op, queueID, peeked, hookSet); err != nil {
		return nil, err
	}

	blob, err := m.store.RPop(ctx, storage.QueueItemsKey(queueID))
	if err != nil {
		if qerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	item, parseErr := model.ItemFromJSON(blob)
	if parseErr != nil {
		m.log.Warn("popped corrupted item", "queue_id", queueID, "error", parseErr.Error())
		item = model.CorruptedItem(blob)
	}
	// Keep the mirror in step when present.
	if items, ok := m.cache.GetItems(queueID); ok && len(items) > 0 {
		if items[len(items)-1].ID == item.ID {
			m.cache.SetItems(queueID, items[:len(items)-1], false)
		} else {
			m.cache.Invalidate(queueID)
		}
	}
	return item, nil
}

// PopBatchFromQueue removes up to n items (1..100) in pop order.
func (m *Manager) PopBatchFromQueue(ctx context.Context, queueID string, n int, hookSet hooks.Set) ([]*model.Item, error) {
	const op = "queue.PopBatchFromQueue"
	start := time.Now()

	if n < 1 || n > maxBatchPop {
		err := qerrors.Newf(qerrors.KindValidation, op, "batch size %d out of range 1..%d", n, maxBatchPop).WithQueue(queueID)
		m.observe(op, queueID, start, err)
		return nil, err
	}
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
	// Batch pops run the hooks once; no single item stands for the batch.
	if err := m.runBefore(ctx, op, queueID, nil, hookSet); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	var popped []*model.Item
	if m.cache.WriteBackEnabled() {
		items, err := m.loadItems(ctx, op, queueID)
		if err != nil {
			m.observe(op, queueID, start, err)
			return nil, err
		}
		take := n
		if take > len(items) {
			take = len(items)
		}
		for i := 0; i < take; i++ {
			popped = append(popped, items[len(items)-1-i])
		}
		items = items[:len(items)-take]
		if take > 0 {
			if err := m.saveItems(ctx, op, queueID, items); err != nil {
				m.observe(op, queueID, start, err)
				return nil, err
			}
		}
	} else {
		cmds, err := m.store.Pipelined(ctx, op, func(pipe redis.Pipeliner) error {
			for i := 0; i < n; i++ {
				pipe.RPop(ctx, storage.QueueItemsKey(queueID))
			}
			return nil
		})
		if err != nil {
			m.observe(op, queueID, start, err)
			m.emitError(op, queueID, err)
			return nil, err
		}
		for _, cmd := range cmds {
			str, ok := cmd.(*redis.StringCmd)
			if !ok || str.Err() != nil {
				continue
			}
			item, parseErr := model.ItemFromJSON(str.Val())
			if parseErr != nil {
				item = model.CorruptedItem(str.Val())
			}
			popped = append(popped, item)
		}
		if len(popped) > 0 {
			if items, ok := m.cache.GetItems(queueID); ok {
				keep := len(items) - len(popped)
				if keep < 0 {
					keep = 0
				}
				m.cache.SetItems(queueID, items[:keep], false)
			}
		}
	}

	count, countErr := m.liveItemCount(ctx, queueID)
	if countErr == nil {
		m.refreshItemCount(queueID, int(count))
	}
	ids := make([]string, len(popped))
	for i, item := range popped {
		ids[i] = item.ID
	}
	m.emit(events.TypeItemsBatchPopped, queueID, map[string]interface{}{"count": len(popped), "itemIds": ids})
	m.runAfter(ctx, op, queueID, nil, hookSet)
	m.observe(op, queueID, start, nil)
	return popped, nil
}

// RequeueItem removes an item and re-inserts it at the chosen position
// with updated bookkeeping.
func (m *Manager) RequeueItem(ctx context.Context, queueID, itemID string, opts RequeueOptions) (*model.Item, error) {
	const op = "queue.RequeueItem"
	start := time.Now()
	unlock := m.lockQueue(queueID)
	defer unlock()

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

	items = append(items[:idx], items[idx+1:]...)

	if opts.UpdateStatus {
		item.UpdateStatus(opts.NewStatus)
	}
	if opts.RetryCount != nil {
		item.RetryCount = *opts.RetryCount
	}
	if opts.ResetTimestamp {
		item.AddedAt = time.Now().UTC()
	}
	if opts.Delay > 0 {
		until := time.Now().UTC().Add(opts.Delay)
		item.Delayed = true
		item.DelayUntil = &until
	}
	item.Touch()

	items = insertAtPopIndex(items, item, popIndexFor(opts.Position, opts.Index, len(items)))

	if err := m.saveItems(ctx, op, queueID, items); err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}
	if err := m.writeItemHash(ctx, op, queueID, item); err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}

	m.emit(events.TypeItemRequeued, queueID, map[string]interface{}{
		"itemId":   itemID,
		"position": string(positionOrDefault(opts.Position)),
	})
	m.runAfter(ctx, op, queueID, item, opts.Hooks)
	m.observe(op, queueID, start, nil)
	return item.Clone(), nil
}

func positionOrDefault(p Position) Position {
	if p == "" {
		return PositionTail
	}
	return p
}

// popIndexFor converts a position choice into a pop-order slot: 0 pops
// next, n pops last. Out-of-range indices clamp.
func popIndexFor(p Position, index, n int) int {
	switch positionOrDefault(p) {
	case PositionHead:
		return 0
	case PositionIndex:
		if index < 0 {
			return 0
		}
		if index > n {
			return n
		}
		return index
	default:
		return n
	}
}

// insertAtPopIndex splices an item into the list-ordered slice at the
// given pop-order slot.
func insertAtPopIndex(items []*model.Item, item *model.Item, popIndex int) []*model.Item {
	slot := len(items) - popIndex
	if slot < 0 {
		slot = 0
	}
	if slot > len(items) {
		slot = len(items)
	}
	items = append(items, nil)
	copy(items[slot+1:], items[slot:])
	items[slot] = item
	return items
}

// MoveItemBetweenQueues transfers an item. Both lists and both item hashes
// are rewritten in one transaction, so the move always writes through.
func (m *Manager) MoveItemBetweenQueues(ctx context.Context, srcID, dstID, itemID string, opts MoveOptions) (*model.Item, error) {
	const op = "queue.MoveItemBetweenQueues"
	start := time.Now()

	if srcID == dstID {
		err := qerrors.New(qerrors.KindValidation, op, "source and destination are the same queue").WithQueue(srcID)
		m.observe(op, srcID, start, err)
		return nil, err
	}
	unlock := m.lockPair(srcID, dstID)
	defer unlock()

	if _, err := m.loadQueue(ctx, op, srcID); err != nil {
		m.observe(op, srcID, start, err)
		return nil, err
	}
	if _, err := m.loadQueue(ctx, op, dstID); err != nil {
		m.observe(op, srcID, start, err)
		return nil, err
	}

	srcItems, err := m.loadItems(ctx, op, srcID)
	if err != nil {
		m.observe(op, srcID, start, err)
		return nil, err
	}
	idx := indexOfItem(srcItems, itemID)
	if idx < 0 {
		err := qerrors.Wrap(qerrors.KindNotFound, op, qerrors.ErrItemNotFound).WithQueue(srcID).WithItem(itemID)
		m.observe(op, srcID, start, err)
		return nil, err
	}
	item := srcItems[idx]

	if err := m.runBefore(ctx, op, srcID, item, opts.Hooks); err != nil {
		m.observe(op, srcID, start, err)
		return nil, err
	}

	dstItems, err := m.loadItems(ctx, op, dstID)
	if err != nil {
		m.observe(op, srcID, start, err)
		return nil, err
	}

	srcItems = append(srcItems[:idx], srcItems[idx+1:]...)
	item.Touch()
	dstItems = insertAtPopIndex(dstItems, item, popIndexFor(opts.Position, opts.Index, len(dstItems)))

	srcBlobs, err := marshalItems(op, srcID, srcItems)
	if err != nil {
		m.observe(op, srcID, start, err)
		return nil, err
	}
	dstBlobs, err := marshalItems(op, dstID, dstItems)
	if err != nil {
		m.observe(op, srcID, start, err)
		return nil, err
	}
	fields, err := item.ToHash()
	if err != nil {
		m.observe(op, srcID, start, err)
		return nil, qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(srcID).WithItem(itemID)
	}

	_, err = m.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, storage.QueueItemsKey(srcID))
		if len(srcBlobs) > 0 {
			pipe.RPush(ctx, storage.QueueItemsKey(srcID), srcBlobs...)
		}
		pipe.Del(ctx, storage.QueueItemsKey(dstID))
		if len(dstBlobs) > 0 {
			pipe.RPush(ctx, storage.QueueItemsKey(dstID), dstBlobs...)
		}
		pipe.Del(ctx, storage.ItemKey(srcID, itemID))
		pipe.HSet(ctx, storage.ItemKey(dstID, itemID), fields)
		return nil
	})
	if err != nil {
		m.observe(op, srcID, start, err)
		m.emitError(op, srcID, err)
		return nil, err
	}

	m.cache.SetItems(srcID, cloneItems(srcItems), false)
	m.cache.SetItems(dstID, cloneItems(dstItems), false)
	m.refreshItemCount(srcID, len(srcItems))
	m.refreshItemCount(dstID, len(dstItems))

	m.emit(events.TypeItemMovedOut, srcID, map[string]interface{}{"itemId": itemID, "to": dstID})
	m.emit(events.TypeItemMovedIn, dstID, map[string]interface{}{"itemId": itemID, "from": srcID})
	m.runAfter(ctx, op, srcID, item, opts.Hooks)
	m.observe(op, srcID, start, nil)
	return item.Clone(), nil
}

func marshalItems(op, queueID string, items []*model.Item) ([]interface{}, error) {
	blobs := make([]interface{}, 0, len(items))
	for _, item := range items {
		data, err := item.JSON()
		if err != nil {
			return nil, qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID).WithItem(item.ID)
		}
		blobs = append(blobs, data)
	}
	return blobs, nil
}

// FindItem scans for the first item the predicate accepts. Returns nil,
// nil when nothing matches; a failing or panicking predicate skips that
// item and keeps scanning.
func (m *Manager) FindItem(ctx context.Context, queueID string, pred Predicate) (*model.Item, error) {
	const op = "queue.FindItem"
	start := time.Now()

	items, err := m.loadItems(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	for i, item := range items {
		if m.evalPredicate(queueID, pred, item, i) {
			m.emit(events.TypeItemFound, queueID, map[string]interface{}{"itemId": item.ID, "index": i})
			m.observe(op, queueID, start, nil)
			return item, nil
		}
	}
	m.observe(op, queueID, start, nil)
	return nil, nil
}

// FilterItems collects every item the predicate accepts, up to the limit.
func (m *Manager) FilterItems(ctx context.Context, queueID string, pred Predicate, opts FilterOptions) ([]FilteredItem, error) {
	const op = "queue.FilterItems"
	start := time.Now()

	items, err := m.loadItems(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	var matches []FilteredItem
	for i, item := range items {
		if !m.evalPredicate(queueID, pred, item, i) {
			continue
		}
		match := FilteredItem{Item: item, Index: -1}
		if opts.IncludeIndices {
			match.Index = i
		}
		matches = append(matches, match)
		if opts.Limit > 0 && len(matches) >= opts.Limit {
			break
		}
	}
	m.emit(events.TypeItemsFiltered, queueID, map[string]interface{}{"matches": len(matches)})
	m.observe(op, queueID, start, nil)
	return matches, nil
}

// evalPredicate shields the scan from predicate bugs: errors and panics
// skip the item instead of failing the operation.
func (m *Manager) evalPredicate(queueID string, pred Predicate, item *model.Item, index int) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("predicate panicked, skipping item",
				"queue_id", queueID, "item_id", item.ID, "panic", fmt.Sprint(r))
			matched = false
		}
	}()
	ok, err := pred(item, index)
	if err != nil {
		m.log.Warn("predicate failed, skipping item",
			"queue_id", queueID, "item_id", item.ID, "error", err.Error())
		return false
	}
	return ok
}
