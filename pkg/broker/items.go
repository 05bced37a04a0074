package broker

import "context"

// AddToQueue appends data to a queue and returns the stored item.
func (b *Broker) AddToQueue(ctx context.Context, queueID string, data interface{}, opts AddOptions) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.AddToQueue(ctx, queueID, data, opts)
}

// GetQueueItems returns the items between the list positions start and
// end inclusive.
func (b *Broker) GetQueueItems(ctx context.Context, queueID string, start, end int) ([]*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.GetQueueItems(ctx, queueID, start, end)
}

// GetItem returns one item by id.
func (b *Broker) GetItem(ctx context.Context, queueID, itemID string) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.GetItem(ctx, queueID, itemID)
}

// UpdateItem applies field updates to a queued item.
func (b *Broker) UpdateItem(ctx context.Context, queueID, itemID string, updates map[string]interface{}, hookSet HookSet) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.UpdateItem(ctx, queueID, itemID, updates, hookSet)
}

// DeleteItemFromQueue removes one item and returns it.
func (b *Broker) DeleteItemFromQueue(ctx context.Context, queueID, itemID string, hookSet HookSet) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.DeleteItemFromQueue(ctx, queueID, itemID, hookSet)
}

// PeekQueue returns the next n items without removing them.
func (b *Broker) PeekQueue(ctx context.Context, queueID string, n int) ([]*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.PeekQueue(ctx, queueID, n)
}

// PopFromQueue removes and returns the oldest item, or nil when the
// queue is empty.
func (b *Broker) PopFromQueue(ctx context.Context, queueID string, hookSet HookSet) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.PopFromQueue(ctx, queueID, hookSet)
}

// PopBatchFromQueue removes and returns up to n items in queue order.
func (b *Broker) PopBatchFromQueue(ctx context.Context, queueID string, n int, hookSet HookSet) ([]*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.PopBatchFromQueue(ctx, queueID, n, hookSet)
}

// RequeueItem moves an item back into the queue.
func (b *Broker) RequeueItem(ctx context.Context, queueID, itemID string, opts RequeueOptions) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.RequeueItem(ctx, queueID, itemID, opts)
}

// MoveItemBetweenQueues transfers an item from srcID to dstID.
func (b *Broker) MoveItemBetweenQueues(ctx context.Context, srcID, dstID, itemID string, opts MoveOptions) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.MoveItemBetweenQueues(ctx, srcID, dstID, itemID, opts)
}

// FindItem returns the first item matching pred, or nil.
func (b *Broker) FindItem(ctx context.Context, queueID string, pred Predicate) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.FindItem(ctx, queueID, pred)
}

// FilterItems returns every item matching pred with its list position.
func (b *Broker) FilterItems(ctx context.Context, queueID string, pred Predicate, opts FilterOptions) ([]FilteredItem, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.FilterItems(ctx, queueID, pred, opts)
}

// BulkAddItems adds entries in one pass and reports per-entry outcomes.
func (b *Broker) BulkAddItems(ctx context.Context, queueID string, entries []BulkEntry) (*BulkResult, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.BulkAddItems(ctx, queueID, entries)
}

// BulkUpdateItemStatus sets the status of many items at once.
func (b *Broker) BulkUpdateItemStatus(ctx context.Context, queueID string, itemIDs []string, status ItemStatus) (*BulkResult, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.BulkUpdateItemStatus(ctx, queueID, itemIDs, status)
}

// BulkDeleteItems removes many items at once.
func (b *Broker) BulkDeleteItems(ctx context.Context, queueID string, itemIDs []string) (*BulkResult, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.BulkDeleteItems(ctx, queueID, itemIDs)
}

// AddToQueueWithPriority adds data and indexes it by priority score.
func (b *Broker) AddToQueueWithPriority(ctx context.Context, queueID string, data interface{}, opts AddOptions) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.AddToQueueWithPriority(ctx, queueID, data, opts)
}

// PopFromQueueByPriority removes and returns the highest-priority item.
func (b *Broker) PopFromQueueByPriority(ctx context.Context, queueID string, opts PriorityPopOptions) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.PopFromQueueByPriority(ctx, queueID, opts)
}

// UpdateItemPriority changes one item's priority.
func (b *Broker) UpdateItemPriority(ctx context.Context, queueID, itemID string, priority int, opts UpdatePriorityOptions) (*Item, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	return b.mgr.UpdateItemPriority(ctx, queueID, itemID, priority, opts)
}

// ReorderQueueByPriority rewrites the list in priority order and returns
// the number of items moved.
func (b *Broker) ReorderQueueByPriority(ctx context.Context, queueID string) (int, error) {
	if err := b.ready(ctx); err != nil {
		return 0, err
	}
	return b.mgr.ReorderQueueByPriority(ctx, queueID)
}
