package queue

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// CreateQueue registers a new queue. Creation always writes through so the
// existence check stays authoritative. The options map carries arbitrary
// caller configuration; the description key is recognized, the rest is
// stored verbatim.
func (m *Manager) CreateQueue(ctx context.Context, name, queueID string, options map[string]string) (*model.Queue, error) {
	const op = "queue.CreateQueue"
	start := time.Now()

	if err := model.ValidQueueID(queueID); err != nil {
		return nil, qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID)
	}
	unlock := m.lockQueue(queueID)
	defer unlock()

	exists, err := m.queueExists(ctx, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	if exists {
		err := qerrors.Wrap(qerrors.KindAlreadyExists, op, qerrors.ErrQueueExists).WithQueue(queueID)
		m.observe(op, queueID, start, err)
		return nil, err
	}

	if name == "" {
		name = queueID
	}
	q := model.NewQueue(queueID, name)
	for k, v := range options {
		if k == "description" {
			q.Description = v
			continue
		}
		if q.Options == nil {
			q.Options = make(map[string]string, len(options))
		}
		q.Options[k] = v
	}

	_, err = m.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		// A leftover list under this id must not leak into the new queue.
		pipe.Del(ctx, storage.QueueItemsKey(queueID))
		pipe.HSet(ctx, storage.QueueMetaKey(queueID), q.ToHash())
		return nil
	})
	if err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}

	m.cache.SetQueue(q.Clone(), false)
	m.cache.SetItems(queueID, nil, false)
	m.refreshItemCount(queueID, 0)
	m.log.Info("queue created", "queue_id", queueID, "name", name)
	m.emit(events.TypeQueueCreated, queueID, map[string]interface{}{"name": name})
	m.observe(op, queueID, start, nil)
	return q.Clone(), nil
}

// GetQueue returns a metadata snapshot with the live item count.
func (m *Manager) GetQueue(ctx context.Context, queueID string) (*model.Queue, error) {
	const op = "queue.GetQueue"
	start := time.Now()

	q, err := m.loadQueue(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	count, err := m.liveItemCount(ctx, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	q.ItemCount = count
	m.observe(op, queueID, start, nil)
	return q, nil
}

// GetAllQueues lists queues sorted by id, merging cached entries with a
// Redis scan so write-back metadata that has not flushed yet still shows.
func (m *Manager) GetAllQueues(ctx context.Context, opts ListOptions) ([]*model.Queue, error) {
	const op = "queue.GetAllQueues"
	start := time.Now()

	pattern := opts.Pattern
	if pattern == "" {
		pattern = "*"
	}
	// The id glob slots into the meta key builder to form the scan match.
	keys, err := m.store.ScanKeys(ctx, storage.QueueMetaKey(pattern))
	if err != nil {
		m.observe(op, "", start, err)
		return nil, err
	}

	prefix := storage.QueueMetaKey("")
	ids := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		ids[strings.TrimPrefix(key, prefix)] = struct{}{}
	}
	for _, id := range m.cache.QueueIDs() {
		if ok, _ := path.Match(pattern, id); ok {
			ids[id] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	if opts.Offset > 0 {
		if opts.Offset >= len(sorted) {
			sorted = nil
		} else {
			sorted = sorted[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(sorted) > opts.Limit {
		sorted = sorted[:opts.Limit]
	}

	queues := make([]*model.Queue, 0, len(sorted))
	for _, id := range sorted {
		q, err := m.GetQueue(ctx, id)
		if err != nil {
			if qerrors.IsNotFound(err) {
				// Deleted between scan and read.
				continue
			}
			m.observe(op, "", start, err)
			return nil, err
		}
		queues = append(queues, q)
	}
	m.observe(op, "", start, nil)
	return queues, nil
}

// UpdateQueue merges metadata updates, stamps updatedAt and preserves the
// stored version. Recognized keys: name, description, paused; everything
// else lands in Options.
func (m *Manager) UpdateQueue(ctx context.Context, queueID string, updates map[string]string) (*model.Queue, error) {
	const op = "queue.UpdateQueue"
	start := time.Now()
	unlock := m.lockQueue(queueID)
	defer unlock()

	q, err := m.loadQueue(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	for k, v := range updates {
		switch k {
		case "name":
			q.Name = v
		case "description":
			q.Description = v
		case "paused":
			q.Paused = v == "true"
		case "id", "createdAt", "updatedAt", "version":
			// Immutable bookkeeping fields.
		default:
			if q.Options == nil {
				q.Options = make(map[string]string)
			}
			q.Options[k] = v
		}
	}
	q.Touch()

	if err := m.persistQueueMeta(ctx, op, q); err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}
	m.emit(events.TypeQueueUpdated, queueID, map[string]interface{}{"updates": len(updates)})
	m.observe(op, queueID, start, nil)
	return q.Clone(), nil
}

// DeleteQueue removes the queue, its items and every owned auxiliary key,
// returning the deleted snapshot.
func (m *Manager) DeleteQueue(ctx context.Context, queueID string) (*model.Queue, error) {
	const op = "queue.DeleteQueue"
	start := time.Now()
	unlock := m.lockQueue(queueID)
	defer unlock()

	q, err := m.loadQueue(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	count, err := m.liveItemCount(ctx, queueID)
	if err == nil {
		q.ItemCount = count
	}

	_, err = m.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, storage.QueueMetaKey(queueID))
		pipe.Del(ctx, storage.QueueItemsKey(queueID))
		return nil
	})
	if err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}
	m.deleteOwnedKeys(ctx, queueID)

	m.cache.Invalidate(queueID)
	m.metrics.DeleteQueueDepth(queueID)
	m.log.Info("queue deleted", "queue_id", queueID, "item_count", q.ItemCount)
	m.emit(events.TypeQueueDeleted, queueID, map[string]interface{}{"itemCount": q.ItemCount})
	if m.bus != nil {
		m.bus.RemoveQueueListeners(queueID)
	}
	m.observe(op, queueID, start, nil)
	return q, nil
}

// deleteOwnedKeys sweeps the per-queue auxiliary keys (item hashes,
// trackers, counters, audit entries). Best effort: a failure here leaves
// orphans with TTLs, not broken queues.
func (m *Manager) deleteOwnedKeys(ctx context.Context, queueID string) {
	for _, pattern := range storage.QueuePatterns(queueID) {
		if !strings.Contains(pattern, "*") {
			if _, err := m.store.Del(ctx, pattern); err != nil {
				m.log.Warn("failed to delete queue key", "queue_id", queueID, "key", pattern, "error", err.Error())
			}
			continue
		}
		keys, err := m.store.ScanKeys(ctx, pattern)
		if err != nil {
			m.log.Warn("failed to scan queue keys", "queue_id", queueID, "pattern", pattern, "error", err.Error())
			continue
		}
		if len(keys) == 0 {
			continue
		}
		if _, err := m.store.Del(ctx, keys...); err != nil {
			m.log.Warn("failed to delete queue keys", "queue_id", queueID, "pattern", pattern, "error", err.Error())
		}
	}
}

// RenameQueue moves a queue to a new id: metadata, items, per-item hashes
// and listeners all follow. Fails if the target exists or the source is
// missing.
func (m *Manager) RenameQueue(ctx context.Context, oldID, newID string) (*model.Queue, error) {
	const op = "queue.RenameQueue"
	start := time.Now()

	if err := model.ValidQueueID(newID); err != nil {
		return nil, qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(newID)
	}
	if oldID == newID {
		return nil, qerrors.New(qerrors.KindValidation, op, "source and target ids are identical").WithQueue(oldID)
	}
	unlock := m.lockPair(oldID, newID)
	defer unlock()

	exists, err := m.queueExists(ctx, newID)
	if err != nil {
		m.observe(op, oldID, start, err)
		return nil, err
	}
	if exists {
		err := qerrors.Wrap(qerrors.KindAlreadyExists, op, qerrors.ErrQueueExists).WithQueue(newID)
		m.observe(op, oldID, start, err)
		return nil, err
	}

	q, err := m.loadQueue(ctx, op, oldID)
	if err != nil {
		m.observe(op, oldID, start, err)
		return nil, err
	}
	items, err := m.loadItems(ctx, op, oldID)
	if err != nil {
		m.observe(op, oldID, start, err)
		return nil, err
	}

	q.ID = newID
	q.Touch()
	blobs := make([]interface{}, 0, len(items))
	for _, item := range items {
		data, err := item.JSON()
		if err != nil {
			m.observe(op, oldID, start, err)
			return nil, qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(oldID).WithItem(item.ID)
		}
		blobs = append(blobs, data)
	}

	_, err = m.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, storage.QueueMetaKey(newID), q.ToHash())
		pipe.Del(ctx, storage.QueueItemsKey(newID))
		if len(blobs) > 0 {
			// Items are in list order already, so a forward push keeps it.
			pipe.RPush(ctx, storage.QueueItemsKey(newID), blobs...)
		}
		pipe.Del(ctx, storage.QueueMetaKey(oldID))
		pipe.Del(ctx, storage.QueueItemsKey(oldID))
		return nil
	})
	if err != nil {
		m.observe(op, oldID, start, err)
		m.emitError(op, oldID, err)
		return nil, err
	}

	// Per-item hashes move outside the transaction; lookups tolerate the
	// brief window where both exist.
	for _, item := range items {
		if err := m.writeItemHash(ctx, op, newID, item); err != nil {
			m.log.Warn("failed to move item hash", "queue_id", newID, "item_id", item.ID, "error", err.Error())
			continue
		}
		m.deleteItemHash(ctx, oldID, item.ID)
	}

	m.cache.Invalidate(oldID)
	m.cache.SetQueue(q.Clone(), false)
	m.cache.SetItems(newID, cloneItems(items), false)
	m.metrics.DeleteQueueDepth(oldID)
	m.refreshItemCount(newID, len(items))
	if m.bus != nil {
		m.bus.TransferQueueListeners(oldID, newID)
	}
	m.log.Info("queue renamed", "queue_id", oldID, "new_queue_id", newID, "items", len(items))
	m.emit(events.TypeQueueRenamedOut, oldID, map[string]interface{}{"newQueueId": newID})
	m.emit(events.TypeQueueRenamedIn, newID, map[string]interface{}{"oldQueueId": oldID})
	m.observe(op, oldID, start, nil)

	q.ItemCount = int64(len(items))
	return q.Clone(), nil
}

// PauseQueue stops adds and pops until resumed.
func (m *Manager) PauseQueue(ctx context.Context, queueID string) (*model.Queue, error) {
	return m.setPaused(ctx, "queue.PauseQueue", queueID, true)
}

// ResumeQueue lifts a pause.
func (m *Manager) ResumeQueue(ctx context.Context, queueID string) (*model.Queue, error) {
	return m.setPaused(ctx, "queue.ResumeQueue", queueID, false)
}

func (m *Manager) setPaused(ctx context.Context, op, queueID string, paused bool) (*model.Queue, error) {
	start := time.Now()
	unlock := m.lockQueue(queueID)
	defer unlock()

	q, err := m.loadQueue(ctx, op, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return nil, err
	}
	q.Paused = paused
	q.Touch()
	if err := m.persistQueueMeta(ctx, op, q); err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return nil, err
	}
	if paused {
		m.emit(events.TypeQueuePaused, queueID, nil)
	} else {
		m.emit(events.TypeQueueResumed, queueID, nil)
	}
	m.observe(op, queueID, start, nil)
	return q.Clone(), nil
}

// ClearQueue drops every item but keeps the queue registered. Returns the
// number of items removed.
func (m *Manager) ClearQueue(ctx context.Context, queueID string) (int64, error) {
	const op = "queue.ClearQueue"
	start := time.Now()
	unlock := m.lockQueue(queueID)
	defer unlock()

	if _, err := m.loadQueue(ctx, op, queueID); err != nil {
		m.observe(op, queueID, start, err)
		return 0, err
	}
	count, err := m.liveItemCount(ctx, queueID)
	if err != nil {
		m.observe(op, queueID, start, err)
		return 0, err
	}

	if _, err := m.store.Del(ctx, storage.QueueItemsKey(queueID)); err != nil {
		m.observe(op, queueID, start, err)
		m.emitError(op, queueID, err)
		return 0, err
	}
	// Item hashes follow the list.
	keys, scanErr := m.store.ScanKeys(ctx, storage.ItemPattern(queueID))
	if scanErr == nil && len(keys) > 0 {
		if _, err := m.store.Del(ctx, keys...); err != nil {
			m.log.Warn("failed to clear item hashes", "queue_id", queueID, "error", err.Error())
		}
	}

	m.cache.SetItems(queueID, nil, false)
	m.refreshItemCount(queueID, 0)
	m.log.Info("queue cleared", "queue_id", queueID, "items_removed", count)
	m.emit(events.TypeQueueCleared, queueID, map[string]interface{}{"itemsRemoved": count})
	m.observe(op, queueID, start, nil)
	return count, nil
}

// persistQueueMeta applies the cache strategy to a metadata write.
func (m *Manager) persistQueueMeta(ctx context.Context, op string, q *model.Queue) error {
	if m.cache.WriteBackEnabled() {
		m.cache.SetQueue(q.Clone(), true)
		return nil
	}
	if err := m.store.HSet(ctx, storage.QueueMetaKey(q.ID), q.ToHash()); err != nil {
		return err
	}
	m.cache.SetQueue(q.Clone(), false)
	return nil
}
