// Package queue implements the queue and item core: metadata CRUD, the
// item lifecycle, FIFO and priority ordering, search and bulk operations.
// Reads prefer the cache; writes follow the configured cache strategy,
// except per-item hashes and cross-queue moves which always reach Redis
// immediately.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/cache"
	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/hooks"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/metrics"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// DataValidator checks payloads before they enter or change in a queue.
// The validation package provides the schema-backed implementation.
type DataValidator interface {
	ValidateOnAdd(ctx context.Context, queueID string, data interface{}) error
	ValidateOnUpdate(ctx context.Context, queueID string, data interface{}) error
}

// Manager is the queue/item core. All operations are safe for concurrent
// use: mutations serialize per queue, reads work on snapshots and never
// block writers.
type Manager struct {
	store     *storage.Store
	cache     *cache.Hybrid
	bus       *events.Bus
	hooks     *hooks.Runner
	log       logger.Logger
	metrics   *metrics.Collector
	validator DataValidator
	locks     lockTable
}

// lockTable hands out one mutex per queue id. The lock covers the full
// load-modify-save cycle of a mutation, hooks included, so a slow hook
// stalls only its own queue.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (t *lockTable) forQueue(queueID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	l, ok := t.locks[queueID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[queueID] = l
	}
	return l
}

// NewManager wires the core against its collaborators. bus, hookRunner and
// m may be nil in tests; the manager degrades to no events, no hooks, no
// metrics.
func NewManager(store *storage.Store, hybrid *cache.Hybrid, bus *events.Bus, hookRunner *hooks.Runner, log logger.Logger, m *metrics.Collector) *Manager {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	return &Manager{
		store:   store,
		cache:   hybrid,
		bus:     bus,
		hooks:   hookRunner,
		log:     log.WithComponent(logger.ComponentQueue),
		metrics: m,
	}
}

// SetValidator attaches the schema validator. Called once during broker
// construction, before any operation runs.
func (m *Manager) SetValidator(v DataValidator) {
	m.validator = v
}

// lockQueue serializes mutations of one queue. Returns the unlock func.
func (m *Manager) lockQueue(queueID string) func() {
	l := m.locks.forQueue(queueID)
	l.Lock()
	return l.Unlock
}

// lockPair serializes a cross-queue mutation. Locks are taken in id order
// so two concurrent moves in opposite directions cannot deadlock.
func (m *Manager) lockPair(a, b string) func() {
	if b < a {
		a, b = b, a
	}
	la, lb := m.locks.forQueue(a), m.locks.forQueue(b)
	la.Lock()
	lb.Lock()
	return func() {
		lb.Unlock()
		la.Unlock()
	}
}

// Store exposes the storage adapter to the subsystems built on top of the
// core (scheduler, retry, dependencies).
func (m *Manager) Store() *storage.Store {
	return m.store
}

// Cache exposes the hybrid cache for lifecycle management.
func (m *Manager) Cache() *cache.Hybrid {
	return m.cache
}

func (m *Manager) emit(t events.Type, queueID string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(t, queueID, payload)
}

// emitError mirrors a classified failure onto the bus so observers see
// operational errors without wrapping every call site.
func (m *Manager) emitError(op, queueID string, err error) {
	if m.bus == nil || err == nil {
		return
	}
	m.bus.Emit(events.TypeError, queueID, map[string]interface{}{
		"operation": op,
		"kind":      string(qerrors.KindOf(err)),
		"error":     err.Error(),
	})
}

func (m *Manager) observe(op, queueID string, start time.Time, err error) {
	kind := ""
	if err != nil {
		kind = string(qerrors.KindOf(err))
	}
	m.metrics.RecordOperation(op, queueID, time.Since(start), kind)
}

func (m *Manager) runBefore(ctx context.Context, op, queueID string, item *model.Item, set hooks.Set) error {
	if m.hooks == nil || len(set.Before) == 0 {
		return nil
	}
	return m.hooks.RunBefore(ctx, op, queueID, item, set.Before)
}

// runAfter surfaces after-hook failures in the log and on the bus; the
// operation itself has already committed so the caller's result stands.
func (m *Manager) runAfter(ctx context.Context, op, queueID string, item *model.Item, set hooks.Set) {
	if m.hooks == nil || len(set.After) == 0 {
		return
	}
	if err := m.hooks.RunAfter(ctx, op, queueID, item, set.After); err != nil {
		m.log.Warn("after hook failed", "operation", op, "queue_id", queueID, "error", err.Error())
	}
}

// loadQueue returns a private snapshot of queue metadata, via cache when
// possible. ItemCount is not populated here; GetQueue fills it.
func (m *Manager) loadQueue(ctx context.Context, op, queueID string) (*model.Queue, error) {
	if q, ok := m.cache.GetQueue(queueID); ok {
		return q, nil
	}
	fields, err := m.store.HGetAll(ctx, storage.QueueMetaKey(queueID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, qerrors.Wrap(qerrors.KindNotFound, op, qerrors.ErrQueueNotFound).WithQueue(queueID)
	}
	q := model.QueueFromHash(fields)
	m.cache.SetQueue(q.Clone(), false)
	return q, nil
}

// queueExists avoids the NotFound wrap when callers only branch.
func (m *Manager) queueExists(ctx context.Context, queueID string) (bool, error) {
	if _, ok := m.cache.GetQueue(queueID); ok {
		return true, nil
	}
	return m.store.Exists(ctx, storage.QueueMetaKey(queueID))
}

// loadItems returns the queue's items in list order (index 0 is the most
// recently added, the last element pops next). The caller owns the slice.
func (m *Manager) loadItems(ctx context.Context, op, queueID string) ([]*model.Item, error) {
	if items, ok := m.cache.GetItems(queueID); ok {
		return items, nil
	}
	blobs, err := m.store.LRange(ctx, storage.QueueItemsKey(queueID), 0, -1)
	if err != nil {
		return nil, err
	}
	items := make([]*model.Item, 0, len(blobs))
	for _, blob := range blobs {
		item, err := model.ItemFromJSON(blob)
		if err != nil {
			// A bad entry must not hide the rest of the queue.
			m.log.Warn("corrupted item in queue list", "queue_id", queueID, "error", err.Error())
			item = model.CorruptedItem(blob)
		}
		items = append(items, item)
	}
	m.cache.SetItems(queueID, cloneItems(items), false)
	return items, nil
}

// saveItems persists a full item list according to the cache strategy:
// write-back marks the cached list dirty for the flusher, write-through
// rewrites the Redis list now and refreshes the cache clean.
func (m *Manager) saveItems(ctx context.Context, op, queueID string, items []*model.Item) error {
	if m.cache.WriteBackEnabled() {
		m.cache.SetItems(queueID, cloneItems(items), true)
		m.refreshItemCount(queueID, len(items))
		return nil
	}
	if err := m.writeItemsList(ctx, op, queueID, items); err != nil {
		return err
	}
	m.cache.SetItems(queueID, cloneItems(items), false)
	m.refreshItemCount(queueID, len(items))
	return nil
}

// writeItemsList rebuilds the Redis list in one transaction. The slice is
// held in list order (head first), so pushing in slice order reproduces
// the same head and tail.
func (m *Manager) writeItemsList(ctx context.Context, op, queueID string, items []*model.Item) error {
	key := storage.QueueItemsKey(queueID)
	blobs := make([]interface{}, 0, len(items))
	for _, item := range items {
		data, err := item.JSON()
		if err != nil {
			return qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID).WithItem(item.ID)
		}
		blobs = append(blobs, data)
	}
	_, err := m.store.TxPipelined(ctx, op, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(blobs) > 0 {
			pipe.RPush(ctx, key, blobs...)
		}
		return nil
	})
	return err
}

// writeItemHash keeps the per-item hash in step with the list. Hashes are
// written through even under write-back so dependency and timeout lookups
// stay correct.
func (m *Manager) writeItemHash(ctx context.Context, op, queueID string, item *model.Item) error {
	fields, err := item.ToHash()
	if err != nil {
		return qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID).WithItem(item.ID)
	}
	return m.store.HSet(ctx, storage.ItemKey(queueID, item.ID), fields)
}

func (m *Manager) deleteItemHash(ctx context.Context, queueID, itemID string) {
	if _, err := m.store.Del(ctx, storage.ItemKey(queueID, itemID)); err != nil {
		m.log.Warn("failed to delete item hash", "queue_id", queueID, "item_id", itemID, "error", err.Error())
	}
}

func (m *Manager) refreshItemCount(queueID string, n int) {
	m.cache.UpdateItemCount(queueID, int64(n))
	m.metrics.SetQueueDepth(queueID, n)
}

// liveItemCount reads the cached list length when available, the Redis
// list length otherwise.
func (m *Manager) liveItemCount(ctx context.Context, queueID string) (int64, error) {
	if items, ok := m.cache.GetItems(queueID); ok {
		return int64(len(items)), nil
	}
	return m.store.LLen(ctx, storage.QueueItemsKey(queueID))
}

// requirePausable fails adds and pops on a paused queue.
func requirePausable(op string, q *model.Queue) error {
	if q.Paused {
		return qerrors.Wrap(qerrors.KindValidation, op, qerrors.ErrQueuePaused).WithQueue(q.ID)
	}
	return nil
}

func cloneItems(items []*model.Item) []*model.Item {
	out := make([]*model.Item, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

// indexOfItem finds an item by id in a list snapshot, -1 when absent.
func indexOfItem(items []*model.Item, itemID string) int {
	for i, item := range items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}
