package cache

import (
	"context"
	"sync"
	"time"

	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/metrics"
	"github.com/muaviaUsmani/plantain/internal/model"
)

// Strategy selects how cache writes reach Redis.
type Strategy string

const (
	// WriteThrough completes the Redis write first, then updates the cache.
	WriteThrough Strategy = "write-through"
	// WriteBack updates the cache synchronously and defers the Redis write
	// to the background flusher.
	WriteBack Strategy = "write-back"
)

// PendingKind names what a pending write refers to.
type PendingKind string

const (
	// KindQueue marks queue metadata.
	KindQueue PendingKind = "queue"
	// KindItems marks a queue's item list.
	KindItems PendingKind = "items"
)

// Write is one dirty entry handed to the sync function.
type Write struct {
	Kind    PendingKind
	QueueID string
	// Value is *model.Queue for KindQueue, []*model.Item for KindItems.
	Value interface{}
}

// SyncFunc persists dirty entries, ideally in one pipeline. It runs with
// the cache lock held and must not call back into the cache.
type SyncFunc func(ctx context.Context, writes []Write) error

// evictFlushTimeout bounds the synchronous flush of a dirty evicted entry.
const evictFlushTimeout = 5 * time.Second

type pendingKey struct {
	kind    PendingKind
	queueID string
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Enabled       bool   `json:"enabled"`
	Strategy      string `json:"strategy"`
	Hits          int64  `json:"hits"`
	Misses        int64  `json:"misses"`
	Writes        int64  `json:"writes"`
	Evictions     int64  `json:"evictions"`
	Syncs         int64  `json:"syncs"`
	QueueEntries  int    `json:"queueEntries"`
	ItemEntries   int    `json:"itemEntries"`
	PendingWrites int    `json:"pendingWrites"`
}

// HitRate returns hits over total lookups, zero when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Hybrid is the two-map cache in front of Redis: queue metadata and item
// list mirrors, each LRU-bounded with TTL. Under write-back it tracks
// dirty entries and flushes them on an interval, on eviction and on
// shutdown.
type Hybrid struct {
	cfg      config.Cache
	strategy Strategy
	enabled  bool
	syncFn   SyncFunc
	log      logger.Logger
	metrics  *metrics.Collector

	mu      sync.Mutex
	queues  *lruCache
	items   *lruCache
	pending map[pendingKey]struct{}

	hits      int64
	misses    int64
	writes    int64
	evictions int64
	syncs     int64

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds the cache. syncFn may be nil under write-through. A nil
// metrics collector disables instrumentation.
func New(cfg config.Cache, syncFn SyncFunc, log logger.Logger, m *metrics.Collector) *Hybrid {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	h := &Hybrid{
		cfg:      cfg,
		strategy: Strategy(cfg.Strategy),
		enabled:  cfg.Enabled,
		syncFn:   syncFn,
		log:      log.WithComponent(logger.ComponentCache),
		metrics:  m,
		pending:  make(map[pendingKey]struct{}),
	}
	h.queues = newLRU(cfg.MaxSize, cfg.TTL, h.evictHandler(KindQueue))
	h.items = newLRU(cfg.MaxSize, cfg.TTL, h.evictHandler(KindItems))
	return h
}

// Enabled reports whether the cache participates in reads and writes.
func (h *Hybrid) Enabled() bool {
	return h.enabled
}

// WriteBackEnabled reports whether mutations should go to the cache first.
func (h *Hybrid) WriteBackEnabled() bool {
	return h.enabled && h.strategy == WriteBack
}

// evictHandler flushes dirty entries synchronously before they are lost.
// It runs with the cache lock held.
func (h *Hybrid) evictHandler(kind PendingKind) evictFunc {
	return func(key string, value interface{}, dirty bool) {
		h.evictions++
		h.metrics.RecordCacheEviction()
		if !dirty {
			return
		}
		delete(h.pending, pendingKey{kind: kind, queueID: key})
		h.metrics.SetPendingWrites(len(h.pending))
		if h.syncFn == nil {
			h.log.Warn("dirty entry evicted without sync function", "kind", string(kind), "queue_id", key)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), evictFlushTimeout)
		defer cancel()
		if err := h.syncFn(ctx, []Write{{Kind: kind, QueueID: key, Value: value}}); err != nil {
			h.log.Error("failed to flush evicted dirty entry",
				"kind", string(kind), "queue_id", key, "error", err.Error())
			return
		}
		h.syncs++
		h.metrics.RecordCacheSync()
	}
}

// GetQueue returns a snapshot of cached queue metadata.
func (h *Hybrid) GetQueue(queueID string) (*model.Queue, bool) {
	if !h.enabled {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.queues.get(queueID)
	if !ok {
		h.misses++
		h.metrics.RecordCacheMiss()
		return nil, false
	}
	h.hits++
	h.metrics.RecordCacheHit()
	return v.(*model.Queue).Clone(), true
}

// SetQueue caches queue metadata. The cache takes ownership of q. dirty
// marks the entry as not yet persisted.
func (h *Hybrid) SetQueue(q *model.Queue, dirty bool) {
	if !h.enabled || q == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queues.set(q.ID, q, dirty)
	h.writes++
	h.metrics.RecordCacheWrite()
	if dirty {
		h.pending[pendingKey{kind: KindQueue, queueID: q.ID}] = struct{}{}
	} else {
		// A clean write means the value is already persisted.
		delete(h.pending, pendingKey{kind: KindQueue, queueID: q.ID})
	}
	h.metrics.SetCacheEntries("queues", h.queues.len())
	h.metrics.SetPendingWrites(len(h.pending))
}

// GetItems returns a deep copy of the cached item list.
func (h *Hybrid) GetItems(queueID string) ([]*model.Item, bool) {
	if !h.enabled {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.items.get(queueID)
	if !ok {
		h.misses++
		h.metrics.RecordCacheMiss()
		return nil, false
	}
	h.hits++
	h.metrics.RecordCacheHit()
	stored := v.([]*model.Item)
	out := make([]*model.Item, len(stored))
	for i, item := range stored {
		out[i] = item.Clone()
	}
	return out, true
}

// HasItems reports whether the item list is cached, without touching
// statistics or recency.
func (h *Hybrid) HasItems(queueID string) bool {
	if !h.enabled {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.items.peek(queueID)
	return ok
}

// SetItems caches a queue's item list. The cache takes ownership of the
// slice. dirty marks the entry as not yet persisted.
func (h *Hybrid) SetItems(queueID string, items []*model.Item, dirty bool) {
	if !h.enabled {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items.set(queueID, items, dirty)
	h.writes++
	h.metrics.RecordCacheWrite()
	if dirty {
		h.pending[pendingKey{kind: KindItems, queueID: queueID}] = struct{}{}
	} else {
		delete(h.pending, pendingKey{kind: KindItems, queueID: queueID})
	}
	h.metrics.SetCacheEntries("items", h.items.len())
	h.metrics.SetPendingWrites(len(h.pending))
}

// UpdateItemCount refreshes the derived count on the cached metadata so
// reads served from cache agree with the list length.
func (h *Hybrid) UpdateItemCount(queueID string, count int64) {
	if !h.enabled {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.queues.peek(queueID); ok {
		v.(*model.Queue).ItemCount = count
	}
}

// Invalidate drops a queue's cache entries without flushing them.
func (h *Hybrid) Invalidate(queueID string) {
	if !h.enabled {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queues.delete(queueID)
	h.items.delete(queueID)
	delete(h.pending, pendingKey{kind: KindQueue, queueID: queueID})
	delete(h.pending, pendingKey{kind: KindItems, queueID: queueID})
	h.metrics.SetCacheEntries("queues", h.queues.len())
	h.metrics.SetCacheEntries("items", h.items.len())
	h.metrics.SetPendingWrites(len(h.pending))
}

// QueueIDs lists the ids with cached metadata, warmest first.
func (h *Hybrid) QueueIDs() []string {
	if !h.enabled {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queues.keys()
}

// PendingWrites reports how many dirty entries await the flusher.
func (h *Hybrid) PendingWrites() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Flush writes every pending entry through the sync function. Entries
// stay pending if the sync fails so the next tick retries them.
func (h *Hybrid) Flush(ctx context.Context) error {
	if !h.enabled || h.syncFn == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushLocked(ctx)
}

func (h *Hybrid) flushLocked(ctx context.Context) error {
	if len(h.pending) == 0 {
		return nil
	}
	writes := make([]Write, 0, len(h.pending))
	for pk := range h.pending {
		store := h.queues
		if pk.kind == KindItems {
			store = h.items
		}
		v, ok := store.peek(pk.queueID)
		if !ok {
			// Entry vanished since it was marked; nothing left to write.
			delete(h.pending, pk)
			continue
		}
		writes = append(writes, Write{Kind: pk.kind, QueueID: pk.queueID, Value: v})
	}
	if len(writes) == 0 {
		h.metrics.SetPendingWrites(0)
		return nil
	}
	if err := h.syncFn(ctx, writes); err != nil {
		h.log.Error("write-back flush failed", "entries", len(writes), "error", err.Error())
		return err
	}
	for _, w := range writes {
		store := h.queues
		if w.Kind == KindItems {
			store = h.items
		}
		store.markClean(w.QueueID)
		delete(h.pending, pendingKey{kind: w.Kind, queueID: w.QueueID})
		h.syncs++
		h.metrics.RecordCacheSync()
	}
	h.metrics.SetPendingWrites(len(h.pending))
	h.log.Debug("write-back flush completed", "entries", len(writes))
	return nil
}

// Start launches the background flusher. Only write-back needs one.
func (h *Hybrid) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.WriteBackEnabled() || h.started {
		return
	}
	h.started = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	go h.flushLoop(h.stopCh, h.doneCh)
	h.log.Info("cache flusher started", "interval", h.cfg.SyncInterval.String())
}

func (h *Hybrid) flushLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(h.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), evictFlushTimeout)
			// Errors are logged inside Flush and retried next tick.
			_ = h.Flush(ctx)
			cancel()
		}
	}
}

// Stop halts the flusher and drains pending writes. Call before closing
// the storage adapter.
func (h *Hybrid) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.started = false
		close(h.stopCh)
		done := h.doneCh
		h.mu.Unlock()
		<-done
	} else {
		h.mu.Unlock()
	}
	return h.Flush(ctx)
}

// Stats returns a counter snapshot.
func (h *Hybrid) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Enabled:       h.enabled,
		Strategy:      string(h.strategy),
		Hits:          h.hits,
		Misses:        h.misses,
		Writes:        h.writes,
		Evictions:     h.evictions,
		Syncs:         h.syncs,
		QueueEntries:  h.queues.len(),
		ItemEntries:   h.items.len(),
		PendingWrites: len(h.pending),
	}
}
