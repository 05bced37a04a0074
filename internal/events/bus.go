package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/metrics"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
)

// auditRingCap bounds the in-memory audit ring.
const auditRingCap = 10000

type listenerEntry struct {
	id int
	fn Listener
}

// Bus fans events out to a global listener list and per-queue listener
// lists. Middleware runs first, then the per-type rate limit, then
// delivery. A panicking listener is logged and skipped, never fatal.
type Bus struct {
	cfg     config.Events
	log     logger.Logger
	metrics *metrics.Collector
	source  string

	mu         sync.RWMutex
	global     []listenerEntry
	perQueue   map[string][]listenerEntry
	middleware []Middleware
	nextID     int

	limiter *windowLimiter

	auditMu   sync.Mutex
	audit     []Envelope
	auditNext int

	shuttingDown atomic.Bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	closeOnce    sync.Once
}

// NewBus builds the bus. The sweep goroutine for rate-limit counters only
// runs when rate limiting is enabled; Close stops it.
func NewBus(cfg config.Events, log logger.Logger, m *metrics.Collector) *Bus {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	b := &Bus{
		cfg:      cfg,
		log:      log.WithComponent(logger.ComponentEvents),
		metrics:  m,
		source:   DefaultSource,
		perQueue: make(map[string][]listenerEntry),
	}
	if cfg.EnableRateLimiting {
		b.limiter = newWindowLimiter(cfg.RateLimit.MaxEventsPerSecond, cfg.RateLimit.WindowSize)
		b.stopCh = make(chan struct{})
		b.doneCh = make(chan struct{})
		go b.sweepLoop()
	}
	return b
}

// sweepInterval keeps the counter map small without adding work to the
// emit path.
func (b *Bus) sweepInterval() time.Duration {
	interval := b.cfg.RateLimit.WindowSize * 10
	if interval < time.Second {
		return time.Second
	}
	if interval > time.Minute {
		return time.Minute
	}
	return interval
}

func (b *Bus) sweepLoop() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.limiter.sweep(time.Now())
		}
	}
}

// Subscribe registers a global listener and returns its id for removal.
func (b *Bus) Subscribe(fn Listener) (int, error) {
	const op = "events.Subscribe"
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.global) >= b.cfg.MaxListeners {
		return 0, qerrors.Newf(qerrors.KindValidation, op,
			"listener limit %d reached", b.cfg.MaxListeners)
	}
	b.nextID++
	b.global = append(b.global, listenerEntry{id: b.nextID, fn: fn})
	return b.nextID, nil
}

// SubscribeQueue registers a listener for one queue's events.
func (b *Bus) SubscribeQueue(queueID string, fn Listener) (int, error) {
	const op = "events.SubscribeQueue"
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.perQueue[queueID]) >= b.cfg.MaxListeners {
		return 0, qerrors.Newf(qerrors.KindValidation, op,
			"listener limit %d reached for queue", b.cfg.MaxListeners).WithQueue(queueID)
	}
	b.nextID++
	b.perQueue[queueID] = append(b.perQueue[queueID], listenerEntry{id: b.nextID, fn: fn})
	return b.nextID, nil
}

// Unsubscribe removes a listener by id, wherever it was registered.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = removeListener(b.global, id)
	for queueID, entries := range b.perQueue {
		trimmed := removeListener(entries, id)
		if len(trimmed) == 0 {
			delete(b.perQueue, queueID)
		} else {
			b.perQueue[queueID] = trimmed
		}
	}
}

// RemoveQueueListeners drops every listener registered for a queue. Called
// when the queue is deleted.
func (b *Bus) RemoveQueueListeners(queueID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.perQueue, queueID)
}

// TransferQueueListeners moves a queue's listeners to a new id. Called on
// rename so observers keep their subscription.
func (b *Bus) TransferQueueListeners(oldID, newID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries, ok := b.perQueue[oldID]
	if !ok {
		return
	}
	delete(b.perQueue, oldID)
	b.perQueue[newID] = append(b.perQueue[newID], entries...)
}

// Use appends a middleware to the chain. Middleware run in registration
// order on every emitted event.
func (b *Bus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// ListenerCount reports the number of global listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.global)
}

// QueueListenerCount reports the number of listeners for one queue.
func (b *Bus) QueueListenerCount(queueID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.perQueue[queueID])
}

// Emit builds an envelope and delivers it. Emission during shutdown is
// silently suppressed.
func (b *Bus) Emit(t Type, queueID string, payload map[string]interface{}) {
	if b.shuttingDown.Load() {
		return
	}
	b.dispatch(Envelope{
		Timestamp: time.Now().UTC(),
		Type:      t,
		Version:   EnvelopeVersion,
		Source:    b.source,
		QueueID:   queueID,
		Payload:   payload,
	})
}

func (b *Bus) dispatch(evt Envelope) {
	b.mu.RLock()
	middleware := b.middleware
	b.mu.RUnlock()

	ok := true
	for _, mw := range middleware {
		evt, ok = mw(evt)
		if !ok {
			return
		}
	}

	if b.limiter != nil && !b.limiter.allow(evt.Type, evt.Timestamp) {
		b.metrics.RecordEventDropped(string(evt.Type))
		b.log.Debug("event dropped by rate limit", "event_type", string(evt.Type), "queue_id", evt.QueueID)
		return
	}

	if b.cfg.EnableAuditLog {
		b.recordAudit(evt)
	}
	if b.cfg.EnableMetrics {
		b.metrics.RecordEvent(string(evt.Type))
	}

	b.mu.RLock()
	global := make([]listenerEntry, len(b.global))
	copy(global, b.global)
	var scoped []listenerEntry
	if evt.QueueID != "" {
		scoped = make([]listenerEntry, len(b.perQueue[evt.QueueID]))
		copy(scoped, b.perQueue[evt.QueueID])
	}
	b.mu.RUnlock()

	for _, entry := range global {
		b.safeCall(entry, evt)
	}
	for _, entry := range scoped {
		b.safeCall(entry, evt)
	}
}

func (b *Bus) safeCall(entry listenerEntry, evt Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event listener panicked",
				"event_type", string(evt.Type), "listener_id", entry.id, "panic", fmt.Sprint(r))
		}
	}()
	entry.fn(evt)
}

func (b *Bus) recordAudit(evt Envelope) {
	b.auditMu.Lock()
	defer b.auditMu.Unlock()
	if len(b.audit) < auditRingCap {
		b.audit = append(b.audit, evt)
		return
	}
	b.audit[b.auditNext] = evt
	b.auditNext = (b.auditNext + 1) % auditRingCap
}

// AuditLog returns the retained envelopes oldest first.
func (b *Bus) AuditLog() []Envelope {
	b.auditMu.Lock()
	defer b.auditMu.Unlock()
	out := make([]Envelope, 0, len(b.audit))
	out = append(out, b.audit[b.auditNext:]...)
	out = append(out, b.audit[:b.auditNext]...)
	return out
}

// BeginShutdown suppresses new emissions while leaving listeners attached
// so in-flight deliveries finish.
func (b *Bus) BeginShutdown() {
	b.shuttingDown.Store(true)
}

// Close suppresses emission, stops the sweep goroutine and detaches all
// listeners.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.BeginShutdown()
		if b.stopCh != nil {
			close(b.stopCh)
			<-b.doneCh
		}
		b.mu.Lock()
		b.global = nil
		b.perQueue = make(map[string][]listenerEntry)
		b.middleware = nil
		b.mu.Unlock()
	})
}

func removeListener(entries []listenerEntry, id int) []listenerEntry {
	for i, entry := range entries {
		if entry.id == id {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}
