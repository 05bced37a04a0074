package broker

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/serialization"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

func testConfig(t *testing.T, addr string) *config.Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("failed to split addr %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("failed to parse port %q: %v", portStr, err)
	}
	cfg := config.Default()
	cfg.Redis.Host = host
	cfg.Redis.Port = port
	cfg.Logging.Level = "error"
	cfg.Events.EnableAuditLog = true
	// Long intervals keep the loops quiet unless a test shortens them.
	cfg.Broker.SchedulerInterval = time.Hour
	cfg.Broker.TimeoutMonitorInterval = time.Hour
	cfg.Broker.CleanupInterval = time.Hour
	return cfg
}

func newTestBroker(t *testing.T) (*Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b := newTestBrokerWithConfig(t, testConfig(t, mr.Addr()))
	return b, mr
}

func newTestBrokerWithConfig(t *testing.T, cfg *config.Config) *Broker {
	t.Helper()
	b, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to build broker: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Close(ctx, CloseOptions{Timeout: 5 * time.Second})
	})
	return b
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *eventRecorder) record(evt Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) ofType(t EventType) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Envelope
	for _, evt := range r.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func TestNew_InitializesAndEmits(t *testing.T) {
	b, _ := newTestBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.WaitForReady(ctx); err != nil {
		t.Fatalf("expected a ready broker, got %v", err)
	}

	ring := b.EventAuditLog()
	connectedAt, initializedAt := -1, -1
	for i, evt := range ring {
		switch evt.Type {
		case EventRedisConnected:
			connectedAt = i
		case EventInitialized:
			initializedAt = i
			if evt.Payload["cacheStrategy"] != "write-through" {
				t.Errorf("initialized payload mismatch: %v", evt.Payload)
			}
		}
	}
	if connectedAt == -1 || initializedAt == -1 {
		t.Fatalf("expected connection and initialization events, got %v", ring)
	}
	if connectedAt > initializedAt {
		t.Error("expected redis:connected before queuemanager:initialized")
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	cfg.Events.MaxListeners = -1

	_, err := New(context.Background(), cfg)
	if !qerrors.IsValidation(err) {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func TestNewDeferred_BecomesReady(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewDeferred(testConfig(t, mr.Addr()))
	if err != nil {
		t.Fatalf("failed to build broker: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Close(ctx, CloseOptions{})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.WaitForReady(ctx); err != nil {
		t.Fatalf("expected the deferred broker to become ready, got %v", err)
	}

	q, err := b.CreateQueue(ctx, "orders", "orders", nil)
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	if q.ID != "orders" {
		t.Errorf("queue id = %q, want orders", q.ID)
	}
}

func TestWaitForReady_UnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	mr.Close()

	b, err := NewDeferred(cfg)
	if err != nil {
		t.Fatalf("failed to build broker: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := b.WaitForReady(ctx); !qerrors.IsTimeout(err) {
		t.Errorf("expected a timeout waiting on an unreachable redis, got %v", err)
	}

	// Close must not hang on the still-connecting initialization.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer closeCancel()
	done := make(chan struct{})
	go func() {
		_ = b.Close(closeCtx, CloseOptions{Timeout: time.Second})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("close hung on an unready broker")
	}
}

func TestClosedBrokerRejectsOperations(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	if err := b.Close(ctx, CloseOptions{Timeout: time.Second}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := b.CreateQueue(ctx, "orders", "orders", nil); !qerrors.IsStorage(err) {
		t.Errorf("expected a storage error from a closed broker, got %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	if err := b.Close(ctx, CloseOptions{Timeout: time.Second}); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := b.Close(ctx, CloseOptions{Timeout: time.Second}); err != nil {
		t.Fatalf("second close returned %v, want nil", err)
	}
}

func TestClose_DrainsWriteBack(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	cfg.Cache.Enabled = true
	cfg.Cache.Strategy = "write-back"
	cfg.Cache.SyncInterval = time.Hour
	b := newTestBrokerWithConfig(t, cfg)
	ctx := context.Background()

	if _, err := b.CreateQueue(ctx, "orders", "orders", nil); err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	if _, err := b.AddToQueue(ctx, "orders", "job", AddOptions{}); err != nil {
		t.Fatalf("failed to add: %v", err)
	}
	if b.hybrid.PendingWrites() == 0 {
		t.Fatal("expected dirty entries before close")
	}

	if err := b.Close(ctx, CloseOptions{Timeout: 5 * time.Second}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if got := b.hybrid.PendingWrites(); got != 0 {
		t.Errorf("pending writes after close = %d, want 0", got)
	}
	if !mr.Exists(storage.QueueMetaKey("orders")) {
		t.Error("expected queue metadata to drain to redis")
	}
	if !mr.Exists(storage.QueueItemsKey("orders")) {
		t.Error("expected the item list to drain to redis")
	}
}

func TestHealth(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()

	h, err := b.Health(ctx)
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if h.Status != StatusHealthy {
		t.Errorf("status = %q, want healthy", h.Status)
	}
	if !h.Redis.Connected {
		t.Error("expected a connected redis")
	}
	if h.Memory.Goroutines <= 0 {
		t.Error("expected a runtime snapshot")
	}
	if !h.Cache.Enabled || h.Cache.Strategy != "write-through" {
		t.Errorf("cache stats should reflect the default config: %+v", h.Cache)
	}

	mr.Close()
	h, err = b.Health(ctx)
	if err != nil {
		t.Fatalf("health on a dead redis failed: %v", err)
	}
	if h.Status != StatusUnhealthy {
		t.Errorf("status = %q, want unhealthy", h.Status)
	}
	if h.Redis.Connected || h.Redis.Error == "" {
		t.Errorf("redis health mismatch: %+v", h.Redis)
	}
}

func TestCleanupLoop_Sweeps(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	cfg.Broker.CleanupInterval = 20 * time.Millisecond
	b := newTestBrokerWithConfig(t, cfg)
	ctx := context.Background()

	if _, err := b.CreateQueue(ctx, "orders", "orders", nil); err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	// An audit index entry without a hash and a dead rate bucket, both
	// of which only the cleanup loop collects.
	err := b.store.ZAdd(ctx, storage.AuditIndexKey("orders"), redis.Z{
		Score:  float64(serialization.EpochMillis(time.Now())),
		Member: "ghost",
	})
	if err != nil {
		t.Fatalf("failed to plant ghost entry: %v", err)
	}
	if err := b.store.HSet(ctx, storage.RateCountersKey("orders"), map[string]string{"sec:1": "9"}); err != nil {
		t.Fatalf("failed to plant stale bucket: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		idx, err := b.store.ZRange(ctx, storage.AuditIndexKey("orders"), 0, -1)
		if err != nil {
			t.Fatalf("failed to read index: %v", err)
		}
		counters, err := b.store.HGetAll(ctx, storage.RateCountersKey("orders"))
		if err != nil {
			t.Fatalf("failed to read counters: %v", err)
		}
		if len(idx) == 0 && len(counters) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cleanup loop did not prune: index=%v counters=%v", idx, counters)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventSurface(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	global := &eventRecorder{}
	id, err := b.OnEvent(global.record)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	scoped := &eventRecorder{}
	if _, err := b.OnQueueEvent("orders", scoped.record); err != nil {
		t.Fatalf("failed to subscribe to queue: %v", err)
	}

	if _, err := b.CreateQueue(ctx, "orders", "orders", nil); err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	if _, err := b.AddToQueue(ctx, "orders", "job", AddOptions{}); err != nil {
		t.Fatalf("failed to add: %v", err)
	}

	if got := global.ofType(EventQueueCreated); len(got) != 1 {
		t.Errorf("expected 1 queue:created globally, got %d", len(got))
	}
	if got := scoped.ofType(EventItemAdded); len(got) != 1 {
		t.Errorf("expected 1 item:added on the queue listener, got %d", len(got))
	}

	// Middleware drops peek events before delivery.
	b.Use(func(evt Envelope) (Envelope, bool) {
		return evt, evt.Type != EventItemPeeked
	})
	if _, err := b.PeekQueue(ctx, "orders", 1); err != nil {
		t.Fatalf("failed to peek: %v", err)
	}
	if got := global.ofType(EventItemPeeked); len(got) != 0 {
		t.Errorf("expected middleware to drop item:peeked, got %d", len(got))
	}

	b.RemoveListener(id)
	if _, err := b.AddToQueue(ctx, "orders", "second", AddOptions{}); err != nil {
		t.Fatalf("failed to add: %v", err)
	}
	if got := global.ofType(EventItemAdded); len(got) != 1 {
		t.Errorf("expected no deliveries after removal, got %d", len(got))
	}

	b.RemoveQueueListeners("orders")
	if _, err := b.AddToQueue(ctx, "orders", "third", AddOptions{}); err != nil {
		t.Fatalf("failed to add: %v", err)
	}
	if got := scoped.ofType(EventItemAdded); len(got) != 2 {
		t.Errorf("expected queue listener detached, got %d deliveries", len(got))
	}
}
