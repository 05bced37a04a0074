package ratelimit

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/muaviaUsmani/plantain/internal/cache"
	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/hooks"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/queue"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

func testRedisConfig(t *testing.T, addr string) config.Redis {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("failed to split addr %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("failed to parse port %q: %v", portStr, err)
	}
	cfg := config.Default().Redis
	cfg.Host = host
	cfg.Port = port
	return cfg
}

func newTestStore(t *testing.T) (*storage.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := storage.New(testRedisConfig(t, mr.Addr()), config.Breaker{}, &logger.NoOpLogger{})
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, mr
}

func newTestManager(t *testing.T, st *storage.Store, bus *events.Bus) *queue.Manager {
	t.Helper()
	hybrid := cache.New(config.Default().Cache, nil, &logger.NoOpLogger{}, nil)
	runner := hooks.NewRunner(config.Default().Broker, bus, &logger.NoOpLogger{})
	return queue.NewManager(st, hybrid, bus, runner, &logger.NoOpLogger{}, nil)
}

func newTestLimiter(t *testing.T) (*Limiter, *queue.Manager, *miniredis.Miniredis) {
	t.Helper()
	st, mr := newTestStore(t)
	mgr := newTestManager(t, st, nil)
	return New(mgr, nil, &logger.NoOpLogger{}, nil), mgr, mr
}

func newTestLimiterWithBus(t *testing.T) (*Limiter, *queue.Manager, *events.Bus) {
	t.Helper()
	st, _ := newTestStore(t)
	bus := events.NewBus(config.Default().Events, &logger.NoOpLogger{}, nil)
	t.Cleanup(bus.Close)
	mgr := newTestManager(t, st, bus)
	return New(mgr, bus, &logger.NoOpLogger{}, nil), mgr, bus
}

func mustCreateQueue(t *testing.T, m *queue.Manager, queueID string) {
	t.Helper()
	if _, err := m.CreateQueue(context.Background(), queueID, queueID, nil); err != nil {
		t.Fatalf("failed to create queue %q: %v", queueID, err)
	}
}

func mustConfigure(t *testing.T, l *Limiter, queueID string, cfg *model.RateLimitConfig) {
	t.Helper()
	if err := l.ConfigureRateLimit(context.Background(), queueID, cfg); err != nil {
		t.Fatalf("failed to configure rate limit: %v", err)
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Envelope
}

func (r *eventRecorder) record(evt events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) ofType(t events.Type) []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Envelope
	for _, evt := range r.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func TestConfigureRateLimit_RoundTrip(t *testing.T) {
	lim, mgr, mr := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")

	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxPerSecond: 2, MaxConcurrent: 1})
	if !mr.Exists(storage.RateLimitKey("orders")) {
		t.Error("expected config hash in redis")
	}

	cfg, err := lim.GetRateLimitConfig(ctx, "orders")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected a config")
	}
	if !cfg.Enabled {
		t.Error("expected configure to enable the limiter")
	}
	if cfg.MaxPerSecond != 2 || cfg.MaxConcurrent != 1 {
		t.Errorf("limits mismatch: %+v", cfg)
	}
}

func TestConfigureRateLimit_Validation(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")

	if err := lim.ConfigureRateLimit(ctx, "orders", nil); !qerrors.IsValidation(err) {
		t.Errorf("expected validation error for nil config, got %v", err)
	}
	if err := lim.ConfigureRateLimit(ctx, "orders", &model.RateLimitConfig{MaxPerSecond: -1}); !qerrors.IsValidation(err) {
		t.Errorf("expected validation error for negative limit, got %v", err)
	}
	if err := lim.ConfigureRateLimit(ctx, "orders", &model.RateLimitConfig{}); !qerrors.IsValidation(err) {
		t.Errorf("expected validation error for empty config, got %v", err)
	}
	if err := lim.ConfigureRateLimit(ctx, "ghost", &model.RateLimitConfig{MaxPerSecond: 1}); !qerrors.IsNotFound(err) {
		t.Errorf("expected NotFound for unknown queue, got %v", err)
	}
}

func TestGetRateLimitConfig_Unconfigured(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	mustCreateQueue(t, mgr, "orders")

	cfg, err := lim.GetRateLimitConfig(context.Background(), "orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil for unconfigured queue, got %+v", cfg)
	}
}

func TestCheckRateLimit_Unconfigured(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	mustCreateQueue(t, mgr, "orders")

	decision, err := lim.CheckRateLimit(context.Background(), "orders")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("expected unconfigured queue to allow, got %+v", decision)
	}
}

func TestCheckRateLimit_WindowDeny(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxPerSecond: 2})

	now := time.Now()
	if err := lim.record(ctx, "orders", "j1", now); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := lim.record(ctx, "orders", "j2", now); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	decision, err := lim.check(ctx, "orders", now)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected denial at the second-window limit")
	}
	if decision.Window != "second" || decision.Current != 2 || decision.Limit != 2 {
		t.Errorf("decision mismatch: %+v", decision)
	}
	if decision.RetryAfterMs <= 0 || decision.RetryAfterMs > 1000 {
		t.Errorf("retry-after out of range: %d", decision.RetryAfterMs)
	}

	// The next bucket has a fresh budget.
	later, err := lim.check(ctx, "orders", now.Add(1100*time.Millisecond))
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !later.Allowed {
		t.Errorf("expected the next window to allow, got %+v", later)
	}
}

func TestCheckRateLimit_BurstHeadroom(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxPerSecond: 1, Burst: 1})

	now := time.Now()
	if err := lim.record(ctx, "orders", "j1", now); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	decision, err := lim.check(ctx, "orders", now)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("expected burst headroom to allow, got %+v", decision)
	}

	if err := lim.record(ctx, "orders", "j2", now); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	decision, err = lim.check(ctx, "orders", now)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if decision.Allowed {
		t.Error("expected denial past limit plus burst")
	}
	if decision.Limit != 2 {
		t.Errorf("expected effective limit 2, got %d", decision.Limit)
	}
}

func TestCheckRateLimit_ConcurrentDeny(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxConcurrent: 1})

	if err := lim.RecordJobExecution(ctx, "orders", "j1"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	decision, err := lim.CheckRateLimit(ctx, "orders")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected concurrency denial")
	}
	if decision.Window != "concurrent" || decision.Current != 1 || decision.Limit != 1 {
		t.Errorf("decision mismatch: %+v", decision)
	}

	if err := lim.CompleteJobExecution(ctx, "orders", "j1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	decision, err = lim.CheckRateLimit(ctx, "orders")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("expected a free slot after completion, got %+v", decision)
	}
}

func TestCheckRateLimit_DisabledAllows(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxConcurrent: 1})

	if err := lim.RecordJobExecution(ctx, "orders", "j1"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := lim.DisableRateLimit(ctx, "orders"); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	decision, err := lim.CheckRateLimit(ctx, "orders")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("expected disabled limiter to allow, got %+v", decision)
	}

	cfg, err := lim.GetRateLimitConfig(ctx, "orders")
	if err != nil || cfg == nil {
		t.Fatalf("failed to load config: cfg=%v err=%v", cfg, err)
	}
	if cfg.Enabled {
		t.Error("expected enabled=false persisted")
	}
	if cfg.MaxConcurrent != 1 {
		t.Error("expected limits preserved across disable")
	}
}

func TestDisableRateLimit_Unconfigured(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	mustCreateQueue(t, mgr, "orders")

	if err := lim.DisableRateLimit(context.Background(), "orders"); !qerrors.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestRateLimitEvents(t *testing.T) {
	lim, mgr, bus := newTestLimiterWithBus(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")

	rec := &eventRecorder{}
	if _, err := bus.Subscribe(rec.record); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxPerSecond: 5})
	configured := rec.ofType(events.TypeRateLimitConfigured)
	if len(configured) != 1 {
		t.Fatalf("expected 1 configured event, got %d", len(configured))
	}
	if configured[0].Payload["maxPerSecond"] != int64(5) {
		t.Errorf("configured payload mismatch: %v", configured[0].Payload)
	}

	if err := lim.ResetRateLimitCounters(ctx, "orders", ResetOptions{Windows: true}); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	reset := rec.ofType(events.TypeRateLimitCountersReset)
	if len(reset) != 1 || reset[0].Payload["windows"] != true {
		t.Errorf("reset event mismatch: %v", reset)
	}

	if err := lim.DisableRateLimit(ctx, "orders"); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if got := rec.ofType(events.TypeRateLimitDisabled); len(got) != 1 {
		t.Errorf("expected 1 disabled event, got %d", len(got))
	}
}

// windowField names the counters hash field for a window and time, the
// way the limiter builds it.
func windowField(prefix string, now time.Time, size time.Duration) string {
	return fmt.Sprintf("%s:%d", prefix, now.UnixMilli()/size.Milliseconds())
}
