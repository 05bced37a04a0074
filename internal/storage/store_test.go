package storage

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
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

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := New(testRedisConfig(t, mr.Addr()), config.Breaker{}, &logger.NoOpLogger{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestConnect_MarksReady(t *testing.T) {
	mr := miniredis.RunT(t)
	s := New(testRedisConfig(t, mr.Addr()), config.Breaker{}, &logger.NoOpLogger{})
	defer s.Close()

	if s.Ready() {
		t.Fatal("expected store to start unready")
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if !s.Ready() {
		t.Fatal("expected store to be ready after connect")
	}

	select {
	case <-s.ReadyChan():
	default:
		t.Fatal("expected ready channel to be closed")
	}
}

func TestLazyConnect_FirstCommandConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testRedisConfig(t, mr.Addr())
	cfg.LazyConnect = true
	s := New(cfg, config.Breaker{}, &logger.NoOpLogger{})
	defer s.Close()

	if err := s.Set(context.Background(), "k", "v", 0); err != nil {
		t.Fatalf("expected lazy command to succeed, got %v", err)
	}
	if !s.Ready() {
		t.Fatal("expected first command to establish the connection")
	}
}

func TestExecute_NotReadyFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testRedisConfig(t, mr.Addr())
	cfg.LazyConnect = false
	cfg.EnableOfflineQueue = false
	s := New(cfg, config.Breaker{}, &logger.NoOpLogger{})
	defer s.Close()

	_, err := s.Get(context.Background(), "k")
	if !errors.Is(err, qerrors.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestWaitForConnection_Timeout(t *testing.T) {
	cfg := config.Default().Redis
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	s := New(cfg, config.Breaker{}, &logger.NoOpLogger{})
	defer s.Close()

	start := time.Now()
	err := s.WaitForConnection(context.Background(), 200*time.Millisecond)
	if !errors.Is(err, qerrors.ErrConnectionTimeout) {
		t.Fatalf("expected ErrConnectionTimeout, got %v", err)
	}
	if !qerrors.IsTimeout(err) {
		t.Errorf("expected timeout kind, got %v", qerrors.KindOf(err))
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("expected wait to respect timeout, took %v", elapsed)
	}
}

func TestWaitForConnection_AlreadyReady(t *testing.T) {
	s, _ := setupTestStore(t)
	if err := s.WaitForConnection(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("expected immediate success, got %v", err)
	}
}

func TestStringOps(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "v" {
		t.Errorf("expected 'v', got %q", got)
	}

	exists, err := s.Exists(ctx, "k")
	if err != nil || !exists {
		t.Errorf("expected key to exist, got exists=%v err=%v", exists, err)
	}

	n, err := s.Del(ctx, "k")
	if err != nil || n != 1 {
		t.Errorf("expected del count 1, got n=%d err=%v", n, err)
	}

	_, err = s.Get(ctx, "k")
	if !qerrors.IsNotFound(err) {
		t.Errorf("expected not-found after delete, got %v", err)
	}
}

func TestSetNX(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to win, got ok=%v err=%v", ok, err)
	}
	ok, err = s.SetNX(ctx, "lock", "b", time.Minute)
	if err != nil {
		t.Fatalf("second setnx failed: %v", err)
	}
	if ok {
		t.Error("expected second acquire to lose")
	}
	got, _ := s.Get(ctx, "lock")
	if got != "a" {
		t.Errorf("expected lock held by 'a', got %q", got)
	}
}

func TestHashOps(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	err := s.HSet(ctx, "h", map[string]string{"name": "orders", "count": "2"})
	if err != nil {
		t.Fatalf("hset failed: %v", err)
	}

	name, err := s.HGet(ctx, "h", "name")
	if err != nil || name != "orders" {
		t.Errorf("expected name 'orders', got %q err=%v", name, err)
	}

	all, err := s.HGetAll(ctx, "h")
	if err != nil {
		t.Fatalf("hgetall failed: %v", err)
	}
	if len(all) != 2 || all["count"] != "2" {
		t.Errorf("unexpected hash contents: %v", all)
	}

	n, err := s.HIncrBy(ctx, "h", "count", 3)
	if err != nil || n != 5 {
		t.Errorf("expected count 5, got %d err=%v", n, err)
	}

	if err := s.HDel(ctx, "h", "name"); err != nil {
		t.Fatalf("hdel failed: %v", err)
	}
	if _, err := s.HGet(ctx, "h", "name"); !qerrors.IsNotFound(err) {
		t.Errorf("expected not-found for deleted field, got %v", err)
	}

	empty, err := s.HGetAll(ctx, "missing")
	if err != nil {
		t.Fatalf("hgetall on missing key failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty map for missing key, got %v", empty)
	}
}

func TestListOps(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		if _, err := s.LPush(ctx, "l", v); err != nil {
			t.Fatalf("lpush failed: %v", err)
		}
	}

	n, err := s.LLen(ctx, "l")
	if err != nil || n != 3 {
		t.Fatalf("expected length 3, got %d err=%v", n, err)
	}

	// Head is the newest entry, so draining from the tail yields FIFO.
	got, err := s.RPop(ctx, "l")
	if err != nil || got != "a" {
		t.Errorf("expected 'a' from tail, got %q err=%v", got, err)
	}

	items, err := s.LRange(ctx, "l", 0, -1)
	if err != nil {
		t.Fatalf("lrange failed: %v", err)
	}
	if len(items) != 2 || items[0] != "c" || items[1] != "b" {
		t.Errorf("unexpected list contents: %v", items)
	}

	if err := s.LSet(ctx, "l", 0, "c2"); err != nil {
		t.Fatalf("lset failed: %v", err)
	}
	items, _ = s.LRange(ctx, "l", 0, -1)
	if items[0] != "c2" {
		t.Errorf("expected lset to replace head, got %v", items)
	}

	removed, err := s.LRem(ctx, "l", 1, "b")
	if err != nil || removed != 1 {
		t.Errorf("expected 1 removal, got %d err=%v", removed, err)
	}

	_, err = s.RPop(ctx, "empty")
	if !qerrors.IsNotFound(err) {
		t.Errorf("expected not-found popping empty list, got %v", err)
	}
}

func TestSortedSetOps(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	err := s.ZAdd(ctx, "z",
		redis.Z{Score: 100, Member: "j1"},
		redis.Z{Score: 200, Member: "j2"},
		redis.Z{Score: 300, Member: "j3"},
	)
	if err != nil {
		t.Fatalf("zadd failed: %v", err)
	}

	n, err := s.ZCard(ctx, "z")
	if err != nil || n != 3 {
		t.Fatalf("expected cardinality 3, got %d err=%v", n, err)
	}

	score, err := s.ZScore(ctx, "z", "j2")
	if err != nil || score != 200 {
		t.Errorf("expected score 200, got %v err=%v", score, err)
	}

	due, err := s.ZRangeByScore(ctx, "z", "-inf", "250", 0, 0)
	if err != nil {
		t.Fatalf("zrangebyscore failed: %v", err)
	}
	if len(due) != 2 || due[0] != "j1" || due[1] != "j2" {
		t.Errorf("unexpected range result: %v", due)
	}

	limited, err := s.ZRangeByScore(ctx, "z", "-inf", "+inf", 0, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("expected count limit 1, got %v err=%v", limited, err)
	}

	withScores, err := s.ZRangeByScoreWithScores(ctx, "z", "-inf", "+inf", 0, 0)
	if err != nil || len(withScores) != 3 || withScores[0].Score != 100 {
		t.Errorf("unexpected scored range: %v err=%v", withScores, err)
	}

	if err := s.ZRem(ctx, "z", "j1"); err != nil {
		t.Fatalf("zrem failed: %v", err)
	}
	removed, err := s.ZRemRangeByScore(ctx, "z", "-inf", "200")
	if err != nil || removed != 1 {
		t.Errorf("expected 1 removed by score, got %d err=%v", removed, err)
	}
}

func TestSetOps(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if err := s.SAdd(ctx, "deps", "a", "b"); err != nil {
		t.Fatalf("sadd failed: %v", err)
	}
	ok, err := s.SIsMember(ctx, "deps", "a")
	if err != nil || !ok {
		t.Errorf("expected membership for 'a', got ok=%v err=%v", ok, err)
	}
	n, err := s.SCard(ctx, "deps")
	if err != nil || n != 2 {
		t.Errorf("expected cardinality 2, got %d err=%v", n, err)
	}
	if err := s.SRem(ctx, "deps", "a"); err != nil {
		t.Fatalf("srem failed: %v", err)
	}
	members, err := s.SMembers(ctx, "deps")
	if err != nil || len(members) != 1 || members[0] != "b" {
		t.Errorf("unexpected members: %v err=%v", members, err)
	}
}

func TestScanKeys(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	for _, q := range []string{"orders", "emails"} {
		if err := s.HSet(ctx, QueueMetaKey(q), map[string]string{"name": q}); err != nil {
			t.Fatalf("hset failed: %v", err)
		}
	}
	if err := s.Set(ctx, "unrelated", "x", 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	keys, err := s.ScanKeys(ctx, QueueMetaPattern())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	sort.Strings(keys)
	want := []string{"qm:meta:emails", "qm:meta:orders"}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("expected %v, got %v", want, keys)
	}
}

func TestEval(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	script := `redis.call("SET", KEYS[1], ARGV[1]) return 1`
	res, err := s.Eval(ctx, "test.eval", script, []string{"k"}, "v")
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if n, ok := res.(int64); !ok || n != 1 {
		t.Errorf("expected int64 1, got %T %v", res, res)
	}
	got, _ := s.Get(ctx, "k")
	if got != "v" {
		t.Errorf("expected script to set value, got %q", got)
	}
}

func TestPipelined_ReportsCommandIndex(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "str", "plain", 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	cmds, err := s.Pipelined(ctx, "test.pipeline", func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, "ok", "1", 0)
		pipe.LPush(ctx, "str", "boom") // wrong type, fails at index 1
		return nil
	})
	if err == nil {
		t.Fatal("expected pipeline error")
	}
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands back, got %d", len(cmds))
	}

	var qe *qerrors.Error
	if !errors.As(err, &qe) {
		t.Fatalf("expected classified error, got %v", err)
	}
	if qe.Index != 1 {
		t.Errorf("expected failing index 1, got %d", qe.Index)
	}
	if qe.Kind != qerrors.KindStorage {
		t.Errorf("expected storage kind for WRONGTYPE, got %s", qe.Kind)
	}

	// The healthy command still applied.
	got, _ := s.Get(ctx, "ok")
	if got != "1" {
		t.Errorf("expected successful command to apply, got %q", got)
	}
}

func TestTxPipelined_AppliesAtomically(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.TxPipelined(ctx, "test.tx", func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, "a", "f", "1")
		pipe.HSet(ctx, "b", "f", "2")
		return nil
	})
	if err != nil {
		t.Fatalf("tx pipeline failed: %v", err)
	}
	av, _ := s.HGet(ctx, "a", "f")
	bv, _ := s.HGet(ctx, "b", "f")
	if av != "1" || bv != "2" {
		t.Errorf("expected both writes to apply, got a=%q b=%q", av, bv)
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testRedisConfig(t, mr.Addr())
	breakerCfg := config.Breaker{
		Enabled:          true,
		FailureThreshold: 2,
		CooldownPeriod:   time.Minute,
		HalfOpenRequests: 1,
	}
	s := New(cfg, breakerCfg, &logger.NoOpLogger{})
	defer s.Close()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if state := s.BreakerState(); state != "closed" {
		t.Fatalf("expected closed breaker, got %s", state)
	}

	mr.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.Get(ctx, "k"); err == nil {
			t.Fatalf("expected failure %d against dead server", i+1)
		}
	}

	_, err := s.Get(ctx, "k")
	if !qerrors.IsCircuitOpen(err) {
		t.Fatalf("expected circuit-open error, got %v", err)
	}
	if state := s.BreakerState(); state != "open" {
		t.Errorf("expected open breaker, got %s", state)
	}
}

func TestBreakerState_Disabled(t *testing.T) {
	s, _ := setupTestStore(t)
	if state := s.BreakerState(); state != "disabled" {
		t.Errorf("expected 'disabled', got %s", state)
	}
}

func TestPing(t *testing.T) {
	s, _ := setupTestStore(t)
	rtt, err := s.Ping(context.Background())
	if err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if rtt <= 0 {
		t.Errorf("expected positive round-trip time, got %v", rtt)
	}
	if !s.Healthy(context.Background()) {
		t.Error("expected healthy store")
	}
}

func TestClose_RejectsCommands(t *testing.T) {
	s, _ := setupTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("expected repeated close to be a no-op, got %v", err)
	}
	_, err := s.Get(context.Background(), "k")
	if !errors.Is(err, qerrors.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestPublishSubscribe(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	sub := s.Subscribe(ctx, NotifyChannel("job-1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("failed to confirm subscription: %v", err)
	}

	if err := s.Publish(ctx, NotifyChannel("job-1"), "completed"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != "completed" {
			t.Errorf("expected payload 'completed', got %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
	}
}
