package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/serialization"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

func TestRecordJobExecution_ChargesCounters(t *testing.T) {
	lim, mgr, mr := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxPerSecond: 10, MaxConcurrent: 5})

	now := time.Now()
	if err := lim.record(ctx, "orders", "j1", now); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	counters, err := lim.store.HGetAll(ctx, storage.RateCountersKey("orders"))
	if err != nil {
		t.Fatalf("failed to read counters: %v", err)
	}
	if counters[windowField("sec", now, time.Second)] != "1" {
		t.Errorf("expected second-window count 1, got %v", counters)
	}
	if counters[concurrentField] != "1" {
		t.Errorf("expected concurrent gauge 1, got %v", counters)
	}
	// Only configured windows are charged.
	if got := len(counters); got != 2 {
		t.Errorf("expected 2 counter fields, got %d: %v", got, counters)
	}

	if !mr.Exists(storage.ExecutionKey("orders", "j1")) {
		t.Fatal("expected execution hash")
	}
	if mr.HGet(storage.ExecutionKey("orders", "j1"), "status") != execProcessing {
		t.Error("expected processing status")
	}
	if mr.HGet(storage.ExecutionKey("orders", "j1"), "counted") != "true" {
		t.Error("expected execution marked counted")
	}
}

func TestRecordJobExecution_UncountedWhenUnconfigured(t *testing.T) {
	lim, mgr, mr := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")

	if err := lim.RecordJobExecution(ctx, "orders", "j1"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if mr.Exists(storage.RateCountersKey("orders")) {
		t.Error("expected no counters without a rate limit")
	}
	if mr.HGet(storage.ExecutionKey("orders", "j1"), "counted") != "false" {
		t.Error("expected execution marked uncounted")
	}

	// Completion skips the gauge for uncounted executions.
	if err := lim.CompleteJobExecution(ctx, "orders", "j1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if mr.Exists(storage.RateCountersKey("orders")) {
		t.Error("expected counters untouched by completion")
	}
}

func TestCompleteJobExecution_Lifecycle(t *testing.T) {
	lim, mgr, mr := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxConcurrent: 5})

	if err := lim.RecordJobExecution(ctx, "orders", "j1"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := lim.CompleteJobExecution(ctx, "orders", "j1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	key := storage.ExecutionKey("orders", "j1")
	if mr.HGet(key, "status") != execCompleted {
		t.Error("expected completed status")
	}
	if mr.HGet(key, "endTime") == "" {
		t.Error("expected end time recorded")
	}
	if serialization.ParseInt(mr.HGet(key, "durationMs")) < 0 {
		t.Error("expected non-negative duration")
	}
	if mr.HGet(storage.RateCountersKey("orders"), concurrentField) != "0" {
		t.Error("expected gauge released")
	}

	// A second completion must not release the slot again.
	if err := lim.CompleteJobExecution(ctx, "orders", "j1"); err != nil {
		t.Fatalf("repeat complete failed: %v", err)
	}
	if mr.HGet(storage.RateCountersKey("orders"), concurrentField) != "0" {
		t.Error("expected repeat completion to leave the gauge alone")
	}
}

func TestCompleteJobExecution_NotFound(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	mustCreateQueue(t, mgr, "orders")

	err := lim.CompleteJobExecution(context.Background(), "orders", "ghost")
	if !qerrors.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestGetExecutionStats(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxConcurrent: 5})

	if err := lim.RecordJobExecution(ctx, "orders", "j1"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := lim.RecordJobExecution(ctx, "orders", "j2"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := lim.CompleteJobExecution(ctx, "orders", "j1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	stats, err := lim.GetExecutionStats(ctx, "orders")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 2 || stats.Completed != 1 || stats.InFlight != 1 {
		t.Errorf("counts mismatch: %+v", stats)
	}
	if stats.MinDurationMs != stats.MaxDurationMs || stats.AvgDurationMs != stats.MinDurationMs {
		t.Errorf("expected single-sample durations to agree: %+v", stats)
	}
	if stats.AvgDurationMs < 0 {
		t.Errorf("expected non-negative duration, got %d", stats.AvgDurationMs)
	}
}

func TestGetExecutionStats_Empty(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	mustCreateQueue(t, mgr, "orders")

	stats, err := lim.GetExecutionStats(context.Background(), "orders")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}
}

func TestResetRateLimitCounters_Windows(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxPerSecond: 5, MaxConcurrent: 5})

	now := time.Now()
	for _, id := range []string{"j1", "j2"} {
		if err := lim.record(ctx, "orders", id, now); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	if err := lim.ResetRateLimitCounters(ctx, "orders", ResetOptions{Windows: true}); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	counters, err := lim.store.HGetAll(ctx, storage.RateCountersKey("orders"))
	if err != nil {
		t.Fatalf("failed to read counters: %v", err)
	}
	if _, ok := counters[windowField("sec", now, time.Second)]; ok {
		t.Error("expected window counters wiped")
	}
	if counters[concurrentField] != "2" {
		t.Errorf("expected gauge preserved, got %v", counters)
	}
}

func TestResetRateLimitCounters_Concurrent(t *testing.T) {
	lim, mgr, _ := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxPerSecond: 5, MaxConcurrent: 5})

	now := time.Now()
	if err := lim.record(ctx, "orders", "j1", now); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	if err := lim.ResetRateLimitCounters(ctx, "orders", ResetOptions{Concurrent: true}); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	counters, err := lim.store.HGetAll(ctx, storage.RateCountersKey("orders"))
	if err != nil {
		t.Fatalf("failed to read counters: %v", err)
	}
	if counters[concurrentField] != "0" {
		t.Errorf("expected gauge zeroed, got %v", counters)
	}
	if counters[windowField("sec", now, time.Second)] != "1" {
		t.Errorf("expected window counters preserved, got %v", counters)
	}
}

func TestResetRateLimitCounters_All(t *testing.T) {
	lim, mgr, mr := newTestLimiter(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustConfigure(t, lim, "orders", &model.RateLimitConfig{MaxPerSecond: 5, MaxConcurrent: 5})

	if err := lim.RecordJobExecution(ctx, "orders", "j1"); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	opts := ResetOptions{Windows: true, Concurrent: true, Executions: true}
	if err := lim.ResetRateLimitCounters(ctx, "orders", opts); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if mr.Exists(storage.RateCountersKey("orders")) {
		t.Error("expected counters hash deleted")
	}
	if mr.Exists(storage.ExecutionKey("orders", "j1")) {
		t.Error("expected execution hashes deleted")
	}

	stats, err := lim.GetExecutionStats(ctx, "orders")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("expected empty stats after reset, got %+v", stats)
	}
}
