package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/muaviaUsmani/plantain/internal/config"
	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/logger"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

func TestCheckTimedOutJobs(t *testing.T) {
	mon, mgr, _ := newTestMonitor(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")

	overdue := mustAddTracked(t, mon, "orders", 50*time.Millisecond)
	healthy := mustAddTracked(t, mon, "orders", time.Hour)
	time.Sleep(100 * time.Millisecond)

	n, err := mon.CheckTimedOutJobs(ctx, "orders")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Errorf("timed out %d jobs, want 1", n)
	}
	if s := itemStatus(t, mgr, "orders", overdue.ID); s != model.StatusTimedOut {
		t.Errorf("overdue item status = %s, want timed_out", s)
	}
	if s := trackerStatus(t, mon, "orders", overdue.ID); s != model.StatusTimedOut {
		t.Errorf("overdue tracker status = %s, want timed_out", s)
	}
	if s := itemStatus(t, mgr, "orders", healthy.ID); s != model.StatusPending {
		t.Errorf("healthy item status = %s, want pending", s)
	}

	// A second sweep finds nothing; the tracker is already finalized.
	n, err = mon.CheckTimedOutJobs(ctx, "orders")
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep timed out %d jobs, want 0", n)
	}
}

func TestCheckTimedOutJobs_SkipsFinalized(t *testing.T) {
	mon, mgr, _ := newTestMonitor(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")

	item := mustAddTracked(t, mon, "orders", 50*time.Millisecond)
	if err := mon.store.HSet(ctx, storage.TimeoutKey("orders", item.ID), map[string]string{
		"status": string(model.StatusCompleted),
	}); err != nil {
		t.Fatalf("failed to finalize tracker: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	n, err := mon.CheckTimedOutJobs(ctx, "orders")
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("timed out %d jobs, want 0 for a completed tracker", n)
	}
	if s := itemStatus(t, mgr, "orders", item.ID); s != model.StatusPending {
		t.Errorf("item status = %s, want it untouched", s)
	}
}

func TestCheckAllTimedOut(t *testing.T) {
	mon, mgr, _ := newTestMonitor(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustCreateQueue(t, mgr, "emails")

	mustAddTracked(t, mon, "orders", 50*time.Millisecond)
	mustAddTracked(t, mon, "emails", 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	n, err := mon.CheckAllTimedOut(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 2 {
		t.Errorf("timed out %d jobs, want one per queue", n)
	}
}

func TestSweepEmitsTimedOutEvent(t *testing.T) {
	mon, mgr, bus := newTestMonitorWithBus(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")

	rec := &eventRecorder{}
	if _, err := bus.Subscribe(rec.record); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	item := mustAddTracked(t, mon, "orders", 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	if _, err := mon.CheckTimedOutJobs(ctx, "orders"); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	timedOut := rec.ofType(events.TypeJobTimedOut)
	if len(timedOut) != 1 || timedOut[0].Payload["jobId"] != item.ID {
		t.Errorf("timed_out events = %v, want one for the job", timedOut)
	}
}

func TestStartStop_SweepsInBackground(t *testing.T) {
	st, _ := newTestStore(t)
	mgr := newTestManager(t, st, nil)
	cfg := config.Default().Broker
	cfg.TimeoutMonitorInterval = 10 * time.Millisecond
	mon := New(mgr, nil, cfg, &logger.NoOpLogger{}, nil)

	mustCreateQueue(t, mgr, "orders")
	item := mustAddTracked(t, mon, "orders", 50*time.Millisecond)

	mon.Start()
	mon.Start() // second call is a no-op
	defer mon.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if s := itemStatus(t, mgr, "orders", item.ID); s == model.StatusTimedOut {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job was not timed out within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mon.Stop()
	mon.Stop() // idempotent
}

func TestNew_IntervalFallback(t *testing.T) {
	st, _ := newTestStore(t)
	mgr := newTestManager(t, st, nil)
	cfg := config.Default().Broker
	cfg.TimeoutMonitorInterval = 0
	mon := New(mgr, nil, cfg, &logger.NoOpLogger{}, nil)
	if mon.interval != time.Second {
		t.Errorf("expected zero interval to fall back to 1s, got %v", mon.interval)
	}
}
