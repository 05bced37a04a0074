package dependency

import (
	"context"
	"testing"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/hooks"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

func TestMarkJobCompleted_PromotesDependent(t *testing.T) {
	eng, mgr, mr := newTestEngine(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustAddJob(t, mgr, "orders", "j1")

	child, err := eng.AddJobWithDependencies(ctx, "orders", "child", []string{"j1"}, AddOptions{})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// Consume the predecessor the way a worker would, then complete it.
	popped, err := mgr.PopFromQueue(ctx, "orders", hooks.Set{})
	if err != nil || popped == nil || popped.ID != "j1" {
		t.Fatalf("expected to pop j1, got %v err %v", popped, err)
	}
	if err := eng.MarkJobCompleted(ctx, "orders", "j1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	j1, err := mgr.GetItem(ctx, "orders", "j1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if j1.Status != model.StatusCompleted {
		t.Errorf("expected j1 completed, got %s", j1.Status)
	}

	got, err := mgr.GetItem(ctx, "orders", child.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Errorf("expected dependent promoted, got %s", got.Status)
	}
	state := got.DependencyStatus["j1"]
	if !state.Satisfied || state.CompletedAt == nil {
		t.Errorf("expected j1 satisfied with timestamp: %+v", state)
	}
	if mr.Exists(storage.DependenciesKey("orders", child.ID)) {
		t.Error("expected dependency set removed once resolved")
	}

	// The promoted dependent is now consumable.
	next, err := mgr.PopFromQueue(ctx, "orders", hooks.Set{})
	if err != nil || next == nil {
		t.Fatalf("pop failed: %v err %v", next, err)
	}
	if next.ID != child.ID || next.Status != model.StatusPending {
		t.Errorf("expected promoted child from the list, got %+v", next)
	}
}

func TestMarkJobCompleted_PartialDependencies(t *testing.T) {
	eng, mgr, _ := newTestEngine(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustAddJob(t, mgr, "orders", "j1")
	mustAddJob(t, mgr, "orders", "j2")

	child, err := eng.AddJobWithDependencies(ctx, "orders", "child", []string{"j1", "j2"}, AddOptions{})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := eng.MarkJobCompleted(ctx, "orders", "j1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	got, err := mgr.GetItem(ctx, "orders", child.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.StatusWaiting {
		t.Errorf("expected still waiting, got %s", got.Status)
	}
	if !got.DependencyStatus["j1"].Satisfied || got.DependencyStatus["j2"].Satisfied {
		t.Errorf("expected only j1 satisfied: %+v", got.DependencyStatus)
	}

	members, err := eng.store.SMembers(ctx, storage.DependenciesKey("orders", child.ID))
	if err != nil {
		t.Fatalf("failed to read set: %v", err)
	}
	if len(members) != 1 || members[0] != "j2" {
		t.Errorf("expected only j2 unresolved, got %v", members)
	}

	if err := eng.MarkJobCompleted(ctx, "orders", "j2"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	got, err = mgr.GetItem(ctx, "orders", child.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Errorf("expected promoted after last predecessor, got %s", got.Status)
	}
}

func TestMarkJobCompleted_Unknown(t *testing.T) {
	eng, mgr, _ := newTestEngine(t)
	mustCreateQueue(t, mgr, "orders")

	if err := eng.MarkJobCompleted(context.Background(), "orders", "ghost"); !qerrors.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestMarkJobFailed_Cascade(t *testing.T) {
	eng, mgr, mr := newTestEngine(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustAddJob(t, mgr, "orders", "j1")

	child, err := eng.AddJobWithDependencies(ctx, "orders", "child", []string{"j1"}, AddOptions{})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	grandchild, err := eng.AddJobWithDependencies(ctx, "orders", "grandchild", []string{child.ID}, AddOptions{})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	err = eng.MarkJobFailed(ctx, "orders", "j1", FailOptions{Reason: "boom", Policy: FailDependents})
	if err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	j1, err := mgr.GetItem(ctx, "orders", "j1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if j1.Status != model.StatusFailed || j1.Metadata["failureReason"] != "boom" {
		t.Errorf("root mismatch: status=%s metadata=%v", j1.Status, j1.Metadata)
	}

	for _, id := range []string{child.ID, grandchild.ID} {
		got, err := mgr.GetItem(ctx, "orders", id)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Status != model.StatusFailed {
			t.Errorf("expected %s failed, got %s", id, got.Status)
		}
		if got.Metadata["failureReason"] != "dependency_failed" {
			t.Errorf("expected dependency_failed on %s, got %v", id, got.Metadata)
		}
		if mr.Exists(storage.DependenciesKey("orders", id)) {
			t.Errorf("expected %s dependency set removed", id)
		}
	}
	if j1.UpdatedAt == nil {
		t.Error("expected update timestamp on root")
	}
}

func TestMarkJobFailed_NoCascadeLeavesDependents(t *testing.T) {
	eng, mgr, _ := newTestEngine(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustAddJob(t, mgr, "orders", "j1")

	child, err := eng.AddJobWithDependencies(ctx, "orders", "child", []string{"j1"}, AddOptions{})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := eng.MarkJobFailed(ctx, "orders", "j1", FailOptions{Reason: "boom"}); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	got, err := mgr.GetItem(ctx, "orders", child.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.StatusWaiting {
		t.Errorf("expected dependent untouched without the policy, got %s", got.Status)
	}
}

func TestDependencyEvents(t *testing.T) {
	eng, mgr, bus := newTestEngineWithBus(t)
	ctx := context.Background()
	mustCreateQueue(t, mgr, "orders")
	mustAddJob(t, mgr, "orders", "j1")

	rec := &eventRecorder{}
	if _, err := bus.Subscribe(rec.record); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	child, err := eng.AddJobWithDependencies(ctx, "orders", "child", []string{"j1"}, AddOptions{})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	added := rec.ofType(events.TypeJobAddedDependencies)
	if len(added) != 1 || added[0].Payload["dependencies"] != 1 {
		t.Errorf("added event mismatch: %v", added)
	}

	if err := eng.MarkJobCompleted(ctx, "orders", "j1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	ready := rec.ofType(events.TypeJobReady)
	if len(ready) != 1 || ready[0].Payload["jobId"] != child.ID {
		t.Errorf("ready event mismatch: %v", ready)
	}
	completed := rec.ofType(events.TypeJobCompleted)
	if len(completed) != 1 || completed[0].Payload["readyDependents"] != 1 {
		t.Errorf("completed event mismatch: %v", completed)
	}

	if err := eng.MarkJobFailed(ctx, "orders", child.ID, FailOptions{Reason: "late"}); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	failed := rec.ofType(events.TypeJobFailed)
	if len(failed) != 1 || failed[0].Payload["reason"] != "late" {
		t.Errorf("failed event mismatch: %v", failed)
	}
}
