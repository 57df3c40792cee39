package main

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTaskStore_NextReturnsOnClose(t *testing.T) {
	store := NewTaskStore(10)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		qt, ok := store.Next()
		if ok {
			t.Errorf("expected ok=false after Close, got ok=true (qt=%v)", qt)
		}
	}()

	// Give the goroutine time to block on Next().
	time.Sleep(50 * time.Millisecond)
	store.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Worker exited cleanly.
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after Close()")
	}
}

func TestTaskStore_CloseIsIdempotent(t *testing.T) {
	store := NewTaskStore(10)
	store.Close()
	store.Close() // must not panic
}

func TestTaskStore_EnqueueAfterCloseReturnsError(t *testing.T) {
	store := NewTaskStore(10)
	store.Close()
	_, err := store.Enqueue(context.Background(), "task", "assistant", time.Minute)
	if err == nil {
		t.Fatal("expected error on Enqueue after Close, got nil")
	}
}

func TestTaskStore_CloseCancelsInFlightTasks(t *testing.T) {
	store := NewTaskStore(10)
	info, err := store.Enqueue(context.Background(), "task", "assistant", 5*time.Minute)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Retrieve the queued task to get its context.
	qt, ok := store.Next()
	if !ok {
		t.Fatal("expected task from Next()")
	}
	if qt.info.ID != info.ID {
		t.Fatalf("expected task ID %s, got %s", info.ID, qt.info.ID)
	}

	// Context should not be cancelled yet.
	select {
	case <-qt.ctx.Done():
		t.Fatal("context cancelled before Close()")
	default:
	}

	store.Close()

	// Context should now be cancelled.
	select {
	case <-qt.ctx.Done():
		// expected
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after Close()")
	}
}

func TestTaskStore_ResumeByApprovalID(t *testing.T) {
	store := NewTaskStore(10)
	defer store.Close()

	info, err := store.Enqueue(context.Background(), "task", "assistant", time.Minute)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	store.Next()

	// Simulate an interruption: the run paused on two approvals.
	pendingAt := time.Now()
	store.Update(info.ID, func(i *TaskInfo) {
		i.Status = TaskPending
		i.PendingAt = &pendingAt
		i.ApprovalRequestID = "apr_1"
		i.ApprovalRequestIDs = []string{"apr_1", "apr_2"}
	})

	if _, err := store.EnqueueResumeByApprovalID("apr_missing"); err == nil {
		t.Fatal("expected error for unknown approval_request_id")
	}

	// Any raised approval id matches the paused task.
	id, err := store.EnqueueResumeByApprovalID("apr_2")
	if err != nil {
		t.Fatalf("EnqueueResumeByApprovalID failed: %v", err)
	}
	if id != info.ID {
		t.Fatalf("expected task %s, got %s", info.ID, id)
	}

	// A second resume for the same task must not double-queue it.
	if _, err := store.EnqueueResumeByApprovalID("apr_1"); err == nil {
		t.Fatal("expected error when task is already queued for resume")
	}

	qt, ok := store.Next()
	if !ok {
		t.Fatal("expected re-queued task from Next()")
	}
	if qt.resumeApprovalID != "apr_2" {
		t.Fatalf("expected resumeApprovalID apr_2, got %q", qt.resumeApprovalID)
	}
}

func TestTaskStore_FailPendingByApprovalID(t *testing.T) {
	store := NewTaskStore(10)
	defer store.Close()

	info, err := store.Enqueue(context.Background(), "task", "assistant", time.Minute)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	qt, _ := store.Next()

	store.Update(info.ID, func(i *TaskInfo) {
		i.Status = TaskPending
		i.ApprovalRequestID = "apr_1"
	})

	id, ok := store.FailPendingByApprovalID("apr_1", "approval expired")
	if !ok || id != info.ID {
		t.Fatalf("expected task %s to fail, got id=%s ok=%v", info.ID, id, ok)
	}

	got, _ := store.Get(info.ID)
	if got.Status != TaskFailed || got.Error != "approval expired" {
		t.Fatalf("unexpected task state: status=%s error=%q", got.Status, got.Error)
	}

	select {
	case <-qt.ctx.Done():
		// expected
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after failing pending task")
	}
}

func TestTaskStore_EvictExpired(t *testing.T) {
	store := NewTaskStore(10)
	defer store.Close()

	// Use a very short TTL for testing.
	store.completedTTL = 10 * time.Millisecond

	info, err := store.Enqueue(context.Background(), "task", "assistant", time.Minute)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Drain the queue.
	store.Next()

	// Mark the task as done.
	finished := time.Now().Add(-1 * time.Second) // finished 1s ago
	store.Update(info.ID, func(i *TaskInfo) {
		i.Status = TaskDone
		i.FinishedAt = &finished
	})

	// Task should still be visible before eviction runs.
	if _, ok := store.Get(info.ID); !ok {
		t.Fatal("expected task to still be visible before eviction")
	}

	// Run eviction.
	store.evictExpired()

	// Task should be gone.
	if _, ok := store.Get(info.ID); ok {
		t.Fatal("expected task to be evicted after TTL")
	}
}

func TestTaskStore_EvictKeepsPendingTasks(t *testing.T) {
	store := NewTaskStore(10)
	defer store.Close()

	store.completedTTL = 10 * time.Millisecond

	info, err := store.Enqueue(context.Background(), "task", "assistant", time.Minute)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Drain the queue and park the task on an approval.
	store.Next()
	store.Update(info.ID, func(i *TaskInfo) {
		i.Status = TaskPending
		i.ApprovalRequestID = "apr_1"
	})

	// Eviction only removes terminal tasks.
	store.evictExpired()

	if _, ok := store.Get(info.ID); !ok {
		t.Fatal("pending task was incorrectly evicted")
	}
}
