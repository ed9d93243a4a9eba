package surrealdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bobmcallan/tally/internal/models"
)

func TestJobQueueStore_EnqueueAndClaim(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	job := &models.Job{
		JobType:     models.JobTypeExchangeSync,
		Target:      "12",
		Priority:    10,
		MaxAttempts: 3,
	}

	if err := store.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.ID == "" {
		t.Error("expected job ID to be set after enqueue")
	}
	if job.Status != models.JobStatusPending {
		t.Errorf("expected status pending, got %s", job.Status)
	}

	got, err := store.Claim(ctx, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a job from claim")
	}
	if got.Status != models.JobStatusRunning {
		t.Errorf("expected status running after claim, got %s", got.Status)
	}
	if got.Target != "12" {
		t.Errorf("expected target 12, got %s", got.Target)
	}
	if got.LeaseOwner != "worker-a" || got.LeaseExpiresAt.IsZero() {
		t.Errorf("expected lease for worker-a, got %q until %v", got.LeaseOwner, got.LeaseExpiresAt)
	}
}

func TestJobQueueStore_Claim_PriorityOrdering(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeRecalculateCostBasis, Target: "all", Priority: 5, MaxAttempts: 3})
	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeExchangeSync, Target: "2", Priority: 10, MaxAttempts: 3})

	got, _ := store.Claim(ctx, "w", time.Minute)
	if got == nil {
		t.Fatal("expected a job")
	}
	if got.JobType != models.JobTypeExchangeSync {
		t.Errorf("expected sync (priority 10) first, got %s", got.JobType)
	}

	got2, _ := store.Claim(ctx, "w", time.Minute)
	if got2 == nil {
		t.Fatal("expected second job")
	}
	if got2.JobType != models.JobTypeRecalculateCostBasis {
		t.Errorf("expected recalculation (priority 5) second, got %s", got2.JobType)
	}
}

func TestJobQueueStore_Claim_EmptyQueue(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())

	got, err := store.Claim(context.Background(), "w", time.Minute)
	if err != nil {
		t.Fatalf("Claim on empty queue failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil from empty queue, got %v", got)
	}
}

func TestJobQueueStore_Complete(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeExchangeSync, Target: "1", Priority: 10, MaxAttempts: 3})
	claimed, _ := store.Claim(ctx, "w", time.Minute)

	if err := store.Complete(ctx, claimed.ID, "w", nil, 100); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	got, err := store.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.JobStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.LeaseOwner != "" {
		t.Errorf("expected lease to be released, got owner %q", got.LeaseOwner)
	}
}

func TestJobQueueStore_Complete_WithError(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeExchangeSync, Target: "1", Priority: 10, MaxAttempts: 3})
	claimed, _ := store.Claim(ctx, "w", time.Minute)

	if err := store.Complete(ctx, claimed.ID, "w", fmt.Errorf("API error"), 50); err != nil {
		t.Fatalf("Complete with error failed: %v", err)
	}

	got, _ := store.Get(ctx, claimed.ID)
	if got.Status != models.JobStatusFailed || got.Error != "API error" {
		t.Errorf("expected failed with API error, got %s %q", got.Status, got.Error)
	}
}

func TestJobQueueStore_Cancel(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	job := &models.Job{JobType: models.JobTypeExchangeSync, Target: "1", Priority: 10, MaxAttempts: 3}
	store.Enqueue(ctx, job)

	if err := store.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	pending, _ := store.CountPending(ctx)
	if pending != 0 {
		t.Errorf("expected 0 pending after cancel, got %d", pending)
	}
}

func TestJobQueueStore_HasActiveJob(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	has, _ := store.HasActiveJob(ctx, models.JobTypeExchangeSync, "1")
	if has {
		t.Error("expected no pending job initially")
	}

	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeExchangeSync, Target: "1", Priority: 10, MaxAttempts: 3})

	has, _ = store.HasActiveJob(ctx, models.JobTypeExchangeSync, "1")
	if !has {
		t.Error("expected pending job after enqueue")
	}

	has, _ = store.HasActiveJob(ctx, models.JobTypeExchangeSync, "2")
	if has {
		t.Error("expected no pending job for different account")
	}

	has, _ = store.HasActiveJob(ctx, models.JobTypeRecalculateCostBasis, "1")
	if has {
		t.Error("expected no pending job for different job type")
	}
}

func TestJobQueueStore_ListPending(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeExchangeSync, Target: "1", Priority: 10, MaxAttempts: 3})
	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeExchangeSync, Target: "2", Priority: 5, MaxAttempts: 3})
	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeExchangeSync, Target: "3", Priority: 8, MaxAttempts: 3})

	jobs, err := store.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 pending jobs, got %d", len(jobs))
	}
	if jobs[0].Target != "1" || jobs[2].Target != "2" {
		t.Errorf("expected priority order 1,3,2 got %s,%s,%s", jobs[0].Target, jobs[1].Target, jobs[2].Target)
	}
}

func TestJobQueueStore_ListAll(t *testing.T) {
	db := testDB(t)
	store := NewJobQueueStore(db, testLogger())
	ctx := context.Background()

	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeExchangeSync, Target: "1", Priority: 10, MaxAttempts: 3})
	store.Enqueue(ctx, &models.Job{JobType: models.JobTypeRecalculateCostBasis, Target: "all", Priority: 5, MaxAttempts: 3})

	jobs, err := store.ListAll(ctx, 10)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(jobs))
	}
}
