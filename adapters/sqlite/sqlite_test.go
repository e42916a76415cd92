package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cj1101/crowseye-metering/adapters/clock"
	"github.com/cj1101/crowseye-metering/adapters/idgen"
	"github.com/cj1101/crowseye-metering/domain/meter"
	"github.com/cj1101/crowseye-metering/ports"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := testDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestUsageStore_GetReturnsZeroRecord(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	store := NewUsageStore(testDB(t), fake)

	rec, err := store.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.AICredits != 0 || rec.ScheduledPosts != 0 || rec.StorageGB != 0 {
		t.Errorf("expected zero record, got %+v", rec)
	}
	if rec.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", rec.UserID)
	}
}

func TestUsageStore_IncrementAndSet(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	store := NewUsageStore(testDB(t), fake)

	if err := store.Increment(ctx, "u1", meter.TypeAICredit, 3); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if err := store.Increment(ctx, "u1", meter.TypeAICredit, 2); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if err := store.SetGauge(ctx, "u1", meter.TypeStorageGB, 2.5); err != nil {
		t.Fatalf("SetGauge: %v", err)
	}
	// Gauge overwrites, never sums.
	if err := store.SetGauge(ctx, "u1", meter.TypeStorageGB, 1.0); err != nil {
		t.Fatalf("SetGauge: %v", err)
	}

	rec, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.AICredits != 5 {
		t.Errorf("AICredits = %d, want 5", rec.AICredits)
	}
	if rec.StorageGB != 1.0 {
		t.Errorf("StorageGB = %v, want 1.0 (last write wins)", rec.StorageGB)
	}
}

func TestUsageStore_IncrementRejectsGauge(t *testing.T) {
	fake := clock.NewFake(time.Now())
	store := NewUsageStore(testDB(t), fake)

	if err := store.Increment(context.Background(), "u1", meter.TypeStorageGB, 1); err == nil {
		t.Error("Increment on gauge meter should fail")
	}
	if err := store.SetGauge(context.Background(), "u1", meter.TypeAICredit, 1); err == nil {
		t.Error("SetGauge on counter meter should fail")
	}
}

func TestUsageStore_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	store := NewUsageStore(testDB(t), fake)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Increment(ctx, "u1", meter.TypeScheduledPost, 1); err != nil {
				t.Errorf("Increment: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.ScheduledPosts != workers {
		t.Errorf("ScheduledPosts = %d, want %d (lost updates)", rec.ScheduledPosts, workers)
	}
}

func TestUsageStore_NextSequence(t *testing.T) {
	ctx := context.Background()
	store := NewUsageStore(testDB(t), clock.Real{})

	for want := int64(1); want <= 3; want++ {
		got, err := store.NextSequence(ctx, "u1")
		if err != nil {
			t.Fatalf("NextSequence: %v", err)
		}
		if got != want {
			t.Errorf("NextSequence = %d, want %d", got, want)
		}
	}

	// Independent per user.
	got, err := store.NextSequence(ctx, "u2")
	if err != nil {
		t.Fatalf("NextSequence: %v", err)
	}
	if got != 1 {
		t.Errorf("u2 sequence = %d, want 1", got)
	}
}

func TestUsageStore_RolloverIdempotent(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	store := NewUsageStore(testDB(t), fake)

	if err := store.Increment(ctx, "u1", meter.TypeAICredit, 10); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	// Cross the period boundary.
	fake.Set(time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))

	if err := store.Rollover(ctx, "u1", fake.Now()); err != nil {
		t.Fatalf("Rollover: %v", err)
	}

	rec, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.AICredits != 0 {
		t.Errorf("new period AICredits = %d, want 0", rec.AICredits)
	}

	history, err := store.History(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].AICredits != 10 {
		t.Errorf("archived AICredits = %d, want 10", history[0].AICredits)
	}

	// Second call for the same boundary changes nothing.
	if err := store.Rollover(ctx, "u1", fake.Now()); err != nil {
		t.Fatalf("second Rollover: %v", err)
	}
	history, err = store.History(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length after second rollover = %d, want 1", len(history))
	}
}

func TestCreditStore_DeductAndGrant(t *testing.T) {
	ctx := context.Background()
	store := NewCreditStore(testDB(t), clock.Real{}, idgen.UUID{})

	balance, err := store.Grant(ctx, "u1", 10, "topup")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if balance != 10 {
		t.Errorf("balance after grant = %d, want 10", balance)
	}

	balance, err = store.Deduct(ctx, "u1", 4, "image_generation")
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if balance != 6 {
		t.Errorf("balance after deduct = %d, want 6", balance)
	}
}

func TestCreditStore_InsufficientLeavesBalanceUnchanged(t *testing.T) {
	ctx := context.Background()
	store := NewCreditStore(testDB(t), clock.Real{}, idgen.UUID{})

	if _, err := store.Grant(ctx, "u1", 3, "topup"); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	_, err := store.Deduct(ctx, "u1", 5, "video_generation")
	if !errors.Is(err, ports.ErrInsufficientCredits) {
		t.Fatalf("Deduct error = %v, want ErrInsufficientCredits", err)
	}

	balance, err := store.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 3 {
		t.Errorf("balance = %d, want unchanged 3", balance)
	}
}

func TestCreditStore_UnknownUserHasZeroBalance(t *testing.T) {
	ctx := context.Background()
	store := NewCreditStore(testDB(t), clock.Real{}, idgen.UUID{})

	balance, err := store.Balance(ctx, "nobody")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}

	if _, err := store.Deduct(ctx, "nobody", 1, "x"); !errors.Is(err, ports.ErrInsufficientCredits) {
		t.Errorf("Deduct for unknown user = %v, want ErrInsufficientCredits", err)
	}
}

func TestCreditStore_ConcurrentDeductions(t *testing.T) {
	ctx := context.Background()
	store := NewCreditStore(testDB(t), clock.Real{}, idgen.UUID{})

	// Balance covers exactly one of N competing full-balance deductions.
	if _, err := store.Grant(ctx, "u1", 5, "topup"); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	var allowed int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Deduct(ctx, "u1", 5, "race")
			if err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			} else if !errors.Is(err, ports.ErrInsufficientCredits) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if allowed != 1 {
		t.Errorf("allowed = %d, want exactly 1", allowed)
	}
}

func TestReportQueue_Lifecycle(t *testing.T) {
	ctx := context.Background()
	q := NewReportQueue(testDB(t))

	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	r := ports.QueuedReport{
		ID:        "q1",
		Attempt:   3,
		LastError: "connection refused",
		NextRetry: now.Add(time.Minute),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.Event.ID = "evt_u1_ai_credit_7"
	r.Event.UserID = "u1"
	r.Event.Meter = meter.TypeAICredit
	r.Event.Quantity = 1
	r.Event.OccurredAt = now

	if err := q.Enqueue(ctx, r); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Nothing due before the retry time.
	due, err := q.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("due before retry time = %d, want 0", len(due))
	}

	due, err = q.Due(ctx, now.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}
	got := due[0]
	if got.Event.ID != r.Event.ID || got.Event.Meter != meter.TypeAICredit || got.LastError != "connection refused" {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	got.Attempt++
	got.NextRetry = now.Add(5 * time.Minute)
	got.UpdatedAt = now.Add(2 * time.Minute)
	if err := q.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("Depth = %d, want 1", depth)
	}

	if err := q.Delete(ctx, "q1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	depth, err = q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("Depth after delete = %d, want 0", depth)
	}
}

func TestReportQueue_EnqueueSameEventTwice(t *testing.T) {
	ctx := context.Background()
	q := NewReportQueue(testDB(t))

	now := time.Now().UTC()
	r := ports.QueuedReport{ID: "q1", NextRetry: now, CreatedAt: now, UpdatedAt: now}
	r.Event.ID = "evt_u1_ai_credit_1"
	r.Event.UserID = "u1"
	r.Event.Meter = meter.TypeAICredit
	r.Event.Quantity = 1
	r.Event.OccurredAt = now

	if err := q.Enqueue(ctx, r); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	r.ID = "q2"
	if err := q.Enqueue(ctx, r); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("Depth = %d, want 1 (same event queued once)", depth)
	}
}
