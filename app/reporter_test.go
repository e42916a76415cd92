package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cj1101/crowseye-metering/adapters/clock"
	"github.com/cj1101/crowseye-metering/adapters/idgen"
	"github.com/cj1101/crowseye-metering/adapters/memory"
	"github.com/cj1101/crowseye-metering/adapters/metrics"
	"github.com/cj1101/crowseye-metering/domain/usage"
	"github.com/cj1101/crowseye-metering/ports"
)

// fakeAuthority counts deliveries by event ID and fails the first
// failuresLeft calls.
type fakeAuthority struct {
	mu           sync.Mutex
	failuresLeft int
	received     map[string]int // event ID -> delivery count
}

func newFakeAuthority(failures int) *fakeAuthority {
	return &fakeAuthority{failuresLeft: failures, received: make(map[string]int)}
}

func (a *fakeAuthority) ReportEvent(_ context.Context, e usage.Event) (ports.ReportStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.failuresLeft > 0 {
		a.failuresLeft--
		return 0, errors.New("authority unavailable")
	}
	a.received[e.ID]++
	if a.received[e.ID] > 1 {
		return ports.ReportDuplicate, nil
	}
	return ports.ReportAccepted, nil
}

func (a *fakeAuthority) countFor(eventID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.received[eventID]
}

func (a *fakeAuthority) uniqueEvents() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.received)
}

func newTestReporter(t *testing.T, authority ports.MeterAuthority, cfg ReporterConfig) (*Reporter, *memory.UsageStore, *memory.ReportQueue) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	store := memory.NewUsageStore(fake, 4)
	queue := memory.NewReportQueue()
	collector := metrics.NewWithRegistry(prometheus.NewRegistry())
	r := NewReporter(store, queue, authority, fake, idgen.NewSequential("q"), collector, zerolog.Nop(), cfg)
	t.Cleanup(r.Stop)
	return r, store, queue
}

func TestReporter_LocalWriteAndRemoteDelivery(t *testing.T) {
	ctx := context.Background()
	authority := newFakeAuthority(0)
	r, store, queue := newTestReporter(t, authority, ReporterConfig{})

	if err := r.TrackAICredit(ctx, "u1", 2); err != nil {
		t.Fatalf("TrackAICredit: %v", err)
	}
	r.Wait()

	rec, _ := store.Get(ctx, "u1")
	if rec.AICredits != 2 {
		t.Errorf("local AICredits = %d, want 2", rec.AICredits)
	}
	if got := authority.countFor("evt_u1_ai_credit_1"); got != 1 {
		t.Errorf("remote deliveries = %d, want 1", got)
	}
	depth, _ := queue.Depth(ctx)
	if depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
}

func TestReporter_RetriesReuseEventID(t *testing.T) {
	ctx := context.Background()
	// First two attempts fail; the third succeeds.
	authority := newFakeAuthority(2)
	r, _, queue := newTestReporter(t, authority, ReporterConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	})

	if err := r.TrackScheduledPost(ctx, "u1", 1); err != nil {
		t.Fatalf("TrackScheduledPost: %v", err)
	}
	r.Wait()

	if got := authority.uniqueEvents(); got != 1 {
		t.Errorf("unique events = %d, want 1 (retries must reuse the ID)", got)
	}
	if got := authority.countFor("evt_u1_scheduled_post_1"); got != 1 {
		t.Errorf("successful deliveries = %d, want 1", got)
	}
	depth, _ := queue.Depth(ctx)
	if depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
}

func TestReporter_ExhaustionQueuesEvent(t *testing.T) {
	ctx := context.Background()
	authority := newFakeAuthority(100)
	r, store, queue := newTestReporter(t, authority, ReporterConfig{
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	})

	if err := r.TrackAICredit(ctx, "u1", 1); err != nil {
		t.Fatalf("TrackAICredit: %v", err)
	}
	r.Wait()

	// Local usage is recorded even though the remote never accepted.
	rec, _ := store.Get(ctx, "u1")
	if rec.AICredits != 1 {
		t.Errorf("local AICredits = %d, want 1", rec.AICredits)
	}

	depth, _ := queue.Depth(ctx)
	if depth != 1 {
		t.Fatalf("queue depth = %d, want 1", depth)
	}
	due, _ := queue.Due(ctx, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), 10)
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}
	if due[0].Event.ID != "evt_u1_ai_credit_1" {
		t.Errorf("queued event ID = %q, want evt_u1_ai_credit_1", due[0].Event.ID)
	}
	if due[0].Attempt != 2 {
		t.Errorf("queued attempts = %d, want 2", due[0].Attempt)
	}
	if due[0].LastError == "" {
		t.Error("queued report should carry the last error")
	}
}

func TestReporter_ProcessQueueRedelivers(t *testing.T) {
	ctx := context.Background()
	authority := newFakeAuthority(2)
	r, _, queue := newTestReporter(t, authority, ReporterConfig{
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	})

	// Both synchronous attempts fail and the event is queued.
	if err := r.TrackAICredit(ctx, "u1", 1); err != nil {
		t.Fatalf("TrackAICredit: %v", err)
	}
	r.Wait()
	depth, _ := queue.Depth(ctx)
	if depth != 1 {
		t.Fatalf("queue depth = %d, want 1", depth)
	}

	// The authority has recovered; the worker cycle should deliver it.
	// The queued retry time is in the future, so advance past it.
	r.clock.(*clock.Fake).Advance(2 * time.Hour)
	r.ProcessQueue(ctx)

	depth, _ = queue.Depth(ctx)
	if depth != 0 {
		t.Errorf("queue depth after redelivery = %d, want 0", depth)
	}
	if got := authority.countFor("evt_u1_ai_credit_1"); got != 1 {
		t.Errorf("deliveries = %d, want exactly 1", got)
	}
}

func TestReporter_ProcessQueueKeepsFailedReports(t *testing.T) {
	ctx := context.Background()
	authority := newFakeAuthority(100)
	r, _, queue := newTestReporter(t, authority, ReporterConfig{
		MaxAttempts: 1,
		BaseBackoff: time.Millisecond,
	})

	if err := r.TrackAICredit(ctx, "u1", 1); err != nil {
		t.Fatalf("TrackAICredit: %v", err)
	}
	r.Wait()

	r.clock.(*clock.Fake).Advance(2 * time.Hour)
	r.ProcessQueue(ctx)

	depth, _ := queue.Depth(ctx)
	if depth != 1 {
		t.Fatalf("queue depth = %d, want 1 (still undelivered)", depth)
	}
	due, _ := queue.Due(ctx, r.clock.Now().Add(24*time.Hour), 10)
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}
	if due[0].Attempt != 2 {
		t.Errorf("attempts = %d, want 2 (1 sync + 1 redelivery)", due[0].Attempt)
	}
	if !due[0].NextRetry.After(r.clock.Now()) {
		t.Error("failed redelivery should push NextRetry into the future")
	}
}

func TestReporter_StorageGaugeOverwrites(t *testing.T) {
	ctx := context.Background()
	authority := newFakeAuthority(0)
	r, store, _ := newTestReporter(t, authority, ReporterConfig{})

	if err := r.TrackStorage(ctx, "u1", 2.5); err != nil {
		t.Fatalf("TrackStorage: %v", err)
	}
	if err := r.TrackStorage(ctx, "u1", 1.0); err != nil {
		t.Fatalf("TrackStorage: %v", err)
	}
	r.Wait()

	rec, _ := store.Get(ctx, "u1")
	if rec.StorageGB != 1.0 {
		t.Errorf("StorageGB = %v, want 1.0 (gauge overwrites)", rec.StorageGB)
	}
	// Each observation is still its own remote event.
	if got := authority.uniqueEvents(); got != 2 {
		t.Errorf("unique events = %d, want 2", got)
	}
}
