// Package usage provides usage record and event value types.
// All types are immutable values; all functions are pure.
package usage

import (
	"fmt"
	"time"

	"github.com/cj1101/crowseye-metering/domain/meter"
)

// Period is the accounting window for a user's counters.
// Exactly one open period exists per user at any time.
type Period struct {
	UserID string
	Start  time.Time
	End    time.Time
}

// PeriodBounds returns the start and end of the billing period containing t.
// Periods are calendar months; the end boundary is exclusive.
func PeriodBounds(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return
}

// Record holds the current counters for a user's open period (value type).
// Discrete counters only increase within a period; StorageGB is a gauge
// overwritten with the latest observed total, never summed.
type Record struct {
	UserID         string
	PeriodStart    time.Time
	AICredits      int64
	ScheduledPosts int64
	StorageGB      float64
	UpdatedAt      time.Time
}

// Quantity returns the current value for a meter.
func (r Record) Quantity(t meter.Type) float64 {
	switch t {
	case meter.TypeAICredit:
		return float64(r.AICredits)
	case meter.TypeScheduledPost:
		return float64(r.ScheduledPosts)
	case meter.TypeStorageGB:
		return r.StorageGB
	}
	return 0
}

// Apply returns a copy of r with amount applied to the given meter.
// Counters add; gauges overwrite.
func Apply(r Record, t meter.Type, amount float64, now time.Time) Record {
	switch t {
	case meter.TypeAICredit:
		r.AICredits += int64(amount)
	case meter.TypeScheduledPost:
		r.ScheduledPosts += int64(amount)
	case meter.TypeStorageGB:
		r.StorageGB = amount
	}
	r.UpdatedAt = now
	return r
}

// Event is an immutable, append-only usage fact delivered to the remote
// metering authority. ID doubles as the idempotency key: a retried delivery
// of the same logical event carries the identical ID so the authority can
// discard duplicates.
type Event struct {
	ID         string
	UserID     string
	Meter      meter.Type
	Quantity   float64
	OccurredAt time.Time
}

// EventID derives the idempotency key for the seq-th event of a user+meter
// pair. Deterministic: the same inputs always produce the same key, so a
// redelivery after a crash reuses the original ID.
func EventID(userID string, t meter.Type, seq int64) string {
	return fmt.Sprintf("evt_%s_%s_%d", userID, t, seq)
}

// NewEvent constructs an event with a derived idempotency ID.
func NewEvent(userID string, t meter.Type, quantity float64, seq int64, occurredAt time.Time) Event {
	return Event{
		ID:         EventID(userID, t, seq),
		UserID:     userID,
		Meter:      t,
		Quantity:   quantity,
		OccurredAt: occurredAt.UTC(),
	}
}
