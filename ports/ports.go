// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/cj1101/crowseye-metering/domain/meter"
	"github.com/cj1101/crowseye-metering/domain/plan"
	"github.com/cj1101/crowseye-metering/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// ErrStoreUnavailable indicates the underlying persistence is unreachable.
// Callers must not assume usage was recorded unless the call succeeded.
var ErrStoreUnavailable = errors.New("usage store unavailable")

// ErrInsufficientCredits indicates an atomic deduction found the balance
// too low. It is an expected outcome, surfaced so the gate can deny.
var ErrInsufficientCredits = errors.New("insufficient credits")

// UsageStore persists per-user, per-period usage counters.
type UsageStore interface {
	// Get returns the record for the user's current period. A user with no
	// recorded usage yet gets a zero-valued record, not an error.
	Get(ctx context.Context, userID string) (usage.Record, error)

	// Increment atomically adds amount to a discrete meter's counter.
	// Must not lose updates under concurrent calls for the same user.
	Increment(ctx context.Context, userID string, m meter.Type, amount int64) error

	// SetGauge overwrites a continuous meter's value (last write wins).
	SetGauge(ctx context.Context, userID string, m meter.Type, value float64) error

	// NextSequence atomically advances and returns the user's event
	// sequence, used to derive idempotency keys.
	NextSequence(ctx context.Context, userID string) (int64, error)

	// Rollover archives the open record once its period has ended and
	// starts a fresh one. Idempotent: a second call for the same boundary
	// has no additional effect.
	Rollover(ctx context.Context, userID string, now time.Time) error

	// History returns archived records for past periods, newest first.
	History(ctx context.Context, userID string, periods int) ([]usage.Record, error)
}

// CreditStore persists prepaid credit balances.
type CreditStore interface {
	// Balance returns the user's remaining prepaid credits.
	Balance(ctx context.Context, userID string) (int64, error)

	// Deduct atomically subtracts amount if the balance is sufficient and
	// returns the new balance. Returns ErrInsufficientCredits otherwise;
	// the balance is left unchanged. This single operation replaces any
	// check-then-act sequence.
	Deduct(ctx context.Context, userID string, amount int64, reference string) (int64, error)

	// Grant adds prepaid credits (top-ups, plan renewals).
	Grant(ctx context.Context, userID string, amount int64, reference string) (int64, error)
}

// QueuedReport is a usage event awaiting redelivery to the metering
// authority after its synchronous send attempts were exhausted.
type QueuedReport struct {
	ID        string
	Event     usage.Event
	Attempt   int
	LastError string
	NextRetry time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReportQueue durably holds usage events that could not be delivered.
// Events are queued rather than dropped so billing reconciles once the
// remote authority recovers.
type ReportQueue interface {
	// Enqueue stores a report for later redelivery.
	Enqueue(ctx context.Context, r QueuedReport) error

	// Due returns reports whose retry time has passed, oldest first.
	Due(ctx context.Context, before time.Time, limit int) ([]QueuedReport, error)

	// Update rewrites a report's retry bookkeeping after an attempt.
	Update(ctx context.Context, r QueuedReport) error

	// Delete removes a report after successful delivery.
	Delete(ctx context.Context, id string) error

	// Depth returns the number of queued reports.
	Depth(ctx context.Context) (int, error)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// ReportStatus is the remote authority's disposition of an event.
type ReportStatus int

const (
	ReportAccepted  ReportStatus = iota // counted in the remote ledger
	ReportDuplicate                     // already counted; safe to discard
)

// MeterAuthority is the remote metering/billing system of record.
// Delivery is at-least-once; the authority de-duplicates by event ID.
type MeterAuthority interface {
	// ReportEvent delivers one usage event. Retries must reuse the
	// identical event ID so the authority can recognize duplicates.
	ReportEvent(ctx context.Context, e usage.Event) (ReportStatus, error)
}

// PlanDirectory looks up a user's subscription state.
type PlanDirectory interface {
	Lookup(ctx context.Context, userID string) (plan.Subscription, error)
}

// PaymentProvider creates redirect URLs for converting a PAYG account from
// unauthenticated to billable.
type PaymentProvider interface {
	// Name returns the provider name (e.g., "stripe").
	Name() string

	// CreateCheckoutSession returns a URL where the user attaches a
	// payment instrument.
	CreateCheckoutSession(ctx context.Context, customerID, successURL, cancelURL string) (sessionURL string, err error)

	// CreatePortalSession returns a URL for managing the billing account.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (portalURL string, err error)
}

// -----------------------------------------------------------------------------
// Service Ports
// -----------------------------------------------------------------------------

// UsageReporter records metered consumption locally and mirrors it to the
// remote authority. Remote failures are queued, never surfaced to callers.
type UsageReporter interface {
	TrackAICredit(ctx context.Context, userID string, count int64) error
	TrackScheduledPost(ctx context.Context, userID string, count int64) error
	TrackStorage(ctx context.Context, userID string, totalGB float64) error
}
