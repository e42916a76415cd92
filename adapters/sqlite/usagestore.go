package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cj1101/crowseye-metering/domain/meter"
	"github.com/cj1101/crowseye-metering/domain/usage"
	"github.com/cj1101/crowseye-metering/ports"
)

// UsageStore implements ports.UsageStore using SQLite.
type UsageStore struct {
	db    *DB
	clock ports.Clock
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB, clock ports.Clock) *UsageStore {
	return &UsageStore{db: db, clock: clock}
}

// storeErr wraps driver failures so callers can detect unavailable
// persistence without depending on driver error types.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ports.ErrStoreUnavailable, err)
}

// Get returns the record for the user's current period.
// A user with no usage yet gets a zero-valued record, not an error.
func (s *UsageStore) Get(ctx context.Context, userID string) (usage.Record, error) {
	start, _ := usage.PeriodBounds(s.clock.Now())

	row := s.db.QueryRowContext(ctx, `
		SELECT ai_credits, scheduled_posts, storage_gb, updated_at
		FROM usage_records
		WHERE user_id = ? AND period_start = ? AND archived = 0
	`, userID, start)

	rec := usage.Record{UserID: userID, PeriodStart: start}
	err := row.Scan(&rec.AICredits, &rec.ScheduledPosts, &rec.StorageGB, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, nil
	}
	if err != nil {
		return usage.Record{}, storeErr("get usage", err)
	}
	return rec, nil
}

// Increment atomically adds amount to a discrete meter's counter via a
// single UPSERT, so concurrent calls for the same user never lose updates.
func (s *UsageStore) Increment(ctx context.Context, userID string, m meter.Type, amount int64) error {
	if m.Kind() != meter.KindCounter {
		return fmt.Errorf("increment on gauge meter %q", m)
	}
	col, err := counterColumn(m)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	start, _ := usage.PeriodBounds(now)

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO usage_records (user_id, period_start, %[1]s, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, period_start) DO UPDATE SET
			%[1]s = %[1]s + excluded.%[1]s,
			updated_at = excluded.updated_at
	`, col), userID, start, amount, now)
	if err != nil {
		return storeErr("increment usage", err)
	}
	return nil
}

// SetGauge overwrites a continuous meter's value; last write wins.
func (s *UsageStore) SetGauge(ctx context.Context, userID string, m meter.Type, value float64) error {
	if m.Kind() != meter.KindGauge {
		return fmt.Errorf("set on counter meter %q", m)
	}

	now := s.clock.Now().UTC()
	start, _ := usage.PeriodBounds(now)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (user_id, period_start, storage_gb, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, period_start) DO UPDATE SET
			storage_gb = excluded.storage_gb,
			updated_at = excluded.updated_at
	`, userID, start, value, now)
	if err != nil {
		return storeErr("set usage gauge", err)
	}
	return nil
}

// NextSequence atomically advances and returns the user's event sequence.
func (s *UsageStore) NextSequence(ctx context.Context, userID string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_sequences (user_id, seq) VALUES (?, 1)
		ON CONFLICT(user_id) DO UPDATE SET seq = seq + 1
		RETURNING seq
	`, userID)

	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, storeErr("next sequence", err)
	}
	return seq, nil
}

// Rollover archives any open record whose period has ended. Counters for
// the new period start at zero via lazy creation. Idempotent: once the
// stale record is archived, a second call matches no rows.
func (s *UsageStore) Rollover(ctx context.Context, userID string, now time.Time) error {
	start, _ := usage.PeriodBounds(now)

	_, err := s.db.ExecContext(ctx, `
		UPDATE usage_records
		SET archived = 1, updated_at = ?
		WHERE user_id = ? AND period_start < ? AND archived = 0
	`, now.UTC(), userID, start)
	if err != nil {
		return storeErr("rollover usage", err)
	}
	return nil
}

// History returns archived records for past periods, newest first.
func (s *UsageStore) History(ctx context.Context, userID string, periods int) ([]usage.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period_start, ai_credits, scheduled_posts, storage_gb, updated_at
		FROM usage_records
		WHERE user_id = ? AND archived = 1
		ORDER BY period_start DESC
		LIMIT ?
	`, userID, periods)
	if err != nil {
		return nil, storeErr("usage history", err)
	}
	defer rows.Close()

	var records []usage.Record
	for rows.Next() {
		rec := usage.Record{UserID: userID}
		if err := rows.Scan(&rec.PeriodStart, &rec.AICredits, &rec.ScheduledPosts, &rec.StorageGB, &rec.UpdatedAt); err != nil {
			return nil, storeErr("scan usage history", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// counterColumn maps a discrete meter to its column. The meter type is a
// closed enum validated upstream; the column name never comes from input.
func counterColumn(m meter.Type) (string, error) {
	switch m {
	case meter.TypeAICredit:
		return "ai_credits", nil
	case meter.TypeScheduledPost:
		return "scheduled_posts", nil
	}
	return "", fmt.Errorf("no counter column for meter %q", m)
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
