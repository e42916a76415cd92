package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cj1101/crowseye-metering/domain/meter"
	"github.com/cj1101/crowseye-metering/ports"
)

// ReportQueue implements ports.ReportQueue using SQLite.
// The event_id column is UNIQUE; re-enqueueing the same logical event is a
// no-op, preserving the first-queued retry schedule.
type ReportQueue struct {
	db *DB
}

// NewReportQueue creates a new SQLite report queue.
func NewReportQueue(db *DB) *ReportQueue {
	return &ReportQueue{db: db}
}

// Enqueue stores a report for later redelivery.
func (q *ReportQueue) Enqueue(ctx context.Context, r ports.QueuedReport) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO report_queue (
			id, event_id, user_id, meter_type, quantity, occurred_at,
			attempt, last_error, next_retry, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, r.ID, r.Event.ID, r.Event.UserID, string(r.Event.Meter), r.Event.Quantity,
		r.Event.OccurredAt.UTC(), r.Attempt, r.LastError, r.NextRetry.UTC(),
		r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		return storeErr("enqueue report", err)
	}
	return nil
}

// Due returns reports whose retry time has passed, oldest first.
func (q *ReportQueue) Due(ctx context.Context, before time.Time, limit int) ([]ports.QueuedReport, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, event_id, user_id, meter_type, quantity, occurred_at,
		       attempt, last_error, next_retry, created_at, updated_at
		FROM report_queue
		WHERE next_retry <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`, before.UTC(), limit)
	if err != nil {
		return nil, storeErr("list due reports", err)
	}
	defer rows.Close()

	var reports []ports.QueuedReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Update rewrites a report's retry bookkeeping after an attempt.
func (q *ReportQueue) Update(ctx context.Context, r ports.QueuedReport) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE report_queue
		SET attempt = ?, last_error = ?, next_retry = ?, updated_at = ?
		WHERE id = ?
	`, r.Attempt, r.LastError, r.NextRetry.UTC(), r.UpdatedAt.UTC(), r.ID)
	if err != nil {
		return storeErr("update report", err)
	}
	return nil
}

// Delete removes a report after successful delivery.
func (q *ReportQueue) Delete(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM report_queue WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete report", err)
	}
	return nil
}

// Depth returns the number of queued reports.
func (q *ReportQueue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM report_queue`).Scan(&n); err != nil {
		return 0, storeErr("queue depth", err)
	}
	return n, nil
}

func scanReport(rows *sql.Rows) (ports.QueuedReport, error) {
	var r ports.QueuedReport
	var meterType string
	var lastError sql.NullString

	err := rows.Scan(
		&r.ID, &r.Event.ID, &r.Event.UserID, &meterType, &r.Event.Quantity,
		&r.Event.OccurredAt, &r.Attempt, &lastError, &r.NextRetry,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return ports.QueuedReport{}, storeErr("scan report", err)
	}

	r.Event.Meter = meter.Type(meterType)
	r.LastError = lastError.String
	return r, nil
}

// Ensure interface compliance.
var _ ports.ReportQueue = (*ReportQueue)(nil)
