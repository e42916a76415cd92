package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cj1101/crowseye-metering/ports"
)

// ReportQueue is an in-memory implementation of ports.ReportQueue. It is
// not durable across restarts; production deployments use the sqlite queue.
type ReportQueue struct {
	mu      sync.Mutex
	reports map[string]ports.QueuedReport // keyed by report ID
	byEvent map[string]string             // event ID -> report ID
}

// NewReportQueue creates an in-memory report queue.
func NewReportQueue() *ReportQueue {
	return &ReportQueue{
		reports: make(map[string]ports.QueuedReport),
		byEvent: make(map[string]string),
	}
}

// Enqueue stores a report for later redelivery. A report for an event
// already queued is a no-op: the original retains its retry bookkeeping.
func (q *ReportQueue) Enqueue(_ context.Context, r ports.QueuedReport) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byEvent[r.Event.ID]; ok {
		return nil
	}
	q.reports[r.ID] = r
	q.byEvent[r.Event.ID] = r.ID
	return nil
}

// Due returns reports whose retry time has passed, oldest first.
func (q *ReportQueue) Due(_ context.Context, before time.Time, limit int) ([]ports.QueuedReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []ports.QueuedReport
	for _, r := range q.reports {
		if !r.NextRetry.After(before) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetry.Before(due[j].NextRetry)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Update rewrites a report's retry bookkeeping.
func (q *ReportQueue) Update(_ context.Context, r ports.QueuedReport) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.reports[r.ID]; ok {
		q.reports[r.ID] = r
	}
	return nil
}

// Delete removes a report after successful delivery.
func (q *ReportQueue) Delete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r, ok := q.reports[id]; ok {
		delete(q.byEvent, r.Event.ID)
		delete(q.reports, id)
	}
	return nil
}

// Depth returns the number of queued reports.
func (q *ReportQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reports), nil
}

// Ensure interface compliance.
var _ ports.ReportQueue = (*ReportQueue)(nil)
