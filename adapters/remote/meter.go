package remote

import (
	"context"
	"errors"
	"time"

	"github.com/cj1101/crowseye-metering/domain/usage"
	"github.com/cj1101/crowseye-metering/ports"
)

// MeterAuthority delivers usage events to the remote metering/billing
// system of record over HTTP.
//
// API Contract:
//
//	POST /usage/events
//	Request:  {"event_id": "...", "user_id": "...", "meter": "...",
//	           "quantity": 1, "occurred_at": "..."}
//	Response: {"status": "accepted"} or {"status": "duplicate"}
//
// The authority de-duplicates by event_id. A 409 response also means the
// event was already counted and is safe to discard.
type MeterAuthority struct {
	client *Client
}

// NewMeterAuthority creates a metering authority client.
func NewMeterAuthority(client *Client) *MeterAuthority {
	return &MeterAuthority{client: client}
}

// remoteEvent is the wire format for usage events.
type remoteEvent struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Meter      string    `json:"meter"`
	Quantity   float64   `json:"quantity"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ReportEvent delivers one usage event. Retries reuse the identical event
// ID, so the authority recognizes redelivery and reports it as a duplicate.
func (a *MeterAuthority) ReportEvent(ctx context.Context, e usage.Event) (ports.ReportStatus, error) {
	req := remoteEvent{
		EventID:    e.ID,
		UserID:     e.UserID,
		Meter:      string(e.Meter),
		Quantity:   e.Quantity,
		OccurredAt: e.OccurredAt,
	}

	var resp struct {
		Status string `json:"status"`
	}

	err := a.client.Request(ctx, "POST", "/usage/events", req, &resp)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && re.StatusCode == 409 {
			return ports.ReportDuplicate, nil
		}
		return 0, err
	}

	if resp.Status == "duplicate" {
		return ports.ReportDuplicate, nil
	}
	return ports.ReportAccepted, nil
}

// Ensure interface compliance.
var _ ports.MeterAuthority = (*MeterAuthority)(nil)
