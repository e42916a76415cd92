package remote

import (
	"context"

	"github.com/cj1101/crowseye-metering/domain/plan"
	"github.com/cj1101/crowseye-metering/ports"
)

// PlanDirectory looks up a user's subscription from an external service.
//
// API Contract:
//
//	GET /users/{id}/subscription
//	Response: {"user_id": "...", "plan": "creator", "tier": "creator",
//	           "credits_remaining": 120}
//
// A 404 means the service has never seen the user; those users are
// free-tier, not an error.
type PlanDirectory struct {
	client *Client
}

// NewPlanDirectory creates a remote plan directory.
func NewPlanDirectory(client *Client) *PlanDirectory {
	return &PlanDirectory{client: client}
}

// remoteSubscription is the wire format for subscription lookups.
type remoteSubscription struct {
	UserID           string `json:"user_id"`
	Plan             string `json:"plan"`
	Tier             string `json:"tier"`
	CreditsRemaining int64  `json:"credits_remaining"`
}

// Lookup returns the user's subscription state.
func (d *PlanDirectory) Lookup(ctx context.Context, userID string) (plan.Subscription, error) {
	var resp remoteSubscription
	err := d.client.Request(ctx, "GET", "/users/"+userID+"/subscription", nil, &resp)
	if err != nil {
		if IsNotFound(err) {
			return plan.Subscription{UserID: userID, Kind: plan.KindFree}, nil
		}
		return plan.Subscription{}, err
	}

	kind, ok := plan.ParseKind(resp.Plan)
	if !ok {
		// Preserve the raw name so the gate can fail closed with it.
		return plan.Subscription{
			UserID: userID,
			Kind:   plan.KindUnknown,
			Tier:   resp.Plan,
		}, nil
	}

	return plan.Subscription{
		UserID:           userID,
		Kind:             kind,
		Tier:             resp.Tier,
		CreditsRemaining: resp.CreditsRemaining,
	}, nil
}

// Ensure interface compliance.
var _ ports.PlanDirectory = (*PlanDirectory)(nil)
