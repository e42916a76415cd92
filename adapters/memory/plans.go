package memory

import (
	"context"
	"sync"

	"github.com/cj1101/crowseye-metering/domain/plan"
	"github.com/cj1101/crowseye-metering/ports"
)

// PlanDirectory is a static in-memory plan lookup, used for development
// and tests where no subscription service is running. Unknown users are
// treated as free-tier.
type PlanDirectory struct {
	mu   sync.RWMutex
	subs map[string]plan.Subscription
}

// NewPlanDirectory creates a plan directory seeded with the given
// subscriptions.
func NewPlanDirectory(subs ...plan.Subscription) *PlanDirectory {
	d := &PlanDirectory{subs: make(map[string]plan.Subscription)}
	for _, s := range subs {
		d.subs[s.UserID] = s
	}
	return d
}

// Lookup returns the user's subscription. Users the directory has never
// seen are free-tier.
func (d *PlanDirectory) Lookup(_ context.Context, userID string) (plan.Subscription, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if s, ok := d.subs[userID]; ok {
		return s, nil
	}
	return plan.Subscription{UserID: userID, Kind: plan.KindFree}, nil
}

// Set adds or replaces a subscription.
func (d *PlanDirectory) Set(s plan.Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[s.UserID] = s
}

// Ensure interface compliance.
var _ ports.PlanDirectory = (*PlanDirectory)(nil)
