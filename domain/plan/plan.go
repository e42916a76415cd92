// Package plan provides plan value types and the pure authorization decision.
package plan

import (
	"github.com/cj1101/crowseye-metering/domain/meter"
)

// Kind is the closed set of billing plan families.
type Kind string

const (
	KindUnknown     Kind = "" // unrecognized plan; Decide fails closed
	KindFree        Kind = "free"
	KindCreditBased Kind = "credit_based" // creator, growth, pro tiers
	KindPAYG        Kind = "payg"
)

// ParseKind converts a raw plan string to a Kind. Tier names map to their
// family; anything unrecognized returns false so callers fail closed.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "free":
		return KindFree, true
	case "creator", "growth", "pro", "credit_based":
		return KindCreditBased, true
	case "payg":
		return KindPAYG, true
	}
	return "", false
}

// Subscription is a user's billing state as reported by the plan directory.
type Subscription struct {
	UserID           string
	Kind             Kind
	Tier             string // raw tier name for credit-based plans
	CreditsRemaining int64  // prepaid credits, credit-based plans only
}

// ActionCost describes what a single metered action costs: prepaid credits
// for credit-based plans, or meter units accrued for PAYG plans.
type ActionCost struct {
	Credits int64
	Meter   meter.Type
	Units   float64
}

// Pathway selects the billing side effect the caller must perform on
// allowance.
type Pathway int

const (
	PathwayNone    Pathway = iota // nothing to record (denials)
	PathwayCredits                // deduct prepaid credits
	PathwayUsage                  // record a metered usage event
)

// Denial reasons. These are expected outcomes, not errors.
const (
	ReasonPaidPlanRequired    = "feature requires paid plan"
	ReasonInsufficientCredits = "insufficient credits"
	ReasonUnsupportedPlan     = "unsupported plan"
)

// Decision is the outcome of an authorization request (value type).
type Decision struct {
	Allowed bool
	Reason  string // human-readable denial reason, empty when allowed
	Pathway Pathway
}

// Decide evaluates an authorization request against a subscription.
// This is a PURE function: the credit deduction it selects via
// PathwayCredits must be performed by the caller as a single atomic
// decrement-if-sufficient, never as a separate read then write.
func Decide(sub Subscription, cost ActionCost) Decision {
	switch sub.Kind {
	case KindFree:
		return Decision{Reason: ReasonPaidPlanRequired}
	case KindCreditBased:
		if sub.CreditsRemaining < cost.Credits {
			return Decision{Reason: ReasonInsufficientCredits}
		}
		return Decision{Allowed: true, Pathway: PathwayCredits}
	case KindPAYG:
		return Decision{Allowed: true, Pathway: PathwayUsage}
	}
	// Fail closed on anything unrecognized.
	return Decision{Reason: ReasonUnsupportedPlan}
}
