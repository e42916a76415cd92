package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cj1101/crowseye-metering/adapters/metrics"
	"github.com/cj1101/crowseye-metering/domain/meter"
	"github.com/cj1101/crowseye-metering/domain/plan"
	"github.com/cj1101/crowseye-metering/ports"
)

// AuthorizeResult is the gate's answer for one metered action.
type AuthorizeResult struct {
	Allowed          bool
	Reason           string // denial reason, empty when allowed
	Pathway          plan.Pathway
	CreditsRemaining int64 // post-deduction balance, credit pathway only
}

// Gate decides whether a user may perform a metered action and performs
// the billing side effect the decision selects: an atomic credit
// deduction for credit-based plans, a usage event for pay-as-you-go.
// Unknown plans are denied, never allowed through.
type Gate struct {
	plans    ports.PlanDirectory
	credits  ports.CreditStore
	reporter ports.UsageReporter
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// NewGate creates an authorization gate.
func NewGate(
	plans ports.PlanDirectory,
	credits ports.CreditStore,
	reporter ports.UsageReporter,
	collector *metrics.Collector,
	logger zerolog.Logger,
) *Gate {
	return &Gate{
		plans:    plans,
		credits:  credits,
		reporter: reporter,
		metrics:  collector,
		logger:   logger,
	}
}

// Authorize checks the user's plan against the action's cost. A denial is
// a normal outcome, not an error; errors mean the decision could not be
// made at all (plan lookup or store failure).
func (g *Gate) Authorize(ctx context.Context, userID string, cost plan.ActionCost) (AuthorizeResult, error) {
	start := time.Now()

	sub, err := g.plans.Lookup(ctx, userID)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", userID).Msg("plan lookup failed")
		return AuthorizeResult{}, err
	}

	decision := plan.Decide(sub, cost)
	result := AuthorizeResult{
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
		Pathway: decision.Pathway,
	}

	if decision.Allowed {
		switch decision.Pathway {
		case plan.PathwayCredits:
			// The directory's snapshot said credits suffice, but only the
			// store's conditional decrement is authoritative under
			// concurrency.
			balance, err := g.credits.Deduct(ctx, userID, cost.Credits, creditReference(cost))
			if err != nil {
				if errors.Is(err, ports.ErrInsufficientCredits) {
					result = AuthorizeResult{
						Reason:           plan.ReasonInsufficientCredits,
						CreditsRemaining: balance,
					}
					break
				}
				g.logger.Error().Err(err).Str("user_id", userID).Msg("credit deduction failed")
				return AuthorizeResult{}, err
			}
			result.CreditsRemaining = balance

		case plan.PathwayUsage:
			if err := g.recordUsage(ctx, userID, cost); err != nil {
				g.logger.Error().Err(err).Str("user_id", userID).Msg("usage recording failed")
				return AuthorizeResult{}, err
			}
		}
	}

	g.observe(result, time.Since(start))
	g.logger.Info().
		Str("user_id", userID).
		Str("plan", string(sub.Kind)).
		Bool("allowed", result.Allowed).
		Str("reason", result.Reason).
		Msg("authorization decided")

	return result, nil
}

// recordUsage routes a PAYG action's cost to the matching tracker.
func (g *Gate) recordUsage(ctx context.Context, userID string, cost plan.ActionCost) error {
	switch cost.Meter {
	case meter.TypeAICredit:
		return g.reporter.TrackAICredit(ctx, userID, int64(cost.Units))
	case meter.TypeScheduledPost:
		return g.reporter.TrackScheduledPost(ctx, userID, int64(cost.Units))
	case meter.TypeStorageGB:
		return g.reporter.TrackStorage(ctx, userID, cost.Units)
	}
	return meter.ErrUnknownType
}

func (g *Gate) observe(result AuthorizeResult, elapsed time.Duration) {
	pathway := pathwayLabel(result.Pathway)
	g.metrics.AuthorizeDecisions.
		WithLabelValues(pathway, strconv.FormatBool(result.Allowed), result.Reason).
		Inc()
	g.metrics.AuthorizeDuration.WithLabelValues(pathway).Observe(elapsed.Seconds())
}

func pathwayLabel(p plan.Pathway) string {
	switch p {
	case plan.PathwayCredits:
		return "credits"
	case plan.PathwayUsage:
		return "usage"
	}
	return "none"
}

// creditReference names the deducted action in the audit trail.
func creditReference(cost plan.ActionCost) string {
	if cost.Meter != "" {
		return string(cost.Meter)
	}
	return "metered_action"
}
