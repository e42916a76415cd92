package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cj1101/crowseye-metering/domain/billing"
	"github.com/cj1101/crowseye-metering/domain/meter"
	"github.com/cj1101/crowseye-metering/domain/usage"
	"github.com/cj1101/crowseye-metering/ports"
)

// CurrentUsage pairs a period's counters with their cost breakdown.
type CurrentUsage struct {
	Record usage.Record
	Cost   billing.Breakdown
}

// UsageService answers usage and cost queries. Cost math is delegated to
// the pure billing package; this service only fetches records and applies
// the configured rate table.
type UsageService struct {
	store  ports.UsageStore
	rates  billing.RateTable
	clock  ports.Clock
	logger zerolog.Logger
}

// NewUsageService creates a usage query service.
func NewUsageService(store ports.UsageStore, rates billing.RateTable, clock ports.Clock, logger zerolog.Logger) *UsageService {
	return &UsageService{
		store:  store,
		rates:  rates,
		clock:  clock,
		logger: logger,
	}
}

// Current returns the user's open-period counters and what they cost so
// far. Users with no recorded usage get a zero-valued result.
func (s *UsageService) Current(ctx context.Context, userID string) (CurrentUsage, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("usage lookup failed")
		return CurrentUsage{}, err
	}
	return CurrentUsage{Record: rec, Cost: billing.Compute(s.rates, rec)}, nil
}

// Estimate prices a hypothetical consumption snapshot. Nothing is read or
// written; two calls with the same quantities always agree.
func (s *UsageService) Estimate(quantities map[meter.Type]float64) (billing.Breakdown, error) {
	now := s.clock.Now()
	start, _ := usage.PeriodBounds(now)
	rec := usage.Record{PeriodStart: start}
	for m, q := range quantities {
		if !m.Valid() {
			return billing.Breakdown{}, meter.ErrUnknownType
		}
		rec = usage.Apply(rec, m, q, now)
	}
	return billing.Compute(s.rates, rec), nil
}

// Rollover closes the user's expired period, if any. Safe to call
// repeatedly; only the first call for a boundary has an effect.
func (s *UsageService) Rollover(ctx context.Context, userID string) error {
	if err := s.store.Rollover(ctx, userID, s.clock.Now()); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("period rollover failed")
		return err
	}
	return nil
}

// History returns closed periods with their final cost breakdowns,
// newest first.
func (s *UsageService) History(ctx context.Context, userID string, periods int) ([]CurrentUsage, error) {
	records, err := s.store.History(ctx, userID, periods)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("usage history lookup failed")
		return nil, err
	}

	out := make([]CurrentUsage, len(records))
	for i, rec := range records {
		out[i] = CurrentUsage{Record: rec, Cost: billing.Compute(s.rates, rec)}
	}
	return out, nil
}

// PeriodEnd returns the exclusive end of the period containing t.
func PeriodEnd(t time.Time) time.Time {
	_, end := usage.PeriodBounds(t)
	return end
}
