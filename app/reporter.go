// Package app contains the application services that tie domain logic to
// adapters: usage reporting, plan authorization, and usage queries.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cj1101/crowseye-metering/adapters/metrics"
	"github.com/cj1101/crowseye-metering/domain/meter"
	"github.com/cj1101/crowseye-metering/domain/usage"
	"github.com/cj1101/crowseye-metering/ports"
)

// ReporterConfig configures delivery retries and the redelivery worker.
type ReporterConfig struct {
	MaxAttempts   int           // synchronous attempts before queueing
	BaseBackoff   time.Duration // first retry delay, doubled per attempt
	RetryInterval time.Duration // redelivery worker cadence
	QueueBatch    int           // reports drained per worker cycle
}

// Reporter records metered consumption locally and mirrors it to the
// remote metering authority. The local write is the source of truth for
// in-app display; the remote ledger reconciles through retries and the
// durable queue. Remote failures are never surfaced to callers and never
// reported as success.
type Reporter struct {
	store     ports.UsageStore
	queue     ports.ReportQueue
	authority ports.MeterAuthority
	clock     ports.Clock
	ids       ports.IDGenerator
	metrics   *metrics.Collector
	logger    zerolog.Logger
	cfg       ReporterConfig

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
}

// NewReporter creates a usage reporter.
func NewReporter(
	store ports.UsageStore,
	queue ports.ReportQueue,
	authority ports.MeterAuthority,
	clock ports.Clock,
	ids ports.IDGenerator,
	collector *metrics.Collector,
	logger zerolog.Logger,
	cfg ReporterConfig,
) *Reporter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 250 * time.Millisecond
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Minute
	}
	if cfg.QueueBatch <= 0 {
		cfg.QueueBatch = 50
	}

	shutdownCtx, shutdownFn := context.WithCancel(context.Background())

	return &Reporter{
		store:       store,
		queue:       queue,
		authority:   authority,
		clock:       clock,
		ids:         ids,
		metrics:     collector,
		logger:      logger,
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		shutdownCtx: shutdownCtx,
		shutdownFn:  shutdownFn,
	}
}

// TrackAICredit records consumption of AI generation credits.
func (s *Reporter) TrackAICredit(ctx context.Context, userID string, count int64) error {
	return s.track(ctx, userID, meter.TypeAICredit, float64(count))
}

// TrackScheduledPost records scheduled-post publications.
func (s *Reporter) TrackScheduledPost(ctx context.Context, userID string, count int64) error {
	return s.track(ctx, userID, meter.TypeScheduledPost, float64(count))
}

// TrackStorage records the latest observed storage total in GB.
func (s *Reporter) TrackStorage(ctx context.Context, userID string, totalGB float64) error {
	return s.track(ctx, userID, meter.TypeStorageGB, totalGB)
}

// track writes usage locally, then mirrors the event to the remote
// authority in the background. A local store failure is returned to the
// caller; a remote failure is retried and eventually queued, never
// surfaced.
func (s *Reporter) track(ctx context.Context, userID string, m meter.Type, amount float64) error {
	seq, err := s.store.NextSequence(ctx, userID)
	if err != nil {
		return err
	}
	event := usage.NewEvent(userID, m, amount, seq, s.clock.Now())

	if m.Kind() == meter.KindGauge {
		err = s.store.SetGauge(ctx, userID, m, amount)
	} else {
		err = s.store.Increment(ctx, userID, m, int64(amount))
	}
	if err != nil {
		return err
	}
	s.metrics.TrackedEvents.WithLabelValues(string(m)).Inc()

	s.logger.Debug().
		Str("user_id", userID).
		Str("meter", string(m)).
		Float64("amount", amount).
		Str("event_id", event.ID).
		Msg("usage recorded")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(s.shutdownCtx, event)
	}()

	return nil
}

// deliver attempts synchronous delivery with exponential backoff. Every
// attempt reuses the same event ID so the authority can de-duplicate.
// When attempts are exhausted the event goes to the durable queue.
func (s *Reporter) deliver(ctx context.Context, event usage.Event) {
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := s.cfg.BaseBackoff << (attempt - 2)
			select {
			case <-ctx.Done():
				s.enqueue(ctx, event, attempt-1, lastErr)
				return
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		s.metrics.ReportAttempts.Inc()
		status, err := s.authority.ReportEvent(ctx, event)
		s.metrics.ReportDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			outcome := "accepted"
			if status == ports.ReportDuplicate {
				outcome = "duplicate"
			}
			s.metrics.ReportOutcomes.WithLabelValues(outcome).Inc()
			s.logger.Debug().
				Str("event_id", event.ID).
				Int("attempt", attempt).
				Str("outcome", outcome).
				Msg("usage event delivered")
			return
		}

		lastErr = err
		s.logger.Warn().Err(err).
			Str("event_id", event.ID).
			Int("attempt", attempt).
			Msg("usage event delivery failed")
	}

	s.enqueue(ctx, event, s.cfg.MaxAttempts, lastErr)
}

// enqueue stores an undeliverable event for the redelivery worker.
func (s *Reporter) enqueue(ctx context.Context, event usage.Event, attempts int, lastErr error) {
	now := s.clock.Now()
	r := ports.QueuedReport{
		ID:        s.ids.New(),
		Event:     event,
		Attempt:   attempts,
		NextRetry: now.Add(s.nextBackoff(attempts)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if lastErr != nil {
		r.LastError = lastErr.Error()
	}

	// Enqueue must not use the request context; the event would be lost.
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), r); err != nil {
		s.logger.Error().Err(err).
			Str("event_id", event.ID).
			Msg("failed to queue usage event; remote ledger will undercount until reconciled")
		return
	}

	s.metrics.ReportOutcomes.WithLabelValues("queued").Inc()
	s.refreshQueueDepth(ctx)
	s.logger.Info().
		Str("event_id", event.ID).
		Int("attempts", attempts).
		Msg("usage event queued for redelivery")
}

// nextBackoff doubles the base per prior attempt, capped at an hour.
func (s *Reporter) nextBackoff(attempts int) time.Duration {
	if attempts > 16 {
		attempts = 16
	}
	d := s.cfg.BaseBackoff << attempts
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// StartWorker starts the background redelivery worker.
func (s *Reporter) StartWorker(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().
		Dur("interval", s.cfg.RetryInterval).
		Msg("starting usage report redelivery worker")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.RetryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.ProcessQueue(ctx)
			}
		}
	}()
}

// Stop stops the worker and waits for in-flight deliveries to finish.
func (s *Reporter) Stop() {
	s.mu.Lock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
	s.mu.Unlock()

	s.shutdownFn()
	s.wg.Wait()
}

// Wait blocks until in-flight background deliveries complete (for tests).
func (s *Reporter) Wait() {
	s.wg.Wait()
}

// ProcessQueue drains due reports once, attempting one redelivery each.
func (s *Reporter) ProcessQueue(ctx context.Context) {
	now := s.clock.Now()
	due, err := s.queue.Due(ctx, now, s.cfg.QueueBatch)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read report queue")
		return
	}

	for _, r := range due {
		s.metrics.ReportAttempts.Inc()
		status, err := s.authority.ReportEvent(ctx, r.Event)
		if err == nil {
			if delErr := s.queue.Delete(ctx, r.ID); delErr != nil {
				s.logger.Error().Err(delErr).
					Str("event_id", r.Event.ID).
					Msg("failed to remove delivered report from queue")
				continue
			}
			outcome := "redelivered"
			if status == ports.ReportDuplicate {
				outcome = "duplicate"
			}
			s.metrics.ReportOutcomes.WithLabelValues(outcome).Inc()
			s.logger.Info().
				Str("event_id", r.Event.ID).
				Int("attempt", r.Attempt+1).
				Msg("queued usage event redelivered")
			continue
		}

		r.Attempt++
		r.LastError = err.Error()
		r.NextRetry = now.Add(s.nextBackoff(r.Attempt))
		r.UpdatedAt = now
		if upErr := s.queue.Update(ctx, r); upErr != nil {
			s.logger.Error().Err(upErr).
				Str("event_id", r.Event.ID).
				Msg("failed to update queued report")
		}
		s.logger.Warn().Err(err).
			Str("event_id", r.Event.ID).
			Int("attempt", r.Attempt).
			Time("next_retry", r.NextRetry).
			Msg("queued usage event redelivery failed")
	}

	s.refreshQueueDepth(ctx)
}

func (s *Reporter) refreshQueueDepth(ctx context.Context) {
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		return
	}
	s.metrics.QueueDepth.Set(float64(depth))
}

// Ensure interface compliance.
var _ ports.UsageReporter = (*Reporter)(nil)
