// Package http provides the HTTP API for the metering service.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cj1101/crowseye-metering/adapters/metrics"
	"github.com/cj1101/crowseye-metering/app"
	"github.com/cj1101/crowseye-metering/domain/billing"
	"github.com/cj1101/crowseye-metering/domain/meter"
	"github.com/cj1101/crowseye-metering/domain/plan"
	"github.com/cj1101/crowseye-metering/ports"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine code and human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler serves the metering API.
type Handler struct {
	gate     *app.Gate
	usage    *app.UsageService
	reporter ports.UsageReporter
	payments ports.PaymentProvider
	logger   zerolog.Logger
}

// NewHandler creates an API handler.
func NewHandler(
	gate *app.Gate,
	usageSvc *app.UsageService,
	reporter ports.UsageReporter,
	payments ports.PaymentProvider,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		gate:     gate,
		usage:    usageSvc,
		reporter: reporter,
		payments: payments,
		logger:   logger,
	}
}

// RouterConfig holds optional router features.
type RouterConfig struct {
	Metrics *metrics.Collector
}

// NewRouter creates the main HTTP router.
func NewRouter(h *Handler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/authorize", h.Authorize)
		r.Post("/estimate", h.Estimate)
		r.Post("/usage/events", h.TrackUsage)
		r.Get("/usage/{userID}", h.GetUsage)
		r.Get("/usage/{userID}/history", h.GetHistory)
		r.Post("/usage/{userID}/rollover", h.Rollover)
		r.Post("/billing/checkout", h.CreateCheckout)
		r.Post("/billing/portal", h.CreatePortal)
	})

	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authorizeRequest struct {
	UserID string  `json:"user_id"`
	Meter  string  `json:"meter,omitempty"`
	Units  float64 `json:"units,omitempty"`
	Credits int64  `json:"credits,omitempty"`
}

type authorizeResponse struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason,omitempty"`
	Pathway          string `json:"pathway"`
	CreditsRemaining int64  `json:"credits_remaining,omitempty"`
}

// Authorize decides whether a user may perform a metered action, applying
// the billing side effect when allowed. Denials return 200 with
// allowed=false; only infrastructure failures are HTTP errors.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id is required")
		return
	}

	cost := plan.ActionCost{Credits: req.Credits, Units: req.Units}
	if req.Meter != "" {
		m, err := meter.Parse(req.Meter)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown_meter", err.Error())
			return
		}
		cost.Meter = m
	}

	result, err := h.gate.Authorize(r.Context(), req.UserID, cost)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authorizeResponse{
		Allowed:          result.Allowed,
		Reason:           result.Reason,
		Pathway:          pathwayName(result.Pathway),
		CreditsRemaining: result.CreditsRemaining,
	})
}

type trackRequest struct {
	UserID   string  `json:"user_id"`
	Meter    string  `json:"meter"`
	Quantity float64 `json:"quantity"`
}

// TrackUsage records consumption for one meter. The local write is
// authoritative for the response; remote delivery happens in the
// background and never blocks or fails this request.
func (h *Handler) TrackUsage(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id is required")
		return
	}
	m, err := meter.Parse(req.Meter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_meter", err.Error())
		return
	}
	if req.Quantity < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "quantity must not be negative")
		return
	}

	switch m {
	case meter.TypeAICredit:
		err = h.reporter.TrackAICredit(r.Context(), req.UserID, int64(req.Quantity))
	case meter.TypeScheduledPost:
		err = h.reporter.TrackScheduledPost(r.Context(), req.UserID, int64(req.Quantity))
	case meter.TypeStorageGB:
		err = h.reporter.TrackStorage(r.Context(), req.UserID, req.Quantity)
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

type usageResponse struct {
	UserID      string             `json:"user_id"`
	PeriodStart time.Time          `json:"period_start"`
	Meters      map[string]float64 `json:"meters"`
	Cost        costResponse       `json:"cost"`
}

type costResponse struct {
	PerMeterCents  map[string]int64 `json:"per_meter_cents"`
	TotalCents     int64            `json:"total_cents"`
	Total          string           `json:"total"`
	WillBeCharged  bool             `json:"will_be_charged"`
	BillableCents  int64            `json:"billable_cents"`
	RemainingCents int64            `json:"remaining_cents"`
}

// GetUsage returns the user's current-period usage and cost so far.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	cur, err := h.usage.Current(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUsageResponse(cur))
}

// GetHistory returns closed billing periods, newest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	periods := 12
	if s := r.URL.Query().Get("periods"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "periods must be a positive integer")
			return
		}
		periods = n
	}

	history, err := h.usage.History(r.Context(), userID, periods)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]usageResponse, len(history))
	for i, cur := range history {
		out[i] = toUsageResponse(cur)
	}
	writeJSON(w, http.StatusOK, map[string]any{"periods": out})
}

// Rollover closes the user's expired billing period. Idempotent.
func (h *Handler) Rollover(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.usage.Rollover(r.Context(), userID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rolled_over"})
}

type estimateRequest struct {
	Quantities map[string]float64 `json:"quantities"`
}

// Estimate prices a hypothetical consumption snapshot without recording
// anything.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	quantities := make(map[meter.Type]float64, len(req.Quantities))
	for name, q := range req.Quantities {
		m, err := meter.Parse(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown_meter", err.Error())
			return
		}
		quantities[m] = q
	}

	breakdown, err := h.usage.Estimate(quantities)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCostResponse(breakdown))
}

type checkoutRequest struct {
	CustomerID string `json:"customer_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// CreateCheckout returns a URL where the user attaches a payment
// instrument.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "customer_id is required")
		return
	}

	url, err := h.payments.CreateCheckoutSession(r.Context(), req.CustomerID, req.SuccessURL, req.CancelURL)
	if err != nil {
		h.logger.Error().Err(err).Msg("checkout session failed")
		writeError(w, http.StatusBadGateway, "payment_provider_error", "could not create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type portalRequest struct {
	CustomerID string `json:"customer_id"`
	ReturnURL  string `json:"return_url"`
}

// CreatePortal returns a URL for managing the billing account.
func (h *Handler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "customer_id is required")
		return
	}

	url, err := h.payments.CreatePortalSession(r.Context(), req.CustomerID, req.ReturnURL)
	if err != nil {
		h.logger.Error().Err(err).Msg("portal session failed")
		writeError(w, http.StatusBadGateway, "payment_provider_error", "could not create portal session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// writeServiceError maps service-layer failures to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ports.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "usage store unavailable")
	case errors.Is(err, meter.ErrUnknownType):
		writeError(w, http.StatusBadRequest, "unknown_meter", err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func toUsageResponse(cur app.CurrentUsage) usageResponse {
	meters := make(map[string]float64, 3)
	for _, m := range meter.All() {
		meters[string(m)] = cur.Record.Quantity(m)
	}
	return usageResponse{
		UserID:      cur.Record.UserID,
		PeriodStart: cur.Record.PeriodStart,
		Meters:      meters,
		Cost:        toCostResponse(cur.Cost),
	}
}

func toCostResponse(b billing.Breakdown) costResponse {
	perMeter := make(map[string]int64, len(b.PerMeter))
	for m, cents := range b.PerMeter {
		perMeter[string(m)] = cents
	}
	return costResponse{
		PerMeterCents:  perMeter,
		TotalCents:     b.TotalCents,
		Total:          billing.FormatCents(b.TotalCents),
		WillBeCharged:  b.WillBeCharged,
		BillableCents:  b.BillableCents,
		RemainingCents: b.RemainingCents,
	}
}

func pathwayName(p plan.Pathway) string {
	switch p {
	case plan.PathwayCredits:
		return "credits"
	case plan.PathwayUsage:
		return "usage"
	}
	return "none"
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

// NewLoggingMiddleware logs each request with zerolog.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

// NewMetricsMiddleware records request metrics.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := statusLabel(ww.Status())
			m.RequestsTotal.WithLabelValues(r.Method, routePattern(r), status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, routePattern(r), status).
				Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern uses the chi route template to keep label cardinality low.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
