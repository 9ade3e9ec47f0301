package handler

import (
	"net/http"

	"reseller/internal/middleware"
	"reseller/internal/revenueshare"
	"reseller/pkg/logger"
)

// RevenueShareHandler exposes preview, forced runs and manual retries of
// contributor payouts.
type RevenueShareHandler struct {
	engine *revenueshare.Engine
	logger logger.Logger
}

func NewRevenueShareHandler(engine *revenueshare.Engine, log logger.Logger) *RevenueShareHandler {
	return &RevenueShareHandler{engine: engine, logger: log}
}

func (h *RevenueShareHandler) period(r *http.Request) string {
	if p := r.URL.Query().Get("period"); p != "" {
		return p
	}
	return h.engine.CurrentPeriod()
}

// Preview reports what a run for ?period= would pay, without writing.
func (h *RevenueShareHandler) Preview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.engine.Preview(r.Context(), h.period(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

type runRequest struct {
	Period string `json:"period"`
	Force  bool   `json:"force"`
}

// Run settles a period on demand. Force overrides the enabled flag and the
// already-ran check, never the one-payment-per-period rule.
func (h *RevenueShareHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Period == "" {
		req.Period = h.engine.CurrentPeriod()
	}

	fields := map[string]interface{}{"period": req.Period, "force": req.Force}
	if userID, ok := middleware.UserIDFromContext(r.Context()); ok {
		fields["admin_id"] = userID
	}
	h.logger.Info("Manual revenue share run requested", fields)

	report, err := h.engine.Run(r.Context(), req.Period, revenueshare.RunOptions{Force: req.Force})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *RevenueShareHandler) Payments(w http.ResponseWriter, r *http.Request) {
	period := h.period(r)
	payments, err := h.engine.Payments(r.Context(), period)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"period":   period,
		"payments": payments,
		"count":    len(payments),
	})
}

// Retry re-pays a FAILED payment with a fresh withdrawal. ?force=true is
// needed when the previous withdrawal expired.
func (h *RevenueShareHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	force := r.URL.Query().Get("force") == "true"

	p, err := h.engine.RetryPayment(r.Context(), id, force)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Sync settles PROCESSING payments whose withdrawal already finished.
func (h *RevenueShareHandler) Sync(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.SyncProcessing(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"settled": n})
}
