package handler

import (
	"io"
	"net/http"
	"strings"

	"reseller/internal/domain"
	"reseller/internal/middleware"
	"reseller/internal/withdrawal"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
	"reseller/pkg/validator"
)

// WithdrawalHandler serves the admin payout endpoints and the provider
// callback webhook.
type WithdrawalHandler struct {
	service   *withdrawal.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewWithdrawalHandler(service *withdrawal.Service, val *validator.Validator, log logger.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{service: service, validator: val, logger: log}
}

// Create records a new admin payout and debits the funding wallet when one
// is named. It does not contact the provider.
func (h *WithdrawalHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req withdrawal.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}
	req.Purpose = domain.WithdrawalPurposeAdminPayout
	req.CreatedByUserID = userID

	wd, err := h.service.Create(r.Context(), &req)
	if err != nil {
		h.logger.Warn("Withdrawal creation failed", map[string]interface{}{
			"error":   err.Error(),
			"user_id": userID,
		})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, wd)
}

// Submit sends a CREATED withdrawal to the provider. The withdrawal is
// returned even when the provider rejected it or could not be reached.
func (h *WithdrawalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	wd, err := h.service.Submit(r.Context(), id)
	if wd == nil {
		respondServiceError(w, err)
		return
	}

	resp := map[string]interface{}{"withdrawal": wd}
	status := http.StatusOK
	if err != nil {
		resp["error"] = err.Error()
	}
	if wd.Status == domain.WithdrawalStatusCreated {
		// Still unresolved; the sweep will submit it again.
		status = http.StatusAccepted
	}
	respondJSON(w, status, resp)
}

func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	wd, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wd)
}

func (h *WithdrawalHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := withdrawal.ListFilter{Limit: limit, Offset: offset}

	if v := r.URL.Query().Get("status"); v != "" {
		status := domain.WithdrawalStatus(strings.ToUpper(v))
		filter.Status = &status
	}
	if v := r.URL.Query().Get("purpose"); v != "" {
		purpose := domain.WithdrawalPurpose(strings.ToUpper(v))
		filter.Purpose = &purpose
	}

	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list withdrawals", map[string]interface{}{"error": err.Error()})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"withdrawals": items,
		"count":       len(items),
		"limit":       limit,
		"offset":      offset,
	})
}

// Sweep runs one reconciliation pass on demand.
func (h *WithdrawalHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Sweep(r.Context())
	if err != nil {
		h.logger.Error("Manual sweep failed", map[string]interface{}{"error": err.Error()})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Callback receives the provider webhook. The raw body is handed to the
// service untouched because the signature covers the exact payload fields.
// Duplicates are acknowledged with 200 so the provider stops redelivering.
func (h *WithdrawalHandler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.service.HandleCallback(r.Context(), body)
	if err != nil {
		fields := map[string]interface{}{
			"error":      err.Error(),
			"ip":         r.RemoteAddr,
			"request_id": middleware.RequestIDFromContext(r.Context()),
		}
		if errors.Is(err, errors.ErrInvalidSignature) || errors.Is(err, errors.ErrCallbackMismatch) {
			fields["security_event"] = true
		}
		h.logger.Warn("Gateway callback rejected", fields)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    res.Withdrawal.Status,
		"applied":   res.Applied,
		"duplicate": res.Duplicate,
	})
}
