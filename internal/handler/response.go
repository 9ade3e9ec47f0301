// Package handler exposes the settlement core over HTTP: admin withdrawal and
// wallet endpoints, contributor configuration, revenue share controls and the
// provider callback webhook.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"reseller/pkg/errors"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  "Validation failed",
		"fields": errs,
	})
}

// statusFor maps service sentinels onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, errors.ErrInvalidAmount),
		errors.Is(err, errors.ErrInvalidCurrency),
		errors.Is(err, errors.ErrInvalidRecipient),
		errors.Is(err, errors.ErrInvalidPeriod),
		errors.Is(err, errors.ErrInvalidSettings),
		errors.Is(err, errors.ErrInvalidConfig),
		errors.Is(err, errors.ErrMalformedCallback),
		errors.Is(err, errors.ErrSameWallet):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrInsufficientFunds),
		errors.Is(err, errors.ErrConfigIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errors.ErrDuplicateReference),
		errors.Is(err, errors.ErrDuplicateAppRef),
		errors.Is(err, errors.ErrWalletExists),
		errors.Is(err, errors.ErrDuplicateConfig),
		errors.Is(err, errors.ErrDuplicatePeriodPayment),
		errors.Is(err, errors.ErrPaymentNotRetryable),
		errors.Is(err, errors.ErrRunInProgress),
		errors.Is(err, errors.ErrStaleState),
		errors.Is(err, errors.ErrInvalidTransition),
		errors.Is(err, errors.ErrCallbackMismatch),
		errors.Is(err, errors.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, errors.ErrGatewayRejected):
		return http.StatusBadGateway
	case errors.Is(err, errors.ErrGatewayTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondServiceError writes err with its mapped status. Internal errors are
// not echoed to the caller.
func respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		respondError(w, status, "Internal server error")
		return
	}
	respondError(w, status, err.Error())
}

// decodeJSON reads a size-limited body into dst and writes the 400 itself
// when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if limit > 200 {
		limit = 200
	}
	return limit, offset
}
