package handler

import (
	"net/http"

	"reseller/internal/middleware"
	"reseller/internal/wallet"
	"reseller/pkg/logger"
	"reseller/pkg/validator"
)

// WalletHandler manages wallet endpoints.
type WalletHandler struct {
	service   *wallet.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewWalletHandler(service *wallet.Service, val *validator.Validator, log logger.Logger) *WalletHandler {
	return &WalletHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req wallet.CreateWalletRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	wt, err := h.service.CreateWallet(r.Context(), &req)
	if err != nil {
		h.logger.Warn("Failed to create wallet", map[string]interface{}{
			"error":   err.Error(),
			"user_id": req.UserID,
		})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, wt)
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	wt, err := h.service.GetWallet(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wt)
}

func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, balance)
}

// GetTransactionHistory lists ledger entries touching the wallet, newest first.
func (h *WalletHandler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	limit, offset := pagination(r)

	txs, err := h.service.History(r.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("Failed to fetch wallet history", map[string]interface{}{"error": err.Error(), "wallet_id": id})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"wallet_id":    id,
		"transactions": txs,
		"limit":        limit,
		"offset":       offset,
	})
}

// Credit tops up a wallet. The reference makes a retried top-up a no-op.
func (h *WalletHandler) Credit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req wallet.EntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.WalletID = id
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	tx, err := h.service.Credit(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	h.logAdminAction(r, "wallet_credit", map[string]interface{}{"wallet_id": id, "transaction_id": tx.ID})
	respondJSON(w, http.StatusCreated, tx)
}

func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req wallet.TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	tx, err := h.service.Transfer(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	h.logAdminAction(r, "wallet_transfer", map[string]interface{}{
		"from_wallet_id": req.FromWalletID,
		"to_wallet_id":   req.ToWalletID,
		"transaction_id": tx.ID,
	})
	respondJSON(w, http.StatusCreated, tx)
}

func (h *WalletHandler) logAdminAction(r *http.Request, action string, fields map[string]interface{}) {
	fields["action"] = action
	if userID, ok := middleware.UserIDFromContext(r.Context()); ok {
		fields["admin_id"] = userID
	}
	h.logger.Info("Admin wallet action", fields)
}
