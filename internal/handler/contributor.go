package handler

import (
	"net/http"

	"reseller/internal/contributor"
	"reseller/pkg/logger"
	"reseller/pkg/validator"
)

// ContributorHandler manages contributor payout configs and the global
// payment settings.
type ContributorHandler struct {
	service   *contributor.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewContributorHandler(service *contributor.Service, val *validator.Validator, log logger.Logger) *ContributorHandler {
	return &ContributorHandler{service: service, validator: val, logger: log}
}

func (h *ContributorHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.GetSettings(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (h *ContributorHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req contributor.SettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	settings, err := h.service.UpdateSettings(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// ListConfigs returns every config, or only active ones with ?active=true.
func (h *ContributorHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	configs, err := h.service.ListConfigs(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error("Failed to list contributor configs", map[string]interface{}{"error": err.Error()})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"configs": configs,
		"count":   len(configs),
	})
}

func (h *ContributorHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	cfg, err := h.service.GetConfig(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (h *ContributorHandler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var req contributor.ConfigRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	cfg, err := h.service.CreateConfig(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, cfg)
}

// UpdateConfig replaces a config's payout rule. The owning user is taken
// from the stored config.
func (h *ContributorHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	existing, err := h.service.GetConfig(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	var req contributor.ConfigRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = existing.UserID
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	cfg, err := h.service.UpdateConfig(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

type setActiveRequest struct {
	IsActive bool `json:"is_active"`
}

func (h *ContributorHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cfg, err := h.service.SetActive(r.Context(), id, req.IsActive)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}
