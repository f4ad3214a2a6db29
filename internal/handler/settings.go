package handler

import (
	"net/http"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/service"
)

// SettingsHandler serves the fee schedule and trial policies.
type SettingsHandler struct {
	svc *service.SettingsService
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(svc *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{svc: svc}
}

// PublicFees handles GET /api/fees.
func (h *SettingsHandler) PublicFees(w http.ResponseWriter, r *http.Request) {
	fees, err := h.svc.PublicFees(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, fees)
}

// GetFees handles GET /api/admin/settings/fees.
func (h *SettingsHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	fees, err := h.svc.Fees(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"currency": h.svc.Currency(), "fees": fees})
}

// SetFees handles PUT /api/admin/settings/fees with a {level: amount} body.
func (h *SettingsHandler) SetFees(w http.ResponseWriter, r *http.Request) {
	var req map[string]float64
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	fees, err := h.svc.SetFees(r.Context(), req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"currency": h.svc.Currency(), "fees": fees})
}

// GetTrials handles GET /api/admin/settings/trials.
func (h *SettingsHandler) GetTrials(w http.ResponseWriter, r *http.Request) {
	trials, err := h.svc.Trials(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, trials)
}

// SetTrials handles PUT /api/admin/settings/trials with a {level: config} body.
func (h *SettingsHandler) SetTrials(w http.ResponseWriter, r *http.Request) {
	var req map[string]domain.TrialConfig
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	trials, err := h.svc.SetTrials(r.Context(), req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, trials)
}
