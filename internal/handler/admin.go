package handler

import (
	"net/http"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/service"
)

// AdminHandler serves admin billing operations: manual payments, forced
// reconciliation and the expiry sweep.
type AdminHandler struct {
	manual *service.ManualPaymentService
	sync   *service.SyncService
	sweep  *service.SweepService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(manual *service.ManualPaymentService, sync *service.SyncService, sweep *service.SweepService) *AdminHandler {
	return &AdminHandler{manual: manual, sync: sync, sweep: sweep}
}

// RecordPayment handles POST /api/admin/payments/manual.
func (h *AdminHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	adminID, ok := userID(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req domain.ManualPaymentRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	res, err := h.manual.Record(r.Context(), adminID, &req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// Sync handles POST /api/admin/billing/sync.
func (h *AdminHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req service.SyncRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	report, err := h.sync.Sync(r.Context(), req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, report)
}

// Sweep handles POST /api/admin/sweep and POST /api/cron/sweep.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweep.Sweep(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}
